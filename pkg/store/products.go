package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/opencoursehub/catalog/pkg/events"
)

// SeatIdentity is the composite identity of a seat within a run.
type SeatIdentity struct {
	Type           string
	CreditProvider string
	CurrencyCode   string
}

// Identity returns the seat's composite identity.
func (seat *Seat) Identity() SeatIdentity {
	return SeatIdentity{
		Type:           seat.Type,
		CreditProvider: seat.CreditProvider,
		CurrencyCode:   seat.CurrencyCode,
	}
}

// UpsertSeat creates or updates a seat keyed by (run, type, credit
// provider, currency). Returns the stored seat and whether it was created.
func (s *Store) UpsertSeat(seat *Seat) (*Seat, bool, error) {
	var existing Seat
	err := s.db.Where(
		"course_run_id = ? AND type = ? AND credit_provider = ? AND currency_code = ? AND draft = ?",
		seat.CourseRunID, seat.Type, seat.CreditProvider, seat.CurrencyCode, seat.Draft,
	).First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(seat).Error; err != nil {
			return nil, false, fmt.Errorf("create seat %s/%s: %w", seat.Type, seat.CurrencyCode, err)
		}
		s.notify(KindSeat, seat.ID, events.ActionCreated)
		return seat, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("get seat: %w", err)
	}

	seat.ID = existing.ID
	seat.CreatedAt = existing.CreatedAt
	if seat.BulkSKU == "" {
		seat.BulkSKU = existing.BulkSKU
	}
	if err := s.db.Save(seat).Error; err != nil {
		return nil, false, fmt.Errorf("update seat %s/%s: %w", seat.Type, seat.CurrencyCode, err)
	}
	s.notify(KindSeat, seat.ID, events.ActionUpdated)
	return seat, false, nil
}

// DeleteSeatsExcept removes seats on a run whose identity is not in keep.
// This is how the e-commerce reconciler drops seats that disappeared
// upstream. Returns the number of deleted seats.
func (s *Store) DeleteSeatsExcept(runID uint, keep map[SeatIdentity]bool) (int, error) {
	var seats []Seat
	err := s.db.Where("course_run_id = ? AND draft = ?", runID, false).Find(&seats).Error
	if err != nil {
		return 0, fmt.Errorf("list seats for run %d: %w", runID, err)
	}

	deleted := 0
	for i := range seats {
		if keep[seats[i].Identity()] {
			continue
		}
		if err := s.db.Delete(&seats[i]).Error; err != nil {
			return deleted, fmt.Errorf("delete seat %d: %w", seats[i].ID, err)
		}
		s.notify(KindSeat, seats[i].ID, events.ActionDeleted)
		deleted++
	}
	return deleted, nil
}

// SetSeatBulkSKU records the enrollment-code bulk SKU on the run's seat of
// the matching type.
func (s *Store) SetSeatBulkSKU(runID uint, seatType, bulkSKU string) error {
	var seat Seat
	err := s.db.Where("course_run_id = ? AND type = ? AND draft = ?", runID, seatType, false).
		First(&seat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("no %s seat on run %d for bulk sku", seatType, runID)
	}
	if err != nil {
		return fmt.Errorf("get seat for bulk sku: %w", err)
	}
	if seat.BulkSKU == bulkSKU {
		return nil
	}
	seat.BulkSKU = bulkSKU
	if err := s.db.Save(&seat).Error; err != nil {
		return fmt.Errorf("set bulk sku on seat %d: %w", seat.ID, err)
	}
	s.notify(KindSeat, seat.ID, events.ActionUpdated)
	return nil
}

// UpsertEntitlement creates or updates a course entitlement keyed by
// (course, mode).
func (s *Store) UpsertEntitlement(ent *CourseEntitlement) (*CourseEntitlement, bool, error) {
	var existing CourseEntitlement
	err := s.db.Where("course_id = ? AND mode = ? AND draft = ?", ent.CourseID, ent.Mode, ent.Draft).
		First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(ent).Error; err != nil {
			return nil, false, fmt.Errorf("create entitlement %s: %w", ent.Mode, err)
		}
		s.notify(KindEntitlement, ent.ID, events.ActionCreated)
		return ent, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("get entitlement: %w", err)
	}

	ent.ID = existing.ID
	ent.CreatedAt = existing.CreatedAt
	if err := s.db.Save(ent).Error; err != nil {
		return nil, false, fmt.Errorf("update entitlement %s: %w", ent.Mode, err)
	}
	s.notify(KindEntitlement, ent.ID, events.ActionUpdated)
	return ent, false, nil
}

// DeleteEntitlementsExcept removes entitlements whose SKU did not
// reappear in this ingest. Returns the number of deleted rows.
func (s *Store) DeleteEntitlementsExcept(skus map[string]bool) (int, error) {
	var ents []CourseEntitlement
	if err := s.db.Where("draft = ?", false).Find(&ents).Error; err != nil {
		return 0, fmt.Errorf("list entitlements: %w", err)
	}

	deleted := 0
	for i := range ents {
		if skus[ents[i].SKU] {
			continue
		}
		if err := s.db.Delete(&ents[i]).Error; err != nil {
			return deleted, fmt.Errorf("delete entitlement %d: %w", ents[i].ID, err)
		}
		s.notify(KindEntitlement, ents[i].ID, events.ActionDeleted)
		deleted++
	}
	return deleted, nil
}

// ListSeats returns all official seats on a run.
func (s *Store) ListSeats(runID uint) ([]Seat, error) {
	var seats []Seat
	err := s.db.Where("course_run_id = ? AND draft = ?", runID, false).
		Order("type ASC").Find(&seats).Error
	if err != nil {
		return nil, fmt.Errorf("list seats for run %d: %w", runID, err)
	}
	return seats, nil
}

// SaveSeat persists changes to an existing seat.
func (s *Store) SaveSeat(seat *Seat) error {
	if err := s.db.Save(seat).Error; err != nil {
		return fmt.Errorf("update seat %d: %w", seat.ID, err)
	}
	s.notify(KindSeat, seat.ID, events.ActionUpdated)
	return nil
}
