package store

import (
	"fmt"

	"gorm.io/gorm/clause"
)

// SeedDefaults populates the reference tables the reconcilers depend on:
// currencies, seat types, tracks, course run types, course types, and
// program types. It is idempotent.
func (s *Store) SeedDefaults() error {
	if err := s.seedCurrencies(); err != nil {
		return err
	}
	if err := s.seedSeatTypes(); err != nil {
		return err
	}
	if err := s.seedTypes(); err != nil {
		return err
	}
	return s.seedProgramTypes()
}

func (s *Store) seedCurrencies() error {
	currencies := []Currency{
		{Code: "USD", Name: "US Dollar"},
		{Code: "EUR", Name: "Euro"},
		{Code: "GBP", Name: "Pound Sterling"},
		{Code: "CAD", Name: "Canadian Dollar"},
		{Code: "AUD", Name: "Australian Dollar"},
		{Code: "JPY", Name: "Yen"},
		{Code: "INR", Name: "Indian Rupee"},
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&currencies).Error
	if err != nil {
		return fmt.Errorf("seed currencies: %w", err)
	}
	return nil
}

func (s *Store) seedSeatTypes() error {
	seatTypes := []SeatType{
		{Slug: SeatAudit, Name: "Audit"},
		{Slug: SeatVerified, Name: "Verified"},
		{Slug: SeatProfessional, Name: "Professional"},
		{Slug: SeatCredit, Name: "Credit"},
		{Slug: SeatMasters, Name: "Masters"},
		{Slug: SeatHonor, Name: "Honor"},
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seatTypes).Error
	if err != nil {
		return fmt.Errorf("seed seat types: %w", err)
	}

	for _, st := range seatTypes {
		track := Track{SeatTypeSlug: st.Slug}
		err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&track).Error
		if err != nil {
			return fmt.Errorf("seed track %q: %w", st.Slug, err)
		}
	}
	return nil
}

// seedTypes creates the run type and course type catalog. Each run type's
// track set is what type inference matches seat-type sets against.
func (s *Store) seedTypes() error {
	runTypes := []struct {
		slug   string
		name   string
		tracks []string
		empty  bool
	}{
		{TypeEmpty, "Empty", nil, true},
		{TypeAudit, "Audit Only", []string{SeatAudit}, false},
		{TypeVerifiedAudit, "Verified and Audit", []string{SeatVerified, SeatAudit}, false},
		{TypeProfessional, "Professional Only", []string{SeatProfessional}, false},
		{TypeCredit, "Credit, Verified and Audit", []string{SeatCredit, SeatVerified, SeatAudit}, false},
		{TypeMasters, "Masters Only", []string{SeatMasters}, false},
	}

	for _, rt := range runTypes {
		var existing CourseRunType
		err := s.db.Where("slug = ?", rt.slug).First(&existing).Error
		if err == nil {
			continue
		}

		var tracks []Track
		if len(rt.tracks) > 0 {
			if err := s.db.Where("seat_type_slug IN ?", rt.tracks).Find(&tracks).Error; err != nil {
				return fmt.Errorf("load tracks for %q: %w", rt.slug, err)
			}
		}
		record := CourseRunType{Slug: rt.slug, Name: rt.name, Tracks: tracks, Empty: rt.empty}
		if err := s.db.Create(&record).Error; err != nil {
			return fmt.Errorf("seed run type %q: %w", rt.slug, err)
		}
	}

	// Course types mirror the run types one-to-one in the default catalog;
	// entitlement modes are the paid tracks of each run type.
	courseTypes := []struct {
		slug     string
		name     string
		runTypes []string
		modes    []string
		empty    bool
	}{
		{TypeEmpty, "Empty", []string{TypeEmpty}, nil, true},
		{TypeAudit, "Audit Only", []string{TypeAudit}, nil, false},
		{TypeVerifiedAudit, "Verified and Audit", []string{TypeVerifiedAudit, TypeAudit}, []string{SeatVerified}, false},
		{TypeProfessional, "Professional Only", []string{TypeProfessional}, []string{SeatProfessional}, false},
		{TypeCredit, "Credit, Verified and Audit", []string{TypeCredit, TypeVerifiedAudit, TypeAudit}, []string{SeatVerified}, false},
		{TypeMasters, "Masters Only", []string{TypeMasters}, nil, false},
	}

	for _, ct := range courseTypes {
		var existing CourseType
		err := s.db.Where("slug = ?", ct.slug).First(&existing).Error
		if err == nil {
			continue
		}

		var runs []CourseRunType
		if err := s.db.Where("slug IN ?", ct.runTypes).Find(&runs).Error; err != nil {
			return fmt.Errorf("load run types for %q: %w", ct.slug, err)
		}
		var modes []SeatType
		if len(ct.modes) > 0 {
			if err := s.db.Where("slug IN ?", ct.modes).Find(&modes).Error; err != nil {
				return fmt.Errorf("load entitlement modes for %q: %w", ct.slug, err)
			}
		}
		record := CourseType{
			Slug:             ct.slug,
			Name:             ct.name,
			RunTypes:         runs,
			EntitlementModes: modes,
			Empty:            ct.empty,
		}
		if err := s.db.Create(&record).Error; err != nil {
			return fmt.Errorf("seed course type %q: %w", ct.slug, err)
		}
	}
	return nil
}

func (s *Store) seedProgramTypes() error {
	programTypes := []ProgramType{
		{Slug: "micromasters", Name: "MicroMasters"},
		{Slug: "xseries", Name: "XSeries"},
		{Slug: "professional-certificate", Name: "Professional Certificate"},
		{Slug: ProgramTypeMasters, Name: "Masters"},
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&programTypes).Error
	if err != nil {
		return fmt.Errorf("seed program types: %w", err)
	}
	return nil
}

// GetCourseRunType looks up a run type by slug, tracks preloaded.
func (s *Store) GetCourseRunType(slug string) (*CourseRunType, error) {
	var rt CourseRunType
	err := s.db.Preload("Tracks").Where("slug = ?", slug).First(&rt).Error
	if err != nil {
		return nil, ErrTypeNotFound
	}
	return &rt, nil
}

// GetCourseRunTypeByID looks up a run type by ID, tracks preloaded.
func (s *Store) GetCourseRunTypeByID(id uint) (*CourseRunType, error) {
	var rt CourseRunType
	if err := s.db.Preload("Tracks").First(&rt, id).Error; err != nil {
		return nil, ErrTypeNotFound
	}
	return &rt, nil
}

// GetCourseType looks up a course type by slug.
func (s *Store) GetCourseType(slug string) (*CourseType, error) {
	var ct CourseType
	err := s.db.Preload("RunTypes").Preload("EntitlementModes").
		Where("slug = ?", slug).First(&ct).Error
	if err != nil {
		return nil, ErrTypeNotFound
	}
	return &ct, nil
}

// GetProgramType looks up a program type by slug.
func (s *Store) GetProgramType(slug string) (*ProgramType, error) {
	var pt ProgramType
	if err := s.db.Where("slug = ?", slug).First(&pt).Error; err != nil {
		return nil, ErrTypeNotFound
	}
	return &pt, nil
}
