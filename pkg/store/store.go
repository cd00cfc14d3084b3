package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/opencoursehub/catalog/pkg/events"
)

// Sentinel errors returned by lookup methods.
var (
	ErrPartnerNotFound      = errors.New("partner not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrCourseNotFound       = errors.New("course not found")
	ErrCourseRunNotFound    = errors.New("course run not found")
	ErrProgramNotFound      = errors.New("program not found")
	ErrCurrencyNotFound     = errors.New("currency not found")
	ErrTypeNotFound         = errors.New("type not found")
)

// Store wraps the catalog database. All writes are atomic at record
// granularity; Transaction groups multi-record mutations. Change events are
// published on the bus after the enclosing transaction commits, unless the
// bus is suppressed by the pipeline driver.
type Store struct {
	db     *gorm.DB
	bus    *events.Bus
	logger *slog.Logger
	actor  string

	// pending buffers events inside a transaction until commit.
	pending *[]events.Event
}

// New creates a Store over an open gorm DB. bus may be nil when change
// notification is not wanted (tests, one-shot commands).
func New(db *gorm.DB, bus *events.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, bus: bus, logger: logger, actor: "system"}
}

// DB exposes the underlying gorm handle for read-side consumers (the
// validator and the API layer run their own queries).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithActor returns a Store that attributes history entries to the given
// actor.
func (s *Store) WithActor(actor string) *Store {
	clone := *s
	clone.actor = actor
	return &clone
}

// AutoMigrate creates or updates all catalog tables.
func (s *Store) AutoMigrate() error {
	models := []any{
		&Partner{},
		&Currency{},
		&Image{},
		&Video{},
		&Organization{},
		&SeatType{},
		&Track{},
		&CourseRunType{},
		&CourseType{},
		&Course{},
		&CourseRun{},
		&Seat{},
		&CourseEntitlement{},
		&ProgramType{},
		&Program{},
		&Curriculum{},
		&CurriculumCourseMembership{},
		&CurriculumProgramMembership{},
		&Pathway{},
		&HistoryEntry{},
	}
	for _, m := range models {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", m, err)
		}
	}
	return nil
}

// Transaction runs fn atomically. Events recorded by mutations inside fn
// are published only after the transaction commits; a rollback discards
// them.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	var buffered []events.Event
	err := s.db.Transaction(func(gtx *gorm.DB) error {
		tx := &Store{
			db:      gtx,
			bus:     s.bus,
			logger:  s.logger,
			actor:   s.actor,
			pending: &buffered,
		}
		return fn(tx)
	})
	if err != nil {
		return err
	}
	for _, e := range buffered {
		s.bus.Publish(e)
	}
	return nil
}

// notify records a change event and its history row. Inside a transaction
// the event is buffered until commit.
func (s *Store) notify(kind string, id uint, action events.Action) {
	entry := HistoryEntry{
		EntityKind: kind,
		EntityID:   id,
		Action:     string(action),
		Actor:      s.actor,
		ChangeTime: time.Now().UTC(),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		s.logger.Error("failed to write history entry",
			"kind", kind, "id", id, "error", err)
	}

	e := events.Event{Kind: kind, ID: id, Action: action}
	if s.pending != nil {
		*s.pending = append(*s.pending, e)
		return
	}
	s.bus.Publish(e)
}

// History returns the recorded history for an entity, oldest first.
func (s *Store) History(kind string, id uint) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.Where("entity_kind = ? AND entity_id = ?", kind, id).
		Order("id ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load history for %s %d: %w", kind, id, err)
	}
	return entries, nil
}

// GetPartnerByCode looks up a partner by its short code.
func (s *Store) GetPartnerByCode(code string) (*Partner, error) {
	var p Partner
	err := s.db.Where("short_code = ?", code).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPartnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get partner %q: %w", code, err)
	}
	return &p, nil
}

// ListPartners returns all partners.
func (s *Store) ListPartners() ([]Partner, error) {
	var partners []Partner
	if err := s.db.Order("short_code ASC").Find(&partners).Error; err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	return partners, nil
}

// SavePartner creates or updates a partner by short code.
func (s *Store) SavePartner(p *Partner) error {
	var existing Partner
	err := s.db.Where("short_code = ?", p.ShortCode).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(p).Error; err != nil {
			return fmt.Errorf("create partner %q: %w", p.ShortCode, err)
		}
	case err != nil:
		return fmt.Errorf("get partner %q: %w", p.ShortCode, err)
	default:
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		if err := s.db.Save(p).Error; err != nil {
			return fmt.Errorf("update partner %q: %w", p.ShortCode, err)
		}
	}
	return nil
}

// GetCurrency looks up a currency by ISO code.
func (s *Store) GetCurrency(code string) (*Currency, error) {
	var c Currency
	err := s.db.First(&c, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCurrencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get currency %q: %w", code, err)
	}
	return &c, nil
}
