package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opencoursehub/catalog/pkg/events"
)

// GetOrganization looks up an organization by partner and key. The key
// comparison is case-insensitive, matching upstream behavior.
func (s *Store) GetOrganization(partnerID uint, key string) (*Organization, error) {
	var org Organization
	err := s.db.Where("partner_id = ? AND LOWER(key) = LOWER(?)", partnerID, key).
		First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %q: %w", key, err)
	}
	return &org, nil
}

// UpsertOrganization creates or updates an organization by (partner, key),
// trimming whitespace from key and name. Returns the stored record and
// whether it was created.
func (s *Store) UpsertOrganization(org *Organization) (*Organization, bool, error) {
	org.Key = strings.TrimSpace(org.Key)
	org.Name = strings.TrimSpace(org.Name)

	existing, err := s.GetOrganization(org.PartnerID, org.Key)
	switch {
	case errors.Is(err, ErrOrganizationNotFound):
		if err := s.db.Create(org).Error; err != nil {
			return nil, false, fmt.Errorf("create organization %q: %w", org.Key, err)
		}
		s.notify(KindOrganization, org.ID, events.ActionCreated)
		return org, true, nil
	case err != nil:
		return nil, false, err
	}

	org.ID = existing.ID
	org.CreatedAt = existing.CreatedAt
	if err := s.db.Save(org).Error; err != nil {
		return nil, false, fmt.Errorf("update organization %q: %w", org.Key, err)
	}
	s.notify(KindOrganization, org.ID, events.ActionUpdated)
	return org, false, nil
}

// GetCourseByKey looks up a course by (partner, key) in the requested
// draft/official variant.
func (s *Store) GetCourseByKey(partnerID uint, key string, draft bool) (*Course, error) {
	var course Course
	err := s.db.Preload("AuthoringOrganizations").
		Where("partner_id = ? AND LOWER(key) = LOWER(?) AND draft = ?", partnerID, key, draft).
		First(&course).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course %q: %w", key, err)
	}
	return &course, nil
}

// GetCourseByUUID looks up an official course by UUID.
func (s *Store) GetCourseByUUID(id string) (*Course, error) {
	var course Course
	err := s.db.Preload("Type").Where("uuid = ? AND draft = ?", id, false).First(&course).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course %q: %w", id, err)
	}
	return &course, nil
}

// CreateCourse stores a new course, assigning its UUID and, when no type is
// set, the empty course type.
func (s *Store) CreateCourse(course *Course) error {
	if course.UUID == "" {
		course.UUID = uuid.NewString()
	}
	if course.TypeID == nil {
		empty, err := s.GetCourseType(TypeEmpty)
		if err != nil {
			return fmt.Errorf("resolve empty course type: %w", err)
		}
		course.TypeID = &empty.ID
	}
	if err := s.db.Create(course).Error; err != nil {
		return fmt.Errorf("create course %q: %w", course.Key, err)
	}
	s.notify(KindCourse, course.ID, events.ActionCreated)
	return nil
}

// SaveCourse persists changes to an existing course.
func (s *Store) SaveCourse(course *Course) error {
	if course.ID == 0 {
		return s.CreateCourse(course)
	}
	if err := s.db.Save(course).Error; err != nil {
		return fmt.Errorf("update course %q: %w", course.Key, err)
	}
	s.notify(KindCourse, course.ID, events.ActionUpdated)
	return nil
}

// AddAuthoringOrganization appends an organization to a course's authoring
// set if not already present.
func (s *Store) AddAuthoringOrganization(course *Course, org *Organization) error {
	for _, existing := range course.AuthoringOrganizations {
		if existing.ID == org.ID {
			return nil
		}
	}
	err := s.db.Model(course).Association("AuthoringOrganizations").Append(org)
	if err != nil {
		return fmt.Errorf("add organization %q to course %q: %w", org.Key, course.Key, err)
	}
	course.AuthoringOrganizations = append(course.AuthoringOrganizations, *org)
	return nil
}

// GetCourseRunByKey looks up a run by key in the requested variant, seats
// preloaded.
func (s *Store) GetCourseRunByKey(key string, draft bool) (*CourseRun, error) {
	var run CourseRun
	err := s.db.Preload("Seats").
		Where("LOWER(key) = LOWER(?) AND draft = ?", key, draft).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course run %q: %w", key, err)
	}
	return &run, nil
}

// ListCourseRuns returns all runs of a course in the given variant, seats
// and run types preloaded, most recent start first.
func (s *Store) ListCourseRuns(courseID uint, draft bool) ([]CourseRun, error) {
	var runs []CourseRun
	err := s.db.Preload("Seats").Preload("Type.Tracks").
		Where("course_id = ? AND draft = ?", courseID, draft).
		Order("start DESC").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list course runs for course %d: %w", courseID, err)
	}
	return runs, nil
}

// CreateCourseRun stores a new run, defaulting its type to empty.
func (s *Store) CreateCourseRun(run *CourseRun) error {
	if run.UUID == "" {
		run.UUID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusUnpublished
	}
	if run.TypeID == nil {
		empty, err := s.GetCourseRunType(TypeEmpty)
		if err != nil {
			return fmt.Errorf("resolve empty run type: %w", err)
		}
		run.TypeID = &empty.ID
	}
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("create course run %q: %w", run.Key, err)
	}
	s.notify(KindCourseRun, run.ID, events.ActionCreated)
	return nil
}

// SaveCourseRun persists changes to an existing run.
func (s *Store) SaveCourseRun(run *CourseRun) error {
	if run.ID == 0 {
		return s.CreateCourseRun(run)
	}
	if err := s.db.Save(run).Error; err != nil {
		return fmt.Errorf("update course run %q: %w", run.Key, err)
	}
	s.notify(KindCourseRun, run.ID, events.ActionUpdated)
	return nil
}

// SetCanonicalRun points the course's canonical run at the given run. The
// run must belong to the course.
func (s *Store) SetCanonicalRun(course *Course, run *CourseRun) error {
	if run.CourseID != course.ID {
		return fmt.Errorf("run %q does not belong to course %q", run.Key, course.Key)
	}
	course.CanonicalCourseRunID = &run.ID
	err := s.db.Model(course).Update("canonical_course_run_id", run.ID).Error
	if err != nil {
		return fmt.Errorf("set canonical run for course %q: %w", course.Key, err)
	}
	s.notify(KindCourse, course.ID, events.ActionUpdated)
	return nil
}

// InferRunType finds the unique non-empty CourseRunType whose track set
// exactly matches the given seat type set. It returns ErrTypeNotFound when
// no unique match exists, in which case the run keeps its empty type.
func (s *Store) InferRunType(seatTypes []string) (*CourseRunType, error) {
	want := make(map[string]bool, len(seatTypes))
	for _, st := range seatTypes {
		want[st] = true
	}

	var candidates []CourseRunType
	err := s.db.Preload("Tracks").Where("empty = ?", false).Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("list run types: %w", err)
	}

	var match *CourseRunType
	for i := range candidates {
		got := make(map[string]bool, len(candidates[i].Tracks))
		for _, track := range candidates[i].Tracks {
			got[track.SeatTypeSlug] = true
		}
		if len(got) != len(want) {
			continue
		}
		equal := true
		for slug := range want {
			if !got[slug] {
				equal = false
				break
			}
		}
		if equal {
			if match != nil {
				return nil, ErrTypeNotFound
			}
			match = &candidates[i]
		}
	}
	if match == nil {
		return nil, ErrTypeNotFound
	}
	return match, nil
}

// InferCourseType finds the unique non-empty CourseType whose strongest
// permitted run type is the given one. In the default catalog each course
// type shares its slug with that run type, so the lookup is by slug; a
// custom catalog without such a course type yields ErrTypeNotFound and the
// course keeps its empty type.
func (s *Store) InferCourseType(runType *CourseRunType) (*CourseType, error) {
	ct, err := s.GetCourseType(runType.Slug)
	if err != nil || ct.Empty {
		return nil, ErrTypeNotFound
	}
	return ct, nil
}
