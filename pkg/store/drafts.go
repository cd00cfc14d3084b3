package store

import (
	"fmt"

	"github.com/opencoursehub/catalog/pkg/events"
)

// LinkCourseDraft establishes the twin relationship between an official
// course and its draft. Both must share the partner and natural key.
func (s *Store) LinkCourseDraft(official, draft *Course) error {
	if official.Draft || !draft.Draft {
		return fmt.Errorf("twin link requires an official and a draft record")
	}
	if official.Key != draft.Key || official.PartnerID != draft.PartnerID {
		return fmt.Errorf("twin link requires matching natural keys (%q != %q)", official.Key, draft.Key)
	}
	draft.DraftVersionOfID = &official.ID
	err := s.db.Model(draft).Update("draft_version_of_id", official.ID).Error
	if err != nil {
		return fmt.Errorf("link course draft %q: %w", draft.Key, err)
	}
	return nil
}

// LinkCourseRunDraft establishes the twin relationship for course runs.
func (s *Store) LinkCourseRunDraft(official, draft *CourseRun) error {
	if official.Draft || !draft.Draft {
		return fmt.Errorf("twin link requires an official and a draft record")
	}
	if official.Key != draft.Key {
		return fmt.Errorf("twin link requires matching keys (%q != %q)", official.Key, draft.Key)
	}
	draft.DraftVersionOfID = &official.ID
	err := s.db.Model(draft).Update("draft_version_of_id", official.ID).Error
	if err != nil {
		return fmt.Errorf("link run draft %q: %w", draft.Key, err)
	}
	return nil
}

// PromoteCourseRunDraft copies the draft's fields onto its official twin.
// The twin relationship and identities are preserved; editing the draft
// never mutates the official record until this promotion runs.
func (s *Store) PromoteCourseRunDraft(draft *CourseRun) (*CourseRun, error) {
	if !draft.Draft || draft.DraftVersionOfID == nil {
		return nil, fmt.Errorf("run %q is not a linked draft", draft.Key)
	}

	var official CourseRun
	if err := s.db.First(&official, *draft.DraftVersionOfID).Error; err != nil {
		return nil, fmt.Errorf("load official twin of %q: %w", draft.Key, err)
	}

	promoted := *draft
	promoted.ID = official.ID
	promoted.UUID = official.UUID
	promoted.CourseID = official.CourseID
	promoted.Draft = false
	promoted.DraftVersionOfID = nil
	promoted.CreatedAt = official.CreatedAt
	promoted.Seats = nil

	if err := s.db.Save(&promoted).Error; err != nil {
		return nil, fmt.Errorf("promote run draft %q: %w", draft.Key, err)
	}
	s.notify(KindCourseRun, promoted.ID, events.ActionUpdated)
	return &promoted, nil
}

// PromoteCourseDraft copies the draft course's fields onto its official
// twin.
func (s *Store) PromoteCourseDraft(draft *Course) (*Course, error) {
	if !draft.Draft || draft.DraftVersionOfID == nil {
		return nil, fmt.Errorf("course %q is not a linked draft", draft.Key)
	}

	var official Course
	if err := s.db.First(&official, *draft.DraftVersionOfID).Error; err != nil {
		return nil, fmt.Errorf("load official twin of %q: %w", draft.Key, err)
	}

	promoted := *draft
	promoted.ID = official.ID
	promoted.UUID = official.UUID
	promoted.Draft = false
	promoted.DraftVersionOfID = nil
	promoted.CreatedAt = official.CreatedAt
	promoted.CanonicalCourseRunID = official.CanonicalCourseRunID
	promoted.AuthoringOrganizations = nil

	if err := s.db.Save(&promoted).Error; err != nil {
		return nil, fmt.Errorf("promote course draft %q: %w", draft.Key, err)
	}
	s.notify(KindCourse, promoted.ID, events.ActionUpdated)
	return &promoted, nil
}

// CourseRunPair joins a run's draft and official twins. Either side may be
// nil when the twin does not exist.
type CourseRunPair struct {
	Official *CourseRun
	Draft    *CourseRun
}

// PairIterateCourseRuns walks all course runs with both twins joined,
// invoking fn once per natural key.
func (s *Store) PairIterateCourseRuns(fn func(pair CourseRunPair) error) error {
	var runs []CourseRun
	if err := s.db.Order("key ASC, draft ASC").Find(&runs).Error; err != nil {
		return fmt.Errorf("iterate course runs: %w", err)
	}

	byKey := make(map[string]*CourseRunPair)
	var order []string
	for i := range runs {
		pair, ok := byKey[runs[i].Key]
		if !ok {
			pair = &CourseRunPair{}
			byKey[runs[i].Key] = pair
			order = append(order, runs[i].Key)
		}
		if runs[i].Draft {
			pair.Draft = &runs[i]
		} else {
			pair.Official = &runs[i]
		}
	}

	for _, key := range order {
		if err := fn(*byKey[key]); err != nil {
			return err
		}
	}
	return nil
}
