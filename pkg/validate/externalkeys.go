// Package validate enforces cross-record catalog invariants, primarily the
// uniqueness of institution-supplied external keys across a program graph.
// Reconcilers and editor-facing mutators call it before committing any
// change that introduces or moves a course run into a new scope.
package validate

import (
	"fmt"
	"strings"

	"github.com/opencoursehub/catalog/pkg/store"
)

// CollisionError reports duplicate external keys. It lists every colliding
// run, not just the newly introduced one, so callers can render a precise
// error.
type CollisionError struct {
	Runs []store.CourseRun
}

func (e *CollisionError) Error() string {
	var b strings.Builder
	if len(e.Runs) > 1 {
		b.WriteString("duplicate external_keys found:")
	} else {
		b.WriteString("duplicate external_key found:")
	}
	for _, run := range e.Runs {
		fmt.Fprintf(&b, " [ external_key=%s course_run=%s ]", run.ExternalKey, run.Key)
	}
	return b.String()
}

// ExternalKeysForRun validates that saving the given run keeps its external
// key unique within every scope the run participates in: its course, each
// curriculum containing the course, and each program owning one of those
// curricula. A nil return means the save may proceed.
func ExternalKeysForRun(s *store.Store, run *store.CourseRun) error {
	if run.ExternalKey == "" {
		return nil
	}

	// Unchanged key on an unchanged course never introduces a collision.
	if run.ID != 0 {
		var old store.CourseRun
		if err := s.DB().First(&old, run.ID).Error; err == nil {
			if old.ExternalKey == run.ExternalKey && old.CourseID == run.CourseID {
				return nil
			}
		}
	}

	curricula, err := curriculaForCourse(s, run.CourseID)
	if err != nil {
		return err
	}
	if len(curricula) == 0 {
		return checkWithinCourse(s, run)
	}
	return checkCurriculaScopes(s, curricula, []store.CourseRun{*run})
}

// ExternalKeysForMembership validates that associating a course with a
// curriculum does not introduce duplicate external keys into the
// curriculum's program graph.
func ExternalKeysForMembership(s *store.Store, membership *store.CurriculumCourseMembership) error {
	var runs []store.CourseRun
	err := s.DB().
		Where("course_id = ? AND external_key <> ''", membership.CourseID).
		Find(&runs).Error
	if err != nil {
		return fmt.Errorf("load runs for course %d: %w", membership.CourseID, err)
	}
	if len(runs) == 0 {
		return nil
	}

	var curriculum store.Curriculum
	if err := s.DB().First(&curriculum, membership.CurriculumID).Error; err != nil {
		return fmt.Errorf("load curriculum %d: %w", membership.CurriculumID, err)
	}
	return checkCurriculaScopes(s, []store.Curriculum{curriculum}, runs)
}

// ExternalKeysForCurriculum validates that moving a curriculum to a new
// program keeps the curriculum's external keys unique in that program.
func ExternalKeysForCurriculum(s *store.Store, curriculum *store.Curriculum) error {
	if curriculum.ID == 0 {
		return nil
	}
	if curriculum.ProgramID != nil {
		var old store.Curriculum
		if err := s.DB().First(&old, curriculum.ID).Error; err == nil {
			if old.ProgramID != nil && *old.ProgramID == *curriculum.ProgramID {
				return nil
			}
		}
	}

	var runs []store.CourseRun
	err := s.DB().
		Joins("JOIN curriculum_course_memberships ccm ON ccm.course_id = course_runs.course_id").
		Where("ccm.curriculum_id = ? AND course_runs.external_key <> ''", curriculum.ID).
		Find(&runs).Error
	if err != nil {
		return fmt.Errorf("load runs for curriculum %d: %w", curriculum.ID, err)
	}
	if len(runs) == 0 {
		return nil
	}
	return checkCurriculaScopes(s, []store.Curriculum{*curriculum}, runs)
}

func curriculaForCourse(s *store.Store, courseID uint) ([]store.Curriculum, error) {
	var curricula []store.Curriculum
	err := s.DB().
		Joins("JOIN curriculum_course_memberships ccm ON ccm.curriculum_id = curricula.id").
		Where("ccm.course_id = ?", courseID).
		Find(&curricula).Error
	if err != nil {
		return nil, fmt.Errorf("load curricula for course %d: %w", courseID, err)
	}
	return curricula, nil
}

// checkWithinCourse verifies uniqueness among the sibling runs of the
// changed run's course.
func checkWithinCourse(s *store.Store, run *store.CourseRun) error {
	var siblings []store.CourseRun
	err := s.DB().
		Where("course_id = ? AND external_key = ? AND id <> ?",
			run.CourseID, run.ExternalKey, run.ID).
		Find(&siblings).Error
	if err != nil {
		return fmt.Errorf("check external key within course: %w", err)
	}
	if len(siblings) == 0 {
		return nil
	}
	return &CollisionError{Runs: append(siblings, *run)}
}

// checkCurriculaScopes verifies that none of the changed runs' external
// keys already occur among the runs reachable from the given curricula or
// their owning programs.
func checkCurriculaScopes(s *store.Store, curricula []store.Curriculum, changed []store.CourseRun) error {
	keys := make([]string, 0, len(changed))
	changedIDs := make([]uint, 0, len(changed))
	for _, run := range changed {
		if run.ExternalKey != "" {
			keys = append(keys, run.ExternalKey)
		}
		if run.ID != 0 {
			changedIDs = append(changedIDs, run.ID)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	var programIDs []uint
	var programlessCurricula []uint
	for _, c := range curricula {
		if c.ProgramID != nil {
			programIDs = append(programIDs, *c.ProgramID)
		} else {
			programlessCurricula = append(programlessCurricula, c.ID)
		}
	}

	q := s.DB().Model(&store.CourseRun{}).
		Joins("JOIN curriculum_course_memberships ccm ON ccm.course_id = course_runs.course_id").
		Joins("JOIN curricula ON curricula.id = ccm.curriculum_id").
		Where("course_runs.external_key IN ?", keys)
	if len(changedIDs) > 0 {
		q = q.Where("course_runs.id NOT IN ?", changedIDs)
	}
	switch {
	case len(programIDs) > 0 && len(programlessCurricula) > 0:
		q = q.Where("curricula.program_id IN ? OR curricula.id IN ?", programIDs, programlessCurricula)
	case len(programIDs) > 0:
		q = q.Where("curricula.program_id IN ?", programIDs)
	default:
		q = q.Where("curricula.id IN ?", programlessCurricula)
	}

	var colliding []store.CourseRun
	if err := q.Distinct("course_runs.*").Find(&colliding).Error; err != nil {
		return fmt.Errorf("check external keys in program graph: %w", err)
	}
	if len(colliding) == 0 {
		return nil
	}
	return &CollisionError{Runs: append(colliding, changed...)}
}
