package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/opencoursehub/catalog/pkg/events"
)

// GetProgramByUUID looks up a program by UUID within a partner.
func (s *Store) GetProgramByUUID(partnerID uint, id string) (*Program, error) {
	var program Program
	err := s.db.Preload("Courses").Preload("ExcludedCourseRuns").
		Preload("AuthoringOrganizations").
		Where("partner_id = ? AND uuid = ?", partnerID, id).
		First(&program).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProgramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get program %q: %w", id, err)
	}
	return &program, nil
}

// SaveProgram creates or updates a program by (partner, UUID). An Active
// program must carry a banner image; violations are rejected.
func (s *Store) SaveProgram(program *Program) (*Program, bool, error) {
	if program.Status == ProgramActive && program.BannerImageURL == "" && program.BannerImageID == nil {
		return nil, false, fmt.Errorf("active program %q requires a banner image", program.UUID)
	}

	existing, err := s.GetProgramByUUID(program.PartnerID, program.UUID)
	switch {
	case errors.Is(err, ErrProgramNotFound):
		if err := s.db.Create(program).Error; err != nil {
			return nil, false, fmt.Errorf("create program %q: %w", program.UUID, err)
		}
		s.notify(KindProgram, program.ID, events.ActionCreated)
		return program, true, nil
	case err != nil:
		return nil, false, err
	}

	program.ID = existing.ID
	program.CreatedAt = existing.CreatedAt
	if err := s.db.Omit("Courses", "ExcludedCourseRuns", "AuthoringOrganizations").
		Save(program).Error; err != nil {
		return nil, false, fmt.Errorf("update program %q: %w", program.UUID, err)
	}
	s.notify(KindProgram, program.ID, events.ActionUpdated)
	return program, false, nil
}

// SetProgramOrganizations replaces the program's authoring organizations.
func (s *Store) SetProgramOrganizations(program *Program, orgs []Organization) error {
	err := s.db.Model(program).Association("AuthoringOrganizations").Replace(orgs)
	if err != nil {
		return fmt.Errorf("set organizations on program %q: %w", program.UUID, err)
	}
	return nil
}

// SetProgramCourses replaces the program's course membership.
func (s *Store) SetProgramCourses(program *Program, courses []Course) error {
	err := s.db.Model(program).Association("Courses").Replace(courses)
	if err != nil {
		return fmt.Errorf("set courses on program %q: %w", program.UUID, err)
	}
	program.Courses = courses
	s.notify(KindProgram, program.ID, events.ActionUpdated)
	return nil
}

// SetProgramExcludedRuns replaces the program's excluded course runs.
func (s *Store) SetProgramExcludedRuns(program *Program, runs []CourseRun) error {
	err := s.db.Model(program).Association("ExcludedCourseRuns").Replace(runs)
	if err != nil {
		return fmt.Errorf("set excluded runs on program %q: %w", program.UUID, err)
	}
	program.ExcludedCourseRuns = runs
	return nil
}

// CoursesByRunKeys resolves the distinct set of official courses owning the
// given run keys.
func (s *Store) CoursesByRunKeys(keys []string) ([]Course, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var courses []Course
	err := s.db.Distinct("courses.*").
		Joins("JOIN course_runs ON course_runs.course_id = courses.id").
		Where("course_runs.key IN ? AND courses.draft = ? AND course_runs.draft = ?",
			keys, false, false).
		Find(&courses).Error
	if err != nil {
		return nil, fmt.Errorf("resolve courses by run keys: %w", err)
	}
	return courses, nil
}

// RunsOfCoursesExcept returns the official runs of the given courses whose
// keys are not in keep. Used to compute a program's excluded run set.
func (s *Store) RunsOfCoursesExcept(courseIDs []uint, keep []string) ([]CourseRun, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	q := s.db.Where("course_id IN ? AND draft = ?", courseIDs, false)
	if len(keep) > 0 {
		q = q.Where("key NOT IN ?", keep)
	}
	var runs []CourseRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("resolve excluded runs: %w", err)
	}
	return runs, nil
}

// ActiveProgramRunIDs returns the IDs of the course's official runs carried
// by at least one active program, honoring each program's excluded run set.
func (s *Store) ActiveProgramRunIDs(courseID uint) (map[uint]bool, error) {
	var ids []uint
	err := s.db.Model(&CourseRun{}).
		Distinct("course_runs.id").
		Joins("JOIN program_courses ON program_courses.course_id = course_runs.course_id").
		Joins("JOIN programs ON programs.id = program_courses.program_id AND programs.status = ?",
			ProgramActive).
		Where("course_runs.course_id = ? AND course_runs.draft = ?", courseID, false).
		Where("NOT EXISTS (SELECT 1 FROM program_excluded_course_runs"+
			" WHERE program_excluded_course_runs.program_id = programs.id"+
			" AND program_excluded_course_runs.course_run_id = course_runs.id)").
		Pluck("course_runs.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("resolve active program runs for course %d: %w", courseID, err)
	}
	active := make(map[uint]bool, len(ids))
	for _, id := range ids {
		active[id] = true
	}
	return active, nil
}

// ListPrograms returns all programs of a partner, types preloaded.
func (s *Store) ListPrograms(partnerID uint) ([]Program, error) {
	var programs []Program
	err := s.db.Preload("Type").
		Where("partner_id = ?", partnerID).
		Order("title ASC").Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// SaveCurriculum creates or updates a curriculum by UUID.
func (s *Store) SaveCurriculum(curriculum *Curriculum) error {
	var existing Curriculum
	err := s.db.Where("uuid = ?", curriculum.UUID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(curriculum).Error; err != nil {
			return fmt.Errorf("create curriculum %q: %w", curriculum.UUID, err)
		}
		s.notify(KindCurriculum, curriculum.ID, events.ActionCreated)
	case err != nil:
		return fmt.Errorf("get curriculum %q: %w", curriculum.UUID, err)
	default:
		curriculum.ID = existing.ID
		if err := s.db.Save(curriculum).Error; err != nil {
			return fmt.Errorf("update curriculum %q: %w", curriculum.UUID, err)
		}
		s.notify(KindCurriculum, curriculum.ID, events.ActionUpdated)
	}
	return nil
}

// AddCurriculumCourse associates a course with a curriculum if not already
// present.
func (s *Store) AddCurriculumCourse(curriculumID, courseID uint) (*CurriculumCourseMembership, error) {
	var existing CurriculumCourseMembership
	err := s.db.Where("curriculum_id = ? AND course_id = ?", curriculumID, courseID).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	membership := CurriculumCourseMembership{CurriculumID: curriculumID, CourseID: courseID}
	if err := s.db.Create(&membership).Error; err != nil {
		return nil, fmt.Errorf("add course %d to curriculum %d: %w", courseID, curriculumID, err)
	}
	return &membership, nil
}
