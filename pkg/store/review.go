package store

import "time"

// ListReviewedDrafts returns draft runs that finished review and whose
// go-live date has arrived.
func (s *Store) ListReviewedDrafts(dueBy time.Time) ([]CourseRun, error) {
	var runs []CourseRun
	err := s.db.
		Where("draft = ? AND status = ?", true, StatusReviewed).
		Where("go_live_date IS NOT NULL AND go_live_date <= ?", dueBy).
		Order("go_live_date").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// CountOfficialCourseRuns counts the official runs of a partner's courses.
func (s *Store) CountOfficialCourseRuns(partnerID uint) (int, error) {
	var n int64
	err := s.db.Model(&CourseRun{}).
		Joins("JOIN courses ON courses.id = course_runs.course_id").
		Where("course_runs.draft = ? AND courses.partner_id = ?", false, partnerID).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListOfficialCourses returns all official (non-draft) courses.
func (s *Store) ListOfficialCourses() ([]Course, error) {
	var courses []Course
	if err := s.db.Where("draft = ?", false).Find(&courses).Error; err != nil {
		return nil, err
	}
	return courses, nil
}

// ListCoursesByPartner returns a partner's official courses ordered by key.
func (s *Store) ListCoursesByPartner(partnerID uint) ([]Course, error) {
	var courses []Course
	err := s.db.Preload("Type").
		Where("draft = ? AND partner_id = ?", false, partnerID).
		Order("key ASC").Find(&courses).Error
	if err != nil {
		return nil, err
	}
	return courses, nil
}
