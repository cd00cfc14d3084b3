package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opencoursehub/catalog/pkg/store"
	"github.com/opencoursehub/catalog/pkg/upstream"
)

// CourseLoader reconciles the LMS courses API into Courses and CourseRuns.
// The LMS owns scheduling, pacing, media, and descriptions; for
// publisher-managed partners the editorial fields stay untouched.
type CourseLoader struct {
	store            *store.Store
	api              *upstream.Endpoints
	partner          *store.Partner
	publisherManaged bool
	changeThreshold  float64
	logger           *slog.Logger
}

// NewCourseLoader creates the LMS loader for one partner. changeThreshold
// <= 0 disables the shrink sanity check.
func NewCourseLoader(s *store.Store, api *upstream.Endpoints, partner *store.Partner, publisherManaged bool, changeThreshold float64, logger *slog.Logger) *CourseLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CourseLoader{
		store:            s,
		api:              api,
		partner:          partner,
		publisherManaged: publisherManaged,
		changeThreshold:  changeThreshold,
		logger:           logger.With("loader", "courses", "partner", partner.ShortCode),
	}
}

func (l *CourseLoader) Name() string { return "courses" }

// Load pages the courses API and reconciles each record. Per-record
// failures are logged and counted; the loader fails overall when any
// record failed, without stopping the remaining records.
func (l *CourseLoader) Load(ctx context.Context) error {
	var records []upstream.CourseRunRecord
	err := l.api.CourseRuns().Each(ctx, func(r upstream.CourseRunRecord) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch course runs: %w", err)
	}
	if err := l.checkThreshold(len(records)); err != nil {
		return err
	}

	failed := 0
	for i := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.reconcile(&records[i]); err != nil {
			l.logger.Error("course run reconciliation failed", "key", records[i].ID, "error", err)
			failed++
		}
	}
	l.logger.Info("courses loader finished", "records", len(records), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("courses loader: %d of %d records failed", failed, len(records))
	}
	return nil
}

func (l *CourseLoader) checkThreshold(fetched int) error {
	if l.changeThreshold <= 0 {
		return nil
	}
	existing, err := l.store.CountOfficialCourseRuns(l.partner.ID)
	if err != nil {
		return err
	}
	if existing == 0 {
		return nil
	}
	if float64(existing-fetched)/float64(existing) > l.changeThreshold {
		return &ThresholdError{Loader: l.Name(), Fetched: fetched, Existing: existing, Fraction: l.changeThreshold}
	}
	return nil
}

func (l *CourseLoader) reconcile(rec *upstream.CourseRunRecord) error {
	courseKey, org, err := l.identity(rec)
	if err != nil {
		return err
	}

	orgRecord, _, err := l.store.UpsertOrganization(&store.Organization{
		PartnerID: l.partner.ID,
		Key:       org,
		Name:      org,
	})
	if err != nil {
		return err
	}

	course, err := l.ensureCourse(courseKey, rec)
	if err != nil {
		return err
	}
	if err := l.store.AddAuthoringOrganization(course, orgRecord); err != nil {
		return err
	}

	run, err := l.ensureRun(course, rec)
	if err != nil {
		return err
	}

	if course.CanonicalCourseRunID == nil {
		if err := l.store.SetCanonicalRun(course, run); err != nil {
			return err
		}
	}
	return l.inheritRunType(course, run)
}

func (l *CourseLoader) identity(rec *upstream.CourseRunRecord) (courseKey, org string, err error) {
	if rec.Org != "" && rec.Number != "" {
		return rec.Org + "+" + rec.Number, rec.Org, nil
	}
	key, ok := courseKeyFromRun(rec.ID)
	if !ok {
		return "", "", &ValidationError{Record: rec.ID, Reason: "run key does not encode org and number"}
	}
	return key, orgFromCourseKey(key), nil
}

func (l *CourseLoader) ensureCourse(courseKey string, rec *upstream.CourseRunRecord) (*store.Course, error) {
	official, offErr := l.store.GetCourseByKey(l.partner.ID, courseKey, false)
	if offErr != nil && !errors.Is(offErr, store.ErrCourseNotFound) {
		return nil, offErr
	}
	draft, draftErr := l.store.GetCourseByKey(l.partner.ID, courseKey, true)
	if draftErr != nil && !errors.Is(draftErr, store.ErrCourseNotFound) {
		return nil, draftErr
	}

	if official == nil || errors.Is(offErr, store.ErrCourseNotFound) {
		official = &store.Course{PartnerID: l.partner.ID, Key: courseKey}
		l.applyCourseFields(official, rec)
		if err := l.store.CreateCourse(official); err != nil {
			return nil, err
		}
		if draft != nil && draftErr == nil {
			if err := l.store.LinkCourseDraft(official, draft); err != nil {
				return nil, err
			}
		}
		return official, nil
	}

	l.applyCourseFields(official, rec)
	if err := l.store.SaveCourse(official); err != nil {
		return nil, err
	}
	if draft != nil && draftErr == nil {
		l.applyCourseFields(draft, rec)
		if err := l.store.SaveCourse(draft); err != nil {
			return nil, err
		}
	}
	return official, nil
}

// applyCourseFields copies the LMS-owned course fields. Publisher-managed
// partners keep editorial ownership, so only the card image flows in.
func (l *CourseLoader) applyCourseFields(course *store.Course, rec *upstream.CourseRunRecord) {
	if raw := rec.Media.Image.Raw; raw != "" {
		course.CardImageURL = raw
	}
	if l.publisherManaged {
		return
	}
	if rec.Name != "" {
		course.Title = rec.Name
	}
	if rec.ShortDescription != "" {
		course.ShortDescription = rec.ShortDescription
	}
	course.MobileAvailable = rec.MobileAvailable
}

func (l *CourseLoader) ensureRun(course *store.Course, rec *upstream.CourseRunRecord) (*store.CourseRun, error) {
	run, err := l.store.GetCourseRunByKey(rec.ID, false)
	created := false
	if errors.Is(err, store.ErrCourseRunNotFound) {
		run = &store.CourseRun{CourseID: course.ID, Key: rec.ID}
		created = true
	} else if err != nil {
		return nil, err
	}

	newEnd := parseTime(rec.End)
	endChanged := !created && !timesEqual(run.End, newEnd)

	run.Start = parseTime(rec.Start)
	run.End = newEnd
	run.EnrollmentStart = parseTime(rec.EnrollmentStart)
	run.EnrollmentEnd = parseTime(rec.EnrollmentEnd)
	run.Hidden = rec.Hidden
	run.License = rec.License
	run.PacingType = pacing(rec.Pacing)

	if uri := rec.Media.CourseVideo.URI; uri != "" {
		video, err := l.store.GetOrCreateVideo(uri)
		if err != nil {
			return nil, err
		}
		run.VideoID = &video.ID
	}

	if !l.publisherManaged {
		if rec.Name != "" {
			run.TitleOverride = rec.Name
		}
		if rec.ShortDescription != "" {
			run.ShortDescriptionOverride = rec.ShortDescription
		}
		if created {
			run.Status = store.StatusPublished
		}
	}

	if created {
		if err := l.store.CreateCourseRun(run); err != nil {
			return nil, err
		}
	} else {
		if err := l.store.SaveCourseRun(run); err != nil {
			return nil, err
		}
	}

	if endChanged {
		if err := l.realignUpgradeDeadlines(run); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// realignUpgradeDeadlines moves paid seats' upgrade deadlines to the run's
// new end date. Credit seats keep their provider-negotiated deadline. Runs
// whose seats moved are pushed back to e-commerce downstream.
func (l *CourseLoader) realignUpgradeDeadlines(run *store.CourseRun) error {
	seats, err := l.store.ListSeats(run.ID)
	if err != nil {
		return err
	}
	moved := 0
	for i := range seats {
		seat := &seats[i]
		if !store.PaidSeatTypes[seat.Type] || seat.Type == store.SeatCredit {
			continue
		}
		if seat.UpgradeDeadline == nil || timesEqual(seat.UpgradeDeadline, run.End) {
			continue
		}
		seat.UpgradeDeadline = run.End
		if err := l.store.SaveSeat(seat); err != nil {
			return err
		}
		moved++
	}
	if moved > 0 {
		l.logger.Info("realigned upgrade deadlines to run end, republishing to e-commerce",
			"run", run.Key, "seats", moved)
	}
	return nil
}

// inheritRunType copies the most recent sibling's non-empty run type onto a
// run still carrying the empty placeholder.
func (l *CourseLoader) inheritRunType(course *store.Course, run *store.CourseRun) error {
	empty, err := l.store.GetCourseRunType(store.TypeEmpty)
	if err != nil {
		return err
	}
	if run.TypeID == nil || *run.TypeID != empty.ID {
		return nil
	}

	siblings, err := l.store.ListCourseRuns(course.ID, false)
	if err != nil {
		return err
	}
	for i := range siblings {
		sib := &siblings[i]
		if sib.ID == run.ID || sib.TypeID == nil || *sib.TypeID == empty.ID {
			continue
		}
		// Siblings are ordered by start descending, so the first match is
		// the most recently started one.
		run.TypeID = sib.TypeID
		return l.store.SaveCourseRun(run)
	}
	return nil
}

func pacing(v string) string {
	switch v {
	case "self", "self_paced":
		return store.PacingSelf
	case "instructor", "instructor_paced":
		return store.PacingInstructor
	default:
		return v
	}
}
