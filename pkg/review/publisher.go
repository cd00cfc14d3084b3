package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/opencoursehub/catalog/pkg/store"
)

// Publisher runs the scheduled publication sweep: reviewed drafts whose
// go-live date has arrived are promoted onto their official twins and
// both sides are marked Published. It also handles the end-of-run
// republish that keeps a course marketable when its active run ends.
type Publisher struct {
	store   *store.Store
	machine *Machine
	logger  *slog.Logger
}

// NewPublisher creates a publisher bound to a store.
func NewPublisher(s *store.Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: s, machine: NewMachine(), logger: logger}
}

// PublishDue promotes every reviewed draft whose go-live date is at or
// before now. Failures on individual runs are logged and do not stop the
// sweep; the count of successfully published runs is returned.
func (p *Publisher) PublishDue(ctx context.Context, now time.Time) (int, error) {
	due, err := p.store.ListReviewedDrafts(now)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		if err := p.publishRun(&due[i]); err != nil {
			p.logger.Error("publish course run failed", "key", due[i].Key, "error", err)
			continue
		}
		published++
	}
	return published, nil
}

// PublishRun publishes a single reviewed draft immediately, regardless of
// its go-live date.
func (p *Publisher) PublishRun(draft *store.CourseRun) error {
	return p.publishRun(draft)
}

func (p *Publisher) publishRun(draft *store.CourseRun) error {
	if err := p.machine.ValidateTransition(draft.Status, store.StatusPublished); err != nil {
		return err
	}
	return p.store.Transaction(func(tx *store.Store) error {
		draft.Status = store.StatusPublished
		if draft.Announcement == nil {
			now := time.Now().UTC()
			draft.Announcement = &now
		}
		if err := tx.SaveCourseRun(draft); err != nil {
			return err
		}
		if draft.DraftVersionOfID != nil {
			if _, err := tx.PromoteCourseRunDraft(draft); err != nil {
				return err
			}
			var course store.Course
			if err := tx.DB().First(&course, draft.CourseID).Error; err != nil {
				return err
			}
			if course.Draft && course.DraftVersionOfID != nil {
				if _, err := tx.PromoteCourseDraft(&course); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Unpublish withdraws a published run. A course must keep at least one
// other published, unended run; withdrawing the last one is rejected so a
// live course never silently disappears.
func (p *Publisher) Unpublish(run *store.CourseRun, now time.Time) error {
	if err := p.machine.ValidateTransition(run.Status, store.StatusUnpublished); err != nil {
		return err
	}
	runs, err := p.store.ListCourseRuns(run.CourseID, run.Draft)
	if err != nil {
		return err
	}
	active := 0
	for i := range runs {
		if runs[i].ID == run.ID {
			continue
		}
		if runs[i].Status == store.StatusPublished && !runs[i].HasEnded(now) {
			active++
		}
	}
	if active == 0 {
		return &TransitionError{
			Code:    "REVIEW_LAST_ACTIVE_RUN",
			From:    run.Status,
			To:      store.StatusUnpublished,
			Message: "cannot unpublish the only active run of a course",
		}
	}
	run.Status = store.StatusUnpublished
	return p.store.SaveCourseRun(run)
}

// RepublishEnded scans official courses whose published runs have all
// ended and republishes the most recently started unpublished run that was
// previously announced. Returns the number of runs republished.
func (p *Publisher) RepublishEnded(ctx context.Context, now time.Time) (int, error) {
	courses, err := p.store.ListOfficialCourses()
	if err != nil {
		return 0, err
	}

	republished := 0
	for i := range courses {
		if err := ctx.Err(); err != nil {
			return republished, err
		}
		n, err := p.republishCourse(&courses[i], now)
		if err != nil {
			p.logger.Error("republish sweep failed for course", "key", courses[i].Key, "error", err)
			continue
		}
		republished += n
	}
	return republished, nil
}

func (p *Publisher) republishCourse(course *store.Course, now time.Time) (int, error) {
	runs, err := p.store.ListCourseRuns(course.ID, false)
	if err != nil {
		return 0, err
	}

	var candidate *store.CourseRun
	endedPublished := false
	for i := range runs {
		run := &runs[i]
		if run.Status == store.StatusPublished {
			if !run.HasEnded(now) {
				return 0, nil
			}
			endedPublished = true
			continue
		}
		// Runs come back ordered by start descending, so the first
		// eligible unpublished run is the most recently started one.
		if candidate == nil && run.Status == store.StatusUnpublished && run.Announcement != nil && !run.HasEnded(now) {
			candidate = run
		}
	}
	if candidate == nil || !endedPublished {
		return 0, nil
	}

	candidate.Status = store.StatusPublished
	if err := p.store.SaveCourseRun(candidate); err != nil {
		return 0, err
	}
	p.logger.Info("republished course run after active run ended",
		"course", course.Key, "run", candidate.Key)
	return 1, nil
}
