package review

import (
	"errors"
	"fmt"

	"github.com/opencoursehub/catalog/pkg/store"
	"github.com/opencoursehub/catalog/pkg/validate"
)

// Field names used by edit gating. Callers report the set of fields an
// edit touched using these names.
const (
	FieldStart           = "start"
	FieldEnd             = "end"
	FieldGoLiveDate      = "go_live_date"
	FieldMinEffort       = "min_effort"
	FieldMaxEffort       = "max_effort"
	FieldWeeksToComplete = "weeks_to_complete"
	FieldExternalKey     = "external_key"
	FieldTitleOverride   = "title_override"
	FieldStatus          = "status"
)

// nonGatedFields are scheduling and effort attributes that may be edited
// at any point in the review pipeline without disturbing review state.
var nonGatedFields = map[string]bool{
	FieldStart:           true,
	FieldEnd:             true,
	FieldGoLiveDate:      true,
	FieldMinEffort:       true,
	FieldMaxEffort:       true,
	FieldWeeksToComplete: true,
}

// GatedFields returns the subset of changed fields that are review-gated.
func GatedFields(changed []string) []string {
	var gated []string
	for _, f := range changed {
		if !nonGatedFields[f] {
			gated = append(gated, f)
		}
	}
	return gated
}

// Editor applies field edits to draft course runs under the review rules.
type Editor struct {
	store   *store.Store
	machine *Machine
}

// NewEditor creates an editor bound to a store.
func NewEditor(s *store.Store) *Editor {
	return &Editor{store: s, machine: NewMachine()}
}

// ApplyRunEdit persists an already-mutated draft run, enforcing the edit
// gating rules for its current review state:
//
//   - while the draft sits in a review queue, gated fields are frozen and
//     the edit is rejected with a PermissionError;
//   - a gated edit to a Reviewed draft resets both the draft and its
//     official twin to Unpublished, restarting the review pipeline;
//   - non-gated fields pass through in any state.
//
// changed names the fields the edit touched.
func (e *Editor) ApplyRunEdit(draft *store.CourseRun, changed []string) error {
	if !draft.Draft {
		return fmt.Errorf("run %s: edits apply to draft rows only", draft.Key)
	}
	for _, f := range changed {
		if f == FieldExternalKey {
			if err := validate.ExternalKeysForRun(e.store, draft); err != nil {
				return err
			}
			break
		}
	}
	gated := GatedFields(changed)
	if len(gated) > 0 {
		if draft.InReview() {
			return &PermissionError{Status: draft.Status, Fields: gated}
		}
		if draft.Status == store.StatusReviewed {
			if err := e.resetToUnpublished(draft); err != nil {
				return err
			}
		}
	}
	return e.store.SaveCourseRun(draft)
}

// SubmitForReview moves a draft from Unpublished into the legal review
// queue.
func (e *Editor) SubmitForReview(draft *store.CourseRun) error {
	return e.transition(draft, store.StatusLegalReview)
}

// ApproveLegal moves a draft from legal review to internal review.
func (e *Editor) ApproveLegal(draft *store.CourseRun) error {
	return e.transition(draft, store.StatusInternalReview)
}

// ApproveInternal completes review, marking the draft Reviewed.
func (e *Editor) ApproveInternal(draft *store.CourseRun) error {
	return e.transition(draft, store.StatusReviewed)
}

func (e *Editor) transition(draft *store.CourseRun, to store.CourseRunStatus) error {
	if err := e.machine.ValidateTransition(draft.Status, to); err != nil {
		return err
	}
	draft.Status = to
	return e.store.SaveCourseRun(draft)
}

// resetToUnpublished restarts the review pipeline for both twins after a
// gated edit lands on a Reviewed draft.
func (e *Editor) resetToUnpublished(draft *store.CourseRun) error {
	return e.store.Transaction(func(tx *store.Store) error {
		draft.Status = store.StatusUnpublished
		if err := tx.SaveCourseRun(draft); err != nil {
			return err
		}
		official, err := tx.GetCourseRunByKey(draft.Key, false)
		if err != nil {
			if errors.Is(err, store.ErrCourseRunNotFound) {
				return nil
			}
			return err
		}
		if official.Status == store.StatusUnpublished {
			return nil
		}
		official.Status = store.StatusUnpublished
		return tx.SaveCourseRun(official)
	})
}
