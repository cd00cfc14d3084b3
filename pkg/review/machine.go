// Package review implements the editorial lifecycle of course runs: the
// draft/official review state machine, edit gating, and the scheduled
// publisher that promotes reviewed drafts to their official twins.
package review

import (
	"fmt"

	"github.com/opencoursehub/catalog/pkg/store"
)

// TransitionRule defines an allowed lifecycle transition.
type TransitionRule struct {
	From store.CourseRunStatus
	To   store.CourseRunStatus
}

// DefaultTransitions defines the allowed review state transitions.
var DefaultTransitions = []TransitionRule{
	{From: store.StatusUnpublished, To: store.StatusLegalReview},
	{From: store.StatusLegalReview, To: store.StatusInternalReview},
	{From: store.StatusInternalReview, To: store.StatusReviewed},
	{From: store.StatusReviewed, To: store.StatusPublished},
	// A review-gated edit while Reviewed sends both twins back to the
	// start of the pipeline.
	{From: store.StatusReviewed, To: store.StatusUnpublished},
	// Explicit unpublish, and the auto-republish sweep's reverse.
	{From: store.StatusPublished, To: store.StatusUnpublished},
	{From: store.StatusUnpublished, To: store.StatusPublished},
}

// Machine validates review state transitions.
type Machine struct {
	transitions []TransitionRule
}

// NewMachine creates a machine with the default rules.
func NewMachine() *Machine {
	return &Machine{transitions: DefaultTransitions}
}

// ValidateTransition checks whether from->to is allowed. A same-state
// transition is a no-op and always allowed.
func (m *Machine) ValidateTransition(from, to store.CourseRunStatus) error {
	if from == to {
		return nil
	}
	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return nil
		}
	}
	return &TransitionError{
		Code:    "REVIEW_INVALID_TRANSITION",
		From:    from,
		To:      to,
		Message: fmt.Sprintf("no transition defined from %s to %s", from, to),
	}
}

// AllowedTransitions returns all valid target states from the given state.
func (m *Machine) AllowedTransitions(from store.CourseRunStatus) []store.CourseRunStatus {
	var allowed []store.CourseRunStatus
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// TransitionError is a structured error for invalid transitions.
type TransitionError struct {
	Code    string                `json:"code"`
	From    store.CourseRunStatus `json:"from"`
	To      store.CourseRunStatus `json:"to"`
	Message string                `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}

// PermissionError is returned when an edit touches a review-gated field
// while the draft is frozen in a review state. It is an editor-facing
// error, never a system failure.
type PermissionError struct {
	Status store.CourseRunStatus
	Fields []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("fields %v cannot be edited while the run is in %s", e.Fields, e.Status)
}
