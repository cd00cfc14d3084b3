package ingest

import (
	"fmt"
	"strings"
)

// ValidationError marks a record that violated a domain invariant. The
// record is skipped and logged; ingestion continues.
type ValidationError struct {
	Record string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed for %s: %s: %v", e.Record, e.Reason, e.Err)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Record, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ImageError marks an image download or store failure. The owning record's
// upsert proceeds with a missing-image condition.
type ImageError struct {
	URL string
	Err error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %s: %v", e.URL, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// TypeViolation records a seat whose type is outside its run's permitted
// track set.
type TypeViolation struct {
	RunKey   string
	SeatType string
	RunType  string
}

func (v TypeViolation) String() string {
	return fmt.Sprintf("run %s: seat type %q not permitted by run type %q", v.RunKey, v.SeatType, v.RunType)
}

// TypeViolationError aggregates violations found during a product ingest.
// It is raised at the end of the loader so every offender is reported.
type TypeViolationError struct {
	Violations []TypeViolation
}

func (e *TypeViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "seat types incompatible with run types: " + strings.Join(parts, "; ")
}

// ThresholdError rejects an ingest whose upstream record count shrank past
// the configured sanity threshold, guarding against truncated responses.
type ThresholdError struct {
	Loader   string
	Fetched  int
	Existing int
	Fraction float64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("%s loader: upstream returned %d records against %d stored (change threshold %.2f); refusing to apply",
		e.Loader, e.Fetched, e.Existing, e.Fraction)
}
