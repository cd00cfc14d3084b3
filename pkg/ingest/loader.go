// Package ingest implements the per-source reconcilers that map upstream
// payloads onto the catalog store: course runs from the LMS, seats and
// entitlements from e-commerce, programs, and organizations.
package ingest

import (
	"context"
	"strings"
	"time"
)

// Loader is one upstream reconciler, driven by the pipeline.
type Loader interface {
	Name() string
	Load(ctx context.Context) error
}

// parseTime parses an upstream RFC 3339 timestamp, returning nil for empty
// or malformed values.
func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// courseKeyFromRun derives "ORG+NUMBER" from a run key of the form
// "course-v1:ORG+NUMBER+RUN" (or legacy "ORG/NUMBER/RUN").
func courseKeyFromRun(runKey string) (string, bool) {
	key := strings.TrimPrefix(runKey, "course-v1:")
	if parts := strings.Split(key, "+"); len(parts) == 3 {
		return parts[0] + "+" + parts[1], true
	}
	if parts := strings.Split(key, "/"); len(parts) == 3 {
		return parts[0] + "+" + parts[1], true
	}
	return "", false
}

// orgFromCourseKey extracts the organization key from "ORG+NUMBER".
func orgFromCourseKey(courseKey string) string {
	if i := strings.Index(courseKey, "+"); i > 0 {
		return courseKey[:i]
	}
	return ""
}
