package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPError carries the full request context of a non-2xx response so
// callers can decide whether the record is retryable or should be skipped.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream: %s %s status=%d body=%s", e.Method, e.URL, e.StatusCode, snippet(e.Body, 500))
}

func snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// IsTransient reports whether err is worth retrying: transport failures,
// timeouts, HTTP 5xx, and 429.
func IsTransient(err error) bool {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode >= 500 || herr.StatusCode == http.StatusTooManyRequests
	}
	return isRetryableNetErr(err)
}

// IsFatal reports whether err is a non-retryable upstream rejection
// (HTTP 4xx other than 429). The current record should be skipped and
// logged, not retried.
func IsFatal(err error) bool {
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode >= 400 && herr.StatusCode < 500 && herr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func isUnauthorized(err error) bool {
	var herr *HTTPError
	return errors.As(err, &herr) && herr.StatusCode == http.StatusUnauthorized
}

func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return false
}

// parseRetryAfter reads a Retry-After header, accepting both delta-seconds
// and HTTP-date forms. Zero means no usable hint.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
