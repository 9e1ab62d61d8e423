package store

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ppiankov/annorepair/internal/apperr"
)

// ErrNoETag is returned when a write is attempted without a concurrency token
var ErrNoETag = errors.New("no concurrency token")

// errHeadUnsupported marks a store that rejects HEAD, so callers fall back to GET
var errHeadUnsupported = errors.New("HEAD not supported")

// HTTPError is an unexpected response from the store
type HTTPError struct {
	Method        string
	URL           string
	StatusCode    int
	Body          string
	CorrelationID string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is maps 404/410 to apperr.ErrNotFound and everything else to apperr.ErrUpstream
func (e *HTTPError) Is(target error) bool {
	gone := e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
	switch target {
	case apperr.ErrNotFound:
		return gone
	case apperr.ErrUpstream:
		return !gone
	}
	return false
}

// ConflictError is a rejected If-Match precondition (412)
type ConflictError struct {
	ID   string
	ETag string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("precondition failed for %s (etag %s)", e.ID, e.ETag)
}

func (e *ConflictError) Is(target error) bool {
	return target == apperr.ErrConflict
}

// TimeoutError is a request that did not complete within its deadline
type TimeoutError struct {
	Method string
	URL    string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out: %v", e.Method, e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool {
	return target == apperr.ErrUpstreamTimeout
}
