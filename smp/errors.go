package smp

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes callers are expected to branch on.
// Use errors.Is against these; richer context is attached with %w wrapping.
// Transport failures keep their native types (*HTTPError for status codes,
// context.DeadlineExceeded for per-fetch timeouts) and end up wrapped in
// ErrRetriesExhausted once the retry budget is spent.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArchive     = errors.New("not a valid ZIP archive")
	ErrInvalidStyle       = errors.New("invalid style")
	ErrMissingMetadata    = errors.New("missing smp metadata")
	ErrUnknownFileType    = errors.New("unknown file type")
	ErrUnknownContentType = errors.New("unknown content type")
	ErrUnknownResource    = errors.New("unknown resource type")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrMissingAccessToken = errors.New("mapbox URLs require an access token")
	ErrSecretToken        = errors.New("mapbox access token must be public (pk.*), not secret (sk.*)")
	ErrResourceMissing    = errors.New("referenced archive entry missing")
	ErrFormatMismatch     = errors.New("tile format mismatch within source")
	ErrRetriesExhausted   = errors.New("retries exhausted")
	ErrDuplicateEntry     = errors.New("duplicate archive entry")
)

// HTTPError carries the status of a non-2xx fetch so the scheduler can
// distinguish skippable 4xx from retryable 5xx.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the failure is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}
