package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrGuardTripped signals deliberate write suppression by the storage
	// guard; it is not a failure.
	ErrGuardTripped = errors.New("storage guard tripped")
)

// TransientFetchError is a retryable upstream fault (HTTP 429/5xx or a
// network error) that survived every retry attempt. It carries the last
// observed status and body so callers can log what the platform said.
type TransientFetchError struct {
	Platform   Platform
	StatusCode int
	Body       string
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient fetch error (%s): HTTP %d: %s", e.Platform, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("transient fetch error (%s): %v", e.Platform, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PermanentFetchError is a client-side fault (4xx other than 429) that must
// not be retried. A permanent error for one record never aborts its batch.
type PermanentFetchError struct {
	Platform   Platform
	StatusCode int
	Body       string
}

func (e *PermanentFetchError) Error() string {
	return fmt.Sprintf("permanent fetch error (%s): HTTP %d: %s", e.Platform, e.StatusCode, e.Body)
}

// IsTransient reports whether err is (or wraps) a TransientFetchError.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is (or wraps) a PermanentFetchError.
func IsPermanent(err error) bool {
	var p *PermanentFetchError
	return errors.As(err, &p)
}
