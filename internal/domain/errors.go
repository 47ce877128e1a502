package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no observation matches a point read
	ErrNotFound = errors.New("observation not found")

	// ErrEmptyRange is returned when an aggregate window holds no rows
	ErrEmptyRange = errors.New("no observations in range")

	// ErrUnknownEntity is returned when a city is not in the configured entity set
	ErrUnknownEntity = errors.New("unknown city")

	// ErrJobAlreadyRunning is returned when a job with the same name is in flight
	ErrJobAlreadyRunning = errors.New("job already running")

	// ErrRunNotFound is returned when a job run id does not exist
	ErrRunNotFound = errors.New("job run not found")

	// ErrInvalidWindow is returned when a history window ends before it starts
	ErrInvalidWindow = errors.New("invalid time window")

	// ErrInvalidTrigger is returned for malformed trigger messages
	ErrInvalidTrigger = errors.New("invalid job trigger")
)

// NormalizationError marks an upstream payload that cannot become an Observation
type NormalizationError struct {
	EntityID string
	Field    string
	Reason   string
}

func (e *NormalizationError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("normalization failed: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("normalization failed for %s: %s: %s", e.EntityID, e.Field, e.Reason)
}

// UpstreamError wraps network, quota and auth failures from a source adapter
type UpstreamError struct {
	Source      string
	EntityID    string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s upstream error for %s", e.Source, e.EntityID)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// StoreError wraps persistence failures other than the expected key conflict
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store error: " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err as a StoreError
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err carries a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsUpstreamError reports whether err carries an UpstreamError
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// IsNormalizationError reports whether err carries a NormalizationError
func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}
