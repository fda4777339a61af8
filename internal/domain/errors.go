package domain

import "errors"

var (
	// ErrValidation marks malformed input: empty batches, inverted time
	// ranges, out-of-range policy values.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict marks requests that contradict current state, such as
	// starting a second open time entry or stopping when none is open.
	ErrStateConflict = errors.New("state conflict")
	// ErrForbidden is returned when the caller may not see or change the
	// requested records.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when a record cannot be located within the tenant.
	ErrNotFound = errors.New("not found")
)
