package registry

import "errors"

// Status is the fixed outcome taxonomy reported across the serving boundary.
// The numeric codes are part of the external contract and must not be
// renumbered.
type Status int

const (
	StatusOK                 Status = 0  // Operation succeeded
	StatusNullInput          Status = -1 // Required input reference was absent
	StatusUnrecognizedScheme Status = -2 // Scheme name outside the closed set
	StatusLockFailure        Status = -3 // Registry guard unusable (poisoned)
	StatusResolutionFailed   Status = -4 // Scheme recognized, encoder unavailable
)

// --- Sentinel Errors mapped onto the status taxonomy ---
var (
	ErrNullInput          = errors.New("required input is absent")
	ErrUnrecognizedScheme = errors.New("unrecognized encoding scheme")
	ErrLockFailure        = errors.New("registry is poisoned")
	ErrResolutionFailed   = errors.New("encoder resolution failed")
)

// StatusOf maps an operation error to its boundary status code. nil maps to
// StatusOK; an error outside the taxonomy maps to StatusResolutionFailed.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNullInput):
		return StatusNullInput
	case errors.Is(err, ErrUnrecognizedScheme):
		return StatusUnrecognizedScheme
	case errors.Is(err, ErrLockFailure):
		return StatusLockFailure
	case errors.Is(err, ErrResolutionFailed):
		return StatusResolutionFailed
	}
	return StatusResolutionFailed
}

// String implements fmt.Stringer for logging
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNullInput:
		return "null_input"
	case StatusUnrecognizedScheme:
		return "unrecognized_scheme"
	case StatusLockFailure:
		return "lock_failure"
	case StatusResolutionFailed:
		return "resolution_failed"
	}
	return "unknown"
}

// IsValid returns true if the status is a member of the taxonomy
func (s Status) IsValid() bool {
	switch s {
	case StatusOK, StatusNullInput, StatusUnrecognizedScheme, StatusLockFailure, StatusResolutionFailed:
		return true
	}
	return false
}
