package incident

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an incident does not exist.
	ErrNotFound = errors.New("incident not found")

	// ErrConflict is returned when a write raced another write to the same
	// incident. The stored version is left untouched.
	ErrConflict = errors.New("incident version conflict")

	// ErrInvalidTransition is returned for moves the state machine forbids.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoCapability is returned when dispatch needs an adapter that is not
	// configured.
	ErrNoCapability = errors.New("capability not configured")

	// ErrNoPrimaryFrame is returned when a code fix is requested for a
	// signal without an application frame.
	ErrNoPrimaryFrame = errors.New("signal has no primary frame")
)

// DispatchError reports a failed remediation attempt. It is never retried
// automatically.
type DispatchError struct {
	Category Category
	Err      error
	Timeout  bool
}

func (e *DispatchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("dispatch %s: dispatch timeout", e.Category)
	}
	return fmt.Sprintf("dispatch %s: %v", e.Category, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Reason is the failure marker recorded on the incident.
func (e *DispatchError) Reason() string {
	if e.Timeout {
		return "dispatch timeout"
	}
	return e.Error()
}

// ReportBuildError means the retrospective could not be assembled. The
// incident stays in ReportPending.
type ReportBuildError struct {
	IncidentID string
	Reason     string
}

func (e *ReportBuildError) Error() string {
	return fmt.Sprintf("build report for incident %s: %s", e.IncidentID, e.Reason)
}
