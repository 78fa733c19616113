package audit

import (
	"errors"
	"fmt"
)

// Sentinel errors for the audit core. Services translate these into coded
// domain errors at the transport boundary.
var (
	// ErrInvalidEvent rejects malformed ingestion input before any scoring
	// work begins. Never retried automatically.
	ErrInvalidEvent = errors.New("invalid audit event")

	// ErrAlreadySigned guards the sign-exactly-once invariant.
	ErrAlreadySigned = errors.New("event already signed")
)

// IntegrityError reports that too few analysis stages completed for the
// event to be finalized. The caller may retry the whole ingestion.
type IntegrityError struct {
	Completeness float64
	Degraded     []string // names of stages that failed or returned partial data
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit integrity below threshold: completeness %.2f, degraded stages %v",
		e.Completeness, e.Degraded)
}

// StorageError wraps a durable-store failure. The event itself is preserved
// via the fallback path; this error is surfaced for operational alerting.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage failure: %v", e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }
