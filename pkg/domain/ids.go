// Package domain provides strongly-typed identifiers and domain primitives
// shared across the audit core. IDs are distinct types over uuid.UUID so the
// compiler rejects cross-type assignment; construct via Parse* at trust
// boundaries to enforce the "valid, non-empty, non-nil" invariant.
package domain

import (
	"github.com/google/uuid"

	dErrors "vigil/pkg/domain-errors"
)

// EventID identifies a single audit event. Assigned at creation, never reused.
type EventID uuid.UUID

// SubjectID identifies the actor an event is attributed to.
type SubjectID uuid.UUID

// SessionID identifies the session an event occurred in.
type SessionID uuid.UUID

// NewEventID returns a fresh random event ID.
func NewEventID() EventID { return EventID(uuid.New()) }

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be the nil UUID")
	}
	return u, nil
}

// ParseEventID constructs an EventID from external input.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event_id")
	if err != nil {
		return EventID{}, err
	}
	return EventID(u), nil
}

// ParseSubjectID constructs a SubjectID from external input.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject_id")
	if err != nil {
		return SubjectID{}, err
	}
	return SubjectID(u), nil
}

// ParseSessionID constructs a SessionID from external input.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session_id")
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(u), nil
}

func (id EventID) String() string   { return uuid.UUID(id).String() }
func (id SubjectID) String() string { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }

func (id EventID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
