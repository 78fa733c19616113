// Package classifier constructs audit events from raw ingestion input. It
// owns the deterministic classification tables (via the event type methods)
// and the unconditional sanitization of detail payloads.
package classifier

import (
	"context"
	"fmt"
	"time"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// Subject identifies the actor behind an event. Absent for system events.
type Subject struct {
	ID   id.SubjectID
	Role id.SubjectRole
}

// EventContext carries the optional contextual attributes captured at
// ingestion time. Handlers populate it from requestcontext values.
type EventContext struct {
	SessionID         id.SessionID
	IPAddress         string
	UserAgent         string
	Geolocation       *id.Geolocation
	DeviceFingerprint string
}

// Classifier builds classified, sanitized events. It is stateless; the
// timestamp comes from the request-scoped clock so tests can pin it.
type Classifier struct{}

// New returns a Classifier.
func New() *Classifier {
	return &Classifier{}
}

// Classify validates raw input and constructs a version-1 audit event with
// category, severity, compliance flags, encryption requirement, and
// retention period resolved from the classification tables.
//
// Details are sanitized before the event is constructed: values under
// sensitive keys are replaced with a redaction marker, unconditionally and
// irreversibly.
//
// Errors: audit.ErrInvalidEvent when eventType is empty or details is nil.
func (c *Classifier) Classify(ctx context.Context, eventType audit.EventType, subject *Subject, details map[string]any, evCtx EventContext) (audit.Event, error) {
	if eventType == "" {
		return audit.Event{}, fmt.Errorf("%w: event type is required", audit.ErrInvalidEvent)
	}
	if details == nil {
		return audit.Event{}, fmt.Errorf("%w: details must not be nil", audit.ErrInvalidEvent)
	}

	ev := audit.Event{
		ID:        id.NewEventID(),
		Type:      eventType,
		// Microsecond precision survives a postgres timestamptz round-trip,
		// so signatures computed over the timestamp stay verifiable.
		Timestamp: requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),

		SessionID:         evCtx.SessionID,
		IPAddress:         evCtx.IPAddress,
		UserAgent:         evCtx.UserAgent,
		Geolocation:       evCtx.Geolocation,
		DeviceFingerprint: evCtx.DeviceFingerprint,

		Category:           eventType.Category(),
		Severity:           eventType.BaseSeverity(),
		Details:            Sanitize(details),
		ComplianceFlags:    eventType.ComplianceFlags(),
		EncryptionRequired: eventType.EncryptionRequired(),
		RetentionPeriod:    eventType.RetentionPeriod(),

		Version: 1,
	}

	if subject != nil {
		ev.SubjectID = subject.ID
		ev.SubjectRole = subject.Role
	}

	return ev, nil
}
