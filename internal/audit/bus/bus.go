// Package bus publishes finalized audit events to downstream consumers
// (storage mirrors, alerting, compliance reporting) over three topics with
// different delivery semantics:
//
//   - recorded events: synchronous, emitted for every finalized event;
//   - threat events: buffered and flushed by a background worker, emitted
//     only for events requiring immediate alert;
//   - compliance events: synchronous and fail-closed, emitted only when
//     the event carries compliance flags.
package bus

import (
	"time"

	"vigil/internal/audit"
	"vigil/internal/audit/device"
)

// Topic names.
const (
	TopicRecorded   = "audit.event.recorded"
	TopicThreat     = "audit.threat.detected"
	TopicCompliance = "audit.compliance.recorded"
)

// RecordedEvent is the payload published for every finalized event.
type RecordedEvent struct {
	ID              string    `json:"id"`
	EventType       string    `json:"eventType"`
	SubjectID       string    `json:"subjectId,omitempty"`
	RiskScore       float64   `json:"riskScore"`
	ComplianceFlags []string  `json:"complianceFlags,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// ThreatEvent is the alert payload for events requiring immediate
// attention.
type ThreatEvent struct {
	ID          string    `json:"id"`
	ThreatLevel string    `json:"threatLevel"`
	SubjectID   string    `json:"subjectId,omitempty"`
	Device      string    `json:"device,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ComplianceEvent is the payload for the regulatory topic.
type ComplianceEvent struct {
	ID              string    `json:"id"`
	ComplianceFlags []string  `json:"complianceFlags"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewRecordedEvent builds the recorded payload from a finalized event.
func NewRecordedEvent(ev audit.Event) RecordedEvent {
	rec := RecordedEvent{
		ID:        ev.ID.String(),
		EventType: string(ev.Type),
		RiskScore: ev.RiskScore(),
		Timestamp: ev.Timestamp,
	}
	if !ev.SubjectID.IsNil() {
		rec.SubjectID = ev.SubjectID.String()
	}
	for _, f := range ev.ComplianceFlags {
		rec.ComplianceFlags = append(rec.ComplianceFlags, string(f))
	}
	return rec
}

// NewThreatEvent builds the alert payload. The threat level is the highest
// indicator severity, or the event severity when no indicator is present
// (a critical event alerts on severity alone).
func NewThreatEvent(ev audit.Event) ThreatEvent {
	level := ev.Severity
	if td, ok := ev.ThreatDetection(); ok {
		for _, ind := range td.Indicators {
			if ind.Severity.AtLeast(level) {
				level = ind.Severity
			}
		}
	}
	te := ThreatEvent{
		ID:          ev.ID.String(),
		ThreatLevel: string(level),
		Timestamp:   ev.Timestamp,
	}
	if !ev.SubjectID.IsNil() {
		te.SubjectID = ev.SubjectID.String()
	}
	// Responders triage alerts by hand; a readable device name beats a
	// raw user agent string.
	if ev.UserAgent != "" {
		te.Device = device.ParseUserAgent(ev.UserAgent)
	}
	return te
}

// NewComplianceEvent builds the regulatory payload.
func NewComplianceEvent(ev audit.Event) ComplianceEvent {
	flags := make([]string, 0, len(ev.ComplianceFlags))
	for _, f := range ev.ComplianceFlags {
		flags = append(flags, string(f))
	}
	return ComplianceEvent{
		ID:              ev.ID.String(),
		ComplianceFlags: flags,
		Timestamp:       ev.Timestamp,
	}
}
