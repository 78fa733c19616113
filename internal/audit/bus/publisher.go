package bus

import "context"

// Publisher is the outbound event bus consumed by the audit service.
//
// PublishCompliance is fail-closed: an error means the regulatory record
// could not be guaranteed and the caller must fail its operation.
// PublishThreat is best-effort and buffered; it never blocks ingestion.
type Publisher interface {
	PublishRecorded(ctx context.Context, ev RecordedEvent) error
	PublishThreat(ctx context.Context, ev ThreatEvent) error
	PublishCompliance(ctx context.Context, ev ComplianceEvent) error
	Close() error
}

// Nop is a Publisher that discards everything. Used when no brokers are
// configured.
type Nop struct{}

func (Nop) PublishRecorded(context.Context, RecordedEvent) error     { return nil }
func (Nop) PublishThreat(context.Context, ThreatEvent) error         { return nil }
func (Nop) PublishCompliance(context.Context, ComplianceEvent) error { return nil }
func (Nop) Close() error                                             { return nil }
