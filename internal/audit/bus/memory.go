package bus

import (
	"context"
	"sync"
)

// InMemoryBus collects published events, for unit tests and local runs.
type InMemoryBus struct {
	mu         sync.Mutex
	recorded   []RecordedEvent
	threats    []ThreatEvent
	compliance []ComplianceEvent
	err        error
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

// FailWith makes every publish return err. Test helper.
func (b *InMemoryBus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *InMemoryBus) PublishRecorded(_ context.Context, ev RecordedEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.recorded = append(b.recorded, ev)
	return nil
}

func (b *InMemoryBus) PublishThreat(_ context.Context, ev ThreatEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.threats = append(b.threats, ev)
	return nil
}

func (b *InMemoryBus) PublishCompliance(_ context.Context, ev ComplianceEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.compliance = append(b.compliance, ev)
	return nil
}

func (b *InMemoryBus) Close() error { return nil }

func (b *InMemoryBus) Recorded() []RecordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordedEvent(nil), b.recorded...)
}

func (b *InMemoryBus) Threats() []ThreatEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ThreatEvent(nil), b.threats...)
}

func (b *InMemoryBus) Compliance() []ComplianceEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ComplianceEvent(nil), b.compliance...)
}
