package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
	derrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/circuit"
)

// DefaultProbeInterval is how often an open circuit lets a write through to
// test whether the primary has recovered.
const DefaultProbeInterval = 15 * time.Second

// FallbackSink accepts events the primary store could not. Satisfied by
// *Journal.
type FallbackSink interface {
	Write(ctx context.Context, ev audit.Event) error
}

// FallbackDrainer is implemented by sinks that can replay their buffered
// events and discard them once the primary recovers.
type FallbackDrainer interface {
	Drain(ctx context.Context, apply func(context.Context, audit.Event) error) error
}

// Failover wraps the primary store with a circuit breaker and a local
// fallback sink. A finalized event handed to Append is never lost: when
// the primary write fails or the circuit is open, the event goes to the
// fallback and Append still succeeds. When the circuit closes again the
// fallback is drained back into the primary. Reads always hit the
// primary.
type Failover struct {
	primary  Store
	fallback FallbackSink
	breaker  *circuit.Breaker
	logger   *slog.Logger

	probeInterval time.Duration
	mu            sync.Mutex
	lastProbe     time.Time
}

// FailoverOption configures a Failover.
type FailoverOption func(*Failover)

// WithFailoverLogger sets the wrapper's logger.
func WithFailoverLogger(logger *slog.Logger) FailoverOption {
	return func(f *Failover) { f.logger = logger }
}

// WithProbeInterval sets how often an open circuit probes the primary.
func WithProbeInterval(d time.Duration) FailoverOption {
	return func(f *Failover) {
		if d > 0 {
			f.probeInterval = d
		}
	}
}

// NewFailover wraps the primary store.
func NewFailover(primary Store, fallback FallbackSink, breaker *circuit.Breaker, opts ...FailoverOption) *Failover {
	f := &Failover{
		primary:       primary,
		fallback:      fallback,
		breaker:       breaker,
		probeInterval: DefaultProbeInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func (f *Failover) Append(ctx context.Context, ev audit.Event) error {
	if f.breaker.IsOpen() && !f.shouldProbe() {
		return f.writeFallback(ctx, ev, nil)
	}

	err := f.primary.Append(ctx, ev)
	if err == nil {
		if _, change := f.breaker.RecordSuccess(); change.Closed {
			if f.logger != nil {
				f.logger.InfoContext(ctx, "primary event store recovered, circuit closed",
					"breaker", f.breaker.Name())
			}
			f.replayFallback(ctx)
		}
		return nil
	}

	if _, change := f.breaker.RecordFailure(); change.Opened && f.logger != nil {
		f.logger.ErrorContext(ctx, "primary event store failing, circuit opened",
			"breaker", f.breaker.Name(),
			"error", err)
	}
	return f.writeFallback(ctx, ev, err)
}

func (f *Failover) writeFallback(ctx context.Context, ev audit.Event, primaryErr error) error {
	if err := f.fallback.Write(ctx, ev); err != nil {
		// Both paths failed; this is the only way Append loses an event,
		// and it surfaces as a storage failure to the caller.
		return &audit.StorageError{Cause: fmt.Errorf("primary: %v; fallback: %w", primaryErr, err)}
	}
	if f.logger != nil {
		f.logger.WarnContext(ctx, "event journaled to local fallback",
			"event_id", ev.ID,
			"primary_error", primaryErr)
	}
	return nil
}

// replayFallback drains journaled events into the recovered primary.
// An event can reach both stores when a primary write errored after
// committing, so conflicts on replay are skipped, not failures. Anything
// else aborts the drain and leaves the journal intact for the next
// recovery.
func (f *Failover) replayFallback(ctx context.Context) {
	drainer, ok := f.fallback.(FallbackDrainer)
	if !ok {
		return
	}
	err := drainer.Drain(ctx, func(ctx context.Context, ev audit.Event) error {
		err := f.primary.Append(ctx, ev)
		if derrors.HasCode(err, derrors.CodeConflict) {
			return nil
		}
		return err
	})
	if err != nil {
		if f.logger != nil {
			f.logger.ErrorContext(ctx, "fallback journal replay failed",
				"breaker", f.breaker.Name(),
				"error", err)
		}
		return
	}
	if f.logger != nil {
		f.logger.InfoContext(ctx, "fallback journal drained into primary",
			"breaker", f.breaker.Name())
	}
}

// shouldProbe rate-limits primary attempts while the circuit is open.
func (f *Failover) shouldProbe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastProbe) < f.probeInterval {
		return false
	}
	f.lastProbe = time.Now()
	return true
}

func (f *Failover) Get(ctx context.Context, eventID id.EventID) (audit.Event, error) {
	return f.primary.Get(ctx, eventID)
}

func (f *Failover) Search(ctx context.Context, q Query) (Page, error) {
	return f.primary.Search(ctx, q)
}

func (f *Failover) ListBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]audit.Event, error) {
	return f.primary.ListBySubject(ctx, subjectID, since, limit)
}

func (f *Failover) ActiveSubjects(ctx context.Context, since time.Time) ([]id.SubjectID, error) {
	return f.primary.ActiveSubjects(ctx, since)
}
