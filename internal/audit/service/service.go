// Package service is the ingestion and query surface of the audit core:
// it classifies raw input, runs the analysis fan-out, persists the
// finalized event, and notifies downstream consumers.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vigil/internal/audit"
	"vigil/internal/audit/bus"
	"vigil/internal/audit/classifier"
	"vigil/internal/audit/device"
	"vigil/internal/audit/risk"
	"vigil/internal/audit/store"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/requestcontext"
)

// EventStore is the slice of the durable store the service uses.
type EventStore interface {
	Append(ctx context.Context, ev audit.Event) error
	Get(ctx context.Context, eventID id.EventID) (audit.Event, error)
	Search(ctx context.Context, q store.Query) (store.Page, error)
}

// Pipeline runs the analysis stages over a classified event.
type Pipeline interface {
	Process(ctx context.Context, ev audit.Event) (audit.Event, error)
}

// Verifier checks an event's tamper-evidence signature.
type Verifier interface {
	Verify(ctx context.Context, ev audit.Event) (bool, error)
}

// RecordRequest is the ingestion input. Context attributes (IP, user
// agent, geolocation, session, device) travel on the request context.
type RecordRequest struct {
	EventType audit.EventType
	Subject   *classifier.Subject
	Details   map[string]any
}

// VerifyResult is the outcome of a signature verification.
type VerifyResult struct {
	EventID   string `json:"eventId"`
	Valid     bool   `json:"valid"`
	KeyID     string `json:"keyId,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
}

// Service wires the audit pipeline together. Construct with New; the
// zero value is not usable.
type Service struct {
	classifier *classifier.Classifier
	pipeline   Pipeline
	verifier   Verifier
	events     EventStore
	publisher  bus.Publisher
	devices    *device.Service

	riskCache  risk.Cache
	queryCache QueryCache

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches service metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRiskCache attaches a risk-result cache, invalidated on writes.
func WithRiskCache(c risk.Cache) Option {
	return func(s *Service) { s.riskCache = c }
}

// WithQueryCache attaches a query-result cache, invalidated on writes.
func WithQueryCache(c QueryCache) Option {
	return func(s *Service) { s.queryCache = c }
}

// WithDeviceService attaches device fingerprinting for requests that
// carry a user agent but no explicit fingerprint.
func WithDeviceService(d *device.Service) Option {
	return func(s *Service) { s.devices = d }
}

// New builds the audit service.
func New(pipeline Pipeline, verifier Verifier, events EventStore, publisher bus.Publisher, opts ...Option) *Service {
	s := &Service{
		classifier: &classifier.Classifier{},
		pipeline:   pipeline,
		verifier:   verifier,
		events:     events,
		publisher:  publisher,
		riskCache:  risk.NoopCache{},
		queryCache: NopQueryCache{},
		tracer:     otel.Tracer("vigil/audit/service"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RecordEvent ingests one event: classify, analyze, persist, notify.
// Validation failures return ErrInvalidEvent-wrapped errors before any
// scoring work; integrity failures return *audit.IntegrityError and
// nothing is persisted.
func (s *Service) RecordEvent(ctx context.Context, req RecordRequest) (audit.Event, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "audit.record",
		trace.WithAttributes(attribute.String("event.type", string(req.EventType))))
	defer span.End()

	ev, err := s.classifier.Classify(ctx, req.EventType, req.Subject, req.Details, s.eventContext(ctx))
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncRejected("invalid")
		}
		return audit.Event{}, err
	}

	final, err := s.pipeline.Process(ctx, ev)
	if err != nil {
		var integrityErr *audit.IntegrityError
		if errors.As(err, &integrityErr) && s.metrics != nil {
			s.metrics.IncRejected("integrity")
		}
		return audit.Event{}, err
	}

	if err := s.events.Append(ctx, final); err != nil {
		if s.metrics != nil {
			s.metrics.IncRejected("storage")
		}
		return audit.Event{}, err
	}

	if err := s.notify(ctx, final); err != nil {
		return audit.Event{}, err
	}

	s.cacheRiskResult(ctx, final)
	s.queryCache.InvalidateAll(ctx)

	if s.metrics != nil {
		s.metrics.ObserveRecorded(string(final.Category), string(final.Severity), time.Since(start))
		s.metrics.ObserveRiskScore(final.RiskScore())
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "audit event recorded",
			"event_id", final.ID,
			"event_type", final.Type,
			"severity", final.Severity,
			"risk_score", final.RiskScore(),
			"version", final.Version,
			"request_id", requestcontext.RequestID(ctx))
	}
	return final, nil
}

// notify publishes the outbound events. The recorded and compliance
// topics are fail-closed: the caller must not treat the ingestion as
// successful if downstream consumers were not notified. Threat alerts
// are best-effort and buffered by the publisher.
func (s *Service) notify(ctx context.Context, ev audit.Event) error {
	if err := s.publisher.PublishRecorded(ctx, bus.NewRecordedEvent(ev)); err != nil {
		return fmt.Errorf("publish recorded event: %w", err)
	}

	if len(ev.ComplianceFlags) > 0 {
		if err := s.publisher.PublishCompliance(ctx, bus.NewComplianceEvent(ev)); err != nil {
			return fmt.Errorf("publish compliance event: %w", err)
		}
	}

	if ev.RequiresImmediateAlert() {
		if err := s.publisher.PublishThreat(ctx, bus.NewThreatEvent(ev)); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "threat alert publish failed",
				"event_id", ev.ID,
				"error", err)
		}
		if s.metrics != nil {
			s.metrics.IncThreatAlert()
		}
	}
	return nil
}

// Query runs a forensic search, serving repeated identical filters from
// the query cache until the next write invalidates it.
func (s *Service) Query(ctx context.Context, q store.Query) (store.Page, error) {
	q = q.Normalize()
	ctx, span := s.tracer.Start(ctx, "audit.query")
	defer span.End()

	if page, ok := s.queryCache.Get(ctx, q); ok {
		if s.metrics != nil {
			s.metrics.IncQueryCache(true)
		}
		return page, nil
	}
	if s.metrics != nil {
		s.metrics.IncQueryCache(false)
	}

	page, err := s.events.Search(ctx, q)
	if err != nil {
		return store.Page{}, err
	}
	s.queryCache.Put(ctx, q, page)
	return page, nil
}

// GetEvent loads a single event by ID.
func (s *Service) GetEvent(ctx context.Context, eventID id.EventID) (audit.Event, error) {
	return s.events.Get(ctx, eventID)
}

// EventRisk returns an event's risk assessment, serving repeated lookups
// from the risk cache and falling back to the stored event on a miss.
func (s *Service) EventRisk(ctx context.Context, eventID id.EventID) (risk.Result, error) {
	ctx, span := s.tracer.Start(ctx, "audit.risk",
		trace.WithAttributes(attribute.String("event.id", eventID.String())))
	defer span.End()

	result, hit, err := s.riskCache.Get(ctx, eventID)
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "risk cache read failed",
			"event_id", eventID,
			"error", err)
	}
	if s.metrics != nil {
		s.metrics.IncRiskCache(hit)
	}
	if hit {
		return result, nil
	}

	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return risk.Result{}, err
	}
	result, ok := riskResultOf(ev)
	if !ok {
		return risk.Result{}, fmt.Errorf("event %s carries no risk analysis: %w", eventID, sentinel.ErrNotFound)
	}
	s.cacheRiskResult(ctx, ev)
	return result, nil
}

// VerifyEvent checks the stored event's signature. A mismatch is a
// security finding: it is reported in the result, logged, and published
// as a threat alert, but it is not an error.
func (s *Service) VerifyEvent(ctx context.Context, eventID id.EventID) (VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "audit.verify",
		trace.WithAttributes(attribute.String("event.id", eventID.String())))
	defer span.End()

	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return VerifyResult{}, err
	}

	valid, err := s.verifier.Verify(ctx, ev)
	if err != nil {
		return VerifyResult{}, err
	}

	result := VerifyResult{EventID: eventID.String(), Valid: valid}
	if sr, ok := ev.SigningResult(); ok {
		result.KeyID = sr.KeyID
		result.Algorithm = sr.Algorithm
	}

	if !valid {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "signature mismatch: stored event failed verification",
				"event_id", eventID,
				"key_id", result.KeyID)
		}
		if s.metrics != nil {
			s.metrics.IncSignatureMismatch()
		}
		// The cached assessment of a tampered event cannot be trusted.
		if err := s.riskCache.Invalidate(ctx, eventID); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "risk cache invalidation failed",
				"event_id", eventID,
				"error", err)
		}
		if err := s.publisher.PublishThreat(ctx, bus.ThreatEvent{
			ID:          eventID.String(),
			ThreatLevel: string(audit.SeverityCritical),
			SubjectID:   subjectIDString(ev),
			Timestamp:   time.Now().UTC(),
		}); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "signature mismatch alert publish failed",
				"event_id", eventID,
				"error", err)
		}
	}
	return result, nil
}

// eventContext assembles the classifier input from request-scoped
// attributes, filling the device fingerprint from the user agent when the
// client did not send one.
func (s *Service) eventContext(ctx context.Context) classifier.EventContext {
	evCtx := classifier.EventContext{
		SessionID:         requestcontext.SessionID(ctx),
		IPAddress:         requestcontext.ClientIP(ctx),
		UserAgent:         requestcontext.UserAgent(ctx),
		DeviceFingerprint: requestcontext.DeviceFingerprint(ctx),
	}
	if geo := requestcontext.Location(ctx); !geo.IsZero() {
		evCtx.Geolocation = &geo
	}
	if evCtx.DeviceFingerprint == "" && evCtx.UserAgent != "" && s.devices != nil {
		evCtx.DeviceFingerprint = s.devices.ComputeFingerprint(evCtx.UserAgent)
	}
	return evCtx
}

// riskResultOf rebuilds the scoring result from the analysis metadata a
// finalized event carries.
func riskResultOf(ev audit.Event) (risk.Result, bool) {
	sa, ok := ev.SecurityAnalysis()
	if !ok {
		return risk.Result{}, false
	}
	factors := make(map[risk.Factor]float64, len(sa.RiskFactors))
	for name, v := range sa.RiskFactors {
		factors[risk.Factor(name)] = v
	}
	return risk.Result{
		Score:               sa.RiskScore,
		Factors:             factors,
		BehavioralDeviation: sa.BehavioralDeviation,
		BaselineAvailable:   sa.BaselineAvailable,
	}, true
}

func (s *Service) cacheRiskResult(ctx context.Context, ev audit.Event) {
	result, ok := riskResultOf(ev)
	if !ok {
		return
	}
	err := s.riskCache.Put(ctx, ev.ID, result)
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "risk cache write failed",
			"event_id", ev.ID,
			"error", err)
	}
}

func subjectIDString(ev audit.Event) string {
	if ev.SubjectID.IsNil() {
		return ""
	}
	return ev.SubjectID.String()
}
