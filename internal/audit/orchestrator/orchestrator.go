// Package orchestrator fans the four analysis stages out over one immutable
// event snapshot and merges their results in a fixed order. A stage failure
// never aborts the other stages; it only lowers the integrity completeness
// score checked before finalization.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"vigil/internal/audit"
	"vigil/internal/audit/risk"
)

// DefaultStageTimeout bounds the whole fan-out, not each stage.
const DefaultStageTimeout = 5 * time.Second

// CompletenessThreshold is the minimum overall stage completeness for an
// event to be finalized.
const CompletenessThreshold = 0.8

// Stage names, used in results, logs, and metrics labels.
const (
	StageSecurity   = "security_analysis"
	StageCompliance = "compliance_classification"
	StageSigning    = "cryptographic_signing"
	StageThreat     = "threat_detection"
)

// RiskCalculator scores the event. Satisfied by *risk.Calculator.
type RiskCalculator interface {
	Calculate(ctx context.Context, ev audit.Event) risk.Result
}

// ThreatDetector scans the event for threat patterns.
type ThreatDetector interface {
	Detect(ctx context.Context, ev audit.Event) audit.ThreatDetection
}

// Signer produces the event's tamper-evidence signature.
type Signer interface {
	Sign(ctx context.Context, ev audit.Event) (audit.SigningResult, error)
}

// stageOutcome is one stage's result slot: either a payload recorded by the
// stage body, or the error that degraded it.
type stageOutcome struct {
	name     string
	duration time.Duration
	err      error
}

// Orchestrator runs the four stages concurrently and assembles the final
// event.
type Orchestrator struct {
	risk    RiskCalculator
	threats ThreatDetector
	signer  Signer

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	timeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics attaches stage metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTimeout bounds the stage fan-out.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// New builds an Orchestrator over the three analysis collaborators.
func New(riskCalc RiskCalculator, threats ThreatDetector, signer Signer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		risk:    riskCalc,
		threats: threats,
		signer:  signer,
		tracer:  otel.Tracer("vigil/audit/orchestrator"),
		timeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Process runs all four stages against the classified event and merges the
// surviving results in the fixed order security, compliance, signing,
// threat. Below the completeness threshold it returns *audit.IntegrityError
// and the event is not finalized.
func (o *Orchestrator) Process(ctx context.Context, ev audit.Event) (audit.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "audit.orchestrate",
		trace.WithAttributes(attribute.String("event.id", ev.ID.String())))
	defer span.End()

	var (
		security   audit.SecurityAnalysis
		compliance audit.ComplianceClassification
		signing    audit.SigningResult
		threats    audit.ThreatDetection

		outcomes [4]stageOutcome
	)

	// Stage goroutines capture their own slot and always return nil: a
	// failed stage must not cancel its siblings through the errgroup.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(o.stage(gctx, &outcomes[0], StageSecurity, func(sctx context.Context) error {
		res := o.risk.Calculate(sctx, ev)
		security = audit.SecurityAnalysis{
			RiskScore:           res.Score,
			RiskFactors:         factorMap(res.Factors),
			BehavioralDeviation: res.BehavioralDeviation,
			BaselineAvailable:   res.BaselineAvailable,
		}
		return sctx.Err()
	}))

	g.Go(o.stage(gctx, &outcomes[1], StageCompliance, func(sctx context.Context) error {
		compliance = classifyCompliance(ev)
		return sctx.Err()
	}))

	g.Go(o.stage(gctx, &outcomes[2], StageSigning, func(sctx context.Context) error {
		var err error
		signing, err = o.signer.Sign(sctx, ev)
		return err
	}))

	g.Go(o.stage(gctx, &outcomes[3], StageThreat, func(sctx context.Context) error {
		threats = o.threats.Detect(sctx, ev)
		return sctx.Err()
	}))

	// Stage bodies never return errors through the group; Wait only
	// synchronizes the join point.
	_ = g.Wait()

	completeness, degraded := integrity(outcomes)
	span.SetAttributes(attribute.Float64("audit.completeness", completeness))
	if completeness <= CompletenessThreshold {
		if o.logger != nil {
			o.logger.ErrorContext(ctx, "analysis integrity below threshold, event not finalized",
				"event_id", ev.ID,
				"completeness", completeness,
				"degraded_stages", degraded)
		}
		if o.metrics != nil {
			o.metrics.IncIntegrityFailure()
		}
		return audit.Event{}, &audit.IntegrityError{
			Completeness: completeness,
			Degraded:     degraded,
		}
	}

	// Fixed merge order keeps the final version deterministic even though
	// stage completion order is not.
	out := ev.WithSecurityAnalysis(security)
	out = out.WithComplianceClassification(compliance)
	signed, err := out.WithSignature(signing)
	if err != nil {
		return audit.Event{}, err
	}
	out = signed.WithThreatDetection(threats)

	if o.logger != nil {
		o.logger.InfoContext(ctx, "event analysis complete",
			"event_id", out.ID,
			"risk_score", security.RiskScore,
			"indicators", len(threats.Indicators),
			"version", out.Version)
	}
	return out, nil
}

// stage wraps a stage body with timing, metrics, and error capture.
func (o *Orchestrator) stage(ctx context.Context, slot *stageOutcome, name string, body func(context.Context) error) func() error {
	return func() error {
		ctx, span := o.tracer.Start(ctx, "audit.stage."+name)
		defer span.End()

		start := time.Now()
		err := body(ctx)
		slot.name = name
		slot.duration = time.Since(start)
		slot.err = err

		if o.metrics != nil {
			o.metrics.ObserveStage(name, slot.duration, err == nil)
		}
		if err != nil && o.logger != nil {
			o.logger.WarnContext(ctx, "analysis stage degraded",
				"stage", name,
				"duration", slot.duration,
				"error", err)
		}
		return nil
	}
}

// integrity computes the overall completeness score: the mean of per-stage
// scores, 1 for a completed stage and 0 for a degraded one.
func integrity(outcomes [4]stageOutcome) (float64, []string) {
	var sum float64
	var degraded []string
	for _, out := range outcomes {
		if out.err != nil {
			degraded = append(degraded, out.name)
			continue
		}
		sum++
	}
	return sum / float64(len(outcomes)), degraded
}

// classifyCompliance confirms the regulatory posture from the event's
// classification tables.
func classifyCompliance(ev audit.Event) audit.ComplianceClassification {
	flags := ev.Type.ComplianceFlags()
	return audit.ComplianceClassification{
		Flags:              flags,
		RetentionPeriod:    ev.Type.RetentionPeriod(),
		EncryptionRequired: ev.Type.EncryptionRequired(),
		ReviewRequired:     len(flags) > 0 && ev.Severity.AtLeast(audit.SeverityHigh),
	}
}

func factorMap(factors map[risk.Factor]float64) map[string]float64 {
	m := make(map[string]float64, len(factors))
	for f, v := range factors {
		m[string(f)] = v
	}
	return m
}
