package risk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vigil/internal/audit"
	"vigil/internal/audit/anomaly"
	"vigil/internal/audit/baseline"
	id "vigil/pkg/domain"
	derrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/sentinel"
)

// Result is the outcome of a risk calculation: the composite score, the
// per-factor breakdown, and the raw behavioral deviation that fed it.
type Result struct {
	Score               float64
	Factors             map[Factor]float64
	BehavioralDeviation float64
	BaselineAvailable   bool
}

// RecentEvents supplies the subject's recent activity window used for
// behavioral deviation. The event store satisfies this.
type RecentEvents interface {
	ListBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]audit.Event, error)
}

// recentWindowSpan bounds how far back the behavioral window reaches.
const recentWindowSpan = 24 * time.Hour

// Calculator combines the six factor scores into a weighted composite.
// It is safe for concurrent use.
type Calculator struct {
	weights   Weights
	baselines baseline.Store
	recent    RecentEvents
	logger    *slog.Logger
}

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithWeights overrides the default factor weights. The weights must sum
// to 1.0; NewCalculator rejects anything else.
func WithWeights(w Weights) CalculatorOption {
	return func(c *Calculator) { c.weights = w }
}

// WithLogger sets the calculator's logger.
func WithLogger(logger *slog.Logger) CalculatorOption {
	return func(c *Calculator) { c.logger = logger }
}

// NewCalculator builds a Calculator. baselines and recent may be nil, in
// which case the behavioral, geographic, and device factors fall back to
// their no-context values.
func NewCalculator(baselines baseline.Store, recent RecentEvents, opts ...CalculatorOption) (*Calculator, error) {
	c := &Calculator{
		weights:   DefaultWeights(),
		baselines: baselines,
		recent:    recent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := validateWeights(c.weights); err != nil {
		return nil, err
	}
	return c, nil
}

const weightSumTolerance = 1e-9

func validateWeights(w Weights) error {
	var sum float64
	for f, v := range w {
		if v < 0 || v > 1 {
			return derrors.Newf(derrors.CodeInvalidInput, "weight for %s out of range: %v", f, v)
		}
		sum += v
	}
	if diff := sum - 1.0; diff > weightSumTolerance || diff < -weightSumTolerance {
		return derrors.Newf(derrors.CodeInvalidInput, "weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Calculate scores the event. Baseline and recent-activity lookups that
// fail degrade to the neutral behavioral score rather than failing the
// calculation.
func (c *Calculator) Calculate(ctx context.Context, ev audit.Event) Result {
	factors := map[Factor]float64{
		FactorSeverity:   severityFactor(ev.Severity),
		FactorTemporal:   temporalFactor(ev.Timestamp.Hour()),
		FactorCompliance: complianceFactor(ev.ComplianceFlags),
	}

	b := c.lookupBaseline(ctx, ev)
	factors[FactorGeographic] = geographicFactor(ev, b)
	factors[FactorDevice] = deviceFactor(ev, b)

	deviation := neutralBehavioralScore
	available := false
	if b != nil {
		deviation = anomaly.Deviation(b, ev, c.recentWindow(ctx, ev))
		available = true
	}
	factors[FactorBehavioral] = deviation

	var score float64
	for _, f := range allFactors {
		score += c.weights[f] * factors[f]
	}

	return Result{
		Score:               clamp01(score),
		Factors:             factors,
		BehavioralDeviation: deviation,
		BaselineAvailable:   available,
	}
}

func (c *Calculator) lookupBaseline(ctx context.Context, ev audit.Event) *baseline.Baseline {
	if c.baselines == nil || ev.SubjectID.IsNil() {
		return nil
	}
	b, err := c.baselines.Get(ctx, ev.SubjectID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) && c.logger != nil {
			c.logger.WarnContext(ctx, "baseline lookup failed, treating subject as unknown",
				"subject_id", ev.SubjectID,
				"error", err)
		}
		return nil
	}
	return b
}

func (c *Calculator) recentWindow(ctx context.Context, ev audit.Event) []audit.Event {
	if c.recent == nil || ev.SubjectID.IsNil() {
		return nil
	}
	window, err := c.recent.ListBySubject(ctx, ev.SubjectID, ev.Timestamp.Add(-recentWindowSpan), anomaly.WindowCap)
	if err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "recent activity lookup failed",
				"subject_id", ev.SubjectID,
				"error", err)
		}
		return nil
	}
	return window
}
