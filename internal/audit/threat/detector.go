// Package threat runs pattern-matching detection over a classified event
// and the subject's recent activity, producing an ordered indicator list.
// Detection is read-only: it never blocks on writes and degrades to fewer
// indicators when history is unavailable.
package threat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vigil/internal/audit"
	"vigil/internal/audit/anomaly"
	id "vigil/pkg/domain"
)

// Indicator type names, stable identifiers consumed by alerting.
const (
	IndicatorImpossibleTravel    = "impossible_travel"
	IndicatorBruteForce          = "brute_force_authentication"
	IndicatorPrivilegeEscalation = "privilege_escalation"
	IndicatorDataExfiltration    = "data_exfiltration"
	IndicatorOffHoursAccess      = "off_hours_sensitive_access"
)

const (
	// bruteForceThreshold is the failed-auth count in the lookback window
	// that flips the brute-force indicator.
	bruteForceThreshold = 5
	bruteForceLookback  = 15 * time.Minute

	historyLookback = 24 * time.Hour
	historyCap      = anomaly.WindowCap
)

// History supplies the subject's recent events, newest first. The event
// store satisfies this.
type History interface {
	ListBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]audit.Event, error)
}

// Detector scans events for threat patterns.
type Detector struct {
	history      History
	logger       *slog.Logger
	velocityKmh  float64
	offHoursFrom int
	offHoursTo   int
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// WithVelocityThreshold overrides the impossible-travel velocity in km/h.
func WithVelocityThreshold(kmh float64) Option {
	return func(d *Detector) {
		if kmh > 0 {
			d.velocityKmh = kmh
		}
	}
}

// NewDetector builds a Detector. history may be nil, which disables the
// detections that need prior activity.
func NewDetector(history History, opts ...Option) *Detector {
	d := &Detector{
		history:     history,
		velocityKmh: anomaly.DefaultImpossibleTravelKmh,
		// Sensitive off-hours window: 23:00 through 05:00.
		offHoursFrom: 23,
		offHoursTo:   5,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Detect scans the event. It never fails: a history lookup error only
// suppresses the history-based detections.
func (d *Detector) Detect(ctx context.Context, ev audit.Event) audit.ThreatDetection {
	var indicators []audit.ThreatIndicator

	recent := d.recentEvents(ctx, ev)

	if ind, ok := d.impossibleTravel(ev, recent); ok {
		indicators = append(indicators, ind)
	}
	if ind, ok := d.bruteForce(ev, recent); ok {
		indicators = append(indicators, ind)
	}
	if ind, ok := privilegeEscalation(ev); ok {
		indicators = append(indicators, ind)
	}
	if ind, ok := dataExfiltration(ev); ok {
		indicators = append(indicators, ind)
	}
	if ind, ok := d.offHoursAccess(ev); ok {
		indicators = append(indicators, ind)
	}

	return audit.ThreatDetection{
		Indicators: indicators,
		ScannedAt:  time.Now().UTC(),
	}
}

func (d *Detector) recentEvents(ctx context.Context, ev audit.Event) []audit.Event {
	if d.history == nil || ev.SubjectID.IsNil() {
		return nil
	}
	events, err := d.history.ListBySubject(ctx, ev.SubjectID, ev.Timestamp.Add(-historyLookback), historyCap)
	if err != nil {
		if d.logger != nil {
			d.logger.WarnContext(ctx, "threat history lookup failed, skipping history-based detections",
				"subject_id", ev.SubjectID,
				"error", err)
		}
		return nil
	}
	return events
}

// impossibleTravel compares the event's location against the subject's most
// recent geolocated event.
func (d *Detector) impossibleTravel(ev audit.Event, recent []audit.Event) (audit.ThreatIndicator, bool) {
	if ev.Geolocation == nil {
		return audit.ThreatIndicator{}, false
	}
	for _, prev := range recent {
		if prev.ID == ev.ID || prev.Geolocation == nil {
			continue
		}
		if !prev.Timestamp.Before(ev.Timestamp) {
			continue
		}
		impossible, kmh := anomaly.ImpossibleTravel(*prev.Geolocation, prev.Timestamp, *ev.Geolocation, ev.Timestamp, d.velocityKmh)
		if !impossible {
			return audit.ThreatIndicator{}, false
		}
		return audit.ThreatIndicator{
			Type:       IndicatorImpossibleTravel,
			Severity:   audit.SeverityHigh,
			Confidence: 0.95,
			Detail:     fmt.Sprintf("%.0f km/h between %s and %s", kmh, prev.Geolocation.CountryCode, ev.Geolocation.CountryCode),
		}, true
	}
	return audit.ThreatIndicator{}, false
}

func (d *Detector) bruteForce(ev audit.Event, recent []audit.Event) (audit.ThreatIndicator, bool) {
	if ev.Type != audit.EventFailedAuthentication {
		return audit.ThreatIndicator{}, false
	}
	cutoff := ev.Timestamp.Add(-bruteForceLookback)
	failures := 1 // the event under scan
	for _, prev := range recent {
		if prev.ID == ev.ID || prev.Type != audit.EventFailedAuthentication {
			continue
		}
		if prev.Timestamp.Before(cutoff) {
			continue
		}
		failures++
	}
	if failures < bruteForceThreshold {
		return audit.ThreatIndicator{}, false
	}
	return audit.ThreatIndicator{
		Type:       IndicatorBruteForce,
		Severity:   audit.SeverityHigh,
		Confidence: 0.85,
		Detail:     fmt.Sprintf("%d failed authentications in %s", failures, bruteForceLookback),
	}, true
}

func privilegeEscalation(ev audit.Event) (audit.ThreatIndicator, bool) {
	if ev.Type != audit.EventPrivilegeEscalation {
		return audit.ThreatIndicator{}, false
	}
	return audit.ThreatIndicator{
		Type:       IndicatorPrivilegeEscalation,
		Severity:   audit.SeverityCritical,
		Confidence: 0.9,
	}, true
}

func dataExfiltration(ev audit.Event) (audit.ThreatIndicator, bool) {
	if ev.Type != audit.EventDataExported {
		return audit.ThreatIndicator{}, false
	}
	if !ev.Severity.AtLeast(audit.SeverityHigh) {
		return audit.ThreatIndicator{}, false
	}
	return audit.ThreatIndicator{
		Type:       IndicatorDataExfiltration,
		Severity:   audit.SeverityHigh,
		Confidence: 0.6,
		Detail:     "bulk export of regulated data",
	}, true
}

// offHoursAccess flags sensitive-data events in the dead of night.
func (d *Detector) offHoursAccess(ev audit.Event) (audit.ThreatIndicator, bool) {
	sensitive := false
	for _, f := range ev.ComplianceFlags {
		if f == audit.FlagSensitiveDataAccess {
			sensitive = true
			break
		}
	}
	if !sensitive {
		return audit.ThreatIndicator{}, false
	}
	hour := ev.Timestamp.Hour()
	if hour < d.offHoursFrom && hour > d.offHoursTo {
		return audit.ThreatIndicator{}, false
	}
	return audit.ThreatIndicator{
		Type:       IndicatorOffHoursAccess,
		Severity:   audit.SeverityMedium,
		Confidence: 0.5,
		Detail:     fmt.Sprintf("sensitive data access at %02d:00 UTC", hour),
	}, true
}
