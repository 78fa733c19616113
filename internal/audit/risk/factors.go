// Package risk computes the composite risk score for a classified event:
// six independent [0,1] factor scores combined by a fixed weighted sum.
// Weights and lookup values are configuration, not a tuned model.
package risk

import (
	"vigil/internal/audit"
	"vigil/internal/audit/baseline"
)

// Factor names the six risk signals.
type Factor string

const (
	FactorSeverity   Factor = "severity"
	FactorBehavioral Factor = "behavioral"
	FactorTemporal   Factor = "temporal"
	FactorGeographic Factor = "geographic"
	FactorDevice     Factor = "device"
	FactorCompliance Factor = "compliance"
)

// allFactors fixes the summation order. Float addition is not associative,
// so ranging over the weights map would make the composite vary in the
// last bits between runs.
var allFactors = []Factor{
	FactorSeverity,
	FactorBehavioral,
	FactorTemporal,
	FactorGeographic,
	FactorDevice,
	FactorCompliance,
}

// Weights maps each factor to its share of the composite score.
type Weights map[Factor]float64

// DefaultWeights returns the standard weighting (sums to 1.0).
func DefaultWeights() Weights {
	return Weights{
		FactorSeverity:   0.25,
		FactorBehavioral: 0.30,
		FactorTemporal:   0.10,
		FactorGeographic: 0.15,
		FactorDevice:     0.10,
		FactorCompliance: 0.10,
	}
}

// neutralBehavioralScore is used when a subject has no baseline: unknown
// behavior is neither safe nor suspicious.
const neutralBehavioralScore = 0.5

// severityScores is the direct severity lookup.
var severityScores = map[audit.Severity]float64{
	audit.SeverityLow:      0.1,
	audit.SeverityMedium:   0.3,
	audit.SeverityHigh:     0.7,
	audit.SeverityCritical: 0.9,
}

// sensitiveFlags marks compliance flags that elevate the compliance factor.
var sensitiveFlags = map[audit.ComplianceFlag]struct{}{
	audit.FlagGDPRPersonalData:    {},
	audit.FlagCCPAPersonalInfo:    {},
	audit.FlagSensitiveDataAccess: {},
}

func severityFactor(s audit.Severity) float64 {
	if score, ok := severityScores[s]; ok {
		return score
	}
	return 0.2
}

// temporalFactor buckets by hour of day: business hours are routine,
// evenings slightly elevated, night distinctly unusual.
func temporalFactor(hour int) float64 {
	switch {
	case hour >= 9 && hour <= 17:
		return 0.1
	case hour >= 18 && hour <= 22:
		return 0.3
	case hour >= 0 && hour <= 23:
		return 0.6
	default:
		return 0.2
	}
}

// geographicFactor scores the event's country against the subject's
// typical-location set. Events without geolocation carry no signal.
func geographicFactor(ev audit.Event, b *baseline.Baseline) float64 {
	if ev.Geolocation == nil || ev.Geolocation.CountryCode == "" {
		return 0.1
	}
	if b != nil && b.HasTypicalCountry(ev.Geolocation.CountryCode) {
		return 0.1
	}
	return 0.7
}

// deviceFactor scores the event's device fingerprint against the subject's
// known devices.
func deviceFactor(ev audit.Event, b *baseline.Baseline) float64 {
	if ev.DeviceFingerprint == "" {
		return 0.1
	}
	if b != nil && b.HasKnownDevice(ev.DeviceFingerprint) {
		return 0.1
	}
	return 0.8
}

// complianceFactor elevates events tagged with sensitive regulation flags.
func complianceFactor(flags []audit.ComplianceFlag) float64 {
	for _, f := range flags {
		if _, ok := sensitiveFlags[f]; ok {
			return 0.6
		}
	}
	return 0.2
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
