// Package anomaly holds the pure detection functions: behavioral deviation
// from a subject's baseline, and geographic velocity (impossible travel).
// Both are deterministic over their inputs; callers own data access.
package anomaly

import (
	"time"

	"vigil/internal/audit"
	"vigil/internal/audit/baseline"
)

// Fixed penalties for categorical deviations.
const (
	timeAnomalyPenalty = 0.8
	geoAnomalyPenalty  = 0.9
)

// WindowCap bounds how many recent events feed a deviation computation.
const WindowCap = 50

// Deviation computes a [0,1] behavioral deviation score for an event against
// the subject's baseline, given a window of the subject's most recent events
// (last 24h, capped at WindowCap). Four sub-anomalies are averaged:
// frequency, event-type overlap, hour-of-day, and location.
//
// Callers must not pass an empty baseline; a subject with no history is the
// neutral-unknown case handled by the risk calculator, not here.
func Deviation(b *baseline.Baseline, ev audit.Event, window []audit.Event) float64 {
	if len(window) > WindowCap {
		window = window[:WindowCap]
	}

	sum := frequencyAnomaly(b, ev.Timestamp, window)
	sum += typeAnomaly(b, window)
	sum += timeAnomaly(b, ev.Timestamp)
	sum += geoAnomaly(b, ev)

	return clamp01(sum / 4)
}

// frequencyAnomaly measures how far the current hour's event rate sits from
// the baseline average: |current/avg - 1|, scaled by 2 so a doubling or
// halving of activity saturates the signal.
func frequencyAnomaly(b *baseline.Baseline, now time.Time, window []audit.Event) float64 {
	if b.AvgEventsPerHour <= 0 {
		return 0
	}

	hourAgo := now.Add(-time.Hour)
	var currentHourCount int
	for _, ev := range window {
		if !ev.Timestamp.Before(hourAgo) && !ev.Timestamp.After(now) {
			currentHourCount++
		}
	}

	ratio := float64(currentHourCount) / b.AvgEventsPerHour
	deviation := ratio - 1
	if deviation < 0 {
		deviation = -deviation
	}
	return clamp01(deviation * 2)
}

// typeAnomaly is the overlap deficit between the baseline's typical event
// types and the types seen in the current window.
func typeAnomaly(b *baseline.Baseline, window []audit.Event) float64 {
	if len(b.TypicalEventTypes) == 0 {
		return 0
	}

	current := make(map[audit.EventType]struct{}, len(window))
	for _, ev := range window {
		current[ev.Type] = struct{}{}
	}

	var overlap int
	for _, t := range b.TypicalEventTypes {
		if _, ok := current[t]; ok {
			overlap++
		}
	}
	return 1 - float64(overlap)/float64(len(b.TypicalEventTypes))
}

// timeAnomaly penalizes activity outside the subject's usual hours.
func timeAnomaly(b *baseline.Baseline, now time.Time) float64 {
	if len(b.TypicalHours) == 0 {
		return 0
	}
	if b.HasTypicalHour(now.UTC().Hour()) {
		return 0
	}
	return timeAnomalyPenalty
}

// geoAnomaly penalizes activity from outside the subject's typical countries.
// Events without geolocation carry no geographic signal.
func geoAnomaly(b *baseline.Baseline, ev audit.Event) float64 {
	if ev.Geolocation == nil || ev.Geolocation.CountryCode == "" {
		return 0
	}
	if len(b.TypicalCountries) == 0 {
		return 0
	}
	if b.HasTypicalCountry(ev.Geolocation.CountryCode) {
		return 0
	}
	return geoAnomalyPenalty
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
