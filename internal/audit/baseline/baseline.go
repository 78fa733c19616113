// Package baseline maintains per-subject behavioral baselines: summaries of
// recent activity used to detect deviation. Baselines are read-only during
// scoring; recomputation happens out-of-band (see Recomputer) and must never
// block per-event work.
package baseline

import (
	"context"
	"slices"
	"time"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
)

// Baseline is a per-subject aggregate over a trailing window of activity.
type Baseline struct {
	SubjectID        id.SubjectID
	AvgEventsPerHour float64

	// Top-N summaries, most frequent first.
	TypicalEventTypes []audit.EventType
	TypicalHours      []int // hours of day, 0-23
	TypicalCountries  []string

	// KnownDevices holds the device fingerprints seen in the window.
	KnownDevices []string

	Window     time.Duration
	ComputedAt time.Time
}

// HasTypicalHour reports whether the hour is among the subject's usual
// active hours.
func (b *Baseline) HasTypicalHour(hour int) bool {
	return slices.Contains(b.TypicalHours, hour)
}

// HasTypicalCountry reports whether the country is in the subject's
// typical-location set.
func (b *Baseline) HasTypicalCountry(countryCode string) bool {
	return countryCode != "" && slices.Contains(b.TypicalCountries, countryCode)
}

// HasKnownDevice reports whether the fingerprint matches a device the
// subject used within the window.
func (b *Baseline) HasKnownDevice(fingerprint string) bool {
	return fingerprint != "" && slices.Contains(b.KnownDevices, fingerprint)
}

// HasTypicalType reports whether the event type is among the subject's most
// frequent types.
func (b *Baseline) HasTypicalType(t audit.EventType) bool {
	return slices.Contains(b.TypicalEventTypes, t)
}

// Store provides read access to baselines during scoring and write access
// for the recompute job. Get returns sentinel.ErrNotFound (wrapped) for
// subjects with no baseline yet.
type Store interface {
	Get(ctx context.Context, subjectID id.SubjectID) (*Baseline, error)
	Put(ctx context.Context, b *Baseline) error
}

// EventSource is the slice of the event store the recomputer needs. Defined
// here so the baseline package does not depend on a concrete store.
type EventSource interface {
	// ActiveSubjects lists subjects with at least one event since the cutoff.
	ActiveSubjects(ctx context.Context, since time.Time) ([]id.SubjectID, error)

	// ListBySubject returns the subject's events since the cutoff, newest
	// first, capped at limit.
	ListBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]audit.Event, error)
}
