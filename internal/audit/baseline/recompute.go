package baseline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
)

const (
	// DefaultWindow is the trailing window a baseline summarizes.
	DefaultWindow = 30 * 24 * time.Hour

	// topN caps the typical-types/hours/countries summaries.
	topN = 5

	// recomputeEventCap bounds how many events feed a single baseline.
	recomputeEventCap = 1000

	// recomputeConcurrency bounds parallel per-subject recomputation.
	recomputeConcurrency = 4
)

// Recomputer rebuilds baselines from the event store on an interval. It is
// the only writer of baselines; scoring paths only read. A slow or failing
// recompute degrades baseline freshness, never per-event latency.
type Recomputer struct {
	events    EventSource
	baselines Store
	logger    *slog.Logger
	interval  time.Duration
	window    time.Duration
}

// NewRecomputer builds a recompute job with the given cadence.
func NewRecomputer(events EventSource, baselines Store, logger *slog.Logger, interval time.Duration) *Recomputer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Recomputer{
		events:    events,
		baselines: baselines,
		logger:    logger,
		interval:  interval,
		window:    DefaultWindow,
	}
}

// Run recomputes baselines on the configured interval until ctx is
// cancelled. Errors are logged and the loop continues; one bad cycle must
// not stop the job.
func (r *Recomputer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RecomputeAll(ctx); err != nil {
				if r.logger != nil {
					r.logger.ErrorContext(ctx, "baseline recompute cycle failed", "error", err)
				}
			}
		}
	}
}

// RecomputeAll rebuilds baselines for every subject active in the window,
// with bounded concurrency.
func (r *Recomputer) RecomputeAll(ctx context.Context) error {
	since := time.Now().Add(-r.window)
	subjects, err := r.events.ActiveSubjects(ctx, since)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(recomputeConcurrency)
	for _, subjectID := range subjects {
		g.Go(func() error {
			return r.RecomputeSubject(ctx, subjectID)
		})
	}
	return g.Wait()
}

// RecomputeSubject rebuilds one subject's baseline from its recent events.
// Subjects with no events in the window keep their previous baseline.
func (r *Recomputer) RecomputeSubject(ctx context.Context, subjectID id.SubjectID) error {
	since := time.Now().Add(-r.window)
	events, err := r.events.ListBySubject(ctx, subjectID, since, recomputeEventCap)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	typeCounts := make(map[string]int)
	hourCounts := make(map[int]int)
	countryCounts := make(map[string]int)
	deviceSet := make(map[string]struct{})

	for _, ev := range events {
		typeCounts[string(ev.Type)]++
		hourCounts[ev.Timestamp.UTC().Hour()]++
		if ev.Geolocation != nil && ev.Geolocation.CountryCode != "" {
			countryCounts[ev.Geolocation.CountryCode]++
		}
		if ev.DeviceFingerprint != "" {
			deviceSet[ev.DeviceFingerprint] = struct{}{}
		}
	}

	b := &Baseline{
		SubjectID:        subjectID,
		AvgEventsPerHour: float64(len(events)) / r.window.Hours(),
		TypicalHours:     topNInts(hourCounts),
		TypicalCountries: topNStrings(countryCounts),
		KnownDevices:     setToSlice(deviceSet),
		Window:           r.window,
		ComputedAt:       time.Now().UTC(),
	}
	for _, t := range topNStrings(typeCounts) {
		b.TypicalEventTypes = append(b.TypicalEventTypes, audit.EventType(t))
	}

	return r.baselines.Put(ctx, b)
}

func topNStrings(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j] // stable order for equal counts
	})
	if len(keys) > topN {
		keys = keys[:topN]
	}
	return keys
}

func topNInts(counts map[int]int) []int {
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > topN {
		keys = keys[:topN]
	}
	return keys
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
