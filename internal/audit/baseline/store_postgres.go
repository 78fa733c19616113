package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// PostgresStore persists baselines in the behavioral_baselines table.
// Upserts are keyed on subject_id so the recomputer can overwrite in place.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, subjectID id.SubjectID) (*Baseline, error) {
	query := `
		SELECT avg_events_per_hour, typical_event_types, typical_hours,
		       typical_countries, known_devices, window_seconds, computed_at
		FROM behavioral_baselines
		WHERE subject_id = $1
	`

	var (
		b             Baseline
		types         []string
		windowSeconds int64
	)
	err := s.pool.QueryRow(ctx, query, uuid.UUID(subjectID)).Scan(
		&b.AvgEventsPerHour,
		&types,
		&b.TypicalHours,
		&b.TypicalCountries,
		&b.KnownDevices,
		&windowSeconds,
		&b.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("baseline for subject %s: %w", subjectID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("query baseline: %w", err)
	}

	b.SubjectID = subjectID
	b.Window = time.Duration(windowSeconds) * time.Second
	b.TypicalEventTypes = make([]audit.EventType, len(types))
	for i, t := range types {
		b.TypicalEventTypes[i] = audit.EventType(t)
	}
	return &b, nil
}

func (s *PostgresStore) Put(ctx context.Context, b *Baseline) error {
	query := `
		INSERT INTO behavioral_baselines (
			subject_id, avg_events_per_hour, typical_event_types, typical_hours,
			typical_countries, known_devices, window_seconds, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id) DO UPDATE SET
			avg_events_per_hour = EXCLUDED.avg_events_per_hour,
			typical_event_types = EXCLUDED.typical_event_types,
			typical_hours       = EXCLUDED.typical_hours,
			typical_countries   = EXCLUDED.typical_countries,
			known_devices       = EXCLUDED.known_devices,
			window_seconds      = EXCLUDED.window_seconds,
			computed_at         = EXCLUDED.computed_at
	`

	types := make([]string, len(b.TypicalEventTypes))
	for i, t := range b.TypicalEventTypes {
		types[i] = string(t)
	}

	_, err := s.pool.Exec(ctx, query,
		uuid.UUID(b.SubjectID),
		b.AvgEventsPerHour,
		types,
		b.TypicalHours,
		b.TypicalCountries,
		b.KnownDevices,
		int64(b.Window/time.Second),
		b.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return nil
}
