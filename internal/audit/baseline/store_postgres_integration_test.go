//go:build integration

package baseline_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"vigil/internal/audit"
	"vigil/internal/audit/baseline"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/testutil/containers"
)

const baselinesSchema = `
	CREATE TABLE IF NOT EXISTS behavioral_baselines (
		subject_id          UUID PRIMARY KEY,
		avg_events_per_hour DOUBLE PRECISION NOT NULL,
		typical_event_types TEXT[],
		typical_hours       INTEGER[],
		typical_countries   TEXT[],
		known_devices       TEXT[],
		window_seconds      BIGINT NOT NULL,
		computed_at         TIMESTAMPTZ NOT NULL
	);
`

type PostgresBaselineSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	pool     *pgxpool.Pool
	store    *baseline.PostgresStore
}

func TestPostgresBaselineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresBaselineSuite))
}

func (s *PostgresBaselineSuite) SetupSuite() {
	ctx := context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())

	_, err := s.postgres.DB.ExecContext(ctx, baselinesSchema)
	s.Require().NoError(err)

	s.pool, err = pgxpool.New(ctx, s.postgres.DSN)
	s.Require().NoError(err)

	s.store = baseline.NewPostgresStore(s.pool)
}

func (s *PostgresBaselineSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.postgres != nil {
		_ = s.postgres.Terminate(context.Background())
	}
}

func (s *PostgresBaselineSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "behavioral_baselines")
	s.Require().NoError(err)
}

func (s *PostgresBaselineSuite) TestPutAndGetRoundTrip() {
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())

	want := &baseline.Baseline{
		SubjectID:        subjectID,
		AvgEventsPerHour: 3.25,
		TypicalEventTypes: []audit.EventType{
			audit.EventSuccessfulAuthentication,
			audit.EventDataAccessed,
		},
		TypicalHours:     []int{8, 9, 10, 14},
		TypicalCountries: []string{"DE", "NL"},
		KnownDevices:     []string{"a1b2c3d4", "e5f6a7b8"},
		Window:           30 * 24 * time.Hour,
		ComputedAt:       time.Date(2025, 6, 12, 4, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.Put(ctx, want))

	got, err := s.store.Get(ctx, subjectID)
	s.Require().NoError(err)
	s.Equal(want.SubjectID, got.SubjectID)
	s.InDelta(want.AvgEventsPerHour, got.AvgEventsPerHour, 1e-9)
	s.Equal(want.TypicalEventTypes, got.TypicalEventTypes)
	s.Equal(want.TypicalHours, got.TypicalHours)
	s.Equal(want.TypicalCountries, got.TypicalCountries)
	s.Equal(want.KnownDevices, got.KnownDevices)
	s.Equal(want.Window, got.Window)
	s.True(want.ComputedAt.Equal(got.ComputedAt))
}

func (s *PostgresBaselineSuite) TestPutOverwritesInPlace() {
	ctx := context.Background()
	subjectID := id.SubjectID(uuid.New())

	first := &baseline.Baseline{
		SubjectID:         subjectID,
		AvgEventsPerHour:  1.0,
		TypicalEventTypes: []audit.EventType{audit.EventSuccessfulAuthentication},
		TypicalHours:      []int{9},
		TypicalCountries:  []string{"DE"},
		Window:            7 * 24 * time.Hour,
		ComputedAt:        time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.Put(ctx, first))

	second := &baseline.Baseline{
		SubjectID:         subjectID,
		AvgEventsPerHour:  2.5,
		TypicalEventTypes: []audit.EventType{audit.EventDataExported},
		TypicalHours:      []int{22, 23},
		TypicalCountries:  []string{"US"},
		KnownDevices:      []string{"c9d0e1f2"},
		Window:            30 * 24 * time.Hour,
		ComputedAt:        time.Date(2025, 6, 12, 4, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.Put(ctx, second))

	got, err := s.store.Get(ctx, subjectID)
	s.Require().NoError(err)
	s.InDelta(2.5, got.AvgEventsPerHour, 1e-9)
	s.Equal([]audit.EventType{audit.EventDataExported}, got.TypicalEventTypes)
	s.Equal([]string{"US"}, got.TypicalCountries)
	s.Equal(30*24*time.Hour, got.Window)
}

func (s *PostgresBaselineSuite) TestGetUnknownSubject() {
	_, err := s.store.Get(context.Background(), id.SubjectID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
