package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
	derrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/sentinel"
)

func seedEvent(t *testing.T, s Store, ev audit.Event) audit.Event {
	t.Helper()
	if ev.ID.IsNil() {
		ev.ID = id.NewEventID()
	}
	require.NoError(t, s.Append(context.Background(), ev))
	return ev
}

func TestInMemoryStore_AppendAndGet(t *testing.T) {
	s := NewInMemoryStore()
	ev := seedEvent(t, s, audit.Event{
		Type:      audit.EventDataAccessed,
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Severity:  audit.SeverityMedium,
		Version:   5,
	})

	got, err := s.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = s.Get(context.Background(), id.NewEventID())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_AppendRejectsDuplicates(t *testing.T) {
	s := NewInMemoryStore()
	ev := seedEvent(t, s, audit.Event{Type: audit.EventDataAccessed})

	err := s.Append(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeConflict))
}

func TestInMemoryStore_SearchFilters(t *testing.T) {
	s := NewInMemoryStore()
	subjectID := id.SubjectID(uuid.New())
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	seedEvent(t, s, audit.Event{
		Type:      audit.EventFailedAuthentication,
		Timestamp: base,
		Severity:  audit.SeverityMedium,
		SubjectID: subjectID,
	})
	seedEvent(t, s, audit.Event{
		Type:            audit.EventDataExported,
		Timestamp:       base.Add(time.Hour),
		Severity:        audit.SeverityHigh,
		SubjectID:       subjectID,
		ComplianceFlags: []audit.ComplianceFlag{audit.FlagGDPRPersonalData},
	})
	seedEvent(t, s, audit.Event{
		Type:      audit.EventSystemStartup,
		Timestamp: base.Add(2 * time.Hour),
		Severity:  audit.SeverityLow,
	})

	t.Run("by type", func(t *testing.T) {
		page, err := s.Search(context.Background(), Query{
			Types: []audit.EventType{audit.EventDataExported},
		})
		require.NoError(t, err)
		require.Len(t, page.Events, 1)
		assert.Equal(t, audit.EventDataExported, page.Events[0].Type)
	})

	t.Run("by subject", func(t *testing.T) {
		page, err := s.Search(context.Background(), Query{SubjectID: subjectID})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("by time range", func(t *testing.T) {
		page, err := s.Search(context.Background(), Query{
			From: base.Add(30 * time.Minute),
			To:   base.Add(90 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, page.Events, 1)
		assert.Equal(t, audit.EventDataExported, page.Events[0].Type)
	})

	t.Run("by compliance flag", func(t *testing.T) {
		page, err := s.Search(context.Background(), Query{
			ComplianceFlags: []audit.ComplianceFlag{audit.FlagGDPRPersonalData},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("by severity", func(t *testing.T) {
		page, err := s.Search(context.Background(), Query{
			Severities: []audit.Severity{audit.SeverityHigh, audit.SeverityCritical},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("newest first by default", func(t *testing.T) {
		page, err := s.Search(context.Background(), Query{})
		require.NoError(t, err)
		require.Len(t, page.Events, 3)
		assert.Equal(t, audit.EventSystemStartup, page.Events[0].Type)
		assert.Equal(t, audit.EventFailedAuthentication, page.Events[2].Type)
	})
}

func TestInMemoryStore_SearchPagination(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range 7 {
		seedEvent(t, s, audit.Event{
			Type:      audit.EventDataAccessed,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page, err := s.Search(context.Background(), Query{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Len(t, page.Events, 3)

	page, err = s.Search(context.Background(), Query{Limit: 3, Offset: 6})
	require.NoError(t, err)
	assert.Len(t, page.Events, 1)

	page, err = s.Search(context.Background(), Query{Limit: 3, Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	assert.Equal(t, 7, page.Total)
}

func TestInMemoryStore_ListBySubject(t *testing.T) {
	s := NewInMemoryStore()
	subjectID := id.SubjectID(uuid.New())
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := range 5 {
		seedEvent(t, s, audit.Event{
			Type:      audit.EventDataAccessed,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			SubjectID: subjectID,
		})
	}
	seedEvent(t, s, audit.Event{
		Type:      audit.EventDataAccessed,
		Timestamp: base,
		SubjectID: id.SubjectID(uuid.New()),
	})

	events, err := s.ListBySubject(context.Background(), subjectID, base.Add(90*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first.
	assert.True(t, events[0].Timestamp.After(events[1].Timestamp))

	events, err = s.ListBySubject(context.Background(), subjectID, base, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestInMemoryStore_ActiveSubjects(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	active := id.SubjectID(uuid.New())
	stale := id.SubjectID(uuid.New())

	seedEvent(t, s, audit.Event{Timestamp: base, SubjectID: active})
	seedEvent(t, s, audit.Event{Timestamp: base, SubjectID: active})
	seedEvent(t, s, audit.Event{Timestamp: base.Add(-48 * time.Hour), SubjectID: stale})
	seedEvent(t, s, audit.Event{Timestamp: base}) // system event, no subject

	subjects, err := s.ActiveSubjects(context.Background(), base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, active, subjects[0])
}
