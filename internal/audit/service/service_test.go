package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"vigil/internal/audit"
	"vigil/internal/audit/bus"
	"vigil/internal/audit/classifier"
	"vigil/internal/audit/risk"
	"vigil/internal/audit/service/mocks"
	"vigil/internal/audit/store"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/requestcontext"
)

type fixtures struct {
	pipeline *mocks.MockPipeline
	verifier *mocks.MockVerifier
	events   *mocks.MockEventStore
	bus      *bus.InMemoryBus
}

func newTestService(t *testing.T, opts ...Option) (*Service, fixtures) {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := fixtures{
		pipeline: mocks.NewMockPipeline(ctrl),
		verifier: mocks.NewMockVerifier(ctrl),
		events:   mocks.NewMockEventStore(ctrl),
		bus:      bus.NewInMemoryBus(),
	}
	return New(f.pipeline, f.verifier, f.events, f.bus, opts...), f
}

func requestCtx(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.4", "Mozilla/5.0")
	ctx = requestcontext.WithSessionID(ctx, id.SessionID(uuid.New()))
	ctx = requestcontext.WithTime(ctx, time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC))
	return ctx
}

// enrich mirrors what a full pipeline run attaches, so the persisted
// event carries the metadata RecordEvent inspects afterwards.
func enrich(ev audit.Event, score float64, indicators ...audit.ThreatIndicator) audit.Event {
	ev = ev.WithSecurityAnalysis(audit.SecurityAnalysis{
		RiskScore:         score,
		RiskFactors:       map[string]float64{"severity": 0.3},
		BaselineAvailable: true,
	})
	ev = ev.WithThreatDetection(audit.ThreatDetection{
		Indicators: indicators,
		ScannedAt:  ev.Timestamp,
	})
	return ev
}

func TestRecordEvent_Success(t *testing.T) {
	svc, f := newTestService(t)
	ctx := requestCtx(t)

	f.pipeline.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev audit.Event) (audit.Event, error) {
			return enrich(ev, 0.28), nil
		})
	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

	subject := &classifier.Subject{ID: id.SubjectID(uuid.New()), Role: id.SubjectRoleUser}
	final, err := svc.RecordEvent(ctx, RecordRequest{
		EventType: audit.EventSuccessfulAuthentication,
		Subject:   subject,
		Details:   map[string]any{"method": "password"},
	})
	require.NoError(t, err)

	assert.Equal(t, audit.EventSuccessfulAuthentication, final.Type)
	assert.Equal(t, subject.ID, final.SubjectID)
	assert.Equal(t, "203.0.113.4", final.IPAddress)
	assert.InDelta(t, 0.28, final.RiskScore(), 1e-9)

	recorded := f.bus.Recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, final.ID.String(), recorded[0].ID)
	assert.Empty(t, f.bus.Compliance(), "no compliance flags, no compliance notification")
	assert.Empty(t, f.bus.Threats())
}

func TestRecordEvent_PublishesComplianceForFlaggedTypes(t *testing.T) {
	svc, f := newTestService(t)
	ctx := requestCtx(t)

	f.pipeline.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev audit.Event) (audit.Event, error) {
			return enrich(ev, 0.4), nil
		})
	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

	_, err := svc.RecordEvent(ctx, RecordRequest{
		EventType: audit.EventDataExported,
		Subject:   &classifier.Subject{ID: id.SubjectID(uuid.New()), Role: "admin"},
		Details:   map[string]any{"rows": 1200},
	})
	require.NoError(t, err)

	compliance := f.bus.Compliance()
	require.Len(t, compliance, 1)
	assert.Contains(t, compliance[0].ComplianceFlags, string(audit.FlagGDPRPersonalData))
}

func TestRecordEvent_RejectsInvalidInput(t *testing.T) {
	svc, f := newTestService(t)
	ctx := requestCtx(t)

	_, err := svc.RecordEvent(ctx, RecordRequest{
		EventType: "",
		Details:   map[string]any{},
	})
	require.ErrorIs(t, err, audit.ErrInvalidEvent)

	_, err = svc.RecordEvent(ctx, RecordRequest{
		EventType: audit.EventDataAccessed,
		Details:   nil,
	})
	require.ErrorIs(t, err, audit.ErrInvalidEvent)

	assert.Empty(t, f.bus.Recorded(), "rejected events must not be announced")
}

func TestRecordEvent_IntegrityFailureIsNotPersisted(t *testing.T) {
	svc, f := newTestService(t)
	ctx := requestCtx(t)

	f.pipeline.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		Return(audit.Event{}, &audit.IntegrityError{Completeness: 0.75, Degraded: []string{"signing"}})

	_, err := svc.RecordEvent(ctx, RecordRequest{
		EventType: audit.EventFailedAuthentication,
		Subject:   &classifier.Subject{ID: id.SubjectID(uuid.New()), Role: "user"},
		Details:   map[string]any{},
	})

	var integrityErr *audit.IntegrityError
	require.ErrorAs(t, err, &integrityErr)
	assert.Empty(t, f.bus.Recorded())
}

func TestRecordEvent_StorageFailurePropagates(t *testing.T) {
	svc, f := newTestService(t)
	ctx := requestCtx(t)

	f.pipeline.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev audit.Event) (audit.Event, error) {
			return enrich(ev, 0.3), nil
		})
	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("primary and fallback down"))

	_, err := svc.RecordEvent(ctx, RecordRequest{
		EventType: audit.EventDataAccessed,
		Subject:   &classifier.Subject{ID: id.SubjectID(uuid.New()), Role: "user"},
		Details:   map[string]any{},
	})
	require.Error(t, err)
	assert.Empty(t, f.bus.Recorded(), "unpersisted events must not be announced")
}

func TestRecordEvent_ComplianceNotificationIsFailClosed(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipeline := mocks.NewMockPipeline(ctrl)
	verifier := mocks.NewMockVerifier(ctrl)
	events := mocks.NewMockEventStore(ctrl)
	pub := &complianceFailingBus{InMemoryBus: bus.NewInMemoryBus()}
	svc := New(pipeline, verifier, events, pub)
	ctx := requestCtx(t)

	pipeline.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev audit.Event) (audit.Event, error) {
			return enrich(ev, 0.4), nil
		})
	events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

	_, err := svc.RecordEvent(ctx, RecordRequest{
		EventType: audit.EventDataExported,
		Subject:   &classifier.Subject{ID: id.SubjectID(uuid.New()), Role: "admin"},
		Details:   map[string]any{},
	})
	require.ErrorContains(t, err, "publish compliance event")
}

func TestRecordEvent_ThreatAlertFailureIsBestEffort(t *testing.T) {
	ctrl := gomock.NewController(t)
	pipeline := mocks.NewMockPipeline(ctrl)
	verifier := mocks.NewMockVerifier(ctrl)
	events := mocks.NewMockEventStore(ctrl)
	pub := &threatFailingBus{InMemoryBus: bus.NewInMemoryBus()}
	svc := New(pipeline, verifier, events, pub)
	ctx := requestCtx(t)

	pipeline.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev audit.Event) (audit.Event, error) {
			return enrich(ev, 0.9, audit.ThreatIndicator{
				Type:       "impossible_travel",
				Severity:   audit.SeverityHigh,
				Confidence: 0.95,
			}), nil
		})
	events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

	final, err := svc.RecordEvent(ctx, RecordRequest{
		EventType: audit.EventSuccessfulAuthentication,
		Subject:   &classifier.Subject{ID: id.SubjectID(uuid.New()), Role: "user"},
		Details:   map[string]any{},
	})
	require.NoError(t, err, "a lost alert must not fail the ingestion")
	assert.True(t, final.RequiresImmediateAlert())
}

func TestRecordEvent_CachesRiskResult(t *testing.T) {
	cache := &recordingRiskCache{}
	svc, f := newTestService(t, WithRiskCache(cache))
	ctx := requestCtx(t)

	f.pipeline.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev audit.Event) (audit.Event, error) {
			return enrich(ev, 0.28), nil
		})
	f.events.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

	final, err := svc.RecordEvent(ctx, RecordRequest{
		EventType: audit.EventSuccessfulAuthentication,
		Subject:   &classifier.Subject{ID: id.SubjectID(uuid.New()), Role: "user"},
		Details:   map[string]any{},
	})
	require.NoError(t, err)

	require.Len(t, cache.puts, 1)
	assert.Equal(t, final.ID, cache.puts[0].id)
	assert.InDelta(t, 0.28, cache.puts[0].result.Score, 1e-9)
	assert.True(t, cache.puts[0].result.BaselineAvailable)
}

func TestEventRisk_ServedFromCache(t *testing.T) {
	eventID := id.NewEventID()
	cached := risk.Result{
		Score:             0.64,
		Factors:           map[risk.Factor]float64{risk.FactorSeverity: 0.8},
		BaselineAvailable: true,
	}
	cache := &recordingRiskCache{entries: map[id.EventID]risk.Result{eventID: cached}}
	svc, _ := newTestService(t, WithRiskCache(cache))

	// No Get expectation on the store: a cache hit must not touch it.
	result, err := svc.EventRisk(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, cached, result)
	assert.Empty(t, cache.puts)
}

func TestEventRisk_MissFallsBackToStore(t *testing.T) {
	cache := &recordingRiskCache{}
	svc, f := newTestService(t, WithRiskCache(cache))

	eventID := id.NewEventID()
	ev := enrich(audit.Event{ID: eventID, Type: audit.EventDataAccessed, Version: 1}, 0.42)
	f.events.EXPECT().Get(gomock.Any(), eventID).Return(ev, nil)

	result, err := svc.EventRisk(context.Background(), eventID)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, result.Score, 1e-9)
	assert.InDelta(t, 0.3, result.Factors[risk.FactorSeverity], 1e-9)
	assert.True(t, result.BaselineAvailable)

	// The miss backfills the cache for the next lookup.
	require.Len(t, cache.puts, 1)
	assert.Equal(t, eventID, cache.puts[0].id)
}

func TestEventRisk_UnanalyzedEventIsNotFound(t *testing.T) {
	svc, f := newTestService(t)

	eventID := id.NewEventID()
	f.events.EXPECT().Get(gomock.Any(), eventID).
		Return(audit.Event{ID: eventID, Type: audit.EventDataAccessed, Version: 1}, nil)

	_, err := svc.EventRisk(context.Background(), eventID)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestQuery_ServesFromCacheUntilInvalidated(t *testing.T) {
	cache := newStubQueryCache()
	svc, f := newTestService(t, WithQueryCache(cache))
	ctx := context.Background()

	q := store.Query{Types: []audit.EventType{audit.EventDataExported}}
	page := store.Page{Total: 3, Limit: store.DefaultLimit}

	f.events.EXPECT().Search(gomock.Any(), q.Normalize()).Return(page, nil).Times(1)

	first, err := svc.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, page, first)

	// Second identical query is served without touching the store.
	second, err := svc.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, page, second)
	assert.Equal(t, 1, cache.hits)
}

func TestQuery_NormalizesBeforeLookup(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()

	f.events.EXPECT().
		Search(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q store.Query) (store.Page, error) {
			assert.Equal(t, store.DefaultLimit, q.Limit)
			return store.Page{Limit: q.Limit}, nil
		})

	_, err := svc.Query(ctx, store.Query{})
	require.NoError(t, err)
}

func TestVerifyEvent_Valid(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()

	eventID := id.NewEventID()
	ev := audit.Event{ID: eventID, Type: audit.EventDataAccessed, Version: 1}
	signed, err := ev.WithSignature(audit.SigningResult{
		Signature: "00ff",
		KeyID:     "2025-06",
		Algorithm: "HMAC-SHA256",
	})
	require.NoError(t, err)

	f.events.EXPECT().Get(gomock.Any(), eventID).Return(signed, nil)
	f.verifier.EXPECT().Verify(gomock.Any(), signed).Return(true, nil)

	result, err := svc.VerifyEvent(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "2025-06", result.KeyID)
	assert.Equal(t, "HMAC-SHA256", result.Algorithm)
	assert.Empty(t, f.bus.Threats())
}

func TestVerifyEvent_MismatchIsAFindingNotAnError(t *testing.T) {
	cache := &recordingRiskCache{}
	svc, f := newTestService(t, WithRiskCache(cache))
	ctx := context.Background()

	eventID := id.NewEventID()
	subjectID := id.SubjectID(uuid.New())
	ev := audit.Event{ID: eventID, Type: audit.EventDataAccessed, SubjectID: subjectID, Version: 1}
	signed, err := ev.WithSignature(audit.SigningResult{
		Signature: "00ff",
		KeyID:     "2025-06",
		Algorithm: "HMAC-SHA256",
	})
	require.NoError(t, err)

	f.events.EXPECT().Get(gomock.Any(), eventID).Return(signed, nil)
	f.verifier.EXPECT().Verify(gomock.Any(), signed).Return(false, nil)

	result, err := svc.VerifyEvent(ctx, eventID)
	require.NoError(t, err)
	assert.False(t, result.Valid)

	threats := f.bus.Threats()
	require.Len(t, threats, 1, "a failed verification is a tampering signal")
	assert.Equal(t, eventID.String(), threats[0].ID)
	assert.Equal(t, string(audit.SeverityCritical), threats[0].ThreatLevel)
	assert.Equal(t, subjectID.String(), threats[0].SubjectID)
	assert.Equal(t, []id.EventID{eventID}, cache.invalidated,
		"a tampered event's cached assessment must be dropped")
}

func TestVerifyEvent_UnknownEvent(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()

	eventID := id.NewEventID()
	f.events.EXPECT().Get(gomock.Any(), eventID).Return(audit.Event{}, errors.New("not found"))

	_, err := svc.VerifyEvent(ctx, eventID)
	require.Error(t, err)
}

// test doubles

type complianceFailingBus struct {
	*bus.InMemoryBus
}

func (b *complianceFailingBus) PublishCompliance(context.Context, bus.ComplianceEvent) error {
	return errors.New("broker unavailable")
}

type threatFailingBus struct {
	*bus.InMemoryBus
}

func (b *threatFailingBus) PublishThreat(context.Context, bus.ThreatEvent) error {
	return errors.New("broker unavailable")
}

type riskCachePut struct {
	id     id.EventID
	result risk.Result
}

type recordingRiskCache struct {
	entries     map[id.EventID]risk.Result
	puts        []riskCachePut
	invalidated []id.EventID
}

func (c *recordingRiskCache) Get(_ context.Context, eventID id.EventID) (risk.Result, bool, error) {
	r, ok := c.entries[eventID]
	return r, ok, nil
}

func (c *recordingRiskCache) Put(_ context.Context, eventID id.EventID, r risk.Result) error {
	c.puts = append(c.puts, riskCachePut{id: eventID, result: r})
	return nil
}

func (c *recordingRiskCache) Invalidate(_ context.Context, eventID id.EventID) error {
	c.invalidated = append(c.invalidated, eventID)
	return nil
}

type stubQueryCache struct {
	entries map[string]store.Page
	hits    int
}

func newStubQueryCache() *stubQueryCache {
	return &stubQueryCache{entries: make(map[string]store.Page)}
}

func (c *stubQueryCache) Get(_ context.Context, q store.Query) (store.Page, bool) {
	page, ok := c.entries[queryKeyOf(q)]
	if ok {
		c.hits++
	}
	return page, ok
}

func (c *stubQueryCache) Put(_ context.Context, q store.Query, page store.Page) {
	c.entries[queryKeyOf(q)] = page
}

func (c *stubQueryCache) InvalidateAll(context.Context) {
	c.entries = make(map[string]store.Page)
}

func queryKeyOf(q store.Query) string {
	raw, _ := json.Marshal(q)
	return string(raw)
}
