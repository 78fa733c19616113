package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"vigil/internal/audit"
	"vigil/internal/audit/handler/mocks"
	"vigil/internal/audit/risk"
	"vigil/internal/audit/service"
	"vigil/internal/audit/store"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

func newTestHandler(t *testing.T) (*chi.Mux, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(mockService, logger).Register(r)
	return r, mockService
}

func sampleEvent(t *testing.T) audit.Event {
	t.Helper()
	return audit.Event{
		ID:        id.NewEventID(),
		Type:      audit.EventDataExported,
		Timestamp: time.Date(2025, 6, 12, 14, 30, 0, 0, time.UTC),
		SubjectID: id.SubjectID(uuid.New()),

		Category: audit.CategoryData,
		Severity: audit.SeverityHigh,
		Details:  map[string]any{"rows": 1200},
		Version:  1,
	}
}

func TestHandleRecord(t *testing.T) {
	r, mockService := newTestHandler(t)
	subjectID := id.SubjectID(uuid.New())
	returned := sampleEvent(t)

	mockService.EXPECT().
		RecordEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req service.RecordRequest) (audit.Event, error) {
			assert.Equal(t, audit.EventDataExported, req.EventType)
			require.NotNil(t, req.Subject)
			assert.Equal(t, subjectID, req.Subject.ID)
			assert.Equal(t, id.SubjectRoleAdmin, req.Subject.Role)
			return returned, nil
		})

	body, err := json.Marshal(RecordEventRequest{
		EventType:   "data_exported",
		SubjectRole: "admin",
		Details:     map[string]any{"rows": 1200},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/audit/events", bytes.NewReader(body))
	req = req.WithContext(requestcontext.WithSubjectID(req.Context(), subjectID))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp audit.EventRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, returned.ID.String(), resp.ID)
	assert.Equal(t, "data_exported", resp.Type)
	assert.Equal(t, "high", resp.Severity)
}

func TestHandleRecord_MalformedBody(t *testing.T) {
	r, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/audit/events", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecord_InvalidRole(t *testing.T) {
	r, _ := newTestHandler(t)

	body, err := json.Marshal(RecordEventRequest{
		EventType:   "data_accessed",
		SubjectRole: "superuser",
		Details:     map[string]any{},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/audit/events", bytes.NewReader(body))
	req = req.WithContext(requestcontext.WithSubjectID(req.Context(), id.SubjectID(uuid.New())))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecord_InvalidEvent(t *testing.T) {
	r, mockService := newTestHandler(t)

	mockService.EXPECT().
		RecordEvent(gomock.Any(), gomock.Any()).
		Return(audit.Event{}, audit.ErrInvalidEvent)

	body, err := json.Marshal(RecordEventRequest{EventType: "unknown_thing", Details: map[string]any{}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/audit/events", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecord_IntegrityFailureIsRetryable(t *testing.T) {
	r, mockService := newTestHandler(t)

	mockService.EXPECT().
		RecordEvent(gomock.Any(), gomock.Any()).
		Return(audit.Event{}, &audit.IntegrityError{Completeness: 0.75, Degraded: []string{"signing"}})

	body, err := json.Marshal(RecordEventRequest{EventType: "data_accessed", Details: map[string]any{}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/audit/events", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleSearch(t *testing.T) {
	r, mockService := newTestHandler(t)
	ev := sampleEvent(t)

	mockService.EXPECT().
		Query(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, q store.Query) (store.Page, error) {
			assert.Equal(t, []audit.EventType{audit.EventDataExported}, q.Types)
			assert.Equal(t, []audit.Severity{audit.SeverityHigh, audit.SeverityCritical}, q.Severities)
			assert.InDelta(t, 0.5, q.MinRiskScore, 1e-9)
			assert.Equal(t, 10, q.Limit)
			assert.Equal(t, store.SortRiskDesc, q.Sort)
			return store.Page{Events: []audit.Event{ev}, Total: 1, Limit: 10}, nil
		})

	req := httptest.NewRequest(http.MethodGet,
		"/audit/events?type=data_exported&severity=high,critical&minRiskScore=0.5&limit=10&sort=risk", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, ev.ID.String(), resp.Events[0].ID)
}

func TestHandleSearch_BadParams(t *testing.T) {
	r, _ := newTestHandler(t)

	for name, target := range map[string]string{
		"bad from":       "/audit/events?from=yesterday",
		"bad risk score": "/audit/events?minRiskScore=2",
		"bad sort":       "/audit/events?sort=fastest",
		"bad subject":    "/audit/events?subjectId=not-a-uuid",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleGet(t *testing.T) {
	r, mockService := newTestHandler(t)
	ev := sampleEvent(t)

	mockService.EXPECT().GetEvent(gomock.Any(), ev.ID).Return(ev, nil)

	req := httptest.NewRequest(http.MethodGet, "/audit/events/"+ev.ID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp audit.EventRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ev.ID.String(), resp.ID)
}

func TestHandleGet_NotFound(t *testing.T) {
	r, mockService := newTestHandler(t)
	eventID := id.NewEventID()

	mockService.EXPECT().GetEvent(gomock.Any(), eventID).Return(audit.Event{}, sentinel.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/audit/events/"+eventID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGet_MalformedID(t *testing.T) {
	r, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/audit/events/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRisk(t *testing.T) {
	r, mockService := newTestHandler(t)
	eventID := id.NewEventID()

	mockService.EXPECT().
		EventRisk(gomock.Any(), eventID).
		Return(risk.Result{
			Score:               0.64,
			Factors:             map[risk.Factor]float64{risk.FactorSeverity: 0.8, risk.FactorBehavioral: 0.5},
			BehavioralDeviation: 1.2,
			BaselineAvailable:   true,
		}, nil)

	req := httptest.NewRequest(http.MethodGet, "/audit/events/"+eventID.String()+"/risk", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp RiskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, eventID.String(), resp.EventID)
	assert.InDelta(t, 0.64, resp.Score, 1e-9)
	assert.InDelta(t, 0.8, resp.Factors["severity"], 1e-9)
	assert.True(t, resp.BaselineAvailable)
}

func TestHandleRisk_NotFound(t *testing.T) {
	r, mockService := newTestHandler(t)
	eventID := id.NewEventID()

	mockService.EXPECT().
		EventRisk(gomock.Any(), eventID).
		Return(risk.Result{}, sentinel.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/audit/events/"+eventID.String()+"/risk", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleVerify(t *testing.T) {
	r, mockService := newTestHandler(t)
	eventID := id.NewEventID()

	mockService.EXPECT().
		VerifyEvent(gomock.Any(), eventID).
		Return(service.VerifyResult{EventID: eventID.String(), Valid: false, KeyID: "2025-06", Algorithm: "HMAC-SHA256"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/audit/events/"+eventID.String()+"/verify", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp service.VerifyResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.Equal(t, "2025-06", resp.KeyID)
}
