// Package handler exposes the audit core over HTTP: ingestion, forensic
// search, and signature verification.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vigil/internal/audit"
	"vigil/internal/audit/classifier"
	"vigil/internal/audit/risk"
	"vigil/internal/audit/service"
	"vigil/internal/audit/store"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/requestcontext"
)

// Service defines the audit operations the handler exposes.
type Service interface {
	RecordEvent(ctx context.Context, req service.RecordRequest) (audit.Event, error)
	Query(ctx context.Context, q store.Query) (store.Page, error)
	GetEvent(ctx context.Context, eventID id.EventID) (audit.Event, error)
	EventRisk(ctx context.Context, eventID id.EventID) (risk.Result, error)
	VerifyEvent(ctx context.Context, eventID id.EventID) (service.VerifyResult, error)
}

// Handler wires audit endpoints to the audit service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an audit handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/audit/events", h.HandleRecord)
	r.Get("/audit/events", h.HandleSearch)
	r.Get("/audit/events/{eventID}", h.HandleGet)
	r.Get("/audit/events/{eventID}/risk", h.HandleRisk)
	r.Post("/audit/events/{eventID}/verify", h.HandleVerify)
}

// HandleRecord handles POST /audit/events requests.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[RecordEventRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var subject *classifier.Subject
	if subjectID := requestcontext.SubjectID(ctx); !subjectID.IsNil() {
		role, err := id.ParseSubjectRole(req.SubjectRole)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		subject = &classifier.Subject{ID: subjectID, Role: role}
	}

	ev, err := h.service.RecordEvent(ctx, service.RecordRequest{
		EventType: audit.EventType(req.EventType),
		Subject:   subject,
		Details:   req.Details,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "event ingestion failed",
			"request_id", requestID,
			"event_type", req.EventType,
			"error", err,
		)
		httputil.WriteError(w, translateRecordError(err))
		return
	}

	h.logger.InfoContext(ctx, "event recorded",
		"request_id", requestID,
		"event_id", ev.ID,
		"event_type", ev.Type,
		"severity", ev.Severity,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusCreated, ev.Record())
}

// HandleSearch handles GET /audit/events requests.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	q, err := parseSearchQuery(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.Query(ctx, q)
	if err != nil {
		h.logger.ErrorContext(ctx, "event search failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, newSearchResponse(page))
}

// HandleGet handles GET /audit/events/{eventID} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "event id must be a UUID"))
		return
	}

	ev, err := h.service.GetEvent(ctx, eventID)
	if err != nil {
		httputil.WriteError(w, translateLookupError(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ev.Record())
}

// HandleRisk handles GET /audit/events/{eventID}/risk requests.
func (h *Handler) HandleRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "event id must be a UUID"))
		return
	}

	result, err := h.service.EventRisk(ctx, eventID)
	if err != nil {
		httputil.WriteError(w, translateLookupError(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, newRiskResponse(eventID, result))
}

// HandleVerify handles POST /audit/events/{eventID}/verify requests.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "event id must be a UUID"))
		return
	}

	result, err := h.service.VerifyEvent(ctx, eventID)
	if err != nil {
		h.logger.ErrorContext(ctx, "event verification failed",
			"request_id", requestID,
			"event_id", eventID,
			"error", err,
		)
		httputil.WriteError(w, translateLookupError(err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// translateRecordError maps core ingestion failures to coded domain
// errors for the transport boundary.
func translateRecordError(err error) error {
	var integrityErr *audit.IntegrityError
	switch {
	case errors.Is(err, audit.ErrInvalidEvent):
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid audit event")
	case errors.As(err, &integrityErr):
		// Retryable: the event was not persisted.
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "analysis incomplete")
	default:
		return err
	}
}

func translateLookupError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "event not found")
	}
	return err
}
