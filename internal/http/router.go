// Package httpapi assembles the HTTP surface: middleware chain, health
// and metrics endpoints, and the audit API routes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	audithandler "vigil/internal/audit/handler"
	"vigil/internal/platform/metrics"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/platform/middleware/admin"
	"vigil/pkg/platform/middleware/auth"
	"vigil/pkg/platform/middleware/metadata"
	"vigil/pkg/platform/middleware/requestid"
	"vigil/pkg/platform/middleware/requesttime"
	"vigil/pkg/requestcontext"
)

// Recomputer triggers a behavioral baseline rebuild on demand.
type Recomputer interface {
	RecomputeAll(ctx context.Context) error
}

// Deps are the router's injected dependencies.
type Deps struct {
	Audit      *audithandler.Handler
	Auth       auth.Validator
	Recomputer Recomputer
	Registry   *prometheus.Registry
	AdminToken string
	Logger     *slog.Logger
}

// NewRouter wires all endpoints. Audit routes require a bearer token;
// operational routes require the admin token.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(deps.Auth, deps.Logger))
		deps.Audit.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(deps.AdminToken, deps.Logger))
		r.Post("/ops/baselines/recompute", handleRecompute(deps.Recomputer, deps.Logger))
	})

	return r
}

func handleRecompute(recomputer Recomputer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := recomputer.RecomputeAll(ctx); err != nil {
			logger.ErrorContext(ctx, "baseline recompute failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recomputed"})
	}
}
