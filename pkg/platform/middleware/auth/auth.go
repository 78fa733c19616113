// Package auth enforces bearer-token authentication and attaches the
// validated subject to the request context.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// Claims are the validated token claims the middleware consumes.
type Claims struct {
	SubjectID string
	SessionID string
	Role      string
}

// Validator validates access tokens. The token service satisfies it via
// an adapter so this package stays free of JWT details.
type Validator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth rejects requests without a valid bearer token and puts the
// token's subject and session on the request context.
func RequireAuth(validator Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(raw)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			subjectID, err := id.ParseSubjectID(claims.SubjectID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed subject claim",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			ctx = requestcontext.WithSubjectID(ctx, subjectID)

			if claims.SessionID != "" {
				sessionID, err := id.ParseSessionID(claims.SessionID)
				if err != nil {
					logger.WarnContext(ctx, "unauthorized access - malformed session claim",
						"request_id", requestID,
					)
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
					return
				}
				ctx = requestcontext.WithSessionID(ctx, sessionID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
