// Package requestid assigns each request a correlation ID, honoring one
// supplied by the edge so traces line up across services.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"vigil/pkg/requestcontext"
)

// Header carries the correlation ID in both directions.
const Header = "X-Request-ID"

// Middleware reads the incoming request ID or generates one, stores it
// on the context, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(Header, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
