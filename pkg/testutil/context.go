package testutil

import (
	"context"
	"net/http"

	id "vigil/pkg/domain"
	"vigil/pkg/requestcontext"
)

// WithSubjectID adds a subject ID to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// If the subjectID is not a valid UUID, it will not be added to the context.
func WithSubjectID(req *http.Request, subjectID string) *http.Request {
	if parsed, err := id.ParseSubjectID(subjectID); err == nil {
		return req.WithContext(requestcontext.WithSubjectID(req.Context(), parsed))
	}
	return req
}

// WithSessionID adds a session ID to the request context.
// If the sessionID is not a valid UUID, it will not be added to the context.
func WithSessionID(req *http.Request, sessionID string) *http.Request {
	if parsed, err := id.ParseSessionID(sessionID); err == nil {
		return req.WithContext(requestcontext.WithSessionID(req.Context(), parsed))
	}
	return req
}

// WithAuth adds both subject ID and session ID to the request context.
// This is the typical state for an authenticated request.
// Invalid IDs are silently ignored.
func WithAuth(req *http.Request, subjectID, sessionID string) *http.Request {
	ctx := req.Context()
	if subjectID != "" {
		if parsed, err := id.ParseSubjectID(subjectID); err == nil {
			ctx = requestcontext.WithSubjectID(ctx, parsed)
		}
	}
	if sessionID != "" {
		if parsed, err := id.ParseSessionID(sessionID); err == nil {
			ctx = requestcontext.WithSessionID(ctx, parsed)
		}
	}
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
