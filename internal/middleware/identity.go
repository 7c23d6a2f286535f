// Package middleware contains HTTP middleware for the Pixelift API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

// =============================================================================
// Configuration Constants
// =============================================================================

const (
	// SubjectHeader carries the authenticated user's subject identifier.
	// It is set by the identity proxy in front of the API. The proxy strips
	// any client-supplied value, so a non-empty header is trusted.
	SubjectHeader = "X-Auth-Subject"

	// GuestTokenHeader carries the signed guest usage token for requests
	// without an authenticated subject.
	GuestTokenHeader = "X-Guest-Token"
)

// =============================================================================
// Context Keys
// =============================================================================

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	subjectContextKey    contextKey = "subject"
	guestTokenContextKey contextKey = "guest_token"
)

// =============================================================================
// Context Helpers
// =============================================================================

// GetSubject retrieves the authenticated subject from the request context.
// Returns "" for guest requests.
func GetSubject(ctx context.Context) string {
	subject, ok := ctx.Value(subjectContextKey).(string)
	if !ok {
		return ""
	}
	return subject
}

// GetGuestToken retrieves the raw guest token from the request context.
// Returns "" if the request carried no guest token.
func GetGuestToken(ctx context.Context) string {
	token, ok := ctx.Value(guestTokenContextKey).(string)
	if !ok {
		return ""
	}
	return token
}

// =============================================================================
// Identity Middleware
// =============================================================================

// Identity extracts the caller's identity from request headers and stores it
// in the request context. Requests without a subject continue as guests;
// authorization decisions belong to the handlers.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if subject := strings.TrimSpace(r.Header.Get(SubjectHeader)); subject != "" {
			ctx = context.WithValue(ctx, subjectContextKey, subject)
		}

		if token := strings.TrimSpace(r.Header.Get(GuestTokenHeader)); token != "" {
			ctx = context.WithValue(ctx, guestTokenContextKey, token)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSubject wraps a handler and rejects guest requests with 401.
// Use on routes that only make sense for signed-in users.
func RequireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetSubject(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
