package daemon

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"marginalia/internal/services"
)

const (
	headerUserID    = "X-User-ID"
	headerRequestID = "X-Request-ID"
)

type callerKey struct{}

// authMiddleware returns a middleware that validates bearer tokens.
// If token is empty, no authentication is required and all requests pass through.
// Otherwise, requests must include "Authorization: Bearer <token>" header.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeUnauthorized(w)
			return
		}
		if strings.TrimPrefix(auth, "Bearer ") != token {
			writeUnauthorized(w)
			return
		}
		next(w, r)
	}
}

// callerMiddleware requires the X-User-ID header set by the upstream auth
// proxy and stores it on the request context.
func callerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(headerUserID))
		if userID == "" {
			writeUnauthorized(w)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, userID)))
	}
}

func callerFrom(ctx context.Context) string {
	userID, _ := ctx.Value(callerKey{}).(string)
	return userID
}

// requestIDMiddleware propagates X-Request-ID, minting one when absent, so
// log lines for a request share a correlation id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
