package httpapi

import (
	"context"
	"net/http"
)

type contextKey int

const userIDKey contextKey = iota

// withUser extracts the caller's user_id from the X-User-Id header — the
// AuthContext external collaborator per spec §6/§9 — and rejects the
// request with 401 if it is absent. GET /health is registered outside
// this wrapper and never requires auth.
func withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-Id")
		if userID == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "X-User-Id header is required")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next(w, r.WithContext(ctx))
	}
}

func userFromContext(r *http.Request) string {
	v, _ := r.Context().Value(userIDKey).(string)
	return v
}
