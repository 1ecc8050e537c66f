// Package api implements the talkdrop HTTP API using chi.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type authKey struct{}

// AuthMiddleware marks requests as authorized. With auth disabled every
// request is authorized; otherwise a request must carry
// "Authorization: Bearer <token>" or a "token" query parameter. Requests
// without a valid token still pass through and see the public views.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok := !enabled || validToken(r, token)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authKey{}, ok)))
		})
	}
}

// RequireAuth rejects requests that AuthMiddleware did not authorize.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Authorized(r) {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Authorized reports whether the request was authorized.
func Authorized(r *http.Request) bool {
	ok, _ := r.Context().Value(authKey{}).(bool)
	return ok
}

func validToken(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	got := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		got = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
