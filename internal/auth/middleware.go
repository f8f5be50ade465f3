package auth

import (
	"net/http"
	"strings"
)

// Skipper reports whether a request may bypass bearer-token checks. The
// sync API skips health, metrics, and the credential endpoints; everything
// else carries an owner-scoped token.
type Skipper func(r *http.Request) bool

// Middleware rejects requests without a valid bearer token and stashes the
// parsed claims on the request context for the handlers downstream.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware constructs a middleware with optional skipper.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{Config: cfg, Skipper: skipper}
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.bearerClaims(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// bearerClaims extracts and validates the Authorization header. The scheme
// match is case-insensitive per RFC 7235.
func (m Middleware) bearerClaims(r *http.Request) (*Claims, error) {
	const prefix = "bearer "

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, ErrInvalidToken
	}
	return Parse(strings.TrimSpace(header[len(prefix):]), m.Config)
}
