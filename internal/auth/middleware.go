package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// AccessTokenCookie carries the operator token for browser sessions.
const AccessTokenCookie = "op-access-token"

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Middleware provides HTTP middleware for operator token validation.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware constructs a middleware with optional skipper.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{Config: cfg, Skipper: skipper}
}

// DeviceSkipper lets device endpoints, health checks and metrics through;
// devices authenticate with their own credential in the request body.
func DeviceSkipper(r *http.Request) bool {
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/device/"):
		return true
	case r.URL.Path == "/healthz", r.URL.Path == "/metrics":
		return true
	case r.Method == http.MethodOptions:
		return true
	}
	return false
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			return nil, ErrInvalidToken
		}
		return Parse(header[len("Bearer "):], m.Config)
	}
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		return Parse(cookie.Value, m.Config)
	}
	return nil, ErrMissingToken
}
