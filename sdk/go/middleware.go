package cvforgeauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

type contextKey struct{}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// SkipPaths lists request paths that bypass authentication.
	SkipPaths []string

	// CookieName is read when no Authorization header is present. Empty disables
	// cookie lookup.
	CookieName string

	// ErrorHandler replaces the default JSON error response.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware authenticates every request with the client and stores the
// Identity in the request context.
func (c *Client) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}
	onError := cfg.ErrorHandler
	if onError == nil {
		onError = writeAuthError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r, cfg.CookieName)
			if token == "" {
				onError(w, r, ErrNoToken)
				return
			}

			id, err := c.VerifyToken(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity returns the identity stored by Middleware, or nil.
func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}

func extractToken(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil {
			return cookie.Value
		}
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	status, code := http.StatusUnauthorized, "unauthorized"
	switch {
	case errors.Is(err, ErrNoToken):
	case errors.Is(err, ErrTokenInvalid):
		code = "invalid_token"
	case errors.Is(err, ErrTokenForbidden):
		status, code = http.StatusForbidden, "forbidden"
	default:
		status, code = http.StatusBadGateway, "auth_unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="cvforge"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": err.Error()},
	})
}
