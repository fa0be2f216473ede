package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// PrincipalKey holds the authenticated *service.Principal
const PrincipalKey contextKey = "principal"

// TokenVerifier resolves an access token to its subject
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, accessToken string) (*service.Principal, error)
}

// Auth requires a valid bearer access token
func (m *Middleware) Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}

			principal, err := verifier.VerifyAccess(r.Context(), tokenString)
			if err != nil {
				if !errors.Is(err, service.ErrInvalidOrExpiredToken) {
					m.log.Error().Err(err).Msg("access token verification failed")
					writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
					return
				}
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, "invalid_token", "Could not validate credentials")
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSuperuser rejects authenticated callers that are not superusers. It must
// run after Auth.
func (m *Middleware) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r.Context())
		if p == nil || !p.IsSuperuser {
			userID := ""
			if p != nil {
				userID = p.UserID
			}
			m.audit.Record(r.Context(), service.AuditEvent{
				Action:  model.AuditActionPermissionDenied,
				UserID:  userID,
				Client:  Client(r),
				Details: map[string]any{"path": r.URL.Path, "method": r.Method},
			})
			writeError(w, http.StatusForbidden, "forbidden", "Not enough permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipal returns the authenticated subject, or nil
func GetPrincipal(ctx context.Context) *service.Principal {
	p, _ := ctx.Value(PrincipalKey).(*service.Principal)
	return p
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
