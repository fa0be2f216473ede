package router

import (
	"net/http"

	"github.com/cvforge/cvforge-auth/internal/handler"
	"github.com/cvforge/cvforge-auth/internal/middleware"
	"github.com/cvforge/cvforge-auth/internal/ratelimit"
)

// New creates and configures the HTTP router. metrics serves /metrics.
func New(h *handler.Handler, mw *middleware.Middleware, verifier middleware.TokenVerifier, classes ratelimit.Classes, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	// Probes and metrics (no auth, no rate limit)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", metrics)

	general := mw.RateLimit(classes.General)
	authMw := mw.Auth(verifier)

	public := func(class ratelimit.Class, fn http.HandlerFunc) http.Handler {
		return mw.RateLimit(class)(fn)
	}
	authed := func(fn http.HandlerFunc) http.Handler {
		return general(authMw(fn))
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return general(authMw(mw.RequireSuperuser(fn)))
	}

	// Public authentication routes
	mux.Handle("POST /auth/register", public(classes.Register, h.Register))
	mux.Handle("POST /auth/login", public(classes.Login, h.Login))
	mux.Handle("POST /auth/refresh", public(classes.General, h.Refresh))
	mux.Handle("POST /auth/forgot-password", public(classes.PasswordReset, h.ForgotPassword))
	mux.Handle("POST /auth/reset-password", public(classes.PasswordReset, h.ResetPassword))
	mux.Handle("POST /users/verify-email", public(classes.VerifyEmail, h.VerifyEmail))
	mux.Handle("POST /users/resend-verification", public(classes.VerifyEmail, h.ResendVerification))

	// Routes requiring a bearer access token
	mux.Handle("POST /auth/logout", authed(h.Logout))
	mux.Handle("POST /auth/logout-all", authed(h.LogoutAll))
	mux.Handle("GET /auth/verify", authed(h.Verify))
	mux.Handle("POST /auth/change-password", authed(h.ChangePassword))
	mux.Handle("GET /auth/sessions", authed(h.ListSessions))
	mux.Handle("DELETE /auth/sessions/{id}", authed(h.RevokeSession))
	mux.Handle("GET /users/me", authed(h.Me))

	// Superuser routes
	mux.Handle("GET /admin/users", admin(h.AdminListUsers))
	mux.Handle("GET /admin/users/{id}", admin(h.AdminGetUser))
	mux.Handle("DELETE /admin/users/{id}", admin(h.AdminDeleteUser))
	mux.Handle("POST /admin/users/{id}/roles", admin(h.AdminAddRole))
	mux.Handle("DELETE /admin/users/{id}/roles/{role}", admin(h.AdminRemoveRole))
	mux.Handle("POST /admin/users/{id}/deactivate", admin(h.AdminDeactivateUser))
	mux.Handle("GET /admin/audit-logs", admin(h.AdminAuditLogs))
	mux.Handle("GET /admin/audit-logs/summary", admin(h.AdminAuditSummary))

	// Apply middleware stack. Instrument wraps the mux directly so it sees the
	// matched route pattern.
	var handler http.Handler = mw.Instrument(mux)

	handler = mw.CORS(handler)
	handler = mw.SecurityHeaders(handler)

	// Request logging
	handler = mw.Logger(handler)

	// Request ID
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
