package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/metrics"
	"github.com/cvforge/cvforge-auth/internal/ratelimit"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	limiter ratelimit.Limiter
	audit   service.AuditRecorder
	metrics *metrics.Metrics
	log     *logger.Logger
	cfg     *config.Config
}

// New creates a new Middleware instance
func New(limiter ratelimit.Limiter, audit service.AuditRecorder, m *metrics.Metrics, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		limiter: limiter,
		audit:   audit,
		metrics: m,
		log:     log.WithComponent("http"),
		cfg:     cfg,
	}
}

// writeError mirrors the handler error envelope
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
