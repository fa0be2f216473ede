package handler

import (
	"context"

	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// Version is reported by the health endpoint
var Version = "dev"

// HealthChecker is a dependency probed by /health and /ready
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services bundles the application services the handlers call
type Services struct {
	Auth     *service.AuthService
	Admin    *service.AdminService
	Audit    *service.AuditService
	Sessions *service.SessionService
}

// Handler holds all HTTP handlers
type Handler struct {
	log      *logger.Logger
	cfg      *config.Config
	authSvc  *service.AuthService
	adminSvc *service.AdminService
	auditSvc *service.AuditService
	sessSvc  *service.SessionService
	checks   map[string]HealthChecker
}

// New creates a new Handler instance. checks maps dependency names to probes.
func New(svc Services, checks map[string]HealthChecker, log *logger.Logger, cfg *config.Config) *Handler {
	return &Handler{
		log:      log.WithComponent("handler"),
		cfg:      cfg,
		authSvc:  svc.Auth,
		adminSvc: svc.Admin,
		auditSvc: svc.Audit,
		sessSvc:  svc.Sessions,
		checks:   checks,
	}
}
