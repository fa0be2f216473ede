package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cvforge/cvforge-auth/internal/auth"
	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/database"
	"github.com/cvforge/cvforge-auth/internal/email"
	"github.com/cvforge/cvforge-auth/internal/handler"
	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/metrics"
	"github.com/cvforge/cvforge-auth/internal/middleware"
	"github.com/cvforge/cvforge-auth/internal/ratelimit"
	"github.com/cvforge/cvforge-auth/internal/repository"
	"github.com/cvforge/cvforge-auth/internal/router"
	"github.com/cvforge/cvforge-auth/internal/service"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", version).Msg("starting cvforge-auth server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	store := repository.NewPostgresStorage(db)
	checks := map[string]handler.HealthChecker{"postgres": store}

	// Connect to Redis when enabled
	var rdb *database.Redis
	var pubsub redis.UniversalClient
	if cfg.Redis.Enabled {
		rdb, err = database.NewRedis(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		pubsub = rdb.Client
		checks["redis"] = rdb
		log.Info().Msg("connected to Redis")
	}

	m := metrics.New()

	// Rate limiter
	var limiter ratelimit.Limiter
	switch cfg.Security.RateLimiting.Backend {
	case "redis":
		limiter = ratelimit.NewRedis(rdb.Client, "cvforge:ratelimit:")
	default:
		mem := ratelimit.NewMemory()
		go mem.Run(ctx, time.Minute)
		limiter = mem
	}
	log.Info().
		Str("backend", cfg.Security.RateLimiting.Backend).
		Bool("enabled", cfg.Security.RateLimiting.Enabled).
		Msg("rate limiter initialized")

	// Email
	sender, err := email.NewSender(ctx, cfg.Email, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize email sender")
	}
	mailer, err := email.NewMailer(sender, cfg.Email.AppName, log, email.WithQueue(cfg.Email.QueueSize))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize mailer")
	}

	// Token codec and password hasher
	codec, err := auth.NewTokenCodec(cfg.Security.Tokens.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token codec")
	}
	hasher := auth.NewBcryptHasher(cfg.Security.Password.BcryptCost)

	// Initialize services
	auditSvc := service.NewAuditService(store, m, cfg.Audit, log)
	sessionSvc := service.NewSessionService(store, auditSvc, pubsub, log)
	authSvc := service.NewAuthService(store, hasher, codec, mailer, auditSvc, cfg, log)
	authSvc.SetLogoutNotifier(sessionSvc)
	adminSvc := service.NewAdminService(store, hasher, auditSvc, sessionSvc, cfg, log)

	janitor := service.NewJanitor(store, auditSvc, m, cfg.Audit, log)
	go janitor.Run(ctx)

	// Initialize handlers and middleware
	h := handler.New(handler.Services{
		Auth:     authSvc,
		Admin:    adminSvc,
		Audit:    auditSvc,
		Sessions: sessionSvc,
	}, checks, log, cfg)
	handler.Version = version
	mw := middleware.New(limiter, auditSvc, m, log, cfg)

	// Set up router
	r := router.New(h, mw, authSvc, ratelimit.ClassesFromConfig(cfg.Security.RateLimiting), m.Handler())

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := mailer.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mail queue not fully drained")
	}
	if err := auditSvc.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("audit log not fully drained")
	}

	log.Info().Msg("server stopped")
}
