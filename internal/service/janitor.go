package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/metrics"
	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/repository"
)

// SweepResult counts the rows removed by one sweep
type SweepResult struct {
	RefreshTokens           int64 `json:"refresh_tokens"`
	PasswordResetTokens     int64 `json:"password_reset_tokens"`
	EmailVerificationTokens int64 `json:"email_verification_tokens"`
	AuditLogs               int64 `json:"audit_logs"`
}

// Janitor deletes expired tokens and audit entries past retention
type Janitor struct {
	store     repository.Storage
	audit     *AuditService
	metrics   *metrics.Metrics
	retention time.Duration
	interval  time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewJanitor creates a Janitor
func NewJanitor(store repository.Storage, audit *AuditService, m *metrics.Metrics, cfg config.AuditConfig, log *logger.Logger) *Janitor {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:     store,
		audit:     audit,
		metrics:   m,
		retention: cfg.Retention,
		interval:  interval,
		log:       log.WithComponent("janitor"),
		now:       time.Now,
	}
}

// SweepOnce runs a single cleanup pass. A zero retention keeps audit entries forever.
func (j *Janitor) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := j.now().UTC()

	n, err := j.store.RefreshTokens().DeleteExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("failed to sweep refresh tokens: %w", err)
	}
	res.RefreshTokens = n
	j.count("refresh_tokens", n)

	for _, kind := range []model.TokenKind{model.TokenKindPasswordReset, model.TokenKindEmailVerification} {
		n, err := j.store.SingleUseTokens(kind).DeleteExpired(ctx, now)
		if err != nil {
			return res, fmt.Errorf("failed to sweep %s tokens: %w", kind, err)
		}
		if kind == model.TokenKindPasswordReset {
			res.PasswordResetTokens = n
			j.count("password_reset_tokens", n)
		} else {
			res.EmailVerificationTokens = n
			j.count("email_verification_tokens", n)
		}
	}

	if j.retention > 0 {
		n, err := j.audit.Purge(ctx, j.retention)
		if err != nil {
			return res, err
		}
		res.AuditLogs = n
		j.count("audit_logs", n)
	}

	j.log.Info().
		Int64("refresh_tokens", res.RefreshTokens).
		Int64("password_reset_tokens", res.PasswordResetTokens).
		Int64("email_verification_tokens", res.EmailVerificationTokens).
		Int64("audit_logs", res.AuditLogs).
		Msg("sweep completed")
	return res, nil
}

func (j *Janitor) count(table string, n int64) {
	if j.metrics != nil && n > 0 {
		j.metrics.JanitorDeleted.WithLabelValues(table).Add(float64(n))
	}
}

// Run sweeps every interval until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.SweepOnce(ctx); err != nil {
				j.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
