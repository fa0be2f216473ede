package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/metrics"
	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/repository"
)

const auditWriteTimeout = 5 * time.Second

// ClientInfo identifies where a request came from
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// AuditEvent is a security-relevant action to be appended to the audit trail
type AuditEvent struct {
	Action  string
	UserID  string
	Client  ClientInfo
	Details map[string]any
}

// AuditRecorder appends audit events. Recording never fails from the caller's
// point of view.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent)
}

// AuditService writes and reads the audit trail
type AuditService struct {
	store   repository.Storage
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time

	mu     sync.RWMutex
	queue  chan *model.AuditLog
	closed bool
	done   chan struct{}
}

// NewAuditService creates an AuditService. With cfg.Async set, entries are
// buffered and written by a single worker until Close is called.
func NewAuditService(store repository.Storage, m *metrics.Metrics, cfg config.AuditConfig, log *logger.Logger) *AuditService {
	s := &AuditService{
		store:   store,
		metrics: m,
		log:     log.WithComponent("audit_service"),
		now:     time.Now,
	}
	if cfg.Async {
		s.queue = make(chan *model.AuditLog, max(cfg.BufferSize, 1))
		s.done = make(chan struct{})
		go s.worker()
	}
	return s
}

// Record appends an event. Store failures are logged and counted, never returned.
func (s *AuditService) Record(ctx context.Context, event AuditEvent) {
	entry := &model.AuditLog{
		ID:        uuid.NewString(),
		Action:    event.Action,
		Details:   event.Details,
		UserID:    optional(event.UserID),
		IPAddress: optional(event.Client.IPAddress),
		UserAgent: optional(event.Client.UserAgent),
		CreatedAt: s.now().UTC(),
	}
	s.metrics.AuthEvents.WithLabelValues(event.Action).Inc()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queue == nil || s.closed {
		s.write(context.WithoutCancel(ctx), entry)
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.metrics.AuditDropped.Inc()
		s.log.Warn().Str("action", entry.Action).Msg("audit buffer full, entry dropped")
	}
}

func (s *AuditService) worker() {
	defer close(s.done)
	for entry := range s.queue {
		s.write(context.Background(), entry)
	}
}

func (s *AuditService) write(ctx context.Context, entry *model.AuditLog) {
	ctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	if err := s.store.Audit().Create(ctx, entry); err != nil {
		s.metrics.AuditWriteFailures.Inc()
		s.log.Error().Err(err).Str("action", entry.Action).Msg("failed to create audit log")
	}
}

// Close stops accepting buffered entries and waits for the worker to drain the
// queue or for ctx to end. Later Record calls write synchronously.
func (s *AuditService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.queue == nil || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain interrupted: %w", ctx.Err())
	}
}

// Query returns audit entries matching filter, newest first
func (s *AuditService) Query(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidInput)
	}
	logs, err := s.store.Audit().Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	return logs, nil
}

// Summarize aggregates activity over the trailing window
func (s *AuditService) Summarize(ctx context.Context, window time.Duration, topN int) (*model.AuditSummary, error) {
	since := s.now().Add(-window).UTC()

	counts, err := s.store.Audit().CountByAction(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit actions: %w", err)
	}
	top, err := s.store.Audit().TopUsers(ctx, since, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to rank audit users: %w", err)
	}

	summary := &model.AuditSummary{
		Since:        since,
		ActionCounts: counts,
		TopUsers:     top,
	}
	for action, n := range counts {
		summary.Total += n
		if model.IsFailedAction(action) {
			summary.FailedAuth += n
		}
	}
	if summary.TopUsers == nil {
		summary.TopUsers = []model.UserActivity{}
	}
	return summary, nil
}

// Purge deletes entries older than the retention horizon and records the purge
func (s *AuditService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UTC()
	n, err := s.store.Audit().DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	if n > 0 {
		s.Record(ctx, AuditEvent{
			Action:  model.AuditActionSystemAuditPurge,
			Details: map[string]any{"deleted": n, "cutoff": cutoff.Format(time.RFC3339)},
		})
	}
	return n, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
