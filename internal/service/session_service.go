package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cvforge/cvforge-auth/internal/logger"
	"github.com/cvforge/cvforge-auth/internal/model"
	"github.com/cvforge/cvforge-auth/internal/repository"
)

// ErrSessionNotFound is returned when a session does not exist or is not owned by the caller
var ErrSessionNotFound = errors.New("session not found")

// LogoutChannel carries logout events for services that cache access-token state
const LogoutChannel = "cvforge:auth:logout"

// Logout event types
const (
	LogoutTypeSession = "session"
	LogoutTypeUser    = "user"
)

// LogoutEvent is published whenever refresh tokens are revoked
type LogoutEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// LogoutNotifier announces revocations to other services
type LogoutNotifier interface {
	NotifyLogout(ctx context.Context, event LogoutEvent)
}

// SessionInfo describes one live refresh token
type SessionInfo struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionService lists and revokes a user's refresh-token sessions and
// publishes logout events
type SessionService struct {
	store repository.Storage
	audit AuditRecorder
	rdb   redis.UniversalClient
	log   *logger.Logger
	now   func() time.Time
}

// NewSessionService creates a new SessionService. rdb may be nil, in which case
// logout events are only logged.
func NewSessionService(store repository.Storage, audit AuditRecorder, rdb redis.UniversalClient, log *logger.Logger) *SessionService {
	return &SessionService{
		store: store,
		audit: audit,
		rdb:   rdb,
		log:   log.WithComponent("session_service"),
		now:   time.Now,
	}
}

// ListSessions returns the user's live sessions, newest first
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	tokens, err := s.store.RefreshTokens().ListActiveForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, SessionInfo{
			ID:        t.ID,
			UserAgent: t.UserAgent,
			IPAddress: t.IPAddress,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
		})
	}
	return sessions, nil
}

// RevokeSession revokes one of the user's sessions
func (s *SessionService) RevokeSession(ctx context.Context, userID, sessionID string, client ClientInfo) error {
	ok, err := s.store.RefreshTokens().RevokeByID(ctx, sessionID, userID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}

	s.NotifyLogout(ctx, LogoutEvent{Type: LogoutTypeSession, UserID: userID, SessionID: sessionID, Reason: "user_revoked"})
	s.audit.Record(ctx, AuditEvent{
		Action:  model.AuditActionSessionRevoked,
		UserID:  userID,
		Client:  client,
		Details: map[string]any{"session_id": sessionID},
	})
	s.log.Info().Str("user_id", userID).Str("session_id", sessionID).Msg("session revoked")
	return nil
}

// NotifyLogout publishes a logout event. Publishing is best-effort.
func (s *SessionService) NotifyLogout(ctx context.Context, event LogoutEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = s.now().Unix()
	}
	if s.rdb == nil {
		s.log.Debug().Str("type", event.Type).Str("user_id", event.UserID).Msg("logout event not published, no redis")
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal logout event")
		return
	}
	if err := s.rdb.Publish(ctx, LogoutChannel, data).Err(); err != nil {
		s.log.Error().Err(err).Str("channel", LogoutChannel).Msg("failed to publish logout event")
		return
	}

	s.log.Debug().
		Str("type", event.Type).
		Str("user_id", event.UserID).
		Str("reason", event.Reason).
		Msg("logout event published")
}

// SubscribeLogoutEvents streams logout events until ctx ends or the returned
// stop func is called. Either closes the subscription and the channel.
func (s *SessionService) SubscribeLogoutEvents(ctx context.Context) (<-chan LogoutEvent, func(), error) {
	if s.rdb == nil {
		return nil, nil, errors.New("logout events require redis")
	}
	pubsub := s.rdb.Subscribe(ctx, LogoutChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to logout events: %w", err)
	}

	events := make(chan LogoutEvent, 100)
	var once sync.Once
	stop := func() { once.Do(func() { _ = pubsub.Close() }) }
	go func() {
		defer close(events)
		defer stop()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event LogoutEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					s.log.Error().Err(err).Msg("failed to unmarshal logout event")
					continue
				}
				select {
				case events <- event:
				default:
					s.log.Warn().Msg("logout event channel full, dropping event")
				}
			}
		}
	}()

	return events, stop, nil
}
