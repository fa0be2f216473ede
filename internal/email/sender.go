package email

import (
	"context"
	"fmt"

	"github.com/cvforge/cvforge-auth/internal/config"
	"github.com/cvforge/cvforge-auth/internal/logger"
)

// Sender delivers a rendered message
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message represents an email message to be sent.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// LogSender writes messages to the operational log instead of delivering them.
// Used in development and when no provider is configured.
type LogSender struct {
	log *logger.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.WithComponent("email")}
}

// Send logs the recipient and subject. Bodies carry live tokens and are not logged.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("email not delivered (log provider)")
	return nil
}

// NewSender builds the Sender selected by cfg.Provider
func NewSender(ctx context.Context, cfg config.EmailConfig, log *logger.Logger) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogSender(log), nil
	case "gmail":
		return NewGmailSender(ctx, cfg.Gmail)
	default:
		return nil, fmt.Errorf("email: unknown provider %q", cfg.Provider)
	}
}
