package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cvforge/cvforge-auth/internal/email"
	"github.com/cvforge/cvforge-auth/internal/logger"
)

// NewLogger returns a debug logger that writes through t.Log
func NewLogger(t testing.TB) *logger.Logger {
	return logger.NewWithWriter(zerolog.NewTestWriter(t), "debug", "json")
}

// SentMail is one message captured by RecordingMailer
type SentMail struct {
	To       string
	Subject  string
	Template string
	Data     email.TemplateData
}

// RecordingMailer captures templated mail instead of sending it
type RecordingMailer struct {
	mu   sync.Mutex
	sent []SentMail
}

// SendTemplate records the message
func (m *RecordingMailer) SendTemplate(_ context.Context, to, subject, template string, data email.TemplateData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMail{To: to, Subject: subject, Template: template, Data: data})
}

// Sent returns every captured message
func (m *RecordingMailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMail, len(m.sent))
	copy(out, m.sent)
	return out
}

// Last returns the token of the most recent message using template, or ""
func (m *RecordingMailer) Last(template string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Template == template {
			return m.sent[i].Data.Token
		}
	}
	return ""
}

// PlainHasher is a fast, insecure PasswordHasher for tests
type PlainHasher struct{}

const plainPrefix = "plain$"

// Hash prefixes the password
func (PlainHasher) Hash(raw string) (string, error) { return plainPrefix + raw, nil }

// Verify compares against the prefixed password
func (PlainHasher) Verify(raw, hash string) bool {
	return strings.HasPrefix(hash, plainPrefix) && hash == plainPrefix+raw
}

// Equalize does nothing
func (PlainHasher) Equalize(string) {}
