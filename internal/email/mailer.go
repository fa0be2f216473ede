package email

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cvforge/cvforge-auth/internal/logger"
)

const sendTimeout = 30 * time.Second

// Mailer renders named templates and hands them to a Sender. Delivery is
// best-effort: failures are logged, never returned.
type Mailer struct {
	sender    Sender
	templates *Templates
	appName   string
	log       *logger.Logger

	mu     sync.RWMutex
	queue  chan Message
	closed bool
	done   chan struct{}
}

// MailerOption configures a Mailer
type MailerOption func(*Mailer)

// WithQueue makes SendTemplate enqueue rendered messages for a background worker
// instead of sending them inline. A full queue drops the message.
func WithQueue(size int) MailerOption {
	return func(m *Mailer) {
		if size > 0 {
			m.queue = make(chan Message, size)
		}
	}
}

// NewMailer creates a Mailer
func NewMailer(sender Sender, appName string, log *logger.Logger, opts ...MailerOption) (*Mailer, error) {
	tpls, err := ParseTemplates()
	if err != nil {
		return nil, err
	}
	m := &Mailer{sender: sender, templates: tpls, appName: appName, log: log.WithComponent("mailer")}
	for _, opt := range opts {
		opt(m)
	}
	if m.queue != nil {
		m.done = make(chan struct{})
		go m.worker()
	}
	return m, nil
}

// SendTemplate renders template with data and sends it to the recipient
func (m *Mailer) SendTemplate(ctx context.Context, to, subject, template string, data TemplateData) {
	if data.AppName == "" {
		data.AppName = m.appName
	}
	htmlBody, textBody, err := m.templates.Render(template, data)
	if err != nil {
		m.log.Error().Err(err).Str("template", template).Msg("failed to render email")
		return
	}
	msg := Message{To: to, Subject: subject, HTMLBody: htmlBody, TextBody: textBody}

	m.mu.RLock()
	if m.queue == nil || m.closed {
		m.mu.RUnlock()
		m.deliver(context.WithoutCancel(ctx), msg)
		return
	}
	select {
	case m.queue <- msg:
	default:
		m.log.Warn().Str("subject", subject).Msg("mail queue full, message dropped")
	}
	m.mu.RUnlock()
}

func (m *Mailer) worker() {
	defer close(m.done)
	for msg := range m.queue {
		m.deliver(context.Background(), msg)
	}
}

func (m *Mailer) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := m.sender.Send(ctx, msg); err != nil {
		m.log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to send email")
	}
}

// Close stops queueing and waits for the worker to send what is buffered, or for
// ctx to end. Later SendTemplate calls send inline.
func (m *Mailer) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.queue == nil || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mail drain interrupted: %w", ctx.Err())
	}
}
