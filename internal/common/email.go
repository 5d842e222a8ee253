package common

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers a Message.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// Outbox keeps every message it is asked to send. Safe for concurrent use.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
}

func (o *Outbox) Send(_ context.Context, m Message) error {
	o.mu.Lock()
	o.sent = append(o.sent, m)
	o.mu.Unlock()
	return nil
}

// Sent returns a copy of the messages sent so far.
func (o *Outbox) Sent() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.sent)
}

// LogMailer records outgoing mail in the structured log instead of sending
// it. The worker uses it until a mail transport is configured.
type LogMailer struct {
	Logger zerolog.Logger
	From   string
}

func (l LogMailer) Send(ctx context.Context, m Message) error {
	l.Logger.Info().Ctx(ctx).
		Str("from", l.From).
		Str("to", m.To).
		Str("subject", m.Subject).
		Int("body_bytes", len(m.HTML)).
		Msg("email_dispatched")
	return nil
}
