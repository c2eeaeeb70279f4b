// Package notify delivers transactional email. Delivery is best-effort: callers
// persist state first and treat a false result from Send as a warning.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
)

var errHeaderInjection = errors.New("header contains line break")

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

func (m Message) Validate() error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return err
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return errHeaderInjection
	}
	return nil
}

// Dispatcher sends a message and reports whether delivery was accepted.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) bool
}

type DispatcherFunc func(ctx context.Context, msg Message) bool

func (f DispatcherFunc) Send(ctx context.Context, msg Message) bool { return f(ctx, msg) }

// LogDispatcher only logs, for local development without a mail server.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Send(_ context.Context, msg Message) bool {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification (log only)", "to", msg.To, "subject", msg.Subject, "text", msg.Text)
	return true
}
