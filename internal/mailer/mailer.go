// Package mailer delivers rendered HTML messages to single recipients.
//
// Build wraps the configured base transport (SMTP or log-only) with a
// per-send timeout and an optional token-bucket rate limit. Failed sends
// are reported, never retried.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "formrelay/pkg/logx"
)

var ErrNoRecipient = errors.New("mailer: empty recipient")

// Message is one email to one recipient.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Transport sends a single message.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, m Message) error

func (f TransportFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// Config selects and tunes the transport.
type Config struct {
	Transport   string // "smtp" | "log"
	SMTP        SMTPConfig
	RatePerSec  int
	SendTimeout time.Duration
}

// Build assembles the transport chain described by cfg.
func Build(cfg Config, log logx.Logger) (Transport, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var base Transport
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "smtp":
		base = NewSMTP(cfg.SMTP, log)
	case "log", "":
		base = NewLog(log)
	default:
		return nil, fmt.Errorf("unknown mail transport: %q", cfg.Transport)
	}

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	t := WithTimeout(base, timeout)
	if cfg.RatePerSec > 0 {
		t = WithRateLimit(t, cfg.RatePerSec)
	}
	return t, nil
}

func validate(m Message) error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	return nil
}
