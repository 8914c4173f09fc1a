package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	mail "github.com/go-mail/mail"

	logx "formrelay/pkg/logx"
)

// SMTPConfig describes an SMTP relay.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// SMTP sends messages through an SMTP relay, one connection per message.
type SMTP struct {
	cfg SMTPConfig
	log logx.Logger
}

func NewSMTP(cfg SMTPConfig, log logx.Logger) *SMTP {
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTP{cfg: cfg, log: log.With(logx.String("comp", "smtp"), logx.String("host", cfg.Host), logx.Int("port", cfg.Port))}
}

func (s *SMTP) message(m Message) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/html", m.HTML)
	return msg
}

func (s *SMTP) dialer(ctx context.Context) *mail.Dialer {
	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}
	switch strings.ToLower(s.cfg.TLSMode) {
	case "ssl":
		d.SSL = true
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	default:
		d.StartTLSPolicy = mail.OpportunisticStartTLS
	}
	if dl, ok := ctx.Deadline(); ok {
		d.Timeout = time.Until(dl)
	}
	return d
}

func (s *SMTP) Send(ctx context.Context, m Message) error {
	if err := validate(m); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.log.Debug("sending email", logx.String("to", m.To), logx.String("subject", m.Subject), logx.String("tls_mode", s.cfg.TLSMode))

	// DialAndSend is not context-aware; the dialer timeout bounds it.
	done := make(chan error, 1)
	go func() { done <- s.dialer(ctx).DialAndSend(s.message(m)) }()

	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("smtp send failed", logx.String("to", m.To), logx.Err(err))
			return fmt.Errorf("smtp send to %s: %w", m.To, err)
		}
		s.log.Info("email sent", logx.String("to", m.To))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
