package mailer

import (
	"context"

	logx "formrelay/pkg/logx"
)

// Log is a dry-run transport: messages are logged, never sent.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	return &Log{log: log.With(logx.String("comp", "mail.log"))}
}

func (l *Log) Send(ctx context.Context, m Message) error {
	if err := validate(m); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info("email (dry-run)",
		logx.String("to", m.To),
		logx.String("subject", m.Subject),
		logx.Int("html_bytes", len(m.HTML)),
	)
	l.log.Trace("email body", logx.String("to", m.To), logx.String("html", m.HTML))
	return nil
}
