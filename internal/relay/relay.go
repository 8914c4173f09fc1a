// Package relay turns form submissions into notification emails.
//
// Each invocation resolves the data-source id, reads the header row and
// title from the first sheet, renders one message and sends it to every
// configured recipient in order. Invocations are serialized.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"formrelay/internal/eventbus"
	"formrelay/internal/mailer"
	"formrelay/internal/metrics"
	"formrelay/internal/render"
	"formrelay/internal/sheets"
	logx "formrelay/pkg/logx"
)

// ErrDelivery wraps the joined per-recipient failures of an invocation.
var ErrDelivery = errors.New("delivery failed")

// ErrNoRecipients is returned when the recipient list is empty.
var ErrNoRecipients = errors.New("no recipients configured")

const (
	KindSubmission = "submission"
	KindTest       = "test"
)

// IDResolver yields the data-source identifier for each invocation.
type IDResolver interface {
	ResolveDataSourceID(ctx context.Context) (string, error)
}

// Config is the live part of the relay: who receives mail and how it looks.
type Config struct {
	Recipients []string
	LogoURL    string
	LogoAlt    string
	RawHTML    bool
}

// Delivery is the outcome for one recipient.
type Delivery struct {
	To   string
	Err  error
	Took time.Duration
}

// Report describes one invocation.
type Report struct {
	Kind       string
	SourceID   string
	Title      string
	Subject    string
	Empty      bool
	Deliveries []Delivery
}

// Failed counts failed deliveries.
func (r Report) Failed() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err != nil {
			n++
		}
	}
	return n
}

// DeliveryEvent is published on the bus after each send.
type DeliveryEvent struct {
	Kind      string    `json:"kind"`
	SourceID  string    `json:"source_id"`
	TriggerID string    `json:"trigger_id,omitempty"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	At        time.Time `json:"at"`
	TookMS    int64     `json:"took_ms"`
	Error     string    `json:"error,omitempty"`
}

type triggerKey struct{}

// WithTrigger tags ctx with the trigger that caused the invocation.
func WithTrigger(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, triggerKey{}, id)
}

// TriggerFrom returns the trigger id set by WithTrigger, if any.
func TriggerFrom(ctx context.Context) string {
	id, _ := ctx.Value(triggerKey{}).(string)
	return id
}

// Notifier is safe for concurrent use; invocations run one at a time.
type Notifier struct {
	run sync.Mutex

	mu  sync.RWMutex
	cfg Config

	ids     IDResolver
	sheets  sheets.Opener
	tr      mailer.Transport
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
}

func New(cfg Config, ids IDResolver, op sheets.Opener, tr mailer.Transport, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{
		ids:     ids,
		sheets:  op,
		tr:      tr,
		log:     log.With(logx.String("comp", "relay")),
		bus:     bus,
		metrics: m,
	}
	n.Apply(cfg)
	return n
}

// Apply swaps recipients and branding for subsequent invocations.
func (n *Notifier) Apply(cfg Config) {
	cfg.Recipients = append([]string(nil), cfg.Recipients...)
	n.mu.Lock()
	n.cfg = cfg
	n.mu.Unlock()
}

// Config returns a copy of the live configuration.
func (n *Notifier) Config() Config {
	n.mu.RLock()
	cfg := n.cfg
	n.mu.RUnlock()
	cfg.Recipients = append([]string(nil), cfg.Recipients...)
	return cfg
}

// NotifySubmission renders values against the sheet's header row and sends
// the result to every recipient.
func (n *Notifier) NotifySubmission(ctx context.Context, values []any) (Report, error) {
	n.run.Lock()
	defer n.run.Unlock()

	cfg := n.Config()
	rep := Report{Kind: KindSubmission}
	sh, err := n.open(ctx, &rep)
	if err != nil {
		return n.abort(rep, err)
	}
	headers, err := sh.Headers(ctx)
	if err != nil {
		return n.abort(rep, fmt.Errorf("read headers: %w", err))
	}
	msg, err := render.Render(rep.Title, headers, values, cfg.LogoURL, renderOpts(cfg, false))
	if err != nil {
		return n.abort(rep, err)
	}
	return n.deliver(ctx, cfg, rep, msg)
}

// NotifyTest sends the most recent row, or the "no entries" variant when
// the sheet has only a header row.
func (n *Notifier) NotifyTest(ctx context.Context) (Report, error) {
	n.run.Lock()
	defer n.run.Unlock()

	cfg := n.Config()
	rep, msg, err := n.renderTest(ctx, cfg)
	if err != nil {
		return n.abort(rep, err)
	}
	return n.deliver(ctx, cfg, rep, msg)
}

// Preview renders the test message without sending it.
func (n *Notifier) Preview(ctx context.Context) (Report, render.Message, error) {
	n.run.Lock()
	defer n.run.Unlock()

	rep, msg, err := n.renderTest(ctx, n.Config())
	return rep, msg, err
}

// open resolves the data source and fills the report's identity fields.
func (n *Notifier) open(ctx context.Context, rep *Report) (sheets.Sheet, error) {
	id, err := n.ids.ResolveDataSourceID(ctx)
	if err != nil {
		return nil, err
	}
	rep.SourceID = id
	book, sh, err := sheets.OpenFirstSheet(ctx, n.sheets, id)
	if err != nil {
		return nil, err
	}
	rep.Title = book.Title()
	rep.Subject = render.Subject(rep.Title)
	return sh, nil
}

func (n *Notifier) renderTest(ctx context.Context, cfg Config) (Report, render.Message, error) {
	rep := Report{Kind: KindTest}
	sh, err := n.open(ctx, &rep)
	if err != nil {
		return rep, render.Message{}, err
	}
	headers, err := sh.Headers(ctx)
	if err != nil {
		return rep, render.Message{}, fmt.Errorf("read headers: %w", err)
	}
	last, err := sh.LastRow(ctx)
	if err != nil {
		return rep, render.Message{}, fmt.Errorf("read last row: %w", err)
	}

	var msg render.Message
	if last < 2 {
		rep.Empty = true
		msg, err = render.RenderEmpty(rep.Title, cfg.LogoURL, renderOpts(cfg, false))
	} else {
		var values []any
		values, err = sh.Row(ctx, last)
		if err != nil {
			return rep, render.Message{}, fmt.Errorf("read row %d: %w", last, err)
		}
		msg, err = render.Render(rep.Title, headers, values, cfg.LogoURL, renderOpts(cfg, true))
	}
	return rep, msg, err
}

func renderOpts(cfg Config, footer bool) render.Options {
	return render.Options{TestFooter: footer, Raw: cfg.RawHTML, LogoAlt: cfg.LogoAlt}
}

func (n *Notifier) abort(rep Report, err error) (Report, error) {
	n.metrics.Invocation(rep.Kind, false)
	n.log.Warn("relay aborted", logx.String("kind", rep.Kind), logx.String("source", rep.SourceID), logx.Err(err))
	return rep, err
}

// deliver sends msg to each recipient in order; one failure does not stop
// the others.
func (n *Notifier) deliver(ctx context.Context, cfg Config, rep Report, msg render.Message) (Report, error) {
	if len(cfg.Recipients) == 0 {
		return n.abort(rep, ErrNoRecipients)
	}
	trigger := TriggerFrom(ctx)
	var errs []error
	for _, to := range cfg.Recipients {
		to = strings.TrimSpace(to)
		start := time.Now()
		err := n.tr.Send(ctx, mailer.Message{To: to, Subject: msg.Subject, HTML: msg.HTML})
		took := time.Since(start)

		rep.Deliveries = append(rep.Deliveries, Delivery{To: to, Err: err, Took: took})
		n.metrics.Delivery(err == nil, took)

		ev := DeliveryEvent{Kind: rep.Kind, SourceID: rep.SourceID, TriggerID: trigger, To: to, Subject: msg.Subject, At: time.Now(), TookMS: took.Milliseconds()}
		if err != nil {
			ev.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
			eventbus.Publish(n.bus, eventbus.TypeFailed, ev)
			continue
		}
		eventbus.Publish(n.bus, eventbus.TypeSent, ev)
	}

	ok := len(errs) == 0
	n.metrics.Invocation(rep.Kind, ok)
	fields := []logx.Field{
		logx.String("kind", rep.Kind),
		logx.String("source", rep.SourceID),
		logx.String("subject", rep.Subject),
		logx.Int("recipients", len(rep.Deliveries)),
		logx.Int("failed", len(errs)),
	}
	if trigger != "" {
		fields = append(fields, logx.String("trigger", trigger))
	}
	if ok {
		n.log.Info("relay sent", fields...)
		return rep, nil
	}
	n.log.Warn("relay partially failed", fields...)
	return rep, fmt.Errorf("%w: %w", ErrDelivery, errors.Join(errs...))
}
