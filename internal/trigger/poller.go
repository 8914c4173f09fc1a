package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"formrelay/internal/eventbus"
	"formrelay/internal/metrics"
	"formrelay/internal/relay"
	"formrelay/internal/sheets"
	"formrelay/internal/storage"
	logx "formrelay/pkg/logx"
)

// PollConfig controls the poller.
type PollConfig struct {
	Schedule string // see ParseSchedule
	Timezone string
	Timeout  time.Duration // per poll run; 0 means 5m
}

// PollErrorEvent is published when a poll run fails for a trigger.
type PollErrorEvent struct {
	TriggerID string `json:"trigger_id"`
	SourceID  string `json:"source_id"`
	Error     string `json:"error"`
}

// Poller discovers rows appended after each poll-mode trigger's cursor and
// hands them to the submission handler in row order.
type Poller struct {
	mu  sync.Mutex
	cfg PollConfig
	c   *cron.Cron

	running atomic.Bool

	store   storage.Store
	sheets  sheets.Opener
	handler Submitter
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
}

func NewPoller(cfg PollConfig, store storage.Store, op sheets.Opener, h Submitter, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		cfg:     cfg,
		store:   store,
		sheets:  op,
		handler: h,
		log:     log.With(logx.String("comp", "poller")),
		bus:     bus,
		metrics: m,
	}
}

// Start schedules polling. It is idempotent.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}

	raw := p.cfg.Schedule
	if strings.TrimSpace(raw) == "" {
		raw = "1m"
	}
	spec, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(p.cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return fmt.Errorf("poll timezone: %w", err)
		}
	}
	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_ = p.Poll(rctx)
	}); err != nil {
		return fmt.Errorf("poll schedule: %w", err)
	}
	c.Start()
	p.c = c

	next := ""
	if sched, err := cronParser.Parse(spec); err == nil {
		next = sched.Next(time.Now().In(loc)).Format(time.RFC3339)
	}
	p.log.Info("poller started", logx.String("spec", spec), logx.String("tz", loc.String()), logx.String("next", next))
	return nil
}

// Stop stops scheduling and waits for a running poll until ctx is done.
func (p *Poller) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	p.log.Info("poller stopped")
}

// Poll runs one pass over all poll-mode triggers. A pass that starts while
// another is in flight is skipped.
func (p *Poller) Poll(ctx context.Context) error {
	if p.store == nil {
		return storage.ErrDisabled
	}
	if !p.running.CompareAndSwap(false, true) {
		p.log.Debug("poll skipped: previous run still in flight")
		return nil
	}
	defer p.running.Store(false)

	ts, err := p.store.ListTriggers(ctx)
	if err != nil {
		p.metrics.PollError()
		return fmt.Errorf("list triggers: %w", err)
	}
	var errs []error
	for _, t := range ts {
		if t.Delivery != DeliveryPoll || t.Event != EventFormSubmit {
			continue
		}
		if err := p.pollTrigger(ctx, t); err != nil {
			p.metrics.PollError()
			p.log.Warn("poll failed", logx.String("trigger", t.ID), logx.String("source", t.SourceID), logx.Err(err))
			eventbus.Publish(p.bus, eventbus.TypePollError, PollErrorEvent{TriggerID: t.ID, SourceID: t.SourceID, Error: err.Error()})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pollTrigger sends every row after t.Cursor. The cursor advances once a
// row's sends were attempted, whatever their outcome; errors that abort
// before sending, and cancellation of ctx, leave it in place.
func (p *Poller) pollTrigger(ctx context.Context, t storage.Trigger) error {
	_, sh, err := sheets.OpenFirstSheet(ctx, p.sheets, t.SourceID)
	if err != nil {
		return err
	}
	last, err := sh.LastRow(ctx)
	if err != nil {
		return fmt.Errorf("read last row: %w", err)
	}

	if last < t.Cursor {
		p.log.Warn("sheet shrank, resetting cursor", logx.String("trigger", t.ID), logx.Int("cursor", t.Cursor), logx.Int("last_row", last))
		return p.store.SetCursor(ctx, t.ID, last)
	}

	found := 0
	hctx := relay.WithTrigger(ctx, t.ID)
	for row := t.Cursor + 1; row <= last; row++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if row < 2 {
			// header row
			if err := p.store.SetCursor(ctx, t.ID, row); err != nil {
				return err
			}
			continue
		}
		values, err := sh.Row(ctx, row)
		if err != nil {
			return fmt.Errorf("read row %d: %w", row, err)
		}
		found++
		_, err = p.handler.NotifySubmission(hctx, values)
		if cerr := ctx.Err(); cerr != nil {
			// sends cut short by shutdown; retry the row next run
			return fmt.Errorf("row %d: %w", row, cerr)
		}
		if err != nil && !errors.Is(err, relay.ErrDelivery) {
			return fmt.Errorf("row %d: %w", row, err)
		}
		if cerr := p.store.SetCursor(ctx, t.ID, row); cerr != nil {
			return cerr
		}
		if err != nil {
			p.log.Warn("row delivered with failures", logx.String("trigger", t.ID), logx.Int("row", row), logx.Err(err))
		}
	}
	p.metrics.PolledRows(found)
	if found > 0 {
		p.log.Debug("poll done", logx.String("trigger", t.ID), logx.Int("rows", found), logx.Int("cursor", last))
	}
	return nil
}
