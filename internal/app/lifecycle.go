package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"formrelay/internal/config"
	"formrelay/internal/eventbus"
	"formrelay/internal/httpapi"
	"formrelay/internal/relay"
	rtsup "formrelay/internal/runtime/supervisor"
	"formrelay/internal/storage"
	logx "formrelay/pkg/logx"
)

// Start launches the background loops: audit, config reload/watch, the
// poller and the HTTP server. It returns once they are scheduled.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return fmt.Errorf("app already started")
	}
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPollConfig(cfg); err != nil {
			return err
		}
		_, err := mapHTTPConfig(cfg)
		return err
	})

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("audit", func(c context.Context) error {
			defer unsub()
			runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
			return nil
		})
	}

	sub, unsub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer unsub()
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.poller != nil {
		if err := a.poller.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			return err
		}
	}

	if a.httpCfg.Addr != "" {
		deps := httpapi.Deps{
			Tester:     a.relay,
			Metrics:    a.metrics,
			Supervisor: a.sup,
			Log:        a.log,
		}
		if a.webhook != nil {
			deps.Hooks = a.webhook
		}
		a.http = httpapi.NewServer(a.httpCfg, httpapi.NewHandler(a.httpCfg, deps), a.log)
		a.http.Run(a.sup)
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.Bool("poller", a.poller != nil),
		logx.Bool("http", a.http != nil),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// Reload re-reads the config file on demand (SIGHUP). Accepted changes reach
// the reload loop like file-watch changes do.
func (a *App) Reload(ctx context.Context) error {
	changed, err := a.cfgm.Reload(ctx)
	if err != nil {
		a.log.Warn("config reload failed", logx.Err(err))
		return err
	}
	if !changed {
		a.log.Info("config reload requested; file unchanged")
	}
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" when the server is off or
// not yet listening.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// applyConfig applies the live sections of a reloaded config. Sections that
// need a restart are only reported.
func (a *App) applyConfig(old, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(cfg))
	}
	a.relay.Apply(mapRelayConfig(cfg))

	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", rr))
	}
	eventbus.Publish(a.bus, eventbus.TypeConfigReload, sections)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Audited runs fn with an audit writer attached, for one-shot commands
// that never call Start. Deliveries published by fn are persisted before
// Audited returns.
func (a *App) Audited(ctx context.Context, fn func() error) error {
	if a.store == nil || a.sup != nil {
		return fn()
	}
	events, unsub := a.bus.Subscribe(2*len(a.relay.Config().Recipients) + 8)
	err := fn()
	unsub()
	runAudit(context.WithoutCancel(ctx), events, a.store, a.log.With(logx.String("comp", "audit")))
	return err
}

// runAudit persists delivery events until ctx is done or events closes.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.TypeSent && e.Type != eventbus.TypeFailed {
				continue
			}
			ev, ok := e.Data.(relay.DeliveryEvent)
			if !ok {
				continue
			}
			entry := storage.AuditEntry{
				At:        ev.At,
				Kind:      ev.Kind,
				TriggerID: ev.TriggerID,
				Recipient: ev.To,
				Subject:   ev.Subject,
				OK:        e.Type == eventbus.TypeSent,
				Error:     ev.Error,
				TookMS:    ev.TookMS,
			}
			if err := store.AppendAudit(ctx, entry); err != nil {
				log.Warn("audit append failed", logx.Err(err), logx.String("recipient", ev.To))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; a late finish is logged as a leak.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("poller", 5*time.Second, func(c context.Context) error {
		if a.poller != nil {
			a.poller.Stop(c)
		}
		return nil
	})

	// Wait for supervised loops (http, audit, config watch/reload) before
	// closing the stores they use.
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	step("stores", 2*time.Second, func(context.Context) error { return a.closeStores() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return a.sup.Err()
}
