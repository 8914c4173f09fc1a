package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"formrelay/internal/config"
	"formrelay/internal/eventbus"
	"formrelay/internal/httpapi"
	"formrelay/internal/mailer"
	"formrelay/internal/metrics"
	"formrelay/internal/props"
	"formrelay/internal/relay"
	rtsup "formrelay/internal/runtime/supervisor"
	"formrelay/internal/sheets"
	"formrelay/internal/storage"
	"formrelay/internal/trigger"
	logx "formrelay/pkg/logx"
)

// App owns every long-lived component of the relay.
//
// NewApp wires the components; one-shot commands use the accessors and then
// Close. The daemon calls Start and Stop instead.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     *eventbus.Mem
	metrics *metrics.Metrics
	store   storage.Store

	props  props.Source
	ids    *props.Resolver
	sheets sheets.Opener
	relay  *relay.Notifier

	triggers *trigger.Registrar
	poller   *trigger.Poller
	webhook  *trigger.Webhook

	httpCfg httpapi.Config
	http    *httpapi.Server

	storesOnce sync.Once
	storesErr  error
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		metrics: metrics.New(),
	}
	if err := a.wire(ctx, cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	bus := a.bus
	if err := a.metrics.WatchGauge("eventbus_dropped_total", "Events dropped for slow subscribers.", func() float64 {
		return float64(bus.Dropped())
	}); err != nil {
		return err
	}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	src, err := openProps(cfg, a.store)
	if err != nil {
		return err
	}
	a.props = src
	a.ids = props.NewResolver(src, cfg.PropertyKey())

	shc, err := mapSheetsConfig(cfg)
	if err != nil {
		return err
	}
	op, err := sheets.Open(ctx, shc, log.With(logx.String("comp", "sheets")))
	if err != nil {
		return fmt.Errorf("sheets: %w", err)
	}
	a.sheets = op

	mc, err := mapMailConfig(cfg)
	if err != nil {
		return err
	}
	tr, err := mailer.Build(mc, log.With(logx.String("comp", "mailer")))
	if err != nil {
		return err
	}

	a.relay = relay.New(mapRelayConfig(cfg), a.ids, a.sheets, tr, log, a.bus, a.metrics)

	if a.store != nil {
		a.triggers = trigger.NewRegistrar(a.store, a.sheets, a.ids, log)
		a.webhook = trigger.NewWebhook(a.triggers, a.relay)
		if cfg.Triggers.Poll.Enabled {
			pc, err := mapPollConfig(cfg)
			if err != nil {
				return err
			}
			a.poller = trigger.NewPoller(pc, a.store, a.sheets, a.relay, log, a.bus, a.metrics)
		}
	} else if cfg.Triggers.Poll.Enabled {
		a.log.Warn("triggers.poll.enabled is set but storage is disabled; poller not started")
	}

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			return err
		}
		a.httpCfg = hc
	}
	return nil
}

func openProps(cfg *config.Config, store storage.Store) (props.Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Properties.Source)) {
	case "env":
		src, err := props.NewEnvSource(cfg.Properties.Dotenv...)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return props.StoreSource{Store: store}, nil
	}
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Relay() *relay.Notifier { return a.relay }

func (a *App) Sheets() sheets.Opener { return a.sheets }

func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Triggers returns the registrar, or storage.ErrDisabled without a store.
func (a *App) Triggers() (*trigger.Registrar, error) {
	if a.triggers == nil {
		return nil, storage.ErrDisabled
	}
	return a.triggers, nil
}

// PropertyKey is the property name holding the data-source identifier.
func (a *App) PropertyKey() string { return a.ids.Key() }

// Property reads a property from the configured source.
func (a *App) Property(ctx context.Context, key string) (string, bool, error) {
	return a.props.Lookup(ctx, key)
}

// Properties returns the writable property source, or props.ErrReadOnly.
func (a *App) Properties() (props.Writer, error) {
	w, ok := a.props.(props.Writer)
	if !ok {
		return nil, props.ErrReadOnly
	}
	return w, nil
}

// Done is closed when the app context ends (Stop or a fatal loop error).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Close releases the stores and the log file. It is safe to call more
// than once.
func (a *App) Close() error {
	err := a.closeStores()
	if a.logs != nil {
		err = errors.Join(err, a.logs.Close())
	}
	return err
}

func (a *App) closeStores() error {
	a.storesOnce.Do(func() {
		var errs []error
		if a.sheets != nil {
			errs = append(errs, a.sheets.Close())
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
		a.storesErr = errors.Join(errs...)
	})
	return a.storesErr
}
