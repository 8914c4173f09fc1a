// Package trigger binds "form submitted" events on a data source to the
// relay's submission handler and delivers those events.
//
// A trigger is registered once per (source, event, handler); registering
// again returns the existing binding. Events arrive either from the cron
// poller, which watches the sheet for rows past the trigger's cursor, or
// from the webhook route for triggers in webhook mode.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"formrelay/internal/relay"
	"formrelay/internal/sheets"
	"formrelay/internal/storage"
	logx "formrelay/pkg/logx"
)

const (
	EventFormSubmit   = "form_submit"
	HandlerSubmission = "notify_submission"

	DeliveryPoll    = "poll"
	DeliveryWebhook = "webhook"
)

var ErrInvalidDelivery = errors.New("delivery must be poll or webhook")

// Submitter is the handler a trigger invokes.
type Submitter interface {
	NotifySubmission(ctx context.Context, values []any) (relay.Report, error)
}

// Registrar manages trigger bindings.
type Registrar struct {
	store  storage.Store
	sheets sheets.Opener
	ids    relay.IDResolver
	log    logx.Logger
}

func NewRegistrar(store storage.Store, op sheets.Opener, ids relay.IDResolver, log logx.Logger) *Registrar {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registrar{store: store, sheets: op, ids: ids, log: log.With(logx.String("comp", "trigger"))}
}

// Register binds form submissions on sourceID to the submission handler.
// An empty sourceID uses the configured data-source property.
//
// The poll cursor starts at the sheet's current last row so existing rows
// are not sent. Registering an existing binding returns it (created=false);
// a delivery mode switch also moves the cursor to the current last row, so
// rows already sent by webhook are not polled again.
func (r *Registrar) Register(ctx context.Context, sourceID, delivery string) (storage.Trigger, bool, error) {
	if r.store == nil {
		return storage.Trigger{}, false, storage.ErrDisabled
	}
	delivery = strings.ToLower(strings.TrimSpace(delivery))
	if delivery == "" {
		delivery = DeliveryPoll
	}
	if delivery != DeliveryPoll && delivery != DeliveryWebhook {
		return storage.Trigger{}, false, fmt.Errorf("%w: %q", ErrInvalidDelivery, delivery)
	}

	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		if r.ids == nil {
			return storage.Trigger{}, false, errors.New("source id required")
		}
		id, err := r.ids.ResolveDataSourceID(ctx)
		if err != nil {
			return storage.Trigger{}, false, err
		}
		sourceID = id
	}

	_, sh, err := sheets.OpenFirstSheet(ctx, r.sheets, sourceID)
	if err != nil {
		return storage.Trigger{}, false, err
	}
	last, err := sh.LastRow(ctx)
	if err != nil {
		return storage.Trigger{}, false, fmt.Errorf("read last row: %w", err)
	}

	t, created, err := r.store.PutTrigger(ctx, storage.Trigger{
		SourceID: sourceID,
		Event:    EventFormSubmit,
		Handler:  HandlerSubmission,
		Delivery: delivery,
		Cursor:   last,
	})
	if err != nil {
		return storage.Trigger{}, false, err
	}
	if created {
		r.log.Info("trigger registered", logx.String("id", t.ID), logx.String("source", sourceID), logx.String("delivery", delivery), logx.Int("cursor", last))
	} else {
		r.log.Info("trigger already registered", logx.String("id", t.ID), logx.String("source", sourceID), logx.String("delivery", t.Delivery))
	}
	return t, created, nil
}

func (r *Registrar) List(ctx context.Context) ([]storage.Trigger, error) {
	if r.store == nil {
		return nil, storage.ErrDisabled
	}
	return r.store.ListTriggers(ctx)
}

func (r *Registrar) Get(ctx context.Context, id string) (storage.Trigger, error) {
	if r.store == nil {
		return storage.Trigger{}, storage.ErrDisabled
	}
	return r.store.GetTrigger(ctx, id)
}

func (r *Registrar) Remove(ctx context.Context, id string) error {
	if r.store == nil {
		return storage.ErrDisabled
	}
	if err := r.store.DeleteTrigger(ctx, id); err != nil {
		return err
	}
	r.log.Info("trigger removed", logx.String("id", id))
	return nil
}
