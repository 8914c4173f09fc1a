package trigger

import (
	"context"
	"errors"

	"formrelay/internal/relay"
)

var ErrNotWebhook = errors.New("trigger is not in webhook mode")

// Webhook delivers externally pushed submissions for webhook-mode triggers.
type Webhook struct {
	reg     *Registrar
	handler Submitter
}

func NewWebhook(reg *Registrar, h Submitter) *Webhook {
	return &Webhook{reg: reg, handler: h}
}

// Fire invokes the submission handler for trigger id. It returns
// storage.ErrNotFound for unknown triggers and ErrNotWebhook for poll-mode
// ones.
func (w *Webhook) Fire(ctx context.Context, id string, values []any) (relay.Report, error) {
	t, err := w.reg.Get(ctx, id)
	if err != nil {
		return relay.Report{}, err
	}
	if t.Delivery != DeliveryWebhook || t.Event != EventFormSubmit {
		return relay.Report{}, ErrNotWebhook
	}
	return w.handler.NotifySubmission(relay.WithTrigger(ctx, t.ID), values)
}

