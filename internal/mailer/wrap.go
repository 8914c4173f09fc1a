package mailer

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// WithTimeout bounds every Send by d.
func WithTimeout(t Transport, d time.Duration) Transport {
	return TransportFunc(func(ctx context.Context, m Message) error {
		cctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return t.Send(cctx, m)
	})
}

// WithRateLimit spaces sends with a token bucket of burst = perSec.
func WithRateLimit(t Transport, perSec int) Transport {
	lim := rate.NewLimiter(rate.Limit(perSec), perSec)
	return TransportFunc(func(ctx context.Context, m Message) error {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		return t.Send(ctx, m)
	})
}
