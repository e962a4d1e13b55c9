package broker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled shares one rate limiter between workers submitting to the same
// broker account.
type Throttled struct {
	next    Executor
	limiter *rate.Limiter
}

func NewThrottled(next Executor, limiter *rate.Limiter) *Throttled {
	return &Throttled{next: next, limiter: limiter}
}

func (t *Throttled) SubmitMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (Fill, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		// Nothing was sent, so the failure is definite.
		return Fill{}, fmt.Errorf("%w: rate limiter: %v", ErrRejected, err)
	}
	return t.next.SubmitMarketOrder(ctx, symbol, side, qty)
}

// Position forwards to the wrapped executor when it can reconcile.
func (t *Throttled) Position(ctx context.Context, symbol string) (Position, error) {
	rec, ok := t.next.(Reconciler)
	if !ok {
		return Position{}, fmt.Errorf("executor %T cannot report positions", t.next)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return Position{}, err
	}
	return rec.Position(ctx, symbol)
}

// IsOpen forwards to the wrapped executor when it has a market clock.
func (t *Throttled) IsOpen(ctx context.Context) (bool, error) {
	clock, ok := t.next.(MarketClock)
	if !ok {
		return false, fmt.Errorf("executor %T has no market clock", t.next)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return clock.IsOpen(ctx)
}
