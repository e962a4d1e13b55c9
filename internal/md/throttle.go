package md

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled serializes access to a Source shared by several workers through
// one client-side rate limiter.
type Throttled struct {
	source  Source
	limiter *rate.Limiter
}

func NewThrottled(source Source, limiter *rate.Limiter) *Throttled {
	return &Throttled{source: source, limiter: limiter}
}

func (t *Throttled) Candles(ctx context.Context, symbol string, interval Interval, limit int) ([]Candle, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}
	return t.source.Candles(ctx, symbol, interval, limit)
}

func (t *Throttled) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("wait for rate limiter: %w", err)
	}
	return t.source.LastPrice(ctx, symbol)
}
