package md

import (
	"context"
	"errors"
)

var (
	ErrUnavailable = errors.New("market data unavailable")
	ErrRateLimited = errors.New("market data rate limited")
)

// Source is the market data collaborator. Candles are returned oldest first.
type Source interface {
	Candles(ctx context.Context, symbol string, interval Interval, limit int) ([]Candle, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}
