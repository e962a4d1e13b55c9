// Package broker submits market orders and reports broker-side positions.
package broker

import (
	"context"
	"errors"
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

var (
	// ErrRejected and ErrInsufficientFunds are definite: no order exists.
	ErrRejected          = errors.New("order rejected")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNetworkFailure is ambiguous: the order may or may not have executed.
	ErrNetworkFailure = errors.New("order outcome unknown")
	ErrNoPosition     = errors.New("no broker position")
)

type Fill struct {
	Price    float64
	Quantity float64
	OrderID  string
}

type Executor interface {
	SubmitMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (Fill, error)
}

type Position struct {
	Symbol   string
	Quantity float64
	AvgEntry float64
}

// Reconciler is implemented by executors that can report the broker's view
// of a symbol. Position returns ErrNoPosition when the symbol is flat.
type Reconciler interface {
	Position(ctx context.Context, symbol string) (Position, error)
}

// MarketClock reports whether the exchange is in its regular session.
type MarketClock interface {
	IsOpen(ctx context.Context) (bool, error)
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
