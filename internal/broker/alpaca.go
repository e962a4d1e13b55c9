package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type orderAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	GetPosition(symbol string) (*alpaca.Position, error)
	GetClock() (*alpaca.Clock, error)
}

type AlpacaConfig struct {
	APIKey       string
	APISecret    string
	BaseURL      string
	FillTimeout  time.Duration
	PollInterval time.Duration
}

// Alpaca places market orders and waits for them to fill. An order that is
// still working when the fill timeout expires is reported as
// ErrNetworkFailure because its outcome is not known yet.
type Alpaca struct {
	api          orderAPI
	fillTimeout  time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewAlpaca(cfg AlpacaConfig, log zerolog.Logger) *Alpaca {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return newAlpaca(client, cfg, log)
}

func newAlpaca(api orderAPI, cfg AlpacaConfig, log zerolog.Logger) *Alpaca {
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Alpaca{
		api:          api,
		fillTimeout:  cfg.FillTimeout,
		pollInterval: cfg.PollInterval,
		log:          log.With().Str("component", "alpaca_executor").Logger(),
	}
}

func (a *Alpaca) SubmitMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (Fill, error) {
	quantity := decimal.NewFromFloat(qty)
	clientOrderID := uuid.NewString()
	order, err := a.api.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &quantity,
		Side:          alpaca.Side(side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		a.log.Error().Err(err).Str("symbol", symbol).Str("side", string(side)).Float64("qty", qty).Msg("place order failed")
		return Fill{}, classifyOrderError(err)
	}
	a.log.Info().Str("order_id", order.ID).Str("client_order_id", clientOrderID).Str("symbol", symbol).
		Str("side", string(side)).Float64("qty", qty).Str("status", string(order.Status)).Msg("order placed")

	return a.awaitFill(ctx, order)
}

func (a *Alpaca) awaitFill(ctx context.Context, order *alpaca.Order) (Fill, error) {
	deadline := time.Now().Add(a.fillTimeout)
	for {
		switch string(order.Status) {
		case "filled":
			return fillFrom(order), nil
		case "rejected", "canceled", "expired", "suspended":
			// A terminal order may still carry fills; only the broker's
			// position can tell how much of it executed.
			if order.FilledQty.IsPositive() {
				return Fill{}, fmt.Errorf("%w: order %s %s after filling %s", ErrNetworkFailure, order.ID, order.Status, order.FilledQty)
			}
			return Fill{}, fmt.Errorf("%w: order %s %s", ErrRejected, order.ID, order.Status)
		}
		if time.Now().After(deadline) {
			return Fill{}, fmt.Errorf("%w: order %s still %s after %s", ErrNetworkFailure, order.ID, order.Status, a.fillTimeout)
		}
		if err := WaitForContext(ctx, a.pollInterval); err != nil {
			return Fill{}, fmt.Errorf("%w: order %s: %v", ErrNetworkFailure, order.ID, err)
		}
		next, err := a.api.GetOrder(order.ID)
		if err != nil {
			a.log.Warn().Err(err).Str("order_id", order.ID).Msg("poll order failed")
			continue
		}
		order = next
	}
}

func (a *Alpaca) Position(ctx context.Context, symbol string) (Position, error) {
	pos, err := a.api.GetPosition(symbol)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return Position{}, ErrNoPosition
		}
		return Position{}, fmt.Errorf("fetch position %s: %w", symbol, err)
	}
	return Position{
		Symbol:   pos.Symbol,
		Quantity: pos.Qty.InexactFloat64(),
		AvgEntry: pos.AvgEntryPrice.InexactFloat64(),
	}, nil
}

func (a *Alpaca) IsOpen(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	clock, err := a.api.GetClock()
	if err != nil {
		return false, fmt.Errorf("fetch market clock: %w", err)
	}
	return clock.IsOpen, nil
}

func fillFrom(order *alpaca.Order) Fill {
	fill := Fill{OrderID: order.ID, Quantity: order.FilledQty.InexactFloat64()}
	if order.FilledAvgPrice != nil {
		fill.Price = order.FilledAvgPrice.InexactFloat64()
	}
	return fill
}

func classifyOrderError(err error) error {
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	switch {
	case apiErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, apiErr.Message)
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrRejected, apiErr.Message)
	default:
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
}
