package broker

import (
	"context"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type fakeOrders struct {
	placeErr  error
	placed    alpaca.PlaceOrderRequest
	statuses  []string
	polls     int
	filledAvg float64
	partial   bool
	posErr    error
	pos       *alpaca.Position
	clock     *alpaca.Clock
	clockErr  error
}

func (f *fakeOrders) order() *alpaca.Order {
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	avg := decimal.NewFromFloat(f.filledAvg)
	filled := decimal.Zero
	if f.statuses[i] == "filled" || f.partial {
		filled = *f.placed.Qty
	}
	return &alpaca.Order{
		ID:             "order-1",
		Status:         f.statuses[i],
		FilledQty:      filled,
		FilledAvgPrice: &avg,
	}
}

func (f *fakeOrders) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	f.placed = req
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return f.order(), nil
}

func (f *fakeOrders) GetOrder(orderID string) (*alpaca.Order, error) {
	f.polls++
	return f.order(), nil
}

func (f *fakeOrders) GetPosition(symbol string) (*alpaca.Position, error) {
	return f.pos, f.posErr
}

func (f *fakeOrders) GetClock() (*alpaca.Clock, error) {
	return f.clock, f.clockErr
}

func testAlpaca(api orderAPI, timeout time.Duration) *Alpaca {
	return newAlpaca(api, AlpacaConfig{FillTimeout: timeout, PollInterval: time.Millisecond}, zerolog.Nop())
}

func TestAlpacaWaitsForFill(t *testing.T) {
	api := &fakeOrders{statuses: []string{"new", "partially_filled", "filled"}, filledAvg: 101.25}
	fill, err := testAlpaca(api, time.Second).SubmitMarketOrder(context.Background(), "AAPL", Buy, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Price != 101.25 || fill.Quantity != 2 || fill.OrderID != "order-1" {
		t.Fatalf("unexpected fill %+v", fill)
	}
	if api.placed.Type != alpaca.Market || api.placed.Side != alpaca.Buy {
		t.Fatalf("expected market buy, got %s %s", api.placed.Type, api.placed.Side)
	}
	if api.placed.ClientOrderID == "" {
		t.Fatalf("expected a client order id")
	}
}

func TestAlpacaUnfilledIsAmbiguous(t *testing.T) {
	api := &fakeOrders{statuses: []string{"new"}}
	_, err := testAlpaca(api, 5*time.Millisecond).SubmitMarketOrder(context.Background(), "AAPL", Sell, 1)
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
}

func TestAlpacaRejectedStatus(t *testing.T) {
	api := &fakeOrders{statuses: []string{"rejected"}}
	_, err := testAlpaca(api, time.Second).SubmitMarketOrder(context.Background(), "AAPL", Buy, 1)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestAlpacaCanceledAfterFillsIsAmbiguous(t *testing.T) {
	for _, status := range []string{"canceled", "expired"} {
		api := &fakeOrders{statuses: []string{"partially_filled", status}, partial: true, filledAvg: 99}
		_, err := testAlpaca(api, time.Second).SubmitMarketOrder(context.Background(), "AAPL", Sell, 2)
		if !errors.Is(err, ErrNetworkFailure) {
			t.Fatalf("%s with fills: expected ErrNetworkFailure, got %v", status, err)
		}
		if errors.Is(err, ErrRejected) {
			t.Fatalf("%s with fills must not be a definite rejection", status)
		}
	}
}

func TestAlpacaCanceledWithoutFillsIsRejected(t *testing.T) {
	api := &fakeOrders{statuses: []string{"new", "canceled"}}
	_, err := testAlpaca(api, time.Second).SubmitMarketOrder(context.Background(), "AAPL", Buy, 1)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestAlpacaClassifiesPlaceErrors(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&alpaca.APIError{StatusCode: http.StatusForbidden, Message: "insufficient buying power"}, ErrInsufficientFunds},
		{&alpaca.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "qty must be > 0"}, ErrRejected},
		{&alpaca.APIError{StatusCode: http.StatusBadGateway}, ErrNetworkFailure},
		{errors.New("dial tcp: i/o timeout"), ErrNetworkFailure},
	}
	for _, tc := range cases {
		api := &fakeOrders{placeErr: tc.err, statuses: []string{"new"}}
		_, err := testAlpaca(api, time.Second).SubmitMarketOrder(context.Background(), "AAPL", Buy, 1)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%v: expected %v, got %v", tc.err, tc.want, err)
		}
	}
}

func TestAlpacaPositionNotFound(t *testing.T) {
	api := &fakeOrders{posErr: &alpaca.APIError{StatusCode: http.StatusNotFound}}
	if _, err := testAlpaca(api, time.Second).Position(context.Background(), "AAPL"); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}

	api = &fakeOrders{pos: &alpaca.Position{
		Symbol:        "AAPL",
		Qty:           decimal.NewFromFloat(3),
		AvgEntryPrice: decimal.NewFromFloat(99.5),
	}}
	pos, err := testAlpaca(api, time.Second).Position(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Quantity != 3 || pos.AvgEntry != 99.5 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestAlpacaMarketClock(t *testing.T) {
	api := &fakeOrders{clock: &alpaca.Clock{IsOpen: true}}
	exec := testAlpaca(api, time.Second)
	open, err := exec.IsOpen(context.Background())
	if err != nil || !open {
		t.Fatalf("expected open market, got %v (%v)", open, err)
	}

	throttled := NewThrottled(exec, rate.NewLimiter(rate.Inf, 1))
	api.clock = &alpaca.Clock{IsOpen: false}
	if open, err := throttled.IsOpen(context.Background()); err != nil || open {
		t.Fatalf("expected forwarded closed market, got %v (%v)", open, err)
	}

	api.clockErr = errors.New("connection reset")
	if _, err := exec.IsOpen(context.Background()); err == nil {
		t.Fatalf("expected clock error")
	}

	paper := NewThrottled(NewPaper(fixedPrice(50), 0), rate.NewLimiter(rate.Inf, 1))
	if _, err := paper.IsOpen(context.Background()); err == nil {
		t.Fatalf("expected error for an executor without a market clock")
	}
}

func fixedPrice(price float64) PriceFunc {
	return func(ctx context.Context, symbol string) (float64, error) {
		return price, nil
	}
}

func TestPaperRoundTrip(t *testing.T) {
	paper := NewPaper(fixedPrice(100), 10)
	fill, err := paper.SubmitMarketOrder(context.Background(), "AAPL", Buy, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(fill.Price-100.1) > 1e-9 {
		t.Fatalf("expected slipped price 100.1, got %v", fill.Price)
	}
	pos, err := paper.Position(context.Background(), "AAPL")
	if err != nil || pos.Quantity != 2 {
		t.Fatalf("expected position of 2, got %+v (%v)", pos, err)
	}

	if _, err := paper.SubmitMarketOrder(context.Background(), "AAPL", Sell, 3); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected oversell rejection, got %v", err)
	}
	if _, err := paper.SubmitMarketOrder(context.Background(), "AAPL", Sell, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := paper.Position(context.Background(), "AAPL"); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("expected flat position, got %v", err)
	}
}

func TestThrottledForwards(t *testing.T) {
	paper := NewPaper(fixedPrice(50), 0)
	throttled := NewThrottled(paper, rate.NewLimiter(rate.Inf, 1))
	if _, err := throttled.SubmitMarketOrder(context.Background(), "MSFT", Buy, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, err := throttled.Position(context.Background(), "MSFT")
	if err != nil || pos.Quantity != 1 {
		t.Fatalf("expected forwarded position, got %+v (%v)", pos, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := NewThrottled(paper, rate.NewLimiter(rate.Every(time.Hour), 0))
	if _, err := blocked.SubmitMarketOrder(ctx, "MSFT", Buy, 1); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected definite failure when the limiter gives up, got %v", err)
	}
}
