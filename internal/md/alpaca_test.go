package md

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

type fakeBars struct {
	bars     []marketdata.Bar
	trade    *marketdata.Trade
	err      error
	lastReq  marketdata.GetBarsRequest
	barCalls int
}

func (f *fakeBars) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.barCalls++
	f.lastReq = req
	return f.bars, f.err
}

func (f *fakeBars) GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
	return f.trade, f.err
}

func TestAlpacaSourceKeepsNewestBars(t *testing.T) {
	base := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	fake := &fakeBars{}
	for i := 0; i < 5; i++ {
		fake.bars = append(fake.bars, marketdata.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Close:     float64(100 + i),
			Volume:    10,
		})
	}
	source := &AlpacaSource{client: fake, feed: marketdata.IEX, now: func() time.Time { return base.Add(time.Hour) }}

	candles, err := source.Candles(context.Background(), "AAPL", "1m", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	if candles[0].Close != 102 || candles[2].Close != 104 {
		t.Fatalf("unexpected closes: %v", Closes(candles))
	}
	if !fake.lastReq.End.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected request end at now, got %s", fake.lastReq.End)
	}
}

func TestAlpacaSourceClassifiesErrors(t *testing.T) {
	fake := &fakeBars{err: errors.New("status code 429: too many requests")}
	source := &AlpacaSource{client: fake, feed: marketdata.IEX, now: time.Now}

	_, err := source.Candles(context.Background(), "AAPL", "1m", 3)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}

	fake.err = errors.New("connection reset")
	_, err = source.LastPrice(context.Background(), "AAPL")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestAlpacaSourceRejectsUnsupportedInterval(t *testing.T) {
	source := &AlpacaSource{client: &fakeBars{}, feed: marketdata.IEX, now: time.Now}
	if _, err := source.Candles(context.Background(), "AAPL", "bogus", 3); err == nil {
		t.Fatalf("expected error for bad interval")
	}
}

func TestParseFeed(t *testing.T) {
	cases := map[string]marketdata.Feed{
		"iex":         marketdata.IEX,
		"sip":         marketdata.SIP,
		"delayed_sip": "delayed_sip",
		"":            marketdata.IEX,
	}
	for in, want := range cases {
		if got := parseFeed(in); got != want {
			t.Fatalf("parseFeed(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAlpacaSourceRequestsConfiguredFeed(t *testing.T) {
	client := &fakeBars{bars: []marketdata.Bar{{Timestamp: time.Now(), Close: 100}}}
	source := &AlpacaSource{client: client, feed: parseFeed("delayed_sip"), now: time.Now}
	if _, err := source.Candles(context.Background(), "AAPL", "1m", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.lastReq.Feed != "delayed_sip" {
		t.Fatalf("expected delayed_sip feed on request, got %q", client.lastReq.Feed)
	}
}
