package md

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
}

// AlpacaSource polls Alpaca's historical bars and latest trade endpoints.
type AlpacaSource struct {
	client barsClient
	feed   marketdata.Feed
	now    func() time.Time
}

func NewAlpacaSource(apiKey, apiSecret, feed string) *AlpacaSource {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	return &AlpacaSource{
		client: client,
		feed:   parseFeed(feed),
		now:    time.Now,
	}
}

func (s *AlpacaSource) Candles(ctx context.Context, symbol string, interval Interval, limit int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	width, err := interval.Duration()
	if err != nil {
		return nil, err
	}
	timeframe, err := toTimeFrame(width)
	if err != nil {
		return nil, err
	}

	// Bars are only produced while the market trades, so look back further
	// than limit*width and keep the newest limit bars.
	end := s.now().UTC()
	start := end.Add(-width * time.Duration(limit) * 4)
	bars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: timeframe,
		Start:     start,
		End:       end,
		Feed:      s.feed,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s: %w", symbol, ErrUnavailable)
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	candles := make([]Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, Candle{
			Timestamp: bar.Timestamp.UTC(),
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		})
	}
	return candles, nil
}

func (s *AlpacaSource) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	trade, err := s.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{Feed: s.feed})
	if err != nil {
		return 0, classify(err)
	}
	if trade == nil || trade.Price <= 0 {
		return 0, fmt.Errorf("no latest trade for %s: %w", symbol, ErrUnavailable)
	}
	return trade.Price, nil
}

// classify maps SDK failures onto the package taxonomy. The SDK reports HTTP
// status codes only inside the error text.
func classify(err error) error {
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "429") || strings.Contains(message, "too many requests") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func toTimeFrame(width time.Duration) (marketdata.TimeFrame, error) {
	switch {
	case width%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(width/(24*time.Hour)), marketdata.Day), nil
	case width%time.Hour == 0:
		return marketdata.NewTimeFrame(int(width/time.Hour), marketdata.Hour), nil
	case width%time.Minute == 0:
		return marketdata.NewTimeFrame(int(width/time.Minute), marketdata.Min), nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported interval width: %s", width)
	}
}

// delayedSIP is the 15 minute delayed SIP feed; the SDK does not name it.
const delayedSIP marketdata.Feed = "delayed_sip"

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "iex":
		return marketdata.IEX
	case "sip":
		return marketdata.SIP
	case "delayed_sip":
		return delayedSIP
	default:
		return marketdata.IEX
	}
}
