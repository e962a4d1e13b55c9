// Package indicator computes technical indicators over a candle series.
// Every reading is optional: an indicator whose lookback exceeds the
// available history is undefined rather than zero.
package indicator

import (
	"fmt"
	"time"

	"autotrader/internal/md"
)

type Params struct {
	ShortWindow      int     `yaml:"short_window" default:"5" validate:"gt=0"`
	MidWindow        int     `yaml:"mid_window" default:"10" validate:"gt=0"`
	LongWindow       int     `yaml:"long_window" default:"20" validate:"gt=0"`
	RSIPeriod        int     `yaml:"rsi_period" default:"14" validate:"gt=0"`
	MACDFast         int     `yaml:"macd_fast" default:"12" validate:"gt=0"`
	MACDSlow         int     `yaml:"macd_slow" default:"26" validate:"gt=0"`
	MACDSignal       int     `yaml:"macd_signal" default:"9" validate:"gt=0"`
	BollWindow       int     `yaml:"boll_window" default:"20" validate:"gt=1"`
	BollK            float64 `yaml:"boll_k" default:"2" validate:"gt=0"`
	VolatilityWindow int     `yaml:"volatility_window" default:"10" validate:"gt=1"`
	MomentumPeriod   int     `yaml:"momentum_period" default:"5" validate:"gt=0"`
	VolumeWindow     int     `yaml:"volume_window" default:"10" validate:"gt=0"`
	SupportWindow    int     `yaml:"support_window" default:"20" validate:"gt=0"`
}

func DefaultParams() Params {
	return Params{
		ShortWindow:      5,
		MidWindow:        10,
		LongWindow:       20,
		RSIPeriod:        14,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		BollWindow:       20,
		BollK:            2,
		VolatilityWindow: 10,
		MomentumPeriod:   5,
		VolumeWindow:     10,
		SupportWindow:    20,
	}
}

func (p Params) Validate() error {
	if p.ShortWindow >= p.LongWindow {
		return fmt.Errorf("short_window (%d) must be less than long_window (%d)", p.ShortWindow, p.LongWindow)
	}
	if p.MACDFast >= p.MACDSlow {
		return fmt.Errorf("macd_fast (%d) must be less than macd_slow (%d)", p.MACDFast, p.MACDSlow)
	}
	return nil
}

// ValidateAlignment also requires short <= mid <= long, which the
// moving average alignment score reads as a trend ordering.
func (p Params) ValidateAlignment() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.MidWindow < p.ShortWindow || p.MidWindow > p.LongWindow {
		return fmt.Errorf("mid_window (%d) must be between short_window and long_window", p.MidWindow)
	}
	return nil
}

// MinLookback is the number of candles needed for every indicator to be
// defined.
func (p Params) MinLookback() int {
	longest := p.MACDSlow + p.MACDSignal
	for _, w := range []int{
		p.LongWindow,
		p.MidWindow,
		p.ShortWindow,
		p.RSIPeriod + 1,
		p.BollWindow,
		p.VolatilityWindow,
		p.MomentumPeriod + 1,
		p.VolumeWindow,
		p.SupportWindow,
	} {
		if w > longest {
			longest = w
		}
	}
	return longest
}

type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
	Bars      int       `json:"bars"`

	ShortMA Value `json:"short_ma"`
	MidMA   Value `json:"mid_ma"`
	LongMA  Value `json:"long_ma"`

	RSI Value `json:"rsi"`

	MACD       Value `json:"macd"`
	MACDSignal Value `json:"macd_signal"`
	MACDHist   Value `json:"macd_hist"`

	BollUpper    Value `json:"boll_upper"`
	BollMid      Value `json:"boll_mid"`
	BollLower    Value `json:"boll_lower"`
	BollPosition Value `json:"boll_position"`

	Volatility  Value `json:"volatility"`
	Momentum    Value `json:"momentum"`
	VolumeRatio Value `json:"volume_ratio"`
	Support     Value `json:"support"`
	Resistance  Value `json:"resistance"`
}

// Compute derives a snapshot from candles ordered oldest first.
func Compute(candles []md.Candle, p Params) Snapshot {
	snap := Snapshot{Bars: len(candles)}
	if len(candles) == 0 {
		return snap
	}
	last := candles[len(candles)-1]
	snap.Timestamp = last.Timestamp
	snap.Close = last.Close

	closes := md.Closes(candles)
	volumes := md.Volumes(candles)
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}

	snap.ShortMA = SMA(closes, p.ShortWindow)
	snap.MidMA = SMA(closes, p.MidWindow)
	snap.LongMA = SMA(closes, p.LongWindow)
	snap.RSI = RSI(closes, p.RSIPeriod)

	macd := MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	snap.MACD = macd.MACD
	snap.MACDSignal = macd.Signal
	snap.MACDHist = macd.Histogram

	boll := Bollinger(closes, p.BollWindow, p.BollK)
	snap.BollUpper = boll.Upper
	snap.BollMid = boll.Mid
	snap.BollLower = boll.Lower
	snap.BollPosition = boll.Position

	snap.Volatility = Volatility(closes, p.VolatilityWindow)
	snap.Momentum = Momentum(closes, p.MomentumPeriod)
	snap.VolumeRatio = VolumeRatio(volumes, p.VolumeWindow)
	snap.Support = Min(lows, p.SupportWindow)
	snap.Resistance = Max(highs, p.SupportWindow)
	return snap
}
