package signal

import (
	"context"
	"strings"
	"time"

	"autotrader/internal/indicator"
)

type Features struct {
	Symbol       string             `json:"symbol"`
	Timestamp    time.Time          `json:"timestamp"`
	Close        float64            `json:"close"`
	PositionOpen bool               `json:"position_open"`
	Values       map[string]float64 `json:"features"`
	Undefined    []string           `json:"undefined,omitempty"`
}

type Prediction struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
}

// Predictor is an external model that forecasts a direction from features.
type Predictor interface {
	Predict(ctx context.Context, features Features) (Prediction, error)
}

// External delegates the forecast to a Predictor. Any predictor failure
// yields HOLD with zero confidence.
type External struct {
	thresholds Thresholds
	predictor  Predictor
}

func NewExternal(thresholds Thresholds, predictor Predictor) *External {
	return &External{thresholds: thresholds, predictor: predictor}
}

func (e *External) Name() string {
	return "predictor"
}

func (e *External) Generate(ctx context.Context, in Input) Signal {
	prediction, err := e.predictor.Predict(ctx, FeaturesFrom(in))
	if err != nil {
		return hold([]Factor{{Name: "predictor_error"}})
	}
	confidence := clamp(prediction.Confidence, 0, 1)
	var score float64
	switch NormalizeDirection(string(prediction.Direction)) {
	case Buy:
		score = confidence
	case Sell:
		score = -confidence
	}
	return Signal{
		Direction:  e.thresholds.Decide(score, confidence),
		Confidence: confidence,
		Score:      score,
		Factors: []Factor{{
			Name:       "predictor",
			Available:  true,
			Score:      score,
			Confidence: confidence,
			Weight:     1,
		}},
	}
}

func FeaturesFrom(in Input) Features {
	snap := in.Snapshot
	features := Features{
		Symbol:       in.Symbol,
		Timestamp:    snap.Timestamp,
		Close:        snap.Close,
		PositionOpen: in.PositionOpen,
		Values:       make(map[string]float64),
	}
	for _, reading := range Readings(snap) {
		if v, ok := reading.Value.Get(); ok {
			features.Values[reading.Name] = v
		} else {
			features.Undefined = append(features.Undefined, reading.Name)
		}
	}
	return features
}

type Reading struct {
	Name  string
	Value indicator.Value
}

// Readings lists the snapshot values in a fixed order.
func Readings(snap indicator.Snapshot) []Reading {
	return []Reading{
		{"short_ma", snap.ShortMA},
		{"mid_ma", snap.MidMA},
		{"long_ma", snap.LongMA},
		{"rsi", snap.RSI},
		{"macd", snap.MACD},
		{"macd_signal", snap.MACDSignal},
		{"macd_hist", snap.MACDHist},
		{"boll_upper", snap.BollUpper},
		{"boll_mid", snap.BollMid},
		{"boll_lower", snap.BollLower},
		{"boll_position", snap.BollPosition},
		{"volatility", snap.Volatility},
		{"momentum", snap.Momentum},
		{"volume_ratio", snap.VolumeRatio},
		{"support", snap.Support},
		{"resistance", snap.Resistance},
	}
}

func NormalizeDirection(value string) Direction {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(Buy):
		return Buy
	case string(Sell):
		return Sell
	default:
		return Hold
	}
}
