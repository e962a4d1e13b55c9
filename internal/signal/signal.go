// Package signal turns an indicator snapshot into a directional signal with
// a confidence score.
package signal

import (
	"context"
	"fmt"
	"math"

	"autotrader/internal/indicator"
)

type Direction string

const (
	Hold Direction = "HOLD"
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

type Factor struct {
	Name       string  `json:"name"`
	Available  bool    `json:"available"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight,omitempty"`
}

type Signal struct {
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Score      float64   `json:"score"`
	Factors    []Factor  `json:"factors"`
}

type Input struct {
	Symbol       string
	Snapshot     indicator.Snapshot
	PositionOpen bool
}

type Provider interface {
	Name() string
	Generate(ctx context.Context, in Input) Signal
}

type Thresholds struct {
	Score      float64
	Confidence float64
}

// Decide applies the shared direction rule to an aggregate score.
func (t Thresholds) Decide(score, confidence float64) Direction {
	if confidence < t.Confidence || score == 0 {
		return Hold
	}
	switch {
	case score > t.Score:
		return Buy
	case score < -t.Score:
		return Sell
	default:
		return Hold
	}
}

func hold(factors []Factor) Signal {
	return Signal{Direction: Hold, Factors: factors}
}

type Config struct {
	Strategy   string
	Thresholds Thresholds
	Saturation float64
	Weights    Weights
	Predictor  Predictor
}

// New builds the provider named by cfg.Strategy.
func New(cfg Config) (Provider, error) {
	switch cfg.Strategy {
	case "crossover":
		return NewCrossover(cfg.Thresholds, cfg.Saturation), nil
	case "weighted", "":
		return NewWeighted(cfg.Thresholds, cfg.Weights), nil
	case "predictor":
		if cfg.Predictor == nil {
			return nil, fmt.Errorf("strategy predictor requires a predictor backend")
		}
		return NewExternal(cfg.Thresholds, cfg.Predictor), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
