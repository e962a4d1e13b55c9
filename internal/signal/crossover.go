package signal

import (
	"context"
	"math"

	"autotrader/internal/indicator"
)

const DefaultSaturation = 0.005

// Crossover compares the short and long moving averages. The score reaches
// full strength once the relative spread hits the saturation level.
type Crossover struct {
	thresholds Thresholds
	saturation float64
}

func NewCrossover(thresholds Thresholds, saturation float64) *Crossover {
	if saturation <= 0 {
		saturation = DefaultSaturation
	}
	return &Crossover{thresholds: thresholds, saturation: saturation}
}

func (c *Crossover) Name() string {
	return "crossover"
}

func (c *Crossover) Generate(_ context.Context, in Input) Signal {
	factor := c.factor(in.Snapshot)
	if !factor.Available {
		return hold([]Factor{factor})
	}
	return Signal{
		Direction:  c.thresholds.Decide(factor.Score, factor.Confidence),
		Confidence: factor.Confidence,
		Score:      factor.Score,
		Factors:    []Factor{factor},
	}
}

func (c *Crossover) factor(snap indicator.Snapshot) Factor {
	factor := Factor{Name: "ma_crossover", Weight: 1}
	short, okShort := snap.ShortMA.Get()
	long, okLong := snap.LongMA.Get()
	if !okShort || !okLong || long == 0 {
		return factor
	}
	spread := math.Abs(short-long) / long
	strength := math.Min(1, spread/c.saturation)
	factor.Available = true
	factor.Score = sign(short-long) * strength
	factor.Confidence = 0.5 + 0.5*strength
	return factor
}
