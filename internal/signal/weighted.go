package signal

import (
	"context"
	"math"

	"autotrader/internal/indicator"
)

type Weights struct {
	MA        float64 `yaml:"ma" default:"0.30" validate:"gte=0"`
	RSI       float64 `yaml:"rsi" default:"0.25" validate:"gte=0"`
	MACD      float64 `yaml:"macd" default:"0.20" validate:"gte=0"`
	Bollinger float64 `yaml:"bollinger" default:"0.15" validate:"gte=0"`
	Volume    float64 `yaml:"volume" default:"0.10" validate:"gte=0"`
}

func DefaultWeights() Weights {
	return Weights{MA: 0.30, RSI: 0.25, MACD: 0.20, Bollinger: 0.15, Volume: 0.10}
}

func (w Weights) total() float64 {
	return w.MA + w.RSI + w.MACD + w.Bollinger + w.Volume
}

const (
	maSaturation  = 0.01
	rsiOversold   = 20
	rsiOverbought = 80
	bandEdge      = 0.1
)

// Weighted blends several indicator factors. Factors whose inputs are
// undefined are reported but excluded, and the remaining weights are
// renormalized.
type Weighted struct {
	thresholds Thresholds
	weights    Weights
}

func NewWeighted(thresholds Thresholds, weights Weights) *Weighted {
	if weights.total() <= 0 {
		weights = DefaultWeights()
	}
	return &Weighted{thresholds: thresholds, weights: weights}
}

func (w *Weighted) Name() string {
	return "weighted"
}

func (w *Weighted) Generate(_ context.Context, in Input) Signal {
	snap := in.Snapshot
	factors := []Factor{
		maFactor(snap, w.weights.MA),
		rsiFactor(snap, w.weights.RSI),
		macdFactor(snap, w.weights.MACD),
		bollingerFactor(snap, w.weights.Bollinger),
	}

	var weighted, weightSum float64
	for _, f := range factors {
		if f.Available && f.Weight > 0 {
			weighted += f.Weight * f.Score
			weightSum += f.Weight
		}
	}
	// Volume only confirms the direction the other factors agree on.
	lean := 0.0
	if weightSum > 0 {
		lean = weighted / weightSum
	}
	volume := volumeFactor(snap, w.weights.Volume, lean)
	factors = append(factors, volume)
	if volume.Available && volume.Weight > 0 {
		weighted += volume.Weight * volume.Score
		weightSum += volume.Weight
	}

	confidences := make([]float64, 0, len(factors))
	for _, f := range factors {
		if f.Available && f.Weight > 0 {
			confidences = append(confidences, f.Confidence)
		}
	}
	if len(confidences) == 0 || weightSum == 0 {
		return hold(factors)
	}

	score := weighted / weightSum
	confidence := clamp(mean(confidences)*(1-indicator.PopulationStdDev(confidences)), 0, 1)
	return Signal{
		Direction:  w.thresholds.Decide(score, confidence),
		Confidence: confidence,
		Score:      score,
		Factors:    factors,
	}
}

func maFactor(snap indicator.Snapshot, weight float64) Factor {
	f := Factor{Name: "ma_alignment", Weight: weight}
	short, ok1 := snap.ShortMA.Get()
	mid, ok2 := snap.MidMA.Get()
	long, ok3 := snap.LongMA.Get()
	if !ok1 || !ok2 || !ok3 || long == 0 {
		return f
	}
	f.Available = true
	spread := (short - long) / long
	strength := math.Min(1, math.Abs(spread)/maSaturation)
	aligned := (short > mid && mid > long) || (short < mid && mid < long)
	if aligned {
		f.Score = sign(spread) * strength
		f.Confidence = 0.5 + 0.5*strength
		return f
	}
	f.Score = 0.5 * sign(spread) * strength
	f.Confidence = 0.3
	return f
}

// rsiFactor is contrarian: oversold readings push towards BUY.
func rsiFactor(snap indicator.Snapshot, weight float64) Factor {
	f := Factor{Name: "rsi", Weight: weight}
	rsi, ok := snap.RSI.Get()
	if !ok {
		return f
	}
	f.Available = true
	f.Score = clamp((50-rsi)/50, -1, 1)
	if rsi < rsiOversold || rsi > rsiOverbought {
		f.Confidence = 0.95
		return f
	}
	f.Confidence = math.Abs(rsi-50) / 50
	return f
}

func macdFactor(snap indicator.Snapshot, weight float64) Factor {
	f := Factor{Name: "macd", Weight: weight}
	macd, ok1 := snap.MACD.Get()
	sig, ok2 := snap.MACDSignal.Get()
	hist, ok3 := snap.MACDHist.Get()
	if !ok1 || !ok2 || !ok3 {
		return f
	}
	f.Available = true
	scale := math.Max(math.Abs(macd), math.Abs(sig))
	if scale == 0 {
		return f
	}
	f.Score = clamp(hist/scale, -1, 1)
	strong := sign(macd) == sign(hist) && math.Abs(hist) > 0.1*math.Abs(macd)
	if strong {
		f.Confidence = 0.85
	} else {
		f.Confidence = 0.5
	}
	return f
}

// bollingerFactor favours BUY near the lower band and SELL near the upper.
func bollingerFactor(snap indicator.Snapshot, weight float64) Factor {
	f := Factor{Name: "bollinger", Weight: weight}
	pos, ok := snap.BollPosition.Get()
	if !ok {
		return f
	}
	f.Available = true
	f.Score = clamp(1-2*pos, -1, 1)
	if pos < bandEdge || pos > 1-bandEdge {
		f.Confidence = 0.8
		return f
	}
	f.Confidence = 0.8 * math.Abs(1-2*pos)
	return f
}

func volumeFactor(snap indicator.Snapshot, weight, lean float64) Factor {
	f := Factor{Name: "volume", Weight: weight}
	ratio, ok := snap.VolumeRatio.Get()
	if !ok {
		return f
	}
	f.Available = true
	strength := clamp((ratio-1)/3, 0, 1)
	f.Score = sign(lean) * strength
	f.Confidence = strength
	return f
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
