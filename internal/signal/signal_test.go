package signal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/indicator"
)

var testThresholds = Thresholds{Score: 0.1, Confidence: 0.6}

func TestDecide(t *testing.T) {
	th := Thresholds{Score: 0, Confidence: 0.5}
	assert.Equal(t, Hold, th.Decide(0, 1), "exact zero is HOLD")
	assert.Equal(t, Buy, th.Decide(0.01, 0.5))
	assert.Equal(t, Sell, th.Decide(-0.01, 0.5))
	assert.Equal(t, Hold, th.Decide(0.9, 0.49))

	assert.Equal(t, Hold, testThresholds.Decide(0.1, 1), "score must exceed the threshold")
}

func TestCrossover(t *testing.T) {
	c := NewCrossover(testThresholds, 0)

	bullish := c.Generate(context.Background(), Input{Snapshot: indicator.Snapshot{
		ShortMA: indicator.Some(102.5),
		LongMA:  indicator.Some(101.5),
	}})
	assert.Equal(t, Buy, bullish.Direction)
	assert.Equal(t, 1.0, bullish.Score)
	assert.Equal(t, 1.0, bullish.Confidence)

	bearish := c.Generate(context.Background(), Input{Snapshot: indicator.Snapshot{
		ShortMA: indicator.Some(100),
		LongMA:  indicator.Some(101),
	}})
	assert.Equal(t, Sell, bearish.Direction)

	flat := c.Generate(context.Background(), Input{Snapshot: indicator.Snapshot{
		ShortMA: indicator.Some(100),
		LongMA:  indicator.Some(100),
	}})
	assert.Equal(t, Hold, flat.Direction)
}

func TestCrossoverUndefinedIsHold(t *testing.T) {
	sig := NewCrossover(testThresholds, 0).Generate(context.Background(), Input{Snapshot: indicator.Snapshot{
		ShortMA: indicator.Some(101),
	}})
	assert.Equal(t, Hold, sig.Direction)
	assert.Zero(t, sig.Confidence)
	require.Len(t, sig.Factors, 1)
	assert.False(t, sig.Factors[0].Available)
}

func TestWeightedExcludesUndefinedFactors(t *testing.T) {
	w := NewWeighted(testThresholds, DefaultWeights())
	sig := w.Generate(context.Background(), Input{Snapshot: indicator.Snapshot{
		RSI: indicator.Some(10),
	}})

	assert.Equal(t, Buy, sig.Direction)
	assert.InDelta(t, 0.8, sig.Score, 1e-9, "a lone factor carries the full renormalized weight")
	assert.InDelta(t, 0.95, sig.Confidence, 1e-9)

	require.Len(t, sig.Factors, 5)
	available := 0
	for _, f := range sig.Factors {
		if f.Available {
			available++
			assert.Equal(t, "rsi", f.Name)
		}
	}
	assert.Equal(t, 1, available)
}

func TestWeightedNoFactorsIsHold(t *testing.T) {
	sig := NewWeighted(testThresholds, DefaultWeights()).Generate(context.Background(), Input{})
	assert.Equal(t, Hold, sig.Direction)
	assert.Zero(t, sig.Confidence)
	assert.Len(t, sig.Factors, 5)
}

func TestWeightedDisagreementLowersConfidence(t *testing.T) {
	sig := NewWeighted(testThresholds, DefaultWeights()).Generate(context.Background(), Input{Snapshot: indicator.Snapshot{
		ShortMA: indicator.Some(103),
		MidMA:   indicator.Some(102),
		LongMA:  indicator.Some(100),
		RSI:     indicator.Some(50),
	}})

	assert.InDelta(t, 0.30/0.55, sig.Score, 1e-9)
	assert.InDelta(t, 0.25, sig.Confidence, 1e-9)
	assert.Equal(t, Hold, sig.Direction)
}

func TestWeightedVolumeFollowsLean(t *testing.T) {
	sig := NewWeighted(testThresholds, DefaultWeights()).Generate(context.Background(), Input{Snapshot: indicator.Snapshot{
		RSI:         indicator.Some(85),
		VolumeRatio: indicator.Some(4),
	}})

	var volume Factor
	for _, f := range sig.Factors {
		if f.Name == "volume" {
			volume = f
		}
	}
	require.True(t, volume.Available)
	assert.Equal(t, -1.0, volume.Score)
	assert.Equal(t, Sell, sig.Direction)
}

type stubPredictor struct {
	prediction Prediction
	err        error
	got        Features
}

func (s *stubPredictor) Predict(ctx context.Context, features Features) (Prediction, error) {
	s.got = features
	return s.prediction, s.err
}

func TestExternalPredictor(t *testing.T) {
	stub := &stubPredictor{prediction: Prediction{Direction: "buy", Confidence: 0.8}}
	ext := NewExternal(testThresholds, stub)

	sig := ext.Generate(context.Background(), Input{Symbol: "MSFT", Snapshot: indicator.Snapshot{
		Close: 410,
		RSI:   indicator.Some(40),
	}})
	assert.Equal(t, Buy, sig.Direction)
	assert.InDelta(t, 0.8, sig.Score, 1e-9)
	assert.Equal(t, "MSFT", stub.got.Symbol)
	assert.Equal(t, 40.0, stub.got.Values["rsi"])
	assert.Contains(t, stub.got.Undefined, "macd")
}

func TestExternalPredictorErrorIsHold(t *testing.T) {
	ext := NewExternal(testThresholds, &stubPredictor{err: errors.New("timeout")})
	sig := ext.Generate(context.Background(), Input{})

	assert.Equal(t, Hold, sig.Direction)
	assert.Zero(t, sig.Confidence)
	require.Len(t, sig.Factors, 1)
	assert.Equal(t, "predictor_error", sig.Factors[0].Name)
}

func TestNew(t *testing.T) {
	p, err := New(Config{Strategy: "crossover", Thresholds: testThresholds})
	require.NoError(t, err)
	assert.Equal(t, "crossover", p.Name())

	_, err = New(Config{Strategy: "predictor"})
	assert.Error(t, err)

	_, err = New(Config{Strategy: "martingale"})
	assert.Error(t, err)
}
