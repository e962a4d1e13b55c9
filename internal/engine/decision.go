package engine

import (
	"autotrader/internal/signal"
)

// decision is the per-tick outcome written to the debug log.
type decision struct {
	Close  float64
	Bars   int
	Signal signal.Signal
	Result string
}

func (e *Engine) logDecision(d decision) {
	ev := e.log.Debug()
	if d.Result != "hold" && d.Result != "holding" {
		ev = e.log.Info()
	}
	factors := make([]string, 0, len(d.Signal.Factors))
	for _, f := range d.Signal.Factors {
		if f.Available {
			factors = append(factors, f.Name)
		}
	}
	ev.Float64("close", d.Close).
		Int("bars", d.Bars).
		Str("direction", string(d.Signal.Direction)).
		Float64("score", d.Signal.Score).
		Float64("confidence", d.Signal.Confidence).
		Strs("factors", factors).
		Str("result", d.Result).
		Msg("decision")
}
