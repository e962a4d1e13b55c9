package risk

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrKillSwitch       = errors.New("kill_switch_enabled")
	ErrCooldown         = errors.New("cooldown_active")
	ErrMaxTradesReached = errors.New("max_trades_per_period_reached")
	ErrUnresolved       = errors.New("unresolved_position")
)

type GateConfig struct {
	KillSwitch         bool
	Cooldown           time.Duration
	MaxTradesPerPeriod int
	TradePeriod        time.Duration
}

// Gate decides whether a worker may open a new position now. It is owned by
// a single worker and is not safe for concurrent use.
type Gate struct {
	cfg    GateConfig
	log    zerolog.Logger
	trades []time.Time
	last   time.Time
}

func NewGate(cfg GateConfig, log zerolog.Logger) *Gate {
	if cfg.TradePeriod <= 0 {
		cfg.TradePeriod = 24 * time.Hour
	}
	return &Gate{cfg: cfg, log: log}
}

type EntryContext struct {
	Now        time.Time
	Unresolved bool
}

func (g *Gate) Evaluate(ctx EntryContext) error {
	if g.cfg.KillSwitch {
		return g.reject(ErrKillSwitch)
	}
	if ctx.Unresolved {
		return g.reject(ErrUnresolved)
	}
	if !g.last.IsZero() && g.cfg.Cooldown > 0 {
		if elapsed := ctx.Now.Sub(g.last); elapsed < g.cfg.Cooldown {
			g.log.Debug().Dur("remaining", g.cfg.Cooldown-elapsed).Msg("entry gated")
			return g.reject(ErrCooldown)
		}
	}
	if g.cfg.MaxTradesPerPeriod > 0 && g.TradesInPeriod(ctx.Now) >= g.cfg.MaxTradesPerPeriod {
		return g.reject(ErrMaxTradesReached)
	}
	return nil
}

// RecordTrade counts an opened position against the period budget.
func (g *Gate) RecordTrade(at time.Time) {
	g.trades = append(g.trades, at)
	g.last = at
	g.prune(at)
}

func (g *Gate) TradesInPeriod(now time.Time) int {
	g.prune(now)
	return len(g.trades)
}

func (g *Gate) prune(now time.Time) {
	cutoff := now.Add(-g.cfg.TradePeriod)
	keep := 0
	for keep < len(g.trades) && !g.trades[keep].After(cutoff) {
		keep++
	}
	g.trades = g.trades[keep:]
}

// Restore seeds the gate from a checkpoint.
func (g *Gate) Restore(trades []time.Time) {
	g.trades = append(g.trades[:0], trades...)
	if n := len(g.trades); n > 0 {
		g.last = g.trades[n-1]
	}
}

func (g *Gate) Trades() []time.Time {
	return append([]time.Time(nil), g.trades...)
}

func (g *Gate) reject(reason error) error {
	g.log.Info().Str("reason", reason.Error()).Msg("risk rejected")
	return reason
}
