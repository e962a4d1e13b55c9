// Package risk derives stop-loss and take-profit levels, sizes entries and
// gates how often a worker may trade.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"autotrader/internal/indicator"
)

var (
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidLevels       = errors.New("invalid_risk_levels")
)

type Parameters struct {
	StopLossPct         float64 `json:"stop_loss_pct"`
	TakeProfitPct       float64 `json:"take_profit_pct"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxPositionFraction float64 `json:"max_position_fraction"`
}

// Validate rejects levels no position can be opened with: the stop must
// sit strictly between zero and the entry price and the target above it.
func (p Parameters) Validate() error {
	if p.StopLossPct <= 0 || p.StopLossPct >= 1 || p.TakeProfitPct <= 0 {
		return fmt.Errorf("%w: stop loss %v take profit %v", ErrInvalidLevels, p.StopLossPct, p.TakeProfitPct)
	}
	return nil
}

type Config struct {
	StopLossPct         float64
	TakeProfitPct       float64
	ConfidenceThreshold float64
	MaxPositionFraction float64

	Dynamic        bool
	StopLossVolK   float64
	TakeProfitVolK float64
	StopLossMin    float64
	StopLossMax    float64
	TakeProfitMin  float64
	TakeProfitMax  float64

	Quantity      float64
	AllocationPct float64
	SizeVolK      float64
	SizeMinFactor float64
	SizeMaxFactor float64
	QuantityStep  float64
	MinQuantity   float64
}

type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxPositionFraction <= 0 || cfg.MaxPositionFraction > 1 {
		cfg.MaxPositionFraction = 1
	}
	if cfg.SizeMaxFactor <= 0 {
		cfg.SizeMaxFactor = 1
	}
	if cfg.SizeMinFactor <= 0 || cfg.SizeMinFactor > cfg.SizeMaxFactor {
		cfg.SizeMinFactor = cfg.SizeMaxFactor
	}
	return &Manager{cfg: cfg}
}

// Parameters returns the risk levels for the next entry. With dynamic risk
// the configured levels widen with volatility inside their bounds; an
// undefined volatility falls back to the static levels.
func (m *Manager) Parameters(volatility indicator.Value) Parameters {
	params := Parameters{
		StopLossPct:         m.cfg.StopLossPct,
		TakeProfitPct:       m.cfg.TakeProfitPct,
		ConfidenceThreshold: m.cfg.ConfidenceThreshold,
		MaxPositionFraction: m.cfg.MaxPositionFraction,
	}
	vol, ok := volatility.Get()
	if !m.cfg.Dynamic || !ok {
		return params
	}
	params.StopLossPct = bounded(m.cfg.StopLossPct*(1+vol*m.cfg.StopLossVolK), m.cfg.StopLossMin, m.cfg.StopLossMax)
	params.TakeProfitPct = bounded(m.cfg.TakeProfitPct*(1+vol*m.cfg.TakeProfitVolK), m.cfg.TakeProfitMin, m.cfg.TakeProfitMax)
	return params
}

// PositionSize returns the quantity to buy at price, rounded down to the
// quantity step.
func (m *Manager) PositionSize(balance, price float64, volatility indicator.Value) (float64, error) {
	if balance <= 0 || price <= 0 {
		return 0, ErrInsufficientBalance
	}
	configured := m.cfg.Quantity
	if configured <= 0 {
		configured = balance * m.cfg.AllocationPct / price
	}
	qty := math.Min(configured, balance*m.cfg.MaxPositionFraction/price)

	if vol, ok := volatility.Get(); ok && m.cfg.SizeVolK > 0 {
		factor := 1 / (1 + vol*m.cfg.SizeVolK)
		qty *= math.Max(m.cfg.SizeMinFactor, math.Min(m.cfg.SizeMaxFactor, factor))
	}

	qty = m.roundDown(qty)
	if qty <= 0 || qty < m.cfg.MinQuantity {
		return 0, ErrInsufficientBalance
	}
	return qty, nil
}

func (m *Manager) EvaluateEntryFeasible(balance, price, quantity float64) bool {
	if price <= 0 || quantity <= 0 || balance <= 0 {
		return false
	}
	if quantity < m.cfg.MinQuantity {
		return false
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity))
	limit := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(m.cfg.MaxPositionFraction))
	return notional.LessThanOrEqual(limit) && notional.LessThanOrEqual(decimal.NewFromFloat(balance))
}

func (m *Manager) roundDown(qty float64) float64 {
	if m.cfg.QuantityStep <= 0 {
		return qty
	}
	step := decimal.NewFromFloat(m.cfg.QuantityStep)
	return decimal.NewFromFloat(qty).Div(step).Floor().Mul(step).InexactFloat64()
}

// bounded clamps v into [lo, hi]; a zero bound is open.
func bounded(v, lo, hi float64) float64 {
	if lo > 0 && v < lo {
		v = lo
	}
	if hi > 0 && v > hi {
		v = hi
	}
	return v
}
