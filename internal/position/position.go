// Package position holds the lifecycle of at most one long position per
// symbol together with the symbol's cash ledger.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	None State = "NONE"
	Open State = "OPEN"
)

type ExitReason string

const (
	StopLoss   ExitReason = "STOP_LOSS"
	TakeProfit ExitReason = "TAKE_PROFIT"
	TimeLimit  ExitReason = "TIME_LIMIT"
	SignalExit ExitReason = "SIGNAL_EXIT"
	ForcedExit ExitReason = "FORCED_EXIT"
)

var (
	ErrPositionOpen = errors.New("position already open")
	ErrNoPosition   = errors.New("no open position")
	ErrInvalidEntry = errors.New("invalid entry")
)

type Position struct {
	Symbol        string    `json:"symbol"`
	EntryPrice    float64   `json:"entry_price"`
	Quantity      float64   `json:"quantity"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	EntryTime     time.Time `json:"entry_time"`
	TrailingArmed bool      `json:"trailing_armed"`
	OrderID       string    `json:"order_id,omitempty"`
}

// Unresolved records an order whose outcome is unknown. The machine stays
// in its prior state until the broker confirms what happened.
type Unresolved struct {
	Side     string    `json:"side"`
	Quantity float64   `json:"quantity"`
	Reason   string    `json:"reason"`
	Since    time.Time `json:"since"`
}

type Trade struct {
	Symbol     string     `json:"symbol"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Quantity   float64    `json:"quantity"`
	PnL        float64    `json:"pnl"`
	Reason     ExitReason `json:"reason"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
}

type Trailing struct {
	ActivationPct float64
	TrailPct      float64
}

func (t Trailing) enabled() bool {
	return t.TrailPct > 0
}

type Config struct {
	Trailing Trailing
	// MaxHold closes a position that has been open longer; zero disables it.
	MaxHold time.Duration
}

type Fill struct {
	Price    float64
	Quantity float64
	OrderID  string
}

type Levels struct {
	StopLossPct   float64
	TakeProfitPct float64
}

type Machine struct {
	symbol     string
	cfg        Config
	ledger     *Ledger
	pos        *Position
	unresolved *Unresolved
}

func NewMachine(symbol string, cfg Config, ledger *Ledger) *Machine {
	return &Machine{symbol: symbol, cfg: cfg, ledger: ledger}
}

func (m *Machine) State() State {
	if m.pos != nil {
		return Open
	}
	return None
}

func (m *Machine) Position() (Position, bool) {
	if m.pos == nil {
		return Position{}, false
	}
	return *m.pos, true
}

func (m *Machine) Ledger() *Ledger {
	return m.ledger
}

// Balance is cash plus the open position valued at its entry price.
func (m *Machine) Balance() float64 {
	balance := m.ledger.cash
	if m.pos != nil {
		balance = balance.Add(decimal.NewFromFloat(m.pos.EntryPrice).Mul(decimal.NewFromFloat(m.pos.Quantity)))
	}
	return balance.InexactFloat64()
}

// ROI is the percentage change of Balance against the initial cash.
func (m *Machine) ROI() float64 {
	initial := m.ledger.initial
	if initial.IsZero() {
		return 0
	}
	return (m.Balance()/initial.InexactFloat64() - 1) * 100
}

func (m *Machine) Open(fill Fill, levels Levels, now time.Time) (Position, error) {
	if m.pos != nil {
		return Position{}, ErrPositionOpen
	}
	if fill.Price <= 0 || fill.Quantity <= 0 {
		return Position{}, fmt.Errorf("%w: price %v quantity %v", ErrInvalidEntry, fill.Price, fill.Quantity)
	}
	if levels.StopLossPct <= 0 || levels.StopLossPct >= 1 || levels.TakeProfitPct <= 0 {
		return Position{}, fmt.Errorf("%w: stop loss %v take profit %v", ErrInvalidEntry, levels.StopLossPct, levels.TakeProfitPct)
	}
	m.pos = &Position{
		Symbol:     m.symbol,
		EntryPrice: fill.Price,
		Quantity:   fill.Quantity,
		StopLoss:   fill.Price * (1 - levels.StopLossPct),
		TakeProfit: fill.Price * (1 + levels.TakeProfitPct),
		EntryTime:  now,
		OrderID:    fill.OrderID,
	}
	m.ledger.debit(fill.Price, fill.Quantity)
	return *m.pos, nil
}

type Decision struct {
	Exit     ExitReason
	Trailed  bool
	NewStop  float64
	PrevStop float64
}

// Evaluate checks the close conditions in precedence order. The trailing
// stop only moves on ticks where no close condition fires.
func (m *Machine) Evaluate(price float64, now time.Time, sellSignal bool) Decision {
	if m.pos == nil {
		return Decision{}
	}
	p := m.pos
	switch {
	case price <= p.StopLoss:
		return Decision{Exit: StopLoss}
	case price >= p.TakeProfit:
		return Decision{Exit: TakeProfit}
	case m.cfg.MaxHold > 0 && now.Sub(p.EntryTime) > m.cfg.MaxHold:
		return Decision{Exit: TimeLimit}
	case sellSignal:
		return Decision{Exit: SignalExit}
	}

	if !m.cfg.Trailing.enabled() {
		return Decision{}
	}
	if !p.TrailingArmed && price/p.EntryPrice-1 > m.cfg.Trailing.ActivationPct {
		p.TrailingArmed = true
	}
	if !p.TrailingArmed {
		return Decision{}
	}
	candidate := price * (1 - m.cfg.Trailing.TrailPct)
	if candidate <= p.StopLoss {
		return Decision{}
	}
	prev := p.StopLoss
	p.StopLoss = candidate
	return Decision{Trailed: true, PrevStop: prev, NewStop: candidate}
}

func (m *Machine) Close(exitPrice float64, reason ExitReason, now time.Time) (Trade, error) {
	if m.pos == nil {
		return Trade{}, ErrNoPosition
	}
	p := *m.pos
	pnl := m.ledger.settle(p.EntryPrice, exitPrice, p.Quantity)
	m.pos = nil
	return Trade{
		Symbol:     p.Symbol,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		PnL:        pnl.InexactFloat64(),
		Reason:     reason,
		EntryTime:  p.EntryTime,
		ExitTime:   now,
	}, nil
}

func (m *Machine) MarkUnresolved(u Unresolved) {
	m.unresolved = &u
}

func (m *Machine) Unresolved() (Unresolved, bool) {
	if m.unresolved == nil {
		return Unresolved{}, false
	}
	return *m.unresolved, true
}

func (m *Machine) ClearUnresolved() {
	m.unresolved = nil
}

// Adopt installs a position confirmed by the broker, e.g. after an entry
// order whose fill was not observed.
func (m *Machine) Adopt(p Position) error {
	if m.pos != nil {
		return ErrPositionOpen
	}
	if p.EntryPrice <= 0 || p.Quantity <= 0 {
		return ErrInvalidEntry
	}
	p.Symbol = m.symbol
	m.pos = &p
	m.ledger.debit(p.EntryPrice, p.Quantity)
	return nil
}

// Resize sets the open quantity to the broker's, e.g. after an exit that
// filled in part. The difference moves through cash at the entry price and
// books no trade.
func (m *Machine) Resize(qty float64) error {
	if m.pos == nil {
		return ErrNoPosition
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity %v", ErrInvalidEntry, qty)
	}
	m.ledger.debit(m.pos.EntryPrice, qty-m.pos.Quantity)
	m.pos.Quantity = qty
	return nil
}

type Checkpoint struct {
	Ledger     LedgerState `json:"ledger"`
	Position   *Position   `json:"position,omitempty"`
	Unresolved *Unresolved `json:"unresolved,omitempty"`
}

func (m *Machine) Checkpoint() Checkpoint {
	cp := Checkpoint{Ledger: m.ledger.State()}
	if m.pos != nil {
		p := *m.pos
		cp.Position = &p
	}
	if m.unresolved != nil {
		u := *m.unresolved
		cp.Unresolved = &u
	}
	return cp
}

// Restore replaces the machine state with a checkpoint. The ledger already
// accounts for the checkpointed position.
func (m *Machine) Restore(cp Checkpoint) {
	m.ledger.Restore(cp.Ledger)
	m.pos = nil
	if cp.Position != nil {
		p := *cp.Position
		m.pos = &p
	}
	m.unresolved = nil
	if cp.Unresolved != nil {
		u := *cp.Unresolved
		m.unresolved = &u
	}
}
