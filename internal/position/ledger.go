package position

import (
	"github.com/shopspring/decimal"
)

// Ledger tracks cash and realized results for one symbol. Opening a
// position moves its cost out of cash; closing returns the proceeds.
type Ledger struct {
	initial decimal.Decimal
	cash    decimal.Decimal
	profit  decimal.Decimal
	trades  int
	wins    int
}

type LedgerState struct {
	Initial     decimal.Decimal `json:"initial"`
	Cash        decimal.Decimal `json:"cash"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	Trades      int             `json:"trades"`
	Wins        int             `json:"wins"`
}

func NewLedger(initial float64) *Ledger {
	start := decimal.NewFromFloat(initial)
	return &Ledger{initial: start, cash: start}
}

func (l *Ledger) debit(price, qty float64) {
	l.cash = l.cash.Sub(decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty)))
}

// settle credits the exit proceeds and returns the realized pnl.
func (l *Ledger) settle(entry, exit, qty float64) decimal.Decimal {
	q := decimal.NewFromFloat(qty)
	proceeds := decimal.NewFromFloat(exit).Mul(q)
	pnl := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry)).Mul(q)
	l.cash = l.cash.Add(proceeds)
	l.profit = l.profit.Add(pnl)
	l.trades++
	if pnl.IsPositive() {
		l.wins++
	}
	return pnl
}

func (l *Ledger) Cash() float64 {
	return l.cash.InexactFloat64()
}

func (l *Ledger) Initial() float64 {
	return l.initial.InexactFloat64()
}

func (l *Ledger) Trades() int {
	return l.trades
}

func (l *Ledger) Wins() int {
	return l.wins
}

func (l *Ledger) TotalProfit() float64 {
	return l.profit.InexactFloat64()
}

func (l *Ledger) WinRate() float64 {
	if l.trades == 0 {
		return 0
	}
	return float64(l.wins) / float64(l.trades)
}

func (l *Ledger) State() LedgerState {
	return LedgerState{
		Initial:     l.initial,
		Cash:        l.cash,
		TotalProfit: l.profit,
		Trades:      l.trades,
		Wins:        l.wins,
	}
}

func (l *Ledger) Restore(s LedgerState) {
	l.initial = s.Initial
	l.cash = s.Cash
	l.profit = s.TotalProfit
	l.trades = s.Trades
	l.wins = s.Wins
}
