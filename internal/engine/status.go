package engine

import (
	"fmt"
	"time"

	"autotrader/internal/notify"
	"autotrader/internal/position"
	"autotrader/internal/signal"
)

// Status is a point-in-time view of one engine for the status endpoint.
type Status struct {
	Symbol      string               `json:"symbol"`
	RunID       string               `json:"run_id"`
	Strategy    string               `json:"strategy"`
	State       position.State       `json:"state"`
	Ticks       int                  `json:"ticks"`
	Skips       int                  `json:"skips"`
	UpdatedAt   time.Time            `json:"updated_at"`
	LastPrice   float64              `json:"last_price"`
	Signal      signal.Signal        `json:"signal"`
	Position    *position.Position   `json:"position,omitempty"`
	Unresolved  *position.Unresolved `json:"unresolved,omitempty"`
	Trades      int                  `json:"trades"`
	Wins        int                  `json:"wins"`
	WinRate     float64              `json:"win_rate"`
	TotalProfit float64              `json:"total_profit"`
	Cash        float64              `json:"cash"`
	Balance     float64              `json:"balance"`
	ROI         float64              `json:"roi_pct"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) lastSignal() signal.Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status.Signal
}

func (e *Engine) publish(sig signal.Signal) {
	l := e.machine.Ledger()
	st := Status{
		Symbol:      e.cfg.Symbol,
		RunID:       e.cfg.RunID,
		Strategy:    e.signals.Name(),
		State:       e.machine.State(),
		Ticks:       e.ticks,
		Skips:       e.skips,
		UpdatedAt:   e.now(),
		LastPrice:   e.lastPrice,
		Signal:      sig,
		Trades:      l.Trades(),
		Wins:        l.Wins(),
		WinRate:     l.WinRate(),
		TotalProfit: l.TotalProfit(),
		Cash:        l.Cash(),
		Balance:     e.machine.Balance(),
		ROI:         e.machine.ROI(),
	}
	if pos, ok := e.machine.Position(); ok {
		st.Position = &pos
	}
	if u, ok := e.machine.Unresolved(); ok {
		st.Unresolved = &u
	}

	e.metrics.Balance.WithLabelValues(e.cfg.Symbol).Set(st.Balance)
	e.metrics.SetPosition(e.cfg.Symbol, st.Position != nil, st.Unresolved != nil)

	e.mu.Lock()
	e.status = st
	e.mu.Unlock()
}

// Summary is the end-of-run report for one symbol.
type Summary struct {
	Symbol      string               `json:"symbol"`
	Trades      int                  `json:"trades"`
	Wins        int                  `json:"wins"`
	WinRate     float64              `json:"win_rate"`
	TotalProfit float64              `json:"total_profit"`
	Balance     float64              `json:"balance"`
	ROI         float64              `json:"roi_pct"`
	Position    *position.Position   `json:"position,omitempty"`
	Unresolved  *position.Unresolved `json:"unresolved,omitempty"`
}

func (e *Engine) Summary() Summary {
	l := e.machine.Ledger()
	s := Summary{
		Symbol:      e.cfg.Symbol,
		Trades:      l.Trades(),
		Wins:        l.Wins(),
		WinRate:     l.WinRate(),
		TotalProfit: l.TotalProfit(),
		Balance:     e.machine.Balance(),
		ROI:         e.machine.ROI(),
	}
	if pos, ok := e.machine.Position(); ok {
		s.Position = &pos
	}
	if u, ok := e.machine.Unresolved(); ok {
		s.Unresolved = &u
	}
	return s
}

// Reason is the compact form written to the event log.
func (s Summary) Reason() string {
	r := fmt.Sprintf("trades=%d wins=%d win_rate=%.2f roi=%.2f", s.Trades, s.Wins, s.WinRate, s.ROI)
	if s.Unresolved != nil {
		r += fmt.Sprintf(" unresolved=%s:%.6f", s.Unresolved.Side, s.Unresolved.Quantity)
	}
	if s.Position != nil {
		r += fmt.Sprintf(" open=%.6f@%.4f", s.Position.Quantity, s.Position.EntryPrice)
	}
	return r
}

func (s Summary) String() string {
	text := fmt.Sprintf("%s: %d trades, win rate %.1f%%, profit %.4f, balance %.2f, ROI %.2f%%",
		s.Symbol, s.Trades, s.WinRate*100, s.TotalProfit, s.Balance, s.ROI)
	if s.Unresolved != nil {
		text += fmt.Sprintf("; UNRESOLVED %s %.6f since %s", s.Unresolved.Side, s.Unresolved.Quantity,
			s.Unresolved.Since.Format(time.RFC3339))
	}
	if s.Position != nil {
		text += fmt.Sprintf("; position still open %.6f @ %.4f", s.Position.Quantity, s.Position.EntryPrice)
	}
	return text
}

func summaryLevel(s Summary) notify.Level {
	if s.Unresolved != nil || s.Position != nil {
		return notify.Alert
	}
	return notify.Info
}
