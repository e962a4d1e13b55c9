package position

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

func openMachine(t *testing.T, cfg Config, entry float64) *Machine {
	t.Helper()
	m := NewMachine("AAPL", cfg, NewLedger(10000))
	_, err := m.Open(Fill{Price: entry, Quantity: 10}, Levels{StopLossPct: 0.02, TakeProfitPct: 0.04}, t0)
	require.NoError(t, err)
	return m
}

func TestOpenSetsLevels(t *testing.T) {
	m := NewMachine("AAPL", Config{}, NewLedger(1000))
	pos, err := m.Open(Fill{Price: 103, Quantity: 2, OrderID: "o-1"}, Levels{StopLossPct: 0.002, TakeProfitPct: 0.01}, t0)
	require.NoError(t, err)

	assert.Equal(t, Open, m.State())
	assert.InDelta(t, 102.794, pos.StopLoss, 1e-9)
	assert.InDelta(t, 104.03, pos.TakeProfit, 1e-9)
	assert.Less(t, pos.StopLoss, pos.EntryPrice)
	assert.Greater(t, pos.TakeProfit, pos.EntryPrice)
	assert.Equal(t, "o-1", pos.OrderID)
}

func TestSinglePosition(t *testing.T) {
	m := openMachine(t, Config{}, 100)
	_, err := m.Open(Fill{Price: 101, Quantity: 1}, Levels{StopLossPct: 0.01, TakeProfitPct: 0.01}, t0)
	assert.ErrorIs(t, err, ErrPositionOpen)

	pos, _ := m.Position()
	assert.Equal(t, 100.0, pos.EntryPrice)
}

func TestOpenRejectsInvalidLevels(t *testing.T) {
	m := NewMachine("AAPL", Config{}, NewLedger(1000))
	_, err := m.Open(Fill{Price: 100, Quantity: 1}, Levels{StopLossPct: 0, TakeProfitPct: 0.01}, t0)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = m.Open(Fill{Price: 0, Quantity: 1}, Levels{StopLossPct: 0.01, TakeProfitPct: 0.01}, t0)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Equal(t, None, m.State())
}

func TestExitPrecedence(t *testing.T) {
	cfg := Config{MaxHold: time.Hour}
	late := t0.Add(2 * time.Hour)

	m := openMachine(t, cfg, 100)
	assert.Equal(t, StopLoss, m.Evaluate(97, late, true).Exit, "stop loss wins over time and signal")

	m = openMachine(t, cfg, 100)
	assert.Equal(t, TakeProfit, m.Evaluate(105, late, true).Exit)

	m = openMachine(t, cfg, 100)
	assert.Equal(t, TimeLimit, m.Evaluate(100.5, late, true).Exit)

	m = openMachine(t, cfg, 100)
	assert.Equal(t, SignalExit, m.Evaluate(100.5, t0.Add(time.Minute), true).Exit)

	m = openMachine(t, Config{}, 100)
	assert.Equal(t, ExitReason(""), m.Evaluate(100.5, t0.Add(1000*time.Hour), false).Exit, "zero max hold disables the time limit")
}

func TestStopLossBoundaryIsInclusive(t *testing.T) {
	m := openMachine(t, Config{}, 100)
	pos, _ := m.Position()
	assert.Equal(t, StopLoss, m.Evaluate(pos.StopLoss, t0, false).Exit)
}

func TestTrailingStopNeverDecreases(t *testing.T) {
	m := openMachine(t, Config{Trailing: Trailing{ActivationPct: 0.01, TrailPct: 0.005}}, 100)

	d := m.Evaluate(100.5, t0, false)
	assert.False(t, d.Trailed, "not armed below activation")

	prev := 98.0
	for _, price := range []float64{101.5, 102.5, 102.2, 103, 102.9, 103.5} {
		d = m.Evaluate(price, t0, false)
		require.Empty(t, d.Exit)
		pos, _ := m.Position()
		assert.GreaterOrEqual(t, pos.StopLoss, prev)
		assert.True(t, pos.TrailingArmed)
		prev = pos.StopLoss
	}
	pos, _ := m.Position()
	assert.InDelta(t, 103.5*0.995, pos.StopLoss, 1e-9)

	d = m.Evaluate(102.9, t0, false)
	assert.Equal(t, StopLoss, d.Exit)
}

func TestTrailingSkippedWhenExitFires(t *testing.T) {
	m := openMachine(t, Config{Trailing: Trailing{ActivationPct: 0.01, TrailPct: 0.005}}, 100)
	d := m.Evaluate(104.5, t0, false)
	assert.Equal(t, TakeProfit, d.Exit)
	pos, _ := m.Position()
	assert.Equal(t, 98.0, pos.StopLoss)
	assert.False(t, pos.TrailingArmed)
}

func TestCloseRoundTrip(t *testing.T) {
	ledger := NewLedger(1000)
	m := NewMachine("AAPL", Config{}, ledger)
	_, err := m.Open(Fill{Price: 100, Quantity: 2}, Levels{StopLossPct: 0.01, TakeProfitPct: 0.01}, t0)
	require.NoError(t, err)
	assert.InDelta(t, 800, ledger.Cash(), 1e-9)
	assert.InDelta(t, 1000, m.Balance(), 1e-9)

	trade, err := m.Close(101.5, TakeProfit, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 3, trade.PnL, 1e-9)
	assert.Equal(t, None, m.State())
	assert.InDelta(t, 1003, ledger.Cash(), 1e-9)
	assert.Equal(t, 1, ledger.Trades())
	assert.Equal(t, 1, ledger.Wins())
	assert.InDelta(t, 0.3, m.ROI(), 1e-9)

	_, err = m.Open(Fill{Price: 100, Quantity: 1}, Levels{StopLossPct: 0.01, TakeProfitPct: 0.01}, t0)
	require.NoError(t, err)
	trade, err = m.Close(99, StopLoss, t0)
	require.NoError(t, err)
	assert.InDelta(t, -1, trade.PnL, 1e-9)
	assert.InDelta(t, 1002, ledger.Cash(), 1e-9, "cash equals initial plus realized pnl")
	assert.InDelta(t, 2, ledger.TotalProfit(), 1e-9)
	assert.Equal(t, 2, ledger.Trades())
	assert.Equal(t, 1, ledger.Wins())
	assert.InDelta(t, 0.5, ledger.WinRate(), 1e-9)

	_, err = m.Close(99, ForcedExit, t0)
	assert.True(t, errors.Is(err, ErrNoPosition))
}

func TestCheckpointRestore(t *testing.T) {
	m := openMachine(t, Config{}, 100)
	m.MarkUnresolved(Unresolved{Side: "sell", Quantity: 10, Reason: "timeout", Since: t0})
	cp := m.Checkpoint()

	restored := NewMachine("AAPL", Config{}, NewLedger(10000))
	restored.Restore(cp)

	assert.Equal(t, Open, restored.State())
	assert.InDelta(t, m.Balance(), restored.Balance(), 1e-9)
	u, ok := restored.Unresolved()
	require.True(t, ok)
	assert.Equal(t, "timeout", u.Reason)

	pos, _ := restored.Position()
	assert.Equal(t, 10.0, pos.Quantity)
}

func TestResizeKeepsBalance(t *testing.T) {
	m := openMachine(t, Config{}, 100)
	require.InDelta(t, 9000, m.Ledger().Cash(), 1e-9)

	require.NoError(t, m.Resize(4))
	pos, ok := m.Position()
	require.True(t, ok)
	assert.Equal(t, 4.0, pos.Quantity)
	assert.InDelta(t, 9600, m.Ledger().Cash(), 1e-9)
	assert.InDelta(t, 10000, m.Balance(), 1e-9)
	assert.Equal(t, 0, m.Ledger().Trades())

	trade, err := m.Close(101, SignalExit, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 4, trade.PnL, 1e-9)

	assert.ErrorIs(t, m.Resize(1), ErrNoPosition)
	m = openMachine(t, Config{}, 100)
	assert.ErrorIs(t, m.Resize(0), ErrInvalidEntry)
}
