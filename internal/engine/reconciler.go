package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autotrader/internal/broker"
	"autotrader/internal/eventlog"
	"autotrader/internal/indicator"
	"autotrader/internal/position"
)

// reconcile resolves an order with an unknown outcome against the broker's
// view of the symbol. Executors that cannot report positions leave the
// symbol halted until an operator intervenes.
func (e *Engine) reconcile(ctx context.Context, price float64, now time.Time) string {
	rec, ok := e.executor.(broker.Reconciler)
	if !ok {
		return "unresolved"
	}
	if !e.lastReconcile.IsZero() && now.Sub(e.lastReconcile) < e.cfg.ReconcileInterval {
		return "unresolved"
	}
	e.lastReconcile = now

	remote, err := rec.Position(ctx, e.cfg.Symbol)
	flat := errors.Is(err, broker.ErrNoPosition) || (err == nil && remote.Quantity <= 0)
	if err != nil && !flat {
		e.log.Warn().Err(err).Msg("reconcile position failed")
		return "unresolved"
	}

	u, _ := e.machine.Unresolved()
	local, open := e.machine.Position()
	var outcome string
	switch {
	case flat && open:
		// The exit went through.
		trade, err := e.machine.Close(price, exitReason(u.Reason), now)
		if err != nil {
			e.log.Error().Err(err).Msg("reconcile close failed")
			return "unresolved"
		}
		e.metrics.TradesClosed.WithLabelValues(e.cfg.Symbol, string(trade.Reason)).Inc()
		e.metrics.RealizedPnL.WithLabelValues(e.cfg.Symbol).Set(e.machine.Ledger().TotalProfit())
		e.record(ctx, eventlog.Close, trade.ExitPrice, trade.Quantity, trade.PnL, string(trade.Reason))
		outcome = "exit_confirmed"
	case flat:
		outcome = "entry_not_filled"
	case open:
		outcome = "exit_not_filled"
		if remote.Quantity != local.Quantity {
			// The broker's quantity is what the next exit has to sell.
			if err := e.machine.Resize(remote.Quantity); err != nil {
				e.log.Error().Err(err).Msg("resize position failed")
				return "unresolved"
			}
			e.log.Warn().Float64("local", local.Quantity).Float64("broker", remote.Quantity).Msg("position quantity adjusted to broker")
			outcome = "exit_partially_filled"
		}
	default:
		params := e.risk.Parameters(indicator.Value{})
		adopted := position.Position{
			EntryPrice: remote.AvgEntry,
			Quantity:   remote.Quantity,
			StopLoss:   remote.AvgEntry * (1 - params.StopLossPct),
			TakeProfit: remote.AvgEntry * (1 + params.TakeProfitPct),
			EntryTime:  u.Since,
		}
		if err := e.machine.Adopt(adopted); err != nil {
			e.log.Error().Err(err).Msg("adopt broker position failed")
			return "unresolved"
		}
		e.gate.RecordTrade(now)
		e.record(ctx, eventlog.Open, adopted.EntryPrice, adopted.Quantity, 0, "adopted")
		outcome = "entry_confirmed"
	}

	e.machine.ClearUnresolved()
	e.log.Info().Str("outcome", outcome).Float64("broker_quantity", remote.Quantity).Msg("unresolved order reconciled")
	e.record(ctx, eventlog.Reconciled, price, remote.Quantity, 0, fmt.Sprintf("%s side=%s", outcome, u.Side))
	e.save(ctx)
	return "reconciled"
}

func exitReason(intent string) position.ExitReason {
	switch r := position.ExitReason(intent); r {
	case position.StopLoss, position.TakeProfit, position.TimeLimit, position.SignalExit, position.ForcedExit:
		return r
	}
	return position.SignalExit
}
