// Package engine runs the per-symbol trading loop: each tick refreshes the
// candle series, recomputes indicators, asks for a signal, and opens,
// manages or closes the symbol's position.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"autotrader/internal/broker"
	"autotrader/internal/eventlog"
	"autotrader/internal/indicator"
	"autotrader/internal/md"
	"autotrader/internal/metrics"
	"autotrader/internal/notify"
	"autotrader/internal/position"
	"autotrader/internal/risk"
	"autotrader/internal/signal"
	"autotrader/internal/state"
)

type Config struct {
	Symbol       string
	RunID        string
	Interval     md.Interval
	HistoryLimit int
	Indicator    indicator.Params

	PollInterval  time.Duration
	FetchRetries  int
	RetryBackoff  time.Duration
	ShutdownGrace time.Duration

	HeartbeatInterval time.Duration
	StatsEvery        int
	ReconcileInterval time.Duration

	// WriteTimeout bounds each event log write and checkpoint save.
	WriteTimeout time.Duration
}

// Deps are the collaborators of one engine. Events, Notifier, Store,
// Metrics and Clock are optional. With a Clock, entries are only placed
// while the market is open.
type Deps struct {
	Source   md.Source
	Executor broker.Executor
	Signals  signal.Provider
	Risk     *risk.Manager
	Gate     *risk.Gate
	Machine  *position.Machine
	Events   eventlog.Sink
	Notifier notify.Notifier
	Store    state.Store
	Metrics  *metrics.Metrics
	Clock    broker.MarketClock
	Log      zerolog.Logger
	Now      func() time.Time
}

// Engine owns the state of a single symbol. Tick, Run and Shutdown must be
// called from one goroutine; Status and Summary are safe from any goroutine.
type Engine struct {
	cfg      Config
	source   md.Source
	executor broker.Executor
	signals  signal.Provider
	risk     *risk.Manager
	gate     *risk.Gate
	machine  *position.Machine
	events   eventlog.Sink
	notifier notify.Notifier
	store    state.Store
	metrics  *metrics.Metrics
	clock    broker.MarketClock
	log      zerolog.Logger
	now      func() time.Time

	series        *md.Series
	started       time.Time
	ticks         int
	skips         int
	lastPrice     float64
	lastReconcile time.Time

	mu     sync.RWMutex
	status Status
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("engine: symbol is required")
	}
	if deps.Source == nil || deps.Executor == nil || deps.Signals == nil {
		return nil, errors.New("engine: source, executor and signal provider are required")
	}
	if deps.Risk == nil || deps.Gate == nil || deps.Machine == nil {
		return nil, errors.New("engine: risk manager, gate and position machine are required")
	}
	if err := cfg.Indicator.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.HistoryLimit < cfg.Indicator.MinLookback() {
		cfg.HistoryLimit = cfg.Indicator.MinLookback()
	}
	if deps.Events == nil {
		deps.Events = eventlog.Discard{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("")
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	e := &Engine{
		cfg:      cfg,
		source:   deps.Source,
		executor: deps.Executor,
		signals:  deps.Signals,
		risk:     deps.Risk,
		gate:     deps.Gate,
		machine:  deps.Machine,
		events:   deps.Events,
		notifier: deps.Notifier,
		store:    deps.Store,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		log:      deps.Log.With().Str("symbol", cfg.Symbol).Logger(),
		now:      deps.Now,
		series:   md.NewSeries(cfg.HistoryLimit),
	}
	e.publish(signal.Signal{Direction: signal.Hold})
	return e, nil
}

// Restore loads the symbol's checkpoint, if a store is configured.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	cp, err := e.store.Load(ctx, e.cfg.Symbol)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore %s: %w", e.cfg.Symbol, err)
	}
	e.machine.Restore(cp.Machine)
	e.gate.Restore(cp.Trades)
	_, open := e.machine.Position()
	_, unresolved := e.machine.Unresolved()
	e.log.Info().
		Str("saved_by", cp.RunID).
		Time("saved_at", cp.SavedAt).
		Int("trades", e.machine.Ledger().Trades()).
		Bool("position_open", open).
		Bool("unresolved", unresolved).
		Msg("checkpoint restored")
	e.publish(signal.Signal{Direction: signal.Hold})
	return nil
}

// Run ticks every poll interval until ctx is cancelled, then shuts down.
func (e *Engine) Run(ctx context.Context) error {
	e.started = e.now()
	e.record(ctx, eventlog.Start, 0, 0, 0, string(e.cfg.Interval))
	e.log.Info().
		Str("strategy", e.signals.Name()).
		Dur("poll_interval", e.cfg.PollInterval).
		Float64("balance", e.machine.Balance()).
		Msg("engine started")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if e.cfg.HeartbeatInterval > 0 {
		hb := time.NewTicker(e.cfg.HeartbeatInterval)
		defer hb.Stop()
		heartbeat = hb.C
	}

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.Shutdown(context.WithoutCancel(ctx))
			return nil
		case <-heartbeat:
			e.heartbeat()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if err := e.Tick(ctx); err != nil && ctx.Err() == nil {
		e.log.Error().Err(err).Msg("tick failed")
	}
}

// Tick runs one decision cycle. A data fetch that keeps failing skips the
// tick and leaves all state unchanged.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		e.metrics.TickDuration.WithLabelValues(e.cfg.Symbol).Observe(time.Since(start).Seconds())
	}()

	candles, err := e.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.skips++
		e.metrics.Ticks.WithLabelValues(e.cfg.Symbol, "skip").Inc()
		e.log.Warn().Err(err).Int("attempts", e.cfg.FetchRetries).Msg("market data unavailable, skipping tick")
		e.record(ctx, eventlog.Skip, e.lastPrice, 0, 0, err.Error())
		e.publish(e.lastSignal())
		return nil
	}

	e.series.Merge(candles)
	e.ticks++
	now := e.now()
	snap := indicator.Compute(e.series.Candles(), e.cfg.Indicator)
	price := snap.Close
	e.lastPrice = price

	_, open := e.machine.Position()
	sig := e.signals.Generate(ctx, signal.Input{
		Symbol:       e.cfg.Symbol,
		Snapshot:     snap,
		PositionOpen: open,
	})
	e.metrics.Signals.WithLabelValues(e.cfg.Symbol, string(sig.Direction)).Inc()

	d := decision{Close: price, Bars: snap.Bars, Signal: sig}
	switch {
	case e.isUnresolved():
		d.Result = e.reconcile(ctx, price, now)
	case open:
		d.Result = e.manage(ctx, price, now, sig)
	default:
		d.Result = e.enter(ctx, price, now, sig, snap)
	}
	e.logDecision(d)
	e.metrics.Ticks.WithLabelValues(e.cfg.Symbol, d.Result).Inc()

	if e.cfg.StatsEvery > 0 && e.ticks%e.cfg.StatsEvery == 0 {
		e.logStats(ctx, now)
	}
	e.publish(sig)
	return nil
}

func (e *Engine) fetch(ctx context.Context) ([]md.Candle, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryBackoff
	policy.MaxInterval = 10 * e.cfg.RetryBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.FetchRetries-1)), ctx)

	attempt := 0
	return backoff.RetryWithData(func() ([]md.Candle, error) {
		attempt++
		candles, err := e.source.Candles(ctx, e.cfg.Symbol, e.cfg.Interval, e.cfg.HistoryLimit)
		if err != nil {
			e.metrics.FetchErrors.WithLabelValues(e.cfg.Symbol).Inc()
			e.log.Debug().Err(err).Int("attempt", attempt).Msg("fetch candles failed")
			return nil, err
		}
		if len(candles) == 0 {
			return nil, fmt.Errorf("%w: empty candle batch", md.ErrUnavailable)
		}
		return candles, nil
	}, b)
}

func (e *Engine) enter(ctx context.Context, price float64, now time.Time, sig signal.Signal, snap indicator.Snapshot) string {
	if sig.Direction != signal.Buy {
		return "hold"
	}
	params := e.risk.Parameters(snap.Volatility)
	if sig.Confidence < params.ConfidenceThreshold {
		return "hold"
	}
	if err := params.Validate(); err != nil {
		e.log.Warn().Err(err).Msg("entry skipped")
		e.record(ctx, eventlog.EntryBlocked, price, 0, 0, risk.ErrInvalidLevels.Error())
		return "blocked"
	}
	if err := e.gate.Evaluate(risk.EntryContext{Now: now, Unresolved: e.isUnresolved()}); err != nil {
		e.record(ctx, eventlog.EntryBlocked, price, 0, 0, err.Error())
		return "blocked"
	}
	if reason := e.marketClosed(ctx); reason != "" {
		e.record(ctx, eventlog.EntryBlocked, price, 0, 0, reason)
		return "blocked"
	}

	balance := e.machine.Ledger().Cash()
	qty, err := e.risk.PositionSize(balance, price, snap.Volatility)
	if err != nil {
		e.log.Info().Err(err).Float64("balance", balance).Float64("price", price).Msg("entry skipped")
		e.record(ctx, eventlog.EntryBlocked, price, 0, 0, "insufficient_balance")
		return "blocked"
	}
	if !e.risk.EvaluateEntryFeasible(balance, price, qty) {
		e.log.Info().Float64("balance", balance).Float64("quantity", qty).Msg("entry not feasible")
		e.record(ctx, eventlog.EntryBlocked, price, qty, 0, "entry_not_feasible")
		return "blocked"
	}

	fill, err := e.executor.SubmitMarketOrder(ctx, e.cfg.Symbol, broker.Buy, qty)
	if err != nil {
		return e.orderFailed(ctx, broker.Buy, qty, price, "ENTRY", err)
	}
	e.metrics.Orders.WithLabelValues(e.cfg.Symbol, string(broker.Buy), "filled").Inc()

	pos, err := e.machine.Open(position.Fill{
		Price:    fill.Price,
		Quantity: fill.Quantity,
		OrderID:  fill.OrderID,
	}, position.Levels{
		StopLossPct:   params.StopLossPct,
		TakeProfitPct: params.TakeProfitPct,
	}, now)
	if err != nil {
		// The broker holds shares the machine cannot track.
		e.machine.MarkUnresolved(position.Unresolved{Side: string(broker.Buy), Quantity: fill.Quantity, Reason: "ENTRY", Since: now})
		e.log.Error().Err(err).Str("order_id", fill.OrderID).Msg("filled entry rejected by position machine")
		e.record(ctx, eventlog.Unresolved, fill.Price, fill.Quantity, 0, err.Error())
		e.save(ctx)
		return "unresolved"
	}
	e.gate.RecordTrade(now)

	e.log.Info().
		Float64("price", pos.EntryPrice).
		Float64("quantity", pos.Quantity).
		Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).
		Float64("confidence", sig.Confidence).
		Str("order_id", pos.OrderID).
		Msg("position opened")
	e.record(ctx, eventlog.Open, pos.EntryPrice, pos.Quantity, 0, fmt.Sprintf("confidence=%.2f", sig.Confidence))
	e.notifier.Notify(ctx, notify.Message{
		Time:   now,
		Level:  notify.Info,
		Symbol: e.cfg.Symbol,
		Title:  "Position opened",
		Text: fmt.Sprintf("BUY %.6f %s @ %.4f, stop %.4f, target %.4f",
			pos.Quantity, e.cfg.Symbol, pos.EntryPrice, pos.StopLoss, pos.TakeProfit),
	})
	e.save(ctx)
	return "opened"
}

// marketClosed returns the reason an entry must wait for the session, or
// "" when the market is open or no clock is configured. A clock that
// cannot be read blocks the entry.
func (e *Engine) marketClosed(ctx context.Context) string {
	if e.clock == nil {
		return ""
	}
	open, err := e.clock.IsOpen(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("market clock unavailable")
		return "market_clock_unavailable"
	}
	if !open {
		return "market_closed"
	}
	return ""
}

func (e *Engine) manage(ctx context.Context, price float64, now time.Time, sig signal.Signal) string {
	sell := sig.Direction == signal.Sell && sig.Confidence >= e.risk.Parameters(indicator.Value{}).ConfidenceThreshold
	d := e.machine.Evaluate(price, now, sell)
	if d.Trailed {
		pos, _ := e.machine.Position()
		e.log.Info().Float64("price", price).Float64("prev_stop", d.PrevStop).Float64("stop", d.NewStop).Msg("trailing stop raised")
		e.record(ctx, eventlog.Trail, price, pos.Quantity, 0, fmt.Sprintf("stop=%.4f prev=%.4f", d.NewStop, d.PrevStop))
		e.save(ctx)
		return "trailed"
	}
	if d.Exit == "" {
		return "holding"
	}
	if err := e.exit(ctx, price, d.Exit, now); err != nil {
		return "order_failed"
	}
	return "closed"
}

// exit sells the whole open position. The machine closes only on a
// confirmed fill.
func (e *Engine) exit(ctx context.Context, price float64, reason position.ExitReason, now time.Time) error {
	pos, ok := e.machine.Position()
	if !ok {
		return position.ErrNoPosition
	}
	fill, err := e.executor.SubmitMarketOrder(ctx, e.cfg.Symbol, broker.Sell, pos.Quantity)
	if err != nil {
		e.orderFailed(ctx, broker.Sell, pos.Quantity, price, string(reason), err)
		return err
	}
	e.metrics.Orders.WithLabelValues(e.cfg.Symbol, string(broker.Sell), "filled").Inc()

	trade, err := e.machine.Close(fill.Price, reason, now)
	if err != nil {
		return err
	}
	e.metrics.TradesClosed.WithLabelValues(e.cfg.Symbol, string(reason)).Inc()
	e.metrics.RealizedPnL.WithLabelValues(e.cfg.Symbol).Set(e.machine.Ledger().TotalProfit())

	e.log.Info().
		Str("reason", string(reason)).
		Float64("entry", trade.EntryPrice).
		Float64("exit", trade.ExitPrice).
		Float64("quantity", trade.Quantity).
		Float64("pnl", trade.PnL).
		Dur("held", trade.ExitTime.Sub(trade.EntryTime)).
		Msg("position closed")
	e.record(ctx, eventlog.Close, trade.ExitPrice, trade.Quantity, trade.PnL, string(reason))

	level := notify.Info
	if trade.PnL < 0 {
		level = notify.Warning
	}
	e.notifier.Notify(ctx, notify.Message{
		Time:   now,
		Level:  level,
		Symbol: e.cfg.Symbol,
		Title:  "Position closed",
		Text: fmt.Sprintf("%s: SELL %.6f %s @ %.4f, pnl %.4f",
			reason, trade.Quantity, e.cfg.Symbol, trade.ExitPrice, trade.PnL),
	})
	e.save(ctx)
	return nil
}

// orderFailed handles a failed submission. An ambiguous outcome marks the
// symbol unresolved; a definite failure leaves state unchanged.
func (e *Engine) orderFailed(ctx context.Context, side broker.Side, qty, price float64, intent string, err error) string {
	now := e.now()
	if errors.Is(err, broker.ErrNetworkFailure) {
		e.machine.MarkUnresolved(position.Unresolved{
			Side:     string(side),
			Quantity: qty,
			Reason:   intent,
			Since:    now,
		})
		e.metrics.Orders.WithLabelValues(e.cfg.Symbol, string(side), "unresolved").Inc()
		e.log.Error().Err(err).Str("side", string(side)).Float64("quantity", qty).Msg("order outcome unknown, trading halted for symbol")
		e.record(ctx, eventlog.Unresolved, price, qty, 0, err.Error())
		e.notifier.Notify(ctx, notify.Message{
			Time:   now,
			Level:  notify.Alert,
			Symbol: e.cfg.Symbol,
			Title:  "Order outcome unknown",
			Text:   fmt.Sprintf("%s %.6f %s: %v", side, qty, e.cfg.Symbol, err),
		})
		e.save(ctx)
		return "unresolved"
	}

	e.metrics.Orders.WithLabelValues(e.cfg.Symbol, string(side), "rejected").Inc()
	e.log.Warn().Err(err).Str("side", string(side)).Float64("quantity", qty).Msg("order failed")
	e.record(ctx, eventlog.OrderFailed, price, qty, 0, err.Error())
	return "order_failed"
}

// Shutdown attempts one close of an open position within the shutdown
// grace, then reports the final summary.
func (e *Engine) Shutdown(ctx context.Context) Summary {
	if _, open := e.machine.Position(); open && !e.isUnresolved() {
		closeCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownGrace)
		price := e.lastPrice
		if last, err := e.source.LastPrice(closeCtx, e.cfg.Symbol); err == nil {
			price = last
		}
		if err := e.exit(closeCtx, price, position.ForcedExit, e.now()); err != nil && !e.isUnresolved() {
			pos, _ := e.machine.Position()
			e.machine.MarkUnresolved(position.Unresolved{
				Side:     string(broker.Sell),
				Quantity: pos.Quantity,
				Reason:   string(position.ForcedExit),
				Since:    e.now(),
			})
			e.save(ctx)
		}
		cancel()
	}

	summary := e.Summary()
	ev := e.log.Info()
	if summary.Unresolved != nil || summary.Position != nil {
		ev = e.log.Warn()
	}
	ev.Int("trades", summary.Trades).
		Float64("win_rate", summary.WinRate).
		Float64("total_profit", summary.TotalProfit).
		Float64("roi_pct", summary.ROI).
		Bool("position_open", summary.Position != nil).
		Bool("unresolved", summary.Unresolved != nil).
		Msg("final summary")
	e.record(ctx, eventlog.Summary, e.lastPrice, 0, summary.TotalProfit, summary.Reason())
	e.notifier.Notify(ctx, notify.Message{
		Time:   e.now(),
		Level:  summaryLevel(summary),
		Symbol: e.cfg.Symbol,
		Title:  "Final summary",
		Text:   summary.String(),
	})
	e.save(ctx)
	e.publish(e.lastSignal())
	return summary
}

func (e *Engine) isUnresolved() bool {
	_, ok := e.machine.Unresolved()
	return ok
}

func (e *Engine) record(ctx context.Context, typ eventlog.EventType, price, qty, pnl float64, reason string) {
	rec := eventlog.Record{
		Timestamp: e.now(),
		RunID:     e.cfg.RunID,
		EventType: typ,
		Symbol:    e.cfg.Symbol,
		Price:     price,
		Quantity:  qty,
		PnL:       pnl,
		Reason:    reason,
	}
	wctx, cancel := e.writeContext(ctx)
	defer cancel()
	if err := e.events.Write(wctx, rec); err != nil {
		e.log.Warn().Err(err).Str("event", string(typ)).Msg("event log write failed")
	}
}

func (e *Engine) save(ctx context.Context) {
	if e.store == nil {
		return
	}
	cp := state.Checkpoint{
		Symbol:  e.cfg.Symbol,
		RunID:   e.cfg.RunID,
		SavedAt: e.now(),
		Machine: e.machine.Checkpoint(),
		Trades:  e.gate.Trades(),
	}
	wctx, cancel := e.writeContext(ctx)
	defer cancel()
	if err := e.store.Save(wctx, cp); err != nil {
		e.log.Error().Err(err).Msg("checkpoint save failed")
	}
}

// writeContext outlives cancellation of ctx so the final records of a
// shutdown still land, but stays bounded by the write timeout.
func (e *Engine) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WriteTimeout)
}

func (e *Engine) heartbeat() {
	pos, open := e.machine.Position()
	ev := e.log.Info().
		Dur("uptime", e.now().Sub(e.started)).
		Int("ticks", e.ticks).
		Int("skips", e.skips).
		Float64("balance", e.machine.Balance()).
		Bool("position_open", open)
	if open {
		ev = ev.Float64("entry", pos.EntryPrice).Float64("stop_loss", pos.StopLoss)
	}
	ev.Msg("heartbeat")
}

func (e *Engine) logStats(ctx context.Context, now time.Time) {
	l := e.machine.Ledger()
	e.log.Info().
		Int("ticks", e.ticks).
		Int("trades", l.Trades()).
		Int("wins", l.Wins()).
		Float64("win_rate", l.WinRate()).
		Float64("total_profit", l.TotalProfit()).
		Float64("roi_pct", e.machine.ROI()).
		Msg("statistics")
	e.notifier.Notify(ctx, notify.Message{
		Time:   now,
		Level:  notify.Info,
		Symbol: e.cfg.Symbol,
		Title:  "Statistics",
		Text: fmt.Sprintf("%d ticks, %d trades, win rate %.1f%%, profit %.4f, ROI %.2f%%",
			e.ticks, l.Trades(), l.WinRate()*100, l.TotalProfit(), e.machine.ROI()),
	})
}
