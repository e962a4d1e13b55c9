package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	"autotrader/internal/engine"
	"autotrader/internal/eventlog"
	"autotrader/internal/llm/ollama"
	"autotrader/internal/logger"
	"autotrader/internal/md"
	"autotrader/internal/metrics"
	"autotrader/internal/notify"
	"autotrader/internal/position"
	"autotrader/internal/risk"
	sig "autotrader/internal/signal"
	"autotrader/internal/state"
	"autotrader/internal/statusserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "autotrader: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	runID := uuid.NewString()
	log = log.With().Str("run_id", runID).Logger()
	log.Info().Fields(cfg.Redacted()).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	events, err := openEventLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := events.Close(); err != nil {
			log.Warn().Err(err).Msg("close event log")
		}
	}()

	senders, kafkaNotify := buildSenders(cfg, redisClient, log)
	notifier := notify.NewAsync(senders, cfg.Notify.QueueSize, cfg.Notify.Timeout, log)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notify.Timeout)
		defer cancel()
		if err := notifier.Close(drainCtx); err != nil {
			log.Warn().Err(err).Msg("notifications not drained")
		}
		if kafkaNotify != nil {
			_ = kafkaNotify.Close()
		}
	}()

	store, err := openStore(cfg, redisClient)
	if err != nil {
		return err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Alpaca.RatePerSec), cfg.Alpaca.RateBurst)
	source := md.NewThrottled(md.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.Feed), limiter)
	executor := buildExecutor(cfg, source, limiter, log)
	clock := buildClock(cfg, executor, limiter, log)
	recorder := metrics.New(cfg.Status.Namespace)

	engines := make([]*engine.Engine, 0, len(cfg.Symbols))
	sources := make([]statusserver.StatusSource, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		eng, err := buildEngine(ctx, cfg, symbol, runID, source, executor, clock, events, notifier, store, recorder, log)
		if err != nil {
			return err
		}
		engines = append(engines, eng)
		sources = append(sources, eng)
	}

	notifier.Notify(ctx, notify.Message{
		Time:  time.Now().UTC(),
		Level: notify.Info,
		Title: "Bot started",
		Text:  fmt.Sprintf("mode=%s symbols=%v strategy=%s", cfg.Mode, cfg.Symbols, cfg.Signal.Strategy),
	})

	g, gctx := errgroup.WithContext(ctx)
	server := statusserver.New(cfg.Status.Addr, sources, recorder.Handler(), log)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	for _, eng := range engines {
		g.Go(func() error {
			return eng.Run(gctx)
		})
	}

	err = g.Wait()
	for _, eng := range engines {
		summary := eng.Summary()
		if summary.Unresolved != nil {
			log.Error().Str("symbol", summary.Symbol).Msg("exited with an unresolved order, reconcile with the broker before restarting")
		}
	}
	log.Info().Msg("bot shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildEngine(
	ctx context.Context,
	cfg config.Config,
	symbol, runID string,
	source md.Source,
	executor broker.Executor,
	clock broker.MarketClock,
	events eventlog.Sink,
	notifier notify.Notifier,
	store state.Store,
	recorder *metrics.Metrics,
	log zerolog.Logger,
) (*engine.Engine, error) {
	signalCfg := cfg.SignalFor(symbol)
	if signalCfg.Strategy == "predictor" {
		predictor, err := buildPredictor(cfg)
		if err != nil {
			return nil, err
		}
		signalCfg.Predictor = predictor
	}
	provider, err := sig.New(signalCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	symbolLog := log.With().Str("symbol", symbol).Logger()
	eng, err := engine.New(engine.Config{
		Symbol:            symbol,
		RunID:             runID,
		Interval:          md.Interval(cfg.Interval),
		HistoryLimit:      cfg.HistoryLimit,
		Indicator:         cfg.Indicator,
		PollInterval:      cfg.PollInterval,
		FetchRetries:      cfg.FetchRetries,
		ShutdownGrace:     cfg.ShutdownGrace,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StatsEvery:        cfg.StatsEvery,
		ReconcileInterval: cfg.ReconcileInterval,
		WriteTimeout:      cfg.EventLog.WriteTimeout,
	}, engine.Deps{
		Source:   source,
		Executor: executor,
		Signals:  provider,
		Risk:     risk.NewManager(cfg.RiskFor(symbol)),
		Gate:     risk.NewGate(cfg.GateSettings(), symbolLog),
		Machine:  position.NewMachine(symbol, cfg.PositionSettings(), position.NewLedger(cfg.InitialBalance)),
		Events:   events,
		Notifier: notifier,
		Store:    store,
		Metrics:  recorder,
		Clock:    clock,
		Log:      log,
	})
	if err != nil {
		return nil, err
	}
	if err := eng.Restore(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

// buildPredictor returns a fresh predictor per symbol; the LLM predictor
// keeps per-call state.
func buildPredictor(cfg config.Config) (sig.Predictor, error) {
	p := cfg.Predictor
	if p.Kind == "http" {
		return sig.NewHTTPPredictor(p.URL, p.Timeout), nil
	}
	return sig.NewLLMPredictor(sig.LLMPredictorConfig{
		Provider:           ollama.New(p.LLM.BaseURL, p.LLM.Model, p.Timeout),
		UseTools:           p.LLM.UseTools,
		SystemPromptPath:   p.LLM.SystemPromptPath,
		ForecastPromptPath: p.LLM.ForecastPromptPath,
		Context:            p.LLM.Context,
		Temperature:        p.LLM.Temperature,
	})
}

func buildExecutor(cfg config.Config, source md.Source, limiter *rate.Limiter, log zerolog.Logger) broker.Executor {
	if cfg.Mode == config.ModeBroker {
		return broker.NewThrottled(newAlpaca(cfg, log), limiter)
	}
	return broker.NewPaper(source.LastPrice, cfg.Simulate.SlippageBps)
}

// buildClock returns nil unless entries are restricted to market hours.
// Simulated runs read the same Alpaca clock as broker runs.
func buildClock(cfg config.Config, executor broker.Executor, limiter *rate.Limiter, log zerolog.Logger) broker.MarketClock {
	if !cfg.Gate.MarketHoursOnly {
		return nil
	}
	if clock, ok := executor.(broker.MarketClock); ok {
		return clock
	}
	return broker.NewThrottled(newAlpaca(cfg, log), limiter)
}

func newAlpaca(cfg config.Config, log zerolog.Logger) *broker.Alpaca {
	return broker.NewAlpaca(broker.AlpacaConfig{
		APIKey:       cfg.Alpaca.APIKey,
		APISecret:    cfg.Alpaca.APISecret,
		BaseURL:      cfg.Alpaca.BaseURL,
		FillTimeout:  cfg.Alpaca.FillTimeout,
		PollInterval: cfg.Alpaca.FillPoll,
	}, log)
}

func openEventLog(ctx context.Context, cfg config.Config) (eventlog.Sink, error) {
	var sinks eventlog.Multi
	fail := func(err error) (eventlog.Sink, error) {
		_ = sinks.Close()
		return nil, err
	}

	if cfg.EventLog.Path != "" {
		file, err := eventlog.OpenFile(cfg.EventLog.Path, eventlog.Format(cfg.EventLog.Format))
		if err != nil {
			return fail(fmt.Errorf("open event log: %w", err))
		}
		sinks = append(sinks, file)
	}
	if cfg.EventLog.PostgresDSN != "" {
		pg, err := eventlog.NewPostgresSink(ctx, cfg.EventLog.PostgresDSN)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, pg)
	}
	if cfg.EventLog.ClickHouseDSN != "" {
		ch, err := eventlog.NewClickHouseSink(ctx, cfg.EventLog.ClickHouseDSN)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, ch)
	}
	if len(cfg.EventLog.KafkaBrokers) > 0 {
		sinks = append(sinks, eventlog.NewKafkaSink(cfg.EventLog.KafkaBrokers, cfg.EventLog.KafkaTopic))
	}
	return sinks, nil
}

func buildSenders(cfg config.Config, redisClient *redis.Client, log zerolog.Logger) (notify.Sender, *notify.Kafka) {
	senders := notify.Multi{notify.Log{Logger: log.With().Str("component", "notify").Logger()}}
	var kafkaSender *notify.Kafka
	if t := cfg.Notify.Telegram; t.Enabled {
		senders = append(senders, notify.NewTelegram(t.BaseURL, t.Token, t.ChatID, cfg.Notify.Timeout))
	}
	if k := cfg.Notify.Kafka; len(k.Brokers) > 0 {
		kafkaSender = notify.NewKafka(k.Brokers, k.Topic)
		senders = append(senders, kafkaSender)
	}
	if cfg.Notify.RedisChannel != "" && redisClient != nil {
		senders = append(senders, notify.NewRedis(redisClient, cfg.Notify.RedisChannel))
	}
	return senders, kafkaSender
}

func openStore(cfg config.Config, redisClient *redis.Client) (state.Store, error) {
	switch cfg.State.Backend {
	case "redis":
		return state.NewRedisStore(redisClient, cfg.State.Prefix), nil
	case "none":
		return nil, nil
	default:
		store, err := state.NewFileStore(cfg.State.Dir)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		return store, nil
	}
}
