// Package config resolves the bot configuration from struct defaults, a YAML
// file, an optional .env file and the process environment, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"autotrader/internal/indicator"
	"autotrader/internal/logger"
	"autotrader/internal/md"
	"autotrader/internal/position"
	"autotrader/internal/risk"
	"autotrader/internal/signal"
)

type Mode string

const (
	// ModeSimulate fills orders locally at the last traded price.
	ModeSimulate Mode = "simulate"
	// ModeBroker routes orders to the Alpaca trading API.
	ModeBroker Mode = "broker"
)

type Config struct {
	Mode           Mode     `yaml:"mode" default:"simulate" validate:"oneof=simulate broker"`
	Symbols        []string `yaml:"symbols" validate:"required,min=1,unique,dive,required"`
	Interval       string   `yaml:"interval" default:"1m" validate:"required"`
	HistoryLimit   int      `yaml:"history_limit" default:"100" validate:"gt=0"`
	InitialBalance float64  `yaml:"initial_balance" default:"10000" validate:"gt=0"`

	PollInterval      time.Duration `yaml:"poll_interval" default:"60s" validate:"gt=0"`
	FetchRetries      int           `yaml:"fetch_retries" default:"3" validate:"gte=1"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace" default:"10s" validate:"gt=0"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" default:"5m" validate:"gte=0"`
	StatsEvery        int           `yaml:"stats_every" default:"10" validate:"gte=0"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" default:"30s" validate:"gt=0"`

	Log       logger.Config       `yaml:"log"`
	Indicator indicator.Params    `yaml:"indicator"`
	Signal    SignalConfig        `yaml:"signal"`
	Risk      RiskConfig          `yaml:"risk"`
	Gate      GateConfig          `yaml:"gate"`
	Position  PositionConfig      `yaml:"position"`
	Overrides map[string]Override `yaml:"overrides"`

	Alpaca    AlpacaConfig    `yaml:"alpaca"`
	Simulate  SimulateConfig  `yaml:"simulate"`
	Predictor PredictorConfig `yaml:"predictor"`
	Notify    NotifyConfig    `yaml:"notify"`
	EventLog  EventLogConfig  `yaml:"eventlog"`
	State     StateConfig     `yaml:"state"`
	Redis     RedisConfig     `yaml:"redis"`
	Status    StatusConfig    `yaml:"status"`
}

type SignalConfig struct {
	Strategy       string         `yaml:"strategy" default:"weighted" validate:"oneof=crossover weighted predictor"`
	ScoreThreshold float64        `yaml:"score_threshold" default:"0.2" validate:"gte=0,lte=1"`
	Saturation     float64        `yaml:"saturation" default:"0.005" validate:"gt=0"`
	Weights        signal.Weights `yaml:"weights"`
}

type RiskConfig struct {
	StopLossPct         float64 `yaml:"stop_loss_pct" validate:"required,gt=0,lt=1"`
	TakeProfitPct       float64 `yaml:"take_profit_pct" validate:"required,gt=0"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"required,gt=0,lte=1"`
	MaxPositionFraction float64 `yaml:"max_position_fraction" default:"0.95" validate:"gt=0,lte=1"`

	Dynamic        bool    `yaml:"dynamic_risk"`
	StopLossVolK   float64 `yaml:"stop_loss_vol_k" default:"10" validate:"gte=0"`
	TakeProfitVolK float64 `yaml:"take_profit_vol_k" default:"5" validate:"gte=0"`
	StopLossMin    float64 `yaml:"stop_loss_min" validate:"gte=0"`
	StopLossMax    float64 `yaml:"stop_loss_max" validate:"gte=0"`
	TakeProfitMin  float64 `yaml:"take_profit_min" validate:"gte=0"`
	TakeProfitMax  float64 `yaml:"take_profit_max" validate:"gte=0"`

	Quantity      float64 `yaml:"quantity" validate:"gte=0"`
	AllocationPct float64 `yaml:"allocation_pct" validate:"gte=0,lte=1"`
	SizeVolK      float64 `yaml:"size_vol_k" validate:"gte=0"`
	SizeMinFactor float64 `yaml:"size_min_factor" default:"0.5" validate:"gte=0"`
	SizeMaxFactor float64 `yaml:"size_max_factor" default:"1" validate:"gte=0"`
	QuantityStep  float64 `yaml:"quantity_step" default:"0.0001" validate:"gte=0"`
	MinQuantity   float64 `yaml:"min_quantity" validate:"gte=0"`
}

type GateConfig struct {
	KillSwitch         bool          `yaml:"kill_switch"`
	Cooldown           time.Duration `yaml:"cooldown" validate:"gte=0"`
	MaxTradesPerPeriod int           `yaml:"max_trades_per_period" validate:"gte=0"`
	TradePeriod        time.Duration `yaml:"trade_period" default:"24h" validate:"gt=0"`

	// MarketHoursOnly holds entries while Alpaca's market clock reports
	// the session closed.
	MarketHoursOnly bool `yaml:"market_hours_only"`
}

type PositionConfig struct {
	TrailActivationPct float64       `yaml:"trail_activation_pct" default:"0.01" validate:"gte=0"`
	TrailPct           float64       `yaml:"trail_pct" default:"0.005" validate:"gte=0,lt=1"`
	MaxHold            time.Duration `yaml:"max_hold_duration" validate:"gte=0"`
}

// Override replaces risk values for a single symbol. Nil fields keep the
// global setting.
type Override struct {
	StopLossPct         *float64 `yaml:"stop_loss_pct"`
	TakeProfitPct       *float64 `yaml:"take_profit_pct"`
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
	Quantity            *float64 `yaml:"quantity"`
}

type AlpacaConfig struct {
	APIKey      string        `yaml:"-"`
	APISecret   string        `yaml:"-"`
	BaseURL     string        `yaml:"base_url" default:"https://paper-api.alpaca.markets" validate:"url"`
	Feed        string        `yaml:"feed" default:"iex" validate:"oneof=iex sip delayed_sip"`
	FillTimeout time.Duration `yaml:"fill_timeout" default:"30s" validate:"gt=0"`
	FillPoll    time.Duration `yaml:"fill_poll" default:"500ms" validate:"gt=0"`
	RatePerSec  float64       `yaml:"rate_per_second" default:"3" validate:"gt=0"`
	RateBurst   int           `yaml:"rate_burst" default:"5" validate:"gt=0"`
}

type SimulateConfig struct {
	SlippageBps float64 `yaml:"slippage_bps" validate:"gte=0"`
}

type PredictorConfig struct {
	Kind    string        `yaml:"kind" default:"llm" validate:"oneof=http llm"`
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" default:"20s" validate:"gt=0"`
	LLM     LLMConfig     `yaml:"llm"`
}

type LLMConfig struct {
	BaseURL            string  `yaml:"base_url" default:"http://localhost:11434" validate:"url"`
	Model              string  `yaml:"model" default:"llama3.1"`
	UseTools           bool    `yaml:"use_tools" default:"true"`
	SystemPromptPath   string  `yaml:"system_prompt_path"`
	ForecastPromptPath string  `yaml:"forecast_prompt_path"`
	Context            string  `yaml:"context"`
	Temperature        float64 `yaml:"temperature" default:"0.1" validate:"gte=0"`
}

type NotifyConfig struct {
	QueueSize    int            `yaml:"queue_size" default:"64" validate:"gt=0"`
	Timeout      time.Duration  `yaml:"timeout" default:"10s" validate:"gt=0"`
	Telegram     TelegramConfig `yaml:"telegram"`
	Kafka        KafkaConfig    `yaml:"kafka"`
	RedisChannel string         `yaml:"redis_channel"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url" default:"https://api.telegram.org" validate:"url"`
	Token   string `yaml:"-"`
	ChatID  string `yaml:"chat_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" default:"trader.notifications"`
}

type EventLogConfig struct {
	Path          string   `yaml:"path" default:"trades.log"`
	Format        string   `yaml:"format" default:"text" validate:"oneof=text json"`
	PostgresDSN   string   `yaml:"-"`
	ClickHouseDSN string   `yaml:"-"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic" default:"trader.events"`

	WriteTimeout time.Duration `yaml:"write_timeout" default:"5s" validate:"gt=0"`
}

type StateConfig struct {
	Backend string `yaml:"backend" default:"file" validate:"oneof=file redis none"`
	Dir     string `yaml:"dir" default:"state"`
	Prefix  string `yaml:"prefix" default:"autotrader"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type StatusConfig struct {
	Addr      string `yaml:"addr" default:":8080"`
	Namespace string `yaml:"namespace" default:"autotrader"`
}

// Load parses -config and -env-file from the command line and resolves the
// configuration.
func Load() (Config, error) {
	var configPath string
	var envPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to YAML config file")
	flag.StringVar(&envPath, "env-file", ".env", "path to .env file")
	flag.Parse()

	return LoadFrom(configPath, envPath)
}

// LoadFrom resolves the configuration from the given files. A missing file
// is skipped.
func LoadFrom(configPath, envPath string) (Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("set defaults: %w", err)
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if envPath != "" {
		if err := loadDotEnv(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate runs the struct rules and the cross-field checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	checkWindows := c.Indicator.Validate
	if c.Signal.Strategy == "weighted" {
		checkWindows = c.Indicator.ValidateAlignment
	}
	if err := checkWindows(); err != nil {
		return fmt.Errorf("validate config: indicator: %w", err)
	}
	if _, err := md.Interval(c.Interval).Duration(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Risk.Quantity == 0 && c.Risk.AllocationPct == 0 {
		return fmt.Errorf("validate config: risk.quantity or risk.allocation_pct is required")
	}
	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		return fmt.Errorf("validate config: APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if c.Signal.Strategy == "predictor" && c.Predictor.Kind == "http" && c.Predictor.URL == "" {
		return fmt.Errorf("validate config: predictor.url is required for the http predictor")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("validate config: telegram token and chat_id are required when telegram is enabled")
	}
	if c.State.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("validate config: redis.addr is required for the redis state backend")
	}
	for symbol, o := range c.Overrides {
		if err := o.validate(); err != nil {
			return fmt.Errorf("validate config: overrides.%s: %w", symbol, err)
		}
	}
	return nil
}

func (o Override) validate() error {
	if o.StopLossPct != nil && (*o.StopLossPct <= 0 || *o.StopLossPct >= 1) {
		return fmt.Errorf("stop_loss_pct must be in (0, 1)")
	}
	if o.TakeProfitPct != nil && *o.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be > 0")
	}
	if o.ConfidenceThreshold != nil && (*o.ConfidenceThreshold <= 0 || *o.ConfidenceThreshold > 1) {
		return fmt.Errorf("confidence_threshold must be in (0, 1]")
	}
	if o.Quantity != nil && *o.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	return nil
}

// RiskFor returns the risk settings for symbol with its overrides applied.
func (c Config) RiskFor(symbol string) risk.Config {
	r := c.Risk
	out := risk.Config{
		StopLossPct:         r.StopLossPct,
		TakeProfitPct:       r.TakeProfitPct,
		ConfidenceThreshold: r.ConfidenceThreshold,
		MaxPositionFraction: r.MaxPositionFraction,
		Dynamic:             r.Dynamic,
		StopLossVolK:        r.StopLossVolK,
		TakeProfitVolK:      r.TakeProfitVolK,
		StopLossMin:         r.StopLossMin,
		StopLossMax:         r.StopLossMax,
		TakeProfitMin:       r.TakeProfitMin,
		TakeProfitMax:       r.TakeProfitMax,
		Quantity:            r.Quantity,
		AllocationPct:       r.AllocationPct,
		SizeVolK:            r.SizeVolK,
		SizeMinFactor:       r.SizeMinFactor,
		SizeMaxFactor:       r.SizeMaxFactor,
		QuantityStep:        r.QuantityStep,
		MinQuantity:         r.MinQuantity,
	}
	o, ok := c.Overrides[symbol]
	if !ok {
		return out
	}
	if o.StopLossPct != nil {
		out.StopLossPct = *o.StopLossPct
	}
	if o.TakeProfitPct != nil {
		out.TakeProfitPct = *o.TakeProfitPct
	}
	if o.ConfidenceThreshold != nil {
		out.ConfidenceThreshold = *o.ConfidenceThreshold
	}
	if o.Quantity != nil {
		out.Quantity = *o.Quantity
		out.AllocationPct = 0
	}
	return out
}

// SignalFor returns the signal settings for symbol. The confidence threshold
// follows the symbol's risk override.
func (c Config) SignalFor(symbol string) signal.Config {
	return signal.Config{
		Strategy: c.Signal.Strategy,
		Thresholds: signal.Thresholds{
			Score:      c.Signal.ScoreThreshold,
			Confidence: c.RiskFor(symbol).ConfidenceThreshold,
		},
		Saturation: c.Signal.Saturation,
		Weights:    c.Signal.Weights,
	}
}

func (c Config) GateSettings() risk.GateConfig {
	return risk.GateConfig{
		KillSwitch:         c.Gate.KillSwitch,
		Cooldown:           c.Gate.Cooldown,
		MaxTradesPerPeriod: c.Gate.MaxTradesPerPeriod,
		TradePeriod:        c.Gate.TradePeriod,
	}
}

func (c Config) PositionSettings() position.Config {
	return position.Config{
		Trailing: position.Trailing{
			ActivationPct: c.Position.TrailActivationPct,
			TrailPct:      c.Position.TrailPct,
		},
		MaxHold: c.Position.MaxHold,
	}
}

// Redacted returns the settings worth logging at startup with secrets masked.
func (c Config) Redacted() map[string]any {
	overrides := make([]string, 0, len(c.Overrides))
	for symbol := range c.Overrides {
		overrides = append(overrides, symbol)
	}
	sort.Strings(overrides)

	return map[string]any{
		"mode":                 string(c.Mode),
		"symbols":              strings.Join(c.Symbols, ","),
		"interval":             c.Interval,
		"strategy":             c.Signal.Strategy,
		"poll_interval":        c.PollInterval.String(),
		"stop_loss_pct":        c.Risk.StopLossPct,
		"take_profit_pct":      c.Risk.TakeProfitPct,
		"confidence_threshold": c.Risk.ConfidenceThreshold,
		"dynamic_risk":         c.Risk.Dynamic,
		"kill_switch":          c.Gate.KillSwitch,
		"overrides":            strings.Join(overrides, ","),
		"alpaca_api_key":       mask(c.Alpaca.APIKey),
		"alpaca_api_secret":    mask(c.Alpaca.APISecret),
		"telegram_token":       mask(c.Notify.Telegram.Token),
		"redis_password":       mask(c.Redis.Password),
		"postgres_dsn":         mask(c.EventLog.PostgresDSN),
		"clickhouse_dsn":       mask(c.EventLog.ClickHouseDSN),
	}
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****"
	}
}
