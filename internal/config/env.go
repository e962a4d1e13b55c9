package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// loadDotEnv sets KEY=VALUE pairs from path. Variables already present in the
// environment win.
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type envBinding struct {
	key   string
	apply func(c *Config, value string) error
}

func stringVar(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func listVar(dst func(c *Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = splitList(v)
		return nil
	}
}

func floatVar(dst func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func boolVar(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func modeVar(c *Config, v string) error {
	c.Mode = Mode(v)
	return nil
}

var envBindings = []envBinding{
	{"APCA_API_KEY_ID", stringVar(func(c *Config) *string { return &c.Alpaca.APIKey })},
	{"APCA_API_SECRET_KEY", stringVar(func(c *Config) *string { return &c.Alpaca.APISecret })},
	{"APCA_API_BASE_URL", stringVar(func(c *Config) *string { return &c.Alpaca.BaseURL })},
	{"TRADER_MODE", modeVar},
	{"TRADER_SYMBOLS", listVar(func(c *Config) *[]string { return &c.Symbols })},
	{"TRADER_INTERVAL", stringVar(func(c *Config) *string { return &c.Interval })},
	{"TRADER_STRATEGY", stringVar(func(c *Config) *string { return &c.Signal.Strategy })},
	{"TRADER_LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"TRADER_STOP_LOSS_PCT", floatVar(func(c *Config) *float64 { return &c.Risk.StopLossPct })},
	{"TRADER_TAKE_PROFIT_PCT", floatVar(func(c *Config) *float64 { return &c.Risk.TakeProfitPct })},
	{"TRADER_CONFIDENCE_THRESHOLD", floatVar(func(c *Config) *float64 { return &c.Risk.ConfidenceThreshold })},
	{"TRADER_KILL_SWITCH", boolVar(func(c *Config) *bool { return &c.Gate.KillSwitch })},
	{"TRADER_TELEGRAM_TOKEN", stringVar(func(c *Config) *string { return &c.Notify.Telegram.Token })},
	{"TRADER_TELEGRAM_CHAT_ID", stringVar(func(c *Config) *string { return &c.Notify.Telegram.ChatID })},
	{"TRADER_POSTGRES_DSN", stringVar(func(c *Config) *string { return &c.EventLog.PostgresDSN })},
	{"TRADER_CLICKHOUSE_DSN", stringVar(func(c *Config) *string { return &c.EventLog.ClickHouseDSN })},
	{"TRADER_KAFKA_BROKERS", listVar(func(c *Config) *[]string { return &c.EventLog.KafkaBrokers })},
	{"TRADER_REDIS_ADDR", stringVar(func(c *Config) *string { return &c.Redis.Addr })},
	{"TRADER_REDIS_PASSWORD", stringVar(func(c *Config) *string { return &c.Redis.Password })},
	{"TRADER_PREDICTOR_URL", stringVar(func(c *Config) *string { return &c.Predictor.URL })},
	{"OLLAMA_HOST", stringVar(func(c *Config) *string { return &c.Predictor.LLM.BaseURL })},
}

func applyEnv(c *Config) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("env %s: %w", b.key, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
