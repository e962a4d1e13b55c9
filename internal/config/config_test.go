package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseYAML = `
symbols: [AAPL, MSFT]
interval: 5m
risk:
  stop_loss_pct: 0.02
  take_profit_pct: 0.04
  confidence_threshold: 0.6
  quantity: 10
overrides:
  MSFT:
    stop_loss_pct: 0.01
    confidence_threshold: 0.8
`

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func withKeys(t *testing.T) {
	t.Helper()
	t.Setenv("APCA_API_KEY_ID", "key")
	t.Setenv("APCA_API_SECRET_KEY", "secret")
}

func TestLoadFromAppliesDefaultsAndYAML(t *testing.T) {
	withKeys(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseYAML)

	cfg, err := LoadFrom(path, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Mode != ModeSimulate {
		t.Fatalf("expected default mode simulate, got %q", cfg.Mode)
	}
	if cfg.Interval != "5m" {
		t.Fatalf("expected interval from yaml, got %q", cfg.Interval)
	}
	if cfg.PollInterval != 60*time.Second {
		t.Fatalf("expected default poll interval, got %s", cfg.PollInterval)
	}
	if cfg.Indicator.RSIPeriod != 14 || cfg.Indicator.MACDSlow != 26 {
		t.Fatalf("expected indicator defaults, got %+v", cfg.Indicator)
	}
	if cfg.Signal.Weights.MA != 0.30 {
		t.Fatalf("expected default MA weight, got %v", cfg.Signal.Weights.MA)
	}
	if cfg.Gate.TradePeriod != 24*time.Hour {
		t.Fatalf("expected default trade period, got %s", cfg.Gate.TradePeriod)
	}
}

func TestLoadFromRejectsMissingRiskParameters(t *testing.T) {
	withKeys(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "symbols: [AAPL]\nrisk:\n  quantity: 1\n")

	if _, err := LoadFrom(path, ""); err == nil {
		t.Fatalf("expected validation error for missing stop_loss_pct")
	}
}

func TestLoadFromRejectsInvalidValues(t *testing.T) {
	withKeys(t)
	tests := map[string]string{
		"bad mode":       baseYAML + "mode: live\n",
		"bad interval":   strings.Replace(baseYAML, "interval: 5m", "interval: 5x", 1),
		"windows":        baseYAML + "indicator:\n  short_window: 30\n",
		"override range": baseYAML + "  AAPL:\n    stop_loss_pct: 1.5\n",
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", contents)
			if _, err := LoadFrom(path, ""); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadFromRejectsDuplicateSymbols(t *testing.T) {
	withKeys(t)
	contents := strings.Replace(baseYAML, "symbols: [AAPL, MSFT]", "symbols: [AAPL, AAPL]", 1)
	path := writeFile(t, t.TempDir(), "config.yaml", contents)

	if _, err := LoadFrom(path, ""); err == nil {
		t.Fatalf("expected validation error for duplicate symbols")
	}
}

func TestLoadFromCrossoverIgnoresMidWindow(t *testing.T) {
	withKeys(t)
	windows := "indicator:\n  short_window: 2\n  long_window: 4\n"
	crossover := baseYAML + windows + "signal:\n  strategy: crossover\n"
	path := writeFile(t, t.TempDir(), "config.yaml", crossover)

	cfg, err := LoadFrom(path, "")
	if err != nil {
		t.Fatalf("crossover config with default mid_window: %v", err)
	}
	if cfg.Indicator.MidWindow != 10 {
		t.Fatalf("expected default mid_window, got %d", cfg.Indicator.MidWindow)
	}

	weighted := writeFile(t, t.TempDir(), "config.yaml", baseYAML+windows)
	if _, err := LoadFrom(weighted, ""); err == nil {
		t.Fatalf("expected weighted strategy to reject mid_window outside short..long")
	}
}

func TestLoadFromRequiresKeys(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML+"mode: broker\n")

	_, err := LoadFrom(path, "")
	if err == nil || !strings.Contains(err.Error(), "APCA_API_KEY_ID") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestLoadFromPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseYAML)
	envPath := writeFile(t, dir, ".env", "TRADER_STRATEGY=crossover\nAPCA_API_KEY_ID=from_file\nTRADER_INTERVAL=15m\n")

	unsetEnv(t, "TRADER_STRATEGY")
	unsetEnv(t, "APCA_API_KEY_ID")
	t.Setenv("APCA_API_SECRET_KEY", "secret")
	t.Setenv("TRADER_INTERVAL", "1h")
	t.Cleanup(func() {
		os.Unsetenv("TRADER_STRATEGY")
		os.Unsetenv("APCA_API_KEY_ID")
	})

	cfg, err := LoadFrom(path, envPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Signal.Strategy != "crossover" {
		t.Fatalf("expected strategy from .env, got %q", cfg.Signal.Strategy)
	}
	if cfg.Alpaca.APIKey != "from_file" {
		t.Fatalf("expected api key from .env, got %q", cfg.Alpaca.APIKey)
	}
	if cfg.Interval != "1h" {
		t.Fatalf("expected environment to win over .env and yaml, got %q", cfg.Interval)
	}
}

func TestRiskForAppliesOverrides(t *testing.T) {
	withKeys(t)
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)
	cfg, err := LoadFrom(path, "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	aapl := cfg.RiskFor("AAPL")
	if aapl.StopLossPct != 0.02 || aapl.ConfidenceThreshold != 0.6 {
		t.Fatalf("expected global risk for AAPL, got %+v", aapl)
	}
	msft := cfg.RiskFor("MSFT")
	if msft.StopLossPct != 0.01 || msft.TakeProfitPct != 0.04 {
		t.Fatalf("expected MSFT stop override with global take profit, got %+v", msft)
	}
	if got := cfg.SignalFor("MSFT").Thresholds.Confidence; got != 0.8 {
		t.Fatalf("expected MSFT confidence override in signal thresholds, got %v", got)
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Config{}
	cfg.Alpaca.APIKey = "PKABCDEFGHIJ"
	cfg.Alpaca.APISecret = "short"
	out := cfg.Redacted()

	if out["alpaca_api_key"] != "PKAB****" {
		t.Fatalf("unexpected masked key %v", out["alpaca_api_key"])
	}
	if out["alpaca_api_secret"] != "****" {
		t.Fatalf("unexpected masked secret %v", out["alpaca_api_secret"])
	}
	if out["telegram_token"] != "" {
		t.Fatalf("expected empty token to stay empty, got %v", out["telegram_token"])
	}
}
