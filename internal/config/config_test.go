package config

import (
	"os"
	"testing"
	"time"

	"github.com/rewired-gh/candlesentry/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
market:
  provider: bybit

watch:
  symbols:
    - BTCUSDT
    - ETHUSDT
  timeframes: ["5m", "1h"]
  strategies:
    - name: sol-4h
      symbol: SOLUSDT
      timeframe: 4h
      poll_interval: 2m
      enabled: true
      detectors:
        patterns: true
        orderbook: true

rules:
  rsi_low: 25
  volume_filter: false

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "info"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Watch.Symbols) != 2 {
		t.Errorf("Expected 2 symbols, got %d", len(cfg.Watch.Symbols))
	}
	if cfg.Watch.PollFast != 60*time.Second || cfg.Watch.PollSlow != 180*time.Second {
		t.Errorf("Unexpected poll intervals: %v / %v", cfg.Watch.PollFast, cfg.Watch.PollSlow)
	}
	if cfg.Watch.InitCandles != 50 || cfg.Watch.MaxCandles != 200 {
		t.Errorf("Unexpected candle window: %d / %d", cfg.Watch.InitCandles, cfg.Watch.MaxCandles)
	}
	if cfg.Rules.RSILow != 25 {
		t.Errorf("Unexpected rsi_low: %f", cfg.Rules.RSILow)
	}
	if cfg.Rules.RSIHigh != 77 {
		t.Errorf("Default rsi_high not applied: %f", cfg.Rules.RSIHigh)
	}
	if cfg.Rules.VolumeFilter {
		t.Error("volume_filter override not applied")
	}

	if len(cfg.Watch.Strategies) != 1 {
		t.Fatalf("Expected 1 explicit strategy, got %d", len(cfg.Watch.Strategies))
	}
	st := cfg.Watch.Strategies[0]
	if st.Timeframe != models.Timeframe4h || st.PollInterval != 2*time.Minute {
		t.Errorf("Unexpected strategy: %+v", st)
	}
	if st.Detectors == nil || !st.Detectors.Patterns || st.Detectors.Indicators {
		t.Errorf("Unexpected strategy detectors: %+v", st.Detectors)
	}

	engineCfg := cfg.GetRulesConfig()
	if engineCfg.RSILow != 25 || engineCfg.StochK != 14 {
		t.Errorf("Unexpected rules config: %+v", engineCfg)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
watch:
  symbols: [BTCUSDT]
telegram:
  chat_id: "1"
`)
	t.Setenv("CANDLESENTRY_TELEGRAM_BOT_TOKEN", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("Env override not applied: %q", cfg.Telegram.BotToken)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, "watch:\n  symbols: [BTCUSDT]\ntelegram:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing telegram token when enabled", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.ChatID = "1"
		}},
		{"missing telegram chat id when enabled", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.BotToken = "t"
		}},
		{"unknown provider", func(c *Config) { c.Market.Provider = "kraken" }},
		{"nothing to watch", func(c *Config) { c.Watch.Symbols = nil }},
		{"invalid timeframe", func(c *Config) { c.Watch.Timeframes = []string{"7m"} }},
		{"invalid strategy", func(c *Config) {
			c.Watch.Strategies = []models.Strategy{{Symbol: "X", Timeframe: "bad"}}
		}},
		{"init above max", func(c *Config) { c.Watch.InitCandles = 300 }},
		{"inverted rsi bounds", func(c *Config) { c.Rules.RSILow = 80 }},
		{"zero stochastic period", func(c *Config) { c.Rules.StochK = 0 }},
		{"zero volume factor", func(c *Config) { c.Rules.VolumeFactor = 0 }},
		{"strategies from disabled storage", func(c *Config) {
			c.Watch.StrategiesFromStorage = true
			c.Storage.Enabled = false
		}},
		{"redis without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"negative chart retention", func(c *Config) {
			c.Chart.Enabled = true
			c.Chart.MaxFiles = -1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() expected error")
			}
		})
	}
}
