package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/candlesentry/internal/logger"
	"github.com/rewired-gh/candlesentry/internal/market"
	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/rewired-gh/candlesentry/internal/rules"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Market   MarketConfig   `mapstructure:"market"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Chart    ChartConfig    `mapstructure:"chart"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MarketConfig holds market-data provider configuration
type MarketConfig struct {
	Provider        string        `mapstructure:"provider"` // bybit or binance
	BaseURL         string        `mapstructure:"base_url"`
	Category        string        `mapstructure:"category"` // bybit only
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst       int           `mapstructure:"rate_burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// WatchConfig holds what to watch and how often
type WatchConfig struct {
	Symbols        []string `mapstructure:"symbols"`
	Timeframes     []string `mapstructure:"timeframes"`
	FastTimeframes []string `mapstructure:"fast_timeframes"`

	PollFast time.Duration `mapstructure:"poll_fast"`
	PollSlow time.Duration `mapstructure:"poll_slow"`

	InitCandles     int `mapstructure:"init_candles"`
	MaxCandles      int `mapstructure:"max_candles"`
	OrderBookWindow int `mapstructure:"orderbook_window"`

	// ErrorNotifyAfter consecutive provider failures trigger one error notice.
	ErrorNotifyAfter int `mapstructure:"error_notify_after"`

	Strategies            []models.Strategy `mapstructure:"strategies"`
	StrategiesFromStorage bool              `mapstructure:"strategies_from_storage"`
}

// RulesConfig holds detector switches and thresholds
type RulesConfig struct {
	Patterns     bool `mapstructure:"patterns"`
	Indicators   bool `mapstructure:"indicators"`
	ATRAnomaly   bool `mapstructure:"atr_anomaly"`
	VolumeFilter bool `mapstructure:"volume_filter"`
	OrderBook    bool `mapstructure:"orderbook"`

	RSIPeriod int     `mapstructure:"rsi_period"`
	RSILow    float64 `mapstructure:"rsi_low"`
	RSIHigh   float64 `mapstructure:"rsi_high"`

	StochK      int     `mapstructure:"stoch_k"`
	StochD      int     `mapstructure:"stoch_d"`
	StochSmooth int     `mapstructure:"stoch_smooth"`
	StochLow    float64 `mapstructure:"stoch_low"`
	StochHigh   float64 `mapstructure:"stoch_high"`

	TouchLookback int `mapstructure:"touch_lookback"`
	TouchSpacing  int `mapstructure:"touch_spacing"`
	TouchCount    int `mapstructure:"touch_count"`

	ATRPeriod int     `mapstructure:"atr_period"`
	ATRRatio  float64 `mapstructure:"atr_ratio"`

	MinCandlePct     float64 `mapstructure:"min_candle_pct"`
	VolumeFactor     float64 `mapstructure:"volume_factor"`
	VolumeWindow     int     `mapstructure:"volume_window"`
	VolumeMinSamples int     `mapstructure:"volume_min_samples"`

	DojiRatio float64 `mapstructure:"doji_ratio"`

	OrderBookFactor     float64 `mapstructure:"orderbook_factor"`
	OrderBookMinSamples int     `mapstructure:"orderbook_min_samples"`
}

// ChartConfig holds chart rendering configuration
type ChartConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	OutputDir string `mapstructure:"output_dir"`
	Bars      int    `mapstructure:"bars"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	// MaxFiles caps the PNGs kept in OutputDir, 0 keeps everything.
	MaxFiles int `mapstructure:"max_files"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Commands       bool          `mapstructure:"commands"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	DBPath    string `mapstructure:"db_path"`
	MaxAlerts int    `mapstructure:"max_alerts"`
}

// RedisConfig holds the alert publisher configuration
type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	Channel    string `mapstructure:"channel"`
	RecentKey  string `mapstructure:"recent_key"`
	RecentSize int    `mapstructure:"recent_size"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. CANDLESENTRY_TELEGRAM_BOT_TOKEN
	v.SetEnvPrefix("CANDLESENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Market defaults
	v.SetDefault("market.provider", "bybit")
	v.SetDefault("market.base_url", "") // empty = provider default
	v.SetDefault("market.category", "linear")
	v.SetDefault("market.timeout", "20s")
	v.SetDefault("market.max_conns_per_host", 50)
	v.SetDefault("market.max_idle_conns", 100)
	v.SetDefault("market.max_retries", 2)
	v.SetDefault("market.retry_delay_base", "500ms")
	v.SetDefault("market.rate_limit", 0.0) // 0 = unlimited
	v.SetDefault("market.rate_burst", 10)
	v.SetDefault("market.breaker_failures", 5)
	v.SetDefault("market.breaker_timeout", "30s")

	// Watch defaults
	v.SetDefault("watch.timeframes", []string{"5m", "15m", "1h", "4h"})
	v.SetDefault("watch.fast_timeframes", []string{"5m", "15m"})
	v.SetDefault("watch.poll_fast", "60s")
	v.SetDefault("watch.poll_slow", "180s")
	v.SetDefault("watch.init_candles", 50)
	v.SetDefault("watch.max_candles", 200)
	v.SetDefault("watch.orderbook_window", 30)
	v.SetDefault("watch.error_notify_after", 3)

	// Rules defaults
	d := rules.DefaultConfig()
	v.SetDefault("rules.patterns", d.Patterns)
	v.SetDefault("rules.indicators", d.Indicators)
	v.SetDefault("rules.atr_anomaly", d.ATRAnomaly)
	v.SetDefault("rules.volume_filter", d.VolumeFilter)
	v.SetDefault("rules.orderbook", d.OrderBook)
	v.SetDefault("rules.rsi_period", d.RSIPeriod)
	v.SetDefault("rules.rsi_low", d.RSILow)
	v.SetDefault("rules.rsi_high", d.RSIHigh)
	v.SetDefault("rules.stoch_k", d.StochK)
	v.SetDefault("rules.stoch_d", d.StochD)
	v.SetDefault("rules.stoch_smooth", d.StochSmooth)
	v.SetDefault("rules.stoch_low", d.StochLow)
	v.SetDefault("rules.stoch_high", d.StochHigh)
	v.SetDefault("rules.touch_lookback", d.TouchLookback)
	v.SetDefault("rules.touch_spacing", d.TouchSpacing)
	v.SetDefault("rules.touch_count", d.TouchCount)
	v.SetDefault("rules.atr_period", 14)
	v.SetDefault("rules.atr_ratio", d.ATRRatio)
	v.SetDefault("rules.min_candle_pct", d.MinCandlePct)
	v.SetDefault("rules.volume_factor", d.VolumeFactor)
	v.SetDefault("rules.volume_window", d.VolumeWindow)
	v.SetDefault("rules.volume_min_samples", d.VolumeMinSamples)
	v.SetDefault("rules.doji_ratio", d.DojiRatio)
	v.SetDefault("rules.orderbook_factor", d.OrderBookFactor)
	v.SetDefault("rules.orderbook_min_samples", d.OrderBookMinSamples)

	// Chart defaults
	v.SetDefault("chart.enabled", true)
	v.SetDefault("chart.output_dir", "./charts")
	v.SetDefault("chart.bars", 120)
	v.SetDefault("chart.width", 1100)
	v.SetDefault("chart.height", 500)
	v.SetDefault("chart.max_files", 500)

	// Telegram defaults; secrets are declared so env overrides are picked up
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.commands", true)

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "./data/candlesentry.db")
	v.SetDefault("storage.max_alerts", 10000)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "candlesentry:alerts")
	v.SetDefault("redis.recent_key", "candlesentry:recent")
	v.SetDefault("redis.recent_size", 100)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 7)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Market config
	switch c.Market.Provider {
	case "bybit", "binance":
	default:
		return fmt.Errorf("market.provider must be one of: bybit, binance")
	}
	if c.Market.Timeout <= 0 {
		return fmt.Errorf("market.timeout must be positive")
	}
	if c.Market.MaxRetries < 0 {
		return fmt.Errorf("market.max_retries must not be negative")
	}
	if c.Market.RateLimit < 0 {
		return fmt.Errorf("market.rate_limit must not be negative")
	}

	// Validate Watch config
	if len(c.Watch.Symbols) == 0 && len(c.Watch.Strategies) == 0 && !c.Watch.StrategiesFromStorage {
		return fmt.Errorf("watch.symbols or watch.strategies must not be empty")
	}
	if len(c.Watch.Symbols) > 0 && len(c.Watch.Timeframes) == 0 {
		return fmt.Errorf("watch.timeframes must not be empty when watch.symbols is set")
	}
	for _, tf := range append(append([]string{}, c.Watch.Timeframes...), c.Watch.FastTimeframes...) {
		if err := models.Timeframe(tf).Validate(); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
	}
	for i := range c.Watch.Strategies {
		if err := c.Watch.Strategies[i].Validate(); err != nil {
			return fmt.Errorf("watch.strategies[%d]: %w", i, err)
		}
	}
	if c.Watch.PollFast < time.Second || c.Watch.PollSlow < time.Second {
		return fmt.Errorf("watch.poll_fast and watch.poll_slow must be at least 1s")
	}
	if c.Watch.InitCandles < 2 {
		return fmt.Errorf("watch.init_candles must be at least 2")
	}
	if c.Watch.MaxCandles < c.Watch.InitCandles {
		return fmt.Errorf("watch.max_candles must be at least watch.init_candles")
	}
	if c.Watch.OrderBookWindow < 1 {
		return fmt.Errorf("watch.orderbook_window must be at least 1")
	}
	if c.Watch.StrategiesFromStorage && !c.Storage.Enabled {
		return fmt.Errorf("watch.strategies_from_storage requires storage.enabled")
	}

	// Validate Rules config
	r := c.Rules
	if r.RSIPeriod < 1 || r.StochK < 1 || r.StochD < 1 || r.StochSmooth < 1 || r.ATRPeriod < 1 {
		return fmt.Errorf("rules periods must be at least 1")
	}
	if r.RSILow >= r.RSIHigh {
		return fmt.Errorf("rules.rsi_low must be below rules.rsi_high")
	}
	if r.StochLow >= r.StochHigh {
		return fmt.Errorf("rules.stoch_low must be below rules.stoch_high")
	}
	if r.TouchLookback < 1 || r.TouchSpacing < 1 || r.TouchCount < 1 {
		return fmt.Errorf("rules touch settings must be at least 1")
	}
	if r.ATRRatio <= 0 || r.VolumeFactor <= 0 || r.OrderBookFactor <= 0 {
		return fmt.Errorf("rules ratios and factors must be positive")
	}
	if r.MinCandlePct < 0 || r.DojiRatio < 0 {
		return fmt.Errorf("rules.min_candle_pct and rules.doji_ratio must not be negative")
	}
	if r.VolumeWindow < 1 || r.OrderBookMinSamples < 1 {
		return fmt.Errorf("rules windows must be at least 1")
	}

	// Validate Chart config
	if c.Chart.Enabled {
		if c.Chart.OutputDir == "" {
			return fmt.Errorf("chart.output_dir is required when chart is enabled")
		}
		if c.Chart.Bars < 1 {
			return fmt.Errorf("chart.bars must be at least 1")
		}
		if c.Chart.MaxFiles < 0 {
			return fmt.Errorf("chart.max_files must be non-negative")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1")
	}

	// Validate Redis config
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// GetRulesConfig returns the rule engine configuration
func (c *Config) GetRulesConfig() rules.Config {
	r := c.Rules
	return rules.Config{
		Patterns:            r.Patterns,
		Indicators:          r.Indicators,
		ATRAnomaly:          r.ATRAnomaly,
		VolumeFilter:        r.VolumeFilter,
		OrderBook:           r.OrderBook,
		RSIPeriod:           r.RSIPeriod,
		RSILow:              r.RSILow,
		RSIHigh:             r.RSIHigh,
		StochK:              r.StochK,
		StochD:              r.StochD,
		StochSmooth:         r.StochSmooth,
		StochLow:            r.StochLow,
		StochHigh:           r.StochHigh,
		TouchLookback:       r.TouchLookback,
		TouchSpacing:        r.TouchSpacing,
		TouchCount:          r.TouchCount,
		ATRRatio:            r.ATRRatio,
		MinCandlePct:        r.MinCandlePct,
		VolumeFactor:        r.VolumeFactor,
		VolumeWindow:        r.VolumeWindow,
		VolumeMinSamples:    r.VolumeMinSamples,
		DojiRatio:           r.DojiRatio,
		OrderBookFactor:     r.OrderBookFactor,
		OrderBookMinSamples: r.OrderBookMinSamples,
	}
}

// GetHTTPConfig returns the pooled client and guard settings
func (c *Config) GetHTTPConfig() market.HTTPConfig {
	m := c.Market
	return market.HTTPConfig{
		Timeout:             m.Timeout,
		MaxConnsPerHost:     m.MaxConnsPerHost,
		MaxIdleConns:        m.MaxIdleConns,
		MaxIdleConnsPerHost: m.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		MaxRetries:          m.MaxRetries,
		RetryDelayBase:      m.RetryDelayBase,
		RateLimit:           m.RateLimit,
		RateBurst:           m.RateBurst,
		BreakerFailures:     m.BreakerFailures,
		BreakerTimeout:      m.BreakerTimeout,
	}
}

// GetLogFileConfig returns the rotating file sink, if configured
func (c *Config) GetLogFileConfig() []logger.FileConfig {
	if c.Logging.File == "" {
		return nil
	}
	return []logger.FileConfig{{
		Path:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   true,
	}}
}

// GetTimeframes returns the configured timeframes as typed values
func (c *Config) GetTimeframes() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(c.Watch.Timeframes))
	for _, tf := range c.Watch.Timeframes {
		out = append(out, models.Timeframe(tf))
	}
	return out
}
