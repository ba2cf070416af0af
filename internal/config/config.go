// Package config defines startup configuration for the matching engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// env var overrides under the FENRIR_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping directly to the YAML
// file structure.
type Config struct {
	ListenAddr string           `mapstructure:"listen_addr"`
	Symbol     string           `mapstructure:"symbol"`
	TickSize   decimal.Decimal  `mapstructure:"tick_size"`
	MaxLevels  int              `mapstructure:"max_levels"`
	Risk       RiskConfig       `mapstructure:"risk"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RiskConfig is the static risk-limit bundle applied to every client.
type RiskConfig struct {
	MaxPosition       int64           `mapstructure:"max_position"`
	MaxDailyLoss      decimal.Decimal `mapstructure:"max_daily_loss"`
	MaxOrderRate      int             `mapstructure:"max_order_rate"`
	MaxOrderSize      int64           `mapstructure:"max_order_size"`
	PriceDeviationPct decimal.Decimal `mapstructure:"price_deviation_pct"`
}

// MarketDataConfig selects and tunes the background producer.
type MarketDataConfig struct {
	Mode             string          `mapstructure:"mode"` // "synthetic" | "external"
	TickInterval     time.Duration   `mapstructure:"tick_interval"`
	BasePrice        decimal.Decimal `mapstructure:"base_price"`
	OrderProbability float64         `mapstructure:"order_probability"`
}

// LoggingConfig tunes the process-wide zerolog logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" | "console"
}

// Default returns the base configuration that Load overlays the file's
// keys onto, suitable for local runs and tests. Load itself fails when the
// file cannot be read; it does not fall back to Default in that case.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Symbol:     "TEST",
		TickSize:   decimal.NewFromFloat(0.01),
		MaxLevels:  10,
		Risk: RiskConfig{
			MaxPosition:       100,
			MaxDailyLoss:      decimal.NewFromInt(1000),
			MaxOrderRate:      100,
			MaxOrderSize:      50,
			PriceDeviationPct: decimal.NewFromFloat(0.05),
		},
		MarketData: MarketDataConfig{
			Mode:             "synthetic",
			TickInterval:     100 * time.Millisecond,
			BasePrice:        decimal.NewFromInt(100),
			OrderProbability: 0.3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads config from a YAML file, falling back to Default for any
// key the file doesn't set, with FENRIR_* environment variables taking
// precedence over both.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FENRIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.TickSize.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("tick_size must be > 0")
	}
	if c.MaxLevels <= 0 {
		return fmt.Errorf("max_levels must be > 0")
	}
	if c.Risk.MaxPosition <= 0 {
		return fmt.Errorf("risk.max_position must be > 0")
	}
	if c.Risk.MaxOrderSize <= 0 {
		return fmt.Errorf("risk.max_order_size must be > 0")
	}
	if c.Risk.MaxOrderRate <= 0 {
		return fmt.Errorf("risk.max_order_rate must be > 0")
	}
	switch c.MarketData.Mode {
	case "synthetic", "external":
	default:
		return fmt.Errorf("market_data.mode must be synthetic or external")
	}
	return nil
}
