// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fiona-trader/internal/errors"
)

// Config holds all engine configuration. It is loaded once at process start
// and treated as read-only afterwards.
type Config struct {
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Logging   LogConfig       `mapstructure:"logging"`
	Brokers   BrokerConfig    `mapstructure:"brokers"`
	Advisor   AdvisorConfig   `mapstructure:"advisor"`
}

// RiskConfig defines all limits the risk engine enforces.
type RiskConfig struct {
	MaxRiskPerTradePercent float64 `mapstructure:"max_risk_per_trade_percent"`
	MaxDailyLossPercent    float64 `mapstructure:"max_daily_loss_percent"`
	MaxWeeklyLossPercent   float64 `mapstructure:"max_weekly_loss_percent"`
	MaxOpenPositions       int     `mapstructure:"max_open_positions"`
	AllowCountertrend      bool    `mapstructure:"allow_countertrend"`
	MaxPositionSize        float64 `mapstructure:"max_position_size"`
	SLMinTicks             int     `mapstructure:"sl_min_ticks"`
	TPMinTicks             int     `mapstructure:"tp_min_ticks"`
	DenyEventWindowMinutes int     `mapstructure:"deny_event_window_minutes"`
	DenyFridayAfter        string  `mapstructure:"deny_friday_after"` // "HH:MM"
	DenyOvernight          bool    `mapstructure:"deny_overnight"`
	TickSize               float64 `mapstructure:"tick_size"`
	TickValue              float64 `mapstructure:"tick_value"`
	Leverage               float64 `mapstructure:"leverage"`
}

// ExecutionConfig defines execution and shadow-trading behavior.
type ExecutionConfig struct {
	AllowShadowIfRiskDenied       bool   `mapstructure:"allow_shadow_if_risk_denied"`
	EnableExitPolling             bool   `mapstructure:"enable_exit_polling"`
	ExitPollingIntervalSeconds    int    `mapstructure:"exit_polling_interval_seconds"`
	TrackSnapshotMinutesAfterExit int    `mapstructure:"track_snapshot_minutes_after_exit"`
	TrackSnapshotIntervalSeconds  int    `mapstructure:"track_snapshot_interval_seconds"`
	BrokerTimeoutSeconds          int    `mapstructure:"broker_timeout_seconds"`
	DefaultCurrency               string `mapstructure:"default_currency"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// BrokerConfig selects and parameterizes broker backends. Routes map
// instrument epics to a named backend; unrouted epics use Default.
type BrokerConfig struct {
	Default string            `mapstructure:"default"` // "paper", "kite" or "" for shadow-only
	Routes  map[string]string `mapstructure:"routes"`
	Kite    KiteConfig        `mapstructure:"kite"`
	Paper   PaperConfig       `mapstructure:"paper"`
}

// KiteConfig holds Zerodha Kite Connect credentials.
type KiteConfig struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	AccessToken string `mapstructure:"access_token"`
}

// PaperConfig parameterizes the simulated broker.
type PaperConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
}

// AdvisorConfig parameterizes the optional LLM setup evaluator.
type AdvisorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// Default returns the engine defaults, matching the documented limits for
// the CL contract the system was originally tuned for.
func Default() *Config {
	return &Config{
		Risk: RiskConfig{
			MaxRiskPerTradePercent: 1.0,
			MaxDailyLossPercent:    3.0,
			MaxWeeklyLossPercent:   6.0,
			MaxOpenPositions:       1,
			AllowCountertrend:      false,
			MaxPositionSize:        5.0,
			SLMinTicks:             5,
			TPMinTicks:             5,
			DenyEventWindowMinutes: 5,
			DenyFridayAfter:        "21:00",
			DenyOvernight:          true,
			TickSize:               0.01,
			TickValue:              10.0,
			Leverage:               1.0,
		},
		Execution: ExecutionConfig{
			AllowShadowIfRiskDenied:       true,
			EnableExitPolling:             true,
			ExitPollingIntervalSeconds:    30,
			TrackSnapshotMinutesAfterExit: 10,
			TrackSnapshotIntervalSeconds:  60,
			BrokerTimeoutSeconds:          10,
			DefaultCurrency:               "EUR",
		},
		Logging: LogConfig{
			Level:      "info",
			Console:    true,
			File:       false,
			FilePath:   "fiona-trader.log",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
		Brokers: BrokerConfig{
			Default: "paper",
			Paper:   PaperConfig{InitialBalance: 10000},
		},
		Advisor: AdvisorConfig{Model: "gpt-4o-mini"},
	}
}

// Load reads configuration from the given YAML file, layered over the
// defaults. An empty path loads pure defaults. Malformed limits are fatal:
// the returned error aborts service start.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for malformed limits.
func (c *Config) Validate() error {
	r := c.Risk
	switch {
	case r.MaxRiskPerTradePercent <= 0:
		return fmt.Errorf("%w: max_risk_per_trade_percent must be > 0", errors.ErrConfigInvalid)
	case r.MaxDailyLossPercent <= 0:
		return fmt.Errorf("%w: max_daily_loss_percent must be > 0", errors.ErrConfigInvalid)
	case r.MaxWeeklyLossPercent <= 0:
		return fmt.Errorf("%w: max_weekly_loss_percent must be > 0", errors.ErrConfigInvalid)
	case r.MaxOpenPositions < 1:
		return fmt.Errorf("%w: max_open_positions must be >= 1", errors.ErrConfigInvalid)
	case r.MaxPositionSize <= 0:
		return fmt.Errorf("%w: max_position_size must be > 0", errors.ErrConfigInvalid)
	case r.TickSize <= 0:
		return fmt.Errorf("%w: tick_size must be > 0", errors.ErrConfigInvalid)
	case r.TickValue <= 0:
		return fmt.Errorf("%w: tick_value must be > 0", errors.ErrConfigInvalid)
	case r.Leverage < 1:
		return fmt.Errorf("%w: leverage must be >= 1", errors.ErrConfigInvalid)
	case r.SLMinTicks < 0 || r.TPMinTicks < 0:
		return fmt.Errorf("%w: minimum tick distances must be >= 0", errors.ErrConfigInvalid)
	case r.DenyEventWindowMinutes < 0:
		return fmt.Errorf("%w: deny_event_window_minutes must be >= 0", errors.ErrConfigInvalid)
	}
	if _, _, err := r.FridayCutoff(); err != nil {
		return fmt.Errorf("%w: deny_friday_after: %v", errors.ErrConfigInvalid, err)
	}

	e := c.Execution
	if e.ExitPollingIntervalSeconds <= 0 || e.TrackSnapshotIntervalSeconds <= 0 {
		return fmt.Errorf("%w: polling intervals must be > 0", errors.ErrConfigInvalid)
	}
	if e.TrackSnapshotMinutesAfterExit < 0 {
		return fmt.Errorf("%w: track_snapshot_minutes_after_exit must be >= 0", errors.ErrConfigInvalid)
	}
	if e.BrokerTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: broker_timeout_seconds must be > 0", errors.ErrConfigInvalid)
	}
	return nil
}

// FridayCutoff parses the deny_friday_after time of day.
func (r RiskConfig) FridayCutoff() (hour, minute int, err error) {
	parts := strings.SplitN(r.DenyFridayAfter, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", r.DenyFridayAfter)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", r.DenyFridayAfter)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", r.DenyFridayAfter)
	}
	return hour, minute, nil
}

// ExitPollingInterval returns the exit polling interval as a duration.
func (e ExecutionConfig) ExitPollingInterval() time.Duration {
	return time.Duration(e.ExitPollingIntervalSeconds) * time.Second
}

// SnapshotInterval returns the snapshot capture interval as a duration.
func (e ExecutionConfig) SnapshotInterval() time.Duration {
	return time.Duration(e.TrackSnapshotIntervalSeconds) * time.Second
}

// SnapshotWindow returns how long after an exit snapshots keep being taken.
func (e ExecutionConfig) SnapshotWindow() time.Duration {
	return time.Duration(e.TrackSnapshotMinutesAfterExit) * time.Minute
}

// BrokerTimeout returns the bounded per-call broker timeout.
func (e ExecutionConfig) BrokerTimeout() time.Duration {
	return time.Duration(e.BrokerTimeoutSeconds) * time.Second
}
