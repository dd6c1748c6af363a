// Package config loads and validates the guardrail configuration document.
// The core receives thresholds and schedules as already structured values; a
// document that fails validation prevents startup rather than defaulting.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flatguard/flatguard/internal/pnl"
)

// Config is the full guardrail configuration document.
type Config struct {
	Accounts []string `yaml:"accounts"`

	Storage  StorageConfig  `yaml:"storage"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Feed     FeedConfig     `yaml:"feed"`
	Ops      OpsConfig      `yaml:"ops"`
	Executor ExecutorConfig `yaml:"executor"`

	// Tick economics per instrument symbol; unknown instruments are priced
	// nowhere, so every traded symbol must appear here.
	Instruments map[string]pnl.TickEconomics `yaml:"instruments"`

	Policies PoliciesConfig `yaml:"policies"`

	DedupTTLSeconds     int `yaml:"dedup_ttl_seconds"`
	SweepIntervalMillis int `yaml:"sweep_interval_ms"`
}

// StorageConfig selects the durable store. An empty DSN runs on the in-memory
// repositories, which only suits tests and local evaluation.
type StorageConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int    `yaml:"max_conns"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ScheduleConfig carries the daily reset boundary and session hours.
type ScheduleConfig struct {
	DailyReset   string `yaml:"daily_reset"` // "15:04"
	Timezone     string `yaml:"timezone"`    // IANA name
	SessionOpen  string `yaml:"session_open"`
	SessionClose string `yaml:"session_close"`
}

// FeedConfig points at the normalized event feed.
type FeedConfig struct {
	URL string `yaml:"url"`
}

// OpsConfig configures the read-only HTTP surface.
type OpsConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ExecutorConfig bounds enforcement dispatch.
type ExecutorConfig struct {
	CallTimeoutSeconds int     `yaml:"call_timeout_seconds"`
	CallsPerSecond     float64 `yaml:"calls_per_second"`
}

// PoliciesConfig enables and parameterizes each shipped policy.
type PoliciesConfig struct {
	DailyLoss       DailyLossConfig       `yaml:"daily_loss"`
	DailyProfit     DailyProfitConfig     `yaml:"daily_profit"`
	MaxPosition     MaxPositionConfig     `yaml:"max_position"`
	TradeFrequency  TradeFrequencyConfig  `yaml:"trade_frequency"`
	ProtectiveGrace ProtectiveGraceConfig `yaml:"protective_grace"`
	SessionHours    SessionHoursConfig    `yaml:"session_hours"`
	AuthStatus      AuthStatusConfig      `yaml:"auth_status"`
}

type DailyLossConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Limit             float64 `yaml:"limit"`
	IncludeUnrealized bool    `yaml:"include_unrealized"`
}

type DailyProfitConfig struct {
	Enabled bool    `yaml:"enabled"`
	Target  float64 `yaml:"target"`
}

type MaxPositionConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MaxContracts float64 `yaml:"max_contracts"`
}

type TradeFrequencyConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxEntries      int  `yaml:"max_entries"`
	WindowSeconds   int  `yaml:"window_seconds"`
	CooldownSeconds int  `yaml:"cooldown_seconds"`
}

type ProtectiveGraceConfig struct {
	Enabled      bool `yaml:"enabled"`
	GraceSeconds int  `yaml:"grace_seconds"`
}

type SessionHoursConfig struct {
	Enabled bool `yaml:"enabled"`
}

type AuthStatusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/Chicago"
	}
	if c.Schedule.DailyReset == "" {
		c.Schedule.DailyReset = "17:00"
	}
	if c.Storage.MaxConns == 0 {
		c.Storage.MaxConns = 8
	}
	if c.Storage.TimeoutSeconds == 0 {
		c.Storage.TimeoutSeconds = 5
	}
	if c.DedupTTLSeconds == 0 {
		c.DedupTTLSeconds = 600
	}
	if c.SweepIntervalMillis == 0 {
		c.SweepIntervalMillis = 5000
	}
	if c.Executor.CallTimeoutSeconds == 0 {
		c.Executor.CallTimeoutSeconds = 10
	}
	if c.Executor.CallsPerSecond == 0 {
		c.Executor.CallsPerSecond = 5
	}
	if c.Ops.Host == "" {
		c.Ops.Host = "127.0.0.1"
	}
	if c.Ops.Port == 0 {
		c.Ops.Port = 8090
	}
}

/// Validate rejects malformed documents. Errors here are fatal at startup: the
// engine must not run with a schedule or tick table it cannot trust.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("config: at least one account required")
	}
	if _, err := time.Parse("15:04", c.Schedule.DailyReset); err != nil {
		return fmt.Errorf("config: malformed daily_reset %q: %w", c.Schedule.DailyReset, err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("config: unknown timezone %q: %w", c.Schedule.Timezone, err)
	}
	if c.Policies.SessionHours.Enabled {
		for _, field := range []struct{ name, val string }{
			{"session_open", c.Schedule.SessionOpen},
			{"session_close", c.Schedule.SessionClose},
		} {
			if _, err := time.Parse("15:04", field.val); err != nil {
				return fmt.Errorf("config: malformed %s %q: %w", field.name, field.val, err)
			}
		}
	}
	for sym, te := range c.Instruments {
		if te.TickSize <= 0 || te.TickValue <= 0 {
			return fmt.Errorf("config: instrument %s has invalid tick economics (size=%v value=%v)", sym, te.TickSize, te.TickValue)
		}
	}
	if c.Policies.DailyLoss.Enabled && c.Policies.DailyLoss.Limit <= 0 {
		return fmt.Errorf("config: daily_loss.limit must be positive")
	}
	if c.Policies.DailyProfit.Enabled && c.Policies.DailyProfit.Target <= 0 {
		return fmt.Errorf("config: daily_profit.target must be positive")
	}
	if c.Policies.MaxPosition.Enabled && c.Policies.MaxPosition.MaxContracts <= 0 {
		return fmt.Errorf("config: max_position.max_contracts must be positive")
	}
	if c.Policies.TradeFrequency.Enabled {
		if c.Policies.TradeFrequency.MaxEntries <= 0 || c.Policies.TradeFrequency.WindowSeconds <= 0 || c.Policies.TradeFrequency.CooldownSeconds <= 0 {
			return fmt.Errorf("config: trade_frequency requires positive max_entries, window_seconds, cooldown_seconds")
		}
	}
	if c.Policies.ProtectiveGrace.Enabled && c.Policies.ProtectiveGrace.GraceSeconds <= 0 {
		return fmt.Errorf("config: protective_grace.grace_seconds must be positive")
	}
	return nil
}

// ResetOffset returns the daily reset boundary as an offset from local
// midnight. Validate has already checked the format.
func (c *Config) ResetOffset() time.Duration {
	t, _ := time.Parse("15:04", c.Schedule.DailyReset)
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
}

// Location resolves the schedule timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, _ := time.LoadLocation(c.Schedule.Timezone)
	return loc
}

// StorageTimeout returns the per-query repository timeout.
func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.Storage.TimeoutSeconds) * time.Second
}

// DedupTTL returns the dedup key retention window.
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

// SweepInterval returns the lockout sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMillis) * time.Millisecond
}
