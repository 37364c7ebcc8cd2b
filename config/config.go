package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/signal"
)

// Config is the complete process configuration.
type Config struct {
	App       AppConfig        `json:"app" yaml:"app"`
	Gateway   GatewayConfig    `json:"gateway" yaml:"gateway"`
	Strategy  StrategyConfig   `json:"strategy" yaml:"strategy"`
	Risk      RiskConfig       `json:"risk" yaml:"risk"`
	Execution execution.Config `json:"execution" yaml:"execution"`
	Journal   JournalConfig    `json:"journal" yaml:"journal"`
	Peak      PeakConfig       `json:"peak_store" yaml:"peak_store"`
	Redis     RedisConfig      `json:"redis" yaml:"redis"`
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	LogLevel        string        `json:"log_level" yaml:"log_level"`
	LogFormat       string        `json:"log_format" yaml:"log_format"` // "json" or "console"
	APIAddr         string        `json:"api_addr,omitempty" yaml:"api_addr,omitempty"`
	Instruments     []string      `json:"instruments" yaml:"instruments"`
	CycleInterval   time.Duration `json:"cycle_interval" yaml:"cycle_interval"`
	AutoTrade       bool          `json:"auto_trade" yaml:"auto_trade"`
	CloseOnReversal bool          `json:"close_on_reversal" yaml:"close_on_reversal"`
	BarsDir         string        `json:"bars_dir,omitempty" yaml:"bars_dir,omitempty"`
}

// GatewayConfig selects and configures the brokerage gateway.
type GatewayConfig struct {
	Kind      string        `json:"kind" yaml:"kind"` // "sim" or "bridge"
	URL       string        `json:"url,omitempty" yaml:"url,omitempty"`
	Token     string        `json:"token,omitempty" yaml:"token,omitempty"`
	StreamURL string        `json:"stream_url,omitempty" yaml:"stream_url,omitempty"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	Sim       SimConfig     `json:"sim" yaml:"sim"`
}

// SimConfig seeds the simulated gateway.
type SimConfig struct {
	AccountID   string                  `json:"account_id" yaml:"account_id"`
	Currency    string                  `json:"currency" yaml:"currency"`
	Balance     float64                 `json:"balance" yaml:"balance"`
	MarginRate  float64                 `json:"margin_rate" yaml:"margin_rate"`
	Instruments []market.InstrumentSpec `json:"instruments" yaml:"instruments"`
	Quotes      []Quote                 `json:"quotes,omitempty" yaml:"quotes,omitempty"`
}

type Quote struct {
	Instrument string  `json:"instrument" yaml:"instrument"`
	Bid        float64 `json:"bid" yaml:"bid"`
	Ask        float64 `json:"ask" yaml:"ask"`
}

// StrategyConfig picks the scorer and confluence settings.
type StrategyConfig struct {
	Mode           string                        `json:"mode" yaml:"mode"` // "basic" or "enhanced"
	MinBars        int                           `json:"min_bars" yaml:"min_bars"`
	Weights        map[market.Resolution]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	MinResolutions int                           `json:"min_resolutions,omitempty" yaml:"min_resolutions,omitempty"`
	Threshold      float64                       `json:"confluence_threshold,omitempty" yaml:"confluence_threshold,omitempty"`
}

// RiskConfig extends the sizer settings with regime control.
type RiskConfig struct {
	risk.Config `yaml:",inline"`
	Regime      risk.Regime             `json:"regime" yaml:"regime"`
	Multipliers map[risk.Regime]float64 `json:"multipliers,omitempty" yaml:"multipliers,omitempty"`
	MaxStateAge time.Duration           `json:"max_state_age" yaml:"max_state_age"`
}

type JournalConfig struct {
	Type string `json:"type" yaml:"type"` // "sqlite", "csv" or "memory"
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	Dir  string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// PeakConfig selects where the equity high-water mark lives.
type PeakConfig struct {
	Type string `json:"type" yaml:"type"` // "none", "sqlite" or "redis"
	Key  string `json:"key" yaml:"key"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

// LoadFromFile loads configuration from a file (YAML or JSON), applies the
// environment overlay and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration as YAML or JSON, chosen by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.App.Instruments) == 0 {
		return fmt.Errorf("app.instruments is required")
	}
	if c.App.CycleInterval <= 0 {
		return fmt.Errorf("app.cycle_interval must be positive")
	}
	switch c.App.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("app.log_format must be 'json' or 'console'")
	}

	switch c.Gateway.Kind {
	case "sim":
		if c.Gateway.Sim.Balance <= 0 {
			return fmt.Errorf("gateway.sim.balance must be positive")
		}
		for _, q := range c.Gateway.Sim.Quotes {
			if q.Bid <= 0 || q.Ask < q.Bid {
				return fmt.Errorf("gateway.sim quote for %s must have 0 < bid <= ask", q.Instrument)
			}
		}
	case "bridge":
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway.url required for bridge gateway")
		}
	default:
		return fmt.Errorf("gateway.kind must be 'sim' or 'bridge'")
	}

	if c.Strategy.Mode != "basic" && c.Strategy.Mode != "enhanced" {
		return fmt.Errorf("strategy.mode must be 'basic' or 'enhanced'")
	}
	if err := c.Strategy.Confluence().Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	if err := c.Risk.Limits.Validate(); err != nil {
		return fmt.Errorf("risk.limits: %w", err)
	}
	if _, err := risk.NewCoefficients(c.Risk.Instruments); err != nil {
		return fmt.Errorf("risk.instruments: %w", err)
	}
	if c.Risk.Regime != "" {
		if _, err := risk.ParseRegime(string(c.Risk.Regime)); err != nil {
			return fmt.Errorf("risk.regime: %w", err)
		}
	}
	if err := c.Execution.Validate(); err != nil {
		return fmt.Errorf("execution: %w", err)
	}

	switch c.Journal.Type {
	case "memory":
	case "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal path required for SQLite type")
		}
	case "csv":
		if c.Journal.Dir == "" {
			return fmt.Errorf("journal dir required for CSV type")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv' or 'memory'")
	}

	switch c.Peak.Type {
	case "", "none":
	case "sqlite":
		if c.Journal.Type != "sqlite" {
			return fmt.Errorf("peak_store sqlite needs journal.type sqlite")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr required for redis peak store")
		}
	default:
		return fmt.Errorf("peak_store.type must be 'none', 'sqlite' or 'redis'")
	}
	return nil
}

// Confluence returns the aggregator settings for the configured mode.
func (s StrategyConfig) Confluence() confluence.Config {
	c := confluence.Basic()
	if s.Mode == "enhanced" {
		c = confluence.Enhanced()
	}
	if len(s.Weights) > 0 {
		c.Weights = s.Weights
	}
	if s.MinResolutions > 0 {
		c.MinResolutions = s.MinResolutions
	}
	if s.Threshold > 0 {
		c.ConfluenceThreshold = s.Threshold
	}
	return c
}

// Scorer returns the signal scorer for the configured mode.
func (s StrategyConfig) Scorer() signal.Scorer {
	if s.Mode == "enhanced" {
		return signal.NewEnhancedScorer()
	}
	return signal.NewVoteScorer()
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:      "info",
			LogFormat:     "json",
			Instruments:   []string{"BTCUSD", "ETHUSD", "NAS100"},
			CycleInterval: time.Minute,
		},
		Gateway: GatewayConfig{
			Kind:    "sim",
			Timeout: 30 * time.Second,
			Sim: SimConfig{
				AccountID:  "SIM-001",
				Currency:   "USD",
				Balance:    10000,
				MarginRate: 0.01,
				Instruments: []market.InstrumentSpec{
					{Name: "BTCUSD", MinVolume: 0.01, MaxVolume: 5, VolumeStep: 0.01, ContractSize: 1, TickSize: 0.01, Digits: 2, Tradeable: true},
					{Name: "ETHUSD", MinVolume: 0.01, MaxVolume: 50, VolumeStep: 0.01, ContractSize: 1, TickSize: 0.01, Digits: 2, Tradeable: true},
					{Name: "NAS100", MinVolume: 0.1, MaxVolume: 50, VolumeStep: 0.1, ContractSize: 1, TickSize: 0.1, Digits: 1, Tradeable: true},
				},
				Quotes: []Quote{
					{Instrument: "BTCUSD", Bid: 60000, Ask: 60010},
					{Instrument: "ETHUSD", Bid: 3000, Ask: 3001},
					{Instrument: "NAS100", Bid: 18000, Ask: 18002},
				},
			},
		},
		Strategy: StrategyConfig{
			Mode:    "basic",
			MinBars: signal.DefaultMinBars,
		},
		Risk: RiskConfig{
			Config:      risk.DefaultConfig(),
			Regime:      risk.Normal,
			MaxStateAge: 5 * time.Second,
		},
		Execution: execution.DefaultConfig(),
		Journal: JournalConfig{
			Type: "sqlite",
			Path: "./mtftrader.db",
		},
		Peak: PeakConfig{
			Type: "sqlite",
			Key:  "SIM-001",
		},
	}
}
