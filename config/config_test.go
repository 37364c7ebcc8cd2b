package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/risk"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.Equal(t, "sim", cfg.Gateway.Kind)
	assert.Equal(t, 10000.0, cfg.Gateway.Sim.Balance)
	assert.Equal(t, time.Minute, cfg.App.CycleInterval)
	assert.Equal(t, risk.Normal, cfg.Risk.Regime)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "no instruments", mutate: func(c *Config) { c.App.Instruments = nil }, errMsg: "app.instruments is required"},
		{name: "zero cycle", mutate: func(c *Config) { c.App.CycleInterval = 0 }, errMsg: "cycle_interval must be positive"},
		{name: "bad log format", mutate: func(c *Config) { c.App.LogFormat = "xml" }, errMsg: "log_format"},
		{name: "unknown gateway", mutate: func(c *Config) { c.Gateway.Kind = "fix" }, errMsg: "gateway.kind"},
		{name: "bridge without url", mutate: func(c *Config) { c.Gateway.Kind = "bridge" }, errMsg: "gateway.url required"},
		{name: "bridge with url", mutate: func(c *Config) {
			c.Gateway.Kind = "bridge"
			c.Gateway.URL = "http://127.0.0.1:8765"
		}},
		{name: "negative sim balance", mutate: func(c *Config) { c.Gateway.Sim.Balance = -1 }, errMsg: "balance must be positive"},
		{name: "crossed sim quote", mutate: func(c *Config) {
			c.Gateway.Sim.Quotes = []Quote{{Instrument: "BTCUSD", Bid: 2, Ask: 1}}
		}, errMsg: "bid <= ask"},
		{name: "unknown strategy", mutate: func(c *Config) { c.Strategy.Mode = "magic" }, errMsg: "strategy.mode"},
		{name: "threshold out of range", mutate: func(c *Config) { c.Strategy.Threshold = 1.5 }, errMsg: "strategy:"},
		{name: "bad risk limits", mutate: func(c *Config) { c.Risk.Limits.MaxDailyLossPct = 0 }, errMsg: "risk.limits"},
		{name: "bad regime", mutate: func(c *Config) { c.Risk.Regime = "panic" }, errMsg: "risk.regime"},
		{name: "bad execution", mutate: func(c *Config) { c.Execution.QueueSize = 0 }, errMsg: "execution:"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Journal.Path = "" }, errMsg: "journal path required"},
		{name: "csv without dir", mutate: func(c *Config) { c.Journal.Type = "csv" }, errMsg: "journal dir required"},
		{name: "sqlite peak needs sqlite journal", mutate: func(c *Config) { c.Journal.Type = "memory" }, errMsg: "peak_store sqlite"},
		{name: "redis peak without addr", mutate: func(c *Config) { c.Peak.Type = "redis" }, errMsg: "redis.addr required"},
		{name: "memory journal no peak", mutate: func(c *Config) {
			c.Journal.Type = "memory"
			c.Peak.Type = "none"
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"mtf.yaml", "mtf.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := Default()
			cfg.Strategy.Mode = "enhanced"
			cfg.App.CycleInterval = 30 * time.Second
			cfg.Risk.Limits.MaxPositions = 7
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, "enhanced", loaded.Strategy.Mode)
			assert.Equal(t, 30*time.Second, loaded.App.CycleInterval)
			assert.Equal(t, 7, loaded.Risk.Limits.MaxPositions)
			assert.Len(t, loaded.Risk.Instruments, len(risk.DefaultInstruments()))
			assert.Equal(t, cfg.Gateway.Sim.Instruments, loaded.Gateway.Sim.Instruments)
		})
	}
}

func TestLoadFromFile_PartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := []byte(`
app:
  instruments: [ETHUSD]
  cycle_interval: 5m
strategy:
  mode: basic
  weights:
    H1: 2
    H4: 3
risk:
  regime: high_volatility
  limits:
    max_daily_loss_pct: 3
    max_exposure_pct: 40
    max_drawdown_pct: 15
    max_per_instrument: 1
    max_positions: 3
    min_balance: 500
    min_margin_level: 150
    max_position_pct: 10
journal:
  type: memory
peak_store:
  type: none
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSD"}, cfg.App.Instruments)
	assert.Equal(t, 5*time.Minute, cfg.App.CycleInterval)
	assert.Equal(t, risk.HighVolatility, cfg.Risk.Regime)
	assert.Equal(t, 3.0, cfg.Risk.Limits.MaxDailyLossPct)
	assert.NotEmpty(t, cfg.Risk.Instruments)
	assert.Equal(t, "sim", cfg.Gateway.Kind)

	conf := cfg.Strategy.Confluence()
	assert.Equal(t, map[market.Resolution]float64{market.H1: 2, market.H4: 3}, conf.Weights)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [\n"), 0644))
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")

	path = filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  kind: fix\n"), 0644))
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestStrategyScorer(t *testing.T) {
	basic := StrategyConfig{Mode: "basic"}
	enhanced := StrategyConfig{Mode: "enhanced"}
	assert.NotNil(t, basic.Scorer())
	assert.NotNil(t, enhanced.Scorer())
	assert.Greater(t, enhanced.Confluence().ConfluenceThreshold, basic.Confluence().ConfluenceThreshold)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MTF_GATEWAY_KIND": "bridge",
		"MTF_BRIDGE_URL":   "http://bridge:8765",
		"MTF_BRIDGE_TOKEN": "secret",
		"MTF_REDIS_ADDR":   "redis:6379",
		"MTF_REDIS_DB":     "2",
		"MTF_AUTO_TRADE":   "true",
		"MTF_LOG_LEVEL":    "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "bridge", cfg.Gateway.Kind)
	assert.Equal(t, "http://bridge:8765", cfg.Gateway.URL)
	assert.Equal(t, "secret", cfg.Gateway.Token)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.True(t, cfg.App.AutoTrade)
	assert.Equal(t, "info", cfg.App.LogLevel, "empty values are ignored")
	assert.NoError(t, cfg.Validate())

	env["MTF_AUTO_TRADE"] = "maybe"
	assert.ErrorContains(t, Default().ApplyEnv(lookup), "MTF_AUTO_TRADE")
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MTF_TEST_LOAD_ENV=from-file\n"), 0644))
	t.Setenv("MTF_TEST_LOAD_ENV", "")
	os.Unsetenv("MTF_TEST_LOAD_ENV")

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("MTF_TEST_LOAD_ENV"))
}
