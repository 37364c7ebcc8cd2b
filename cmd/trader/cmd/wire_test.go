package cmd

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/mtftrader/broker/bridge"
	"github.com/rustyeddy/mtftrader/config"
	"github.com/rustyeddy/mtftrader/journal"
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/trader"
)

var end = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func trendingBars(t *testing.T, instrument string, price, drift float64) *trader.StaticBars {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	bars := trader.NewStaticBars()
	for _, res := range []market.Resolution{market.M1, market.M5, market.M15, market.H1, market.H4, market.D1} {
		bars.Set(syntheticBars(rng, instrument, res, end, price, drift, 200))
	}
	return bars
}

func TestBuild_SQLiteJournalAndPeaks(t *testing.T) {
	cfg := config.Default()
	cfg.Journal.Path = filepath.Join(t.TempDir(), "mtf.db")
	cfg.Risk.Regime = risk.HighVolatility
	require.NoError(t, cfg.Validate())

	st, err := build(cfg, trendingBars(t, "BTCUSD", 60000, 0.002), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	assert.NotNil(t, st.sim)
	assert.IsType(t, &journal.SQLite{}, st.journal)
	assert.Equal(t, risk.HighVolatility, st.sizer.Regime().Current())
	assert.Nil(t, st.stream())

	state, err := st.monitor.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10000.0, state.Equity)
	assert.Equal(t, 10000.0, state.PeakEquity)

	d, err := st.svc.Analyze(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD", d.Instrument)
	assert.Len(t, d.Signals, 6)

	require.NoError(t, st.shutdown(time.Second))
}

func TestBuild_SimFollowsStream(t *testing.T) {
	cfg := config.Default()
	cfg.Journal = config.JournalConfig{Type: "memory"}
	cfg.Peak = config.PeakConfig{Type: "none"}
	cfg.Gateway.StreamURL = "ws://127.0.0.1:1/quotes"

	st, err := build(cfg, trader.NewStaticBars(), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	s := st.stream()
	require.NotNil(t, s)
	require.NotNil(t, s.OnQuote)
	assert.Same(t, st.quotes, s.Store)

	s.OnQuote(market.Quote{Instrument: "ETHUSD", Bid: 3100, Ask: 3101, Time: time.Now()})
	q, err := st.gw.CurrentPrice(context.Background(), "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, 3100.0, q.Bid)
}

func TestBuild_Bridge(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Kind = "bridge"
	cfg.Gateway.URL = "http://127.0.0.1:8765"
	cfg.Gateway.StreamURL = "ws://127.0.0.1:8765/quotes"
	cfg.Journal = config.JournalConfig{Type: "csv", Dir: t.TempDir()}
	cfg.Peak = config.PeakConfig{Type: "none"}
	require.NoError(t, cfg.Validate())

	st, err := build(cfg, trader.NewStaticBars(), zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &bridge.Client{}, st.gw)
	assert.Nil(t, st.sim)
	s := st.stream()
	require.NotNil(t, s)
	assert.Nil(t, s.OnQuote)
	assert.NotNil(t, s.Store)
}

func TestBuild_Errors(t *testing.T) {
	cfg := config.Default()
	cfg.Journal = config.JournalConfig{Type: "memory"}
	cfg.Gateway.Kind = "bridge"
	cfg.Gateway.URL = " "
	_, err := build(cfg, trader.NewStaticBars(), zerolog.Nop())
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Journal = config.JournalConfig{Type: "memory"}
	cfg.Peak = config.PeakConfig{Type: "none"}
	cfg.Risk.Multipliers = map[risk.Regime]float64{risk.Emergency: 0.1}
	_, err = build(cfg, trader.NewStaticBars(), zerolog.Nop())
	assert.ErrorContains(t, err, "multiplier missing")
}

func TestAnalyzeSeries(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	// enough M1 history for M1..M15 only; coarser resolutions are skipped
	series := syntheticBars(rng, "ETHUSD", market.M1, end, 3000, 0.001, 1600)

	d, err := analyzeSeries(config.Default(), series)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSD", d.Instrument)
	assert.Len(t, d.Signals, 3)
	for _, s := range d.Signals {
		assert.Contains(t, []market.Resolution{market.M1, market.M5, market.M15}, s.Resolution)
	}
}

func TestSyntheticBars(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := syntheticBars(rng, "BTCUSD", market.H1, end, 60000, 0.001, 50)
	require.Len(t, s.Bars, 50)
	require.NoError(t, s.Validate())
	assert.Equal(t, end, s.Bars[49].Time)
	assert.Equal(t, time.Hour, s.Bars[1].Time.Sub(s.Bars[0].Time))
	assert.InDelta(t, 60000, s.Bars[49].Close, 60000*0.05)
}
