package account

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/broker/sim"
	"github.com/rustyeddy/mtftrader/journal"
	"github.com/rustyeddy/mtftrader/market"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newGateway(t *testing.T, c *clock) *sim.Engine {
	t.Helper()
	e := sim.NewEngine(broker.Account{ID: "demo", Balance: 10000}, sim.WithClock(c.now))
	e.AddInstrument(market.InstrumentSpec{Name: "ETHUSD", MinVolume: 0.01, VolumeStep: 0.01, ContractSize: 1, Tradeable: true})
	e.AddInstrument(market.InstrumentSpec{Name: "US2000", MinVolume: 0.1, VolumeStep: 0.1, ContractSize: 10, Tradeable: true})
	e.UpdatePrice(market.Quote{Instrument: "ETHUSD", Bid: 3000, Ask: 3001, Time: c.t})
	e.UpdatePrice(market.Quote{Instrument: "US2000", Bid: 2000, Ask: 2001, Time: c.t})
	return e
}

func TestMonitor_Refresh(t *testing.T) {
	t.Parallel()
	c := &clock{t: time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)}
	gw := newGateway(t, c)
	ctx := context.Background()

	gw.AddDeal(broker.Deal{Instrument: "ETHUSD", Profit: -250, Commission: -5, Time: c.t.Add(-time.Hour)})
	// yesterday's deal is outside the daily window
	gw.AddDeal(broker.Deal{Instrument: "ETHUSD", Profit: 900, Time: c.t.Add(-20 * time.Hour)})

	_, err := gw.PlaceOrder(ctx, broker.Order{Instrument: "ETHUSD", Kind: broker.MarketBuy, Volume: 0.5})
	require.NoError(t, err)
	_, err = gw.PlaceOrder(ctx, broker.Order{Instrument: "US2000", Kind: broker.MarketSell, Volume: 0.1})
	require.NoError(t, err)

	rec := journal.NewMemory()
	m := NewMonitor(gw, WithClock(c.now), WithEquityRecorder(rec))
	s, err := m.Refresh(ctx)
	require.NoError(t, err)

	assert.InDelta(t, -255, s.DailyPnL, 1e-9)
	assert.Equal(t, 2, s.OpenPositions)
	assert.Equal(t, 1, s.OpenOn("ETHUSD"))
	assert.Equal(t, 1, s.OpenOn("US2000"))
	assert.Equal(t, 0, s.OpenOn("BTCUSD"))
	// 0.5*1*3000 + 0.1*10*2001
	assert.InDelta(t, 1500+2001, s.TotalExposure, 1e-6)
	assert.Equal(t, s.Equity, s.PeakEquity)
	assert.Zero(t, s.DrawdownPct)
	assert.Len(t, rec.Equity(), 1)
}

func TestMonitor_StalenessWindow(t *testing.T) {
	t.Parallel()
	c := &clock{t: time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)}
	gw := newGateway(t, c)
	ctx := context.Background()

	m := NewMonitor(gw, WithClock(c.now), WithMaxAge(5*time.Second))
	s1, err := m.State(ctx)
	require.NoError(t, err)

	c.advance(2 * time.Second)
	s2, err := m.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1.RefreshedAt, s2.RefreshedAt, "cached state reused inside the window")

	c.advance(10 * time.Second)
	s3, err := m.State(ctx)
	require.NoError(t, err)
	assert.True(t, s3.RefreshedAt.After(s1.RefreshedAt))

	// a dead gateway leaves only stale state
	require.NoError(t, gw.Close())
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	c.advance(10 * time.Second)
	_, err = m.State(cctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleState))
}

func TestMonitor_DrawdownFromHighWaterMark(t *testing.T) {
	t.Parallel()
	c := &clock{t: time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)}
	gw := newGateway(t, c)
	ctx := context.Background()
	store := journal.NewMemory()

	m := NewMonitor(gw, WithClock(c.now), WithPeakStore(store, "demo"))
	_, err := m.Refresh(ctx)
	require.NoError(t, err)

	gw.AddDeal(broker.Deal{Profit: 2000, Time: c.t})
	s, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12000.0, s.PeakEquity)

	gw.AddDeal(broker.Deal{Profit: -1800, Time: c.t})
	s, err = m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12000.0, s.PeakEquity, "peak never falls")
	assert.InDelta(t, 15.0, s.DrawdownPct, 1e-9)

	// a new monitor picks the peak up from the store
	m2 := NewMonitor(gw, WithClock(c.now), WithPeakStore(store, "demo"))
	s, err = m2.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12000.0, s.PeakEquity)
	assert.InDelta(t, 15.0, s.DrawdownPct, 1e-9)
}

func TestMonitor_NoStoreStartsAtFirstEquity(t *testing.T) {
	t.Parallel()
	c := &clock{t: time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)}
	gw := newGateway(t, c)
	gw.AddDeal(broker.Deal{Profit: -3000, Time: c.t.Add(-48 * time.Hour)})

	m := NewMonitor(gw, WithClock(c.now))
	s, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7000.0, s.PeakEquity)
	assert.Zero(t, s.DrawdownPct)
}

func TestState_Percentages(t *testing.T) {
	t.Parallel()
	s := State{Balance: 10000, DailyPnL: -600, TotalExposure: 2500}
	assert.InDelta(t, 6.0, s.DailyLossPct(), 1e-9)
	assert.InDelta(t, 25.0, s.ExposurePct(), 1e-9)

	s.DailyPnL = 300
	assert.Zero(t, s.DailyLossPct())
	assert.Zero(t, State{}.ExposurePct())
	assert.False(t, State{}.Fresh(time.Now(), time.Hour))
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), StartOfDay(time.Date(2025, 1, 2, 23, 59, 0, 0, time.UTC)))
}

func TestRedisPeakStore(t *testing.T) {
	addr := os.Getenv("MTF_REDIS_ADDR")
	if addr == "" {
		t.Skip("MTF_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	key := "test-" + time.Now().Format("150405.000000000")
	defer client.Del(ctx, peakKeyPrefix+key)

	s := NewRedisPeakStore(client)
	_, ok, err := s.LoadPeak(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SavePeak(ctx, key, 100))
	require.NoError(t, s.SavePeak(ctx, key, 90))
	p, ok, err := s.LoadPeak(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 100.0, p)
}
