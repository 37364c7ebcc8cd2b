package trader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/mtftrader/account"
	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/broker/sim"
	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/journal"
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/market/indicators"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/signal"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type emptyLibrary struct{}

func (emptyLibrary) Compute([]market.Bar) (indicators.Set, error) { return indicators.Set{}, nil }

// fixedScorer gives the same verdict on every resolution.
type fixedScorer struct{ dir atomic.Int64 }

func (f *fixedScorer) set(d signal.Direction) { f.dir.Store(int64(d)) }

func (f *fixedScorer) Score(signal.Input) (signal.Verdict, error) {
	d := signal.Direction(f.dir.Load())
	return signal.Verdict{
		Direction:  d,
		Strength:   0.9,
		Confidence: 0.9,
		Readings:   []signal.Reading{{Name: "rsi", Score: float64(d.Sign())}},
	}, nil
}

type fixture struct {
	svc    *Service
	gw     *sim.Engine
	exec   *execution.Manager
	scorer *fixedScorer
	bars   *StaticBars
	j      *journal.Memory
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	gw := sim.NewEngine(broker.Account{ID: "demo", Currency: "USD", Balance: 10000},
		sim.WithClock(func() time.Time { return t0 }))
	gw.AddInstrument(market.InstrumentSpec{Name: "BTCUSD", MinVolume: 0.01, MaxVolume: 1, VolumeStep: 0.01, ContractSize: 1, Tradeable: true})
	gw.AddInstrument(market.InstrumentSpec{Name: "EURUSD", MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01, ContractSize: 100000, Tradeable: true})
	gw.UpdatePrice(market.Quote{Instrument: "BTCUSD", Bid: 60000, Ask: 60010, Time: t0})
	gw.UpdatePrice(market.Quote{Instrument: "EURUSD", Bid: 1.08, Ask: 1.0802, Time: t0})

	j := journal.NewMemory()
	mon := account.NewMonitor(gw)
	rc, err := risk.NewRegimeControl(nil, j, zerolog.Nop())
	require.NoError(t, err)
	sz, err := risk.NewSizer(risk.DefaultConfig(), mon, gw, rc, zerolog.Nop())
	require.NoError(t, err)

	ec := execution.DefaultConfig()
	ec.RetryDelay = time.Millisecond
	ec.ReconcileInterval = time.Hour
	exec := execution.NewManager(ec, gw, execution.WithRecorder(j))

	agg, err := confluence.New(confluence.Basic())
	require.NoError(t, err)
	scorer := &fixedScorer{}
	gen := &signal.Generator{Library: emptyLibrary{}, Scorer: scorer, MinBars: 1}

	bars := NewStaticBars()
	for _, res := range agg.Resolutions() {
		for _, instr := range []string{"BTCUSD", "EURUSD"} {
			bars.Set(market.BarSeries{Instrument: instr, Resolution: res, Bars: []market.Bar{
				{Time: t0, Open: 1, High: 1, Low: 1, Close: 1},
			}})
		}
	}

	if cfg.Instruments == nil {
		cfg.Instruments = []string{"BTCUSD"}
	}
	cfg.CycleInterval = time.Hour
	svc, err := New(cfg, Deps{
		Bars: bars, Generator: gen, Aggregator: agg,
		Sizer: sz, Executor: exec, Monitor: mon, Log: zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &fixture{svc: svc, gw: gw, exec: exec, scorer: scorer, bars: bars, j: j}
}

func (f *fixture) wait(t *testing.T, orderID string) execution.OrderResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := f.exec.Wait(ctx, orderID)
	require.NoError(t, err)
	return r
}

func TestPriorityFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action  confluence.Action
		urgency risk.Urgency
		want    execution.Priority
	}{
		{confluence.Buy, risk.UrgencyImmediate, execution.Emergency},
		{confluence.Buy, risk.UrgencyHigh, execution.High},
		{confluence.StrongBuy, risk.UrgencyLow, execution.Low},
		{confluence.StrongSell, "", execution.High},
		{confluence.Sell, risk.UrgencyNormal, execution.Normal},
		{confluence.Hold, "", execution.Low},
		{"", "", execution.Normal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityFor(tt.action, tt.urgency), "%s/%s", tt.action, tt.urgency)
	}
	assert.Equal(t, risk.UrgencyHigh, UrgencyFor(confluence.StrongSell))
	assert.Equal(t, risk.UrgencyNormal, UrgencyFor(confluence.Buy))
}

func TestService_Analyze(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.scorer.set(signal.StrongBuy)

	d, err := f.svc.Analyze(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, confluence.StrongBuy, d.Action)
	assert.Len(t, d.Signals, 6)

	last, ok := f.svc.LastDecision("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, d.Action, last.Action)

	f.scorer.set(signal.Neutral)
	d, err = f.svc.Analyze(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, confluence.Hold, d.Action)

	_, err = f.svc.Analyze(context.Background(), "SOLUSD")
	assert.ErrorIs(t, err, confluence.ErrInsufficientResolutions)
}

func TestService_AnalyzeToleratesMissingResolutions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.scorer.set(signal.Buy)

	bars := NewStaticBars()
	for _, res := range []market.Resolution{market.H1, market.H4} {
		bars.Set(market.BarSeries{Instrument: "BTCUSD", Resolution: res, Bars: []market.Bar{{Time: t0, Close: 1}}})
	}
	f.svc.bars = bars

	d, err := f.svc.Analyze(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.Len(t, d.Signals, 2)
}

func TestService_SubmitTrade(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	d, oid, err := f.svc.SubmitTrade(ctx, risk.TradeRequest{Instrument: "BTCUSD", Direction: broker.SideBuy, Confidence: 0.8})
	require.NoError(t, err)
	require.True(t, d.Approved())
	assert.Equal(t, 0.01, d.LotSize)
	require.NotEmpty(t, oid)

	r := f.wait(t, oid)
	assert.Equal(t, execution.Filled, r.Status)
	ps := f.exec.Positions()
	require.Len(t, ps, 1)
	assert.Equal(t, "mtf", ps[0].Owner)

	d, oid, err = f.svc.SubmitTrade(ctx, risk.TradeRequest{Instrument: "EURUSD", Direction: broker.SideSell})
	require.NoError(t, err)
	assert.False(t, d.Approved())
	assert.Equal(t, risk.CodeUnconfigured, d.Code)
	assert.Empty(t, oid)

	_, _, err = f.svc.SubmitTrade(ctx, risk.TradeRequest{Instrument: "BTCUSD", Direction: "up"})
	assert.ErrorIs(t, err, ErrInvalidTrade)
}

func TestService_RunCycleOpensOncePerInstrument(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AutoTrade: true})
	f.scorer.set(signal.StrongBuy)
	ctx := context.Background()

	rep, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Entries, 1)
	e := rep.Entries[0]
	assert.Equal(t, confluence.StrongBuy, e.Action)
	require.NotNil(t, e.Risk)
	assert.True(t, e.Risk.Approved())
	require.NotEmpty(t, e.OrderID)
	assert.Equal(t, execution.Filled, f.wait(t, e.OrderID).Status)

	rep, err = f.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Entries[0].OrderID)
	assert.Len(t, f.exec.Positions(), 1)
	assert.False(t, f.svc.PositionSnapshot().LastCycle.IsZero())
}

func TestService_RunCycleWithoutAutoTradeOnlyAnalyzes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.scorer.set(signal.StrongBuy)

	rep, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Entries, 1)
	assert.Equal(t, confluence.StrongBuy, rep.Entries[0].Action)
	assert.Empty(t, rep.Entries[0].OrderID)
	assert.Zero(t, f.gw.PlaceCalls())
}

func TestService_CloseOnReversal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AutoTrade: true, CloseOnReversal: true})
	ctx := context.Background()

	f.scorer.set(signal.StrongBuy)
	rep, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	r := f.wait(t, rep.Entries[0].OrderID)
	require.Equal(t, execution.Filled, r.Status)

	f.scorer.set(signal.StrongSell)
	rep, err = f.svc.RunCycle(ctx)
	require.NoError(t, err)
	e := rep.Entries[0]
	assert.Equal(t, r.PositionID, e.Closed)
	assert.Equal(t, execution.Filled, f.wait(t, e.OrderID).Status)

	live, err := f.gw.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestService_EmergencyStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, oid, err := f.svc.SubmitTrade(ctx, risk.TradeRequest{Instrument: "BTCUSD", Direction: broker.SideBuy})
	require.NoError(t, err)
	require.Equal(t, execution.Filled, f.wait(t, oid).Status)

	ids, err := f.svc.EmergencyStop(ctx, "flash crash")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, execution.Filled, f.wait(t, ids[0]).Status)

	snap := f.svc.PositionSnapshot()
	assert.Equal(t, risk.Emergency, snap.Regime.Regime)
	assert.Equal(t, "flash crash", snap.Regime.Reason)
	require.Len(t, f.j.Regimes(), 1)
	assert.Equal(t, "emergency", f.j.Regimes()[0].To)

	live, err := f.gw.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestStaticBars_SetResampled(t *testing.T) {
	t.Parallel()
	src := market.BarSeries{Instrument: "BTCUSD", Resolution: market.M1}
	for i := 0; i < 10; i++ {
		p := 100 + float64(i)
		src.Bars = append(src.Bars, market.Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1})
	}
	b := NewStaticBars()
	require.NoError(t, b.SetResampled(src, []market.Resolution{market.M1, market.M5}))

	m5, err := b.Bars(context.Background(), "BTCUSD", market.M5)
	require.NoError(t, err)
	require.Len(t, m5.Bars, 2)
	assert.Equal(t, 100.0, m5.Bars[0].Open)
	assert.Equal(t, 104.0, m5.Bars[0].Close)
	assert.Equal(t, 5.0, m5.Bars[0].Volume)

	_, err = b.Bars(context.Background(), "BTCUSD", market.H1)
	assert.ErrorIs(t, err, market.ErrEmptySeries)
	assert.Equal(t, []string{"BTCUSD"}, b.Instruments())
}
