package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/journal"
	"github.com/rustyeddy/mtftrader/market"
)

const DefaultMaxAge = 5 * time.Second

// EquityRecorder receives a snapshot after each refresh.
type EquityRecorder interface {
	RecordEquity(journal.EquitySnapshot) error
}

// Monitor refreshes account state from the gateway and keeps the equity
// high-water mark. Safe for concurrent use.
type Monitor struct {
	gw     broker.Gateway
	peaks  journal.PeakStore
	equity EquityRecorder
	key    string
	maxAge time.Duration
	now    func() time.Time
	log    zerolog.Logger

	mu         sync.Mutex
	state      State
	peak       float64
	peakLoaded bool
	specs      map[string]market.InstrumentSpec
}

type Option func(*Monitor)

// WithPeakStore persists the high-water mark under key.
func WithPeakStore(s journal.PeakStore, key string) Option {
	return func(m *Monitor) {
		m.peaks = s
		m.key = key
	}
}

func WithEquityRecorder(r EquityRecorder) Option { return func(m *Monitor) { m.equity = r } }

// WithMaxAge sets the staleness window.
func WithMaxAge(d time.Duration) Option { return func(m *Monitor) { m.maxAge = d } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func WithLogger(l zerolog.Logger) Option { return func(m *Monitor) { m.log = l } }

func NewMonitor(gw broker.Gateway, opts ...Option) *Monitor {
	m := &Monitor{
		gw:     gw,
		maxAge: DefaultMaxAge,
		now:    time.Now,
		log:    zerolog.Nop(),
		specs:  make(map[string]market.InstrumentSpec),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the cached state when it is within the staleness window and
// refreshes it otherwise. A failed refresh with no fresh cache returns an
// error wrapping ErrStaleState.
func (m *Monitor) State(ctx context.Context) (State, error) {
	m.mu.Lock()
	cached := m.state
	m.mu.Unlock()
	if cached.Fresh(m.now(), m.maxAge) {
		return cached, nil
	}

	s, err := m.Refresh(ctx)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrStaleState, err)
	}
	return s, nil
}

// Snapshot returns the last refreshed state without touching the gateway.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Invalidate forces the next State call to refresh.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.RefreshedAt = time.Time{}
}

// Refresh reads account, positions and today's deals from the gateway.
func (m *Monitor) Refresh(ctx context.Context) (State, error) {
	acct, err := m.gw.AccountInfo(ctx)
	if err != nil {
		return State{}, fmt.Errorf("account info: %w", err)
	}
	positions, err := m.gw.OpenPositions(ctx)
	if err != nil {
		return State{}, fmt.Errorf("open positions: %w", err)
	}
	now := m.now()
	deals, err := m.gw.DealHistory(ctx, StartOfDay(now), now.Add(time.Second))
	if err != nil {
		return State{}, fmt.Errorf("deal history: %w", err)
	}

	s := State{
		Balance:          acct.Balance,
		Equity:           acct.Equity,
		Margin:           acct.Margin,
		FreeMargin:       acct.FreeMargin,
		MarginLevel:      acct.MarginLevel,
		OpenPositions:    len(positions),
		OpenByInstrument: make(map[string]int),
		RefreshedAt:      now,
	}
	for _, d := range deals {
		s.DailyPnL += d.Net()
	}
	for _, p := range positions {
		s.OpenByInstrument[p.Instrument]++
		spec, err := m.spec(ctx, p.Instrument)
		if err != nil {
			return State{}, err
		}
		price := p.CurrentPrice
		if price == 0 {
			price = p.OpenPrice
		}
		s.TotalExposure += spec.Notional(p.Volume, price)
	}

	peak, err := m.updatePeak(ctx, s.Equity)
	if err != nil {
		// keep going on the in-memory peak
		m.log.Warn().Err(err).Msg("peak store unavailable")
	}
	s.PeakEquity = peak
	s.DrawdownPct = drawdown(peak, s.Equity)

	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	if m.equity != nil {
		if err := m.equity.RecordEquity(journal.EquitySnapshot{
			Time: now, Balance: s.Balance, Equity: s.Equity, Margin: s.Margin,
			FreeMargin: s.FreeMargin, MarginLevel: s.MarginLevel,
		}); err != nil {
			m.log.Warn().Err(err).Msg("record equity")
		}
	}
	return s, nil
}

func (m *Monitor) spec(ctx context.Context, instrument string) (market.InstrumentSpec, error) {
	m.mu.Lock()
	spec, ok := m.specs[instrument]
	m.mu.Unlock()
	if ok {
		return spec, nil
	}
	spec, err := m.gw.InstrumentInfo(ctx, instrument)
	if err != nil {
		return market.InstrumentSpec{}, fmt.Errorf("instrument info %s: %w", instrument, err)
	}
	m.mu.Lock()
	m.specs[instrument] = spec
	m.mu.Unlock()
	return spec, nil
}

// updatePeak raises the high-water mark to equity. The stored peak is read
// once; without a store the mark starts at the first observed equity.
func (m *Monitor) updatePeak(ctx context.Context, equity float64) (float64, error) {
	m.mu.Lock()
	loaded := m.peakLoaded
	m.mu.Unlock()

	var err error
	if !loaded && m.peaks != nil {
		var stored float64
		var ok bool
		stored, ok, err = m.peaks.LoadPeak(ctx, m.key)
		if err == nil {
			m.mu.Lock()
			if ok && stored > m.peak {
				m.peak = stored
			}
			m.peakLoaded = true
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	raised := equity > m.peak
	if raised {
		m.peak = equity
	}
	peak := m.peak
	m.mu.Unlock()

	if raised && m.peaks != nil && err == nil {
		err = m.peaks.SavePeak(ctx, m.key, peak)
	}
	return peak, err
}
