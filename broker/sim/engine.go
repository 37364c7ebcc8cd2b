// Package sim is an in-memory brokerage gateway. It fills market orders at
// the current bid/ask, rests limit and stop orders until the price reaches
// them, honours stop loss and take profit, and keeps deal history.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/id"
	"github.com/rustyeddy/mtftrader/market"
)

// Engine implements broker.Gateway.
type Engine struct {
	mu         sync.Mutex
	acct       broker.Account
	quotes     *market.QuoteStore
	specs      map[string]market.InstrumentSpec
	positions  map[string]*position
	pending    []pending
	deals      []broker.Deal
	marginRate float64
	now        func() time.Time
	closed     bool

	// fault injection
	failures   []error
	latency    time.Duration
	fillRatio  float64
	placeCalls int
}

type Option func(*Engine)

// WithMarginRate sets the fraction of notional held as margin.
func WithMarginRate(r float64) Option { return func(e *Engine) { e.marginRate = r } }

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLatency delays every PlaceOrder call.
func WithLatency(d time.Duration) Option { return func(e *Engine) { e.latency = d } }

// WithPartialFills fills market orders at ratio of the requested volume.
func WithPartialFills(ratio float64) Option { return func(e *Engine) { e.fillRatio = ratio } }

func NewEngine(acct broker.Account, opts ...Option) *Engine {
	if acct.Equity == 0 {
		acct.Equity = acct.Balance
	}
	acct.FreeMargin = acct.Equity
	e := &Engine{
		acct:       acct,
		quotes:     market.NewQuoteStore(),
		specs:      make(map[string]market.InstrumentSpec),
		positions:  make(map[string]*position),
		marginRate: 0.01,
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// AddInstrument registers a tradeable instrument.
func (e *Engine) AddInstrument(spec market.InstrumentSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs[spec.Name] = spec
}

// Quotes exposes the engine's quote store.
func (e *Engine) Quotes() *market.QuoteStore { return e.quotes }

// FailNext makes the next PlaceOrder calls return errs, one per call.
func (e *Engine) FailNext(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, errs...)
}

// PlaceCalls counts PlaceOrder invocations, including failed ones.
func (e *Engine) PlaceCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.placeCalls
}

// UpdatePrice stores q, triggers resting orders and protective stops, then
// revalues the account.
func (e *Engine) UpdatePrice(q market.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if q.Time.IsZero() {
		q.Time = e.now()
	}
	e.quotes.Set(q)

	kept := e.pending[:0]
	for _, o := range e.pending {
		if o.order.Instrument != q.Instrument || !o.triggered(q.Bid, q.Ask) {
			kept = append(kept, o)
			continue
		}
		spec := e.specs[o.order.Instrument]
		e.openLocked(o.order, spec, o.order.Volume, q.Side(o.order.Kind.Side() == broker.SideBuy), q.Time)
	}
	e.pending = kept

	for _, p := range e.sortedPositionsLocked() {
		if p.Instrument != q.Instrument {
			continue
		}
		mark := markPrice(p.Side, q.Bid, q.Ask)
		if p.hitStopLoss(mark) || p.hitTakeProfit(mark) {
			e.closeLocked(p, p.Volume, mark, q.Time)
		}
	}
	e.revalueLocked()
}

// OpenExternal opens a position as if it were placed outside this process.
func (e *Engine) OpenExternal(instrument string, side broker.Side, volume, price float64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	kind := broker.MarketBuy
	if side == broker.SideSell {
		kind = broker.MarketSell
	}
	p := e.openLocked(broker.Order{Instrument: instrument, Kind: kind, Side: side, Comment: "external"},
		e.specs[instrument], volume, price, e.now())
	e.revalueLocked()
	return p.ID
}

// CloseExternal closes a position outside the order flow, as a terminal
// operator or a margin call would.
func (e *Engine) CloseExternal(positionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrPositionNotFound, positionID)
	}
	e.closeLocked(p, p.Volume, p.mark, e.now())
	e.revalueLocked()
	return nil
}

// AddDeal appends a historical deal and books its PnL.
func (e *Engine) AddDeal(d broker.Deal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d.ID == "" {
		d.ID = id.New()
	}
	e.deals = append(e.deals, d)
	e.acct.Balance += d.Net()
	e.revalueLocked()
}

func (e *Engine) InstrumentInfo(ctx context.Context, instrument string) (market.InstrumentSpec, error) {
	if err := ctx.Err(); err != nil {
		return market.InstrumentSpec{}, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok := e.specs[instrument]
	if !ok {
		return market.InstrumentSpec{}, fmt.Errorf("%w: %s", broker.ErrUnknownInstrument, instrument)
	}
	return spec, nil
}

func (e *Engine) CurrentPrice(ctx context.Context, instrument string) (market.Quote, error) {
	if err := ctx.Err(); err != nil {
		return market.Quote{}, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	return e.quotes.Get(instrument)
}

func (e *Engine) PlaceOrder(ctx context.Context, o broker.Order) (broker.Fill, error) {
	e.mu.Lock()
	e.placeCalls++
	latency := e.latency
	e.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return broker.Fill{}, fmt.Errorf("%w: %v", broker.ErrUnavailable, ctx.Err())
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return broker.Fill{}, fmt.Errorf("%w: gateway closed", broker.ErrUnavailable)
	}
	if len(e.failures) > 0 {
		err := e.failures[0]
		e.failures = e.failures[1:]
		return broker.Fill{}, err
	}

	now := e.now()
	switch o.Kind {
	case broker.ClosePosition:
		return e.closeOrderLocked(o, now)
	case broker.ModifyPosition:
		p, ok := e.positions[o.PositionID]
		if !ok {
			return broker.Fill{}, fmt.Errorf("%w: %s", broker.ErrPositionNotFound, o.PositionID)
		}
		p.StopLoss, p.TakeProfit = o.StopLoss, o.TakeProfit
		return broker.Fill{Status: broker.Filled, OrderID: id.New(), PositionID: p.ID, Price: p.mark, Volume: p.Volume, Time: now}, nil
	}

	spec, ok := e.specs[o.Instrument]
	if !ok {
		return broker.Fill{}, fmt.Errorf("%w: %s", broker.ErrUnknownInstrument, o.Instrument)
	}
	if !spec.Tradeable {
		return broker.Fill{}, fmt.Errorf("%w: trading disabled for %s", broker.ErrRejected, o.Instrument)
	}
	if o.Volume < spec.MinVolume || (spec.MaxVolume > 0 && o.Volume > spec.MaxVolume) {
		return broker.Fill{}, fmt.Errorf("%w: invalid volume %v", broker.ErrRejected, o.Volume)
	}
	q, err := e.quotes.Get(o.Instrument)
	if err != nil {
		return broker.Fill{}, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}

	if o.Kind.Pending() {
		if o.Price <= 0 {
			return broker.Fill{}, fmt.Errorf("%w: %s needs a price", broker.ErrRejected, o.Kind)
		}
		pid := id.New()
		e.pending = append(e.pending, pending{order: o, id: pid})
		return broker.Fill{Status: broker.Placed, OrderID: pid, Price: o.Price, Time: now}, nil
	}

	buy := o.Kind.Side() == broker.SideBuy
	price := q.Side(buy)
	vol := o.Volume
	status := broker.Filled
	if e.fillRatio > 0 && e.fillRatio < 1 {
		if part := market.FloorVolume(vol*e.fillRatio, spec.VolumeStep); part >= spec.MinVolume && part < vol {
			vol = part
			status = broker.PartiallyFilled
		}
	}
	if need := e.requiredMargin(vol, contractSize(spec), price); need > e.acct.FreeMargin {
		return broker.Fill{}, fmt.Errorf("%w: insufficient margin (need %.2f, free %.2f)", broker.ErrRejected, need, e.acct.FreeMargin)
	}

	p := e.openLocked(o, spec, vol, price, now)
	e.revalueLocked()
	return broker.Fill{Status: status, OrderID: id.New(), PositionID: p.ID, Price: price, Volume: vol, Time: now}, nil
}

func (e *Engine) closeOrderLocked(o broker.Order, now time.Time) (broker.Fill, error) {
	p, ok := e.positions[o.PositionID]
	if !ok {
		return broker.Fill{}, fmt.Errorf("%w: %s", broker.ErrPositionNotFound, o.PositionID)
	}
	q, err := e.quotes.Get(p.Instrument)
	if err != nil {
		return broker.Fill{}, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	vol := o.Volume
	if vol <= 0 || vol > p.Volume {
		vol = p.Volume
	}
	price := markPrice(p.Side, q.Bid, q.Ask)
	e.closeLocked(p, vol, price, now)
	e.revalueLocked()
	return broker.Fill{Status: broker.Filled, OrderID: id.New(), PositionID: p.ID, Price: price, Volume: vol, Time: now}, nil
}

func (e *Engine) openLocked(o broker.Order, spec market.InstrumentSpec, vol, price float64, at time.Time) *position {
	side := o.Side
	if side == "" {
		side = o.Kind.Side()
	}
	p := &position{
		ID:         id.New(),
		Instrument: o.Instrument,
		Side:       side,
		Volume:     vol,
		OpenPrice:  price,
		OpenTime:   at,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Comment:    o.ClientID,
		contract:   contractSize(spec),
		mark:       price,
	}
	if p.Comment == "" {
		p.Comment = o.Comment
	}
	e.positions[p.ID] = p
	e.deals = append(e.deals, broker.Deal{
		ID: id.New(), PositionID: p.ID, Instrument: p.Instrument, Side: side,
		Volume: vol, Price: price, Time: at,
	})
	return p
}

func (e *Engine) closeLocked(p *position, vol, price float64, at time.Time) {
	pl := p.PL(price, vol)
	e.acct.Balance += pl
	e.deals = append(e.deals, broker.Deal{
		ID: id.New(), PositionID: p.ID, Instrument: p.Instrument, Side: p.Side.Opposite(),
		Volume: vol, Price: price, Profit: pl, Time: at,
	})
	p.Volume = market.RoundVolume(p.Volume-vol, 0)
	if p.Volume <= 0 {
		delete(e.positions, p.ID)
	}
}

func (e *Engine) OpenPositions(ctx context.Context) ([]broker.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]broker.Position, 0, len(e.positions))
	for _, p := range e.sortedPositionsLocked() {
		out = append(out, p.snapshot())
	}
	return out, nil
}

func (e *Engine) AccountInfo(ctx context.Context) (broker.Account, error) {
	if err := ctx.Err(); err != nil {
		return broker.Account{}, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct, nil
}

func (e *Engine) DealHistory(ctx context.Context, from, to time.Time) ([]broker.Deal, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []broker.Deal
	for _, d := range e.deals {
		if !d.Time.Before(from) && d.Time.Before(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Engine) sortedPositionsLocked() []*position {
	out := make([]*position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func contractSize(spec market.InstrumentSpec) float64 {
	if spec.ContractSize <= 0 {
		return 1
	}
	return spec.ContractSize
}
