package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/metrics"
)

// rejection is a validation failure; the order never reaches PlaceOrder.
type rejection struct{ reason string }

func (r rejection) Error() string { return r.reason }

func reject(format string, args ...any) error {
	return rejection{reason: fmt.Sprintf(format, args...)}
}

func (m *Manager) process(ctx context.Context, req OrderRequest) {
	m.recordOrder(req, Validating, 0, 0, "")
	if err := m.validate(ctx, req); err != nil {
		m.release(req)
		m.finish(req, OrderResult{Status: Rejected, Error: err.Error()})
		return
	}
	m.recordOrder(req, Approved, 0, 0, "")

	order, err := m.payload(ctx, req)
	if err != nil {
		m.release(req)
		m.finish(req, OrderResult{Status: Rejected, Error: err.Error()})
		return
	}

	m.recordOrder(req, Executing, order.Price, 0, "")
	fill, retries, err := m.place(ctx, order)
	if errors.Is(err, broker.ErrOutcomeUnknown) {
		m.settleUnknown(ctx, req, retries, err)
		return
	}
	if err != nil {
		m.release(req)
		status := Failed
		if errors.Is(err, broker.ErrRejected) {
			status = Rejected
		}
		m.finish(req, OrderResult{Status: status, Retries: retries, Error: err.Error()})
		return
	}

	r := OrderResult{
		GatewayID:      fill.OrderID,
		PositionID:     fill.PositionID,
		Status:         Filled,
		ExecutedPrice:  fill.Price,
		ExecutedVolume: fill.Volume,
		Retries:        retries,
		Time:           fill.Time,
	}
	if fill.Status == broker.PartiallyFilled {
		r.Status = PartiallyFilled
	}
	if err := m.apply(req, fill); err != nil {
		m.log.Error().Err(err).Str("order", req.ID).Str("instrument", req.Instrument).
			Msg("position table out of line with fill, instrument halted")
	}
	m.finish(req, r)
}

// settleUnknown resolves an order the gateway took without a readable
// reply. A position snapshot decides: the order is filled if a position
// carrying its id shows up, failed otherwise. It is never resent.
func (m *Manager) settleUnknown(ctx context.Context, req OrderRequest, retries int, cause error) {
	m.log.Warn().Err(cause).Str("order", req.ID).Msg("order outcome unknown, reconciling")
	if err := m.Reconcile(context.WithoutCancel(ctx)); err != nil {
		m.log.Warn().Err(err).Str("order", req.ID).Msg("reconcile after lost reply")
	}
	if req.Kind.Opens() && !req.Kind.Pending() {
		if p, ok := m.openedBy(req.ID); ok {
			m.finish(req, OrderResult{
				PositionID:     p.ID,
				Status:         Filled,
				ExecutedPrice:  p.OpenPrice,
				ExecutedVolume: p.Volume,
				Retries:        retries,
				Time:           p.OpenTime,
			})
			return
		}
	}
	m.release(req)
	m.finish(req, OrderResult{Status: Failed, Retries: retries, Error: cause.Error()})
}

// validate runs every pre-placement check. Gateway reads are allowed here,
// placements are not.
func (m *Manager) validate(ctx context.Context, req OrderRequest) error {
	if !req.Kind.Opens() {
		return m.validateExisting(req)
	}
	if req.Volume <= 0 {
		return reject("volume must be positive, got %v", req.Volume)
	}
	if req.Kind.Pending() && req.Price <= 0 {
		return reject("%s requires a price", req.Kind)
	}
	m.mu.Lock()
	reason, halted := m.halted[req.Instrument]
	m.mu.Unlock()
	if halted {
		return reject("%v: %s (%s)", ErrHalted, req.Instrument, reason)
	}

	cctx, cancel := m.callContext(ctx)
	spec, err := m.gw.InstrumentInfo(cctx, req.Instrument)
	cancel()
	if err != nil {
		return reject("instrument %s not available: %v", req.Instrument, err)
	}
	if !spec.Tradeable {
		return reject("trading disabled for %s", req.Instrument)
	}
	if req.Volume < spec.MinVolume {
		return reject("volume %v below minimum %v", req.Volume, spec.MinVolume)
	}
	if spec.MaxVolume > 0 && req.Volume > spec.MaxVolume {
		return reject("volume %v above maximum %v", req.Volume, spec.MaxVolume)
	}
	if !market.OnStep(req.Volume, spec.VolumeStep) {
		return reject("volume %v not a multiple of step %v", req.Volume, spec.VolumeStep)
	}

	cctx, cancel = m.callContext(ctx)
	acct, err := m.gw.AccountInfo(cctx)
	cancel()
	if err != nil {
		return reject("account unavailable: %v", err)
	}
	if acct.FreeMargin < m.cfg.MinFreeMargin {
		return reject("insufficient free margin %.2f < %.2f", acct.FreeMargin, m.cfg.MinFreeMargin)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.Instrument == req.Instrument && p.Owner == req.Owner && p.Status != Closed {
			return reject("%s already has an open position on %s (%s)", req.Owner, req.Instrument, p.ID)
		}
	}
	return nil
}

func (m *Manager) validateExisting(req OrderRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[req.PositionID]
	if !ok || p.Status == Closed {
		return reject("%v: %s", ErrPositionNotFound, req.PositionID)
	}
	if req.Kind == broker.ClosePosition && req.Volume > p.Volume {
		return reject("close volume %v exceeds position volume %v", req.Volume, p.Volume)
	}
	return nil
}

// payload builds the gateway order. Market orders carry the current quote
// as their reference price.
func (m *Manager) payload(ctx context.Context, req OrderRequest) (broker.Order, error) {
	o := broker.Order{
		ClientID:   req.ID,
		Instrument: req.Instrument,
		Kind:       req.Kind,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		PositionID: req.PositionID,
		Comment:    req.Comment,
	}
	switch {
	case req.Kind == broker.ClosePosition || req.Kind == broker.ModifyPosition:
		m.mu.Lock()
		p, ok := m.positions[req.PositionID]
		if ok {
			o.Instrument = p.Instrument
			o.Side = p.Side
			if req.Kind == broker.ClosePosition {
				o.Side = p.Side.Opposite()
				if o.Volume <= 0 {
					o.Volume = p.Volume
				}
			}
		}
		m.mu.Unlock()
		if !ok {
			return o, fmt.Errorf("%w: %s", ErrPositionNotFound, req.PositionID)
		}
	case req.Kind.Pending():
		o.Side = req.Kind.Side()
	default:
		o.Side = req.Kind.Side()
		cctx, cancel := m.callContext(ctx)
		q, err := m.gw.CurrentPrice(cctx, req.Instrument)
		cancel()
		if err != nil {
			return o, fmt.Errorf("no price for %s: %w", req.Instrument, err)
		}
		o.Price = q.Side(o.Side == broker.SideBuy)
	}
	return o, nil
}

// place sends o with exponential backoff. Permanent gateway errors stop
// the retries at once. Each attempt gets its own timeout and is not cut
// short by ctx; ctx only ends the waits between attempts.
func (m *Manager) place(ctx context.Context, o broker.Order) (broker.Fill, int, error) {
	var (
		fill     broker.Fill
		attempts int
	)
	op := func() error {
		attempts++
		cctx, cancel := m.callContext(context.WithoutCancel(ctx))
		defer cancel()
		f, err := m.gw.PlaceOrder(cctx, o)
		if err != nil {
			if broker.Permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		fill = f
		return nil
	}
	notify := func(err error, d time.Duration) {
		metrics.OrderRetries.WithLabelValues(o.Instrument).Inc()
		m.log.Warn().Err(err).Str("order", o.ClientID).Int("attempt", attempts).Dur("wait", d).Msg("retrying order")
	}
	err := backoff.RetryNotify(op, m.backoff(ctx), notify)
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	if err != nil {
		if attempts > m.cfg.MaxRetries && !broker.Permanent(err) {
			return fill, retries, fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}
		return fill, retries, err
	}
	return fill, retries, nil
}

func (m *Manager) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
	}
	b.MaxInterval = m.cfg.MaxRetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.cfg.MaxRetries)), ctx)
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.CallTimeout)
}
