package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/metrics"
)

// apply folds a confirmed fill into the position table. The fill is always
// applied; the returned error reports a table that contradicts it.
func (m *Manager) apply(req OrderRequest, fill broker.Fill) error {
	now := m.now()
	m.mu.Lock()
	var (
		ev     Position
		price  float64
		pnl    float64
		record bool
		bad    error
	)
	switch req.Kind {
	case broker.ClosePosition:
		p, ok := m.positions[req.PositionID]
		if !ok {
			bad = fmt.Errorf("%w: close filled for untracked position %s", ErrInvariant, req.PositionID)
			break
		}
		if p.Volume > 0 {
			pnl = p.UnrealizedPnL * fill.Volume / p.Volume
		}
		p.UnrealizedPnL -= pnl
		p.RealizedPnL += pnl
		m.stats.RealizedPnL += pnl
		left := market.RoundVolume(p.Volume-fill.Volume, 0)
		if left > 0 {
			p.Volume = left
			p.Status = Open
		}
		p.CurrentPrice = fill.Price
		p.UpdatedAt = now
		ev, price, record = *p, fill.Price, true
	case broker.ModifyPosition:
		p, ok := m.positions[req.PositionID]
		if !ok {
			break
		}
		p.StopLoss, p.TakeProfit = req.StopLoss, req.TakeProfit
		if p.Status == Closing {
			p.Status = Open
		}
		p.UpdatedAt = now
		ev, price, record = *p, p.CurrentPrice, true
	default:
		if fill.Status == broker.Placed {
			// Resting order: the position appears through reconciliation
			// and is attributed by its client id.
			break
		}
		pid := fill.PositionID
		if pid == "" {
			pid = fill.OrderID
		}
		for _, o := range m.positions {
			if o.ID != pid && o.Status != Closed && o.Instrument == req.Instrument && o.Owner == req.Owner {
				bad = fmt.Errorf("%w: %s already holds %s for %s", ErrInvariant, o.ID, req.Instrument, req.Owner)
			}
		}
		p, ok := m.positions[pid]
		if !ok {
			p = &Position{ID: pid, tracked: now}
			m.positions[pid] = p
		}
		p.Instrument = req.Instrument
		p.Side = req.Kind.Side()
		p.Volume = fill.Volume
		p.OpenPrice = fill.Price
		if p.CurrentPrice == 0 {
			p.CurrentPrice = fill.Price
		}
		p.OpenTime = fill.Time
		if p.OpenTime.IsZero() {
			p.OpenTime = now
		}
		p.StopLoss, p.TakeProfit = req.StopLoss, req.TakeProfit
		p.Status = Open
		p.Owner = req.Owner
		p.clientID = req.ID
		p.UpdatedAt = now
		ev, price, record = *p, fill.Price, true
	}
	if bad != nil && req.Instrument != "" {
		m.halted[req.Instrument] = bad.Error()
	}
	open := m.openCountLocked()
	m.mu.Unlock()

	metrics.OpenPositions.Set(float64(open))
	if record {
		m.recordPosition(ev, price, pnl)
	}
	return bad
}

// release undoes the Closing mark of a close order that did not fill.
func (m *Manager) release(req OrderRequest) {
	if req.Kind != broker.ClosePosition {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[req.PositionID]; ok && p.Status == Closing {
		p.Status = Open
	}
}

// ClosePosition queues a close of volume lots of a tracked position at
// high priority. A volume of zero closes all of it.
func (m *Manager) ClosePosition(positionID string, volume float64) (string, error) {
	return m.closeAt(positionID, volume, High, "close")
}

func (m *Manager) closeAt(positionID string, volume float64, pr Priority, comment string) (string, error) {
	m.mu.Lock()
	p, ok := m.positions[positionID]
	if !ok || p.Status == Closed {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if p.Status == Closing {
		m.mu.Unlock()
		return "", fmt.Errorf("position %s already closing", positionID)
	}
	if volume < 0 || volume > p.Volume {
		m.mu.Unlock()
		return "", fmt.Errorf("close volume %v outside (0, %v]", volume, p.Volume)
	}
	if volume == 0 {
		volume = p.Volume
	}
	p.Status = Closing
	req := OrderRequest{
		Instrument: p.Instrument,
		Kind:       broker.ClosePosition,
		Volume:     volume,
		Priority:   pr,
		PositionID: p.ID,
		Owner:      p.Owner,
		Comment:    comment,
	}
	m.mu.Unlock()

	oid, err := m.Submit(req)
	if err != nil {
		m.release(req)
		return "", err
	}
	return oid, nil
}

// ModifyPosition queues a stop-loss/take-profit change.
func (m *Manager) ModifyPosition(positionID string, stopLoss, takeProfit float64) (string, error) {
	m.mu.Lock()
	p, ok := m.positions[positionID]
	if !ok || p.Status == Closed {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	req := OrderRequest{
		Instrument: p.Instrument,
		Kind:       broker.ModifyPosition,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Priority:   High,
		PositionID: p.ID,
		Owner:      p.Owner,
	}
	m.mu.Unlock()
	return m.Submit(req)
}

// EmergencyCloseAll queues a close for every open position. One failure
// does not stop the others; the submitted order ids are returned with
// every error joined.
func (m *Manager) EmergencyCloseAll() ([]string, error) {
	m.mu.Lock()
	var ids []string
	for _, p := range m.positions {
		if p.Status == Open {
			ids = append(ids, p.ID)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var (
		orders []string
		errs   []error
	)
	for _, pid := range ids {
		oid, err := m.closeAt(pid, 0, Emergency, "emergency close")
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", pid, err))
			continue
		}
		orders = append(orders, oid)
	}
	m.log.Warn().Int("positions", len(ids)).Int("submitted", len(orders)).Msg("emergency close all")
	return orders, errors.Join(errs...)
}

// Reconcile brings the local table in line with the gateway: tracked
// positions are updated, unknown gateway positions are adopted, and
// positions missing from the gateway are closed out. Positions that
// entered the table after the snapshot was requested are left alone.
func (m *Manager) Reconcile(ctx context.Context) error {
	requested := m.now()
	cctx, cancel := m.callContext(ctx)
	live, err := m.gw.OpenPositions(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	now := m.now()

	type event struct {
		p          Position
		price, pnl float64
	}
	var (
		events  []event
		adopted []Position
	)

	m.mu.Lock()
	seen := make(map[string]bool, len(live))
	for _, gp := range live {
		seen[gp.ID] = true
	}
	for _, gp := range live {
		p, ok := m.positions[gp.ID]
		if !ok {
			p, ok = m.rekeyLocked(gp, seen)
		}
		if !ok {
			p = &Position{
				ID:        gp.ID,
				Status:    Open,
				Owner:     m.ownerLocked(gp.Comment),
				tracked:   now,
				OpenPrice: gp.OpenPrice,
			}
			if _, ours := m.requests[gp.Comment]; ours {
				p.clientID = gp.Comment
			}
			m.positions[gp.ID] = p
		}
		p.Instrument = gp.Instrument
		p.Side = gp.Side
		p.Volume = gp.Volume
		p.OpenPrice = gp.OpenPrice
		p.CurrentPrice = gp.CurrentPrice
		p.OpenTime = gp.OpenTime
		p.StopLoss = gp.StopLoss
		p.TakeProfit = gp.TakeProfit
		p.UnrealizedPnL = gp.Profit
		p.UpdatedAt = now
		if !ok {
			adopted = append(adopted, *p)
			events = append(events, event{p: *p, price: gp.CurrentPrice, pnl: gp.Profit})
		}
	}
	for pid, p := range m.positions {
		if seen[pid] || p.tracked.After(requested) {
			continue
		}
		p.Status = Closed
		p.UpdatedAt = now
		p.RealizedPnL += p.UnrealizedPnL
		m.stats.RealizedPnL += p.UnrealizedPnL
		p.UnrealizedPnL = 0
		m.history = append(m.history, *p)
		delete(m.positions, pid)
		events = append(events, event{p: *p, price: p.CurrentPrice, pnl: p.RealizedPnL})
	}
	open := m.openCountLocked()
	m.mu.Unlock()

	metrics.OpenPositions.Set(float64(open))
	for _, p := range adopted {
		m.log.Info().Str("position", p.ID).Str("instrument", p.Instrument).Str("owner", p.Owner).Msg("adopted position")
	}
	for _, e := range events {
		m.recordPosition(e.p, e.price, e.pnl)
	}
	return nil
}

// rekeyLocked moves a local position recorded under a provisional id (the
// gateway order id of a fill that named no position) to the id the gateway
// reports for it. The match is on the opening order's client id.
func (m *Manager) rekeyLocked(gp broker.Position, live map[string]bool) (*Position, bool) {
	if _, ours := m.requests[gp.Comment]; !ours || gp.Comment == "" {
		return nil, false
	}
	for pid, p := range m.positions {
		if p.clientID != gp.Comment || live[pid] || p.Status == Closed {
			continue
		}
		delete(m.positions, pid)
		p.ID = gp.ID
		m.positions[gp.ID] = p
		m.log.Info().Str("from", pid).Str("to", gp.ID).Str("instrument", p.Instrument).Msg("position re-keyed")
		return p, true
	}
	return nil, false
}

// openedBy finds the open position created by order clientID.
func (m *Manager) openedBy(clientID string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.clientID == clientID && p.Status != Closed {
			return *p, true
		}
	}
	return Position{}, false
}

// ownerLocked attributes a gateway position to the owner of the order
// whose id it carries.
func (m *Manager) ownerLocked(clientID string) string {
	if req, ok := m.requests[clientID]; ok {
		return req.Owner
	}
	return "external"
}

func (m *Manager) openCountLocked() int {
	n := 0
	for _, p := range m.positions {
		if p.Status != Closed {
			n++
		}
	}
	return n
}

// Positions returns the tracked positions ordered by open time.
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].OpenTime.Before(out[j].OpenTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Manager) Position(positionID string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[positionID]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// History returns positions confirmed closed, oldest first.
func (m *Manager) History() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Position(nil), m.history...)
}
