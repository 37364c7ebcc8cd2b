package journal

import (
	"context"
	"sync"
)

// Memory keeps history in process. Used by tests and the demo command.
type Memory struct {
	mu        sync.Mutex
	orders    []OrderEvent
	positions []PositionEvent
	regimes   []RegimeChange
	equity    []EquitySnapshot
	peaks     map[string]float64
}

func NewMemory() *Memory {
	return &Memory{peaks: make(map[string]float64)}
}

func (m *Memory) RecordOrder(e OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, e)
	return nil
}

func (m *Memory) RecordPosition(e PositionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append(m.positions, e)
	return nil
}

func (m *Memory) RecordRegime(c RegimeChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regimes = append(m.regimes, c)
	return nil
}

func (m *Memory) RecordEquity(e EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, e)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Orders() []OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderEvent(nil), m.orders...)
}

// OrderStates lists the recorded states of one order.
func (m *Memory) OrderStates(orderID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.orders {
		if e.OrderID == orderID {
			out = append(out, e.State)
		}
	}
	return out
}

func (m *Memory) Positions() []PositionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PositionEvent(nil), m.positions...)
}

func (m *Memory) Regimes() []RegimeChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RegimeChange(nil), m.regimes...)
}

func (m *Memory) Equity() []EquitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EquitySnapshot(nil), m.equity...)
}

func (m *Memory) LoadPeak(_ context.Context, account string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peaks[account]
	return p, ok, nil
}

func (m *Memory) SavePeak(_ context.Context, account string, peak float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if peak > m.peaks[account] {
		m.peaks[account] = peak
	}
	return nil
}

var (
	_ Journal   = (*Memory)(nil)
	_ Journal   = (*SQLite)(nil)
	_ Journal   = (*CSVJournal)(nil)
	_ PeakStore = (*Memory)(nil)
	_ PeakStore = (*SQLite)(nil)
)
