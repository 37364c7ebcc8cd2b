// Package journal keeps the append-only history of orders, positions,
// regime changes and equity, and the persisted equity high-water mark.
package journal

import (
	"context"
	"time"
)

// OrderEvent is one lifecycle transition of an order request.
type OrderEvent struct {
	Time       time.Time
	OrderID    string
	Instrument string
	Kind       string
	State      string
	Priority   string
	Volume     float64
	Price      float64
	Retries    int
	Owner      string
	Message    string
}

// PositionEvent records a position opening, changing or closing.
type PositionEvent struct {
	Time       time.Time
	PositionID string
	Instrument string
	Side       string
	Volume     float64
	OpenPrice  float64
	Price      float64
	PnL        float64
	State      string
	Owner      string
}

type RegimeChange struct {
	Time   time.Time
	From   string
	To     string
	Reason string
}

type EquitySnapshot struct {
	Time        time.Time
	Balance     float64
	Equity      float64
	Margin      float64
	FreeMargin  float64
	MarginLevel float64
}

// Journal is the history sink shared by risk and execution.
type Journal interface {
	RecordOrder(OrderEvent) error
	RecordPosition(PositionEvent) error
	RecordRegime(RegimeChange) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// PeakStore persists the equity high-water mark per account.
type PeakStore interface {
	LoadPeak(ctx context.Context, account string) (float64, bool, error)
	SavePeak(ctx context.Context, account string, peak float64) error
}
