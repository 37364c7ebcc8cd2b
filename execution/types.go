// Package execution runs orders against the brokerage gateway: a bounded
// priority queue drained by one worker, retries for transient failures, and
// a reconciliation loop that keeps the local position table in step with
// the gateway.
package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/mtftrader/broker"
)

var (
	ErrQueueFull        = errors.New("order queue is full")
	ErrStopped          = errors.New("execution manager stopped")
	ErrPositionNotFound = errors.New("position not tracked")
	ErrNotQueued        = errors.New("order is not queued")
	ErrUnknownOrder     = errors.New("unknown order")
	// ErrInvariant marks a state the single worker should make impossible,
	// such as a second open position for one instrument and owner.
	ErrInvariant = errors.New("execution invariant violated")
	// ErrHalted marks an instrument that saw an invariant violation. New
	// positions stay blocked until Resume.
	ErrHalted = errors.New("instrument halted")
)

type Priority int

const (
	Low Priority = iota
	Normal
	High
	Emergency
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Emergency:
		return "emergency"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "", "normal":
		return Normal, nil
	case "high":
		return High, nil
	case "emergency":
		return Emergency, nil
	}
	return Normal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// State is an order lifecycle state. Rejected, Filled, PartiallyFilled,
// Failed and Cancelled are terminal.
type State string

const (
	Pending         State = "pending"
	Validating      State = "validating"
	Approved        State = "approved"
	Executing       State = "executing"
	Rejected        State = "rejected"
	Filled          State = "filled"
	PartiallyFilled State = "partially_filled"
	Failed          State = "failed"
	Cancelled       State = "cancelled"
)

func (s State) Terminal() bool {
	switch s {
	case Rejected, Filled, PartiallyFilled, Failed, Cancelled:
		return true
	}
	return false
}

// OrderRequest is owned by the manager from Submit until its terminal result.
type OrderRequest struct {
	ID         string           `json:"id"`
	Instrument string           `json:"instrument"`
	Kind       broker.OrderKind `json:"kind"`
	Volume     float64          `json:"volume"`
	Price      float64          `json:"price,omitempty"`
	StopLoss   float64          `json:"stop_loss,omitempty"`
	TakeProfit float64          `json:"take_profit,omitempty"`
	Priority   Priority         `json:"priority"`
	PositionID string           `json:"position_id,omitempty"`
	Owner      string           `json:"owner"`
	Comment    string           `json:"comment,omitempty"`
}

type OrderResult struct {
	OrderID        string    `json:"order_id"`
	GatewayID      string    `json:"gateway_id,omitempty"`
	PositionID     string    `json:"position_id,omitempty"`
	Status         State     `json:"status"`
	ExecutedPrice  float64   `json:"executed_price,omitempty"`
	ExecutedVolume float64   `json:"executed_volume,omitempty"`
	Retries        int       `json:"retries"`
	Error          string    `json:"error,omitempty"`
	Time           time.Time `json:"time"`
}

type PositionStatus string

const (
	Open    PositionStatus = "open"
	Closing PositionStatus = "closing"
	Closed  PositionStatus = "closed"
)

type Position struct {
	ID            string         `json:"id"`
	Instrument    string         `json:"instrument"`
	Volume        float64        `json:"volume"`
	Side          broker.Side    `json:"side"`
	OpenPrice     float64        `json:"open_price"`
	CurrentPrice  float64        `json:"current_price"`
	OpenTime      time.Time      `json:"open_time"`
	StopLoss      float64        `json:"stop_loss,omitempty"`
	TakeProfit    float64        `json:"take_profit,omitempty"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	RealizedPnL   float64        `json:"realized_pnl"`
	Status        PositionStatus `json:"status"`
	Owner         string         `json:"owner"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// tracked is when the position entered the local table.
	tracked time.Time
	// clientID is the id of the order that opened the position.
	clientID string
}

// Stats are running execution totals.
type Stats struct {
	TotalOrders   int     `json:"total_orders"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	Rejected      int     `json:"rejected"`
	Cancelled     int     `json:"cancelled"`
	Retries       int     `json:"retries"`
	TotalVolume   float64 `json:"total_volume"`
	OpenPositions int     `json:"open_positions"`
	Queued        int     `json:"queued"`
	SuccessRate   float64 `json:"success_rate"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}
