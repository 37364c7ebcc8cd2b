// Package broker defines the contract with the brokerage gateway.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/mtftrader/market"
)

var (
	// ErrRejected marks a refusal by the gateway. Retrying will not help.
	ErrRejected          = errors.New("order rejected by gateway")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrPositionNotFound  = errors.New("position not found")
	// ErrUnavailable marks a transient failure: connectivity, requotes,
	// a busy terminal.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrOutcomeUnknown marks a request the gateway accepted whose reply
	// could not be read. The order may have executed; only a position
	// snapshot can tell.
	ErrOutcomeUnknown = errors.New("gateway outcome unknown")
)

// Permanent reports whether err should not be retried.
func Permanent(err error) bool {
	return errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrUnknownInstrument) ||
		errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrOutcomeUnknown)
}

type Gateway interface {
	InstrumentInfo(ctx context.Context, instrument string) (market.InstrumentSpec, error)
	CurrentPrice(ctx context.Context, instrument string) (market.Quote, error)
	PlaceOrder(ctx context.Context, o Order) (Fill, error)
	OpenPositions(ctx context.Context) ([]Position, error)
	AccountInfo(ctx context.Context) (Account, error)
	DealHistory(ctx context.Context, from, to time.Time) ([]Deal, error)
	Close() error
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

type OrderKind string

const (
	MarketBuy      OrderKind = "market_buy"
	MarketSell     OrderKind = "market_sell"
	LimitBuy       OrderKind = "limit_buy"
	LimitSell      OrderKind = "limit_sell"
	StopBuy        OrderKind = "stop_buy"
	StopSell       OrderKind = "stop_sell"
	ClosePosition  OrderKind = "close_position"
	ModifyPosition OrderKind = "modify_position"
)

func (k OrderKind) Valid() bool {
	switch k {
	case MarketBuy, MarketSell, LimitBuy, LimitSell, StopBuy, StopSell, ClosePosition, ModifyPosition:
		return true
	}
	return false
}

// Opens reports whether the kind opens new exposure.
func (k OrderKind) Opens() bool {
	return k != ClosePosition && k != ModifyPosition
}

// Pending reports whether the kind rests at a price.
func (k OrderKind) Pending() bool {
	switch k {
	case LimitBuy, LimitSell, StopBuy, StopSell:
		return true
	}
	return false
}

// Side of an opening kind.
func (k OrderKind) Side() Side {
	switch k {
	case MarketSell, LimitSell, StopSell:
		return SideSell
	}
	return SideBuy
}

// Order is the payload sent to the gateway.
type Order struct {
	ClientID   string    `json:"client_id"`
	Instrument string    `json:"instrument"`
	Kind       OrderKind `json:"kind"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	PositionID string    `json:"position_id,omitempty"`
	Comment    string    `json:"comment,omitempty"`
}

type FillStatus string

const (
	Filled          FillStatus = "filled"
	PartiallyFilled FillStatus = "partially_filled"
	Placed          FillStatus = "placed"
)

// Fill is the gateway's confirmation of an order.
type Fill struct {
	Status     FillStatus `json:"status"`
	OrderID    string     `json:"order_id"`
	PositionID string     `json:"position_id,omitempty"`
	Price      float64    `json:"price"`
	Volume     float64    `json:"volume"`
	Message    string     `json:"message,omitempty"`
	Time       time.Time  `json:"time"`
}

type Position struct {
	ID           string    `json:"id"`
	Instrument   string    `json:"instrument"`
	Side         Side      `json:"side"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	TakeProfit   float64   `json:"take_profit,omitempty"`
	Profit       float64   `json:"profit"`
	OpenTime     time.Time `json:"open_time"`
	Comment      string    `json:"comment,omitempty"`
}

type Account struct {
	ID          string  `json:"id"`
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
}

// Deal is one executed trade leg in account history.
type Deal struct {
	ID         string    `json:"id"`
	PositionID string    `json:"position_id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Time       time.Time `json:"time"`
}

// Net is the deal's contribution to realized PnL.
func (d Deal) Net() float64 { return d.Profit + d.Commission + d.Swap }
