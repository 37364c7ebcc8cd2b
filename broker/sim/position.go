package sim

import (
	"time"

	"github.com/rustyeddy/mtftrader/broker"
)

type position struct {
	ID         string
	Instrument string
	Side       broker.Side
	Volume     float64
	OpenPrice  float64
	OpenTime   time.Time
	StopLoss   float64
	TakeProfit float64
	Comment    string

	contract float64
	mark     float64
}

// markPrice is the side a position closes on: bid for longs, ask for shorts.
func markPrice(side broker.Side, bid, ask float64) float64 {
	if side == broker.SideBuy {
		return bid
	}
	return ask
}

// PL is the profit of closing volume lots at price.
func (p *position) PL(price, volume float64) float64 {
	return p.Side.Sign() * (price - p.OpenPrice) * volume * p.contract
}

func (p *position) hitStopLoss(price float64) bool {
	if p.StopLoss == 0 {
		return false
	}
	if p.Side == broker.SideBuy {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

func (p *position) hitTakeProfit(price float64) bool {
	if p.TakeProfit == 0 {
		return false
	}
	if p.Side == broker.SideBuy {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

func (p *position) snapshot() broker.Position {
	return broker.Position{
		ID:           p.ID,
		Instrument:   p.Instrument,
		Side:         p.Side,
		Volume:       p.Volume,
		OpenPrice:    p.OpenPrice,
		CurrentPrice: p.mark,
		StopLoss:     p.StopLoss,
		TakeProfit:   p.TakeProfit,
		Profit:       p.PL(p.mark, p.Volume),
		OpenTime:     p.OpenTime,
		Comment:      p.Comment,
	}
}

// pending is a resting limit or stop order.
type pending struct {
	order broker.Order
	id    string
}

// triggered reports whether the resting order executes at bid/ask.
func (o pending) triggered(bid, ask float64) bool {
	switch o.order.Kind {
	case broker.LimitBuy:
		return ask <= o.order.Price
	case broker.StopBuy:
		return ask >= o.order.Price
	case broker.LimitSell:
		return bid >= o.order.Price
	case broker.StopSell:
		return bid <= o.order.Price
	}
	return false
}
