package risk

import (
	"github.com/rustyeddy/mtftrader/broker"
)

type Outcome string

const (
	Approved Outcome = "approved"
	Rejected Outcome = "rejected"
)

type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyImmediate Urgency = "immediate"
)

// TradeRequest asks for a position. SizeHint scales the lot (the confluence
// size multiplier); zero means 1.
type TradeRequest struct {
	Instrument  string      `json:"instrument"`
	Direction   broker.Side `json:"direction"`
	RequesterID string      `json:"requester_id"`
	Confidence  float64     `json:"confidence"`
	Urgency     Urgency     `json:"urgency"`
	SizeHint    float64     `json:"size_hint,omitempty"`
}

// Metrics describe how a lot size was reached.
type Metrics struct {
	Instrument       string     `json:"instrument"`
	AssetClass       AssetClass `json:"asset_class,omitempty"`
	LotSize          float64    `json:"lot_size"`
	Price            float64    `json:"price"`
	ContractSize     float64    `json:"contract_size"`
	Notional         float64    `json:"notional"`
	RiskPct          float64    `json:"risk_pct"`
	BaseCoefficient  float64    `json:"base_coefficient"`
	SafeCoefficient  float64    `json:"safe_coefficient"`
	Regime           Regime     `json:"regime"`
	RegimeMultiplier float64    `json:"regime_multiplier"`
}

// Decision is the outcome of one evaluation. Rejections carry Code and
// Reason; LotSize is zero.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	LotSize float64 `json:"lot_size"`
	Reason  string  `json:"reason,omitempty"`
	Code    string  `json:"code,omitempty"`
	Metrics Metrics `json:"metrics"`
}

func (d Decision) Approved() bool { return d.Outcome == Approved }

func reject(code, reason string, m Metrics) Decision {
	return Decision{Outcome: Rejected, Code: code, Reason: reason, Metrics: m}
}
