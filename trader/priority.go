package trader

import (
	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/risk"
)

// PriorityFor maps a request urgency, and failing that the confluence
// action, to a queue priority.
func PriorityFor(action confluence.Action, urgency risk.Urgency) execution.Priority {
	switch urgency {
	case risk.UrgencyImmediate:
		return execution.Emergency
	case risk.UrgencyHigh:
		return execution.High
	case risk.UrgencyLow:
		return execution.Low
	}
	switch {
	case action.IsStrong():
		return execution.High
	case action == confluence.Hold:
		return execution.Low
	}
	return execution.Normal
}

// UrgencyFor is the urgency of a trade raised by action.
func UrgencyFor(action confluence.Action) risk.Urgency {
	switch {
	case action.IsStrong():
		return risk.UrgencyHigh
	case action == confluence.Hold:
		return risk.UrgencyLow
	}
	return risk.UrgencyNormal
}

// SideFor returns the order side of an actionable decision.
func SideFor(action confluence.Action) (broker.Side, bool) {
	switch {
	case action.IsBuy():
		return broker.SideBuy, true
	case action.IsSell():
		return broker.SideSell, true
	}
	return "", false
}
