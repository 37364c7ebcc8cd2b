package risk

import (
	"fmt"

	"github.com/rustyeddy/mtftrader/account"
)

// Rejection codes.
const (
	CodeUnconfigured       = "UNCONFIGURED_INSTRUMENT"
	CodeInvalidSize        = "INVALID_SIZE"
	CodeMinBalance         = "MIN_BALANCE"
	CodeDailyLoss          = "DAILY_LOSS_LIMIT"
	CodeDrawdown           = "DRAWDOWN_LIMIT"
	CodeExposure           = "EXPOSURE_LIMIT"
	CodeInstrumentPosition = "INSTRUMENT_POSITION_LIMIT"
	CodeTotalPositions     = "TOTAL_POSITION_LIMIT"
	CodeMarginLevel        = "MARGIN_LEVEL"
)

type Violation struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

// Check runs the hard safety gate in order and returns every violation.
// projected is the notional the candidate trade would add; instrument may
// be empty to check only account-wide limits.
func Check(l Limits, s account.State, instrument string, projected float64) []Violation {
	var out []Violation
	add := func(code, format string, args ...any) {
		out = append(out, Violation{Code: code, Msg: fmt.Sprintf(format, args...)})
	}

	if s.Balance < l.MinBalance {
		add(CodeMinBalance, "account balance below minimum (%.2f < %.2f)", s.Balance, l.MinBalance)
	}
	if loss := s.DailyLossPct(); loss > l.MaxDailyLossPct {
		add(CodeDailyLoss, "daily loss limit exceeded (%.2f%% > %.2f%%)", loss, l.MaxDailyLossPct)
	}
	if s.DrawdownPct > l.MaxDrawdownPct {
		add(CodeDrawdown, "drawdown limit exceeded (%.2f%% > %.2f%%)", s.DrawdownPct, l.MaxDrawdownPct)
	}
	if limit := s.Balance * l.MaxExposurePct / 100; s.TotalExposure+projected > limit {
		add(CodeExposure, "total exposure limit would be exceeded (%.2f + %.2f > %.2f)", s.TotalExposure, projected, limit)
	}
	if instrument != "" && s.OpenOn(instrument) >= l.MaxPerInstrument {
		add(CodeInstrumentPosition, "maximum positions per instrument exceeded (%d)", l.MaxPerInstrument)
	}
	if s.OpenPositions >= l.MaxPositions {
		add(CodeTotalPositions, "maximum total positions exceeded (%d)", l.MaxPositions)
	}
	if s.OpenPositions > 0 && s.MarginLevel < l.MinMarginLevel {
		add(CodeMarginLevel, "margin level too low (%.1f%% < %.1f%%)", s.MarginLevel, l.MinMarginLevel)
	}
	return out
}
