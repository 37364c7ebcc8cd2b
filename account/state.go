// Package account caches the brokerage account view used by risk checks:
// balances, daily realized PnL, open exposure and drawdown from the equity
// high-water mark.
package account

import (
	"errors"
	"time"
)

// ErrStaleState is returned when no account state fresher than the
// staleness window is available.
var ErrStaleState = errors.New("account state is stale")

type State struct {
	Balance          float64        `json:"balance"`
	Equity           float64        `json:"equity"`
	Margin           float64        `json:"margin"`
	FreeMargin       float64        `json:"free_margin"`
	MarginLevel      float64        `json:"margin_level"`
	DailyPnL         float64        `json:"daily_pnl"`
	OpenPositions    int            `json:"open_positions"`
	OpenByInstrument map[string]int `json:"open_by_instrument"`
	TotalExposure    float64        `json:"total_exposure"`
	PeakEquity       float64        `json:"peak_equity"`
	DrawdownPct      float64        `json:"drawdown_pct"`
	RefreshedAt      time.Time      `json:"refreshed_at"`
}

// Fresh reports whether s was refreshed within maxAge of now.
func (s State) Fresh(now time.Time, maxAge time.Duration) bool {
	if s.RefreshedAt.IsZero() {
		return false
	}
	return now.Sub(s.RefreshedAt) <= maxAge
}

// OpenOn is the number of open positions on instrument.
func (s State) OpenOn(instrument string) int {
	return s.OpenByInstrument[instrument]
}

// DailyLossPct is today's realized loss as a percent of balance; zero when
// the day is flat or positive.
func (s State) DailyLossPct() float64 {
	if s.DailyPnL >= 0 || s.Balance <= 0 {
		return 0
	}
	return -s.DailyPnL / s.Balance * 100
}

// ExposurePct is open notional as a percent of balance.
func (s State) ExposurePct() float64 {
	if s.Balance <= 0 {
		return 0
	}
	return s.TotalExposure / s.Balance * 100
}

func drawdown(peak, equity float64) float64 {
	if peak <= 0 || equity >= peak {
		return 0
	}
	return (peak - equity) / peak * 100
}

// StartOfDay is UTC midnight of t.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
