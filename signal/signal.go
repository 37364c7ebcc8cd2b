// Package signal turns one resolution's bars and indicators into a
// directional TimeframeSignal.
package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/mtftrader/market"
)

var (
	ErrInsufficientData    = errors.New("insufficient bars")
	ErrInsufficientSignals = errors.New("no indicator produced a reading")
)

// Direction is the signed conviction of a signal.
type Direction int

const (
	StrongSell Direction = -2
	Sell       Direction = -1
	Neutral    Direction = 0
	Buy        Direction = 1
	StrongBuy  Direction = 2
)

func (d Direction) String() string {
	switch d {
	case StrongSell:
		return "STRONG_SELL"
	case Sell:
		return "SELL"
	case Neutral:
		return "NEUTRAL"
	case Buy:
		return "BUY"
	case StrongBuy:
		return "STRONG_BUY"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Sign is -1, 0 or 1.
func (d Direction) Sign() int {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}

// Strength levels used by the vote ladder.
const (
	VeryWeak   = 0.2
	Weak       = 0.4
	Moderate   = 0.5
	Strong     = 0.6
	VeryStrong = 0.8
	Extreme    = 1.0
)

// Reading is one indicator's contribution to a signal.
type Reading struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight,omitempty"`
}

// TimeframeSignal is the verdict for one instrument at one resolution. It is
// a value; nothing mutates it after Generate returns.
type TimeframeSignal struct {
	Instrument   string            `json:"instrument"`
	Resolution   market.Resolution `json:"resolution"`
	Direction    Direction         `json:"direction"`
	Strength     float64           `json:"strength"`
	Confidence   float64           `json:"confidence"`
	Readings     []Reading         `json:"readings"`
	ActiveCount  int               `json:"active_count"`
	NonZeroCount int               `json:"non_zero_count"`
	Price        float64           `json:"price"`
	Time         time.Time         `json:"time"`
}

// Verdict is what a Scorer derives from the readings.
type Verdict struct {
	Direction  Direction
	Strength   float64
	Confidence float64
	Readings   []Reading
}

func countNonZero(rs []Reading) int {
	n := 0
	for _, r := range rs {
		if r.Score != 0 {
			n++
		}
	}
	return n
}
