package market

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrEmptySeries = errors.New("bar series is empty")
	ErrUnordered   = errors.New("bars are not in increasing time order")
)

// Bar is one OHLCV bar. Time is the bar open time.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BarSeries is an ordered run of bars for one instrument at one resolution.
type BarSeries struct {
	Instrument string     `json:"instrument"`
	Resolution Resolution `json:"resolution"`
	Bars       []Bar      `json:"bars"`
}

func (s BarSeries) Len() int { return len(s.Bars) }

// Last returns the most recent bar.
func (s BarSeries) Last() (Bar, error) {
	if len(s.Bars) == 0 {
		return Bar{}, ErrEmptySeries
	}
	return s.Bars[len(s.Bars)-1], nil
}

// Head returns the series truncated to bars[0:n]. Bars are shared.
func (s BarSeries) Head(n int) BarSeries {
	if n > len(s.Bars) {
		n = len(s.Bars)
	}
	if n < 0 {
		n = 0
	}
	out := s
	out.Bars = s.Bars[:n]
	return out
}

// IndexAsOf returns the index of the last bar whose time is not after t, or
// -1 when every bar is later than t.
func (s BarSeries) IndexAsOf(t time.Time) int {
	i := sort.Search(len(s.Bars), func(i int) bool {
		return s.Bars[i].Time.After(t)
	})
	return i - 1
}

// Validate checks that bar times strictly increase.
func (s BarSeries) Validate() error {
	for i := 1; i < len(s.Bars); i++ {
		if !s.Bars[i].Time.After(s.Bars[i-1].Time) {
			return fmt.Errorf("%w: %s %s at index %d", ErrUnordered, s.Instrument, s.Resolution, i)
		}
	}
	return nil
}

// Closes returns the close prices.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}
