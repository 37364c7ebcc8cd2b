// Package indicators computes technical indicators over bar series.
//
// Every indicator is streaming: feed bars in order with Update and read the
// outputs once Ready reports true. Library runs a set of indicators over a
// whole series and returns one Series per output, aligned with the bars.
package indicators

import (
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/mtftrader/market"
)

var ErrNoBars = errors.New("no bars to compute")

// Indicator is a streaming indicator with one or more named outputs.
type Indicator interface {
	// Outputs names the values returned by Values, in order.
	Outputs() []string
	// Warmup is the number of bars needed before Ready can be true.
	Warmup() int
	Ready() bool
	Update(b market.Bar)
	// Values is only meaningful when Ready.
	Values() []float64
	Reset()
}

// Series holds one indicator output per bar. Positions where the indicator
// was still warming up hold NaN.
type Series []float64

// At returns the value at i and whether it is usable.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	v := s[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Set maps output names to their series.
type Set map[string]Series

// At looks up output name at bar i.
func (s Set) At(name string, i int) (float64, bool) {
	ser, ok := s[name]
	if !ok {
		return 0, false
	}
	return ser.At(i)
}

// Len returns the length shared by the series in the set.
func (s Set) Len() int {
	for _, ser := range s {
		return len(ser)
	}
	return 0
}

// Library computes an indicator table for a run of bars.
type Library interface {
	Compute(bars []market.Bar) (Set, error)
}

// Run feeds bars through inds and collects their outputs.
func Run(bars []market.Bar, inds ...Indicator) (Set, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	set := make(Set)
	for _, ind := range inds {
		for _, name := range ind.Outputs() {
			if _, dup := set[name]; dup {
				return nil, fmt.Errorf("duplicate indicator output %q", name)
			}
			set[name] = make(Series, 0, len(bars))
		}
	}

	for _, b := range bars {
		for _, ind := range inds {
			ind.Update(b)
			names := ind.Outputs()
			if !ind.Ready() {
				for _, name := range names {
					set[name] = append(set[name], math.NaN())
				}
				continue
			}
			vals := ind.Values()
			for k, name := range names {
				set[name] = append(set[name], vals[k])
			}
		}
	}
	return set, nil
}
