package signal

import (
	"fmt"
	"time"

	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/market/indicators"
)

// DefaultMinBars is enough history for the slowest standard indicator.
const DefaultMinBars = 100

// Generator produces TimeframeSignals from bar series. It holds no state
// between calls and is safe for concurrent use.
type Generator struct {
	Library indicators.Library
	Scorer  Scorer
	MinBars int
}

// NewGenerator builds a generator over the standard indicator library.
func NewGenerator(scorer Scorer, minBars int) *Generator {
	if minBars <= 0 {
		minBars = DefaultMinBars
	}
	return &Generator{
		Library: indicators.NewStandard(indicators.DefaultParams()),
		Scorer:  scorer,
		MinBars: minBars,
	}
}

// Generate evaluates the latest bar of s.
func (g *Generator) Generate(s market.BarSeries) (TimeframeSignal, error) {
	return g.GenerateAt(s, len(s.Bars)-1)
}

// GenerateAsOf evaluates the last bar not after t.
func (g *Generator) GenerateAsOf(s market.BarSeries, t time.Time) (TimeframeSignal, error) {
	i := s.IndexAsOf(t)
	if i < 0 {
		return TimeframeSignal{}, fmt.Errorf("%w: no %s bar at or before %s", ErrInsufficientData, s.Resolution, t.Format(time.RFC3339))
	}
	return g.GenerateAt(s, i)
}

// GenerateAt evaluates bar index i using only bars up to and including i.
func (g *Generator) GenerateAt(s market.BarSeries, i int) (TimeframeSignal, error) {
	if i < 0 || i >= len(s.Bars) {
		return TimeframeSignal{}, fmt.Errorf("%w: index %d out of range for %d bars", ErrInsufficientData, i, len(s.Bars))
	}
	if i+1 < g.MinBars {
		return TimeframeSignal{}, fmt.Errorf("%w: %s %s has %d bars, need %d",
			ErrInsufficientData, s.Instrument, s.Resolution, i+1, g.MinBars)
	}

	bars := s.Bars[:i+1]
	set, err := g.Library.Compute(bars)
	if err != nil {
		return TimeframeSignal{}, fmt.Errorf("compute indicators for %s %s: %w", s.Instrument, s.Resolution, err)
	}

	bar := bars[i]
	v, err := g.Scorer.Score(Input{Set: set, Index: i, Bar: bar})
	if err != nil {
		return TimeframeSignal{}, fmt.Errorf("%s %s: %w", s.Instrument, s.Resolution, err)
	}

	return TimeframeSignal{
		Instrument:   s.Instrument,
		Resolution:   s.Resolution,
		Direction:    v.Direction,
		Strength:     v.Strength,
		Confidence:   v.Confidence,
		Readings:     v.Readings,
		ActiveCount:  len(v.Readings),
		NonZeroCount: countNonZero(v.Readings),
		Price:        bar.Close,
		Time:         bar.Time,
	}, nil
}
