package indicators

import (
	"fmt"

	"github.com/rustyeddy/mtftrader/market"
)

// SMA is a simple moving average of closes.
type SMA struct {
	n    int
	w    *window
	name string
}

func NewSMA(period int) *SMA {
	if period <= 0 {
		panic("SMA period must be > 0")
	}
	return &SMA{n: period, w: newWindow(period), name: fmt.Sprintf("sma_%d", period)}
}

func (s *SMA) Outputs() []string   { return []string{s.name} }
func (s *SMA) Warmup() int         { return s.n }
func (s *SMA) Ready() bool         { return s.w.full() }
func (s *SMA) Update(b market.Bar) { s.w.push(b.Close) }
func (s *SMA) Values() []float64   { return []float64{s.w.mean()} }
func (s *SMA) Reset()              { s.w.reset() }
func (s *SMA) Float64() float64    { return s.w.mean() }

// EMA is an exponential moving average. It seeds with the first value and
// is ready after period values.
type EMA struct {
	n     int
	alpha float64
	seen  int
	value float64
	name  string
}

func NewEMA(period int) *EMA {
	if period <= 0 {
		panic("EMA period must be > 0")
	}
	return &EMA{
		n:     period,
		alpha: 2.0 / float64(period+1),
		name:  fmt.Sprintf("ema_%d", period),
	}
}

func (e *EMA) Outputs() []string   { return []string{e.name} }
func (e *EMA) Warmup() int         { return e.n }
func (e *EMA) Ready() bool         { return e.seen >= e.n }
func (e *EMA) Update(b market.Bar) { e.Add(b.Close) }
func (e *EMA) Values() []float64   { return []float64{e.value} }
func (e *EMA) Float64() float64    { return e.value }

func (e *EMA) Reset() {
	e.seen = 0
	e.value = 0
}

// Add feeds a raw value. MACD and Keltner use it to smooth derived series.
func (e *EMA) Add(x float64) {
	e.seen++
	if e.seen == 1 {
		e.value = x
		return
	}
	e.value = e.alpha*x + (1.0-e.alpha)*e.value
}
