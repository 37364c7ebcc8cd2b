package indicators

import (
	"math"

	"github.com/rustyeddy/mtftrader/market"
)

// window is a fixed-size rolling window of float64 values.
type window struct {
	n   int
	buf []float64
}

func newWindow(n int) *window {
	return &window{n: n, buf: make([]float64, 0, n)}
}

func (w *window) push(x float64) {
	if len(w.buf) < w.n {
		w.buf = append(w.buf, x)
		return
	}
	copy(w.buf, w.buf[1:])
	w.buf[w.n-1] = x
}

func (w *window) full() bool      { return len(w.buf) == w.n }
func (w *window) reset()          { w.buf = w.buf[:0] }
func (w *window) oldest() float64 { return w.buf[0] }
func (w *window) newest() float64 { return w.buf[len(w.buf)-1] }

func (w *window) sum() float64 {
	s := 0.0
	for _, v := range w.buf {
		s += v
	}
	return s
}

func (w *window) mean() float64 {
	if len(w.buf) == 0 {
		return 0
	}
	return w.sum() / float64(len(w.buf))
}

// stddev is the sample standard deviation.
func (w *window) stddev() float64 {
	if len(w.buf) < 2 {
		return 0
	}
	m := w.mean()
	ss := 0.0
	for _, v := range w.buf {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(w.buf)-1))
}

func (w *window) max() float64 {
	m := math.Inf(-1)
	for _, v := range w.buf {
		if v > m {
			m = v
		}
	}
	return m
}

func (w *window) min() float64 {
	m := math.Inf(1)
	for _, v := range w.buf {
		if v < m {
			m = v
		}
	}
	return m
}

// position returns where x sits between lo and hi as a fraction. A
// collapsed band reports the midpoint.
func position(x, lo, hi float64) float64 {
	if hi-lo == 0 {
		return 0.5
	}
	return (x - lo) / (hi - lo)
}

func max3(a, b, c float64) float64 {
	return math.Max(a, math.Max(b, c))
}

func trueRange(b market.Bar, prevClose float64, hasPrev bool) float64 {
	if !hasPrev {
		return b.High - b.Low
	}
	return max3(b.High-b.Low, math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose))
}
