package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/mtftrader/market"
)

// RSI is Wilder's relative strength index over closes.
type RSI struct {
	n       int
	prev    float64
	hasPrev bool
	deltas  int
	sumGain float64
	sumLoss float64
	avgGain float64
	avgLoss float64
}

func NewRSI(period int) *RSI {
	if period <= 0 {
		panic("RSI period must be > 0")
	}
	return &RSI{n: period}
}

func (r *RSI) Outputs() []string { return []string{"rsi"} }
func (r *RSI) Warmup() int       { return r.n + 1 }
func (r *RSI) Ready() bool       { return r.deltas >= r.n }
func (r *RSI) Reset()            { *r = RSI{n: r.n} }

func (r *RSI) Update(b market.Bar) {
	if !r.hasPrev {
		r.prev = b.Close
		r.hasPrev = true
		return
	}
	d := b.Close - r.prev
	r.prev = b.Close
	gain, loss := math.Max(d, 0), math.Max(-d, 0)

	r.deltas++
	nf := float64(r.n)
	if r.deltas <= r.n {
		r.sumGain += gain
		r.sumLoss += loss
		if r.deltas == r.n {
			r.avgGain = r.sumGain / nf
			r.avgLoss = r.sumLoss / nf
		}
		return
	}
	r.avgGain = (r.avgGain*(nf-1) + gain) / nf
	r.avgLoss = (r.avgLoss*(nf-1) + loss) / nf
}

func (r *RSI) Values() []float64 {
	switch {
	case r.avgLoss == 0 && r.avgGain == 0:
		return []float64{50}
	case r.avgLoss == 0:
		return []float64{100}
	}
	rs := r.avgGain / r.avgLoss
	return []float64{100 - 100/(1+rs)}
}

// Change reports the close-to-close change over a lookback. As a momentum
// it is a fraction (0.02 is +2%); as a rate of change it is in percent.
type Change struct {
	n       int
	w       *window
	name    string
	percent bool
}

// NewMomentum returns close/close[n] - 1 under the name momentum_<n>.
func NewMomentum(period int) *Change {
	if period <= 0 {
		panic("momentum period must be > 0")
	}
	return &Change{n: period, w: newWindow(period + 1), name: fmt.Sprintf("momentum_%d", period)}
}

// NewROC returns the percentage rate of change under the name roc.
func NewROC(period int) *Change {
	if period <= 0 {
		panic("ROC period must be > 0")
	}
	return &Change{n: period, w: newWindow(period + 1), name: "roc", percent: true}
}

func (c *Change) Outputs() []string   { return []string{c.name} }
func (c *Change) Warmup() int         { return c.n + 1 }
func (c *Change) Ready() bool         { return c.w.full() }
func (c *Change) Update(b market.Bar) { c.w.push(b.Close) }
func (c *Change) Reset()              { c.w.reset() }

func (c *Change) Values() []float64 {
	base := c.w.oldest()
	v := 0.0
	if base != 0 {
		v = c.w.newest()/base - 1
	}
	if c.percent {
		v *= 100
	}
	return []float64{v}
}

// Stochastic is the slow stochastic oscillator. stoch_cross is +1 on the bar
// where %K crosses above %D, -1 where it crosses below, 0 otherwise.
type Stochastic struct {
	k, d, smooth int

	highs, lows *window
	rawK        *window
	slowK       *window

	curK, curD   float64
	prevK, prevD float64
	hasPrev      bool
	ready        bool
}

func NewStochastic(k, d, smooth int) *Stochastic {
	if k <= 0 || d <= 0 || smooth <= 0 {
		panic("stochastic periods must be > 0")
	}
	return &Stochastic{
		k: k, d: d, smooth: smooth,
		highs: newWindow(k), lows: newWindow(k),
		rawK: newWindow(smooth), slowK: newWindow(d),
	}
}

func (s *Stochastic) Outputs() []string { return []string{"stoch_k", "stoch_d", "stoch_cross"} }
func (s *Stochastic) Warmup() int       { return s.k + s.smooth + s.d - 2 }
func (s *Stochastic) Ready() bool       { return s.ready }

func (s *Stochastic) Reset() {
	*s = *NewStochastic(s.k, s.d, s.smooth)
}

func (s *Stochastic) Update(b market.Bar) {
	s.highs.push(b.High)
	s.lows.push(b.Low)
	if !s.highs.full() {
		return
	}
	s.rawK.push(100 * position(b.Close, s.lows.min(), s.highs.max()))
	if !s.rawK.full() {
		return
	}
	s.slowK.push(s.rawK.mean())
	if !s.slowK.full() {
		return
	}
	if s.ready {
		s.prevK, s.prevD = s.curK, s.curD
		s.hasPrev = true
	}
	s.curK = s.slowK.newest()
	s.curD = s.slowK.mean()
	s.ready = true
}

func (s *Stochastic) Values() []float64 {
	cross := 0.0
	if s.hasPrev {
		switch {
		case s.curK > s.curD && s.prevK <= s.prevD:
			cross = 1
		case s.curK < s.curD && s.prevK >= s.prevD:
			cross = -1
		}
	}
	return []float64{s.curK, s.curD, cross}
}

// WilliamsR is Williams %R in the range [-100, 0].
type WilliamsR struct {
	n           int
	highs, lows *window
	close       float64
}

func NewWilliamsR(period int) *WilliamsR {
	if period <= 0 {
		panic("Williams %R period must be > 0")
	}
	return &WilliamsR{n: period, highs: newWindow(period), lows: newWindow(period)}
}

func (w *WilliamsR) Outputs() []string { return []string{"williams_r"} }
func (w *WilliamsR) Warmup() int       { return w.n }
func (w *WilliamsR) Ready() bool       { return w.highs.full() }

func (w *WilliamsR) Reset() {
	w.highs.reset()
	w.lows.reset()
}

func (w *WilliamsR) Update(b market.Bar) {
	w.highs.push(b.High)
	w.lows.push(b.Low)
	w.close = b.Close
}

func (w *WilliamsR) Values() []float64 {
	return []float64{-100 * (1 - position(w.close, w.lows.min(), w.highs.max()))}
}

// CCI is the commodity channel index over typical prices.
type CCI struct {
	n  int
	tp *window
}

func NewCCI(period int) *CCI {
	if period <= 0 {
		panic("CCI period must be > 0")
	}
	return &CCI{n: period, tp: newWindow(period)}
}

func (c *CCI) Outputs() []string { return []string{"cci"} }
func (c *CCI) Warmup() int       { return c.n }
func (c *CCI) Ready() bool       { return c.tp.full() }
func (c *CCI) Reset()            { c.tp.reset() }

func (c *CCI) Update(b market.Bar) {
	c.tp.push((b.High + b.Low + b.Close) / 3)
}

func (c *CCI) Values() []float64 {
	m := c.tp.mean()
	md := 0.0
	for _, v := range c.tp.buf {
		md += math.Abs(v - m)
	}
	md /= float64(len(c.tp.buf))
	if md == 0 {
		return []float64{0}
	}
	return []float64{(c.tp.newest() - m) / (0.015 * md)}
}

// MFI is the money flow index.
type MFI struct {
	n        int
	prevTP   float64
	hasPrev  bool
	pos, neg *window
}

func NewMFI(period int) *MFI {
	if period <= 0 {
		panic("MFI period must be > 0")
	}
	return &MFI{n: period, pos: newWindow(period), neg: newWindow(period)}
}

func (m *MFI) Outputs() []string { return []string{"mfi"} }
func (m *MFI) Warmup() int       { return m.n + 1 }
func (m *MFI) Ready() bool       { return m.pos.full() }

func (m *MFI) Reset() {
	m.hasPrev = false
	m.pos.reset()
	m.neg.reset()
}

func (m *MFI) Update(b market.Bar) {
	tp := (b.High + b.Low + b.Close) / 3
	if !m.hasPrev {
		m.prevTP = tp
		m.hasPrev = true
		return
	}
	flow := tp * b.Volume
	switch {
	case tp > m.prevTP:
		m.pos.push(flow)
		m.neg.push(0)
	case tp < m.prevTP:
		m.pos.push(0)
		m.neg.push(flow)
	default:
		m.pos.push(0)
		m.neg.push(0)
	}
	m.prevTP = tp
}

func (m *MFI) Values() []float64 {
	p, n := m.pos.sum(), m.neg.sum()
	switch {
	case p == 0 && n == 0:
		return []float64{50}
	case n == 0:
		return []float64{100}
	}
	return []float64{100 - 100/(1+p/n)}
}

// CMF is Chaikin money flow.
type CMF struct {
	n        int
	mfv, vol *window
}

func NewCMF(period int) *CMF {
	if period <= 0 {
		panic("CMF period must be > 0")
	}
	return &CMF{n: period, mfv: newWindow(period), vol: newWindow(period)}
}

func (c *CMF) Outputs() []string { return []string{"cmf"} }
func (c *CMF) Warmup() int       { return c.n }
func (c *CMF) Ready() bool       { return c.vol.full() }

func (c *CMF) Reset() {
	c.mfv.reset()
	c.vol.reset()
}

func (c *CMF) Update(b market.Bar) {
	mult := 0.0
	if rng := b.High - b.Low; rng != 0 {
		mult = ((b.Close - b.Low) - (b.High - b.Close)) / rng
	}
	c.mfv.push(mult * b.Volume)
	c.vol.push(b.Volume)
}

func (c *CMF) Values() []float64 {
	v := c.vol.sum()
	if v == 0 {
		return []float64{0}
	}
	return []float64{c.mfv.sum() / v}
}

// Fisher is the Fisher transform of the median price. fisher_prev holds the
// previous bar's value and serves as the signal line.
type Fisher struct {
	n           int
	highs, lows *window
	smooth      float64
	value, prev float64
	seen        int
}

func NewFisher(period int) *Fisher {
	if period <= 0 {
		panic("Fisher period must be > 0")
	}
	return &Fisher{n: period, highs: newWindow(period), lows: newWindow(period)}
}

func (f *Fisher) Outputs() []string { return []string{"fisher", "fisher_prev"} }
func (f *Fisher) Warmup() int       { return f.n + 1 }
func (f *Fisher) Ready() bool       { return f.seen > f.n }
func (f *Fisher) Values() []float64 { return []float64{f.value, f.prev} }
func (f *Fisher) Reset()            { *f = *NewFisher(f.n) }

func (f *Fisher) Update(b market.Bar) {
	f.seen++
	f.highs.push(b.High)
	f.lows.push(b.Low)
	f.prev = f.value
	if !f.highs.full() {
		return
	}
	raw := 2*position((b.High+b.Low)/2, f.lows.min(), f.highs.max()) - 1
	raw = clamp(raw, -0.999, 0.999)
	f.smooth = clamp(0.33*raw+0.67*f.smooth, -0.999, 0.999)
	if f.smooth != 0 {
		f.value = 0.5*math.Log((1+f.smooth)/(1-f.smooth)) + 0.5*f.prev
	}
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, x))
}
