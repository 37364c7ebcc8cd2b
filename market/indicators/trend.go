package indicators

import (
	"math"

	"github.com/rustyeddy/mtftrader/market"
)

// MACD is the moving average convergence/divergence with its signal line
// and histogram.
type MACD struct {
	fast, slow, sig *EMA
	line            float64
}

func NewMACD(fast, slow, signal int) *MACD {
	if fast <= 0 || slow <= fast || signal <= 0 {
		panic("MACD requires 0 < fast < slow and signal > 0")
	}
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow), sig: NewEMA(signal)}
}

func (m *MACD) Outputs() []string { return []string{"macd", "macd_signal", "macd_hist"} }
func (m *MACD) Warmup() int       { return m.slow.Warmup() + m.sig.Warmup() - 1 }
func (m *MACD) Ready() bool       { return m.sig.Ready() }

func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.sig.Reset()
	m.line = 0
}

func (m *MACD) Update(b market.Bar) {
	m.fast.Add(b.Close)
	m.slow.Add(b.Close)
	if !m.slow.Ready() {
		return
	}
	m.line = m.fast.Float64() - m.slow.Float64()
	m.sig.Add(m.line)
}

func (m *MACD) Values() []float64 {
	s := m.sig.Float64()
	return []float64{m.line, s, m.line - s}
}

// ADX is Wilder's average directional index with the +DI and -DI lines.
//
// Warmup is 2N: N periods build the smoothed TR and DM sums, then N DX
// values seed the first ADX.
type ADX struct {
	n int

	prev    market.Bar
	hasPrev bool
	ready   bool
	adx     float64
	plusDI  float64
	minusDI float64
	periods int

	sumTR, sumPlusDM, sumMinusDM float64
	smTR, smPlusDM, smMinusDM    float64

	dxSum   float64
	dxCount int
}

func NewADX(period int) *ADX {
	if period <= 0 {
		panic("ADX period must be > 0")
	}
	return &ADX{n: period}
}

func (a *ADX) Outputs() []string { return []string{"adx", "plus_di", "minus_di"} }
func (a *ADX) Warmup() int       { return 2 * a.n }
func (a *ADX) Ready() bool       { return a.ready }
func (a *ADX) Values() []float64 { return []float64{a.adx, a.plusDI, a.minusDI} }
func (a *ADX) Reset()            { *a = ADX{n: a.n} }

func (a *ADX) Update(c market.Bar) {
	if !a.hasPrev {
		a.prev = c
		a.hasPrev = true
		return
	}

	tr := trueRange(c, a.prev.Close, true)
	upMove := c.High - a.prev.High
	downMove := a.prev.Low - c.Low

	var plusDM, minusDM float64
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	a.prev = c
	a.periods++

	if a.periods <= a.n {
		a.sumTR += tr
		a.sumPlusDM += plusDM
		a.sumMinusDM += minusDM
		if a.periods == a.n {
			a.smTR, a.smPlusDM, a.smMinusDM = a.sumTR, a.sumPlusDM, a.sumMinusDM
			a.plusDI, a.minusDI = di(a.smPlusDM, a.smMinusDM, a.smTR)
			a.dxSum = dx(a.plusDI, a.minusDI)
			a.dxCount = 1
		}
		return
	}

	nf := float64(a.n)
	a.smTR = a.smTR - a.smTR/nf + tr
	a.smPlusDM = a.smPlusDM - a.smPlusDM/nf + plusDM
	a.smMinusDM = a.smMinusDM - a.smMinusDM/nf + minusDM

	a.plusDI, a.minusDI = di(a.smPlusDM, a.smMinusDM, a.smTR)
	v := dx(a.plusDI, a.minusDI)

	if !a.ready {
		a.dxSum += v
		a.dxCount++
		if a.dxCount >= a.n {
			a.adx = a.dxSum / nf
			a.ready = true
		}
		return
	}
	a.adx = (a.adx*(nf-1) + v) / nf
}

func di(smPlusDM, smMinusDM, smTR float64) (plusDI, minusDI float64) {
	if smTR <= 0 {
		return 0, 0
	}
	return 100 * smPlusDM / smTR, 100 * smMinusDM / smTR
}

func dx(plusDI, minusDI float64) float64 {
	den := plusDI + minusDI
	if den <= 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / den
}

// Ichimoku reports the conversion and base lines and the cloud bounds that
// apply to the current bar (leading spans computed base periods ago).
type Ichimoku struct {
	tenkan, kijun, senkouB int

	th, tl *window
	kh, kl *window
	bh, bl *window

	spanA, spanB []float64
	curTenkan    float64
	curKijun     float64
}

func NewIchimoku(tenkan, kijun, senkouB int) *Ichimoku {
	if tenkan <= 0 || kijun <= 0 || senkouB <= 0 {
		panic("ichimoku periods must be > 0")
	}
	return &Ichimoku{
		tenkan: tenkan, kijun: kijun, senkouB: senkouB,
		th: newWindow(tenkan), tl: newWindow(tenkan),
		kh: newWindow(kijun), kl: newWindow(kijun),
		bh: newWindow(senkouB), bl: newWindow(senkouB),
	}
}

func (ic *Ichimoku) Outputs() []string {
	return []string{"ichimoku_tenkan", "ichimoku_kijun", "ichimoku_cloud_top", "ichimoku_cloud_bottom"}
}

func (ic *Ichimoku) Warmup() int { return ic.senkouB + ic.kijun }

// Ready once a leading span from kijun bars ago exists.
func (ic *Ichimoku) Ready() bool { return len(ic.spanB) > ic.kijun }

func (ic *Ichimoku) Reset() { *ic = *NewIchimoku(ic.tenkan, ic.kijun, ic.senkouB) }

func (ic *Ichimoku) Update(b market.Bar) {
	for _, w := range []*window{ic.th, ic.kh, ic.bh} {
		w.push(b.High)
	}
	for _, w := range []*window{ic.tl, ic.kl, ic.bl} {
		w.push(b.Low)
	}
	if !ic.kh.full() || !ic.th.full() {
		return
	}
	ic.curTenkan = (ic.th.max() + ic.tl.min()) / 2
	ic.curKijun = (ic.kh.max() + ic.kl.min()) / 2
	if !ic.bh.full() {
		return
	}
	ic.spanA = append(ic.spanA, (ic.curTenkan+ic.curKijun)/2)
	ic.spanB = append(ic.spanB, (ic.bh.max()+ic.bl.min())/2)
	if len(ic.spanB) > ic.kijun+1 {
		ic.spanA = ic.spanA[1:]
		ic.spanB = ic.spanB[1:]
	}
}

func (ic *Ichimoku) Values() []float64 {
	a, b := ic.spanA[0], ic.spanB[0]
	return []float64{ic.curTenkan, ic.curKijun, math.Max(a, b), math.Min(a, b)}
}

// PSAR is the parabolic stop-and-reverse. psar_trend is +1 in an up trend
// and -1 in a down trend; psar_flip is +1 or -1 on the bar the trend turned.
type PSAR struct {
	start, step, maxAF float64

	seen    int
	sar     float64
	bull    bool
	af      float64
	ep      float64
	flipped float64
}

func NewPSAR(start, step, maxAF float64) *PSAR {
	if start <= 0 || step <= 0 || maxAF < start {
		panic("PSAR requires positive factors with max >= start")
	}
	return &PSAR{start: start, step: step, maxAF: maxAF}
}

func (p *PSAR) Outputs() []string { return []string{"psar", "psar_trend", "psar_flip"} }
func (p *PSAR) Warmup() int       { return 2 }
func (p *PSAR) Ready() bool       { return p.seen >= 2 }
func (p *PSAR) Reset()            { *p = PSAR{start: p.start, step: p.step, maxAF: p.maxAF} }

func (p *PSAR) Values() []float64 {
	trend := -1.0
	if p.bull {
		trend = 1
	}
	return []float64{p.sar, trend, p.flipped}
}

func (p *PSAR) Update(b market.Bar) {
	p.seen++
	p.flipped = 0
	if p.seen == 1 {
		p.sar = b.Low
		p.bull = true
		p.af = p.start
		p.ep = b.High
		return
	}

	next := p.sar + p.af*(p.ep-p.sar)
	if p.bull {
		if b.Low <= next {
			p.bull = false
			p.sar = p.ep
			p.af = p.start
			p.ep = b.Low
			p.flipped = -1
			return
		}
		p.sar = next
		if b.High > p.ep {
			p.ep = b.High
			p.af = math.Min(p.maxAF, p.af+p.step)
		}
		return
	}

	if b.High >= next {
		p.bull = true
		p.sar = p.ep
		p.af = p.start
		p.ep = b.High
		p.flipped = 1
		return
	}
	p.sar = next
	if b.Low < p.ep {
		p.ep = b.Low
		p.af = math.Min(p.maxAF, p.af+p.step)
	}
}
