package indicators

import (
	"github.com/rustyeddy/mtftrader/market"
)

// Bollinger bands over closes. bb_position is where the close sits between
// the bands (0 at the lower band, 1 at the upper), bb_width is the band
// spread relative to the middle.
type Bollinger struct {
	n int
	k float64
	w *window
}

func NewBollinger(period int, k float64) *Bollinger {
	if period < 2 {
		panic("Bollinger period must be >= 2")
	}
	return &Bollinger{n: period, k: k, w: newWindow(period)}
}

func (bb *Bollinger) Outputs() []string {
	return []string{"bb_upper", "bb_middle", "bb_lower", "bb_position", "bb_width"}
}
func (bb *Bollinger) Warmup() int         { return bb.n }
func (bb *Bollinger) Ready() bool         { return bb.w.full() }
func (bb *Bollinger) Update(b market.Bar) { bb.w.push(b.Close) }
func (bb *Bollinger) Reset()              { bb.w.reset() }

func (bb *Bollinger) Values() []float64 {
	mid := bb.w.mean()
	sd := bb.w.stddev()
	up, lo := mid+bb.k*sd, mid-bb.k*sd
	width := 0.0
	if mid != 0 {
		width = (up - lo) / mid
	}
	return []float64{up, mid, lo, position(bb.w.newest(), lo, up), width}
}

// ATR is Wilder's average true range.
type ATR struct {
	n         int
	prevClose float64
	hasPrev   bool
	count     int
	sum       float64
	value     float64
}

func NewATR(period int) *ATR {
	if period <= 0 {
		panic("ATR period must be > 0")
	}
	return &ATR{n: period}
}

func (a *ATR) Outputs() []string { return []string{"atr"} }
func (a *ATR) Warmup() int       { return a.n }
func (a *ATR) Ready() bool       { return a.count >= a.n }
func (a *ATR) Values() []float64 { return []float64{a.value} }
func (a *ATR) Float64() float64  { return a.value }
func (a *ATR) Reset()            { *a = ATR{n: a.n} }

func (a *ATR) Update(b market.Bar) {
	tr := trueRange(b, a.prevClose, a.hasPrev)
	a.prevClose = b.Close
	a.hasPrev = true
	a.count++

	nf := float64(a.n)
	if a.count <= a.n {
		a.sum += tr
		a.value = a.sum / float64(a.count)
		return
	}
	a.value = (a.value*(nf-1) + tr) / nf
}

// Keltner channels: an EMA of closes with bands a multiple of ATR away.
type Keltner struct {
	ema   *EMA
	atr   *ATR
	mult  float64
	close float64
}

func NewKeltner(emaPeriod, atrPeriod int, mult float64) *Keltner {
	return &Keltner{ema: NewEMA(emaPeriod), atr: NewATR(atrPeriod), mult: mult}
}

func (k *Keltner) Outputs() []string {
	return []string{"keltner_upper", "keltner_lower", "keltner_position"}
}

func (k *Keltner) Warmup() int {
	if k.ema.Warmup() > k.atr.Warmup() {
		return k.ema.Warmup()
	}
	return k.atr.Warmup()
}

func (k *Keltner) Ready() bool { return k.ema.Ready() && k.atr.Ready() }

func (k *Keltner) Reset() {
	k.ema.Reset()
	k.atr.Reset()
}

func (k *Keltner) Update(b market.Bar) {
	k.ema.Update(b)
	k.atr.Update(b)
	k.close = b.Close
}

func (k *Keltner) Values() []float64 {
	mid := k.ema.Float64()
	off := k.mult * k.atr.Float64()
	up, lo := mid+off, mid-off
	return []float64{up, lo, position(k.close, lo, up)}
}

// Donchian channel over highs and lows including the current bar.
// donchian_break is +1 when the close reaches the upper bound, -1 at the
// lower bound.
type Donchian struct {
	n           int
	highs, lows *window
	close       float64
}

func NewDonchian(period int) *Donchian {
	if period <= 0 {
		panic("Donchian period must be > 0")
	}
	return &Donchian{n: period, highs: newWindow(period), lows: newWindow(period)}
}

func (d *Donchian) Outputs() []string {
	return []string{"donchian_upper", "donchian_lower", "donchian_position", "donchian_break"}
}
func (d *Donchian) Warmup() int { return d.n }
func (d *Donchian) Ready() bool { return d.highs.full() }

func (d *Donchian) Reset() {
	d.highs.reset()
	d.lows.reset()
}

func (d *Donchian) Update(b market.Bar) {
	d.highs.push(b.High)
	d.lows.push(b.Low)
	d.close = b.Close
}

func (d *Donchian) Values() []float64 {
	up, lo := d.highs.max(), d.lows.min()
	brk := 0.0
	switch {
	case d.close >= up:
		brk = 1
	case d.close <= lo:
		brk = -1
	}
	return []float64{up, lo, position(d.close, lo, up), brk}
}
