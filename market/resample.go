package market

import (
	"fmt"
	"time"
)

// Resample aggregates bars into the coarser resolution to. Buckets are
// aligned to multiples of the target period since the Unix epoch (UTC).
// A bucket is emitted only when it holds at least minBars source bars;
// minBars below 1 is treated as 1.
func Resample(src BarSeries, to Resolution, minBars int) (BarSeries, error) {
	step := to.Duration()
	if step == 0 {
		return BarSeries{}, fmt.Errorf("resample: unsupported resolution %q", to)
	}
	if src.Resolution.Valid() && src.Resolution.Duration() > step {
		return BarSeries{}, fmt.Errorf("resample: cannot go from %s down to %s", src.Resolution, to)
	}
	if err := src.Validate(); err != nil {
		return BarSeries{}, err
	}
	if minBars < 1 {
		minBars = 1
	}

	out := BarSeries{Instrument: src.Instrument, Resolution: to}

	var (
		cur     Bar
		curKey  time.Time
		count   int
		started bool
	)
	flush := func() {
		if started && count >= minBars {
			out.Bars = append(out.Bars, cur)
		}
	}

	for _, b := range src.Bars {
		key := b.Time.UTC().Truncate(step)
		if !started || !key.Equal(curKey) {
			flush()
			cur = Bar{Time: key, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			curKey = key
			count = 1
			started = true
			continue
		}
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume += b.Volume
		count++
	}
	flush()

	return out, nil
}
