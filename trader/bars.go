package trader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/rustyeddy/mtftrader/market"
)

// BarSource supplies bar history for one instrument at one resolution.
type BarSource interface {
	Bars(ctx context.Context, instrument string, res market.Resolution) (market.BarSeries, error)
}

// StaticBars serves series loaded up front, for example from CSV files.
type StaticBars struct {
	mu     sync.RWMutex
	series map[string]map[market.Resolution]market.BarSeries
}

func NewStaticBars() *StaticBars {
	return &StaticBars{series: map[string]map[market.Resolution]market.BarSeries{}}
}

func (b *StaticBars) Set(s market.BarSeries) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.series[s.Instrument]
	if !ok {
		m = map[market.Resolution]market.BarSeries{}
		b.series[s.Instrument] = m
	}
	m[s.Resolution] = s
}

// SetResampled stores src and every coarser resolution in to derived from it.
func (b *StaticBars) SetResampled(src market.BarSeries, to []market.Resolution) error {
	b.Set(src)
	for _, r := range to {
		if r == src.Resolution {
			continue
		}
		s, err := market.Resample(src, r, 1)
		if err != nil {
			return fmt.Errorf("resample %s to %s: %w", src.Instrument, r, err)
		}
		b.Set(s)
	}
	return nil
}

func (b *StaticBars) Bars(_ context.Context, instrument string, res market.Resolution) (market.BarSeries, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.series[instrument][res]
	if !ok {
		return market.BarSeries{}, fmt.Errorf("%w: no %s bars for %s", market.ErrEmptySeries, res, instrument)
	}
	return s, nil
}

func (b *StaticBars) Instruments() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.series))
	for k := range b.series {
		out = append(out, k)
	}
	return out
}

// DirBars reads bars from CSV files in Dir on every call, so an external
// collector can keep the files current. For instrument X at resolution R it
// reads X_R.csv, or resamples X_M1.csv when that file is missing.
type DirBars struct {
	Dir string
}

func (d DirBars) Bars(_ context.Context, instrument string, res market.Resolution) (market.BarSeries, error) {
	path := filepath.Join(d.Dir, fmt.Sprintf("%s_%s.csv", instrument, res))
	s, err := market.LoadBarsCSV(path, instrument, res)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, fs.ErrNotExist) || res == market.M1 {
		return market.BarSeries{}, err
	}

	m1, err := market.LoadBarsCSV(filepath.Join(d.Dir, instrument+"_M1.csv"), instrument, market.M1)
	if errors.Is(err, fs.ErrNotExist) {
		return market.BarSeries{}, fmt.Errorf("%w: no %s bars for %s in %s", market.ErrEmptySeries, res, instrument, d.Dir)
	}
	if err != nil {
		return market.BarSeries{}, err
	}
	return market.Resample(m1, res, 1)
}
