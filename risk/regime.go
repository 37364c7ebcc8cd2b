package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/mtftrader/journal"
)

type Regime string

const (
	Normal         Regime = "normal"
	BullMarket     Regime = "bull_market"
	BearMarket     Regime = "bear_market"
	HighVolatility Regime = "high_volatility"
	LowVolatility  Regime = "low_volatility"
	NewsEvent      Regime = "news_event"
	Emergency      Regime = "emergency"
)

func DefaultMultipliers() map[Regime]float64 {
	return map[Regime]float64{
		Normal:         1.0,
		BullMarket:     1.0,
		BearMarket:     0.5,
		HighVolatility: 0.7,
		LowVolatility:  1.2,
		NewsEvent:      0.3,
		Emergency:      0.1,
	}
}

// RegimeRecorder receives every regime change.
type RegimeRecorder interface {
	RecordRegime(journal.RegimeChange) error
}

// RegimeControl holds the current market regime. Every change is logged
// and recorded; readers take the value fresh on each evaluation.
type RegimeControl struct {
	mu      sync.RWMutex
	current Regime
	reason  string
	since   time.Time
	mult    map[Regime]float64
	rec     RegimeRecorder
	log     zerolog.Logger
	now     func() time.Time
}

// NewRegimeControl starts in Normal. rec may be nil.
func NewRegimeControl(mult map[Regime]float64, rec RegimeRecorder, log zerolog.Logger) (*RegimeControl, error) {
	if mult == nil {
		mult = DefaultMultipliers()
	}
	for r, m := range mult {
		if m <= 0 {
			return nil, fmt.Errorf("regime %s: multiplier must be positive", r)
		}
	}
	if _, ok := mult[Normal]; !ok {
		return nil, fmt.Errorf("regime %s: multiplier missing", Normal)
	}
	return &RegimeControl{
		current: Normal,
		since:   time.Now(),
		mult:    mult,
		rec:     rec,
		log:     log,
		now:     time.Now,
	}, nil
}

// Set switches the regime. Setting the current regime again is recorded
// too, so repeated emergency stops stay visible in the history.
func (c *RegimeControl) Set(r Regime, reason string) error {
	c.mu.Lock()
	m, ok := c.mult[r]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown regime %q", r)
	}
	from := c.current
	c.current, c.reason, c.since = r, reason, c.now()
	at := c.since
	c.mu.Unlock()

	c.log.Warn().Str("from", string(from)).Str("to", string(r)).
		Float64("multiplier", m).Str("reason", reason).Msg("market regime changed")
	if c.rec != nil {
		if err := c.rec.RecordRegime(journal.RegimeChange{Time: at, From: string(from), To: string(r), Reason: reason}); err != nil {
			c.log.Error().Err(err).Msg("record regime change")
		}
	}
	return nil
}

func (c *RegimeControl) Current() Regime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Multiplier of r, or of the current regime when r is empty.
func (c *RegimeControl) Multiplier(r Regime) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r == "" {
		r = c.current
	}
	if m, ok := c.mult[r]; ok {
		return m
	}
	return 1
}

// Status is the current regime with the reason and time it was set.
func (c *RegimeControl) Status() (Regime, string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.reason, c.since
}

func ParseRegime(s string) (Regime, error) {
	r := Regime(s)
	if _, ok := DefaultMultipliers()[r]; !ok {
		return "", fmt.Errorf("unknown regime %q", s)
	}
	return r, nil
}
