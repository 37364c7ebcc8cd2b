// Package confluence combines per-resolution signals into one trading
// decision for an instrument.
package confluence

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/signal"
)

var ErrInsufficientResolutions = errors.New("not enough resolutions to aggregate")

type Action string

const (
	StrongBuy  Action = "STRONG_BUY"
	Buy        Action = "BUY"
	Hold       Action = "HOLD"
	Sell       Action = "SELL"
	StrongSell Action = "STRONG_SELL"
)

// IsBuy and IsSell report the side of an actionable decision.
func (a Action) IsBuy() bool  { return a == Buy || a == StrongBuy }
func (a Action) IsSell() bool { return a == Sell || a == StrongSell }
func (a Action) IsStrong() bool {
	return a == StrongBuy || a == StrongSell
}

type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// Decision is the aggregated verdict of one evaluation cycle.
type Decision struct {
	Instrument      string                   `json:"instrument"`
	Direction       signal.Direction         `json:"direction"`
	Score           float64                  `json:"score"`
	Strength        float64                  `json:"strength"`
	ConfluenceScore float64                  `json:"confluence_score"`
	Action          Action                   `json:"action"`
	RiskTier        RiskTier                 `json:"risk_tier"`
	SizeMultiplier  float64                  `json:"size_multiplier"`
	Signals         []signal.TimeframeSignal `json:"signals"`
	Time            time.Time                `json:"time"`
}

func (d Decision) Actionable() bool { return d.Action != Hold }

// Config holds the weights and thresholds of an Aggregator.
type Config struct {
	Weights        map[market.Resolution]float64 `json:"weights" yaml:"weights"`
	MinResolutions int                           `json:"min_resolutions" yaml:"min_resolutions"`

	// Thresholds on the weighted direction score (range -2..2).
	StrongDirection float64 `json:"strong_direction" yaml:"strong_direction"`
	Direction       float64 `json:"direction" yaml:"direction"`

	ConfluenceThreshold float64 `json:"confluence_threshold" yaml:"confluence_threshold"`
	MinStrength         float64 `json:"min_strength" yaml:"min_strength"`
	StrongStrength      float64 `json:"strong_strength" yaml:"strong_strength"`
	LowRiskConfluence   float64 `json:"low_risk_confluence" yaml:"low_risk_confluence"`
	SizeBonus           float64 `json:"size_bonus" yaml:"size_bonus"`
	HoldMultiplier      float64 `json:"hold_multiplier" yaml:"hold_multiplier"`

	// IndicatorBonus raises each signal's confidence by NonZeroCount/10,
	// at most 0.2. DensityBonus raises the confluence score by the average
	// number of non-zero readings per resolution over 15, at most 0.1.
	IndicatorBonus bool `json:"indicator_bonus" yaml:"indicator_bonus"`
	DensityBonus   bool `json:"density_bonus" yaml:"density_bonus"`
}

// DefaultWeights favour longer resolutions.
func DefaultWeights() map[market.Resolution]float64 {
	return map[market.Resolution]float64{
		market.M1:  0.10,
		market.M5:  0.15,
		market.M15: 0.20,
		market.H1:  0.25,
		market.H4:  0.30,
		market.D1:  0.35,
	}
}

// Basic is the vote-mode configuration.
func Basic() Config {
	return Config{
		Weights:             DefaultWeights(),
		MinResolutions:      2,
		StrongDirection:     1.5,
		Direction:           0.5,
		ConfluenceThreshold: 0.6,
		MinStrength:         0.6,
		StrongStrength:      0.8,
		LowRiskConfluence:   0.8,
		SizeBonus:           1.0,
		HoldMultiplier:      0.5,
	}
}

// Enhanced tightens the thresholds and enables the indicator bonuses.
func Enhanced() Config {
	c := Basic()
	c.StrongDirection = 1.8
	c.Direction = 0.6
	c.ConfluenceThreshold = 0.65
	c.SizeBonus = 1.1
	c.IndicatorBonus = true
	c.DensityBonus = true
	return c
}

func (c Config) Validate() error {
	if len(c.Weights) == 0 {
		return errors.New("confluence: no resolution weights")
	}
	for r, w := range c.Weights {
		if !r.Valid() {
			return fmt.Errorf("confluence: unknown resolution %q", r)
		}
		if w <= 0 {
			return fmt.Errorf("confluence: weight for %s must be positive", r)
		}
	}
	if c.MinResolutions < 1 {
		return errors.New("confluence: min_resolutions must be >= 1")
	}
	if c.StrongDirection <= c.Direction || c.Direction <= 0 {
		return errors.New("confluence: need strong_direction > direction > 0")
	}
	if c.ConfluenceThreshold <= 0 || c.ConfluenceThreshold > 1 {
		return errors.New("confluence: confluence_threshold must be in (0,1]")
	}
	if c.MinStrength < 0 || c.MinStrength > 1 || c.StrongStrength < c.MinStrength {
		return errors.New("confluence: need 0 <= min_strength <= strong_strength")
	}
	if c.SizeBonus <= 0 || c.HoldMultiplier < 0 {
		return errors.New("confluence: size_bonus must be positive and hold_multiplier non-negative")
	}
	return nil
}

// Aggregator is stateless; one value may serve many goroutines.
type Aggregator struct {
	cfg Config
}

func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{cfg: cfg}, nil
}

func (a *Aggregator) Config() Config { return a.cfg }

// Resolutions lists the weighted resolutions, shortest first.
func (a *Aggregator) Resolutions() []market.Resolution {
	out := make([]market.Resolution, 0, len(a.cfg.Weights))
	for r := range a.cfg.Weights {
		out = append(out, r)
	}
	market.SortResolutions(out)
	return out
}

// Aggregate combines the available signals of one instrument. Missing
// resolutions are tolerated as long as MinResolutions remain.
func (a *Aggregator) Aggregate(instrument string, sigs []signal.TimeframeSignal) (Decision, error) {
	cfg := a.cfg
	if len(sigs) < cfg.MinResolutions {
		return Decision{}, fmt.Errorf("%w: %s has %d, need %d",
			ErrInsufficientResolutions, instrument, len(sigs), cfg.MinResolutions)
	}

	ordered := make([]signal.TimeframeSignal, len(sigs))
	copy(ordered, sigs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Resolution.Duration() < ordered[j].Resolution.Duration()
	})

	var (
		weighted, total float64
		nonNeutral      int
		nonZero         int
		latest          time.Time
		seen            = make(map[market.Resolution]bool, len(ordered))
	)
	for _, s := range ordered {
		if seen[s.Resolution] {
			return Decision{}, fmt.Errorf("confluence: duplicate %s signal for %s", s.Resolution, instrument)
		}
		seen[s.Resolution] = true

		w, ok := cfg.Weights[s.Resolution]
		if !ok {
			return Decision{}, fmt.Errorf("confluence: no weight for resolution %s", s.Resolution)
		}
		conf := s.Confidence
		if cfg.IndicatorBonus {
			conf += math.Min(float64(s.NonZeroCount)/10, 0.2)
		}
		c := w * conf
		weighted += c * float64(s.Direction)
		total += c

		if s.Direction != signal.Neutral {
			nonNeutral++
		}
		nonZero += s.NonZeroCount
		if s.Time.After(latest) {
			latest = s.Time
		}
	}

	n := float64(len(ordered))
	score := 0.0
	if total > 0 {
		score = weighted / total
	}

	d := Decision{
		Instrument: instrument,
		Direction:  cfg.direction(score),
		Score:      score,
		Strength:   math.Min(math.Abs(score), 1),
		Signals:    ordered,
		Time:       latest,
	}

	conf := float64(nonNeutral) / n
	if cfg.DensityBonus {
		conf += math.Min(float64(nonZero)/(n*15), 0.1)
	}
	d.ConfluenceScore = math.Min(conf, 1)

	if d.Direction == signal.Neutral || d.ConfluenceScore < cfg.ConfluenceThreshold || d.Strength < cfg.MinStrength {
		d.Action = Hold
		d.RiskTier = RiskHigh
		d.SizeMultiplier = cfg.HoldMultiplier
		return d, nil
	}

	strong := d.Strength >= cfg.StrongStrength
	switch {
	case d.Direction > 0 && strong:
		d.Action = StrongBuy
	case d.Direction > 0:
		d.Action = Buy
	case strong:
		d.Action = StrongSell
	default:
		d.Action = Sell
	}
	d.RiskTier = RiskMedium
	if d.ConfluenceScore >= cfg.LowRiskConfluence {
		d.RiskTier = RiskLow
	}
	d.SizeMultiplier = d.ConfluenceScore * d.Strength * cfg.SizeBonus
	return d, nil
}

func (c Config) direction(score float64) signal.Direction {
	switch {
	case score >= c.StrongDirection:
		return signal.StrongBuy
	case score >= c.Direction:
		return signal.Buy
	case score <= -c.StrongDirection:
		return signal.StrongSell
	case score <= -c.Direction:
		return signal.Sell
	}
	return signal.Neutral
}
