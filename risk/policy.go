package risk

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUnconfiguredInstrument marks a request for an instrument with no
// sizing entry. Evaluate reports it as a rejection code.
var ErrUnconfiguredInstrument = errors.New("unconfigured instrument")

type AssetClass string

const (
	Crypto    AssetClass = "crypto"
	Index     AssetClass = "index"
	Commodity AssetClass = "commodity"
	Forex     AssetClass = "forex"
)

// Instrument is the sizing entry for one instrument. HardCap clamps the
// coefficient to at most 1.0 regardless of configuration.
type Instrument struct {
	Name        string     `yaml:"name" json:"name"`
	MinVolume   float64    `yaml:"min_volume" json:"min_volume"`
	Coefficient float64    `yaml:"coefficient" json:"coefficient"`
	AssetClass  AssetClass `yaml:"asset_class" json:"asset_class"`
	HardCap     bool       `yaml:"hard_cap,omitempty" json:"hard_cap,omitempty"`
}

func DefaultInstruments() []Instrument {
	return []Instrument{
		{Name: "BTCUSD", MinVolume: 0.01, Coefficient: 5, AssetClass: Crypto, HardCap: true},
		{Name: "ETHUSD", MinVolume: 0.01, Coefficient: 5, AssetClass: Crypto},
		{Name: "SOLUSD", MinVolume: 0.01, Coefficient: 5, AssetClass: Crypto},
		{Name: "XRPUSD", MinVolume: 0.01, Coefficient: 5, AssetClass: Crypto},
		{Name: "US2000", MinVolume: 0.1, Coefficient: 1, AssetClass: Index},
		{Name: "NAS100", MinVolume: 0.1, Coefficient: 1, AssetClass: Index},
		{Name: "NAS100ft", MinVolume: 0.1, Coefficient: 1, AssetClass: Index},
		{Name: "SP500ft", MinVolume: 0.1, Coefficient: 1, AssetClass: Index},
		{Name: "USOUSD", MinVolume: 0.01, Coefficient: 1, AssetClass: Commodity},
	}
}

// Limits are the hard safety limits. Percentages are 0-100.
type Limits struct {
	MaxDailyLossPct  float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxExposurePct   float64 `yaml:"max_exposure_pct" json:"max_exposure_pct"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	MaxPerInstrument int     `yaml:"max_per_instrument" json:"max_per_instrument"`
	MaxPositions     int     `yaml:"max_positions" json:"max_positions"`
	MinBalance       float64 `yaml:"min_balance" json:"min_balance"`
	MinMarginLevel   float64 `yaml:"min_margin_level" json:"min_margin_level"`
	// MaxPositionPct caps a single position's notional when choosing the
	// coefficient.
	MaxPositionPct float64 `yaml:"max_position_pct" json:"max_position_pct"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxDailyLossPct:  5,
		MaxExposurePct:   25,
		MaxDrawdownPct:   15,
		MaxPerInstrument: 1,
		MaxPositions:     9,
		MinBalance:       1000,
		MinMarginLevel:   200,
		MaxPositionPct:   15,
	}
}

func (l Limits) Validate() error {
	for name, v := range map[string]float64{
		"max_daily_loss_pct": l.MaxDailyLossPct,
		"max_exposure_pct":   l.MaxExposurePct,
		"max_drawdown_pct":   l.MaxDrawdownPct,
		"max_position_pct":   l.MaxPositionPct,
	} {
		if v <= 0 || v > 100 {
			return fmt.Errorf("%s must be in (0, 100], got %v", name, v)
		}
	}
	if l.MaxPerInstrument < 1 {
		return errors.New("max_per_instrument must be at least 1")
	}
	if l.MaxPositions < l.MaxPerInstrument {
		return errors.New("max_positions must be >= max_per_instrument")
	}
	if l.MinBalance < 0 || l.MinMarginLevel < 0 {
		return errors.New("min_balance and min_margin_level must not be negative")
	}
	return nil
}

// Review thresholds for performance-based coefficient adjustment.
type Review struct {
	MinTrades        int     `yaml:"min_trades" json:"min_trades"`
	IncreaseWinRate  float64 `yaml:"increase_win_rate" json:"increase_win_rate"`
	DecreaseWinRate  float64 `yaml:"decrease_win_rate" json:"decrease_win_rate"`
	Step             float64 `yaml:"step" json:"step"`
	FloorCoefficient float64 `yaml:"floor_coefficient" json:"floor_coefficient"`
}

func DefaultReview() Review {
	return Review{MinTrades: 20, IncreaseWinRate: 0.65, DecreaseWinRate: 0.45, Step: 0.1, FloorCoefficient: 0.5}
}

// Stats is the trade outcome tally since the last review.
type Stats struct {
	Trades int `json:"trades"`
	Wins   int `json:"wins"`
}

func (s Stats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// Coefficients is the mutable instrument table. Safe for concurrent use.
type Coefficients struct {
	mu sync.RWMutex
	m  map[string]Instrument
}

func NewCoefficients(instruments []Instrument) (*Coefficients, error) {
	c := &Coefficients{m: make(map[string]Instrument, len(instruments))}
	for _, in := range instruments {
		if in.Name == "" {
			return nil, errors.New("instrument without a name")
		}
		if in.MinVolume <= 0 || in.Coefficient <= 0 {
			return nil, fmt.Errorf("%s: min_volume and coefficient must be positive", in.Name)
		}
		if _, dup := c.m[in.Name]; dup {
			return nil, fmt.Errorf("%s: configured twice", in.Name)
		}
		c.m[in.Name] = in
	}
	return c, nil
}

func (c *Coefficients) Get(name string) (Instrument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in, ok := c.m[name]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnconfiguredInstrument, name)
	}
	return in, nil
}

// All returns the table sorted by name.
func (c *Coefficients) All() []Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Instrument, 0, len(c.m))
	for _, in := range c.m {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Review scales every coefficient by 1±Step when the win rate is outside
// the thresholds. It returns the factor applied, or 1 when nothing changed.
func (c *Coefficients) Review(s Stats, r Review) float64 {
	if s.Trades < r.MinTrades || s.Trades == 0 {
		return 1
	}
	factor := 1.0
	switch wr := s.WinRate(); {
	case wr > r.IncreaseWinRate:
		factor = 1 + r.Step
	case wr < r.DecreaseWinRate:
		factor = 1 - r.Step
	default:
		return 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name, in := range c.m {
		v := decimal.NewFromFloat(in.Coefficient).Mul(decimal.NewFromFloat(factor)).Round(1).InexactFloat64()
		if v < r.FloorCoefficient {
			v = r.FloorCoefficient
		}
		in.Coefficient = v
		c.m[name] = in
	}
	return factor
}
