package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/mtftrader/journal"
)

func TestCoefficientsReview(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stats  Stats
		factor float64
		eth    float64
		us2000 float64
	}{
		{"too few trades", Stats{Trades: 19, Wins: 19}, 1, 5, 1},
		{"high win rate", Stats{Trades: 20, Wins: 14}, 1.1, 5.5, 1.1},
		{"low win rate", Stats{Trades: 20, Wins: 8}, 0.9, 4.5, 0.9},
		{"in band", Stats{Trades: 40, Wins: 22}, 1, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCoefficients(DefaultInstruments())
			require.NoError(t, err)
			assert.InDelta(t, tt.factor, c.Review(tt.stats, DefaultReview()), 1e-9)
			eth, _ := c.Get("ETHUSD")
			us, _ := c.Get("US2000")
			assert.InDelta(t, tt.eth, eth.Coefficient, 1e-9)
			assert.InDelta(t, tt.us2000, us.Coefficient, 1e-9)
		})
	}
}

func TestCoefficientsReviewFloor(t *testing.T) {
	t.Parallel()
	c, err := NewCoefficients([]Instrument{{Name: "X", MinVolume: 1, Coefficient: 0.5}})
	require.NoError(t, err)
	c.Review(Stats{Trades: 30, Wins: 3}, DefaultReview())
	x, _ := c.Get("X")
	assert.Equal(t, 0.5, x.Coefficient)
}

func TestSizerReviewResetsStats(t *testing.T) {
	t.Parallel()
	s, _, _ := newSizer(t, healthy())
	for i := 0; i < 20; i++ {
		pnl := -1.0
		if i < 15 {
			pnl = 1
		}
		s.RecordOutcome(pnl)
	}
	assert.Equal(t, Stats{Trades: 20, Wins: 15}, s.Stats())
	assert.InDelta(t, 1.1, s.ReviewCoefficients(), 1e-9)
	assert.Equal(t, Stats{}, s.Stats())
	assert.Equal(t, 1.0, s.ReviewCoefficients())
}

func TestLimitsValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultLimits().Validate())

	l := DefaultLimits()
	l.MaxPositions = 0
	assert.Error(t, l.Validate())

	l = DefaultLimits()
	l.MaxDrawdownPct = 120
	assert.Error(t, l.Validate())
}

func TestRegimeControl(t *testing.T) {
	t.Parallel()
	rec := journal.NewMemory()
	rc, err := NewRegimeControl(nil, rec, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, Normal, rc.Current())
	assert.Equal(t, 1.0, rc.Multiplier(""))
	assert.Equal(t, 0.3, rc.Multiplier(NewsEvent))

	require.NoError(t, rc.Set(NewsEvent, "FOMC"))
	assert.Equal(t, NewsEvent, rc.Current())
	r, reason, _ := rc.Status()
	assert.Equal(t, NewsEvent, r)
	assert.Equal(t, "FOMC", reason)

	assert.Error(t, rc.Set("sideways", "nope"))
	assert.Equal(t, NewsEvent, rc.Current())

	changes := rec.Regimes()
	require.Len(t, changes, 1)
	assert.Equal(t, "normal", changes[0].From)
	assert.Equal(t, "news_event", changes[0].To)

	_, err = NewRegimeControl(map[Regime]float64{Normal: 0}, nil, zerolog.Nop())
	assert.Error(t, err)

	got, err := ParseRegime("high_volatility")
	require.NoError(t, err)
	assert.Equal(t, HighVolatility, got)
	_, err = ParseRegime("calm")
	assert.Error(t, err)
}
