package signal

import (
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/market/indicators"
)

// Input is the indicator table positioned at one bar.
type Input struct {
	Set   indicators.Set
	Index int
	Bar   market.Bar
}

// Get returns output name at the current bar.
func (in Input) Get(name string) (float64, bool) { return in.Set.At(name, in.Index) }

// All returns the values of every name, or false if any is missing.
func (in Input) All(names ...string) ([]float64, bool) {
	out := make([]float64, len(names))
	for i, n := range names {
		v, ok := in.Get(n)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// Rule scores one indicator. Eval returns the score in [-1, 1], the headline
// value it was derived from, and false when the indicator is not ready.
type Rule struct {
	Name   string
	Weight float64
	Eval   func(in Input) (score, value float64, ok bool)
}

// band scores x by zones: below lo buys, above hi sells.
func band(x, lo, hi float64) float64 {
	switch {
	case x < lo:
		return 1
	case x > hi:
		return -1
	}
	return 0
}

// RSIRule votes oversold below 30 and overbought above 70.
func RSIRule(weight float64) Rule {
	return Rule{Name: "rsi", Weight: weight, Eval: func(in Input) (float64, float64, bool) {
		v, ok := in.Get("rsi")
		return band(v, 30, 70), v, ok
	}}
}

// MACDRule is bullish when the line is above its signal with a positive
// histogram, bearish in the mirror case.
func MACDRule(weight float64) Rule {
	return Rule{Name: "macd", Weight: weight, Eval: func(in Input) (float64, float64, bool) {
		v, ok := in.All("macd", "macd_signal", "macd_hist")
		if !ok {
			return 0, 0, false
		}
		line, sig, hist := v[0], v[1], v[2]
		switch {
		case line > sig && hist > 0:
			return 1, line, true
		case line < sig && hist < 0:
			return -1, line, true
		}
		return 0, line, true
	}}
}

// BollingerRule votes near the lower (below 0.2) or upper (above 0.8) band.
func BollingerRule(weight float64) Rule {
	return Rule{Name: "bollinger", Weight: weight, Eval: func(in Input) (float64, float64, bool) {
		v, ok := in.Get("bb_position")
		return band(v, 0.2, 0.8), v, ok
	}}
}

// MARule votes on close > fast > slow alignment and its mirror.
func MARule(fast, slow string, weight float64) Rule {
	return Rule{Name: "ma_alignment", Weight: weight, Eval: func(in Input) (float64, float64, bool) {
		v, ok := in.All(fast, slow)
		if !ok {
			return 0, 0, false
		}
		c := in.Bar.Close
		switch {
		case c > v[0] && v[0] > v[1]:
			return 1, v[0], true
		case c < v[0] && v[0] < v[1]:
			return -1, v[0], true
		}
		return 0, v[0], true
	}}
}

// MomentumRule votes when the move over the lookback exceeds threshold.
func MomentumRule(name string, threshold, weight float64) Rule {
	return Rule{Name: "momentum", Weight: weight, Eval: func(in Input) (float64, float64, bool) {
		v, ok := in.Get(name)
		return -band(v, -threshold, threshold), v, ok
	}}
}

// BasicRules is the vote set: RSI, MACD, Bollinger, MA alignment and
// 20-bar momentum.
func BasicRules() []Rule {
	return []Rule{
		RSIRule(0.15),
		MACDRule(0.15),
		BollingerRule(0.10),
		MARule("sma_20", "sma_50", 0.10),
		MomentumRule("momentum_20", 0.02, 0.10),
	}
}

// step is one zone of a graded score. graded returns the score of the
// first matching step.
type step struct {
	below bool
	at    float64
	score float64
}

func graded(x float64, steps ...step) float64 {
	for _, s := range steps {
		if s.below && x < s.at {
			return s.score
		}
		if !s.below && x > s.at {
			return s.score
		}
	}
	return 0
}

// EnhancedRules adds oscillator, trend, channel and volume indicators.
func EnhancedRules() []Rule {
	return []Rule{
		{Name: "stochastic", Weight: 0.15, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.All("stoch_k", "stoch_cross")
			if !ok {
				return 0, 0, false
			}
			if lvl := band(v[0], 20, 80); lvl != 0 {
				return lvl, v[0], true
			}
			return v[1] * 0.5, v[0], true
		}},
		{Name: "williams_r", Weight: 0.10, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.Get("williams_r")
			return band(v, -80, -20), v, ok
		}},
		{Name: "cci", Weight: 0.15, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.Get("cci")
			return band(v, -100, 100), v, ok
		}},
		{Name: "roc", Weight: 0.10, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.Get("roc")
			return -band(v, -2, 2), v, ok
		}},
		{Name: "adx", Weight: 0.20, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.All("adx", "plus_di", "minus_di")
			if !ok {
				return 0, 0, false
			}
			dir := -1.0
			if v[1] > v[2] {
				dir = 1
			}
			switch {
			case v[0] > 25:
				return dir, v[0], true
			case v[0] > 20:
				return dir * 0.5, v[0], true
			}
			return 0, v[0], true
		}},
		{Name: "ichimoku", Weight: 0.25, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.All("ichimoku_tenkan", "ichimoku_kijun", "ichimoku_cloud_top", "ichimoku_cloud_bottom")
			if !ok {
				return 0, 0, false
			}
			c, tenkan, kijun, top, bottom := in.Bar.Close, v[0], v[1], v[2], v[3]
			switch {
			case c > top && tenkan > kijun:
				return 1, tenkan, true
			case c > top:
				return 0.5, tenkan, true
			case c < bottom && tenkan < kijun:
				return -1, tenkan, true
			case c < bottom:
				return -0.5, tenkan, true
			case tenkan > kijun:
				return 0.2, tenkan, true
			}
			return -0.2, tenkan, true
		}},
		{Name: "psar", Weight: 0.15, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.All("psar", "psar_flip")
			if !ok {
				return 0, 0, false
			}
			if v[1] != 0 {
				return v[1], v[0], true
			}
			if in.Bar.Close > v[0] {
				return 0.5, v[0], true
			}
			return -0.5, v[0], true
		}},
		{Name: "keltner", Weight: 0.10, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.Get("keltner_position")
			return graded(v,
				step{below: true, at: 0.1, score: 1},
				step{below: true, at: 0.3, score: 0.5},
				step{at: 0.9, score: -1},
				step{at: 0.7, score: -0.5},
			), v, ok
		}},
		{Name: "donchian", Weight: 0.10, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.All("donchian_position", "donchian_break")
			if !ok {
				return 0, 0, false
			}
			switch {
			case v[1] == 1 && v[0] >= 0.95:
				return 1, v[0], true
			case v[1] == -1 && v[0] <= 0.05:
				return -1, v[0], true
			}
			return 0, v[0], true
		}},
		{Name: "mfi", Weight: 0.15, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.Get("mfi")
			return graded(v,
				step{below: true, at: 15, score: 1},
				step{below: true, at: 25, score: 0.5},
				step{at: 85, score: -1},
				step{at: 75, score: -0.5},
			), v, ok
		}},
		{Name: "cmf", Weight: 0.10, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.Get("cmf")
			return graded(v,
				step{at: 0.15, score: 1},
				step{at: 0.05, score: 0.5},
				step{below: true, at: -0.15, score: -1},
				step{below: true, at: -0.05, score: -0.5},
			), v, ok
		}},
		{Name: "fisher", Weight: 0.15, Eval: func(in Input) (float64, float64, bool) {
			v, ok := in.All("fisher", "fisher_prev")
			if !ok {
				return 0, 0, false
			}
			f, prev := v[0], v[1]
			s := graded(f,
				step{at: 2, score: -1},
				step{at: 1, score: -0.5},
				step{below: true, at: -2, score: 1},
				step{below: true, at: -1, score: 0.5},
			)
			// a cross of the previous value averages in
			prevIn, hasPrev := in.Set.At("fisher", in.Index-1)
			prevPrev, hasPP := in.Set.At("fisher_prev", in.Index-1)
			if hasPrev && hasPP {
				switch {
				case f > prev && prevIn <= prevPrev:
					s = (s + 1) / 2
				case f < prev && prevIn >= prevPrev:
					s = (s - 1) / 2
				}
			}
			return s, f, true
		}},
	}
}
