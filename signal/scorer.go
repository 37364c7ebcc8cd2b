package signal

import (
	"fmt"
	"math"
)

// Scorer turns the rules evaluated at one bar into a verdict. VoteScorer
// and WeightedScorer share the TimeframeSignal contract.
type Scorer interface {
	Score(in Input) (Verdict, error)
}

func evaluate(rules []Rule, in Input) []Reading {
	out := make([]Reading, 0, len(rules))
	for _, r := range rules {
		score, value, ok := r.Eval(in)
		if !ok || math.IsNaN(score) {
			continue
		}
		out = append(out, Reading{Name: r.Name, Value: value, Score: score, Weight: r.Weight})
	}
	return out
}

// VoteScorer sums discrete votes.
type VoteScorer struct {
	Rules []Rule
}

// NewVoteScorer uses BasicRules.
func NewVoteScorer() *VoteScorer { return &VoteScorer{Rules: BasicRules()} }

func (v *VoteScorer) Score(in Input) (Verdict, error) {
	rs := evaluate(v.Rules, in)
	if len(rs) == 0 {
		return Verdict{}, ErrInsufficientSignals
	}
	sum := 0.0
	for i := range rs {
		rs[i].Weight = 0
		rs[i].Score = math.Round(rs[i].Score)
		sum += rs[i].Score
	}

	// Neutral rules do not dilute confidence.
	vd := Verdict{Readings: rs}
	if n := countNonZero(rs); n > 0 {
		vd.Confidence = math.Min(math.Abs(sum)/float64(n), 1)
	}
	switch {
	case sum >= 3:
		vd.Direction, vd.Strength = StrongBuy, VeryStrong
	case sum >= 2:
		vd.Direction, vd.Strength = Buy, Strong
	case sum >= 1:
		vd.Direction, vd.Strength = Buy, Weak
	case sum <= -3:
		vd.Direction, vd.Strength = StrongSell, VeryStrong
	case sum <= -2:
		vd.Direction, vd.Strength = Sell, Strong
	case sum <= -1:
		vd.Direction, vd.Strength = Sell, Weak
	default:
		vd.Direction, vd.Strength = Neutral, Moderate
	}
	return vd, nil
}

// Ladder maps a normalized score to a direction. Scores at or beyond Strong
// are strong, at or beyond Normal are plain buys or sells, at or beyond Weak
// are still buys or sells but weak.
type Ladder struct {
	Strong float64 `json:"strong" yaml:"strong"`
	Normal float64 `json:"normal" yaml:"normal"`
	Weak   float64 `json:"weak" yaml:"weak"`
}

func DefaultLadder() Ladder { return Ladder{Strong: 0.6, Normal: 0.3, Weak: 0.1} }

func (l Ladder) Validate() error {
	if !(l.Strong > l.Normal && l.Normal > l.Weak && l.Weak > 0) {
		return fmt.Errorf("ladder must satisfy strong > normal > weak > 0, got %v/%v/%v", l.Strong, l.Normal, l.Weak)
	}
	return nil
}

func (l Ladder) classify(s float64) (Direction, float64) {
	a := math.Abs(s)
	var d Direction
	var st float64
	switch {
	case a >= l.Strong:
		d, st = StrongBuy, VeryStrong
	case a >= l.Normal:
		d, st = Buy, Strong
	case a >= l.Weak:
		d, st = Buy, Weak
	default:
		return Neutral, Moderate
	}
	if s < 0 {
		d = -d
	}
	return d, st
}

// WeightedScorer blends continuous rule scores by weight.
type WeightedScorer struct {
	Rules  []Rule
	Ladder Ladder
}

// NewWeightedScorer uses the basic rules with their default weights.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{Rules: BasicRules(), Ladder: DefaultLadder()}
}

// Extend returns a scorer with base's rules followed by extra. base is not
// modified.
func Extend(base *WeightedScorer, extra ...Rule) *WeightedScorer {
	rules := make([]Rule, 0, len(base.Rules)+len(extra))
	rules = append(rules, base.Rules...)
	rules = append(rules, extra...)
	return &WeightedScorer{Rules: rules, Ladder: base.Ladder}
}

// NewEnhancedScorer is the weighted scorer extended with EnhancedRules.
func NewEnhancedScorer() *WeightedScorer {
	return Extend(NewWeightedScorer(), EnhancedRules()...)
}

// WithWeights overrides rule weights by name. Unknown names are ignored.
func (w *WeightedScorer) WithWeights(weights map[string]float64) *WeightedScorer {
	out := Extend(w)
	for i := range out.Rules {
		if wt, ok := weights[out.Rules[i].Name]; ok {
			out.Rules[i].Weight = wt
		}
	}
	return out
}

func (w *WeightedScorer) Score(in Input) (Verdict, error) {
	rs := evaluate(w.Rules, in)
	if len(rs) == 0 {
		return Verdict{}, ErrInsufficientSignals
	}

	var sum, total float64
	for _, r := range rs {
		sum += r.Score * r.Weight
		total += r.Weight
	}
	norm := 0.0
	if total > 0 {
		norm = sum / total
	}

	d, st := w.Ladder.classify(norm)
	conf := 0.0
	if countNonZero(rs) > 0 {
		conf = math.Min(2*math.Abs(norm), 1)
	}
	return Verdict{Direction: d, Strength: st, Confidence: conf, Readings: rs}, nil
}
