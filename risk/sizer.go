// Package risk turns trade requests into lot sizes: a per-instrument
// coefficient capped against balance, scaled by the market regime, then
// passed through a hard safety gate.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/mtftrader/account"
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/metrics"
)

// ErrStaleAccountState is returned when a fresh account view is unavailable.
var ErrStaleAccountState = account.ErrStaleState

// AccountSource yields account state refreshed within its staleness window.
type AccountSource interface {
	State(ctx context.Context) (account.State, error)
}

// MarketSource is the slice of the gateway sizing needs.
type MarketSource interface {
	InstrumentInfo(ctx context.Context, instrument string) (market.InstrumentSpec, error)
	CurrentPrice(ctx context.Context, instrument string) (market.Quote, error)
}

type Config struct {
	Instruments []Instrument `yaml:"instruments" json:"instruments"`
	Limits      Limits       `yaml:"limits" json:"limits"`
	Review      Review       `yaml:"review" json:"review"`
}

func DefaultConfig() Config {
	return Config{
		Instruments: DefaultInstruments(),
		Limits:      DefaultLimits(),
		Review:      DefaultReview(),
	}
}

type Sizer struct {
	coeffs  *Coefficients
	limits  Limits
	review  Review
	regime  *RegimeControl
	account AccountSource
	market  MarketSource
	log     zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

func NewSizer(cfg Config, acct AccountSource, mkt MarketSource, regime *RegimeControl, log zerolog.Logger) (*Sizer, error) {
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}
	coeffs, err := NewCoefficients(cfg.Instruments)
	if err != nil {
		return nil, err
	}
	if regime == nil {
		return nil, errors.New("risk: regime control is required")
	}
	return &Sizer{
		coeffs:  coeffs,
		limits:  cfg.Limits,
		review:  cfg.Review,
		regime:  regime,
		account: acct,
		market:  mkt,
		log:     log,
	}, nil
}

func (s *Sizer) Coefficients() *Coefficients { return s.coeffs }
func (s *Sizer) Regime() *RegimeControl      { return s.regime }
func (s *Sizer) Limits() Limits              { return s.limits }

// Evaluate sizes req and runs the safety gate. Rejections are returned as
// decisions; only infrastructure failures return an error.
func (s *Sizer) Evaluate(ctx context.Context, req TradeRequest) (Decision, error) {
	log := s.log.With().Str("instrument", req.Instrument).Str("direction", string(req.Direction)).Logger()

	in, err := s.coeffs.Get(req.Instrument)
	if err != nil {
		d := reject(CodeUnconfigured, err.Error(), Metrics{Instrument: req.Instrument})
		s.observe(log, d)
		return d, nil
	}

	state, err := s.account.State(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate %s: %w", req.Instrument, err)
	}

	regime := s.regime.Current()
	m, err := s.size(ctx, in, regime, req.SizeHint, state.Balance)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate %s: %w", req.Instrument, err)
	}
	if m.LotSize <= 0 {
		d := reject(CodeInvalidSize, "invalid position size calculated", m)
		s.observe(log, d)
		return d, nil
	}

	if v := Check(s.limits, state, req.Instrument, m.Notional); len(v) > 0 {
		d := reject(v[0].Code, v[0].Msg, m)
		s.observe(log, d)
		return d, nil
	}

	d := Decision{Outcome: Approved, LotSize: m.LotSize, Metrics: m}
	s.observe(log, d)
	return d, nil
}

func (s *Sizer) observe(log zerolog.Logger, d Decision) {
	metrics.RiskDecisions.WithLabelValues(string(d.Outcome), d.Code).Inc()
	if d.Approved() {
		log.Info().Float64("lots", d.LotSize).Float64("notional", d.Metrics.Notional).
			Str("regime", string(d.Metrics.Regime)).Msg("trade approved")
		return
	}
	log.Info().Str("code", d.Code).Str("reason", d.Reason).Msg("trade rejected")
}

// size computes the lot for in under regime.
func (s *Sizer) size(ctx context.Context, in Instrument, regime Regime, hint, balance float64) (Metrics, error) {
	spec, err := s.market.InstrumentInfo(ctx, in.Name)
	if err != nil {
		return Metrics{}, fmt.Errorf("instrument info: %w", err)
	}
	q, err := s.market.CurrentPrice(ctx, in.Name)
	if err != nil {
		return Metrics{}, fmt.Errorf("current price: %w", err)
	}

	contract := spec.ContractSize
	if contract <= 0 {
		contract = 1
	}
	minVol := in.MinVolume
	if spec.MinVolume > minVol {
		minVol = spec.MinVolume
	}
	step := spec.VolumeStep
	if step <= 0 {
		step = minVol
	}

	eff := in
	eff.MinVolume = minVol
	safe := SafeCoefficient(eff, contract, q.Ask, balance, s.limits.MaxPositionPct)
	mult := s.regime.Multiplier(regime)
	if hint <= 0 {
		hint = 1
	}

	lot := market.RoundVolume(minVol*safe*mult*hint, step)
	if lot < minVol {
		lot = minVol
	}
	if spec.MaxVolume > 0 && lot > spec.MaxVolume {
		lot = market.FloorVolume(spec.MaxVolume, step)
	}

	m := Metrics{
		Instrument:       in.Name,
		AssetClass:       in.AssetClass,
		LotSize:          lot,
		Price:            q.Ask,
		ContractSize:     contract,
		Notional:         lot * contract * q.Ask,
		BaseCoefficient:  in.Coefficient,
		SafeCoefficient:  safe,
		Regime:           regime,
		RegimeMultiplier: mult,
	}
	if balance > 0 {
		m.RiskPct = m.Notional / balance * 100
	}
	return m, nil
}

// SafeCoefficient caps the coefficient so a minimum-volume position stays
// within maxPct of balance. The result is rounded to 0.1 and never drops
// below 1.0, even when 1.0 still breaches the cap; the exposure gate
// catches that case. Hard-capped instruments never exceed 1.0.
func SafeCoefficient(in Instrument, contract, price, balance, maxPct float64) float64 {
	if in.HardCap {
		return min(in.Coefficient, 1.0)
	}
	notional := in.MinVolume * in.Coefficient * contract * price
	limit := balance * maxPct / 100
	if notional <= limit || in.MinVolume*contract*price <= 0 {
		return in.Coefficient
	}
	c := decimal.NewFromFloat(limit / (in.MinVolume * contract * price)).Round(1).InexactFloat64()
	return max(c, 1.0)
}

// PositionSize previews the lot for instrument under regime ("" for the
// current one) without running the safety gate.
func (s *Sizer) PositionSize(ctx context.Context, instrument string, regime Regime) (Metrics, error) {
	in, err := s.coeffs.Get(instrument)
	if err != nil {
		return Metrics{}, err
	}
	state, err := s.account.State(ctx)
	if err != nil {
		return Metrics{}, err
	}
	if regime == "" {
		regime = s.regime.Current()
	}
	return s.size(ctx, in, regime, 1, state.Balance)
}

// Summary is a portfolio-wide risk view.
type Summary struct {
	Account            account.State      `json:"account"`
	Regime             Regime             `json:"regime"`
	RegimeMultiplier   float64            `json:"regime_multiplier"`
	Positions          map[string]Metrics `json:"positions"`
	MaxExposure        float64            `json:"max_theoretical_exposure"`
	ExposureUsePct     float64            `json:"exposure_utilization_pct"`
	Violations         []Violation        `json:"violations,omitempty"`
	Stats              Stats              `json:"stats"`
	UnpricedInstrument []string           `json:"unpriced,omitempty"`
}

// Summary sizes every configured instrument and reports account-wide
// violations. Instruments the gateway cannot price are listed, not fatal.
func (s *Sizer) Summary(ctx context.Context) (Summary, error) {
	state, err := s.account.State(ctx)
	if err != nil {
		return Summary{}, err
	}
	regime := s.regime.Current()
	sum := Summary{
		Account:          state,
		Regime:           regime,
		RegimeMultiplier: s.regime.Multiplier(regime),
		Positions:        make(map[string]Metrics),
		Violations:       Check(s.limits, state, "", 0),
		Stats:            s.Stats(),
	}
	for _, in := range s.coeffs.All() {
		m, err := s.size(ctx, in, regime, 1, state.Balance)
		if err != nil {
			sum.UnpricedInstrument = append(sum.UnpricedInstrument, in.Name)
			continue
		}
		sum.Positions[in.Name] = m
		sum.MaxExposure += m.Notional
	}
	if sum.MaxExposure > 0 {
		sum.ExposureUsePct = state.TotalExposure / sum.MaxExposure * 100
	}
	return sum, nil
}

// RecordOutcome tallies a closed trade for the next coefficient review.
func (s *Sizer) RecordOutcome(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Trades++
	if pnl > 0 {
		s.stats.Wins++
	}
}

func (s *Sizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ReviewCoefficients applies the performance review. The tally resets only
// when an adjustment was made.
func (s *Sizer) ReviewCoefficients() float64 {
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()

	f := s.coeffs.Review(stats, s.review)
	if f == 1 {
		return 1
	}
	s.mu.Lock()
	s.stats = Stats{}
	s.mu.Unlock()
	s.log.Info().Float64("factor", f).Float64("win_rate", stats.WinRate()).
		Int("trades", stats.Trades).Msg("coefficients adjusted")
	return f
}
