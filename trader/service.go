// Package trader composes the pipeline: per-resolution signals, confluence,
// risk sizing and order execution.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/mtftrader/account"
	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/metrics"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/signal"
)

// ErrInvalidTrade marks a trade request that can never be served as given.
var ErrInvalidTrade = errors.New("invalid trade request")

type Config struct {
	Instruments   []string      `yaml:"instruments" json:"instruments"`
	CycleInterval time.Duration `yaml:"cycle_interval" json:"cycle_interval"`
	AutoTrade     bool          `yaml:"auto_trade" json:"auto_trade"`
	// CloseOnReversal closes an owned position when the decision turns
	// against it.
	CloseOnReversal bool   `yaml:"close_on_reversal" json:"close_on_reversal"`
	Owner           string `yaml:"owner" json:"owner"`
}

// Deps are the collaborators a Service drives. Monitor is optional.
type Deps struct {
	Bars       BarSource
	Generator  *signal.Generator
	Aggregator *confluence.Aggregator
	Sizer      *risk.Sizer
	Executor   *execution.Manager
	Monitor    *account.Monitor
	Log        zerolog.Logger
}

type Service struct {
	cfg  Config
	bars BarSource
	gen  *signal.Generator
	agg  *confluence.Aggregator
	sz   *risk.Sizer
	exec *execution.Manager
	mon  *account.Monitor
	log  zerolog.Logger

	mu       sync.Mutex
	last     map[string]confluence.Decision
	settled  int
	lastTick time.Time
}

func New(cfg Config, d Deps) (*Service, error) {
	switch {
	case d.Bars == nil:
		return nil, errors.New("trader: bar source is required")
	case d.Generator == nil, d.Aggregator == nil:
		return nil, errors.New("trader: signal generator and aggregator are required")
	case d.Sizer == nil, d.Executor == nil:
		return nil, errors.New("trader: sizer and executor are required")
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	if cfg.Owner == "" {
		cfg.Owner = d.Executor.Config().Owner
	}
	return &Service{
		cfg:  cfg,
		bars: d.Bars,
		gen:  d.Generator,
		agg:  d.Aggregator,
		sz:   d.Sizer,
		exec: d.Executor,
		mon:  d.Monitor,
		log:  d.Log,
		last: map[string]confluence.Decision{},
	}, nil
}

func (s *Service) Config() Config               { return s.cfg }
func (s *Service) Sizer() *risk.Sizer           { return s.sz }
func (s *Service) Executor() *execution.Manager { return s.exec }

// Analyze builds the confluence decision for one instrument. Resolutions
// without enough data are skipped; the aggregator decides whether the rest
// are enough.
func (s *Service) Analyze(ctx context.Context, instrument string) (confluence.Decision, error) {
	var sigs []signal.TimeframeSignal
	for _, res := range s.agg.Resolutions() {
		series, err := s.bars.Bars(ctx, instrument, res)
		if err != nil {
			s.log.Debug().Err(err).Str("instrument", instrument).Str("resolution", string(res)).Msg("no bars")
			continue
		}
		sig, err := s.gen.Generate(series)
		if err != nil {
			if errors.Is(err, signal.ErrInsufficientData) || errors.Is(err, signal.ErrInsufficientSignals) {
				s.log.Debug().Err(err).Str("instrument", instrument).Str("resolution", string(res)).Msg("resolution skipped")
				continue
			}
			return confluence.Decision{}, err
		}
		sigs = append(sigs, sig)
	}

	d, err := s.agg.Aggregate(instrument, sigs)
	if err != nil {
		return confluence.Decision{}, err
	}
	metrics.Signals.WithLabelValues(instrument, string(d.Action)).Inc()
	s.mu.Lock()
	s.last[instrument] = d
	s.mu.Unlock()
	return d, nil
}

// Overview is the result of analyzing every configured instrument.
type Overview struct {
	Time      time.Time                      `json:"time"`
	Decisions map[string]confluence.Decision `json:"decisions"`
	Errors    map[string]string              `json:"errors,omitempty"`
	Strong    int                            `json:"strong_signals"`
	HighRisk  int                            `json:"high_risk"`
}

// AnalyzeAll analyzes the configured instruments concurrently. A failure on
// one instrument is reported in the overview and does not stop the others.
func (s *Service) AnalyzeAll(ctx context.Context) Overview {
	ov := Overview{
		Time:      time.Now().UTC(),
		Decisions: map[string]confluence.Decision{},
		Errors:    map[string]string{},
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, instr := range s.cfg.Instruments {
		instr := instr
		g.Go(func() error {
			d, err := s.Analyze(gctx, instr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ov.Errors[instr] = err.Error()
				return nil
			}
			ov.Decisions[instr] = d
			if d.Action.IsStrong() {
				ov.Strong++
			}
			if d.RiskTier == confluence.RiskHigh {
				ov.HighRisk++
			}
			return nil
		})
	}
	_ = g.Wait()
	return ov
}

// LastDecision returns the most recent decision for instrument.
func (s *Service) LastDecision(instrument string) (confluence.Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.last[instrument]
	return d, ok
}

// SubmitTrade sizes req and, when approved, queues a market order. A risk
// rejection is returned as the decision with a nil error.
func (s *Service) SubmitTrade(ctx context.Context, req risk.TradeRequest) (risk.Decision, string, error) {
	return s.submit(ctx, req, "")
}

func (s *Service) submit(ctx context.Context, req risk.TradeRequest, action confluence.Action) (risk.Decision, string, error) {
	if req.RequesterID == "" {
		req.RequesterID = s.cfg.Owner
	}
	kind := broker.MarketBuy
	switch req.Direction {
	case broker.SideBuy:
	case broker.SideSell:
		kind = broker.MarketSell
	default:
		return risk.Decision{}, "", fmt.Errorf("%w: direction must be buy or sell, got %q", ErrInvalidTrade, req.Direction)
	}

	d, err := s.sz.Evaluate(ctx, req)
	if err != nil || !d.Approved() {
		return d, "", err
	}

	oid, err := s.exec.Submit(execution.OrderRequest{
		Instrument: req.Instrument,
		Kind:       kind,
		Volume:     d.LotSize,
		Priority:   PriorityFor(action, req.Urgency),
		Owner:      req.RequesterID,
		Comment:    fmt.Sprintf("confidence %.2f", req.Confidence),
	})
	if err != nil {
		return d, "", fmt.Errorf("submit %s: %w", req.Instrument, err)
	}
	if s.mon != nil {
		s.mon.Invalidate()
	}
	return d, oid, nil
}

// CycleEntry is what one cycle did for one instrument.
type CycleEntry struct {
	Instrument string            `json:"instrument"`
	Action     confluence.Action `json:"action,omitempty"`
	Risk       *risk.Decision    `json:"risk,omitempty"`
	OrderID    string            `json:"order_id,omitempty"`
	Closed     string            `json:"closed_position,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type CycleReport struct {
	Time    time.Time    `json:"time"`
	Entries []CycleEntry `json:"entries"`
}

// RunCycle analyzes every instrument and acts on actionable decisions.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	ov := s.AnalyzeAll(ctx)
	rep := CycleReport{Time: ov.Time}

	s.settle()

	owned := map[string]execution.Position{}
	for _, p := range s.exec.Positions() {
		if p.Owner == s.cfg.Owner && p.Status == execution.Open {
			owned[p.Instrument] = p
		}
	}

	instruments := append([]string(nil), s.cfg.Instruments...)
	sort.Strings(instruments)
	for _, instr := range instruments {
		e := CycleEntry{Instrument: instr}
		if msg, ok := ov.Errors[instr]; ok {
			e.Error = msg
			rep.Entries = append(rep.Entries, e)
			continue
		}
		d := ov.Decisions[instr]
		e.Action = d.Action
		side, ok := SideFor(d.Action)
		if !ok {
			rep.Entries = append(rep.Entries, e)
			continue
		}

		if p, held := owned[instr]; held {
			if s.cfg.CloseOnReversal && p.Side != side {
				oid, err := s.exec.ClosePosition(p.ID, 0)
				if err != nil {
					e.Error = err.Error()
				} else {
					e.OrderID, e.Closed = oid, p.ID
				}
			}
			rep.Entries = append(rep.Entries, e)
			continue
		}

		if !s.cfg.AutoTrade {
			rep.Entries = append(rep.Entries, e)
			continue
		}
		rd, oid, err := s.submit(ctx, risk.TradeRequest{
			Instrument:  instr,
			Direction:   side,
			RequesterID: s.cfg.Owner,
			Confidence:  d.ConfluenceScore,
			Urgency:     UrgencyFor(d.Action),
			SizeHint:    d.SizeMultiplier,
		}, d.Action)
		if err != nil {
			e.Error = err.Error()
		}
		if rd.Outcome != "" {
			e.Risk = &rd
		}
		e.OrderID = oid
		rep.Entries = append(rep.Entries, e)
	}

	if f := s.sz.ReviewCoefficients(); f != 1 {
		s.log.Info().Float64("factor", f).Msg("coefficient review applied")
	}
	s.mu.Lock()
	s.lastTick = rep.Time
	s.mu.Unlock()
	return rep, nil
}

// settle feeds newly closed positions into the sizer's performance tally.
func (s *Service) settle() {
	hist := s.exec.History()
	s.mu.Lock()
	from := s.settled
	s.settled = len(hist)
	s.mu.Unlock()
	for _, p := range hist[from:] {
		if p.Owner == s.cfg.Owner {
			s.sz.RecordOutcome(p.RealizedPnL)
		}
	}
}

type RegimeView struct {
	Regime     risk.Regime `json:"regime"`
	Reason     string      `json:"reason,omitempty"`
	Since      time.Time   `json:"since"`
	Multiplier float64     `json:"multiplier"`
}

// Snapshot is a read-only view of positions, execution totals and risk
// state.
type Snapshot struct {
	Positions []execution.Position `json:"positions"`
	Stats     execution.Stats      `json:"stats"`
	Regime    RegimeView           `json:"regime"`
	Account   account.State        `json:"account"`
	LastCycle time.Time            `json:"last_cycle,omitempty"`
}

func (s *Service) PositionSnapshot() Snapshot {
	snap := Snapshot{
		Positions: s.exec.Positions(),
		Stats:     s.exec.Stats(),
	}
	rc := s.sz.Regime()
	snap.Regime.Regime, snap.Regime.Reason, snap.Regime.Since = rc.Status()
	snap.Regime.Multiplier = rc.Multiplier(snap.Regime.Regime)
	if s.mon != nil {
		snap.Account = s.mon.Snapshot()
	}
	s.mu.Lock()
	snap.LastCycle = s.lastTick
	s.mu.Unlock()
	return snap
}

// EmergencyStop switches to the emergency regime and queues a close of
// every position. Both steps are attempted even if the first fails.
func (s *Service) EmergencyStop(ctx context.Context, reason string) ([]string, error) {
	if reason == "" {
		reason = "emergency stop"
	}
	s.log.Error().Str("reason", reason).Msg("emergency stop")

	var errs []error
	if err := s.sz.Regime().Set(risk.Emergency, reason); err != nil {
		errs = append(errs, fmt.Errorf("set regime: %w", err))
	}
	ids, err := s.exec.EmergencyCloseAll()
	if err != nil {
		errs = append(errs, err)
	}
	if s.mon != nil {
		s.mon.Invalidate()
	}
	return ids, errors.Join(errs...)
}

// Run executes the order manager and, with AutoTrade, a cycle every
// CycleInterval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.exec.Run(gctx) })
	g.Go(func() error {
		t := time.NewTicker(s.cfg.CycleInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				rep, err := s.RunCycle(gctx)
				if err != nil {
					s.log.Warn().Err(err).Msg("cycle")
					continue
				}
				s.log.Debug().Int("instruments", len(rep.Entries)).Msg("cycle complete")
			}
		}
	})
	return g.Wait()
}

// ClosePosition queues a close of a tracked position.
func (s *Service) ClosePosition(positionID string, volume float64) (string, error) {
	return s.exec.ClosePosition(positionID, volume)
}

// HaltedInstruments lists instruments blocked for new positions after an
// execution invariant violation.
func (s *Service) HaltedInstruments() map[string]string { return s.exec.Halted() }

// ResumeInstrument lifts a halt once the operator has checked the book.
func (s *Service) ResumeInstrument(instrument string) error {
	return s.exec.Resume(instrument)
}

// Order returns the terminal result of an order, if any.
func (s *Service) Order(orderID string) (execution.OrderResult, bool) {
	return s.exec.Result(orderID)
}

func (s *Service) RiskSummary(ctx context.Context) (risk.Summary, error) {
	return s.sz.Summary(ctx)
}

// SetRegime changes the market regime; the change is journaled.
func (s *Service) SetRegime(r risk.Regime, reason string) error {
	if err := s.sz.Regime().Set(r, reason); err != nil {
		return err
	}
	if s.mon != nil {
		s.mon.Invalidate()
	}
	return nil
}
