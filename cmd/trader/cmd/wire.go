package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/mtftrader/account"
	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/broker/bridge"
	"github.com/rustyeddy/mtftrader/broker/sim"
	"github.com/rustyeddy/mtftrader/config"
	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/journal"
	"github.com/rustyeddy/mtftrader/logging"
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/signal"
	"github.com/rustyeddy/mtftrader/trader"
)

func envDefaults() (*config.Config, error) {
	cfg := config.Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// stack is the wired object graph behind every command that trades.
type stack struct {
	cfg     *config.Config
	log     zerolog.Logger
	gw      broker.Gateway
	sim     *sim.Engine
	quotes  *market.QuoteStore
	journal journal.Journal
	redis   *redis.Client
	monitor *account.Monitor
	sizer   *risk.Sizer
	exec    *execution.Manager
	svc     *trader.Service
}

// build wires cfg into a ready Service. The caller owns Close.
func build(cfg *config.Config, bars trader.BarSource, log zerolog.Logger) (*stack, error) {
	s := &stack{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	if err := s.openJournal(); err != nil {
		return nil, err
	}
	if err := s.openGateway(); err != nil {
		return nil, err
	}

	monOpts := []account.Option{
		account.WithMaxAge(cfg.Risk.MaxStateAge),
		account.WithEquityRecorder(s.journal),
		account.WithLogger(logging.Component(log, "account")),
	}
	switch cfg.Peak.Type {
	case "sqlite":
		peaks, isStore := s.journal.(journal.PeakStore)
		if !isStore {
			return nil, errors.New("journal does not store peaks")
		}
		monOpts = append(monOpts, account.WithPeakStore(peaks, cfg.Peak.Key))
	case "redis":
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		monOpts = append(monOpts, account.WithPeakStore(account.NewRedisPeakStore(s.redis), cfg.Peak.Key))
	}
	s.monitor = account.NewMonitor(s.gw, monOpts...)

	regime, err := risk.NewRegimeControl(cfg.Risk.Multipliers, s.journal, logging.Component(log, "regime"))
	if err != nil {
		return nil, err
	}
	if cfg.Risk.Regime != "" && cfg.Risk.Regime != risk.Normal {
		if err := regime.Set(cfg.Risk.Regime, "configured at startup"); err != nil {
			return nil, err
		}
	}
	s.sizer, err = risk.NewSizer(cfg.Risk.Config, s.monitor, s.gw, regime, logging.Component(log, "risk"))
	if err != nil {
		return nil, err
	}

	s.exec = execution.NewManager(cfg.Execution, s.gw,
		execution.WithRecorder(s.journal),
		execution.WithLogger(logging.Component(log, "execution")))

	agg, err := confluence.New(cfg.Strategy.Confluence())
	if err != nil {
		return nil, err
	}
	s.svc, err = trader.New(trader.Config{
		Instruments:     cfg.App.Instruments,
		CycleInterval:   cfg.App.CycleInterval,
		AutoTrade:       cfg.App.AutoTrade,
		CloseOnReversal: cfg.App.CloseOnReversal,
	}, trader.Deps{
		Bars:       bars,
		Generator:  signal.NewGenerator(cfg.Strategy.Scorer(), cfg.Strategy.MinBars),
		Aggregator: agg,
		Sizer:      s.sizer,
		Executor:   s.exec,
		Monitor:    s.monitor,
		Log:        logging.Component(log, "trader"),
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return s, nil
}

func (s *stack) openJournal() error {
	switch s.cfg.Journal.Type {
	case "sqlite":
		j, err := journal.NewSQLite(s.cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("create journal: %w", err)
		}
		s.journal = j
	case "csv":
		j, err := journal.NewCSV(s.cfg.Journal.Dir)
		if err != nil {
			return fmt.Errorf("create journal: %w", err)
		}
		s.journal = j
	default:
		s.journal = journal.NewMemory()
	}
	return nil
}

func (s *stack) openGateway() error {
	g := s.cfg.Gateway
	if g.Kind == "bridge" {
		c, err := bridge.NewClient(g.URL, g.Token, g.Timeout)
		if err != nil {
			return err
		}
		if g.StreamURL != "" {
			s.quotes = market.NewQuoteStore()
			c.UseQuotes(s.quotes, s.cfg.Risk.MaxStateAge)
		}
		s.gw = c
		return nil
	}

	e := sim.NewEngine(broker.Account{
		ID:       g.Sim.AccountID,
		Currency: g.Sim.Currency,
		Balance:  g.Sim.Balance,
	}, sim.WithMarginRate(g.Sim.MarginRate))
	for _, spec := range g.Sim.Instruments {
		e.AddInstrument(spec)
	}
	now := time.Now()
	for _, q := range g.Sim.Quotes {
		e.UpdatePrice(market.Quote{Instrument: q.Instrument, Bid: q.Bid, Ask: q.Ask, Time: now})
	}
	s.quotes = e.Quotes()
	s.sim = e
	s.gw = e
	return nil
}

// stream returns the quote feed for the configured gateway, or nil when no
// stream URL is set. Simulated fills follow the streamed quotes.
func (s *stack) stream() *bridge.Stream {
	if s.cfg.Gateway.StreamURL == "" {
		return nil
	}
	st := &bridge.Stream{
		URL:         s.cfg.Gateway.StreamURL,
		Instruments: s.cfg.App.Instruments,
		Store:       s.quotes,
		Log:         logging.Component(s.log, "stream"),
	}
	if s.sim != nil {
		st.OnQuote = s.sim.UpdatePrice
	}
	return st
}

// Close releases the journal and redis client. The gateway is closed by
// the execution manager's Shutdown.
func (s *stack) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	return errors.Join(errs...)
}

// shutdown drains the execution queue within timeout.
func (s *stack) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.exec.Shutdown(ctx, true)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat})
}
