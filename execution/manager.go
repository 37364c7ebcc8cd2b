package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/id"
	"github.com/rustyeddy/mtftrader/journal"
	"github.com/rustyeddy/mtftrader/metrics"
)

// Recorder receives every order and position transition.
type Recorder interface {
	RecordOrder(journal.OrderEvent) error
	RecordPosition(journal.PositionEvent) error
}

type Config struct {
	Owner             string        `yaml:"owner" json:"owner"`
	QueueSize         int           `yaml:"queue_size" json:"queue_size"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	CallTimeout       time.Duration `yaml:"call_timeout" json:"call_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`
	MinFreeMargin     float64       `yaml:"min_free_margin" json:"min_free_margin"`
}

func DefaultConfig() Config {
	return Config{
		Owner:             "mtf",
		QueueSize:         256,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		MaxRetryDelay:     10 * time.Second,
		CallTimeout:       30 * time.Second,
		ReconcileInterval: 5 * time.Second,
		MinFreeMargin:     100,
	}
}

func (c Config) Validate() error {
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be > 0")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be > 0")
	}
	if c.MinFreeMargin < 0 {
		return fmt.Errorf("min_free_margin must be >= 0")
	}
	return nil
}

type Option func(*Manager)

func WithRecorder(r Recorder) Option        { return func(m *Manager) { m.rec = r } }
func WithLogger(l zerolog.Logger) Option    { return func(m *Manager) { m.log = l } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// Manager owns the order queue and the local position table. A single
// worker drains the queue, so gateway placements never overlap.
type Manager struct {
	cfg Config
	gw  broker.Gateway
	rec Recorder
	log zerolog.Logger
	now func() time.Time

	mu        sync.Mutex
	queue     orderQueue
	queued    map[string]*item
	seq       uint64
	busy      bool
	stopped   bool
	results   map[string]OrderResult
	requests  map[string]OrderRequest
	done      map[string]chan struct{}
	positions map[string]*Position
	history   []Position
	stats     Stats
	halted    map[string]string

	wake      chan struct{}
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

func NewManager(cfg Config, gw broker.Gateway, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	m := &Manager{
		cfg:       cfg,
		gw:        gw,
		log:       zerolog.Nop(),
		now:       time.Now,
		queued:    map[string]*item{},
		results:   map[string]OrderResult{},
		requests:  map[string]OrderRequest{},
		done:      map[string]chan struct{}{},
		positions: map[string]*Position{},
		halted:    map[string]string{},
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// Submit queues req and returns its order id without waiting for execution.
func (m *Manager) Submit(req OrderRequest) (string, error) {
	if !req.Kind.Valid() {
		return "", fmt.Errorf("invalid order kind %q", req.Kind)
	}
	if req.ID == "" {
		req.ID = id.Order()
	}
	if req.Owner == "" {
		req.Owner = m.cfg.Owner
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", ErrStopped
	}
	if _, dup := m.requests[req.ID]; dup {
		m.mu.Unlock()
		return "", fmt.Errorf("duplicate order id %s", req.ID)
	}
	if m.queue.Len() >= m.cfg.QueueSize {
		m.mu.Unlock()
		return "", ErrQueueFull
	}
	m.seq++
	it := &item{req: req, seq: m.seq}
	m.queue.push(it)
	m.queued[req.ID] = it
	m.requests[req.ID] = req
	m.done[req.ID] = make(chan struct{})
	m.stats.TotalOrders++
	depth := m.queue.Len()
	m.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	m.recordOrder(req, Pending, 0, 0, "")
	m.signal()
	return req.ID, nil
}

// Cancel removes a queued order. Orders already taken by the worker can not
// be cancelled.
func (m *Manager) Cancel(orderID string) error {
	m.mu.Lock()
	it, ok := m.queued[orderID]
	if !ok {
		m.mu.Unlock()
		if _, known := m.Result(orderID); known {
			return fmt.Errorf("%w: %s", ErrNotQueued, orderID)
		}
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	m.queue.remove(it)
	delete(m.queued, orderID)
	depth := m.queue.Len()
	m.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	m.release(it.req)
	m.finish(it.req, OrderResult{Status: Cancelled, Error: "cancelled before execution"})
	return nil
}

// Result returns the terminal result of an order, if it has one.
func (m *Manager) Result(orderID string) (OrderResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[orderID]
	return r, ok
}

// Wait blocks until the order reaches a terminal state or ctx ends.
func (m *Manager) Wait(ctx context.Context, orderID string) (OrderResult, error) {
	m.mu.Lock()
	ch, ok := m.done[orderID]
	m.mu.Unlock()
	if !ok {
		return OrderResult{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	select {
	case <-ch:
		r, _ := m.Result(orderID)
		return r, nil
	case <-ctx.Done():
		return OrderResult{}, ctx.Err()
	}
}

// Run drains the queue and reconciles positions until ctx is cancelled or
// Shutdown is called.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cancel()
		return ErrStopped
	}
	if m.cancelRun != nil {
		m.mu.Unlock()
		cancel()
		return errors.New("execution manager already running")
	}
	m.cancelRun = cancel
	m.runDone = make(chan struct{})
	done := m.runDone
	m.mu.Unlock()
	defer close(done)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.work(gctx) })
	g.Go(func() error { return m.reconcileLoop(gctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) work(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		it, ok := m.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-m.wake:
				continue
			}
		}
		m.process(ctx, it.req)
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}
}

func (m *Manager) reconcileLoop(ctx context.Context) error {
	t := time.NewTicker(m.cfg.ReconcileInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := m.Reconcile(ctx); err != nil {
				m.log.Warn().Err(err).Msg("reconcile")
			}
		}
	}
}

func (m *Manager) next() (*item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.queue.pop()
	if !ok {
		return nil, false
	}
	delete(m.queued, it.req.ID)
	m.busy = true
	metrics.QueueDepth.Set(float64(m.queue.Len()))
	return it, true
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Shutdown stops intake. With drain it lets the worker finish the queue
// until ctx ends; whatever is left is cancelled. It then stops the loops,
// reconciles once more and closes the gateway. The final reconcile and the
// close run even when ctx has already ended.
func (m *Manager) Shutdown(ctx context.Context, drain bool) error {
	m.mu.Lock()
	m.stopped = true
	running := m.cancelRun != nil
	m.mu.Unlock()

	if drain && running {
		t := time.NewTicker(10 * time.Millisecond)
	wait:
		for !m.idle() {
			select {
			case <-ctx.Done():
				break wait
			case <-t.C:
			}
		}
		t.Stop()
	}
	m.abandon()

	m.mu.Lock()
	cancel, done := m.cancelRun, m.runDone
	m.mu.Unlock()

	// In-flight calls are awaited even past ctx, up to one call timeout.
	var errs []error
	if cancel != nil {
		cancel()
		wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
		select {
		case <-done:
		case <-wctx.Done():
			errs = append(errs, fmt.Errorf("shutdown: worker still running after %s", m.cfg.CallTimeout))
		}
		wcancel()
	}

	if err := m.Reconcile(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	if err := m.gw.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close gateway: %w", err))
	}
	m.log.Info().Int("open_positions", len(m.Positions())).Msg("execution manager stopped")
	return errors.Join(errs...)
}

func (m *Manager) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len() == 0 && !m.busy
}

func (m *Manager) abandon() {
	m.mu.Lock()
	var left []OrderRequest
	for {
		it, ok := m.queue.pop()
		if !ok {
			break
		}
		delete(m.queued, it.req.ID)
		left = append(left, it.req)
	}
	m.mu.Unlock()
	metrics.QueueDepth.Set(0)
	for _, req := range left {
		m.release(req)
		m.finish(req, OrderResult{Status: Cancelled, Error: "manager shut down"})
	}
}

// Halted returns the instruments blocked for new positions, with the
// violation that blocked each.
func (m *Manager) Halted() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.halted))
	for k, v := range m.halted {
		out[k] = v
	}
	return out
}

// Resume lifts the halt on instrument once the position table has been
// checked by hand.
func (m *Manager) Resume(instrument string) error {
	m.mu.Lock()
	reason, ok := m.halted[instrument]
	delete(m.halted, instrument)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s is not halted", instrument)
	}
	m.log.Warn().Str("instrument", instrument).Str("reason", reason).Msg("instrument resumed")
	return nil
}

// Stats returns running totals.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Queued = m.queue.Len()
	for _, p := range m.positions {
		if p.Status != Closed {
			s.OpenPositions++
			s.UnrealizedPnL += p.UnrealizedPnL
		}
	}
	if s.TotalOrders > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalOrders)
	}
	return s
}

// finish records the single terminal result of an order.
func (m *Manager) finish(req OrderRequest, r OrderResult) {
	r.OrderID = req.ID
	if r.Time.IsZero() {
		r.Time = m.now()
	}

	m.mu.Lock()
	if _, dup := m.results[req.ID]; dup {
		m.mu.Unlock()
		return
	}
	m.results[req.ID] = r
	switch r.Status {
	case Filled, PartiallyFilled:
		m.stats.Successful++
		m.stats.TotalVolume += r.ExecutedVolume
	case Failed:
		m.stats.Failed++
	case Rejected:
		m.stats.Rejected++
	case Cancelled:
		m.stats.Cancelled++
	}
	m.stats.Retries += r.Retries
	ch := m.done[req.ID]
	m.mu.Unlock()

	metrics.OrdersTotal.WithLabelValues(req.Instrument, string(req.Kind), string(r.Status)).Inc()
	m.recordOrder(req, r.Status, r.ExecutedPrice, r.Retries, r.Error)

	ev := m.log.Info()
	if r.Status == Failed || r.Status == Rejected {
		ev = m.log.Warn()
	}
	ev.Str("order", req.ID).
		Str("instrument", req.Instrument).
		Str("kind", string(req.Kind)).
		Str("status", string(r.Status)).
		Int("retries", r.Retries).
		Str("error", r.Error).
		Msg("order finished")

	if ch != nil {
		close(ch)
	}
}

func (m *Manager) recordOrder(req OrderRequest, s State, price float64, retries int, msg string) {
	if m.rec == nil {
		return
	}
	if price == 0 {
		price = req.Price
	}
	err := m.rec.RecordOrder(journal.OrderEvent{
		Time:       m.now(),
		OrderID:    req.ID,
		Instrument: req.Instrument,
		Kind:       string(req.Kind),
		State:      string(s),
		Priority:   req.Priority.String(),
		Volume:     req.Volume,
		Price:      price,
		Retries:    retries,
		Owner:      req.Owner,
		Message:    msg,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("order", req.ID).Msg("journal order event")
	}
}

func (m *Manager) recordPosition(p Position, price, pnl float64) {
	if m.rec == nil {
		return
	}
	err := m.rec.RecordPosition(journal.PositionEvent{
		Time:       m.now(),
		PositionID: p.ID,
		Instrument: p.Instrument,
		Side:       string(p.Side),
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		Price:      price,
		PnL:        pnl,
		State:      string(p.Status),
		Owner:      p.Owner,
	})
	if err != nil {
		m.log.Warn().Err(err).Str("position", p.ID).Msg("journal position event")
	}
}
