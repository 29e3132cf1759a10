package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/notification"
)

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("monitor already running")

// Config tunes the reconciliation loop.
type Config struct {
	Interval    time.Duration
	Concurrency int
	// Dust is the smallest chain surplus treated as an unrecorded deposit.
	Dust        decimal.Decimal
	CallTimeout time.Duration
}

const (
	defaultInterval    = 10 * time.Second
	defaultConcurrency = 4
	defaultCallTimeout = 15 * time.Second
)

// DefaultDust is one millionth of the asset.
var DefaultDust = decimal.New(1, -6)

// CycleResult summarizes one reconciliation cycle.
type CycleResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Checked    int `json:"checked"`
	Confirmed  int `json:"confirmed"`
	Failed     int `json:"failed"`
	Processing int `json:"processing"`

	Wallets  int `json:"wallets"`
	Deposits int `json:"deposits"`
	Synced   int `json:"synced"`
	Skipped  int `json:"skipped"`

	Errors int `json:"errors"`
}

// Monitor converges recorded transactions and balances toward chain state.
// Each cycle settles outstanding sends, then looks for unrecorded deposits.
type Monitor struct {
	store    ledger.Store
	chains   ledger.Chains
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	stopping atomic.Bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	last *CycleResult
}

// New builds a monitor over the ledger store and chain registry. Zero Config
// fields fall back to the package defaults.
func New(store ledger.Store, chains ledger.Chains, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if !cfg.Dust.IsPositive() {
		cfg.Dust = DefaultDust
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Monitor{
		store:    store,
		chains:   chains,
		notifier: notifier,
		logger:   logger.With("worker", "monitor"),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the loop in the background. Stop ends it.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.start(ctx)
	return err
}

// Run blocks until ctx is done or Stop is called.
func (m *Monitor) Run(ctx context.Context) error {
	done, err := m.start(ctx)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		m.Stop()
		return ctx.Err()
	case <-done:
		m.Stop()
		return ctx.Err()
	}
}

// Stop raises the stop flag and waits for the loop to exit. Chain calls in
// flight are allowed to finish; items not yet started are left for next time.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if done == nil {
		return
	}
	m.stopping.Store(true)
	close(stop)
	<-done
	m.stopping.Store(false)
}

// LastCycle returns the result of the most recent cycle.
func (m *Monitor) LastCycle() (CycleResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return CycleResult{}, false
	}
	return *m.last, true
}

func (m *Monitor) start(ctx context.Context) (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return nil, ErrAlreadyRunning
	}
	stop, done := make(chan struct{}), make(chan struct{})
	m.stop, m.done = stop, done
	go func() {
		defer close(done)
		m.loop(ctx, stop)
	}()
	return done, nil
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}) {
	m.logger.Info("monitor start", "interval", m.cfg.Interval.String(), "concurrency", m.cfg.Concurrency)
	for {
		m.RunCycle(ctx)

		select {
		case <-stop:
			m.logger.Info("monitor stopped")
			return
		case <-ctx.Done():
			m.logger.Info("monitor stopped", "reason", ctx.Err())
			return
		case <-time.After(m.cfg.Interval):
		}
	}
}

// RunCycle performs one full reconciliation cycle. Per-item failures are
// logged and counted, never returned.
func (m *Monitor) RunCycle(ctx context.Context) CycleResult {
	started := time.Now()
	t := &tally{res: CycleResult{StartedAt: m.now()}}

	m.checkOutstanding(ctx, t)
	m.detectDeposits(ctx, t)

	res := t.result()
	res.Duration = time.Since(started)

	m.mu.Lock()
	m.last = &res
	m.mu.Unlock()

	if res.Confirmed+res.Failed+res.Processing+res.Deposits+res.Synced+res.Errors > 0 {
		m.logger.Info("cycle done",
			"checked", res.Checked, "confirmed", res.Confirmed, "failed", res.Failed, "processing", res.Processing,
			"wallets", res.Wallets, "deposits", res.Deposits, "synced", res.Synced, "skipped", res.Skipped,
			"errors", res.Errors, "duration", res.Duration.String())
	} else {
		m.logger.Debug("cycle done", "checked", res.Checked, "wallets", res.Wallets, "duration", res.Duration.String())
	}
	return res
}

// fanOut runs fn for each index with bounded parallelism. No new item starts
// once Stop has been called.
func (m *Monitor) fanOut(n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i := 0; i < n; i++ {
		if m.stopping.Load() {
			break
		}
		idx := i
		g.Go(func() error {
			fn(idx)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) notify(ctx context.Context, kind string, w ledger.Wallet, body string) {
	if m.notifier == nil {
		return
	}
	err := m.notifier.Send(ctx, notification.Message{
		Kind:        kind,
		Destination: w.UserID,
		WalletID:    w.ID,
		Body:        body,
	})
	if err != nil {
		m.logger.Warn("notifier.Send", "kind", kind, "wallet_id", w.ID, "err", err)
	}
}

func callChain[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

type outcome int

const (
	unchanged outcome = iota
	completed
	failed
	processing
	deposited
	synced
	skipped
)

type tally struct {
	mu  sync.Mutex
	res CycleResult
}

func (t *tally) record(o outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.res.Errors++
		return
	}
	switch o {
	case completed:
		t.res.Confirmed++
	case failed:
		t.res.Failed++
	case processing:
		t.res.Processing++
	case deposited:
		t.res.Deposits++
	case synced:
		t.res.Synced++
	case skipped:
		t.res.Skipped++
	}
}

func (t *tally) add(fn func(*CycleResult)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.res)
}

func (t *tally) result() CycleResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res
}
