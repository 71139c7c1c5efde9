// Package engine ties the ledger and its derived views together.
//
// Every write follows the same protocol: lock the affected users, validate
// against the in-memory ledger, commit one storage batch, then apply the
// change to the ledger, the balances and the feeds. A write that fails before
// the commit leaves no trace; readers holding a user's read lock see either
// all or none of a write touching that user.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmynk/splitledger/internal/balance"
	"github.com/mmynk/splitledger/internal/feed"
	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/stats"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/task"
)

// Config tunes engine behavior.
type Config struct {
	DefaultCurrency string
	DefaultTimezone *time.Location
	IdempotencyTTL  time.Duration
	// ClaimLease bounds how long a request id stays claimed by an attempt
	// that never finished.
	ClaimLease time.Duration
	// StorageRetries bounds attempts for transient storage failures.
	StorageRetries int
	// RetryInitialInterval is the first backoff delay.
	RetryInitialInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "USD"
	}
	if c.DefaultTimezone == nil {
		c.DefaultTimezone = time.UTC
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = time.Minute
	}
	if c.StorageRetries <= 0 {
		c.StorageRetries = 5
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 25 * time.Millisecond
	}
}

// Engine serves the ledger's commands and queries. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	store   storage.Store
	keys    idempotency.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	locks *keyedLocks
	// epoch is held shared by writers and exclusively by Rebuild.
	epoch sync.RWMutex

	ledger   *ledger.Ledger
	balances atomic.Pointer[balance.Aggregator]
	stats    *stats.Aggregator
	feed     *feed.Builder
	groups   *groupRegistry

	usersMu sync.RWMutex
	users   map[string]*models.User
	emails  map[string]string

	rebuilds singleflight.Group

	tasksMu sync.Mutex
	tasks   []*task.Task
}

// Option configures an Engine.
type Option func(*Engine)

// WithIdempotencyStore overrides where request IDs are tracked. By default
// the engine uses the storage backend when it implements idempotency.Store.
func WithIdempotencyStore(s idempotency.Store) Option {
	return func(e *Engine) { e.keys = s }
}

// WithMetrics records engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over store and replays its contents.
func New(ctx context.Context, store storage.Store, cfg Config, opts ...Option) (*Engine, error) {
	cfg.setDefaults()
	e := &Engine{
		cfg:    cfg,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		locks:  newKeyedLocks(),
		groups: newGroupRegistry(),
		users:  make(map[string]*models.User),
		emails: make(map[string]string),
	}
	if keys, ok := store.(idempotency.Store); ok {
		e.keys = keys
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.keys == nil {
		return nil, fmt.Errorf("engine: no idempotency store configured")
	}

	e.ledger = ledger.New(e.groups, ledger.WithClock(e.now))
	e.feed = feed.NewBuilder(feed.WithClock(e.now))
	e.stats = stats.New(e.ledger)
	e.balances.Store(balance.New())

	if err := e.replay(ctx); err != nil {
		return nil, fmt.Errorf("engine: replay: %w", err)
	}
	if r, ok := e.keys.(idempotency.PendingReleaser); ok {
		n, err := r.ReleasePending(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: release pending request ids: %w", err)
		}
		if n > 0 {
			e.logger.Info("Released request ids left pending by a previous run", "count", n)
		}
	}
	return e, nil
}

// replay rebuilds every in-memory view from the store.
func (e *Engine) replay(ctx context.Context) error {
	start := time.Now()

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		e.cacheUser(u)
	}

	groups, err := e.store.Groups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	memberships, err := e.store.Memberships(ctx)
	if err != nil {
		return fmt.Errorf("load memberships: %w", err)
	}
	e.groups.load(groups, memberships)

	events, err := e.store.Events(ctx)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	for _, evt := range events {
		if err := e.replayEvent(evt); err != nil {
			return fmt.Errorf("event %d: %w", evt.Seq, err)
		}
	}
	agg, err := balance.Recompute(e.ledger.All())
	if err != nil {
		return err
	}
	e.balances.Store(agg)

	activities, err := e.store.Activities(ctx)
	if err != nil {
		return fmt.Errorf("load activities: %w", err)
	}
	if err := e.feed.Append(activities...); err != nil {
		return fmt.Errorf("restore feeds: %w", err)
	}
	watermarks, err := e.store.Watermarks(ctx)
	if err != nil {
		return fmt.Errorf("load watermarks: %w", err)
	}
	for _, wm := range watermarks {
		e.feed.SetWatermark(wm)
	}

	e.logger.Info("Engine state restored",
		"users", len(users),
		"groups", len(groups),
		"events", len(events),
		"activities", len(activities),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (e *Engine) replayEvent(evt storage.LedgerEvent) error {
	switch evt.Kind {
	case storage.EventExpense:
		if evt.Expense == nil {
			return models.Consistencyf("expense event without expense")
		}
		return e.ledger.CommitExpense(*evt.Expense)
	case storage.EventCorrection:
		if evt.Correction == nil || evt.Expense == nil {
			return models.Consistencyf("correction event without payload")
		}
		return e.ledger.CommitCorrection(*evt.Correction, *evt.Expense)
	case storage.EventPayment:
		if evt.Payment == nil {
			return models.Consistencyf("payment event without payment")
		}
		_, err := e.ledger.CommitPayment(*evt.Payment)
		return err
	default:
		return models.Consistencyf("unknown event kind %q", evt.Kind)
	}
}

// StartTasks schedules the integrity check and the idempotency key sweeper.
// A zero interval disables the task. Close stops them.
func (e *Engine) StartTasks(integrityInterval, sweepInterval time.Duration) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	if integrityInterval > 0 {
		e.tasks = append(e.tasks, task.Every("integrity-check", integrityInterval, func(ctx context.Context) error {
			_, err := e.Rebuild(ctx)
			return err
		}))
	}
	if sweepInterval > 0 {
		e.tasks = append(e.tasks, task.Every("idempotency-sweep", sweepInterval, func(ctx context.Context) error {
			n, err := e.keys.Sweep(ctx, e.now())
			if err != nil {
				return err
			}
			if n > 0 {
				e.logger.Info("Expired idempotency keys removed", "count", n)
			}
			return nil
		}))
	}
}

// Close stops background tasks. The store is owned by the caller.
func (e *Engine) Close() {
	e.tasksMu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.tasksMu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}

// Ping reports whether storage is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) aggregator() *balance.Aggregator {
	return e.balances.Load()
}
