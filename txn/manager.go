package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eventflow/lock"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
	"go.uber.org/zap"
)

const keyPrefix = "transaction:"

type Options struct {
	LockWait  time.Duration
	LockTTL   time.Duration
	Isolation persistence.IsolationLevel
	ReadOnly  bool
	// Retry, when set, reruns the whole unit (lock and transaction) on
	// retryable failures.
	Retry *recovery.Options
}

type Option func(*Options)

func WithLockWait(d time.Duration) Option {
	return func(o *Options) { o.LockWait = d }
}

func WithLockTTL(d time.Duration) Option {
	return func(o *Options) { o.LockTTL = d }
}

func WithIsolation(level persistence.IsolationLevel) Option {
	return func(o *Options) { o.Isolation = level }
}

func ReadOnly() Option {
	return func(o *Options) { o.ReadOnly = true }
}

func WithRetry(opts recovery.Options) Option {
	return func(o *Options) { o.Retry = &opts }
}

// Manager runs a function inside a database transaction while holding the
// distributed lock transaction:<resourceKey>.
type Manager struct {
	store    persistence.Store
	locker   *lock.DistributedLock
	defaults Options
}

func NewManager(store persistence.Store, locker *lock.DistributedLock, defaults Options) *Manager {
	if defaults.Isolation == "" {
		defaults.Isolation = persistence.RepeatableRead
	}
	return &Manager{store: store, locker: locker, defaults: defaults}
}

func (m *Manager) Store() persistence.Store {
	return m.store
}

func (m *Manager) Execute(ctx context.Context, resourceKey string, fn func(ctx context.Context, tx persistence.Tx) error, opts ...Option) error {
	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if o.Retry == nil {
		return m.execute(ctx, resourceKey, fn, o)
	}
	return recovery.WithRetry(ctx, *o.Retry, func(ctx context.Context) error {
		return m.execute(ctx, resourceKey, fn, o)
	})
}

func (m *Manager) execute(ctx context.Context, resourceKey string, fn func(ctx context.Context, tx persistence.Tx) error, o Options) error {
	key := keyPrefix + resourceKey
	owner := uuid.NewString()
	lockOpts := []lock.Option{lock.ThrowOnFailure()}
	if o.LockWait > 0 {
		lockOpts = append(lockOpts, lock.WithWait(o.LockWait))
	}
	if o.LockTTL > 0 {
		lockOpts = append(lockOpts, lock.WithTTL(o.LockTTL))
	}
	if _, err := m.locker.Acquire(ctx, key, owner, lockOpts...); err != nil {
		return err
	}
	defer func() {
		ok, err := m.locker.Release(context.WithoutCancel(ctx), key, owner)
		if err != nil {
			logger.Error("error releasing transaction lock", zap.String("key", key), zap.Error(err))
		} else if !ok {
			logger.Warn("transaction lock expired before release", zap.String("key", key))
		}
	}()

	ttl := o.LockTTL
	if ttl <= 0 {
		ttl = m.locker.TTL()
	}
	keeper := m.locker.Keep(ctx, key, owner, ttl)
	defer keeper.Stop()

	err := m.store.WithTx(keeper.Context(), persistence.TxOptions{Isolation: o.Isolation, ReadOnly: o.ReadOnly}, fn)
	if keeper.Lost() {
		return recovery.Errorf(recovery.KindTransaction, "txn.execute", "lock %s lost during transaction", key)
	}
	if err != nil {
		return recovery.Wrap(recovery.KindTransaction, "txn.execute", fmt.Errorf("%s: %w", resourceKey, err))
	}
	return nil
}

// ExecuteTransaction is Execute for functions that produce a value.
func ExecuteTransaction[T any](ctx context.Context, m *Manager, resourceKey string, fn func(ctx context.Context, tx persistence.Tx) (T, error), opts ...Option) (T, error) {
	var res T
	err := m.Execute(ctx, resourceKey, func(ctx context.Context, tx persistence.Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		res = v
		return nil
	}, opts...)
	return res, err
}
