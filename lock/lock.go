package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/recovery"
	"go.uber.org/zap"
)

var (
	ErrNotAcquired = errors.New("lock not acquired")
	ErrTimeout     = errors.New("lock wait timed out")
)

// Store is the shared key value store holding lock entries. Values are owner
// tokens; every mutation of an existing entry compares the token first.
type Store interface {
	SetIfAbsent(ctx context.Context, key string, token string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, token string) (bool, error)
	CompareAndExpire(ctx context.Context, key string, token string, ttl time.Duration) (bool, error)
}

type Config struct {
	TTL          time.Duration
	WaitTime     time.Duration
	PollInterval time.Duration
	// Observe, when set, is told the outcome of every Acquire.
	Observe func(acquired bool, waited time.Duration)
}

func DefaultConfig() Config {
	return Config{
		TTL:          30 * time.Second,
		WaitTime:     5 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

type Options struct {
	WaitTime       time.Duration
	TTL            time.Duration
	ThrowOnFailure bool
	Heartbeat      bool
}

type Option func(*Options)

func WithWait(d time.Duration) Option {
	return func(o *Options) { o.WaitTime = d }
}

func WithTTL(d time.Duration) Option {
	return func(o *Options) { o.TTL = d }
}

// ThrowOnFailure makes Acquire return an error instead of false.
func ThrowOnFailure() Option {
	return func(o *Options) { o.ThrowOnFailure = true }
}

// WithHeartbeat keeps extending the lock while WithLock runs.
func WithHeartbeat() Option {
	return func(o *Options) { o.Heartbeat = true }
}

type DistributedLock struct {
	store Store
	conf  Config
}

func New(store Store, conf Config) *DistributedLock {
	def := DefaultConfig()
	if conf.TTL <= 0 {
		conf.TTL = def.TTL
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = def.PollInterval
	}
	if conf.WaitTime < 0 {
		conf.WaitTime = 0
	}
	return &DistributedLock{store: store, conf: conf}
}

func (l *DistributedLock) options(opts []Option) Options {
	o := Options{WaitTime: l.conf.WaitTime, TTL: l.conf.TTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.TTL <= 0 {
		o.TTL = l.conf.TTL
	}
	return o
}

// Acquire tries to take key for owner, polling until the wait time elapses.
func (l *DistributedLock) Acquire(ctx context.Context, key string, owner string, opts ...Option) (bool, error) {
	o := l.options(opts)
	start := time.Now()
	deadline := start.Add(o.WaitTime)
	for {
		ok, err := l.store.SetIfAbsent(ctx, key, owner, o.TTL)
		if err != nil {
			l.observe(false, time.Since(start))
			return false, recovery.Wrap(recovery.KindConnection, "lock.acquire", err)
		}
		if ok {
			l.observe(true, time.Since(start))
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.observe(false, time.Since(start))
			if !o.ThrowOnFailure {
				return false, nil
			}
			if o.WaitTime == 0 {
				return false, recovery.Wrap(recovery.KindLock, "lock.acquire", fmt.Errorf("%w: %s", ErrNotAcquired, key))
			}
			return false, recovery.Wrap(recovery.KindLockTimeout, "lock.acquire", fmt.Errorf("%w: %s after %s", ErrTimeout, key, o.WaitTime))
		}
		wait := l.conf.PollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.observe(false, time.Since(start))
			return false, recovery.Wrap(recovery.KindCanceled, "lock.acquire", ctx.Err())
		case <-timer.C:
		}
	}
}

// Release deletes key if owner still holds it.
func (l *DistributedLock) Release(ctx context.Context, key string, owner string) (bool, error) {
	ok, err := l.store.CompareAndDelete(ctx, key, owner)
	if err != nil {
		return false, recovery.Wrap(recovery.KindLockRelease, "lock.release", err)
	}
	return ok, nil
}

// Extend resets the ttl of key if owner still holds it.
func (l *DistributedLock) Extend(ctx context.Context, key string, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.store.CompareAndExpire(ctx, key, owner, ttl)
	if err != nil {
		return false, recovery.Wrap(recovery.KindLockRelease, "lock.extend", err)
	}
	return ok, nil
}

// WithLock acquires key or fails, runs fn and always releases the lock.
func (l *DistributedLock) WithLock(ctx context.Context, key string, owner string, fn func(ctx context.Context) error, opts ...Option) error {
	opts = append(opts, ThrowOnFailure())
	o := l.options(opts)
	if _, err := l.Acquire(ctx, key, owner, opts...); err != nil {
		return err
	}
	defer func() {
		ok, err := l.Release(context.WithoutCancel(ctx), key, owner)
		if err != nil {
			logger.Error("error releasing lock", zap.String("key", key), zap.String("owner", owner), zap.Error(err))
		} else if !ok {
			logger.Warn("lock was no longer held at release", zap.String("key", key), zap.String("owner", owner))
		}
	}()
	if o.Heartbeat {
		k := l.Keep(ctx, key, owner, o.TTL)
		defer k.Stop()
		ctx = k.Context()
	}
	return fn(ctx)
}

func (l *DistributedLock) observe(acquired bool, waited time.Duration) {
	if l.conf.Observe != nil {
		l.conf.Observe(acquired, waited)
	}
}

func (l *DistributedLock) TTL() time.Duration {
	return l.conf.TTL
}
