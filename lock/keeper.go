package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohitkumar/eventflow/logger"
	"go.uber.org/zap"
)

// Keeper extends a held lock every ttl/3 until stopped. When the lock is lost
// the context returned by Context is canceled.
type Keeper struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	lost   atomic.Bool
	once   sync.Once
}

func (l *DistributedLock) Keep(ctx context.Context, key string, owner string, ttl time.Duration) *Keeper {
	kctx, cancel := context.WithCancel(ctx)
	k := &Keeper{ctx: kctx, cancel: cancel, done: make(chan struct{})}
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	go func() {
		defer close(k.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-kctx.Done():
				return
			case <-ticker.C:
				ok, err := l.Extend(kctx, key, owner, ttl)
				if err != nil {
					if kctx.Err() != nil {
						return
					}
					logger.Warn("error extending lock", zap.String("key", key), zap.Error(err))
					continue
				}
				if !ok {
					logger.Error("lock lost while held", zap.String("key", key), zap.String("owner", owner))
					k.lost.Store(true)
					cancel()
					return
				}
			}
		}
	}()
	return k
}

func (k *Keeper) Context() context.Context {
	return k.ctx
}

func (k *Keeper) Lost() bool {
	return k.lost.Load()
}

func (k *Keeper) Stop() {
	k.once.Do(func() {
		k.cancel()
		<-k.done
	})
}
