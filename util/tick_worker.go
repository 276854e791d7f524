package util

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohitkumar/eventflow/logger"
	"go.uber.org/zap"
)

type TickWorker struct {
	stop         chan struct{}
	once         sync.Once
	tickInterval time.Duration
	wg           *sync.WaitGroup
	name         string
	fn           func(ctx context.Context)
	running      atomic.Bool
}

func NewTickWorker(name string, interval time.Duration, fn func(ctx context.Context), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		stop:         make(chan struct{}),
		tickInterval: interval,
		wg:           wg,
		fn:           fn,
		name:         name,
	}
}

func (tw *TickWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(tw.tickInterval)
	tw.running.Store(true)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer tw.running.Store(false)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tw.fn(ctx)
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	logger.Info("executor started", zap.String("worker", tw.name))
}

func (tw *TickWorker) Stop() {
	tw.once.Do(func() { close(tw.stop) })
}

func (tw *TickWorker) IsRunning() bool {
	return tw.running.Load()
}
