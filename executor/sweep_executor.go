package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(sweepExecutor)

// sweepExecutor runs a SweepFunc on every tick until it comes back short.
type sweepExecutor struct {
	name      string
	sweep     SweepFunc
	batchSize int
	tw        *util.TickWorker
}

func newSweepExecutor(name string, interval time.Duration, batchSize int, sweep SweepFunc, wg *sync.WaitGroup) *sweepExecutor {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	ex := &sweepExecutor{name: name, sweep: sweep, batchSize: batchSize}
	ex.tw = util.NewTickWorker(name, interval, ex.handle, wg)
	return ex
}

// NewTimerExecutor fires due workflow timers.
func NewTimerExecutor(fire SweepFunc, interval time.Duration, batchSize int, wg *sync.WaitGroup) *sweepExecutor {
	return newSweepExecutor("timer-executor", interval, batchSize, fire, wg)
}

// NewTaskExpiryExecutor expires human tasks past their due date.
func NewTaskExpiryExecutor(expire SweepFunc, interval time.Duration, batchSize int, wg *sync.WaitGroup) *sweepExecutor {
	return newSweepExecutor("task-expiry-executor", interval, batchSize, expire, wg)
}

// NewRepublishExecutor publishes events that were committed but never
// reached the stream, once they are older than age.
func NewRepublishExecutor(republish func(ctx context.Context, olderThan time.Duration, limit int) (int, error), age time.Duration, interval time.Duration, batchSize int, wg *sync.WaitGroup) *sweepExecutor {
	return newSweepExecutor("republish-executor", interval, batchSize, func(ctx context.Context, limit int) (int, error) {
		return republish(ctx, age, limit)
	}, wg)
}

func (ex *sweepExecutor) Name() string {
	return ex.name
}

func (ex *sweepExecutor) Start(ctx context.Context) {
	if ex.IsRunning() {
		return
	}
	ex.tw.Start(ctx)
}

func (ex *sweepExecutor) IsRunning() bool {
	return ex.tw.IsRunning()
}

func (ex *sweepExecutor) Stop() {
	ex.tw.Stop()
}

func (ex *sweepExecutor) handle(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := ex.sweep(ctx, ex.batchSize)
		if err != nil {
			logger.Error("error in sweep", zap.String("executor", ex.name), zap.Error(err))
			return
		}
		if n > 0 {
			logger.Debug("sweep handled items", zap.String("executor", ex.name), zap.Int("count", n))
		}
		if n < ex.batchSize {
			return
		}
	}
}
