package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(reclaimExecutor)

// reclaimExecutor takes over entries left pending by consumers that died
// or stalled for longer than minIdle.
type reclaimExecutor struct {
	consumer  string
	source    Source
	handler   DeliveryHandler
	minIdle   time.Duration
	batchSize int
	tw        *util.TickWorker
}

func NewReclaimExecutor(consumer string, source Source, handler DeliveryHandler, minIdle time.Duration, batchSize int, wg *sync.WaitGroup) *reclaimExecutor {
	ex := &reclaimExecutor{
		consumer:  consumer,
		source:    source,
		handler:   handler,
		minIdle:   minIdle,
		batchSize: batchSize,
	}
	interval := minIdle / 2
	if interval <= 0 {
		interval = time.Second
	}
	ex.tw = util.NewTickWorker(ex.Name(), interval, ex.handle, wg)
	return ex
}

func (ex *reclaimExecutor) Name() string {
	return "reclaim-executor"
}

func (ex *reclaimExecutor) Start(ctx context.Context) {
	if ex.IsRunning() {
		return
	}
	ex.tw.Start(ctx)
}

func (ex *reclaimExecutor) IsRunning() bool {
	return ex.tw.IsRunning()
}

func (ex *reclaimExecutor) Stop() {
	ex.tw.Stop()
}

func (ex *reclaimExecutor) handle(ctx context.Context) {
	deliveries, err := ex.source.Reclaim(ctx, ex.consumer, ex.minIdle, ex.batchSize)
	if err != nil {
		logger.Error("error while reclaiming stream entries", zap.Error(err))
		return
	}
	if len(deliveries) == 0 {
		return
	}
	logger.Info("reclaimed stream entries", zap.Int("count", len(deliveries)), zap.String("consumer", ex.consumer))
	dispatch(ctx, ex.handler, deliveries, 1)
}
