package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _ Executor = new(eventExecutor)

type EventConfig struct {
	Consumer  string
	BatchSize int
	// Parallelism bounds how many deliveries of one batch are handled at
	// once. Deliveries of the same execution still serialize on its lock.
	Parallelism int
	Block       time.Duration
	MaxPause    time.Duration
}

// eventExecutor reads new entries for its consumer and hands them to the
// runtime.
type eventExecutor struct {
	name    string
	source  Source
	handler DeliveryHandler
	conf    EventConfig
	w       *util.Worker
}

func NewEventExecutor(id int, source Source, handler DeliveryHandler, conf EventConfig, wg *sync.WaitGroup) *eventExecutor {
	if conf.BatchSize <= 0 {
		conf.BatchSize = 10
	}
	if conf.Parallelism <= 0 {
		conf.Parallelism = 1
	}
	ex := &eventExecutor{
		name:    fmt.Sprintf("event-executor-%d", id),
		source:  source,
		handler: handler,
		conf:    conf,
	}
	ex.w = util.NewWorker(ex.name, wg, ex.handle, conf.MaxPause)
	return ex
}

func (ex *eventExecutor) Name() string {
	return ex.name
}

func (ex *eventExecutor) Start(ctx context.Context) {
	ex.w.Start(ctx)
}

func (ex *eventExecutor) Stop() {
	ex.w.Stop()
}

func (ex *eventExecutor) handle(ctx context.Context) (int, error) {
	deliveries, err := ex.source.Claim(ctx, ex.conf.Consumer, ex.conf.BatchSize, ex.conf.Block)
	if err != nil {
		return 0, err
	}
	dispatch(ctx, ex.handler, deliveries, ex.conf.Parallelism)
	return len(deliveries), nil
}

// dispatch handles deliveries with at most parallelism in flight. A failed
// delivery stays pending on the stream; the rest of the batch still runs.
func dispatch(ctx context.Context, handler DeliveryHandler, deliveries []eventlog.Delivery, parallelism int) {
	var g errgroup.Group
	g.SetLimit(parallelism)
	for _, d := range deliveries {
		g.Go(func() error {
			if err := handler.HandleDelivery(ctx, d); err != nil {
				logger.Error("error handling delivery", zap.String("entryId", d.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
