package util

import (
	"context"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/eventflow/logger"
	"go.uber.org/zap"
)

// PollFunc does one unit of work and reports how many items it handled.
type PollFunc func(ctx context.Context) (int, error)

// Worker calls a PollFunc in a loop. An empty or failed poll pauses the
// loop with exponential backoff; a productive poll resets it.
type Worker struct {
	name     string
	poll     PollFunc
	maxPause time.Duration
	stop     chan struct{}
	once     sync.Once
	wg       *sync.WaitGroup
}

func NewWorker(name string, wg *sync.WaitGroup, poll PollFunc, maxPause time.Duration) *Worker {
	if maxPause <= 0 {
		maxPause = time.Second
	}
	return &Worker{
		name:     name,
		poll:     poll,
		maxPause: maxPause,
		stop:     make(chan struct{}),
		wg:       wg,
	}
}

func (w *Worker) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = w.maxPause
	b.MaxElapsedTime = 0
	return b
}

func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b := w.newBackOff()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()
		for {
			select {
			case <-w.stop:
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			case <-ctx.Done():
				return
			default:
			}
			n, err := w.poll(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Error("error in worker poll", zap.String("worker", w.name), zap.Error(err))
			}
			if err == nil && n > 0 {
				b.Reset()
				continue
			}
			pause := b.NextBackOff()
			select {
			case <-time.After(pause):
			case <-w.stop:
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	logger.Info("worker started", zap.String("worker", w.name))
}

func (w *Worker) Stop() {
	w.once.Do(func() { close(w.stop) })
}
