package recovery

import (
	"context"
	"time"

	"github.com/mohitkumar/eventflow/logger"
	"go.uber.org/zap"
)

// WithRetry calls fn until it succeeds or the classifier says stop. The error
// returned is the last one fn produced.
func WithRetry(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		c := Classify(err, attempt, opts)
		if !c.IsRetryable {
			return res, err
		}
		delay := Delay(c.Strategy, attempt, opts)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, c, delay)
		}
		logger.Debug("retrying after error",
			zap.Int("attempt", attempt),
			zap.String("category", string(c.Category)),
			zap.String("strategy", string(c.Strategy)),
			zap.Duration("delay", delay),
			zap.Error(err))
		if delay <= 0 {
			if ctx.Err() != nil {
				return res, err
			}
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, err
		case <-timer.C:
		}
	}
}
