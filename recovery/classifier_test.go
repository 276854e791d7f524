package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	opts := Options{MaxRetries: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second}
	base := errors.New("boom")
	for scenario, tc := range map[string]struct {
		err       error
		category  Category
		strategy  Strategy
		retryable bool
	}{
		"lock acquisition": {Wrap(KindLock, "acquire", base), CategoryContention, StrategyRetryBackoff, true},
		"lock timeout":     {Wrap(KindLockTimeout, "acquire", base), CategoryContention, StrategyRetryBackoff, true},
		"lock release":     {Wrap(KindLockRelease, "release", base), CategoryRecoverable, StrategyRetryImmediate, true},
		"transaction":      {Wrap(KindTransaction, "tx", base), CategoryConsistency, StrategyRetryBackoff, true},
		"internal":         {Wrap(KindInternal, "", base), CategoryPermanent, StrategyManual, false},
		"constraint":       {Wrap(KindConstraint, "", base), CategoryConsistency, StrategyManual, false},
		"permission":       {Wrap(KindPermission, "", base), CategoryPermanent, StrategyManual, false},
		"external":         {External(base), CategoryExternal, StrategyRetryBackoff, true},
		"throttled":        {Throttled(base), CategoryExternal, StrategyRetryFixedDelay, true},
		"deadline":         {fmt.Errorf("call: %w", context.DeadlineExceeded), CategoryTransient, StrategyRetryBackoff, true},
		"net op error":     {&net.OpError{Op: "dial", Err: errors.New("refused")}, CategoryTransient, StrategyRetryBackoff, true},
		"unknown":          {base, CategoryUnknown, StrategyRetryBackoff, true},
		"skip":             {Skip(base), CategoryPermanent, StrategySkip, false},
		"compensate":       {Compensate(base), CategoryPermanent, StrategyCompensate, false},
		"abort":            {Abort(base), CategoryPermanent, StrategyAbort, false},
		"constraint inside transaction": {
			Wrap(KindTransaction, "tx", Wrap(KindConstraint, "insert", base)),
			CategoryConsistency, StrategyManual, false,
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			c := Classify(tc.err, 1, opts)
			require.Equal(t, tc.category, c.Category)
			require.Equal(t, tc.strategy, c.Strategy)
			require.Equal(t, tc.retryable, c.IsRetryable)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	opts := DefaultOptions()
	err := Wrap(KindConnection, "dial", errors.New("reset"))
	first := Classify(err, 2, opts)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, Classify(err, 2, opts))
	}
}

func TestClassifyForcesManualWhenExhausted(t *testing.T) {
	opts := Options{MaxRetries: 3}
	for _, kind := range []Kind{KindLock, KindConnection, KindTransaction, KindLockRelease} {
		c := Classify(Wrap(kind, "", errors.New("x")), 3, opts)
		require.False(t, c.IsRetryable, kind)
		require.Equal(t, StrategyManual, c.Strategy, kind)

		c = Classify(Wrap(kind, "", errors.New("x")), 2, opts)
		require.True(t, c.IsRetryable, kind)
	}
}

func TestFinal(t *testing.T) {
	base := errors.New("x")
	require.Equal(t, StrategySkip, Final(Skip(base)))
	require.Equal(t, StrategyCompensate, Final(Compensate(base)))
	require.Equal(t, StrategyAbort, Final(Abort(Wrap(KindConnection, "", base))))
	require.Equal(t, StrategyManual, Final(Wrap(KindConnection, "", base)))
	require.Equal(t, StrategyManual, Final(Wrap(KindValidation, "", base)))
	require.Equal(t, StrategyManual, Final(base))
}

func TestBackoffDelay(t *testing.T) {
	opts := Options{InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 40; attempt++ {
		d := BackoffDelay(attempt, opts)
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, opts.MaxDelay)
		prev = d
	}
	require.Equal(t, 100*time.Millisecond, BackoffDelay(1, opts))
	require.Equal(t, 200*time.Millisecond, BackoffDelay(2, opts))
	require.Equal(t, 400*time.Millisecond, BackoffDelay(3, opts))
	require.Equal(t, 2*time.Second, BackoffDelay(10, opts))
}

func TestBackoffDelayWithoutCap(t *testing.T) {
	opts := Options{InitialDelay: time.Second}
	prev := time.Duration(0)
	for _, attempt := range []int{1, 2, 10, 63, 64, 100, 1 << 20} {
		d := BackoffDelay(attempt, opts)
		require.Greater(t, d, time.Duration(0), attempt)
		require.GreaterOrEqual(t, d, prev, attempt)
		require.LessOrEqual(t, d, time.Hour, attempt)
		prev = d
	}
	opts.Jitter = true
	require.LessOrEqual(t, Delay(StrategyRetryBackoff, 1000, opts), time.Hour)
}

func TestDelayWithJitter(t *testing.T) {
	opts := Options{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: true}
	for i := 0; i < 200; i++ {
		d := Delay(StrategyRetryBackoff, 2, opts)
		require.GreaterOrEqual(t, d, 160*time.Millisecond)
		require.LessOrEqual(t, d, 240*time.Millisecond)

		d = Delay(StrategyRetryBackoff, 20, opts)
		require.LessOrEqual(t, d, opts.MaxDelay)
	}
	require.Equal(t, time.Duration(0), Delay(StrategyRetryImmediate, 3, opts))
	require.Equal(t, opts.InitialDelay, Delay(StrategyRetryFixedDelay, 3, opts))
}

func TestWithRetry(t *testing.T) {
	opts := Options{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	for scenario, fn := range map[string]func(t *testing.T){
		"succeeds after transient failure": func(t *testing.T) {
			calls := 0
			err := WithRetry(context.Background(), opts, func(ctx context.Context) error {
				calls++
				if calls == 1 {
					return Wrap(KindConnection, "charge", errors.New("connection reset"))
				}
				return nil
			})
			require.NoError(t, err)
			require.Equal(t, 2, calls)
		},
		"stops on permanent error": func(t *testing.T) {
			calls := 0
			perm := Wrap(KindInternal, "charge", errors.New("nil map"))
			err := WithRetry(context.Background(), opts, func(ctx context.Context) error {
				calls++
				return perm
			})
			require.ErrorIs(t, err, perm)
			require.Equal(t, 1, calls)
		},
		"gives up at max retries": func(t *testing.T) {
			calls := 0
			retried := 0
			o := opts
			o.OnRetry = func(int, error, Classification, time.Duration) { retried++ }
			err := WithRetry(context.Background(), o, func(ctx context.Context) error {
				calls++
				return Wrap(KindTimeout, "call", errors.New("slow"))
			})
			require.Error(t, err)
			require.Equal(t, 3, calls)
			require.Equal(t, 2, retried)
		},
		"returns on context cancel": func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			o := opts
			o.MaxRetries = 100
			o.InitialDelay = time.Hour
			o.MaxDelay = time.Hour
			calls := 0
			go cancel()
			err := WithRetry(ctx, o, func(ctx context.Context) error {
				calls++
				return Wrap(KindLock, "acquire", errors.New("held"))
			})
			require.Error(t, err)
			require.Equal(t, 1, calls)
		},
	} {
		t.Run(scenario, fn)
	}
}

func TestDo(t *testing.T) {
	opts := Options{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	v, err := Do(context.Background(), opts, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, Wrap(KindLockRelease, "release", errors.New("x"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}
