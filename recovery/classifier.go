package recovery

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"
)

type Category string

const (
	CategoryTransient   Category = "transient"
	CategoryRecoverable Category = "recoverable"
	CategoryPermanent   Category = "permanent"
	CategoryContention  Category = "contention"
	CategoryConsistency Category = "consistency"
	CategoryExternal    Category = "external"
	CategoryUnknown     Category = "unknown"
)

type Strategy string

const (
	StrategyRetryImmediate  Strategy = "retry-immediate"
	StrategyRetryBackoff    Strategy = "retry-backoff"
	StrategyRetryFixedDelay Strategy = "retry-fixed-delay"
	StrategySkip            Strategy = "skip"
	StrategyCompensate      Strategy = "compensate"
	StrategyAbort           Strategy = "abort"
	StrategyManual          Strategy = "manual"
)

const jitterFactor = 0.2

// ceilingDelay bounds backoff when Options.MaxDelay is unset.
const ceilingDelay = time.Hour

type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       bool
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, c Classification, delay time.Duration)
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Jitter:       true,
	}
}

type Classification struct {
	Kind        Kind
	Category    Category
	Strategy    Strategy
	IsRetryable bool
	Description string
}

type rule struct {
	category    Category
	strategy    Strategy
	retryable   bool
	description string
}

var rules = map[Kind]rule{
	KindLock:        {CategoryContention, StrategyRetryBackoff, true, "lock acquisition failed"},
	KindLockTimeout: {CategoryContention, StrategyRetryBackoff, true, "lock wait timed out"},
	KindLockRelease: {CategoryRecoverable, StrategyRetryImmediate, true, "lock release or extend failed"},
	KindTransaction: {CategoryConsistency, StrategyRetryBackoff, true, "transaction failed"},
	KindConnection:  {CategoryTransient, StrategyRetryBackoff, true, "connection failure"},
	KindTimeout:     {CategoryTransient, StrategyRetryBackoff, true, "operation timed out"},
	KindExternal:    {CategoryExternal, StrategyRetryBackoff, true, "dependency unreachable"},
	KindThrottled:   {CategoryExternal, StrategyRetryFixedDelay, true, "dependency throttled"},
	KindConstraint:  {CategoryConsistency, StrategyManual, false, "constraint violation"},
	KindInternal:    {CategoryPermanent, StrategyManual, false, "internal error"},
	KindPermission:  {CategoryPermanent, StrategyManual, false, "permission denied"},
	KindValidation:  {CategoryPermanent, StrategyManual, false, "invalid input"},
	KindCanceled:    {CategoryPermanent, StrategyAbort, false, "operation canceled"},
	KindSkip:        {CategoryPermanent, StrategySkip, false, "failure marked skippable"},
	KindCompensate:  {CategoryPermanent, StrategyCompensate, false, "failure requires compensation"},
	KindAbort:       {CategoryPermanent, StrategyAbort, false, "failure aborts execution"},
}

var unknownRule = rule{CategoryUnknown, StrategyRetryBackoff, true, "unclassified error"}

// Classify maps err and the number of attempts already made to a recovery
// decision. It has no side effects and is deterministic.
func Classify(err error, attempt int, opts Options) Classification {
	kind := provenance(err)
	r, ok := rules[kind]
	if !ok {
		r = unknownRule
	}
	c := Classification{
		Kind:        kind,
		Category:    r.category,
		Strategy:    r.strategy,
		IsRetryable: r.retryable,
		Description: r.description,
	}
	if attempt >= opts.MaxRetries {
		c.IsRetryable = false
		c.Strategy = StrategyManual
		c.Description = r.description + ": retries exhausted"
	}
	return c
}

// Final is the strategy that applies once retrying has stopped: the error's
// own strategy for non retryable kinds, manual for retryable ones.
func Final(err error) Strategy {
	r, ok := rules[provenance(err)]
	if !ok || r.retryable {
		return StrategyManual
	}
	return r.strategy
}

// provenance picks the kind that decides the recovery. A non retryable kind
// anywhere in the chain wins over retryable wrappers around it.
func provenance(err error) Kind {
	ks := kinds(err)
	for _, k := range ks {
		if r, ok := rules[k]; ok && !r.retryable {
			return k
		}
	}
	if len(ks) > 0 {
		return ks[0]
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindConnection
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}
	return ""
}

// BackoffDelay is the un-jittered exponential delay for attempt (1 based),
// capped at opts.MaxDelay, or at an hour when MaxDelay is unset.
func BackoffDelay(attempt int, opts Options) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	limit := maxDelay(opts)
	d := opts.InitialDelay
	for i := 1; i < attempt && d > 0 && d < limit; i++ {
		if d >= limit/2 {
			d = limit
			break
		}
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

func maxDelay(opts Options) time.Duration {
	if opts.MaxDelay > 0 {
		return opts.MaxDelay
	}
	return ceilingDelay
}

// Delay returns how long to wait before the next attempt under strategy.
func Delay(strategy Strategy, attempt int, opts Options) time.Duration {
	switch strategy {
	case StrategyRetryImmediate:
		return 0
	case StrategyRetryFixedDelay:
		return min(opts.InitialDelay, maxDelay(opts))
	case StrategyRetryBackoff:
		d := BackoffDelay(attempt, opts)
		if opts.Jitter && d > 0 {
			delta := float64(d) * jitterFactor
			d = time.Duration(float64(d) - delta + rand.Float64()*2*delta)
			if limit := maxDelay(opts); d > limit {
				d = limit
			}
		}
		return d
	}
	return 0
}
