package executor

import (
	"context"
	"time"

	"github.com/mohitkumar/eventflow/eventlog"
)

type Executor interface {
	Name() string
	Start(ctx context.Context)
	Stop()
}

// DeliveryHandler applies and settles one stream entry.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, d eventlog.Delivery) error
}

// Source hands stream entries to a consumer of the group.
type Source interface {
	Claim(ctx context.Context, consumer string, count int, block time.Duration) ([]eventlog.Delivery, error)
	Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]eventlog.Delivery, error)
}

// SweepFunc handles up to limit due items and reports how many it handled.
type SweepFunc func(ctx context.Context, limit int) (int, error)
