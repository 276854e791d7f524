package syncpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/metrics"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"go.uber.org/zap"
)

// ErrClosed is returned when a completed or failed sync point is updated.
var ErrClosed = errors.New("sync point is closed")

var readCommitted = persistence.TxOptions{Isolation: persistence.ReadCommitted}

// Coordinator tracks the join of the actions one event fans out to.
// Counters are updated with a locked read-modify-write so concurrent
// completions never lose an increment.
type Coordinator struct {
	store   persistence.Store
	metrics *metrics.Metrics
}

func New(store persistence.Store, m *metrics.Metrics) *Coordinator {
	return &Coordinator{store: store, metrics: m}
}

// CreateTx returns the sync point of (execution, event), creating it on
// first call.
func (c *Coordinator) CreateTx(ctx context.Context, tx persistence.Tx, exec *model.WorkflowExecution, eventID string, total int) (*model.WorkflowSyncPoint, error) {
	if total <= 0 {
		return nil, fmt.Errorf("sync point needs at least one action, got %d", total)
	}
	existing, err := tx.GetSyncPointByEvent(ctx, exec.Tenant, exec.ID, eventID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	sp := &model.WorkflowSyncPoint{
		ID:           uuid.NewString(),
		Tenant:       exec.Tenant,
		ExecutionID:  exec.ID,
		EventID:      eventID,
		SyncType:     model.SyncTypeJoin,
		Status:       model.SyncPending,
		TotalActions: total,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.InsertSyncPoint(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

func (c *Coordinator) Create(ctx context.Context, exec *model.WorkflowExecution, eventID string, total int) (string, error) {
	var id string
	err := c.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		sp, err := c.CreateTx(ctx, tx, exec, eventID, total)
		if err != nil {
			return err
		}
		id = sp.ID
		return nil
	})
	return id, err
}

func (c *Coordinator) IncrementCompletedTx(ctx context.Context, tx persistence.Tx, tenant string, syncID string) (*model.WorkflowSyncPoint, error) {
	sp, err := tx.GetSyncPoint(ctx, tenant, syncID, true)
	if err != nil {
		return nil, err
	}
	if sp.Status != model.SyncPending {
		return sp, fmt.Errorf("%w: %s is %s", ErrClosed, syncID, sp.Status)
	}
	sp.CompletedActions++
	if sp.CompletedActions >= sp.TotalActions {
		sp.CompletedActions = sp.TotalActions
		now := time.Now().UTC()
		sp.Status = model.SyncCompleted
		sp.CompletedAt = &now
	}
	if err := tx.UpdateSyncPoint(ctx, sp); err != nil {
		return nil, err
	}
	if sp.Status == model.SyncCompleted {
		logger.Debug("sync point completed", zap.String("syncId", sp.ID), zap.String("executionId", sp.ExecutionID))
		c.metrics.SyncPointClosed(string(model.SyncCompleted))
	}
	return sp, nil
}

func (c *Coordinator) IncrementCompleted(ctx context.Context, tenant string, syncID string) (*model.WorkflowSyncPoint, error) {
	var out *model.WorkflowSyncPoint
	err := c.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		out, err = c.IncrementCompletedTx(ctx, tx, tenant, syncID)
		return err
	})
	return out, err
}

func (c *Coordinator) MarkFailedTx(ctx context.Context, tx persistence.Tx, tenant string, syncID string) (*model.WorkflowSyncPoint, error) {
	sp, err := tx.GetSyncPoint(ctx, tenant, syncID, true)
	if err != nil {
		return nil, err
	}
	if sp.Status != model.SyncPending {
		return sp, fmt.Errorf("%w: %s is %s", ErrClosed, syncID, sp.Status)
	}
	now := time.Now().UTC()
	sp.Status = model.SyncFailed
	sp.CompletedAt = &now
	if err := tx.UpdateSyncPoint(ctx, sp); err != nil {
		return nil, err
	}
	logger.Info("sync point failed", zap.String("syncId", sp.ID), zap.String("executionId", sp.ExecutionID))
	c.metrics.SyncPointClosed(string(model.SyncFailed))
	return sp, nil
}

// ReopenTx moves a failed sync point back to pending so a requeued event
// can run its unfinished branches. Finished branches keep their count.
func (c *Coordinator) ReopenTx(ctx context.Context, tx persistence.Tx, tenant string, syncID string) (*model.WorkflowSyncPoint, error) {
	sp, err := tx.GetSyncPoint(ctx, tenant, syncID, true)
	if err != nil {
		return nil, err
	}
	if sp.Status != model.SyncFailed {
		return sp, nil
	}
	sp.Status = model.SyncPending
	sp.CompletedAt = nil
	if err := tx.UpdateSyncPoint(ctx, sp); err != nil {
		return nil, err
	}
	logger.Info("sync point reopened", zap.String("syncId", sp.ID), zap.String("executionId", sp.ExecutionID))
	return sp, nil
}

func (c *Coordinator) MarkFailed(ctx context.Context, tenant string, syncID string) error {
	return c.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		_, err := c.MarkFailedTx(ctx, tx, tenant, syncID)
		return err
	})
}

func (c *Coordinator) Get(ctx context.Context, tenant string, syncID string) (*model.WorkflowSyncPoint, error) {
	var sp *model.WorkflowSyncPoint
	err := c.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		sp, err = tx.GetSyncPoint(ctx, tenant, syncID, false)
		return err
	})
	return sp, err
}

// Wait polls until the sync point leaves pending or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, tenant string, syncID string, interval time.Duration) (*model.WorkflowSyncPoint, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sp, err := c.Get(ctx, tenant, syncID)
		if err != nil {
			return nil, err
		}
		if sp.Status != model.SyncPending {
			return sp, nil
		}
		select {
		case <-ctx.Done():
			return sp, ctx.Err()
		case <-ticker.C:
		}
	}
}
