package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/eventflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

var ErrNotFound = errors.New("not found")

type IsolationLevel string

const (
	ReadCommitted  IsolationLevel = "read committed"
	RepeatableRead IsolationLevel = "repeatable read"
	Serializable   IsolationLevel = "serializable"
)

type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// Store opens transactions. fn's error rolls the transaction back and is
// returned unchanged; a nil error commits.
type Store interface {
	WithTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error
	Close()
}

// Tx is every query the engine runs. All reads and writes filter on tenant,
// except the List*Due style sweeps used by background executors.
type Tx interface {
	ExecutionStore
	EventStore
	ActionStore
	SyncPointStore
	TimerStore
	TaskStore
}

type ExecutionStore interface {
	InsertExecution(ctx context.Context, e *model.WorkflowExecution) error
	GetExecution(ctx context.Context, tenant string, id string, forUpdate bool) (*model.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, e *model.WorkflowExecution) error
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev *model.WorkflowEvent) error
	GetEvent(ctx context.Context, tenant string, id string) (*model.WorkflowEvent, error)
	// ListEvents returns events of an execution in created_at, then seq order.
	ListEvents(ctx context.Context, tenant string, executionID string) ([]*model.WorkflowEvent, error)
	InsertProcessing(ctx context.Context, p *model.WorkflowEventProcessing) error
	GetProcessing(ctx context.Context, tenant string, eventID string, forUpdate bool) (*model.WorkflowEventProcessing, error)
	UpdateProcessing(ctx context.Context, p *model.WorkflowEventProcessing) error
	ListProcessingByStatus(ctx context.Context, status model.ProcessingStatus, updatedBefore time.Time, limit int) ([]*model.WorkflowEventProcessing, error)
}

type ActionStore interface {
	InsertActionResult(ctx context.Context, r *model.WorkflowActionResult) error
	GetActionResultByKey(ctx context.Context, tenant string, key string, forUpdate bool) (*model.WorkflowActionResult, error)
	UpdateActionResult(ctx context.Context, r *model.WorkflowActionResult) error
	ListActionResults(ctx context.Context, tenant string, executionID string, eventID string) ([]*model.WorkflowActionResult, error)
	InsertActionDependency(ctx context.Context, d *model.WorkflowActionDependency) error
	ListActionDependencies(ctx context.Context, tenant string, executionID string, eventID string) ([]*model.WorkflowActionDependency, error)
}

type SyncPointStore interface {
	InsertSyncPoint(ctx context.Context, s *model.WorkflowSyncPoint) error
	GetSyncPoint(ctx context.Context, tenant string, id string, forUpdate bool) (*model.WorkflowSyncPoint, error)
	GetSyncPointByEvent(ctx context.Context, tenant string, executionID string, eventID string) (*model.WorkflowSyncPoint, error)
	UpdateSyncPoint(ctx context.Context, s *model.WorkflowSyncPoint) error
}

type TimerStore interface {
	InsertTimer(ctx context.Context, t *model.WorkflowTimer) error
	GetTimer(ctx context.Context, tenant string, id string, forUpdate bool) (*model.WorkflowTimer, error)
	UpdateTimer(ctx context.Context, t *model.WorkflowTimer) error
	ListActiveTimers(ctx context.Context, tenant string, executionID string) ([]*model.WorkflowTimer, error)
	ListDueTimers(ctx context.Context, now time.Time, limit int) ([]*model.WorkflowTimer, error)
}

type TaskStore interface {
	// EnsureTaskDefinition inserts def unless (tenant, task_type) exists and
	// returns the stored row either way.
	EnsureTaskDefinition(ctx context.Context, def *model.TaskDefinition) (*model.TaskDefinition, error)
	InsertTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, tenant string, id string, forUpdate bool) (*model.Task, error)
	UpdateTask(ctx context.Context, t *model.Task) error
	InsertTaskHistory(ctx context.Context, h *model.TaskHistory) error
	ListTaskHistory(ctx context.Context, tenant string, taskID string) ([]*model.TaskHistory, error)
	ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]*model.Task, error)
}
