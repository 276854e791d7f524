package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/analytics"
	"github.com/mohitkumar/eventflow/cache"
	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/mohitkumar/eventflow/lock"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/metadata"
	"github.com/mohitkumar/eventflow/metrics"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/mohitkumar/eventflow/syncpoint"
	"github.com/mohitkumar/eventflow/txn"
	"go.uber.org/zap"
)

const executionKeyPrefix = "execution:"

var readCommitted = persistence.TxOptions{Isolation: persistence.ReadCommitted}

var idempotencyNamespace = uuid.MustParse("9c5b94b1-35ad-49bb-b118-8e8fc24abf80")

// IdempotencyKey identifies one action run for one event of one execution.
func IdempotencyKey(tenant string, executionID string, eventID string, actionName string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(tenant+"|"+executionID+"|"+eventID+"|"+actionName)).String()
}

func resourceKey(tenant string, executionID string) string {
	return tenant + ":" + executionID
}

func executionKey(tenant string, executionID string) string {
	return executionKeyPrefix + resourceKey(tenant, executionID)
}

type Config struct {
	WorkerID          string
	// LockWait bounds how long a delivery waits for its execution lock.
	LockWait          time.Duration
	// Retry drives in process action retries. MaxRetries also caps how many
	// deliveries an event gets before it is marked failed, and the delay
	// between those deliveries follows the same strategy.
	Retry             recovery.Options
	// CheckpointTimeout bounds recording a finished action's result.
	CheckpointTimeout time.Duration
}

// Deps are the services the engine runs on. Each is built once at start up
// and shared by reference.
type Deps struct {
	Store     persistence.Store
	Locker    *lock.DistributedLock
	Txn       *txn.Manager
	Events    *eventlog.EventLog
	Sync      *syncpoint.Coordinator
	Metadata  metadata.MetadataService
	Actions   *action.Registry
	Cache     *cache.StateCache
	Metrics   *metrics.Metrics
	Analytics analytics.WorkflowDataCollector
}

// Engine is the workflow runtime. It applies events to executions one at a
// time per execution, under the execution lock.
type Engine struct {
	store     persistence.Store
	locker    *lock.DistributedLock
	txn       *txn.Manager
	events    *eventlog.EventLog
	sync      *syncpoint.Coordinator
	metadata  metadata.MetadataService
	actions   *action.Registry
	cache     *cache.StateCache
	metrics   *metrics.Metrics
	analytics analytics.WorkflowDataCollector
	conf      Config
}

func New(deps Deps, conf Config) *Engine {
	if conf.WorkerID == "" {
		conf.WorkerID = uuid.NewString()
	}
	if conf.LockWait <= 0 {
		conf.LockWait = 10 * time.Second
	}
	if conf.Retry.MaxRetries <= 0 {
		conf.Retry = recovery.DefaultOptions()
	}
	if conf.CheckpointTimeout <= 0 {
		conf.CheckpointTimeout = 30 * time.Second
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewStateCache(time.Minute)
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.NoopDataCollector{}
	}
	return &Engine{
		store:     deps.Store,
		locker:    deps.Locker,
		txn:       deps.Txn,
		events:    deps.Events,
		sync:      deps.Sync,
		metadata:  deps.Metadata,
		actions:   deps.Actions,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		analytics: deps.Analytics,
		conf:      conf,
	}
}

func (e *Engine) WorkerID() string {
	return e.conf.WorkerID
}

func notFoundAsValidation(op string, err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return recovery.Wrap(recovery.KindValidation, op, err)
	}
	return err
}

// StartExecution creates an execution in the definition's initial state.
// Version 0 starts the latest version.
func (e *Engine) StartExecution(ctx context.Context, tenant string, workflowName string, version int, input map[string]any) (*model.WorkflowExecution, error) {
	if tenant == "" {
		return nil, recovery.Errorf(recovery.KindValidation, "engine.start", "tenant can not be empty")
	}
	fl, err := e.metadata.GetFlow(ctx, workflowName, version)
	if err != nil {
		return nil, notFoundAsValidation("engine.start", err)
	}
	now := time.Now().UTC()
	exec := &model.WorkflowExecution{
		ID:              uuid.NewString(),
		Tenant:          tenant,
		WorkflowName:    fl.Name,
		WorkflowVersion: fl.Version,
		Status:          fl.StatusOf(fl.InitialState),
		ContextData:     map[string]any{"input": input},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = e.txn.Execute(ctx, resourceKey(tenant, exec.ID), func(ctx context.Context, tx persistence.Tx) error {
		_, err := e.events.RecordTx(ctx, tx, exec, model.EventDraft{
			EventName: model.EventInitialized,
			ToState:   fl.InitialState,
			Payload:   model.TransitionPayload{TriggerID: exec.ID, TriggerName: model.EventInitialized},
		})
		if err != nil {
			return err
		}
		exec.CurrentState = fl.InitialState
		if err := tx.InsertExecution(ctx, exec); err != nil {
			return err
		}
		return e.scheduleTimer(ctx, tx, exec, fl, now)
	})
	if err != nil {
		return nil, err
	}
	e.cache.Save(exec)
	logger.Info("execution started", zap.String("executionId", exec.ID), zap.String("tenant", tenant),
		zap.String("workflow", fl.Name), zap.Int("version", fl.Version), zap.String("state", exec.CurrentState))
	return exec, nil
}

// SendEvent appends an external event for the execution and publishes it.
func (e *Engine) SendEvent(ctx context.Context, tenant string, executionID string, draft model.EventDraft) (*model.WorkflowEvent, error) {
	if draft.EventType == model.EventTypeTransition || (draft.Payload != nil && draft.Payload.Type() == model.EventTypeTransition) {
		return nil, recovery.Errorf(recovery.KindValidation, "engine.send", "transition events are written by the runtime")
	}
	exec, err := e.GetExecution(ctx, tenant, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return nil, recovery.Errorf(recovery.KindValidation, "engine.send", "execution %s is %s", executionID, exec.Status)
	}
	return e.events.Append(ctx, exec, draft)
}

// Cancel asks the execution to stop. Actions already running finish; the
// execution ends cancelled unless its definition handles Cancel itself.
func (e *Engine) Cancel(ctx context.Context, tenant string, executionID string, userID string, reason string) (*model.WorkflowEvent, error) {
	return e.SendEvent(ctx, tenant, executionID, model.EventDraft{
		EventName: model.EventCancel,
		UserID:    userID,
		Payload:   model.SignalPayload{Data: map[string]any{"reason": reason}},
	})
}

func (e *Engine) GetExecution(ctx context.Context, tenant string, executionID string) (*model.WorkflowExecution, error) {
	var exec *model.WorkflowExecution
	err := e.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		exec, err = tx.GetExecution(ctx, tenant, executionID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.cache.Save(exec)
	return exec, nil
}

// CurrentState answers from the state cache when it can.
func (e *Engine) CurrentState(ctx context.Context, tenant string, executionID string) (cache.ExecutionState, error) {
	if st, ok := e.cache.Get(tenant, executionID); ok {
		return st, nil
	}
	exec, err := e.GetExecution(ctx, tenant, executionID)
	if err != nil {
		return cache.ExecutionState{}, err
	}
	return cache.ExecutionState{State: exec.CurrentState, Status: exec.Status}, nil
}

func (e *Engine) History(ctx context.Context, tenant string, executionID string) ([]*model.WorkflowEvent, error) {
	return e.events.History(ctx, tenant, executionID)
}

type ReplayResult struct {
	ExecutionID string `json:"executionId"`
	State       string `json:"state"`
	Transitions int    `json:"transitions"`
	StoredState string `json:"storedState"`
	Consistent  bool   `json:"consistent"`
}

// Replay rebuilds the execution's state from its event log and compares it
// with the stored row.
func (e *Engine) Replay(ctx context.Context, tenant string, executionID string) (*ReplayResult, error) {
	exec, err := e.GetExecution(ctx, tenant, executionID)
	if err != nil {
		return nil, err
	}
	events, err := e.events.History(ctx, tenant, executionID)
	if err != nil {
		return nil, err
	}
	state, applied := eventlog.ReplayState(events)
	return &ReplayResult{
		ExecutionID: executionID,
		State:       state,
		Transitions: applied,
		StoredState: exec.CurrentState,
		Consistent:  state == exec.CurrentState,
	}, nil
}

// Requeue hands a failed event back to the stream after an operator has
// dealt with the cause.
func (e *Engine) Requeue(ctx context.Context, tenant string, eventID string) error {
	return e.events.Requeue(ctx, tenant, eventID)
}
