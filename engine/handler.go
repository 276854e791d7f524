package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/mohitkumar/eventflow/flow"
	"github.com/mohitkumar/eventflow/lock"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/mohitkumar/eventflow/syncpoint"
	"github.com/mohitkumar/eventflow/util"
	"go.uber.org/zap"
)

type outcome string

const (
	outcomeCompleted outcome = "completed"
	outcomeCancelled outcome = "cancelled"
	outcomeUnmatched outcome = "unmatched"
	outcomeIgnored   outcome = "ignored"
	outcomeDuplicate outcome = "duplicate"
	outcomeFailed    outcome = "failed"
)

// plan is what the first transaction of a transition decided.
type plan struct {
	exec       *model.WorkflowExecution
	flow       *flow.Flow
	transition *flow.Transition
	results    map[string]*model.WorkflowActionResult
	syncID     string
	data       map[string]any
	// done is set when the event needs no actions and is already settled.
	done outcome
}

// HandleDelivery applies one stream entry and settles it: ack on success or
// final failure, nack while retries remain. A returned error means the entry
// was left pending on the stream for the reclaimer.
func (e *Engine) HandleDelivery(ctx context.Context, d eventlog.Delivery) error {
	env, payload, err := eventlog.Decode(d)
	if err != nil {
		tenant, eventID := peekIDs(d.Data)
		logger.Error("dropping undecodable stream entry", zap.String("entryId", d.ID), zap.String("eventId", eventID), zap.Error(err))
		e.metrics.EventHandled("poison")
		return e.events.Fail(ctx, d, tenant, eventID, err)
	}
	p, err := e.events.Begin(ctx, env.Tenant, env.EventID, e.conf.WorkerID)
	switch {
	case errors.Is(err, eventlog.ErrAlreadyHandled):
		logger.Debug("event already handled", zap.String("eventId", env.EventID))
		e.metrics.EventHandled(string(outcomeDuplicate))
		return e.events.Ack(ctx, d)
	case errors.Is(err, persistence.ErrNotFound):
		logger.Error("stream entry without stored event", zap.String("eventId", env.EventID), zap.String("tenant", env.Tenant))
		e.metrics.EventHandled("poison")
		return e.events.Ack(ctx, d)
	case err != nil:
		return err
	}

	out, err := e.process(ctx, env, payload)
	if err != nil {
		return e.deliveryFailed(ctx, d, env, p.AttemptCount, err)
	}
	e.metrics.EventHandled(string(out))
	logger.Debug("event handled", zap.String("eventId", env.EventID), zap.String("event", env.EventName),
		zap.String("executionId", env.ExecutionID), zap.String("outcome", string(out)))
	return e.events.Ack(ctx, d)
}

func (e *Engine) deliveryFailed(ctx context.Context, d eventlog.Delivery, env *model.Envelope, attempt int, cause error) error {
	if ctx.Err() != nil {
		// shutting down; the entry stays pending and is reclaimed elsewhere
		return cause
	}
	c := recovery.Classify(cause, attempt, e.conf.Retry)
	if c.IsRetryable {
		delay := recovery.Delay(c.Strategy, attempt, e.conf.Retry)
		logger.Warn("event handling failed, retrying", zap.String("eventId", env.EventID), zap.String("executionId", env.ExecutionID),
			zap.Int("attempt", attempt), zap.String("category", string(c.Category)), zap.Duration("delay", delay), zap.Error(cause))
		e.metrics.Retried(string(c.Category))
		e.metrics.EventHandled("retrying")
		if !sleep(ctx, delay) {
			// the entry stays pending and is reclaimed after a restart
			return cause
		}
		return e.events.Retry(ctx, d, env.Tenant, env.EventID, cause)
	}
	logger.Error("event handling failed", zap.String("eventId", env.EventID), zap.String("executionId", env.ExecutionID),
		zap.Int("attempt", attempt), zap.String("strategy", string(c.Strategy)), zap.Error(cause))
	e.metrics.EventHandled(string(outcomeFailed))
	return e.events.Fail(ctx, d, env.Tenant, env.EventID, cause)
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func peekIDs(data []byte) (string, string) {
	var ids struct {
		EventID string `json:"event_id"`
		Tenant  string `json:"tenant"`
	}
	_ = json.Unmarshal(data, &ids)
	return ids.Tenant, ids.EventID
}

func (e *Engine) process(ctx context.Context, env *model.Envelope, payload model.Payload) (outcome, error) {
	var out outcome
	owner := e.conf.WorkerID + "/" + env.EventID
	err := e.locker.WithLock(ctx, executionKey(env.Tenant, env.ExecutionID), owner, func(ctx context.Context) error {
		var err error
		out, err = e.transition(ctx, env, payload)
		return err
	}, lock.WithWait(e.conf.LockWait), lock.WithHeartbeat())
	return out, err
}

func (e *Engine) transition(ctx context.Context, env *model.Envelope, payload model.Payload) (outcome, error) {
	start := time.Now()
	p, err := e.plan(ctx, env, payload)
	if err != nil {
		return "", err
	}
	if p.done != "" {
		if p.done == outcomeCancelled {
			e.cache.Save(p.exec)
		}
		return p.done, nil
	}
	failure, err := e.runActions(ctx, env, p)
	if err != nil {
		return "", err
	}
	out, err := e.apply(ctx, env, payload, p, failure)
	if err != nil {
		return "", err
	}
	e.metrics.TransitionObserved(p.exec.WorkflowName, time.Since(start))
	return out, nil
}

// loadExecution reads the execution for update and checks its cached state
// against the event log. The log wins.
func (e *Engine) loadExecution(ctx context.Context, tx persistence.Tx, tenant string, executionID string) (*model.WorkflowExecution, error) {
	exec, err := tx.GetExecution(ctx, tenant, executionID, true)
	if err != nil {
		return nil, notFoundAsValidation("engine.load", err)
	}
	events, err := tx.ListEvents(ctx, tenant, executionID)
	if err != nil {
		return nil, err
	}
	if state, applied := eventlog.ReplayState(events); applied > 0 && state != exec.CurrentState {
		logger.Warn("execution row out of step with event log, using replayed state",
			zap.String("executionId", executionID), zap.String("stored", exec.CurrentState), zap.String("replayed", state))
		exec.CurrentState = state
	}
	if exec.ContextData == nil {
		exec.ContextData = make(map[string]any)
	}
	return exec, nil
}

func (e *Engine) plan(ctx context.Context, env *model.Envelope, payload model.Payload) (*plan, error) {
	p := &plan{}
	err := e.txn.Execute(ctx, resourceKey(env.Tenant, env.ExecutionID), func(ctx context.Context, tx persistence.Tx) error {
		proc, err := tx.GetProcessing(ctx, env.Tenant, env.EventID, false)
		if err != nil {
			return err
		}
		if proc.Status == model.ProcessingCompleted || proc.Status == model.ProcessingFailed {
			p.done = outcomeDuplicate
			return nil
		}
		exec, err := e.loadExecution(ctx, tx, env.Tenant, env.ExecutionID)
		if err != nil {
			return err
		}
		p.exec = exec
		if exec.Status.IsTerminal() {
			logger.Warn("event for finished execution ignored", zap.String("executionId", exec.ID),
				zap.String("event", env.EventName), zap.String("status", string(exec.Status)))
			p.done = outcomeIgnored
			return e.events.CompleteTx(ctx, tx, env.Tenant, env.EventID)
		}
		fl, err := e.metadata.GetFlow(ctx, exec.WorkflowName, exec.WorkflowVersion)
		if err != nil {
			return notFoundAsValidation("engine.plan", err)
		}
		p.flow = fl
		tr, ok := fl.Lookup(exec.CurrentState, env.EventName)
		if !ok {
			if env.EventName == model.EventCancel {
				p.done = outcomeCancelled
				return e.cancelTx(ctx, tx, exec, env)
			}
			logger.Warn("no transition for event", zap.String("executionId", exec.ID),
				zap.String("state", exec.CurrentState), zap.String("event", env.EventName))
			p.done = outcomeUnmatched
			return e.events.CompleteTx(ctx, tx, env.Tenant, env.EventID)
		}
		p.transition = tr
		p.data = actionData(exec, env, payload)
		return e.scheduleActions(ctx, tx, env, p)
	})
	return p, err
}

// scheduleActions writes a pending result row per action, the dependency
// edges between them and, for a fan out, the sync point. Rows already
// written by an earlier delivery of the same event are reused.
func (e *Engine) scheduleActions(ctx context.Context, tx persistence.Tx, env *model.Envelope, p *plan) error {
	actions := flatten(p.transition.Levels)
	p.results = make(map[string]*model.WorkflowActionResult, len(actions))
	if len(actions) == 0 {
		return nil
	}
	now := time.Now().UTC()
	created := false
	for _, spec := range actions {
		key := IdempotencyKey(env.Tenant, env.ExecutionID, env.EventID, spec.Name)
		r, err := tx.GetActionResultByKey(ctx, env.Tenant, key, true)
		if errors.Is(err, persistence.ErrNotFound) {
			r = &model.WorkflowActionResult{
				ID:             uuid.NewString(),
				Tenant:         env.Tenant,
				EventID:        env.EventID,
				ExecutionID:    env.ExecutionID,
				ActionName:     spec.Name,
				ActionPath:     spec.Path,
				ActionGroup:    spec.Group,
				Parameters:     spec.Parameters,
				IdempotencyKey: key,
				ReadyToExecute: len(spec.DependsOn) == 0,
				CreatedAt:      now,
			}
			err = tx.InsertActionResult(ctx, r)
			created = true
		}
		if err != nil {
			return err
		}
		p.results[spec.Name] = r
	}
	if created {
		for _, spec := range actions {
			for _, dep := range spec.DependsOn {
				err := tx.InsertActionDependency(ctx, &model.WorkflowActionDependency{
					ID:             uuid.NewString(),
					Tenant:         env.Tenant,
					ExecutionID:    env.ExecutionID,
					EventID:        env.EventID,
					ActionID:       p.results[spec.Name].ID,
					DependsOnID:    p.results[dep].ID,
					DependencyType: model.DependencyCompletion,
				})
				if err != nil {
					return err
				}
			}
		}
	}
	if len(actions) > 1 {
		sp, err := e.sync.CreateTx(ctx, tx, p.exec, env.EventID, len(actions))
		if err != nil {
			return err
		}
		if sp.Status == model.SyncFailed {
			if sp, err = e.sync.ReopenTx(ctx, tx, env.Tenant, sp.ID); err != nil {
				return err
			}
		}
		p.syncID = sp.ID
	}
	return nil
}

func (e *Engine) cancelTx(ctx context.Context, tx persistence.Tx, exec *model.WorkflowExecution, env *model.Envelope) error {
	_, err := e.events.RecordTx(ctx, tx, exec, model.EventDraft{
		EventName: model.EventTransition,
		UserID:    env.UserID,
		ToState:   exec.CurrentState,
		Payload:   model.TransitionPayload{TriggerID: env.EventID, TriggerName: env.EventName},
	})
	if err != nil {
		return err
	}
	exec.Status = model.ExecutionCancelled
	exec.UpdatedAt = time.Now().UTC()
	if err := cancelTimers(ctx, tx, exec); err != nil {
		return err
	}
	if err := tx.UpdateExecution(ctx, exec); err != nil {
		return err
	}
	logger.Info("execution cancelled", zap.String("executionId", exec.ID), zap.String("state", exec.CurrentState))
	return e.events.CompleteTx(ctx, tx, env.Tenant, env.EventID)
}

// apply commits the outcome of the actions: the new state, the transition
// record, timers, a follow up event and the processing status, all in one
// transaction.
func (e *Engine) apply(ctx context.Context, env *model.Envelope, payload model.Payload, p *plan, failure *actionFailure) (outcome, error) {
	out := outcomeCompleted
	var exec *model.WorkflowExecution
	var next *model.WorkflowEvent
	err := e.txn.Execute(ctx, resourceKey(env.Tenant, env.ExecutionID), func(ctx context.Context, tx persistence.Tx) error {
		var err error
		exec, err = e.loadExecution(ctx, tx, env.Tenant, env.ExecutionID)
		if err != nil {
			return err
		}
		results, err := tx.ListActionResults(ctx, env.Tenant, env.ExecutionID, env.EventID)
		if err != nil {
			return err
		}
		recordResults(exec, results)
		exec.ContextData["event"] = eventData(env, payload)
		trigger := model.TransitionPayload{
			TriggerID:   env.EventID,
			TriggerName: env.EventName,
			SyncID:      p.syncID,
			Actions:     actionNames(p.transition),
		}
		if failure != nil {
			out, err = e.applyFailure(ctx, tx, env, p, exec, results, failure, trigger)
			return err
		}
		if p.syncID != "" {
			sp, err := tx.GetSyncPoint(ctx, env.Tenant, p.syncID, false)
			if err != nil {
				return err
			}
			if sp.Status != model.SyncCompleted {
				return recovery.Errorf(recovery.KindInternal, "engine.apply", "sync point %s is %s after every action finished", sp.ID, sp.Status)
			}
		}
		if err := e.moveTo(ctx, tx, exec, p.flow, p.transition.To, trigger, env.UserID); err != nil {
			return err
		}
		if name, data := nextEvent(p.transition, results); name != "" {
			next, err = e.events.AppendTx(ctx, tx, exec, model.EventDraft{
				EventName: name,
				UserID:    env.UserID,
				Payload:   model.SignalPayload{Data: data},
			})
			if err != nil {
				return err
			}
		}
		return e.events.CompleteTx(ctx, tx, env.Tenant, env.EventID)
	})
	if err != nil {
		return "", err
	}
	e.cache.Save(exec)
	logger.Info("transition applied", zap.String("executionId", exec.ID), zap.String("event", env.EventName),
		zap.String("state", exec.CurrentState), zap.String("status", string(exec.Status)), zap.String("outcome", string(out)))
	if next != nil {
		if err := e.events.Publish(ctx, next); err != nil {
			logger.Warn("follow up event persisted but not published", zap.String("eventId", next.ID), zap.Error(err))
		}
	}
	return out, nil
}

func (e *Engine) applyFailure(ctx context.Context, tx persistence.Tx, env *model.Envelope, p *plan, exec *model.WorkflowExecution,
	results []*model.WorkflowActionResult, failure *actionFailure, trigger model.TransitionPayload) (outcome, error) {
	for _, r := range results {
		if r.ActionName != failure.action || r.Done() {
			continue
		}
		r.Success = false
		r.ErrorMessage = failure.err.Error()
		if err := tx.UpdateActionResult(ctx, r); err != nil {
			return "", err
		}
	}
	if p.syncID != "" {
		if _, err := e.sync.MarkFailedTx(ctx, tx, env.Tenant, p.syncID); err != nil && !errors.Is(err, syncpoint.ErrClosed) {
			return "", err
		}
	}
	exec.ContextData["error"] = map[string]any{
		"action":   failure.action,
		"strategy": string(failure.strategy),
		"message":  failure.err.Error(),
	}
	trigger.Failed = true

	switch {
	case failure.strategy == recovery.StrategyAbort:
		if err := e.moveTo(ctx, tx, exec, p.flow, exec.CurrentState, trigger, env.UserID); err != nil {
			return "", err
		}
		exec.Status = model.ExecutionFailed
		if err := cancelTimers(ctx, tx, exec); err != nil {
			return "", err
		}
		if err := tx.UpdateExecution(ctx, exec); err != nil {
			return "", err
		}
		return outcomeFailed, e.events.FailTx(ctx, tx, env.Tenant, env.EventID, failure.Error())
	case p.transition.OnFailure != "":
		if err := e.moveTo(ctx, tx, exec, p.flow, p.transition.OnFailure, trigger, env.UserID); err != nil {
			return "", err
		}
		return outcomeCompleted, e.events.CompleteTx(ctx, tx, env.Tenant, env.EventID)
	}
	// no failure route: the execution stays where it was for an operator
	logger.Error("transition failed, execution left for manual recovery", zap.String("executionId", exec.ID),
		zap.String("state", exec.CurrentState), zap.String("action", failure.action), zap.Error(failure.err))
	return outcomeFailed, e.events.FailTx(ctx, tx, env.Tenant, env.EventID, failure.Error())
}

// moveTo records the transition and moves exec to state. Timers of the state
// left are cancelled and the new state's timer is armed.
func (e *Engine) moveTo(ctx context.Context, tx persistence.Tx, exec *model.WorkflowExecution, fl *flow.Flow, state string, trigger model.TransitionPayload, userID string) error {
	_, err := e.events.RecordTx(ctx, tx, exec, model.EventDraft{
		EventName: model.EventTransition,
		UserID:    userID,
		ToState:   state,
		Payload:   trigger,
	})
	if err != nil {
		return err
	}
	from := exec.CurrentState
	now := time.Now().UTC()
	exec.CurrentState = state
	exec.Status = fl.StatusOf(state)
	exec.UpdatedAt = now
	if from != state || exec.Status.IsTerminal() {
		if err := cancelTimers(ctx, tx, exec); err != nil {
			return err
		}
		if err := e.scheduleTimer(ctx, tx, exec, fl, now); err != nil {
			return err
		}
	}
	return tx.UpdateExecution(ctx, exec)
}

// actionData is what action parameters resolve against: the execution
// context plus the triggering event.
func actionData(exec *model.WorkflowExecution, env *model.Envelope, payload model.Payload) map[string]any {
	data := util.Merge(make(map[string]any, len(exec.ContextData)+1), exec.ContextData)
	data["event"] = eventData(env, payload)
	return data
}

func eventData(env *model.Envelope, payload model.Payload) map[string]any {
	ev := map[string]any{"id": env.EventID, "name": env.EventName}
	switch p := payload.(type) {
	case model.SignalPayload:
		ev["data"] = p.Data
	case model.LifecyclePayload:
		ev["data"] = p.Input
	case model.TaskPayload:
		ev["data"] = map[string]any{
			"taskId":       p.TaskID,
			"verb":         string(p.Verb),
			"userId":       p.UserID,
			"responseData": p.ResponseData,
			"reason":       p.Reason,
		}
	case model.TimerPayload:
		ev["data"] = map[string]any{"timerId": p.TimerID, "timerName": p.TimerName}
	}
	return ev
}

// recordResults puts finished action outputs under context_data.actions.
func recordResults(exec *model.WorkflowExecution, results []*model.WorkflowActionResult) {
	if len(results) == 0 {
		return
	}
	actions, ok := exec.ContextData["actions"].(map[string]any)
	if !ok {
		actions = make(map[string]any, len(results))
	}
	for _, r := range results {
		if !r.Done() {
			continue
		}
		if r.Success {
			actions[r.ActionName] = r.Result
		} else {
			actions[r.ActionName] = map[string]any{"error": r.ErrorMessage}
		}
	}
	exec.ContextData["actions"] = actions
}

// nextEvent is the first next_event an action of tr returned, in definition
// order.
func nextEvent(tr *flow.Transition, results []*model.WorkflowActionResult) (string, map[string]any) {
	byName := make(map[string]*model.WorkflowActionResult, len(results))
	for _, r := range results {
		byName[r.ActionName] = r
	}
	for _, spec := range tr.Actions {
		r, ok := byName[spec.Name]
		if !ok || !r.Success {
			continue
		}
		if name, ok := r.Result[action.NextEventKey].(string); ok && name != "" {
			return name, r.Result
		}
	}
	return "", nil
}

func flatten(levels [][]model.ActionSpec) []model.ActionSpec {
	var out []model.ActionSpec
	for _, level := range levels {
		out = append(out, level...)
	}
	return out
}

func actionNames(tr *flow.Transition) []string {
	names := make([]string, 0, len(tr.Actions))
	for _, spec := range tr.Actions {
		names = append(names, spec.Name)
	}
	return names
}
