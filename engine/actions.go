package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// actionFailure is an action that failed for good under a strategy other
// than skip. It fails the join of its transition.
type actionFailure struct {
	action   string
	strategy recovery.Strategy
	err      error
}

func (f *actionFailure) Error() string {
	return fmt.Sprintf("action %s failed (%s): %v", f.action, f.strategy, f.err)
}

func (f *actionFailure) Unwrap() error {
	return f.err
}

// runActions runs the transition's actions level by level; actions within a
// level run in parallel. Actions already checkpointed by an earlier delivery
// are not run again. The returned error is an infrastructure failure; an
// action failing for good is returned as *actionFailure.
func (e *Engine) runActions(ctx context.Context, env *model.Envelope, p *plan) (*actionFailure, error) {
	for _, level := range p.transition.Levels {
		outputs := make([]map[string]any, len(level))
		g, gctx := errgroup.WithContext(ctx)
		for i, spec := range level {
			r := p.results[spec.Name]
			if r.Done() {
				logger.Debug("action already checkpointed", zap.String("action", spec.Name), zap.String("eventId", env.EventID))
				outputs[i] = r.Result
				continue
			}
			g.Go(func() error {
				out, err := e.runAction(gctx, env, p, spec)
				outputs[i] = out
				return err
			})
		}
		err := g.Wait()
		var failure *actionFailure
		if errors.As(err, &failure) {
			return failure, nil
		}
		if err != nil {
			return nil, err
		}
		actions, ok := p.data["actions"].(map[string]any)
		if !ok {
			actions = make(map[string]any, len(level))
			p.data["actions"] = actions
		}
		for i, spec := range level {
			actions[spec.Name] = outputs[i]
		}
	}
	return nil, nil
}

func (e *Engine) runAction(ctx context.Context, env *model.Envelope, p *plan, spec model.ActionSpec) (map[string]any, error) {
	def, ok := e.actions.Get(spec.Action)
	if !ok {
		err := recovery.Errorf(recovery.KindValidation, "engine.action", "action %s is not registered", spec.Action)
		return nil, &actionFailure{action: spec.Name, strategy: recovery.StrategyManual, err: err}
	}
	params := def.ResolveParams(p.data, spec.Parameters)
	started := time.Now().UTC()
	opts := e.conf.Retry
	opts.OnRetry = func(attempt int, err error, c recovery.Classification, delay time.Duration) {
		e.metrics.Retried(string(c.Category))
		logger.Warn("retrying action", zap.String("action", spec.Name), zap.String("executionId", env.ExecutionID),
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	attempt := 0
	out, err := recovery.Do(ctx, opts, func(ctx context.Context) (map[string]any, error) {
		attempt++
		return def.Execute(ctx, params, &action.ExecutionContext{
			Tenant:          env.Tenant,
			ExecutionID:     env.ExecutionID,
			WorkflowName:    p.exec.WorkflowName,
			WorkflowVersion: p.exec.WorkflowVersion,
			State:           p.exec.CurrentState,
			EventID:         env.EventID,
			EventName:       env.EventName,
			UserID:          env.UserID,
			ActionName:      spec.Name,
			IdempotencyKey:  p.results[spec.Name].IdempotencyKey,
			Attempt:         attempt,
			Data:            p.data,
		})
	})
	if err == nil {
		e.metrics.ActionExecuted(spec.Action, "success")
		e.analytics.RecordActionSuccess(p.exec.WorkflowName, env.ExecutionID, spec.Name, out)
		return out, e.checkpoint(ctx, env, p, spec.Name, out, "", started)
	}
	if ctx.Err() != nil {
		return nil, err
	}
	strategy := recovery.Final(err)
	e.metrics.ActionExecuted(spec.Action, string(strategy))
	e.analytics.RecordActionFailure(p.exec.WorkflowName, env.ExecutionID, spec.Name, err.Error())
	if strategy == recovery.StrategySkip {
		logger.Warn("action failed, skipping", zap.String("action", spec.Name), zap.String("executionId", env.ExecutionID), zap.Error(err))
		return nil, e.checkpoint(ctx, env, p, spec.Name, nil, err.Error(), started)
	}
	return nil, &actionFailure{action: spec.Name, strategy: strategy, err: err}
}

// checkpoint records a finished action in its own transaction, counts it
// against the sync point and marks dependents whose dependencies are all
// done as ready. The side effect already happened, so the write outlives a
// sibling failing the level and cancelling ctx.
func (e *Engine) checkpoint(ctx context.Context, env *model.Envelope, p *plan, name string, out map[string]any, errMsg string, started time.Time) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.conf.CheckpointTimeout)
	defer cancel()
	key := p.results[name].IdempotencyKey
	return e.txn.Execute(ctx, resourceKey(env.Tenant, env.ExecutionID), func(ctx context.Context, tx persistence.Tx) error {
		r, err := tx.GetActionResultByKey(ctx, env.Tenant, key, true)
		if err != nil {
			return err
		}
		if r.Done() {
			return nil
		}
		now := time.Now().UTC()
		r.Result = out
		r.Success = errMsg == ""
		r.ErrorMessage = errMsg
		r.StartedAt = &started
		r.CompletedAt = &now
		if err := tx.UpdateActionResult(ctx, r); err != nil {
			return err
		}
		if p.syncID != "" {
			if _, err := e.sync.IncrementCompletedTx(ctx, tx, env.Tenant, p.syncID); err != nil {
				return err
			}
		}
		return markReady(ctx, tx, env, r.ID)
	})
}

func markReady(ctx context.Context, tx persistence.Tx, env *model.Envelope, doneID string) error {
	deps, err := tx.ListActionDependencies(ctx, env.Tenant, env.ExecutionID, env.EventID)
	if err != nil || len(deps) == 0 {
		return err
	}
	results, err := tx.ListActionResults(ctx, env.Tenant, env.ExecutionID, env.EventID)
	if err != nil {
		return err
	}
	byID := make(map[string]*model.WorkflowActionResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	waiting := make(map[string]bool)
	for _, d := range deps {
		if d.DependsOnID == doneID {
			waiting[d.ActionID] = true
		}
	}
	for _, d := range deps {
		if !waiting[d.ActionID] {
			continue
		}
		if dep, ok := byID[d.DependsOnID]; !ok || !dep.Done() {
			waiting[d.ActionID] = false
		}
	}
	for id, ready := range waiting {
		r, ok := byID[id]
		if !ready || !ok || r.ReadyToExecute {
			continue
		}
		r.ReadyToExecute = true
		if err := tx.UpdateActionResult(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
