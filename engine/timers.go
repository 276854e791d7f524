package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eventflow/flow"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"go.uber.org/zap"
)

// scheduleTimer arms the timer of the execution's current state, if any.
func (e *Engine) scheduleTimer(ctx context.Context, tx persistence.Tx, exec *model.WorkflowExecution, fl *flow.Flow, now time.Time) error {
	t, ok := fl.TimerOf(exec.CurrentState)
	if !ok || exec.Status.IsTerminal() {
		return nil
	}
	timer := &model.WorkflowTimer{
		ID:          uuid.NewString(),
		Tenant:      exec.Tenant,
		ExecutionID: exec.ID,
		TimerName:   t.Name,
		StateName:   exec.CurrentState,
		EventName:   t.Event,
		StartTime:   now,
		Duration:    t.After,
		FireTime:    now.Add(t.After),
		Status:      model.TimerActive,
	}
	if t.Recurring {
		timer.Recurrence = t.After
	}
	return tx.InsertTimer(ctx, timer)
}

func cancelTimers(ctx context.Context, tx persistence.Tx, exec *model.WorkflowExecution) error {
	timers, err := tx.ListActiveTimers(ctx, exec.Tenant, exec.ID)
	if err != nil {
		return err
	}
	for _, t := range timers {
		t.Status = model.TimerCancelled
		if err := tx.UpdateTimer(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// FireDueTimers appends the event of every timer whose fire time has passed
// and returns how many fired.
func (e *Engine) FireDueTimers(ctx context.Context, limit int) (int, error) {
	var due []*model.WorkflowTimer
	err := e.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		due, err = tx.ListDueTimers(ctx, time.Now().UTC(), limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, t := range due {
		ok, err := e.fireTimer(ctx, t.Tenant, t.ID)
		if err != nil {
			return fired, err
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (e *Engine) fireTimer(ctx context.Context, tenant string, timerID string) (bool, error) {
	var ev *model.WorkflowEvent
	err := e.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		t, err := tx.GetTimer(ctx, tenant, timerID, true)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if t.Status != model.TimerActive || t.FireTime.After(now) {
			return nil
		}
		exec, err := tx.GetExecution(ctx, tenant, t.ExecutionID, false)
		if err != nil {
			return err
		}
		if exec.CurrentState != t.StateName || exec.Status.IsTerminal() {
			t.Status = model.TimerCancelled
			return tx.UpdateTimer(ctx, t)
		}
		ev, err = e.events.AppendTx(ctx, tx, exec, model.EventDraft{
			EventName: t.EventName,
			Payload: model.TimerPayload{
				TimerID:   t.ID,
				TimerName: t.TimerName,
				StateName: t.StateName,
				FireTime:  t.FireTime,
			},
		})
		if err != nil {
			return err
		}
		if t.Recurrence > 0 {
			t.FireTime = t.FireTime.Add(t.Recurrence)
			if t.FireTime.Before(now) {
				t.FireTime = now.Add(t.Recurrence)
			}
		} else {
			t.Status = model.TimerFired
		}
		return tx.UpdateTimer(ctx, t)
	})
	if err != nil || ev == nil {
		return false, err
	}
	e.metrics.TimerFired()
	logger.Info("timer fired", zap.String("timerId", timerID), zap.String("executionId", ev.ExecutionID), zap.String("event", ev.EventName))
	if err := e.events.Publish(ctx, ev); err != nil {
		logger.Warn("timer event persisted but not published", zap.String("eventId", ev.ID), zap.Error(err))
	}
	return true, nil
}
