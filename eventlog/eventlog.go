package eventlog

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
	"github.com/mohitkumar/eventflow/recovery"
	"go.uber.org/zap"
)

// ErrAlreadyHandled is returned by Begin for events whose processing has
// already reached a final status.
var ErrAlreadyHandled = errors.New("event already handled")

var readCommitted = persistence.TxOptions{Isolation: persistence.ReadCommitted}

// EventLog appends workflow events and bridges them to the stream. An event
// is always committed before it is published.
type EventLog struct {
	store   persistence.Store
	stream  Stream
	metrics *metrics.Metrics
}

func New(store persistence.Store, stream Stream, m *metrics.Metrics) *EventLog {
	return &EventLog{store: store, stream: stream, metrics: m}
}

func newEvent(exec *model.WorkflowExecution, draft model.EventDraft) (*model.WorkflowEvent, error) {
	if draft.EventName == "" {
		return nil, recovery.Errorf(recovery.KindValidation, "eventlog.append", "event name can not be empty")
	}
	eventType := draft.EventType
	if draft.Payload != nil {
		if eventType == "" {
			eventType = draft.Payload.Type()
		}
		if draft.Payload.Type() != eventType {
			return nil, recovery.Errorf(recovery.KindValidation, "eventlog.append", "payload %s does not match event type %s", draft.Payload.Type(), eventType)
		}
	}
	if eventType == "" {
		eventType = model.EventTypeSignal
	}
	payload, err := model.EncodePayload(draft.Payload)
	if err != nil {
		return nil, err
	}
	return &model.WorkflowEvent{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		EventName:   draft.EventName,
		EventType:   eventType,
		Tenant:      exec.Tenant,
		FromState:   exec.CurrentState,
		ToState:     draft.ToState,
		UserID:      draft.UserID,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (l *EventLog) insert(ctx context.Context, tx persistence.Tx, exec *model.WorkflowExecution, draft model.EventDraft, status model.ProcessingStatus) (*model.WorkflowEvent, error) {
	ev, err := newEvent(exec, draft)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return nil, err
	}
	p := &model.WorkflowEventProcessing{
		ID:          uuid.NewString(),
		EventID:     ev.ID,
		ExecutionID: ev.ExecutionID,
		Tenant:      ev.Tenant,
		Status:      status,
		CreatedAt:   ev.CreatedAt,
		UpdatedAt:   ev.CreatedAt,
	}
	if err := tx.InsertProcessing(ctx, p); err != nil {
		return nil, err
	}
	return ev, nil
}

// AppendTx writes the event and its pending processing row in tx. The caller
// publishes it with Publish after commit.
func (l *EventLog) AppendTx(ctx context.Context, tx persistence.Tx, exec *model.WorkflowExecution, draft model.EventDraft) (*model.WorkflowEvent, error) {
	return l.insert(ctx, tx, exec, draft, model.ProcessingPending)
}

// RecordTx writes an event that needs no handling, such as a transition
// record. It is never published.
func (l *EventLog) RecordTx(ctx context.Context, tx persistence.Tx, exec *model.WorkflowExecution, draft model.EventDraft) (*model.WorkflowEvent, error) {
	return l.insert(ctx, tx, exec, draft, model.ProcessingCompleted)
}

// Append persists the event, running extra in the same transaction, then
// publishes it. A failed publish leaves the row pending for the republisher
// and is not returned as an error.
func (l *EventLog) Append(ctx context.Context, exec *model.WorkflowExecution, draft model.EventDraft, extra ...func(ctx context.Context, tx persistence.Tx) error) (*model.WorkflowEvent, error) {
	var ev *model.WorkflowEvent
	err := l.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		ev, err = l.AppendTx(ctx, tx, exec, draft)
		if err != nil {
			return err
		}
		for _, fn := range extra {
			if err := fn(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := l.Publish(ctx, ev); err != nil {
		logger.Warn("event persisted but not published", zap.String("eventId", ev.ID), zap.String("executionId", ev.ExecutionID), zap.Error(err))
	}
	return ev, nil
}

// Publish puts a committed event on the stream and marks it published.
func (l *EventLog) Publish(ctx context.Context, ev *model.WorkflowEvent) error {
	data, err := model.NewEnvelope(ev).Encode()
	if err != nil {
		return recovery.Wrap(recovery.KindInternal, "eventlog.publish", err)
	}
	if _, err := l.stream.Publish(ctx, data); err != nil {
		return recovery.Wrap(recovery.KindConnection, "eventlog.publish", err)
	}
	l.metrics.EventPublished()
	return l.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		p, err := tx.GetProcessing(ctx, ev.Tenant, ev.ID, true)
		if err != nil {
			return err
		}
		// a fast consumer may already have moved the row on
		if p.Status != model.ProcessingPending {
			return nil
		}
		p.Status = model.ProcessingPublished
		p.UpdatedAt = time.Now().UTC()
		return tx.UpdateProcessing(ctx, p)
	})
}

func (l *EventLog) Claim(ctx context.Context, consumer string, count int, block time.Duration) ([]Delivery, error) {
	return l.stream.Read(ctx, consumer, count, block)
}

func (l *EventLog) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Delivery, error) {
	return l.stream.Reclaim(ctx, consumer, minIdle, count)
}

func (l *EventLog) Ack(ctx context.Context, d Delivery) error {
	return l.stream.Ack(ctx, d.ID)
}

// Decode validates a delivery at the stream boundary.
func Decode(d Delivery) (*model.Envelope, model.Payload, error) {
	return model.DecodeEnvelope(d.Data)
}

// Begin moves the processing row to processing for workerID and counts the
// attempt.
func (l *EventLog) Begin(ctx context.Context, tenant string, eventID string, workerID string) (*model.WorkflowEventProcessing, error) {
	var out *model.WorkflowEventProcessing
	err := l.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		p, err := tx.GetProcessing(ctx, tenant, eventID, true)
		if err != nil {
			return err
		}
		if p.Status == model.ProcessingCompleted || p.Status == model.ProcessingFailed {
			out = p
			return fmt.Errorf("%w: %s is %s", ErrAlreadyHandled, eventID, p.Status)
		}
		now := time.Now().UTC()
		p.Status = model.ProcessingProcessing
		p.WorkerID = workerID
		p.AttemptCount++
		p.LastAttempt = &now
		p.UpdatedAt = now
		if err := tx.UpdateProcessing(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func setStatus(ctx context.Context, tx persistence.Tx, tenant string, eventID string, status model.ProcessingStatus, msg string) error {
	p, err := tx.GetProcessing(ctx, tenant, eventID, true)
	if err != nil {
		return err
	}
	p.Status = status
	p.ErrorMessage = msg
	p.UpdatedAt = time.Now().UTC()
	return tx.UpdateProcessing(ctx, p)
}

func (l *EventLog) CompleteTx(ctx context.Context, tx persistence.Tx, tenant string, eventID string) error {
	return setStatus(ctx, tx, tenant, eventID, model.ProcessingCompleted, "")
}

func (l *EventLog) FailTx(ctx context.Context, tx persistence.Tx, tenant string, eventID string, msg string) error {
	return setStatus(ctx, tx, tenant, eventID, model.ProcessingFailed, msg)
}

// Retry marks the event retrying and hands the delivery back to the stream.
func (l *EventLog) Retry(ctx context.Context, d Delivery, tenant string, eventID string, cause error) error {
	err := l.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		return setStatus(ctx, tx, tenant, eventID, model.ProcessingRetrying, cause.Error())
	})
	if err != nil {
		return err
	}
	return l.stream.Nack(ctx, d)
}

// Fail marks the event failed and acks the delivery. Failed events stay put
// until an operator calls Requeue.
func (l *EventLog) Fail(ctx context.Context, d Delivery, tenant string, eventID string, cause error) error {
	if tenant != "" && eventID != "" {
		err := l.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
			return setStatus(ctx, tx, tenant, eventID, model.ProcessingFailed, cause.Error())
		})
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
	}
	return l.stream.Ack(ctx, d.ID)
}

// RepublishPending publishes events that were committed but never made it
// to the stream.
func (l *EventLog) RepublishPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	var events []*model.WorkflowEvent
	err := l.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		rows, err := tx.ListProcessingByStatus(ctx, model.ProcessingPending, time.Now().UTC().Add(-olderThan), limit)
		if err != nil {
			return err
		}
		for _, p := range rows {
			ev, err := tx.GetEvent(ctx, p.Tenant, p.EventID)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	published := 0
	for _, ev := range events {
		if err := l.Publish(ctx, ev); err != nil {
			return published, err
		}
		logger.Info("republished pending event", zap.String("eventId", ev.ID), zap.String("executionId", ev.ExecutionID))
		published++
	}
	return published, nil
}

// Requeue resets a failed event and publishes it again.
func (l *EventLog) Requeue(ctx context.Context, tenant string, eventID string) error {
	var ev *model.WorkflowEvent
	err := l.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		p, err := tx.GetProcessing(ctx, tenant, eventID, true)
		if err != nil {
			return err
		}
		if p.Status != model.ProcessingFailed {
			return recovery.Errorf(recovery.KindValidation, "eventlog.requeue", "event %s is %s, only failed events can be requeued", eventID, p.Status)
		}
		p.Status = model.ProcessingPending
		p.AttemptCount = 0
		p.ErrorMessage = ""
		p.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateProcessing(ctx, p); err != nil {
			return err
		}
		ev, err = tx.GetEvent(ctx, tenant, eventID)
		return err
	})
	if err != nil {
		return err
	}
	logger.Info("requeued failed event", zap.String("eventId", eventID), zap.String("tenant", tenant))
	return l.Publish(ctx, ev)
}

func (l *EventLog) History(ctx context.Context, tenant string, executionID string) ([]*model.WorkflowEvent, error) {
	var events []*model.WorkflowEvent
	err := l.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		events, err = tx.ListEvents(ctx, tenant, executionID)
		return err
	})
	return events, err
}

func (l *EventLog) Processing(ctx context.Context, tenant string, eventID string) (*model.WorkflowEventProcessing, error) {
	var p *model.WorkflowEventProcessing
	err := l.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		p, err = tx.GetProcessing(ctx, tenant, eventID, false)
		return err
	})
	return p, err
}

// ReplayState folds the transition records of an ordered history into the
// state they lead to.
func ReplayState(events []*model.WorkflowEvent) (string, int) {
	state := ""
	applied := 0
	for _, ev := range events {
		if ev.EventType != model.EventTypeTransition {
			continue
		}
		state = ev.ToState
		applied++
	}
	return state, applied
}
