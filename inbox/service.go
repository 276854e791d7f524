package inbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
	"go.uber.org/zap"
)

const (
	DefaultPriority = "medium"
	DefaultSLA      = 24 * time.Hour
)

var ErrInvalidTransition = errors.New("invalid task transition")

var readCommitted = persistence.TxOptions{Isolation: persistence.ReadCommitted}

type CreateParams struct {
	// TaskID, when set, makes creation idempotent: a second create with the
	// same id returns the existing task.
	TaskID        string
	TaskType      string
	Title         string
	Description   string
	Priority      string
	FormRef       string
	DueIn         time.Duration
	AssignedRoles []string
	AssignedUsers []string
	ContextData   map[string]any
}

// Service manages human tasks. Every task change is written together with
// its history row and a Task:<id>:<Verb> workflow event.
type Service struct {
	store  persistence.Store
	events *eventlog.EventLog
}

func New(store persistence.Store, events *eventlog.EventLog) *Service {
	return &Service{store: store, events: events}
}

func (s *Service) publish(ctx context.Context, ev *model.WorkflowEvent) {
	if ev == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		logger.Warn("task event persisted but not published", zap.String("eventId", ev.ID), zap.Error(err))
	}
}

func (s *Service) CreateTask(ctx context.Context, exec *model.WorkflowExecution, params CreateParams, userID string) (string, error) {
	if params.TaskType == "" || params.Title == "" {
		return "", recovery.Errorf(recovery.KindValidation, "inbox.create", "task type and title are required")
	}
	taskID := params.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	var ev *model.WorkflowEvent
	err := s.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.GetTask(ctx, exec.Tenant, taskID, false)
		if err == nil {
			return nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
		now := time.Now().UTC()
		def, err := tx.EnsureTaskDefinition(ctx, &model.TaskDefinition{
			ID:              uuid.NewString(),
			Tenant:          exec.Tenant,
			TaskType:        params.TaskType,
			FormRef:         params.FormRef,
			DefaultPriority: DefaultPriority,
			DefaultSLA:      DefaultSLA,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}
		priority := params.Priority
		if priority == "" {
			priority = def.DefaultPriority
		}
		sla := params.DueIn
		if sla <= 0 {
			sla = def.DefaultSLA
		}
		due := now.Add(sla)
		task := &model.Task{
			ID:               taskID,
			Tenant:           exec.Tenant,
			ExecutionID:      exec.ID,
			TaskDefinitionID: def.ID,
			Title:            params.Title,
			Description:      params.Description,
			Status:           model.TaskPending,
			Priority:         priority,
			DueDate:          &due,
			ContextData:      params.ContextData,
			AssignedRoles:    params.AssignedRoles,
			AssignedUsers:    params.AssignedUsers,
			CreatedBy:        userID,
			CreatedAt:        now,
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		if err := s.history(ctx, tx, task, model.TaskVerbCreated, "", userID, nil, now); err != nil {
			return err
		}
		ev, err = s.events.AppendTx(ctx, tx, exec, model.EventDraft{
			EventName: model.TaskEventName(task.ID, model.TaskVerbCreated),
			EventType: model.EventTypeTask,
			UserID:    userID,
			Payload:   model.TaskPayload{TaskID: task.ID, Verb: model.TaskVerbCreated, UserID: userID},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, ev)
	if ev != nil {
		logger.Info("task created", zap.String("taskId", taskID), zap.String("executionId", exec.ID))
	}
	return taskID, nil
}

func (s *Service) history(ctx context.Context, tx persistence.Tx, task *model.Task, verb model.TaskVerb, from model.TaskStatus, userID string, data map[string]any, at time.Time) error {
	return tx.InsertTaskHistory(ctx, &model.TaskHistory{
		ID:         uuid.NewString(),
		Tenant:     task.Tenant,
		TaskID:     task.ID,
		Verb:       verb,
		FromStatus: from,
		ToStatus:   task.Status,
		UserID:     userID,
		Data:       data,
		CreatedAt:  at,
	})
}

func invalid(task *model.Task, verb model.TaskVerb) error {
	return recovery.Wrap(recovery.KindValidation, "inbox."+string(verb),
		fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, task.Status))
}

// transition applies change to the task under a row lock and records the
// history row and workflow event in the same transaction.
func (s *Service) transition(ctx context.Context, tenant string, taskID string, verb model.TaskVerb, userID string, payload model.TaskPayload, data map[string]any, change func(task *model.Task, now time.Time) error) (*model.Task, error) {
	var ev *model.WorkflowEvent
	var out *model.Task
	err := s.store.WithTx(ctx, readCommitted, func(ctx context.Context, tx persistence.Tx) error {
		task, err := tx.GetTask(ctx, tenant, taskID, true)
		if err != nil {
			return err
		}
		from := task.Status
		now := time.Now().UTC()
		if err := change(task, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		if err := s.history(ctx, tx, task, verb, from, userID, data, now); err != nil {
			return err
		}
		exec, err := tx.GetExecution(ctx, tenant, task.ExecutionID, false)
		if err != nil {
			return err
		}
		payload.TaskID = task.ID
		payload.Verb = verb
		payload.UserID = userID
		ev, err = s.events.AppendTx(ctx, tx, exec, model.EventDraft{
			EventName: model.TaskEventName(task.ID, verb),
			EventType: model.EventTypeTask,
			UserID:    userID,
			Payload:   payload,
		})
		out = task
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ev)
	logger.Info("task transitioned", zap.String("taskId", taskID), zap.String("verb", string(verb)), zap.String("status", string(out.Status)))
	return out, nil
}

func (s *Service) Claim(ctx context.Context, tenant string, taskID string, userID string) (*model.Task, error) {
	return s.transition(ctx, tenant, taskID, model.TaskVerbClaimed, userID, model.TaskPayload{}, nil, func(task *model.Task, now time.Time) error {
		if task.Status != model.TaskPending {
			return invalid(task, model.TaskVerbClaimed)
		}
		if len(task.AssignedUsers) > 0 && !slices.Contains(task.AssignedUsers, userID) {
			return recovery.Errorf(recovery.KindPermission, "inbox.claim", "user %s is not assigned to task %s", userID, task.ID)
		}
		task.Status = model.TaskClaimed
		task.ClaimedBy = userID
		task.ClaimedAt = &now
		return nil
	})
}

func (s *Service) Complete(ctx context.Context, tenant string, taskID string, userID string, response map[string]any) (*model.Task, error) {
	payload := model.TaskPayload{ResponseData: response}
	return s.transition(ctx, tenant, taskID, model.TaskVerbComplete, userID, payload, response, func(task *model.Task, now time.Time) error {
		if task.Status != model.TaskClaimed {
			return invalid(task, model.TaskVerbComplete)
		}
		if task.ClaimedBy != userID {
			return recovery.Errorf(recovery.KindPermission, "inbox.complete", "task %s is claimed by another user", task.ID)
		}
		task.Status = model.TaskCompleted
		task.CompletedBy = userID
		task.CompletedAt = &now
		task.ResponseData = response
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, tenant string, taskID string, userID string, reason string) (*model.Task, error) {
	payload := model.TaskPayload{Reason: reason}
	return s.transition(ctx, tenant, taskID, model.TaskVerbCanceled, userID, payload, map[string]any{"reason": reason}, func(task *model.Task, now time.Time) error {
		if task.Status.IsTerminal() {
			return invalid(task, model.TaskVerbCanceled)
		}
		task.Status = model.TaskCanceled
		return nil
	})
}

func (s *Service) Expire(ctx context.Context, tenant string, taskID string) (*model.Task, error) {
	return s.transition(ctx, tenant, taskID, model.TaskVerbExpired, "", model.TaskPayload{}, nil, func(task *model.Task, now time.Time) error {
		if task.Status.IsTerminal() || task.DueDate == nil || task.DueDate.After(now) {
			return invalid(task, model.TaskVerbExpired)
		}
		task.Status = model.TaskExpired
		return nil
	})
}

// ExpireDue expires tasks whose due date has passed.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	var due []*model.Task
	err := s.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		due, err = tx.ListExpiredTasks(ctx, time.Now().UTC(), limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, task := range due {
		if _, err := s.Expire(ctx, task.Tenant, task.ID); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) Get(ctx context.Context, tenant string, taskID string) (*model.Task, error) {
	var task *model.Task
	err := s.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		task, err = tx.GetTask(ctx, tenant, taskID, false)
		return err
	})
	return task, err
}

func (s *Service) History(ctx context.Context, tenant string, taskID string) ([]*model.TaskHistory, error) {
	var h []*model.TaskHistory
	err := s.store.WithTx(ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		h, err = tx.ListTaskHistory(ctx, tenant, taskID)
		return err
	})
	return h, err
}
