package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
)

var _ persistence.Tx = new(pgTx)

type pgTx struct {
	tx pgx.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

const executionColumns = `execution_id, tenant, workflow_name, workflow_version, current_state, status, context_data, created_at, updated_at`

func scanExecution(row scanner) (*model.WorkflowExecution, error) {
	var e model.WorkflowExecution
	var status string
	if err := row.Scan(&e.ID, &e.Tenant, &e.WorkflowName, &e.WorkflowVersion, &e.CurrentState, &status, &e.ContextData, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = model.ExecutionStatus(status)
	return &e, nil
}

func (t *pgTx) InsertExecution(ctx context.Context, e *model.WorkflowExecution) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO workflow_executions (`+executionColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.Tenant, e.WorkflowName, e.WorkflowVersion, e.CurrentState, string(e.Status), e.ContextData, e.CreatedAt, e.UpdatedAt)
	return mapError("insert execution", err)
}

func (t *pgTx) GetExecution(ctx context.Context, tenant string, id string, lock bool) (*model.WorkflowExecution, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE tenant = $1 AND execution_id = $2`+forUpdate(lock), tenant, id)
	e, err := scanExecution(row)
	if err != nil {
		return nil, mapError("get execution "+id, err)
	}
	return e, nil
}

func (t *pgTx) UpdateExecution(ctx context.Context, e *model.WorkflowExecution) error {
	tag, err := t.tx.Exec(ctx, `UPDATE workflow_executions SET current_state = $3, status = $4, context_data = $5, updated_at = $6, workflow_version = $7
		WHERE tenant = $1 AND execution_id = $2`,
		e.Tenant, e.ID, e.CurrentState, string(e.Status), e.ContextData, e.UpdatedAt, e.WorkflowVersion)
	if err != nil {
		return mapError("update execution", err)
	}
	if tag.RowsAffected() == 0 {
		return mapError("update execution "+e.ID, pgx.ErrNoRows)
	}
	return nil
}

const eventColumns = `event_id, execution_id, event_name, event_type, tenant, from_state, to_state, user_id, payload, created_at, seq`

func scanEvent(row scanner) (*model.WorkflowEvent, error) {
	var ev model.WorkflowEvent
	var eventType string
	var payload []byte
	if err := row.Scan(&ev.ID, &ev.ExecutionID, &ev.EventName, &eventType, &ev.Tenant, &ev.FromState, &ev.ToState, &ev.UserID, &payload, &ev.CreatedAt, &ev.Seq); err != nil {
		return nil, err
	}
	ev.EventType = model.EventType(eventType)
	ev.Payload = payload
	return &ev, nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev *model.WorkflowEvent) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO workflow_events (event_id, execution_id, event_name, event_type, tenant, from_state, to_state, user_id, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10) RETURNING seq`,
		ev.ID, ev.ExecutionID, ev.EventName, string(ev.EventType), ev.Tenant, ev.FromState, ev.ToState, ev.UserID, payload, ev.CreatedAt).Scan(&ev.Seq)
	return mapError("insert event", err)
}

func (t *pgTx) GetEvent(ctx context.Context, tenant string, id string) (*model.WorkflowEvent, error) {
	ev, err := scanEvent(t.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM workflow_events WHERE tenant = $1 AND event_id = $2`, tenant, id))
	if err != nil {
		return nil, mapError("get event "+id, err)
	}
	return ev, nil
}

func (t *pgTx) ListEvents(ctx context.Context, tenant string, executionID string) ([]*model.WorkflowEvent, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+eventColumns+` FROM workflow_events WHERE tenant = $1 AND execution_id = $2 ORDER BY created_at, seq`, tenant, executionID)
	if err != nil {
		return nil, mapError("list events", err)
	}
	return collect(rows, scanEvent, "list events")
}

const processingColumns = `processing_id, event_id, execution_id, tenant, status, worker_id, attempt_count, last_attempt, error_message, created_at, updated_at`

func scanProcessing(row scanner) (*model.WorkflowEventProcessing, error) {
	var p model.WorkflowEventProcessing
	var status string
	if err := row.Scan(&p.ID, &p.EventID, &p.ExecutionID, &p.Tenant, &status, &p.WorkerID, &p.AttemptCount, &p.LastAttempt, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = model.ProcessingStatus(status)
	return &p, nil
}

func (t *pgTx) InsertProcessing(ctx context.Context, p *model.WorkflowEventProcessing) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO workflow_event_processing (`+processingColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.EventID, p.ExecutionID, p.Tenant, string(p.Status), p.WorkerID, p.AttemptCount, p.LastAttempt, p.ErrorMessage, p.CreatedAt, p.UpdatedAt)
	return mapError("insert processing", err)
}

func (t *pgTx) GetProcessing(ctx context.Context, tenant string, eventID string, lock bool) (*model.WorkflowEventProcessing, error) {
	p, err := scanProcessing(t.tx.QueryRow(ctx, `SELECT `+processingColumns+` FROM workflow_event_processing WHERE tenant = $1 AND event_id = $2`+forUpdate(lock), tenant, eventID))
	if err != nil {
		return nil, mapError("get processing "+eventID, err)
	}
	return p, nil
}

func (t *pgTx) UpdateProcessing(ctx context.Context, p *model.WorkflowEventProcessing) error {
	_, err := t.tx.Exec(ctx, `UPDATE workflow_event_processing SET status = $3, worker_id = $4, attempt_count = $5, last_attempt = $6, error_message = $7, updated_at = $8
		WHERE tenant = $1 AND event_id = $2`,
		p.Tenant, p.EventID, string(p.Status), p.WorkerID, p.AttemptCount, p.LastAttempt, p.ErrorMessage, p.UpdatedAt)
	return mapError("update processing", err)
}

func (t *pgTx) ListProcessingByStatus(ctx context.Context, status model.ProcessingStatus, updatedBefore time.Time, limit int) ([]*model.WorkflowEventProcessing, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+processingColumns+` FROM workflow_event_processing WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`,
		string(status), updatedBefore, limit)
	if err != nil {
		return nil, mapError("list processing", err)
	}
	return collect(rows, scanProcessing, "list processing")
}

const resultColumns = `result_id, tenant, event_id, execution_id, action_name, action_path, action_group, parameters, result, success, error_message, idempotency_key, ready_to_execute, started_at, completed_at, created_at`

func scanResult(row scanner) (*model.WorkflowActionResult, error) {
	var r model.WorkflowActionResult
	if err := row.Scan(&r.ID, &r.Tenant, &r.EventID, &r.ExecutionID, &r.ActionName, &r.ActionPath, &r.ActionGroup, &r.Parameters, &r.Result,
		&r.Success, &r.ErrorMessage, &r.IdempotencyKey, &r.ReadyToExecute, &r.StartedAt, &r.CompletedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) InsertActionResult(ctx context.Context, r *model.WorkflowActionResult) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO workflow_action_results (`+resultColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.Tenant, r.EventID, r.ExecutionID, r.ActionName, r.ActionPath, r.ActionGroup, r.Parameters, r.Result,
		r.Success, r.ErrorMessage, r.IdempotencyKey, r.ReadyToExecute, r.StartedAt, r.CompletedAt, r.CreatedAt)
	return mapError("insert action result", err)
}

func (t *pgTx) GetActionResultByKey(ctx context.Context, tenant string, key string, lock bool) (*model.WorkflowActionResult, error) {
	r, err := scanResult(t.tx.QueryRow(ctx, `SELECT `+resultColumns+` FROM workflow_action_results WHERE tenant = $1 AND idempotency_key = $2`+forUpdate(lock), tenant, key))
	if err != nil {
		return nil, mapError("get action result "+key, err)
	}
	return r, nil
}

func (t *pgTx) UpdateActionResult(ctx context.Context, r *model.WorkflowActionResult) error {
	_, err := t.tx.Exec(ctx, `UPDATE workflow_action_results SET parameters = $3, result = $4, success = $5, error_message = $6, ready_to_execute = $7, started_at = $8, completed_at = $9
		WHERE tenant = $1 AND result_id = $2`,
		r.Tenant, r.ID, r.Parameters, r.Result, r.Success, r.ErrorMessage, r.ReadyToExecute, r.StartedAt, r.CompletedAt)
	return mapError("update action result", err)
}

func (t *pgTx) ListActionResults(ctx context.Context, tenant string, executionID string, eventID string) ([]*model.WorkflowActionResult, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+resultColumns+` FROM workflow_action_results
		WHERE tenant = $1 AND execution_id = $2 AND ($3 = '' OR event_id = $3) ORDER BY created_at, result_id`, tenant, executionID, eventID)
	if err != nil {
		return nil, mapError("list action results", err)
	}
	return collect(rows, scanResult, "list action results")
}

func (t *pgTx) InsertActionDependency(ctx context.Context, d *model.WorkflowActionDependency) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO workflow_action_dependencies (dependency_id, tenant, execution_id, event_id, action_id, depends_on_id, dependency_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`, d.ID, d.Tenant, d.ExecutionID, d.EventID, d.ActionID, d.DependsOnID, d.DependencyType)
	return mapError("insert action dependency", err)
}

func (t *pgTx) ListActionDependencies(ctx context.Context, tenant string, executionID string, eventID string) ([]*model.WorkflowActionDependency, error) {
	rows, err := t.tx.Query(ctx, `SELECT dependency_id, tenant, execution_id, event_id, action_id, depends_on_id, dependency_type
		FROM workflow_action_dependencies WHERE tenant = $1 AND execution_id = $2 AND event_id = $3 ORDER BY dependency_id`, tenant, executionID, eventID)
	if err != nil {
		return nil, mapError("list action dependencies", err)
	}
	return collect(rows, func(row scanner) (*model.WorkflowActionDependency, error) {
		var d model.WorkflowActionDependency
		err := row.Scan(&d.ID, &d.Tenant, &d.ExecutionID, &d.EventID, &d.ActionID, &d.DependsOnID, &d.DependencyType)
		return &d, err
	}, "list action dependencies")
}

const syncColumns = `sync_id, tenant, execution_id, event_id, sync_type, status, total_actions, completed_actions, created_at, completed_at`

func scanSyncPoint(row scanner) (*model.WorkflowSyncPoint, error) {
	var s model.WorkflowSyncPoint
	var status string
	if err := row.Scan(&s.ID, &s.Tenant, &s.ExecutionID, &s.EventID, &s.SyncType, &status, &s.TotalActions, &s.CompletedActions, &s.CreatedAt, &s.CompletedAt); err != nil {
		return nil, err
	}
	s.Status = model.SyncStatus(status)
	return &s, nil
}

func (t *pgTx) InsertSyncPoint(ctx context.Context, s *model.WorkflowSyncPoint) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO workflow_sync_points (`+syncColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.Tenant, s.ExecutionID, s.EventID, s.SyncType, string(s.Status), s.TotalActions, s.CompletedActions, s.CreatedAt, s.CompletedAt)
	return mapError("insert sync point", err)
}

func (t *pgTx) GetSyncPoint(ctx context.Context, tenant string, id string, lock bool) (*model.WorkflowSyncPoint, error) {
	s, err := scanSyncPoint(t.tx.QueryRow(ctx, `SELECT `+syncColumns+` FROM workflow_sync_points WHERE tenant = $1 AND sync_id = $2`+forUpdate(lock), tenant, id))
	if err != nil {
		return nil, mapError("get sync point "+id, err)
	}
	return s, nil
}

func (t *pgTx) GetSyncPointByEvent(ctx context.Context, tenant string, executionID string, eventID string) (*model.WorkflowSyncPoint, error) {
	s, err := scanSyncPoint(t.tx.QueryRow(ctx, `SELECT `+syncColumns+` FROM workflow_sync_points WHERE tenant = $1 AND execution_id = $2 AND event_id = $3`,
		tenant, executionID, eventID))
	if err != nil {
		return nil, mapError("get sync point for event "+eventID, err)
	}
	return s, nil
}

func (t *pgTx) UpdateSyncPoint(ctx context.Context, s *model.WorkflowSyncPoint) error {
	_, err := t.tx.Exec(ctx, `UPDATE workflow_sync_points SET status = $3, completed_actions = $4, completed_at = $5 WHERE tenant = $1 AND sync_id = $2`,
		s.Tenant, s.ID, string(s.Status), s.CompletedActions, s.CompletedAt)
	return mapError("update sync point", err)
}

const timerColumns = `timer_id, tenant, execution_id, timer_name, state_name, event_name, start_time, duration_ms, fire_time, recurrence_ms, status`

func scanTimer(row scanner) (*model.WorkflowTimer, error) {
	var tm model.WorkflowTimer
	var durationMs, recurrenceMs int64
	var status string
	if err := row.Scan(&tm.ID, &tm.Tenant, &tm.ExecutionID, &tm.TimerName, &tm.StateName, &tm.EventName, &tm.StartTime, &durationMs, &tm.FireTime, &recurrenceMs, &status); err != nil {
		return nil, err
	}
	tm.Duration = time.Duration(durationMs) * time.Millisecond
	tm.Recurrence = time.Duration(recurrenceMs) * time.Millisecond
	tm.Status = model.TimerStatus(status)
	return &tm, nil
}

func (t *pgTx) InsertTimer(ctx context.Context, tm *model.WorkflowTimer) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO workflow_timers (`+timerColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		tm.ID, tm.Tenant, tm.ExecutionID, tm.TimerName, tm.StateName, tm.EventName, tm.StartTime, tm.Duration.Milliseconds(), tm.FireTime,
		tm.Recurrence.Milliseconds(), string(tm.Status))
	return mapError("insert timer", err)
}

func (t *pgTx) GetTimer(ctx context.Context, tenant string, id string, lock bool) (*model.WorkflowTimer, error) {
	tm, err := scanTimer(t.tx.QueryRow(ctx, `SELECT `+timerColumns+` FROM workflow_timers WHERE tenant = $1 AND timer_id = $2`+forUpdate(lock), tenant, id))
	if err != nil {
		return nil, mapError("get timer "+id, err)
	}
	return tm, nil
}

func (t *pgTx) UpdateTimer(ctx context.Context, tm *model.WorkflowTimer) error {
	_, err := t.tx.Exec(ctx, `UPDATE workflow_timers SET start_time = $3, fire_time = $4, status = $5 WHERE tenant = $1 AND timer_id = $2`,
		tm.Tenant, tm.ID, tm.StartTime, tm.FireTime, string(tm.Status))
	return mapError("update timer", err)
}

func (t *pgTx) ListActiveTimers(ctx context.Context, tenant string, executionID string) ([]*model.WorkflowTimer, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+timerColumns+` FROM workflow_timers WHERE tenant = $1 AND execution_id = $2 AND status = $3 ORDER BY fire_time`,
		tenant, executionID, string(model.TimerActive))
	if err != nil {
		return nil, mapError("list active timers", err)
	}
	return collect(rows, scanTimer, "list active timers")
}

func (t *pgTx) ListDueTimers(ctx context.Context, now time.Time, limit int) ([]*model.WorkflowTimer, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+timerColumns+` FROM workflow_timers WHERE status = $1 AND fire_time <= $2 ORDER BY fire_time LIMIT $3`,
		string(model.TimerActive), now, limit)
	if err != nil {
		return nil, mapError("list due timers", err)
	}
	return collect(rows, scanTimer, "list due timers")
}

func (t *pgTx) EnsureTaskDefinition(ctx context.Context, def *model.TaskDefinition) (*model.TaskDefinition, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO task_definitions (task_definition_id, tenant, task_type, form_ref, default_priority, default_sla_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (tenant, task_type) DO NOTHING`,
		def.ID, def.Tenant, def.TaskType, def.FormRef, def.DefaultPriority, def.DefaultSLA.Milliseconds(), def.CreatedAt)
	if err != nil {
		return nil, mapError("insert task definition", err)
	}
	var stored model.TaskDefinition
	var slaMs int64
	err = t.tx.QueryRow(ctx, `SELECT task_definition_id, tenant, task_type, form_ref, default_priority, default_sla_ms, created_at
		FROM task_definitions WHERE tenant = $1 AND task_type = $2`, def.Tenant, def.TaskType).
		Scan(&stored.ID, &stored.Tenant, &stored.TaskType, &stored.FormRef, &stored.DefaultPriority, &slaMs, &stored.CreatedAt)
	if err != nil {
		return nil, mapError("get task definition "+def.TaskType, err)
	}
	stored.DefaultSLA = time.Duration(slaMs) * time.Millisecond
	return &stored, nil
}

const taskColumns = `task_id, tenant, execution_id, task_definition_id, title, description, status, priority, due_date, context_data,
	assigned_roles, assigned_users, created_by, created_at, claimed_by, claimed_at, completed_by, completed_at, response_data`

func scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var status string
	if err := row.Scan(&task.ID, &task.Tenant, &task.ExecutionID, &task.TaskDefinitionID, &task.Title, &task.Description, &status, &task.Priority,
		&task.DueDate, &task.ContextData, &task.AssignedRoles, &task.AssignedUsers, &task.CreatedBy, &task.CreatedAt, &task.ClaimedBy,
		&task.ClaimedAt, &task.CompletedBy, &task.CompletedAt, &task.ResponseData); err != nil {
		return nil, err
	}
	task.Status = model.TaskStatus(status)
	return &task, nil
}

func (t *pgTx) InsertTask(ctx context.Context, task *model.Task) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		task.ID, task.Tenant, task.ExecutionID, task.TaskDefinitionID, task.Title, task.Description, string(task.Status), task.Priority,
		task.DueDate, task.ContextData, task.AssignedRoles, task.AssignedUsers, task.CreatedBy, task.CreatedAt, task.ClaimedBy,
		task.ClaimedAt, task.CompletedBy, task.CompletedAt, task.ResponseData)
	return mapError("insert task", err)
}

func (t *pgTx) GetTask(ctx context.Context, tenant string, id string, lock bool) (*model.Task, error) {
	task, err := scanTask(t.tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE tenant = $1 AND task_id = $2`+forUpdate(lock), tenant, id))
	if err != nil {
		return nil, mapError("get task "+id, err)
	}
	return task, nil
}

func (t *pgTx) UpdateTask(ctx context.Context, task *model.Task) error {
	_, err := t.tx.Exec(ctx, `UPDATE tasks SET status = $3, claimed_by = $4, claimed_at = $5, completed_by = $6, completed_at = $7, response_data = $8
		WHERE tenant = $1 AND task_id = $2`,
		task.Tenant, task.ID, string(task.Status), task.ClaimedBy, task.ClaimedAt, task.CompletedBy, task.CompletedAt, task.ResponseData)
	return mapError("update task", err)
}

func (t *pgTx) InsertTaskHistory(ctx context.Context, h *model.TaskHistory) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO task_history (history_id, tenant, task_id, verb, from_status, to_status, user_id, data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		h.ID, h.Tenant, h.TaskID, string(h.Verb), string(h.FromStatus), string(h.ToStatus), h.UserID, h.Data, h.CreatedAt)
	return mapError("insert task history", err)
}

func (t *pgTx) ListTaskHistory(ctx context.Context, tenant string, taskID string) ([]*model.TaskHistory, error) {
	rows, err := t.tx.Query(ctx, `SELECT history_id, tenant, task_id, verb, from_status, to_status, user_id, data, created_at
		FROM task_history WHERE tenant = $1 AND task_id = $2 ORDER BY created_at`, tenant, taskID)
	if err != nil {
		return nil, mapError("list task history", err)
	}
	return collect(rows, func(row scanner) (*model.TaskHistory, error) {
		var h model.TaskHistory
		var verb, from, to string
		err := row.Scan(&h.ID, &h.Tenant, &h.TaskID, &verb, &from, &to, &h.UserID, &h.Data, &h.CreatedAt)
		h.Verb, h.FromStatus, h.ToStatus = model.TaskVerb(verb), model.TaskStatus(from), model.TaskStatus(to)
		return &h, err
	}, "list task history")
}

func (t *pgTx) ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]*model.Task, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status IN ($1, $2) AND due_date < $3 ORDER BY due_date LIMIT $4`,
		string(model.TaskPending), string(model.TaskClaimed), now, limit)
	if err != nil {
		return nil, mapError("list expired tasks", err)
	}
	return collect(rows, scanTask, "list expired tasks")
}

func collect[T any](rows pgx.Rows, scan func(scanner) (*T, error), op string) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}
