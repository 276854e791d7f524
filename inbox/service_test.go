package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/persistence/memory"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, *eventlog.EventLog, *eventlog.MemoryStream, *model.WorkflowExecution) {
	t.Helper()
	store := memory.NewStore()
	stream := eventlog.NewMemoryStream()
	events := eventlog.New(store, stream, nil)
	now := time.Now().UTC()
	exec := &model.WorkflowExecution{
		ID: "e1", Tenant: "t1", WorkflowName: "approval", WorkflowVersion: 1,
		CurrentState: "WaitingApproval", Status: model.ExecutionActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.WithTx(context.Background(), persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		return tx.InsertExecution(ctx, exec)
	}))
	return New(store, events), events, stream, exec
}

func eventNames(t *testing.T, events *eventlog.EventLog) []string {
	t.Helper()
	history, err := events.History(context.Background(), "t1", "e1")
	require.NoError(t, err)
	var names []string
	for _, ev := range history {
		names = append(names, ev.EventName)
	}
	return names
}

func kindOf(t *testing.T, err error) recovery.Kind {
	t.Helper()
	kind, ok := recovery.KindOf(err)
	require.True(t, ok, "expected a classified error, got %v", err)
	return kind
}

func TestTaskLifecycle(t *testing.T) {
	svc, events, stream, exec := setup(t)
	ctx := context.Background()

	taskID, err := svc.CreateTask(ctx, exec, CreateParams{
		TaskType: "approval", Title: "approve order", AssignedUsers: []string{"alice"},
	}, "system")
	require.NoError(t, err)

	task, err := svc.Get(ctx, "t1", taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskPending, task.Status)
	assert.Equal(t, DefaultPriority, task.Priority)
	require.NotNil(t, task.DueDate)
	assert.WithinDuration(t, time.Now().Add(DefaultSLA), *task.DueDate, time.Minute)

	_, err = svc.Claim(ctx, "t1", taskID, "bob")
	assert.Equal(t, recovery.KindPermission, kindOf(t, err))

	task, err = svc.Claim(ctx, "t1", taskID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.TaskClaimed, task.Status)
	assert.Equal(t, "alice", task.ClaimedBy)

	_, err = svc.Claim(ctx, "t1", taskID, "alice")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Complete(ctx, "t1", taskID, "bob", nil)
	assert.Equal(t, recovery.KindPermission, kindOf(t, err))

	task, err = svc.Complete(ctx, "t1", taskID, "alice", map[string]any{"approved": true})
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)
	assert.Equal(t, true, task.ResponseData["approved"])

	_, err = svc.Cancel(ctx, "t1", taskID, "alice", "too late")
	require.ErrorIs(t, err, ErrInvalidTransition)

	history, err := svc.History(ctx, "t1", taskID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.TaskVerbCreated, history[0].Verb)
	assert.Equal(t, model.TaskVerbClaimed, history[1].Verb)
	assert.Equal(t, model.TaskPending, history[1].FromStatus)
	assert.Equal(t, model.TaskVerbComplete, history[2].Verb)

	assert.Equal(t, []string{
		model.TaskEventName(taskID, model.TaskVerbCreated),
		model.TaskEventName(taskID, model.TaskVerbClaimed),
		model.TaskEventName(taskID, model.TaskVerbComplete),
	}, eventNames(t, events))
	assert.Equal(t, 3, stream.Len())
}

func TestCreateTaskIsIdempotent(t *testing.T) {
	svc, events, stream, exec := setup(t)
	ctx := context.Background()
	params := CreateParams{TaskID: TaskID("t1", "e1", "ev1", "review"), TaskType: "review", Title: "review"}

	first, err := svc.CreateTask(ctx, exec, params, "")
	require.NoError(t, err)
	second, err := svc.CreateTask(ctx, exec, params, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, eventNames(t, events), 1)
	assert.Equal(t, 1, stream.Len())

	_, err = svc.CreateTask(ctx, exec, CreateParams{TaskType: "review"}, "")
	assert.Equal(t, recovery.KindValidation, kindOf(t, err))
}

func TestCancelAndExpire(t *testing.T) {
	svc, _, _, exec := setup(t)
	ctx := context.Background()

	canceled, err := svc.CreateTask(ctx, exec, CreateParams{TaskType: "review", Title: "one"}, "")
	require.NoError(t, err)
	task, err := svc.Cancel(ctx, "t1", canceled, "ops", "not needed")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCanceled, task.Status)

	soon, err := svc.CreateTask(ctx, exec, CreateParams{TaskType: "review", Title: "two", DueIn: time.Millisecond}, "")
	require.NoError(t, err)
	_, err = svc.CreateTask(ctx, exec, CreateParams{TaskType: "review", Title: "three", DueIn: time.Hour}, "")
	require.NoError(t, err)

	_, err = svc.Expire(ctx, "t1", canceled)
	require.ErrorIs(t, err, ErrInvalidTransition)

	time.Sleep(5 * time.Millisecond)
	n, err := svc.ExpireDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	task, err = svc.Get(ctx, "t1", soon)
	require.NoError(t, err)
	assert.Equal(t, model.TaskExpired, task.Status)
}

func TestCreateHumanTaskAction(t *testing.T) {
	svc, _, _, _ := setup(t)
	reg := action.NewRegistry()
	require.NoError(t, svc.RegisterActions(reg))
	def, ok := reg.Get("createHumanTask")
	require.True(t, ok)

	ec := &action.ExecutionContext{Tenant: "t1", ExecutionID: "e1", State: "WaitingApproval", EventID: "ev1", ActionName: "ask"}
	params := map[string]any{
		"taskType":      "approval",
		"title":         "approve",
		"dueIn":         "48h",
		"assignedUsers": []any{"alice"},
	}
	out, err := def.Execute(context.Background(), params, ec)
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, TaskID("t1", "e1", "ev1", "ask"), out["taskId"])

	task, err := svc.Get(context.Background(), "t1", out["taskId"].(string))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, task.AssignedUsers)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), *task.DueDate, time.Minute)

	ec.EventID = "ev3"
	out, err = def.Execute(context.Background(), map[string]any{
		"taskType":      "approval",
		"title":         "approve",
		"assignedRoles": []string{"finance", "ops"},
	}, ec)
	require.NoError(t, err)
	task, err = svc.Get(context.Background(), "t1", out["taskId"].(string))
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "ops"}, task.AssignedRoles)

	params["dueIn"] = "soon"
	ec.EventID = "ev2"
	_, err = def.Execute(context.Background(), params, ec)
	assert.Equal(t, recovery.KindValidation, kindOf(t, err))
}
