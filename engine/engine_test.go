package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/mohitkumar/eventflow/inbox"
	"github.com/mohitkumar/eventflow/lock"
	"github.com/mohitkumar/eventflow/metadata"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/persistence/memory"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/mohitkumar/eventflow/syncpoint"
	"github.com/mohitkumar/eventflow/txn"
	"github.com/stretchr/testify/suite"
)

type EngineSuite struct {
	suite.Suite
	ctx    context.Context
	store  *memory.Store
	stream *eventlog.MemoryStream
	events *eventlog.EventLog
	locker *lock.DistributedLock
	meta   *metadata.MetadataServiceImpl
	tasks  *inbox.Service
	engine *Engine

	mu     sync.Mutex
	calls  map[string]int
	broken atomic.Bool
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.calls = make(map[string]int)
	s.broken.Store(false)
	s.store = memory.NewStore()
	s.stream = eventlog.NewMemoryStream()
	s.events = eventlog.New(s.store, s.stream, nil)
	s.locker = lock.New(lock.NewMemoryStore(), lock.Config{TTL: 2 * time.Second, WaitTime: time.Second, PollInterval: 5 * time.Millisecond})

	registry := action.NewRegistry()
	s.Require().NoError(action.RegisterBuiltins(registry))
	s.tasks = inbox.New(s.store, s.events)
	s.Require().NoError(s.tasks.RegisterActions(registry))
	s.registerTestActions(registry)
	s.meta = metadata.NewMetadataService(metadata.NewMemoryMetadataStorage(), registry, time.Minute)

	s.engine = New(Deps{
		Store:    s.store,
		Locker:   s.locker,
		Txn:      txn.NewManager(s.store, s.locker, txn.Options{LockWait: 2 * time.Second}),
		Events:   s.events,
		Sync:     syncpoint.New(s.store, nil),
		Metadata: s.meta,
		Actions:  registry,
	}, Config{
		WorkerID: "w1",
		LockWait: 50 * time.Millisecond,
		Retry:    recovery.Options{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	s.registerWorkflows()
}

func (s *EngineSuite) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *EngineSuite) called(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	return s.calls[name]
}

func (s *EngineSuite) registerTestActions(reg *action.Registry) {
	s.Require().NoError(reg.Register("record", "remember the call", nil,
		func(ctx context.Context, params map[string]any, ec *action.ExecutionContext) (map[string]any, error) {
			s.called(ec.ActionName)
			return map[string]any{"ok": true, "by": ec.ActionName}, nil
		}))
	s.Require().NoError(reg.Register("flaky", "fails once with a connection error",
		[]action.Parameter{{Name: "amount", Type: action.ParamAny}},
		func(ctx context.Context, params map[string]any, ec *action.ExecutionContext) (map[string]any, error) {
			if s.called(ec.ActionName) == 1 {
				return nil, recovery.Wrap(recovery.KindConnection, "charge", errors.New("connection reset"))
			}
			return map[string]any{"charged": params["amount"]}, nil
		}))
	s.Require().NoError(reg.Register("fail", "fails with the requested strategy",
		[]action.Parameter{{Name: "mode", Type: action.ParamString, Required: true}},
		func(ctx context.Context, params map[string]any, ec *action.ExecutionContext) (map[string]any, error) {
			s.called(ec.ActionName)
			cause := errors.New("card declined")
			switch params["mode"] {
			case "skip":
				return nil, recovery.Skip(cause)
			case "compensate":
				return nil, recovery.Compensate(cause)
			case "abort":
				return nil, recovery.Abort(cause)
			}
			return nil, recovery.Wrap(recovery.KindValidation, "pay", cause)
		}))
	s.Require().NoError(reg.Register("slow", "finishes its side effect after a pause, whatever ctx says", nil,
		func(ctx context.Context, params map[string]any, ec *action.ExecutionContext) (map[string]any, error) {
			time.Sleep(30 * time.Millisecond)
			s.called(ec.ActionName)
			return map[string]any{"charged": true}, nil
		}))
	s.Require().NoError(reg.Register("fragile", "fails while the suite says so", nil,
		func(ctx context.Context, params map[string]any, ec *action.ExecutionContext) (map[string]any, error) {
			s.called(ec.ActionName)
			if s.broken.Load() {
				return nil, recovery.Wrap(recovery.KindValidation, "fragile", errors.New("downstream rejected"))
			}
			return map[string]any{"ok": true}, nil
		}))
}

func (s *EngineSuite) register(wf model.Workflow) {
	_, err := s.meta.RegisterFlow(s.ctx, wf)
	s.Require().NoError(err)
}

func (s *EngineSuite) registerWorkflows() {
	s.register(model.Workflow{
		Name: "fanout", InitialState: "S0",
		States: []model.State{{Name: "S0"}, {Name: "S1", Status: model.ExecutionCompleted}},
		Transitions: []model.Transition{{From: "S0", Event: "Start", To: "S1", Actions: []model.ActionSpec{
			{Name: "a", Action: "record"},
			{Name: "b", Action: "record"},
		}}},
	})
	s.register(model.Workflow{
		Name: "payment", InitialState: "S0",
		States: []model.State{{Name: "S0"}, {Name: "Paid", Status: model.ExecutionCompleted}},
		Transitions: []model.Transition{{From: "S0", Event: "Charge", To: "Paid", Actions: []model.ActionSpec{
			{Name: "chargeCard", Action: "flaky", Parameters: map[string]any{"amount": "{$.input.amount}"}},
		}}},
	})
	s.register(model.Workflow{
		Name: "routes", InitialState: "S0",
		States: []model.State{{Name: "S0"}, {Name: "Done", Status: model.ExecutionCompleted}, {Name: "Compensating"}},
		Transitions: []model.Transition{{From: "S0", Event: "Pay", To: "Done", OnFailure: "Compensating", Actions: []model.ActionSpec{
			{Name: "pay", Action: "fail", Parameters: map[string]any{"mode": "{$.event.data.mode}"}},
		}}},
	})
	s.register(model.Workflow{
		Name: "strict", InitialState: "S0",
		States: []model.State{{Name: "S0"}, {Name: "S1", Status: model.ExecutionCompleted}},
		Transitions: []model.Transition{{From: "S0", Event: "Go", To: "S1", Actions: []model.ActionSpec{
			{Name: "a", Action: "record"},
			{Name: "x", Action: "fragile", DependsOn: []string{"a"}},
		}}},
	})
	s.register(model.Workflow{
		Name: "mixed", InitialState: "S0",
		States: []model.State{{Name: "S0"}, {Name: "S1", Status: model.ExecutionCompleted}},
		Transitions: []model.Transition{{From: "S0", Event: "Go", To: "S1", Actions: []model.ActionSpec{
			{Name: "x", Action: "fragile"},
			{Name: "charge", Action: "slow"},
		}}},
	})
	s.register(model.Workflow{
		Name: "scripted", InitialState: "S0",
		States: []model.State{{Name: "S0"}, {Name: "Done", Status: model.ExecutionCompleted}},
		Transitions: []model.Transition{{From: "S0", Event: "Calc", To: "Done", Actions: []model.ActionSpec{
			{Name: "calc", Action: "javascript", Parameters: map[string]any{
				"script": "if ($.input.amount > 5) { $.tier = 'big'; } else { $.tier = 'small'; }\n$.note = '{$.input.amount}';",
			}},
		}}},
	})
	s.register(model.Workflow{
		Name: "approval", InitialState: "Draft",
		States: []model.State{{Name: "Draft"}, {Name: "WaitingApproval"}, {Name: "Approved", Status: model.ExecutionCompleted}},
		Transitions: []model.Transition{
			{From: "Draft", Event: "Submit", To: "WaitingApproval", Actions: []model.ActionSpec{
				{Name: "ask", Action: "createHumanTask", Parameters: map[string]any{
					"taskType":      "approval",
					"title":         "approve order {$.input.orderId}",
					"assignedUsers": []any{"alice"},
				}},
			}},
			{From: "WaitingApproval", Event: "Task:*:Complete", To: "Approved"},
		},
	})
	s.register(model.Workflow{
		Name: "router", InitialState: "S0",
		States: []model.State{
			{Name: "S0"}, {Name: "Routed"},
			{Name: "Big", Status: model.ExecutionCompleted}, {Name: "Small", Status: model.ExecutionCompleted},
		},
		Transitions: []model.Transition{
			{From: "S0", Event: "Route", To: "Routed", Actions: []model.ActionSpec{
				{Name: "pick", Action: "switch", Parameters: map[string]any{
					"expression": "{$.input.kind}",
					"cases":      map[string]any{"big": "GoBig"},
					"default":    "GoSmall",
				}},
			}},
			{From: "Routed", Event: "GoBig", To: "Big"},
			{From: "Routed", Event: "GoSmall", To: "Small"},
		},
	})
	s.register(model.Workflow{
		Name: "timed", InitialState: "Waiting",
		States: []model.State{
			{Name: "Waiting", Timer: &model.TimerSpec{Name: "reminder", After: "10ms"}},
			{Name: "Expired", Status: model.ExecutionCompleted},
			{Name: "Done", Status: model.ExecutionCompleted},
		},
		Transitions: []model.Transition{
			{From: "Waiting", Event: "Timer:reminder", To: "Expired"},
			{From: "Waiting", Event: "Finish", To: "Done"},
		},
	})
}

func (s *EngineSuite) start(workflow string, input map[string]any) *model.WorkflowExecution {
	exec, err := s.engine.StartExecution(s.ctx, "t1", workflow, 0, input)
	s.Require().NoError(err)
	return exec
}

func (s *EngineSuite) send(executionID string, event string, data map[string]any) *model.WorkflowEvent {
	ev, err := s.engine.SendEvent(s.ctx, "t1", executionID, model.EventDraft{
		EventName: event,
		Payload:   model.SignalPayload{Data: data},
	})
	s.Require().NoError(err)
	return ev
}

// drain hands every stream entry to the engine until the stream is empty.
func (s *EngineSuite) drain() {
	for i := 0; i < 50; i++ {
		deliveries, err := s.events.Claim(s.ctx, "w1", 10, 0)
		s.Require().NoError(err)
		if len(deliveries) == 0 {
			return
		}
		for _, d := range deliveries {
			s.Require().NoError(s.engine.HandleDelivery(s.ctx, d))
		}
	}
	s.FailNow("stream did not drain")
}

func (s *EngineSuite) execution(id string) *model.WorkflowExecution {
	exec, err := s.engine.GetExecution(s.ctx, "t1", id)
	s.Require().NoError(err)
	return exec
}

func (s *EngineSuite) processing(eventID string) model.ProcessingStatus {
	p, err := s.events.Processing(s.ctx, "t1", eventID)
	s.Require().NoError(err)
	return p.Status
}

func (s *EngineSuite) results(executionID string, eventID string) map[string]*model.WorkflowActionResult {
	out := make(map[string]*model.WorkflowActionResult)
	err := s.store.WithTx(s.ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		rows, err := tx.ListActionResults(ctx, "t1", executionID, eventID)
		for _, r := range rows {
			out[r.ActionName] = r
		}
		return err
	})
	s.Require().NoError(err)
	return out
}

func (s *EngineSuite) actionOutput(exec *model.WorkflowExecution, name string) map[string]any {
	actions, ok := exec.ContextData["actions"].(map[string]any)
	s.Require().True(ok, "no action outputs recorded")
	out, ok := actions[name].(map[string]any)
	s.Require().True(ok, "no output for %s", name)
	return out
}

func (s *EngineSuite) TestFanOutJoinsBeforeMoving() {
	exec := s.start("fanout", nil)
	s.Equal("S0", exec.CurrentState)
	ev := s.send(exec.ID, "Start", nil)
	s.drain()

	got := s.execution(exec.ID)
	s.Equal("S1", got.CurrentState)
	s.Equal(model.ExecutionCompleted, got.Status)
	s.Equal(1, s.count("a"))
	s.Equal(1, s.count("b"))
	s.Equal(true, s.actionOutput(got, "a")["ok"])

	results := s.results(exec.ID, ev.ID)
	s.Len(results, 2)
	for _, r := range results {
		s.True(r.Success)
		s.True(r.Done())
	}

	err := s.store.WithTx(s.ctx, persistence.TxOptions{ReadOnly: true}, func(ctx context.Context, tx persistence.Tx) error {
		sp, err := tx.GetSyncPointByEvent(ctx, "t1", exec.ID, ev.ID)
		s.Require().NoError(err)
		s.Equal(model.SyncCompleted, sp.Status)
		s.Equal(2, sp.CompletedActions)
		s.NotNil(sp.CompletedAt)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(model.ProcessingCompleted, s.processing(ev.ID))

	replay, err := s.engine.Replay(s.ctx, "t1", exec.ID)
	s.Require().NoError(err)
	s.Equal("S1", replay.State)
	s.Equal(2, replay.Transitions)
	s.True(replay.Consistent)

	st, err := s.engine.CurrentState(s.ctx, "t1", exec.ID)
	s.Require().NoError(err)
	s.Equal("S1", st.State)
}

func (s *EngineSuite) TestRetriedActionLeavesOneResult() {
	exec := s.start("payment", map[string]any{"amount": 42})
	ev := s.send(exec.ID, "Charge", nil)
	s.drain()

	s.Equal(2, s.count("chargeCard"))
	results := s.results(exec.ID, ev.ID)
	s.Require().Len(results, 1)
	r := results["chargeCard"]
	s.True(r.Success)
	s.Equal(IdempotencyKey("t1", exec.ID, ev.ID, "chargeCard"), r.IdempotencyKey)
	s.Equal(float64(42), r.Result["charged"])
	s.Equal("Paid", s.execution(exec.ID).CurrentState)
}

func (s *EngineSuite) TestRedeliveredEventRunsNothingTwice() {
	exec := s.start("fanout", nil)
	ev := s.send(exec.ID, "Start", nil)
	s.drain()

	data, err := model.NewEnvelope(ev).Encode()
	s.Require().NoError(err)
	_, err = s.stream.Publish(s.ctx, data)
	s.Require().NoError(err)
	s.drain()

	s.Equal(1, s.count("a"))
	s.Equal(1, s.count("b"))
	s.Len(s.results(exec.ID, ev.ID), 2)
	s.Equal(0, s.stream.Len())
}

func (s *EngineSuite) TestRequeueRunsOnlyUnfinishedActions() {
	s.broken.Store(true)
	exec := s.start("strict", nil)
	ev := s.send(exec.ID, "Go", nil)
	s.drain()

	s.Equal(model.ProcessingFailed, s.processing(ev.ID))
	got := s.execution(exec.ID)
	s.Equal("S0", got.CurrentState)
	s.Equal(model.ExecutionActive, got.Status)
	results := s.results(exec.ID, ev.ID)
	s.True(results["a"].Success)
	s.False(results["x"].Success)
	s.False(results["x"].Done())
	s.True(results["x"].ReadyToExecute)
	s.NotEmpty(results["x"].ErrorMessage)

	s.broken.Store(false)
	s.Require().NoError(s.engine.Requeue(s.ctx, "t1", ev.ID))
	s.drain()

	s.Equal("S1", s.execution(exec.ID).CurrentState)
	s.Equal(1, s.count("a"))
	s.Equal(2, s.count("x"))
	s.Equal(model.ProcessingCompleted, s.processing(ev.ID))
	s.True(s.results(exec.ID, ev.ID)["x"].Success)
}

func (s *EngineSuite) TestSiblingSuccessIsCheckpointedWhenLevelFails() {
	s.broken.Store(true)
	exec := s.start("mixed", nil)
	ev := s.send(exec.ID, "Go", nil)
	s.drain()

	s.Equal(model.ProcessingFailed, s.processing(ev.ID))
	s.Equal("S0", s.execution(exec.ID).CurrentState)
	results := s.results(exec.ID, ev.ID)
	s.True(results["charge"].Done())
	s.True(results["charge"].Success)
	s.Equal(true, results["charge"].Result["charged"])
	s.False(results["x"].Done())
	s.Equal(1, s.count("charge"))

	s.broken.Store(false)
	s.Require().NoError(s.engine.Requeue(s.ctx, "t1", ev.ID))
	s.drain()

	s.Equal("S1", s.execution(exec.ID).CurrentState)
	s.Equal(1, s.count("charge"))
	s.Equal(2, s.count("x"))
}

func (s *EngineSuite) TestScriptBracesReachJavascript() {
	exec := s.start("scripted", map[string]any{"amount": 10})
	s.send(exec.ID, "Calc", nil)
	s.drain()

	got := s.execution(exec.ID)
	s.Equal("Done", got.CurrentState)
	out := s.actionOutput(got, "calc")
	s.Equal("big", out["tier"])
	s.Equal("{$.input.amount}", out["note"])
}

func (s *EngineSuite) TestRetriedDeliveriesBackOff() {
	s.engine.conf.Retry = recovery.Options{MaxRetries: 5, InitialDelay: 40 * time.Millisecond, MaxDelay: time.Second}
	exec := s.start("fanout", nil)
	ev := s.send(exec.ID, "Start", nil)

	held, err := s.locker.Acquire(s.ctx, executionKey("t1", exec.ID), "other-worker")
	s.Require().NoError(err)
	s.Require().True(held)

	for attempt := 1; attempt <= 2; attempt++ {
		deliveries, err := s.events.Claim(s.ctx, "w1", 10, 0)
		s.Require().NoError(err)
		s.Require().Len(deliveries, 1)
		began := time.Now()
		s.Require().NoError(s.engine.HandleDelivery(s.ctx, deliveries[0]))
		took := time.Since(began)

		want := s.engine.conf.LockWait + recovery.BackoffDelay(attempt, s.engine.conf.Retry)
		s.GreaterOrEqual(took, want, "attempt %d", attempt)
		s.Equal(model.ProcessingRetrying, s.processing(ev.ID))
		s.Equal(1, s.stream.Len())
	}

	_, err = s.locker.Release(s.ctx, executionKey("t1", exec.ID), "other-worker")
	s.Require().NoError(err)
	s.drain()
	s.Equal("S1", s.execution(exec.ID).CurrentState)
}

func (s *EngineSuite) TestHumanTaskResumesExecution() {
	exec := s.start("approval", map[string]any{"orderId": "o-1"})
	s.send(exec.ID, "Submit", nil)
	s.drain()

	got := s.execution(exec.ID)
	s.Equal("WaitingApproval", got.CurrentState)
	taskID, ok := s.actionOutput(got, "ask")["taskId"].(string)
	s.Require().True(ok)

	task, err := s.tasks.Get(s.ctx, "t1", taskID)
	s.Require().NoError(err)
	s.Equal("approve order o-1", task.Title)
	s.Equal(model.TaskPending, task.Status)

	_, err = s.tasks.Claim(s.ctx, "t1", taskID, "alice")
	s.Require().NoError(err)
	_, err = s.tasks.Complete(s.ctx, "t1", taskID, "alice", map[string]any{"approved": true})
	s.Require().NoError(err)
	s.drain()

	got = s.execution(exec.ID)
	s.Equal("Approved", got.CurrentState)
	s.Equal(model.ExecutionCompleted, got.Status)
	event := got.ContextData["event"].(map[string]any)
	s.Equal(model.TaskEventName(taskID, model.TaskVerbComplete), event["name"])

	history, err := s.engine.History(s.ctx, "t1", exec.ID)
	s.Require().NoError(err)
	var names []string
	for _, ev := range history {
		names = append(names, ev.EventName)
	}
	s.Contains(names, model.TaskEventName(taskID, model.TaskVerbCreated))
	s.Contains(names, model.TaskEventName(taskID, model.TaskVerbClaimed))
	s.Contains(names, model.TaskEventName(taskID, model.TaskVerbComplete))
}

func (s *EngineSuite) TestCancelStopsExecution() {
	exec := s.start("timed", nil)
	_, err := s.engine.Cancel(s.ctx, "t1", exec.ID, "ops", "no longer needed")
	s.Require().NoError(err)
	s.drain()

	got := s.execution(exec.ID)
	s.Equal(model.ExecutionCancelled, got.Status)
	s.Equal("Waiting", got.CurrentState)

	_, err = s.engine.SendEvent(s.ctx, "t1", exec.ID, model.EventDraft{EventName: "Finish"})
	kind, ok := recovery.KindOf(err)
	s.True(ok)
	s.Equal(recovery.KindValidation, kind)

	time.Sleep(20 * time.Millisecond)
	fired, err := s.engine.FireDueTimers(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(0, fired)
}

func (s *EngineSuite) TestFailureStrategies() {
	for mode, want := range map[string]struct {
		state      string
		status     model.ExecutionStatus
		processing model.ProcessingStatus
	}{
		"skip":       {"Done", model.ExecutionCompleted, model.ProcessingCompleted},
		"compensate": {"Compensating", model.ExecutionActive, model.ProcessingCompleted},
		"abort":      {"S0", model.ExecutionFailed, model.ProcessingFailed},
		"manual":     {"Compensating", model.ExecutionActive, model.ProcessingCompleted},
	} {
		exec := s.start("routes", nil)
		ev := s.send(exec.ID, "Pay", map[string]any{"mode": mode})
		s.drain()

		got := s.execution(exec.ID)
		s.Equal(want.state, got.CurrentState, mode)
		s.Equal(want.status, got.Status, mode)
		s.Equal(want.processing, s.processing(ev.ID), mode)
		r := s.results(exec.ID, ev.ID)["pay"]
		s.False(r.Success, mode)
		if mode == "skip" {
			s.True(r.Done(), mode)
			continue
		}
		failure, ok := got.ContextData["error"].(map[string]any)
		s.Require().True(ok, mode)
		s.Equal("pay", failure["action"], mode)
	}
}

func (s *EngineSuite) TestSwitchPicksNextEvent() {
	big := s.start("router", map[string]any{"kind": "big"})
	small := s.start("router", map[string]any{"kind": "tiny"})
	s.send(big.ID, "Route", nil)
	s.send(small.ID, "Route", nil)
	s.drain()

	s.Equal("Big", s.execution(big.ID).CurrentState)
	s.Equal("Small", s.execution(small.ID).CurrentState)
}

func (s *EngineSuite) TestTimerFiresOnlyInItsState() {
	waiting := s.start("timed", nil)
	finished := s.start("timed", nil)
	s.send(finished.ID, "Finish", nil)
	s.drain()

	time.Sleep(30 * time.Millisecond)
	fired, err := s.engine.FireDueTimers(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, fired)
	s.drain()

	s.Equal("Expired", s.execution(waiting.ID).CurrentState)
	s.Equal("Done", s.execution(finished.ID).CurrentState)
}

func (s *EngineSuite) TestPoisonEntriesAreDropped() {
	_, err := s.stream.Publish(s.ctx, []byte("not json"))
	s.Require().NoError(err)
	_, err = s.stream.Publish(s.ctx, []byte(`{"event_id":"x","execution_id":"e","event_name":"n","event_type":"bogus","tenant":"t1","timestamp":"2024-01-01T00:00:00Z"}`))
	s.Require().NoError(err)
	s.drain()
	s.Equal(0, s.stream.Len())
}

func (s *EngineSuite) TestUnmatchedEventIsSettled() {
	exec := s.start("fanout", nil)
	ev := s.send(exec.ID, "Nope", nil)
	s.drain()
	s.Equal("S0", s.execution(exec.ID).CurrentState)
	s.Equal(model.ProcessingCompleted, s.processing(ev.ID))
}

func (s *EngineSuite) TestLockContentionRetriesDelivery() {
	exec := s.start("fanout", nil)
	ev := s.send(exec.ID, "Start", nil)

	held, err := s.locker.Acquire(s.ctx, executionKey("t1", exec.ID), "other-worker")
	s.Require().NoError(err)
	s.Require().True(held)

	deliveries, err := s.events.Claim(s.ctx, "w1", 10, 0)
	s.Require().NoError(err)
	s.Require().Len(deliveries, 1)
	s.Require().NoError(s.engine.HandleDelivery(s.ctx, deliveries[0]))
	s.Equal(model.ProcessingRetrying, s.processing(ev.ID))
	s.Equal(1, s.stream.Len())
	s.Equal(0, s.count("a"))

	_, err = s.locker.Release(s.ctx, executionKey("t1", exec.ID), "other-worker")
	s.Require().NoError(err)
	s.drain()
	s.Equal("S1", s.execution(exec.ID).CurrentState)
}

func (s *EngineSuite) TestStartRejectsUnknownWorkflow() {
	_, err := s.engine.StartExecution(s.ctx, "t1", "missing", 0, nil)
	kind, ok := recovery.KindOf(err)
	s.True(ok)
	s.Equal(recovery.KindValidation, kind)
	s.ErrorIs(err, persistence.ErrNotFound)
}
