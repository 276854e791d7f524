package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
)

var _ persistence.Store = new(Store)
var _ persistence.Tx = new(tx)

type tables struct {
	executions  map[string]model.WorkflowExecution
	events      map[string]model.WorkflowEvent
	processing  map[string]model.WorkflowEventProcessing
	results     map[string]model.WorkflowActionResult
	resultByKey map[string]string
	deps        map[string]model.WorkflowActionDependency
	syncPoints  map[string]model.WorkflowSyncPoint
	timers      map[string]model.WorkflowTimer
	taskDefs    map[string]model.TaskDefinition
	tasks       map[string]model.Task
	history     map[string]model.TaskHistory
}

func newTables() *tables {
	return &tables{
		executions:  map[string]model.WorkflowExecution{},
		events:      map[string]model.WorkflowEvent{},
		processing:  map[string]model.WorkflowEventProcessing{},
		results:     map[string]model.WorkflowActionResult{},
		resultByKey: map[string]string{},
		deps:        map[string]model.WorkflowActionDependency{},
		syncPoints:  map[string]model.WorkflowSyncPoint{},
		timers:      map[string]model.WorkflowTimer{},
		taskDefs:    map[string]model.TaskDefinition{},
		tasks:       map[string]model.Task{},
		history:     map[string]model.TaskHistory{},
	}
}

func (t *tables) snapshot() *tables {
	return &tables{
		executions:  copyMap(t.executions),
		events:      copyMap(t.events),
		processing:  copyMap(t.processing),
		results:     copyMap(t.results),
		resultByKey: copyMap(t.resultByKey),
		deps:        copyMap(t.deps),
		syncPoints:  copyMap(t.syncPoints),
		timers:      copyMap(t.timers),
		taskDefs:    copyMap(t.taskDefs),
		tasks:       copyMap(t.tasks),
		history:     copyMap(t.history),
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is an in process persistence.Store. Transactions are serialized by a
// single mutex and rolled back by restoring a snapshot.
type Store struct {
	mu  sync.Mutex
	t   *tables
	seq int64
}

func NewStore() *Store {
	return &Store{t: newTables()}
}

func (s *Store) WithTx(ctx context.Context, opts persistence.TxOptions, fn func(ctx context.Context, tx persistence.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return recovery.Wrap(recovery.KindCanceled, "memory.begin", err)
	}
	before := s.t.snapshot()
	if err := fn(ctx, &tx{s: s}); err != nil {
		s.t = before
		return err
	}
	return nil
}

func (s *Store) Close() {}

type tx struct {
	s *Store
}

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += "\x00"
		}
		k += p
	}
	return k
}

// clone detaches nested maps and slices from stored rows, the same way a
// round trip through a database would.
func clone[T any](v T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func notFound(what string, id string) error {
	return fmt.Errorf("%w: %s %s", persistence.ErrNotFound, what, id)
}

func duplicate(what string, id string) error {
	return recovery.Errorf(recovery.KindConstraint, "memory.insert", "duplicate %s %s", what, id)
}

func (t *tx) InsertExecution(ctx context.Context, e *model.WorkflowExecution) error {
	k := key(e.Tenant, e.ID)
	if _, ok := t.s.t.executions[k]; ok {
		return duplicate("execution", e.ID)
	}
	t.s.t.executions[k] = *clone(*e)
	return nil
}

func (t *tx) GetExecution(ctx context.Context, tenant string, id string, forUpdate bool) (*model.WorkflowExecution, error) {
	e, ok := t.s.t.executions[key(tenant, id)]
	if !ok {
		return nil, notFound("execution", id)
	}
	return clone(e), nil
}

func (t *tx) UpdateExecution(ctx context.Context, e *model.WorkflowExecution) error {
	k := key(e.Tenant, e.ID)
	if _, ok := t.s.t.executions[k]; !ok {
		return notFound("execution", e.ID)
	}
	t.s.t.executions[k] = *clone(*e)
	return nil
}

func (t *tx) InsertEvent(ctx context.Context, ev *model.WorkflowEvent) error {
	k := key(ev.Tenant, ev.ID)
	if _, ok := t.s.t.events[k]; ok {
		return duplicate("event", ev.ID)
	}
	t.s.seq++
	ev.Seq = t.s.seq
	t.s.t.events[k] = *clone(*ev)
	return nil
}

func (t *tx) GetEvent(ctx context.Context, tenant string, id string) (*model.WorkflowEvent, error) {
	ev, ok := t.s.t.events[key(tenant, id)]
	if !ok {
		return nil, notFound("event", id)
	}
	return clone(ev), nil
}

func (t *tx) ListEvents(ctx context.Context, tenant string, executionID string) ([]*model.WorkflowEvent, error) {
	var out []*model.WorkflowEvent
	for _, ev := range t.s.t.events {
		if ev.Tenant == tenant && ev.ExecutionID == executionID {
			out = append(out, clone(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (t *tx) InsertProcessing(ctx context.Context, p *model.WorkflowEventProcessing) error {
	k := key(p.Tenant, p.EventID)
	if _, ok := t.s.t.processing[k]; ok {
		return duplicate("processing for event", p.EventID)
	}
	t.s.t.processing[k] = *clone(*p)
	return nil
}

func (t *tx) GetProcessing(ctx context.Context, tenant string, eventID string, forUpdate bool) (*model.WorkflowEventProcessing, error) {
	p, ok := t.s.t.processing[key(tenant, eventID)]
	if !ok {
		return nil, notFound("processing for event", eventID)
	}
	return clone(p), nil
}

func (t *tx) UpdateProcessing(ctx context.Context, p *model.WorkflowEventProcessing) error {
	k := key(p.Tenant, p.EventID)
	if _, ok := t.s.t.processing[k]; !ok {
		return notFound("processing for event", p.EventID)
	}
	t.s.t.processing[k] = *clone(*p)
	return nil
}

func (t *tx) ListProcessingByStatus(ctx context.Context, status model.ProcessingStatus, updatedBefore time.Time, limit int) ([]*model.WorkflowEventProcessing, error) {
	var out []*model.WorkflowEventProcessing
	for _, p := range t.s.t.processing {
		if p.Status == status && p.UpdatedAt.Before(updatedBefore) {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) InsertActionResult(ctx context.Context, r *model.WorkflowActionResult) error {
	ik := key(r.Tenant, r.IdempotencyKey)
	if _, ok := t.s.t.resultByKey[ik]; ok {
		return duplicate("idempotency key", r.IdempotencyKey)
	}
	t.s.t.results[key(r.Tenant, r.ID)] = *clone(*r)
	t.s.t.resultByKey[ik] = r.ID
	return nil
}

func (t *tx) GetActionResultByKey(ctx context.Context, tenant string, idemKey string, forUpdate bool) (*model.WorkflowActionResult, error) {
	id, ok := t.s.t.resultByKey[key(tenant, idemKey)]
	if !ok {
		return nil, notFound("action result", idemKey)
	}
	return clone(t.s.t.results[key(tenant, id)]), nil
}

func (t *tx) UpdateActionResult(ctx context.Context, r *model.WorkflowActionResult) error {
	k := key(r.Tenant, r.ID)
	if _, ok := t.s.t.results[k]; !ok {
		return notFound("action result", r.ID)
	}
	t.s.t.results[k] = *clone(*r)
	return nil
}

func (t *tx) ListActionResults(ctx context.Context, tenant string, executionID string, eventID string) ([]*model.WorkflowActionResult, error) {
	var out []*model.WorkflowActionResult
	for _, r := range t.s.t.results {
		if r.Tenant == tenant && r.ExecutionID == executionID && (eventID == "" || r.EventID == eventID) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) InsertActionDependency(ctx context.Context, d *model.WorkflowActionDependency) error {
	k := key(d.Tenant, d.ID)
	if _, ok := t.s.t.deps[k]; ok {
		return duplicate("dependency", d.ID)
	}
	t.s.t.deps[k] = *d
	return nil
}

func (t *tx) ListActionDependencies(ctx context.Context, tenant string, executionID string, eventID string) ([]*model.WorkflowActionDependency, error) {
	var out []*model.WorkflowActionDependency
	for _, d := range t.s.t.deps {
		if d.Tenant == tenant && d.ExecutionID == executionID && d.EventID == eventID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) InsertSyncPoint(ctx context.Context, s *model.WorkflowSyncPoint) error {
	k := key(s.Tenant, s.ID)
	if _, ok := t.s.t.syncPoints[k]; ok {
		return duplicate("sync point", s.ID)
	}
	for _, existing := range t.s.t.syncPoints {
		if existing.Tenant == s.Tenant && existing.ExecutionID == s.ExecutionID && existing.EventID == s.EventID {
			return duplicate("sync point for event", s.EventID)
		}
	}
	t.s.t.syncPoints[k] = *clone(*s)
	return nil
}

func (t *tx) GetSyncPoint(ctx context.Context, tenant string, id string, forUpdate bool) (*model.WorkflowSyncPoint, error) {
	s, ok := t.s.t.syncPoints[key(tenant, id)]
	if !ok {
		return nil, notFound("sync point", id)
	}
	return clone(s), nil
}

func (t *tx) GetSyncPointByEvent(ctx context.Context, tenant string, executionID string, eventID string) (*model.WorkflowSyncPoint, error) {
	for _, s := range t.s.t.syncPoints {
		if s.Tenant == tenant && s.ExecutionID == executionID && s.EventID == eventID {
			return clone(s), nil
		}
	}
	return nil, notFound("sync point for event", eventID)
}

func (t *tx) UpdateSyncPoint(ctx context.Context, s *model.WorkflowSyncPoint) error {
	k := key(s.Tenant, s.ID)
	if _, ok := t.s.t.syncPoints[k]; !ok {
		return notFound("sync point", s.ID)
	}
	t.s.t.syncPoints[k] = *clone(*s)
	return nil
}

func (t *tx) InsertTimer(ctx context.Context, tm *model.WorkflowTimer) error {
	k := key(tm.Tenant, tm.ID)
	if _, ok := t.s.t.timers[k]; ok {
		return duplicate("timer", tm.ID)
	}
	t.s.t.timers[k] = *tm
	return nil
}

func (t *tx) GetTimer(ctx context.Context, tenant string, id string, forUpdate bool) (*model.WorkflowTimer, error) {
	tm, ok := t.s.t.timers[key(tenant, id)]
	if !ok {
		return nil, notFound("timer", id)
	}
	return &tm, nil
}

func (t *tx) UpdateTimer(ctx context.Context, tm *model.WorkflowTimer) error {
	k := key(tm.Tenant, tm.ID)
	if _, ok := t.s.t.timers[k]; !ok {
		return notFound("timer", tm.ID)
	}
	t.s.t.timers[k] = *tm
	return nil
}

func (t *tx) ListActiveTimers(ctx context.Context, tenant string, executionID string) ([]*model.WorkflowTimer, error) {
	var out []*model.WorkflowTimer
	for _, tm := range t.s.t.timers {
		if tm.Tenant == tenant && tm.ExecutionID == executionID && tm.Status == model.TimerActive {
			tm := tm
			out = append(out, &tm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireTime.Before(out[j].FireTime) })
	return out, nil
}

func (t *tx) ListDueTimers(ctx context.Context, now time.Time, limit int) ([]*model.WorkflowTimer, error) {
	var out []*model.WorkflowTimer
	for _, tm := range t.s.t.timers {
		if tm.Status == model.TimerActive && !tm.FireTime.After(now) {
			tm := tm
			out = append(out, &tm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireTime.Before(out[j].FireTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) EnsureTaskDefinition(ctx context.Context, def *model.TaskDefinition) (*model.TaskDefinition, error) {
	k := key(def.Tenant, def.TaskType)
	if existing, ok := t.s.t.taskDefs[k]; ok {
		return &existing, nil
	}
	t.s.t.taskDefs[k] = *def
	stored := *def
	return &stored, nil
}

func (t *tx) InsertTask(ctx context.Context, task *model.Task) error {
	k := key(task.Tenant, task.ID)
	if _, ok := t.s.t.tasks[k]; ok {
		return duplicate("task", task.ID)
	}
	t.s.t.tasks[k] = *clone(*task)
	return nil
}

func (t *tx) GetTask(ctx context.Context, tenant string, id string, forUpdate bool) (*model.Task, error) {
	task, ok := t.s.t.tasks[key(tenant, id)]
	if !ok {
		return nil, notFound("task", id)
	}
	return clone(task), nil
}

func (t *tx) UpdateTask(ctx context.Context, task *model.Task) error {
	k := key(task.Tenant, task.ID)
	if _, ok := t.s.t.tasks[k]; !ok {
		return notFound("task", task.ID)
	}
	t.s.t.tasks[k] = *clone(*task)
	return nil
}

func (t *tx) InsertTaskHistory(ctx context.Context, h *model.TaskHistory) error {
	t.s.t.history[key(h.Tenant, h.ID)] = *clone(*h)
	return nil
}

func (t *tx) ListTaskHistory(ctx context.Context, tenant string, taskID string) ([]*model.TaskHistory, error) {
	var out []*model.TaskHistory
	for _, h := range t.s.t.history {
		if h.Tenant == tenant && h.TaskID == taskID {
			out = append(out, clone(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) ListExpiredTasks(ctx context.Context, now time.Time, limit int) ([]*model.Task, error) {
	var out []*model.Task
	for _, task := range t.s.t.tasks {
		if task.DueDate != nil && task.DueDate.Before(now) && (task.Status == model.TaskPending || task.Status == model.TaskClaimed) {
			out = append(out, clone(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
