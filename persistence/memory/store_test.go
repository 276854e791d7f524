package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *Store){
		"rollback restores rows":    testRollback,
		"rows are tenant scoped":    testTenantScope,
		"events are ordered":        testEventOrder,
		"idempotency key is unique": testIdempotencyKeyUnique,
		"ensure task definition":    testEnsureTaskDefinition,
		"due timers":                testDueTimers,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewStore())
		})
	}
}

func execution(tenant, id string) *model.WorkflowExecution {
	now := time.Now()
	return &model.WorkflowExecution{
		ID: id, Tenant: tenant, WorkflowName: "order", WorkflowVersion: 1,
		CurrentState: "S0", Status: model.ExecutionActive,
		ContextData: map[string]any{"amount": 10}, CreatedAt: now, UpdatedAt: now,
	}
}

func testRollback(t *testing.T, s *Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.InsertExecution(ctx, execution("t1", "e1")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.GetExecution(ctx, "t1", "e1", false)
		return err
	})
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testTenantScope(t *testing.T, s *Store) {
	ctx := context.Background()
	err := s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		return tx.InsertExecution(ctx, execution("t1", "e1"))
	})
	require.NoError(t, err)
	err = s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		e, err := tx.GetExecution(ctx, "t1", "e1", true)
		require.NoError(t, err)
		require.Equal(t, float64(10), e.ContextData["amount"])
		_, err = tx.GetExecution(ctx, "t2", "e1", false)
		return err
	})
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testEventOrder(t *testing.T, s *Store) {
	ctx := context.Background()
	at := time.Now()
	err := s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		for _, id := range []string{"a", "b", "c"} {
			ev := &model.WorkflowEvent{ID: id, Tenant: "t1", ExecutionID: "e1", EventName: id, CreatedAt: at}
			if err := tx.InsertEvent(ctx, ev); err != nil {
				return err
			}
		}
		return tx.InsertEvent(ctx, &model.WorkflowEvent{ID: "z", Tenant: "t1", ExecutionID: "e1", CreatedAt: at.Add(-time.Second)})
	})
	require.NoError(t, err)
	_ = s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		evs, err := tx.ListEvents(ctx, "t1", "e1")
		require.NoError(t, err)
		var ids []string
		for _, ev := range evs {
			ids = append(ids, ev.ID)
		}
		require.Equal(t, []string{"z", "a", "b", "c"}, ids)
		return nil
	})
}

func testIdempotencyKeyUnique(t *testing.T, s *Store) {
	ctx := context.Background()
	err := s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.InsertActionResult(ctx, &model.WorkflowActionResult{ID: "r1", Tenant: "t1", IdempotencyKey: "k"}))
		return tx.InsertActionResult(ctx, &model.WorkflowActionResult{ID: "r2", Tenant: "t1", IdempotencyKey: "k"})
	})
	kind, ok := recovery.KindOf(err)
	require.True(t, ok)
	require.Equal(t, recovery.KindConstraint, kind)
}

func testEnsureTaskDefinition(t *testing.T, s *Store) {
	ctx := context.Background()
	_ = s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		first, err := tx.EnsureTaskDefinition(ctx, &model.TaskDefinition{ID: "d1", Tenant: "t1", TaskType: "approval"})
		require.NoError(t, err)
		second, err := tx.EnsureTaskDefinition(ctx, &model.TaskDefinition{ID: "d2", Tenant: "t1", TaskType: "approval"})
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		return nil
	})
}

func testDueTimers(t *testing.T, s *Store) {
	ctx := context.Background()
	now := time.Now()
	_ = s.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.InsertTimer(ctx, &model.WorkflowTimer{ID: "due", Tenant: "t1", FireTime: now.Add(-time.Second), Status: model.TimerActive}))
		require.NoError(t, tx.InsertTimer(ctx, &model.WorkflowTimer{ID: "later", Tenant: "t1", FireTime: now.Add(time.Hour), Status: model.TimerActive}))
		require.NoError(t, tx.InsertTimer(ctx, &model.WorkflowTimer{ID: "fired", Tenant: "t1", FireTime: now.Add(-time.Hour), Status: model.TimerFired}))
		due, err := tx.ListDueTimers(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		require.Equal(t, "due", due[0].ID)
		return nil
	})
}
