package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/eventflow/lock"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/persistence/memory"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*Manager, *lock.DistributedLock) {
	t.Helper()
	locker := lock.New(lock.NewMemoryStore(), lock.Config{TTL: time.Second, WaitTime: 2 * time.Second, PollInterval: 5 * time.Millisecond})
	return NewManager(memory.NewStore(), locker, Options{}), locker
}

func insertExecution(ctx context.Context, tx persistence.Tx) error {
	now := time.Now()
	return tx.InsertExecution(ctx, &model.WorkflowExecution{
		ID: "e1", Tenant: "t1", WorkflowName: "order", WorkflowVersion: 1, CurrentState: "S0",
		Status: model.ExecutionActive, ContextData: map[string]any{"n": 0}, CreatedAt: now, UpdatedAt: now,
	})
}

func TestExecuteCommitsAndReleasesLock(t *testing.T) {
	m, locker := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Execute(ctx, "t1:e1", insertExecution))

	ok, err := locker.Acquire(ctx, "transaction:t1:e1", "someone", lock.WithWait(0))
	require.NoError(t, err)
	assert.True(t, ok, "lock is released after commit")

	state, err := ExecuteTransaction(ctx, m, "t1:e1", func(ctx context.Context, tx persistence.Tx) (string, error) {
		e, err := tx.GetExecution(ctx, "t1", "e1", false)
		if err != nil {
			return "", err
		}
		return e.CurrentState, nil
	}, WithLockWait(50*time.Millisecond))
	require.Error(t, err, "lock still held by someone")
	assert.Empty(t, state)

	_, err = locker.Release(ctx, "transaction:t1:e1", "someone")
	require.NoError(t, err)
	state, err = ExecuteTransaction(ctx, m, "t1:e1", func(ctx context.Context, tx persistence.Tx) (string, error) {
		e, err := tx.GetExecution(ctx, "t1", "e1", false)
		if err != nil {
			return "", err
		}
		return e.CurrentState, nil
	}, ReadOnly())
	require.NoError(t, err)
	assert.Equal(t, "S0", state)
}

func TestExecuteRollsBackAndWraps(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := m.Execute(ctx, "t1:e1", func(ctx context.Context, tx persistence.Tx) error {
		if err := insertExecution(ctx, tx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	kind, ok := recovery.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, recovery.KindTransaction, kind)

	err = m.Execute(ctx, "t1:e1", func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.GetExecution(ctx, "t1", "e1", false)
		return err
	})
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestExecuteLockTimeout(t *testing.T) {
	m, locker := newManager(t)
	ctx := context.Background()
	ok, err := locker.Acquire(ctx, "transaction:t1:e1", "other")
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	err = m.Execute(ctx, "t1:e1", func(ctx context.Context, tx persistence.Tx) error {
		called = true
		return nil
	}, WithLockWait(50*time.Millisecond))
	require.ErrorIs(t, err, lock.ErrTimeout)
	assert.False(t, called)
	c := recovery.Classify(err, 1, recovery.DefaultOptions())
	assert.Equal(t, recovery.CategoryContention, c.Category)
}

func TestExecuteSerializesWriters(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Execute(ctx, "t1:e1", insertExecution))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Execute(ctx, "t1:e1", func(ctx context.Context, tx persistence.Tx) error {
				e, err := tx.GetExecution(ctx, "t1", "e1", true)
				if err != nil {
					return err
				}
				e.ContextData["n"] = e.ContextData["n"].(float64) + 1
				return tx.UpdateExecution(ctx, e)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := ExecuteTransaction(ctx, m, "t1:e1", func(ctx context.Context, tx persistence.Tx) (float64, error) {
		e, err := tx.GetExecution(ctx, "t1", "e1", false)
		if err != nil {
			return 0, err
		}
		return e.ContextData["n"].(float64), nil
	})
	require.NoError(t, err)
	assert.Equal(t, float64(10), n)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	m, _ := newManager(t)
	attempts := 0
	err := m.Execute(context.Background(), "t1:e1", func(ctx context.Context, tx persistence.Tx) error {
		attempts++
		if attempts == 1 {
			return recovery.Wrap(recovery.KindConnection, "test", errors.New("connection reset"))
		}
		return nil
	}, WithRetry(recovery.Options{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}))
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
