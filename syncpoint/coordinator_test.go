package syncpoint

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exec = &model.WorkflowExecution{ID: "e1", Tenant: "t1"}

func TestCreateIsIdempotentPerEvent(t *testing.T) {
	c := New(memory.NewStore(), nil)
	ctx := context.Background()
	first, err := c.Create(ctx, exec, "ev1", 2)
	require.NoError(t, err)
	second, err := c.Create(ctx, exec, "ev1", 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = c.Create(ctx, exec, "ev2", 0)
	require.Error(t, err)
}

func TestConcurrentIncrementsCompleteOnce(t *testing.T) {
	c := New(memory.NewStore(), nil)
	ctx := context.Background()
	id, err := c.Create(ctx, exec, "ev1", 10)
	require.NoError(t, err)

	var completedFlips atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sp, err := c.IncrementCompleted(ctx, "t1", id)
			assert.NoError(t, err)
			assert.LessOrEqual(t, sp.CompletedActions, sp.TotalActions)
			if sp.Status == model.SyncCompleted {
				completedFlips.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), completedFlips.Load())

	sp, err := c.Get(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, 10, sp.CompletedActions)
	assert.Equal(t, model.SyncCompleted, sp.Status)
	assert.NotNil(t, sp.CompletedAt)

	_, err = c.IncrementCompleted(ctx, "t1", id)
	require.ErrorIs(t, err, ErrClosed)
}

func TestMarkFailedClosesJoin(t *testing.T) {
	c := New(memory.NewStore(), nil)
	ctx := context.Background()
	id, err := c.Create(ctx, exec, "ev1", 2)
	require.NoError(t, err)
	_, err = c.IncrementCompleted(ctx, "t1", id)
	require.NoError(t, err)
	require.NoError(t, c.MarkFailed(ctx, "t1", id))

	_, err = c.IncrementCompleted(ctx, "t1", id)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, c.MarkFailed(ctx, "t1", id), ErrClosed)

	sp, err := c.Wait(ctx, "t1", id, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.SyncFailed, sp.Status)
	assert.Equal(t, 1, sp.CompletedActions)
}

func TestReopenFailedJoin(t *testing.T) {
	store := memory.NewStore()
	c := New(store, nil)
	ctx := context.Background()
	id, err := c.Create(ctx, exec, "ev1", 2)
	require.NoError(t, err)
	_, err = c.IncrementCompleted(ctx, "t1", id)
	require.NoError(t, err)
	require.NoError(t, c.MarkFailed(ctx, "t1", id))

	err = store.WithTx(ctx, persistence.TxOptions{}, func(ctx context.Context, tx persistence.Tx) error {
		sp, err := c.ReopenTx(ctx, tx, "t1", id)
		require.NoError(t, err)
		assert.Equal(t, model.SyncPending, sp.Status)
		assert.Nil(t, sp.CompletedAt)
		return nil
	})
	require.NoError(t, err)

	sp, err := c.IncrementCompleted(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, model.SyncCompleted, sp.Status)
	assert.Equal(t, 2, sp.CompletedActions)
}

func TestWaitObservesCompletion(t *testing.T) {
	c := New(memory.NewStore(), nil)
	ctx := context.Background()
	id, err := c.Create(ctx, exec, "ev1", 1)
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = c.IncrementCompleted(ctx, "t1", id)
	}()
	sp, err := c.Wait(ctx, "t1", id, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.SyncCompleted, sp.Status)
}
