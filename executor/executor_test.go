package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	entries   []eventlog.Delivery
	reclaimed []eventlog.Delivery
}

func (f *fakeSource) Claim(ctx context.Context, consumer string, count int, block time.Duration) ([]eventlog.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if count > len(f.entries) {
		count = len(f.entries)
	}
	out := f.entries[:count]
	f.entries = f.entries[count:]
	return out, nil
}

func (f *fakeSource) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]eventlog.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.reclaimed
	f.reclaimed = nil
	return out, nil
}

type recordingHandler struct {
	mu   sync.Mutex
	seen map[string]int
}

func (h *recordingHandler) HandleDelivery(ctx context.Context, d eventlog.Delivery) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[d.ID]++
	if string(d.Data) == "bad" {
		return errors.New("boom")
	}
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func deliveries(n int) []eventlog.Delivery {
	out := make([]eventlog.Delivery, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, eventlog.Delivery{ID: fmt.Sprintf("%d-0", i), Data: []byte("ok")})
	}
	return out
}

func TestEventExecutorHandlesEveryEntry(t *testing.T) {
	entries := deliveries(25)
	entries[3].Data = []byte("bad")
	source := &fakeSource{entries: entries}
	handler := &recordingHandler{seen: make(map[string]int)}
	var wg sync.WaitGroup
	ex := NewEventExecutor(1, source, handler, EventConfig{Consumer: "w1", BatchSize: 10, Parallelism: 4, MaxPause: 20 * time.Millisecond}, &wg)
	require.Equal(t, "event-executor-1", ex.Name())

	ex.Start(context.Background())
	require.Eventually(t, func() bool { return handler.count() == 25 }, time.Second, 5*time.Millisecond)
	ex.Stop()
	wg.Wait()
	for id, n := range handler.seen {
		require.Equal(t, 1, n, id)
	}
}

func TestReclaimExecutor(t *testing.T) {
	source := &fakeSource{reclaimed: deliveries(3)}
	handler := &recordingHandler{seen: make(map[string]int)}
	var wg sync.WaitGroup
	ex := NewReclaimExecutor("w1", source, handler, 20*time.Millisecond, 10, &wg)
	ex.Start(context.Background())
	require.Eventually(t, func() bool { return handler.count() == 3 }, time.Second, 5*time.Millisecond)
	require.True(t, ex.IsRunning())
	ex.Stop()
	wg.Wait()
	require.False(t, ex.IsRunning())
}

func TestSweepRunsUntilShortBatch(t *testing.T) {
	var remaining atomic.Int64
	remaining.Store(25)
	var calls atomic.Int64
	sweep := func(ctx context.Context, limit int) (int, error) {
		calls.Add(1)
		n := remaining.Load()
		if n > int64(limit) {
			n = int64(limit)
		}
		remaining.Add(-n)
		return int(n), nil
	}
	var wg sync.WaitGroup
	ex := NewTimerExecutor(sweep, 10*time.Millisecond, 10, &wg)
	require.Equal(t, "timer-executor", ex.Name())
	ex.Start(context.Background())
	require.Eventually(t, func() bool { return remaining.Load() == 0 }, time.Second, 5*time.Millisecond)
	ex.Stop()
	wg.Wait()
	require.GreaterOrEqual(t, calls.Load(), int64(3))
}

func TestRepublishExecutorPassesAge(t *testing.T) {
	var got atomic.Int64
	republish := func(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
		got.Store(int64(olderThan))
		return 0, nil
	}
	var wg sync.WaitGroup
	ex := NewRepublishExecutor(republish, 5*time.Second, 10*time.Millisecond, 10, &wg)
	ex.Start(context.Background())
	require.Eventually(t, func() bool { return got.Load() == int64(5*time.Second) }, time.Second, 5*time.Millisecond)
	ex.Stop()
	wg.Wait()
}
