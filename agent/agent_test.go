package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohitkumar/eventflow/analytics"
	"github.com/mohitkumar/eventflow/config"
	"github.com/mohitkumar/eventflow/model"
	"github.com/stretchr/testify/require"
)

const orderFlow = `
name: order
initialState: New
states:
  - name: New
  - name: Routed
  - name: Express
    status: completed
  - name: Standard
    status: completed
transitions:
  - from: New
    event: Route
    to: Routed
    actions:
      - name: pick
        action: switch
        parameters:
          expression: "{$.input.shipping}"
          cases:
            express: GoExpress
          default: GoStandard
  - from: Routed
    event: GoExpress
    to: Express
  - from: Routed
    event: GoStandard
    to: Standard
`

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "order.yaml"), []byte(orderFlow), 0o644))
	return config.Config{
		StorageType:    config.STORAGE_TYPE_INMEM,
		HttpPort:       18089,
		WorkerID:       "agent-test",
		Consumers:      2,
		BatchSize:      10,
		ReclaimIdle:    time.Second,
		SweepInterval:  20 * time.Millisecond,
		RetryConfig:    config.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
		LockConfig:     config.LockConfig{TTL: 2 * time.Second, Wait: time.Second, PollInterval: 5 * time.Millisecond},
		StateCacheTTL:  time.Minute,
		DefinitionsDir: dir,
		AnalyticsConfig: analytics.DataCollectorConfig{
			CollectorType: analytics.NOOP_DATA_COLLECTOR,
		},
	}
}

func TestAgentRunsExecutionsToCompletion(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	eng := a.Engine()
	exec, err := eng.StartExecution(ctx, "t1", "order", 0, map[string]any{"shipping": "express"})
	require.NoError(t, err)
	_, err = eng.SendEvent(ctx, "t1", exec.ID, model.EventDraft{EventName: "Route", Payload: model.SignalPayload{}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := eng.GetExecution(ctx, "t1", exec.ID)
		return err == nil && got.CurrentState == "Express"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not shut down")
	}
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	conf := testConfig(t)
	conf.StorageType = "cassandra"
	_, err := New(context.Background(), conf)
	require.Error(t, err)
}
