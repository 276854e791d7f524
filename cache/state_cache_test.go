package cache

import (
	"testing"
	"time"

	"github.com/mohitkumar/eventflow/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCache(t *testing.T) {
	ch := NewStateCache(time.Minute)
	_, ok := ch.Get("t1", "e1")
	assert.False(t, ok)

	ch.Save(&model.WorkflowExecution{ID: "e1", Tenant: "t1", CurrentState: "S1", Status: model.ExecutionActive})
	st, ok := ch.Get("t1", "e1")
	require.True(t, ok)
	assert.Equal(t, "S1", st.State)
	assert.Equal(t, model.ExecutionActive, st.Status)

	_, ok = ch.Get("t2", "e1")
	assert.False(t, ok)

	ch.Forget("t1", "e1")
	_, ok = ch.Get("t1", "e1")
	assert.False(t, ok)
}

func TestStateCacheExpiry(t *testing.T) {
	ch := NewStateCache(10 * time.Millisecond)
	ch.Save(&model.WorkflowExecution{ID: "e1", Tenant: "t1", CurrentState: "S1"})
	time.Sleep(30 * time.Millisecond)
	_, ok := ch.Get("t1", "e1")
	assert.False(t, ok)
}
