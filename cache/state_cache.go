package cache

import (
	"time"

	"github.com/mohitkumar/eventflow/model"
	c "github.com/patrickmn/go-cache"
)

// ExecutionState is the cached view of an execution's position.
type ExecutionState struct {
	State  string
	Status model.ExecutionStatus
}

// StateCache keeps recently applied execution states. The store stays the
// source of truth; entries are written after a transition commits.
type StateCache struct {
	cache *c.Cache
}

func NewStateCache(ttl time.Duration) *StateCache {
	return &StateCache{
		cache: c.New(ttl, 2*ttl),
	}
}

func cacheKey(tenant string, executionID string) string {
	return tenant + ":" + executionID
}

func (ch *StateCache) Save(exec *model.WorkflowExecution) {
	ch.cache.SetDefault(cacheKey(exec.Tenant, exec.ID), ExecutionState{State: exec.CurrentState, Status: exec.Status})
}

func (ch *StateCache) Get(tenant string, executionID string) (ExecutionState, bool) {
	v, found := ch.cache.Get(cacheKey(tenant, executionID))
	if !found {
		return ExecutionState{}, false
	}
	return v.(ExecutionState), true
}

func (ch *StateCache) Forget(tenant string, executionID string) {
	ch.cache.Delete(cacheKey(tenant, executionID))
}
