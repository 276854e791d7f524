package model

import "time"

const DependencyCompletion = "completion"

// WorkflowActionResult records one action run for one event. IdempotencyKey
// is unique per tenant.
type WorkflowActionResult struct {
	ID             string         `json:"resultId"`
	Tenant         string         `json:"tenant"`
	EventID        string         `json:"eventId"`
	ExecutionID    string         `json:"executionId"`
	ActionName     string         `json:"actionName"`
	ActionPath     string         `json:"actionPath,omitempty"`
	ActionGroup    string         `json:"actionGroup,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Success        bool           `json:"success"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
	// ReadyToExecute is set once every dependency is done. It is kept for
	// inspection; the runtime orders actions by dependency level instead.
	ReadyToExecute bool           `json:"readyToExecute"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func (r *WorkflowActionResult) Done() bool {
	return r.CompletedAt != nil
}

type WorkflowActionDependency struct {
	ID             string `json:"dependencyId"`
	Tenant         string `json:"tenant"`
	ExecutionID    string `json:"executionId"`
	EventID        string `json:"eventId"`
	ActionID       string `json:"actionId"`
	DependsOnID    string `json:"dependsOnId"`
	DependencyType string `json:"dependencyType"`
}
