package model

import "time"

type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "active"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionActive, ExecutionPaused, ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// WorkflowExecution is one running instance of a workflow definition.
// CurrentState and ContextData are caches of what the event log says.
type WorkflowExecution struct {
	ID              string          `json:"executionId"`
	Tenant          string          `json:"tenant"`
	WorkflowName    string          `json:"workflowName"`
	WorkflowVersion int             `json:"workflowVersion"`
	CurrentState    string          `json:"currentState"`
	Status          ExecutionStatus `json:"status"`
	ContextData     map[string]any  `json:"contextData,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}
