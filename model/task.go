package model

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskClaimed   TaskStatus = "claimed"
	TaskCompleted TaskStatus = "completed"
	TaskCanceled  TaskStatus = "canceled"
	TaskExpired   TaskStatus = "expired"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCanceled || s == TaskExpired
}

type TaskVerb string

const (
	TaskVerbCreated  TaskVerb = "Created"
	TaskVerbClaimed  TaskVerb = "Claimed"
	TaskVerbComplete TaskVerb = "Complete"
	TaskVerbCanceled TaskVerb = "Canceled"
	TaskVerbExpired  TaskVerb = "Expired"
)

// TaskEventName is the event name a task lifecycle step is recorded under.
func TaskEventName(taskID string, verb TaskVerb) string {
	return fmt.Sprintf("Task:%s:%s", taskID, verb)
}

type TaskDefinition struct {
	ID              string        `json:"taskDefinitionId"`
	Tenant          string        `json:"tenant"`
	TaskType        string        `json:"taskType"`
	FormRef         string        `json:"formRef,omitempty"`
	DefaultPriority string        `json:"defaultPriority"`
	DefaultSLA      time.Duration `json:"defaultSla"`
	CreatedAt       time.Time     `json:"createdAt"`
}

type Task struct {
	ID               string         `json:"taskId"`
	Tenant           string         `json:"tenant"`
	ExecutionID      string         `json:"executionId"`
	TaskDefinitionID string         `json:"taskDefinitionId"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Status           TaskStatus     `json:"status"`
	Priority         string         `json:"priority"`
	DueDate          *time.Time     `json:"dueDate,omitempty"`
	ContextData      map[string]any `json:"contextData,omitempty"`
	AssignedRoles    []string       `json:"assignedRoles,omitempty"`
	AssignedUsers    []string       `json:"assignedUsers,omitempty"`
	CreatedBy        string         `json:"createdBy,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	ClaimedBy        string         `json:"claimedBy,omitempty"`
	ClaimedAt        *time.Time     `json:"claimedAt,omitempty"`
	CompletedBy      string         `json:"completedBy,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	ResponseData     map[string]any `json:"responseData,omitempty"`
}

type TaskHistory struct {
	ID         string         `json:"historyId"`
	Tenant     string         `json:"tenant"`
	TaskID     string         `json:"taskId"`
	Verb       TaskVerb       `json:"verb"`
	FromStatus TaskStatus     `json:"fromStatus,omitempty"`
	ToStatus   TaskStatus     `json:"toStatus"`
	UserID     string         `json:"userId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}
