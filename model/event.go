package model

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventTypeLifecycle  EventType = "lifecycle"
	EventTypeSignal     EventType = "signal"
	EventTypeTask       EventType = "task"
	EventTypeTimer      EventType = "timer"
	EventTypeTransition EventType = "transition"
)

const (
	EventInitialized = "Initialized"
	EventCancel      = "Cancel"
	EventTransition  = "Transition"
)

// WorkflowEvent is an immutable fact in an execution's history.
type WorkflowEvent struct {
	ID          string          `json:"eventId"`
	ExecutionID string          `json:"executionId"`
	EventName   string          `json:"eventName"`
	EventType   EventType       `json:"eventType"`
	Tenant      string          `json:"tenant"`
	FromState   string          `json:"fromState,omitempty"`
	ToState     string          `json:"toState,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	// Seq orders events written within the same clock tick.
	Seq int64 `json:"seq"`
}

// EventDraft is what a caller supplies to append an event.
type EventDraft struct {
	EventName string
	EventType EventType
	UserID    string
	Payload   Payload
	ToState   string
}

type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingPublished  ProcessingStatus = "published"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
	ProcessingRetrying   ProcessingStatus = "retrying"
)

// WorkflowEventProcessing tracks delivery and handling of one event.
type WorkflowEventProcessing struct {
	ID           string           `json:"processingId"`
	EventID      string           `json:"eventId"`
	ExecutionID  string           `json:"executionId"`
	Tenant       string           `json:"tenant"`
	Status       ProcessingStatus `json:"status"`
	WorkerID     string           `json:"workerId,omitempty"`
	AttemptCount int              `json:"attemptCount"`
	LastAttempt  *time.Time       `json:"lastAttempt,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}
