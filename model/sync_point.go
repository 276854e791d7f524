package model

import "time"

type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

const SyncTypeJoin = "join"

type WorkflowSyncPoint struct {
	ID               string     `json:"syncId"`
	Tenant           string     `json:"tenant"`
	ExecutionID      string     `json:"executionId"`
	EventID          string     `json:"eventId"`
	SyncType         string     `json:"syncType"`
	Status           SyncStatus `json:"status"`
	TotalActions     int        `json:"totalActions"`
	CompletedActions int        `json:"completedActions"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}
