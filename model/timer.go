package model

import "time"

type TimerStatus string

const (
	TimerActive    TimerStatus = "active"
	TimerFired     TimerStatus = "fired"
	TimerCancelled TimerStatus = "cancelled"
)

type WorkflowTimer struct {
	ID          string        `json:"timerId"`
	Tenant      string        `json:"tenant"`
	ExecutionID string        `json:"executionId"`
	TimerName   string        `json:"timerName"`
	StateName   string        `json:"stateName"`
	EventName   string        `json:"eventName"`
	StartTime   time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	FireTime    time.Time     `json:"fireTime"`
	// Recurrence, when non zero, reschedules the timer after each firing.
	Recurrence time.Duration `json:"recurrence,omitempty"`
	Status     TimerStatus   `json:"status"`
}
