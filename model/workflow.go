package model

// Workflow is a registered state machine definition.
type Workflow struct {
	Name         string       `json:"name" yaml:"name"`
	Version      int          `json:"version" yaml:"version"`
	InitialState string       `json:"initialState" yaml:"initialState"`
	States       []State      `json:"states" yaml:"states"`
	Transitions  []Transition `json:"transitions" yaml:"transitions"`
}

type State struct {
	Name string `json:"name" yaml:"name"`
	// Status is the execution status while in this state. Empty means active.
	Status ExecutionStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Timer  *TimerSpec      `json:"timer,omitempty" yaml:"timer,omitempty"`
}

type TimerSpec struct {
	Name string `json:"name" yaml:"name"`
	// After is a Go duration string.
	After     string `json:"after" yaml:"after"`
	Event     string `json:"event,omitempty" yaml:"event,omitempty"`
	Recurring bool   `json:"recurring,omitempty" yaml:"recurring,omitempty"`
}

// Transition matches (From, Event). Event may be a glob such as Task:*:Complete.
type Transition struct {
	From      string       `json:"from" yaml:"from"`
	Event     string       `json:"event" yaml:"event"`
	To        string       `json:"to" yaml:"to"`
	Actions   []ActionSpec `json:"actions,omitempty" yaml:"actions,omitempty"`
	OnFailure string       `json:"onFailure,omitempty" yaml:"onFailure,omitempty"`
}

type ActionSpec struct {
	Name       string         `json:"name" yaml:"name"`
	Action     string         `json:"action" yaml:"action"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Group      string         `json:"group,omitempty" yaml:"group,omitempty"`
	Path       string         `json:"path,omitempty" yaml:"path,omitempty"`
}
