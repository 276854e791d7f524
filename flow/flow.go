package flow

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/mohitkumar/eventflow/model"
)

var ErrCycle = errors.New("action dependencies form a cycle")

// Flow is a validated workflow definition with its lookup tables built.
type Flow struct {
	Name         string
	Version      int
	InitialState string
	states       map[string]model.State
	timers       map[string]*Timer
	exact        map[string]map[string]*Transition
	globs        map[string][]*Transition
}

// Transition is a definition transition whose actions are grouped into
// levels: every action's dependencies sit in earlier levels.
type Transition struct {
	model.Transition
	Levels [][]model.ActionSpec
}

type Timer struct {
	Name      string
	After     time.Duration
	Event     string
	Recurring bool
}

func TimerEventName(name string) string {
	return "Timer:" + name
}

func isGlob(event string) bool {
	return strings.ContainsAny(event, "*?[")
}

func Convert(wf *model.Workflow) (*Flow, error) {
	if err := Validate(wf); err != nil {
		return nil, err
	}
	fl := &Flow{
		Name:         wf.Name,
		Version:      wf.Version,
		InitialState: wf.InitialState,
		states:       make(map[string]model.State, len(wf.States)),
		timers:       make(map[string]*Timer),
		exact:        make(map[string]map[string]*Transition),
		globs:        make(map[string][]*Transition),
	}
	for _, st := range wf.States {
		fl.states[st.Name] = st
		if st.Timer != nil {
			after, _ := time.ParseDuration(st.Timer.After)
			event := st.Timer.Event
			if event == "" {
				event = TimerEventName(st.Timer.Name)
			}
			fl.timers[st.Name] = &Timer{Name: st.Timer.Name, After: after, Event: event, Recurring: st.Timer.Recurring}
		}
	}
	for _, t := range wf.Transitions {
		levels, _ := Levels(t.Actions)
		tr := &Transition{Transition: t, Levels: levels}
		if isGlob(t.Event) {
			fl.globs[t.From] = append(fl.globs[t.From], tr)
			continue
		}
		if fl.exact[t.From] == nil {
			fl.exact[t.From] = make(map[string]*Transition)
		}
		fl.exact[t.From][t.Event] = tr
	}
	return fl, nil
}

// Lookup finds the transition for event in state. Exact event names win
// over glob patterns; globs are tried in definition order.
func (f *Flow) Lookup(state string, event string) (*Transition, bool) {
	if tr, ok := f.exact[state][event]; ok {
		return tr, true
	}
	for _, tr := range f.globs[state] {
		if ok, _ := path.Match(tr.Event, event); ok {
			return tr, true
		}
	}
	return nil, false
}

func (f *Flow) HasState(state string) bool {
	_, ok := f.states[state]
	return ok
}

// StatusOf is the execution status while in state.
func (f *Flow) StatusOf(state string) model.ExecutionStatus {
	if st, ok := f.states[state]; ok && st.Status != "" {
		return st.Status
	}
	return model.ExecutionActive
}

func (f *Flow) TimerOf(state string) (*Timer, bool) {
	t, ok := f.timers[state]
	return t, ok
}

func Validate(wf *model.Workflow) error {
	if wf.Name == "" {
		return fmt.Errorf("workflow name can not be empty")
	}
	if len(wf.States) == 0 {
		return fmt.Errorf("workflow %s has no states", wf.Name)
	}
	states := make(map[string]bool, len(wf.States))
	for _, st := range wf.States {
		if st.Name == "" {
			return fmt.Errorf("state name can not be empty")
		}
		if states[st.Name] {
			return fmt.Errorf("state %s is duplicate", st.Name)
		}
		states[st.Name] = true
		if st.Status != "" && !st.Status.Valid() {
			return fmt.Errorf("state %s has invalid status %s", st.Name, st.Status)
		}
		if st.Timer != nil {
			if st.Timer.Name == "" {
				return fmt.Errorf("state %s: timer name can not be empty", st.Name)
			}
			after, err := time.ParseDuration(st.Timer.After)
			if err != nil || after <= 0 {
				return fmt.Errorf("state %s: timer after should be a positive duration", st.Name)
			}
		}
	}
	if !states[wf.InitialState] {
		return fmt.Errorf("initial state %s is not defined", wf.InitialState)
	}
	seen := make(map[string]bool)
	for _, t := range wf.Transitions {
		if !states[t.From] {
			return fmt.Errorf("transition %s on %s: from state not defined", t.From, t.Event)
		}
		if !states[t.To] {
			return fmt.Errorf("transition %s on %s: to state %s not defined", t.From, t.Event, t.To)
		}
		if t.OnFailure != "" && !states[t.OnFailure] {
			return fmt.Errorf("transition %s on %s: onFailure state %s not defined", t.From, t.Event, t.OnFailure)
		}
		if t.Event == "" {
			return fmt.Errorf("transition from %s: event can not be empty", t.From)
		}
		if _, err := path.Match(t.Event, ""); err != nil {
			return fmt.Errorf("transition %s on %s: invalid event pattern", t.From, t.Event)
		}
		key := t.From + "\x00" + t.Event
		if seen[key] {
			return fmt.Errorf("transition %s on %s is duplicate", t.From, t.Event)
		}
		seen[key] = true
		if _, err := Levels(t.Actions); err != nil {
			return fmt.Errorf("transition %s on %s: %w", t.From, t.Event, err)
		}
	}
	return nil
}

// Levels orders actions with Kahn's algorithm, one level per round. It
// rejects duplicate names, unknown dependencies and cycles.
func Levels(actions []model.ActionSpec) ([][]model.ActionSpec, error) {
	index := make(map[string]int, len(actions))
	for i, a := range actions {
		if a.Name == "" {
			return nil, fmt.Errorf("action name can not be empty")
		}
		if a.Action == "" {
			return nil, fmt.Errorf("action %s: action can not be empty", a.Name)
		}
		if _, ok := index[a.Name]; ok {
			return nil, fmt.Errorf("action %s is duplicate", a.Name)
		}
		index[a.Name] = i
	}
	indegree := make([]int, len(actions))
	dependents := make([][]int, len(actions))
	for i, a := range actions {
		for _, dep := range a.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("action %s depends on unknown action %s", a.Name, dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}
	var current []int
	for i := range actions {
		if indegree[i] == 0 {
			current = append(current, i)
		}
	}
	var levels [][]model.ActionSpec
	visited := 0
	for len(current) > 0 {
		level := make([]model.ActionSpec, 0, len(current))
		var next []int
		for _, i := range current {
			level = append(level, actions[i])
			visited++
			for _, d := range dependents[i] {
				indegree[d]--
				if indegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		levels = append(levels, level)
		current = next
	}
	if visited != len(actions) {
		return nil, ErrCycle
	}
	return levels, nil
}
