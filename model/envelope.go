package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/eventflow/recovery"
)

// Payload is the typed body of an event, one variant per EventType.
type Payload interface {
	Type() EventType
	Validate() error
}

type LifecyclePayload struct {
	Input map[string]any `json:"input,omitempty"`
}

func (LifecyclePayload) Type() EventType { return EventTypeLifecycle }
func (LifecyclePayload) Validate() error { return nil }

type SignalPayload struct {
	Data map[string]any `json:"data,omitempty"`
}

func (SignalPayload) Type() EventType { return EventTypeSignal }
func (SignalPayload) Validate() error { return nil }

type TaskPayload struct {
	TaskID       string         `json:"task_id"`
	Verb         TaskVerb       `json:"verb"`
	UserID       string         `json:"user_id,omitempty"`
	ResponseData map[string]any `json:"response_data,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

func (TaskPayload) Type() EventType { return EventTypeTask }

func (p TaskPayload) Validate() error {
	if p.TaskID == "" {
		return errors.New("task payload: task_id is required")
	}
	switch p.Verb {
	case TaskVerbCreated, TaskVerbClaimed, TaskVerbComplete, TaskVerbCanceled, TaskVerbExpired:
		return nil
	}
	return fmt.Errorf("task payload: unknown verb %q", p.Verb)
}

type TimerPayload struct {
	TimerID   string    `json:"timer_id"`
	TimerName string    `json:"timer_name"`
	StateName string    `json:"state_name"`
	FireTime  time.Time `json:"fire_time"`
}

func (TimerPayload) Type() EventType { return EventTypeTimer }

func (p TimerPayload) Validate() error {
	if p.TimerID == "" || p.StateName == "" {
		return errors.New("timer payload: timer_id and state_name are required")
	}
	return nil
}

// TransitionPayload is written by the runtime when it applies a transition.
type TransitionPayload struct {
	TriggerID   string   `json:"trigger_id"`
	TriggerName string   `json:"trigger_name"`
	SyncID      string   `json:"sync_id,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	Failed      bool     `json:"failed,omitempty"`
}

func (TransitionPayload) Type() EventType { return EventTypeTransition }

func (p TransitionPayload) Validate() error {
	if p.TriggerID == "" {
		return errors.New("transition payload: trigger_id is required")
	}
	return nil
}

func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	if err := p.Validate(); err != nil {
		return nil, recovery.Wrap(recovery.KindValidation, "encode payload", err)
	}
	return json.Marshal(p)
}

// DecodePayload decodes raw into the variant for t and validates it.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case EventTypeLifecycle:
		v := LifecyclePayload{}
		if err := unmarshalStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case EventTypeSignal:
		v := SignalPayload{}
		if err := unmarshalStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case EventTypeTask:
		v := TaskPayload{}
		if err := unmarshalStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case EventTypeTimer:
		v := TimerPayload{}
		if err := unmarshalStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case EventTypeTransition:
		v := TransitionPayload{}
		if err := unmarshalStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, recovery.Errorf(recovery.KindValidation, "decode payload", "unknown event type %q", t)
	}
	if err := p.Validate(); err != nil {
		return nil, recovery.Wrap(recovery.KindValidation, "decode payload", err)
	}
	return p, nil
}

func unmarshalStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return recovery.Wrap(recovery.KindValidation, "decode payload", err)
	}
	return nil
}

// Envelope is the stream representation of a WorkflowEvent.
type Envelope struct {
	EventID     string          `json:"event_id"`
	ExecutionID string          `json:"execution_id"`
	EventName   string          `json:"event_name"`
	EventType   EventType       `json:"event_type"`
	Tenant      string          `json:"tenant"`
	Timestamp   time.Time       `json:"timestamp"`
	FromState   string          `json:"from_state,omitempty"`
	ToState     string          `json:"to_state,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(ev *WorkflowEvent) Envelope {
	return Envelope{
		EventID:     ev.ID,
		ExecutionID: ev.ExecutionID,
		EventName:   ev.EventName,
		EventType:   ev.EventType,
		Tenant:      ev.Tenant,
		Timestamp:   ev.CreatedAt,
		FromState:   ev.FromState,
		ToState:     ev.ToState,
		UserID:      ev.UserID,
		Payload:     ev.Payload,
	}
}

func (e Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return errors.New("envelope: event_id is required")
	case e.ExecutionID == "":
		return errors.New("envelope: execution_id is required")
	case e.EventName == "":
		return errors.New("envelope: event_name is required")
	case e.Tenant == "":
		return errors.New("envelope: tenant is required")
	case e.Timestamp.IsZero():
		return errors.New("envelope: timestamp is required")
	}
	return nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses and validates a stream entry, including its payload.
func DecodeEnvelope(data []byte) (*Envelope, Payload, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, nil, recovery.Wrap(recovery.KindValidation, "decode envelope", err)
	}
	if err := e.Validate(); err != nil {
		return nil, nil, recovery.Wrap(recovery.KindValidation, "decode envelope", err)
	}
	p, err := DecodePayload(e.EventType, e.Payload)
	if err != nil {
		return nil, nil, err
	}
	return &e, p, nil
}
