package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohitkumar/eventflow/recovery"
	"github.com/mohitkumar/eventflow/util"
)

// NextEventKey in a handler result asks the runtime to append that event
// once the transition commits.
const NextEventKey = "next_event"

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
	ParamAny     ParamType = "any"
)

type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
	// Raw parameters reach the handler as written. Placeholders in them are
	// the handler's to interpret.
	Raw         bool      `json:"raw,omitempty"`
}

// ExecutionContext is what a handler knows about the execution it runs for.
type ExecutionContext struct {
	Tenant          string
	ExecutionID     string
	WorkflowName    string
	WorkflowVersion int
	State           string
	EventID         string
	EventName       string
	UserID          string
	ActionName      string
	// IdempotencyKey is stable across redeliveries of the same event.
	IdempotencyKey string
	Attempt        int
	Data           map[string]any
}

type Handler func(ctx context.Context, params map[string]any, ec *ExecutionContext) (map[string]any, error)

type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	handler     Handler
}

// ValidateParams checks params against the parameter schema. Unknown
// parameters are allowed.
func (d *Definition) ValidateParams(params map[string]any) error {
	for _, p := range d.Parameters {
		v, ok := params[p.Name]
		if !ok || v == nil {
			if p.Required {
				return recovery.Errorf(recovery.KindValidation, "validate params", "action %s: parameter %s is required", d.Name, p.Name)
			}
			continue
		}
		if !p.Type.accepts(v) {
			return recovery.Errorf(recovery.KindValidation, "validate params", "action %s: parameter %s should be %s, got %T", d.Name, p.Name, p.Type, v)
		}
	}
	return nil
}

func (t ParamType) accepts(v any) bool {
	switch t {
	case ParamString:
		_, ok := v.(string)
		return ok
	case ParamNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case ParamBoolean:
		_, ok := v.(bool)
		return ok
	case ParamObject:
		_, ok := v.(map[string]any)
		return ok
	case ParamArray:
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	}
	return true
}

// ResolveParams fills {$.path} placeholders in params from data, leaving raw
// parameters alone.
func (d *Definition) ResolveParams(data map[string]any, params map[string]any) map[string]any {
	var raw []string
	for _, p := range d.Parameters {
		if p.Raw {
			raw = append(raw, p.Name)
		}
	}
	return util.ResolveParams(data, params, raw...)
}

// Execute validates params and runs the handler. A handler panic is
// returned as an internal error.
func (d *Definition) Execute(ctx context.Context, params map[string]any, ec *ExecutionContext) (out map[string]any, err error) {
	if err := d.ValidateParams(params); err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = recovery.Errorf(recovery.KindInternal, "execute action", "action %s panicked: %v", d.Name, r)
		}
	}()
	return d.handler(ctx, params, ec)
}

// Registry holds the actions workflows may reference by name.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Definition)}
}

func (r *Registry) Register(name string, description string, params []Parameter, handler Handler) error {
	if name == "" {
		return fmt.Errorf("action name can not be empty")
	}
	if handler == nil {
		return fmt.Errorf("action %s: handler can not be nil", name)
	}
	for _, p := range params {
		switch p.Type {
		case ParamString, ParamNumber, ParamBoolean, ParamObject, ParamArray, ParamAny:
		default:
			return fmt.Errorf("action %s: parameter %s has invalid type %q", name, p.Name, p.Type)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[name]; ok {
		return fmt.Errorf("action %s already registered", name)
	}
	r.actions[name] = &Definition{
		Name:        name,
		Description: description,
		Parameters:  params,
		handler:     handler,
	}
	return nil
}

func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.actions[name]
	return d, ok
}

func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.actions))
	for _, d := range r.actions {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// RegisterBuiltins adds the javascript and switch actions.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register("javascript", "run a javascript snippet against the execution data bound to $",
		[]Parameter{{Name: "script", Type: ParamString, Required: true, Raw: true}}, jsHandler); err != nil {
		return err
	}
	return r.Register("switch", "pick the next event from a jsonpath expression",
		[]Parameter{
			{Name: "expression", Type: ParamString, Required: true, Raw: true, Description: "jsonpath enclosed in {}"},
			{Name: "cases", Type: ParamObject, Description: "expression value to event name"},
			{Name: "default", Type: ParamString, Description: "event when no case matches"},
		}, switchHandler)
}
