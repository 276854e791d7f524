package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/recovery"
)

var taskNamespace = uuid.MustParse("5b0f3c1e-8f3d-4c69-9a0e-2f1d7c4b6a11")

// TaskID is stable for one action of one event, so a redelivered event
// finds the task it already created.
func TaskID(tenant string, executionID string, eventID string, actionName string) string {
	return uuid.NewSHA1(taskNamespace, []byte(tenant+"|"+executionID+"|"+eventID+"|"+actionName)).String()
}

// RegisterActions adds createHumanTask to reg.
func (s *Service) RegisterActions(reg *action.Registry) error {
	return reg.Register("createHumanTask", "create a human task and wait for it in the inbox",
		[]action.Parameter{
			{Name: "taskType", Type: action.ParamString, Required: true},
			{Name: "title", Type: action.ParamString, Required: true},
			{Name: "description", Type: action.ParamString},
			{Name: "priority", Type: action.ParamString},
			{Name: "formRef", Type: action.ParamString},
			{Name: "dueIn", Type: action.ParamString, Description: "duration such as 48h"},
			{Name: "assignedRoles", Type: action.ParamArray},
			{Name: "assignedUsers", Type: action.ParamArray},
			{Name: "data", Type: action.ParamObject},
		}, s.createTaskHandler)
}

func (s *Service) createTaskHandler(ctx context.Context, params map[string]any, ec *action.ExecutionContext) (map[string]any, error) {
	p := CreateParams{
		TaskID:        TaskID(ec.Tenant, ec.ExecutionID, ec.EventID, ec.ActionName),
		TaskType:      str(params["taskType"]),
		Title:         str(params["title"]),
		Description:   str(params["description"]),
		Priority:      str(params["priority"]),
		FormRef:       str(params["formRef"]),
		AssignedRoles: strs(params["assignedRoles"]),
		AssignedUsers: strs(params["assignedUsers"]),
	}
	if data, ok := params["data"].(map[string]any); ok {
		p.ContextData = data
	}
	if dueIn := str(params["dueIn"]); dueIn != "" {
		d, err := time.ParseDuration(dueIn)
		if err != nil {
			return nil, recovery.Wrap(recovery.KindValidation, "createHumanTask", fmt.Errorf("invalid dueIn %q: %w", dueIn, err))
		}
		p.DueIn = d
	}
	exec := &model.WorkflowExecution{ID: ec.ExecutionID, Tenant: ec.Tenant, CurrentState: ec.State}
	taskID, err := s.CreateTask(ctx, exec, p, ec.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "taskId": taskID}, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strs(v any) []string {
	if list, ok := v.([]string); ok {
		return append([]string(nil), list...)
	}
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
