package metadata

import (
	"context"

	"github.com/mohitkumar/eventflow/model"
)

// MetadataStorage keeps every version of a workflow definition. A version
// of 0 in GetWorkflowDefinition means the latest one.
type MetadataStorage interface {
	SaveWorkflowDefinition(ctx context.Context, wf model.Workflow) error
	DeleteWorkflowDefinition(ctx context.Context, name string) error
	GetWorkflowDefinition(ctx context.Context, name string, version int) (*model.Workflow, error)
	ListWorkflowDefinitions(ctx context.Context) ([]string, error)
}
