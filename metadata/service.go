package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/flow"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type MetadataService interface {
	// GetFlow returns the compiled definition. Version 0 means latest.
	GetFlow(ctx context.Context, name string, version int) (*flow.Flow, error)
	ValidateFlow(wf model.Workflow) error
	// RegisterFlow validates and stores wf. A zero version is assigned the
	// next free version.
	RegisterFlow(ctx context.Context, wf model.Workflow) (*model.Workflow, error)
	GetMetadataStorage() MetadataStorage
}

type MetadataServiceImpl struct {
	storage  MetadataStorage
	registry *action.Registry
	flows    *cache.Cache
}

func NewMetadataService(storage MetadataStorage, registry *action.Registry, cacheTTL time.Duration) *MetadataServiceImpl {
	return &MetadataServiceImpl{
		storage:  storage,
		registry: registry,
		flows:    cache.New(cacheTTL, 2*cacheTTL),
	}
}

func flowKey(name string, version int) string {
	return fmt.Sprintf("%s:%d", name, version)
}

func (s *MetadataServiceImpl) GetFlow(ctx context.Context, name string, version int) (*flow.Flow, error) {
	if version > 0 {
		if fl, ok := s.flows.Get(flowKey(name, version)); ok {
			return fl.(*flow.Flow), nil
		}
	}
	wf, err := s.storage.GetWorkflowDefinition(ctx, name, version)
	if err != nil {
		return nil, err
	}
	fl, err := flow.Convert(wf)
	if err != nil {
		return nil, err
	}
	s.flows.SetDefault(flowKey(wf.Name, wf.Version), fl)
	return fl, nil
}

func (s *MetadataServiceImpl) ValidateFlow(wf model.Workflow) error {
	if err := flow.Validate(&wf); err != nil {
		return err
	}
	for _, t := range wf.Transitions {
		for _, spec := range t.Actions {
			def, ok := s.registry.Get(spec.Action)
			if !ok {
				return fmt.Errorf("transition %s on %s: action %s not registered", t.From, t.Event, spec.Action)
			}
			for _, p := range def.Parameters {
				if _, ok := spec.Parameters[p.Name]; p.Required && !ok {
					return fmt.Errorf("transition %s on %s: action %s missing parameter %s", t.From, t.Event, spec.Name, p.Name)
				}
			}
		}
	}
	return nil
}

func (s *MetadataServiceImpl) RegisterFlow(ctx context.Context, wf model.Workflow) (*model.Workflow, error) {
	if wf.Version < 0 {
		return nil, fmt.Errorf("workflow %s: version can not be negative", wf.Name)
	}
	if err := s.ValidateFlow(wf); err != nil {
		return nil, err
	}
	if wf.Version == 0 {
		latest, err := s.storage.GetWorkflowDefinition(ctx, wf.Name, 0)
		switch {
		case err == nil:
			wf.Version = latest.Version + 1
		case errors.Is(err, persistence.ErrNotFound):
			wf.Version = 1
		default:
			return nil, err
		}
	}
	if err := s.storage.SaveWorkflowDefinition(ctx, wf); err != nil {
		return nil, err
	}
	s.flows.Delete(flowKey(wf.Name, wf.Version))
	logger.Info("workflow registered", zap.String("workflow", wf.Name), zap.Int("version", wf.Version))
	return &wf, nil
}

func (s *MetadataServiceImpl) GetMetadataStorage() MetadataStorage {
	return s.storage
}
