package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
)

var _ MetadataStorage = new(memoryMetadataStorage)

type memoryMetadataStorage struct {
	mu        sync.RWMutex
	workflows map[string]map[int]model.Workflow
}

func NewMemoryMetadataStorage() *memoryMetadataStorage {
	return &memoryMetadataStorage{workflows: make(map[string]map[int]model.Workflow)}
}

func (s *memoryMetadataStorage) SaveWorkflowDefinition(ctx context.Context, wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workflows[wf.Name] == nil {
		s.workflows[wf.Name] = make(map[int]model.Workflow)
	}
	s.workflows[wf.Name][wf.Version] = wf
	return nil
}

func (s *memoryMetadataStorage) DeleteWorkflowDefinition(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, name)
	return nil
}

func (s *memoryMetadataStorage) GetWorkflowDefinition(ctx context.Context, name string, version int) (*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.workflows[name]
	if version == 0 {
		for v := range versions {
			if v > version {
				version = v
			}
		}
	}
	wf, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s version %d", persistence.ErrNotFound, name, version)
	}
	return &wf, nil
}

func (s *memoryMetadataStorage) ListWorkflowDefinitions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.workflows))
	for name := range s.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
