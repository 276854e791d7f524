package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/util"
	"go.uber.org/zap"
)

// LoadDir registers every *.yaml or *.yml workflow definition in dir, in
// file name order. An unversioned definition identical to the latest stored
// version is left alone so restarts do not mint new versions.
func LoadDir(ctx context.Context, svc MetadataService, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read definitions dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	dec := util.NewYamlEncoderDecoder[model.Workflow]()
	loaded := 0
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return loaded, err
		}
		wf, err := dec.Decode(data)
		if err != nil {
			return loaded, fmt.Errorf("decode %s: %w", e.Name(), err)
		}
		unchanged, err := sameAsLatest(ctx, svc.GetMetadataStorage(), *wf)
		if err != nil {
			return loaded, err
		}
		if unchanged {
			logger.Debug("workflow definition unchanged", zap.String("file", e.Name()), zap.String("workflow", wf.Name))
			continue
		}
		saved, err := svc.RegisterFlow(ctx, *wf)
		if err != nil {
			return loaded, fmt.Errorf("register %s: %w", e.Name(), err)
		}
		logger.Info("loaded workflow definition", zap.String("file", e.Name()), zap.String("workflow", saved.Name), zap.Int("version", saved.Version))
		loaded++
	}
	return loaded, nil
}

func sameAsLatest(ctx context.Context, storage MetadataStorage, wf model.Workflow) (bool, error) {
	if wf.Version != 0 {
		return false, nil
	}
	latest, err := storage.GetWorkflowDefinition(ctx, wf.Name, 0)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	wf.Version = latest.Version
	enc := util.NewJsonEncoderDecoder[model.Workflow]()
	a, err := enc.Encode(wf)
	if err != nil {
		return false, err
	}
	b, err := enc.Encode(*latest)
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, b), nil
}
