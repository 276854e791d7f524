package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/model"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/util"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const WORKFLOW_DEF string = "WORKFLOW"

// redisMetadataStorage keeps one hash per workflow name, field per version.
type redisMetadataStorage struct {
	*baseDao
	workflowEncoderDecoder util.EncoderDecoder[model.Workflow]
}

func NewRedisMetadataStorage(client rd.UniversalClient, conf Config) *redisMetadataStorage {
	return &redisMetadataStorage{
		baseDao:                newBaseDao(client, conf.Namespace),
		workflowEncoderDecoder: util.NewJsonEncoderDecoder[model.Workflow](),
	}
}

func (rfd *redisMetadataStorage) SaveWorkflowDefinition(ctx context.Context, wf model.Workflow) error {
	key := rfd.getNamespaceKey(WORKFLOW_DEF, wf.Name)
	data, err := rfd.workflowEncoderDecoder.Encode(wf)
	if err != nil {
		return err
	}
	if err := rfd.redisClient.HSet(ctx, key, strconv.Itoa(wf.Version), string(data)).Err(); err != nil {
		logger.Error("error in saving workflow definition", zap.String("workflow", wf.Name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisMetadataStorage) DeleteWorkflowDefinition(ctx context.Context, name string) error {
	key := rfd.getNamespaceKey(WORKFLOW_DEF, name)
	if err := rfd.redisClient.Del(ctx, key).Err(); err != nil {
		logger.Error("error in deleting workflow definition", zap.String("workflow", name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisMetadataStorage) GetWorkflowDefinition(ctx context.Context, name string, version int) (*model.Workflow, error) {
	key := rfd.getNamespaceKey(WORKFLOW_DEF, name)
	if version == 0 {
		fields, err := rfd.redisClient.HKeys(ctx, key).Result()
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		for _, f := range fields {
			if v, err := strconv.Atoi(f); err == nil && v > version {
				version = v
			}
		}
	}
	val, err := rfd.redisClient.HGet(ctx, key, strconv.Itoa(version)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, fmt.Errorf("%w: workflow %s version %d", persistence.ErrNotFound, name, version)
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rfd.workflowEncoderDecoder.Decode([]byte(val))
}

func (rfd *redisMetadataStorage) ListWorkflowDefinitions(ctx context.Context) ([]string, error) {
	prefix := rfd.getNamespaceKey(WORKFLOW_DEF, "")
	var names []string
	iter := rfd.redisClient.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	sort.Strings(names)
	return names, nil
}
