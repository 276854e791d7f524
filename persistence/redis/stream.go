package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/persistence"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const STREAM_KEY string = "STREAM"

const eventField = "event"

var _ eventlog.Stream = new(redisStream)

type StreamConfig struct {
	Key    string
	Group  string
	MaxLen int64
}

type redisStream struct {
	*baseDao
	key    string
	group  string
	maxLen int64
}

// NewRedisStream creates the consumer group (and the stream) when missing.
func NewRedisStream(ctx context.Context, client rd.UniversalClient, conf Config, sc StreamConfig) (*redisStream, error) {
	s := &redisStream{
		baseDao: newBaseDao(client, conf.Namespace),
		group:   sc.Group,
		maxLen:  sc.MaxLen,
	}
	s.key = s.getNamespaceKey(STREAM_KEY, sc.Key)
	err := s.redisClient.XGroupCreateMkStream(ctx, s.key, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s, nil
}

func (s *redisStream) Publish(ctx context.Context, data []byte) (string, error) {
	args := &rd.XAddArgs{
		Stream: s.key,
		Values: map[string]any{eventField: data},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	id, err := s.redisClient.XAdd(ctx, args).Result()
	if err != nil {
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	return id, nil
}

func (s *redisStream) Read(ctx context.Context, consumer string, count int, block time.Duration) ([]eventlog.Delivery, error) {
	if block <= 0 {
		block = -1
	}
	res, err := s.redisClient.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.key, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var out []eventlog.Delivery
	for _, st := range res {
		out = append(out, s.toDeliveries(st.Messages)...)
	}
	return out, nil
}

func (s *redisStream) Ack(ctx context.Context, id string) error {
	if err := s.redisClient.XAck(ctx, s.key, s.group, id).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *redisStream) Nack(ctx context.Context, d eventlog.Delivery) error {
	_, err := s.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		args := &rd.XAddArgs{Stream: s.key, Values: map[string]any{eventField: d.Data}}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
		pipe.XAck(ctx, s.key, s.group, d.ID)
		return nil
	})
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *redisStream) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]eventlog.Delivery, error) {
	msgs, _, err := s.redisClient.XAutoClaim(ctx, &rd.XAutoClaimArgs{
		Stream:   s.key,
		Group:    s.group,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
		Consumer: consumer,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.toDeliveries(msgs), nil
}

func (s *redisStream) toDeliveries(msgs []rd.XMessage) []eventlog.Delivery {
	out := make([]eventlog.Delivery, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values[eventField]
		if !ok {
			logger.Warn("stream entry without event field", zap.String("stream", s.key), zap.String("id", m.ID))
			out = append(out, eventlog.Delivery{ID: m.ID})
			continue
		}
		out = append(out, eventlog.Delivery{ID: m.ID, Data: []byte(fmt.Sprint(raw))})
	}
	return out
}
