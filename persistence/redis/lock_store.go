package redis

import (
	"context"
	"time"

	"github.com/mohitkumar/eventflow/lock"
	"github.com/mohitkumar/eventflow/persistence"
	rd "github.com/redis/go-redis/v9"
)

const LOCK_KEY string = "LOCK"

var _ lock.Store = new(redisLockStore)

var compareAndDelete = rd.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var compareAndExpire = rd.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisLockStore struct {
	*baseDao
}

func NewRedisLockStore(client rd.UniversalClient, conf Config) *redisLockStore {
	return &redisLockStore{baseDao: newBaseDao(client, conf.Namespace)}
}

func (r *redisLockStore) SetIfAbsent(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	ok, err := r.redisClient.SetNX(ctx, r.getNamespaceKey(LOCK_KEY, key), token, ttl).Result()
	if err != nil {
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return ok, nil
}

func (r *redisLockStore) CompareAndDelete(ctx context.Context, key string, token string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, r.redisClient, []string{r.getNamespaceKey(LOCK_KEY, key)}, token).Int64()
	if err != nil {
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return n == 1, nil
}

func (r *redisLockStore) CompareAndExpire(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	n, err := compareAndExpire.Run(ctx, r.redisClient, []string{r.getNamespaceKey(LOCK_KEY, key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return n == 1, nil
}
