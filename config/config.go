package config

import (
	"fmt"
	"time"

	"github.com/mohitkumar/eventflow/analytics"
)

type StorageType string

const STORAGE_TYPE_POSTGRES StorageType = "postgres"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig     RedisConfig
	StreamConfig    StreamConfig
	PostgresConfig  PostgresConfig
	StorageType     StorageType
	HttpPort        int
	WorkerID        string
	Consumers       int
	BatchSize       int
	ReclaimIdle     time.Duration
	SweepInterval   time.Duration
	RetryConfig     RetryConfig
	LockConfig      LockConfig
	StateCacheTTL   time.Duration
	DefinitionsDir  string
	LogLevel        string
	AnalyticsConfig analytics.DataCollectorConfig
}

type RedisConfig struct {
	Addrs     []string
	Password  string
	Namespace string
}

type StreamConfig struct {
	Key    string
	Group  string
	MaxLen int64
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

type LockConfig struct {
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
}

// Validate rejects settings the agent can not start with.
func (c Config) Validate() error {
	switch c.StorageType {
	case STORAGE_TYPE_INMEM:
	case STORAGE_TYPE_POSTGRES:
		if c.PostgresConfig.DSN == "" {
			return fmt.Errorf("postgres-dsn is required with storage-impl %s", c.StorageType)
		}
		if len(c.RedisConfig.Addrs) == 0 || c.RedisConfig.Addrs[0] == "" {
			return fmt.Errorf("redis-addr is required with storage-impl %s", c.StorageType)
		}
	default:
		return fmt.Errorf("unknown storage-impl %q", c.StorageType)
	}
	if c.HttpPort <= 0 {
		return fmt.Errorf("http-port should be positive")
	}
	if c.Consumers <= 0 || c.BatchSize <= 0 {
		return fmt.Errorf("consumers and batch-size should be positive")
	}
	if c.RetryConfig.MaxRetries < 0 {
		return fmt.Errorf("max-retries can not be negative")
	}
	if c.RetryConfig.BaseDelay <= 0 || c.RetryConfig.MaxDelay < c.RetryConfig.BaseDelay {
		return fmt.Errorf("retry delays should satisfy 0 < retry-base-delay <= retry-max-delay")
	}
	if c.LockConfig.TTL <= 0 {
		return fmt.Errorf("lock-ttl should be positive")
	}
	if c.ReclaimIdle <= c.RetryConfig.MaxDelay {
		return fmt.Errorf("reclaim-idle should exceed retry-max-delay so backed off deliveries are not reclaimed")
	}
	return nil
}
