package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohitkumar/eventflow/agent"
	"github.com/mohitkumar/eventflow/analytics"
	"github.com/mohitkumar/eventflow/config"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().String("namespace", "eventflow", "namespace used for redis keys")
	cmd.Flags().String("stream-key", "events", "redis stream carrying workflow events")
	cmd.Flags().String("consumer-group", "eventflow-workers", "consumer group shared by all workers")
	cmd.Flags().Int64("stream-max-len", 1000000, "approximate cap on the stream length, 0 for none")
	cmd.Flags().String("storage-impl", "postgres", "implementation of underline storage: postgres or memory")
	cmd.Flags().String("postgres-dsn", "", "postgres connection string")
	cmd.Flags().Int32("postgres-max-conns", 20, "postgres pool size")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("worker-id", "", "stream consumer name of this worker, random when empty")
	cmd.Flags().Int("consumers", 4, "number of stream consumer loops")
	cmd.Flags().Int("batch-size", 10, "entries read per poll")
	cmd.Flags().Duration("reclaim-idle", time.Minute, "idle time after which pending entries of other workers are reclaimed")
	cmd.Flags().Duration("sweep-interval", time.Second, "interval of the timer, task expiry and republish sweeps")
	cmd.Flags().Int("max-retries", 3, "attempts per action and deliveries per event")
	cmd.Flags().Duration("retry-base-delay", 100*time.Millisecond, "first retry delay")
	cmd.Flags().Duration("retry-max-delay", 10*time.Second, "retry delay cap")
	cmd.Flags().Bool("retry-jitter", true, "add +-20% jitter to retry delays")
	cmd.Flags().Duration("lock-ttl", 30*time.Second, "ttl of execution and transaction locks")
	cmd.Flags().Duration("lock-wait", 10*time.Second, "how long to wait for a lock")
	cmd.Flags().Duration("lock-poll-interval", 50*time.Millisecond, "lock retry interval while waiting")
	cmd.Flags().Duration("state-cache-ttl", time.Minute, "ttl of cached execution states and definitions")
	cmd.Flags().String("definitions-dir", "", "directory of workflow definition yaml files loaded at start")
	cmd.Flags().String("log-level", "info", "debug, info, warn or error")
	cmd.Flags().String("log-encoding", "json", "json or console")
	cmd.Flags().String("analytics-file", "", "file receiving action outcome records, disabled when empty")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return err
			}
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.StreamConfig.Key = viper.GetString("stream-key")
	c.cfg.StreamConfig.Group = viper.GetString("consumer-group")
	c.cfg.StreamConfig.MaxLen = viper.GetInt64("stream-max-len")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.PostgresConfig.DSN = viper.GetString("postgres-dsn")
	c.cfg.PostgresConfig.MaxConns = viper.GetInt32("postgres-max-conns")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.WorkerID = viper.GetString("worker-id")
	c.cfg.Consumers = viper.GetInt("consumers")
	c.cfg.BatchSize = viper.GetInt("batch-size")
	c.cfg.ReclaimIdle = viper.GetDuration("reclaim-idle")
	c.cfg.SweepInterval = viper.GetDuration("sweep-interval")
	c.cfg.RetryConfig.MaxRetries = viper.GetInt("max-retries")
	c.cfg.RetryConfig.BaseDelay = viper.GetDuration("retry-base-delay")
	c.cfg.RetryConfig.MaxDelay = viper.GetDuration("retry-max-delay")
	c.cfg.RetryConfig.Jitter = viper.GetBool("retry-jitter")
	c.cfg.LockConfig.TTL = viper.GetDuration("lock-ttl")
	c.cfg.LockConfig.Wait = viper.GetDuration("lock-wait")
	c.cfg.LockConfig.PollInterval = viper.GetDuration("lock-poll-interval")
	c.cfg.StateCacheTTL = viper.GetDuration("state-cache-ttl")
	c.cfg.DefinitionsDir = viper.GetString("definitions-dir")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.AnalyticsConfig.CollectorType = analytics.NOOP_DATA_COLLECTOR
	if file := viper.GetString("analytics-file"); file != "" {
		c.cfg.AnalyticsConfig.CollectorType = analytics.LOG_FILE_DATA_COLLECTOR
		c.cfg.AnalyticsConfig.FileName = file
	}
	if err := logger.Init(c.cfg.LogLevel, viper.GetString("log-encoding")); err != nil {
		return err
	}
	return c.cfg.Validate()
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logger.Sync() }()
	a, err := agent.New(ctx, c.cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:          "eventflow",
		Short:        "event sourced workflow engine worker",
		PreRunE:      cli.setupConfig,
		RunE:         cli.run,
		SilenceUsage: true,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
