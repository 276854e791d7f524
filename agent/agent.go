package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/eventflow/action"
	"github.com/mohitkumar/eventflow/analytics"
	"github.com/mohitkumar/eventflow/cache"
	"github.com/mohitkumar/eventflow/config"
	"github.com/mohitkumar/eventflow/engine"
	"github.com/mohitkumar/eventflow/eventlog"
	"github.com/mohitkumar/eventflow/executor"
	"github.com/mohitkumar/eventflow/inbox"
	"github.com/mohitkumar/eventflow/lock"
	"github.com/mohitkumar/eventflow/logger"
	"github.com/mohitkumar/eventflow/metadata"
	"github.com/mohitkumar/eventflow/metrics"
	"github.com/mohitkumar/eventflow/persistence"
	"github.com/mohitkumar/eventflow/persistence/memory"
	"github.com/mohitkumar/eventflow/persistence/postgres"
	"github.com/mohitkumar/eventflow/persistence/redis"
	"github.com/mohitkumar/eventflow/recovery"
	"github.com/mohitkumar/eventflow/rest"
	"github.com/mohitkumar/eventflow/syncpoint"
	"github.com/mohitkumar/eventflow/txn"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const republishAge = 30 * time.Second

// Agent owns every service of one worker process. Everything is built once
// in New and handed to its users explicitly.
type Agent struct {
	Config config.Config

	metrics         *metrics.Metrics
	redisClient     rd.UniversalClient
	store           persistence.Store
	closeStore      func()
	lockStore       lock.Store
	stream          eventlog.Stream
	metadataStorage metadata.MetadataStorage
	locker          *lock.DistributedLock
	events          *eventlog.EventLog
	registry        *action.Registry
	tasks           *inbox.Service
	metadataService *metadata.MetadataServiceImpl
	collector       analytics.WorkflowDataCollector
	engine          *engine.Engine
	executors       []executor.Executor
	httpServer      *rest.Server

	shutdown     bool
	shutdownLock sync.Mutex
	wg           sync.WaitGroup
}

func New(ctx context.Context, conf config.Config) (*Agent, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{Config: conf}
	setup := []func(ctx context.Context) error{
		a.setupMetrics,
		a.setupStorage,
		a.setupServices,
		a.setupDefinitions,
		a.setupExecutors,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupMetrics(ctx context.Context) error {
	a.metrics = metrics.InitMetrics()
	return nil
}

func (a *Agent) setupStorage(ctx context.Context) error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_INMEM:
		logger.Warn("running with in memory storage, state is lost on exit")
		a.store = memory.NewStore()
		a.lockStore = lock.NewMemoryStore()
		a.stream = eventlog.NewMemoryStream()
		a.metadataStorage = metadata.NewMemoryMetadataStorage()
		return nil
	case config.STORAGE_TYPE_POSTGRES:
		pg, err := postgres.NewStore(ctx, postgres.Config{
			DSN:      a.Config.PostgresConfig.DSN,
			MaxConns: a.Config.PostgresConfig.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.store = pg
		a.closeStore = pg.Close
		rc := redis.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Password:  a.Config.RedisConfig.Password,
			Namespace: a.Config.RedisConfig.Namespace,
		}
		a.redisClient = redis.NewClient(rc)
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return recovery.Wrap(recovery.KindConnection, "agent.redis", err)
		}
		a.lockStore = redis.NewRedisLockStore(a.redisClient, rc)
		a.metadataStorage = redis.NewRedisMetadataStorage(a.redisClient, rc)
		a.stream, err = redis.NewRedisStream(ctx, a.redisClient, rc, redis.StreamConfig{
			Key:    a.Config.StreamConfig.Key,
			Group:  a.Config.StreamConfig.Group,
			MaxLen: a.Config.StreamConfig.MaxLen,
		})
		return err
	}
	return fmt.Errorf("unknown storage type %s", a.Config.StorageType)
}

func (a *Agent) setupServices(ctx context.Context) error {
	var err error
	a.locker = lock.New(a.lockStore, lock.Config{
		TTL:          a.Config.LockConfig.TTL,
		WaitTime:     a.Config.LockConfig.Wait,
		PollInterval: a.Config.LockConfig.PollInterval,
		Observe:      a.metrics.LockObserved,
	})
	retry := recovery.Options{
		MaxRetries:   a.Config.RetryConfig.MaxRetries,
		InitialDelay: a.Config.RetryConfig.BaseDelay,
		MaxDelay:     a.Config.RetryConfig.MaxDelay,
		Jitter:       a.Config.RetryConfig.Jitter,
	}
	a.events = eventlog.New(a.store, a.stream, a.metrics)
	a.registry = action.NewRegistry()
	if err := action.RegisterBuiltins(a.registry); err != nil {
		return err
	}
	a.tasks = inbox.New(a.store, a.events)
	if err := a.tasks.RegisterActions(a.registry); err != nil {
		return err
	}
	a.metadataService = metadata.NewMetadataService(a.metadataStorage, a.registry, a.Config.StateCacheTTL)
	a.collector, err = analytics.NewDataCollector(a.Config.AnalyticsConfig)
	if err != nil {
		return err
	}
	a.engine = engine.New(engine.Deps{
		Store:     a.store,
		Locker:    a.locker,
		Txn:       txn.NewManager(a.store, a.locker, txn.Options{LockWait: a.Config.LockConfig.Wait, LockTTL: a.Config.LockConfig.TTL, Retry: &retry}),
		Events:    a.events,
		Sync:      syncpoint.New(a.store, a.metrics),
		Metadata:  a.metadataService,
		Actions:   a.registry,
		Cache:     cache.NewStateCache(a.Config.StateCacheTTL),
		Metrics:   a.metrics,
		Analytics: a.collector,
	}, engine.Config{
		WorkerID: a.Config.WorkerID,
		LockWait: a.Config.LockConfig.Wait,
		Retry:    retry,
	})
	return nil
}

func (a *Agent) setupDefinitions(ctx context.Context) error {
	if a.Config.DefinitionsDir == "" {
		return nil
	}
	n, err := metadata.LoadDir(ctx, a.metadataService, a.Config.DefinitionsDir)
	if err != nil {
		return err
	}
	logger.Info("workflow definitions loaded", zap.Int("count", n), zap.String("dir", a.Config.DefinitionsDir))
	return nil
}

func (a *Agent) setupExecutors(ctx context.Context) error {
	consumer := a.engine.WorkerID()
	for i := 0; i < a.Config.Consumers; i++ {
		a.executors = append(a.executors, executor.NewEventExecutor(i, a.events, a.engine, executor.EventConfig{
			Consumer:    consumer,
			BatchSize:   a.Config.BatchSize,
			Parallelism: a.Config.BatchSize,
			Block:       time.Second,
			MaxPause:    time.Second,
		}, &a.wg))
	}
	interval := a.Config.SweepInterval
	a.executors = append(a.executors,
		executor.NewReclaimExecutor(consumer, a.events, a.engine, a.Config.ReclaimIdle, a.Config.BatchSize, &a.wg),
		executor.NewRepublishExecutor(a.events.RepublishPending, republishAge, interval, a.Config.BatchSize, &a.wg),
		executor.NewTimerExecutor(a.engine.FireDueTimers, interval, a.Config.BatchSize, &a.wg),
		executor.NewTaskExpiryExecutor(a.tasks.ExpireDue, interval, a.Config.BatchSize, &a.wg),
	)
	return nil
}

func (a *Agent) setupHttpServer(ctx context.Context) error {
	a.httpServer = rest.NewServer(a.Config.HttpPort, a.metadataService, a.registry, a.engine, a.tasks, a.metrics)
	return nil
}

// Run starts the executors and the http server and blocks until ctx is done
// or the server fails. It shuts the agent down before returning.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger.Info("starting agent", zap.String("workerId", a.engine.WorkerID()), zap.Int("executors", len(a.executors)))
	for _, ex := range a.executors {
		ex.Start(ctx)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Shutdown stops intake first, then the executors, waits for in flight
// work and closes the connections.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	logger.Info("shutting down agent")

	err := a.httpServer.Stop(ctx)
	for _, ex := range a.executors {
		ex.Stop()
	}
	logger.Info("waiting for executors to finish...")
	a.wg.Wait()
	a.close()
	return err
}

func (a *Agent) close() {
	if a.collector != nil {
		if err := a.collector.Close(); err != nil {
			logger.Warn("error closing analytics collector", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil && !errors.Is(err, rd.ErrClosed) {
			logger.Warn("error closing redis client", zap.Error(err))
		}
	}
	if a.closeStore != nil {
		a.closeStore()
	}
}

func (a *Agent) Engine() *engine.Engine {
	return a.engine
}

func (a *Agent) Tasks() *inbox.Service {
	return a.tasks
}
