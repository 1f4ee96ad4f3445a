package main

import (
	"context"
	"log/slog"

	"go-taskgraph/internal/config"
	"go-taskgraph/internal/core/memory"
	"go-taskgraph/internal/core/ports"
	"go-taskgraph/internal/core/postgres/repository"
	"go-taskgraph/internal/infrastructure/redis"
	"go-taskgraph/internal/metrics"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// memoryEventBuffer bounds the resolution events waiting for the
// in-process coordinator.
const memoryEventBuffer = 1024

// backend bundles the adapters behind the ports.
type backend struct {
	tasks      ports.TaskStore
	graphs     ports.GraphStore
	dispatcher ports.Dispatcher
	queue      ports.TaskQueue
	bus        ports.EventBus

	// The memory backend cannot be shared between processes, so the server
	// runs the workers itself.
	inProcess bool

	closers []func() error
}

type backendOptions struct {
	store    config.Store
	redis    config.Redis
	consumer string
	migrate  bool
}

func openBackend(ctx context.Context, logger *slog.Logger, opts backendOptions, m *metrics.Metrics) (*backend, error) {
	policy := opts.store.RetryPolicy(m.ModifyConflicts.Inc)

	if opts.store.Backend == config.StoreMemory {
		logger.Warn("Using the in-memory backend, nothing survives a restart")
		store := memory.NewStore(policy)
		queue := memory.NewQueue()
		return &backend{
			tasks:      store,
			graphs:     store,
			dispatcher: memory.NewDispatcher(queue),
			queue:      queue,
			bus:        memory.NewEventBus(memoryEventBuffer),
			inProcess:  true,
		}, nil
	}

	// 1. Set up database connection
	db, err := gorm.Open(postgres.Open(opts.store.DatabaseDSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	if opts.migrate {
		if err := repository.Migrate(db.WithContext(ctx)); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	// 2. Redis carries definitions, the pending queue and resolution events
	client, err := redis.NewRedisClient(ctx, opts.redis.RedisAddr)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &backend{
		tasks:      repository.NewTaskRepository(db, policy),
		graphs:     repository.NewGraphRepository(db),
		dispatcher: redis.NewRedisDispatcher(client),
		queue:      redis.NewRedisQueue(client),
		bus:        redis.NewRedisEventBus(client, opts.consumer),
		closers:    []func() error{client.Close, sqlDB.Close},
	}, nil
}

func (b *backend) Close() {
	for _, c := range b.closers {
		_ = c()
	}
}
