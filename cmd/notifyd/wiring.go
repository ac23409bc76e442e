package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cuonglevan23/taskflow-backend-sub002/internal/bus"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/config"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/repository"
	"github.com/cuonglevan23/taskflow-backend-sub002/internal/services"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/metrics"
	"github.com/cuonglevan23/taskflow-backend-sub002/pkg/retry"
)

func openBus(cfg *config.Config, logr *slog.Logger) (bus.Bus, error) {
	if cfg.BusDriver != "amqp" {
		return bus.NewMemoryBus(cfg.BusPartitions, cfg.BusBuffer, cfg.RedeliveryDelay), nil
	}
	b, err := bus.DialAMQP(cfg.RabbitURL, bus.AMQPConfig{
		Exchange:        cfg.BusExchange,
		DeadLetterQueue: cfg.DeadLetterQueue,
		Partitions:      cfg.BusPartitions,
		Prefetch:        cfg.PrefetchCount,
		Buffer:          cfg.BusBuffer,
		RedeliveryDelay: cfg.RedeliveryDelay,
		Retry: retry.Config{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryInitialBackoff,
			MaxBackoff:     cfg.RetryMaxBackoff,
			JitterFactor:   0.2,
		},
	}, logr.With(slog.String("component", "bus")))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// stateStores groups the presence store, the dedup ledgers and the unread
// counters, which always share a backend.
type stateStores struct {
	presence services.PresenceStore
	ledger   services.Ledger
	counter  services.UnreadCounter
	close    func() error
}

func openStores(cfg *config.Config) (*stateStores, error) {
	if cfg.StoreDriver != "redis" {
		return &stateStores{
			presence: repository.NewMemoryPresence(),
			ledger:   repository.NewMemoryLedger(),
			counter:  repository.NewMemoryCounter(),
			close:    func() error { return nil },
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	repo := repository.NewRedisRepository(client, cfg.PresenceTTL, cfg.LedgerTTL)
	return &stateStores{
		presence: repo,
		ledger:   repo,
		counter:  repo,
		close:    repo.Close,
	}, nil
}

type queueStores struct {
	queue  services.OfflineQueue
	status *services.StatusUpdater
	close  func() error
}

func openQueue(cfg *config.Config, logr *slog.Logger) (*queueStores, error) {
	if cfg.QueueDriver == "memory" {
		return &queueStores{
			queue: repository.NewMemoryQueue(cfg.OfflineMaxPerUser),
			close: func() error { return nil },
		}, nil
	}

	db, err := repository.OpenDatabase(cfg.QueueDriver, cfg.QueueDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	queue, err := repository.NewOfflineQueue(db, cfg.QueueTable, cfg.OfflineMaxPerUser, logr.With(slog.String("component", "queue")))
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	statusStore, err := repository.NewStatusStore(db, cfg.StatusTable)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &queueStores{
		queue:  queue,
		status: services.NewStatusUpdater(statusStore, logr.With(slog.String("component", "status"))),
		close:  sqlDB.Close,
	}, nil
}

// openTasks returns nil when no task database is configured.
func openTasks(cfg *config.Config) (*repository.TaskStore, error) {
	if cfg.TaskDatabaseURL == "" {
		return nil, nil
	}
	return repository.OpenTaskStore(cfg.TaskDatabaseURL)
}

func newMentionNotifier(cfg *config.Config, publisher bus.Publisher, m *metrics.Metrics, logr *slog.Logger) (*services.MentionNotifier, error) {
	handles, err := services.ParseHandles(cfg.MentionHandles)
	if err != nil {
		return nil, fmt.Errorf("MENTION_HANDLES: %w", err)
	}
	var extractor services.MentionExtractor = services.NaiveExtractor{}
	if cfg.MentionStrict {
		extractor = services.StrictExtractor{}
	}
	return services.NewMentionNotifier(
		extractor,
		services.NewStaticResolver(handles, cfg.MentionResolveByID),
		publisher,
		cfg.MentionPreviewChars,
		m,
		logr.With(slog.String("component", "mentions")),
	), nil
}
