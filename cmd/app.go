package main

import (
	"context"
	"fmt"

	"github.com/lvdashuaibi/contestvote/config"
	"github.com/lvdashuaibi/contestvote/internal/kafka"
	"github.com/lvdashuaibi/contestvote/internal/lock"
	"github.com/lvdashuaibi/contestvote/internal/logger"
	"github.com/lvdashuaibi/contestvote/internal/metrics"
	"github.com/lvdashuaibi/contestvote/internal/repository"
	"github.com/lvdashuaibi/contestvote/internal/service"
	"github.com/lvdashuaibi/contestvote/internal/session"
	"github.com/lvdashuaibi/contestvote/internal/ticket"
	"github.com/prometheus/client_golang/prometheus"
)

// application holds every long-lived component built from the config.
type application struct {
	cfg      *config.Config
	repo     *repository.SQLRepository
	redis    *repository.RedisRepository // nil unless redis.enabled
	lock     lock.Lock
	producer kafka.Publisher
	registry *prometheus.Registry
	votes    *service.VoteService
	tickets  *ticket.TicketService
	sessions session.Store

	closers []func()
}

func newApplication(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	app := &application{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.repo, err = repository.NewSQLRepository(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.closers = append(app.closers, app.repo.Close)
	logger.Logger.Info().Str("driver", app.repo.Driver()).Msg("database connected")

	var cache service.ResultsCache
	app.sessions = session.NewMemoryStore()
	if cfg.Redis.Enabled {
		app.redis, err = repository.NewRedisRepository(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		redisRepo := app.redis
		app.closers = append(app.closers, func() { _ = redisRepo.Close() })
		cache = app.redis
		app.sessions = session.NewRedisStore(app.redis)
		logger.Logger.Info().Str("addr", cfg.Redis.DataAddress).Msg("redis connected")
	}

	app.lock, err = newLock(ctx, cfg)
	if err != nil {
		return nil, err
	}
	distributedLock := app.lock
	app.closers = append(app.closers, func() {
		distributedLock.ReleaseAllLocks()
		_ = distributedLock.Close()
	})

	app.producer = kafka.NoopPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(ctx, cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}
		app.producer = producer
		app.closers = append(app.closers, func() { _ = producer.Close() })
	}

	recorder := metrics.New(app.registry)
	app.votes = service.NewVoteService(app.repo, cache, app.producer, recorder, service.Options{
		CacheTTL: cfg.Results.CacheTTL,
	})

	gen, err := ticket.NewGenerator(cfg.Ticket.CodeLength)
	if err != nil {
		return nil, err
	}
	app.tickets = ticket.NewTicketService(app.repo, gen, app.lock, app.votes, ticket.Options{
		MaxGenerate:      cfg.Ticket.MaxGenerate,
		CollisionRetries: cfg.Ticket.CollisionRetries,
		LockTTL:          cfg.Lock.TTL,
	})

	return app, nil
}

func newLock(ctx context.Context, cfg *config.Config) (lock.Lock, error) {
	switch cfg.Lock.Backend {
	case config.LockBackendEtcd:
		l, err := lock.NewEtcdLock(cfg.ETCD)
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd lock: %w", err)
		}
		return l, nil
	case config.LockBackendRedis:
		l, err := lock.NewRedLock(ctx, cfg.Redis, cfg.Lock.RetryCount)
		if err != nil {
			return nil, fmt.Errorf("failed to create redlock: %w", err)
		}
		return l, nil
	default:
		return lock.NewLocalLock(), nil
	}
}

// Close releases components in reverse order of creation.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
