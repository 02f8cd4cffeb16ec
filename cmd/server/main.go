package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"contactlink/internal/contact/events"
	"contactlink/internal/contact/handler"
	contactmetrics "contactlink/internal/contact/metrics"
	"contactlink/internal/contact/service"
	"contactlink/internal/contact/store"
	"contactlink/internal/platform/config"
	"contactlink/internal/platform/httpserver"
	"contactlink/internal/platform/kafka"
	"contactlink/internal/platform/logger"
	"contactlink/internal/platform/metrics"
	"contactlink/internal/platform/postgres"
	"contactlink/internal/platform/redis"
	"contactlink/internal/ratelimit/middleware"
	"contactlink/internal/ratelimit/store/bucket"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal contact packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("Database connection failed", "error", err)
		return err
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := postgres.Migrate(db.DB, log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	contactStore := store.NewPostgres(db)
	txRunner := postgres.NewTxRunner(db, cfg.Server.IdentifyTimeout)
	outbox := events.NewPostgresStore(db)

	serviceOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(contactmetrics.New(prometheus.DefaultRegisterer)),
	}

	var producer *kgo.Client
	if cfg.Kafka.Enabled() {
		producer, err = kafka.New(ctx, cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.Topic, log); err != nil {
			return err
		}
		serviceOpts = append(serviceOpts, service.WithEventRecorder(outbox))
	} else {
		log.Info("kafka brokers not configured, contact events disabled")
	}

	contactService := service.New(contactStore, txRunner, serviceOpts...)

	limiter, err := newLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer limiter.close()

	router := newRouter(routes{
		contacts: handler.New(contactService, log, handler.WithRateLimit(limiter.RateLimit)),
		health: handler.NewHealth(func(ctx context.Context) error {
			return postgres.Health(ctx, db)
		}, log),
		gatherer: prometheus.DefaultGatherer,
		metrics:  metrics.New(prometheus.DefaultRegisterer),
	}, log)

	srv := httpserver.New(cfg.Server.Addr, otelhttp.NewHandler(router, "contactlink"), cfg.Server.ReadHeaderTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	if producer != nil {
		relay := events.NewRelay(outbox, txRunner, events.NewKafkaPublisher(producer, cfg.Kafka.Topic),
			events.WithInterval(cfg.Kafka.PollInterval),
			events.WithBatchSize(cfg.Kafka.BatchSize),
			events.WithRelayLogger(log),
		)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// rateLimiter is the /identify middleware plus the in-memory store it counts
// in when Redis is absent or its circuit is open.
type rateLimiter struct {
	*middleware.Middleware
	memory     *bucket.InMemoryBucketStore
	sweepEvery time.Duration
	close      func()
}

// Run evicts ended in-memory windows until ctx is cancelled.
func (l *rateLimiter) Run(ctx context.Context) error {
	return l.memory.RunSweeper(ctx, l.sweepEvery)
}

// newLimiter builds the /identify rate limiter. Redis counts are shared across
// replicas; without Redis, or while it is unreachable, counts stay in memory.
func newLimiter(ctx context.Context, cfg config.Config, log *slog.Logger, memoryOpts ...bucket.MemoryOption) (*rateLimiter, error) {
	memory := bucket.New(memoryOpts...)

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		mw := middleware.New(memory, cfg.RateLimit.PerMinute, log)
		return &rateLimiter{Middleware: mw, memory: memory, sweepEvery: mw.Window(), close: func() {}}, nil
	}

	log.Info("rate limiting backed by redis")
	mw := middleware.New(bucket.NewRedis(client), cfg.RateLimit.PerMinute, log,
		middleware.WithFallback(memory),
	)
	return &rateLimiter{
		Middleware: mw,
		memory:     memory,
		sweepEvery: mw.Window(),
		close:      func() { _ = client.Close() },
	}, nil
}
