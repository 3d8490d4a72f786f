package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"jobportal-admin/activity/internal/relay"
	"jobportal-admin/shared/cachex"
	"jobportal-admin/shared/config"
	"jobportal-admin/shared/dbx"
	"jobportal-admin/shared/httpx"
	"jobportal-admin/shared/lockx"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/metricsx"
	"jobportal-admin/shared/mqx"
	"jobportal-admin/shared/observability"
	"jobportal-admin/shared/outbox"
)

const scanLockKey = "activity:outbox:scan"

func main() {
	_ = godotenv.Load()
	cfg, problems := config.Load("activity-relay", 8092)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "SERVICE_UNAVAILABLE"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfigFrom(cfg, version)); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	dbPool, err := dbx.NewPool(context.Background(), cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "SERVICE_UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()
	if err := dbx.EnsureSchema(context.Background(), dbPool); err != nil {
		logger.Error(context.Background(), "schema_init_failed", "schema bootstrap failed",
			slog.String("error_code", "SERVICE_UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "SERVICE_UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	// The scan lock shares the cache Redis when one is configured.
	var lockClient *cachex.Client
	if cfg.RedisAddr != "" {
		lockClient, err = cachex.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "redis_init_failed", "redis init failed",
				slog.String("error_code", "SERVICE_UNAVAILABLE"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	} else {
		lockClient = cachex.Wrap(redis.NewClient(&redis.Options{
			Addr:     cfg.AsynqRedisAddr,
			Password: cfg.AsynqRedisPass,
			DB:       cfg.AsynqRedisDB,
		}))
	}
	defer lockClient.Close()

	relayer := relay.New(outbox.NewRepo(dbPool), producer, relay.Options{
		Owner:       cfg.ServiceName,
		BatchSize:   cfg.OutboxBatchSize,
		MaxAttempts: cfg.OutboxMaxAttempts,
		Logger:      logger,
	})

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	enqueuer := relay.NewAsynqEnqueuer(client, cfg.AsynqQueue)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	scanInterval := time.Duration(cfg.OutboxScanSec) * time.Second
	mux := asynq.NewServeMux()
	mux.HandleFunc(relay.TaskOutboxScan, func(ctx context.Context, t *asynq.Task) error {
		err := lockx.Do(ctx, lockClient.Client(), scanLockKey, 2*scanInterval, func(ctx context.Context) error {
			n, err := relayer.Scan(ctx, enqueuer)
			if n > 0 {
				logger.Debug(ctx, "outbox_scan", "outbox records scheduled", slog.Int("count", n))
			}
			return err
		})
		if errors.Is(err, lockx.ErrNotAcquired) {
			return nil
		}
		return err
	})
	mux.HandleFunc(relay.TaskOutboxDispatch, func(ctx context.Context, t *asynq.Task) error {
		eventID, err := relay.EventIDFromTask(t)
		if err != nil {
			return errors.Join(err, asynq.SkipRetry)
		}
		return relayer.Deliver(ctx, eventID)
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.OutboxScanSec)+"s", asynq.NewTask(relay.TaskOutboxScan, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
		logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
			slog.String("error_code", "SERVICE_UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer scheduler.Shutdown()

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	probes := &http.Server{
		Addr: net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler: httpx.ProbeMux(httpx.StatusResponse{
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		}, problems,
			httpx.Check{Name: "db", Ping: func(ctx context.Context) error { return dbx.Ping(ctx, dbPool) }},
			httpx.Check{Name: "redis", Ping: lockClient.Ping},
		),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := probes.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "probe_server_failed", "probe server failed",
				slog.String("error_code", "INTERNAL"),
				slog.String("error", err.Error()),
			)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "outbox relay started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("scan_interval_sec", cfg.OutboxScanSec),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = probes.Shutdown(shutdownCtx)
	logger.Info(context.Background(), "worker_stop", "outbox relay stopped")
}
