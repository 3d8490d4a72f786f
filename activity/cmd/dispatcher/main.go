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

	"github.com/joho/godotenv"

	"jobportal-admin/activity/internal/dispatch"
	"jobportal-admin/activity/internal/handlers"
	"jobportal-admin/activity/internal/repos"
	"jobportal-admin/shared/cachex"
	"jobportal-admin/shared/config"
	"jobportal-admin/shared/dbx"
	"jobportal-admin/shared/events"
	"jobportal-admin/shared/httpx"
	"jobportal-admin/shared/influxx"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/metricsx"
	"jobportal-admin/shared/mqx"
	"jobportal-admin/shared/observability"
)

func main() {
	_ = godotenv.Load()
	cfg, problems := config.Load("activity-dispatcher", 8091)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
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

	var checks []httpx.Check
	var logStore handlers.LogStore
	var projection handlers.ProjectionStore
	if cfg.DatabaseURL != "" {
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
		repo := repos.NewActivityRepo(dbPool)
		logStore, projection = repo, repo
		checks = append(checks, httpx.Check{Name: "db", Ping: func(ctx context.Context) error { return dbx.Ping(ctx, dbPool) }})
	} else {
		logger.Warn(context.Background(), "db_not_configured", "DATABASE_URL not set, activity kept in memory")
		store := handlers.NewMemoryStore()
		logStore, projection = store, store
	}

	var dedupe dispatch.Deduper
	dedupeTTL := time.Duration(cfg.DedupeTTLSec) * time.Second
	if cfg.RedisAddr != "" {
		redisClient, err := cachex.New(cfg)
		if err != nil {
			logger.Error(context.Background(), "redis_init_failed", "redis init failed",
				slog.String("error_code", "SERVICE_UNAVAILABLE"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		defer redisClient.Close()
		dedupe = cachex.NewClaims(redisClient, "activity:dedupe:", dispatch.DefaultClaimLease, dedupeTTL)
		checks = append(checks, httpx.Check{Name: "redis", Ping: redisClient.Ping})
	} else {
		dedupe = dispatch.NewMemoryDeduper(dispatch.DefaultClaimLease, dedupeTTL)
	}

	var series handlers.SeriesWriter
	if cfg.InfluxURL != "" {
		influx, err := influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx disabled",
				slog.String("error_code", "SERVICE_UNAVAILABLE"),
				slog.String("error", err.Error()),
			)
		} else {
			defer influx.Close()
			series = influx
			checks = append(checks, httpx.Check{Name: "influx", Ping: influx.Ping})
		}
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

	topic := cfg.KafkaTopic
	reader, err := mqx.NewConsumer(cfg, cfg.KafkaGroupID, topic, topic+mqx.RetrySuffix)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "SERVICE_UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	dispatcher := dispatch.New(map[events.EventType]dispatch.Handler{
		events.TypeAuditLog:     handlers.AuditHandler{Log: logStore, Logger: logger},
		events.TypeJobUpdate:    handlers.JobUpdateHandler{Log: logStore, Logger: logger},
		events.TypeUserActivity: handlers.UserActivityHandler{Log: logStore, Series: series, Logger: logger},
		events.TypeApplicationStatus: handlers.ApplicationStatusHandler{
			Log:        logStore,
			Projection: projection,
			Series:     series,
			Logger:     logger,
		},
	}, dispatch.Options{Dedupe: dedupe, Logger: logger})
	source := dispatch.NewKafkaSource(reader, producer, cfg.KafkaGroupID, cfg.RedeliveryMaxTries)

	probes := &http.Server{
		Addr: net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler: httpx.ProbeMux(httpx.StatusResponse{
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		}, problems, checks...),
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

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info(ctx, "consumer_start", "activity dispatcher started",
		slog.String("topic", topic),
		slog.String("group", cfg.KafkaGroupID),
		slog.Int("redelivery_max_attempts", cfg.RedeliveryMaxTries),
	)
	_ = dispatcher.Run(ctx, source)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = probes.Shutdown(shutdownCtx)
	logger.Info(context.Background(), "consumer_stop", "activity dispatcher stopped")
}
