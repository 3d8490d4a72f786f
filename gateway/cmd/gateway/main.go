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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"jobportal-admin/gateway/internal/admin"
	"jobportal-admin/gateway/internal/handlers"
	"jobportal-admin/gateway/internal/middleware"
	"jobportal-admin/gateway/internal/publisher"
	"jobportal-admin/gateway/internal/routing"
	"jobportal-admin/gateway/internal/upstream"
	"jobportal-admin/shared/authx"
	"jobportal-admin/shared/config"
	"jobportal-admin/shared/dbx"
	"jobportal-admin/shared/httpx"
	"jobportal-admin/shared/logx"
	"jobportal-admin/shared/metricsx"
	"jobportal-admin/shared/mqx"
	"jobportal-admin/shared/observability"
	"jobportal-admin/shared/outbox"
)

func main() {
	_ = godotenv.Load()
	cfg, readyProblems := config.Load("gateway", 8090)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.TracerConfigFrom(cfg, version))
	if err != nil {
		logger.Error(context.Background(), "otel_init_failed", "otel init failed",
			slog.String("error_code", "SERVICE_UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
	}

	directoryPath := cfg.DirectoryPath
	if directoryPath == "" {
		if p, err := routing.DefaultDirectoryPath(cfg.Env); err == nil {
			directoryPath = p
		} else {
			readyProblems = append(readyProblems, config.Problem{Field: "DIRECTORY_PATH", Message: "failed to resolve default directory path"})
		}
	}
	upstreamTimeout := time.Duration(cfg.UpstreamTimeoutMS) * time.Millisecond
	var directory *routing.Directory
	if directoryPath != "" {
		directory, err = routing.Load(directoryPath, upstreamTimeout)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DIRECTORY_PATH", Message: err.Error()})
		}
	}

	verifier, authProblems := buildVerifier(cfg)
	readyProblems = append(readyProblems, authProblems...)

	enforcer, err := middleware.NewEnforcer(handlers.Prefix, cfg.AdminRoles)
	if err != nil {
		readyProblems = append(readyProblems, config.Problem{Field: "ADMIN_ROLES", Message: err.Error()})
	}

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		readyProblems = append(readyProblems, config.Problem{Field: "KAFKA_BROKERS", Message: err.Error()})
	}

	var dbPool *pgxpool.Pool
	var spool publisher.Spool
	if cfg.OutboxEnabled {
		dbPool, err = dbx.NewPool(context.Background(), cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: err.Error()})
		} else {
			if err := dbx.EnsureSchema(context.Background(), dbPool); err != nil {
				logger.Error(context.Background(), "schema_init_failed", "schema bootstrap failed",
					slog.String("error_code", "SERVICE_UNAVAILABLE"),
					slog.String("error", err.Error()),
				)
			}
			spool = outbox.NewRepo(dbPool)
		}
	}

	var channel publisher.Appender
	if producer != nil {
		channel = producer
	}
	pub := publisher.New(channel, publisher.Options{
		Topic:   cfg.KafkaTopic,
		Spool:   spool,
		Timeout: time.Duration(cfg.PublishTimeoutMS) * time.Millisecond,
		Logger:  logger,
	})

	caller := upstream.NewHTTPCaller(directory, nil, logger, upstream.BreakerSettings{})
	svc := admin.NewService(
		upstream.NewJobsClient(caller),
		upstream.NewUsersClient(caller),
		upstream.NewApplicationsClient(caller),
		pub,
		logger,
	)

	var checks []httpx.Check
	if dbPool != nil {
		checks = append(checks, httpx.Check{Name: "db", Ping: func(ctx context.Context) error { return dbx.Ping(ctx, dbPool) }})
	}
	mux := httpx.ProbeMux(httpx.StatusResponse{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Version: version,
	}, readyProblems, checks...)
	handlers.AdminHandler{Service: svc}.Register(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	skipProbes := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewClientRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 5*time.Minute),
		Skip:    skipProbes,
	}.Wrap(handler)
	handler = middleware.AuthorizeMiddleware{
		Enforcer: enforcer,
		Logger:   logger,
		Skip:     skipProbes,
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Logger:   logger,
		Skip:     skipProbes,
	}.Wrap(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = otelhttp.NewHandler(handler, "http")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
			slog.String("directory_path", directoryPath),
			slog.Bool("outbox_enabled", cfg.OutboxEnabled),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL"),
			slog.String("error", err.Error()),
		)
	}
	if producer != nil {
		_ = producer.Close()
	}
	if dbPool != nil {
		dbPool.Close()
	}
	if shutdownTracer != nil {
		_ = shutdownTracer(context.Background())
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}

// buildVerifier accepts user-service HS256 tokens, OIDC tokens, or both.
func buildVerifier(cfg config.Config) (authx.Verifier, []config.Problem) {
	var (
		chain    authx.ChainVerifier
		problems []config.Problem
	)
	if cfg.JWTHMACSecret != "" {
		v, err := authx.NewHMACVerifier(cfg.JWTHMACSecret, cfg.JWTClockSkewSec)
		if err != nil {
			problems = append(problems, config.Problem{Field: "JWT_HMAC_SECRET", Message: err.Error()})
		} else {
			chain = append(chain, v)
		}
	}
	if cfg.OIDCIssuer != "" {
		v, err := authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			problems = append(problems, config.Problem{Field: "OIDC_ISSUER", Message: err.Error()})
		} else {
			chain = append(chain, v)
		}
	}
	if len(chain) == 0 {
		problems = append(problems, config.Problem{Field: "JWT_HMAC_SECRET", Message: "JWT_HMAC_SECRET or OIDC_ISSUER is required"})
		return nil, problems
	}
	return chain, problems
}
