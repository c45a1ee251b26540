package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/careconnect/backend/api/applications"
	"github.com/careconnect/backend/api/auth"
	"github.com/careconnect/backend/api/config"
	"github.com/careconnect/backend/api/handlers"
	"github.com/careconnect/backend/api/metrics"
	"github.com/careconnect/backend/api/postgrest"
	"github.com/careconnect/backend/api/query"
	"github.com/careconnect/backend/api/resources"
	"github.com/careconnect/backend/api/rules"
	"github.com/careconnect/backend/api/server"
	"github.com/careconnect/backend/api/signatures"
	"github.com/careconnect/backend/utils/pkg/logger"
	"github.com/careconnect/backend/utils/pkg/retry"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8000"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log output format: text or json (or set LOG_FORMAT env var)")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "address to serve the API on (or set LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to serve prometheus metrics on, empty to disable (or set METRICS_ADDR env var)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to drain in-flight requests on shutdown")
	envFileFlag := flag.String("env-file", ".env", "optional dotenv file to load")
	flag.Parse()

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		*listenAddrFlag = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		*metricsAddrFlag = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		*logFormatFlag = v
	}
	if os.Getenv("VERBOSE") == "true" {
		*verboseFlag = true
	}

	format, err := logger.ParseFormat(*logFormatFlag)
	if err != nil {
		return err
	}
	log := logger.NewWithFormat(os.Stdout, format, *verboseFlag)
	slog.SetDefault(log)

	settings, err := config.LoadSettings(*envFileFlag)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if settings.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         settings.SentryDSN,
			Environment: settings.SentryEnvironment,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry enabled", "environment", settings.SentryEnvironment)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadPostgres(ctx, log, settings); err != nil {
		return err
	}
	defer config.ClosePostgres()

	restRetry := retry.DefaultConfig()
	restRetry.MaxAttempts = settings.UpstreamRetryAttempts
	rest, err := postgrest.New(postgrest.Config{
		URL:     settings.SupabaseURL,
		APIKey:  settings.ServiceRoleKey,
		Timeout: settings.UpstreamTimeout,
		Retry:   restRetry,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("failed to create postgrest client: %w", err)
	}

	verifier, err := auth.NewVerifier(ctx, auth.Config{
		Secret:   settings.JWTSecret,
		JWKSURL:  settings.JWKSURL,
		Audience: settings.JWTAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		return err
	}

	engine := &query.Engine{DB: config.DB, RawSQLEnabled: settings.RawSQLEnabled, Log: log}
	store := &rules.Store{DB: config.DB}
	limiter := handlers.PerMinute(settings.RateLimitPerMinute, settings.RateLimitBurst)
	defer limiter.Close()

	api := &handlers.API{
		Log:            log,
		Verifier:       verifier,
		Roles:          &auth.UserRoles{Client: rest},
		Queries:        engine,
		Rules:          store,
		Executor:       &rules.Executor{Rules: store, Engine: engine},
		Applications:   &applications.Service{DB: config.DB, REST: rest},
		Resources:      &resources.Service{REST: rest},
		Signatures:     &signatures.Service{REST: rest, Clock: clockwork.NewRealClock()},
		Limiter:        limiter,
		AllowedOrigins: settings.AllowedOrigins(),
		DB:             config.PgPool,
		Version:        handlers.VersionInfo{Version: version, Commit: commit, Date: date},
		ReportPanics:   settings.SentryDSN != "",
		Public: handlers.PublicConfig{
			SupabaseURL:       settings.SupabaseURL,
			SentryDSN:         settings.SentryWebDSN,
			SentryEnvironment: settings.SentryEnvironment,
		},
	}


	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go serveMetrics(log, *metricsAddrFlag)
	}

	srv, err := server.New(server.Config{
		ListenAddr:        *listenAddrFlag,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   *shutdownTimeoutFlag,
		Handler:           api.NewRouter(),
		Logger:            log,
	})
	if err != nil {
		return err
	}

	log.Info("starting careconnect api", "version", version, "commit", commit, "raw_sql", settings.RawSQLEnabled)
	return srv.Run(ctx)
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to start prometheus metrics server listener", "error", err)
		return
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(listener, mux); err != nil {
		log.Error("failed to start prometheus metrics server", "error", err)
	}
}
