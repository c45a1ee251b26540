package apitesting

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/careconnect/backend/api/config"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DBConfig holds the PostgreSQL test container configuration.
type DBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

// DB represents a PostgreSQL test container.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	connStr   string
	container *tcpostgres.PostgresContainer
}

// ConnStr returns the PostgreSQL connection string of the container's
// default database.
func (db *DB) ConnStr() string {
	return db.connStr
}

// Close terminates the PostgreSQL container.
func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate PostgreSQL container", "error", err)
	}
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// NewDB creates a new PostgreSQL testcontainer.
func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	if err := dockerAvailable(ctx); err != nil {
		return nil, err
	}

	// Retry container start up to 3 times for retryable errors
	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		err := recoverPanic(func() error {
			var err error
			container, err = tcpostgres.Run(ctx,
				cfg.ContainerImage,
				tcpostgres.WithDatabase(cfg.Database),
				tcpostgres.WithUsername(cfg.Username),
				tcpostgres.WithPassword(cfg.Password),
				testcontainers.WithWaitStrategy(waitForPostgres()),
				tcpostgres.WithSQLDriver("pgx"),
			)
			return err
		})
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("failed to start PostgreSQL container after retries: %w", lastErr)
		}
		break
	}

	if container == nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container after retries: %w", lastErr)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		connStr:   connStr,
		container: container,
	}, nil
}

var dbSeq atomic.Int64

// SetupTestDB creates a fresh database in the container, applies fixtures
// (statements for tables owned by the hosted platform), runs the embedded
// migrations and installs the pool as config.PgPool/config.DB. Everything is
// restored and dropped on cleanup.
func SetupTestDB(t *testing.T, db *DB, fixtures ...string) *pgxpool.Pool {
	t.Helper()
	ctx := t.Context()

	admin, err := sql.Open("pgx", db.connStr)
	require.NoError(t, err, "failed to open admin connection")
	defer admin.Close()

	name := fmt.Sprintf("t_%d_%d", time.Now().UnixNano(), dbSeq.Add(1))
	_, err = admin.ExecContext(ctx, `CREATE DATABASE "`+name+`"`)
	require.NoError(t, err, "failed to create test database")

	connStr, err := withDatabase(db.connStr, name)
	require.NoError(t, err)

	sqlDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err, "failed to open test database")
	for _, stmt := range fixtures {
		_, err := sqlDB.ExecContext(ctx, stmt)
		require.NoError(t, err, "failed to apply fixture")
	}
	require.NoError(t, config.RunMigrations(db.log, sqlDB), "failed to run migrations")
	sqlDB.Close()

	poolConfig, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err, "failed to parse pool config")

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err, "failed to create pool")

	// Save old globals and restore on cleanup
	oldPool, oldDB := config.PgPool, config.DB
	config.UsePool(pool)

	t.Cleanup(func() {
		_ = config.DB.Close()
		pool.Close()
		config.PgPool, config.DB = oldPool, oldDB

		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if admin, err := sql.Open("pgx", db.connStr); err == nil {
			_, _ = admin.ExecContext(dropCtx, `DROP DATABASE IF EXISTS "`+name+`" WITH (FORCE)`)
			_ = admin.Close()
		}
	})

	return pool
}

func withDatabase(connStr, name string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse connection string: %w", err)
	}
	u.Path = "/" + name
	return u.String(), nil
}

// dockerAvailable returns an error when no Docker host can be found.
// testcontainers panics in that case, which would abort the whole test binary.
func dockerAvailable(ctx context.Context) error {
	err := recoverPanic(func() error {
		cli, err := testcontainers.NewDockerClientWithOpts(ctx)
		if err != nil {
			return err
		}
		return cli.Close()
	})
	if err != nil {
		return fmt.Errorf("docker host not available: %w", err)
	}
	return nil
}

// recoverPanic runs fn and converts a panic into an error.
func recoverPanic(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}

// waitForPostgres waits for the second ready line; the first one is logged by
// the init process before the server restarts.
func waitForPostgres() *wait.MultiStrategy {
	return wait.ForAll(
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60*time.Second),
		wait.ForListeningPort("5432/tcp"),
	)
}
