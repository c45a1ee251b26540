package config

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

// PgPool is the global PostgreSQL connection pool.
var PgPool *pgxpool.Pool

// DB is a database/sql view over PgPool. Both share the same connections.
var DB *sqlx.DB

// LoadPostgres initializes the PostgreSQL connection pool.
func LoadPostgres(ctx context.Context, log *slog.Logger, s *Settings) error {
	connStr := s.PostgresDSN()

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	log.Info("connecting to postgres",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
		"username", poolConfig.ConnConfig.User)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	UsePool(pool)
	log.Info("connected to postgres")

	if s.RunMigrations {
		if err := RunMigrations(log, DB.DB); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return nil
}

// UsePool installs pool as the process pool and derives DB from it.
func UsePool(pool *pgxpool.Pool) {
	PgPool = pool
	DB = sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(log *slog.Logger, db *sql.DB) error {
	log.Info("running postgres migrations")

	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("postgres migrations completed")
	return nil
}

// ClosePostgres closes the PostgreSQL connection pool.
func ClosePostgres() {
	if DB != nil {
		_ = DB.Close()
	}
	if PgPool != nil {
		PgPool.Close()
	}
}
