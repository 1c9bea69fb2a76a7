package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// NewPool creates a PostgreSQL connection pool, pings it and applies pending migrations.
func NewPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	log := logger.FromContext(ctx).WithPrefix("db")

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Debug("applying postgres migrations")
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("postgres pool ready: max_conns=%d", poolCfg.MaxConns)
	return pool, nil
}

// MigratePostgres applies each pending embedded migration in its own transaction together
// with its schema_migrations row.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	log := logger.FromContext(ctx).WithPrefix("db")

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return err
	}

	entries, err := postgresMigrationsFS.ReadDir("migrations/postgres")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		version := entry.Name()

		var v string
		err := pool.QueryRow(ctx, `SELECT version FROM schema_migrations WHERE version = $1`, version).Scan(&v)
		if err == nil {
			log.Debug("migration %s already applied, skipping", version)
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		sqlBytes, err := postgresMigrationsFS.ReadFile("migrations/postgres/" + version)
		if err != nil {
			return err
		}
		log.Info("applying migration: %s", version)
		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
			return err
		})
		if err != nil {
			log.Error("migration %s failed: %v", version, err)
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		log.Info("migration %s applied successfully", version)
	}
	return nil
}
