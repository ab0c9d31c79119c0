package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
)

//go:embed schema_postgres.sql
var postgresSchema string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresWriter connects to dsn and creates the schema if needed.
func NewPostgresWriter(ctx context.Context, dsn string, log *slog.Logger) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	w := &PostgresWriter{pool: pool, log: logging.Component(log, "catalog")}
	w.log.Info("connected to PostgreSQL catalog")
	return w, nil
}

// RecordRetrieval inserts rec unless its entry is already present.
func (w *PostgresWriter) RecordRetrieval(ctx context.Context, rec Record) error {
	query := `INSERT INTO retrievals (` + insertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (entry_id) DO NOTHING`

	if _, err := w.pool.Exec(ctx, query, rec.args()...); err != nil {
		return fmt.Errorf("insert retrieval %s: %w", rec.EntryID, err)
	}
	return nil
}

// Close closes the connection pool.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
