package sinks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
)

const defaultTable = "warm_log"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var postgresColumns = []string{
	"run_id",
	"run_label",
	"started_at",
	"finished_at",
	"country",
	"mode",
	"url",
	"status",
	"cf_cache",
	"litespeed_cache",
	"cf_ray",
	"response_ms",
	"errored",
	"message",
}

// PostgresConfig controls the connection pool and target table.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
	CreateTable     bool
}

type copyExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Close()
}

// Postgres writes each batch with one COPY into the log table.
type Postgres struct {
	pool  copyExecCloser
	table string
}

// NewPostgres connects a pool and optionally creates the table.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("runlog.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sink, err := NewPostgresWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.CreateTable {
		if err := sink.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return sink, nil
}

// NewPostgresWithPool builds a sink on an existing pool.
func NewPostgresWithPool(pool copyExecCloser, table string) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// EnsureTable creates the log table when it does not exist.
func (p *Postgres) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id          TEXT NOT NULL,
	run_label       TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
	country         TEXT NOT NULL,
	mode            TEXT NOT NULL,
	url             TEXT NOT NULL,
	status          INTEGER,
	cf_cache        TEXT,
	litespeed_cache TEXT,
	cf_ray          TEXT,
	response_ms     BIGINT,
	errored         BOOLEAN NOT NULL DEFAULT FALSE,
	message         TEXT
)`, p.table)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

// Name implements runlog.Sink.
func (p *Postgres) Name() string { return "postgres" }

// Write implements runlog.Sink.
func (p *Postgres) Write(ctx context.Context, batch runlog.Batch) error {
	rows := make([][]any, 0, len(batch.Rows))
	for _, r := range batch.Rows {
		var finished any
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt
		}
		var status any
		if r.Status != 0 {
			status = int32(r.Status)
		}
		var ms any
		if r.ResponseMS != nil {
			ms = *r.ResponseMS
		}
		rows = append(rows, []any{
			r.RunID,
			batch.Label,
			r.StartedAt,
			finished,
			r.Country,
			r.Mode,
			r.URL,
			status,
			r.EdgeCache,
			r.OriginCache,
			r.EdgeRay,
			ms,
			r.Errored,
			r.Message,
		})
	}
	n, err := p.pool.CopyFrom(ctx, pgx.Identifier{p.table}, postgresColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", p.table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", p.table, n, len(rows))
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}
