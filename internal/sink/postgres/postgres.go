// Package postgres inserts record batches into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/quote-crawler/internal/crawler"
)

const defaultTable = "quotes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and target table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes each batch inside one transaction.
type Sink struct {
	pool      txPool
	table     string
	insertSQL string
}

var _ crawler.Sink = (*Sink)(nil)

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newSink(pool, table), nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool txPool, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newSink(pool, name), nil
}

func newSink(pool txPool, table string) *Sink {
	return &Sink{
		pool:  pool,
		table: table,
		insertSQL: fmt.Sprintf(`INSERT INTO %s (
			run_id, quote, author, author_url, topic, tags, quote_url,
			page, position, source_mode, source_url, language, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, table),
	}
}

func tableName(raw string) (string, error) {
	if raw == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(raw) {
		return "", fmt.Errorf("invalid table name %q", raw)
	}
	return raw, nil
}

// EnsureSchema creates the target table when it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          BIGSERIAL PRIMARY KEY,
		run_id      TEXT NOT NULL,
		quote       TEXT NOT NULL,
		author      TEXT,
		author_url  TEXT,
		topic       TEXT,
		tags        TEXT[] NOT NULL DEFAULT '{}',
		quote_url   TEXT,
		page        INTEGER NOT NULL,
		position    INTEGER NOT NULL,
		source_mode TEXT NOT NULL,
		source_url  TEXT,
		language    TEXT,
		scraped_at  TIMESTAMPTZ NOT NULL
	)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Push inserts batch in order. Either every row of the batch lands or none do.
func (s *Sink) Push(ctx context.Context, batch []crawler.Record) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	runID := crawler.RunIDFrom(ctx)
	for i := range batch {
		if _, err := tx.Exec(ctx, s.insertSQL, rowArgs(runID, batch[i])...); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("insert quote row: %w (rollback: %v)", err, rbErr)
			}
			return fmt.Errorf("insert quote row: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

func rowArgs(runID string, r crawler.Record) []any {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		runID,
		r.Quote,
		nullable(r.Author),
		nullable(r.AuthorURL),
		nullable(r.Topic),
		tags,
		nullable(r.QuoteURL),
		r.Page,
		r.Position,
		string(r.SourceMode),
		nullable(r.SourceURL),
		nullable(r.Language),
		r.ScrapedAt,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
