package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const createUsageTableSQL = `
CREATE TABLE IF NOT EXISTS ask_usage (
    id BIGSERIAL PRIMARY KEY,
    requested_at TIMESTAMPTZ NOT NULL,
    request_id TEXT NOT NULL,
    model TEXT NOT NULL,
    api_key_hash TEXT NOT NULL DEFAULT '',
    failed BOOLEAN NOT NULL DEFAULT FALSE,
    streamed BOOLEAN NOT NULL DEFAULT FALSE,
    snippets INTEGER NOT NULL DEFAULT 0,
    input_tokens BIGINT NOT NULL DEFAULT 0,
    output_tokens BIGINT NOT NULL DEFAULT 0,
    total_tokens BIGINT NOT NULL DEFAULT 0
)`

const insertUsageSQL = `
INSERT INTO ask_usage (
    requested_at, request_id, model, api_key_hash,
    failed, streamed, snippets,
    input_tokens, output_tokens, total_tokens
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// PostgresSink persists usage records to a Postgres table. It is registered
// only when a DSN is configured; write failures are logged and never surface
// to the request path.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens the database via the pgx stdlib driver and ensures the
// usage table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("usage: postgres dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("usage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: ping postgres: %w", err)
	}
	if _, err = db.ExecContext(pingCtx, createUsageTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("usage: ensure usage table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// HandleUsage implements Plugin.
func (s *PostgresSink) HandleUsage(ctx context.Context, record Record) {
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(writeCtx, insertUsageSQL,
		record.RequestedAt,
		record.RequestID,
		record.Model,
		record.APIKey,
		record.Failed,
		record.Streamed,
		record.Snippets,
		record.Detail.InputTokens,
		record.Detail.OutputTokens,
		record.Detail.TotalTokens,
	)
	if err != nil {
		log.Errorf("usage: postgres insert failed: %v", err)
	}
}

// Close releases the database handle.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
