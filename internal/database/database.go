// Package database owns the Postgres connections: a database/sql pool for
// the stores and a pgx pool for the job queue, plus idempotent schema setup.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// NewDB opens and pings a database/sql connection to Postgres.
func NewDB(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

// NewPool opens a pgx connection pool. The job queue requires pgx natively.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return pool, nil
}

// Schema DDL, safe to run on every startup. The partial unique index on
// incident enforces at most one open-ish incident per cluster, which is what
// allows upserts to be atomic under concurrent webhook processing.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS hs_conversation (
		id            BIGINT PRIMARY KEY,
		number        INTEGER,
		subject       TEXT,
		last_text     TEXT,
		tags          TEXT,
		customer_name TEXT,
		first_name    VARCHAR(128),
		last_name     VARCHAR(128),
		game_user_id  VARCHAR(64),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS hs_enrichment (
		conv_id          BIGINT PRIMARY KEY,
		content_hash     TEXT,
		summary          TEXT,
		categories       TEXT,
		platform         VARCHAR(32),
		app_version      VARCHAR(64),
		level            INTEGER,
		intent           VARCHAR(64),
		one_liner        TEXT,
		severity_bucket  VARCHAR(16),
		severity_score   INTEGER,
		last_enriched_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS incident (
		id               SERIAL PRIMARY KEY,
		signature        TEXT NOT NULL DEFAULT '',
		status           VARCHAR(16) NOT NULL DEFAULT 'open',
		severity_bucket  VARCHAR(16) NOT NULL DEFAULT 'medium',
		severity_score   INTEGER NOT NULL DEFAULT 0,
		cluster_key      TEXT NOT NULL DEFAULT '',
		slack_channel_id TEXT,
		slack_thread_ts  TEXT,
		first_seen       TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_update      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS incident_open_cluster_uq
		ON incident (cluster_key)
		WHERE status IN ('open', 'ack', 'muted')`,
	`CREATE TABLE IF NOT EXISTS ticket_event (
		id              SERIAL PRIMARY KEY,
		conv_id         BIGINT NOT NULL,
		number          INTEGER,
		subject         TEXT,
		cluster_key     TEXT NOT NULL,
		severity_bucket VARCHAR(16) NOT NULL DEFAULT 'low',
		severity_score  INTEGER NOT NULL DEFAULT 0,
		z_score         DOUBLE PRECISION,
		cusum           DOUBLE PRECISION,
		impact          VARCHAR(16),
		intent          VARCHAR(64),
		categories      TEXT,
		tags            TEXT,
		platform        VARCHAR(32),
		app_version     VARCHAR(64),
		level           INTEGER,
		one_liner       TEXT,
		summary         TEXT,
		day_start       TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ticket_event_created_idx ON ticket_event (created_at)`,
	`CREATE INDEX IF NOT EXISTS ticket_event_cluster_idx ON ticket_event (cluster_key)`,
	`CREATE TABLE IF NOT EXISTS ticket_feedback (
		id              SERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL,
		ticket_number   BIGINT,
		action_type     TEXT NOT NULL,
		feedback_data   TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ticket_feedback_conv_idx ON ticket_feedback (conversation_id)`,
	`CREATE TABLE IF NOT EXISTS hs_oauth_token (
		id            SERIAL PRIMARY KEY,
		access_token  TEXT,
		refresh_token TEXT,
		expires_at    TIMESTAMPTZ
	)`,
}

// EnsureSchema creates all tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
