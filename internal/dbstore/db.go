// Package dbstore is the Postgres-backed persistence layer for BridgePair,
// MessageMap, and the durable job queues, using a connection-pool-plus-
// AutoMigrate pattern.
package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps a *sql.DB configured for the pgx stdlib driver.
type DB struct {
	Conn *sql.DB
}

// Open connects to dsn and verifies connectivity within 5s.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbstore: open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("dbstore: ping: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &DB{Conn: conn}, nil
}

// AutoMigrate creates every table janus-bridge needs if it does not already exist.
func (d *DB) AutoMigrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bridge_pairs (
			id               UUID PRIMARY KEY,
			a_channel_id     VARCHAR(64) NOT NULL,
			a_guild_id       VARCHAR(64) NOT NULL DEFAULT '',
			b_channel_id     VARCHAR(64) NOT NULL,
			b_guild_id       VARCHAR(64) NOT NULL DEFAULT '',
			a_webhook_id     VARCHAR(64),
			a_webhook_token  VARCHAR(255),
			b_webhook_id     VARCHAR(64),
			b_webhook_token  VARCHAR(255),
			is_active        BOOLEAN NOT NULL DEFAULT TRUE,
			sync_uploads     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (a_channel_id, b_channel_id)
		)`,
		`CREATE TABLE IF NOT EXISTS message_maps (
			pair_id          UUID NOT NULL,
			source_platform  VARCHAR(1) NOT NULL,
			source_msg_id    VARCHAR(64) NOT NULL,
			dest_platform    VARCHAR(1) NOT NULL,
			dest_msg_id      VARCHAR(64) NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (pair_id, source_platform, source_msg_id)
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id               UUID PRIMARY KEY,
			queue_name       VARCHAR(128) NOT NULL,
			payload          JSONB NOT NULL,
			status           VARCHAR(16) NOT NULL DEFAULT 'pending',
			attempts         INT NOT NULL DEFAULT 0,
			max_attempts     INT NOT NULL,
			run_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_queue_status_runat ON jobs (queue_name, status, run_at)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dbstore: migrate: %w", err)
		}
	}
	return nil
}

func (d *DB) Close() error { return d.Conn.Close() }
