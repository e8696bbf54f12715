package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/janus-bridge/janus/internal/bridgeerr"
	"github.com/janus-bridge/janus/internal/canonical"
)

// MessageMap is the persistent (pairId, sourcePlatform, sourceMsgId) ->
// (destPlatform, destMsgId) association.
type MessageMap struct {
	PairID         string
	SourcePlatform canonical.Platform
	SourceMsgID    string
	DestPlatform   canonical.Platform
	DestMsgID      string
	CreatedAt      time.Time
}

// MessageMapRepository is the persistence contract for MessageMap.
type MessageMapRepository interface {
	Create(ctx context.Context, m MessageMap) error
	Find(ctx context.Context, pairID string, sourcePlatform canonical.Platform, sourceMsgID string) (MessageMap, bool, error)
	Delete(ctx context.Context, pairID string, sourcePlatform canonical.Platform, sourceMsgID string) error
}

// PostgresMessageMapRepository implements MessageMapRepository against Postgres.
type PostgresMessageMapRepository struct {
	db *sql.DB
}

func NewMessageMapRepository(db *DB) *PostgresMessageMapRepository {
	return &PostgresMessageMapRepository{db: db.Conn}
}

func (r *PostgresMessageMapRepository) Create(ctx context.Context, m MessageMap) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_maps
		(pair_id, source_platform, source_msg_id, dest_platform, dest_msg_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair_id, source_platform, source_msg_id) DO UPDATE SET dest_platform = EXCLUDED.dest_platform, dest_msg_id = EXCLUDED.dest_msg_id`,
		m.PairID, string(m.SourcePlatform), m.SourceMsgID, string(m.DestPlatform), m.DestMsgID)
	if err != nil {
		return fmt.Errorf("dbstore: create message map: %w", err)
	}
	return nil
}

func (r *PostgresMessageMapRepository) Find(ctx context.Context, pairID string, sourcePlatform canonical.Platform, sourceMsgID string) (MessageMap, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT pair_id, source_platform, source_msg_id, dest_platform, dest_msg_id, created_at
		FROM message_maps WHERE pair_id = $1 AND source_platform = $2 AND source_msg_id = $3`,
		pairID, string(sourcePlatform), sourceMsgID)
	var m MessageMap
	var sp, dp string
	err := row.Scan(&m.PairID, &sp, &m.SourceMsgID, &dp, &m.DestMsgID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageMap{}, false, nil
	}
	if err != nil {
		return MessageMap{}, false, fmt.Errorf("dbstore: find message map: %w", err)
	}
	m.SourcePlatform, m.DestPlatform = canonical.Platform(sp), canonical.Platform(dp)
	return m, true, nil
}

func (r *PostgresMessageMapRepository) Delete(ctx context.Context, pairID string, sourcePlatform canonical.Platform, sourceMsgID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM message_maps WHERE pair_id = $1 AND source_platform = $2 AND source_msg_id = $3`,
		pairID, string(sourcePlatform), sourceMsgID)
	if err != nil {
		return fmt.Errorf("dbstore: delete message map: %w", err)
	}
	return nil
}

// ErrNoMapping re-exports bridgeerr.ErrNoMapping so callers only import dbstore
// when they already depend on it for the repository interfaces.
var ErrNoMapping = bridgeerr.ErrNoMapping
