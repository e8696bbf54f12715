package dbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/janus-bridge/janus/internal/bridgeerr"
)

// BridgePair is the persisted link between one channel on Platform A and
// one on Platform B.
type BridgePair struct {
	ID string

	AChannelID string
	AGuildID   string
	BChannelID string
	BGuildID   string

	AWebhookID    string // empty means absent
	AWebhookToken string `json:"-"`
	BWebhookID    string
	BWebhookToken string `json:"-"`

	IsActive    bool
	SyncUploads bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAWebhook reports whether a usable Platform A webhook credential is stored.
func (b BridgePair) HasAWebhook() bool { return b.AWebhookID != "" }

// HasBWebhook reports whether a usable Platform B webhook credential is stored.
func (b BridgePair) HasBWebhook() bool { return b.BWebhookID != "" }

// BridgeRepository is the persistence contract for BridgePair, satisfied by
// PostgresBridgeRepository and by fakes in package-level tests.
type BridgeRepository interface {
	Create(ctx context.Context, bp BridgePair) (BridgePair, error)
	Get(ctx context.Context, id string) (BridgePair, error)
	FindByChannels(ctx context.Context, aChannelID, bChannelID string) (BridgePair, bool, error)
	// FindActiveBySourceChannel returns every active bridge whose A or B
	// channel equals channelID, matching regardless of which side the
	// event originated on.
	FindActiveBySourceChannel(ctx context.Context, channelID string) ([]BridgePair, error)
	ListAll(ctx context.Context) ([]BridgePair, error)
	ListMissingCredentials(ctx context.Context) ([]BridgePair, error)
	UpdateAWebhook(ctx context.Context, id, webhookID, token string) error
	UpdateBWebhook(ctx context.Context, id, webhookID, token string) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// PostgresBridgeRepository implements BridgeRepository against Postgres.
type PostgresBridgeRepository struct {
	db *sql.DB
}

func NewBridgeRepository(db *DB) *PostgresBridgeRepository {
	return &PostgresBridgeRepository{db: db.Conn}
}

const bridgeColumns = `id, a_channel_id, a_guild_id, b_channel_id, b_guild_id,
	COALESCE(a_webhook_id, ''), COALESCE(a_webhook_token, ''),
	COALESCE(b_webhook_id, ''), COALESCE(b_webhook_token, ''),
	is_active, sync_uploads, created_at, updated_at`

func scanBridgePair(row interface{ Scan(...any) error }) (BridgePair, error) {
	var bp BridgePair
	err := row.Scan(&bp.ID, &bp.AChannelID, &bp.AGuildID, &bp.BChannelID, &bp.BGuildID,
		&bp.AWebhookID, &bp.AWebhookToken, &bp.BWebhookID, &bp.BWebhookToken,
		&bp.IsActive, &bp.SyncUploads, &bp.CreatedAt, &bp.UpdatedAt)
	return bp, err
}

func (r *PostgresBridgeRepository) Create(ctx context.Context, bp BridgePair) (BridgePair, error) {
	query := `INSERT INTO bridge_pairs (id, a_channel_id, a_guild_id, b_channel_id, b_guild_id,
			a_webhook_id, a_webhook_token, b_webhook_id, b_webhook_token, is_active, sync_uploads)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), NULLIF($9,''), $10, $11)
		RETURNING ` + bridgeColumns
	row := r.db.QueryRowContext(ctx, query, bp.ID, bp.AChannelID, bp.AGuildID, bp.BChannelID, bp.BGuildID,
		bp.AWebhookID, bp.AWebhookToken, bp.BWebhookID, bp.BWebhookToken, bp.IsActive, bp.SyncUploads)
	created, err := scanBridgePair(row)
	if isUniqueViolation(err) {
		return BridgePair{}, bridgeerr.ErrDuplicateBridge
	}
	if err != nil {
		return BridgePair{}, fmt.Errorf("dbstore: create bridge pair: %w", err)
	}
	return created, nil
}

func (r *PostgresBridgeRepository) Get(ctx context.Context, id string) (BridgePair, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bridgeColumns+` FROM bridge_pairs WHERE id = $1`, id)
	bp, err := scanBridgePair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BridgePair{}, bridgeerr.ErrBridgeMissing
	}
	if err != nil {
		return BridgePair{}, fmt.Errorf("dbstore: get bridge pair: %w", err)
	}
	return bp, nil
}

func (r *PostgresBridgeRepository) FindByChannels(ctx context.Context, aChannelID, bChannelID string) (BridgePair, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bridgeColumns+` FROM bridge_pairs WHERE a_channel_id = $1 AND b_channel_id = $2`, aChannelID, bChannelID)
	bp, err := scanBridgePair(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BridgePair{}, false, nil
	}
	if err != nil {
		return BridgePair{}, false, fmt.Errorf("dbstore: find bridge pair: %w", err)
	}
	return bp, true, nil
}

func (r *PostgresBridgeRepository) FindActiveBySourceChannel(ctx context.Context, channelID string) ([]BridgePair, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bridgeColumns+` FROM bridge_pairs
		WHERE is_active = TRUE AND (a_channel_id = $1 OR b_channel_id = $1)`, channelID)
	if err != nil {
		return nil, fmt.Errorf("dbstore: find active bridges: %w", err)
	}
	defer rows.Close()
	return scanBridgeRows(rows)
}

func (r *PostgresBridgeRepository) ListAll(ctx context.Context) ([]BridgePair, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bridgeColumns+` FROM bridge_pairs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("dbstore: list bridges: %w", err)
	}
	defer rows.Close()
	return scanBridgeRows(rows)
}

func (r *PostgresBridgeRepository) ListMissingCredentials(ctx context.Context) ([]BridgePair, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bridgeColumns+` FROM bridge_pairs
		WHERE a_webhook_id IS NULL OR b_webhook_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("dbstore: list bridges missing credentials: %w", err)
	}
	defer rows.Close()
	return scanBridgeRows(rows)
}

func scanBridgeRows(rows *sql.Rows) ([]BridgePair, error) {
	var out []BridgePair
	for rows.Next() {
		bp, err := scanBridgePair(rows)
		if err != nil {
			return nil, fmt.Errorf("dbstore: scan bridge pair: %w", err)
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

func (r *PostgresBridgeRepository) UpdateAWebhook(ctx context.Context, id, webhookID, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bridge_pairs SET a_webhook_id = $2, a_webhook_token = $3, updated_at = now() WHERE id = $1`, id, webhookID, token)
	return err
}

func (r *PostgresBridgeRepository) UpdateBWebhook(ctx context.Context, id, webhookID, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bridge_pairs SET b_webhook_id = $2, b_webhook_token = $3, updated_at = now() WHERE id = $1`, id, webhookID, token)
	return err
}

func (r *PostgresBridgeRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bridge_pairs SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (r *PostgresBridgeRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bridge_pairs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return bridgeerr.ErrBridgeMissing
	}
	return nil
}

// isUniqueViolation matches the Postgres unique_violation SQLSTATE (23505)
// via containsSQLState, which inspects a wrapped *pgconn.PgError; any other
// error type reports false.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return containsSQLState(err, "23505")
}
