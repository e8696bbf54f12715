package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store over the "jobs" table created by
// dbstore.DB.AutoMigrate. Job claiming uses SELECT ... FOR UPDATE SKIP
// LOCKED so multiple workers can safely Dequeue from the same queue name
// concurrently.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Enqueue(ctx context.Context, queueName string, payload json.RawMessage, maxAttempts int) (string, error) {
	return s.EnqueueAt(ctx, queueName, payload, maxAttempts, time.Time{})
}

func (s *PostgresStore) EnqueueAt(ctx context.Context, queueName string, payload json.RawMessage, maxAttempts int, runAt time.Time) (string, error) {
	id := uuid.New().String()
	if runAt.IsZero() {
		runAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (id, queue_name, payload, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5)`, id, queueName, []byte(payload), maxAttempts, runAt)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT id, queue_name, payload, status, attempts, max_attempts, run_at, created_at, updated_at
		FROM jobs
		WHERE queue_name = $1 AND status = $2 AND run_at <= now()
		ORDER BY run_at ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, queueName, StatusPending)

	var j Job
	err = row.Scan(&j.ID, &j.QueueName, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.RunAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue scan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`, j.ID, StatusInProgress); err != nil {
		return nil, fmt.Errorf("queue: dequeue claim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue: dequeue commit: %w", err)
	}
	j.Status = StatusInProgress
	return &j, nil
}

func (s *PostgresStore) Complete(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`, jobID, StatusCompleted)
	if err != nil {
		return fmt.Errorf("queue: complete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, jobID string, backoff time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET
			attempts = attempts + 1,
			status = CASE WHEN attempts + 1 >= max_attempts THEN $2 ELSE $3 END,
			run_at = now() + $4::interval,
			updated_at = now()
		WHERE id = $1`, jobID, StatusFailed, StatusPending, backoff.String())
	if err != nil {
		return fmt.Errorf("queue: fail: %w", err)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, jobID string, delay time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = $2, run_at = now() + $3::interval, updated_at = now() WHERE id = $1`,
		jobID, StatusPending, delay.String())
	if err != nil {
		return fmt.Errorf("queue: reschedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Prune(ctx context.Context, queueName string, policy RetentionPolicy) error {
	if policy.KeepCompleted > 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id IN (
				SELECT id FROM jobs WHERE queue_name = $1 AND status = $2
				ORDER BY updated_at DESC OFFSET $3
			)`, queueName, StatusCompleted, policy.KeepCompleted); err != nil {
			return fmt.Errorf("queue: prune completed: %w", err)
		}
	}
	if policy.KeepFailed > 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id IN (
				SELECT id FROM jobs WHERE queue_name = $1 AND status = $2
				ORDER BY updated_at DESC OFFSET $3
			)`, queueName, StatusFailed, policy.KeepFailed); err != nil {
			return fmt.Errorf("queue: prune failed: %w", err)
		}
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
