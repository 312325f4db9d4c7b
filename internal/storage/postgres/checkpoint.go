package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"release_notifier/internal/domain"
)

type CheckpointStore struct {
	db *sqlx.DB
}

func NewCheckpointStore(db *sqlx.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Load reads the checkpoint row of a job. Inside a transaction the row stays
// locked until commit, so concurrent invocations serialize on it.
func (s *CheckpointStore) Load(ctx context.Context, jobName string) (*domain.JobCheckpoint, error) {
	query := `
		SELECT job_name, last_processed_user_id, status, last_run_at,
			total_users_processed, total_notifications_created, error_message, updated_at
		FROM cron_state
		WHERE job_name = $1`
	if GetTxFromContext(ctx) != nil {
		query += ` FOR UPDATE`
	}

	var cp domain.JobCheckpoint
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &cp, query, jobName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *CheckpointStore) MarkRunning(ctx context.Context, jobName string, at time.Time) error {
	query := `
		UPDATE cron_state
		SET status = $2, last_run_at = $3, error_message = NULL, updated_at = $3
		WHERE job_name = $1`

	return s.exec(ctx, query, jobName, domain.JobStatusRunning, at)
}

// SaveProgress moves the cursor and adds the run's deltas to the lifetime
// counters in one statement. A nil cursor keeps the stored one.
func (s *CheckpointStore) SaveProgress(ctx context.Context, jobName string, p domain.Progress, at time.Time) error {
	query := `
		UPDATE cron_state
		SET last_processed_user_id = COALESCE($2, last_processed_user_id),
			status = $3,
			total_users_processed = total_users_processed + $4,
			total_notifications_created = total_notifications_created + $5,
			error_message = $6,
			updated_at = $7
		WHERE job_name = $1`

	var cursor uuid.NullUUID
	if p.LastProcessedUserID != nil {
		cursor = uuid.NullUUID{UUID: *p.LastProcessedUserID, Valid: true}
	}

	return s.exec(ctx, query, jobName, cursor, p.Status, p.UsersProcessed, p.NotificationsCreated, p.ErrorMessage, at)
}

// ResetCycle clears the cursor so the next page starts from the lowest user id.
func (s *CheckpointStore) ResetCycle(ctx context.Context, jobName string, at time.Time) error {
	query := `
		UPDATE cron_state
		SET last_processed_user_id = NULL, status = $2, updated_at = $3
		WHERE job_name = $1`

	return s.exec(ctx, query, jobName, domain.JobStatusCompleted, at)
}

func (s *CheckpointStore) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrCheckpointNotFound
	}
	return nil
}
