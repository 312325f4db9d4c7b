package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// JobCheckpoint is the single durable progress row of a named job.
type JobCheckpoint struct {
	JobName                   string        `db:"job_name"`
	LastProcessedUserID       uuid.NullUUID `db:"last_processed_user_id"`
	Status                    JobStatus     `db:"status"`
	LastRunAt                 *time.Time    `db:"last_run_at"`
	TotalUsersProcessed       int64         `db:"total_users_processed"`
	TotalNotificationsCreated int64         `db:"total_notifications_created"`
	ErrorMessage              *string       `db:"error_message"`
	UpdatedAt                 time.Time     `db:"updated_at"`
}

// Cursor returns the last processed user id, or nil at the start of a sweep.
func (c *JobCheckpoint) Cursor() *uuid.UUID {
	if !c.LastProcessedUserID.Valid {
		return nil
	}
	id := c.LastProcessedUserID.UUID
	return &id
}

// RunningSince reports whether another invocation claimed the job after
// staleBefore and has not finished yet.
func (c *JobCheckpoint) RunningSince(staleBefore time.Time) bool {
	return c.Status == JobStatusRunning && c.LastRunAt != nil && c.LastRunAt.After(staleBefore)
}

// Progress is what one invocation adds to the checkpoint.
type Progress struct {
	LastProcessedUserID  *uuid.UUID
	UsersProcessed       int64
	NotificationsCreated int64
	Status               JobStatus
	ErrorMessage         *string
}
