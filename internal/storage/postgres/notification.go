package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"release_notifier/internal/domain"
)

const notificationColumns = `id, user_id, type, title, message, link, artist_id, artist_name,
	artist_image, release_id, release_name, release_image, read, created_at`

type NotificationStore struct {
	db *sqlx.DB
}

func NewNotificationStore(db *sqlx.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) Exists(ctx context.Context, userID uuid.UUID, releaseID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists,
		"SELECT EXISTS (SELECT 1 FROM notifications WHERE user_id = $1 AND release_id = $2)",
		userID, releaseID,
	)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}

// Create inserts the notification unless one already exists for the same
// user and release. created is false when the row was already there.
func (s *NotificationStore) Create(ctx context.Context, n *domain.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, release_id) DO NOTHING
		RETURNING id`

	var id uuid.UUID
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.Link,
		n.ArtistID,
		n.ArtistName,
		n.ArtistImage,
		n.ReleaseID,
		n.ReleaseName,
		n.ReleaseImage,
		n.Read,
		n.CreatedAt,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

func (s *NotificationStore) ListByUser(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if f.UnreadOnly {
		query += ` AND read = false`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`

	notifications := make([]domain.Notification, 0)
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &notifications, query, f.UserID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	return notifications, nil
}

func (s *NotificationStore) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count,
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = false",
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead only touches a notification owned by userID and returns it as updated.
func (s *NotificationStore) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*domain.Notification, error) {
	query := `
		UPDATE notifications SET read = true
		WHERE id = $1 AND user_id = $2
		RETURNING ` + notificationColumns

	var n domain.Notification
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &n, query, notificationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return &n, nil
}

func (s *NotificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"UPDATE notifications SET read = true WHERE user_id = $1 AND read = false",
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.RowsAffected()
}
