package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"release_notifier/internal/domain"
)

type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// ListNotifiable returns up to limit users with notifications enabled whose id
// sorts after the cursor, in ascending id order. A nil cursor starts from the
// lowest id.
func (s *UserStore) ListNotifiable(ctx context.Context, after *uuid.UUID, limit int) ([]domain.User, error) {
	query := `
		SELECT id, nickname, notification_enabled
		FROM profiles
		WHERE notification_enabled = true
			AND ($1::uuid IS NULL OR id > $1::uuid)
		ORDER BY id ASC
		LIMIT $2`

	var cursor uuid.NullUUID
	if after != nil {
		cursor = uuid.NullUUID{UUID: *after, Valid: true}
	}

	users := make([]domain.User, 0, limit)
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &users, query, cursor, limit); err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	return users, nil
}
