package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"release_notifier/internal/domain"
)

type FollowStore struct {
	db *sqlx.DB
}

func NewFollowStore(db *sqlx.DB) *FollowStore {
	return &FollowStore{db: db}
}

// ListByUser returns the artists a user follows in the order they were followed.
func (s *FollowStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.FollowedArtist, error) {
	query := `
		SELECT user_id, artist_id, artist_name, artist_image, created_at
		FROM followed_artists
		WHERE user_id = $1
		ORDER BY created_at ASC, artist_id ASC`

	artists := make([]domain.FollowedArtist, 0)
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &artists, query, userID); err != nil {
		return nil, fmt.Errorf("select followed artists: %w", err)
	}
	return artists, nil
}
