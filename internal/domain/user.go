package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                  uuid.UUID `db:"id"`
	Nickname            string    `db:"nickname"`
	NotificationEnabled bool      `db:"notification_enabled"`
}

// FollowedArtist is one row of the user -> artist follow relationship.
type FollowedArtist struct {
	UserID      uuid.UUID `db:"user_id"`
	ArtistID    string    `db:"artist_id"`
	ArtistName  string    `db:"artist_name"`
	ArtistImage *string   `db:"artist_image"`
	CreatedAt   time.Time `db:"created_at"`
}
