package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const NotificationTypeNewRelease NotificationType = "new_release"

// Notification is unique per (UserID, ReleaseID).
type Notification struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	UserID       uuid.UUID        `db:"user_id" json:"user_id"`
	Type         NotificationType `db:"type" json:"type"`
	Title        string           `db:"title" json:"title"`
	Message      string           `db:"message" json:"message"`
	Link         *string          `db:"link" json:"link"`
	ArtistID     string           `db:"artist_id" json:"artist_id"`
	ArtistName   string           `db:"artist_name" json:"artist_name"`
	ArtistImage  *string          `db:"artist_image" json:"artist_image"`
	ReleaseID    string           `db:"release_id" json:"release_id"`
	ReleaseName  string           `db:"release_name" json:"release_name"`
	ReleaseImage *string          `db:"release_image" json:"release_image"`
	Read         bool             `db:"read" json:"read"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}

// NewReleaseNotification builds the notification row for a release of a
// followed artist. ID and CreatedAt are assigned here so the row can be
// published as-is once inserted.
func NewReleaseNotification(userID uuid.UUID, artist FollowedArtist, release Release, now time.Time) *Notification {
	return &Notification{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         NotificationTypeNewRelease,
		Title:        "New release: " + release.Name,
		Message:      artist.ArtistName + ` released "` + release.Name + `"`,
		Link:         release.URL,
		ArtistID:     artist.ArtistID,
		ArtistName:   artist.ArtistName,
		ArtistImage:  artist.ArtistImage,
		ReleaseID:    release.ID,
		ReleaseName:  release.Name,
		ReleaseImage: release.ImageURL,
		CreatedAt:    now.UTC(),
	}
}

// NotificationFilter selects a page of a user's notifications, newest first.
type NotificationFilter struct {
	UserID     uuid.UUID
	Limit      int
	Offset     int
	UnreadOnly bool
}
