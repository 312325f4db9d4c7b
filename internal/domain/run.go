package domain

import (
	"time"

	"github.com/google/uuid"
)

// ArtistResult is the outcome of checking one followed artist.
type ArtistResult struct {
	ArtistID             string
	ReleasesFetched      int
	FreshReleases        int
	NotificationsCreated int
	Duplicates           int
	PublishErrors        int
	Err                  error
}

// UserResult is the outcome of processing one user. An Interrupted user was
// cut short by the deadline and still moves the cursor. A Deferred user hit an
// unavailable catalog and is picked up again by the next run.
type UserResult struct {
	UserID               uuid.UUID
	Artists              []ArtistResult
	NotificationsCreated int
	Interrupted          bool
	Deferred             bool
	Err                  error
}

// Failed reports whether the user or any of its artists recorded an error.
func (r *UserResult) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, a := range r.Artists {
		if a.Err != nil {
			return true
		}
	}
	return false
}

// RunSummary holds statistics about one invocation of the release check.
type RunSummary struct {
	JobName              string
	UsersProcessed       int
	NotificationsCreated int
	ArtistsChecked       int
	ArtistFailures       int
	UserFailures         int
	PublishErrors        int
	CycleCompleted       bool
	DeadlineReached      bool
	CatalogUnavailable   bool
	NextCheckpoint       *uuid.UUID
	Duration             time.Duration
	Users                []UserResult
}
