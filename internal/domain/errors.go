package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrCheckpointNotFound   = errors.New("job checkpoint not found")
	ErrRunInProgress        = errors.New("job run already in progress")
	ErrCatalogAuth          = errors.New("catalog authentication failed")
	ErrRateLimited          = errors.New("catalog rate limit exceeded")
	ErrCatalogUnavailable   = errors.New("catalog temporarily unavailable")
	ErrNotificationNotFound = errors.New("notification not found")
)

// InternalError aborts a whole run. Stage names the step that failed.
type InternalError struct {
	Stage string
	Err   error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// ArtistFetchError is confined to one artist of one user.
type ArtistFetchError struct {
	ArtistID string
	Err      error
}

func (e *ArtistFetchError) Error() string {
	return fmt.Sprintf("artist %s: %v", e.ArtistID, e.Err)
}

func (e *ArtistFetchError) Unwrap() error {
	return e.Err
}

// UserProcessingError is confined to one user; the cursor still advances past it.
type UserProcessingError struct {
	UserID string
	Err    error
}

func (e *UserProcessingError) Error() string {
	return fmt.Sprintf("user %s: %v", e.UserID, e.Err)
}

func (e *UserProcessingError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned for HTTP 429. It matches ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
