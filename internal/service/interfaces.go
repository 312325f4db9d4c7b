package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"release_notifier/internal/domain"
)

type UserStore interface {
	ListNotifiable(ctx context.Context, after *uuid.UUID, limit int) ([]domain.User, error)
}

type FollowStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.FollowedArtist, error)
}

type NotificationStore interface {
	Exists(ctx context.Context, userID uuid.UUID, releaseID string) (bool, error)
	Create(ctx context.Context, n *domain.Notification) (bool, error)
	ListByUser(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type CheckpointStore interface {
	Load(ctx context.Context, jobName string) (*domain.JobCheckpoint, error)
	MarkRunning(ctx context.Context, jobName string, at time.Time) error
	SaveProgress(ctx context.Context, jobName string, p domain.Progress, at time.Time) error
	ResetCycle(ctx context.Context, jobName string, at time.Time) error
}

type Catalog interface {
	Token(ctx context.Context) (string, error)
	RecentReleases(ctx context.Context, artistID string, limit int) ([]domain.Release, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, n *domain.Notification) error
}

type RunRecorder interface {
	ObserveRun(summary *domain.RunSummary, err error)
}
