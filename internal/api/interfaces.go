package api

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/google/uuid"

	"release_notifier/internal/domain"
	"release_notifier/internal/service"
)

type Runner interface {
	Run(ctx context.Context, credential string) (*domain.RunSummary, error)
}

type NotificationService interface {
	List(ctx context.Context, f domain.NotificationFilter) (*service.NotificationPage, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*domain.Notification, int, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type FeedService interface {
	ForUser(ctx context.Context, userID uuid.UUID) ([]domain.FeedRelease, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}
