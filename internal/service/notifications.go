package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"release_notifier/internal/domain"
)

const (
	DefaultNotificationLimit = 50
	MaxNotificationLimit     = 100
)

type NotificationPage struct {
	Notifications []domain.Notification
	UnreadCount   int
}

// NotificationService serves a user's notification inbox.
type NotificationService struct {
	store  NotificationStore
	logger *slog.Logger
}

func NewNotificationService(store NotificationStore, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		store:  store,
		logger: logger.With("component", "notifications"),
	}
}

func (s *NotificationService) List(ctx context.Context, f domain.NotificationFilter) (*NotificationPage, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultNotificationLimit
	case f.Limit > MaxNotificationLimit:
		f.Limit = MaxNotificationLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	notifications, err := s.store.ListByUser(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	unread, err := s.store.CountUnread(ctx, f.UserID)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	return &NotificationPage{Notifications: notifications, UnreadCount: unread}, nil
}

// MarkRead marks one of the user's notifications as read and returns it with
// the remaining unread count. Notifications of other users are reported as
// not found.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) (*domain.Notification, int, error) {
	n, err := s.store.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return nil, 0, fmt.Errorf("mark read: %w", err)
	}

	unread, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("count unread: %w", err)
	}

	return n, unread, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	marked, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	s.logger.Debug("marked notifications read", "user_id", userID, "count", marked)
	return marked, nil
}
