package scheduler

import (
	"context"
	"log/slog"
	"time"

	"release_notifier/internal/domain"
)

// Checker runs one release check pass.
type Checker interface {
	Run(ctx context.Context, credential string) (*domain.RunSummary, error)
}

// Scheduler invokes the checker on a fixed interval, the way an external cron
// would, for deployments without one.
type Scheduler struct {
	checker  Checker
	secret   string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewScheduler(checker Checker, secret string, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		checker:  checker,
		secret:   secret,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runCheck(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runCheck(ctx)
		}
	}
}

func (s *Scheduler) runCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := s.checker.Run(checkCtx, s.secret)
	if err != nil {
		s.logger.Error("release check failed", "error", err)
		return
	}

	s.logger.Debug("release check finished",
		"users_processed", summary.UsersProcessed,
		"notifications_created", summary.NotificationsCreated,
		"cycle_completed", summary.CycleCompleted,
	)
}
