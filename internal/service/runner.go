package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"release_notifier/internal/config"
	"release_notifier/internal/domain"
)

// Runner performs one bounded, resumable pass of the release check: it pages
// users past the stored cursor, looks up recent releases of every followed
// artist and creates a notification for each fresh one.
type Runner struct {
	users         UserStore
	follows       FollowStore
	notifications NotificationStore
	checkpoints   CheckpointStore
	catalog       Catalog
	txManager     TransactionManager
	publisher     Publisher
	recorder      RunRecorder
	logger        *slog.Logger
	config        config.JobConfig

	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
}

func NewRunner(
	users UserStore,
	follows FollowStore,
	notifications NotificationStore,
	checkpoints CheckpointStore,
	catalog Catalog,
	txManager TransactionManager,
	publisher Publisher,
	recorder RunRecorder,
	logger *slog.Logger,
	cfg config.JobConfig,
) *Runner {
	return &Runner{
		users:         users,
		follows:       follows,
		notifications: notifications,
		checkpoints:   checkpoints,
		catalog:       catalog,
		txManager:     txManager,
		publisher:     publisher,
		recorder:      recorder,
		logger:        logger.With("job", cfg.Name),
		config:        cfg,
		limiter:       rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		now:           time.Now,
		sleep:         sleepContext,
	}
}

// Run authenticates the caller and processes at most one batch of users
// within the configured execution budget. Reaching the budget is not an
// error: the summary reports how far the run got and the next invocation
// resumes from there.
func (r *Runner) Run(ctx context.Context, credential string) (*domain.RunSummary, error) {
	if !r.authorized(credential) {
		r.logger.Warn("rejected unauthorized invocation")
		r.observe(nil, domain.ErrUnauthorized)
		return nil, domain.ErrUnauthorized
	}

	start := r.now()
	deadline := start.Add(r.config.MaxExecutionTime)
	summary := &domain.RunSummary{JobName: r.config.Name}

	r.logger.Info("starting release check",
		"users_per_batch", r.config.UsersPerBatch,
		"max_execution_time", r.config.MaxExecutionTime,
	)

	checkpoint, err := r.claim(ctx, start)
	if err != nil {
		if !errors.Is(err, domain.ErrRunInProgress) {
			err = &domain.InternalError{Stage: "load checkpoint", Err: err}
		}
		r.logger.Error("failed to claim checkpoint", "error", err)
		r.observe(nil, err)
		return nil, err
	}

	cursor := checkpoint.Cursor()
	users, err := r.users.ListNotifiable(ctx, cursor, r.config.UsersPerBatch)
	if err != nil {
		return nil, r.fail(ctx, "list users", err)
	}

	if len(users) == 0 {
		if err := r.checkpoints.ResetCycle(context.WithoutCancel(ctx), r.config.Name, r.now()); err != nil {
			return nil, r.fail(ctx, "reset cycle", err)
		}
		summary.CycleCompleted = true
		summary.Duration = r.now().Sub(start)

		r.logger.Info("cycle completed, cursor reset", "duration", summary.Duration)
		r.observe(summary, nil)
		return summary, nil
	}

	// The catalog caches the token, so every artist lookup below reuses it.
	if _, err := r.catalog.Token(ctx); err != nil {
		return nil, r.fail(ctx, "acquire catalog token", err)
	}

	for _, user := range users {
		if r.expired(ctx, deadline) {
			summary.DeadlineReached = true
			break
		}

		result := r.processUser(ctx, user, deadline)
		summary.Users = append(summary.Users, result)
		summary.NotificationsCreated += result.NotificationsCreated
		for _, a := range result.Artists {
			summary.ArtistsChecked++
			summary.PublishErrors += a.PublishErrors
			if a.Err != nil && !errors.Is(a.Err, domain.ErrCatalogUnavailable) {
				summary.ArtistFailures++
			}
		}

		// The cursor stays before a deferred user so the next run retries it.
		if result.Deferred {
			summary.CatalogUnavailable = true
			break
		}
		if result.Err != nil {
			summary.UserFailures++
		}

		// An interrupted user still moves the cursor. Its remaining artists
		// wait for the next sweep.
		id := user.ID
		cursor = &id
		summary.UsersProcessed++

		if result.Interrupted {
			summary.DeadlineReached = true
			break
		}
	}

	if summary.DeadlineReached {
		r.logger.Warn("execution budget reached, stopping early",
			"users_processed", summary.UsersProcessed,
			"batch_size", len(users),
		)
	}
	if summary.CatalogUnavailable {
		r.logger.Warn("catalog unavailable, stopping early",
			"users_processed", summary.UsersProcessed,
			"batch_size", len(users),
		)
	}

	progress := domain.Progress{
		LastProcessedUserID:  cursor,
		UsersProcessed:       int64(summary.UsersProcessed),
		NotificationsCreated: int64(summary.NotificationsCreated),
		Status:               domain.JobStatusIdle,
	}
	if err := r.checkpoints.SaveProgress(context.WithoutCancel(ctx), r.config.Name, progress, r.now()); err != nil {
		err = &domain.InternalError{Stage: "save checkpoint", Err: err}
		r.logger.Error("failed to save checkpoint", "error", err)
		r.observe(summary, err)
		return nil, err
	}

	summary.NextCheckpoint = cursor
	summary.Duration = r.now().Sub(start)

	r.logger.Info("release check completed",
		"users_processed", summary.UsersProcessed,
		"notifications_created", summary.NotificationsCreated,
		"artists_checked", summary.ArtistsChecked,
		"artist_failures", summary.ArtistFailures,
		"user_failures", summary.UserFailures,
		"next_checkpoint", cursor,
		"duration", summary.Duration,
	)

	r.observe(summary, nil)
	return summary, nil
}

func (r *Runner) authorized(credential string) bool {
	secret := r.config.CronSecret
	if secret == "" || credential == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(credential), []byte(secret)) == 1
}

// claim loads the checkpoint and marks it running in one transaction. With
// the overlap guard on, a run that started less than StaleAfter ago and never
// finished keeps the job.
func (r *Runner) claim(ctx context.Context, now time.Time) (*domain.JobCheckpoint, error) {
	var checkpoint *domain.JobCheckpoint

	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		cp, err := r.checkpoints.Load(txCtx, r.config.Name)
		if err != nil {
			return err
		}

		if r.config.OverlapGuardEnabled() && cp.RunningSince(now.Add(-r.config.StaleAfter)) {
			return domain.ErrRunInProgress
		}

		if err := r.checkpoints.MarkRunning(txCtx, r.config.Name, now); err != nil {
			return err
		}

		checkpoint = cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// fail records an aborted run on the checkpoint without moving the cursor.
func (r *Runner) fail(ctx context.Context, stage string, err error) error {
	runErr := &domain.InternalError{Stage: stage, Err: err}
	r.logger.Error("release check failed", "stage", stage, "error", err)

	msg := runErr.Error()
	progress := domain.Progress{Status: domain.JobStatusError, ErrorMessage: &msg}
	if saveErr := r.checkpoints.SaveProgress(context.WithoutCancel(ctx), r.config.Name, progress, r.now()); saveErr != nil {
		r.logger.Error("failed to record error on checkpoint", "error", saveErr)
	}

	r.observe(nil, runErr)
	return runErr
}

func (r *Runner) expired(ctx context.Context, deadline time.Time) bool {
	return ctx.Err() != nil || !r.now().Before(deadline)
}

func (r *Runner) processUser(ctx context.Context, user domain.User, deadline time.Time) domain.UserResult {
	result := domain.UserResult{UserID: user.ID}
	logger := r.logger.With("user_id", user.ID)

	artists, err := r.follows.ListByUser(ctx, user.ID)
	if err != nil {
		result.Err = &domain.UserProcessingError{UserID: user.ID.String(), Err: err}
		logger.Error("failed to process user", "error", err)
		return result
	}

	if len(artists) == 0 {
		logger.Debug("user follows no artists")
		return result
	}

	for _, artist := range artists {
		if r.expired(ctx, deadline) {
			result.Interrupted = true
			logger.Debug("user interrupted by execution budget", "artists_checked", len(result.Artists))
			return result
		}

		ar := r.processArtist(ctx, user.ID, artist, logger)
		result.Artists = append(result.Artists, ar)
		result.NotificationsCreated += ar.NotificationsCreated

		if errors.Is(ar.Err, domain.ErrCatalogUnavailable) {
			result.Deferred = true
			return result
		}
	}

	return result
}

func (r *Runner) processArtist(ctx context.Context, userID uuid.UUID, artist domain.FollowedArtist, logger *slog.Logger) domain.ArtistResult {
	result := domain.ArtistResult{ArtistID: artist.ArtistID}
	logger = logger.With("artist_id", artist.ArtistID)

	if err := r.limiter.Wait(ctx); err != nil {
		result.Err = &domain.ArtistFetchError{ArtistID: artist.ArtistID, Err: err}
		return result
	}

	releases, err := r.catalog.RecentReleases(ctx, artist.ArtistID, r.config.ReleasesPerCheck)
	if err != nil {
		var fetchErr *domain.ArtistFetchError
		if !errors.As(err, &fetchErr) {
			err = &domain.ArtistFetchError{ArtistID: artist.ArtistID, Err: err}
		}
		result.Err = err

		if errors.Is(err, domain.ErrCatalogUnavailable) {
			logger.Warn("catalog unavailable, deferring user", "error", err)
			return result
		}

		if errors.Is(err, domain.ErrRateLimited) {
			wait := r.rateLimitWait(err)
			logger.Warn("catalog rate limited, backing off", "wait", wait)
			r.sleep(ctx, wait)
			return result
		}

		logger.Warn("failed to fetch releases", "error", err)
		return result
	}

	result.ReleasesFetched = len(releases)
	now := r.now()

	for _, release := range releases {
		if !release.ReleasedWithin(now, r.config.ReleaseWindow) {
			continue
		}
		result.FreshReleases++

		n := domain.NewReleaseNotification(userID, artist, release, now)
		created, err := r.createNotification(ctx, n)
		if err != nil {
			result.Err = &domain.ArtistFetchError{
				ArtistID: artist.ArtistID,
				Err:      fmt.Errorf("create notification for release %s: %w", release.ID, err),
			}
			logger.Error("failed to create notification", "release_id", release.ID, "error", err)
			return result
		}
		if !created {
			result.Duplicates++
			continue
		}

		result.NotificationsCreated++
		logger.Info("notification created", "release_id", release.ID, "release_name", release.Name)

		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, n); err != nil {
				result.PublishErrors++
				logger.Warn("failed to publish notification", "notification_id", n.ID, "error", err)
			}
		}
	}

	return result
}

// createNotification probes for an existing row before inserting; the insert
// itself still tolerates a concurrent duplicate.
func (r *Runner) createNotification(ctx context.Context, n *domain.Notification) (bool, error) {
	exists, err := r.notifications.Exists(ctx, n.UserID, n.ReleaseID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return r.notifications.Create(ctx, n)
}

// rateLimitWait honours Retry-After up to RateLimitBackoff.
func (r *Runner) rateLimitWait(err error) time.Duration {
	wait := r.config.RateLimitBackoff

	var rl *domain.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 && rl.RetryAfter < wait {
		wait = rl.RetryAfter
	}
	return wait
}

func (r *Runner) observe(summary *domain.RunSummary, err error) {
	if r.recorder != nil {
		r.recorder.ObserveRun(summary, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
