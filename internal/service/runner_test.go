package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"release_notifier/internal/config"
	"release_notifier/internal/domain"
	"release_notifier/internal/service/mocks"
	"release_notifier/testdata/utils"
)

const (
	jobName = "check-new-releases"
	secret  = "cron-secret"
)

var (
	user1 = domain.User{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Nickname: "one", NotificationEnabled: true}
	user2 = domain.User{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Nickname: "two", NotificationEnabled: true}
	user3 = domain.User{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), Nickname: "three", NotificationEnabled: true}
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type RunnerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	users         *mocks.MockUserStore
	follows       *mocks.MockFollowStore
	notifications *mocks.MockNotificationStore
	checkpoints   *mocks.MockCheckpointStore
	catalog       *mocks.MockCatalog
	txManager     *mocks.MockTransactionManager
	publisher     *mocks.MockPublisher
	recorder      *mocks.MockRunRecorder

	runner *Runner
	cfg    config.JobConfig
	clock  *fakeClock
	sleeps []time.Duration
	logger *slog.Logger
}

func (s *RunnerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.users = mocks.NewMockUserStore(s.ctrl)
	s.follows = mocks.NewMockFollowStore(s.ctrl)
	s.notifications = mocks.NewMockNotificationStore(s.ctrl)
	s.checkpoints = mocks.NewMockCheckpointStore(s.ctrl)
	s.catalog = mocks.NewMockCatalog(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.recorder = mocks.NewMockRunRecorder(s.ctrl)

	s.cfg = config.JobConfig{
		Name:             jobName,
		CronSecret:       secret,
		UsersPerBatch:    30,
		MaxExecutionTime: 45 * time.Second,
		ReleaseWindow:    6 * time.Hour,
		RequestDelay:     0,
		RateLimitBackoff: time.Second,
		ReleasesPerCheck: 10,
		StaleAfter:       90 * time.Second,
	}

	s.clock = &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.sleeps = nil
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.recorder.EXPECT().ObserveRun(gomock.Any(), gomock.Any()).AnyTimes()

	s.runner = s.newRunner(s.publisher)
}

func (s *RunnerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func (s *RunnerTestSuite) newRunner(publisher Publisher) *Runner {
	r := NewRunner(
		s.users,
		s.follows,
		s.notifications,
		s.checkpoints,
		s.catalog,
		s.txManager,
		publisher,
		s.recorder,
		s.logger,
		s.cfg,
	)
	r.now = s.clock.Now
	r.sleep = func(_ context.Context, d time.Duration) {
		s.sleeps = append(s.sleeps, d)
	}
	return r
}

func (s *RunnerTestSuite) checkpoint(cursor *uuid.UUID) *domain.JobCheckpoint {
	cp := &domain.JobCheckpoint{JobName: jobName, Status: domain.JobStatusIdle}
	if cursor != nil {
		cp.LastProcessedUserID = uuid.NullUUID{UUID: *cursor, Valid: true}
	}
	return cp
}

func (s *RunnerTestSuite) expectClaim(cp *domain.JobCheckpoint) {
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.checkpoints.EXPECT().Load(gomock.Any(), jobName).Return(cp, nil)
	s.checkpoints.EXPECT().MarkRunning(gomock.Any(), jobName, s.clock.Now()).Return(nil)
}

func (s *RunnerTestSuite) today(id string) domain.Release {
	return domain.Release{
		ID:            id,
		Name:          "Release " + id,
		Type:          domain.ReleaseTypeSingle,
		ReleaseDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		DatePrecision: domain.PrecisionDay,
		URL:           utils.Ptr("https://open/" + id),
		ImageURL:      utils.Ptr("https://img/" + id),
	}
}

func artist(id string) domain.FollowedArtist {
	return domain.FollowedArtist{
		ArtistID:    id,
		ArtistName:  "Artist " + id,
		ArtistImage: utils.Ptr("https://img/" + id),
	}
}

func (s *RunnerTestSuite) expectNewNotification(userID uuid.UUID, releaseID string) {
	s.notifications.EXPECT().Exists(gomock.Any(), userID, releaseID).Return(false, nil)
	s.notifications.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n *domain.Notification) (bool, error) {
			s.Equal(userID, n.UserID)
			s.Equal(releaseID, n.ReleaseID)
			return true, nil
		},
	)
}

func (s *RunnerTestSuite) TestRun_EndToEndThenCycleReset() {
	ctx := context.Background()
	x := artist("x")
	fresh := s.today("fresh")
	old := s.today("old")
	old.ReleaseDate = time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)

	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1, user2}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{x}, nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user2.ID).Return([]domain.FollowedArtist{}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "x", 10).Return([]domain.Release{fresh, old}, nil)

	s.notifications.EXPECT().Exists(gomock.Any(), user1.ID, "fresh").Return(false, nil)
	s.notifications.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n *domain.Notification) (bool, error) {
			s.Equal(user1.ID, n.UserID)
			s.Equal(domain.NotificationTypeNewRelease, n.Type)
			s.Equal("New release: Release fresh", n.Title)
			s.Equal(`Artist x released "Release fresh"`, n.Message)
			s.Equal("x", n.ArtistID)
			s.Equal("fresh", n.ReleaseID)
			s.Equal("https://open/fresh", *n.Link)
			s.Equal("https://img/fresh", *n.ReleaseImage)
			s.False(n.Read)
			return true, nil
		},
	)
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID:  &user2.ID,
		UsersProcessed:       2,
		NotificationsCreated: 1,
		Status:               domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(ctx, secret)
	s.Require().NoError(err)
	s.Equal(2, summary.UsersProcessed)
	s.Equal(1, summary.NotificationsCreated)
	s.Equal(1, summary.ArtistsChecked)
	s.Require().NotNil(summary.NextCheckpoint)
	s.Equal(user2.ID, *summary.NextCheckpoint)
	s.False(summary.CycleCompleted)
	s.False(summary.DeadlineReached)
	s.Len(summary.Users, 2)
	s.Equal(1, summary.Users[0].Artists[0].FreshReleases)
	s.Equal(2, summary.Users[0].Artists[0].ReleasesFetched)

	// Second invocation starts past user2 and finds nobody left.
	s.expectClaim(s.checkpoint(&user2.ID))
	s.users.EXPECT().ListNotifiable(gomock.Any(), &user2.ID, 30).Return([]domain.User{}, nil)
	s.checkpoints.EXPECT().ResetCycle(gomock.Any(), jobName, gomock.Any()).Return(nil)

	summary, err = s.runner.Run(ctx, secret)
	s.Require().NoError(err)
	s.True(summary.CycleCompleted)
	s.Equal(0, summary.UsersProcessed)
	s.Equal(0, summary.NotificationsCreated)
	s.Nil(summary.NextCheckpoint)
}

func (s *RunnerTestSuite) TestRun_ExistingNotificationIsNotRecreated() {
	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("x")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "x", 10).Return([]domain.Release{s.today("fresh")}, nil)
	s.notifications.EXPECT().Exists(gomock.Any(), user1.ID, "fresh").Return(true, nil)

	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID: &user1.ID,
		UsersProcessed:      1,
		Status:              domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.Equal(0, summary.NotificationsCreated)
	s.Equal(1, summary.Users[0].Artists[0].Duplicates)
}

func (s *RunnerTestSuite) TestRun_ConflictOnInsertCountsAsDuplicate() {
	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("x")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "x", 10).Return([]domain.Release{s.today("fresh")}, nil)
	s.notifications.EXPECT().Exists(gomock.Any(), user1.ID, "fresh").Return(false, nil)
	s.notifications.EXPECT().Create(gomock.Any(), gomock.Any()).Return(false, nil)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, gomock.Any(), gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.Equal(0, summary.NotificationsCreated)
	s.Equal(1, summary.Users[0].Artists[0].Duplicates)
}

func (s *RunnerTestSuite) TestRun_StaleAndImpreciseReleasesAreSkipped() {
	old := s.today("old")
	old.ReleaseDate = time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	month := s.today("month")
	month.DatePrecision = domain.PrecisionMonth

	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("x")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "x", 10).Return([]domain.Release{old, month}, nil)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, gomock.Any(), gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.Equal(0, summary.NotificationsCreated)
	s.Equal(0, summary.Users[0].Artists[0].FreshReleases)
}

func (s *RunnerTestSuite) TestRun_Unauthorized() {
	for _, credential := range []string{"", "wrong", secret + "x"} {
		summary, err := s.runner.Run(context.Background(), credential)
		s.Nil(summary)
		s.ErrorIs(err, domain.ErrUnauthorized)
	}
}

func (s *RunnerTestSuite) TestRun_EmptySecretRejectsEverything() {
	s.cfg.CronSecret = ""
	runner := s.newRunner(s.publisher)

	_, err := runner.Run(context.Background(), "")
	s.ErrorIs(err, domain.ErrUnauthorized)
}

func (s *RunnerTestSuite) TestRun_MissingCheckpoint() {
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.checkpoints.EXPECT().Load(gomock.Any(), jobName).Return(nil, domain.ErrCheckpointNotFound)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Nil(summary)
	s.ErrorIs(err, domain.ErrCheckpointNotFound)

	var internal *domain.InternalError
	s.ErrorAs(err, &internal)
	s.Equal("load checkpoint", internal.Stage)
}

func (s *RunnerTestSuite) TestRun_RefusedWhileAnotherRunIsActive() {
	startedAt := s.clock.Now().Add(-10 * time.Second)
	cp := s.checkpoint(nil)
	cp.Status = domain.JobStatusRunning
	cp.LastRunAt = &startedAt

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.checkpoints.EXPECT().Load(gomock.Any(), jobName).Return(cp, nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Nil(summary)
	s.ErrorIs(err, domain.ErrRunInProgress)

	var internal *domain.InternalError
	s.False(errors.As(err, &internal))
}

func (s *RunnerTestSuite) TestRun_StaleRunningStatusIsTakenOver() {
	startedAt := s.clock.Now().Add(-10 * time.Minute)
	cp := s.checkpoint(nil)
	cp.Status = domain.JobStatusRunning
	cp.LastRunAt = &startedAt

	s.expectClaim(cp)
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{}, nil)
	s.checkpoints.EXPECT().ResetCycle(gomock.Any(), jobName, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.True(summary.CycleCompleted)
}

func (s *RunnerTestSuite) TestRun_OverlapGuardDisabled() {
	s.cfg.GuardOverlap = utils.Ptr(false)
	runner := s.newRunner(s.publisher)

	startedAt := s.clock.Now().Add(-time.Second)
	cp := s.checkpoint(nil)
	cp.Status = domain.JobStatusRunning
	cp.LastRunAt = &startedAt

	s.expectClaim(cp)
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{}, nil)
	s.checkpoints.EXPECT().ResetCycle(gomock.Any(), jobName, gomock.Any()).Return(nil)

	_, err := runner.Run(context.Background(), secret)
	s.NoError(err)
}

func (s *RunnerTestSuite) TestRun_TokenFailureMarksError() {
	cursor := user1.ID

	s.expectClaim(s.checkpoint(&cursor))
	s.users.EXPECT().ListNotifiable(gomock.Any(), &cursor, 30).Return([]domain.User{user2}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("", domain.ErrCatalogAuth)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, p domain.Progress, _ time.Time) error {
			s.Equal(domain.JobStatusError, p.Status)
			s.Nil(p.LastProcessedUserID)
			s.Zero(p.UsersProcessed)
			s.Zero(p.NotificationsCreated)
			s.Require().NotNil(p.ErrorMessage)
			s.Contains(*p.ErrorMessage, "acquire catalog token")
			return nil
		},
	)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Nil(summary)
	s.ErrorIs(err, domain.ErrCatalogAuth)

	var internal *domain.InternalError
	s.Require().ErrorAs(err, &internal)
	s.Equal("acquire catalog token", internal.Stage)
}

func (s *RunnerTestSuite) TestRun_ListUsersFailureMarksError() {
	dbErr := errors.New("connection refused")

	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return(nil, dbErr)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, p domain.Progress, _ time.Time) error {
			s.Equal(domain.JobStatusError, p.Status)
			return nil
		},
	)

	_, err := s.runner.Run(context.Background(), secret)
	s.ErrorIs(err, dbErr)
}

func (s *RunnerTestSuite) TestRun_FailuresAreIsolated() {
	fetchErr := &domain.ArtistFetchError{ArtistID: "a", Err: errors.New("boom")}

	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1, user2, user3}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)

	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("a"), artist("b")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "a", 10).Return([]domain.Release{}, fetchErr)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "b", 10).Return([]domain.Release{s.today("b1")}, nil)
	s.expectNewNotification(user1.ID, "b1")
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	s.follows.EXPECT().ListByUser(gomock.Any(), user2.ID).Return(nil, errors.New("query failed"))
	s.follows.EXPECT().ListByUser(gomock.Any(), user3.ID).Return([]domain.FollowedArtist{}, nil)

	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID:  &user3.ID,
		UsersProcessed:       3,
		NotificationsCreated: 1,
		Status:               domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.Equal(3, summary.UsersProcessed)
	s.Equal(1, summary.NotificationsCreated)
	s.Equal(2, summary.ArtistsChecked)
	s.Equal(1, summary.ArtistFailures)
	s.Equal(1, summary.UserFailures)
	s.True(summary.Users[0].Failed())

	var userErr *domain.UserProcessingError
	s.ErrorAs(summary.Users[1].Err, &userErr)
	s.Equal(user2.ID.String(), userErr.UserID)
}

func (s *RunnerTestSuite) TestRun_NotificationInsertFailureIsConfinedToArtist() {
	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("a"), artist("b")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "a", 10).Return([]domain.Release{s.today("a1")}, nil)
	s.notifications.EXPECT().Exists(gomock.Any(), user1.ID, "a1").Return(false, errors.New("timeout"))
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "b", 10).Return([]domain.Release{s.today("b1")}, nil)
	s.expectNewNotification(user1.ID, "b1")
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, gomock.Any(), gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.Equal(1, summary.NotificationsCreated)
	s.Equal(1, summary.ArtistFailures)
	s.Equal(1, summary.UsersProcessed)
}

func (s *RunnerTestSuite) TestRun_DeadlineStopsBeforeNextUser() {
	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1, user2}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("x")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "x", 10).DoAndReturn(
		func(context.Context, string, int) ([]domain.Release, error) {
			s.clock.Advance(50 * time.Second)
			return []domain.Release{}, nil
		},
	)

	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID: &user1.ID,
		UsersProcessed:      1,
		Status:              domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.True(summary.DeadlineReached)
	s.Equal(1, summary.UsersProcessed)
	s.Equal(user1.ID, *summary.NextCheckpoint)
	s.Equal(50*time.Second, summary.Duration)
}

func (s *RunnerTestSuite) TestRun_DeadlineMidUserMovesCursorPastUser() {
	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1, user2, user3}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{}, nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user2.ID).Return([]domain.FollowedArtist{artist("a"), artist("b")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "a", 10).DoAndReturn(
		func(context.Context, string, int) ([]domain.Release, error) {
			s.clock.Advance(46 * time.Second)
			return []domain.Release{s.today("a1")}, nil
		},
	)
	s.expectNewNotification(user2.ID, "a1")
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)

	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID:  &user2.ID,
		UsersProcessed:       2,
		NotificationsCreated: 1,
		Status:               domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.True(summary.DeadlineReached)
	s.Equal(2, summary.UsersProcessed)
	s.Require().NotNil(summary.NextCheckpoint)
	s.Equal(user2.ID, *summary.NextCheckpoint)
	s.True(summary.Users[1].Interrupted)
	s.Len(summary.Users[1].Artists, 1)
	s.Len(summary.Users, 2)
}

func (s *RunnerTestSuite) TestRun_HeavyUserDoesNotStallSweep() {
	slow := func(context.Context, string, int) ([]domain.Release, error) {
		s.clock.Advance(20 * time.Second)
		return []domain.Release{}, nil
	}
	heavy := []domain.FollowedArtist{artist("a1"), artist("a2"), artist("a3"), artist("a4")}

	// First run: the budget runs out on user1's third artist.
	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1, user2}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return(heavy, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "a1", 10).DoAndReturn(slow)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "a2", 10).DoAndReturn(slow)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "a3", 10).DoAndReturn(slow)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID: &user1.ID,
		UsersProcessed:      1,
		Status:              domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.True(summary.DeadlineReached)
	s.True(summary.Users[0].Interrupted)
	s.Equal(user1.ID, *summary.NextCheckpoint)

	// Second run resumes after user1 and reaches user2.
	s.expectClaim(s.checkpoint(&user1.ID))
	s.users.EXPECT().ListNotifiable(gomock.Any(), &user1.ID, 30).Return([]domain.User{user2}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user2.ID).Return([]domain.FollowedArtist{artist("z")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "z", 10).Return([]domain.Release{s.today("z1")}, nil)
	s.expectNewNotification(user2.ID, "z1")
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID:  &user2.ID,
		UsersProcessed:       1,
		NotificationsCreated: 1,
		Status:               domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err = s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.False(summary.DeadlineReached)
	s.Equal(1, summary.NotificationsCreated)
	s.Equal(user2.ID, *summary.NextCheckpoint)
}

func (s *RunnerTestSuite) TestRun_CatalogUnavailableStopsWithoutSkippingUser() {
	unavailable := &domain.ArtistFetchError{
		ArtistID: "b",
		Err:      fmt.Errorf("%w: circuit breaker is open", domain.ErrCatalogUnavailable),
	}

	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1, user2, user3}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("a")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "a", 10).Return([]domain.Release{}, nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user2.ID).Return([]domain.FollowedArtist{artist("b"), artist("c")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "b", 10).Return([]domain.Release{}, unavailable)

	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID: &user1.ID,
		UsersProcessed:      1,
		Status:              domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.True(summary.CatalogUnavailable)
	s.False(summary.DeadlineReached)
	s.Equal(1, summary.UsersProcessed)
	s.Equal(0, summary.ArtistFailures)
	s.Require().Len(summary.Users, 2)
	s.True(summary.Users[1].Deferred)
	s.Equal(user1.ID, *summary.NextCheckpoint)
	s.Empty(s.sleeps)
}

func (s *RunnerTestSuite) TestRun_RateLimitBacksOffAndContinues() {
	limited := &domain.ArtistFetchError{ArtistID: "a", Err: &domain.RateLimitError{RetryAfter: 300 * time.Millisecond}}
	capped := &domain.ArtistFetchError{ArtistID: "b", Err: &domain.RateLimitError{RetryAfter: time.Minute}}

	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("a"), artist("b"), artist("c")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "a", 10).Return([]domain.Release{}, limited)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "b", 10).Return([]domain.Release{}, capped)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "c", 10).Return([]domain.Release{}, nil)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, gomock.Any(), gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.Equal([]time.Duration{300 * time.Millisecond, time.Second}, s.sleeps)
	s.Equal(3, summary.ArtistsChecked)
	s.Equal(2, summary.ArtistFailures)
	s.ErrorIs(summary.Users[0].Artists[0].Err, domain.ErrRateLimited)
	s.Equal(1, summary.UsersProcessed)
}

func (s *RunnerTestSuite) TestRun_WithoutPublisher() {
	runner := s.newRunner(nil)

	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("x")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "x", 10).Return([]domain.Release{s.today("fresh")}, nil)
	s.expectNewNotification(user1.ID, "fresh")
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, gomock.Any(), gomock.Any()).Return(nil)

	summary, err := runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.Equal(1, summary.NotificationsCreated)
}

func (s *RunnerTestSuite) TestRun_PublishFailureDoesNotUndoNotification() {
	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{artist("x")}, nil)
	s.catalog.EXPECT().RecentReleases(gomock.Any(), "x", 10).Return([]domain.Release{s.today("fresh")}, nil)
	s.expectNewNotification(user1.ID, "fresh")
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("channel closed"))
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, domain.Progress{
		LastProcessedUserID:  &user1.ID,
		UsersProcessed:       1,
		NotificationsCreated: 1,
		Status:               domain.JobStatusIdle,
	}, gomock.Any()).Return(nil)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Require().NoError(err)
	s.Equal(1, summary.NotificationsCreated)
	s.Equal(1, summary.PublishErrors)
	s.Equal(0, summary.ArtistFailures)
}

func (s *RunnerTestSuite) TestRun_SaveFailureIsReported() {
	s.expectClaim(s.checkpoint(nil))
	s.users.EXPECT().ListNotifiable(gomock.Any(), gomock.Nil(), 30).Return([]domain.User{user1}, nil)
	s.catalog.EXPECT().Token(gomock.Any()).Return("token", nil)
	s.follows.EXPECT().ListByUser(gomock.Any(), user1.ID).Return([]domain.FollowedArtist{}, nil)
	s.checkpoints.EXPECT().SaveProgress(gomock.Any(), jobName, gomock.Any(), gomock.Any()).Return(domain.ErrCheckpointNotFound)

	summary, err := s.runner.Run(context.Background(), secret)
	s.Nil(summary)
	s.ErrorIs(err, domain.ErrCheckpointNotFound)
}
