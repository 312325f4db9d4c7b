package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"release_notifier/internal/domain"
)

const (
	releasesPerArtist = 5
	artistLookupLimit = 4
)

// FollowedReleases builds the release feed of everything a user follows.
type FollowedReleases struct {
	follows FollowStore
	catalog Catalog
	logger  *slog.Logger
}

func NewFollowedReleases(follows FollowStore, catalog Catalog, logger *slog.Logger) *FollowedReleases {
	return &FollowedReleases{
		follows: follows,
		catalog: catalog,
		logger:  logger.With("component", "followed_releases"),
	}
}

// ForUser returns up to five recent releases per followed artist, newest
// first. An artist whose lookup fails contributes nothing.
func (f *FollowedReleases) ForUser(ctx context.Context, userID uuid.UUID) ([]domain.FeedRelease, error) {
	artists, err := f.follows.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list followed artists: %w", err)
	}

	perArtist := make([][]domain.FeedRelease, len(artists))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(artistLookupLimit)

	for i, artist := range artists {
		g.Go(func() error {
			releases, err := f.catalog.RecentReleases(gctx, artist.ArtistID, releasesPerArtist)
			if err != nil {
				f.logger.Warn("failed to fetch artist releases",
					"user_id", userID,
					"artist_id", artist.ArtistID,
					"error", err,
				)
				return nil
			}

			feed := make([]domain.FeedRelease, 0, len(releases))
			for _, r := range releases {
				feed = append(feed, domain.FeedRelease{
					Release:     r,
					ArtistID:    artist.ArtistID,
					ArtistName:  artist.ArtistName,
					ArtistImage: artist.ArtistImage,
				})
			}
			perArtist[i] = feed
			return nil
		})
	}
	_ = g.Wait()

	feed := make([]domain.FeedRelease, 0)
	for _, releases := range perArtist {
		feed = append(feed, releases...)
	}

	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].ReleaseDate.After(feed[j].ReleaseDate)
	})

	return feed, nil
}
