package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"release_notifier/internal/domain"
)

// Release groups queried for every artist. The provider needs one query per group.
const (
	GroupAlbum  = "album"
	GroupSingle = "single"
)

// Config holds catalog client configuration.
type Config struct {
	TokenURL       string
	BaseURL        string
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	TokenMargin    time.Duration
	PageSize       int
	MaxPages       int
	LookbackMonths int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BreakerFailures consecutive failures open the breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// StatusError is an unexpected HTTP status from the releases endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// Client talks to the music catalog. It is built once per process and shared;
// the bearer token it caches is replaced on expiry.
type Client struct {
	httpClient     *http.Client
	credentials    clientcredentials.Config
	breaker        *gobreaker.CircuitBreaker[*AlbumsPage]
	baseURL        string
	groups         []string
	pageSize       int
	maxPages       int
	lookbackMonths int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	tokenMargin    time.Duration
	now            func() time.Time
	logger         *slog.Logger

	refresh   singleflight.Group
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New creates a new catalog client.
func New(cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		credentials: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		baseURL:        cfg.BaseURL,
		groups:         []string{GroupAlbum, GroupSingle},
		pageSize:       cfg.PageSize,
		maxPages:       cfg.MaxPages,
		lookbackMonths: cfg.LookbackMonths,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		tokenMargin:    cfg.TokenMargin,
		now:            time.Now,
		logger:         logger.With("component", "catalog"),
	}

	c.breaker = gobreaker.NewCircuitBreaker[*AlbumsPage](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= max(cfg.BreakerFailures, 1)
		},
		IsSuccessful: func(err error) bool {
			// Neither a bad artist id nor a rate limit says anything about the
			// provider's health.
			if err == nil || errors.Is(err, domain.ErrRateLimited) {
				return true
			}
			var statusErr *StatusError
			return errors.As(err, &statusErr) && statusErr.Code < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return c
}

// RecentReleases returns the artist's albums and singles released within the
// lookback window, newest first, at most limit of them. A failed fetch never
// aborts the caller: the result is an empty slice together with an
// *domain.ArtistFetchError, which matches domain.ErrRateLimited on HTTP 429
// and domain.ErrCatalogUnavailable while the circuit breaker is open.
func (c *Client) RecentReleases(ctx context.Context, artistID string, limit int) ([]domain.Release, error) {
	cutoff := c.now().AddDate(0, -c.lookbackMonths, 0)

	releases := make([]domain.Release, 0)
	seen := make(map[string]struct{})

	for _, group := range c.groups {
		items, err := c.fetchGroup(ctx, artistID, group)
		if err != nil {
			c.logger.Warn("failed to fetch releases",
				"artist_id", artistID,
				"group", group,
				"error", err,
			)
			return []domain.Release{}, &domain.ArtistFetchError{ArtistID: artistID, Err: err}
		}

		for _, release := range c.transform(items) {
			if _, dup := seen[release.ID]; dup {
				continue
			}
			if !release.ReleasedSince(cutoff) {
				continue
			}
			seen[release.ID] = struct{}{}
			releases = append(releases, release)
		}
	}

	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].ReleaseDate.After(releases[j].ReleaseDate)
	})

	if limit > 0 && len(releases) > limit {
		releases = releases[:limit]
	}

	return releases, nil
}

func (c *Client) fetchGroup(ctx context.Context, artistID, group string) ([]AlbumItem, error) {
	var items []AlbumItem

	offset := 0
	for page := 0; page < c.maxPages; page++ {
		resp, err := c.fetchPage(ctx, artistID, group, offset)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", group, page, err)
		}

		items = append(items, resp.Items...)

		c.logger.Debug("fetched page",
			"artist_id", artistID,
			"group", group,
			"page", page,
			"items", len(resp.Items),
		)

		if resp.Next == nil || *resp.Next == "" || len(resp.Items) == 0 {
			break
		}
		offset += len(resp.Items)
	}

	return items, nil
}

func (c *Client) fetchPage(ctx context.Context, artistID, group string, offset int) (*AlbumsPage, error) {
	params := url.Values{}
	params.Set("include_groups", group)
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("offset", strconv.Itoa(offset))
	endpoint := fmt.Sprintf("%s/v1/artists/%s/albums?%s", c.baseURL, url.PathEscape(artistID), params.Encode())

	var resp *AlbumsPage
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err = c.breaker.Execute(func() (*AlbumsPage, error) {
			return c.doRequest(ctx, endpoint)
		})
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
		}

		if !retryable(err) || attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, err
}

func (c *Client) doRequest(ctx context.Context, endpoint string) (*AlbumsPage, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.invalidateToken(token)

		if token, err = c.Token(ctx); err != nil {
			return nil, err
		}
		if resp, err = c.get(ctx, endpoint, token); err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var page AlbumsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &page, nil
}

func (c *Client) get(ctx context.Context, endpoint, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "ReleaseNotifier/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// retryable reports whether another attempt may succeed: server errors and
// transport failures. Rate limits are left to the caller.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrCatalogAuth),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	return true
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if wait := time.Until(t); wait > 0 {
			return wait
		}
	}
	return 0
}

func (c *Client) transform(items []AlbumItem) []domain.Release {
	releases := make([]domain.Release, 0, len(items))

	for _, item := range items {
		date, precision, err := parseReleaseDate(item.ReleaseDate, item.ReleaseDatePrecision)
		if err != nil {
			c.logger.Warn("failed to parse release date",
				"release_id", item.ID,
				"date", item.ReleaseDate,
			)
			continue
		}

		release := domain.Release{
			ID:            item.ID,
			Name:          item.Name,
			Type:          domain.ReleaseType(item.AlbumType),
			ReleaseDate:   date,
			DatePrecision: precision,
			TotalTracks:   item.TotalTracks,
		}

		if item.ExternalURLs.Spotify != "" {
			link := item.ExternalURLs.Spotify
			release.URL = &link
		}
		if len(item.Images) > 0 && item.Images[0].URL != "" {
			image := item.Images[0].URL
			release.ImageURL = &image
		}

		releases = append(releases, release)
	}

	return releases
}

// parseReleaseDate reads a provider date ("2025", "2025-06" or "2025-06-01")
// as a naive UTC date. An empty precision is inferred from the layout.
func parseReleaseDate(value, precision string) (time.Time, domain.DatePrecision, error) {
	p := domain.DatePrecision(precision)
	if p == "" {
		switch len(value) {
		case len("2006"):
			p = domain.PrecisionYear
		case len("2006-01"):
			p = domain.PrecisionMonth
		default:
			p = domain.PrecisionDay
		}
	}

	layout := "2006-01-02"
	switch p {
	case domain.PrecisionYear:
		layout = "2006"
	case domain.PrecisionMonth:
		layout = "2006-01"
	}

	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return time.Time{}, "", err
	}
	return t, p, nil
}
