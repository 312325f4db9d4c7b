package domain

import "time"

type ReleaseType string

const (
	ReleaseTypeAlbum       ReleaseType = "album"
	ReleaseTypeSingle      ReleaseType = "single"
	ReleaseTypeCompilation ReleaseType = "compilation"
)

// DatePrecision is the granularity the catalog reports a release date with.
type DatePrecision string

const (
	PrecisionDay   DatePrecision = "day"
	PrecisionMonth DatePrecision = "month"
	PrecisionYear  DatePrecision = "year"
)

// Release is a catalog release as returned for one artist. ReleaseDate is a
// naive date stored as midnight UTC.
type Release struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Type          ReleaseType   `json:"type"`
	ReleaseDate   time.Time     `json:"releaseDate"`
	DatePrecision DatePrecision `json:"datePrecision"`
	URL           *string       `json:"spotifyUrl,omitempty"`
	ImageURL      *string       `json:"image,omitempty"`
	TotalTracks   int           `json:"totalTracks"`
}

// ReleasedSince reports whether the release date is on or after the calendar
// day of cutoff.
func (r Release) ReleasedSince(cutoff time.Time) bool {
	return !r.ReleaseDate.Before(truncateDay(cutoff))
}

// ReleasedWithin reports whether the release falls inside window before now.
// Dates only carry day precision, so a release dated on the calendar day of
// now-window counts as inside the window regardless of time of day. Releases
// with month or year precision never qualify.
func (r Release) ReleasedWithin(now time.Time, window time.Duration) bool {
	if r.DatePrecision != PrecisionDay {
		return false
	}
	return r.ReleasedSince(now.Add(-window))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FeedRelease is a release annotated with the followed artist it belongs to.
type FeedRelease struct {
	Release
	ArtistID    string  `json:"artistId"`
	ArtistName  string  `json:"artistName"`
	ArtistImage *string `json:"artistImage,omitempty"`
}
