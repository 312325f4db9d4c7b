package catalog

// AlbumsPage is one page of the artist albums endpoint.
type AlbumsPage struct {
	Href   string      `json:"href"`
	Items  []AlbumItem `json:"items"`
	Limit  int         `json:"limit"`
	Next   *string     `json:"next"`
	Offset int         `json:"offset"`
	Total  int         `json:"total"`
}

type AlbumItem struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	AlbumType            string       `json:"album_type"`
	AlbumGroup           string       `json:"album_group"`
	ReleaseDate          string       `json:"release_date"`
	ReleaseDatePrecision string       `json:"release_date_precision"`
	TotalTracks          int          `json:"total_tracks"`
	Images               []Image      `json:"images"`
	ExternalURLs         ExternalURLs `json:"external_urls"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type ExternalURLs struct {
	Spotify string `json:"spotify"`
}
