// Package catalog looks movies up in TMDB so a TMDB id can be turned into
// the "Title (Year)" key the movie service indexes by.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arin/reel/internal/logger"
	"github.com/arin/reel/internal/movie"
)

// DefaultBaseURL is the TMDB v3 API root.
const DefaultBaseURL = "https://api.themoviedb.org/3"

var (
	ErrNoAPIKey = errors.New("no TMDB API key configured (set TMDB_API_KEY or run `reel config set tmdb_api_key <key>`)")
	ErrNotFound = errors.New("movie not found in TMDB")
)

type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Movie is the subset of TMDB's movie details reel displays.
type Movie struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Overview    string  `json:"overview"`
	PosterPath  string  `json:"poster_path"`
	Runtime     int     `json:"runtime"`
	Genres      []Genre `json:"genres"`
}

// Year is the release year, or "" when TMDB has no release date.
func (m Movie) Year() string { return movie.YearFromDate(m.ReleaseDate) }

// Key is the movie service key for m.
func (m Movie) Key() movie.Key { return movie.NewKey(m.Title, m.Year()) }

// Ref pairs the TMDB id with the key.
func (m Movie) Ref() movie.Ref {
	return movie.Ref{TMDBID: fmt.Sprint(m.ID), Key: m.Key()}
}

// GenreNames returns the genre names in TMDB order.
func (m Movie) GenreNames() []string {
	names := make([]string, 0, len(m.Genres))
	for _, g := range m.Genres {
		names = append(names, g.Name)
	}
	return names
}

// Client talks to TMDB.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

type Option func(*Client)

// WithBaseURL points the client somewhere other than TMDB.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l) }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	StatusMessage string `json:"status_message"`
}

// Movie fetches the details for a TMDB id.
func (c *Client) Movie(ctx context.Context, id string) (*Movie, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("empty TMDB id")
	}
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	u := fmt.Sprintf("%s/movie/%s?api_key=%s", c.baseURL, url.PathEscape(id), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TMDB request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug("looking up movie", "tmdb_id", id)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TMDB request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read TMDB response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	case resp.StatusCode != http.StatusOK:
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.StatusMessage != "" {
			return nil, fmt.Errorf("TMDB returned status %d: %s", resp.StatusCode, eb.StatusMessage)
		}
		return nil, fmt.Errorf("TMDB returned status %d", resp.StatusCode)
	}

	var m Movie
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse TMDB response: %w", err)
	}
	if m.Title == "" {
		return nil, fmt.Errorf("%w: id %s has no title", ErrNotFound, id)
	}
	return &m, nil
}
