package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arin/reel/internal/backend"
	"github.com/arin/reel/internal/catalog"
	"github.com/arin/reel/internal/config"
	"github.com/arin/reel/internal/history"
	"github.com/arin/reel/internal/logger"
	"github.com/arin/reel/internal/movie"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold)
	dim    = color.New(color.FgHiBlack)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

// env is what every command needs: configuration, a logger and a backend
// client pointed at the configured service.
type env struct {
	cfg    *config.Config
	log    *logger.Logger
	client *backend.Client
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return &env{
		cfg:    cfg,
		log:    log,
		client: backend.NewClient(cfg.Resolver(), log),
	}, nil
}

// movieFlags lets a movie be named directly instead of looked up in TMDB.
type movieFlags struct {
	title string
	year  string
	last  bool
}

func (f *movieFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.title, "title", "", "Movie title (skips the TMDB lookup)")
	c.Flags().StringVar(&f.year, "year", "", "Release year, used with --title")
	c.Flags().BoolVar(&f.last, "last", false, "Use the movie you opened most recently")
}

// resolveMovie turns the TMDB id argument and flags into a Ref. The catalog
// entry is returned when a lookup was made.
func (e *env) resolveMovie(ctx context.Context, args []string, f movieFlags) (movie.Ref, *catalog.Movie, error) {
	var id string
	if len(args) > 0 {
		id = strings.TrimSpace(args[0])
	}

	if f.last {
		if id != "" || f.title != "" {
			return movie.Ref{}, nil, errors.New("--last cannot be combined with an id or --title")
		}
		last, ok, err := history.Last()
		if err != nil {
			return movie.Ref{}, nil, fmt.Errorf("failed to load history: %w", err)
		}
		if !ok {
			return movie.Ref{}, nil, errors.New("no movie has been opened yet")
		}
		return last.Ref(), nil, nil
	}

	if f.title != "" {
		key := movie.NewKey(f.title, f.year)
		if !key.Valid() {
			return movie.Ref{}, nil, errors.New("--title must not be blank")
		}
		return movie.Ref{TMDBID: id, Key: key}, nil, nil
	}
	if id == "" {
		return movie.Ref{}, nil, errors.New("pass a TMDB id, or name the movie with --title and --year")
	}

	c := catalog.NewClient(e.cfg.TMDBAPIKey, catalog.WithLogger(e.log))
	m, err := c.Movie(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNoAPIKey) {
			return movie.Ref{}, nil, fmt.Errorf("%w, or name the movie with --title and --year", err)
		}
		return movie.Ref{}, nil, err
	}
	return m.Ref(), m, nil
}

// printMovie shows the header for a looked-up movie.
func printMovie(ref movie.Ref, m *catalog.Movie) {
	fmt.Fprintln(os.Stderr)
	cyan.Fprintf(os.Stderr, "  🎬 %s\n", ref.Key)
	if m == nil {
		fmt.Fprintln(os.Stderr)
		return
	}
	if genres := m.GenreNames(); len(genres) > 0 {
		dim.Fprintf(os.Stderr, "  %s\n", strings.Join(genres, ", "))
	}
	if m.Overview != "" {
		dim.Fprintf(os.Stderr, "  %s\n", m.Overview)
	}
	fmt.Fprintln(os.Stderr)
}
