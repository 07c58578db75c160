// Package history remembers which movies were opened with reel and how
// far each got. Questions and answers are never stored. History is kept
// as a JSON file in the user's config directory.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arin/reel/internal/config"
	"github.com/arin/reel/internal/movie"
)

const (
	fileName   = "history.json"
	maxEntries = 500
)

// fileMu guards concurrent access to the history file.
var fileMu sync.Mutex

// Entry records one use of a movie.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Movie     movie.Key `json:"movie"`
	TMDBID    string    `json:"tmdb_id,omitempty"`
	Command   string    `json:"command"`
	// Status is the readiness status reached, e.g. "ready" or "error".
	Status    string `json:"status,omitempty"`
	Questions int    `json:"questions,omitempty"`
	Success   bool   `json:"success"`
}

// Ref rebuilds the movie reference.
func (e Entry) Ref() movie.Ref {
	return movie.Ref{TMDBID: e.TMDBID, Key: e.Movie}
}

func historyPath() string {
	return filepath.Join(config.Dir(), fileName)
}

// Save appends a new entry to the history file.
func Save(entry Entry) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	entry.Timestamp = time.Now()

	entries, _ := loadAll()
	entries = append(entries, entry)

	// Trim to max entries, keeping the most recent.
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	if err := os.MkdirAll(config.Dir(), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(historyPath(), data, 0o600)
}

// Load returns the most recent limit entries. A limit of 0 returns all.
func Load(limit int) ([]Entry, error) {
	fileMu.Lock()
	entries, err := loadAll()
	fileMu.Unlock()
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	return entries, nil
}

// Recent returns up to limit distinct movies, most recently used first.
func Recent(limit int) ([]Entry, error) {
	entries, err := Load(0)
	if err != nil {
		return nil, err
	}

	seen := make(map[movie.Key]bool)
	var out []Entry
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if seen[e.Movie] {
			continue
		}
		seen[e.Movie] = true
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Last returns the most recently used movie, or false when there is none.
func Last() (Entry, bool, error) {
	recent, err := Recent(1)
	if err != nil || len(recent) == 0 {
		return Entry{}, false, err
	}
	return recent[0], true, nil
}

func loadAll() ([]Entry, error) {
	data, err := os.ReadFile(historyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}
