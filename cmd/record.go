package cmd

import (
	"github.com/arin/reel/internal/history"
	"github.com/arin/reel/internal/movie"
	"github.com/arin/reel/internal/stats"
)

// remember notes that ref was used by command. Failures only cost the user
// their recent-movies list, so they are logged and otherwise ignored.
func (e *env) remember(ref movie.Ref, command, status string, questions int, ok bool) {
	err := history.Save(history.Entry{
		Movie:     ref.Key,
		TMDBID:    ref.TMDBID,
		Command:   command,
		Status:    status,
		Questions: questions,
		Success:   ok,
	})
	if err != nil {
		e.log.Warn("failed to save history", "error", err)
	}
}

func (e *env) saveStats(rec stats.Record) {
	if err := stats.Save(rec); err != nil {
		e.log.Warn("failed to save stats", "error", err)
	}
}
