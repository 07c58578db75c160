// Package stats records how long reel waits on the movie service:
// preparation, time to first answer text, and full answers. Records are
// persisted to ~/.reel/stats.json.
package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arin/reel/internal/config"
	"github.com/arin/reel/internal/movie"
)

const (
	fileName   = "stats.json"
	maxRecords = 1000
)

// Record is a single timed request. Prepared is set when the movie had to
// be prepared first.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	Movie       movie.Key `json:"movie"`
	Subcommand  string    `json:"subcommand"` // "chat", "summary", "status"
	Transport   string    `json:"transport,omitempty"`
	Prepared    bool      `json:"prepared,omitempty"`
	PrepWaitMs  int64     `json:"prep_wait_ms,omitempty"`
	FirstTextMs int64     `json:"first_text_ms,omitempty"`
	TotalMs     int64     `json:"total_ms"`
	Success     bool      `json:"success"`
}

// Summary is the aggregated stats dashboard.
type Summary struct {
	TotalRequests      int            `json:"total_requests"`
	SuccessRate        float64        `json:"success_rate"`
	AvgFirstTextMs     int64          `json:"avg_first_text_ms"`
	AvgTotalMs         int64          `json:"avg_total_ms"`
	PreparedCount      int            `json:"prepared_count"`
	AvgPrepWaitMs      int64          `json:"avg_prep_wait_ms"`
	SubcmdBreakdown    map[string]int `json:"subcmd_breakdown"`
	TransportBreakdown map[string]int `json:"transport_breakdown"`
	TopMovies          []MovieCount   `json:"top_movies"`
	TodayCount         int            `json:"today_count"`
	ThisWeekCount      int            `json:"this_week_count"`
}

// MovieCount pairs a movie with its request count.
type MovieCount struct {
	Movie movie.Key `json:"movie"`
	Count int       `json:"count"`
}

// Ms converts a duration for a Record field.
func Ms(d time.Duration) int64 {
	return d.Milliseconds()
}

var fileMu sync.Mutex

func statsPath() string {
	return filepath.Join(config.Dir(), fileName)
}

// Save appends a new record to the stats file.
func Save(r Record) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	r.Timestamp = time.Now()

	records, _ := loadAll()
	records = append(records, r)

	if len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}

	if err := os.MkdirAll(config.Dir(), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(statsPath(), data, 0o600)
}

// LoadAll returns all stored records.
func LoadAll() ([]Record, error) {
	fileMu.Lock()
	defer fileMu.Unlock()
	return loadAll()
}

func loadAll() ([]Record, error) {
	data, err := os.ReadFile(statsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Summarize computes aggregated stats from all records.
func Summarize() (*Summary, error) {
	records, err := LoadAll()
	if err != nil {
		return nil, err
	}
	return summarize(records, time.Now()), nil
}

func summarize(records []Record, now time.Time) *Summary {
	s := &Summary{
		TotalRequests:      len(records),
		SubcmdBreakdown:    map[string]int{},
		TransportBreakdown: map[string]int{},
	}
	if len(records) == 0 {
		return s
	}

	var totalFirst, totalAll, totalPrep int64
	var firstCount, successCount int
	movieFreq := map[movie.Key]int{}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	weekAgo := now.AddDate(0, 0, -7)

	for _, r := range records {
		if r.Success {
			successCount++
		}
		totalAll += r.TotalMs
		if r.FirstTextMs > 0 {
			totalFirst += r.FirstTextMs
			firstCount++
		}
		if r.Prepared {
			s.PreparedCount++
			totalPrep += r.PrepWaitMs
		}
		if r.Subcommand != "" {
			s.SubcmdBreakdown[r.Subcommand]++
		}
		if r.Transport != "" {
			s.TransportBreakdown[r.Transport]++
		}
		if r.Movie != "" {
			movieFreq[r.Movie]++
		}
		if !r.Timestamp.Before(today) {
			s.TodayCount++
		}
		if r.Timestamp.After(weekAgo) {
			s.ThisWeekCount++
		}
	}

	s.SuccessRate = float64(successCount) / float64(len(records)) * 100
	s.AvgTotalMs = totalAll / int64(len(records))
	if firstCount > 0 {
		s.AvgFirstTextMs = totalFirst / int64(firstCount)
	}
	if s.PreparedCount > 0 {
		s.AvgPrepWaitMs = totalPrep / int64(s.PreparedCount)
	}
	s.TopMovies = topN(movieFreq, 5)
	return s
}

// topN returns the n most requested movies, ties broken by key.
func topN(freq map[movie.Key]int, n int) []MovieCount {
	all := make([]MovieCount, 0, len(freq))
	for k, count := range freq {
		all = append(all, MovieCount{Movie: k, Count: count})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Movie < all[j].Movie
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}
