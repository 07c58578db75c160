package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arin/reel/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage statistics and response times",
	Long: `Display a dashboard of your reel usage: request counts, success rate,
time to first answer text, preparation waits and most asked-about movies.

Data is collected automatically and stored locally in ~/.reel/stats.json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := stats.Summarize()
		if err != nil {
			return fmt.Errorf("failed to load stats: %w", err)
		}

		cyan.Fprintf(os.Stderr, "\n  📊 reel stats\n\n")

		if summary.TotalRequests == 0 {
			dim.Fprintln(os.Stderr, "  No data yet. Ask reel a few questions and come back.")
			fmt.Fprintln(os.Stderr)
			return nil
		}

		// Overview
		green.Fprintf(os.Stderr, "  Requests:    ")
		fmt.Fprintf(os.Stderr, "%d total", summary.TotalRequests)
		dim.Fprintf(os.Stderr, "  (%d today, %d this week)\n", summary.TodayCount, summary.ThisWeekCount)

		green.Fprintf(os.Stderr, "  Success:     ")
		if summary.SuccessRate >= 90 {
			fmt.Fprintf(os.Stderr, "%.0f%%\n", summary.SuccessRate)
		} else {
			yellow.Fprintf(os.Stderr, "%.0f%%\n", summary.SuccessRate)
		}

		// Latency
		if summary.AvgFirstTextMs > 0 {
			green.Fprintf(os.Stderr, "  First text:  ")
			fmt.Fprintf(os.Stderr, "%dms avg\n", summary.AvgFirstTextMs)
		}
		green.Fprintf(os.Stderr, "  Full answer: ")
		fmt.Fprintf(os.Stderr, "%dms avg\n", summary.AvgTotalMs)
		if summary.PreparedCount > 0 {
			green.Fprintf(os.Stderr, "  Preparing:   ")
			fmt.Fprintf(os.Stderr, "%.1fs avg over %d movies\n", float64(summary.AvgPrepWaitMs)/1000, summary.PreparedCount)
		}

		// Subcommand and transport breakdown
		for _, section := range []struct {
			title string
			data  map[string]int
		}{
			{"Subcommands", summary.SubcmdBreakdown},
			{"Transports", summary.TransportBreakdown},
		} {
			if len(section.data) == 0 {
				continue
			}
			fmt.Fprintln(os.Stderr)
			cyan.Fprintf(os.Stderr, "  %s\n", section.title)
			for name, count := range section.data {
				pct := float64(count) / float64(summary.TotalRequests) * 100
				bar := strings.Repeat("█", int(pct/5))
				dim.Fprintf(os.Stderr, "  %-10s ", name)
				fmt.Fprintf(os.Stderr, "%s %d (%.0f%%)\n", bar, count, pct)
			}
		}

		// Top movies
		if len(summary.TopMovies) > 0 {
			fmt.Fprintln(os.Stderr)
			cyan.Fprintln(os.Stderr, "  Top Movies")
			for i, mc := range summary.TopMovies {
				dim.Fprintf(os.Stderr, "  %d. ", i+1)
				fmt.Fprintf(os.Stderr, "%s ", mc.Movie)
				dim.Fprintf(os.Stderr, "(%dx)\n", mc.Count)
			}
		}

		fmt.Fprintln(os.Stderr)
		return nil
	},
}
