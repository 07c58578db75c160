package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arin/reel/internal/history"
)

var (
	historyLimit int
	historyAll   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the movies you opened recently",
	Long: `Show the movies you opened recently and how far each got.
Questions and answers are not kept. Reopen the latest movie with --last,
e.g. reel chat --last.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			entries []history.Entry
			err     error
		)
		if historyAll {
			entries, err = history.Load(historyLimit)
		} else {
			entries, err = history.Recent(historyLimit)
		}
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No history yet.")
			return nil
		}

		for _, e := range entries {
			dim.Printf("[%s] ", e.Timestamp.Format("2006-01-02 15:04:05"))
			cyan.Printf("%s ", e.Movie)
			if e.Success {
				green.Print("✓")
			} else {
				red.Print("✗")
			}
			fmt.Println()

			detail := e.Command
			if e.TMDBID != "" {
				detail += " · tmdb " + e.TMDBID
			}
			if e.Status != "" {
				detail += " · " + e.Status
			}
			if e.Questions > 0 {
				detail += fmt.Sprintf(" · %d answered", e.Questions)
			}
			dim.Printf("  %s\n", detail)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of history entries to show")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "List every use instead of one line per movie")
}
