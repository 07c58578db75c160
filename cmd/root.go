package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "reel",
	Short: "Ask questions about movies from your terminal",
	Long: `reel talks to a movie Q&A service. It makes sure a movie has been
prepared for questions (triggering preparation the first time), then
streams answers as they are written.

Examples:
  reel chat 438631                      # Dune, looked up in TMDB
  reel chat --title Dune --year 2021    # no TMDB key needed
  reel summary 438631
  reel status 438631 --prepare
  reel doctor`,
	SilenceUsage:               true,
	SilenceErrors:              true,
	SuggestionsMinimumDistance: 1,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests, retries and stream events to stderr")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
}

// SetVersion records the build version shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the entry point called from main. Ctrl-C cancels the running
// command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
