package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arin/reel/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage reel configuration",
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Save a configuration value",
	Long: fmt.Sprintf(`Save a configuration value to %s.

Keys: %s

Environment variables (REEL_API_URL, REEL_TRANSPORT, TMDB_API_KEY,
REEL_POLL_INTERVAL, REEL_LOG_LEVEL) take precedence over saved values.`, "~/.reel/config.yaml", strings.Join(config.Keys(), ", ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to save %s: %w", args[0], err)
		}
		fmt.Printf("%s saved.\n", args[0])
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		dim.Fprintf(os.Stderr, "# service: %s\n", cfg.Resolver().Resolve())
		dim.Fprintf(os.Stderr, "# file:    %s\n", config.Path())
		return nil
	},
}

func init() {
	configCmd.AddCommand(setCmd)
	configCmd.AddCommand(showCmd)
}
