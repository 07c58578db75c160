package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arin/reel/internal/config"
)

const pingTimeout = 5 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and service reachability",
	Long: `Run a health check on your reel setup.
Verifies the config file, every movie service address reel may fall back
to, the TMDB key and the configured transport.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.log.Sync()

		cyan.Fprintf(os.Stderr, "\n  🩺 reel doctor\n\n")

		pass, fail, warn := 0, 0, 0

		check := func(name string, fn func() (string, error)) {
			detail, err := fn()
			if err != nil {
				if strings.HasPrefix(err.Error(), "warn:") {
					yellow.Fprintf(os.Stderr, "  ⚠ %s\n", name)
					dim.Fprintf(os.Stderr, "    %s\n", strings.TrimPrefix(err.Error(), "warn:"))
					warn++
				} else {
					red.Fprintf(os.Stderr, "  ✗ %s\n", name)
					dim.Fprintf(os.Stderr, "    %s\n", err.Error())
					fail++
				}
			} else {
				green.Fprintf(os.Stderr, "  ✓ %s", name)
				if detail != "" {
					dim.Fprintf(os.Stderr, " — %s", detail)
				}
				fmt.Fprintln(os.Stderr)
				pass++
			}
		}

		// 1. Config file
		check("Config file", func() (string, error) {
			path := config.Path()
			if _, err := os.Stat(path); err != nil {
				return "", fmt.Errorf("warn:%s not found, using defaults and environment", path)
			}
			return path, nil
		})

		// 2. Every service address, probed concurrently
		candidates := e.cfg.Resolver().Candidates()
		results := pingAll(cmd.Context(), candidates, func(ctx context.Context, base string) (int, error) {
			return e.client.Ping(ctx, base)
		})
		for i, base := range candidates {
			label := "Movie service"
			if i > 0 {
				label = "Fallback movie service"
			}
			res := results[i]
			check(fmt.Sprintf("%s (%s)", label, base), func() (string, error) {
				if res.err != nil {
					if i > 0 {
						return "", fmt.Errorf("warn:unreachable: %v", res.err)
					}
					return "", fmt.Errorf("unreachable: %v", res.err)
				}
				return fmt.Sprintf("HTTP %d in %s", res.status, res.elapsed.Round(time.Millisecond)), nil
			})
		}

		// 3. TMDB key
		check("TMDB API key", func() (string, error) {
			if e.cfg.TMDBAPIKey == "" {
				return "", fmt.Errorf("warn:not set; use --title/--year, or run: reel config set tmdb_api_key <key>")
			}
			return e.cfg.Redacted().TMDBAPIKey, nil
		})

		// 4. Transport
		check("Answer transport", func() (string, error) {
			mode, err := e.cfg.Mode()
			if err != nil {
				return "", err
			}
			if _, err := e.cfg.GateOptions(); err != nil {
				return "", err
			}
			return string(mode), nil
		})

		// 5. OS and arch
		check("System info", func() (string, error) {
			return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), nil
		})

		fmt.Fprintln(os.Stderr)
		total := pass + fail + warn
		if fail == 0 && warn == 0 {
			green.Fprintf(os.Stderr, "  All %d checks passed. You're good to go.\n\n", total)
		} else if fail == 0 {
			yellow.Fprintf(os.Stderr, "  %d passed, %d warnings. Everything works, but some things could be better.\n\n", pass, warn)
		} else {
			red.Fprintf(os.Stderr, "  %d passed, %d failed, %d warnings. Fix the failures above.\n\n", pass, fail, warn)
		}
		return nil
	},
}

type pingResult struct {
	status  int
	elapsed time.Duration
	err     error
}

// pingAll probes every base concurrently. A failed probe is recorded in its
// result and does not cancel the others.
func pingAll(ctx context.Context, bases []string, ping func(context.Context, string) (int, error)) []pingResult {
	results := make([]pingResult, len(bases))
	g, gctx := errgroup.WithContext(ctx)
	for i, base := range bases {
		i, base := i, base
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, pingTimeout)
			defer cancel()
			start := time.Now()
			status, err := ping(pctx, base)
			results[i] = pingResult{status: status, elapsed: time.Since(start), err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
