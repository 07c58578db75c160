package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arin/reel/internal/readiness"
	"github.com/arin/reel/internal/stats"
	"github.com/arin/reel/internal/ui"
)

var (
	statusMovie   movieFlags
	statusPrepare bool
)

var statusCmd = &cobra.Command{
	Use:   "status [tmdb-id]",
	Short: "Check whether a movie is ready for questions",
	Long: `Check whether the service has prepared a movie for questions.

With --prepare, reel triggers preparation when needed and waits until
the movie is ready or the attempt ceiling is reached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.log.Sync()
		ctx := cmd.Context()

		ref, _, err := e.resolveMovie(ctx, args, statusMovie)
		if err != nil {
			return err
		}

		if !statusPrepare {
			sp := ui.NewSpinner(fmt.Sprintf("Checking %s...", ref.Key))
			sp.Start()
			exists, err := e.client.CheckEmbeddings(ctx, ref.Key)
			if err != nil {
				sp.Fail("Could not reach the movie service")
				return err
			}
			if exists {
				sp.Success(fmt.Sprintf("%s is ready", ref.Key))
				return nil
			}
			sp.Stop()
			yellow.Fprintf(os.Stderr, "  ⚠ %s has not been prepared yet\n", ref.Key)
			dim.Fprintln(os.Stderr, "    run again with --prepare to prepare it")
			return nil
		}

		gateOpts, err := e.cfg.GateOptions()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		sp := ui.NewSpinner(fmt.Sprintf("Checking %s...", ref.Key))
		gateOpts = append(gateOpts,
			readiness.WithLogger(e.log),
			readiness.WithObserver(func(tr readiness.Transition) {
				if tr.To == readiness.Generating {
					sp.SetMessage(fmt.Sprintf("Preparing %s, this can take a few minutes...", ref.Key))
				}
			}),
		)

		gate := readiness.New(ref.Key, e.client, gateOpts...)
		sp.Start()
		start := time.Now()
		st, err := gate.Run(ctx)
		// Let the preparation request finish before the process exits.
		gate.Wait()
		if ctx.Err() == nil {
			wait := time.Since(start)
			rec := stats.Record{Movie: ref.Key, Subcommand: "status", TotalMs: stats.Ms(wait), Success: st == readiness.Ready}
			if gate.Attempts() > 0 {
				rec.Prepared = true
				rec.PrepWaitMs = stats.Ms(wait)
			}
			e.saveStats(rec)
			e.remember(ref, "status", st.String(), 0, st == readiness.Ready)
		}
		switch {
		case ctx.Err() != nil:
			sp.Stop()
			return nil
		case st == readiness.Ready:
			sp.Success(fmt.Sprintf("%s is ready (%d polls)", ref.Key, gate.Attempts()))
			return nil
		case errors.Is(err, readiness.ErrTimeout):
			sp.Fail(fmt.Sprintf("%s is still being prepared; try again later", ref.Key))
		default:
			sp.Fail("Could not reach the movie service")
		}
		return err
	},
}

func init() {
	statusMovie.register(statusCmd)
	statusCmd.Flags().BoolVar(&statusPrepare, "prepare", false, "Trigger preparation if needed and wait for it")
}
