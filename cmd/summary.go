package cmd

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/arin/reel/internal/assembler"
	"github.com/arin/reel/internal/session"
	"github.com/arin/reel/internal/stats"
	"github.com/arin/reel/internal/transport"
	"github.com/arin/reel/internal/ui"
)

var summaryMovie movieFlags

var summaryCmd = &cobra.Command{
	Use:   "summary [tmdb-id]",
	Short: "Stream a summary of a movie",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.log.Sync()
		ctx := cmd.Context()

		ref, m, err := e.resolveMovie(ctx, args, summaryMovie)
		if err != nil {
			return err
		}
		printMovie(ref, m)

		target := newPrintTarget(ui.NewSpinner("Writing the summary..."))
		asm := assembler.New(target, e.log)
		target.spinner.Start()
		start := time.Now()
		err = transport.NewSummary(e.client, ref, e.log).Ask(ctx, "", asm)
		if err == nil {
			asm.Close()
		}
		target.stop()
		target.renderer.Flush()
		e.log.Debug("summary stream finished",
			"tokens", asm.Tokens(),
			"malformed", asm.Malformed(),
			"ended", asm.Ended(),
		)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil && asm.Text() == "" {
			err = errors.New("the service returned an empty summary")
		}

		e.remember(ref, "summary", "", 0, err == nil)
		e.saveStats(stats.Record{
			Movie:       ref.Key,
			Subcommand:  "summary",
			Transport:   string(transport.ModeStream),
			FirstTextMs: stats.Ms(target.firstText(start)),
			TotalMs:     stats.Ms(time.Since(start)),
			Success:     err == nil,
		})
		if err != nil {
			return fmt.Errorf("summary failed: %w", err)
		}
		if !asm.Ended() {
			dim.Fprintln(os.Stderr, "  (the summary ended early)")
		}
		return nil
	},
}

func init() {
	summaryMovie.register(summaryCmd)
}

// printTarget streams one answer to stdout through a Renderer, stopping the
// spinner when the first text arrives.
type printTarget struct {
	renderer *ui.Renderer
	spinner  *ui.Spinner

	mu       sync.Mutex
	spinning bool
	text     string
	firstAt  time.Time
}

func newPrintTarget(sp *ui.Spinner) *printTarget {
	return &printTarget{renderer: ui.NewRenderer(os.Stdout), spinner: sp, spinning: true}
}

func (t *printTarget) SetText(text string) {
	t.stop()
	t.mu.Lock()
	t.text = text
	if t.firstAt.IsZero() && text != "" {
		t.firstAt = time.Now()
	}
	t.mu.Unlock()
	t.renderer.Render(session.Message{ID: 1, Text: text, Sender: session.AI, Streaming: true})
}

func (t *printTarget) Finish() {
	t.mu.Lock()
	text := t.text
	t.mu.Unlock()
	if text != "" {
		t.renderer.Render(session.Message{ID: 1, Text: text, Sender: session.AI})
	}
}

func (t *printTarget) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.spinning {
		t.spinner.Stop()
		t.spinning = false
	}
}

func (t *printTarget) firstText(start time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstAt.IsZero() {
		return 0
	}
	return t.firstAt.Sub(start)
}
