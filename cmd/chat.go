package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/arin/reel/internal/movie"
	"github.com/arin/reel/internal/readiness"
	"github.com/arin/reel/internal/session"
	"github.com/arin/reel/internal/stats"
	"github.com/arin/reel/internal/transport"
	"github.com/arin/reel/internal/ui"
)

var (
	chatMovie     movieFlags
	chatTransport string
)

var chatCmd = &cobra.Command{
	Use:   "chat [tmdb-id]",
	Short: "Start an interactive Q&A session about a movie",
	Long: `Start a conversation about one movie. The first time a movie is
used the service has to prepare it, which can take a few minutes; reel
waits and tells you when it is ready.

Answers stream in as they are written. One question at a time.
Type 'exit' or 'quit' to end the session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.log.Sync()
		ctx := cmd.Context()

		mode, err := e.cfg.Mode()
		if chatTransport != "" {
			mode, err = transport.ParseMode(chatTransport)
		}
		if err != nil {
			return err
		}
		gateOpts, err := e.cfg.GateOptions()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		ref, m, err := e.resolveMovie(ctx, args, chatMovie)
		if err != nil {
			return err
		}
		printMovie(ref, m)

		view := newChatView(fmt.Sprintf("Checking %s...", ref.Key))
		s := session.New(ref.Key, e.client, channelFactory(e, ref, mode),
			session.WithGateOptions(gateOpts...),
			session.WithObserver(view.show),
			session.WithLogger(e.log),
		)
		defer s.Close()
		view.status = s.Status

		view.begin()
		prepStart := time.Now()
		err = s.Start(ctx)
		prepWait := time.Since(prepStart)
		view.end()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.remember(ref, "chat", s.Status().String(), 0, false)
			// The session has already explained the failure.
			return fmt.Errorf("chat unavailable for %s: %w", ref.Key, err)
		}

		var answered int
		defer func() {
			e.remember(ref, "chat", s.Status().String(), answered, true)
		}()

		dim.Fprintf(os.Stderr, "  Type 'exit' to quit.\n\n")
		lines := readLines(ctx)

		for {
			if !s.CanSend() {
				// The duplex connection dropped; the session has said so.
				return errors.New("the chat connection is closed; start a new chat")
			}
			green.Fprint(os.Stderr, "  you → ")
			var input string
			select {
			case <-ctx.Done():
				fmt.Fprintln(os.Stderr)
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				input = strings.TrimSpace(line)
			}

			if input == "" {
				continue
			}
			if input == "exit" || input == "quit" || input == "bye" {
				dim.Fprintf(os.Stderr, "\n  Enjoy the movie! 🍿\n\n")
				return nil
			}

			asked := time.Now()
			view.thinking()
			done, err := s.Submit(input)
			if err != nil {
				view.end()
				switch {
				case errors.Is(err, session.ErrEmptyQuestion):
					continue
				case errors.Is(err, transport.ErrChannelClosed):
					return errors.New("the chat connection is closed; start a new chat")
				default:
					return err
				}
			}

			select {
			case <-done:
			case <-ctx.Done():
				view.end()
				if s.Busy() {
					dim.Fprint(os.Stderr, "\n  (answer interrupted)")
				}
				fmt.Fprintln(os.Stderr)
				return nil
			}
			view.end()

			answerErr := s.LastError()
			rec := stats.Record{
				Movie:       ref.Key,
				Subcommand:  "chat",
				Transport:   string(mode),
				FirstTextMs: stats.Ms(view.firstText(asked)),
				TotalMs:     stats.Ms(time.Since(asked)),
				Success:     answerErr == nil,
			}
			if view.takePrepared() {
				rec.Prepared = true
				rec.PrepWaitMs = stats.Ms(prepWait)
			}
			if answerErr == nil {
				answered++
			}
			e.saveStats(rec)
		}
	},
}

func init() {
	chatMovie.register(chatCmd)
	chatCmd.Flags().StringVar(&chatTransport, "transport", "", "Answer channel: stream or duplex (default from config)")
}

// channelFactory picks the answer channel for mode.
func channelFactory(e *env, ref movie.Ref, mode transport.Mode) session.ChannelFactory {
	return func(onState transport.StateObserver) transport.Channel {
		if mode == transport.ModeDuplex {
			return transport.NewDuplex(transport.ChatURLs(e.client.Resolver(), ref.Key),
				transport.WithStateObserver(onState),
				transport.WithLogger(e.log),
			)
		}
		return transport.NewDeepDive(e.client, ref, e.log)
	}
}

// readLines feeds stdin lines to a channel so the chat loop can also watch
// for Ctrl-C.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// chatView renders session updates and runs a spinner while reel waits.
// While preparing, the spinner pauses around each notice; while waiting
// for an answer, the first update stops it.
type chatView struct {
	renderer *ui.Renderer
	status   func() readiness.Status
	initial  string

	mu        sync.Mutex
	spinner   *ui.Spinner
	preparing bool
	prepared  bool
	textAt    time.Time
}

func newChatView(initial string) *chatView {
	var opts []ui.RendererOption
	// Piped questions are not echoed by a terminal, so keep them in the
	// transcript next to their answers.
	if fd := os.Stdin.Fd(); !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		opts = append(opts, ui.WithUserEcho())
	}
	return &chatView{renderer: ui.NewRenderer(os.Stdout, opts...), initial: initial}
}

func (v *chatView) begin() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.preparing = true
	v.spinner = ui.NewSpinner(v.initial)
	v.spinner.Start()
}

func (v *chatView) thinking() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.preparing = false
	v.textAt = time.Time{}
	v.spinner = ui.NewSpinner("Thinking...")
	v.spinner.Start()
}

func (v *chatView) end() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.spinner != nil {
		v.spinner.Stop()
		v.spinner = nil
	}
	v.renderer.Flush()
}

func (v *chatView) show(m session.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.spinner == nil:
		v.renderer.Render(m)
	case v.preparing:
		v.spinner.Pause(func() { v.renderer.Render(m) })
		if v.status != nil && v.status() == readiness.Generating {
			v.prepared = true
			v.spinner.SetMessage("Preparing the movie, this can take a few minutes...")
		}
	case m.Sender == session.AI && m.Text == "" && m.Streaming:
		// Shown once text arrives.
	case m.Sender == session.AI:
		v.textAt = time.Now()
		v.spinner.Stop()
		v.spinner = nil
		v.renderer.Render(m)
	default:
		v.renderer.Render(m)
	}
}

// firstText is how long after asked the first answer text was shown, or 0
// if none was.
func (v *chatView) firstText(asked time.Time) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.textAt.IsZero() {
		return 0
	}
	return v.textAt.Sub(asked)
}

// takePrepared reports once whether the movie had to be prepared.
func (v *chatView) takePrepared() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	p := v.prepared
	v.prepared = false
	return p
}
