package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/arin/reel/internal/logger"
	"github.com/arin/reel/internal/movie"
)

const readBufferSize = 4 << 10

// OpenFunc starts one event-stream request for question.
type OpenFunc func(ctx context.Context, question string) (io.ReadCloser, error)

// DeepDiver opens deep-dive answer streams.
type DeepDiver interface {
	DeepDive(ctx context.Context, ref movie.Ref, question string) (io.ReadCloser, error)
}

// Summarizer opens summary streams.
type Summarizer interface {
	Summarize(ctx context.Context, ref movie.Ref) (io.ReadCloser, error)
}

// Streamed answers each question over its own HTTP response body.
type Streamed struct {
	open OpenFunc
	log  *logger.Logger
}

func NewStreamed(open OpenFunc, log *logger.Logger) *Streamed {
	return &Streamed{open: open, log: logger.OrNop(log)}
}

// NewDeepDive streams answers to questions about ref.
func NewDeepDive(c DeepDiver, ref movie.Ref, log *logger.Logger) *Streamed {
	return NewStreamed(func(ctx context.Context, question string) (io.ReadCloser, error) {
		return c.DeepDive(ctx, ref, question)
	}, log)
}

// NewSummary streams the summary of ref. The question text is ignored.
func NewSummary(c Summarizer, ref movie.Ref, log *logger.Logger) *Streamed {
	return NewStreamed(func(ctx context.Context, _ string) (io.ReadCloser, error) {
		return c.Summarize(ctx, ref)
	}, log)
}

func (s *Streamed) Open(context.Context) error { return nil }

func (s *Streamed) Close() error { return nil }

// Ask copies the response body into sink until the end marker or the end
// of the body. A body that stops early yields a complete, possibly
// truncated answer rather than an error.
func (s *Streamed) Ask(ctx context.Context, question string, sink Sink) error {
	body, err := s.open(ctx, question)
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, readBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to decode answer stream: %w", werr)
			}
		}
		if sink.Ended() {
			return nil
		}
		if rerr == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(rerr, io.EOF) {
			s.log.Info("answer stream ended without end marker; keeping partial answer")
		} else {
			s.log.Warn("answer stream interrupted; keeping partial answer", "error", rerr)
		}
		return nil
	}
}
