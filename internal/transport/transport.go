// Package transport delivers answers from the movie AI service. Two
// channels share one capability, "ask one question, receive zero or more
// text events, then a terminal signal":
//
//   - Streamed opens a fresh event-stream HTTP request per question.
//   - Duplex keeps one websocket open for the whole session.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrChannelClosed is returned when the channel closes before, or while,
// answering a question.
var ErrChannelClosed = errors.New("answer channel closed")

// ErrInFlight is returned when Ask is called while another question is
// still being answered.
var ErrInFlight = errors.New("a question is already in flight")

// AnswerError carries an error frame sent by the service in place of an
// answer.
type AnswerError struct {
	Message string
}

func (e *AnswerError) Error() string {
	if e.Message == "" {
		return "the service could not answer"
	}
	return e.Message
}

// Sink receives the answer to a single question. The assembler package
// provides the implementation.
type Sink interface {
	// Write takes raw event-stream bytes.
	io.Writer
	// Append takes already-decoded answer text.
	Append(text string)
	// Ended reports whether the end-of-stream marker was seen.
	Ended() bool
}

// Channel is implemented by Streamed and Duplex.
type Channel interface {
	// Open prepares the channel for questions. Streamed has nothing to do.
	Open(ctx context.Context) error
	// Ask sends question and feeds the answer into sink. It returns once
	// the answer is complete. A nil error means the answer is final, even
	// when the stream ended without its end marker.
	Ask(ctx context.Context, question string, sink Sink) error
	// Close releases the channel. A closed Duplex refuses further questions.
	Close() error
}

// State is the lifecycle of a Duplex channel.
type State string

const (
	Connecting State = "connecting"
	Open       State = "open"
	Closed     State = "closed"
)

// StateObserver is told about every lifecycle change.
type StateObserver func(State)

// Mode selects the channel used for chat questions.
type Mode string

const (
	ModeStream Mode = "stream"
	ModeDuplex Mode = "duplex"
)

// ParseMode accepts "stream"/"sse" and "duplex"/"ws"/"websocket".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stream", "sse":
		return ModeStream, nil
	case "duplex", "ws", "websocket":
		return ModeDuplex, nil
	}
	return "", fmt.Errorf("unknown transport %q (expected stream or duplex)", s)
}
