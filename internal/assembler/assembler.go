// Package assembler rebuilds a streamed answer from raw event-stream bytes.
//
// The wire format is the one served by /summarize and /deep_dive:
//
//	data: {"token": "He"}
//	data: {"token": "llo"}
//	data: [DONE]
//
// Bytes may arrive in arbitrary chunks, splitting lines and multi-byte
// characters anywhere. The Assembler keeps the full accumulated text and
// hands it to its Target after every token.
package assembler

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/arin/reel/internal/logger"
)

const (
	framePrefix = "data:"
	endMarker   = "[DONE]"
)

// Target is the single in-progress message an Assembler writes into.
type Target interface {
	// SetText replaces the message text with the full accumulated answer.
	SetText(text string)
	// Finish marks the message as no longer streaming.
	Finish()
}

// frame is the JSON payload of one data line.
type frame struct {
	Token string `json:"token"`
}

// Assembler is an io.Writer. It is not safe for concurrent use; one
// transport goroutine feeds it.
type Assembler struct {
	target Target
	log    *logger.Logger

	// pending holds the bytes of a UTF-8 sequence cut by a chunk boundary.
	pending []byte
	line    strings.Builder
	acc     strings.Builder

	tokens    int
	malformed int
	ended     bool
	finished  bool
}

func New(target Target, log *logger.Logger) *Assembler {
	return &Assembler{target: target, log: logger.OrNop(log)}
}

// Write consumes one raw chunk. It never fails: malformed frames are logged
// and skipped, and anything after the end marker is ignored.
func (a *Assembler) Write(p []byte) (int, error) {
	if a.ended || a.finished {
		return len(p), nil
	}
	a.consume(a.decode(p))
	return len(p), nil
}

// Append adds a whole fragment of answer text, bypassing frame parsing.
// Used by transports that deliver answers as structured messages.
func (a *Assembler) Append(text string) {
	if a.finished || text == "" {
		return
	}
	a.tokens++
	a.acc.WriteString(text)
	a.target.SetText(a.acc.String())
}

// Close flushes any buffered partial line and finishes the target. It is
// safe to call more than once; the target is finished exactly once.
func (a *Assembler) Close() error {
	if a.finished {
		return nil
	}
	if !a.ended {
		if len(a.pending) > 0 {
			// A dangling partial sequence can never complete now.
			a.line.WriteString(strings.ToValidUTF8(string(a.pending), string(utf8.RuneError)))
			a.pending = nil
		}
		if a.line.Len() > 0 {
			rest := a.line.String()
			a.line.Reset()
			a.handleLine(rest)
		}
	}
	a.finished = true
	a.target.Finish()
	return nil
}

// Text returns the accumulated answer so far.
func (a *Assembler) Text() string { return a.acc.String() }

// Ended reports whether the end marker has been seen.
func (a *Assembler) Ended() bool { return a.ended }

// Tokens is the number of fragments accumulated.
func (a *Assembler) Tokens() int { return a.tokens }

// Malformed is the number of frames discarded because their payload could
// not be parsed.
func (a *Assembler) Malformed() int { return a.malformed }

// decode converts p to a string, carrying an incomplete trailing UTF-8
// sequence over to the next call.
func (a *Assembler) decode(p []byte) string {
	buf := append(a.pending, p...)
	a.pending = nil

	cut := len(buf)
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if utf8.RuneStart(buf[i]) {
			if !utf8.FullRune(buf[i:]) {
				cut = i
			}
			break
		}
	}
	if cut < len(buf) {
		a.pending = append([]byte(nil), buf[cut:]...)
	}
	return strings.ToValidUTF8(string(buf[:cut]), string(utf8.RuneError))
}

func (a *Assembler) consume(text string) {
	for !a.ended {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			a.line.WriteString(text)
			return
		}
		a.line.WriteString(text[:i])
		line := a.line.String()
		a.line.Reset()
		a.handleLine(line)
		text = text[i+1:]
	}
}

func (a *Assembler) handleLine(line string) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, framePrefix) {
		// Blank separators, comments and other SSE fields carry no tokens.
		return
	}
	payload := strings.TrimSpace(line[len(framePrefix):])
	if payload == endMarker {
		a.ended = true
		return
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		a.malformed++
		a.log.Warn("discarding malformed stream frame", "payload", payload, "error", err)
		return
	}
	a.Append(f.Token)
}
