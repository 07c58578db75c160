package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/arin/reel/internal/session"
)

// Renderer prints message updates. A message is printed once with its
// prefix; later updates for the same message print only the new suffix,
// and the line is ended when the message stops streaming.
type Renderer struct {
	w        io.Writer
	echoUser bool

	aiPrefix   *color.Color
	userPrefix *color.Color

	mu       sync.Mutex
	printed  map[int]string
	finished map[int]bool
	open     int
}

type RendererOption func(*Renderer)

// WithUserEcho also prints user messages. Interactive chat leaves it off
// since the terminal already shows what was typed.
func WithUserEcho() RendererOption {
	return func(r *Renderer) { r.echoUser = true }
}

func NewRenderer(w io.Writer, opts ...RendererOption) *Renderer {
	r := &Renderer{
		w:          w,
		aiPrefix:   color.New(color.FgCyan, color.Bold),
		userPrefix: color.New(color.FgGreen),
		printed:    make(map[int]string),
		finished:   make(map[int]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render is a session.Observer.
func (r *Renderer) Render(m session.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.Sender == session.User && !r.echoUser {
		r.finished[m.ID] = true
		return
	}

	if r.finished[m.ID] {
		return
	}
	prev := r.printed[m.ID]
	if r.open != m.ID {
		// A new message, or one whose line was ended by another.
		r.endOpenLine()
		r.prefix(m.Sender)
	}

	switch {
	case strings.HasPrefix(m.Text, prev):
		fmt.Fprint(r.w, m.Text[len(prev):])
	default:
		// The text was replaced rather than extended.
		fmt.Fprint(r.w, "\n    ")
		fmt.Fprint(r.w, m.Text)
	}
	r.printed[m.ID] = m.Text

	if m.Streaming {
		r.open = m.ID
		return
	}
	r.open = 0
	r.finished[m.ID] = true
	fmt.Fprint(r.w, "\n\n")
}

// Flush ends a line left open by a streaming message.
func (r *Renderer) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endOpenLine()
}

func (r *Renderer) endOpenLine() {
	if r.open == 0 {
		return
	}
	fmt.Fprint(r.w, "\n\n")
	r.open = 0
}

func (r *Renderer) prefix(s session.Sender) {
	if s == session.User {
		r.userPrefix.Fprint(r.w, "  you → ")
		return
	}
	r.aiPrefix.Fprint(r.w, "  reel → ")
}
