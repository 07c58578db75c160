// Package ui provides terminal UI helpers.
package ui

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// Spinner wraps a terminal spinner for loading states. It is safe to use
// from the goroutines that deliver session updates.
type Spinner struct {
	mu sync.Mutex
	s  *spinner.Spinner
	w  io.Writer
}

// NewSpinner creates a spinner with the given message on stderr.
func NewSpinner(msg string) *Spinner {
	return NewSpinnerTo(os.Stderr, msg)
}

// NewSpinnerTo creates a spinner writing to w.
func NewSpinnerTo(w io.Writer, msg string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = "  " + msg
	s.Color("cyan")
	return &Spinner{s: s, w: w}
}

// Start begins the spinner animation.
func (sp *Spinner) Start() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.s.Start()
}

// Stop halts the spinner and clears the line.
func (sp *Spinner) Stop() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.s.Stop()
}

// SetMessage replaces the text shown next to the spinner.
func (sp *Spinner) SetMessage(msg string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.s.Lock()
	sp.s.Suffix = "  " + msg
	sp.s.Unlock()
}

// Pause stops the spinner while fn prints, then resumes it if it was
// running.
func (sp *Spinner) Pause(fn func()) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	active := sp.s.Active()
	if active {
		sp.s.Stop()
	}
	fn()
	if active {
		sp.s.Start()
	}
}

// Success stops the spinner and prints a green check.
func (sp *Spinner) Success(msg string) {
	sp.Stop()
	green := color.New(color.FgGreen)
	green.Fprintf(sp.w, "  ✓ %s\n", msg)
}

// Fail stops the spinner and prints a red cross.
func (sp *Spinner) Fail(msg string) {
	sp.Stop()
	red := color.New(color.FgRed)
	red.Fprintf(sp.w, "  ✗ %s\n", msg)
}
