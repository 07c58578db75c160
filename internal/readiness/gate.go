// Package readiness tracks whether the backend has finished preparing a
// movie. When it has not, the Gate triggers preparation once and polls
// until the movie is ready, polling fails for good, or the attempt ceiling
// is reached.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arin/reel/internal/logger"
	"github.com/arin/reel/internal/movie"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 60
)

// ErrTimeout is returned when preparation is still incomplete after the
// maximum number of polls.
var ErrTimeout = errors.New("movie preparation timed out")

// Checker is the part of the backend the Gate depends on.
type Checker interface {
	CheckEmbeddings(ctx context.Context, key movie.Key) (bool, error)
	GenerateEmbeddings(ctx context.Context, key movie.Key) error
}

// Transition describes one status change.
type Transition struct {
	From     Status
	To       Status
	Attempts int
	// Err is set when To is Error.
	Err error
}

// Observer is called synchronously after every accepted transition.
type Observer func(Transition)

// Gate is single use: one Gate per session and movie.
type Gate struct {
	key         movie.Key
	checker     Checker
	interval    time.Duration
	maxAttempts int
	observe     Observer
	log         *logger.Logger

	mu        sync.Mutex
	status    Status
	attempts  int
	started   bool
	triggered bool
	bg        sync.WaitGroup
}

type Option func(*Gate)

func WithInterval(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithMaxAttempts lowers the poll ceiling. It cannot be raised above
// DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(g *Gate) {
		if n > 0 && n <= DefaultMaxAttempts {
			g.maxAttempts = n
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(g *Gate) { g.observe = fn }
}

func WithLogger(l *logger.Logger) Option {
	return func(g *Gate) { g.log = logger.OrNop(l) }
}

func New(key movie.Key, checker Checker, opts ...Option) *Gate {
	g := &Gate{
		key:         key,
		checker:     checker,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		log:         logger.Nop(),
		status:      Checking,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With("movie", key.String())
	return g
}

// Status returns the current status.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Attempts returns how many polls have been issued.
func (g *Gate) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

// Run drives the gate to a terminal status and returns it. Cancelling ctx
// stops polling immediately and returns ctx.Err() without a transition.
func (g *Gate) Run(ctx context.Context) (Status, error) {
	g.mu.Lock()
	if g.started {
		st := g.status
		g.mu.Unlock()
		return st, fmt.Errorf("readiness gate for %q already run", g.key)
	}
	g.started = true
	g.mu.Unlock()

	exists, err := g.checker.CheckEmbeddings(ctx, g.key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return g.Status(), ctxErr
		}
		err = fmt.Errorf("readiness check failed: %w", err)
		g.transition(Error, err)
		return Error, err
	}
	if exists {
		g.transition(Ready, nil)
		return Ready, nil
	}

	g.transition(Generating, nil)
	g.trigger(ctx)
	return g.poll(ctx)
}

// Wait blocks until the background preparation request has returned.
func (g *Gate) Wait() {
	g.bg.Wait()
}

// trigger fires the preparation request without waiting for it. Its
// outcome never changes the status; polling decides.
func (g *Gate) trigger(ctx context.Context) {
	g.mu.Lock()
	if g.triggered {
		g.mu.Unlock()
		return
	}
	g.triggered = true
	g.mu.Unlock()

	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		if err := g.checker.GenerateEmbeddings(ctx, g.key); err != nil && ctx.Err() == nil {
			g.log.Warn("preparation request failed; polling continues", "error", err)
			return
		}
		g.log.Debug("preparation requested")
	}()
}

func (g *Gate) poll(ctx context.Context) (Status, error) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return g.Status(), ctx.Err()
		case <-ticker.C:
		}

		g.mu.Lock()
		g.attempts++
		attempts := g.attempts
		g.mu.Unlock()

		exists, err := g.checker.CheckEmbeddings(ctx, g.key)
		switch {
		case err != nil && ctx.Err() != nil:
			return g.Status(), ctx.Err()
		case err != nil:
			g.log.Warn("readiness poll failed", "attempt", attempts, "error", err)
		case exists:
			g.transition(Ready, nil)
			return Ready, nil
		}

		if attempts >= g.maxAttempts {
			err := fmt.Errorf("%w after %d attempts", ErrTimeout, attempts)
			g.transition(Error, err)
			return Error, err
		}
		g.log.Debug("movie not ready yet", "attempt", attempts)
	}
}

// transition applies a forward move and notifies the observer. Backward or
// repeated moves are refused.
func (g *Gate) transition(to Status, err error) bool {
	g.mu.Lock()
	from := g.status
	if !from.canMoveTo(to) {
		g.mu.Unlock()
		g.log.Warn("refusing readiness transition", "from", from, "to", to)
		return false
	}
	g.status = to
	tr := Transition{From: from, To: to, Attempts: g.attempts, Err: err}
	g.mu.Unlock()

	g.log.Debug("readiness transition", "from", from, "to", to, "attempts", tr.Attempts)
	if g.observe != nil {
		g.observe(tr)
	}
	return true
}
