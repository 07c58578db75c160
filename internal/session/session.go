// Package session owns one conversation about one movie: its readiness
// status, its message log, and the single-question-at-a-time send gate.
//
// A Session is created when a chat opens and closed when it ends. Every
// state change happens under the session lock; network reads and polling
// run in goroutines bound to the session context and stop touching the
// session once it is closed.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arin/reel/internal/assembler"
	"github.com/arin/reel/internal/logger"
	"github.com/arin/reel/internal/movie"
	"github.com/arin/reel/internal/readiness"
	"github.com/arin/reel/internal/transport"
)

var (
	ErrBusy          = errors.New("still waiting for the previous answer")
	ErrNotReady      = errors.New("the movie is not ready for questions")
	ErrEmptyQuestion = errors.New("question is empty")
	ErrClosed        = errors.New("session closed")
)

// Observer is called with a copy of every appended or updated message.
// Calls are serialized.
type Observer func(Message)

// ChannelFactory builds the answer channel. The session passes its own
// state handler so a Duplex channel can report open/closed.
type ChannelFactory func(onState transport.StateObserver) transport.Channel

type Session struct {
	id       string
	key      movie.Key
	checker  readiness.Checker
	channel  transport.Channel
	gateOpts []readiness.Option
	observe  Observer
	log      *logger.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	closed   bool
	status   readiness.Status
	messages []Message
	awaiting bool
	sendable bool
	lastErr  error

	notifyMu sync.Mutex
	inflight sync.WaitGroup
}

// stateReporter is implemented by channels that report their own
// lifecycle through the StateObserver.
type stateReporter interface {
	State() transport.State
}

type Option func(*Session)

// WithGateOptions tunes the readiness gate (poll interval, attempt ceiling).
func WithGateOptions(opts ...readiness.Option) Option {
	return func(s *Session) { s.gateOpts = append(s.gateOpts, opts...) }
}

func WithObserver(fn Observer) Option {
	return func(s *Session) { s.observe = fn }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Session) { s.log = logger.OrNop(l) }
}

// New creates a session for key. The key is fixed for the session's
// lifetime.
func New(key movie.Key, checker readiness.Checker, newChannel ChannelFactory, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		key:     key,
		checker: checker,
		log:     logger.Nop(),
		status:  readiness.Checking,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id, "movie", key.String())
	s.channel = newChannel(s.handleChannelState)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Key() movie.Key { return s.key }

// Status returns the readiness status.
func (s *Session) Status() readiness.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Busy reports whether a question is awaiting its answer. Input should be
// disabled while it is true.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

// CanSend reports whether Submit would accept a non-empty question now.
func (s *Session) CanSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejectLocked() == nil
}

// LastError reports how the most recently completed question ended. Nil
// means it was answered.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Messages returns a copy of the log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Start runs the readiness gate to completion and, once ready, opens the
// answer channel. It blocks for as long as preparation takes.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	sctx := s.ctx
	s.mu.Unlock()

	opts := append(append([]readiness.Option(nil), s.gateOpts...),
		readiness.WithObserver(s.handleTransition),
		readiness.WithLogger(s.log),
	)
	gate := readiness.New(s.key, s.checker, opts...)
	st, err := gate.Run(sctx)
	if s.isClosed() {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	if st != readiness.Ready {
		return ErrNotReady
	}

	if err := s.channel.Open(sctx); err != nil {
		if s.isClosed() {
			return ErrClosed
		}
		s.appendAI(channelOpenErrorText())
		return err
	}
	if _, reports := s.channel.(stateReporter); !reports {
		s.handleChannelState(transport.Open)
	}
	return nil
}

// Submit appends the question and an empty streaming AI message, then asks
// the channel in the background. The returned channel is closed once the
// answer is complete, failed, or abandoned. Rejected questions leave the
// log untouched.
func (s *Session) Submit(question string) (<-chan struct{}, error) {
	q := strings.TrimSpace(question)

	s.mu.Lock()
	if err := s.rejectLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if q == "" {
		s.mu.Unlock()
		return nil, ErrEmptyQuestion
	}
	user := s.appendLocked(User, q, false)
	reply := s.appendLocked(AI, "", true)
	s.awaiting = true
	ctx := s.ctx
	s.inflight.Add(1)
	s.mu.Unlock()

	s.notify(user)
	s.notify(reply)

	done := make(chan struct{})
	go s.ask(ctx, q, reply.ID, done)
	return done, nil
}

// Close abandons the session: polling stops, in-flight reads are aborted,
// the channel is closed, and late updates are discarded.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.channel.Close()
	s.inflight.Wait()
	return err
}

func (s *Session) rejectLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.awaiting:
		return ErrBusy
	case s.status != readiness.Ready:
		return ErrNotReady
	case !s.sendable:
		return transport.ErrChannelClosed
	}
	return nil
}

func (s *Session) ask(ctx context.Context, question string, id int, done chan struct{}) {
	defer close(done)
	defer s.inflight.Done()

	asm := assembler.New(&messageTarget{s: s, id: id}, s.log)
	err := s.channel.Ask(ctx, question, asm)
	if err == nil {
		asm.Close()
	}
	s.complete(id, err)
}

// complete clears the send gate for the question answered into message id.
// On failure the placeholder either becomes the error notice, when nothing
// was streamed into it, or keeps its partial text and the notice is
// appended after it.
func (s *Session) complete(id int, err error) {
	s.mu.Lock()
	s.awaiting = false
	s.lastErr = err
	if s.closed {
		s.mu.Unlock()
		return
	}
	if err == nil {
		s.mu.Unlock()
		return
	}
	if errors.Is(err, transport.ErrChannelClosed) {
		// The failed question is the close notice.
		s.sendable = false
	}

	s.log.Warn("question failed", "error", err)
	text := answerErrorText(err)
	var changed []Message
	m := &s.messages[id-1]
	if m.Text == "" {
		m.Text = text
		m.Streaming = false
		changed = append(changed, *m)
	} else {
		m.Streaming = false
		changed = append(changed, *m)
		changed = append(changed, s.appendLocked(AI, text, false))
	}
	s.mu.Unlock()

	for _, c := range changed {
		s.notify(c)
	}
}

// handleTransition appends the AI notice for a readiness change.
func (s *Session) handleTransition(tr readiness.Transition) {
	var text string
	switch tr.To {
	case readiness.Generating:
		text = preparingText(s.key)
	case readiness.Ready:
		if tr.From == readiness.Checking {
			text = welcomeText(s.key)
		} else {
			text = readyText(s.key)
		}
	case readiness.Error:
		text = gateErrorText(s.key, tr.Err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = tr.To
	msg := s.appendLocked(AI, text, false)
	s.mu.Unlock()
	s.notify(msg)
}

// handleChannelState tracks whether questions can be sent. A channel that
// closes while idle gets a notice; one that closes mid-question is reported
// by that question's failure.
func (s *Session) handleChannelState(st transport.State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch st {
	case transport.Open:
		s.sendable = true
		s.mu.Unlock()
		return
	case transport.Closed:
		wasSendable := s.sendable
		s.sendable = false
		if !wasSendable || s.awaiting {
			s.mu.Unlock()
			return
		}
		msg := s.appendLocked(AI, channelClosedText(), false)
		s.mu.Unlock()
		s.notify(msg)
		return
	}
	s.mu.Unlock()
}

func (s *Session) appendAI(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	msg := s.appendLocked(AI, text, false)
	s.mu.Unlock()
	s.notify(msg)
}

// appendLocked adds a message and returns a copy. IDs are 1-based ordinals
// matching the message's position, since nothing is ever removed.
func (s *Session) appendLocked(sender Sender, text string, streaming bool) Message {
	msg := Message{ID: len(s.messages) + 1, Text: text, Sender: sender, Streaming: streaming}
	s.messages = append(s.messages, msg)
	return msg
}

// update applies fn to the streaming message id. Finished messages and
// closed sessions are left alone.
func (s *Session) update(id int, fn func(m *Message)) {
	s.mu.Lock()
	if s.closed || id < 1 || id > len(s.messages) || !s.messages[id-1].Streaming {
		s.mu.Unlock()
		return
	}
	m := &s.messages[id-1]
	fn(m)
	msg := *m
	s.mu.Unlock()
	s.notify(msg)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) notify(m Message) {
	if s.observe == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.observe(m)
}

// messageTarget points an assembler at one streaming message.
type messageTarget struct {
	s  *Session
	id int
}

func (t *messageTarget) SetText(text string) {
	t.s.update(t.id, func(m *Message) { m.Text = text })
}

func (t *messageTarget) Finish() {
	t.s.update(t.id, func(m *Message) { m.Streaming = false })
}
