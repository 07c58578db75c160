package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arin/reel/internal/endpoint"
	"github.com/arin/reel/internal/logger"
	"github.com/arin/reel/internal/movie"
)

const (
	frameAnswer = "answer"
	frameError  = "error"

	closeWriteTimeout = time.Second
)

// Conn is the subset of *websocket.Conn the Duplex channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// HandshakeError means the service answered the upgrade request with an
// HTTP status. The address was reachable, so no other address is tried.
type HandshakeError struct {
	URL    string
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake with %s failed (status %d): %v", e.URL, e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// DialWebsocket is the default Dialer.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{URL: url, Status: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return conn, nil
}

// ChatURLs lists the duplex chat addresses for key, primary first.
func ChatURLs(r *endpoint.Resolver, key movie.Key) []string {
	return r.Realtime("ws", "chat", key.PathSegment())
}

type outboundFrame struct {
	Question string `json:"question"`
}

type inboundFrame struct {
	Type     string `json:"type"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Message  string `json:"message,omitempty"`
}

type result struct {
	answer string
	err    error
}

// Duplex is a persistent websocket channel: opened once, then any number
// of questions, one at a time. It does not reconnect; once closed, every
// Ask fails with ErrChannelClosed.
//
// All socket callbacks funnel into handleOpen, handleFrame and handleClose,
// which can be driven directly with synthetic events.
type Duplex struct {
	urls    []string
	dial    Dialer
	onState StateObserver
	log     *logger.Logger

	mu      sync.Mutex
	state   State
	opened  bool
	conn    Conn
	pending chan result

	writeMu sync.Mutex
}

type DuplexOption func(*Duplex)

func WithDialer(d Dialer) DuplexOption {
	return func(x *Duplex) { x.dial = d }
}

func WithStateObserver(fn StateObserver) DuplexOption {
	return func(x *Duplex) { x.onState = fn }
}

func WithLogger(l *logger.Logger) DuplexOption {
	return func(x *Duplex) { x.log = logger.OrNop(l) }
}

// NewDuplex dials urls in order when opened. A later address is tried only
// when the previous one could not be reached.
func NewDuplex(urls []string, opts ...DuplexOption) *Duplex {
	d := &Duplex{
		urls:  urls,
		dial:  DialWebsocket,
		log:   logger.Nop(),
		state: Connecting,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle state.
func (d *Duplex) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Open dials the service and starts the read loop.
func (d *Duplex) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.opened {
		d.mu.Unlock()
		return errors.New("duplex channel already opened")
	}
	d.opened = true
	d.mu.Unlock()

	d.emit(Connecting)
	conn, url, err := d.dialAny(ctx)
	if err != nil {
		d.handleClose(err)
		return fmt.Errorf("could not open chat channel: %w", err)
	}
	d.log.Debug("dialed chat channel", "url", url)
	if !d.handleOpen(conn) {
		return ErrChannelClosed
	}
	go d.readLoop(conn)
	return nil
}

// Ask sends question and waits for the matching answer or error frame.
func (d *Duplex) Ask(ctx context.Context, question string, sink Sink) error {
	payload, err := json.Marshal(outboundFrame{Question: question})
	if err != nil {
		return fmt.Errorf("failed to marshal question: %w", err)
	}

	d.mu.Lock()
	if d.state != Open {
		d.mu.Unlock()
		return ErrChannelClosed
	}
	if d.pending != nil {
		d.mu.Unlock()
		return ErrInFlight
	}
	pending := make(chan result, 1)
	d.pending = pending
	conn := d.conn
	d.mu.Unlock()

	if err := d.write(conn, websocket.TextMessage, payload); err != nil {
		// handleClose resolves pending with ErrChannelClosed.
		d.handleClose(err)
	}

	select {
	case res := <-pending:
		if res.err != nil {
			return res.err
		}
		sink.Append(res.answer)
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		if d.pending == pending {
			d.pending = nil
		}
		d.mu.Unlock()
		return ctx.Err()
	}
}

// Close sends a normal close frame and tears the connection down.
func (d *Duplex) Close() error {
	d.mu.Lock()
	conn := d.conn
	closed := d.state == Closed
	d.mu.Unlock()
	if closed {
		return nil
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		d.writeMu.Lock()
		if wc, ok := conn.(interface {
			WriteControl(int, []byte, time.Time) error
		}); ok {
			_ = wc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		} else {
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
		}
		d.writeMu.Unlock()
	}
	d.handleClose(nil)
	return nil
}

// dialAny walks the addresses the way backend calls do: on to the next one
// after a network failure, stopping at a handshake refusal or cancellation.
func (d *Duplex) dialAny(ctx context.Context) (Conn, string, error) {
	if len(d.urls) == 0 {
		return nil, "", errors.New("no chat address configured")
	}
	var err error
	for i, url := range d.urls {
		var conn Conn
		conn, err = d.dial(ctx, url)
		if err == nil {
			return conn, url, nil
		}
		var hs *HandshakeError
		if errors.As(err, &hs) || ctx.Err() != nil {
			return nil, "", err
		}
		if i < len(d.urls)-1 {
			d.log.Warn("chat address unreachable, trying the next one", "url", url, "error", err)
		}
	}
	return nil, "", err
}

func (d *Duplex) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			d.handleClose(err)
			return
		}
		d.handleFrame(data)
	}
}

func (d *Duplex) write(conn Conn, messageType int, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

// handleOpen records conn and moves to Open. It reports false when the
// channel was closed while dialing; conn is closed in that case.
func (d *Duplex) handleOpen(conn Conn) bool {
	d.mu.Lock()
	if d.state == Closed {
		d.mu.Unlock()
		conn.Close()
		return false
	}
	d.conn = conn
	d.state = Open
	d.mu.Unlock()

	d.log.Debug("chat channel open")
	d.emit(Open)
	return true
}

// handleFrame resolves the in-flight question with an inbound frame.
// Frames that cannot be parsed, or that arrive with nothing in flight, are
// logged and dropped.
func (d *Duplex) handleFrame(data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		d.log.Warn("discarding malformed chat frame", "payload", string(data), "error", err)
		return
	}

	var res result
	switch in.Type {
	case frameAnswer:
		res = result{answer: in.Answer}
	case frameError:
		res = result{err: &AnswerError{Message: in.Message}}
	default:
		d.log.Warn("discarding chat frame of unknown type", "type", in.Type)
		return
	}

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	if pending == nil {
		d.log.Warn("discarding chat frame with no question in flight", "type", in.Type)
		return
	}
	pending <- res
}

// handleClose moves to Closed once, failing any in-flight question.
func (d *Duplex) handleClose(cause error) {
	d.mu.Lock()
	if d.state == Closed {
		d.mu.Unlock()
		return
	}
	d.state = Closed
	pending := d.pending
	d.pending = nil
	conn := d.conn
	d.mu.Unlock()

	if pending != nil {
		pending <- result{err: ErrChannelClosed}
	}
	if conn != nil {
		conn.Close()
	}
	if cause != nil && !websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		d.log.Warn("chat channel closed", "error", cause)
	} else {
		d.log.Debug("chat channel closed")
	}
	d.emit(Closed)
}

func (d *Duplex) emit(s State) {
	if d.onState != nil {
		d.onState(s)
	}
}
