package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arin/reel/internal/assembler"
	"github.com/arin/reel/internal/backend"
	"github.com/arin/reel/internal/endpoint"
	"github.com/arin/reel/internal/movie"
)

type textTarget struct {
	text     string
	finished bool
}

func (t *textTarget) SetText(s string) { t.text = s }
func (t *textTarget) Finish()          { t.finished = true }

var dune = movie.Ref{TMDBID: "438631", Key: movie.NewKey("Dune", "2021")}

// sseServer writes each frame separately, flushing between them.
func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			io.WriteString(w, f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func TestStreamed_DeepDive(t *testing.T) {
	srv := sseServer(t,
		"data: {\"token\": \"Paul \"}\n\n",
		"data: {\"token\": \"Atreides\"}\n\n",
		"data: [DONE]\n\n",
	)
	defer srv.Close()

	client := backend.NewClient(endpoint.NewResolver(srv.URL), nil)
	ch := NewDeepDive(client, dune, nil)
	target := &textTarget{}
	sink := assembler.New(target, nil)

	if err := ch.Ask(context.Background(), "who is the hero?", sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sink.Close()
	if target.text != "Paul Atreides" || !target.finished {
		t.Errorf("unexpected result: %+v", target)
	}
}

func TestStreamed_PrematureEndIsNotAnError(t *testing.T) {
	srv := sseServer(t, "data: {\"token\": \"half an ans\"}\n\n")
	defer srv.Close()

	client := backend.NewClient(endpoint.NewResolver(srv.URL), nil)
	target := &textTarget{}
	sink := assembler.New(target, nil)

	if err := NewSummary(client, dune, nil).Ask(context.Background(), "", sink); err != nil {
		t.Fatalf("premature end should not be an error, got %v", err)
	}
	if sink.Ended() {
		t.Error("no end marker was sent")
	}
	if target.text != "half an ans" {
		t.Errorf("partial text should be kept, got %q", target.text)
	}
}

func TestStreamed_StopsAtEndMarker(t *testing.T) {
	body := &countingBody{r: strings.NewReader("data: {\"token\":\"x\"}\ndata: [DONE]\n")}
	ch := NewStreamed(func(context.Context, string) (io.ReadCloser, error) { return body, nil }, nil)
	sink := assembler.New(&textTarget{}, nil)

	if err := ch.Ask(context.Background(), "q", sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !body.closed {
		t.Error("body should be closed after the answer")
	}
}

func TestStreamed_OpenErrorPropagates(t *testing.T) {
	want := errors.New("boom")
	ch := NewStreamed(func(context.Context, string) (io.ReadCloser, error) { return nil, want }, nil)
	if err := ch.Ask(context.Background(), "q", assembler.New(&textTarget{}, nil)); !errors.Is(err, want) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestStreamed_CancelAbortsRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: {\"token\": \"first\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := backend.NewClient(endpoint.NewResolver(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	target := &textTarget{}
	sink := assembler.New(target, nil)

	done := make(chan error, 1)
	go func() { done <- NewDeepDive(client, dune, nil).Ask(ctx, "q", sink) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ask did not return after cancel")
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeStream, "SSE": ModeStream, "stream": ModeStream, "ws": ModeDuplex, "duplex": ModeDuplex, "websocket": ModeDuplex}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("carrier-pigeon"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

type countingBody struct {
	r      io.Reader
	closed bool
}

func (b *countingBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *countingBody) Close() error               { b.closed = true; return nil }

type failingSink struct{ writes int }

func (s *failingSink) Write(p []byte) (int, error) {
	s.writes++
	return 0, errors.New("sink is full")
}
func (s *failingSink) Append(string) {}
func (s *failingSink) Ended() bool   { return false }

func TestStreamed_SinkWriteError(t *testing.T) {
	ch := NewStreamed(func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("data: {\"token\": \"a\"}\n\ndata: [DONE]\n\n")), nil
	}, nil)
	sink := &failingSink{}

	err := ch.Ask(context.Background(), "q", sink)
	if err == nil || !strings.Contains(err.Error(), "sink is full") {
		t.Fatalf("expected the sink error, got %v", err)
	}
	if sink.writes != 1 {
		t.Errorf("expected reading to stop after the failed write, got %d writes", sink.writes)
	}
}
