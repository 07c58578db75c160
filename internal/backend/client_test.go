package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/arin/reel/internal/endpoint"
	"github.com/arin/reel/internal/movie"
)

func newTestClient(primary string) *Client {
	return NewClient(endpoint.NewResolver(primary), nil)
}

// deadURL returns the address of a server that has already been shut down.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestCheckEmbeddings_Exists(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"exists": true, "movie": "Dune (2021)", "status": "ready"}`))
	}))
	defer srv.Close()

	ok, err := newTestClient(srv.URL).CheckEmbeddings(context.Background(), movie.NewKey("Dune", "2021"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected exists=true")
	}
	if gotPath != "/check_embeddings/Dune%20%282021%29" {
		t.Errorf("unexpected path: %s", gotPath)
	}
}

func TestCheckEmbeddings_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"exists": false, "status": "not_found"}`))
	}))
	defer srv.Close()

	ok, err := newTestClient(srv.URL).CheckEmbeddings(context.Background(), movie.NewKey("Dune", "2021"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected exists=false")
	}
}

func TestCheckEmbeddings_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CheckEmbeddings(context.Background(), "Dune (2021)")
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestGenerateEmbeddings_SendsMovie(t *testing.T) {
	var body generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/generate_embeddings" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"status": "processing"}`))
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).GenerateEmbeddings(context.Background(), "Dune (2021)"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Movie != "Dune (2021)" {
		t.Errorf("unexpected movie: %q", body.Movie)
	}
}

func TestDo_StatusErrorNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Embeddings not ready yet. Try again soon."}`))
	}))
	defer srv.Close()

	c := NewClient(endpoint.NewResolver(srv.URL).WithFallback(srv.URL+"/"), nil)
	_, err := c.DeepDive(context.Background(), movie.Ref{TMDBID: "438631", Key: "Dune (2021)"}, "who is Paul?")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected status: %d", se.StatusCode)
	}
	if se.Body != "Embeddings not ready yet. Try again soon." {
		t.Errorf("expected detail to be extracted, got %q", se.Body)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("status errors must not be retried, got %d hits", hits)
	}
}

func TestDo_NetworkFailureFallsBack(t *testing.T) {
	var hits int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"exists": true}`))
	}))
	defer fallback.Close()

	c := NewClient(endpoint.NewResolver(deadURL(t)).WithFallback(fallback.URL), nil)
	ok, err := c.CheckEmbeddings(context.Background(), "Dune (2021)")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if !ok || atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected one successful fallback call, ok=%v hits=%d", ok, hits)
	}
}

func TestDo_AllCandidatesDown(t *testing.T) {
	c := NewClient(endpoint.NewResolver(deadURL(t)).WithFallback(deadURL(t)), nil)
	_, err := c.CheckEmbeddings(context.Background(), "Dune (2021)")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(endpoint.NewResolver(deadURL(t)), nil)
	_, err := c.CheckEmbeddings(ctx, "Dune (2021)")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDeepDive_StreamsBody(t *testing.T) {
	var body deepDiveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing Accept header")
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"token\": \"Hi\"}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	rc, err := newTestClient(srv.URL).DeepDive(context.Background(), movie.Ref{TMDBID: "438631", Key: "Dune (2021)"}, "who is Paul?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if !strings.Contains(string(raw), "[DONE]") {
		t.Errorf("unexpected body: %q", raw)
	}
	if body.TMDBID != "438631" || body.MovieTitle != "Dune (2021)" || body.Question != "who is Paul?" {
		t.Errorf("unexpected request body: %+v", body)
	}
}

func TestSummarize_SendsRef(t *testing.T) {
	var body summarizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	rc, err := newTestClient(srv.URL).Summarize(context.Background(), movie.Ref{TMDBID: "27205", Key: "Inception (2010)"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rc.Close()
	if body.TMDBID != "27205" || body.MovieTitle != "Inception (2010)" {
		t.Errorf("unexpected request body: %+v", body)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	status, err := newTestClient("").Ping(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusNotFound {
		t.Errorf("unexpected status: %d", status)
	}

	if _, err := newTestClient("").Ping(context.Background(), deadURL(t)); !errors.Is(err, ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}
}
