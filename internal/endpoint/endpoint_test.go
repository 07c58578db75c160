package endpoint

import (
	"reflect"
	"testing"
)

func TestResolve_FallbackWhenEmpty(t *testing.T) {
	if got := NewResolver("").Resolve(); got != Fallback {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := NewResolver("   ").Resolve(); got != Fallback {
		t.Errorf("whitespace primary should fall back, got %q", got)
	}
}

func TestResolve_Primary(t *testing.T) {
	got := NewResolver("https://api.example.com/").Resolve()
	if got != "https://api.example.com" {
		t.Errorf("unexpected base: %q", got)
	}
}

func TestResolve_NilResolver(t *testing.T) {
	var r *Resolver
	if r.Resolve() != Fallback {
		t.Error("nil resolver should resolve to fallback")
	}
}

func TestResolve_AddsSchemeToBareHost(t *testing.T) {
	got := NewResolver("backend:9000").Resolve()
	if got != "http://backend:9000" {
		t.Errorf("unexpected base: %q", got)
	}
}

func TestCandidates(t *testing.T) {
	got := NewResolver("https://api.example.com").Candidates()
	want := []string{"https://api.example.com", Fallback}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got = NewResolver(Fallback).Candidates()
	if len(got) != 1 {
		t.Errorf("duplicates should be removed, got %v", got)
	}
}

func TestJoin(t *testing.T) {
	if got := Join("https://api.example.com/", "/check_embeddings/", "Dune%20%282021%29"); got != "https://api.example.com/check_embeddings/Dune%20%282021%29" {
		t.Errorf("unexpected url: %q", got)
	}
}

func TestRealtime_SwapsScheme(t *testing.T) {
	got := NewResolver("https://api.example.com").Realtime("ws", "chat", "x")
	want := []string{"wss://api.example.com/ws/chat/x", "ws://127.0.0.1:8000/ws/chat/x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := NewResolver("").Realtime("ws/chat"); !reflect.DeepEqual(got, []string{"ws://127.0.0.1:8000/ws/chat"}) {
		t.Errorf("unexpected insecure urls: %v", got)
	}
}

func TestResolve_RealtimePrimaryNormalizedToHTTP(t *testing.T) {
	r := NewResolver("wss://api.example.com")
	if r.Resolve() != "https://api.example.com" {
		t.Errorf("unexpected base: %q", r.Resolve())
	}
	if got := r.Realtime(); got[0] != "wss://api.example.com" {
		t.Errorf("unexpected realtime base: %q", got[0])
	}
}

func TestWithFallback(t *testing.T) {
	r := NewResolver("").WithFallback("http://localhost:9999/")
	if r.Resolve() != "http://localhost:9999" {
		t.Errorf("unexpected base: %q", r.Resolve())
	}
	r = NewResolver("https://api.example.com").WithFallback("http://localhost:9999")
	want := []string{"https://api.example.com", "http://localhost:9999"}
	if !reflect.DeepEqual(r.Candidates(), want) {
		t.Errorf("got %v, want %v", r.Candidates(), want)
	}
}
