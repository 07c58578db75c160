// Package endpoint picks the base address of the movie AI service and
// derives HTTP and realtime URLs from it.
package endpoint

import (
	"strings"
)

// Fallback is used whenever no primary address is configured.
const Fallback = "http://127.0.0.1:8000"

// Resolver is deterministic for a fixed primary, so URLs derived from
// separate calls always agree as long as configuration does not change
// mid-session.
type Resolver struct {
	primary  string
	fallback string
}

func NewResolver(primary string) *Resolver {
	return &Resolver{primary: normalize(primary), fallback: Fallback}
}

// WithFallback returns a copy of r that falls back to addr instead of
// Fallback.
func (r *Resolver) WithFallback(addr string) *Resolver {
	out := &Resolver{fallback: normalize(addr)}
	if r != nil {
		out.primary = r.primary
	}
	if out.fallback == "" {
		out.fallback = Fallback
	}
	return out
}

// Resolve returns the configured primary, or the fallback when it is empty.
func (r *Resolver) Resolve() string {
	if r == nil {
		return Fallback
	}
	if r.primary == "" {
		return r.fallbackAddr()
	}
	return r.primary
}

// Candidates lists the bases to try for a single call: primary first,
// then the fallback. Duplicates are removed.
func (r *Resolver) Candidates() []string {
	base := r.Resolve()
	fb := r.fallbackAddr()
	if base == fb {
		return []string{fb}
	}
	return []string{base, fb}
}

func (r *Resolver) fallbackAddr() string {
	if r == nil || r.fallback == "" {
		return Fallback
	}
	return r.fallback
}

// Realtime joins path onto every candidate base with its scheme switched
// to the websocket equivalent, in Candidates order.
func (r *Resolver) Realtime(path ...string) []string {
	bases := r.Candidates()
	out := make([]string, len(bases))
	for i, base := range bases {
		out[i] = Join(ToRealtime(base), path...)
	}
	return out
}

// Join appends path segments to base with exactly one slash between them.
func Join(base string, path ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range path {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out += "/" + p
	}
	return out
}

// ToRealtime maps https→wss and http→ws. Other schemes pass through.
func ToRealtime(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// ToHTTP is the inverse of ToRealtime.
func ToHTTP(base string) string {
	switch {
	case strings.HasPrefix(base, "wss://"):
		return "https://" + strings.TrimPrefix(base, "wss://")
	case strings.HasPrefix(base, "ws://"):
		return "http://" + strings.TrimPrefix(base, "ws://")
	}
	return base
}

func normalize(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return strings.TrimRight(ToHTTP(base), "/")
}
