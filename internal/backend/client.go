// Package backend is the HTTP client for the movie AI service: readiness
// checks, preparation triggers and the streamed summary/deep-dive calls.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arin/reel/internal/endpoint"
	"github.com/arin/reel/internal/logger"
	"github.com/arin/reel/internal/movie"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrNetwork marks a request that could not be sent or whose response could
// not be received. Calls failing this way are retried once on the next
// resolver candidate.
var ErrNetwork = errors.New("backend unreachable")

// StatusError is returned for non-2xx responses. It is never retried.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to the service addressed by an endpoint.Resolver.
type Client struct {
	resolver *endpoint.Resolver
	// httpClient is used for short request/response calls.
	httpClient *http.Client
	// streamClient has no global timeout; the caller's context bounds it.
	streamClient *http.Client
	log          *logger.Logger
}

func NewClient(resolver *endpoint.Resolver, log *logger.Logger) *Client {
	return &Client{
		resolver:     resolver,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
		log:          logger.OrNop(log),
	}
}

// Resolver exposes the resolver the client was built with.
func (c *Client) Resolver() *endpoint.Resolver {
	return c.resolver
}

// CheckEmbeddings reports whether preparation for key is complete.
func (c *Client) CheckEmbeddings(ctx context.Context, key movie.Key) (bool, error) {
	resp, err := c.do(ctx, c.httpClient, "check_embeddings", func(base string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint.Join(base, "check_embeddings", key.PathSegment()), nil)
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("check_embeddings: failed to parse response: %w", err)
	}
	return out.Exists, nil
}

// GenerateEmbeddings asks the service to start preparation for key. The
// response body is drained and ignored.
func (c *Client) GenerateEmbeddings(ctx context.Context, key movie.Key) error {
	body, err := json.Marshal(generateRequest{Movie: key.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.do(ctx, c.httpClient, "generate_embeddings", jsonPost(ctx, "generate_embeddings", body))
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// Summarize opens the event stream of a movie summary. The caller owns the
// returned body.
func (c *Client) Summarize(ctx context.Context, ref movie.Ref) (io.ReadCloser, error) {
	body, err := json.Marshal(summarizeRequest{TMDBID: ref.TMDBID, MovieTitle: ref.Key.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.do(ctx, c.streamClient, "summarize", eventStreamPost(ctx, "summarize", body))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DeepDive opens the event stream answering one question about a movie.
// The caller owns the returned body.
func (c *Client) DeepDive(ctx context.Context, ref movie.Ref, question string) (io.ReadCloser, error) {
	body, err := json.Marshal(deepDiveRequest{
		TMDBID:     ref.TMDBID,
		MovieTitle: ref.Key.String(),
		Question:   question,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.do(ctx, c.streamClient, "deep_dive", eventStreamPost(ctx, "deep_dive", body))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Ping checks that base answers HTTP at all. Any status counts as reachable.
func (c *Client) Ping(ctx context.Context, base string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.Join(base, "docs"), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

type requestBuilder func(base string) (*http.Request, error)

func jsonPost(ctx context.Context, path string, body []byte) requestBuilder {
	return func(base string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.Join(base, path), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

func eventStreamPost(ctx context.Context, path string, body []byte) requestBuilder {
	build := jsonPost(ctx, path, body)
	return func(base string) (*http.Request, error) {
		req, err := build(base)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/event-stream")
		return req, nil
	}
}

// do sends the request built for each resolver candidate in turn, moving on
// only when the previous attempt failed at the network level.
func (c *Client) do(ctx context.Context, hc *http.Client, op string, build requestBuilder) (*http.Response, error) {
	var lastErr error
	for _, base := range c.resolver.Candidates() {
		req, err := build(base)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
		}
		resp, err := hc.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.log.Warn("backend request failed", "op", op, "base", base, "error", err)
			lastErr = fmt.Errorf("%s: could not reach %s: %w: %v", op, base, ErrNetwork, err)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
			return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(errorDetail(raw))}
		}
		return resp, nil
	}
	return nil, lastErr
}

// errorDetail pulls the "detail" field out of a JSON error body, or returns
// the raw text.
func errorDetail(raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return string(raw)
}
