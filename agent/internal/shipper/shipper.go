package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/ambspc/spcengine/agent/internal/compute"
	"github.com/ambspc/spcengine/agent/internal/config"
	"github.com/ambspc/spcengine/agent/internal/scraper"
	"github.com/ambspc/spcengine/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	// IngestPath is the server route that accepts data point batches.
	IngestPath = "/ingest/v1/datapoints"
)

// Shipper buffers compute.Results and posts them to spc-server as JSON.
// Ship() is non-blocking; when the buffer is full the oldest request is evicted.
// Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan *types.IngestRequest
	client *http.Client
	url    string
	sleep  func(ctx context.Context, d time.Duration) bool // injectable for tests
}

// New creates a Shipper using the given agent config. It fails only when the
// configured client certificate cannot be loaded.
func New(cfg config.AgentConfig) (*Shipper, error) {
	tlsCfg, err := scraper.TLSClientConfig(cfg.ServerAuth, false)
	if err != nil {
		return nil, fmt.Errorf("shipper: %w", err)
	}
	return &Shipper{
		cfg: cfg,
		buf: make(chan *types.IngestRequest, cfg.BufferSize),
		client: &http.Client{
			Transport: scraper.NewAuthTransport(&http.Transport{TLSClientConfig: tlsCfg}, cfg.ServerAuth),
			Timeout:   sendTimeout,
		},
		url:   strings.TrimRight(cfg.ServerEndpoint, "/") + IngestPath,
		sleep: sleepCtx,
	}, nil
}

// Ship converts a compute.Result to an ingest request and enqueues it.
// If the buffer is full the oldest entry is evicted to make room.
func (s *Shipper) Ship(res *compute.Result) {
	req := toRequest(res)
	s.enqueue(req)
}

func (s *Shipper) enqueue(req *types.IngestRequest) {
	select {
	case s.buf <- req:
	default:
		// Buffer full: drop the oldest request, keep the newest.
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest request",
				"source", old.SourceID, "points", len(old.Points), "buffer_cap", cap(s.buf))
		default:
		}
		select {
		case s.buf <- req:
		default:
		}
	}
}

// Run drains the buffer, posting requests to the server. Transient failures
// requeue the request and back off. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		var req *types.IngestRequest
		select {
		case <-ctx.Done():
			return
		case req = <-s.buf:
		}

		resp, err := s.send(ctx, req)
		switch {
		case err == nil:
			bo.reset()
			if resp.Rejected > 0 {
				slog.Warn("shipper: server rejected points",
					"source", req.SourceID, "rejected", resp.Rejected, "errors", resp.Errors)
			} else {
				slog.Debug("shipper: request delivered",
					"source", req.SourceID, "accepted", resp.Accepted)
			}

		case isPermanentError(err):
			slog.Error("shipper: permanent send error, discarding request",
				"source", req.SourceID, "points", len(req.Points), "err", err)

		default:
			if ctx.Err() != nil {
				return
			}
			s.enqueue(req)
			wait := bo.next()
			slog.Warn("shipper: send failed, will retry",
				"endpoint", s.url, "err", err, "retry_in", wait)
			if !s.sleep(ctx, wait) {
				return
			}
		}
	}
}

// statusError is returned for non-2xx responses.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.code, e.body)
}

// send posts one request and decodes the server's response.
func (s *Shipper) send(ctx context.Context, req *types.IngestRequest) (*types.IngestResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &statusError{code: http.StatusBadRequest, body: err.Error()}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	var out types.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// isPermanentError returns true for responses that indicate the request
// itself is invalid or unauthorised and should not be retried.
func isPermanentError(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
