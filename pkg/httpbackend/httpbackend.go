// Package httpbackend implements the HTTP backend (C3): batched POST
// delivery over pooled connections with retry, jitter, and classification
// of transient vs. terminal errors.
package httpbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/agentic-observability/aef/pkg/backend"
	"github.com/agentic-observability/aef/pkg/events"
)

// Config holds HTTP backend construction parameters (spec §4.3, §6.4).
type Config struct {
	BaseURL string
	Headers map[string]string

	Timeout time.Duration

	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	Jitter       float64 // fractional, 0..1

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// DefaultConfig returns the defaults named in spec §4.3/§6.4.
func DefaultConfig() Config {
	return Config{
		Timeout:             5 * time.Second,
		MaxRetries:          3,
		BackoffBase:         500 * time.Millisecond,
		BackoffMax:          30 * time.Second,
		Jitter:              0.1,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     30 * time.Second,
	}
}

// Backend is the HTTP implementation of backend.Backend.
type Backend struct {
	cfg    Config
	client *http.Client
}

// New constructs an HTTP backend. BaseURL is required (spec §7
// "missing base_url for HTTP backend").
func New(cfg Config) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: HTTP backend requires a base_url", backend.ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &Backend{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// Write POSTs the batch, selecting the endpoint by size and retrying
// retryable failures with exponential backoff and jitter.
func (b *Backend) Write(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	path := "/events/batch"
	var body any = batch
	if len(batch) == 1 {
		path = "/events"
		body = batch[0]
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return backend.Terminal(fmt.Errorf("marshal batch: %w", err))
	}

	for attempt := 0; ; attempt++ {
		err := b.post(ctx, path, payload)
		if err == nil {
			return nil
		}

		if !backend.IsTransient(err) {
			return err
		}
		if attempt >= b.cfg.MaxRetries {
			return err
		}

		delay := b.retryDelay(attempt)
		slog.Warn("httpbackend: retrying after transient error", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return backend.Terminal(ctx.Err())
		case <-time.After(delay):
		}
	}
}

// retryDelay computes the backoff for 0-indexed attempt n, perturbed by
// ±(jitter · delay), matching spec §4.3 exactly.
func (b *Backend) retryDelay(attempt int) time.Duration {
	base := float64(b.cfg.BackoffBase)
	capped := base * float64(int64(1)<<uint(attempt))
	if capped > float64(b.cfg.BackoffMax) || capped <= 0 {
		capped = float64(b.cfg.BackoffMax)
	}
	if b.cfg.Jitter <= 0 {
		return time.Duration(capped)
	}
	perturb := capped * b.cfg.Jitter
	offset := (rand.Float64()*2 - 1) * perturb
	delay := capped + offset
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (b *Backend) post(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return backend.Terminal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range b.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if isTimeoutOrConnError(err) {
			return backend.Transient(fmt.Errorf("request: %w", err))
		}
		return backend.Terminal(fmt.Errorf("request: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	return classifyStatus(resp.StatusCode)
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return backend.Transient(fmt.Errorf("http status %d", status))
	case status >= 500:
		return backend.Transient(fmt.Errorf("http status %d", status))
	default:
		return backend.Terminal(fmt.Errorf("http status %d", status))
	}
}

func isTimeoutOrConnError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *Backend) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
