// Package feeds holds the built-in feed adapters. Each one registers itself
// with threat.DefaultRegistry at init time.
package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"intelpipe/internal/metrics"
	"intelpipe/internal/threat"
)

const (
	defaultTimeout   = 10 * time.Second
	maxFailures      = 3
	breakerCooldown  = 5 * time.Minute
	maxResponseBytes = 32 << 20
)

// ErrCircuitOpen is returned when a feed has failed too often recently.
var ErrCircuitOpen = errors.New("circuit open")

// StatusError is an unexpected HTTP status from a feed.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// base carries what every HTTP feed needs: a bounded client, a rate limiter
// and a breaker.
type base struct {
	name    string
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *CircuitBreaker
	now     func() time.Time
}

func newBase(name string, cfg threat.SourceConfig, defaultURL string) *base {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	url := cfg.URL
	if url == "" {
		url = defaultURL
	}
	return &base{
		name:    name,
		url:     strings.TrimRight(url, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		breaker: NewCircuitBreaker(maxFailures, breakerCooldown),
		now:     time.Now,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) getJSON(ctx context.Context, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return b.do(req, header, out)
}

func (b *base) postJSON(ctx context.Context, url string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, header, out)
}

func (b *base) do(req *http.Request, header http.Header, out any) error {
	if !b.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := b.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.failed("transport")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		b.failed(fmt.Sprintf("http_%d", resp.StatusCode))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		b.failed("decode")
		return fmt.Errorf("decode response: %w", err)
	}
	b.breaker.RecordSuccess()
	return nil
}

func (b *base) failed(reason string) {
	b.breaker.RecordFailure()
	metrics.FeedErrors.WithLabelValues(b.name, reason).Inc()
}

func (b *base) warn(err error) {
	slog.Warn("feed fetch failed", "source", b.name, "err", err, "breaker", b.breaker.State().String())
}

// empty logs why a fetch produced nothing and returns a non-nil empty slice.
func (b *base) empty(err error) []*threat.Indicator {
	if err != nil {
		b.warn(err)
	}
	return []*threat.Indicator{}
}

// record builds an indicator stamped with this feed's name and fetch time.
func (b *base) record(value, typ string, conf *threat.Confidence, data map[string]any) *threat.Indicator {
	if typ == "" {
		typ = threat.Classify(value)
	}
	return &threat.Indicator{
		Indicator:  strings.TrimSpace(value),
		Type:       typ,
		Source:     b.name,
		Confidence: conf,
		Timestamp:  b.now().UTC(),
		Data:       data,
	}
}
