// Package httpx is the shared outbound HTTP layer: one pooled client,
// JSON decoding, per-provider concurrency gates, rate limiting, and
// exponential-backoff retries.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Fantasim/chaingate/internal/config"
)

// Session owns the pooled outbound HTTP client shared by every provider.
type Session struct {
	client *http.Client
}

// NewSession creates a Session with the standard connection pool settings.
func NewSession() *Session {
	transport := &http.Transport{
		MaxConnsPerHost:     config.HTTPMaxConnsPerHost,
		MaxIdleConnsPerHost: config.HTTPMaxIdleConnsPerHost,
		MaxIdleConns:        config.HTTPMaxIdleConns,
	}
	return &Session{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.HTTPRequestTimeout,
		},
	}
}

// NewSessionWithClient creates a Session around an existing client (tests).
func NewSessionWithClient(c *http.Client) *Session {
	return &Session{client: c}
}

// Gate bounds the number of in-flight requests for one provider.
// A nil Gate is unbounded.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates a gate admitting n concurrent requests. n <= 0 means
// unbounded.
func NewGate(n int64) *Gate {
	if n <= 0 {
		return nil
	}
	return &Gate{sem: semaphore.NewWeighted(n)}
}

// Acquire blocks until a permit is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	return g.sem.Acquire(ctx, 1)
}

// Release returns a permit.
func (g *Gate) Release() {
	if g != nil {
		g.sem.Release(1)
	}
}

// Requester couples the shared session with one provider's gate, optional
// rate limiter, and the retry policy.
type Requester struct {
	name    string
	session *Session
	gate    *Gate
	limiter *rate.Limiter
}

// NewRequester builds a Requester for a named provider. limiter may be nil.
func NewRequester(name string, session *Session, gate *Gate, limiter *rate.Limiter) *Requester {
	return &Requester{name: name, session: session, gate: gate, limiter: limiter}
}

// GetJSON issues a GET for rawURL with the given query parameters and
// decodes the JSON response body into out. Transient failures (network
// errors, non-2xx statuses) are retried with exponential backoff; decode
// failures are not.
func (r *Requester) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	full := rawURL
	if len(query) > 0 {
		full = rawURL + "?" + query.Encode()
	}

	var lastErr error
	delay := config.RetryBaseDelay
	for attempt := 1; attempt <= config.RetryMaxAttempts; attempt++ {
		if attempt > 1 {
			slog.Debug("retrying upstream request",
				"provider", r.name,
				"attempt", attempt,
				"delay", delay.String(),
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= config.RetryFactor
		}

		err := r.getOnce(ctx, full, out)
		if err == nil {
			return nil
		}
		if !config.IsTransient(err) {
			return err
		}
		lastErr = err
		slog.Warn("upstream request failed",
			"provider", r.name,
			"url", rawURL,
			"attempt", attempt,
			"error", err,
		)
	}
	return lastErr
}

func (r *Requester) getOnce(ctx context.Context, fullURL string, out any) error {
	if err := r.gate.Acquire(ctx); err != nil {
		return err
	}
	defer r.gate.Release()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := r.session.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w (HTTP 429 from %s)", config.ErrRateLimited, fullURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &config.UpstreamHTTPError{Status: resp.StatusCode, URL: fullURL}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %v", config.ErrUpstreamDecode, err)
		}
	}

	slog.Debug("upstream request ok",
		"provider", r.name,
		"status", resp.StatusCode,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}
