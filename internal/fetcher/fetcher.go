// Package fetcher downloads feeds over HTTP with retry, header rotation,
// and a per-URL adaptive cooldown.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"rsspush/internal/feed"
	"rsspush/internal/model"
)

const (
	maxAttempts = 3
	maxBodySize = 5 * 1024 * 1024
)

// ErrRateLimited is returned when the remote answered HTTP 429. It ends the
// attempt sequence immediately.
var ErrRateLimited = errors.New("rate limited")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// headerProfiles are the request identities rotated across attempts. Attempt
// number indexes the profile, capped at the last one.
var headerProfiles = []map[string]string{
	{
		"User-Agent": "RSSPushBot/1.0",
		"Accept":     "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	},
	{
		"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Accept":     "application/xml, text/xml;q=0.9, */*;q=0.8",
	},
	{
		"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.5",
	},
}

// Fetcher downloads and normalizes feeds.
type Fetcher struct {
	client      HTTPClient
	normalizer  feed.Normalizer
	states      *StateTable
	log         *slog.Logger
	timeout     time.Duration
	backoffBase time.Duration
	jitter      time.Duration
}

// New creates a Fetcher. The state table is injected so cooldown behavior is
// testable independently and shareable across manual and timed runs.
func New(client HTTPClient, normalizer feed.Normalizer, states *StateTable, log *slog.Logger) *Fetcher {
	return &Fetcher{
		client:      client,
		normalizer:  normalizer,
		states:      states,
		log:         log,
		timeout:     15 * time.Second,
		backoffBase: time.Second,
		jitter:      500 * time.Millisecond,
	}
}

// SetTimeout overrides the default per-request timeout.
func (f *Fetcher) SetTimeout(d time.Duration) {
	f.timeout = d
}

// Fetch downloads and normalizes the feed at url.
//
// A URL inside its cooldown window is skipped without mutating state and
// yields (nil, nil). Otherwise up to three attempts are made with rotating
// header profiles and jittered exponential backoff between attempts. HTTP 429
// short-circuits the sequence and escalates the rate-limit cooldown; any other
// failure is retried and, once the budget is exhausted, escalates the plain
// failure cooldown. A returned error is informational for failure recording,
// never fatal to the caller's run.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]model.Item, error) {
	if f.states.ShouldSkip(url) {
		f.log.Debug("cooldown active", "url", url)
		return nil, nil
	}

	var items []model.Item
	attempt := 0

	backoff := retry.WithJitter(f.jitter,
		retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(f.backoffBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		profile := headerProfiles[min(attempt, len(headerProfiles)-1)]
		attempt++

		fetched, err := f.attempt(ctx, url, profile)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				return err
			}
			f.log.Debug("fetch attempt failed", "url", url, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		items = fetched
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			f.states.RecordRateLimit(url)
			return nil, fmt.Errorf("fetch %s: %w", url, ErrRateLimited)
		}
		f.states.RecordFailure(url)
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	if len(items) > 0 {
		f.states.RecordSuccess(url)
	}
	return items, nil
}

func (f *Fetcher) attempt(ctx context.Context, url string, profile map[string]string) ([]model.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range profile {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	items, err := f.normalizer.Normalize(body)
	if err != nil {
		return nil, err
	}
	return items, nil
}
