package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rsspush/internal/feed"
)

type canned struct {
	status int
	body   string
	err    error
}

// mockTransport replays canned responses in order and records the
// User-Agent of every request it sees. The last response repeats.
type mockTransport struct {
	mu        sync.Mutex
	responses []canned
	calls     int
	agents    []string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.calls++
	m.agents = append(m.agents, req.Header.Get("User-Agent"))

	r := m.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
	}, nil
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/sample_rss.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func newTestFetcher(transport *mockTransport, states *StateTable) *Fetcher {
	f := New(transport, feed.New(), states, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.backoffBase = time.Millisecond
	f.jitter = time.Nanosecond
	return f
}

func TestFetchSuccess(t *testing.T) {
	xml := loadFixture(t)
	transport := &mockTransport{responses: []canned{{status: 200, body: xml}}}
	states := NewStateTable()

	f := newTestFetcher(transport, states)
	items, err := f.Fetch(context.Background(), "https://blog.example.com/rss")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	if transport.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", transport.calls)
	}
}

func TestFetchSuccessResetsCounters(t *testing.T) {
	const url = "https://blog.example.com/rss"
	xml := loadFixture(t)
	transport := &mockTransport{responses: []canned{{status: 200, body: xml}}}

	states := NewStateTable()
	states.RecordFailure(url)
	// Backdate the failure so the cooldown window has passed.
	states.states[url].lastAccess = time.Now().Add(-time.Hour)

	f := newTestFetcher(transport, states)
	items, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected items")
	}

	st := states.states[url]
	if st.failures != 0 || st.rateLimits != 0 {
		t.Errorf("counters not reset: failures=%d rateLimits=%d", st.failures, st.rateLimits)
	}
}

func TestFetchRateLimitShortCircuits(t *testing.T) {
	const url = "https://blog.example.com/rss"
	transport := &mockTransport{responses: []canned{{status: 429, body: "slow down"}}}
	states := NewStateTable()

	f := newTestFetcher(transport, states)
	items, err := f.Fetch(context.Background(), url)

	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
	if transport.calls != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", transport.calls)
	}
	if got := states.states[url].rateLimits; got != 1 {
		t.Errorf("rateLimits = %d, want 1", got)
	}
}

func TestFetchExhaustedAttempts(t *testing.T) {
	const url = "https://blog.example.com/rss"
	transport := &mockTransport{responses: []canned{{status: 500, body: "boom"}}}
	states := NewStateTable()

	f := newTestFetcher(transport, states)
	items, err := f.Fetch(context.Background(), url)

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(items) != 0 {
		t.Errorf("expected no items, got %d", len(items))
	}
	if transport.calls != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, transport.calls)
	}
	if got := states.states[url].failures; got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
}

func TestFetchForbiddenIsNotTerminal(t *testing.T) {
	xml := loadFixture(t)
	transport := &mockTransport{responses: []canned{
		{status: 403, body: "denied"},
		{status: 403, body: "denied"},
		{status: 200, body: xml},
	}}
	states := NewStateTable()

	f := newTestFetcher(transport, states)
	items, err := f.Fetch(context.Background(), "https://blog.example.com/rss")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 items, got %d", len(items))
	}
	if transport.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", transport.calls)
	}
}

func TestFetchRotatesHeaderProfiles(t *testing.T) {
	xml := loadFixture(t)
	transport := &mockTransport{responses: []canned{
		{err: io.ErrUnexpectedEOF},
		{err: io.ErrUnexpectedEOF},
		{status: 200, body: xml},
	}}

	f := newTestFetcher(transport, NewStateTable())
	if _, err := f.Fetch(context.Background(), "https://blog.example.com/rss"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	want := []string{
		headerProfiles[0]["User-Agent"],
		headerProfiles[1]["User-Agent"],
		headerProfiles[2]["User-Agent"],
	}
	if diff := cmp.Diff(want, transport.agents); diff != "" {
		t.Errorf("user agents mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchSkipsDuringCooldown(t *testing.T) {
	const url = "https://blog.example.com/rss"
	transport := &mockTransport{responses: []canned{{status: 200, body: loadFixture(t)}}}

	states := NewStateTable()
	states.RecordRateLimit(url)

	f := newTestFetcher(transport, states)
	items, err := f.Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if items != nil {
		t.Errorf("expected nil items, got %v", items)
	}
	if transport.calls != 0 {
		t.Errorf("expected no HTTP calls, got %d", transport.calls)
	}
	if got := states.states[url].rateLimits; got != 1 {
		t.Errorf("rateLimits = %d, want 1 (skip must not mutate state)", got)
	}
}

func TestFetchUnparseablePayloadCountsAsFailure(t *testing.T) {
	const url = "https://blog.example.com/rss"
	transport := &mockTransport{responses: []canned{{status: 200, body: "not xml at all"}}}
	states := NewStateTable()

	f := newTestFetcher(transport, states)
	_, err := f.Fetch(context.Background(), url)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := states.states[url].failures; got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
}
