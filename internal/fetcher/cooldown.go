package fetcher

import (
	"sync"
	"time"
)

const (
	rateLimitBase = 5 * time.Minute
	rateLimitMax  = time.Hour
	failureBase   = 2 * time.Minute
	failureMax    = 30 * time.Minute
)

type urlState struct {
	lastAccess time.Time
	failures   int
	rateLimits int
	successes  int
}

// StateTable tracks per-URL fetch history and derives adaptive cooldowns
// from it. State is in-memory only; a restarted process re-learns cooldowns
// from subsequent failures. Safe for concurrent use.
type StateTable struct {
	mu     sync.Mutex
	now    func() time.Time
	states map[string]*urlState
}

// NewStateTable creates an empty StateTable.
func NewStateTable() *StateTable {
	return newStateTable(time.Now)
}

func newStateTable(now func() time.Time) *StateTable {
	return &StateTable{
		now:    now,
		states: make(map[string]*urlState),
	}
}

// ShouldSkip reports whether url is still inside its cooldown window.
// It never mutates state.
func (t *StateTable) ShouldSkip(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[url]
	if !ok {
		return false
	}
	cd := cooldownFor(st)
	return cd > 0 && t.now().Sub(st.lastAccess) < cd
}

// RecordSuccess resets both failure counters after a fetch that produced items.
func (t *StateTable) RecordSuccess(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(url)
	st.failures = 0
	st.rateLimits = 0
	st.successes++
	st.lastAccess = t.now()
}

// RecordFailure notes an exhausted attempt budget.
func (t *StateTable) RecordFailure(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(url)
	st.failures++
	st.successes = 0
	st.lastAccess = t.now()
}

// RecordRateLimit notes an HTTP 429 response.
func (t *StateTable) RecordRateLimit(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(url)
	st.rateLimits++
	st.successes = 0
	st.lastAccess = t.now()
}

func (t *StateTable) state(url string) *urlState {
	st, ok := t.states[url]
	if !ok {
		st = &urlState{}
		t.states[url] = st
	}
	return st
}

// cooldownFor computes the wait imposed by a URL's failure history:
// rate limits dominate (5 min doubled per consecutive 429, capped at 1 h),
// then plain failures (2 min per consecutive failure, capped at 30 min).
func cooldownFor(st *urlState) time.Duration {
	if st.rateLimits > 0 {
		n := st.rateLimits
		if n > 4 {
			n = 4
		}
		d := rateLimitBase << uint(n)
		if d > rateLimitMax {
			d = rateLimitMax
		}
		return d
	}
	if st.failures > 0 {
		d := failureBase * time.Duration(st.failures)
		if d > failureMax {
			d = failureMax
		}
		return d
	}
	return 0
}
