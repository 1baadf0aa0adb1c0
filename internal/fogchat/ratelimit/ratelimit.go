// Package ratelimit enforces a per-session sliding-window throttle for chat
// turns.
//
// The limiter is a soft throttle, not a security boundary: state lives in
// memory and is lost on restart. Allow and Record are separate so that a
// rejected request is never counted against the caller's window.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultMaxRequests is the per-session capacity used when no explicit
	// limit is configured.
	DefaultMaxRequests = 5

	// DefaultWindow is the sliding window duration used when none is
	// configured.
	DefaultWindow = time.Minute

	// defaultSweepEvery is how often the background sweep removes sessions
	// with no in-window timestamps.
	defaultSweepEvery = 5 * time.Minute
)

// Limiter tracks request timestamps per session within a sliding window.
//
// Eviction is lazy: every call prunes timestamps older than the window for
// the session it touches, which bounds per-session memory to the capacity.
// Sessions that go quiet leave an empty map key behind until the periodic
// sweep removes it.
//
// Limiter is safe for concurrent use from multiple goroutines.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	sessions map[string][]time.Time // sessionID → request timestamps in window

	sweepEvery time.Duration
	stopOnce   sync.Once
	stop       chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// New returns a Limiter allowing at most limit requests per session within
// window. Non-positive arguments fall back to the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:      limit,
		window:     window,
		sessions:   make(map[string][]time.Time),
		sweepEvery: defaultSweepEvery,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
}

// Allow reports whether the session may issue another request right now.
// It does not record anything; call Record after Allow returns true so that
// rejected requests are not counted.
func (l *Limiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.pruneLocked(sessionID)
	return len(valid) < l.limit
}

// Record counts the current request against the session's window. Must be
// called only after Allow returned true.
func (l *Limiter) Record(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.pruneLocked(sessionID)
	l.sessions[sessionID] = append(valid, l.now())
}

// RetryAfter returns the number of whole seconds until the oldest in-window
// request falls out of the window, i.e. how long a throttled session has to
// wait before Allow can return true again. Returns 0 when the session is not
// currently throttled by its oldest entry.
func (l *Limiter) RetryAfter(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.pruneLocked(sessionID)
	if len(valid) == 0 {
		return 0
	}

	oldest := valid[0]
	for _, t := range valid[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}

	remaining := l.window - l.now().Sub(oldest)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

// pruneLocked drops timestamps older than the window for one session and
// returns the surviving slice. Caller must hold l.mu.
func (l *Limiter) pruneLocked(sessionID string) []time.Time {
	cutoff := l.now().Add(-l.window)
	existing := l.sessions[sessionID]
	valid := existing[:0] // reuse backing array
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	l.sessions[sessionID] = valid
	return valid
}

// Start launches the background sweep that removes sessions with no
// in-window timestamps, so stale keys do not accumulate forever.
func (l *Limiter) Start() {
	go func() {
		ticker := time.NewTicker(l.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweep. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// sweep removes map keys whose sessions have no timestamps left in the
// window.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for id, times := range l.sessions {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.sessions, id)
		}
	}
}
