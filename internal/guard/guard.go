package guard

import (
	"sync"
	"time"
)

// Decision is the outcome of a guard check, in documented priority order:
// the duplicate check runs before the rate check.
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionDuplicate
	DecisionRateLimited
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

const (
	// DefaultDedupRetention is how long a seen message id blocks reprocessing.
	DefaultDedupRetention = 24 * time.Hour
	// DefaultRateQuota is the number of events a sender may issue per window
	// before further events are rejected.
	DefaultRateQuota = 20
	// DefaultRateWindow is the fixed-origin rate window duration.
	DefaultRateWindow = time.Minute
)

type rateWindow struct {
	start time.Time
	count int
}

// Guard enforces message idempotency and per-sender flow control over
// in-memory maps. Safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	rates     map[string]*rateWindow
	retention time.Duration
	quota     int
	window    time.Duration
}

// New creates a Guard with the default retention, quota and window.
func New() *Guard {
	return NewWithLimits(DefaultDedupRetention, DefaultRateQuota, DefaultRateWindow)
}

// NewWithLimits creates a Guard with explicit limits. Non-positive values
// fall back to the defaults.
func NewWithLimits(retention time.Duration, quota int, window time.Duration) *Guard {
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	if quota <= 0 {
		quota = DefaultRateQuota
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &Guard{
		seen:      make(map[string]time.Time),
		rates:     make(map[string]*rateWindow),
		retention: retention,
		quota:     quota,
		window:    window,
	}
}

// Check classifies one message. A first-seen message id is recorded
// unconditionally, even when the rate check then rejects it, so a provider
// retry of the same id reads as a duplicate rather than being re-evaluated
// against the rate window. A resend under a fresh id is evaluated fresh.
func (g *Guard) Check(messageID, senderID string, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if first, ok := g.seen[messageID]; ok && now.Sub(first) < g.retention {
		return DecisionDuplicate
	}
	g.seen[messageID] = now

	w := g.rates[senderID]
	if w == nil || now.Sub(w.start) > g.window {
		// Fixed-origin window: it resets on the first event after expiry,
		// it does not slide.
		g.rates[senderID] = &rateWindow{start: now, count: 1}
		return DecisionAccept
	}
	w.count++
	if w.count > g.quota {
		return DecisionRateLimited
	}
	return DecisionAccept
}

// Sweep drops dedup entries older than the retention window and returns how
// many were removed. Callers run it opportunistically at the start of each
// batch; cost is linear in the number of live entries.
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, first := range g.seen {
		if now.Sub(first) >= g.retention {
			delete(g.seen, id)
			removed++
		}
	}
	return removed
}
