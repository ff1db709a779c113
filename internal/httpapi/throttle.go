package httpapi

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig configures per-user HTTP request throttling.
type ThrottleConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	EntryTTL          time.Duration
}

func defaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Enabled:           true,
		RequestsPerMinute: 120,
		Burst:             40,
		EntryTTL:          30 * time.Minute,
	}
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// throttler rate-limits requests per authenticated user, independent of
// the submission-level ratelimit.Limiter in internal/service (which
// only gates start-execution calls) — this covers the whole surface.
type throttler struct {
	cfg ThrottleConfig

	mu      sync.Mutex
	entries map[string]*throttleEntry
}

func newThrottler(cfg ThrottleConfig) *throttler {
	if cfg.RequestsPerMinute <= 0 {
		cfg = defaultThrottleConfig()
	}
	return &throttler{cfg: cfg, entries: map[string]*throttleEntry{}}
}

func (t *throttler) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !t.cfg.Enabled {
			next(w, r)
			return
		}
		userID := userFromContext(r)
		if userID == "" {
			next(w, r)
			return
		}
		if !t.allow(userID) {
			writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "request rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (t *throttler) allow(userID string) bool {
	t.mu.Lock()
	entry, ok := t.entries[userID]
	if !ok {
		rps := rate.Limit(float64(t.cfg.RequestsPerMinute) / 60.0)
		entry = &throttleEntry{limiter: rate.NewLimiter(rps, t.cfg.Burst)}
		t.entries[userID] = entry
	}
	entry.lastSeen = time.Now()
	t.evictStale()
	t.mu.Unlock()
	return entry.limiter.Allow()
}

func (t *throttler) evictStale() {
	cutoff := time.Now().Add(-t.cfg.EntryTTL)
	for k, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}
