package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestThrottler(rpm, burst int) *throttler {
	return newThrottler(ThrottleConfig{
		Enabled:           true,
		RequestsPerMinute: rpm,
		Burst:             burst,
		EntryTTL:          time.Hour,
	})
}

func handlerWithUser(userID string, th *throttler) http.HandlerFunc {
	inner := th.middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return func(w http.ResponseWriter, r *http.Request) {
		inner(w, withTestUser(r, userID))
	}
}

func withTestUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
}

func TestThrottlerBlocksSecondRequestForSameUser(t *testing.T) {
	th := newTestThrottler(60, 1)
	handler := handlerWithUser("user-a", th)

	rr1 := httptest.NewRecorder()
	handler(rr1, httptest.NewRequest(http.MethodGet, "/executions", nil))
	if rr1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rr1.Code, http.StatusOK)
	}

	rr2 := httptest.NewRecorder()
	handler(rr2, httptest.NewRequest(http.MethodGet, "/executions", nil))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rr2.Code, http.StatusTooManyRequests)
	}
}

func TestThrottlerIsolatedPerUser(t *testing.T) {
	th := newTestThrottler(60, 1)

	rrA := httptest.NewRecorder()
	handlerWithUser("user-a", th)(rrA, httptest.NewRequest(http.MethodGet, "/executions", nil))
	if rrA.Code != http.StatusOK {
		t.Fatalf("user-a request status = %d, want %d", rrA.Code, http.StatusOK)
	}

	rrB := httptest.NewRecorder()
	handlerWithUser("user-b", th)(rrB, httptest.NewRequest(http.MethodGet, "/executions", nil))
	if rrB.Code != http.StatusOK {
		t.Fatalf("user-b request status = %d, want %d", rrB.Code, http.StatusOK)
	}
}

func TestThrottlerSkipsRequestsWithNoUser(t *testing.T) {
	th := newTestThrottler(60, 1)
	handler := th.middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/executions/health", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", i, rr.Code, http.StatusOK)
		}
	}
}

func TestThrottlerEvictsStaleEntries(t *testing.T) {
	th := newThrottler(ThrottleConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1, EntryTTL: -time.Second})

	th.allow("user-a")
	th.mu.Lock()
	_, ok := th.entries["user-a"]
	th.mu.Unlock()
	if ok {
		t.Fatalf("expected stale entry to be evicted immediately given a negative TTL")
	}
}

func TestDefaultThrottleConfigAppliedWhenRatePerMinuteMissing(t *testing.T) {
	th := newThrottler(ThrottleConfig{})
	if th.cfg.RequestsPerMinute != defaultThrottleConfig().RequestsPerMinute {
		t.Fatalf("expected default config to apply when RequestsPerMinute <= 0")
	}
}
