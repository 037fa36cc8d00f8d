package ratelimit

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestLimiter(t *testing.T, max int, window time.Duration, now *time.Time) *Limiter {
	t.Helper()

	l := New(Config{Name: "test", MaxRequests: max, Window: window}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return *now })
	t.Cleanup(l.Stop)
	return l
}

func TestCheckLimitCountsDownWithinWindow(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, 3, time.Minute, &now)

	wantRemaining := []int{2, 1, 0}
	for i, want := range wantRemaining {
		res := l.CheckLimit("0xABCDEF")
		if !res.Allowed {
			t.Fatalf("check %d: expected allowed", i+1)
		}
		if res.Remaining != want {
			t.Fatalf("check %d: expected remaining %d, got %d", i+1, want, res.Remaining)
		}
		if got := res.ResetTime; !got.Equal(now.Add(time.Minute)) {
			t.Fatalf("check %d: expected reset at %v, got %v", i+1, now.Add(time.Minute), got)
		}
	}
}

func TestCheckLimitDeniesWithoutIncrementing(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, 2, time.Minute, &now)

	l.CheckLimit("key")
	l.CheckLimit("key")

	reset := now.Add(time.Minute)
	for i := 0; i < 3; i++ {
		res := l.CheckLimit("key")
		if res.Allowed {
			t.Fatalf("denied check %d: expected not allowed", i+1)
		}
		if res.Remaining != 0 {
			t.Fatalf("denied check %d: expected remaining 0, got %d", i+1, res.Remaining)
		}
		if !res.ResetTime.Equal(reset) {
			t.Fatalf("denied check %d: reset time slid from %v to %v", i+1, reset, res.ResetTime)
		}
	}
}

func TestWindowDoesNotSlide(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, 10, time.Minute, &now)

	first := l.CheckLimit("key")

	// Later requests in the same window share the reset fixed at creation.
	now = now.Add(30 * time.Second)
	second := l.CheckLimit("key")

	if !second.ResetTime.Equal(first.ResetTime) {
		t.Fatalf("expected reset %v to stay fixed, got %v", first.ResetTime, second.ResetTime)
	}
}

func TestExpiredWindowResetsBeforeCounting(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, 1, time.Minute, &now)

	if res := l.CheckLimit("key"); !res.Allowed {
		t.Fatal("first check should be allowed")
	}
	if res := l.CheckLimit("key"); res.Allowed {
		t.Fatal("second check in window should be denied")
	}

	now = now.Add(time.Minute + time.Second)

	res := l.CheckLimit("key")
	if !res.Allowed {
		t.Fatal("check after window expiry should be allowed again")
	}
	if res.Remaining != 0 {
		t.Fatalf("expected remaining 0 after reset with max 1, got %d", res.Remaining)
	}
	if !res.ResetTime.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected fresh reset time %v, got %v", now.Add(time.Minute), res.ResetTime)
	}
}

func TestKeysAreCaseInsensitive(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, 2, time.Minute, &now)

	l.CheckLimit("0xAbCd")
	res := l.CheckLimit("0xABCD")
	if res.Remaining != 0 {
		t.Fatalf("expected both spellings to share a counter, remaining %d", res.Remaining)
	}
}

func TestTiersAreIndependent(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	paid := newTestLimiter(t, 1, time.Minute, &now)
	anonymous := newTestLimiter(t, 5, time.Minute, &now)

	paid.CheckLimit("key")
	if res := paid.CheckLimit("key"); res.Allowed {
		t.Fatal("paid tier should be exhausted")
	}

	if res := anonymous.CheckLimit("key"); !res.Allowed || res.Remaining != 4 {
		t.Fatalf("anonymous tier should be untouched, got allowed=%v remaining=%d", res.Allowed, res.Remaining)
	}
}

func TestRemainingDoesNotConsume(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, 3, time.Minute, &now)

	if got := l.Remaining("key"); got != 3 {
		t.Fatalf("expected full allowance for unknown key, got %d", got)
	}

	l.CheckLimit("key")

	if got := l.Remaining("key"); got != 2 {
		t.Fatalf("expected remaining 2, got %d", got)
	}
	if got := l.Remaining("key"); got != 2 {
		t.Fatalf("Remaining should not consume, got %d", got)
	}
}

func TestSweepEvictsOnlyExpiredEntries(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, 5, time.Minute, &now)

	l.CheckLimit("stale")
	now = now.Add(2 * time.Minute)
	l.CheckLimit("fresh")

	l.sweep()

	stats := l.Stats()
	if stats.TrackedKeys != 1 {
		t.Fatalf("expected 1 tracked key after sweep, got %d", stats.TrackedKeys)
	}
	if got := l.Remaining("fresh"); got != 4 {
		t.Fatalf("fresh entry should survive the sweep, remaining %d", got)
	}
}

func TestConcurrentChecksNeverOverAdmit(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := newTestLimiter(t, 50, time.Minute, &now)

	var wg sync.WaitGroup
	allowed := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.CheckLimit("shared").Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 50 {
		t.Fatalf("expected exactly 50 admissions, got %d", count)
	}
}

func TestStatsReportsTierConfiguration(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	l := New(Config{Name: "paid", MaxRequests: 30, Window: 24 * time.Hour}, zaptest.NewLogger(t)).
		WithClock(func() time.Time { return now })
	defer l.Stop()

	l.CheckLimit("a")
	l.CheckLimit("b")

	stats := l.Stats()
	if stats.Name != "paid" {
		t.Fatalf("expected tier name paid, got %q", stats.Name)
	}
	if stats.MaxRequests != 30 {
		t.Fatalf("expected max 30, got %d", stats.MaxRequests)
	}
	if stats.WindowMs != (24 * time.Hour).Milliseconds() {
		t.Fatalf("unexpected window ms %d", stats.WindowMs)
	}
	if stats.TrackedKeys != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", stats.TrackedKeys)
	}
}
