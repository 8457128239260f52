package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a controllable time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestLimiter creates a Limiter wired to the given fake clock.
func newTestLimiter(rate int, window time.Duration, clock *fakeClock) *Limiter {
	l := New(rate, window)
	l.now = clock.Now
	return l
}

func TestAllowBasic(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		if !l.Allow("u1:apply") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if l.Allow("u1:apply") {
		t.Fatal("4th request should be denied")
	}
}

func TestAllowDifferentKeys(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(1, time.Minute, clock)

	if !l.Allow("u1:apply") {
		t.Fatal("first request for u1 should be allowed")
	}
	if l.Allow("u1:apply") {
		t.Fatal("second request for u1 should be denied")
	}
	if !l.Allow("u2:apply") {
		t.Fatal("u2 has their own bucket and should be allowed")
	}
	if !l.Allow("u1:check") {
		t.Fatal("a different command for u1 has its own bucket")
	}
}

func TestRefillAfterWindow(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(1, 10*time.Second, clock)

	if !l.Allow("u1:apply") {
		t.Fatal("first request should be allowed")
	}
	if l.Allow("u1:apply") {
		t.Fatal("immediate retry should be denied")
	}

	clock.Advance(10 * time.Second)
	if !l.Allow("u1:apply") {
		t.Fatal("request after cooldown elapsed should be allowed")
	}
}

func TestPartialRefill(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(1, 10*time.Second, clock)

	l.Allow("u1:apply")
	clock.Advance(5 * time.Second)
	if l.Allow("u1:apply") {
		t.Fatal("request halfway through the cooldown should be denied")
	}
}

func TestNewCooldown(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := NewCooldown(10 * time.Second)
	l.now = clock.Now

	if !l.Allow("u1:apply") {
		t.Fatal("first press should be allowed")
	}
	if l.Allow("u1:apply") {
		t.Fatal("second press inside the cooldown should be denied")
	}
}

func TestRetryAfter(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := NewCooldown(10 * time.Second)
	l.now = clock.Now

	if got := l.RetryAfter("u1:apply"); got != 0 {
		t.Fatalf("fresh key should have no wait, got %v", got)
	}

	l.Allow("u1:apply")
	if got := l.RetryAfter("u1:apply"); got != 10*time.Second {
		t.Errorf("expected 10s wait, got %v", got)
	}

	clock.Advance(4 * time.Second)
	if got := l.RetryAfter("u1:apply"); got != 6*time.Second {
		t.Errorf("expected 6s wait, got %v", got)
	}

	clock.Advance(6 * time.Second)
	if got := l.RetryAfter("u1:apply"); got != 0 {
		t.Errorf("expected no wait after cooldown elapsed, got %v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(100, time.Minute, clock)

	var wg sync.WaitGroup
	allowed := make([]bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			allowed[i] = l.Allow("shared")
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 100 {
		t.Errorf("expected exactly 100 allowed, got %d", count)
	}
}
