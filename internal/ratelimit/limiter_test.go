package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/khanhnv2901/netlab/internal/probe"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(policies map[probe.Operation]Policy) (*WindowLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(policies)
	l.now = clock.Now
	return l, clock
}

func TestAllowBurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(DefaultPolicies())

	for i := 0; i < 6; i++ {
		if !l.Allow(probe.OpScan, "203.0.113.7") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow(probe.OpScan, "203.0.113.7") {
		t.Fatal("7th scan inside the window should be denied")
	}
}

func TestAllowIsPerIdentityAndOperation(t *testing.T) {
	l, _ := newTestLimiter(map[probe.Operation]Policy{
		probe.OpScan:   {Max: 1, Window: time.Minute},
		probe.OpBanner: {Max: 1, Window: time.Minute},
	})

	if !l.Allow(probe.OpScan, "a") {
		t.Fatal("first scan for a should pass")
	}
	if l.Allow(probe.OpScan, "a") {
		t.Fatal("second scan for a should be denied")
	}
	if !l.Allow(probe.OpScan, "b") {
		t.Fatal("identity b has its own budget")
	}
	if !l.Allow(probe.OpBanner, "a") {
		t.Fatal("banner has its own budget")
	}
}

func TestAllowRefillsOverWindow(t *testing.T) {
	l, clock := newTestLimiter(map[probe.Operation]Policy{
		probe.OpScan: {Max: 6, Window: time.Minute},
	})

	for i := 0; i < 6; i++ {
		l.Allow(probe.OpScan, "a")
	}
	if l.Allow(probe.OpScan, "a") {
		t.Fatal("expected bucket to be empty")
	}

	clock.Advance(10 * time.Second)
	if !l.Allow(probe.OpScan, "a") {
		t.Fatal("one token should refill after window/max")
	}
	if l.Allow(probe.OpScan, "a") {
		t.Fatal("only one token should have refilled")
	}
}

func TestUnconfiguredOperationIsUnlimited(t *testing.T) {
	l, _ := newTestLimiter(map[probe.Operation]Policy{
		probe.OpPing: {Max: 0, Window: time.Minute},
	})
	for i := 0; i < 100; i++ {
		if !l.Allow(probe.OpTLS, "a") || !l.Allow(probe.OpPing, "a") {
			t.Fatal("operations without an enabled policy must not be limited")
		}
	}
	if l.Len() != 0 {
		t.Fatalf("expected no buckets for unlimited operations, got %d", l.Len())
	}
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter(DefaultPolicies())

	l.Allow(probe.OpScan, "a")
	l.Allow(probe.OpBanner, "b")
	if l.Len() != 2 {
		t.Fatalf("expected 2 buckets, got %d", l.Len())
	}

	clock.Advance(30 * time.Second)
	l.Allow(probe.OpScan, "a")

	clock.Advance(45 * time.Second)
	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 bucket left, got %d", l.Len())
	}
}

func TestIdleBucketIsResetOnAccess(t *testing.T) {
	l, clock := newTestLimiter(map[probe.Operation]Policy{
		probe.OpScan: {Max: 2, Window: time.Minute},
	})
	l.Allow(probe.OpScan, "a")
	l.Allow(probe.OpScan, "a")

	clock.Advance(2 * time.Minute)
	if !l.Allow(probe.OpScan, "a") || !l.Allow(probe.OpScan, "a") {
		t.Fatal("a full budget should be available after an idle window")
	}
}

func TestSetPolicyReplacesLimits(t *testing.T) {
	l, _ := newTestLimiter(map[probe.Operation]Policy{
		probe.OpScan: {Max: 1, Window: time.Minute},
	})
	l.Allow(probe.OpScan, "a")
	if l.Allow(probe.OpScan, "a") {
		t.Fatal("expected denial under the old policy")
	}

	l.SetPolicy(probe.OpScan, Policy{Max: 3, Window: time.Minute})
	for i := 0; i < 3; i++ {
		if !l.Allow(probe.OpScan, "a") {
			t.Fatalf("request %d should pass under the new policy", i+1)
		}
	}
	if p, ok := l.Policy(probe.OpScan); !ok || p.Max != 3 {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	l := New(DefaultPolicies())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAllowConcurrent(t *testing.T) {
	l, _ := newTestLimiter(map[probe.Operation]Policy{
		probe.OpScan: {Max: 50, Window: time.Minute},
	})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(probe.OpScan, "shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("expected exactly 50 allowed requests, got %d", allowed)
	}
}
