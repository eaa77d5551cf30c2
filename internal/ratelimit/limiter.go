// Package ratelimit throttles probe operations per client identity.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/khanhnv2901/netlab/internal/probe"
	"golang.org/x/time/rate"
)

// Policy allows Max requests per Window. A zero Max or Window disables limiting.
type Policy struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

func (p Policy) enabled() bool { return p.Max > 0 && p.Window > 0 }

// DefaultPolicies returns the per-operation limits used when nothing is configured.
func DefaultPolicies() map[probe.Operation]Policy {
	return map[probe.Operation]Policy{
		probe.OpScan:   {Max: 6, Window: time.Minute},
		probe.OpBanner: {Max: 8, Window: time.Minute},
		probe.OpPing:   {Max: 20, Window: time.Minute},
		probe.OpTLS:    {Max: 20, Window: time.Minute},
	}
}

type key struct {
	op       probe.Operation
	identity string
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WindowLimiter keeps one token bucket per (operation, identity). Each bucket
// holds Max tokens and refills one token every Window/Max, so a client can burst
// Max requests and then continues at the average rate the window allows.
// Buckets idle longer than their window are full again and get evicted.
type WindowLimiter struct {
	mu       sync.Mutex
	policies map[probe.Operation]Policy
	entries  map[key]*entry
	now      func() time.Time
}

// New creates a limiter with the given policies. Operations without a policy
// are not limited.
func New(policies map[probe.Operation]Policy) *WindowLimiter {
	l := &WindowLimiter{
		policies: make(map[probe.Operation]Policy, len(policies)),
		entries:  make(map[key]*entry),
		now:      time.Now,
	}
	for op, p := range policies {
		l.policies[op] = p
	}
	return l
}

// Allow reports whether identity may run op now and consumes a token if so.
func (l *WindowLimiter) Allow(op probe.Operation, identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	policy, ok := l.policies[op]
	if !ok || !policy.enabled() {
		return true
	}

	now := l.now()
	k := key{op: op, identity: identity}
	e, ok := l.entries[k]
	if ok && now.Sub(e.lastSeen) > policy.Window {
		delete(l.entries, k)
		ok = false
	}
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(policy.Window/time.Duration(policy.Max)), policy.Max)}
		l.entries[k] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// SetPolicy replaces the policy for op. Existing buckets for op are dropped so
// the new limits apply from the next request.
func (l *WindowLimiter) SetPolicy(op probe.Operation, p Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies[op] = p
	for k := range l.entries {
		if k.op == op {
			delete(l.entries, k)
		}
	}
}

// Policy returns the active policy for op.
func (l *WindowLimiter) Policy(op probe.Operation) (Policy, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.policies[op]
	return p, ok
}

// Sweep evicts every bucket idle longer than its window and returns how many
// were removed.
func (l *WindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.policies[k.op].Window {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps every interval until ctx is done.
func (l *WindowLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
