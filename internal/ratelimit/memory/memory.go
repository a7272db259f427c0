package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AlexKimmel/courtgate/internal/ratelimit"
)

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter table keyed by caller.
// Counts reset at window boundaries, so a caller can burst up to 2x the
// limit across two adjacent windows.
type Limiter struct {
	mu          sync.Mutex
	policy      ratelimit.Policy
	entries     map[string]*entry
	lastSweep   time.Time
	inlineSweep bool
	onSweep     func(removed int)
}

type Option func(*Limiter)

func WithPolicy(p ratelimit.Policy) Option {
	return func(l *Limiter) { l.policy = p }
}

// WithInlineSweep toggles the opportunistic sweep inside Check. Disable it
// when StartSweeper runs the sweep in the background instead.
func WithInlineSweep(on bool) Option {
	return func(l *Limiter) { l.inlineSweep = on }
}

// WithSweepHook is called after every sweep with the number of entries removed.
// It runs under the table lock and must not call back into the Limiter.
func WithSweepHook(fn func(removed int)) Option {
	return func(l *Limiter) { l.onSweep = fn }
}

// New creates a limiter whose sweep clock starts at start.
func New(start time.Time, opts ...Option) *Limiter {
	l := &Limiter{
		policy:      ratelimit.DefaultPolicy,
		entries:     make(map[string]*entry),
		lastSweep:   start,
		inlineSweep: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Close() error { return nil }

func (l *Limiter) Check(key string, c ratelimit.Class, now time.Time) ratelimit.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inlineSweep && now.Sub(l.lastSweep) >= l.policy.SweepInterval {
		l.sweepLocked(now)
	}

	limit := l.policy.LimitFor(c)

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(l.policy.Window)}
		l.entries[key] = e
		return ratelimit.Decision{
			Limit:     limit,
			Remaining: max(limit-1, 0),
			ResetAt:   e.resetAt,
		}
	}

	if e.count < limit {
		e.count++
		return ratelimit.Decision{
			Limit:     limit,
			Remaining: limit - e.count,
			ResetAt:   e.resetAt,
		}
	}

	return ratelimit.Decision{
		Limited:    true,
		RetryAfter: ceilSeconds(e.resetAt.Sub(now)),
		Limit:      limit,
		ResetAt:    e.resetAt,
	}
}

// Sweep drops every entry whose window has ended and returns how many went.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *Limiter) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, k)
			removed++
		}
	}
	l.lastSweep = now
	if l.onSweep != nil {
		l.onSweep(removed)
	}
	return removed
}

// Len reports the number of tracked keys, expired or not.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// StartSweeper sweeps every SweepInterval until ctx is done.
func (l *Limiter) StartSweeper(ctx context.Context) {
	if l.policy.SweepInterval <= 0 {
		return
	}

	t := time.NewTicker(l.policy.SweepInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				l.Sweep(now)
			}
		}
	}()
}

// ceilSeconds rounds up to whole seconds; d must be positive.
func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
