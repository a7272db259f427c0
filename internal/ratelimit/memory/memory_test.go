package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/courtgate/internal/ratelimit"
)

var t0 = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func TestCheck_FirstCallAdmittedForBothClasses(t *testing.T) {
	l := New(t0)

	for _, c := range []ratelimit.Class{ratelimit.Anonymous, ratelimit.Authenticated} {
		dec := l.Check("fresh-"+c.String(), c, t0)
		assert.False(t, dec.Limited, c.String())
		assert.Zero(t, dec.RetryAfter)
	}
}

func TestCheck_ThresholdPerClass(t *testing.T) {
	tests := []struct {
		class ratelimit.Class
		limit int
	}{
		{ratelimit.Anonymous, 10},
		{ratelimit.Authenticated, 30},
	}

	for _, tt := range tests {
		t.Run(tt.class.String(), func(t *testing.T) {
			l := New(t0)
			now := t0
			for i := 1; i <= tt.limit; i++ {
				dec := l.Check("k", tt.class, now)
				require.False(t, dec.Limited, "call %d", i)
				assert.Equal(t, tt.limit, dec.Limit)
				assert.Equal(t, tt.limit-i, dec.Remaining)
				now = now.Add(time.Second)
			}

			dec := l.Check("k", tt.class, now)
			assert.True(t, dec.Limited)
			assert.Zero(t, dec.Remaining)
		})
	}
}

func TestCheck_AnonymousScenario(t *testing.T) {
	l := New(t0)

	for i := 0; i < 10; i++ {
		dec := l.Check("anon-1", ratelimit.Anonymous, t0.Add(time.Duration(i)*time.Second))
		require.False(t, dec.Limited, "call %d", i+1)
	}

	dec := l.Check("anon-1", ratelimit.Anonymous, t0.Add(30*time.Second))
	require.True(t, dec.Limited)
	assert.Greater(t, dec.RetryAfter, 0)
	assert.LessOrEqual(t, dec.RetryAfter, 60)
	assert.Equal(t, 30, dec.RetryAfter)
}

func TestCheck_AuthenticatedScenarioResetsAfterWindow(t *testing.T) {
	l := New(t0)

	for i := 0; i < 30; i++ {
		require.False(t, l.Check("user-42", ratelimit.Authenticated, t0).Limited, "call %d", i+1)
	}
	require.True(t, l.Check("user-42", ratelimit.Authenticated, t0).Limited)

	later := t0.Add(61 * time.Second)
	dec := l.Check("user-42", ratelimit.Authenticated, later)
	require.False(t, dec.Limited)
	assert.Equal(t, 29, dec.Remaining)
	assert.Equal(t, later.Add(time.Minute), dec.ResetAt)
}

func TestCheck_ResetExactlyAtWindowEnd(t *testing.T) {
	l := New(t0)
	for i := 0; i < 10; i++ {
		l.Check("k", ratelimit.Anonymous, t0)
	}

	assert.True(t, l.Check("k", ratelimit.Anonymous, t0.Add(time.Minute-time.Nanosecond)).Limited)
	assert.False(t, l.Check("k", ratelimit.Anonymous, t0.Add(time.Minute)).Limited)
}

func TestCheck_RetryAfterRoundsUpAndNeverIncreases(t *testing.T) {
	l := New(t0)
	for i := 0; i < 10; i++ {
		l.Check("k", ratelimit.Anonymous, t0)
	}

	prev := 61
	for ms := 0; ms < 60_000; ms += 750 {
		dec := l.Check("k", ratelimit.Anonymous, t0.Add(time.Duration(ms)*time.Millisecond))
		require.True(t, dec.Limited, "at %dms", ms)
		require.Greater(t, dec.RetryAfter, 0)
		require.LessOrEqual(t, dec.RetryAfter, prev)
		prev = dec.RetryAfter
	}

	dec := l.Check("k", ratelimit.Anonymous, t0.Add(59_001*time.Millisecond))
	assert.Equal(t, 1, dec.RetryAfter)
	dec = l.Check("k", ratelimit.Anonymous, t0.Add(500*time.Millisecond))
	assert.Equal(t, 60, dec.RetryAfter)
}

func TestCheck_LimitedCallsDoNotExtendWindow(t *testing.T) {
	l := New(t0)
	for i := 0; i < 10; i++ {
		l.Check("k", ratelimit.Anonymous, t0)
	}
	for i := 0; i < 50; i++ {
		l.Check("k", ratelimit.Anonymous, t0.Add(30*time.Second))
	}

	assert.False(t, l.Check("k", ratelimit.Anonymous, t0.Add(time.Minute)).Limited)
}

func TestCheck_KeysAreIsolated(t *testing.T) {
	l := New(t0)
	for i := 0; i < 10; i++ {
		l.Check("a", ratelimit.Anonymous, t0)
	}
	require.True(t, l.Check("a", ratelimit.Anonymous, t0).Limited)

	dec := l.Check("b", ratelimit.Anonymous, t0)
	assert.False(t, dec.Limited)
	assert.Equal(t, 9, dec.Remaining)
}

func TestCheck_BoundaryBurstIsAllowed(t *testing.T) {
	l := New(t0)
	admitted := 0
	for i := 0; i < 10; i++ {
		if !l.Check("k", ratelimit.Anonymous, t0.Add(59*time.Second)).Limited {
			admitted++
		}
	}
	// first call opened the window at t0+59s, so it ends at t0+119s
	for i := 0; i < 10; i++ {
		if !l.Check("k", ratelimit.Anonymous, t0.Add(119*time.Second)).Limited {
			admitted++
		}
	}
	assert.Equal(t, 20, admitted)
}

func TestSweep_InlineRemovesExpiredEntries(t *testing.T) {
	var swept []int
	l := New(t0, WithSweepHook(func(n int) { swept = append(swept, n) }))

	for i := 0; i < 1000; i++ {
		l.Check(fmt.Sprintf("one-shot-%d", i), ratelimit.Anonymous, t0)
	}
	require.Equal(t, 1000, l.Len())

	// interval not yet elapsed: nothing swept even though windows expired
	l.Check("late", ratelimit.Anonymous, t0.Add(4*time.Minute))
	assert.Equal(t, 1001, l.Len())
	assert.Empty(t, swept)

	l.Check("trigger", ratelimit.Anonymous, t0.Add(5*time.Minute))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, []int{1001}, swept)
}

func TestSweep_KeepsLiveEntries(t *testing.T) {
	l := New(t0)
	l.Check("old", ratelimit.Anonymous, t0)
	l.Check("live", ratelimit.Anonymous, t0.Add(4*time.Minute+30*time.Second))

	removed := l.Sweep(t0.Add(5 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())

	dec := l.Check("live", ratelimit.Anonymous, t0.Add(5*time.Minute))
	assert.Equal(t, 8, dec.Remaining)
}

func TestSweep_ManyOneShotKeysStayBounded(t *testing.T) {
	l := New(t0)
	now := t0
	peak := 0
	for i := 0; i < 20_000; i++ {
		l.Check(fmt.Sprintf("visitor-%d", i), ratelimit.Anonymous, now)
		now = now.Add(100 * time.Millisecond)
		peak = max(peak, l.Len())
	}
	// 5 min sweep interval + 1 min window at 10 keys/s
	assert.LessOrEqual(t, peak, 3600+10)
}

func TestSweep_InlineDisabled(t *testing.T) {
	l := New(t0, WithInlineSweep(false))
	l.Check("a", ratelimit.Anonymous, t0)
	l.Check("b", ratelimit.Anonymous, t0.Add(time.Hour))
	assert.Equal(t, 2, l.Len())
}

func TestStartSweeper_RunsInBackground(t *testing.T) {
	var runs atomic.Int32
	p := ratelimit.DefaultPolicy
	p.Window = time.Millisecond
	p.SweepInterval = 5 * time.Millisecond
	l := New(time.Now(), WithPolicy(p), WithInlineSweep(false), WithSweepHook(func(int) { runs.Add(1) }))

	l.Check("k", ratelimit.Anonymous, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.StartSweeper(ctx)

	require.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Positive(t, runs.Load())
}

func TestCheck_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	l := New(t0)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !l.Check("shared", ratelimit.Authenticated, t0).Limited {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(30), admitted.Load())
}
