package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/lingotube/internal/apperr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
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

func testPolicies() Policies {
	return Policies{
		{"openai", "gpt"}: {
			Global:      budget(5, time.Minute, 5*time.Second),
			PerIdentity: budget(2, time.Minute, 5*time.Second),
		},
		{"openai", "whisper"}: {
			Global:      budget(1, time.Minute, 5*time.Second),
			PerIdentity: budget(1, time.Minute, 5*time.Second),
		},
		{"api", "resource"}: {
			PerIdentity: budget(1, 10*time.Second, 30*time.Second),
		},
	}
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := newFakeClock()
	return NewLimiter(NewMemoryBackend(WithClock(clock.Now)), testPolicies()), clock
}

func TestTryConsume_PerIdentityBlocks(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	require.NoError(t, l.TryConsume(ctx, "openai", "gpt", "u1"))
	require.NoError(t, l.TryConsume(ctx, "openai", "gpt", "u1"))

	err := l.TryConsume(ctx, "openai", "gpt", "u1")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "openai", exceeded.Category)
	assert.Equal(t, "gpt", exceeded.Operation)
	assert.Equal(t, "u1", exceeded.Identity)
	assert.Equal(t, 60, exceeded.RetryAfterSeconds())

	// another user still has budget
	assert.NoError(t, l.TryConsume(ctx, "openai", "gpt", "u2"))
}

func TestTryConsume_GlobalTierIsSharedAndNotRefunded(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	// u1 is blocked on the per-identity tier on its third call, but that call
	// still spent a global unit.
	for range 3 {
		_ = l.TryConsume(ctx, "openai", "gpt", "u1")
	}
	require.NoError(t, l.TryConsume(ctx, "openai", "gpt", "u2"))
	require.NoError(t, l.TryConsume(ctx, "openai", "gpt", "u3"))

	err := l.TryConsume(ctx, "openai", "gpt", "u4")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, GlobalIdentity, exceeded.Identity)
}

func TestTryConsume_BudgetsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	require.NoError(t, l.TryConsume(ctx, "openai", "whisper", "u1"))
	require.Error(t, l.TryConsume(ctx, "openai", "whisper", "u1"))

	assert.NoError(t, l.TryConsume(ctx, "openai", "gpt", "u1"))
}

func TestTryConsume_WindowResetAndPenalty(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	require.NoError(t, l.TryConsume(ctx, "api", "resource", "u1"))

	clock.Advance(8 * time.Second)
	err := l.TryConsume(ctx, "api", "resource", "u1")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	// penalty of 30s from the exhaustion point outlasts the 2s left in the window
	assert.Equal(t, 30, exceeded.RetryAfterSeconds())

	// the window has elapsed but the block has not lifted
	clock.Advance(10 * time.Second)
	require.ErrorAs(t, l.TryConsume(ctx, "api", "resource", "u1"), &exceeded)
	assert.Equal(t, 20, exceeded.RetryAfterSeconds())

	clock.Advance(20 * time.Second)
	assert.NoError(t, l.TryConsume(ctx, "api", "resource", "u1"))
}

func TestTryConsume_RetryAfterRoundsUp(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	require.NoError(t, l.TryConsume(ctx, "openai", "whisper", "u1"))
	clock.Advance(59*time.Second + 500*time.Millisecond)

	err := l.TryConsume(ctx, "openai", "whisper", "u2")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	// window ends in 0.5s, penalty of 5s wins
	assert.Equal(t, 5, exceeded.RetryAfterSeconds())

	assert.Equal(t, 1, (&ExceededError{RetryAfter: 10 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 1, (&ExceededError{}).RetryAfterSeconds())
}

func TestTryConsume_EmptyIdentitySkipsPerIdentityTier(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	for range 5 {
		require.NoError(t, l.TryConsume(ctx, "openai", "gpt", ""))
	}
	assert.Error(t, l.TryConsume(ctx, "openai", "gpt", ""))
}

func TestTryConsume_UnknownPolicy(t *testing.T) {
	l, _ := newTestLimiter()
	err := l.TryConsume(context.Background(), "openai", "dalle", "u1")
	assert.True(t, apperr.IsKind(err, apperr.KindConfig))
}

func TestTryConsume_ConcurrentConsumersNoLostUpdates(t *testing.T) {
	const capacity = 50
	l := NewLimiter(NewMemoryBackend(), Policies{
		{"openai", "gpt"}: {PerIdentity: budget(capacity, time.Minute, time.Second)},
	})

	var allowed, blocked atomic.Int64
	var wg sync.WaitGroup
	for range capacity + 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.TryConsume(context.Background(), "openai", "gpt", "u1")
			var exceeded *ExceededError
			switch {
			case err == nil:
				allowed.Add(1)
			case errors.As(err, &exceeded):
				blocked.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(capacity), allowed.Load())
	assert.Equal(t, int64(1), blocked.Load())
}

func TestDo_SkipsFnWhenBlocked(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}

	require.NoError(t, l.Do(ctx, "openai", "whisper", "u1", fn))
	require.Error(t, l.Do(ctx, "openai", "whisper", "u1", fn))
	assert.Equal(t, 1, calls)
}

func TestDefaultPolicies(t *testing.T) {
	p := DefaultPolicies()

	gpt := p[Key{CategoryOpenAI, OpGPT}]
	require.NotNil(t, gpt.Global)
	assert.Equal(t, 500, gpt.Global.Capacity)
	assert.Equal(t, 10, gpt.PerIdentity.Capacity)

	batch := p[Key{CategoryOpenAI, OpGPTBatch}]
	assert.Equal(t, 30*time.Second, batch.Global.Window)
	assert.Equal(t, 200, batch.PerIdentity.Capacity)

	sensitive := p[Key{CategoryAPI, OpSensitive}]
	assert.Nil(t, sensitive.Global)
	assert.Equal(t, 30*time.Second, sensitive.PerIdentity.Penalty)
}
