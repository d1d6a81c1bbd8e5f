package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0xmhha/contract-explorer/internal/logger"
)

// fakeClock advances only when the policy sleeps
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

type codedError struct{ code int }

func (e codedError) Error() string  { return fmt.Sprintf("rpc error %d", e.code) }
func (e codedError) ErrorCode() int { return e.code }

var errThrottled = rpc.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}

func newTestPolicy(cfg Config, clock *fakeClock) (*Policy, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return New(cfg, zap.New(core), WithClock(clock.Now, clock.Sleep)), logs
}

func TestIsThrottled(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", errThrottled, true},
		{"wrapped http 429", fmt.Errorf("getEvents: %w", errThrottled), true},
		{"http 500", rpc.HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}, false},
		{"json-rpc code 429", codedError{429}, true},
		{"json-rpc other code", codedError{-32000}, false},
		{"message 429", errors.New("server answered 429"), true},
		{"message rate limit", errors.New("Rate limit exceeded"), true},
		{"message ratelimited", errors.New("ratelimited by upstream"), true},
		{"message too many requests", errors.New("Too Many Requests"), true},
		{"unrelated number", errors.New("block 14290 not found"), false},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsThrottled(tt.err))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("3", now)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(5*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), d)

	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("soon", now)
	assert.False(t, ok)
}

func TestBackoff(t *testing.T) {
	p := New(Config{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxElapsed: time.Minute}, nil)

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1, errThrottled))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2, errThrottled))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3, errThrottled))
	assert.Equal(t, time.Second, p.Backoff(5, errThrottled))
	assert.Equal(t, time.Second, p.Backoff(80, errThrottled))

	hinted := &HintError{Err: errThrottled, After: 7 * time.Second}
	assert.Equal(t, 7*time.Second, p.Backoff(1, fmt.Errorf("wrapped: %w", hinted)), "hint wins and is not capped")
	assert.Equal(t, time.Duration(0), p.Backoff(1, &HintError{Err: errThrottled, After: -time.Second}))
}

func TestDo_SucceedsAfterTwoThrottles(t *testing.T) {
	clock := newFakeClock()
	p, logs := newTestPolicy(DefaultConfig(), clock)

	var c logger.Collector
	ctx := logger.WithSink(context.Background(), c.Sink())

	calls := 0
	err := p.Do(ctx, "starknet_getEvents", func(context.Context) error {
		calls++
		if calls <= 2 {
			return errThrottled
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, c.Count(logger.LevelWarn))
	assert.Equal(t, 0, c.Count(logger.LevelError))
	assert.Equal(t, 2, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, clock.sleeps)
}

func TestDo_AlwaysThrottledExhaustsAttempts(t *testing.T) {
	clock := newFakeClock()
	p, logs := newTestPolicy(Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, MaxElapsed: time.Hour}, clock)

	var c logger.Collector
	ctx := logger.WithSink(context.Background(), c.Sink())

	calls := 0
	err := p.Do(ctx, "starknet_getEvents", func(context.Context) error {
		calls++
		return errThrottled
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, IsThrottled(err), "last cause stays in the chain")
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, c.Count(logger.LevelWarn))
	require.Equal(t, 1, c.Count(logger.LevelError))

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "attempts", entries[0].ContextMap()["budget"])
}

func TestDo_ElapsedBudgetStopsBeforeSleeping(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestPolicy(Config{MaxAttempts: 100, BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxElapsed: 4 * time.Second}, clock)

	var c logger.Collector
	ctx := logger.WithSink(context.Background(), c.Sink())

	calls := 0
	err := p.Do(ctx, "starknet_traceTransaction", func(context.Context) error {
		calls++
		return errThrottled
	})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	// sleeps of 1s and 2s fit in 4s; the next 4s sleep would not
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.sleeps)
	assert.Equal(t, 1, c.Count(logger.LevelError))
	assert.Contains(t, err.Error(), "elapsed budget")
}

func TestDo_NonThrottledErrorIsNotRetried(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestPolicy(DefaultConfig(), clock)

	boom := errors.New("connection refused")
	calls := 0
	err := p.Do(context.Background(), "starknet_blockNumber", func(context.Context) error {
		calls++
		return boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.sleeps)
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	p := New(Config{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, MaxElapsed: 10 * time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, "starknet_getEvents", func(context.Context) error {
		calls++
		return errThrottled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNew_InvalidConfigFallsBack(t *testing.T) {
	p := New(Config{MaxAttempts: 0}, nil)
	assert.Equal(t, DefaultConfig(), p.Config())
}
