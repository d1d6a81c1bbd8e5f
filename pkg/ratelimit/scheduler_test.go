package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/internal/logger"
)

func newTestScheduler(t *testing.T, rps float64, concurrency int) *Scheduler {
	t.Helper()
	s := New(Config{RequestsPerSecond: rps, MaxConcurrency: concurrency}, zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func TestConfig_Normalize(t *testing.T) {
	cfg := Config{RequestsPerSecond: 0, MaxConcurrency: 0}.Normalize()
	assert.Equal(t, 0.1, cfg.RequestsPerSecond)
	assert.Equal(t, 1, cfg.MaxConcurrency)
	assert.Equal(t, 1, cfg.burst())

	cfg = Config{RequestsPerSecond: 2.5, MaxConcurrency: 3}.Normalize()
	assert.Equal(t, 2.5, cfg.RequestsPerSecond)
	assert.Equal(t, 3, cfg.burst())
}

func TestSchedule_RunsAndReturnsError(t *testing.T) {
	s := newTestScheduler(t, 100, 2)

	ran := false
	err := s.Schedule(context.Background(), "ok", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	boom := errors.New("boom")
	err = s.Schedule(context.Background(), "fail", func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSchedule_ConcurrencyBound(t *testing.T) {
	s := newTestScheduler(t, 1000, 2)

	var (
		running int32
		peak    int32
		wg      sync.WaitGroup
	)
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Schedule(context.Background(), "call", func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.Active == 2 && st.Queued == 3
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
	st := s.Stats()
	assert.Equal(t, 0, st.Active)
	assert.Equal(t, 0, st.Queued)
}

func TestSchedule_FIFOOrder(t *testing.T) {
	s := newTestScheduler(t, 1000, 1)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.Schedule(context.Background(), "first", func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.Schedule(context.Background(), "queued", func() error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		require.Eventually(t, func() bool { return s.Stats().Queued == i }, time.Second, time.Millisecond)
	}

	close(hold)
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSchedule_RateBoundEmitsThrottleEvent(t *testing.T) {
	s := newTestScheduler(t, 2, 4)

	var c logger.Collector
	ctx := logger.WithSink(context.Background(), c.Sink())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Schedule(ctx, "starknet_getEvents", func() error { return nil }))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "third call waits for a refill")
	require.Equal(t, 1, c.Count(logger.LevelInfo))
	msg := c.Events()[0].Message
	assert.Contains(t, msg, "starknet_getEvents")
	assert.True(t, strings.Contains(msg, "(rate)"), msg)
}

func TestSchedule_ConcurrencyReason(t *testing.T) {
	s := newTestScheduler(t, 1000, 1)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.Schedule(context.Background(), "holder", func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	var c logger.Collector
	ctx := logger.WithSink(context.Background(), c.Sink())
	done := make(chan error, 1)
	go func() { done <- s.Schedule(ctx, "waiter", func() error { return nil }) }()

	require.Eventually(t, func() bool { return s.Stats().Queued == 1 }, time.Second, time.Millisecond)
	close(hold)
	require.NoError(t, <-done)

	events := c.Events()
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, "(concurrency)")
}

func TestSchedule_CancelWhileQueued(t *testing.T) {
	s := newTestScheduler(t, 1000, 1)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.Schedule(context.Background(), "holder", func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ran := false
	go func() {
		done <- s.Schedule(ctx, "cancelled", func() error {
			ran = true
			return nil
		})
	}()
	require.Eventually(t, func() bool { return s.Stats().Queued == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, ran)
	require.Eventually(t, func() bool { return s.Stats().Queued == 0 }, time.Second, time.Millisecond)

	close(hold)
	require.Eventually(t, func() bool { return s.Stats().Active == 0 }, time.Second, time.Millisecond)
	assert.NoError(t, s.Schedule(context.Background(), "after", func() error { return nil }))
}

func TestSchedule_Closed(t *testing.T) {
	s := New(Config{RequestsPerSecond: 10, MaxConcurrency: 1}, nil)
	s.Close()
	s.Close()

	err := s.Schedule(context.Background(), "late", func() error { return nil })
	assert.ErrorIs(t, err, ErrSchedulerClosed)

	st := s.Stats()
	assert.Equal(t, 10.0, st.RequestsPerSecond)
}
