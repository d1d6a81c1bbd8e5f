// Package ratelimit gates node calls behind a token bucket and a concurrency bound.
//
// All limiter state (tokens, active count, FIFO queue) is owned by one goroutine.
// Callers talk to it over channels, so there is no locking around the bucket.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xmhha/contract-explorer/internal/constants"
	"github.com/0xmhha/contract-explorer/internal/logger"
	"github.com/0xmhha/contract-explorer/pkg/metrics"
)

// ErrSchedulerClosed is returned for calls submitted to, or queued in, a closed scheduler
var ErrSchedulerClosed = errors.New("scheduler closed")

// Reason names the constraint that made a call wait
type Reason string

const (
	ReasonConcurrency Reason = "concurrency"
	ReasonRate        Reason = "rate"
	ReasonBoth        Reason = "concurrency+rate"
)

// ThrottleEvent describes a call that could not run immediately
type ThrottleEvent struct {
	Label  string
	Reason Reason
	// Wait is the estimated time until the call is admitted
	Wait time.Duration
	// Position is the call's place in the queue, starting at 1
	Position int
}

// Config holds scheduler configuration
type Config struct {
	RequestsPerSecond float64
	MaxConcurrency    int
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: constants.DefaultRequestsPerSecond,
		MaxConcurrency:    constants.DefaultMaxConcurrency,
	}
}

// Normalize clamps the rate to MinRequestsPerSecond and the concurrency to at least 1
func (c Config) Normalize() Config {
	if math.IsNaN(c.RequestsPerSecond) || c.RequestsPerSecond < constants.MinRequestsPerSecond {
		c.RequestsPerSecond = constants.MinRequestsPerSecond
	}
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	return c
}

// burst is the bucket capacity: the per-second rate, at least one token
func (c Config) burst() int {
	return int(math.Max(1, math.Ceil(c.RequestsPerSecond)))
}

// Stats is a snapshot of the scheduler state
type Stats struct {
	Active            int     `json:"active"`
	Queued            int     `json:"queued"`
	Tokens            float64 `json:"tokens"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	MaxConcurrency    int     `json:"maxConcurrency"`
}

// Scheduler admits calls when both a token and a concurrency slot are available.
// Waiting calls are admitted strictly in arrival order.
type Scheduler struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	submitCh chan *request
	doneCh   chan struct{}
	cancelCh chan *request
	statsCh  chan chan Stats
	quit     chan struct{}
	stopped  chan struct{}
	closeOnce sync.Once
}

// request is one call waiting for admission. granted is only touched by the run loop.
type request struct {
	label    string
	grant    chan struct{}
	throttle chan ThrottleEvent
	granted  bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMetrics records queue depth and throttle reasons
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler and starts its run loop. Call Close to stop it.
func New(cfg Config, log *zap.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.Normalize()

	s := &Scheduler{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.burst()),
		logger:   log.With(zap.String("component", "ratelimit")),
		now:      time.Now,
		submitCh: make(chan *request),
		doneCh:   make(chan struct{}),
		cancelCh: make(chan *request),
		statsCh:  make(chan chan Stats),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.run()
	return s
}

// Config returns the normalized configuration
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Schedule runs fn on the calling goroutine once the call is admitted and returns its error.
// If ctx is done while the call is queued, fn never runs and the context error is returned.
// Throttle events go to the sink attached to ctx.
func (s *Scheduler) Schedule(ctx context.Context, label string, fn func() error) error {
	r := &request{
		label:    label,
		grant:    make(chan struct{}),
		throttle: make(chan ThrottleEvent, 1),
	}

	select {
	case s.submitCh <- r:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrSchedulerClosed
	}

	for waiting := true; waiting; {
		select {
		case <-r.grant:
			waiting = false
		case ev := <-r.throttle:
			s.emitThrottle(ctx, ev)
		case <-ctx.Done():
			select {
			case s.cancelCh <- r:
			case <-s.stopped:
			}
			return ctx.Err()
		case <-s.stopped:
			return ErrSchedulerClosed
		}
	}
	// the event is buffered before the grant, so it may still be pending here
	select {
	case ev := <-r.throttle:
		s.emitThrottle(ctx, ev)
	default:
	}

	defer func() {
		select {
		case s.doneCh <- struct{}{}:
		case <-s.stopped:
		}
	}()
	return fn()
}

// Stats returns a snapshot of the scheduler state
func (s *Scheduler) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case s.statsCh <- reply:
		return <-reply
	case <-s.stopped:
		return Stats{RequestsPerSecond: s.cfg.RequestsPerSecond, MaxConcurrency: s.cfg.MaxConcurrency}
	}
}

// Close stops the run loop. Queued and future calls fail with ErrSchedulerClosed.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.stopped
}

func (s *Scheduler) run() {
	defer close(s.stopped)

	var (
		queue  []*request
		active int
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case r := <-s.submitCh:
			if len(queue) == 0 && s.admit(r, &active) {
				break
			}
			queue = append(queue, r)
			s.notifyThrottled(r, active, len(queue))

		case <-s.doneCh:
			active--

		case r := <-s.cancelCh:
			if r.granted {
				active--
				break
			}
			for i, q := range queue {
				if q == r {
					queue = append(queue[:i], queue[i+1:]...)
					break
				}
			}

		case <-timerC:
			timerC = nil

		case reply := <-s.statsCh:
			reply <- Stats{
				Active:            active,
				Queued:            len(queue),
				Tokens:            s.limiter.TokensAt(s.now()),
				RequestsPerSecond: s.cfg.RequestsPerSecond,
				MaxConcurrency:    s.cfg.MaxConcurrency,
			}
			continue

		case <-s.quit:
			return
		}

		for len(queue) > 0 && s.admit(queue[0], &active) {
			queue[0] = nil
			queue = queue[1:]
		}
		s.metrics.SetQueueDepth(len(queue))

		if timer != nil {
			timer.Stop()
			timerC = nil
		}
		if len(queue) > 0 && active < s.cfg.MaxConcurrency {
			timer = time.NewTimer(s.tokenWait(1))
			timerC = timer.C
		}
	}
}

// admit grants r if a slot and a token are free
func (s *Scheduler) admit(r *request, active *int) bool {
	if *active >= s.cfg.MaxConcurrency {
		return false
	}
	if !s.limiter.AllowN(s.now(), 1) {
		return false
	}
	*active++
	r.granted = true
	close(r.grant)
	return true
}

// tokenWait estimates how long until n tokens are available
func (s *Scheduler) tokenWait(n int) time.Duration {
	missing := float64(n) - s.limiter.TokensAt(s.now())
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / s.cfg.RequestsPerSecond * float64(time.Second))
}

func (s *Scheduler) notifyThrottled(r *request, active, position int) {
	concurrencyBound := active >= s.cfg.MaxConcurrency
	rateBound := s.limiter.TokensAt(s.now()) < 1

	reason := ReasonRate
	switch {
	case concurrencyBound && rateBound:
		reason = ReasonBoth
	case concurrencyBound:
		reason = ReasonConcurrency
	}
	s.metrics.Throttled(string(reason))

	ev := ThrottleEvent{Label: r.label, Reason: reason, Wait: s.tokenWait(position), Position: position}
	select {
	case r.throttle <- ev:
	default:
	}
}

func (s *Scheduler) emitThrottle(ctx context.Context, ev ThrottleEvent) {
	logger.Emit(ctx, s.logger, logger.LevelInfo,
		fmt.Sprintf("throttled %s (%s), waiting about %s", ev.Label, ev.Reason, ev.Wait.Round(time.Millisecond)),
		zap.String("label", ev.Label),
		zap.String("reason", string(ev.Reason)),
		zap.Duration("wait", ev.Wait),
		zap.Int("position", ev.Position),
	)
}
