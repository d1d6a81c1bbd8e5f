// Package retry re-runs throttled node calls with exponential backoff under two budgets:
// an attempt count and a total elapsed time. Either one ends the loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/internal/constants"
	"github.com/0xmhha/contract-explorer/internal/logger"
	"github.com/0xmhha/contract-explorer/pkg/metrics"
)

// ErrRetriesExhausted is wrapped by the error returned when a throttled call runs out of budget
var ErrRetriesExhausted = errors.New("retries exhausted")

const (
	budgetAttempts = "attempts"
	budgetElapsed  = "elapsed"
)

var throttleMessage = regexp.MustCompile(`(?i)\b429\b|rate.?limit|too many requests`)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the total number of calls, the first one included
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a computed backoff delay. Server hints are not capped.
	MaxDelay time.Duration
	// MaxElapsed bounds the time from the first call to the end of the last planned sleep
	MaxElapsed time.Duration
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: constants.DefaultRetryMaxAttempts,
		BaseDelay:   constants.DefaultRetryBaseDelay,
		MaxDelay:    constants.DefaultRetryMaxDelay,
		MaxElapsed:  constants.DefaultRetryMaxElapsed,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("max delay cannot be negative")
	}
	if c.MaxElapsed < 0 {
		return fmt.Errorf("max elapsed cannot be negative")
	}
	return nil
}

// Policy retries throttled calls. It is safe for concurrent use.
type Policy struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Policy
type Option func(*Policy)

// WithMetrics records retries and exhaustion
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Policy) { p.metrics = m }
}

// WithClock replaces the wall clock and the sleep function
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.now = now
		p.sleep = sleep
	}
}

// New creates a policy. An invalid cfg falls back to DefaultConfig.
func New(cfg Config, log *zap.Logger, opts ...Option) *Policy {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("invalid retry config, using defaults", zap.Error(err))
		cfg = DefaultConfig()
	}
	p := &Policy{
		cfg:    cfg,
		logger: log.With(zap.String("component", "retry")),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the policy configuration
func (p *Policy) Config() Config {
	return p.cfg
}

// Do calls fn until it succeeds, fails with a non-throttling error, or a budget runs out.
// Retry warnings and the exhaustion error go to the zap logger and to the sink in ctx.
func (p *Policy) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	start := p.now()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsThrottled(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		delay := p.Backoff(attempt, err)
		elapsed := p.now().Sub(start)

		if attempt >= p.cfg.MaxAttempts {
			return p.exhausted(ctx, label, budgetAttempts, attempt, elapsed, err)
		}
		if elapsed+delay > p.cfg.MaxElapsed {
			return p.exhausted(ctx, label, budgetElapsed, attempt, elapsed, err)
		}

		p.metrics.Retried(label)
		logger.Emit(ctx, p.logger, logger.LevelWarn,
			fmt.Sprintf("%s throttled (attempt %d/%d), retrying in %s", label, attempt, p.cfg.MaxAttempts, delay),
			zap.String("label", label),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Backoff returns the delay before the next attempt: the server hint in err when present,
// otherwise min(BaseDelay*2^(attempt-1), MaxDelay)
func (p *Policy) Backoff(attempt int, err error) time.Duration {
	if hint, ok := RetryAfter(err); ok {
		if hint < 0 {
			return 0
		}
		return hint
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := p.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		if p.cfg.MaxDelay > 0 && delay >= p.cfg.MaxDelay {
			break
		}
		if delay > time.Duration(1<<62) {
			break
		}
		delay *= 2
	}
	if p.cfg.MaxDelay > 0 && delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	if delay < 0 {
		return 0
	}
	return delay
}

func (p *Policy) exhausted(ctx context.Context, label, budget string, attempts int, elapsed time.Duration, cause error) error {
	p.metrics.RetryExhausted(label, budget)
	logger.Emit(ctx, p.logger, logger.LevelError,
		fmt.Sprintf("%s still throttled after %d attempts in %s, giving up (max attempts %d, max elapsed %s)",
			label, attempts, elapsed.Round(time.Millisecond), p.cfg.MaxAttempts, p.cfg.MaxElapsed),
		zap.String("label", label),
		zap.String("budget", budget),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
		zap.Error(cause),
	)
	return fmt.Errorf("%s: %w (%s budget): %w", label, ErrRetriesExhausted, budget, cause)
}

// IsThrottled reports whether err is a rate-limit signal from the node:
// HTTP 429, JSON-RPC error code 429, or a rate-limit message
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == http.StatusTooManyRequests {
		return true
	}
	return throttleMessage.MatchString(err.Error())
}

// HintError carries a server retry hint alongside the error it came with
type HintError struct {
	Err   error
	After time.Duration
}

func (e *HintError) Error() string { return e.Err.Error() }

func (e *HintError) Unwrap() error { return e.Err }

// RetryAfter returns the hint
func (e *HintError) RetryAfter() (time.Duration, bool) { return e.After, true }

// RetryAfter extracts a server retry hint from anywhere in err's chain
func RetryAfter(err error) (time.Duration, bool) {
	var hinted interface {
		RetryAfter() (time.Duration, bool)
	}
	if errors.As(err, &hinted) {
		return hinted.RetryAfter()
	}
	return 0, false
}

// ParseRetryAfter parses a Retry-After header value: delay seconds or an HTTP-date.
// Dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(value, 10, 32); err == nil {
		if secs < 0 {
			return 0, true
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
