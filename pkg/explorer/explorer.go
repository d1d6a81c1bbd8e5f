// Package explorer is the entry point for callers: it validates queries, keeps
// one lazily dialed node per network and runs discovery against it. Every node
// shares one rate-limit scheduler and one retry policy.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/0xmhha/contract-explorer/internal/constants"
	"github.com/0xmhha/contract-explorer/pkg/client"
	"github.com/0xmhha/contract-explorer/pkg/fetch"
	"github.com/0xmhha/contract-explorer/pkg/metrics"
	"github.com/0xmhha/contract-explorer/pkg/ratelimit"
	"github.com/0xmhha/contract-explorer/pkg/retry"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

var (
	// ErrInvalidQuery is wrapped by every query validation error
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnknownNetwork is returned for networks without a configured endpoint
	ErrUnknownNetwork = errors.New("unknown network")
)

// Config holds explorer configuration
type Config struct {
	// Networks maps a network name to its node endpoint
	Networks       map[string]string
	DefaultNetwork string
	RPCTimeout     time.Duration
	RateLimit      ratelimit.Config
	Retry          retry.Config
	Fetch          fetch.Config
	MaxPageSize    int
}

// DefaultConfig returns the default explorer configuration
func DefaultConfig() Config {
	networks := make(map[string]string, len(constants.DefaultNetworkEndpoints))
	for name, endpoint := range constants.DefaultNetworkEndpoints {
		networks[name] = endpoint
	}
	return Config{
		Networks:       networks,
		DefaultNetwork: constants.DefaultNetwork,
		RPCTimeout:     constants.DefaultRPCTimeout,
		RateLimit:      ratelimit.DefaultConfig(),
		Retry:          retry.DefaultConfig(),
		Fetch:          *fetch.DefaultConfig(),
		MaxPageSize:    constants.DefaultMaxPageSize,
	}
}

// Dialer connects to the node of a network
type Dialer func(ctx context.Context, network, endpoint string) (client.Node, error)

// networkNode is a dialed network
type networkNode struct {
	raw     client.Node
	fetcher *fetch.Fetcher
}

// Service runs discovery queries
type Service struct {
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	scheduler *ratelimit.Scheduler
	policy    *retry.Policy
	dial      Dialer

	group singleflight.Group
	mu    sync.RWMutex
	nodes map[string]*networkNode
}

// Option configures a Service
type Option func(*Service)

// WithDialer replaces the JSON-RPC dialer
func WithDialer(d Dialer) Option {
	return func(s *Service) { s.dial = d }
}

// New creates the service and its shared scheduler. Nodes are dialed on first use.
// reg may be nil to skip metric registration.
func New(cfg Config, log *zap.Logger, reg prometheus.Registerer, opts ...Option) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Networks) == 0 {
		return nil, fmt.Errorf("at least one network endpoint is required")
	}
	if cfg.DefaultNetwork == "" {
		cfg.DefaultNetwork = constants.DefaultNetwork
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = constants.DefaultMaxPageSize
	}
	if err := cfg.Fetch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fetch config: %w", err)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	m := metrics.New(reg)
	s := &Service{
		cfg:       cfg,
		logger:    log.With(zap.String("component", "explorer")),
		metrics:   m,
		scheduler: ratelimit.New(cfg.RateLimit, log, ratelimit.WithMetrics(m)),
		policy:    retry.New(cfg.Retry, log, retry.WithMetrics(m)),
		nodes:     make(map[string]*networkNode),
	}
	s.dial = s.dialRPC
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("explorer ready",
		zap.Strings("networks", s.Networks()),
		zap.Float64("requests_per_second", s.scheduler.Config().RequestsPerSecond),
		zap.Int("max_concurrency", s.scheduler.Config().MaxConcurrency),
		zap.Int("trace_budget", cfg.Fetch.TraceBudget))

	return s, nil
}

// Discover validates q and runs one discovery
func (s *Service) Discover(ctx context.Context, q types.Query) (*types.Result, error) {
	if err := s.normalize(&q); err != nil {
		return nil, err
	}

	f, err := s.fetcher(ctx, q.Network)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := f.Discover(ctx, &q)
	if err != nil {
		s.logger.Error("discovery failed",
			zap.String("network", q.Network),
			zap.String("address", q.Address),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// normalize fills defaults and validates q
func (s *Service) normalize(q *types.Query) error {
	if q.Network == "" {
		q.Network = s.cfg.DefaultNetwork
	}
	if q.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidQuery)
	}
	if !types.IsHex(q.Address) {
		return fmt.Errorf("%w: address %q is not a hex felt", ErrInvalidQuery, q.Address)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 1 {
		return fmt.Errorf("%w: page must be at least 1", ErrInvalidQuery)
	}
	if q.PageSize == 0 {
		q.PageSize = constants.DefaultPageSize
	}
	if q.PageSize < 1 || q.PageSize > s.cfg.MaxPageSize {
		return fmt.Errorf("%w: page size must be between 1 and %d", ErrInvalidQuery, s.cfg.MaxPageSize)
	}
	if q.From != nil && q.To != nil && *q.From > *q.To {
		return fmt.Errorf("%w: from is after to", ErrInvalidQuery)
	}
	if q.Filters.MinFee != nil && q.Filters.MinFee.Sign() < 0 {
		return fmt.Errorf("%w: min fee cannot be negative", ErrInvalidQuery)
	}
	if q.Filters.MaxFee != nil && q.Filters.MaxFee.Sign() < 0 {
		return fmt.Errorf("%w: max fee cannot be negative", ErrInvalidQuery)
	}
	if q.TraceBudget < 0 {
		return fmt.Errorf("%w: trace budget cannot be negative", ErrInvalidQuery)
	}
	if _, ok := s.cfg.Networks[q.Network]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, q.Network)
	}
	return nil
}

// fetcher returns the network's fetcher, dialing its node once
func (s *Service) fetcher(ctx context.Context, network string) (*fetch.Fetcher, error) {
	s.mu.RLock()
	n, ok := s.nodes[network]
	s.mu.RUnlock()
	if ok {
		return n.fetcher, nil
	}

	endpoint, ok := s.cfg.Networks[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}

	v, err, _ := s.group.Do(network, func() (interface{}, error) {
		s.mu.RLock()
		existing, ok := s.nodes[network]
		s.mu.RUnlock()
		if ok {
			return existing, nil
		}

		raw, err := s.dial(ctx, network, endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s node: %w", network, err)
		}
		guarded := client.NewGuarded(raw, s.scheduler, s.policy, s.metrics)
		created := &networkNode{
			raw:     raw,
			fetcher: fetch.NewFetcher(guarded, network, &s.cfg.Fetch, s.logger, s.metrics),
		}

		s.mu.Lock()
		s.nodes[network] = created
		s.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*networkNode).fetcher, nil
}

func (s *Service) dialRPC(ctx context.Context, network, endpoint string) (client.Node, error) {
	return client.NewClient(ctx, &client.Config{
		Endpoint: endpoint,
		Timeout:  s.cfg.RPCTimeout,
		Logger:   s.logger.With(zap.String("network", network)),
	})
}

// Networks returns the configured network names, sorted
func (s *Service) Networks() []string {
	names := make([]string, 0, len(s.cfg.Networks))
	for name := range s.cfg.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the shared scheduler state
func (s *Service) Stats() ratelimit.Stats {
	return s.scheduler.Stats()
}

// Close stops the scheduler and closes every dialed node
func (s *Service) Close() {
	s.scheduler.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, n := range s.nodes {
		if closer, ok := n.raw.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(s.nodes, name)
	}
}
