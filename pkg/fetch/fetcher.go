// Package fetch is the interaction-discovery engine: it resolves a time range to
// a height window, walks the node's event log, falls back to execution traces,
// and assembles a filtered, sorted page of rows.
package fetch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/internal/constants"
	"github.com/0xmhha/contract-explorer/internal/logger"
	"github.com/0xmhha/contract-explorer/pkg/blocktime"
	"github.com/0xmhha/contract-explorer/pkg/client"
	"github.com/0xmhha/contract-explorer/pkg/metrics"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

const tracerName = "github.com/0xmhha/contract-explorer/pkg/fetch"

// Config holds fetcher configuration
type Config struct {
	// EventChunkSize is the number of events requested per page
	EventChunkSize int

	// TraceBudget is the number of block and trace lookups the fallback may spend per run
	TraceBudget int

	// TraceFallback enables the trace scan. When disabled the scan counts as complete.
	TraceFallback bool

	// MaxEventPages stops the event scan after this many pages, leaving the
	// continuation token unconsumed. 0 means no limit.
	MaxEventPages int
}

// DefaultConfig returns the default fetcher configuration
func DefaultConfig() *Config {
	return &Config{
		EventChunkSize: constants.DefaultEventChunkSize,
		TraceBudget:    constants.DefaultTraceBudget,
		TraceFallback:  true,
	}
}

// Validate validates the fetcher configuration
func (c *Config) Validate() error {
	if c.EventChunkSize <= 0 {
		return fmt.Errorf("event chunk size must be positive")
	}
	if c.TraceBudget < 0 {
		return fmt.Errorf("trace budget cannot be negative")
	}
	if c.MaxEventPages < 0 {
		return fmt.Errorf("max event pages cannot be negative")
	}
	return nil
}

// Fetcher runs discovery against one network's node
type Fetcher struct {
	node    client.Node
	network string
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewFetcher creates a new Fetcher. node is normally a *client.Guarded.
func NewFetcher(node client.Node, network string, config *Config, log *zap.Logger, m *metrics.Metrics) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		node:    node,
		network: network,
		config:  config,
		logger:  log.With(zap.String("network", network)),
		metrics: m,
		tracer:  otel.Tracer(tracerName),
	}
}

// run is the state of one discovery run
type run struct {
	query      *types.Query
	resolver   *blocktime.Resolver
	set        *resultSet
	fromHeight uint64
	toHeight   uint64
	scan       scanState
}

// Discover finds the interactions with q.Address and returns the requested page.
// Either the whole run succeeds or an error is returned; partial results are discarded.
func (f *Fetcher) Discover(ctx context.Context, q *types.Query) (*types.Result, error) {
	query := *q
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PageSize < 1 {
		query.PageSize = constants.DefaultPageSize
	}
	q = &query

	ctx = logger.WithSink(ctx, q.Sink)
	ctx, span := f.tracer.Start(ctx, "fetch.Discover", trace.WithAttributes(
		attribute.String("explorer.network", f.network),
		attribute.String("explorer.address", q.Address),
		attribute.Int("explorer.page", q.Page),
		attribute.Int("explorer.page_size", q.PageSize),
	))
	defer span.End()

	start := time.Now()
	result, err := f.discover(ctx, q)
	f.metrics.ObserveRun(f.network, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result.Network = f.network
	span.SetAttributes(
		attribute.Int("explorer.rows", len(result.Rows)),
		attribute.Int("explorer.total_estimated", result.TotalEstimated),
		attribute.Bool("explorer.has_more", result.HasMore),
	)
	return result, nil
}

func (f *Fetcher) discover(ctx context.Context, q *types.Query) (*types.Result, error) {
	r := &run{
		query:    q,
		resolver: blocktime.New(f.node, f.logger),
	}

	fromHeight, toHeight, ok, err := r.resolver.Window(ctx, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve block range: %w", err)
	}
	if !ok {
		logger.Emit(ctx, f.logger, logger.LevelInfo, "no blocks in the requested time range")
		return types.EmptyResult(), nil
	}
	r.fromHeight, r.toHeight = fromHeight, toHeight
	r.set = newResultSet(q.EffectiveFilters(), q.Threshold(), f.metrics)

	f.logger.Debug("discovery window",
		zap.String("address", q.Address),
		zap.Uint64("from_height", fromHeight),
		zap.Uint64("to_height", toHeight),
		zap.Int("threshold", q.Threshold()))

	if err := f.scanEvents(ctx, r); err != nil {
		return nil, err
	}

	if f.config.TraceFallback {
		if err := f.scanTraces(ctx, r); err != nil {
			return nil, err
		}
	} else {
		r.scan.traceComplete = true
	}

	result := r.set.assemble(q.Page, q.PageSize, r.scan)
	result.FromHeight = &r.fromHeight
	result.ToHeight = &r.toHeight

	f.logger.Info("discovery finished",
		zap.String("address", q.Address),
		zap.Int("discovered", r.set.Len()),
		zap.Int("total_estimated", result.TotalEstimated),
		zap.Bool("has_more", result.HasMore),
		zap.Int("timestamps_cached", r.resolver.CacheSize()))

	return result, nil
}

// traceBudget is the lookup budget of one run
func (f *Fetcher) traceBudget(q *types.Query) int {
	if q.TraceBudget > 0 {
		return q.TraceBudget
	}
	return f.config.TraceBudget
}
