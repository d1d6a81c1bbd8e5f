package client

import (
	"context"
	"time"

	"github.com/0xmhha/contract-explorer/pkg/metrics"
	"github.com/0xmhha/contract-explorer/pkg/ratelimit"
	"github.com/0xmhha/contract-explorer/pkg/retry"
)

// Guarded runs every call of the wrapped node through the retry policy,
// and every attempt through the scheduler
type Guarded struct {
	node      Node
	scheduler *ratelimit.Scheduler
	policy    *retry.Policy
	metrics   *metrics.Metrics
}

var _ Node = (*Guarded)(nil)

// NewGuarded wraps node. The scheduler is normally shared by every node of the process.
func NewGuarded(node Node, scheduler *ratelimit.Scheduler, policy *retry.Policy, m *metrics.Metrics) *Guarded {
	return &Guarded{node: node, scheduler: scheduler, policy: policy, metrics: m}
}

func (g *Guarded) do(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := g.policy.Do(ctx, method, func(ctx context.Context) error {
		return g.scheduler.Schedule(ctx, method, func() error {
			return fn(ctx)
		})
	})
	g.metrics.ObserveRPC(method, err, time.Since(start))
	return err
}

// BlockNumber returns the latest block number
func (g *Guarded) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := g.do(ctx, MethodBlockNumber, func(ctx context.Context) (err error) {
		n, err = g.node.BlockNumber(ctx)
		return err
	})
	return n, err
}

// BlockHeader fetches a block without transaction bodies
func (g *Guarded) BlockHeader(ctx context.Context, height uint64) (*BlockHeader, error) {
	var header *BlockHeader
	err := g.do(ctx, MethodBlockWithTxHashes, func(ctx context.Context) (err error) {
		header, err = g.node.BlockHeader(ctx, height)
		return err
	})
	return header, err
}

// BlockWithTxs fetches a block with its transactions
func (g *Guarded) BlockWithTxs(ctx context.Context, height uint64) (*BlockWithTxs, error) {
	var block *BlockWithTxs
	err := g.do(ctx, MethodBlockWithTxs, func(ctx context.Context) (err error) {
		block, err = g.node.BlockWithTxs(ctx, height)
		return err
	})
	return block, err
}

// Events fetches one page of events
func (g *Guarded) Events(ctx context.Context, filter EventFilter) (*EventsChunk, error) {
	var chunk *EventsChunk
	err := g.do(ctx, MethodEvents, func(ctx context.Context) (err error) {
		chunk, err = g.node.Events(ctx, filter)
		return err
	})
	return chunk, err
}

// TransactionReceipt fetches a transaction receipt
func (g *Guarded) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var receipt *Receipt
	err := g.do(ctx, MethodReceipt, func(ctx context.Context) (err error) {
		receipt, err = g.node.TransactionReceipt(ctx, hash)
		return err
	})
	return receipt, err
}

// TransactionByHash fetches a transaction
func (g *Guarded) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	var tx *Transaction
	err := g.do(ctx, MethodTransactionByHash, func(ctx context.Context) (err error) {
		tx, err = g.node.TransactionByHash(ctx, hash)
		return err
	})
	return tx, err
}

// TraceTransaction fetches and decodes a transaction trace
func (g *Guarded) TraceTransaction(ctx context.Context, hash, txType string) (TransactionTrace, error) {
	var trace TransactionTrace
	err := g.do(ctx, MethodTraceTransaction, func(ctx context.Context) (err error) {
		trace, err = g.node.TraceTransaction(ctx, hash, txType)
		return err
	})
	return trace, err
}
