// Package testutil provides an in-memory Starknet node and builders for tests.
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/0xmhha/contract-explorer/pkg/client"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

// Throttled returns the error a node answers with when it rate-limits
func Throttled() error {
	return rpc.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}
}

// FakeNode is an in-memory client.Node. Hashes and addresses are compared in canonical form.
type FakeNode struct {
	mu sync.Mutex

	latest   uint64
	blocks   map[uint64]*client.BlockWithTxs
	events   []client.EmittedEvent
	receipts map[string]*client.Receipt
	txs      map[string]*client.Transaction
	traces   map[string]client.TransactionTrace

	failNext   map[string][]error
	failAlways map[string]error
	failBlocks map[uint64]error
	calls      map[string]int
}

var _ client.Node = (*FakeNode)(nil)

// NewFakeNode creates an empty node
func NewFakeNode() *FakeNode {
	return &FakeNode{
		blocks:     make(map[uint64]*client.BlockWithTxs),
		receipts:   make(map[string]*client.Receipt),
		txs:        make(map[string]*client.Transaction),
		traces:     make(map[string]client.TransactionTrace),
		failNext:   make(map[string][]error),
		failAlways: make(map[string]error),
		failBlocks: make(map[uint64]error),
		calls:      make(map[string]int),
	}
}

// AddBlock adds an empty block and moves the chain head up to it if needed
func (f *FakeNode) AddBlock(height uint64, timestamp int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[height] = &client.BlockWithTxs{
		BlockHeader: client.BlockHeader{BlockNumber: height, Timestamp: timestamp, Status: "ACCEPTED_ON_L2"},
	}
	if height > f.latest {
		f.latest = height
	}
}

// AddBlocks adds blocks 0..len(timestamps)-1
func (f *FakeNode) AddBlocks(timestamps ...int64) {
	for i, ts := range timestamps {
		f.AddBlock(uint64(i), ts)
	}
}

// AddTx puts tx into the block at height and stores its receipt. A nil receipt leaves it unavailable.
func (f *FakeNode) AddTx(height uint64, tx client.Transaction, receipt *client.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.blocks[height]
	if !ok {
		panic(fmt.Sprintf("testutil: block %d not added", height))
	}
	block.Transactions = append(block.Transactions, tx)
	key := types.CanonicalHex(tx.TransactionHash)
	f.txs[key] = &tx
	if receipt != nil {
		r := *receipt
		if r.BlockNumber == nil {
			h := height
			r.BlockNumber = &h
		}
		f.receipts[key] = &r
	}
}

// AddEvent appends an event to the log
func (f *FakeNode) AddEvent(ev client.EmittedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

// SetTrace sets the trace returned for hash
func (f *FakeNode) SetTrace(hash string, trace client.TransactionTrace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces[types.CanonicalHex(hash)] = trace
}

// FailNext makes the next len(errs) calls of method fail with errs, in order
func (f *FakeNode) FailNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[method] = append(f.failNext[method], errs...)
}

// FailAlways makes every call of method fail with err
func (f *FakeNode) FailAlways(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAlways[method] = err
}

// FailBlock makes BlockWithTxs fail for height
func (f *FakeNode) FailBlock(height uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failBlocks[height] = err
}

// Calls returns how many times method was called
func (f *FakeNode) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls returns the number of calls of every method
func (f *FakeNode) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// enter counts the call and pops a queued failure
func (f *FakeNode) enter(ctx context.Context, method string) error {
	f.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queue := f.failNext[method]; len(queue) > 0 {
		f.failNext[method] = queue[1:]
		return queue[0]
	}
	return f.failAlways[method]
}

func (f *FakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, client.MethodBlockNumber); err != nil {
		return 0, err
	}
	if len(f.blocks) == 0 {
		return 0, fmt.Errorf("%s: %w", client.MethodBlockNumber, client.ErrNotFound)
	}
	return f.latest, nil
}

func (f *FakeNode) BlockHeader(ctx context.Context, height uint64) (*client.BlockHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, client.MethodBlockWithTxHashes); err != nil {
		return nil, err
	}
	block, ok := f.blocks[height]
	if !ok {
		return nil, fmt.Errorf("block %d: %w", height, client.ErrNotFound)
	}
	header := block.BlockHeader
	return &header, nil
}

func (f *FakeNode) BlockWithTxs(ctx context.Context, height uint64) (*client.BlockWithTxs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, client.MethodBlockWithTxs); err != nil {
		return nil, err
	}
	if err := f.failBlocks[height]; err != nil {
		return nil, err
	}
	block, ok := f.blocks[height]
	if !ok {
		return nil, fmt.Errorf("block %d: %w", height, client.ErrNotFound)
	}
	out := *block
	out.Transactions = append([]client.Transaction(nil), block.Transactions...)
	return &out, nil
}

// Events pages through the events matching filter. The continuation token is the next offset.
func (f *FakeNode) Events(ctx context.Context, filter client.EventFilter) (*client.EventsChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, client.MethodEvents); err != nil {
		return nil, err
	}

	var matching []client.EmittedEvent
	for _, ev := range f.events {
		if filter.Address != "" && !types.SameAddress(ev.FromAddress, filter.Address) {
			continue
		}
		if ev.BlockNumber != nil {
			if filter.FromBlock != nil && filter.FromBlock.Number != nil && *ev.BlockNumber < *filter.FromBlock.Number {
				continue
			}
			if filter.ToBlock != nil && filter.ToBlock.Number != nil && *ev.BlockNumber > *filter.ToBlock.Number {
				continue
			}
		}
		matching = append(matching, ev)
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return blockOf(matching[i]) < blockOf(matching[j])
	})

	offset := 0
	if filter.ContinuationToken != "" {
		n, err := strconv.Atoi(filter.ContinuationToken)
		if err != nil || n < 0 || n > len(matching) {
			return nil, fmt.Errorf("invalid continuation token %q", filter.ContinuationToken)
		}
		offset = n
	}
	size := filter.ChunkSize
	if size <= 0 {
		size = len(matching)
	}
	end := offset + size
	if end > len(matching) {
		end = len(matching)
	}

	chunk := &client.EventsChunk{Events: append([]client.EmittedEvent{}, matching[offset:end]...)}
	if end < len(matching) {
		chunk.ContinuationToken = strconv.Itoa(end)
	}
	return chunk, nil
}

func (f *FakeNode) TransactionReceipt(ctx context.Context, hash string) (*client.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, client.MethodReceipt); err != nil {
		return nil, err
	}
	r, ok := f.receipts[types.CanonicalHex(hash)]
	if !ok {
		return nil, fmt.Errorf("receipt %s: %w", hash, client.ErrNotFound)
	}
	out := *r
	return &out, nil
}

func (f *FakeNode) TransactionByHash(ctx context.Context, hash string) (*client.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, client.MethodTransactionByHash); err != nil {
		return nil, err
	}
	tx, ok := f.txs[types.CanonicalHex(hash)]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", hash, client.ErrNotFound)
	}
	out := *tx
	return &out, nil
}

func (f *FakeNode) TraceTransaction(ctx context.Context, hash, _ string) (client.TransactionTrace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, client.MethodTraceTransaction); err != nil {
		return nil, err
	}
	trace, ok := f.traces[types.CanonicalHex(hash)]
	if !ok {
		return nil, fmt.Errorf("trace %s: %w", hash, client.ErrNotFound)
	}
	return trace, nil
}

func blockOf(ev client.EmittedEvent) uint64 {
	if ev.BlockNumber == nil {
		return 0
	}
	return *ev.BlockNumber
}

// Uint64 returns a pointer to v
func Uint64(v uint64) *uint64 { return &v }

// Int64 returns a pointer to v
func Int64(v int64) *int64 { return &v }
