// Package client talks to a Starknet JSON-RPC node.
//
// Client is the raw transport; Guarded puts every call behind the shared
// rate-limit scheduler and the retry policy.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/pkg/retry"
)

// ErrNotFound is returned when the node has no such block or transaction
var ErrNotFound = errors.New("not found")

// Starknet JSON-RPC error codes
const (
	codeBlockNotFound  = 24
	codeTxHashNotFound = 29
)

// Node methods
const (
	MethodChainID           = "starknet_chainId"
	MethodBlockNumber       = "starknet_blockNumber"
	MethodBlockWithTxHashes = "starknet_getBlockWithTxHashes"
	MethodBlockWithTxs      = "starknet_getBlockWithTxs"
	MethodEvents            = "starknet_getEvents"
	MethodReceipt           = "starknet_getTransactionReceipt"
	MethodTransactionByHash = "starknet_getTransactionByHash"
	MethodTraceTransaction  = "starknet_traceTransaction"
)

// Node is the set of node calls the discovery engine needs
type Node interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockHeader(ctx context.Context, height uint64) (*BlockHeader, error)
	BlockWithTxs(ctx context.Context, height uint64) (*BlockWithTxs, error)
	Events(ctx context.Context, filter EventFilter) (*EventsChunk, error)
	TransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
	TransactionByHash(ctx context.Context, hash string) (*Transaction, error)
	TraceTransaction(ctx context.Context, hash, txType string) (TransactionTrace, error)
}

// Client wraps a JSON-RPC client with the Starknet methods
type Client struct {
	rpcClient *rpc.Client
	endpoint  string
	timeout   time.Duration
	logger    *zap.Logger
}

var _ Node = (*Client)(nil)

// Config holds client configuration
type Config struct {
	Endpoint string
	// Timeout bounds dialing and every single call
	Timeout time.Duration
	Logger  *zap.Logger
	// HTTPClient is the base HTTP client; its transport is wrapped to capture Retry-After
	HTTPClient *http.Client
}

// NewClient dials the node and checks it answers
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialOptions(dialCtx, cfg.Endpoint, rpc.WithHTTPClient(newHTTPClient(cfg.HTTPClient)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	client := &Client{
		rpcClient: rpcClient,
		endpoint:  cfg.Endpoint,
		timeout:   cfg.Timeout,
		logger:    logger,
	}

	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to ping RPC endpoint: %w", err)
	}

	logger.Info("connected to Starknet RPC",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("chain_id", chainID))

	return client, nil
}

// Close closes the client connection
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// Endpoint returns the node URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// ChainID returns the node's chain id (hex-encoded short string)
func (c *Client) ChainID(ctx context.Context) (string, error) {
	var id string
	if err := c.call(ctx, &id, MethodChainID); err != nil {
		return "", err
	}
	return id, nil
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	if err := c.call(ctx, &n, MethodBlockNumber); err != nil {
		return 0, err
	}
	return n, nil
}

// BlockHeader fetches a block without transaction bodies
func (c *Client) BlockHeader(ctx context.Context, height uint64) (*BlockHeader, error) {
	var header BlockHeader
	if err := c.call(ctx, &header, MethodBlockWithTxHashes, BlockNumber(height)); err != nil {
		return nil, err
	}
	return &header, nil
}

// BlockWithTxs fetches a block with its transactions
func (c *Client) BlockWithTxs(ctx context.Context, height uint64) (*BlockWithTxs, error) {
	var block BlockWithTxs
	if err := c.call(ctx, &block, MethodBlockWithTxs, BlockNumber(height)); err != nil {
		return nil, err
	}
	return &block, nil
}

// Events fetches one page of events
func (c *Client) Events(ctx context.Context, filter EventFilter) (*EventsChunk, error) {
	var chunk EventsChunk
	if err := c.call(ctx, &chunk, MethodEvents, filter); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// TransactionReceipt fetches a transaction receipt
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var receipt Receipt
	if err := c.call(ctx, &receipt, MethodReceipt, hash); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// TransactionByHash fetches a transaction
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	var tx Transaction
	if err := c.call(ctx, &tx, MethodTransactionByHash, hash); err != nil {
		return nil, err
	}
	return &tx, nil
}

// TraceTransaction fetches and decodes a transaction trace
func (c *Client) TraceTransaction(ctx context.Context, hash, txType string) (TransactionTrace, error) {
	var raw json.RawMessage
	if err := c.call(ctx, &raw, MethodTraceTransaction, hash); err != nil {
		return nil, err
	}
	trace, err := DecodeTrace(raw, txType)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", MethodTraceTransaction, hash, err)
	}
	return trace, nil
}

// call performs one JSON-RPC request. Missing results become ErrNotFound and
// throttled responses carry their Retry-After hint as a retry.HintError.
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx, hint := withRetryAfterHolder(ctx)

	var raw json.RawMessage
	err := c.rpcClient.CallContext(ctx, &raw, method, args...)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w: %v", method, ErrNotFound, err)
		}
		if after, ok := retry.ParseRetryAfter(hint.get(), time.Now()); ok {
			err = &retry.HintError{Err: err, After: after}
		}
		return fmt.Errorf("%s: %w", method, err)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%s: %w", method, ErrNotFound)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%s: invalid result: %w", method, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if errors.Is(err, rpc.ErrNoResult) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeBlockNotFound, codeTxHashNotFound:
			return true
		}
	}
	return false
}
