package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/internal/logger"
	"github.com/0xmhha/contract-explorer/internal/testutil"
	"github.com/0xmhha/contract-explorer/pkg/client"
	"github.com/0xmhha/contract-explorer/pkg/metrics"
	"github.com/0xmhha/contract-explorer/pkg/ratelimit"
	"github.com/0xmhha/contract-explorer/pkg/retry"
)

func newGuarded(t *testing.T, node client.Node, m *metrics.Metrics) *client.Guarded {
	t.Helper()
	sched := ratelimit.New(ratelimit.Config{RequestsPerSecond: 1000, MaxConcurrency: 4}, zap.NewNop(), ratelimit.WithMetrics(m))
	t.Cleanup(sched.Close)
	policy := retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxElapsed: time.Second}, zap.NewNop(), retry.WithMetrics(m))
	return client.NewGuarded(node, sched, policy, m)
}

func TestGuarded_RetriesThrottledCalls(t *testing.T) {
	node := testutil.NewFakeNode()
	node.AddBlocks(1000, 2000)
	node.FailNext(client.MethodBlockWithTxHashes, testutil.Throttled(), testutil.Throttled())

	m := metrics.New(prometheus.NewRegistry())
	g := newGuarded(t, node, m)

	var c logger.Collector
	ctx := logger.WithSink(context.Background(), c.Sink())

	header, err := g.BlockHeader(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), header.Timestamp)
	assert.Equal(t, 3, node.Calls(client.MethodBlockWithTxHashes))
	assert.Equal(t, 2, c.Count(logger.LevelWarn))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.RetriesTotal.WithLabelValues(client.MethodBlockWithTxHashes)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RPCCallsTotal.WithLabelValues(client.MethodBlockWithTxHashes, "ok")))
}

func TestGuarded_GivesUpAfterAttempts(t *testing.T) {
	node := testutil.NewFakeNode()
	node.AddBlocks(1000)
	node.FailAlways(client.MethodBlockNumber, testutil.Throttled())

	g := newGuarded(t, node, nil)

	var c logger.Collector
	ctx := logger.WithSink(context.Background(), c.Sink())

	_, err := g.BlockNumber(ctx)
	require.ErrorIs(t, err, retry.ErrRetriesExhausted)
	assert.Equal(t, 3, node.Calls(client.MethodBlockNumber))
	assert.Equal(t, 1, c.Count(logger.LevelError))
}

func TestGuarded_PassesThroughOtherErrors(t *testing.T) {
	node := testutil.NewFakeNode()
	node.AddBlocks(1000)

	g := newGuarded(t, node, nil)

	_, err := g.TransactionReceipt(context.Background(), "0xdead")
	assert.ErrorIs(t, err, client.ErrNotFound)
	assert.Equal(t, 1, node.Calls(client.MethodReceipt))

	boom := errors.New("connection refused")
	node.FailNext(client.MethodEvents, boom)
	_, err = g.Events(context.Background(), client.EventFilter{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, node.Calls(client.MethodEvents))
}
