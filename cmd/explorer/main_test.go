package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/internal/testutil"
	"github.com/0xmhha/contract-explorer/pkg/client"
	"github.com/0xmhha/contract-explorer/pkg/explorer"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

func TestBuildQuery(t *testing.T) {
	q, err := buildQuery(queryFlags{
		network:  "sepolia",
		address:  "0xabc",
		from:     "100",
		to:       "2024-01-01T00:00:00Z",
		page:     2,
		pageSize: 10,
		kind:     "declare",
		method:   "transfer",
		status:   "accepted",
		minFee:   "0x10",
		maxFee:   "100",
		budget:   5,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", q.Address)
	assert.Equal(t, "sepolia", q.Network)
	assert.Equal(t, int64(100), *q.From)
	assert.Equal(t, int64(1704067200), *q.To)
	assert.Equal(t, 2, q.Page)
	assert.Equal(t, 10, q.PageSize)
	assert.Equal(t, 5, q.TraceBudget)
	assert.Equal(t, types.KindDeclare, q.Filters.Kind)
	assert.Equal(t, types.StatusAccepted, q.Filters.Status)
	assert.Equal(t, int64(16), q.Filters.MinFee.Int64())
	assert.Equal(t, int64(100), q.Filters.MaxFee.Int64())
}

func TestBuildQuery_Errors(t *testing.T) {
	tests := []struct {
		name string
		qf   queryFlags
	}{
		{"missing address", queryFlags{}},
		{"bad from", queryFlags{address: "0x1", from: "yesterday"}},
		{"bad to", queryFlags{address: "0x1", to: "2024-13-01"}},
		{"bad kind", queryFlags{address: "0x1", kind: "deploy_account"}},
		{"bad status", queryFlags{address: "0x1", status: "succeeded"}},
		{"bad fee", queryFlags{address: "0x1", minFee: "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildQuery(tt.qf)
			assert.Error(t, err)
		})
	}
}

func TestRunQuery(t *testing.T) {
	node := testutil.NewFakeNode()
	node.AddBlocks(1000, 2000, 3000)
	node.AddTx(1,
		client.Transaction{TransactionHash: "0x1", Type: "INVOKE", SenderAddress: "0xacc0"},
		&client.Receipt{TransactionHash: "0x1", ActualFee: &client.FeePayment{Amount: "0x10"}, ExecutionStatus: "SUCCEEDED"})
	node.AddEvent(client.EmittedEvent{FromAddress: "0xc0ffee", BlockNumber: testutil.Uint64(1), TransactionHash: "0x1"})

	cfg := explorer.DefaultConfig()
	cfg.RateLimit.RequestsPerSecond = 1000
	svc, err := explorer.New(cfg, zap.NewNop(), prometheus.NewRegistry(), explorer.WithDialer(
		func(context.Context, string, string) (client.Node, error) { return node, nil }))
	require.NoError(t, err)
	defer svc.Close()

	var out bytes.Buffer
	err = runQuery(context.Background(), svc, queryFlags{address: "0xc0ffee", page: 1, pageSize: 5}, &out)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Len(t, body["rows"], 1)
	assert.Equal(t, "mainnet", body["network"])
	assert.Contains(t, body, "events")
	assert.Contains(t, out.String(), "\n  \"rows\"", "output is indented")

	err = runQuery(context.Background(), svc, queryFlags{address: "0xc0ffee", network: "goerli", page: 1, pageSize: 5}, &out)
	assert.ErrorIs(t, err, explorer.ErrUnknownNetwork)
}
