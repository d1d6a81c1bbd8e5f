package fetch

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/internal/logger"
	"github.com/0xmhha/contract-explorer/pkg/client"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

// ============================================================================
// Trace Fallback Scan
// ============================================================================

// scanTraces walks blocks from toHeight down to fromHeight and traces every
// transaction not discovered yet. Each block fetch and each trace fetch costs
// one unit of the run's lookup budget.
func (f *Fetcher) scanTraces(ctx context.Context, r *run) error {
	ctx, span := f.tracer.Start(ctx, "fetch.scanTraces")
	defer span.End()

	budget := f.traceBudget(r.query)
	spent := 0
	exhausted := func(height uint64) {
		r.scan.budgetExhausted = true
		f.metrics.TraceBudgetExhausted()
		logger.Emit(ctx, f.logger, logger.LevelWarn,
			fmt.Sprintf("trace lookup budget of %d exhausted at block %d; older interactions may be missing", budget, height),
			zap.Int("budget", budget),
			zap.Uint64("block", height))
	}

	complete := true
blocks:
	for height := r.toHeight; ; height-- {
		if r.set.Full() {
			complete = false
			break
		}
		if spent >= budget {
			complete = false
			exhausted(height)
			break
		}
		spent++

		block, err := f.node.BlockWithTxs(ctx, height)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			f.logger.Warn("skipping block", zap.Uint64("block", height), zap.Error(err))
		} else {
			for i := range block.Transactions {
				tx := &block.Transactions[i]
				hash := types.CanonicalHex(tx.TransactionHash)
				if hash == "" || r.set.Seen(hash) {
					continue
				}
				if r.set.Full() {
					complete = false
					break blocks
				}
				if spent >= budget {
					complete = false
					exhausted(height)
					break blocks
				}
				spent++

				row, err := f.traceRow(ctx, r, block, tx, hash)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					f.logger.Warn("skipping transaction",
						zap.String("tx_hash", hash),
						zap.String("phase", string(types.SourceTrace)),
						zap.Error(err))
					continue
				}
				if row != nil {
					r.set.Add(row)
				}
			}
		}

		if height == r.fromHeight {
			break
		}
	}

	r.scan.traceComplete = complete
	span.SetAttributes(
		attribute.Int("explorer.trace_lookups", spent),
		attribute.Bool("explorer.trace_complete", complete),
	)
	return nil
}

// traceRow returns the row for tx when its call tree touches the queried
// contract, or nil when it does not
func (f *Fetcher) traceRow(ctx context.Context, r *run, block *client.BlockWithTxs, tx *client.Transaction, hash string) (*types.TransactionRow, error) {
	trace, err := f.node.TraceTransaction(ctx, hash, tx.Type)
	if err != nil {
		return nil, fmt.Errorf("trace unavailable: %w", err)
	}
	if trace == nil {
		return nil, nil
	}
	match := trace.Root().Find(r.query.Address)
	if match == nil {
		return nil, nil
	}

	receipt, err := f.node.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("receipt unavailable: %w", err)
	}

	kind := tx.Type
	if kind == "" {
		kind = receipt.Type
	}

	return &types.TransactionRow{
		Timestamp:       block.Timestamp,
		TransactionHash: hash,
		Kind:            types.NormalizeKind(kind),
		Entrypoint:      resolveEntrypoint(match.EntryPointSelector, nil),
		Caller:          match.CallerAddress,
		TargetAddress:   match.ContractAddress,
		Fee:             parseFee(receipt.ActualFee),
		Status:          receiptStatus(receipt),
		Network:         f.network,
		Source:          types.SourceTrace,
	}, nil
}
