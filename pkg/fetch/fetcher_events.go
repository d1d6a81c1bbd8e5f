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
// Event Log Scan
// ============================================================================

// scanEvents walks the address-filtered event log until the node has no more
// pages or enough matching rows exist for the requested page
func (f *Fetcher) scanEvents(ctx context.Context, r *run) error {
	ctx, span := f.tracer.Start(ctx, "fetch.scanEvents")
	defer span.End()

	filter := client.EventFilter{
		FromBlock: client.BlockNumber(r.fromHeight),
		ToBlock:   client.BlockNumber(r.toHeight),
		Address:   r.query.Address,
		ChunkSize: f.config.EventChunkSize,
	}
	// hashes already processed in this scan, including skipped ones
	attempted := make(map[string]struct{})
	pages := 0

	for {
		chunk, err := f.node.Events(ctx, filter)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to fetch events page %d: %w", pages+1, err)
		}
		pages++

		for i := range chunk.Events {
			ev := &chunk.Events[i]
			hash := types.CanonicalHex(ev.TransactionHash)
			if hash == "" || r.set.Seen(hash) {
				continue
			}
			if _, ok := attempted[hash]; ok {
				continue
			}
			attempted[hash] = struct{}{}

			row, err := f.eventRow(ctx, r, hash, ev)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				f.logger.Warn("skipping transaction",
					zap.String("tx_hash", hash),
					zap.String("phase", string(types.SourceEvent)),
					zap.Error(err))
				continue
			}
			r.set.Add(row)

			if r.set.Full() {
				r.scan.thresholdHit = true
				span.SetAttributes(attribute.Int("explorer.event_pages", pages), attribute.Bool("explorer.threshold_hit", true))
				return nil
			}
		}

		if chunk.ContinuationToken == "" {
			break
		}
		if f.config.MaxEventPages > 0 && pages >= f.config.MaxEventPages {
			r.scan.tokenRemaining = true
			logger.Emit(ctx, f.logger, logger.LevelWarn,
				fmt.Sprintf("event scan stopped after %d pages; more events may exist", pages),
				zap.Int("pages", pages))
			break
		}
		filter.ContinuationToken = chunk.ContinuationToken
	}

	span.SetAttributes(attribute.Int("explorer.event_pages", pages))
	return nil
}

// eventRow builds the row of one newly seen transaction from its receipt and body
func (f *Fetcher) eventRow(ctx context.Context, r *run, hash string, ev *client.EmittedEvent) (*types.TransactionRow, error) {
	receipt, err := f.node.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("receipt unavailable: %w", err)
	}

	height := ev.BlockNumber
	if height == nil {
		height = receipt.BlockNumber
	}
	timestamp, err := r.resolver.Timestamp(ctx, height)
	if err != nil {
		return nil, err
	}

	tx, err := f.node.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("transaction unavailable: %w", err)
	}

	kind := tx.Type
	if kind == "" {
		kind = receipt.Type
	}

	return &types.TransactionRow{
		Timestamp:       timestamp,
		TransactionHash: hash,
		Kind:            types.NormalizeKind(kind),
		Entrypoint:      resolveEntrypoint(tx.EntryPointSelector, contractEvent(receipt, r.query.Address)),
		Caller:          tx.Caller(),
		TargetAddress:   r.query.Address,
		Fee:             parseFee(receipt.ActualFee),
		Status:          receiptStatus(receipt),
		Network:         f.network,
		Source:          types.SourceEvent,
	}, nil
}
