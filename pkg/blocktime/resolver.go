// Package blocktime maps wall-clock times to block heights for one discovery run.
package blocktime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/contract-explorer/pkg/client"
)

// Direction selects which side of a time range a boundary closes
type Direction int

const (
	// From finds the smallest height whose timestamp is at or after the target
	From Direction = iota
	// To finds the largest height whose timestamp is at or before the target
	To
)

func (d Direction) String() string {
	if d == To {
		return "to"
	}
	return "from"
}

// HeaderSource is the part of the node the resolver uses
type HeaderSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockHeader(ctx context.Context, height uint64) (*client.BlockHeader, error)
}

// Resolver memoizes block timestamps. It lives for one run and is not safe for concurrent use.
type Resolver struct {
	node   HeaderSource
	logger *zap.Logger
	now    func() time.Time

	cache  map[uint64]int64
	latest *uint64
}

// New creates a resolver with an empty cache
func New(node HeaderSource, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		node:   node,
		logger: log,
		now:    time.Now,
		cache:  make(map[uint64]int64),
	}
}

// Timestamp returns the timestamp of the block at height.
// A nil height means "now": the wall clock is returned and nothing is cached or fetched.
func (r *Resolver) Timestamp(ctx context.Context, height *uint64) (int64, error) {
	if height == nil {
		return r.now().Unix(), nil
	}
	if ts, ok := r.cache[*height]; ok {
		return ts, nil
	}
	header, err := r.node.BlockHeader(ctx, *height)
	if err != nil {
		return 0, fmt.Errorf("failed to get timestamp of block %d: %w", *height, err)
	}
	r.cache[*height] = header.Timestamp
	return header.Timestamp, nil
}

func (r *Resolver) timestampAt(ctx context.Context, height uint64) (int64, error) {
	return r.Timestamp(ctx, &height)
}

// LatestHeight returns the chain head, fetched once per resolver
func (r *Resolver) LatestHeight(ctx context.Context) (uint64, error) {
	if r.latest != nil {
		return *r.latest, nil
	}
	n, err := r.node.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	r.latest = &n
	return n, nil
}

// FindBoundary binary-searches [0, latest] for the block bracketing target.
// ok is false when no block can qualify: for From, target is after the newest block;
// for To, target is before the oldest block.
func (r *Resolver) FindBoundary(ctx context.Context, target int64, dir Direction) (height uint64, ok bool, err error) {
	latest, err := r.LatestHeight(ctx)
	if err != nil {
		return 0, false, err
	}
	first, err := r.timestampAt(ctx, 0)
	if err != nil {
		return 0, false, err
	}
	last, err := r.timestampAt(ctx, latest)
	if err != nil {
		return 0, false, err
	}

	switch dir {
	case From:
		if target > last {
			return 0, false, nil
		}
		if target <= first {
			return 0, true, nil
		}
		// ts(lo) < target <= ts(hi)
		lo, hi := uint64(0), latest
		for hi-lo > 1 {
			mid := lo + (hi-lo)/2
			ts, err := r.timestampAt(ctx, mid)
			if err != nil {
				return 0, false, err
			}
			if ts >= target {
				hi = mid
			} else {
				lo = mid
			}
		}
		return hi, true, nil

	default:
		if target < first {
			return 0, false, nil
		}
		if target >= last {
			return latest, true, nil
		}
		// ts(lo) <= target < ts(hi)
		lo, hi := uint64(0), latest
		for hi-lo > 1 {
			mid := lo + (hi-lo)/2
			ts, err := r.timestampAt(ctx, mid)
			if err != nil {
				return 0, false, err
			}
			if ts <= target {
				lo = mid
			} else {
				hi = mid
			}
		}
		return lo, true, nil
	}
}

// Window resolves an optional time range to an inclusive height range.
// A nil bound is open: from defaults to block 0 and to to the chain head.
// ok is false when the range cannot contain any block.
func (r *Resolver) Window(ctx context.Context, from, to *int64) (fromHeight, toHeight uint64, ok bool, err error) {
	if from != nil {
		h, found, err := r.FindBoundary(ctx, *from, From)
		if err != nil || !found {
			return 0, 0, false, err
		}
		fromHeight = h
	}

	if to != nil {
		h, found, err := r.FindBoundary(ctx, *to, To)
		if err != nil || !found {
			return 0, 0, false, err
		}
		toHeight = h
	} else {
		latest, err := r.LatestHeight(ctx)
		if err != nil {
			return 0, 0, false, err
		}
		toHeight = latest
	}

	if fromHeight > toHeight {
		r.logger.Debug("empty height window",
			zap.Uint64("from_height", fromHeight),
			zap.Uint64("to_height", toHeight))
		return fromHeight, toHeight, false, nil
	}
	return fromHeight, toHeight, true, nil
}

// CacheSize returns the number of memoized timestamps
func (r *Resolver) CacheSize() int {
	return len(r.cache)
}
