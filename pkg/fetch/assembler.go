package fetch

import (
	"cmp"
	"slices"

	"github.com/0xmhha/contract-explorer/pkg/metrics"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

// scanState is what the scanners report about how far they got
type scanState struct {
	// thresholdHit: the event scan stopped because enough rows matched
	thresholdHit bool
	// tokenRemaining: the event scan stopped with a continuation token left
	tokenRemaining bool
	// traceComplete: the trace scan covered the whole window, or is disabled
	traceComplete bool
	// budgetExhausted: the trace scan ran out of lookups
	budgetExhausted bool
}

// resultSet accumulates the rows of one run.
// The first row added for a hash wins; later rows for the same hash are ignored,
// whichever scanner produces them.
type resultSet struct {
	rows      []types.TransactionRow
	index     map[string]struct{}
	filters   types.Filters
	threshold int
	matched   int
	metrics   *metrics.Metrics
}

func newResultSet(filters types.Filters, threshold int, m *metrics.Metrics) *resultSet {
	return &resultSet{
		index:     make(map[string]struct{}),
		filters:   filters,
		threshold: threshold,
		metrics:   m,
	}
}

// Seen reports whether a row with this canonical hash exists
func (s *resultSet) Seen(hash string) bool {
	_, ok := s.index[hash]
	return ok
}

// Add stores row unless its hash is already present, and reports whether it was stored
func (s *resultSet) Add(row *types.TransactionRow) bool {
	hash := types.CanonicalHex(row.TransactionHash)
	if _, ok := s.index[hash]; ok {
		return false
	}
	s.index[hash] = struct{}{}
	s.rows = append(s.rows, *row)
	if s.filters.Match(row) {
		s.matched++
	}
	s.metrics.RowDiscovered(string(row.Source))
	return true
}

// Full reports whether enough matching rows exist for the requested page
func (s *resultSet) Full() bool {
	return s.threshold > 0 && s.matched >= s.threshold
}

// Len is the number of distinct rows discovered
func (s *resultSet) Len() int {
	return len(s.rows)
}

// assemble filters, sorts newest first and slices one page
func (s *resultSet) assemble(page, pageSize int, scan scanState) *types.Result {
	filtered := make([]types.TransactionRow, 0, s.matched)
	for i := range s.rows {
		if s.filters.Match(&s.rows[i]) {
			filtered = append(filtered, s.rows[i])
		}
	}
	// stable: discovery order breaks timestamp ties
	slices.SortStableFunc(filtered, func(a, b types.TransactionRow) int {
		return cmp.Compare(b.Timestamp, a.Timestamp)
	})

	start := (page - 1) * pageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}

	rows := make([]types.TransactionRow, end-start)
	copy(rows, filtered[start:end])

	return &types.Result{
		Rows:            rows,
		TotalEstimated:  len(filtered),
		HasMore:         end < len(filtered) || scan.thresholdHit || scan.tokenRemaining || !scan.traceComplete,
		ScanComplete:    !scan.thresholdHit && !scan.tokenRemaining && scan.traceComplete,
		BudgetExhausted: scan.budgetExhausted,
	}
}
