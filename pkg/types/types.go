// Package types holds the data model shared by the discovery engine, the explorer service and the API.
package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/0xmhha/contract-explorer/internal/logger"
)

// TxKind is the normalized transaction type of a row
type TxKind string

const (
	KindInvoke    TxKind = "INVOKE"
	KindDeclare   TxKind = "DECLARE"
	KindDeploy    TxKind = "DEPLOY"
	KindL1Handler TxKind = "L1_HANDLER"
)

// NormalizeKind maps a node-reported transaction type onto TxKind.
// Unknown and missing values, DEPLOY_ACCOUNT included, become INVOKE.
func NormalizeKind(raw string) TxKind {
	switch TxKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case KindDeclare:
		return KindDeclare
	case KindDeploy:
		return KindDeploy
	case KindL1Handler:
		return KindL1Handler
	default:
		return KindInvoke
	}
}

// ParseKind validates a user-supplied kind filter
func ParseKind(raw string) (TxKind, bool) {
	switch k := TxKind(strings.ToUpper(strings.TrimSpace(raw))); k {
	case KindInvoke, KindDeclare, KindDeploy, KindL1Handler:
		return k, true
	default:
		return "", false
	}
}

// Status is the outcome of a transaction
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus validates a user-supplied status filter
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusAccepted, StatusRejected:
		return s, true
	default:
		return "", false
	}
}

// Source names the discovery path that produced a row
type Source string

const (
	SourceEvent Source = "event"
	SourceTrace Source = "trace"
)

// UnknownEntrypoint is what a row without an entrypoint is compared against by the method filter
const UnknownEntrypoint = "unknown"

// TransactionRow is one discovered interaction with the queried contract.
// Rows are built once and never edited; Fee must be treated as read-only.
type TransactionRow struct {
	Timestamp       int64    `json:"timestamp"`
	TransactionHash string   `json:"transactionHash"`
	Kind            TxKind   `json:"kind"`
	Entrypoint      string   `json:"entrypoint,omitempty"`
	Caller          string   `json:"caller,omitempty"`
	TargetAddress   string   `json:"targetAddress"`
	Fee             *big.Int `json:"fee"`
	Status          Status   `json:"status"`
	Network         string   `json:"network"`
	Source          Source   `json:"source"`
}

// EntrypointOrPlaceholder returns the entrypoint, or UnknownEntrypoint when there is none
func (r *TransactionRow) EntrypointOrPlaceholder() string {
	if r.Entrypoint == "" {
		return UnknownEntrypoint
	}
	return r.Entrypoint
}

// ParseFee parses a non-negative fee given in decimal or as 0x-prefixed hex
func ParseFee(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	v, ok := new(big.Int), false
	if IsHex(s) {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid fee %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("fee %q is negative", raw)
	}
	return v, nil
}

// Filters narrows the rows of a query. Zero values mean "not set".
type Filters struct {
	Kind   TxKind   `json:"kind,omitempty"`
	Method string   `json:"method,omitempty"`
	Status Status   `json:"status,omitempty"`
	MinFee *big.Int `json:"minFee,omitempty"`
	MaxFee *big.Int `json:"maxFee,omitempty"`
	From   *int64   `json:"from,omitempty"`
	To     *int64   `json:"to,omitempty"`
}

// Match applies every set predicate to the row. Time bounds are inclusive.
func (f *Filters) Match(row *TransactionRow) bool {
	if f.Kind != "" && row.Kind != f.Kind {
		return false
	}
	if f.Method != "" && row.EntrypointOrPlaceholder() != f.Method {
		return false
	}
	if f.Status != "" && row.Status != f.Status {
		return false
	}
	fee := row.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if f.MinFee != nil && fee.Cmp(f.MinFee) < 0 {
		return false
	}
	if f.MaxFee != nil && fee.Cmp(f.MaxFee) > 0 {
		return false
	}
	if f.From != nil && row.Timestamp < *f.From {
		return false
	}
	if f.To != nil && row.Timestamp > *f.To {
		return false
	}
	return true
}

// Query is the input of one discovery run
type Query struct {
	// Address is the contract under inspection
	Address string
	// Network selects the node
	Network string
	// From and To bound the run in unix seconds, both inclusive
	From *int64
	To   *int64
	// Page is 1-based
	Page     int
	PageSize int
	Filters  Filters
	// TraceBudget overrides the configured trace lookup budget when positive
	TraceBudget int
	// Sink receives operator-visible events for this run
	Sink logger.Sink
}

// EffectiveFilters returns the query filters with the query time range folded in
func (q *Query) EffectiveFilters() Filters {
	f := q.Filters
	if f.From == nil {
		f.From = q.From
	}
	if f.To == nil {
		f.To = q.To
	}
	return f
}

// Threshold is the number of matching rows that satisfies the requested page
func (q *Query) Threshold() int {
	return q.Page * q.PageSize
}

// Result is the output of one discovery run
type Result struct {
	Rows []TransactionRow `json:"rows"`
	// TotalEstimated counts matching rows among those discovered so far.
	// It is a lower bound: discovery may have stopped before the whole range was scanned.
	TotalEstimated int  `json:"totalEstimated"`
	HasMore        bool `json:"hasMore"`

	ScanComplete    bool    `json:"scanComplete"`
	BudgetExhausted bool    `json:"budgetExhausted,omitempty"`
	Network         string  `json:"network"`
	FromHeight      *uint64 `json:"fromHeight,omitempty"`
	ToHeight        *uint64 `json:"toHeight,omitempty"`
}

// EmptyResult is returned when the requested range cannot contain any rows
func EmptyResult() *Result {
	return &Result{Rows: []TransactionRow{}, TotalEstimated: 0, ScanComplete: true}
}
