package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/0xmhha/contract-explorer/pkg/types"
)

// FunctionInvocation is one node of an execution trace's call tree
type FunctionInvocation struct {
	ContractAddress    string               `json:"contract_address"`
	EntryPointSelector string               `json:"entry_point_selector"`
	CallerAddress      string               `json:"caller_address"`
	ClassHash          string               `json:"class_hash,omitempty"`
	EntryPointType     string               `json:"entry_point_type,omitempty"`
	CallType           string               `json:"call_type,omitempty"`
	Calldata           []string             `json:"calldata,omitempty"`
	Result             []string             `json:"result,omitempty"`
	Calls              []FunctionInvocation `json:"calls,omitempty"`
}

// Find returns the first invocation, depth-first and pre-order, whose contract is address
func (f *FunctionInvocation) Find(address string) *FunctionInvocation {
	if f == nil {
		return nil
	}
	if types.SameAddress(f.ContractAddress, address) {
		return f
	}
	for i := range f.Calls {
		if found := f.Calls[i].Find(address); found != nil {
			return found
		}
	}
	return nil
}

// TransactionTrace is the trace of one transaction. Each transaction type
// keeps the invocation that does the work under a different field.
type TransactionTrace interface {
	Type() string
	// Root is the invocation to search, nil when there is none (e.g. a reverted execution)
	Root() *FunctionInvocation
}

// InvokeTrace is the trace of an INVOKE transaction
type InvokeTrace struct {
	ValidateInvocation    *FunctionInvocation `json:"validate_invocation,omitempty"`
	ExecuteInvocation     *ExecuteInvocation  `json:"execute_invocation"`
	FeeTransferInvocation *FunctionInvocation `json:"fee_transfer_invocation,omitempty"`
}

// ExecuteInvocation is either a function invocation or, for reverted transactions, only a revert reason
type ExecuteInvocation struct {
	FunctionInvocation
	RevertReason string `json:"revert_reason,omitempty"`
}

// Reverted reports whether the execution carries only a revert reason
func (e *ExecuteInvocation) Reverted() bool {
	return e.RevertReason != "" && e.ContractAddress == ""
}

func (t *InvokeTrace) Type() string { return "INVOKE" }

func (t *InvokeTrace) Root() *FunctionInvocation {
	if t.ExecuteInvocation == nil || t.ExecuteInvocation.Reverted() {
		return nil
	}
	return &t.ExecuteInvocation.FunctionInvocation
}

// DeployAccountTrace is the trace of a DEPLOY_ACCOUNT transaction
type DeployAccountTrace struct {
	ValidateInvocation    *FunctionInvocation `json:"validate_invocation,omitempty"`
	ConstructorInvocation *FunctionInvocation `json:"constructor_invocation"`
	FeeTransferInvocation *FunctionInvocation `json:"fee_transfer_invocation,omitempty"`
}

func (t *DeployAccountTrace) Type() string { return "DEPLOY_ACCOUNT" }

func (t *DeployAccountTrace) Root() *FunctionInvocation { return t.ConstructorInvocation }

// L1HandlerTrace is the trace of an L1_HANDLER transaction
type L1HandlerTrace struct {
	FunctionInvocation *FunctionInvocation `json:"function_invocation"`
}

func (t *L1HandlerTrace) Type() string { return "L1_HANDLER" }

func (t *L1HandlerTrace) Root() *FunctionInvocation { return t.FunctionInvocation }

// DeclareTrace is the trace of a DECLARE transaction
type DeclareTrace struct {
	ValidateInvocation    *FunctionInvocation `json:"validate_invocation,omitempty"`
	FeeTransferInvocation *FunctionInvocation `json:"fee_transfer_invocation,omitempty"`
}

func (t *DeclareTrace) Type() string { return "DECLARE" }

func (t *DeclareTrace) Root() *FunctionInvocation { return t.ValidateInvocation }

// DecodeTrace decodes a starknet_traceTransaction result.
// txType is used when the trace does not carry its own type.
func DecodeTrace(raw json.RawMessage, txType string) (TransactionTrace, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("invalid trace: %w", err)
	}
	kind := strings.ToUpper(strings.TrimSpace(head.Type))
	if kind == "" {
		kind = strings.ToUpper(strings.TrimSpace(txType))
	}

	var trace TransactionTrace
	switch kind {
	case "INVOKE":
		trace = &InvokeTrace{}
	case "DEPLOY_ACCOUNT":
		trace = &DeployAccountTrace{}
	case "L1_HANDLER":
		trace = &L1HandlerTrace{}
	case "DECLARE":
		trace = &DeclareTrace{}
	default:
		return nil, fmt.Errorf("unsupported trace type %q", kind)
	}
	if err := json.Unmarshal(raw, trace); err != nil {
		return nil, fmt.Errorf("invalid %s trace: %w", kind, err)
	}
	return trace, nil
}
