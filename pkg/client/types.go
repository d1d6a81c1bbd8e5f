package client

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// BlockID selects a block by number or by tag ("latest", "pending")
type BlockID struct {
	Number *uint64
	Tag    string
}

// BlockNumber returns a BlockID for the given height
func BlockNumber(n uint64) *BlockID {
	return &BlockID{Number: &n}
}

// MarshalJSON encodes {"block_number": n} or the bare tag
func (b BlockID) MarshalJSON() ([]byte, error) {
	if b.Number != nil {
		return []byte(`{"block_number":` + strconv.FormatUint(*b.Number, 10) + `}`), nil
	}
	if b.Tag == "" {
		return json.Marshal("latest")
	}
	return json.Marshal(b.Tag)
}

// EventFilter is the parameter of starknet_getEvents: the filter and the page request in one object
type EventFilter struct {
	FromBlock         *BlockID   `json:"from_block,omitempty"`
	ToBlock           *BlockID   `json:"to_block,omitempty"`
	Address           string     `json:"address,omitempty"`
	Keys              [][]string `json:"keys,omitempty"`
	ChunkSize         int        `json:"chunk_size"`
	ContinuationToken string     `json:"continuation_token,omitempty"`
}

// EmittedEvent is one entry of an events page
type EmittedEvent struct {
	FromAddress     string   `json:"from_address"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
	BlockHash       string   `json:"block_hash,omitempty"`
	BlockNumber     *uint64  `json:"block_number,omitempty"`
	TransactionHash string   `json:"transaction_hash"`
}

// EventsChunk is one page of starknet_getEvents
type EventsChunk struct {
	Events []EmittedEvent `json:"events"`
	// ContinuationToken is empty on the last page
	ContinuationToken string `json:"continuation_token,omitempty"`
}

// FeePayment is a receipt's actual fee. Older nodes report a bare hex amount.
type FeePayment struct {
	Amount string `json:"amount"`
	Unit   string `json:"unit,omitempty"`
}

// UnmarshalJSON accepts both {"amount": "0x..", "unit": ".."} and "0x.."
func (f *FeePayment) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var amount string
		if err := json.Unmarshal(data, &amount); err != nil {
			return err
		}
		*f = FeePayment{Amount: amount}
		return nil
	}
	type plain FeePayment
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid fee payment: %w", err)
	}
	*f = FeePayment(p)
	return nil
}

// ReceiptEvent is an event inside a receipt
type ReceiptEvent struct {
	FromAddress string   `json:"from_address"`
	Keys        []string `json:"keys"`
	Data        []string `json:"data"`
}

// Receipt is the result of starknet_getTransactionReceipt
type Receipt struct {
	TransactionHash string         `json:"transaction_hash"`
	Type            string         `json:"type"`
	ActualFee       *FeePayment    `json:"actual_fee,omitempty"`
	ExecutionStatus string         `json:"execution_status,omitempty"`
	FinalityStatus  string         `json:"finality_status,omitempty"`
	RevertReason    string         `json:"revert_reason,omitempty"`
	BlockHash       string         `json:"block_hash,omitempty"`
	BlockNumber     *uint64        `json:"block_number,omitempty"`
	Events          []ReceiptEvent `json:"events"`
}

// Transaction is the subset of a Starknet transaction the explorer reads.
// Which fields are set depends on the type and version.
type Transaction struct {
	TransactionHash    string   `json:"transaction_hash"`
	Type               string   `json:"type"`
	Version            string   `json:"version,omitempty"`
	SenderAddress      string   `json:"sender_address,omitempty"`
	ContractAddress    string   `json:"contract_address,omitempty"`
	EntryPointSelector string   `json:"entry_point_selector,omitempty"`
	Calldata           []string `json:"calldata,omitempty"`
	ClassHash          string   `json:"class_hash,omitempty"`
	Nonce              string   `json:"nonce,omitempty"`
	MaxFee             string   `json:"max_fee,omitempty"`
}

// Caller returns the account that sent the transaction, if the type has one
func (t *Transaction) Caller() string {
	if t.SenderAddress != "" {
		return t.SenderAddress
	}
	return t.ContractAddress
}

// BlockHeader is the part of a block the timestamp resolver needs
type BlockHeader struct {
	BlockHash   string `json:"block_hash,omitempty"`
	ParentHash  string `json:"parent_hash,omitempty"`
	BlockNumber uint64 `json:"block_number"`
	Timestamp   int64  `json:"timestamp"`
	Status      string `json:"status,omitempty"`
}

// BlockWithTxs is the result of starknet_getBlockWithTxs
type BlockWithTxs struct {
	BlockHeader
	Transactions []Transaction `json:"transactions"`
}
