package fetch

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xmhha/contract-explorer/pkg/client"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

// maxShortStringLen is the capacity of a felt-encoded short string
const maxShortStringLen = 31

// decodeShortString decodes a felt holding a Cairo short string (up to 31 printable ASCII bytes)
func decodeShortString(felt string) (string, bool) {
	if !types.IsHex(felt) {
		return "", false
	}
	b := common.FromHex(strings.TrimSpace(felt))
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	if len(b) == 0 || len(b) > maxShortStringLen {
		return "", false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return "", false
		}
	}
	return string(b), true
}

// resolveEntrypoint picks the transaction's selector, else the first key of the
// contract's own receipt event, and decodes it when it is a short string.
// The result is empty when neither source has a value.
func resolveEntrypoint(selector string, ev *client.ReceiptEvent) string {
	raw := strings.TrimSpace(selector)
	if raw == "" && ev != nil && len(ev.Keys) > 0 {
		raw = strings.TrimSpace(ev.Keys[0])
	}
	if raw == "" {
		return ""
	}
	if name, ok := decodeShortString(raw); ok {
		return name
	}
	return raw
}

// contractEvent returns the first receipt event emitted by address
func contractEvent(receipt *client.Receipt, address string) *client.ReceiptEvent {
	for i := range receipt.Events {
		if types.SameAddress(receipt.Events[i].FromAddress, address) {
			return &receipt.Events[i]
		}
	}
	return nil
}

// parseFee converts the hex fee amount. Missing or malformed amounts are zero.
func parseFee(fee *client.FeePayment) *big.Int {
	if fee == nil || fee.Amount == "" {
		return new(big.Int)
	}
	v, err := hexutil.DecodeBig(types.CanonicalHex(fee.Amount))
	if err != nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

// receiptStatus is REJECTED for reverted or rejected transactions, ACCEPTED otherwise
func receiptStatus(receipt *client.Receipt) types.Status {
	switch {
	case strings.EqualFold(receipt.ExecutionStatus, "REVERTED"),
		receipt.RevertReason != "",
		strings.EqualFold(receipt.FinalityStatus, "REJECTED"):
		return types.StatusRejected
	default:
		return types.StatusAccepted
	}
}
