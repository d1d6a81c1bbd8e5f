package fetch

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/0xmhha/contract-explorer/pkg/client"
	"github.com/0xmhha/contract-explorer/pkg/types"
)

func TestDecodeShortString(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"0x7472616e73666572", "transfer", true},
		{"0x007472616e73666572", "transfer", true},
		{"0x617070726f7665", "approve", true},
		{"0x0", "", false},
		{"0x", "", false},
		{"transfer", "", false},
		// sn_keccak("transfer") is not printable ASCII
		{"0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e", "", false},
		// 0x01 is not printable
		{"0x0174", "", false},
	}
	for _, tt := range tests {
		got, ok := decodeShortString(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestResolveEntrypoint(t *testing.T) {
	ev := &client.ReceiptEvent{Keys: []string{"0x617070726f7665"}}

	assert.Equal(t, "transfer", resolveEntrypoint("0x7472616e73666572", ev), "transaction selector first")
	assert.Equal(t, "approve", resolveEntrypoint("", ev), "falls back to the event key")
	assert.Equal(t, "0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e",
		resolveEntrypoint("0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e", nil), "raw selector kept")
	assert.Equal(t, "mint", resolveEntrypoint("mint", nil), "non-hex passes through")
	assert.Empty(t, resolveEntrypoint("", nil))
	assert.Empty(t, resolveEntrypoint("", &client.ReceiptEvent{}))
}

func TestContractEvent(t *testing.T) {
	receipt := &client.Receipt{Events: []client.ReceiptEvent{
		{FromAddress: "0xfee", Keys: []string{"0x1"}},
		{FromAddress: "0x00C0FFEE", Keys: []string{"0x2"}},
		{FromAddress: "0xc0ffee", Keys: []string{"0x3"}},
	}}
	ev := contractEvent(receipt, "0xc0ffee")
	if assert.NotNil(t, ev) {
		assert.Equal(t, "0x2", ev.Keys[0])
	}
	assert.Nil(t, contractEvent(receipt, "0xbeef"))
}

func TestParseFee(t *testing.T) {
	assert.Equal(t, big.NewInt(16), parseFee(&client.FeePayment{Amount: "0x10"}))
	assert.Equal(t, big.NewInt(16), parseFee(&client.FeePayment{Amount: "0x0010"}))
	assert.Equal(t, big.NewInt(255), parseFee(&client.FeePayment{Amount: "0xFF"}))
	assert.Equal(t, 0, parseFee(&client.FeePayment{Amount: "zz"}).Sign())
	assert.Equal(t, 0, parseFee(&client.FeePayment{Amount: "0x"}).Sign())
	assert.Equal(t, 0, parseFee(&client.FeePayment{}).Sign())
	assert.Equal(t, 0, parseFee(nil).Sign())
}

func TestReceiptStatus(t *testing.T) {
	assert.Equal(t, types.StatusAccepted, receiptStatus(&client.Receipt{ExecutionStatus: "SUCCEEDED"}))
	assert.Equal(t, types.StatusAccepted, receiptStatus(&client.Receipt{}))
	assert.Equal(t, types.StatusRejected, receiptStatus(&client.Receipt{ExecutionStatus: "REVERTED"}))
	assert.Equal(t, types.StatusRejected, receiptStatus(&client.Receipt{ExecutionStatus: "SUCCEEDED", RevertReason: "oops"}))
	assert.Equal(t, types.StatusRejected, receiptStatus(&client.Receipt{FinalityStatus: "REJECTED"}))
}
