package decoder

import (
	"testing"
	"time"

	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"
)

func TestDecodeTransaction(t *testing.T) {
	envelope := makeInvokeEnvelope(t, "attest", []xdr.ScVal{makeString("x")})

	resp := protocol.GetTransactionResponse{}
	resp.Status = "SUCCESS"
	resp.Ledger = 77
	resp.LedgerCloseTime = 1700000000
	resp.EnvelopeXDR = envelope
	resp.ResultXDR = "result-xdr"
	resp.ResultMetaXDR = "meta-xdr"

	txn := DecodeTransaction("feedface", resp)

	if txn.Hash != "feedface" {
		t.Errorf("Hash = %q", txn.Hash)
	}
	if txn.Ledger != 77 {
		t.Errorf("Ledger = %d; want 77", txn.Ledger)
	}
	if !txn.Successful {
		t.Error("Successful = false; want true")
	}
	if txn.SourceAccount != testAttester {
		t.Errorf("SourceAccount = %q; want %q", txn.SourceAccount, testAttester)
	}
	if txn.Fee != "100" {
		t.Errorf("Fee = %q; want 100", txn.Fee)
	}
	if !txn.Timestamp.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("Timestamp = %v", txn.Timestamp)
	}
}

func TestDecodeTransaction_FailedStatus(t *testing.T) {
	resp := protocol.GetTransactionResponse{}
	resp.Status = "FAILED"

	txn := DecodeTransaction("aa", resp)
	if txn.Successful {
		t.Error("Successful = true for FAILED status")
	}
}

func TestDecodeTransaction_MalformedEnvelope(t *testing.T) {
	resp := protocol.GetTransactionResponse{}
	resp.Status = "SUCCESS"
	resp.EnvelopeXDR = "not-xdr"

	txn := DecodeTransaction("bb", resp)
	if txn.SourceAccount != "" {
		t.Errorf("SourceAccount = %q; want empty on malformed envelope", txn.SourceAccount)
	}
}
