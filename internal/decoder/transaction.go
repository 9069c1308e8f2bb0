package decoder

import (
	"fmt"
	"time"

	"attest-indexer/internal/models"

	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"
)

// txStatusSuccess is the status string the RPC endpoint reports for an
// applied, successful transaction.
const txStatusSuccess = "SUCCESS"

// DecodeTransaction builds the Transaction record from an RPC transaction
// detail response. Source account and fee come from the envelope; a
// malformed envelope degrades to an empty source, never an error.
func DecodeTransaction(hash string, resp protocol.GetTransactionResponse) *models.Transaction {
	t := &models.Transaction{
		Hash:       hash,
		Ledger:     resp.Ledger,
		Envelope:   resp.EnvelopeXDR,
		Result:     resp.ResultXDR,
		Meta:       resp.ResultMetaXDR,
		Successful: resp.Status == txStatusSuccess,
		Timestamp:  time.Unix(resp.LedgerCloseTime, 0).UTC(),
	}

	if resp.EnvelopeXDR != "" {
		var env xdr.TransactionEnvelope
		if err := xdr.SafeUnmarshalBase64(resp.EnvelopeXDR, &env); err == nil {
			t.SourceAccount = env.SourceAccount().ToAccountId().Address()
			t.Fee = fmt.Sprintf("%d", env.Fee())
		}
	}

	return t
}
