package decoder

import (
	"encoding/hex"
	"fmt"

	"attest-indexer/internal/models"

	"github.com/stellar/go/xdr"
)

// DecodeOperations parses a transaction envelope and returns one Operation
// per envelope operation. Invoke-host-function operations additionally carry
// the decoded contract call: function name and native argument values.
func DecodeOperations(envelopeXDR, txHash string) ([]models.Operation, error) {
	var env xdr.TransactionEnvelope
	if err := xdr.SafeUnmarshalBase64(envelopeXDR, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope for %s: %w", txHash, err)
	}

	txSource := env.SourceAccount().ToAccountId().Address()

	var ops []models.Operation
	for i, op := range env.Operations() {
		source := txSource
		if op.SourceAccount != nil {
			source = op.SourceAccount.ToAccountId().Address()
		}

		decoded := models.Operation{
			ID:            fmt.Sprintf("%s:%d", txHash, i),
			TxHash:        txHash,
			Index:         i,
			Type:          op.Body.Type.String(),
			SourceAccount: source,
		}

		if op.Body.Type == xdr.OperationTypeInvokeHostFunction {
			ihf := op.Body.MustInvokeHostFunctionOp()
			if ihf.HostFunction.Type == xdr.HostFunctionTypeHostFunctionTypeInvokeContract {
				inv := ihf.HostFunction.MustInvokeContract()
				decoded.Function = string(inv.FunctionName)

				args := make([]interface{}, len(inv.Args))
				for j, arg := range inv.Args {
					args[j] = ScValToInterface(arg)
				}

				params := map[string]interface{}{"args": args}
				if contractID, err := inv.ContractAddress.String(); err == nil {
					params["contract_id"] = contractID
				}
				decoded.Parameters = params
			}
		}

		ops = append(ops, decoded)
	}

	return ops, nil
}

// EnrichAttestCreate fills AttestCreateData fields the event payload did not
// carry from the invoking operation's decoded call parameters. The contract's
// attest entrypoint receives the full attestation; the emitted event only a
// subset.
func EnrichAttestCreate(data models.AttestCreateData, ops []models.Operation) models.AttestCreateData {
	for _, op := range ops {
		if op.Parameters == nil {
			continue
		}
		args, ok := op.Parameters["args"].([]interface{})
		if !ok {
			continue
		}

		// Struct-style invocation: a single map argument keyed by field name.
		for _, arg := range args {
			if fields, ok := arg.(map[string]interface{}); ok {
				if data.AttesterAddress == "" {
					data.AttesterAddress = getString(fields, "attester", "attester_address")
				}
				if data.SubjectAddress == "" {
					data.SubjectAddress = getString(fields, "subject", "subject_address", "recipient")
				}
				if data.SchemaUID == "" {
					data.SchemaUID = NormalizeUID(getString(fields, "schema_uid", "uid"))
				}
				if data.Message == "" {
					data.Message = getString(fields, "message")
				}
				if data.Value == "" {
					data.Value = getString(fields, "value")
				}
			}
		}

		// Positional invocation: classify scalar arguments by shape.
		var addresses []string
		var hashes []string
		var strs []string
		for _, arg := range args {
			s, ok := arg.(string)
			if !ok {
				continue
			}
			switch {
			case isStrkeyAddress(s):
				addresses = append(addresses, s)
			case isHexHash(s):
				hashes = append(hashes, s)
			default:
				strs = append(strs, s)
			}
		}
		if data.AttesterAddress == "" && len(addresses) > 0 {
			data.AttesterAddress = addresses[0]
		}
		if data.SubjectAddress == "" && len(addresses) > 1 {
			data.SubjectAddress = addresses[1]
		}
		if data.SchemaUID == "" && len(hashes) > 0 {
			data.SchemaUID = NormalizeUID(hashes[0])
		}
		if data.Message == "" && len(strs) > 0 {
			data.Message = strs[0]
		}
	}
	return data
}

// isStrkeyAddress matches G... account and C... contract strkeys.
func isStrkeyAddress(s string) bool {
	if len(s) != 56 {
		return false
	}
	return s[0] == 'G' || s[0] == 'C' || s[0] == 'M'
}

// isHexHash matches a 32-byte hex string, the shape of schema and
// attestation UIDs.
func isHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
