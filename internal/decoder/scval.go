package decoder

import (
	"encoding/hex"
	"fmt"

	"github.com/stellar/go/xdr"
)

// ScValToString converts an ScVal to a string representation, used for
// topic segments.
func ScValToString(val xdr.ScVal) string {
	switch val.Type {
	case xdr.ScValTypeScvBool:
		if val.MustB() {
			return "true"
		}
		return "false"
	case xdr.ScValTypeScvVoid:
		return "void"
	case xdr.ScValTypeScvU32:
		return fmt.Sprintf("%d", val.MustU32())
	case xdr.ScValTypeScvI32:
		return fmt.Sprintf("%d", val.MustI32())
	case xdr.ScValTypeScvU64:
		return fmt.Sprintf("%d", val.MustU64())
	case xdr.ScValTypeScvI64:
		return fmt.Sprintf("%d", val.MustI64())
	case xdr.ScValTypeScvSymbol:
		return string(val.MustSym())
	case xdr.ScValTypeScvString:
		return string(val.MustStr())
	case xdr.ScValTypeScvAddress:
		addr := val.MustAddress()
		str, _ := addr.String()
		return str
	case xdr.ScValTypeScvBytes:
		return hex.EncodeToString(val.MustBytes())
	default:
		return fmt.Sprintf("<%s>", val.Type.String())
	}
}

// ScValToInterface converts an ScVal to a native Go value for JSON
// serialization. Maps and vectors recurse; bytes become hex.
func ScValToInterface(val xdr.ScVal) interface{} {
	switch val.Type {
	case xdr.ScValTypeScvBool:
		return val.MustB()
	case xdr.ScValTypeScvVoid:
		return nil
	case xdr.ScValTypeScvU32:
		return uint32(val.MustU32())
	case xdr.ScValTypeScvI32:
		return int32(val.MustI32())
	case xdr.ScValTypeScvU64:
		return uint64(val.MustU64())
	case xdr.ScValTypeScvI64:
		return int64(val.MustI64())
	case xdr.ScValTypeScvU128:
		u128 := val.MustU128()
		return map[string]interface{}{
			"hi":  uint64(u128.Hi),
			"lo":  uint64(u128.Lo),
			"hex": fmt.Sprintf("%016x%016x", u128.Hi, u128.Lo),
		}
	case xdr.ScValTypeScvI128:
		i128 := val.MustI128()
		return map[string]interface{}{
			"hi":  int64(i128.Hi),
			"lo":  uint64(i128.Lo),
			"hex": fmt.Sprintf("%016x%016x", i128.Hi, i128.Lo),
		}
	case xdr.ScValTypeScvTimepoint:
		return uint64(val.MustTimepoint())
	case xdr.ScValTypeScvSymbol:
		return string(val.MustSym())
	case xdr.ScValTypeScvString:
		return string(val.MustStr())
	case xdr.ScValTypeScvAddress:
		addr := val.MustAddress()
		str, _ := addr.String()
		return str
	case xdr.ScValTypeScvBytes:
		return hex.EncodeToString(val.MustBytes())
	case xdr.ScValTypeScvVec:
		vec := *val.MustVec()
		result := make([]interface{}, len(vec))
		for i, element := range vec {
			result[i] = ScValToInterface(element)
		}
		return result
	case xdr.ScValTypeScvMap:
		scMap := *val.MustMap()
		result := make(map[string]interface{})
		for _, entry := range scMap {
			// Keys are typically symbols or strings
			keyStr := ScValToString(entry.Key)
			result[keyStr] = ScValToInterface(entry.Val)
		}
		return result
	default:
		return val.Type.String()
	}
}

// decodeScVal unmarshals a base64 XDR blob into an ScVal.
func decodeScVal(b64 string) (xdr.ScVal, error) {
	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(b64, &val); err != nil {
		return val, fmt.Errorf("failed to unmarshal scval: %w", err)
	}
	return val, nil
}
