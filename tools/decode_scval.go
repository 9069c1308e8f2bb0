package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/stellar/go/xdr"

	"attest-indexer/internal/decoder"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: decode_scval <base64-xdr-scval>")
		os.Exit(1)
	}

	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(os.Args[1], &val); err != nil {
		fmt.Printf("Error decoding ScVal: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(decoder.ScValToInterface(val), "", "  ")
	if err != nil {
		fmt.Printf("Error rendering value: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
