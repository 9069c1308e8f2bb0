package models

import "time"

// Transaction is the ledger transaction carrying one or more registry
// events. XDR blobs are stored verbatim so operations can be re-decoded
// without another upstream round-trip.
type Transaction struct {
	Hash          string    `json:"hash"`
	Ledger        uint32    `json:"ledger"`
	SourceAccount string    `json:"source_account"`
	Fee           string    `json:"fee"`
	Envelope      string    `json:"envelope"`
	Result        string    `json:"result"`
	Meta          string    `json:"meta"`
	Successful    bool      `json:"successful"`
	Timestamp     time.Time `json:"timestamp"`
}

// Operation is one decoded operation within a transaction. ID is the
// synthetic "txHash:index" key.
type Operation struct {
	ID            string                 `json:"id"`
	TxHash        string                 `json:"tx_hash"`
	Index         int                    `json:"index"`
	Type          string                 `json:"type"`
	SourceAccount string                 `json:"source_account"`
	Function      string                 `json:"function,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
}

// Schema is a registered attestation schema. UID is the normalized
// lowercase hex identifier emitted by the registry contract.
type Schema struct {
	UID                    string     `json:"uid"`
	Ledger                 uint32     `json:"ledger"`
	SchemaDefinition       string     `json:"schema_definition"`
	ParsedSchemaDefinition string     `json:"parsed_schema_definition,omitempty"`
	ResolverAddress        string     `json:"resolver_address,omitempty"`
	Revocable              bool       `json:"revocable"`
	DeployerAddress        string     `json:"deployer_address"`
	Type                   string     `json:"type"`
	TransactionHash        string     `json:"transaction_hash"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              *time.Time `json:"updated_at,omitempty"`
}

// Attestation is one attestation against a schema. Revocation is a state
// transition on this row, not a separate record.
type Attestation struct {
	AttestationUID  string     `json:"attestation_uid"`
	Ledger          uint32     `json:"ledger"`
	SchemaUID       string     `json:"schema_uid"`
	AttesterAddress string     `json:"attester_address"`
	SubjectAddress  string     `json:"subject_address,omitempty"`
	TransactionHash string     `json:"transaction_hash"`
	Message         string     `json:"message,omitempty"`
	Value           string     `json:"value,omitempty"`
	Revoked         bool       `json:"revoked"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RegistryAction is the append-only audit rollup: one row per observed
// event regardless of family, keyed by the upstream event id.
type RegistryAction struct {
	EventID         string                 `json:"event_id"`
	Action          string                 `json:"action"`
	TransactionHash string                 `json:"transaction_hash"`
	SourceAccount   string                 `json:"source_account,omitempty"`
	ContractID      string                 `json:"contract_id"`
	Ledger          uint32                 `json:"ledger"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}
