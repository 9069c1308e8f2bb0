package models

import "time"

// ActionFamily classifies a decoded event into the registry action it drives.
type ActionFamily string

const (
	FamilySchemaRegister ActionFamily = "schema-register"
	FamilyAttestCreate   ActionFamily = "attest-create"
	FamilyAttestRevoke   ActionFamily = "attest-revoke"
	FamilyBLSKeyRegister ActionFamily = "bls-key-register"
	FamilyOther          ActionFamily = "other"
)

// EventData is the typed payload union for a decoded event. Each action
// family carries its own concrete type; consumers switch on Family().
type EventData interface {
	Family() ActionFamily
}

// SchemaRegisterData carries the fields of a SCHEMA:REGISTER event.
type SchemaRegisterData struct {
	UID              string
	SchemaDefinition string
	ResolverAddress  string
	Revocable        bool
	DeployerAddress  string
}

func (SchemaRegisterData) Family() ActionFamily { return FamilySchemaRegister }

// AttestCreateData carries the fields of an ATTEST:CREATE event. Fields not
// present in the event payload are filled from the invoking operation's
// decoded call parameters.
type AttestCreateData struct {
	AttestationUID  string
	SchemaUID       string
	AttesterAddress string
	SubjectAddress  string
	Message         string
	Value           string
}

func (AttestCreateData) Family() ActionFamily { return FamilyAttestCreate }

// AttestRevokeData carries the fields of an ATTEST:REVOKE event.
type AttestRevokeData struct {
	AttestationUID  string
	SchemaUID       string
	AttesterAddress string
	RevokedAt       time.Time
}

func (AttestRevokeData) Family() ActionFamily { return FamilyAttestRevoke }

// BLSKeyRegisterData carries the fields of a BLS:REGISTER event.
type BLSKeyRegisterData struct {
	AttesterAddress string
	PublicKey       string
}

func (BLSKeyRegisterData) Family() ActionFamily { return FamilyBLSKeyRegister }

// OtherData holds the generically decoded payload of an event outside the
// known action families. Kept for the audit rollup only.
type OtherData struct {
	Values map[string]interface{}
}

func (OtherData) Family() ActionFamily { return FamilyOther }

// DecodedEvent is the native projection of a raw ledger event. It is never
// persisted verbatim; the projector consumes it immediately.
type DecodedEvent struct {
	EventID         string
	Ledger          uint32
	ContractID      string
	EventType       string // colon-joined decoded topics, e.g. "ATTEST:CREATE"
	Data            EventData
	Raw             map[string]interface{} // generically decoded value, for the rollup
	Timestamp       time.Time
	TransactionHash string
}
