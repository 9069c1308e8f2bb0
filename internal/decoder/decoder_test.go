package decoder

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"attest-indexer/internal/models"

	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"
)

const (
	testAttester = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"
	testSubject  = "GB7TAYRUZGE6TVT7NHP5SMIZRNQA6PLM423EYISAOAP3MKYIQMVYP2JO"
)

func makeSymbol(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func makeString(s string) xdr.ScVal {
	str := xdr.ScString(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &str}
}

func makeBytes(b []byte) xdr.ScVal {
	bin := xdr.ScBytes(b)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &bin}
}

func makeBool(b bool) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &b}
}

func makeMap(entries ...xdr.ScMapEntry) xdr.ScVal {
	m := xdr.ScMap(entries)
	mp := &m
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &mp}
}

func entry(key string, val xdr.ScVal) xdr.ScMapEntry {
	return xdr.ScMapEntry{Key: makeSymbol(key), Val: val}
}

func marshalB64(t *testing.T, val xdr.ScVal) string {
	t.Helper()
	b64, err := xdr.MarshalBase64(val)
	if err != nil {
		t.Fatalf("failed to marshal scval: %v", err)
	}
	return b64
}

func TestClassify(t *testing.T) {
	tests := []struct {
		eventType string
		want      models.ActionFamily
	}{
		{"SCHEMA:REGISTER", models.FamilySchemaRegister},
		{"schema:register", models.FamilySchemaRegister},
		{"REGISTER:SCHEMA", models.FamilySchemaRegister},
		{"ATTEST:CREATE", models.FamilyAttestCreate},
		{"ATTEST", models.FamilyAttestCreate},
		{"ATTEST:REVOKE", models.FamilyAttestRevoke},
		{"REVOKE", models.FamilyAttestRevoke},
		{"BLS:REGISTER", models.FamilyBLSKeyRegister},
		{"TRANSFER", models.FamilyOther},
		{"", models.FamilyOther},
	}

	for _, tt := range tests {
		if got := Classify(tt.eventType); got != tt.want {
			t.Errorf("Classify(%q) = %s; want %s", tt.eventType, got, tt.want)
		}
	}
}

func TestNormalizeUID(t *testing.T) {
	uidBytes := bytes.Repeat([]byte{0xab}, 32)
	hexUID := strings.Repeat("ab", 32)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lowercase hex passes through", hexUID, hexUID},
		{"uppercase hex lowered", strings.ToUpper(hexUID), hexUID},
		{"base64 converted to hex", base64.StdEncoding.EncodeToString(uidBytes), hexUID},
		{"opaque string kept", "not-a-uid!", "not-a-uid!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeUID(tt.in); got != tt.want {
				t.Errorf("NormalizeUID(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecode_AttestCreate(t *testing.T) {
	d := New()
	uid := strings.Repeat("cd", 32)
	schemaUID := strings.Repeat("ef", 32)

	ev := protocol.EventInfo{
		ID:             "0000000004-0000000001",
		Ledger:         42,
		LedgerClosedAt: "2026-08-01T12:00:00Z",
		ContractID:     "CCONTRACT",
		TopicXDR: []string{
			marshalB64(t, makeSymbol("ATTEST")),
			marshalB64(t, makeSymbol("CREATE")),
		},
		ValueXDR: marshalB64(t, makeMap(
			entry("uid", makeString(uid)),
			entry("schema_uid", makeString(schemaUID)),
			entry("attester", makeString(testAttester)),
			entry("subject", makeString(testSubject)),
			entry("message", makeString("kyc passed")),
		)),
		InSuccessfulContractCall: true,
		TransactionHash:          "deadbeef",
	}

	decoded, err := d.Decode(ev)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.EventType != "ATTEST:CREATE" {
		t.Errorf("EventType = %q; want ATTEST:CREATE", decoded.EventType)
	}
	if decoded.Ledger != 42 {
		t.Errorf("Ledger = %d; want 42", decoded.Ledger)
	}
	if decoded.TransactionHash != "deadbeef" {
		t.Errorf("TransactionHash = %q; want deadbeef", decoded.TransactionHash)
	}

	want := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if !decoded.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v; want %v", decoded.Timestamp, want)
	}

	data, ok := decoded.Data.(models.AttestCreateData)
	if !ok {
		t.Fatalf("Data is %T; want AttestCreateData", decoded.Data)
	}
	if data.AttestationUID != uid {
		t.Errorf("AttestationUID = %q; want %q", data.AttestationUID, uid)
	}
	if data.SchemaUID != schemaUID {
		t.Errorf("SchemaUID = %q; want %q", data.SchemaUID, schemaUID)
	}
	if data.AttesterAddress != testAttester {
		t.Errorf("AttesterAddress = %q; want %q", data.AttesterAddress, testAttester)
	}
	if data.SubjectAddress != testSubject {
		t.Errorf("SubjectAddress = %q; want %q", data.SubjectAddress, testSubject)
	}
	if data.Message != "kyc passed" {
		t.Errorf("Message = %q", data.Message)
	}
}

func TestDecode_SchemaRegister(t *testing.T) {
	d := New()
	uid := strings.Repeat("ab", 32)

	ev := protocol.EventInfo{
		ID:     "evt-schema",
		Ledger: 10,
		TopicXDR: []string{
			marshalB64(t, makeSymbol("SCHEMA")),
			marshalB64(t, makeSymbol("REGISTER")),
		},
		ValueXDR: marshalB64(t, makeMap(
			entry("uid", makeString(uid)),
			entry("schema_definition", makeString("name:string,age:u32")),
			entry("revocable", makeBool(false)),
			entry("deployer", makeString(testAttester)),
		)),
	}

	decoded, err := d.Decode(ev)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	data, ok := decoded.Data.(models.SchemaRegisterData)
	if !ok {
		t.Fatalf("Data is %T; want SchemaRegisterData", decoded.Data)
	}
	if data.UID != uid {
		t.Errorf("UID = %q; want %q", data.UID, uid)
	}
	if data.SchemaDefinition != "name:string,age:u32" {
		t.Errorf("SchemaDefinition = %q", data.SchemaDefinition)
	}
	if data.Revocable {
		t.Error("Revocable = true; want false")
	}
	if data.DeployerAddress != testAttester {
		t.Errorf("DeployerAddress = %q", data.DeployerAddress)
	}
}

func TestDecode_RevocableDefaultsTrue(t *testing.T) {
	d := New()

	ev := protocol.EventInfo{
		ID: "evt-schema-2",
		TopicXDR: []string{
			marshalB64(t, makeSymbol("SCHEMA")),
			marshalB64(t, makeSymbol("REGISTER")),
		},
		ValueXDR: marshalB64(t, makeMap(
			entry("uid", makeString(strings.Repeat("11", 32))),
		)),
	}

	decoded, err := d.Decode(ev)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if data := decoded.Data.(models.SchemaRegisterData); !data.Revocable {
		t.Error("Revocable should default to true when absent")
	}
}

func TestDecode_BytesUIDNormalized(t *testing.T) {
	d := New()
	raw := bytes.Repeat([]byte{0xAB}, 32)

	ev := protocol.EventInfo{
		ID: "evt-bytes-uid",
		TopicXDR: []string{
			marshalB64(t, makeSymbol("ATTEST")),
		},
		ValueXDR: marshalB64(t, makeMap(
			entry("uid", makeBytes(raw)),
		)),
	}

	decoded, err := d.Decode(ev)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	data := decoded.Data.(models.AttestCreateData)
	if data.AttestationUID != strings.Repeat("ab", 32) {
		t.Errorf("AttestationUID = %q; want lowercase hex", data.AttestationUID)
	}
}

func TestDecode_NoTopics(t *testing.T) {
	d := New()
	if _, err := d.Decode(protocol.EventInfo{ID: "evt-empty"}); err == nil {
		t.Error("expected error for event without topics")
	}
}

func TestDecode_MalformedTopic(t *testing.T) {
	d := New()
	ev := protocol.EventInfo{
		ID:       "evt-bad",
		TopicXDR: []string{"!!!not-base64!!!"},
	}
	if _, err := d.Decode(ev); err == nil {
		t.Error("expected error for undecodable topic")
	}
}

func TestDecode_ScalarValue(t *testing.T) {
	d := New()
	ev := protocol.EventInfo{
		ID: "evt-scalar",
		TopicXDR: []string{
			marshalB64(t, makeSymbol("TRANSFER")),
		},
		ValueXDR: marshalB64(t, makeString("plain")),
	}

	decoded, err := d.Decode(ev)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Raw["value"] != "plain" {
		t.Errorf("Raw[value] = %v; want plain", decoded.Raw["value"])
	}
	if _, ok := decoded.Data.(models.OtherData); !ok {
		t.Errorf("Data is %T; want OtherData", decoded.Data)
	}
}
