package decoder

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"attest-indexer/internal/models"

	"github.com/stellar/stellar-rpc/protocol"
)

// topicSeparator joins decoded topic segments into the event type,
// e.g. "ATTEST:CREATE".
const topicSeparator = ":"

// Decoder turns raw ledger events into typed DecodedEvents.
type Decoder struct{}

func New() *Decoder {
	return &Decoder{}
}

// Decode parses a raw event's binary topics and value into a DecodedEvent.
// A decode failure is per-event; callers log and skip, never abort the batch.
func (d *Decoder) Decode(ev protocol.EventInfo) (*models.DecodedEvent, error) {
	if len(ev.TopicXDR) == 0 {
		return nil, fmt.Errorf("event %s has no topics", ev.ID)
	}

	segments := make([]string, 0, len(ev.TopicXDR))
	for i, topic := range ev.TopicXDR {
		val, err := decodeScVal(topic)
		if err != nil {
			return nil, fmt.Errorf("topic %d of event %s: %w", i, ev.ID, err)
		}
		segments = append(segments, ScValToString(val))
	}
	eventType := strings.Join(segments, topicSeparator)

	raw := make(map[string]interface{})
	if ev.ValueXDR != "" {
		val, err := decodeScVal(ev.ValueXDR)
		if err != nil {
			return nil, fmt.Errorf("value of event %s: %w", ev.ID, err)
		}
		switch parsed := ScValToInterface(val).(type) {
		case map[string]interface{}:
			raw = parsed
		default:
			raw["value"] = parsed
		}
	}

	timestamp := time.Now().UTC()
	if ev.LedgerClosedAt != "" {
		if t, err := time.Parse(time.RFC3339, ev.LedgerClosedAt); err == nil {
			timestamp = t.UTC()
		}
	}

	decoded := &models.DecodedEvent{
		EventID:         ev.ID,
		Ledger:          uint32(ev.Ledger),
		ContractID:      ev.ContractID,
		EventType:       eventType,
		Raw:             raw,
		Timestamp:       timestamp,
		TransactionHash: ev.TransactionHash,
	}
	decoded.Data = extractEventData(Classify(eventType), raw, timestamp)

	return decoded, nil
}

// Classify maps a colon-joined event type onto its action family by
// exact or substring match.
func Classify(eventType string) models.ActionFamily {
	upper := strings.ToUpper(eventType)
	switch {
	case strings.Contains(upper, "SCHEMA") && strings.Contains(upper, "REGISTER"):
		return models.FamilySchemaRegister
	case strings.Contains(upper, "BLS"):
		return models.FamilyBLSKeyRegister
	case strings.Contains(upper, "REVOKE"):
		return models.FamilyAttestRevoke
	case strings.Contains(upper, "ATTEST"):
		return models.FamilyAttestCreate
	default:
		return models.FamilyOther
	}
}

// extractEventData builds the typed payload for a family from the
// generically decoded event value.
func extractEventData(family models.ActionFamily, raw map[string]interface{}, ts time.Time) models.EventData {
	switch family {
	case models.FamilySchemaRegister:
		return models.SchemaRegisterData{
			UID:              NormalizeUID(getString(raw, "uid", "schema_uid")),
			SchemaDefinition: getString(raw, "schema_definition", "definition", "schema"),
			ResolverAddress:  getString(raw, "resolver", "resolver_address"),
			Revocable:        getBool(raw, "revocable", true),
			DeployerAddress:  getString(raw, "deployer", "deployer_address", "caller"),
		}
	case models.FamilyAttestCreate:
		return models.AttestCreateData{
			AttestationUID:  NormalizeUID(getString(raw, "uid", "attestation_uid")),
			SchemaUID:       NormalizeUID(getString(raw, "schema_uid")),
			AttesterAddress: getString(raw, "attester", "attester_address"),
			SubjectAddress:  getString(raw, "subject", "subject_address", "recipient"),
			Message:         getString(raw, "message"),
			Value:           getString(raw, "value"),
		}
	case models.FamilyAttestRevoke:
		revokedAt := ts
		if secs, ok := getUint64(raw, "revoked_at", "timestamp"); ok {
			revokedAt = time.Unix(int64(secs), 0).UTC()
		}
		return models.AttestRevokeData{
			AttestationUID:  NormalizeUID(getString(raw, "uid", "attestation_uid")),
			SchemaUID:       NormalizeUID(getString(raw, "schema_uid")),
			AttesterAddress: getString(raw, "attester", "revoker"),
			RevokedAt:       revokedAt,
		}
	case models.FamilyBLSKeyRegister:
		return models.BLSKeyRegisterData{
			AttesterAddress: getString(raw, "attester", "owner"),
			PublicKey:       getString(raw, "key", "public_key"),
		}
	default:
		return models.OtherData{Values: raw}
	}
}

// NormalizeUID brings a schema or attestation UID into canonical lowercase
// hex so it can be used as a lookup key regardless of how the ledger
// encoded it.
func NormalizeUID(uid string) string {
	if uid == "" {
		return ""
	}
	if decoded, err := hex.DecodeString(uid); err == nil && len(decoded) > 0 {
		return strings.ToLower(uid)
	}
	if decoded, err := base64.StdEncoding.DecodeString(uid); err == nil && len(decoded) > 0 {
		return hex.EncodeToString(decoded)
	}
	return uid
}

func getString(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func getBool(m map[string]interface{}, key string, defaultVal bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

func getUint64(m map[string]interface{}, keys ...string) (uint64, bool) {
	for _, key := range keys {
		switch v := m[key].(type) {
		case uint64:
			return v, true
		case uint32:
			return uint64(v), true
		case int64:
			return uint64(v), true
		}
	}
	return 0, false
}
