package projector

import (
	"context"
	"strings"
	"testing"
	"time"

	"attest-indexer/internal/models"
	"attest-indexer/internal/storage"
)

var (
	schemaUID = strings.Repeat("ab", 32)
	attestUID = strings.Repeat("cd", 32)
)

func schemaEvent(ledger uint32, ts time.Time) *models.DecodedEvent {
	return &models.DecodedEvent{
		EventID:         "evt-schema-1",
		Ledger:          ledger,
		EventType:       "SCHEMA:REGISTER",
		TransactionHash: "tx-schema",
		Timestamp:       ts,
		Data: models.SchemaRegisterData{
			UID:              schemaUID,
			SchemaDefinition: "name:string",
			Revocable:        true,
			DeployerAddress:  "GDEPLOYER",
		},
		Raw: map[string]interface{}{"uid": schemaUID},
	}
}

func attestEvent(ledger uint32, ts time.Time) *models.DecodedEvent {
	return &models.DecodedEvent{
		EventID:         "evt-attest-1",
		Ledger:          ledger,
		EventType:       "ATTEST:CREATE",
		TransactionHash: "tx-attest",
		Timestamp:       ts,
		Data: models.AttestCreateData{
			AttestationUID:  attestUID,
			SchemaUID:       schemaUID,
			AttesterAddress: "GATTESTER",
			Message:         "v1",
		},
	}
}

func revokeEvent(ledger uint32, revokedAt time.Time) *models.DecodedEvent {
	return &models.DecodedEvent{
		EventID:         "evt-revoke-1",
		Ledger:          ledger,
		EventType:       "ATTEST:REVOKE",
		TransactionHash: "tx-revoke",
		Timestamp:       revokedAt,
		Data: models.AttestRevokeData{
			AttestationUID: attestUID,
			RevokedAt:      revokedAt,
		},
	}
}

func TestProject_SchemaAndAudit(t *testing.T) {
	repo := storage.NewMemoryRepository()
	p := New(repo)
	ctx := context.Background()

	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	txn := &models.Transaction{Hash: "tx-schema", SourceAccount: "GSOURCE", Successful: true}

	if err := p.Project(ctx, schemaEvent(10, ts), txn); err != nil {
		t.Fatalf("Project failed: %v", err)
	}

	schema, err := repo.GetSchema(ctx, schemaUID)
	if err != nil {
		t.Fatalf("schema not stored: %v", err)
	}
	if !schema.CreatedAt.Equal(ts) {
		t.Errorf("CreatedAt = %v; want %v", schema.CreatedAt, ts)
	}
	if schema.Type != "default" {
		t.Errorf("Type = %q; want default", schema.Type)
	}

	if _, ok := repo.Transactions["tx-schema"]; !ok {
		t.Error("transaction row not stored")
	}

	action, ok := repo.RegistryActions["evt-schema-1"]
	if !ok {
		t.Fatal("registry action not stored")
	}
	if action.Action != string(models.FamilySchemaRegister) {
		t.Errorf("Action = %q", action.Action)
	}
	if action.SourceAccount != "GSOURCE" {
		t.Errorf("SourceAccount = %q", action.SourceAccount)
	}
}

func TestProject_ReplayPreservesCreatedAt(t *testing.T) {
	repo := storage.NewMemoryRepository()
	p := New(repo)
	ctx := context.Background()

	first := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := p.Project(ctx, attestEvent(10, first), nil); err != nil {
		t.Fatalf("first projection failed: %v", err)
	}

	// Replay the same event with a later decode timestamp.
	replay := attestEvent(10, first.Add(time.Hour))
	replay.Data = models.AttestCreateData{
		AttestationUID: attestUID,
		SchemaUID:      schemaUID,
		Message:        "v2",
	}
	if err := p.Project(ctx, replay, nil); err != nil {
		t.Fatalf("replay projection failed: %v", err)
	}

	att, err := repo.GetAttestation(ctx, attestUID)
	if err != nil {
		t.Fatalf("attestation missing: %v", err)
	}
	if !att.CreatedAt.Equal(first) {
		t.Errorf("CreatedAt changed on replay: %v", att.CreatedAt)
	}
	if att.Message != "v2" {
		t.Errorf("Message = %q; replay should refresh content fields", att.Message)
	}
}

func TestProject_RevokeAfterCreate(t *testing.T) {
	repo := storage.NewMemoryRepository()
	p := New(repo)
	ctx := context.Background()

	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	revoked := created.Add(2 * time.Hour)

	if err := p.Project(ctx, attestEvent(10, created), nil); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := p.Project(ctx, revokeEvent(11, revoked), nil); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	att, _ := repo.GetAttestation(ctx, attestUID)
	if !att.Revoked {
		t.Fatal("attestation not revoked")
	}
	if att.RevokedAt == nil || !att.RevokedAt.Equal(revoked) {
		t.Errorf("RevokedAt = %v; want %v", att.RevokedAt, revoked)
	}

	// A replayed create after revocation never resurrects the attestation.
	if err := p.Project(ctx, attestEvent(10, created), nil); err != nil {
		t.Fatalf("replayed create failed: %v", err)
	}
	att, _ = repo.GetAttestation(ctx, attestUID)
	if !att.Revoked {
		t.Error("replayed create reset revocation state")
	}
}

func TestProject_RevokeWithoutCreateIsNoop(t *testing.T) {
	repo := storage.NewMemoryRepository()
	p := New(repo)
	ctx := context.Background()

	if err := p.Project(ctx, revokeEvent(5, time.Now()), nil); err != nil {
		t.Fatalf("revoke of unknown attestation errored: %v", err)
	}
	if _, err := repo.GetAttestation(ctx, attestUID); err == nil {
		t.Error("revoke created a phantom attestation")
	}
}

func TestProject_MissingUID(t *testing.T) {
	repo := storage.NewMemoryRepository()
	p := New(repo)

	ev := schemaEvent(10, time.Now())
	ev.Data = models.SchemaRegisterData{}
	if err := p.Project(context.Background(), ev, nil); err == nil {
		t.Error("expected error for schema-register without uid")
	}
}

func TestProject_OtherFamilyOnlyAudited(t *testing.T) {
	repo := storage.NewMemoryRepository()
	p := New(repo)
	ctx := context.Background()

	ev := &models.DecodedEvent{
		EventID:   "evt-other",
		Ledger:    3,
		EventType: "TRANSFER",
		Data:      models.OtherData{Values: map[string]interface{}{"amount": "5"}},
	}
	if err := p.Project(ctx, ev, nil); err != nil {
		t.Fatalf("Project failed: %v", err)
	}

	if len(repo.Schemas) != 0 || len(repo.Attestations) != 0 {
		t.Error("other-family event created registry entities")
	}
	if _, ok := repo.RegistryActions["evt-other"]; !ok {
		t.Error("other-family event missing from audit rollup")
	}
}

func TestSortByDependency(t *testing.T) {
	ts := time.Now()
	events := []*models.DecodedEvent{
		{EventID: "c", EventType: "TRANSFER", Data: models.OtherData{}},
		attestEvent(10, ts),
		revokeEvent(11, ts),
		schemaEvent(9, ts),
	}

	SortByDependency(events)

	if events[0].EventID != "evt-schema-1" {
		t.Errorf("first = %s; want schema event", events[0].EventID)
	}
	// Attest and revoke keep their relative order (stable sort).
	if events[1].EventID != "evt-attest-1" || events[2].EventID != "evt-revoke-1" {
		t.Errorf("middle = %s, %s; want attest then revoke", events[1].EventID, events[2].EventID)
	}
	if events[3].EventID != "c" {
		t.Errorf("last = %s; want the unclassified event", events[3].EventID)
	}
}
