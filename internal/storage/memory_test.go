package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"attest-indexer/internal/models"
)

func TestSetCheckpoint_Monotonic(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.SetCheckpoint(ctx, 100); err != nil {
		t.Fatal(err)
	}
	// A stale writer must never move the checkpoint backwards.
	if err := repo.SetCheckpoint(ctx, 50); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetCheckpoint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Errorf("checkpoint = %d; want 100", got)
	}
}

func TestUpsertSchema_PreservesCreatedAt(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	first := &models.Schema{UID: "s1", SchemaDefinition: "a:u32", CreatedAt: created}
	if err := repo.UpsertSchema(ctx, first); err != nil {
		t.Fatal(err)
	}

	replay := &models.Schema{
		UID:                    "s1",
		SchemaDefinition:       "a:u32",
		ParsedSchemaDefinition: `{"a":"u32"}`,
		CreatedAt:              created.Add(time.Hour),
	}
	if err := repo.UpsertSchema(ctx, replay); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetSchema(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v; want original %v", got.CreatedAt, created)
	}
	if got.ParsedSchemaDefinition != `{"a":"u32"}` {
		t.Errorf("ParsedSchemaDefinition not refreshed: %q", got.ParsedSchemaDefinition)
	}
	if got.UpdatedAt == nil {
		t.Error("UpdatedAt not set on re-registration")
	}
}

func TestUpsertAttestation_ReplayNeverResurrects(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	att := &models.Attestation{AttestationUID: "a1", Message: "v1"}
	if err := repo.UpsertAttestation(ctx, att); err != nil {
		t.Fatal(err)
	}

	revokedAt := time.Now().UTC()
	if err := repo.RevokeAttestation(ctx, "a1", revokedAt); err != nil {
		t.Fatal(err)
	}

	replay := &models.Attestation{AttestationUID: "a1", Message: "v2", Revoked: false}
	if err := repo.UpsertAttestation(ctx, replay); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetAttestation(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Revoked {
		t.Error("replayed create reset the revocation flag")
	}
	if got.Message != "v2" {
		t.Errorf("Message = %q; content fields should refresh", got.Message)
	}
}

func TestRevokeAttestation_FirstRevocationWins(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.UpsertAttestation(ctx, &models.Attestation{AttestationUID: "a1"}); err != nil {
		t.Fatal(err)
	}

	first := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.RevokeAttestation(ctx, "a1", first); err != nil {
		t.Fatal(err)
	}
	if err := repo.RevokeAttestation(ctx, "a1", first.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetAttestation(ctx, "a1")
	if got.RevokedAt == nil || !got.RevokedAt.Equal(first) {
		t.Errorf("RevokedAt = %v; want first revocation time %v", got.RevokedAt, first)
	}
}

func TestNotFoundError(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.GetSchema(context.Background(), "missing")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v; want NotFoundError", err)
	}
	if notFound.Entity != "schema" {
		t.Errorf("Entity = %q; want schema", notFound.Entity)
	}
}

func TestListSchemas_FilterAndPaginate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i, deployer := range []string{"GA", "GB", "GA", "GA"} {
		repo.UpsertSchema(ctx, &models.Schema{
			UID:             string(rune('a' + i)),
			Ledger:          uint32(10 * (i + 1)),
			DeployerAddress: deployer,
		})
	}

	schemas, err := repo.ListSchemas(ctx, models.SchemaFilter{Deployer: "GA", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(schemas) != 2 {
		t.Fatalf("len = %d; want 2", len(schemas))
	}
	// Newest first.
	if schemas[0].Ledger < schemas[1].Ledger {
		t.Errorf("not sorted newest-first: %d, %d", schemas[0].Ledger, schemas[1].Ledger)
	}

	total, err := repo.CountSchemas(ctx, models.SchemaFilter{Deployer: "GA"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Errorf("CountSchemas = %d; want 3", total)
	}
}

func TestListAttestations_RevokedFilter(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	repo.UpsertAttestation(ctx, &models.Attestation{AttestationUID: "a1", SchemaUID: "s1"})
	repo.UpsertAttestation(ctx, &models.Attestation{AttestationUID: "a2", SchemaUID: "s1"})
	repo.RevokeAttestation(ctx, "a2", time.Now())

	revoked := true
	got, err := repo.ListAttestations(ctx, models.AttestationFilter{SchemaUID: "s1", Revoked: &revoked, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AttestationUID != "a2" {
		t.Errorf("revoked filter returned %v", got)
	}

	active := false
	got, _ = repo.ListAttestations(ctx, models.AttestationFilter{Revoked: &active, Limit: 10})
	if len(got) != 1 || got[0].AttestationUID != "a1" {
		t.Errorf("active filter returned %v", got)
	}
}

func TestListTransactionsMissingOperations(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	repo.UpsertTransaction(ctx, &models.Transaction{Hash: "t1"})
	repo.UpsertTransaction(ctx, &models.Transaction{Hash: "t2"})
	repo.UpsertOperation(ctx, &models.Operation{ID: "t1:0", TxHash: "t1"})

	hashes, err := repo.ListTransactionsMissingOperations(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 1 || hashes[0] != "t2" {
		t.Errorf("hashes = %v; want [t2]", hashes)
	}
}

func TestWithTx_PassesThrough(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := repo.WithTx(ctx, func(r Repository) error {
		return r.UpsertSchema(ctx, &models.Schema{UID: "s1"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetSchema(ctx, "s1"); err != nil {
		t.Error("write inside WithTx not visible")
	}
}
