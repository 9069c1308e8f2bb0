package storage

import (
	"context"
	"time"

	"attest-indexer/internal/models"
)

// Repository defines the persistence operations the ingestion core needs.
// Every write is an upsert keyed on the record's unique field, which makes
// re-projecting the same event a no-op.
type Repository interface {
	// Record upserts
	UpsertTransaction(ctx context.Context, tx *models.Transaction) error
	UpsertOperation(ctx context.Context, op *models.Operation) error
	UpsertSchema(ctx context.Context, schema *models.Schema) error
	UpsertAttestation(ctx context.Context, att *models.Attestation) error
	RevokeAttestation(ctx context.Context, uid string, revokedAt time.Time) error
	UpsertRegistryAction(ctx context.Context, action *models.RegistryAction) error

	// Reads
	GetTransaction(ctx context.Context, hash string) (*models.Transaction, error)
	GetSchema(ctx context.Context, uid string) (*models.Schema, error)
	GetAttestation(ctx context.Context, uid string) (*models.Attestation, error)
	ListSchemas(ctx context.Context, filter models.SchemaFilter) ([]models.Schema, error)
	CountSchemas(ctx context.Context, filter models.SchemaFilter) (int, error)
	ListAttestations(ctx context.Context, filter models.AttestationFilter) ([]models.Attestation, error)
	CountAttestations(ctx context.Context, filter models.AttestationFilter) (int, error)
	ListTransactionsMissingOperations(ctx context.Context, limit int) ([]string, error)

	// Checkpoint is the "last ledger fully processed" watermark. SetCheckpoint
	// only ever moves it forward.
	GetCheckpoint(ctx context.Context) (uint32, error)
	SetCheckpoint(ctx context.Context, ledger uint32) error

	// WithTx runs fn against a repository bound to a single database
	// transaction. The whole batch commits or rolls back together.
	WithTx(ctx context.Context, fn func(r Repository) error) error

	Ping(ctx context.Context) error
}

// NotFoundError is returned by point lookups when no row matches.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found: " + e.Key
}
