package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"attest-indexer/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// checkpointKey is the metadata row holding the last fully processed ledger.
const checkpointKey = "lastProcessedLedgerMeta"

// batchTxTimeout bounds a single batched flush transaction.
const batchTxTimeout = 30 * time.Second

// querier is satisfied by both pgxpool.Pool and pgx.Tx, so the same
// repository methods work inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db   querier
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository and applies the
// registry schema.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &PostgresRepository{db: pool, pool: pool}
	if err := r.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return r, nil
}

// initSchema executes the embedded DDL statement by statement.
func (r *PostgresRepository) initSchema(ctx context.Context) error {
	statements := strings.Split(schemaSQL, ";")
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing statement: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn against a transaction-bound copy of the repository. Any
// error rolls back the whole batch.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if _, alreadyTx := r.db.(pgx.Tx); alreadyTx {
		return fn(r)
	}

	ctx, cancel := context.WithTimeout(ctx, batchTxTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresRepository{db: tx, pool: r.pool}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertTransaction saves a transaction, keyed by hash.
func (r *PostgresRepository) UpsertTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			hash, ledger, source_account, fee, envelope, result, meta, successful, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO UPDATE SET
			ledger = EXCLUDED.ledger,
			source_account = EXCLUDED.source_account,
			fee = EXCLUDED.fee,
			envelope = EXCLUDED.envelope,
			result = EXCLUDED.result,
			meta = EXCLUDED.meta,
			successful = EXCLUDED.successful
	`

	_, err := r.db.Exec(ctx, query,
		t.Hash, t.Ledger, t.SourceAccount, t.Fee, t.Envelope, t.Result, t.Meta, t.Successful, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return nil
}

// UpsertOperation saves a decoded operation, keyed by its synthetic id.
func (r *PostgresRepository) UpsertOperation(ctx context.Context, op *models.Operation) error {
	paramsJSON, err := json.Marshal(op.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO operations (id, tx_hash, op_index, type, source_account, function, parameters)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			source_account = EXCLUDED.source_account,
			function = EXCLUDED.function,
			parameters = EXCLUDED.parameters
	`

	_, err = r.db.Exec(ctx, query,
		op.ID, op.TxHash, op.Index, op.Type, op.SourceAccount, op.Function, paramsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert operation: %w", err)
	}
	return nil
}

// UpsertSchema saves a schema. Re-registration never touches created_at.
func (r *PostgresRepository) UpsertSchema(ctx context.Context, s *models.Schema) error {
	query := `
		INSERT INTO schemas (
			uid, ledger, schema_definition, parsed_schema_definition, resolver_address,
			revocable, deployer_address, type, transaction_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (uid) DO UPDATE SET
			parsed_schema_definition = EXCLUDED.parsed_schema_definition,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		s.UID, s.Ledger, s.SchemaDefinition, nullIfEmpty(s.ParsedSchemaDefinition),
		nullIfEmpty(s.ResolverAddress), s.Revocable, s.DeployerAddress, s.Type,
		s.TransactionHash, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert schema: %w", err)
	}
	return nil
}

// UpsertAttestation saves an attestation. A replayed create never resets
// revocation state or created_at.
func (r *PostgresRepository) UpsertAttestation(ctx context.Context, a *models.Attestation) error {
	query := `
		INSERT INTO attestations (
			attestation_uid, ledger, schema_uid, attester_address, subject_address,
			transaction_hash, message, value, revoked, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (attestation_uid) DO UPDATE SET
			message = EXCLUDED.message,
			value = EXCLUDED.value
	`

	_, err := r.db.Exec(ctx, query,
		a.AttestationUID, a.Ledger, a.SchemaUID, a.AttesterAddress, nullIfEmpty(a.SubjectAddress),
		a.TransactionHash, nullIfEmpty(a.Message), nullIfEmpty(a.Value),
		a.Revoked, a.RevokedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert attestation: %w", err)
	}
	return nil
}

// RevokeAttestation marks an existing attestation revoked. If the create
// event has not arrived yet this is a no-op; the revoke is replayed when the
// range is re-processed.
func (r *PostgresRepository) RevokeAttestation(ctx context.Context, uid string, revokedAt time.Time) error {
	query := `
		UPDATE attestations
		SET revoked = TRUE, revoked_at = $2
		WHERE attestation_uid = $1 AND revoked = FALSE
	`

	_, err := r.db.Exec(ctx, query, uid, revokedAt)
	if err != nil {
		return fmt.Errorf("failed to revoke attestation: %w", err)
	}
	return nil
}

// UpsertRegistryAction saves the audit rollup row, keyed by event id.
func (r *PostgresRepository) UpsertRegistryAction(ctx context.Context, a *models.RegistryAction) error {
	metadataJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO registry_actions (
			event_id, action, transaction_hash, source_account, contract_id, ledger, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err = r.db.Exec(ctx, query,
		a.EventID, a.Action, a.TransactionHash, a.SourceAccount, a.ContractID, a.Ledger, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert registry action: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by hash.
func (r *PostgresRepository) GetTransaction(ctx context.Context, hash string) (*models.Transaction, error) {
	query := `
		SELECT hash, ledger, source_account, fee, envelope, result, meta, successful, timestamp
		FROM transactions
		WHERE hash = $1
	`

	var t models.Transaction
	err := r.db.QueryRow(ctx, query, hash).Scan(
		&t.Hash, &t.Ledger, &t.SourceAccount, &t.Fee, &t.Envelope, &t.Result, &t.Meta, &t.Successful, &t.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "transaction", Key: hash}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

// GetSchema retrieves a schema by uid.
func (r *PostgresRepository) GetSchema(ctx context.Context, uid string) (*models.Schema, error) {
	query := `
		SELECT uid, ledger, schema_definition, COALESCE(parsed_schema_definition, ''),
			COALESCE(resolver_address, ''), revocable, deployer_address, type,
			transaction_hash, created_at, updated_at
		FROM schemas
		WHERE uid = $1
	`

	var s models.Schema
	err := r.db.QueryRow(ctx, query, uid).Scan(
		&s.UID, &s.Ledger, &s.SchemaDefinition, &s.ParsedSchemaDefinition,
		&s.ResolverAddress, &s.Revocable, &s.DeployerAddress, &s.Type,
		&s.TransactionHash, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "schema", Key: uid}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	return &s, nil
}

// GetAttestation retrieves an attestation by uid.
func (r *PostgresRepository) GetAttestation(ctx context.Context, uid string) (*models.Attestation, error) {
	query := `
		SELECT attestation_uid, ledger, schema_uid, attester_address, COALESCE(subject_address, ''),
			transaction_hash, COALESCE(message, ''), COALESCE(value, ''), revoked, revoked_at, created_at
		FROM attestations
		WHERE attestation_uid = $1
	`

	var a models.Attestation
	err := r.db.QueryRow(ctx, query, uid).Scan(
		&a.AttestationUID, &a.Ledger, &a.SchemaUID, &a.AttesterAddress, &a.SubjectAddress,
		&a.TransactionHash, &a.Message, &a.Value, &a.Revoked, &a.RevokedAt, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "attestation", Key: uid}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attestation: %w", err)
	}
	return &a, nil
}

// ListSchemas lists schemas matching the filter, newest first.
func (r *PostgresRepository) ListSchemas(ctx context.Context, filter models.SchemaFilter) ([]models.Schema, error) {
	query := `
		SELECT uid, ledger, schema_definition, COALESCE(parsed_schema_definition, ''),
			COALESCE(resolver_address, ''), revocable, deployer_address, type,
			transaction_hash, created_at, updated_at
		FROM schemas
		WHERE ($1 = '' OR deployer_address = $1)
			AND ledger >= $2
		ORDER BY ledger DESC, uid ASC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, filter.Deployer, filter.FromLedger, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	var schemas []models.Schema
	for rows.Next() {
		var s models.Schema
		if err := rows.Scan(
			&s.UID, &s.Ledger, &s.SchemaDefinition, &s.ParsedSchemaDefinition,
			&s.ResolverAddress, &s.Revocable, &s.DeployerAddress, &s.Type,
			&s.TransactionHash, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schemas: %w", err)
	}
	return schemas, nil
}

// CountSchemas returns the number of schemas matching the filter.
func (r *PostgresRepository) CountSchemas(ctx context.Context, filter models.SchemaFilter) (int, error) {
	query := `
		SELECT COUNT(*) FROM schemas
		WHERE ($1 = '' OR deployer_address = $1) AND ledger >= $2
	`

	var total int
	if err := r.db.QueryRow(ctx, query, filter.Deployer, filter.FromLedger).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count schemas: %w", err)
	}
	return total, nil
}

// ListAttestations lists attestations matching the filter, newest first.
func (r *PostgresRepository) ListAttestations(ctx context.Context, filter models.AttestationFilter) ([]models.Attestation, error) {
	query := `
		SELECT attestation_uid, ledger, schema_uid, attester_address, COALESCE(subject_address, ''),
			transaction_hash, COALESCE(message, ''), COALESCE(value, ''), revoked, revoked_at, created_at
		FROM attestations
		WHERE ($1 = '' OR schema_uid = $1)
			AND ($2 = '' OR attester_address = $2)
			AND ($3 = '' OR subject_address = $3)
			AND ($4::boolean IS NULL OR revoked = $4)
		ORDER BY ledger DESC, attestation_uid ASC
		LIMIT $5 OFFSET $6
	`

	rows, err := r.db.Query(ctx, query,
		filter.SchemaUID, filter.Attester, filter.Subject, filter.Revoked, filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}
	defer rows.Close()

	var attestations []models.Attestation
	for rows.Next() {
		var a models.Attestation
		if err := rows.Scan(
			&a.AttestationUID, &a.Ledger, &a.SchemaUID, &a.AttesterAddress, &a.SubjectAddress,
			&a.TransactionHash, &a.Message, &a.Value, &a.Revoked, &a.RevokedAt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attestation: %w", err)
		}
		attestations = append(attestations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attestations: %w", err)
	}
	return attestations, nil
}

// CountAttestations returns the number of attestations matching the filter.
func (r *PostgresRepository) CountAttestations(ctx context.Context, filter models.AttestationFilter) (int, error) {
	query := `
		SELECT COUNT(*) FROM attestations
		WHERE ($1 = '' OR schema_uid = $1)
			AND ($2 = '' OR attester_address = $2)
			AND ($3 = '' OR subject_address = $3)
			AND ($4::boolean IS NULL OR revoked = $4)
	`

	var total int
	err := r.db.QueryRow(ctx, query,
		filter.SchemaUID, filter.Attester, filter.Subject, filter.Revoked,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count attestations: %w", err)
	}
	return total, nil
}

// ListTransactionsMissingOperations returns hashes of stored transactions
// that have no operations rows yet. Used by the operations repair job.
func (r *PostgresRepository) ListTransactionsMissingOperations(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT t.hash FROM transactions t
		LEFT JOIN operations o ON o.tx_hash = t.hash
		WHERE o.id IS NULL
		ORDER BY t.ledger ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions missing operations: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan hash: %w", err)
		}
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hashes: %w", err)
	}
	return hashes, nil
}

// GetCheckpoint reads the last processed ledger; 0 when nothing has been
// processed yet.
func (r *PostgresRepository) GetCheckpoint(ctx context.Context) (uint32, error) {
	query := `SELECT value FROM indexer_metadata WHERE key = $1`

	var value string
	err := r.db.QueryRow(ctx, query, checkpointKey).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var ledger uint32
	if _, err := fmt.Sscanf(value, "%d", &ledger); err != nil {
		return 0, fmt.Errorf("malformed checkpoint value %q: %w", value, err)
	}
	return ledger, nil
}

// SetCheckpoint advances the watermark. GREATEST in the upsert makes the
// checkpoint monotonic even under a racing write.
func (r *PostgresRepository) SetCheckpoint(ctx context.Context, ledger uint32) error {
	query := `
		INSERT INTO indexer_metadata (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET value = GREATEST(indexer_metadata.value::bigint, EXCLUDED.value::bigint)::text
	`

	if _, err := r.db.Exec(ctx, query, checkpointKey, fmt.Sprintf("%d", ledger)); err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
