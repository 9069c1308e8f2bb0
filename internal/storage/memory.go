package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"attest-indexer/internal/models"
)

// MemoryRepository is a map-backed Repository used in tests and local runs
// without a database. Upsert semantics mirror the Postgres implementation.
type MemoryRepository struct {
	mu sync.Mutex

	Transactions    map[string]*models.Transaction
	Operations      map[string]*models.Operation
	Schemas         map[string]*models.Schema
	Attestations    map[string]*models.Attestation
	RegistryActions map[string]*models.RegistryAction
	Checkpoint      uint32
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		Transactions:    make(map[string]*models.Transaction),
		Operations:      make(map[string]*models.Operation),
		Schemas:         make(map[string]*models.Schema),
		Attestations:    make(map[string]*models.Attestation),
		RegistryActions: make(map[string]*models.RegistryAction),
	}
}

func (m *MemoryRepository) UpsertTransaction(ctx context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.Transactions[t.Hash] = &cp
	return nil
}

func (m *MemoryRepository) UpsertOperation(ctx context.Context, op *models.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *op
	m.Operations[op.ID] = &cp
	return nil
}

func (m *MemoryRepository) UpsertSchema(ctx context.Context, s *models.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.Schemas[s.UID]; ok {
		// Re-registration only refreshes the parsed definition.
		existing.ParsedSchemaDefinition = s.ParsedSchemaDefinition
		now := time.Now()
		existing.UpdatedAt = &now
		return nil
	}
	cp := *s
	m.Schemas[s.UID] = &cp
	return nil
}

func (m *MemoryRepository) UpsertAttestation(ctx context.Context, a *models.Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.Attestations[a.AttestationUID]; ok {
		// Replayed create never resets revocation state or created_at.
		existing.Message = a.Message
		existing.Value = a.Value
		return nil
	}
	cp := *a
	m.Attestations[a.AttestationUID] = &cp
	return nil
}

func (m *MemoryRepository) RevokeAttestation(ctx context.Context, uid string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.Attestations[uid]; ok && !existing.Revoked {
		existing.Revoked = true
		t := revokedAt
		existing.RevokedAt = &t
	}
	return nil
}

func (m *MemoryRepository) UpsertRegistryAction(ctx context.Context, a *models.RegistryAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.RegistryActions[a.EventID]; ok {
		return nil
	}
	cp := *a
	m.RegistryActions[a.EventID] = &cp
	return nil
}

func (m *MemoryRepository) GetTransaction(ctx context.Context, hash string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.Transactions[hash]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, &NotFoundError{Entity: "transaction", Key: hash}
}

func (m *MemoryRepository) GetSchema(ctx context.Context, uid string) (*models.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Schemas[uid]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, &NotFoundError{Entity: "schema", Key: uid}
}

func (m *MemoryRepository) GetAttestation(ctx context.Context, uid string) (*models.Attestation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.Attestations[uid]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, &NotFoundError{Entity: "attestation", Key: uid}
}

func (m *MemoryRepository) ListSchemas(ctx context.Context, filter models.SchemaFilter) ([]models.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Schema
	for _, s := range m.Schemas {
		if filter.Deployer != "" && s.DeployerAddress != filter.Deployer {
			continue
		}
		if s.Ledger < filter.FromLedger {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ledger > out[j].Ledger })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *MemoryRepository) CountSchemas(ctx context.Context, filter models.SchemaFilter) (int, error) {
	schemas, err := m.ListSchemas(ctx, models.SchemaFilter{Deployer: filter.Deployer, FromLedger: filter.FromLedger, Limit: len(m.Schemas), Offset: 0})
	if err != nil {
		return 0, err
	}
	return len(schemas), nil
}

func (m *MemoryRepository) ListAttestations(ctx context.Context, filter models.AttestationFilter) ([]models.Attestation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Attestation
	for _, a := range m.Attestations {
		if filter.SchemaUID != "" && a.SchemaUID != filter.SchemaUID {
			continue
		}
		if filter.Attester != "" && a.AttesterAddress != filter.Attester {
			continue
		}
		if filter.Subject != "" && a.SubjectAddress != filter.Subject {
			continue
		}
		if filter.Revoked != nil && a.Revoked != *filter.Revoked {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ledger > out[j].Ledger })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *MemoryRepository) CountAttestations(ctx context.Context, filter models.AttestationFilter) (int, error) {
	f := filter
	f.Limit = len(m.Attestations)
	f.Offset = 0
	attestations, err := m.ListAttestations(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(attestations), nil
}

func (m *MemoryRepository) ListTransactionsMissingOperations(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	covered := make(map[string]bool)
	for _, op := range m.Operations {
		covered[op.TxHash] = true
	}
	var hashes []string
	for hash := range m.Transactions {
		if !covered[hash] {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	if limit > 0 && len(hashes) > limit {
		hashes = hashes[:limit]
	}
	return hashes, nil
}

func (m *MemoryRepository) GetCheckpoint(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Checkpoint, nil
}

func (m *MemoryRepository) SetCheckpoint(ctx context.Context, ledger uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ledger > m.Checkpoint {
		m.Checkpoint = ledger
	}
	return nil
}

// WithTx is not atomic in the memory implementation; it exists so the
// fetcher's flush path can run unchanged in tests.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	return fn(m)
}

func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
