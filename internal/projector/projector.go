package projector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"attest-indexer/internal/decoder"
	"attest-indexer/internal/metrics"
	"attest-indexer/internal/models"
	"attest-indexer/internal/storage"
)

// Projector turns decoded events into registry records. Every write is an
// upsert, so projecting the same event twice is a no-op.
type Projector struct {
	repo storage.Repository
}

func New(repo storage.Repository) *Projector {
	return &Projector{repo: repo}
}

// WithRepository returns a copy bound to another repository. The fetcher
// uses this to project inside a flush transaction.
func (p *Projector) WithRepository(repo storage.Repository) *Projector {
	return &Projector{repo: repo}
}

// Project writes the registry records for one decoded event. The enclosing
// transaction (if any) guarantees the Transaction row lands before anything
// referencing its hash; Project preserves that order for callers without one.
func (p *Projector) Project(ctx context.Context, ev *models.DecodedEvent, txn *models.Transaction) error {
	if txn != nil {
		if err := p.repo.UpsertTransaction(ctx, txn); err != nil {
			return fmt.Errorf("transaction %s: %w", txn.Hash, err)
		}
		metrics.TransactionsStored.Inc()
	}

	family := models.FamilyOther
	if ev.Data != nil {
		family = ev.Data.Family()
	}

	switch data := ev.Data.(type) {
	case models.SchemaRegisterData:
		if err := p.projectSchema(ctx, ev, data); err != nil {
			return err
		}
	case models.AttestCreateData:
		if err := p.projectAttestation(ctx, ev, data); err != nil {
			return err
		}
	case models.AttestRevokeData:
		if err := p.projectRevocation(ctx, ev, data); err != nil {
			return err
		}
	case models.BLSKeyRegisterData:
		// Key registrations only land in the audit rollup.
		slog.Debug("BLS key registration observed",
			"attester", data.AttesterAddress,
			"event_id", ev.EventID,
		)
	}

	sourceAccount := ""
	if txn != nil {
		sourceAccount = txn.SourceAccount
	}
	action := &models.RegistryAction{
		EventID:         ev.EventID,
		Action:          string(family),
		TransactionHash: ev.TransactionHash,
		SourceAccount:   sourceAccount,
		ContractID:      ev.ContractID,
		Ledger:          ev.Ledger,
		Metadata:        ev.Raw,
	}
	if err := p.repo.UpsertRegistryAction(ctx, action); err != nil {
		return fmt.Errorf("registry action %s: %w", ev.EventID, err)
	}

	metrics.EventsProjected.WithLabelValues(string(family)).Inc()
	return nil
}

func (p *Projector) projectSchema(ctx context.Context, ev *models.DecodedEvent, data models.SchemaRegisterData) error {
	if data.UID == "" {
		return fmt.Errorf("schema-register event %s has no uid", ev.EventID)
	}

	schema := &models.Schema{
		UID:              data.UID,
		Ledger:           ev.Ledger,
		SchemaDefinition: data.SchemaDefinition,
		ResolverAddress:  data.ResolverAddress,
		Revocable:        data.Revocable,
		DeployerAddress:  data.DeployerAddress,
		Type:             "default",
		TransactionHash:  ev.TransactionHash,
		CreatedAt:        ev.Timestamp,
	}
	if err := p.repo.UpsertSchema(ctx, schema); err != nil {
		return fmt.Errorf("schema %s: %w", data.UID, err)
	}
	return nil
}

func (p *Projector) projectAttestation(ctx context.Context, ev *models.DecodedEvent, data models.AttestCreateData) error {
	if data.AttestationUID == "" {
		return fmt.Errorf("attest-create event %s has no uid", ev.EventID)
	}

	att := &models.Attestation{
		AttestationUID:  data.AttestationUID,
		Ledger:          ev.Ledger,
		SchemaUID:       data.SchemaUID,
		AttesterAddress: data.AttesterAddress,
		SubjectAddress:  data.SubjectAddress,
		TransactionHash: ev.TransactionHash,
		Message:         data.Message,
		Value:           data.Value,
		Revoked:         false,
		CreatedAt:       ev.Timestamp,
	}
	if err := p.repo.UpsertAttestation(ctx, att); err != nil {
		return fmt.Errorf("attestation %s: %w", data.AttestationUID, err)
	}
	return nil
}

func (p *Projector) projectRevocation(ctx context.Context, ev *models.DecodedEvent, data models.AttestRevokeData) error {
	if data.AttestationUID == "" {
		return fmt.Errorf("attest-revoke event %s has no uid", ev.EventID)
	}
	if err := p.repo.RevokeAttestation(ctx, data.AttestationUID, data.RevokedAt); err != nil {
		return fmt.Errorf("revoke attestation %s: %w", data.AttestationUID, err)
	}
	return nil
}

// dependency rank: schemas land before the attestations that reference them,
// attestations before everything else. Referential integrity across these
// tables is cooperative, not database-enforced.
func familyRank(ev *models.DecodedEvent) int {
	switch decoder.Classify(ev.EventType) {
	case models.FamilySchemaRegister:
		return 0
	case models.FamilyAttestCreate, models.FamilyAttestRevoke:
		return 1
	default:
		return 2
	}
}

// SortByDependency stably reorders one batch of events so that records are
// written in entity-dependency order. Only the backfill path needs this;
// the transactional fetcher flush commits a page atomically.
func SortByDependency(events []*models.DecodedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return familyRank(events[i]) < familyRank(events[j])
	})
}
