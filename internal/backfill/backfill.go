package backfill

import (
	"context"
	"fmt"
	"log/slog"

	"attest-indexer/internal/decoder"
	"attest-indexer/internal/metrics"
	"attest-indexer/internal/models"
	"attest-indexer/internal/projector"
	"attest-indexer/internal/rpc"
	"attest-indexer/internal/storage"

	"github.com/stellar/stellar-rpc/protocol"
)

const (
	// maxPages bounds worst-case runtime of one invocation; callers
	// re-invoke for longer ranges.
	maxPages = 50

	defaultPageLimit = 100
)

// Result reports partial progress: a backfill run never hides what it did
// manage to process behind an error.
type Result struct {
	EventsProcessed       int
	TransactionsProcessed int
	OperationsProcessed   int
	ProcessedUpToLedger   uint32
	Errors                []string
}

// Controller is the bounded-range historical variant of the fetcher. It
// upserts one entity at a time instead of batching rows into a long-lived
// database transaction, and collects per-event failures instead of
// aborting.
type Controller struct {
	client          rpc.LedgerClient
	repo            storage.Repository
	dec             *decoder.Decoder
	proj            *projector.Projector
	contractIDs     []string
	includeFailedTx bool
	pageLimit       uint
}

func New(client rpc.LedgerClient, repo storage.Repository, contractIDs []string, includeFailedTx bool) *Controller {
	return &Controller{
		client:          client,
		repo:            repo,
		dec:             decoder.New(),
		proj:            projector.New(repo),
		contractIDs:     contractIDs,
		includeFailedTx: includeFailedTx,
		pageLimit:       defaultPageLimit,
	}
}

// PerformBackfill ingests the bounded ledger range [startLedger, endLedger].
// Within each fetched page, events are reordered by entity dependency so a
// schema observed in the same page lands before the attestations that
// reference it.
func (c *Controller) PerformBackfill(ctx context.Context, startLedger, endLedger *uint32) (Result, error) {
	var result Result

	if len(c.contractIDs) == 0 {
		return result, fmt.Errorf("no contract IDs configured")
	}

	start := uint32(1)
	if startLedger != nil && *startLedger > 0 {
		start = *startLedger
	}

	var end uint32
	if endLedger != nil {
		end = *endLedger
		if end < start {
			return result, fmt.Errorf("endLedger %d precedes startLedger %d", end, start)
		}
	}

	slog.Info("Starting backfill",
		"start_ledger", start,
		"end_ledger", end,
	)

	cursor := ""
	txCache := make(map[string]*models.Transaction)

	for page := 0; page < maxPages; page++ {
		req := protocol.GetEventsRequest{
			Filters: []protocol.EventFilter{
				{ContractIDs: c.contractIDs},
			},
			Pagination: &protocol.PaginationOptions{Limit: c.pageLimit},
		}
		if cursor != "" {
			parsed, err := protocol.ParseCursor(cursor)
			if err != nil {
				return result, fmt.Errorf("malformed pagination cursor %q: %w", cursor, err)
			}
			req.Pagination.Cursor = &parsed
		} else {
			req.StartLedger = start
			if end > 0 {
				req.EndLedger = end
			}
		}

		resp, err := c.client.GetEvents(ctx, req)
		if err != nil {
			// Report partial progress alongside the failure.
			return result, fmt.Errorf("failed to get events: %w", err)
		}

		// Pages come back in ledger order, so a page starting past the
		// bound means the range is done.
		if end > 0 && len(resp.Events) > 0 && uint32(resp.Events[0].Ledger) > end {
			break
		}

		batch := c.decodePage(resp.Events, end, &result)
		projector.SortByDependency(batch)

		var pageMax uint32
		for _, decoded := range batch {
			if err := c.processEvent(ctx, decoded, txCache, &result); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("event %s: %v", decoded.EventID, err))
				metrics.ErrorsTotal.WithLabelValues("backfill").Inc()
				continue
			}
			result.EventsProcessed++
			if decoded.Ledger > pageMax {
				pageMax = decoded.Ledger
			}
		}

		// Progress is checkpointed after every batch, not every run.
		if pageMax > result.ProcessedUpToLedger {
			if err := c.repo.SetCheckpoint(ctx, pageMax); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("checkpoint: %v", err))
			} else {
				result.ProcessedUpToLedger = pageMax
				metrics.CheckpointLedger.Set(float64(pageMax))
			}
		}

		if resp.Cursor == "" || resp.Cursor == cursor && len(resp.Events) == 0 {
			break
		}
		cursor = resp.Cursor

		if end > 0 && pageMax >= end {
			break
		}
	}

	slog.Info("Backfill complete",
		"events", result.EventsProcessed,
		"transactions", result.TransactionsProcessed,
		"operations", result.OperationsProcessed,
		"processed_up_to", result.ProcessedUpToLedger,
		"errors", len(result.Errors),
	)
	return result, nil
}

// decodePage decodes the raw events of one page, skipping what cannot be
// decoded. Follow-up requests paginate by cursor alone, so a page can
// straddle the end of the range; events past it are dropped here.
func (c *Controller) decodePage(events []protocol.EventInfo, end uint32, result *Result) []*models.DecodedEvent {
	var batch []*models.DecodedEvent
	for _, raw := range events {
		if end > 0 && uint32(raw.Ledger) > end {
			continue
		}
		if !raw.InSuccessfulContractCall && !c.includeFailedTx {
			continue
		}
		decoded, err := c.dec.Decode(raw)
		if err != nil {
			slog.Warn("Skipping undecodable event",
				"event_id", raw.ID,
				"error", err,
			)
			metrics.EventsSkipped.Inc()
			result.Errors = append(result.Errors, fmt.Sprintf("decode %s: %v", raw.ID, err))
			continue
		}
		batch = append(batch, decoded)
	}
	return batch
}

// processEvent handles one event: transaction first (dependency), then the
// projection, then the transaction's operations. Each entity is upserted
// individually to avoid long-lived multi-row transactions over large ranges.
func (c *Controller) processEvent(ctx context.Context, decoded *models.DecodedEvent, txCache map[string]*models.Transaction, result *Result) error {
	var txn *models.Transaction
	if decoded.TransactionHash != "" {
		cached, ok := txCache[decoded.TransactionHash]
		if !ok {
			resp, err := c.client.GetTransaction(ctx, decoded.TransactionHash)
			if err != nil {
				return fmt.Errorf("get transaction: %w", err)
			}
			cached = decoder.DecodeTransaction(decoded.TransactionHash, resp)
			txCache[decoded.TransactionHash] = cached
			result.TransactionsProcessed++
		}
		txn = cached
	}

	var ops []models.Operation
	if txn != nil && txn.Envelope != "" {
		decodedOps, err := decoder.DecodeOperations(txn.Envelope, txn.Hash)
		if err != nil {
			slog.Debug("Could not decode operations",
				"tx_hash", txn.Hash,
				"error", err,
			)
		} else {
			ops = decodedOps
		}
	}

	if data, ok := decoded.Data.(models.AttestCreateData); ok && len(ops) > 0 {
		decoded.Data = decoder.EnrichAttestCreate(data, ops)
	}

	if err := c.proj.Project(ctx, decoded, txn); err != nil {
		return err
	}

	for i := range ops {
		if err := c.repo.UpsertOperation(ctx, &ops[i]); err != nil {
			return fmt.Errorf("operation %s: %w", ops[i].ID, err)
		}
		metrics.OperationsStored.Inc()
		result.OperationsProcessed++
	}

	return nil
}
