package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"attest-indexer/internal/decoder"
	"attest-indexer/internal/metrics"
	"attest-indexer/internal/models"
	"attest-indexer/internal/projector"
	"attest-indexer/internal/rpc"
	"attest-indexer/internal/storage"

	"github.com/stellar/stellar-rpc/protocol"
)

const (
	// maxIterations is the safety cap on RPC pages per run. Hitting it is a
	// fatal abort for the run, not a normal exit.
	maxIterations = 1000

	// maxStalledPages is how many consecutive empty pages with an unchanged
	// cursor we tolerate before declaring the backend stalled.
	maxStalledPages = 3

	// defaultPageLimit is the event page size requested from the RPC.
	defaultPageLimit = 100
)

// Result reports what one fetch run accomplished.
type Result struct {
	EventsFetched       int
	ProcessedUpToLedger uint32
	LastRPCLedger       uint32

	// CaughtUp means the fetcher is waiting for the chain tip to advance;
	// the queue widens the requeue delay when it sees this.
	CaughtUp bool
}

// Fetcher drives the RPC client across a cursor-paginated window, flushing
// decoded batches and advancing the persisted checkpoint.
type Fetcher struct {
	client          rpc.LedgerClient
	repo            storage.Repository
	dec             *decoder.Decoder
	proj            *projector.Projector
	contractIDs     []string
	lookbackLedgers uint32
	includeFailedTx bool
	pageLimit       uint
}

func New(client rpc.LedgerClient, repo storage.Repository, contractIDs []string, lookbackLedgers uint32, includeFailedTx bool) *Fetcher {
	return &Fetcher{
		client:          client,
		repo:            repo,
		dec:             decoder.New(),
		proj:            projector.New(repo),
		contractIDs:     contractIDs,
		lookbackLedgers: lookbackLedgers,
		includeFailedTx: includeFailedTx,
		pageLimit:       defaultPageLimit,
	}
}

// FetchAndStore ingests events from startLedger (or the resumed position)
// up to the currently available range. Each RPC page is flushed in one
// storage transaction, then the checkpoint advances to the highest ledger
// seen. A crash between flush and checkpoint causes idempotent
// re-processing, not loss.
func (f *Fetcher) FetchAndStore(ctx context.Context, startLedger *uint32) (Result, error) {
	var result Result

	if len(f.contractIDs) == 0 {
		return result, fmt.Errorf("no contract IDs configured")
	}

	tip, err := f.client.GetLatestLedger(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to get latest ledger: %w", err)
	}
	result.LastRPCLedger = tip
	metrics.LatestRPCLedger.Set(float64(tip))

	checkpoint, err := f.repo.GetCheckpoint(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	result.ProcessedUpToLedger = checkpoint

	start := f.resolveStart(startLedger, checkpoint, tip)

	// Already ahead of the tip: nothing to do, checkpoint untouched.
	if start > tip {
		slog.Debug("Start ledger ahead of chain tip, waiting",
			"start", start,
			"tip", tip,
		)
		result.CaughtUp = true
		return result, nil
	}

	slog.Info("Fetching ledger events",
		"start_ledger", start,
		"chain_tip", tip,
		"contracts", len(f.contractIDs),
	)

	cursor := ""
	stalledPages := 0
	txCache := make(map[string]*models.Transaction)

	iteration := 0
	for ; iteration < maxIterations; iteration++ {
		req := protocol.GetEventsRequest{
			Filters: []protocol.EventFilter{
				{ContractIDs: f.contractIDs},
			},
			Pagination: &protocol.PaginationOptions{Limit: f.pageLimit},
		}
		if cursor != "" {
			parsed, err := protocol.ParseCursor(cursor)
			if err != nil {
				return result, fmt.Errorf("malformed pagination cursor %q: %w", cursor, err)
			}
			req.Pagination.Cursor = &parsed
		} else {
			req.StartLedger = start
		}

		resp, err := f.client.GetEvents(ctx, req)
		if err != nil {
			return result, fmt.Errorf("failed to get events: %w", err)
		}
		if lastRPC := uint32(resp.LatestLedger); lastRPC > 0 {
			result.LastRPCLedger = lastRPC
		}

		if len(resp.Events) == 0 {
			if resp.Cursor == "" {
				// End of the currently available range.
				break
			}
			if resp.Cursor == cursor {
				stalledPages++
				if stalledPages >= maxStalledPages {
					slog.Warn("RPC cursor stalled, giving up on this run",
						"cursor", cursor,
						"empty_pages", stalledPages,
					)
					break
				}
			} else {
				stalledPages = 0
			}
			cursor = resp.Cursor
			continue
		}
		stalledPages = 0

		flushed, maxLedger, err := f.flushPage(ctx, resp.Events, txCache)
		if err != nil {
			return result, err
		}
		result.EventsFetched += flushed

		if maxLedger > result.ProcessedUpToLedger {
			if err := f.repo.SetCheckpoint(ctx, maxLedger); err != nil {
				return result, fmt.Errorf("failed to advance checkpoint: %w", err)
			}
			result.ProcessedUpToLedger = maxLedger
			metrics.CheckpointLedger.Set(float64(maxLedger))
		}

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	if iteration >= maxIterations {
		return result, fmt.Errorf("aborting run: iteration cap %d reached without draining the event range", maxIterations)
	}

	result.CaughtUp = result.EventsFetched == 0 || result.ProcessedUpToLedger >= result.LastRPCLedger

	slog.Info("Fetch run complete",
		"events", result.EventsFetched,
		"processed_up_to", result.ProcessedUpToLedger,
		"rpc_tip", result.LastRPCLedger,
		"caught_up", result.CaughtUp,
	)
	return result, nil
}

// resolveStart picks the first ledger of the window: explicit argument,
// else checkpoint + 1, else a bounded lookback from the tip.
func (f *Fetcher) resolveStart(startLedger *uint32, checkpoint, tip uint32) uint32 {
	if startLedger != nil && *startLedger > 0 {
		return *startLedger
	}
	if checkpoint > 0 {
		return checkpoint + 1
	}
	if tip > f.lookbackLedgers {
		return tip - f.lookbackLedgers
	}
	return 1
}

// flushPage decodes one RPC page and commits it in a single storage
// transaction: transactions land before the events that reference them.
// A persistence error rolls the whole page back; the checkpoint is not
// advanced, so the page is retried on the next run.
func (f *Fetcher) flushPage(ctx context.Context, events []protocol.EventInfo, txCache map[string]*models.Transaction) (int, uint32, error) {
	type entry struct {
		decoded *models.DecodedEvent
		txn     *models.Transaction
	}

	var batch []entry
	var maxLedger uint32

	for _, raw := range events {
		if !raw.InSuccessfulContractCall && !f.includeFailedTx {
			continue
		}

		decoded, err := f.dec.Decode(raw)
		if err != nil {
			slog.Warn("Skipping undecodable event",
				"event_id", raw.ID,
				"error", err,
			)
			metrics.EventsSkipped.Inc()
			continue
		}

		txn, err := f.lookupTransaction(ctx, decoded.TransactionHash, txCache)
		if err != nil {
			return 0, 0, err
		}

		// Attest-create events need fields only present in the invoking
		// operation's call parameters.
		if data, ok := decoded.Data.(models.AttestCreateData); ok && txn != nil && txn.Envelope != "" {
			if ops, opErr := decoder.DecodeOperations(txn.Envelope, txn.Hash); opErr == nil {
				decoded.Data = decoder.EnrichAttestCreate(data, ops)
			}
		}

		batch = append(batch, entry{decoded: decoded, txn: txn})
		if decoded.Ledger > maxLedger {
			maxLedger = decoded.Ledger
		}
	}

	if len(batch) == 0 {
		return 0, maxLedger, nil
	}

	flushStart := time.Now()
	err := f.repo.WithTx(ctx, func(r storage.Repository) error {
		proj := f.proj.WithRepository(r)
		for _, e := range batch {
			if err := proj.Project(ctx, e.decoded, e.txn); err != nil {
				return err
			}
		}
		return nil
	})
	metrics.BatchFlushDuration.Observe(time.Since(flushStart).Seconds())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("fetcher").Inc()
		return 0, 0, fmt.Errorf("failed to flush batch: %w", err)
	}

	metrics.EventsFetched.Add(float64(len(batch)))
	return len(batch), maxLedger, nil
}

// lookupTransaction fetches transaction detail once per hash per run.
func (f *Fetcher) lookupTransaction(ctx context.Context, hash string, cache map[string]*models.Transaction) (*models.Transaction, error) {
	if hash == "" {
		return nil, nil
	}
	if txn, ok := cache[hash]; ok {
		return txn, nil
	}

	resp, err := f.client.GetTransaction(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash, err)
	}

	txn := decoder.DecodeTransaction(hash, resp)
	cache[hash] = txn
	return txn, nil
}
