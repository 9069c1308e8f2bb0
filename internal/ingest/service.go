package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"attest-indexer/internal/backfill"
	"attest-indexer/internal/decoder"
	"attest-indexer/internal/fetcher"
	"attest-indexer/internal/metrics"
	"attest-indexer/internal/queue"
	"attest-indexer/internal/rpc"
	"attest-indexer/internal/storage"
)

// operationsBatchSize bounds one operations-repair run.
const operationsBatchSize = 100

// Service owns the ingestion components and exposes them as job handlers.
// The HTTP layer only ever talks to the queue; jobs are the sole way these
// components run.
type Service struct {
	fetcher    *fetcher.Fetcher
	backfiller *backfill.Controller
	client     rpc.LedgerClient
	repo       storage.Repository
}

func NewService(client rpc.LedgerClient, repo storage.Repository, contractIDs []string, lookbackLedgers uint32, includeFailedTx bool) *Service {
	return &Service{
		fetcher:    fetcher.New(client, repo, contractIDs, lookbackLedgers, includeFailedTx),
		backfiller: backfill.New(client, repo, contractIDs, includeFailedTx),
		client:     client,
		repo:       repo,
	}
}

// Register wires every job type to its handler.
func (s *Service) Register(q *queue.Queue) {
	q.Handle(queue.JobFetchEvents, s.handleFetchEvents)
	q.Handle(queue.JobFetchRecurring, s.handleFetchEvents)
	q.Handle(queue.JobFetchOperations, s.handleRepairOperations)
	q.Handle(queue.JobBackfillOperations, s.handleRepairOperations)
}

// handleFetchEvents runs one fetch cycle. A bounded window (EndLedger set)
// goes through the backfill controller, which trades the transactional
// batch flush for per-entity upserts and partial-failure tolerance.
func (s *Service) handleFetchEvents(ctx context.Context, job *queue.Job) (queue.Result, error) {
	if job.Payload.EndLedger != nil {
		res, err := s.backfiller.PerformBackfill(ctx, job.Payload.StartLedger, job.Payload.EndLedger)
		if err != nil {
			return queue.Result{ProcessedUpToLedger: res.ProcessedUpToLedger}, err
		}
		if len(res.Errors) > 0 {
			slog.Warn("Backfill finished with partial failures",
				"job_id", job.ID,
				"errors", len(res.Errors),
			)
		}
		return queue.Result{
			ProcessedUpToLedger: res.ProcessedUpToLedger,
			Done:                res.ProcessedUpToLedger >= *job.Payload.EndLedger,
		}, nil
	}

	res, err := s.fetcher.FetchAndStore(ctx, job.Payload.StartLedger)
	if err != nil {
		return queue.Result{ProcessedUpToLedger: res.ProcessedUpToLedger}, err
	}
	return queue.Result{
		ProcessedUpToLedger: res.ProcessedUpToLedger,
		CaughtUp:            res.CaughtUp,
	}, nil
}

// handleRepairOperations finds stored transactions without operations rows
// and fills them in from their envelopes. One bounded batch per run; the
// caller re-enqueues for more.
func (s *Service) handleRepairOperations(ctx context.Context, job *queue.Job) (queue.Result, error) {
	hashes, err := s.repo.ListTransactionsMissingOperations(ctx, operationsBatchSize)
	if err != nil {
		return queue.Result{}, fmt.Errorf("failed to list transactions missing operations: %w", err)
	}
	if len(hashes) == 0 {
		return queue.Result{Done: true}, nil
	}

	repaired := 0
	for _, hash := range hashes {
		txn, err := s.repo.GetTransaction(ctx, hash)
		if err != nil {
			return queue.Result{}, err
		}

		envelope := txn.Envelope
		if envelope == "" {
			resp, err := s.client.GetTransaction(ctx, hash)
			if err != nil {
				return queue.Result{}, err
			}
			envelope = resp.EnvelopeXDR
		}
		if envelope == "" {
			continue
		}

		ops, err := decoder.DecodeOperations(envelope, hash)
		if err != nil {
			slog.Warn("Skipping transaction with undecodable envelope",
				"tx_hash", hash,
				"error", err,
			)
			continue
		}
		for i := range ops {
			if err := s.repo.UpsertOperation(ctx, &ops[i]); err != nil {
				return queue.Result{}, err
			}
			metrics.OperationsStored.Inc()
		}
		repaired++
	}

	slog.Info("Operations repair batch complete",
		"job_id", job.ID,
		"transactions", repaired,
	)
	return queue.Result{Done: len(hashes) < operationsBatchSize}, nil
}
