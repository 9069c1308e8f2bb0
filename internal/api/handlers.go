package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"attest-indexer/internal/models"
	"attest-indexer/internal/queue"
	"attest-indexer/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]interface{}{
		"service":     "Attestation Registry Indexer",
		"version":     "1.0.0",
		"description": "Ingests schema and attestation events from the ledger into a queryable registry",
		"endpoints": map[string]string{
			"GET /":                    "This page - Service information",
			"GET /health":              "Health check endpoint",
			"GET /metrics":             "Prometheus metrics for monitoring",
			"POST /ingest/events":      "Enqueue a fetch job ({startLedger?})",
			"POST /ingest/backfill":    "Enqueue a bounded backfill job ({startLedger, endLedger?})",
			"GET /queue/status":        "Ingestion queue snapshot",
			"GET /schemas":             "List schemas (supports ?deployer=, ?limit=, ?offset=)",
			"GET /schemas/{uid}":       "Get one schema",
			"GET /attestations":        "List attestations (supports ?schemaUid=, ?attester=, ?subject=, ?revoked=, ?limit=, ?offset=)",
			"GET /attestations/{uid}":  "Get one attestation",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// handleHealth reports process, database and upstream RPC health
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := models.HealthResponse{Status: "healthy"}
	healthy := true

	if err := s.repository.Ping(ctx); err != nil {
		resp.DatabaseStatus = "unreachable"
		healthy = false
	} else {
		resp.DatabaseStatus = "connected"
		if checkpoint, err := s.repository.GetCheckpoint(ctx); err == nil {
			resp.LastProcessedLedgerInDB = checkpoint
		}
	}

	if health, err := s.rpcClient.GetHealth(ctx); err != nil {
		resp.RPCStatus = "unreachable"
		healthy = false
	} else {
		resp.RPCStatus = health.Status
		resp.LatestRPCLedger = health.LatestLedger
	}

	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusInternalServerError
	}

	s.sendJSON(w, resp, status)
}

// handleMetrics returns Prometheus metrics
// GET /metrics - Prometheus scraping endpoint
func (s *Server) handleMetrics() http.Handler {
	return promhttp.Handler()
}

// =============================================================================
// INGESTION CONTROL
// =============================================================================

// enqueueRequest is the body of both enqueue endpoints. Ledger fields accept
// JSON numbers or numeric strings; anything else is a 400.
type enqueueRequest struct {
	StartLedger json.RawMessage `json:"startLedger"`
	EndLedger   json.RawMessage `json:"endLedger"`
}

// handleEnqueueFetch enqueues a perpetual fetch job
// POST /ingest/events {startLedger?}
func (s *Server) handleEnqueueFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.storageAvailable(r) {
		s.sendError(w, "Persistence unavailable", http.StatusServiceUnavailable)
		return
	}

	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	startLedger, err := parseLedger(req.StartLedger)
	if err != nil {
		s.sendError(w, "startLedger must be numeric", http.StatusBadRequest)
		return
	}

	jobID := s.queue.Enqueue(queue.JobFetchEvents, queue.Payload{StartLedger: startLedger})

	s.sendJSON(w, models.EnqueueResponse{Success: true, JobID: jobID}, http.StatusAccepted)
}

// handleEnqueueBackfill enqueues a bounded backfill job
// POST /ingest/backfill {startLedger, endLedger?}
func (s *Server) handleEnqueueBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.storageAvailable(r) {
		s.sendError(w, "Persistence unavailable", http.StatusServiceUnavailable)
		return
	}

	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	startLedger, err := parseLedger(req.StartLedger)
	if err != nil {
		s.sendError(w, "startLedger must be numeric", http.StatusBadRequest)
		return
	}
	if startLedger == nil {
		s.sendError(w, "startLedger is required", http.StatusBadRequest)
		return
	}

	endLedger, err := parseLedger(req.EndLedger)
	if err != nil {
		s.sendError(w, "endLedger must be numeric", http.StatusBadRequest)
		return
	}
	if endLedger == nil {
		// An open-ended backfill runs to the chain tip known at execution.
		tip := uint32(0)
		if latest, rpcErr := s.rpcClient.GetLatestLedger(r.Context()); rpcErr == nil {
			tip = latest
		}
		if tip == 0 {
			s.sendError(w, "endLedger is required while RPC is unreachable", http.StatusBadRequest)
			return
		}
		endLedger = &tip
	}

	jobID := s.queue.Enqueue(queue.JobFetchEvents, queue.Payload{
		StartLedger: startLedger,
		EndLedger:   endLedger,
	})

	s.sendJSON(w, models.EnqueueResponse{
		Success: true,
		JobID:   jobID,
		Message: "backfill enqueued",
	}, http.StatusAccepted)
}

// handleQueueStatus returns a queue snapshot
// GET /queue/status
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.sendJSON(w, models.QueueStatusResponse{
		Success: true,
		Queue:   s.queue.Status(),
	}, http.StatusOK)
}

// =============================================================================
// REGISTRY READS
// =============================================================================

// handleSchemas lists schemas
// GET /schemas?deployer=GXXX...&limit=50&offset=0
func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	limit, offset := parsePagination(r)
	filter := models.SchemaFilter{
		Deployer: r.URL.Query().Get("deployer"),
		Limit:    limit,
		Offset:   offset,
	}

	total, err := s.repository.CountSchemas(ctx, filter)
	if err != nil {
		slog.Error("Failed to count schemas", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	schemas, err := s.repository.ListSchemas(ctx, filter)
	if err != nil {
		slog.Error("Failed to list schemas", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, models.SchemaListResponse{
		Schemas: schemas,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}, http.StatusOK)
}

// handleGetSchema returns one schema by uid
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request, uid string) {
	schema, err := s.repository.GetSchema(r.Context(), uid)
	if err != nil {
		var notFound *storage.NotFoundError
		if errors.As(err, &notFound) {
			s.sendError(w, "Schema not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get schema", "uid", uid, "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, schema, http.StatusOK)
}

// handleAttestations lists attestations
// GET /attestations?schemaUid=...&attester=...&revoked=true&limit=50&offset=0
func (s *Server) handleAttestations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	limit, offset := parsePagination(r)
	filter := models.AttestationFilter{
		SchemaUID: r.URL.Query().Get("schemaUid"),
		Attester:  r.URL.Query().Get("attester"),
		Subject:   r.URL.Query().Get("subject"),
		Limit:     limit,
		Offset:    offset,
	}
	if revokedStr := r.URL.Query().Get("revoked"); revokedStr != "" {
		revoked, err := strconv.ParseBool(revokedStr)
		if err != nil {
			s.sendError(w, "revoked must be a boolean", http.StatusBadRequest)
			return
		}
		filter.Revoked = &revoked
	}

	total, err := s.repository.CountAttestations(ctx, filter)
	if err != nil {
		slog.Error("Failed to count attestations", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	attestations, err := s.repository.ListAttestations(ctx, filter)
	if err != nil {
		slog.Error("Failed to list attestations", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, models.AttestationListResponse{
		Attestations: attestations,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, http.StatusOK)
}

// handleGetAttestation returns one attestation by uid
func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request, uid string) {
	att, err := s.repository.GetAttestation(r.Context(), uid)
	if err != nil {
		var notFound *storage.NotFoundError
		if errors.As(err, &notFound) {
			s.sendError(w, "Attestation not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to get attestation", "uid", uid, "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, att, http.StatusOK)
}

// storageAvailable pings the repository with a short deadline before
// accepting async work.
func (s *Server) storageAvailable(r *http.Request) bool {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	return s.repository.Ping(ctx) == nil
}
