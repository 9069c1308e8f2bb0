package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"attest-indexer/internal/queue"
	"attest-indexer/internal/rpc"
	"attest-indexer/internal/storage"
)

// Server represents the HTTP API server. It only ever talks to the queue
// (enqueue, status) and the repository (reads); never to the fetcher
// directly.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	repository storage.Repository
	queue      *queue.Queue
	rpcClient  rpc.LedgerClient
	port       int
}

// NewServer creates a new API server instance.
func NewServer(port int, repository storage.Repository, q *queue.Queue, rpcClient rpc.LedgerClient) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		mux:        mux,
		repository: repository,
		queue:      q,
		rpcClient:  rpcClient,
		port:       port,
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up all HTTP routes
func (s *Server) registerRoutes() {
	// Core endpoints
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.handleMetrics())

	// Ingestion control
	s.mux.HandleFunc("/ingest/events", s.handleEnqueueFetch)
	s.mux.HandleFunc("/ingest/backfill", s.handleEnqueueBackfill)
	s.mux.HandleFunc("/queue/status", s.handleQueueStatus)

	// Registry reads
	s.mux.HandleFunc("/schemas", s.handleSchemas)
	s.mux.HandleFunc("/schemas/", s.handleSchemaRoutes)
	s.mux.HandleFunc("/attestations", s.handleAttestations)
	s.mux.HandleFunc("/attestations/", s.handleAttestationRoutes)
}

// handleSchemaRoutes routes GET /schemas/{uid}
func (s *Server) handleSchemaRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uid := strings.TrimPrefix(r.URL.Path, "/schemas/")
	if uid == "" || strings.Contains(uid, "/") {
		s.sendError(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	s.handleGetSchema(w, r, uid)
}

// handleAttestationRoutes routes GET /attestations/{uid}
func (s *Server) handleAttestationRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uid := strings.TrimPrefix(r.URL.Path, "/attestations/")
	if uid == "" || strings.Contains(uid, "/") {
		s.sendError(w, "Endpoint not found", http.StatusNotFound)
		return
	}
	s.handleGetAttestation(w, r, uid)
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		slog.Info("API server starting",
			"port", s.port,
			"endpoints", []string{"/", "/health", "/metrics", "/ingest/events", "/queue/status"},
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down...")
	return s.httpServer.Shutdown(ctx)
}
