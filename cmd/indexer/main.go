package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attest-indexer/internal/api"
	"attest-indexer/internal/config"
	"attest-indexer/internal/ingest"
	"attest-indexer/internal/queue"
	"attest-indexer/internal/rpc"
	"attest-indexer/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	fmt.Println("🌟 Starting Attestation Registry Indexer...")

	// 1. Load configuration
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	// 2. Configure logger
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Configuration loaded",
		"rpc_url", cfg.RPCURL,
		"contracts", len(cfg.ContractIDs),
		"log_level", cfg.LogLevel,
	)

	// 3. Initialize database connection (applies schema migrations)
	ctx := context.Background()
	repository, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer repository.Close()
	slog.Info("Database connected successfully")

	// 4. Create the upstream RPC client
	rpcClient := rpc.NewClient(cfg.RPCURL)

	// 5. Build the ingestion queue and register job handlers
	q := queue.New(queue.Options{
		PollInterval: cfg.PollInterval,
		BaseBackoff:  cfg.BaseBackoff,
	})
	q.Subscribe(func(phase queue.Phase, job queue.Job) {
		switch phase {
		case queue.PhaseDead:
			slog.Error("Job dead-lettered",
				"job_id", job.ID,
				"type", job.Type,
				"attempts", job.Attempts,
			)
		case queue.PhaseFailed:
			slog.Warn("Job attempt failed",
				"job_id", job.ID,
				"type", job.Type,
				"attempts", job.Attempts,
			)
		}
	})

	service := ingest.NewService(rpcClient, repository, cfg.ContractIDs, cfg.LookbackLedgers, cfg.IncludeFailedTx)
	service.Register(q)

	// 6. Seed the perpetual fetch job. Its start ledger resolves at run
	// time (checkpoint, then lookback window) unless pinned by config.
	payload := queue.Payload{}
	if cfg.StartLedger > 0 {
		start := cfg.StartLedger
		payload.StartLedger = &start
	}
	jobID := q.Enqueue(queue.JobFetchEvents, payload)
	slog.Info("Perpetual fetch job enqueued", "job_id", jobID)

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	q.Start(shutdownCtx)

	// 7. Start the API server
	server := api.NewServer(cfg.Port, repository, q, rpcClient)
	if err := server.Start(); err != nil {
		log.Fatalf("❌ Failed to start API server: %v", err)
	}

	// 8. Wait for interrupt, then drain
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Warn("Interrupt received, shutting down...")
	cancel()
	q.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := server.Shutdown(stopCtx); err != nil {
		slog.Error("Error stopping API server", "error", err)
	}

	slog.Info("Indexer stopped")
}
