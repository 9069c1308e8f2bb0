package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"attest-indexer/internal/metrics"

	"github.com/stellar/stellar-rpc/client"
	"github.com/stellar/stellar-rpc/protocol"
)

// callTimeout bounds each upstream call. The job queue owns retries; the
// client only tags failures so the queue can tell transient from fatal.
const callTimeout = 30 * time.Second

// LedgerClient is the surface of the upstream RPC endpoint the ingestion
// core consumes. Implemented by Client; mocked in tests.
type LedgerClient interface {
	GetLatestLedger(ctx context.Context) (uint32, error)
	GetEvents(ctx context.Context, req protocol.GetEventsRequest) (protocol.GetEventsResponse, error)
	GetTransaction(ctx context.Context, hash string) (protocol.GetTransactionResponse, error)
	GetHealth(ctx context.Context) (protocol.GetHealthResponse, error)
}

// Client wraps the stellar-rpc client with timeouts and metrics.
type Client struct {
	rpc *client.Client
}

// NewClient creates a Client against the given RPC endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		rpc: client.NewClient(endpoint, &http.Client{Timeout: callTimeout}),
	}
}

// GetLatestLedger returns the current chain tip sequence.
func (c *Client) GetLatestLedger(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.GetLatestLedger(ctx)
	metrics.RPCRequestDuration.WithLabelValues("getLatestLedger").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, &TransientError{Op: "getLatestLedger", Err: err}
	}
	return resp.Sequence, nil
}

// GetEvents fetches one page of contract events by start ledger or cursor.
func (c *Client) GetEvents(ctx context.Context, req protocol.GetEventsRequest) (protocol.GetEventsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.GetEvents(ctx, req)
	metrics.RPCRequestDuration.WithLabelValues("getEvents").Observe(time.Since(start).Seconds())
	if err != nil {
		return resp, &TransientError{Op: "getEvents", Err: err}
	}
	return resp, nil
}

// GetTransaction fetches transaction detail by hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (protocol.GetTransactionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.GetTransaction(ctx, protocol.GetTransactionRequest{Hash: hash})
	metrics.RPCRequestDuration.WithLabelValues("getTransaction").Observe(time.Since(start).Seconds())
	if err != nil {
		return resp, &TransientError{Op: "getTransaction", Err: err}
	}
	return resp, nil
}

// GetHealth reports upstream health, used by the health endpoint.
func (c *Client) GetHealth(ctx context.Context) (protocol.GetHealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return resp, &TransientError{Op: "getHealth", Err: err}
	}
	return resp, nil
}

// TransientError marks an upstream failure as retryable. The job queue
// inspects the error kind instead of string-matching messages.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient reports whether err (or anything it wraps) is a retryable
// upstream failure.
func Transient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
