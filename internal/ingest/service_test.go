package ingest

import (
	"context"
	"testing"

	"attest-indexer/internal/models"
	"attest-indexer/internal/queue"
	"attest-indexer/internal/storage"

	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"
)

const testSource = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"

type mockClient struct {
	latestLedger uint32
	events       []protocol.EventInfo
	txEnvelopes  map[string]string
}

func (m *mockClient) GetLatestLedger(ctx context.Context) (uint32, error) {
	return m.latestLedger, nil
}

func (m *mockClient) GetEvents(ctx context.Context, req protocol.GetEventsRequest) (protocol.GetEventsResponse, error) {
	resp := protocol.GetEventsResponse{Events: m.events}
	m.events = nil
	return resp, nil
}

func (m *mockClient) GetTransaction(ctx context.Context, hash string) (protocol.GetTransactionResponse, error) {
	resp := protocol.GetTransactionResponse{}
	resp.Status = "SUCCESS"
	resp.EnvelopeXDR = m.txEnvelopes[hash]
	return resp, nil
}

func (m *mockClient) GetHealth(ctx context.Context) (protocol.GetHealthResponse, error) {
	return protocol.GetHealthResponse{Status: "healthy"}, nil
}

func invokeEnvelope(t *testing.T) string {
	t.Helper()
	env := xdr.TransactionEnvelope{
		Type: xdr.EnvelopeTypeEnvelopeTypeTx,
		V1: &xdr.TransactionV1Envelope{
			Tx: xdr.Transaction{
				SourceAccount: xdr.MustMuxedAddress(testSource),
				Fee:           100,
				Operations: []xdr.Operation{
					{
						Body: xdr.OperationBody{
							Type: xdr.OperationTypePayment,
							PaymentOp: &xdr.PaymentOp{
								Destination: xdr.MustMuxedAddress(testSource),
								Asset:       xdr.Asset{Type: xdr.AssetTypeAssetTypeNative},
								Amount:      10,
							},
						},
					},
				},
			},
		},
	}
	b64, err := xdr.MarshalBase64(env)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	return b64
}

func TestHandleFetchEvents_UnboundedUsesFetcher(t *testing.T) {
	repo := storage.NewMemoryRepository()
	repo.Checkpoint = 99
	client := &mockClient{latestLedger: 100}

	svc := NewService(client, repo, []string{"CCONTRACT"}, 120, false)
	job := &queue.Job{Type: queue.JobFetchEvents}

	result, err := svc.handleFetchEvents(context.Background(), job)
	if err != nil {
		t.Fatalf("handleFetchEvents failed: %v", err)
	}
	if result.Done {
		t.Error("unbounded fetch must never report Done")
	}
}

func TestHandleFetchEvents_BoundedUsesBackfill(t *testing.T) {
	repo := storage.NewMemoryRepository()
	client := &mockClient{latestLedger: 1000}

	svc := NewService(client, repo, []string{"CCONTRACT"}, 120, false)
	start, end := uint32(10), uint32(20)
	job := &queue.Job{
		Type:    queue.JobFetchEvents,
		Payload: queue.Payload{StartLedger: &start, EndLedger: &end},
	}

	result, err := svc.handleFetchEvents(context.Background(), job)
	if err != nil {
		t.Fatalf("handleFetchEvents failed: %v", err)
	}
	// Empty window: nothing processed, so the window is not Done yet.
	if result.Done {
		t.Error("Done = true with no progress against the window")
	}
}

func TestHandleRepairOperations(t *testing.T) {
	repo := storage.NewMemoryRepository()
	ctx := context.Background()
	envelope := invokeEnvelope(t)

	// t1 has its envelope stored; t2's must be fetched from RPC.
	repo.UpsertTransaction(ctx, &models.Transaction{Hash: "t1", Envelope: envelope})
	repo.UpsertTransaction(ctx, &models.Transaction{Hash: "t2"})

	client := &mockClient{txEnvelopes: map[string]string{"t2": envelope}}
	svc := NewService(client, repo, []string{"CCONTRACT"}, 120, false)

	result, err := svc.handleRepairOperations(ctx, &queue.Job{Type: queue.JobBackfillOperations})
	if err != nil {
		t.Fatalf("handleRepairOperations failed: %v", err)
	}
	if !result.Done {
		t.Error("Done = false; batch under the limit should finish the job")
	}

	if len(repo.Operations) != 2 {
		t.Errorf("operations stored = %d; want 2", len(repo.Operations))
	}
	if op, ok := repo.Operations["t1:0"]; !ok || op.SourceAccount != testSource {
		t.Errorf("operation t1:0 = %+v", op)
	}
}

func TestHandleRepairOperations_NothingToRepair(t *testing.T) {
	repo := storage.NewMemoryRepository()
	svc := NewService(&mockClient{}, repo, []string{"CCONTRACT"}, 120, false)

	result, err := svc.handleRepairOperations(context.Background(), &queue.Job{Type: queue.JobFetchOperations})
	if err != nil {
		t.Fatalf("handleRepairOperations failed: %v", err)
	}
	if !result.Done {
		t.Error("Done = false with nothing to repair")
	}
}

func TestRegister_WiresAllJobTypes(t *testing.T) {
	repo := storage.NewMemoryRepository()
	svc := NewService(&mockClient{latestLedger: 100}, repo, []string{"CCONTRACT"}, 120, false)

	q := queue.New(queue.Options{})
	svc.Register(q)

	// A registered handler means the queue can run each job type without
	// dead-lettering it as unknown.
	for _, jobType := range []queue.JobType{
		queue.JobFetchEvents,
		queue.JobFetchRecurring,
		queue.JobFetchOperations,
		queue.JobBackfillOperations,
	} {
		q.Enqueue(jobType, queue.Payload{})
	}
	if q.Status().Size != 4 {
		t.Errorf("queue size = %d; want 4", q.Status().Size)
	}
}
