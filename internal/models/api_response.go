package models

import "time"

// EnqueueResponse is returned by the ingest enqueue endpoints.
type EnqueueResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId,omitempty"`
	Message string `json:"message,omitempty"`
}

// QueueStatusResponse wraps the queue snapshot for the status endpoint.
type QueueStatusResponse struct {
	Success bool        `json:"success"`
	Queue   interface{} `json:"queue"`
}

// HealthResponse reports process, database and upstream RPC health.
type HealthResponse struct {
	Status                 string `json:"status"`
	DatabaseStatus         string `json:"database_status"`
	RPCStatus              string `json:"rpc_status"`
	LatestRPCLedger        uint32 `json:"latest_rpc_ledger,omitempty"`
	LastProcessedLedgerInDB uint32 `json:"last_processed_ledger_in_db,omitempty"`
}

// SchemaListResponse is a paginated list of schemas.
type SchemaListResponse struct {
	Schemas []Schema `json:"schemas"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// AttestationListResponse is a paginated list of attestations.
type AttestationListResponse struct {
	Attestations []Attestation `json:"attestations"`
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// SchemaFilter provides criteria for listing schemas.
type SchemaFilter struct {
	Deployer   string
	FromLedger uint32
	Limit      int
	Offset     int
}

// AttestationFilter provides criteria for listing attestations.
type AttestationFilter struct {
	SchemaUID string
	Attester  string
	Subject   string
	Revoked   *bool
	FromTime  *time.Time
	Limit     int
	Offset    int
}
