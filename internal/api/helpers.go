package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"attest-indexer/internal/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
	maxBodyBytes     = 1 << 16
)

// sendJSON writes v as a JSON response with the given status code.
func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendError writes a JSON error response with the given status code.
func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, models.ErrorResponse{
		Error: message,
		Code:  status,
	}, status)
}

// decodeBody parses a JSON request body into dst. An empty body is treated
// as an empty object so optional-field endpoints accept bare POSTs.
func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// parseLedger interprets a JSON field as a ledger sequence. Accepts JSON
// numbers and numeric strings; nil means the field was absent.
func parseLedger(raw json.RawMessage) (*uint32, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	text := string(raw)
	if text[0] == '"' {
		var err error
		if text, err = strconv.Unquote(text); err != nil {
			return nil, err
		}
	}

	value, err := strconv.ParseUint(text, 10, 32)
	if err != nil {
		return nil, errors.New("not a ledger sequence")
	}

	ledger := uint32(value)
	return &ledger, nil
}

// parsePagination reads limit/offset query params with sane defaults.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
