package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/eklundh/strandr/pkg/errors"
)

// BulkOp is one operation of a bulk request.
type BulkOp struct {
	Action string // "index" or "delete"
	Index  string
	ID     string
	Doc    any // nil for delete
}

// SizeKB estimates the operation's payload size for batch accounting.
// Estimation happens once, on the already-marshaled document.
func (op *BulkOp) SizeKB() (int, error) {
	if op.Doc == nil {
		return 0, nil
	}
	data, err := json.Marshal(op.Doc)
	if err != nil {
		return 0, fmt.Errorf("sizing bulk op %s: %w", op.ID, err)
	}
	return len(data)/1024 + 1, nil
}

// BulkResult summarizes one bulk call.
type BulkResult struct {
	Took     int
	FailedID []string
	Failures map[string]string // id -> reason
}

type bulkResponse struct {
	Took   int  `json:"took"`
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk sends operations in one newline-delimited request. A partially
// failed bulk is not an error: failed document ids come back in the
// result so the caller can log and reprocess them.
func (c *Client) Bulk(ctx context.Context, ops []BulkOp) (*BulkResult, error) {
	if len(ops) == 0 {
		return &BulkResult{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		action := map[string]any{op.Action: M{"_index": op.Index, "_id": op.ID}}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("encoding bulk action for %s: %w", op.ID, err)
		}
		if op.Action != "delete" {
			if err := enc.Encode(op.Doc); err != nil {
				return nil, fmt.Errorf("encoding bulk document %s: %w", op.ID, err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/_bulk", &buf)
	if err != nil {
		return nil, fmt.Errorf("building bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	resp, err := c.bulkClient.Do(req)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrEngineUnavailable, 503, "bulk request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.Newf(apperrors.ErrEngineUnavailable, 503,
			"bulk returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var br bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}
	result := &BulkResult{Took: br.Took}
	if br.Errors {
		result.Failures = make(map[string]string)
		for _, item := range br.Items {
			for _, status := range item {
				if status.Error != nil {
					result.FailedID = append(result.FailedID, status.ID)
					result.Failures[status.ID] = status.Error.Type + ": " + status.Error.Reason
				}
			}
		}
	}
	return result, nil
}
