package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eklundh/strandr/pkg/config"
	apperrors "github.com/eklundh/strandr/pkg/errors"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.EngineConfig{
		URL:         srv.URL,
		Timeout:     2 * time.Second,
		BulkTimeout: 2 * time.Second,
		MaxRetries:  3,
	})
}

func TestSearchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "shard unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"took": 3,
			"hits": map[string]any{
				"total": map[string]any{"value": 1},
				"hits":  []any{map[string]any{"_id": "d1", "_source": map[string]any{}}},
			},
		})
	})

	resp, err := c.Search(context.Background(), "vivill", &SearchBody{Size: 10})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("engine called %d times, want 3", calls.Load())
	}
	if resp.Hits.Total.Value != 1 || resp.Hits.Hits[0].ID != "d1" {
		t.Errorf("response = %+v", resp.Hits)
	}
}

func TestSearchRequestErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": "parsing_exception"}`, http.StatusBadRequest)
	})

	_, err := c.Search(context.Background(), "vivill", &SearchBody{})
	if err == nil {
		t.Fatal("Search() succeeded on a request error")
	}
	if calls.Load() != 1 {
		t.Errorf("engine called %d times, want 1", calls.Load())
	}
	if errors.Is(err, apperrors.ErrEngineUnavailable) {
		t.Errorf("request error classified as transient: %v", err)
	}
}

func TestSearchDownstreamUnavailable(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.Search(context.Background(), "vivill", &SearchBody{})
	if !errors.Is(err, apperrors.ErrEngineUnavailable) {
		t.Fatalf("Search() error = %v, want engine-unavailable", err)
	}
}

func TestDeleteIndexMissingIsNotAnError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such index", http.StatusNotFound)
	})
	if err := c.DeleteIndex(context.Background(), "gone"); err != nil {
		t.Errorf("DeleteIndex() error: %v", err)
	}
}

func TestIndexExists(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s", r.Method)
		}
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	exists, err := c.IndexExists(context.Background(), "vivill_20250101-1200")
	if err != nil || !exists {
		t.Errorf("IndexExists() = %v, %v", exists, err)
	}
	exists, err = c.IndexExists(context.Background(), "missing")
	if err != nil || exists {
		t.Errorf("IndexExists(missing) = %v, %v", exists, err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"found": false})
	})
	_, err := c.GetDocument(context.Background(), "vivill", "nope")
	if !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Fatalf("GetDocument() error = %v, want not-found", err)
	}
}

func TestBulkEncodesNDJSON(t *testing.T) {
	var lines []string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/x-ndjson" {
			t.Errorf("Content-Type = %q", got)
		}
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		json.NewEncoder(w).Encode(map[string]any{"took": 1, "errors": false})
	})

	ops := []BulkOp{
		{Action: "index", Index: "vivill", ID: "d1", Doc: map[string]any{"title": "a"}},
		{Action: "delete", Index: "vivill", ID: "d2"},
	}
	result, err := c.Bulk(context.Background(), ops)
	if err != nil {
		t.Fatalf("Bulk() error: %v", err)
	}
	if len(result.FailedID) != 0 {
		t.Errorf("FailedID = %v", result.FailedID)
	}
	// index op takes two lines, delete one
	if len(lines) != 3 {
		t.Fatalf("request had %d lines, want 3: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], `"_id":"d1"`) || !strings.Contains(lines[1], `"title":"a"`) {
		t.Errorf("index op lines = %q, %q", lines[0], lines[1])
	}
	if !strings.Contains(lines[2], `"delete"`) {
		t.Errorf("delete op line = %q", lines[2])
	}
}

func TestBulkPartialFailure(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"took":   2,
			"errors": true,
			"items": []any{
				map[string]any{"index": map[string]any{"_id": "d1", "status": 201}},
				map[string]any{"index": map[string]any{
					"_id":    "d2",
					"status": 400,
					"error":  map[string]any{"type": "mapper_parsing_exception", "reason": "bad field"},
				}},
			},
		})
	})

	result, err := c.Bulk(context.Background(), []BulkOp{
		{Action: "index", Index: "vivill", ID: "d1", Doc: map[string]any{}},
		{Action: "index", Index: "vivill", ID: "d2", Doc: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Bulk() error: %v", err)
	}
	if len(result.FailedID) != 1 || result.FailedID[0] != "d2" {
		t.Fatalf("FailedID = %v", result.FailedID)
	}
	if reason := result.Failures["d2"]; !strings.Contains(reason, "mapper_parsing_exception") {
		t.Errorf("failure reason = %q", reason)
	}
}

func TestBulkEmpty(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty bulk must not reach the engine")
	})
	if _, err := c.Bulk(context.Background(), nil); err != nil {
		t.Errorf("Bulk(nil) error: %v", err)
	}
}

func TestSearchBodyMarshalFoldsSource(t *testing.T) {
	body := &SearchBody{
		Query:          Term("doc_id", "d1"),
		From:           10,
		Size:           25,
		SourceExcludes: []string{"text", "similarity_tags"},
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	src, ok := m["_source"].(map[string]any)
	if !ok {
		t.Fatalf("no _source in %s", data)
	}
	if excludes := src["excludes"].([]any); len(excludes) != 2 {
		t.Errorf("excludes = %v", excludes)
	}
	if m["from"] != float64(10) || m["size"] != float64(25) {
		t.Errorf("paging = %v, %v", m["from"], m["size"])
	}
}

func TestAliases(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/_aliases":
			var body map[string][]AliasAction
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decoding alias actions: %v", err)
			}
			if len(body["actions"]) != 2 {
				t.Errorf("actions = %+v", body["actions"])
			}
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/_alias"):
			json.NewEncoder(w).Encode(map[string]any{
				"vivill_20250101-1200": map[string]any{},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	err := c.UpdateAliases(context.Background(), []AliasAction{
		{Remove: &AliasTarget{Index: "old", Alias: "vivill"}},
		{Add: &AliasTarget{Index: "new", Alias: "vivill"}},
	})
	if err != nil {
		t.Fatalf("UpdateAliases() error: %v", err)
	}

	names, err := c.ResolveAlias(context.Background(), "vivill")
	if err != nil {
		t.Fatalf("ResolveAlias() error: %v", err)
	}
	if len(names) != 1 || names[0] != "vivill_20250101-1200" {
		t.Errorf("ResolveAlias() = %v", names)
	}
}

func TestNaming(t *testing.T) {
	if got := DocumentAlias("vivill"); got != "vivill" {
		t.Errorf("DocumentAlias() = %q", got)
	}
	if got := PositionAlias("vivill"); got != "vivill_terms" {
		t.Errorf("PositionAlias() = %q", got)
	}
}
