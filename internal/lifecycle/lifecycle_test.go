package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eklundh/strandr/internal/corpusconf"
	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/pkg/config"
)

// fakeEngine records index creations, alias actions, settings calls, and
// bulk deletes, and serves stored documents back.
type fakeEngine struct {
	mu       sync.Mutex
	indices  map[string]map[string]any
	aliases  map[string][]string // alias -> physical indices
	settings []map[string]any
	merged   []string
	docs     map[string]map[string]any // doc id -> source
	deleted  []string                  // "index/id" per bulk delete
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		indices: map[string]map[string]any{},
		aliases: map[string][]string{},
		docs:    map[string]map[string]any{},
	}
}

func (f *fakeEngine) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		name := strings.TrimPrefix(r.URL.Path, "/")
		switch {
		case r.Method == http.MethodHead:
			if _, ok := f.indices[name]; ok {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut && strings.HasSuffix(name, "/_settings"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.settings = append(f.settings, body)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.indices[name] = body
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && name == "_aliases":
			var body struct {
				Actions []engine.AliasAction `json:"actions"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			for _, action := range body.Actions {
				if action.Add != nil {
					f.aliases[action.Add.Alias] = append(f.aliases[action.Add.Alias], action.Add.Index)
				}
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && strings.Contains(name, "_forcemerge"):
			f.merged = append(f.merged, name)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && strings.HasSuffix(name, "/_alias"):
			alias := strings.TrimSuffix(name, "/_alias")
			out := map[string]any{}
			for _, idx := range f.aliases[alias] {
				out[idx] = map[string]any{}
			}
			if len(out) == 0 {
				http.Error(w, "alias missing", http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(out)
		case r.Method == http.MethodGet && strings.Contains(name, "/_doc/"):
			id := name[strings.Index(name, "/_doc/")+len("/_doc/"):]
			src, ok := f.docs[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]any{"found": false})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"found": true, "_source": src})
		case r.Method == http.MethodPost && strings.HasSuffix(name, "/_search"):
			var body struct {
				Query struct {
					Term map[string]any `json:"term"`
				} `json:"query"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			var hits []map[string]any
			for id, src := range f.docs {
				if src["original_file"] == body.Query.Term["original_file"] {
					hits = append(hits, map[string]any{"_id": id, "_source": src})
				}
			}
			json.NewEncoder(w).Encode(map[string]any{
				"hits": map[string]any{
					"total": map[string]any{"value": len(hits)},
					"hits":  hits,
				},
			})
		case r.Method == http.MethodPost && name == "_bulk":
			scanner := bufio.NewScanner(r.Body)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				var op map[string]struct {
					ID    string `json:"_id"`
					Index string `json:"_index"`
				}
				if err := json.Unmarshal([]byte(line), &op); err != nil {
					t.Errorf("bad bulk line %q: %v", line, err)
					continue
				}
				if meta, ok := op["delete"]; ok {
					f.deleted = append(f.deleted, meta.Index+"/"+meta.ID)
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": []any{}})
		case r.Method == http.MethodDelete:
			delete(f.indices, name)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func newTestManager(t *testing.T, f *fakeEngine) *Manager {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	cfg := config.EngineConfig{
		URL:            srv.URL,
		Timeout:        2 * time.Second,
		BulkTimeout:    2 * time.Second,
		MaxRetries:     1,
		DocumentShards: 2,
		PositionShards: 4,
		Replicas:       1,
	}
	return NewManager(engine.NewClient(cfg), cfg)
}

func testSchema(t *testing.T) *corpusconf.Schema {
	t.Helper()
	s, err := corpusconf.Compile(&corpusconf.Config{
		CorpusID:   "vivill",
		DocumentID: "filename",
		WordAttrs: []corpusconf.Attribute{
			{Name: "lemma", Set: true},
			{Name: "pos"},
		},
		TextAttrs: []corpusconf.Attribute{
			{Name: "year", Type: "year"},
			{Name: "party"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateIndices(t *testing.T) {
	f := newFakeEngine()
	mgr := newTestManager(t, f)

	if err := mgr.CreateIndices(context.Background(), testSchema(t)); err != nil {
		t.Fatalf("CreateIndices() error: %v", err)
	}

	if len(f.indices) != 2 {
		t.Fatalf("created %d indices, want 2", len(f.indices))
	}
	if len(f.aliases["vivill"]) != 1 || len(f.aliases["vivill_terms"]) != 1 {
		t.Fatalf("aliases = %v", f.aliases)
	}

	docIndex := f.aliases["vivill"][0]
	if !strings.HasPrefix(docIndex, "vivill_") {
		t.Errorf("document index name = %q", docIndex)
	}
	posIndex := f.aliases["vivill_terms"][0]
	if !strings.HasPrefix(posIndex, "vivill_terms_") {
		t.Errorf("position index name = %q", posIndex)
	}
}

func TestCreateIndicesNameCollision(t *testing.T) {
	f := newFakeEngine()
	now := time.Now().Format("20060102-1504")
	f.indices["vivill_"+now] = map[string]any{}
	mgr := newTestManager(t, f)

	if err := mgr.CreateIndices(context.Background(), testSchema(t)); err != nil {
		t.Fatalf("CreateIndices() error: %v", err)
	}
	docIndex := f.aliases["vivill"][0]
	if docIndex == "vivill_"+now {
		t.Errorf("collided name %q was reused", docIndex)
	}
	if _, taken := f.indices["vivill_"+now]; !taken {
		t.Error("seeded index vanished")
	}
}

func TestDeleteIndices(t *testing.T) {
	f := newFakeEngine()
	mgr := newTestManager(t, f)
	if err := mgr.CreateIndices(context.Background(), testSchema(t)); err != nil {
		t.Fatal(err)
	}

	if err := mgr.DeleteIndices(context.Background(), "vivill"); err != nil {
		t.Fatalf("DeleteIndices() error: %v", err)
	}
	if len(f.indices) != 0 {
		t.Errorf("indices left behind: %v", f.indices)
	}
}

func TestDeleteIndicesUnknownCorpus(t *testing.T) {
	f := newFakeEngine()
	mgr := newTestManager(t, f)
	if err := mgr.DeleteIndices(context.Background(), "nothing"); err != nil {
		t.Errorf("DeleteIndices() of unaliased corpus: %v", err)
	}
}

func TestInsertSettingsRoundTrip(t *testing.T) {
	f := newFakeEngine()
	mgr := newTestManager(t, f)

	if err := mgr.EnableInsertSettings(context.Background(), "vivill"); err != nil {
		t.Fatalf("EnableInsertSettings() error: %v", err)
	}
	// both aliases get refresh disabled
	if len(f.settings) != 2 {
		t.Fatalf("settings calls = %v", f.settings)
	}
	for _, s := range f.settings {
		if s["index.refresh_interval"] != "-1" {
			t.Errorf("settings = %v", s)
		}
	}

	f.settings = nil
	if err := mgr.FinishInsertSettings(context.Background(), "vivill"); err != nil {
		t.Fatalf("FinishInsertSettings() error: %v", err)
	}
	if len(f.merged) != 2 {
		t.Errorf("force merges = %v", f.merged)
	}
	var replicas, refresh int
	for _, s := range f.settings {
		if v, ok := s["index.number_of_replicas"]; ok && v == float64(1) {
			replicas++
		}
		if v, ok := s["index.refresh_interval"]; ok && v == "1s" {
			refresh++
		}
	}
	if replicas != 2 || refresh != 2 {
		t.Errorf("replicas=%d refresh=%d settings=%v", replicas, refresh, f.settings)
	}
}

func TestDocumentIndexBody(t *testing.T) {
	f := newFakeEngine()
	mgr := newTestManager(t, f)
	body := mgr.documentIndexBody(testSchema(t))

	settings := body["settings"].(m)
	if settings["number_of_shards"] != 2 {
		t.Errorf("shards = %v", settings["number_of_shards"])
	}
	analysis := settings["analysis"].(m)
	tokenizer := analysis["tokenizer"].(m)["token_tokenizer"].(m)
	if tokenizer["pattern"] != "␝" {
		t.Errorf("tokenizer pattern = %v", tokenizer["pattern"])
	}

	// every indexed word annotation gets a subfield of the text field
	props := body["mappings"].(m)["properties"].(m)
	fields := props["text"].(m)["fields"].(m)
	for _, name := range []string{"wid", "lemma", "pos"} {
		if _, ok := fields[name]; !ok {
			t.Errorf("text field has no %s subfield", name)
		}
	}

	// set-valued annotations split members, scalar ones do not
	analyzers := analysis["analyzer"].(m)
	lemmaChain := analyzers["lemma_analyzer"].(m)["filter"].([]string)
	if !contains(lemmaChain, "set_member_capture") {
		t.Errorf("lemma analyzer chain = %v", lemmaChain)
	}
	posChain := analyzers["pos_analyzer"].(m)["filter"].([]string)
	if contains(posChain, "set_member_capture") {
		t.Errorf("pos analyzer chain = %v", posChain)
	}
	// absent values never become searchable terms
	if !contains(lemmaChain, "empty_value_stop") || !contains(posChain, "empty_value_stop") {
		t.Error("analyzer chains do not drop the empty-value sentinel")
	}

	// typed text attributes
	if got := props["text_year"].(m)["type"]; got != "integer" {
		t.Errorf("text_year type = %v", got)
	}
	if got := props["text_party"].(m)["type"]; got != "keyword" {
		t.Errorf("text_party type = %v", got)
	}

	// the encoded text is searchable but never delivered
	excludes := body["mappings"].(m)["_source"].(m)["excludes"].([]string)
	if !contains(excludes, "text") {
		t.Errorf("_source excludes = %v", excludes)
	}
}

func TestPositionIndexBody(t *testing.T) {
	f := newFakeEngine()
	mgr := newTestManager(t, f)
	body := mgr.positionIndexBody()

	settings := body["settings"].(m)
	if settings["number_of_shards"] != 4 {
		t.Errorf("shards = %v", settings["number_of_shards"])
	}
	props := body["mappings"].(m)["properties"].(m)
	if props["position"].(m)["type"] != "integer" {
		t.Errorf("position mapping = %v", props["position"])
	}
	if props["term"].(m)["dynamic"] != true {
		t.Errorf("term mapping = %v", props["term"])
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
