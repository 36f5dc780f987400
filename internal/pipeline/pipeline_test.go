package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eklundh/strandr/internal/corpusconf"
	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/lifecycle"
	"github.com/eklundh/strandr/pkg/config"
	apperrors "github.com/eklundh/strandr/pkg/errors"
)

const pipelineCorpusConfig = `
corpusId: vivill
documentId: filename
title:
  - attribute: title
wordAttributes:
  - name: pos
  - name: lemma
    set: true
textAttributes:
  - name: title
  - name: year
    type: year
`

const sourceFile = `<corpus>
<text title="Om framtiden" year="1975">
<w lemma="|den|" pos="PN">Det</w> <w lemma="|bli|" pos="VB">blir</w> <w lemma="|rolig|" pos="JJ">roligt</w>.
</text>
</corpus>`

type settingsCall struct {
	index string
	body  map[string]any
}

// fakeBulkEngine records bulk uploads and index settings changes.
type fakeBulkEngine struct {
	mu           sync.Mutex
	bulkCalls    [][]string // non-empty NDJSON lines per call
	settings     []settingsCall
	merges       int
	bulkResponse string // "" means everything succeeds
}

func (f *fakeBulkEngine) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/_bulk":
			raw, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("reading bulk body: %v", err)
			}
			var lines []string
			for _, line := range strings.Split(string(raw), "\n") {
				if line != "" {
					lines = append(lines, line)
				}
			}
			f.mu.Lock()
			f.bulkCalls = append(f.bulkCalls, lines)
			resp := f.bulkResponse
			f.mu.Unlock()
			if resp == "" {
				resp = `{"took":1,"errors":false,"items":[]}`
			}
			io.WriteString(w, resp)
		case strings.HasSuffix(r.URL.Path, "/_settings"):
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decoding settings body: %v", err)
			}
			index := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/_settings")
			f.mu.Lock()
			f.settings = append(f.settings, settingsCall{index: index, body: body})
			f.mu.Unlock()
			io.WriteString(w, `{"acknowledged":true}`)
		case strings.Contains(r.URL.Path, "_forcemerge"):
			f.mu.Lock()
			f.merges++
			f.mu.Unlock()
			io.WriteString(w, `{}`)
		default:
			t.Errorf("unexpected engine request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeBulkEngine) allOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.bulkCalls {
		out = append(out, call...)
	}
	return out
}

// recordingReporter captures run summaries and batch failures.
type recordingReporter struct {
	mu        sync.Mutex
	summaries []*RunSummary
	failedIDs [][]string
	reasons   []string
}

func (r *recordingReporter) RunFinished(_ context.Context, summary *RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
}

func (r *recordingReporter) BatchFailed(_ context.Context, _ string, ids []string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedIDs = append(r.failedIDs, ids)
	r.reasons = append(r.reasons, reason)
}

type testRun struct {
	pipeline *Pipeline
	fake     *fakeBulkEngine
	reporter *recordingReporter
	textsDir string
}

func newTestRun(t *testing.T, cfg config.PipelineConfig) *testRun {
	t.Helper()
	fake := &fakeBulkEngine{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	engCfg := config.EngineConfig{
		URL:         srv.URL,
		Timeout:     5 * time.Second,
		BulkTimeout: 5 * time.Second,
		MaxRetries:  1,
		Replicas:    1,
	}
	client := engine.NewClient(engCfg)

	cfgDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(cfgDir, "vivill.yaml"), []byte(pipelineCorpusConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	textsDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(textsDir, "vivill"), 0o755); err != nil {
		t.Fatal(err)
	}

	reporter := &recordingReporter{}
	p := New(
		client,
		lifecycle.NewManager(client, engCfg),
		corpusconf.NewLoader(cfgDir),
		cfg,
		config.CorporaConfig{ConfigDir: cfgDir, TextsDir: textsDir},
		nil,
		reporter,
	)
	return &testRun{pipeline: p, fake: fake, reporter: reporter, textsDir: textsDir}
}

func (tr *testRun) writeSource(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(tr.textsDir, "vivill", name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func defaultPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ParseWorkers:  2,
		UploadWorkers: 2,
		QueueSize:     4,
		BatchSizeKB:   1 << 20,
		MaxBatchOps:   100000,
	}
}

func TestRunIngestsCorpus(t *testing.T) {
	tr := newTestRun(t, defaultPipelineConfig())
	tr.writeSource(t, "a.xml", sourceFile)
	tr.writeSource(t, "b.xml", sourceFile)

	summary, err := tr.pipeline.Run(context.Background(), "vivill")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Files != 2 || summary.FilesFailed != 0 {
		t.Errorf("files = %d failed = %d, want 2/0", summary.Files, summary.FilesFailed)
	}
	if summary.Documents != 2 || summary.Tokens != 6 {
		t.Errorf("documents = %d tokens = %d, want 2/6", summary.Documents, summary.Tokens)
	}
	if summary.Batches != 1 || summary.BatchesFailed != 0 {
		t.Errorf("batches = %d failed = %d, want 1/0", summary.Batches, summary.BatchesFailed)
	}

	// each document yields one document op and one op per token
	ops := tr.fake.allOps()
	if len(ops) != 16 {
		t.Fatalf("bulk lines = %d, want 16", len(ops))
	}
	var docOps, posOps int
	for i := 0; i < len(ops); i += 2 {
		switch {
		case strings.Contains(ops[i], `"_index":"vivill"`):
			docOps++
		case strings.Contains(ops[i], `"_index":"vivill_terms"`):
			posOps++
		default:
			t.Errorf("unexpected bulk action %s", ops[i])
		}
	}
	if docOps != 2 || posOps != 6 {
		t.Errorf("doc ops = %d position ops = %d, want 2/6", docOps, posOps)
	}

	tr.reporter.mu.Lock()
	defer tr.reporter.mu.Unlock()
	if len(tr.reporter.summaries) != 1 || tr.reporter.summaries[0].Documents != 2 {
		t.Errorf("reporter summaries = %+v", tr.reporter.summaries)
	}
}

func TestRunTogglesInsertSettings(t *testing.T) {
	tr := newTestRun(t, defaultPipelineConfig())
	tr.writeSource(t, "a.xml", sourceFile)

	if _, err := tr.pipeline.Run(context.Background(), "vivill"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	tr.fake.mu.Lock()
	defer tr.fake.mu.Unlock()
	if len(tr.fake.settings) != 6 {
		t.Fatalf("settings calls = %d, want 6", len(tr.fake.settings))
	}
	for i, call := range tr.fake.settings[:2] {
		if call.body["index.refresh_interval"] != "-1" {
			t.Errorf("settings[%d] = %v, want refresh_interval -1", i, call.body)
		}
	}
	for i, call := range tr.fake.settings[2:4] {
		if call.body["index.number_of_replicas"] != float64(1) {
			t.Errorf("restore settings[%d] = %v, want number_of_replicas 1", i, call.body)
		}
	}
	for i, call := range tr.fake.settings[4:] {
		if call.body["index.refresh_interval"] != "1s" {
			t.Errorf("final settings[%d] = %v, want refresh_interval 1s", i, call.body)
		}
	}
	if tr.fake.merges != 2 {
		t.Errorf("force merges = %d, want 2", tr.fake.merges)
	}
}

func TestRunFlushesAtOpCap(t *testing.T) {
	cfg := defaultPipelineConfig()
	cfg.MaxBatchOps = 4
	tr := newTestRun(t, cfg)
	tr.writeSource(t, "a.xml", sourceFile)
	tr.writeSource(t, "b.xml", sourceFile)

	summary, err := tr.pipeline.Run(context.Background(), "vivill")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Batches != 2 {
		t.Errorf("batches = %d, want 2", summary.Batches)
	}
}

func TestRunSkipsFailedFiles(t *testing.T) {
	tr := newTestRun(t, defaultPipelineConfig())
	tr.writeSource(t, "a.xml", sourceFile)
	tr.writeSource(t, "broken.xml", `<corpus><text><w pos="PN">Det</w></text></corpus>`)

	summary, err := tr.pipeline.Run(context.Background(), "vivill")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.FilesFailed != 1 {
		t.Fatalf("files failed = %d, want 1", summary.FilesFailed)
	}
	if len(summary.FailedFiles) != 1 || summary.FailedFiles[0] != "broken" {
		t.Errorf("failed files = %v, want [broken]", summary.FailedFiles)
	}
	if summary.Documents != 1 {
		t.Errorf("documents = %d, want 1 from the surviving file", summary.Documents)
	}
}

func TestRunRecordsPartialBulkFailure(t *testing.T) {
	tr := newTestRun(t, defaultPipelineConfig())
	tr.fake.bulkResponse = `{"took":1,"errors":true,"items":[` +
		`{"index":{"_id":"a","status":400,"error":{"type":"mapper_parsing_exception","reason":"boom"}}}]}`
	tr.writeSource(t, "a.xml", sourceFile)

	summary, err := tr.pipeline.Run(context.Background(), "vivill")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Batches != 1 || summary.BatchesFailed != 1 {
		t.Errorf("batches = %d failed = %d, want 1/1", summary.Batches, summary.BatchesFailed)
	}
	if summary.UploadedKB != 0 {
		t.Errorf("uploaded_kb = %d, want 0 for a rejected batch", summary.UploadedKB)
	}
	if summary.FailedKB == 0 {
		t.Error("failed_kb = 0, want the rejected batch's volume")
	}

	tr.reporter.mu.Lock()
	defer tr.reporter.mu.Unlock()
	if len(tr.reporter.failedIDs) != 1 {
		t.Fatalf("reported batch failures = %d, want 1", len(tr.reporter.failedIDs))
	}
	if got := tr.reporter.failedIDs[0]; len(got) != 1 || got[0] != "a" {
		t.Errorf("failed ids = %v, want [a]", got)
	}
	if tr.reporter.reasons[0] != "partial bulk failure" {
		t.Errorf("failure reason = %q", tr.reporter.reasons[0])
	}
}

func TestRunUnknownCorpus(t *testing.T) {
	tr := newTestRun(t, defaultPipelineConfig())

	_, err := tr.pipeline.Run(context.Background(), "nope")
	if !errors.Is(err, apperrors.ErrCorpusNotConfigured) {
		t.Fatalf("Run() error = %v, want ErrCorpusNotConfigured", err)
	}
}

func TestRunWithoutSourceFiles(t *testing.T) {
	tr := newTestRun(t, defaultPipelineConfig())

	_, err := tr.pipeline.Run(context.Background(), "vivill")
	if err == nil || !strings.Contains(err.Error(), "no source files") {
		t.Fatalf("Run() error = %v, want missing source files", err)
	}
}

func TestDiscoverTaskIDs(t *testing.T) {
	tr := newTestRun(t, defaultPipelineConfig())
	tr.writeSource(t, "1975.xml", sourceFile)
	tr.writeSource(t, "1979.xml", sourceFile)

	schema, err := corpusconf.Compile(&corpusconf.Config{
		CorpusID:   "vivill",
		DocumentID: "filename",
		Title:      []corpusconf.TitleStrategy{{Attribute: "title"}},
		TextAttrs:  []corpusconf.Attribute{{Name: "title"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := tr.pipeline.discover(schema)
	if err != nil {
		t.Fatalf("discover() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("discover() found %d tasks, want 2", len(tasks))
	}
	if tasks[0].TaskID != "1975" || tasks[1].TaskID != "1979" {
		t.Errorf("task ids = %q %q", tasks[0].TaskID, tasks[1].TaskID)
	}
	for _, task := range tasks {
		if task.SizeBytes == 0 {
			t.Errorf("task %s has no size estimate", task.TaskID)
		}
	}
}
