// Package pipeline drives a corpus ingestion run: discover source files,
// parse them in parallel, partition the resulting operations into
// size-bounded batches, and upload the batches concurrently.
//
// Parsing and uploading are separate concurrency domains joined by one
// bounded channel. The channel is the only backpressure point: when
// uploading falls behind, parsers block on send instead of growing
// memory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eklundh/strandr/internal/corpusconf"
	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/lifecycle"
	"github.com/eklundh/strandr/internal/parser"
	"github.com/eklundh/strandr/internal/positions"
	"github.com/eklundh/strandr/pkg/config"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/metrics"
)

// Task is one discovered source file.
type Task struct {
	Path      string
	TaskID    string
	SizeBytes int64
}

// fileResult is the parse output of one task: ready-to-upload operations
// plus accounting.
type fileResult struct {
	task      Task
	ops       []engine.BulkOp
	sizeKB    int
	documents int
	tokens    int
	elapsed   time.Duration
}

// Reporter receives run completions and upload failures. Both methods
// must be safe for concurrent use; failures to report are logged by the
// implementation, never propagated into the run.
type Reporter interface {
	RunFinished(ctx context.Context, summary *RunSummary)
	BatchFailed(ctx context.Context, corpusID string, ids []string, reason string)
}

// RunSummary aggregates one pipeline run.
type RunSummary struct {
	CorpusID      string        `json:"corpus_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Elapsed       time.Duration `json:"elapsed"`
	Files         int           `json:"files"`
	FilesFailed   int           `json:"files_failed"`
	FailedFiles   []string      `json:"failed_files,omitempty"`
	Documents     int           `json:"documents"`
	Tokens        int           `json:"tokens"`
	Batches       int           `json:"batches"`
	BatchesFailed int           `json:"batches_failed"`
	UploadedKB    int64         `json:"uploaded_kb"`
	FailedKB      int64         `json:"failed_kb"`
	ParseWorkers  int           `json:"parse_workers"`
	UploadWorkers int           `json:"upload_workers"`
}

// Pipeline runs corpus ingestions.
type Pipeline struct {
	engine    *engine.Client
	lifecycle *lifecycle.Manager
	loader    *corpusconf.Loader
	cfg       config.PipelineConfig
	corpora   config.CorporaConfig
	metrics   *metrics.Metrics
	reporter  Reporter
	log       *slog.Logger
}

// New creates a Pipeline. reporter may be nil.
func New(
	client *engine.Client,
	lc *lifecycle.Manager,
	loader *corpusconf.Loader,
	cfg config.PipelineConfig,
	corpora config.CorporaConfig,
	m *metrics.Metrics,
	reporter Reporter,
) *Pipeline {
	return &Pipeline{
		engine:    client,
		lifecycle: lc,
		loader:    loader,
		cfg:       cfg,
		corpora:   corpora,
		metrics:   m,
		reporter:  reporter,
		log:       logger.WithComponent("pipeline"),
	}
}

// Run ingests every source file of one corpus. One file's failure never
// aborts the run; it is recorded and the run continues.
func (p *Pipeline) Run(ctx context.Context, corpusID string) (*RunSummary, error) {
	cfg, err := p.loader.Load(corpusID)
	if err != nil {
		return nil, err
	}
	schema, err := corpusconf.Compile(cfg)
	if err != nil {
		return nil, err
	}
	tasks, err := p.discover(schema)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no source files found for corpus %s", corpusID)
	}

	summary := &RunSummary{
		CorpusID:      corpusID,
		StartedAt:     time.Now(),
		Files:         len(tasks),
		ParseWorkers:  p.parseWorkers(),
		UploadWorkers: p.cfg.UploadWorkers,
	}
	log := logger.WithCorpus("pipeline", corpusID)
	log.Info("starting run",
		slog.Int("files", len(tasks)),
		slog.Int("parse_workers", summary.ParseWorkers),
		slog.Int("upload_workers", summary.UploadWorkers))

	if err := p.lifecycle.EnableInsertSettings(ctx, corpusID); err != nil {
		return nil, err
	}
	// restore read-serving settings even when the run partially failed
	defer func() {
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Minute)
		defer cancel()
		if err := p.lifecycle.FinishInsertSettings(restoreCtx, corpusID); err != nil {
			log.Error("restoring insert settings failed", slog.Any("error", err))
		}
	}()

	if err := p.execute(ctx, schema, tasks, summary, log); err != nil {
		return nil, err
	}

	summary.FinishedAt = time.Now()
	summary.Elapsed = summary.FinishedAt.Sub(summary.StartedAt)
	log.Info("run finished",
		slog.Int("documents", summary.Documents),
		slog.Int("tokens", summary.Tokens),
		slog.Int("batches", summary.Batches),
		slog.Int("batches_failed", summary.BatchesFailed),
		slog.Int("files_failed", summary.FilesFailed),
		slog.Int64("uploaded_kb", summary.UploadedKB),
		slog.Duration("elapsed", summary.Elapsed))
	if p.reporter != nil {
		p.reporter.RunFinished(ctx, summary)
	}
	return summary, nil
}

// execute runs the parse and upload domains of one run and waits for
// both to drain.
func (p *Pipeline) execute(ctx context.Context, schema *corpusconf.Schema, tasks []Task, summary *RunSummary, log *slog.Logger) error {
	corpusID := schema.Config.CorpusID
	results := make(chan fileResult, p.cfg.QueueSize)

	var totalKB int64
	for _, t := range tasks {
		totalKB += t.SizeBytes / 1024
	}

	// parse domain
	parseGroup, parseCtx := errgroup.WithContext(ctx)
	parseGroup.SetLimit(p.parseWorkers())
	failed := make(chan string, len(tasks))
	for _, task := range tasks {
		parseGroup.Go(func() error {
			result, err := p.parseTask(parseCtx, schema, task)
			if err != nil {
				if parseCtx.Err() != nil {
					return parseCtx.Err()
				}
				log.Error("file failed, skipping",
					slog.String("file", task.Path), slog.Any("error", err))
				if p.metrics != nil {
					p.metrics.ParseFailuresTotal.WithLabelValues(corpusID).Inc()
				}
				failed <- task.TaskID
				return nil
			}
			select {
			case results <- *result:
				return nil
			case <-parseCtx.Done():
				return parseCtx.Err()
			}
		})
	}
	go func() {
		// parse errors only arrive via context cancellation; the channel
		// close is what lets the consumer finish
		_ = parseGroup.Wait()
		close(results)
		close(failed)
	}()

	// upload domain
	uploader := newUploader(p, corpusID, totalKB, summary, log)
	err := uploader.drain(ctx, results)

	for taskID := range failed {
		summary.FilesFailed++
		summary.FailedFiles = append(summary.FailedFiles, taskID)
	}
	return err
}

// parseTask parses one file into its bulk operations.
func (p *Pipeline) parseTask(ctx context.Context, schema *corpusconf.Schema, task Task) (*fileResult, error) {
	start := time.Now()
	docs, err := parser.New(schema).ParseFile(ctx, task.Path)
	if err != nil {
		return nil, err
	}

	result := &fileResult{task: task}
	for _, doc := range docs {
		doc.CorpusID = schema.Config.CorpusID
		doc.OriginalFile = filepath.Base(task.Path)
		doc.DocID = schema.DocumentID(task.TaskID, doc.TextAttrStrings())

		result.ops = append(result.ops, engine.BulkOp{
			Action: "index",
			Index:  engine.DocumentAlias(doc.CorpusID),
			ID:     doc.DocID,
			Doc:    doc.Source(),
		})
		for _, record := range positions.FromDocument(doc) {
			result.ops = append(result.ops, engine.BulkOp{
				Action: "index",
				Index:  engine.PositionAlias(doc.CorpusID),
				ID:     record.ID(),
				Doc:    record,
			})
		}
		// size accounting uses the encoded text length as the estimate;
		// position records roughly double it
		result.sizeKB += 2 * (len(doc.Text)/1024 + 1)
		result.documents++
		result.tokens += doc.WordCount
	}
	result.elapsed = time.Since(start)

	if p.metrics != nil {
		p.metrics.DocsParsedTotal.WithLabelValues(schema.Config.CorpusID).Add(float64(result.documents))
		p.metrics.TokensParsedTotal.Add(float64(result.tokens))
	}
	return result, nil
}

// discover lists the corpus' source files with size estimates.
func (p *Pipeline) discover(schema *corpusconf.Schema) ([]Task, error) {
	dir := schema.Config.CorpusDir
	if dir == "" {
		dir = schema.Config.CorpusID
	}
	pattern := filepath.Join(p.corpora.TextsDir, dir, "*.xml")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("discovering source files: %w", err)
	}
	tasks := make([]Task, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stating %s: %w", path, err)
		}
		base := filepath.Base(path)
		tasks = append(tasks, Task{
			Path:      path,
			TaskID:    base[:len(base)-len(filepath.Ext(base))],
			SizeBytes: info.Size(),
		})
	}
	return tasks, nil
}

func (p *Pipeline) parseWorkers() int {
	if p.cfg.ParseWorkers > 0 {
		return p.cfg.ParseWorkers
	}
	n := runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	return n
}
