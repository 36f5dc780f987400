package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/eklundh/strandr/internal/runhistory"
	"github.com/eklundh/strandr/pkg/kafka"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/resilience"
)

// reportTimeout bounds each reporting sink; a hung sink must not stall a
// finished run.
const reportTimeout = 10 * time.Second

// RunReporter persists run history and publishes operator events. Any of
// its sinks may be nil; reporting failures are logged and dropped, an
// unreachable broker must not fail an otherwise good run.
type RunReporter struct {
	history  *runhistory.Store
	runs     *kafka.Producer
	failures *kafka.Producer
	log      *slog.Logger
}

// NewRunReporter creates a RunReporter.
func NewRunReporter(history *runhistory.Store, runs, failures *kafka.Producer) *RunReporter {
	return &RunReporter{
		history:  history,
		runs:     runs,
		failures: failures,
		log:      logger.WithComponent("run-reporter"),
	}
}

// RunFinished records one completed run.
func (r *RunReporter) RunFinished(ctx context.Context, summary *RunSummary) {
	if r.history != nil {
		rec := &runhistory.Record{
			CorpusID:      summary.CorpusID,
			StartedAt:     summary.StartedAt,
			FinishedAt:    summary.FinishedAt,
			Files:         summary.Files,
			FilesFailed:   summary.FilesFailed,
			Documents:     summary.Documents,
			Tokens:        summary.Tokens,
			Batches:       summary.Batches,
			BatchesFailed: summary.BatchesFailed,
			UploadedKB:    summary.UploadedKB,
			ParseWorkers:  summary.ParseWorkers,
			UploadWorkers: summary.UploadWorkers,
		}
		err := resilience.WithTimeout(ctx, reportTimeout, "run history insert", func(ctx context.Context) error {
			return r.history.Insert(ctx, rec)
		})
		if err != nil {
			r.log.Error("persisting run record failed", slog.Any("error", err))
		}
	}
	if r.runs != nil {
		err := resilience.WithTimeout(ctx, reportTimeout, "run event publish", func(ctx context.Context) error {
			return r.runs.Publish(ctx, kafka.Event{Key: summary.CorpusID, Value: summary})
		})
		if err != nil {
			r.log.Error("publishing run event failed", slog.Any("error", err))
		}
	}
}

// BatchFailed publishes the ids of one failed batch for reprocessing.
func (r *RunReporter) BatchFailed(ctx context.Context, corpusID string, ids []string, reason string) {
	if r.failures == nil {
		return
	}
	event := kafka.Event{
		Key: corpusID,
		Value: map[string]any{
			"corpus_id": corpusID,
			"ids":       ids,
			"reason":    reason,
			"at":        time.Now().UTC(),
		},
	}
	err := resilience.WithTimeout(ctx, reportTimeout, "batch failure publish", func(ctx context.Context) error {
		return r.failures.Publish(ctx, event)
	})
	if err != nil {
		r.log.Error("publishing batch failure failed", slog.Any("error", err))
	}
}
