package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eklundh/strandr/internal/engine"
)

// uploader is the consumer side of a run: it partitions parsed results
// into size-bounded batches and fans them out to the upload pool.
type uploader struct {
	p        *Pipeline
	corpusID string
	totalKB  int64
	summary  *RunSummary
	log      *slog.Logger

	mu sync.Mutex // guards the summary's upload counters
}

func newUploader(p *Pipeline, corpusID string, totalKB int64, summary *RunSummary, log *slog.Logger) *uploader {
	return &uploader{
		p:        p,
		corpusID: corpusID,
		totalKB:  totalKB,
		summary:  summary,
		log:      log,
	}
}

// drain consumes parse results until the channel closes, flushing a batch
// whenever it crosses the size threshold or the operation cap. Batches
// upload concurrently; completion order does not matter.
func (u *uploader) drain(ctx context.Context, results <-chan fileResult) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(u.p.cfg.UploadWorkers)

	var batch []engine.BulkOp
	batchKB := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ops, kb := batch, batchKB
		batch, batchKB = nil, 0
		group.Go(func() error {
			u.upload(gctx, ops, kb)
			return nil
		})
	}

	for result := range results {
		if u.p.metrics != nil {
			u.p.metrics.PipelineQueueDepth.Set(float64(len(results)))
		}
		batch = append(batch, result.ops...)
		batchKB += result.sizeKB
		u.summary.Documents += result.documents
		u.summary.Tokens += result.tokens
		if int64(batchKB) >= u.p.cfg.BatchSizeKB || len(batch) >= u.p.cfg.MaxBatchOps {
			flush()
		}
	}
	flush()
	return group.Wait()
}

// upload issues one bulk call. A failed batch is logged with every
// affected id and reported, never retried here: re-running ingestion for
// the affected files is the recovery path.
func (u *uploader) upload(ctx context.Context, ops []engine.BulkOp, kb int) {
	result, err := u.p.engine.Bulk(ctx, ops)
	if err != nil {
		ids := make([]string, len(ops))
		for i, op := range ops {
			ids[i] = op.ID
		}
		u.log.Error("batch upload failed",
			slog.Int("ops", len(ops)),
			slog.Any("error", err),
			slog.Any("affected_ids", ids))
		u.record(kb, false)
		if u.p.reporter != nil {
			u.p.reporter.BatchFailed(ctx, u.corpusID, ids, err.Error())
		}
		return
	}
	if len(result.FailedID) > 0 {
		for _, id := range result.FailedID {
			u.log.Error("document rejected by engine",
				slog.String("id", id),
				slog.String("reason", result.Failures[id]))
		}
		u.record(kb, false)
		if u.p.reporter != nil {
			u.p.reporter.BatchFailed(ctx, u.corpusID, result.FailedID, "partial bulk failure")
		}
		return
	}
	u.record(kb, true)
}

func (u *uploader) record(kb int, ok bool) {
	u.mu.Lock()
	u.summary.Batches++
	if ok {
		u.summary.UploadedKB += int64(kb)
	} else {
		u.summary.BatchesFailed++
		u.summary.FailedKB += int64(kb)
	}
	// Progress counts processed volume; only UploadedKB counts as stored.
	processed := u.summary.UploadedKB + u.summary.FailedKB
	u.mu.Unlock()

	if u.p.metrics != nil {
		status := "ok"
		if !ok {
			status = "failed"
		}
		u.p.metrics.BatchesUploadedTotal.WithLabelValues(status).Inc()
		u.p.metrics.BatchUploadBytes.Observe(float64(kb) * 1024)
	}
	if u.totalKB > 0 {
		u.log.Info("batch uploaded",
			slog.Int("batch_kb", kb),
			slog.Int64("done_percent", processed*100/u.totalKB))
	}
}
