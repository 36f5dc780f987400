package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/eklundh/strandr/internal/pipeline"
	"github.com/eklundh/strandr/internal/runhistory"
	"github.com/eklundh/strandr/internal/search"
	"github.com/eklundh/strandr/pkg/kafka"
	"github.com/eklundh/strandr/pkg/postgres"
	pkgredis "github.com/eklundh/strandr/pkg/redis"
)

var runCmd = &cobra.Command{
	Use:   "run <corpus>",
	Short: "Ingest a corpus into its existing indices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		return runCorpus(ctx, a, args[0])
	},
}

var recreateCmd = &cobra.Command{
	Use:   "recreate <corpus>",
	Short: "Drop, recreate and reingest a corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		corpusID := args[0]
		schema, err := a.schema(corpusID)
		if err != nil {
			return err
		}
		if err := a.lifecycle.DeleteIndices(ctx, corpusID); err != nil {
			return err
		}
		if err := a.lifecycle.CreateIndices(ctx, schema); err != nil {
			return err
		}
		return runCorpus(ctx, a, corpusID)
	},
}

func runCorpus(ctx context.Context, a *app, corpusID string) error {
	reporter, closeReporter := newReporter(ctx, a)
	defer closeReporter()

	p := pipeline.New(a.engine, a.lifecycle, a.loader, a.cfg.Pipeline, a.cfg.Corpora, a.metrics, reporter)
	summary, err := p.Run(ctx, corpusID)
	if err != nil {
		return err
	}

	invalidateCache(ctx, a)

	fmt.Printf("corpus %s: %d documents, %d tokens from %d files in %s\n",
		corpusID, summary.Documents, summary.Tokens, summary.Files, summary.Elapsed.Round(time.Second))
	if summary.FilesFailed > 0 {
		fmt.Printf("warning: %d files failed to parse: %v\n", summary.FilesFailed, summary.FailedFiles)
	}
	if summary.BatchesFailed > 0 {
		fmt.Printf("warning: %d batches rejected by the engine\n", summary.BatchesFailed)
	}
	return nil
}

// newReporter wires the run-history store and operator event producers.
// Every sink is optional; an unreachable database or broker downgrades
// reporting instead of blocking ingestion.
func newReporter(ctx context.Context, a *app) (pipeline.Reporter, func()) {
	var history *runhistory.Store
	var closers []func() error

	db, err := postgres.New(a.cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, run history disabled", "error", err)
	} else {
		closers = append(closers, db.Close)
		history = runhistory.NewStore(db)
		if err := history.EnsureSchema(ctx); err != nil {
			slog.Warn("run history schema setup failed, run history disabled", "error", err)
			history = nil
		}
	}

	var runs, failures *kafka.Producer
	if a.cfg.Kafka.Enabled {
		runs = kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.PipelineRuns)
		failures = kafka.NewProducer(a.cfg.Kafka, a.cfg.Kafka.Topics.BulkFailures)
		closers = append(closers, runs.Close, failures.Close)
	}

	reporter := pipeline.NewRunReporter(history, runs, failures)
	return reporter, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("closing reporter sink failed", "error", err)
			}
		}
	}
}

// invalidateCache drops cached search results after the corpus changed.
func invalidateCache(ctx context.Context, a *app) {
	if !a.cfg.Redis.Enabled {
		return
	}
	client, err := pkgredis.NewClient(a.cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, stale cached results may persist", "error", err)
		return
	}
	defer client.Close()
	cache := search.NewCache(client, a.cfg.Redis, a.metrics)
	if err := cache.Invalidate(ctx); err != nil {
		slog.Warn("cache invalidation failed", "error", err)
	}
}
