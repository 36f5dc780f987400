// Package runhistory persists one audit record per ingestion run.
package runhistory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eklundh/strandr/pkg/postgres"
)

// Record is one completed (or partially failed) pipeline run.
type Record struct {
	ID            string    `json:"id"`
	CorpusID      string    `json:"corpus_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Files         int       `json:"files"`
	FilesFailed   int       `json:"files_failed"`
	Documents     int       `json:"documents"`
	Tokens        int       `json:"tokens"`
	Batches       int       `json:"batches"`
	BatchesFailed int       `json:"batches_failed"`
	UploadedKB    int64     `json:"uploaded_kb"`
	ParseWorkers  int       `json:"parse_workers"`
	UploadWorkers int       `json:"upload_workers"`
}

// Store reads and writes run records.
type Store struct {
	db *postgres.Client
}

// NewStore creates a Store.
func NewStore(db *postgres.Client) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the run history table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id             UUID PRIMARY KEY,
			corpus_id      TEXT NOT NULL,
			started_at     TIMESTAMPTZ NOT NULL,
			finished_at    TIMESTAMPTZ NOT NULL,
			files          INTEGER NOT NULL,
			files_failed   INTEGER NOT NULL,
			documents      INTEGER NOT NULL,
			tokens         INTEGER NOT NULL,
			batches        INTEGER NOT NULL,
			batches_failed INTEGER NOT NULL,
			uploaded_kb    BIGINT NOT NULL,
			parse_workers  INTEGER NOT NULL,
			upload_workers INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS pipeline_runs_corpus_idx
			ON pipeline_runs (corpus_id, started_at DESC);`
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, ddl)
		return err
	})
}

// Insert stores a run record, assigning its id.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	const stmt = `
		INSERT INTO pipeline_runs (
			id, corpus_id, started_at, finished_at,
			files, files_failed, documents, tokens,
			batches, batches_failed, uploaded_kb,
			parse_workers, upload_workers
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, stmt,
			rec.ID, rec.CorpusID, rec.StartedAt, rec.FinishedAt,
			rec.Files, rec.FilesFailed, rec.Documents, rec.Tokens,
			rec.Batches, rec.BatchesFailed, rec.UploadedKB,
			rec.ParseWorkers, rec.UploadWorkers)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run record for %s: %w", rec.CorpusID, err)
	}
	return nil
}

// Recent returns the latest runs of one corpus, newest first.
func (s *Store) Recent(ctx context.Context, corpusID string, limit int) ([]Record, error) {
	const stmt = `
		SELECT id, corpus_id, started_at, finished_at,
			files, files_failed, documents, tokens,
			batches, batches_failed, uploaded_kb,
			parse_workers, upload_workers
		FROM pipeline_runs
		WHERE corpus_id = $1
		ORDER BY started_at DESC
		LIMIT $2`
	var records []Record
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, stmt, corpusID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec Record
			err := rows.Scan(&rec.ID, &rec.CorpusID, &rec.StartedAt, &rec.FinishedAt,
				&rec.Files, &rec.FilesFailed, &rec.Documents, &rec.Tokens,
				&rec.Batches, &rec.BatchesFailed, &rec.UploadedKB,
				&rec.ParseWorkers, &rec.UploadWorkers)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs for %s: %w", corpusID, err)
	}
	return records, nil
}
