package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/positions"
)

// removeSearchSize caps how many documents one file removal touches.
const removeSearchSize = 10000

// RemoveDocument deletes one document and every position record derived
// from it. Position record ids are deterministic, so the records are
// enumerated from the stored word count instead of searched for.
func (m *Manager) RemoveDocument(ctx context.Context, corpusID, docID string) error {
	src, err := m.engine.GetDocument(ctx, engine.DocumentAlias(corpusID), docID)
	if err != nil {
		return err
	}
	var doc struct {
		WordCount int `json:"word_count"`
	}
	if err := json.Unmarshal(src, &doc); err != nil {
		return fmt.Errorf("decoding document %s: %w", docID, err)
	}
	if err := m.removeAll(ctx, corpusID, map[string]int{docID: doc.WordCount}); err != nil {
		return err
	}
	m.log.Info("removed document",
		slog.String("corpus", corpusID),
		slog.String("doc_id", docID),
		slog.Int("positions", doc.WordCount))
	return nil
}

// RemoveByFile deletes every document ingested from one source file,
// positions included. Returns the number of documents removed.
func (m *Manager) RemoveByFile(ctx context.Context, corpusID, filename string) (int, error) {
	body := &engine.SearchBody{
		Query:          engine.Term("original_file", filename),
		Size:           removeSearchSize,
		SourceIncludes: []string{"word_count"},
	}
	resp, err := m.engine.Search(ctx, engine.DocumentAlias(corpusID), body)
	if err != nil {
		return 0, fmt.Errorf("finding documents of %s: %w", filename, err)
	}
	if len(resp.Hits.Hits) == 0 {
		return 0, nil
	}
	wordCounts := make(map[string]int, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var doc struct {
			WordCount int `json:"word_count"`
		}
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return 0, fmt.Errorf("decoding document %s: %w", hit.ID, err)
		}
		wordCounts[hit.ID] = doc.WordCount
	}
	if err := m.removeAll(ctx, corpusID, wordCounts); err != nil {
		return 0, err
	}
	m.log.Info("removed file",
		slog.String("corpus", corpusID),
		slog.String("file", filename),
		slog.Int("documents", len(wordCounts)))
	return len(wordCounts), nil
}

// removeAll bulk-deletes the given documents and their position records.
func (m *Manager) removeAll(ctx context.Context, corpusID string, wordCounts map[string]int) error {
	var ops []engine.BulkOp
	for docID, wordCount := range wordCounts {
		ops = append(ops, engine.BulkOp{
			Action: "delete",
			Index:  engine.DocumentAlias(corpusID),
			ID:     docID,
		})
		for pos := 0; pos < wordCount; pos++ {
			ops = append(ops, engine.BulkOp{
				Action: "delete",
				Index:  engine.PositionAlias(corpusID),
				ID:     positions.ID(docID, pos),
			})
		}
	}
	result, err := m.engine.Bulk(ctx, ops)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", corpusID, err)
	}
	if len(result.FailedID) > 0 {
		return fmt.Errorf("deleting from %s: %d deletes rejected, first: %s",
			corpusID, len(result.FailedID), result.Failures[result.FailedID[0]])
	}
	return nil
}
