// Package positions derives the per-token side records that give random
// access to any position of a document. The primary text field is one
// opaque encoded string; slicing a concordance window out of it would mean
// fetching and decoding the whole document, so every token is also indexed
// as its own small record keyed by corpus, document, and position.
package positions

import (
	"fmt"

	"github.com/eklundh/strandr/internal/parser"
)

// Record is one token of one document, stored in the corpus' position
// index.
type Record struct {
	CorpusID string             `json:"corpus_id"`
	DocID    string             `json:"doc_id"`
	Position int                `json:"position"`
	Term     parser.TokenRecord `json:"term"`
}

// ID returns the deterministic identity of a position record. Re-indexing
// a document overwrites its records instead of duplicating them.
func ID(docID string, position int) string {
	return fmt.Sprintf("%s-%d", docID, position)
}

// ID returns the record's own identity.
func (r Record) ID() string {
	return ID(r.DocID, r.Position)
}

// FromDocument expands a parsed document into its position records. The
// document's bookkeeping fields must already be set.
func FromDocument(doc *parser.Document) []Record {
	records := make([]Record, len(doc.Tokens))
	for i, t := range doc.Tokens {
		records[i] = Record{
			CorpusID: doc.CorpusID,
			DocID:    doc.DocID,
			Position: t.Position,
			Term:     t,
		}
	}
	return records
}
