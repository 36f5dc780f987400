package positions

import (
	"testing"

	"github.com/eklundh/strandr/internal/codec"
	"github.com/eklundh/strandr/internal/parser"
)

func TestID(t *testing.T) {
	if got := ID("doc-1", 42); got != "doc-1-42" {
		t.Errorf("ID() = %q", got)
	}
}

func TestFromDocument(t *testing.T) {
	doc := &parser.Document{
		CorpusID: "vivill",
		DocID:    "doc-1",
		Tokens: []parser.TokenRecord{
			{Position: 0, Word: "det", Attrs: map[string]codec.Value{"pos": codec.String("PN")}},
			{Position: 1, Word: "blir", Attrs: map[string]codec.Value{"pos": codec.String("VB")}},
		},
	}

	records := FromDocument(doc)
	if len(records) != 2 {
		t.Fatalf("FromDocument() returned %d records, want 2", len(records))
	}
	for i, rec := range records {
		if rec.CorpusID != "vivill" || rec.DocID != "doc-1" {
			t.Errorf("record %d ids = %s/%s", i, rec.CorpusID, rec.DocID)
		}
		if rec.Position != i || rec.Term.Position != i {
			t.Errorf("record %d position = %d/%d", i, rec.Position, rec.Term.Position)
		}
	}
	if records[1].Term.Word != "blir" {
		t.Errorf("record 1 word = %q", records[1].Term.Word)
	}
}
