package parser

import (
	"encoding/json"
	"fmt"

	"github.com/eklundh/strandr/internal/codec"
)

// LineRange is the inclusive token-position range one source line closes
// over. A line with no tokens is recorded as {-1, -1}.
type LineRange struct {
	First int
	Last  int
}

// MarshalJSON renders the range as a two-element array, the shape stored on
// the document.
func (r LineRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.First, r.Last})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *LineRange) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("line range: %w", err)
	}
	r.First, r.Last = pair[0], pair[1]
	return nil
}

// SpanInfo carries one structural span's data on a member token. Length is
// back-filled when the span's closing tag is seen.
type SpanInfo struct {
	IsStart  bool                   `json:"is_start,omitempty"`
	StartPos int                    `json:"start_pos"`
	Length   int                    `json:"length"`
	Attrs    map[string]codec.Value `json:"attrs,omitempty"`
}

// TokenRecord is the full per-token record exposed for the position index:
// word form, trailing whitespace, word-level annotations, and the
// structural spans the token belongs to.
type TokenRecord struct {
	Position   int                    `json:"position"`
	Word       string                 `json:"word"`
	Whitespace string                 `json:"whitespace,omitempty"`
	Attrs      map[string]codec.Value `json:"attrs"`
	Structs    map[string]*SpanInfo   `json:"structs,omitempty"`
}

// Document is one split unit of a parsed source file. CorpusID, DocID, and
// OriginalFile are bookkeeping fields filled in by the ingestion pipeline;
// everything else is immutable once the parser emits the document.
type Document struct {
	CorpusID     string
	DocID        string
	OriginalFile string

	Title          string
	WordCount      int
	Text           string // encoded primary text field
	TextAttrs      map[string]codec.Value
	Dump           []string
	Lines          []LineRange
	SimilarityTags string

	// Tokens backs the position index records. It is not stored on the
	// document itself.
	Tokens []TokenRecord
}

// Source assembles the document body indexed into the engine: the encoded
// text field plus the text attributes, both as flattened text_<name>
// search fields and as the stored text_attributes object.
func (d *Document) Source() map[string]any {
	src := map[string]any{
		"corpus_id":     d.CorpusID,
		"doc_id":        d.DocID,
		"title":         d.Title,
		"original_file": d.OriginalFile,
		"word_count":    d.WordCount,
		"text":          d.Text,
		"dump":          d.Dump,
		"lines":         d.Lines,
	}
	attrs := make(map[string]codec.Value, len(d.TextAttrs))
	for name, value := range d.TextAttrs {
		src["text_"+name] = value
		attrs[name] = value
	}
	src["text_attributes"] = attrs
	if d.SimilarityTags != "" {
		src["similarity_tags"] = d.SimilarityTags
	}
	return src
}

// TextAttrStrings flattens the text attributes to plain strings (first
// member for set values) for document-id and title resolution.
func (d *Document) TextAttrStrings() map[string]string {
	out := make(map[string]string, len(d.TextAttrs))
	for name, value := range d.TextAttrs {
		out[name] = value.First()
	}
	return out
}
