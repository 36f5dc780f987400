// Package kwic reconstructs keyword-in-context windows around match
// spans. The primary text field is one opaque encoded string per
// document, so context is rebuilt from the position side index: one
// batched position fetch per document, then in-memory slicing per span.
package kwic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/parser"
	"github.com/eklundh/strandr/internal/positions"
	apperrors "github.com/eklundh/strandr/pkg/errors"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/metrics"
)

// Span is one half-open match range [From, To).
type Span struct {
	From int
	To   int
}

// ParseSpan reads the "from-to" form the engine's highlighter emits.
func ParseSpan(raw string) (Span, error) {
	fromStr, toStr, ok := strings.Cut(raw, "-")
	if !ok {
		return Span{}, fmt.Errorf("malformed span %q", raw)
	}
	from, err := strconv.Atoi(fromStr)
	if err != nil {
		return Span{}, fmt.Errorf("malformed span %q: %w", raw, err)
	}
	to, err := strconv.Atoi(toStr)
	if err != nil {
		return Span{}, fmt.Errorf("malformed span %q: %w", raw, err)
	}
	return Span{From: from, To: to}, nil
}

// Window is one reconstructed concordance line.
type Window struct {
	Left  []parser.TokenRecord `json:"left_context"`
	Match []parser.TokenRecord `json:"match"`
	Right []parser.TokenRecord `json:"right_context"`
}

// Highlight is every window of one document.
type Highlight struct {
	DocID              string   `json:"doc_id"`
	Highlight          []Window `json:"highlight"`
	TotalDocHighlights int      `json:"total_doc_highlights"`
}

// Reconstructor builds windows from the position index.
type Reconstructor struct {
	engine      *engine.Client
	contextSize int
	previewSize int
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// New creates a Reconstructor with a symmetric context size and a preview
// window size for span-less hits.
func New(client *engine.Client, contextSize, previewSize int, m *metrics.Metrics) *Reconstructor {
	return &Reconstructor{
		engine:      client,
		contextSize: contextSize,
		previewSize: previewSize,
		metrics:     m,
		log:         logger.WithComponent("kwic"),
	}
}

// Windows reconstructs every span of one document. All needed positions,
// context included, are fetched in a single query; overlapping windows
// are deduplicated before the fetch.
func (r *Reconstructor) Windows(ctx context.Context, corpusID, docID string, spans []Span) (*Highlight, error) {
	want := make(map[int]bool)
	for _, span := range spans {
		for pos := span.From - r.contextSize; pos < span.To+r.contextSize; pos++ {
			if pos >= 0 {
				want[pos] = true
			}
		}
	}
	terms, err := r.FetchPositions(ctx, corpusID, docID, sortedKeys(want))
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 && len(want) > 0 {
		return nil, apperrors.Newf(apperrors.ErrIndexDrift, 500,
			"document %s/%s matched but has no position records", corpusID, docID)
	}

	h := &Highlight{DocID: docID, TotalDocHighlights: len(spans)}
	for _, span := range spans {
		h.Highlight = append(h.Highlight, sliceWindow(terms, span, r.contextSize))
		if r.metrics != nil {
			r.metrics.KwicWindowsTotal.Inc()
		}
	}
	return h, nil
}

// Preview returns the leading window of a document, used when a hit has
// no match span to anchor context on.
func (r *Reconstructor) Preview(ctx context.Context, corpusID, docID string) ([]parser.TokenRecord, error) {
	return r.FetchRange(ctx, corpusID, docID, 0, r.previewSize)
}

// FetchPositions fetches an explicit position set of one document.
func (r *Reconstructor) FetchPositions(ctx context.Context, corpusID, docID string, posSet []int) (map[int]parser.TokenRecord, error) {
	if len(posSet) == 0 {
		return map[int]parser.TokenRecord{}, nil
	}
	filter := engine.Terms("position", posSet)
	return r.fetch(ctx, corpusID, docID, filter, len(posSet))
}

// FetchRange fetches the contiguous positions [from, to) of one document.
func (r *Reconstructor) FetchRange(ctx context.Context, corpusID, docID string, from, to int) ([]parser.TokenRecord, error) {
	if to <= from {
		return nil, nil
	}
	filter := engine.Range("position", from, to-1)
	byPos, err := r.fetch(ctx, corpusID, docID, filter, to-from)
	if err != nil {
		return nil, err
	}
	out := make([]parser.TokenRecord, 0, len(byPos))
	for pos := from; pos < to; pos++ {
		if term, ok := byPos[pos]; ok {
			out = append(out, term)
		}
	}
	return out, nil
}

func (r *Reconstructor) fetch(ctx context.Context, corpusID, docID string, posFilter engine.M, size int) (map[int]parser.TokenRecord, error) {
	body := &engine.SearchBody{
		Query: engine.ConstantScore(engine.Bool(nil, nil, []engine.M{
			engine.Term("doc_id", docID),
			posFilter,
		}, nil)),
		Size: size,
	}
	resp, err := r.engine.Search(ctx, engine.PositionAlias(corpusID), body)
	if err != nil {
		return nil, fmt.Errorf("fetching positions for %s/%s: %w", corpusID, docID, err)
	}
	out := make(map[int]parser.TokenRecord, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var record positions.Record
		if err := json.Unmarshal(hit.Source, &record); err != nil {
			return nil, fmt.Errorf("decoding position record %s: %w", hit.ID, err)
		}
		out[record.Position] = record.Term
	}
	return out, nil
}

// sliceWindow cuts one span's left/match/right sequences out of a fetched
// position map. Positions outside the document are skipped, never
// synthesized, so windows at document edges come out shorter.
func sliceWindow(terms map[int]parser.TokenRecord, span Span, contextSize int) Window {
	w := Window{}
	for pos := span.From - contextSize; pos < span.From; pos++ {
		if term, ok := terms[pos]; ok {
			w.Left = append(w.Left, term)
		}
	}
	for pos := span.From; pos < span.To; pos++ {
		if term, ok := terms[pos]; ok {
			w.Match = append(w.Match, term)
		}
	}
	for pos := span.To; pos < span.To+contextSize; pos++ {
		if term, ok := terms[pos]; ok {
			w.Right = append(w.Right, term)
		}
	}
	return w
}

// Simple renders the window as one line of running text with the match
// wrapped in an em element. Source newlines between tokens become spaces
// so the line stays a line; trailing whitespace is trimmed.
func (w Window) Simple() string {
	var b strings.Builder
	for _, t := range w.Left {
		b.WriteString(t.Word)
		b.WriteString(flatten(t.Whitespace))
	}
	for i, t := range w.Match {
		if i == 0 {
			b.WriteString("<em>")
		}
		b.WriteString(t.Word)
		if i == len(w.Match)-1 {
			b.WriteString("</em>")
		} else {
			b.WriteString(flatten(t.Whitespace))
		}
	}
	if len(w.Match) > 0 {
		last := w.Match[len(w.Match)-1]
		b.WriteString(flatten(last.Whitespace))
	}
	for _, t := range w.Right {
		b.WriteString(t.Word)
		b.WriteString(flatten(t.Whitespace))
	}
	return strings.TrimRight(b.String(), " \t")
}

func flatten(whitespace string) string {
	ws := strings.ReplaceAll(whitespace, "\r", "")
	return strings.ReplaceAll(ws, "\n", " ")
}

func sortedKeys(set map[int]bool) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
