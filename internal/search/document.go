package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/kwic"
	"github.com/eklundh/strandr/internal/parser"
	"github.com/eklundh/strandr/internal/query"
	apperrors "github.com/eklundh/strandr/pkg/errors"
)

// TokenLookup bounds the token range attached to a fetched document.
// Nil bounds mean the whole document.
type TokenLookup struct {
	From *int
	To   *int
}

// GetDocument fetches one document with its token lookup attached.
func (s *Service) GetDocument(ctx context.Context, corpusID, docID string, lookup TokenLookup) (map[string]any, error) {
	if !s.loader.IsCorpus(corpusID) {
		return nil, apperrors.Newf(apperrors.ErrCorpusNotConfigured, 404,
			"%s is not a configured corpus", corpusID)
	}
	src, err := s.engine.GetDocument(ctx, engine.DocumentAlias(corpusID), docID)
	if err != nil {
		return nil, err
	}
	item := map[string]any{}
	if err := json.Unmarshal(src, &item); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", docID, err)
	}
	item["doc_id"] = docID

	from, to := 0, int(asFloat(item["word_count"]))
	if lookup.From != nil {
		from = *lookup.From
	}
	if lookup.To != nil && *lookup.To < to {
		to = *lookup.To
	}
	tokens, err := s.kwic.FetchRange(ctx, corpusID, docID, from, to)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 && to > from {
		return nil, apperrors.Newf(apperrors.ErrIndexDrift, 500,
			"document %s/%s has no position records", corpusID, docID)
	}
	item["token_lookup"] = tokens
	return item, nil
}

// SearchInDocument finds the next matches of a query inside one known
// document, walking forward or backward from a current position.
func (s *Service) SearchInDocument(ctx context.Context, corpusID, docID, text, field string, currentPosition, size int, forward bool) (map[string]any, error) {
	if !s.loader.IsCorpus(corpusID) {
		return nil, apperrors.Newf(apperrors.ErrCorpusNotConfigured, 404,
			"%s is not a configured corpus", corpusID)
	}
	spanQuery, err := s.compiler.Compile(ctx, text, query.Options{Field: field})
	if err != nil {
		return nil, err
	}
	body := &engine.SearchBody{
		Query: engine.Bool(
			[]engine.M{{"ids": engine.M{"values": []string{docID}}}},
			[]engine.M{spanQuery},
			nil, nil,
		),
		Size:           1,
		SourceExcludes: sourceExcludes,
		Highlight:      highlightSpec(),
	}
	resp, err := s.engine.Search(ctx, engine.DocumentAlias(corpusID), body)
	if err != nil {
		return nil, err
	}
	if len(resp.Hits.Hits) == 0 {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404,
			"no document %s in %s", docID, corpusID)
	}
	hit := resp.Hits.Hits[0]

	item := map[string]any{}
	if err := json.Unmarshal(hit.Source, &item); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", docID, err)
	}
	item["doc_id"] = docID

	spans, err := parseSpans(hit.Highlight)
	if err != nil {
		return nil, err
	}
	starts := matchStarts(spans, currentPosition, size, forward)
	terms, err := s.kwic.FetchPositions(ctx, corpusID, docID, starts)
	if err != nil {
		return nil, err
	}
	matched := make([]parser.TokenRecord, 0, len(starts))
	for _, pos := range starts {
		if term, ok := terms[pos]; ok {
			matched = append(matched, term)
		}
	}
	item["highlight"] = matched
	return item, nil
}

// matchStarts selects the next match start positions past the cursor, in
// walk order.
func matchStarts(spans []kwic.Span, currentPosition, size int, forward bool) []int {
	starts := make([]int, 0, len(spans))
	for _, span := range spans {
		starts = append(starts, span.From)
	}
	if forward {
		sort.Ints(starts)
	} else {
		sort.Sort(sort.Reverse(sort.IntSlice(starts)))
	}
	selected := make([]int, 0, size)
	for _, pos := range starts {
		if forward && pos <= currentPosition || !forward && pos >= currentPosition {
			continue
		}
		selected = append(selected, pos)
		if size > 0 && len(selected) >= size {
			break
		}
	}
	return selected
}

// Related finds documents similar to one document, by its similarity
// tags.
func (s *Service) Related(ctx context.Context, corpusID, docID string, searchCorpora []string, from, to int) (*Envelope, error) {
	if len(searchCorpora) == 0 {
		searchCorpora = []string{corpusID}
	}
	req := &Request{Corpora: searchCorpora, From: from, To: to}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	mlt := engine.MoreLikeThis(
		[]string{"similarity_tags"},
		[]engine.M{{"_index": engine.DocumentAlias(corpusID), "_id": docID}},
	)
	body := &engine.SearchBody{
		Query:          engine.Bool([]engine.M{mlt}, nil, nil, []engine.M{{"ids": engine.M{"values": []string{docID}}}}),
		From:           req.From,
		Size:           req.To - req.From,
		SourceExcludes: sourceExcludes,
		TrackTotalHits: true,
	}
	resp, err := s.engine.Search(ctx, s.indices(searchCorpora), body)
	if err != nil {
		return nil, err
	}
	env := &Envelope{Hits: resp.Hits.Total.Value, Data: make([]map[string]any, 0, len(resp.Hits.Hits))}
	for _, hit := range resp.Hits.Hits {
		item, err := s.buildItem(ctx, hit, false)
		if err != nil {
			return nil, err
		}
		env.Data = append(env.Data, item)
	}
	return env, nil
}

// FieldValues aggregates the distinct values of one text attribute field
// across a corpus.
func (s *Service) FieldValues(ctx context.Context, corpusID, field string) (json.RawMessage, error) {
	cfg, err := s.loader.Load(corpusID)
	if err != nil {
		return nil, err
	}
	aggregatable := false
	for _, attr := range cfg.TextAttrs {
		if attr.Name == field && attr.InAggs {
			aggregatable = true
			break
		}
	}
	if !aggregatable {
		return nil, apperrors.Newf(apperrors.ErrInvalidQuery, 400,
			"%s is not an aggregatable field of corpus %s", field, corpusID)
	}
	body := &engine.SearchBody{
		Size: 0,
		Aggs: engine.M{"values": engine.TermsAgg("text_"+field, 10000)},
	}
	resp, err := s.engine.Search(ctx, engine.DocumentAlias(corpusID), body)
	if err != nil {
		return nil, err
	}
	return resp.Aggregations, nil
}

// Lemgrams proxies a lemgram lookup for interactive query building.
func (s *Service) Lemgrams(ctx context.Context, term string) ([]string, error) {
	expansions, err := s.lemmas.Lemgrams(ctx, []string{term})
	if err != nil {
		return nil, err
	}
	lemgrams := expansions[term]
	if lemgrams == nil {
		lemgrams = []string{}
	}
	return lemgrams, nil
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
