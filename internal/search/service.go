// Package search orchestrates query compilation, engine execution, and
// KWIC reconstruction into the public result envelope.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eklundh/strandr/internal/corpusconf"
	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/kwic"
	"github.com/eklundh/strandr/internal/lemma"
	"github.com/eklundh/strandr/internal/query"
	"github.com/eklundh/strandr/pkg/config"
	apperrors "github.com/eklundh/strandr/pkg/errors"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/metrics"
)

// sourceExcludes are fields never returned to callers: the encoded text
// field is an internal representation, the rest is operator-only.
var sourceExcludes = []string{"text", "original_file", "similarity_tags"}

// Service executes searches. Stateless per request; safe for concurrent
// use.
type Service struct {
	engine   *engine.Client
	loader   *corpusconf.Loader
	compiler *query.Compiler
	kwic     *kwic.Reconstructor
	lemmas   *lemma.Client
	cache    *Cache
	cfg      config.SearchConfig
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewService wires a Service. cache and metrics may be nil.
func NewService(
	client *engine.Client,
	loader *corpusconf.Loader,
	compiler *query.Compiler,
	reconstructor *kwic.Reconstructor,
	lemmas *lemma.Client,
	cache *Cache,
	cfg config.SearchConfig,
	m *metrics.Metrics,
) *Service {
	return &Service{
		engine:   client,
		loader:   loader,
		compiler: compiler,
		kwic:     reconstructor,
		lemmas:   lemmas,
		cache:    cache,
		cfg:      cfg,
		metrics:  m,
		log:      logger.WithComponent("search"),
	}
}

// Search runs one request, through the cache when one is configured.
func (s *Service) Search(ctx context.Context, req *Request) (*Envelope, error) {
	start := time.Now()
	if err := s.validate(req); err != nil {
		s.countQuery("rejected")
		return nil, err
	}
	if s.cache == nil {
		env, err := s.execute(ctx, req)
		s.observe(start, "bypass", err)
		return env, err
	}
	env, hit, err := s.cache.GetOrCompute(ctx, req, func() (*Envelope, error) {
		return s.execute(ctx, req)
	})
	status := "miss"
	if hit {
		status = "hit"
	}
	s.observe(start, status, err)
	return env, err
}

func (s *Service) validate(req *Request) error {
	if len(req.Corpora) == 0 {
		return apperrors.New(apperrors.ErrInvalidQuery, 400, "at least one corpus is required")
	}
	for _, corpusID := range req.Corpora {
		if !s.loader.IsCorpus(corpusID) {
			return apperrors.Newf(apperrors.ErrCorpusNotConfigured, 404,
				"%s is not a configured corpus", corpusID)
		}
	}
	if req.To == 0 {
		req.To = req.From + s.cfg.DefaultLimit
	}
	return query.ValidatePaging(req.From, req.To, s.cfg.MaxWindowSize, s.cfg.MaxPageDepth)
}

func (s *Service) execute(ctx context.Context, req *Request) (*Envelope, error) {
	var searchQuery engine.M
	if req.Text != "" {
		compiled, err := s.compiler.Compile(ctx, req.Text, query.Options{
			WordFormOnly: req.WordFormOnly,
			InOrder:      req.InOrder,
			Field:        req.Field,
		})
		if err != nil {
			return nil, err
		}
		searchQuery = compiled
	}
	searchQuery = req.TextFilter.Join(searchQuery)

	body := &engine.SearchBody{
		Query:          searchQuery,
		From:           req.From,
		Size:           req.To - req.From,
		SourceExcludes: sourceExcludes,
		TrackTotalHits: true,
	}
	if req.Text != "" {
		body.Highlight = highlightSpec()
	}

	resp, err := s.engine.Search(ctx, s.indices(req.Corpora), body)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Hits:         resp.Hits.Total.Value,
		Data:         make([]map[string]any, 0, len(resp.Hits.Hits)),
		Aggregations: resp.Aggregations,
		Suggest:      resp.Suggest,
	}
	for _, hit := range resp.Hits.Hits {
		item, err := s.buildItem(ctx, hit, req.SimpleHighlight)
		if err != nil {
			return nil, err
		}
		env.Data = append(env.Data, item)
	}
	return env, nil
}

// buildItem turns one engine hit into a result item with its KWIC
// highlight attached.
func (s *Service) buildItem(ctx context.Context, hit engine.Hit, simple bool) (map[string]any, error) {
	item := map[string]any{}
	if err := json.Unmarshal(hit.Source, &item); err != nil {
		return nil, fmt.Errorf("decoding hit %s: %w", hit.ID, err)
	}
	item["doc_id"] = hit.ID
	corpusID, _ := item["corpus_id"].(string)

	spans, err := parseSpans(hit.Highlight)
	if err != nil {
		return nil, fmt.Errorf("hit %s: %w", hit.ID, err)
	}
	if len(spans) == 0 {
		// filter-only hit: substitute a leading preview window
		preview, err := s.kwic.Preview(ctx, corpusID, hit.ID)
		if err != nil {
			return nil, err
		}
		item["highlight"] = kwic.Highlight{
			DocID:     hit.ID,
			Highlight: []kwic.Window{{Match: preview}},
		}
		return item, nil
	}

	highlight, err := s.kwic.Windows(ctx, corpusID, hit.ID, spans)
	if err != nil {
		return nil, err
	}
	if simple {
		rendered := make([]string, len(highlight.Highlight))
		for i, w := range highlight.Highlight {
			rendered[i] = w.Simple()
		}
		item["highlight"] = map[string]any{
			"doc_id":               highlight.DocID,
			"highlight":            rendered,
			"total_doc_highlights": highlight.TotalDocHighlights,
		}
	} else {
		item["highlight"] = highlight
	}
	return item, nil
}

func (s *Service) indices(corpora []string) string {
	aliases := make([]string, len(corpora))
	for i, corpusID := range corpora {
		aliases[i] = engine.DocumentAlias(corpusID)
	}
	return strings.Join(aliases, ",")
}

func (s *Service) countQuery(outcome string) {
	if s.metrics != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) observe(start time.Time, cacheStatus string, err error) {
	if s.metrics == nil {
		return
	}
	if err != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		return
	}
	s.metrics.SearchQueriesTotal.WithLabelValues("ok").Inc()
	s.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
}

// highlightSpec requests the positional highlighter, whose fragments are
// "from-to" span references rather than text snippets.
func highlightSpec() engine.M {
	return engine.M{
		"fields": engine.M{
			"positions": engine.M{"number_of_fragments": 0},
		},
	}
}

func parseSpans(highlight map[string][]string) ([]kwic.Span, error) {
	raw := highlight["positions"]
	spans := make([]kwic.Span, 0, len(raw))
	for _, r := range raw {
		span, err := kwic.ParseSpan(r)
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	return spans, nil
}
