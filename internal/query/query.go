// Package query compiles user search expressions into the engine's span
// query DSL. A query is a sequence of slots; each slot matches one token
// position through its lemgram alternatives or its word form, and slots
// are sequenced positionally, in order or as a bag.
package query

import (
	"context"
	"log/slog"
	"strings"

	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/lemma"
	apperrors "github.com/eklundh/strandr/pkg/errors"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/metrics"
)

// phraseBoost prefers the in-order interpretation over the bag match when
// both are searched. Tunable; only relative order of the two matters.
const phraseBoost = 2.0

// Options controls one compilation.
type Options struct {
	// WordFormOnly skips lemgram expansion for every slot.
	WordFormOnly bool
	// InOrder restricts multi-slot queries to strict phrase matches.
	InOrder bool
	// Field, when set, matches every slot against one annotation field
	// directly instead of lemgram-or-word.
	Field string
}

// Slot is one token position of a tokenized query.
type Slot struct {
	Term string
	// Exact marks a slot that came from a quoted phrase and must not be
	// lemgram-expanded.
	Exact bool
}

// Compiler builds engine queries. Safe for concurrent use.
type Compiler struct {
	lemmas  *lemma.Client
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewCompiler creates a Compiler. lemmas may be nil, in which case every
// slot compiles to a word-form match.
func NewCompiler(lemmas *lemma.Client, m *metrics.Metrics) *Compiler {
	return &Compiler{
		lemmas:  lemmas,
		metrics: m,
		log:     logger.WithComponent("query-compiler"),
	}
}

// Tokenize splits a raw query on whitespace, honoring double-quoted
// phrases as runs of exact slots. An unterminated quote extends to the
// end of the string.
func Tokenize(raw string) []Slot {
	var slots []Slot
	quoted := false
	for _, part := range strings.Split(raw, `"`) {
		for _, term := range strings.Fields(part) {
			slots = append(slots, Slot{Term: term, Exact: quoted})
		}
		quoted = !quoted
	}
	return slots
}

// Compile turns a raw query string into one engine span query. Every slot
// must match something concrete: an empty slot is a request error, never
// a match-all.
func (c *Compiler) Compile(ctx context.Context, raw string, opts Options) (engine.M, error) {
	slots := Tokenize(raw)
	if len(slots) == 0 {
		return nil, apperrors.New(apperrors.ErrEmptyQuerySlot, 400, "only non-empty tokens allowed")
	}

	if opts.Field != "" {
		clauses := make([]engine.M, len(slots))
		for i, slot := range slots {
			clauses[i] = engine.SpanTerm("text."+opts.Field, slot.Term)
		}
		return c.sequence(clauses, opts.InOrder), nil
	}

	expansions, err := c.expand(ctx, slots, opts.WordFormOnly)
	if err != nil {
		return nil, err
	}

	clauses := make([]engine.M, len(slots))
	for i, slot := range slots {
		clause, err := c.slotClause(slot, expansions[slot.Term])
		if err != nil {
			return nil, err
		}
		clauses[i] = clause
	}
	return c.sequence(clauses, opts.InOrder), nil
}

// expand fetches lemgrams for every expandable slot in one batched call.
func (c *Compiler) expand(ctx context.Context, slots []Slot, wordFormOnly bool) (map[string][]string, error) {
	if c.lemmas == nil || wordFormOnly {
		return map[string][]string{}, nil
	}
	var terms []string
	seen := make(map[string]bool)
	for _, slot := range slots {
		if slot.Exact || strings.Contains(slot.Term, "*") || seen[slot.Term] {
			continue
		}
		seen[slot.Term] = true
		terms = append(terms, slot.Term)
	}
	if len(terms) == 0 {
		return map[string][]string{}, nil
	}
	expansions, err := c.lemmas.Lemgrams(ctx, terms)
	if err != nil {
		if c.metrics != nil {
			c.metrics.LemgramLookups.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if c.metrics != nil {
		for _, term := range terms {
			if len(expansions[term]) > 0 {
				c.metrics.LemgramLookups.WithLabelValues("expanded").Inc()
			} else {
				c.metrics.LemgramLookups.WithLabelValues("word_fallback").Inc()
			}
		}
	}
	return expansions, nil
}

// slotClause builds the disjunction for one slot: lemgram alternatives
// when the slot expanded, the word form otherwise. Lemgram matches are
// masked back onto the text field so mixed slots still sequence
// positionally.
func (c *Compiler) slotClause(slot Slot, lemgrams []string) (engine.M, error) {
	if slot.Term == "" {
		return nil, apperrors.New(apperrors.ErrEmptyQuerySlot, 400, "only non-empty tokens allowed")
	}
	if len(lemgrams) > 0 && !slot.Exact {
		terms := make([]engine.M, len(lemgrams))
		for i, lemgram := range lemgrams {
			terms[i] = engine.SpanTerm("text.lemgram", strings.ToLower(lemgram))
		}
		if len(terms) == 1 {
			return engine.FieldMasking(terms[0], "text"), nil
		}
		return engine.FieldMasking(engine.SpanOr(terms), "text"), nil
	}
	if strings.Contains(slot.Term, "*") {
		return engine.SpanMulti("text", slot.Term), nil
	}
	return engine.SpanTerm("text", slot.Term), nil
}

// sequence combines slot clauses. A single slot stands alone. Multiple
// slots become a zero-slop ordered span sequence; in unordered mode the
// bag-of-slots alternative is ORed in with the phrase match boosted above
// it.
func (c *Compiler) sequence(clauses []engine.M, inOrder bool) engine.M {
	if len(clauses) == 1 {
		return clauses[0]
	}
	phrase := engine.SpanNear(clauses, 0, true)
	if inOrder {
		return phrase
	}
	boosted := engine.M{"span_near": engine.M{
		"clauses":  clauses,
		"slop":     0,
		"in_order": true,
		"boost":    phraseBoost,
	}}
	bag := make([]engine.M, len(clauses))
	copy(bag, clauses)
	return engine.Bool(nil, []engine.M{boosted, engine.Bool(bag, nil, nil, nil)}, nil, nil)
}

// ValidatePaging enforces the hard paging bounds: the window must be
// well-formed, no wider than maxWindow, and may not reach past maxDepth.
// Violations are request errors, never silently clamped.
func ValidatePaging(from, to, maxWindow, maxDepth int) error {
	if from < 0 || to < from {
		return apperrors.Newf(apperrors.ErrPagingBounds, 400,
			"invalid paging window from=%d to=%d", from, to)
	}
	if to-from > maxWindow {
		return apperrors.Newf(apperrors.ErrPagingBounds, 400,
			"window of %d hits exceeds the %d limit", to-from, maxWindow)
	}
	if to > maxDepth {
		return apperrors.Newf(apperrors.ErrPagingBounds, 400,
			"paging past %d not supported, got to=%d", maxDepth, to)
	}
	return nil
}
