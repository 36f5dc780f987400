package search

import (
	"encoding/json"

	"github.com/eklundh/strandr/internal/query"
)

// Request is one search over one or more corpora.
type Request struct {
	Corpora []string `json:"corpora"`
	// Text is the query expression; empty means filter-only.
	Text string `json:"text"`
	// Field restricts matching to one annotation field.
	Field        string           `json:"field,omitempty"`
	WordFormOnly bool             `json:"word_form_only,omitempty"`
	InOrder      bool             `json:"in_order,omitempty"`
	TextFilter   query.TextFilter `json:"text_filter,omitempty"`
	From         int              `json:"from"`
	To           int              `json:"to"`
	// SimpleHighlight renders each match window as one string instead of
	// token lists.
	SimpleHighlight bool `json:"simple_highlight,omitempty"`
}

// Envelope is the result of a search: total hit count plus one item per
// returned document.
type Envelope struct {
	Hits         int              `json:"hits"`
	Data         []map[string]any `json:"data"`
	Aggregations json.RawMessage  `json:"aggregations,omitempty"`
	Suggest      json.RawMessage  `json:"suggest,omitempty"`
}
