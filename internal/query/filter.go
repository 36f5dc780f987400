package query

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/eklundh/strandr/internal/engine"
	apperrors "github.com/eklundh/strandr/pkg/errors"
)

// TextFilter restricts a search by text-level attributes. Keys are
// attribute field names; values are an exact term, a set of terms, or a
// range.
type TextFilter map[string]Filter

// Filter is one text-attribute constraint.
type Filter struct {
	Value  string
	Values []string
	Range  *RangeFilter
}

// RangeFilter bounds a numeric or date attribute, inclusive on both ends.
type RangeFilter struct {
	GTE any `json:"gte,omitempty"`
	LTE any `json:"lte,omitempty"`
}

// UnmarshalJSON accepts the three wire shapes: "value", ["a","b"], and
// {"range": {"gte": ..., "lte": ...}}. Anything else is rejected.
func (f *Filter) UnmarshalJSON(data []byte) error {
	*f = Filter{}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.Value = s
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err == nil {
		f.Values = values
		return nil
	}
	var obj struct {
		Range *RangeFilter `json:"range"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Range != nil {
		f.Range = obj.Range
		return nil
	}
	return apperrors.Newf(apperrors.ErrInvalidQuery, 400,
		"expression %s is not allowed in a text filter", string(data))
}

// ParseTextFilter decodes the text_filter request parameter.
func ParseTextFilter(raw string) (TextFilter, error) {
	if raw == "" {
		return nil, nil
	}
	var tf TextFilter
	if err := json.Unmarshal([]byte(raw), &tf); err != nil {
		if errors.Is(err, apperrors.ErrInvalidQuery) {
			return nil, err
		}
		return nil, apperrors.Newf(apperrors.ErrInvalidQuery, 400, "malformed text filter: %v", err)
	}
	return tf, nil
}

// Join ANDs the filter onto a search query as non-scoring clauses. Either
// argument may be nil. Keys are attribute names; the stored documents index
// text attributes under a text_ prefix.
func (tf TextFilter) Join(searchQuery engine.M) engine.M {
	if len(tf) == 0 {
		return searchQuery
	}
	names := make([]string, 0, len(tf))
	for name := range tf {
		names = append(names, name)
	}
	sort.Strings(names)

	var filters []engine.M
	for _, name := range names {
		f := tf[name]
		field := "text_" + name
		switch {
		case f.Range != nil:
			filters = append(filters, engine.Range(field, f.Range.GTE, f.Range.LTE))
		case f.Values != nil:
			filters = append(filters, engine.Terms(field, f.Values))
		default:
			filters = append(filters, engine.Term(field, f.Value))
		}
	}
	var must []engine.M
	if searchQuery != nil {
		must = []engine.M{searchQuery}
	}
	return engine.Bool(must, nil, filters, nil)
}
