package engine

import "encoding/json"

// M is one node of the engine's JSON query DSL. The DSL is open-ended and
// recursive, so constructor functions over a map alias beat a closed
// struct hierarchy here.
type M = map[string]any

// SearchBody is the request body of a search call.
type SearchBody struct {
	Query          M        `json:"query,omitempty"`
	From           int      `json:"from"`
	Size           int      `json:"size"`
	Sort           []M      `json:"sort,omitempty"`
	SourceIncludes []string `json:"-"`
	SourceExcludes []string `json:"-"`
	Highlight      M        `json:"highlight,omitempty"`
	Aggs           M        `json:"aggs,omitempty"`
	Suggest        M        `json:"suggest,omitempty"`
	TrackTotalHits bool     `json:"track_total_hits,omitempty"`
}

// MarshalJSON folds the source include and exclude lists into the _source
// key of the request.
func (b *SearchBody) MarshalJSON() ([]byte, error) {
	type alias SearchBody
	m := map[string]any{}
	raw, err := json.Marshal((*alias)(b))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(b.SourceIncludes) > 0 || len(b.SourceExcludes) > 0 {
		src := M{}
		if len(b.SourceIncludes) > 0 {
			src["includes"] = b.SourceIncludes
		}
		if len(b.SourceExcludes) > 0 {
			src["excludes"] = b.SourceExcludes
		}
		m["_source"] = src
	}
	return json.Marshal(m)
}

// SearchResponse is the engine's answer to a search call.
type SearchResponse struct {
	Took         int             `json:"took"`
	Hits         Hits            `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations,omitempty"`
	Suggest      json.RawMessage `json:"suggest,omitempty"`
}

// Hits is the hit envelope of a search response.
type Hits struct {
	Total struct {
		Value int `json:"value"`
	} `json:"total"`
	Hits []Hit `json:"hits"`
}

// Hit is one matching document.
type Hit struct {
	Index     string              `json:"_index"`
	ID        string              `json:"_id"`
	Score     float64             `json:"_score"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight,omitempty"`
}

// Term matches documents whose field holds exactly the given value.
func Term(field string, value any) M {
	return M{"term": M{field: value}}
}

// Terms matches documents whose field holds any of the given values.
// values is any JSON-encodable slice.
func Terms(field string, values any) M {
	return M{"terms": M{field: values}}
}

// MatchPhrase matches an analyzed phrase against a field.
func MatchPhrase(field, phrase string) M {
	return M{"match_phrase": M{field: phrase}}
}

// Range matches values between gte and lte, inclusive.
func Range(field string, gte, lte any) M {
	bounds := M{}
	if gte != nil {
		bounds["gte"] = gte
	}
	if lte != nil {
		bounds["lte"] = lte
	}
	return M{"range": M{field: bounds}}
}

// Bool combines clause groups. Nil groups are omitted.
func Bool(must, should, filter, mustNot []M) M {
	b := M{}
	if len(must) > 0 {
		b["must"] = must
	}
	if len(should) > 0 {
		b["should"] = should
	}
	if len(filter) > 0 {
		b["filter"] = filter
	}
	if len(mustNot) > 0 {
		b["must_not"] = mustNot
	}
	return M{"bool": b}
}

// SpanTerm matches one exact token in a positional field.
func SpanTerm(field string, value string) M {
	return M{"span_term": M{field: value}}
}

// SpanOr matches any of its clauses at one position.
func SpanOr(clauses []M) M {
	return M{"span_or": M{"clauses": clauses}}
}

// SpanMulti lifts a wildcard query into span position, for prefix and
// infix token patterns.
func SpanMulti(field, pattern string) M {
	return M{"span_multi": M{"match": M{"wildcard": M{field: M{"value": pattern}}}}}
}

// SpanNear matches its clauses within slop positions of each other,
// optionally in order. Slop zero with in-order clauses is a phrase.
func SpanNear(clauses []M, slop int, inOrder bool) M {
	return M{"span_near": M{
		"clauses":  clauses,
		"slop":     slop,
		"in_order": inOrder,
	}}
}

// FieldMasking makes a span clause from one positional field composable
// with clauses from another. Positional annotation fields share token
// positions with the primary text field, which is the only reason this is
// sound.
func FieldMasking(query M, field string) M {
	return M{"field_masking_span": M{"query": query, "field": field}}
}

// ConstantScore wraps a filter clause so it does not contribute to
// relevance.
func ConstantScore(filter M) M {
	return M{"constant_score": M{"filter": filter}}
}

// TermsAgg is a terms aggregation over a field.
func TermsAgg(field string, size int) M {
	return M{"terms": M{"field": field, "size": size}}
}

// MoreLikeThis finds documents whose fields resemble the like argument,
// either free text or {"_index": ..., "_id": ...} document references.
func MoreLikeThis(fields []string, like any) M {
	return M{"more_like_this": M{
		"fields":          fields,
		"like":            like,
		"min_term_freq":   1,
		"max_query_terms": 30,
	}}
}
