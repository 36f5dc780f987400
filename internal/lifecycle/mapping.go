package lifecycle

import (
	"github.com/eklundh/strandr/internal/codec"
	"github.com/eklundh/strandr/internal/corpusconf"
)

type m = map[string]any

// documentIndexBody builds the settings and mappings of a corpus'
// document index. The primary text field is stored once, and every
// searchable annotation becomes an analyzer subfield whose pattern filter
// strips the encoded token string down to that one annotation's value.
func (mgr *Manager) documentIndexBody(schema *corpusconf.Schema) m {
	filters := m{
		"word_capture": m{
			"type":              "pattern_capture",
			"preserve_original": false,
			"patterns":          []string{"^(.*?)" + codec.AnnotationSeparator + ".*"},
		},
		"set_member_capture": m{
			"type":              "pattern_capture",
			"preserve_original": false,
			"patterns":          []string{"([^" + codec.SetDelimiter + "]+)"},
		},
		"empty_value_stop": m{
			"type":      "stop",
			"stopwords": []string{codec.EmptyValue},
		},
		"rank_strip": m{
			"type":              "pattern_capture",
			"preserve_original": false,
			"patterns":          []string{"^(.*?):.*"},
		},
	}
	analyzers := m{
		"token_analyzer": m{
			"tokenizer": "token_tokenizer",
			"filter":    []string{"lowercase", "word_capture"},
		},
		"standard_lower": m{
			"tokenizer": "standard",
			"filter":    []string{"lowercase"},
		},
		"similarity_tags_analyzer": m{
			"tokenizer": "whitespace",
			"filter":    []string{"lowercase"},
		},
	}

	textFields := m{}
	addAnnotation := func(name string, isSet bool) {
		filters[name+"_capture"] = m{
			"type":              "pattern_capture",
			"preserve_original": false,
			"patterns": []string{
				codec.AnnotationSeparator + name + "=(.*?)" + codec.AnnotationSeparator,
			},
		}
		chain := []string{"lowercase", name + "_capture"}
		if isSet {
			chain = append(chain, "set_member_capture")
		}
		chain = append(chain, "empty_value_stop")
		analyzers[name+"_analyzer"] = m{
			"tokenizer": "token_tokenizer",
			"filter":    chain,
		}
		textFields[name] = m{
			"type":        "text",
			"analyzer":    name + "_analyzer",
			"term_vector": "with_positions_offsets",
		}
	}

	addAnnotation("wid", false)
	for _, attr := range schema.WordAttrs {
		if attr.ShouldIndex() {
			addAnnotation(attr.Name, attr.Set)
		}
	}
	for tag, attrs := range schema.StructAttrs {
		for _, attr := range attrs {
			if attr.ShouldIndex() {
				addAnnotation(tag+"_"+attr.Name, attr.Set)
			}
		}
	}

	sourceExcludes := []string{"text", "similarity_tags"}
	properties := m{
		"text": m{
			"type":        "text",
			"analyzer":    "token_analyzer",
			"term_vector": "with_positions_offsets",
			"fields":      textFields,
		},
		"title": m{
			"type":     "text",
			"analyzer": "standard_lower",
			"fields":   m{"raw": m{"type": "keyword"}},
		},
		"doc_id":        m{"type": "keyword"},
		"corpus_id":     m{"type": "keyword"},
		"original_file": m{"type": "keyword"},
		"word_count":    m{"type": "integer"},
		"text_attributes": m{
			"type":    "object",
			"enabled": false,
		},
		"dump": m{
			"type":       "keyword",
			"index":      false,
			"doc_values": false,
		},
		"lines": m{
			"type":    "object",
			"enabled": false,
		},
		"similarity_tags": m{
			"type":     "text",
			"analyzer": "similarity_tags_analyzer",
		},
	}

	for _, name := range schema.TextAttrOrder {
		attr := schema.TextAttrs[name]
		if !attr.ShouldSave() {
			continue
		}
		properties["text_"+name] = textAttrMapping(mgr, attr, analyzers)
		sourceExcludes = append(sourceExcludes, "text_"+name)
	}

	return m{
		"settings": m{
			"number_of_shards":   mgr.cfg.DocumentShards,
			"number_of_replicas": 0,
			"analysis": m{
				"tokenizer": m{
					"token_tokenizer": m{
						"type":    "pattern",
						"pattern": codec.TokenSeparator,
					},
				},
				"filter":   filters,
				"analyzer": analyzers,
			},
		},
		"mappings": m{
			"dynamic":        "strict",
			"date_detection": false,
			"_source":        m{"excludes": sourceExcludes},
			"properties":     properties,
		},
	}
}

func textAttrMapping(mgr *Manager, attr corpusconf.Attribute, analyzers m) m {
	switch {
	case attr.Ranked:
		analyzers[attr.Name+"_ranked_analyzer"] = m{
			"tokenizer": "keyword",
			"filter":    []string{"rank_strip"},
		}
		return m{
			"type":      "text",
			"analyzer":  attr.Name + "_ranked_analyzer",
			"fielddata": true,
		}
	case attr.Type == "date":
		return m{"type": "date", "format": "yyyyMMdd"}
	case attr.Type == "year" || attr.Type == "integer":
		return m{"type": "integer"}
	case attr.Type == "double":
		return m{"type": "double", "ignore_malformed": true}
	default:
		return m{"type": "keyword"}
	}
}

// positionIndexBody builds the position side index: small records, one
// per token, keyed for doc_id plus position filtering. The term payload
// is stored as-is and never analyzed.
func (mgr *Manager) positionIndexBody() m {
	return m{
		"settings": m{
			"number_of_shards":   mgr.cfg.PositionShards,
			"number_of_replicas": 0,
		},
		"mappings": m{
			"dynamic":        "strict",
			"date_detection": false,
			"dynamic_templates": []m{
				{
					"term_values": m{
						"path_match":         "term.*",
						"match_mapping_type": "string",
						"mapping":            m{"type": "keyword"},
					},
				},
			},
			"properties": m{
				"corpus_id": m{"type": "keyword"},
				"doc_id":    m{"type": "keyword"},
				"position":  m{"type": "integer"},
				"term": m{
					"type":    "object",
					"dynamic": true,
				},
			},
		},
	}
}
