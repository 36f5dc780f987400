package corpusconf

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/eklundh/strandr/pkg/errors"
)

// Schema is a Config resolved into the closed set of fields the rest of the
// system works from. It is built once at corpus-load time so that the
// parser and query compiler never do stringly-typed config lookups per
// token.
type Schema struct {
	Config *Config

	// WordAttrs are the parseable word-level attributes.
	WordAttrs []Attribute
	// StructAttrs are the parseable attributes per structural element tag.
	StructAttrs map[string][]Attribute
	// TextAttrs are the parseable text-level attributes by name.
	TextAttrs map[string]Attribute
	// TextAttrOrder preserves config order of TextAttrs for mappings.
	TextAttrOrder []string
	// DiscardAttrs names text attributes parsed but not stored.
	DiscardAttrs []string
}

// Compile resolves a corpus Config into a Schema.
func Compile(cfg *Config) (*Schema, error) {
	s := &Schema{
		Config:      cfg,
		StructAttrs: make(map[string][]Attribute, len(cfg.StructAttrs)),
		TextAttrs:   make(map[string]Attribute, len(cfg.TextAttrs)),
	}
	seen := make(map[string]bool)
	for _, attr := range cfg.WordAttrs {
		if attr.Name == "" {
			return nil, fmt.Errorf("corpus %s: word attribute without a name", cfg.CorpusID)
		}
		if seen[attr.Name] {
			return nil, fmt.Errorf("corpus %s: duplicate word attribute %q", cfg.CorpusID, attr.Name)
		}
		seen[attr.Name] = true
		if !attr.ShouldParse() {
			continue
		}
		s.WordAttrs = append(s.WordAttrs, attr)
	}
	for tag, attrs := range cfg.StructAttrs {
		for _, attr := range attrs {
			if !attr.ShouldParse() {
				continue
			}
			s.StructAttrs[tag] = append(s.StructAttrs[tag], attr)
		}
	}
	for _, attr := range cfg.TextAttrs {
		if !attr.ShouldParse() {
			continue
		}
		s.TextAttrs[attr.Name] = attr
		s.TextAttrOrder = append(s.TextAttrOrder, attr.Name)
		if !attr.ShouldSave() {
			s.DiscardAttrs = append(s.DiscardAttrs, attr.Name)
		}
	}
	if err := s.validateDocumentID(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) validateDocumentID() error {
	strategy := s.Config.DocumentID
	switch strategy {
	case "", "filename", "generated":
		return nil
	}
	if _, ok := s.TextAttrs[strategy]; !ok {
		return fmt.Errorf("corpus %s: %q is not a text attribute, not possible to use for document ids",
			s.Config.CorpusID, strategy)
	}
	return nil
}

// DocumentID produces the id of a document per the corpus-configured
// strategy: the source file's task id, a fresh UUID, or the value of a
// designated text attribute (optionally hashed).
func (s *Schema) DocumentID(taskID string, textAttrs map[string]string) string {
	switch strategy := s.Config.DocumentID; strategy {
	case "", "filename":
		return taskID
	case "generated":
		return uuid.NewString()
	default:
		value, ok := textAttrs[strategy]
		if !ok || value == "" {
			return uuid.NewString()
		}
		if s.Config.DocumentIDHash {
			return hashID(value)
		}
		return value
	}
}

// hashID digests an attribute value into a short stable decimal id.
func hashID(value string) string {
	sum := md5.Sum([]byte(value))
	n := new(big.Int).SetBytes(sum[:])
	digits := n.String()
	if len(digits) > 12 {
		digits = digits[:12]
	}
	return digits
}

// Title resolves a document title by trying the configured strategies in
// order. Every document must receive a title; exhausting all strategies is
// a hard error.
func (s *Schema) Title(textAttrs map[string]string) (string, error) {
	for _, strategy := range s.Config.Title {
		if title := applyTitleStrategy(strategy, textAttrs); title != "" {
			return title, nil
		}
	}
	return "", apperrors.Newf(apperrors.ErrTitleMissing, 500,
		"corpus %s: no title strategy matched", s.Config.CorpusID)
}

func applyTitleStrategy(strategy TitleStrategy, textAttrs map[string]string) string {
	if strategy.Attribute != "" {
		return textAttrs[strategy.Attribute]
	}
	if strategy.Pattern == "" {
		return ""
	}
	args := make([]any, 0, len(strategy.Fields))
	for _, field := range strategy.Fields {
		value, ok := textAttrs[field]
		if !ok || value == "" {
			return ""
		}
		if translated, ok := strategy.Translations[value]; ok {
			value = translated
		}
		args = append(args, value)
	}
	title := fmt.Sprintf(strategy.Pattern, args...)
	if strings.Contains(title, "%!") {
		// fmt reports arity mismatches inline; treat as a failed strategy.
		return ""
	}
	return title
}
