// Package corpusconf loads per-corpus configuration files describing the
// annotation sets of a corpus, and compiles them into a closed Schema the
// parser, query compiler, and lifecycle manager work from.
//
// Corpus configs are YAML files under the configured config directory, one
// per corpus, optionally inheriting from a parent config whose attribute
// lists are merged in.
package corpusconf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	apperrors "github.com/eklundh/strandr/pkg/errors"
)

// Attribute describes one annotation: a word-level, structural, or
// text-level attribute of the corpus.
type Attribute struct {
	Name     string `yaml:"name"`
	NodeName string `yaml:"nodeName,omitempty"` // source attribute name when it differs
	Set      bool   `yaml:"set,omitempty"`
	Ranked   bool   `yaml:"ranked,omitempty"`
	Type     string `yaml:"type,omitempty"` // "", "date", "year", "integer", "double"
	Interval int    `yaml:"interval,omitempty"`
	Index    *bool  `yaml:"index,omitempty"` // default true
	Parse    *bool  `yaml:"parse,omitempty"` // default true
	Save     *bool  `yaml:"save,omitempty"`  // default true
	InAggs   bool   `yaml:"includeInAggregation,omitempty"`
}

// SourceName returns the attribute name as it appears in the source XML.
func (a Attribute) SourceName() string {
	if a.NodeName != "" {
		return a.NodeName
	}
	return a.Name
}

// ShouldIndex reports whether the attribute gets its own search field.
func (a Attribute) ShouldIndex() bool { return a.Index == nil || *a.Index }

// ShouldParse reports whether the parser reads the attribute at all.
func (a Attribute) ShouldParse() bool { return a.Parse == nil || *a.Parse }

// ShouldSave reports whether the attribute is kept on the stored document.
func (a Attribute) ShouldSave() bool { return a.Save == nil || *a.Save }

// TitleStrategy is one way of producing a document title. Strategies are
// tried in order; the first one that yields a non-empty title wins.
type TitleStrategy struct {
	// Attribute names a text attribute used directly as the title.
	Attribute string `yaml:"attribute,omitempty"`
	// Pattern is a fmt-style pattern filled with the values of Fields.
	Pattern string   `yaml:"pattern,omitempty"`
	Fields  []string `yaml:"fields,omitempty"`
	// Translations maps raw field values to display values before they are
	// substituted into Pattern.
	Translations map[string]string `yaml:"translations,omitempty"`
}

// Config is one corpus' configuration file.
type Config struct {
	CorpusID       string                 `yaml:"corpusId"`
	Parent         string                 `yaml:"parent,omitempty"`
	CorpusDir      string                 `yaml:"corpusDir,omitempty"`
	Split          string                 `yaml:"split,omitempty"` // split element, default "text"
	TokenElement   string                 `yaml:"tokenElement,omitempty"`
	DocumentID     string                 `yaml:"documentId"` // "filename", "generated", or a text attribute name
	DocumentIDHash bool                   `yaml:"documentIdHash,omitempty"`
	Title          []TitleStrategy        `yaml:"title"`
	SimilarityTags bool                   `yaml:"similarityTags,omitempty"`
	WordAttrs      []Attribute            `yaml:"wordAttributes"`
	StructAttrs    map[string][]Attribute `yaml:"structAttributes"`
	TextAttrs      []Attribute            `yaml:"textAttributes"`
}

// Loader reads and caches corpus configs from a directory.
type Loader struct {
	dir string
}

// NewLoader creates a Loader rooted at the given config directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// IsCorpus reports whether a config file exists for the corpus.
func (l *Loader) IsCorpus(corpusID string) bool {
	_, err := os.Stat(l.configPath(corpusID))
	return err == nil
}

// Corpora lists every configured corpus id.
func (l *Loader) Corpora() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("listing corpus configs: %w", err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		ids = append(ids, base[:len(base)-len(filepath.Ext(base))])
	}
	return ids, nil
}

// Load reads the config for a corpus, resolving and merging its parent
// chain.
func (l *Loader) Load(corpusID string) (*Config, error) {
	cfg, err := l.load(corpusID, 0)
	if err != nil {
		return nil, err
	}
	if cfg.CorpusID == "" {
		cfg.CorpusID = corpusID
	}
	if cfg.Split == "" {
		cfg.Split = "text"
	}
	if cfg.TokenElement == "" {
		cfg.TokenElement = "w"
	}
	return cfg, nil
}

func (l *Loader) load(corpusID string, depth int) (*Config, error) {
	if depth > 8 {
		return nil, fmt.Errorf("corpus config %s: parent chain too deep", corpusID)
	}
	path := l.configPath(corpusID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Newf(apperrors.ErrCorpusNotConfigured, 404, "%s is not a configured corpus", corpusID)
		}
		return nil, fmt.Errorf("reading corpus config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing corpus config %s: %w", path, err)
	}
	if cfg.Parent != "" {
		parent, err := l.load(cfg.Parent, depth+1)
		if err != nil {
			return nil, fmt.Errorf("resolving parent of %s: %w", corpusID, err)
		}
		mergeConfigs(&cfg, parent)
	}
	return &cfg, nil
}

func (l *Loader) configPath(corpusID string) string {
	return filepath.Join(l.dir, corpusID+".yaml")
}

// mergeConfigs folds a parent config into a child. Attribute lists are
// prepended (parent first), scalar fields only fill gaps.
func mergeConfigs(child *Config, parent *Config) {
	child.WordAttrs = append(append([]Attribute{}, parent.WordAttrs...), child.WordAttrs...)
	child.TextAttrs = append(append([]Attribute{}, parent.TextAttrs...), child.TextAttrs...)
	if child.StructAttrs == nil {
		child.StructAttrs = make(map[string][]Attribute, len(parent.StructAttrs))
	}
	for tag, attrs := range parent.StructAttrs {
		child.StructAttrs[tag] = append(append([]Attribute{}, attrs...), child.StructAttrs[tag]...)
	}
	if child.Split == "" {
		child.Split = parent.Split
	}
	if child.DocumentID == "" {
		child.DocumentID = parent.DocumentID
	}
	if len(child.Title) == 0 {
		child.Title = parent.Title
	}
	if child.CorpusDir == "" {
		child.CorpusDir = parent.CorpusDir
	}
}
