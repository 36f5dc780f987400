// Package parser turns annotated corpus XML into documents ready for
// indexing. Files are read as a token stream, never as a DOM: corpus files
// routinely run to hundreds of megabytes, and memory is bounded by one
// split unit at a time.
package parser

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/eklundh/strandr/internal/codec"
	"github.com/eklundh/strandr/internal/corpusconf"
	"github.com/eklundh/strandr/pkg/logger"
)

// Parser parses corpus source files against one compiled corpus schema.
type Parser struct {
	schema *corpusconf.Schema
	log    *slog.Logger
}

// New creates a Parser for a corpus schema.
func New(schema *corpusconf.Schema) *Parser {
	return &Parser{
		schema: schema,
		log:    logger.WithCorpus("parser", schema.Config.CorpusID),
	}
}

// ParseFile parses one source file into its split-unit documents.
func (p *Parser) ParseFile(ctx context.Context, path string) ([]*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus file: %w", err)
	}
	defer f.Close()

	docs, err := p.Parse(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return docs, nil
}

// Parse parses corpus XML from a reader into documents, one per split
// element.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]*Document, error) {
	dec := xml.NewDecoder(r)
	split := p.schema.Config.Split
	tokenElem := p.schema.Config.TokenElement

	var docs []*Document
	var b *builder

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading token stream: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			switch {
			case b == nil && name == split:
				b = newBuilder(p.schema, t.Attr)
			case b == nil:
				// outside any split unit
			case name == tokenElem:
				b.startWord(t.Attr)
			default:
				b.startSpan(name, t.Attr)
			}

		case xml.EndElement:
			name := t.Name.Local
			switch {
			case b == nil:
			case name == tokenElem:
				b.endWord()
			case name == split:
				doc, err := b.finish()
				if err != nil {
					return nil, err
				}
				docs = append(docs, doc)
				b = nil
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			default:
				b.endSpan(name)
			}

		case xml.CharData:
			if b != nil {
				b.charData(string(t))
			}
		}
	}

	p.log.Debug("parsed input", slog.Int("documents", len(docs)))
	return docs, nil
}

// builder accumulates one split unit. Tokens are numbered contiguously
// from zero; every downstream position lookup depends on that.
type builder struct {
	schema *corpusconf.Schema

	textAttrs map[string]codec.Value
	tokens    []TokenRecord
	encoded   []codec.Token
	open      map[string]*openSpan

	inWord    bool
	wordBuf   strings.Builder
	wordAttrs []xml.Attr

	dump      []string
	lines     []LineRange
	lineFirst int
}

// openSpan is one live structural element. startIndex points into the
// token list so the span's length can be written back in place when the
// closing tag is seen.
type openSpan struct {
	attrs      map[string]codec.Value
	started    bool
	startPos   int
	startIndex int
}

func newBuilder(schema *corpusconf.Schema, attrs []xml.Attr) *builder {
	b := &builder{
		schema:    schema,
		textAttrs: make(map[string]codec.Value, len(schema.TextAttrs)),
		open:      make(map[string]*openSpan),
		dump:      []string{""},
	}
	src := attrMap(attrs)
	for name, attr := range schema.TextAttrs {
		b.textAttrs[name] = parseAttrValue(attr, src[attr.SourceName()])
	}
	return b
}

func (b *builder) startWord(attrs []xml.Attr) {
	b.inWord = true
	b.wordBuf.Reset()
	b.wordAttrs = attrs
}

func (b *builder) endWord() {
	defer func() { b.inWord = false }()
	word := strings.TrimSpace(b.wordBuf.String())
	if word == "" {
		return
	}
	pos := len(b.tokens)
	src := attrMap(b.wordAttrs)

	record := TokenRecord{
		Position: pos,
		Word:     word,
		Attrs:    make(map[string]codec.Value, len(b.schema.WordAttrs)+1),
	}
	flat := make(map[string]codec.Value, len(b.schema.WordAttrs)+len(b.open)+1)

	for _, attr := range b.schema.WordAttrs {
		value := parseAttrValue(attr, src[attr.SourceName()])
		if attr.Ranked {
			primary, ranked := topRanked(value)
			record.Attrs[attr.Name] = primary
			if len(ranked.Members()) > 1 {
				record.Attrs[attr.Name+"_ranked"] = ranked
			}
			flat[attr.Name] = primary
		} else {
			record.Attrs[attr.Name] = value
			flat[attr.Name] = value
		}
	}
	wid := codec.String(strconv.Itoa(pos))
	record.Attrs["wid"] = wid
	flat["wid"] = wid

	for tag, span := range b.open {
		if !span.started {
			span.started = true
			span.startPos = pos
			span.startIndex = pos
		}
		if record.Structs == nil {
			record.Structs = make(map[string]*SpanInfo, len(b.open))
		}
		record.Structs[tag] = &SpanInfo{
			IsStart:  pos == span.startPos,
			StartPos: span.startPos,
			Attrs:    span.attrs,
		}
		for name, value := range span.attrs {
			flat[tag+"_"+name] = value
		}
	}

	b.tokens = append(b.tokens, record)
	b.encoded = append(b.encoded, codec.Token{Position: pos, Word: word, Annotations: flat})
	b.dump[len(b.dump)-1] += word
}

func (b *builder) startSpan(tag string, attrs []xml.Attr) {
	schemaAttrs, ok := b.schema.StructAttrs[tag]
	if !ok {
		return
	}
	src := attrMap(attrs)
	values := make(map[string]codec.Value, len(schemaAttrs))
	for _, attr := range schemaAttrs {
		values[attr.Name] = parseAttrValue(attr, src[attr.SourceName()])
	}
	b.open[tag] = &openSpan{attrs: values}
}

func (b *builder) endSpan(tag string) {
	span, ok := b.open[tag]
	if !ok {
		return
	}
	delete(b.open, tag)
	if !span.started {
		return
	}
	length := len(b.tokens) - span.startPos
	for i := span.startIndex; i < len(b.tokens); i++ {
		if info := b.tokens[i].Structs[tag]; info != nil {
			info.Length = length
		}
	}
}

// charData handles text between tags. Inside a token element it is the
// word form; outside it is inter-token whitespace, recorded on the
// preceding token so the original text can be reassembled byte for byte.
func (b *builder) charData(data string) {
	if b.inWord {
		b.wordBuf.WriteString(data)
		return
	}
	if n := len(b.tokens); n > 0 {
		b.tokens[n-1].Whitespace += data
	}
	for {
		line, rest, found := strings.Cut(data, "\n")
		b.dump[len(b.dump)-1] += line
		if !found {
			return
		}
		b.closeLine()
		data = rest
	}
}

func (b *builder) closeLine() {
	last := len(b.tokens) - 1
	if last < b.lineFirst {
		b.lines = append(b.lines, LineRange{First: -1, Last: -1})
	} else {
		b.lines = append(b.lines, LineRange{First: b.lineFirst, Last: last})
	}
	b.lineFirst = len(b.tokens)
	b.dump = append(b.dump, "")
}

func (b *builder) finish() (*Document, error) {
	if last := len(b.tokens) - 1; last >= b.lineFirst || b.dump[len(b.dump)-1] != "" {
		b.closeLine()
	}
	// drop the empty entry closeLine leaves open past the last line
	b.dump = b.dump[:len(b.dump)-1]

	doc := &Document{
		WordCount: len(b.tokens),
		Text:      codec.EncodeText(b.encoded),
		TextAttrs: b.textAttrs,
		Dump:      b.dump,
		Lines:     b.lines,
		Tokens:    b.tokens,
	}
	for _, name := range b.schema.DiscardAttrs {
		delete(doc.TextAttrs, name)
	}
	title, err := b.schema.Title(doc.TextAttrStrings())
	if err != nil {
		return nil, err
	}
	doc.Title = title
	if b.schema.Config.SimilarityTags {
		doc.SimilarityTags = similarityTags(b.tokens)
	}
	return doc, nil
}

// similarityTags collects a bag of noun lemmas (falling back to the word
// form) used by more-like-this lookups.
func similarityTags(tokens []TokenRecord) string {
	var tags []string
	for _, t := range tokens {
		if t.Attrs["pos"].First() != "NN" {
			continue
		}
		lemmas := t.Attrs["lemma"].Members()
		if lemma := t.Attrs["lemma"].Str(); lemma != "" {
			lemmas = []string{lemma}
		}
		added := false
		for _, lemma := range lemmas {
			if lemma != "" && !strings.Contains(lemma, ":") {
				tags = append(tags, lemma)
				added = true
			}
		}
		if !added {
			tags = append(tags, strings.ToLower(t.Word))
		}
	}
	return strings.Join(tags, " ")
}

// parseAttrValue normalizes one raw attribute string per its schema entry:
// pipe-delimited sets are split with empty members dropped, and the XML
// spelling of a double infinity is mapped to the JSON one.
func parseAttrValue(attr corpusconf.Attribute, raw string) codec.Value {
	if attr.Type == "double" && raw == "inf" {
		raw = "Infinity"
	}
	if !attr.Set {
		return codec.String(raw)
	}
	var members []string
	for _, m := range strings.Split(raw, "|") {
		if m != "" {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		return codec.Null()
	}
	return codec.Set(members...)
}

// topRanked reduces a ranked set ("value:rank" members, best first) to its
// top value, returning the raw set alongside.
func topRanked(value codec.Value) (codec.Value, codec.Value) {
	members := value.Members()
	if len(members) == 0 {
		if s := value.Str(); s != "" {
			members = []string{s}
		}
	}
	if len(members) == 0 {
		return codec.Null(), codec.Null()
	}
	top, _, _ := strings.Cut(members[0], ":")
	return codec.String(top), codec.Set(members...)
}

func attrMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}
