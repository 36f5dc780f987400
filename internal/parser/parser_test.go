package parser

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/eklundh/strandr/internal/codec"
	"github.com/eklundh/strandr/internal/corpusconf"
)

func testSchema(t *testing.T, cfg *corpusconf.Config) *corpusconf.Schema {
	t.Helper()
	if cfg.Split == "" {
		cfg.Split = "text"
	}
	if cfg.TokenElement == "" {
		cfg.TokenElement = "w"
	}
	if len(cfg.Title) == 0 {
		cfg.Title = []corpusconf.TitleStrategy{{Attribute: "title"}}
	}
	s, err := corpusconf.Compile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func parseOne(t *testing.T, schema *corpusconf.Schema, input string) *Document {
	t.Helper()
	docs, err := New(schema).Parse(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Parse() returned %d documents, want 1", len(docs))
	}
	return docs[0]
}

const basicInput = `<corpus>
<text title="Om framtiden" year="1975">
<w lemma="|den|" pos="PN">Det</w> <w lemma="|bli|" pos="VB">blir</w> <w lemma="" pos="JJ">roligt</w>.
</text>
</corpus>`

func basicSchema(t *testing.T) *corpusconf.Schema {
	return testSchema(t, &corpusconf.Config{
		CorpusID: "test",
		WordAttrs: []corpusconf.Attribute{
			{Name: "lemma", Set: true},
			{Name: "pos"},
		},
		TextAttrs: []corpusconf.Attribute{
			{Name: "title"},
			{Name: "year", Type: "year"},
		},
	})
}

func TestParsePositionsAreContiguous(t *testing.T) {
	doc := parseOne(t, basicSchema(t), basicInput)

	if doc.WordCount != 3 {
		t.Fatalf("WordCount = %d, want 3", doc.WordCount)
	}
	for i, tok := range doc.Tokens {
		if tok.Position != i {
			t.Errorf("token %d has position %d", i, tok.Position)
		}
		if got := tok.Attrs["wid"].Str(); got != strconv.Itoa(i) {
			t.Errorf("token %d wid = %q", i, got)
		}
	}
	if doc.Tokens[0].Word != "Det" || doc.Tokens[2].Word != "roligt" {
		t.Errorf("unexpected words: %q %q", doc.Tokens[0].Word, doc.Tokens[2].Word)
	}
}

func TestParseAnnotations(t *testing.T) {
	doc := parseOne(t, basicSchema(t), basicInput)

	first := doc.Tokens[0]
	if got := first.Attrs["pos"].Str(); got != "PN" {
		t.Errorf("pos = %q", got)
	}
	if got := first.Attrs["lemma"].Members(); len(got) != 1 || got[0] != "den" {
		t.Errorf("lemma = %v, want [den]", got)
	}
	// empty set attribute becomes absent, never a one-empty-member set
	if !doc.Tokens[2].Attrs["lemma"].IsNull() {
		t.Errorf("empty lemma = %#v, want null", doc.Tokens[2].Attrs["lemma"])
	}
	if got := first.Attrs["wid"].Str(); got != "0" {
		t.Errorf("wid = %q", got)
	}
}

func TestParseEncodedText(t *testing.T) {
	doc := parseOne(t, basicSchema(t), basicInput)

	tokens, err := codec.Decode(doc.Text)
	if err != nil {
		t.Fatalf("decoding text field: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("text field holds %d tokens, want 3", len(tokens))
	}
	if tokens[1].Word != "blir" {
		t.Errorf("token 1 word = %q", tokens[1].Word)
	}
	if got := tokens[1].Annotations["lemma"]; !got.Equal(codec.Set("bli")) {
		t.Errorf("encoded lemma = %#v", got)
	}
}

func TestParseWhitespaceReassemblesSource(t *testing.T) {
	doc := parseOne(t, basicSchema(t), basicInput)

	var b strings.Builder
	for _, tok := range doc.Tokens {
		b.WriteString(tok.Word)
		b.WriteString(tok.Whitespace)
	}
	got := b.String()
	if !strings.HasPrefix(got, "Det blir roligt.") {
		t.Errorf("reassembled text = %q", got)
	}
}

func TestParseTextAttributes(t *testing.T) {
	doc := parseOne(t, basicSchema(t), basicInput)

	if doc.Title != "Om framtiden" {
		t.Errorf("Title = %q", doc.Title)
	}
	if got := doc.TextAttrs["year"].Str(); got != "1975" {
		t.Errorf("year = %q", got)
	}
}

func TestParseMultipleSplitUnits(t *testing.T) {
	input := `<corpus>
<text title="a"><w pos="NN">ett</w></text>
<text title="b"><w pos="NN">två</w></text>
</corpus>`
	schema := testSchema(t, &corpusconf.Config{
		CorpusID:  "test",
		WordAttrs: []corpusconf.Attribute{{Name: "pos"}},
		TextAttrs: []corpusconf.Attribute{{Name: "title"}},
	})

	docs, err := New(schema).Parse(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Parse() returned %d documents, want 2", len(docs))
	}
	if docs[0].Title != "a" || docs[1].Title != "b" {
		t.Errorf("titles = %q, %q", docs[0].Title, docs[1].Title)
	}
	// positions restart per split unit
	if docs[1].Tokens[0].Position != 0 {
		t.Errorf("second document starts at position %d", docs[1].Tokens[0].Position)
	}
}

func TestParseStructuralSpans(t *testing.T) {
	input := `<corpus>
<text title="t"><w>före</w> <ne type="LOC"><w>Norra</w> <w>Kvill</w></ne> <w>efter</w></text>
</corpus>`
	schema := testSchema(t, &corpusconf.Config{
		CorpusID:    "test",
		StructAttrs: map[string][]corpusconf.Attribute{"ne": {{Name: "type"}}},
		TextAttrs:   []corpusconf.Attribute{{Name: "title"}},
	})

	doc := parseOne(t, schema, input)
	if doc.WordCount != 4 {
		t.Fatalf("WordCount = %d, want 4", doc.WordCount)
	}
	if doc.Tokens[0].Structs != nil {
		t.Errorf("token outside the span carries span info: %+v", doc.Tokens[0].Structs)
	}

	first := doc.Tokens[1].Structs["ne"]
	second := doc.Tokens[2].Structs["ne"]
	if first == nil || second == nil {
		t.Fatal("span members missing ne span info")
	}
	if !first.IsStart || second.IsStart {
		t.Errorf("IsStart = %v, %v; want true, false", first.IsStart, second.IsStart)
	}
	if first.StartPos != 1 || second.StartPos != 1 {
		t.Errorf("StartPos = %d, %d; want 1, 1", first.StartPos, second.StartPos)
	}
	// length back-filled on every member when the span closes
	if first.Length != 2 || second.Length != 2 {
		t.Errorf("Length = %d, %d; want 2, 2", first.Length, second.Length)
	}
	if got := first.Attrs["type"].Str(); got != "LOC" {
		t.Errorf("span attribute type = %q", got)
	}
}

func TestParseLinesAndDump(t *testing.T) {
	input := "<corpus>\n<text title=\"t\">\n<w>ett</w> <w>två</w>\n\n<w>tre</w>\n</text>\n</corpus>"
	schema := testSchema(t, &corpusconf.Config{
		CorpusID:  "test",
		TextAttrs: []corpusconf.Attribute{{Name: "title"}},
	})

	doc := parseOne(t, schema, input)
	if doc.WordCount != 3 {
		t.Fatalf("WordCount = %d, want 3", doc.WordCount)
	}

	var withTokens, empty int
	for _, line := range doc.Lines {
		if line.First == -1 && line.Last == -1 {
			empty++
		} else {
			withTokens++
		}
	}
	if withTokens != 2 {
		t.Errorf("lines with tokens = %d, want 2 (%v)", withTokens, doc.Lines)
	}
	if empty == 0 {
		t.Errorf("blank source line not recorded (%v)", doc.Lines)
	}
	if len(doc.Dump) != len(doc.Lines) {
		t.Errorf("dump has %d entries for %d lines", len(doc.Dump), len(doc.Lines))
	}

	joined := strings.Join(doc.Dump, "\n")
	if !strings.Contains(joined, "ett två") || !strings.Contains(joined, "tre") {
		t.Errorf("dump = %q", joined)
	}
}

func TestParseRankedAttribute(t *testing.T) {
	input := `<corpus>
<text title="t"><w sense="framtid..1:0.78|framtid..2:0.22">framtiden</w> <w sense="enda..1:1.0">enda</w></text>
</corpus>`
	schema := testSchema(t, &corpusconf.Config{
		CorpusID:  "test",
		WordAttrs: []corpusconf.Attribute{{Name: "sense", Set: true, Ranked: true}},
		TextAttrs: []corpusconf.Attribute{{Name: "title"}},
	})

	doc := parseOne(t, schema, input)

	first := doc.Tokens[0]
	if got := first.Attrs["sense"].Str(); got != "framtid..1" {
		t.Errorf("top-ranked sense = %q", got)
	}
	if got := first.Attrs["sense_ranked"].Members(); len(got) != 2 {
		t.Errorf("sense_ranked = %v", got)
	}

	// single-member ranked values carry no separate ranked list
	second := doc.Tokens[1]
	if got := second.Attrs["sense"].Str(); got != "enda..1" {
		t.Errorf("top-ranked sense = %q", got)
	}
	if _, ok := second.Attrs["sense_ranked"]; ok {
		t.Error("single-member ranked value kept a ranked list")
	}
}

func TestParseSkipsEmptyWords(t *testing.T) {
	input := `<corpus><text title="t"><w>ett</w><w>  </w><w>två</w></text></corpus>`
	schema := testSchema(t, &corpusconf.Config{
		CorpusID:  "test",
		TextAttrs: []corpusconf.Attribute{{Name: "title"}},
	})

	doc := parseOne(t, schema, input)
	if doc.WordCount != 2 {
		t.Fatalf("WordCount = %d, want 2", doc.WordCount)
	}
	if doc.Tokens[1].Word != "två" || doc.Tokens[1].Position != 1 {
		t.Errorf("token 1 = %+v", doc.Tokens[1])
	}
}

func TestParseMissingTitleFails(t *testing.T) {
	input := `<corpus><text><w>ett</w></text></corpus>`
	schema := testSchema(t, &corpusconf.Config{CorpusID: "test"})

	_, err := New(schema).Parse(context.Background(), strings.NewReader(input))
	if err == nil {
		t.Fatal("Parse() without a resolvable title succeeded")
	}
}

func TestParseSimilarityTags(t *testing.T) {
	input := `<corpus>
<text title="t"><w lemma="|framtid|" pos="NN">framtiden</w> <w lemma="|vara|" pos="VB">är</w> <w lemma="" pos="NN">Tengil</w></text>
</corpus>`
	schema := testSchema(t, &corpusconf.Config{
		CorpusID:       "test",
		SimilarityTags: true,
		WordAttrs: []corpusconf.Attribute{
			{Name: "lemma", Set: true},
			{Name: "pos"},
		},
		TextAttrs: []corpusconf.Attribute{{Name: "title"}},
	})

	doc := parseOne(t, schema, input)
	if doc.SimilarityTags != "framtid tengil" {
		t.Errorf("SimilarityTags = %q", doc.SimilarityTags)
	}
}

func TestParseDiscardedTextAttribute(t *testing.T) {
	f := false
	input := `<corpus><text title="t" url="http://example.org"><w>ett</w></text></corpus>`
	schema := testSchema(t, &corpusconf.Config{
		CorpusID: "test",
		TextAttrs: []corpusconf.Attribute{
			{Name: "title"},
			{Name: "url", Save: &f},
		},
	})

	doc := parseOne(t, schema, input)
	if _, ok := doc.TextAttrs["url"]; ok {
		t.Error("discarded attribute survived on the document")
	}
}

func TestParseCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	schema := testSchema(t, &corpusconf.Config{
		CorpusID:  "test",
		TextAttrs: []corpusconf.Attribute{{Name: "title"}},
	})
	_, err := New(schema).Parse(ctx, strings.NewReader(basicInput))
	if err == nil {
		t.Fatal("Parse() with a cancelled context succeeded")
	}
}
