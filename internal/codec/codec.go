// Package codec encodes tokens and their annotation maps into the
// delimiter-based strings stored in the search engine's text fields, and
// decodes stored field values back into structured tokens.
//
// The encoded form of one token is the word form followed by every
// annotation rendered as name=value, each preceded by the annotation
// separator, with one trailing separator:
//
//	framtid␞lemma=framtid␞pos=NN␞
//
// A whole text field is the position-ordered join of encoded tokens on the
// token separator. The per-annotation analyzers installed by the lifecycle
// manager extract a single annotation's value from this shape by pattern
// capture, which is why the separators are reserved and why an absent value
// must still be lexically present as the empty-value sentinel.
package codec

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/eklundh/strandr/pkg/errors"
)

// Reserved delimiters. These are unassigned-symbol code points that never
// occur in corpus text.
const (
	TokenSeparator      = "␝" // joins encoded tokens into the text field
	AnnotationSeparator = "␞" // wraps each name=value pair
	SetDelimiter        = "␟" // wraps and joins members of set values
	EmptyValue          = "∅" // sentinel for an absent value
)

// Token is one token of a document: its position, word form, the whitespace
// that followed it in the source, and its annotations.
type Token struct {
	Position    int
	Word        string
	Whitespace  string
	Annotations map[string]Value
}

// Encode renders a single token's word form and annotations. Annotations are
// sorted by name so the output is deterministic.
func Encode(word string, annotations map[string]Value) string {
	names := make([]string, 0, len(annotations))
	for name := range annotations {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(word)
	for _, name := range names {
		b.WriteString(AnnotationSeparator)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(annotations[name].encode())
	}
	b.WriteString(AnnotationSeparator)
	return b.String()
}

// EncodeText joins the encoded forms of tokens, ordered by position, into
// the value stored in the primary text field.
func EncodeText(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = Encode(t.Word, t.Annotations)
	}
	return strings.Join(parts, TokenSeparator)
}

// Decode splits a stored text field value back into tokens. Positions are
// assigned from the token order. Malformed input is an error, never a
// silently dropped token: a gap in position numbering would corrupt every
// downstream position-indexed lookup.
func Decode(raw string) ([]Token, error) {
	if raw == "" {
		return nil, nil
	}
	encoded := strings.Split(raw, TokenSeparator)
	tokens := make([]Token, 0, len(encoded))
	for i, e := range encoded {
		t, err := DecodeToken(e)
		if err != nil {
			return nil, fmt.Errorf("token at position %d: %w", i, err)
		}
		t.Position = i
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// DecodeToken parses one encoded token string.
func DecodeToken(encoded string) (Token, error) {
	parts := strings.Split(encoded, AnnotationSeparator)
	if len(parts) < 2 || parts[len(parts)-1] != "" {
		return Token{}, apperrors.Newf(apperrors.ErrMalformedToken, 500,
			"missing trailing annotation separator in %q", encoded)
	}
	t := Token{
		Word:        parts[0],
		Annotations: make(map[string]Value, len(parts)-2),
	}
	for _, pair := range parts[1 : len(parts)-1] {
		name, rawValue, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return Token{}, apperrors.Newf(apperrors.ErrMalformedToken, 500,
				"annotation %q is not a name=value pair", pair)
		}
		t.Annotations[name] = decodeValue(rawValue)
	}
	return t, nil
}

// Value is one annotation value: a single string, a set of strings, or
// absent. The zero Value is absent.
type Value struct {
	str   string
	set   []string
	isSet bool
	valid bool
}

// String returns a single-valued annotation Value. The empty string encodes
// as the empty-value sentinel, so it is indistinguishable from Null after a
// round trip.
func String(s string) Value {
	return Value{str: s, valid: s != ""}
}

// Set returns a set-valued annotation Value.
func Set(members ...string) Value {
	return Value{set: members, isSet: true, valid: true}
}

// Null returns the absent annotation Value.
func Null() Value {
	return Value{}
}

// IsNull reports whether the value is absent.
func (v Value) IsNull() bool { return !v.valid }

// IsSet reports whether the value is set-valued.
func (v Value) IsSet() bool { return v.valid && v.isSet }

// Str returns the single string value; empty for set or absent values.
func (v Value) Str() string {
	if !v.valid || v.isSet {
		return ""
	}
	return v.str
}

// Members returns the set members; nil for scalar or absent values.
func (v Value) Members() []string {
	if !v.valid || !v.isSet {
		return nil
	}
	return v.set
}

// First returns the single value, or the first set member, or "".
func (v Value) First() string {
	if !v.valid {
		return ""
	}
	if v.isSet {
		if len(v.set) == 0 {
			return ""
		}
		return v.set[0]
	}
	return v.str
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.valid != o.valid || v.isSet != o.isSet {
		return false
	}
	if !v.valid {
		return true
	}
	if !v.isSet {
		return v.str == o.str
	}
	if len(v.set) != len(o.set) {
		return false
	}
	for i := range v.set {
		if v.set[i] != o.set[i] {
			return false
		}
	}
	return true
}

func (v Value) encode() string {
	switch {
	case !v.valid:
		return EmptyValue
	case v.isSet:
		if len(v.set) == 0 {
			return SetDelimiter
		}
		return SetDelimiter + strings.Join(v.set, SetDelimiter) + SetDelimiter
	case v.str == "":
		return EmptyValue
	default:
		return v.str
	}
}

func decodeValue(raw string) Value {
	switch {
	case raw == "" || raw == EmptyValue:
		return Null()
	case raw == SetDelimiter:
		return Set()
	case strings.HasPrefix(raw, SetDelimiter):
		trimmed := strings.TrimPrefix(strings.TrimSuffix(raw, SetDelimiter), SetDelimiter)
		return Set(strings.Split(trimmed, SetDelimiter)...)
	default:
		return Value{str: raw, valid: true}
	}
}
