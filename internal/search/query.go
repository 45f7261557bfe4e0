package search

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"logalert/internal/domain"
)

// QueryError reports a parse failure with byte position.
type QueryError struct {
	Pos     int
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query at position %d: %s", e.Pos, e.Message)
}

// Unwrap lets callers match ErrInvalidQuery with errors.Is.
func (e *QueryError) Unwrap() error { return ErrInvalidQuery }

type termKind int

const (
	termAll termKind = iota
	termExists
	termPhrase
	termToken
)

// term is one conjunct of a parsed query.
type term struct {
	kind   termKind
	field  string
	value  string
	tokens []string
}

// Query is a parsed conjunction of terms.
// Params: terms produced by ParseQuery.
// Returns: predicate evaluated by Match.
type Query struct {
	raw   string
	terms []term
}

// String returns the original query text.
func (q Query) String() string { return q.raw }

// ParseQuery compiles query text.
// Params: whitespace or AND separated terms; empty text matches everything.
// Returns: compiled query or *QueryError wrapping ErrInvalidQuery.
func ParseQuery(raw string) (Query, error) {
	p := &queryParser{input: raw}
	terms, err := p.parse()
	if err != nil {
		return Query{}, err
	}
	return Query{raw: raw, terms: terms}, nil
}

// Match evaluates all terms against one record.
// Params: stored record.
// Returns: true when every term holds.
func (q Query) Match(msg domain.Message) bool {
	for _, t := range q.terms {
		if !matchTerm(t, msg) {
			return false
		}
	}
	return true
}

// QuoteValue escapes quotes and backslashes for use inside a quoted phrase.
func QuoteValue(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 2)
	b.WriteByte('"')
	for _, r := range value {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// StreamFilter builds the filter restricting a search to one stream.
func StreamFilter(streamID string) string {
	return domain.FieldStreams + ":" + streamID
}

type queryParser struct {
	input string
	pos   int
}

func (p *queryParser) parse() ([]term, error) {
	terms := make([]term, 0, 2)
	expectTerm := false
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			break
		}
		start := p.pos
		if p.consumeKeyword("AND") {
			if len(terms) == 0 || expectTerm {
				return nil, &QueryError{Pos: start, Message: "AND without left operand"}
			}
			expectTerm = true
			continue
		}
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
		expectTerm = false
	}
	if expectTerm {
		return nil, &QueryError{Pos: len(p.input), Message: "AND without right operand"}
	}
	if len(terms) == 0 {
		terms = append(terms, term{kind: termAll})
	}
	return terms, nil
}

func (p *queryParser) parseTerm() (term, error) {
	start := p.pos
	if p.input[p.pos] == '"' {
		phrase, err := p.parseQuoted()
		if err != nil {
			return term{}, err
		}
		return phraseTerm(domain.FieldMessage, phrase), nil
	}

	word := p.readWord()
	if word == "*" {
		return term{kind: termAll}, nil
	}
	field, rest, hasField := strings.Cut(word, ":")
	if !hasField {
		if strings.ContainsRune(word, '"') {
			return term{}, &QueryError{Pos: start, Message: "unexpected quote inside bare word"}
		}
		return tokenTerm(domain.FieldMessage, word), nil
	}
	if field == "" {
		return term{}, &QueryError{Pos: start, Message: "empty field name"}
	}
	if rest == "" {
		if p.pos < len(p.input) && p.input[p.pos] == '"' {
			phrase, err := p.parseQuoted()
			if err != nil {
				return term{}, err
			}
			return phraseTerm(field, phrase), nil
		}
		return term{}, &QueryError{Pos: p.pos, Message: fmt.Sprintf("missing value for field %q", field)}
	}
	if rest == "*" {
		return term{kind: termExists, field: field}, nil
	}
	if strings.ContainsRune(rest, '"') {
		return term{}, &QueryError{Pos: start, Message: "unexpected quote inside bare value"}
	}
	return tokenTerm(field, rest), nil
}

// readWord consumes until whitespace or an opening quote.
func (p *queryParser) readWord() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			break
		}
		if c == '"' && p.pos > start && p.input[p.pos-1] == ':' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *queryParser) parseQuoted() (string, error) {
	start := p.pos
	p.pos++
	var b strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case '\\':
			if p.pos+1 >= len(p.input) {
				return "", &QueryError{Pos: p.pos, Message: "dangling escape"}
			}
			next := p.input[p.pos+1]
			if next != '"' && next != '\\' {
				return "", &QueryError{Pos: p.pos, Message: fmt.Sprintf("invalid escape \\%c", next)}
			}
			b.WriteByte(next)
			p.pos += 2
		case '"':
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", &QueryError{Pos: start, Message: "unterminated quoted phrase"}
}

func (p *queryParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

// consumeKeyword eats a standalone case-insensitive keyword.
func (p *queryParser) consumeKeyword(keyword string) bool {
	end := p.pos + len(keyword)
	if end > len(p.input) || !strings.EqualFold(p.input[p.pos:end], keyword) {
		return false
	}
	if end < len(p.input) && !unicode.IsSpace(rune(p.input[end])) {
		return false
	}
	p.pos = end
	return true
}

func phraseTerm(field, phrase string) term {
	return term{kind: termPhrase, field: field, value: phrase, tokens: tokenize(phrase)}
}

func tokenTerm(field, value string) term {
	return term{kind: termToken, field: field, value: value, tokens: tokenize(value)}
}

// matchTerm evaluates one conjunct.
// Params: parsed term and record.
// Returns: term truth value.
func matchTerm(t term, msg domain.Message) bool {
	if t.kind == termAll {
		return true
	}
	if t.field == domain.FieldStreams {
		if t.kind == termExists {
			return len(msg.Streams) > 0
		}
		return msg.InStream(t.value)
	}
	value, ok := msg.Field(t.field)
	if !ok {
		return false
	}
	if t.kind == termExists {
		return true
	}
	haystack := tokenize(stringify(value))
	if len(t.tokens) == 0 {
		return strings.EqualFold(strings.TrimSpace(stringify(value)), strings.TrimSpace(t.value))
	}
	return containsSequence(haystack, t.tokens)
}

// tokenize lowercases text and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsSequence reports whether needle occurs contiguously in haystack.
func containsSequence(haystack, needle []string) bool {
	if len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		matched := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []string:
		return strings.Join(v, " ")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
