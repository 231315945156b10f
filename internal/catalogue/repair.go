package catalogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrNotMapping is returned when a model answer cannot be read as a flat
// label to title mapping, even after repair.
var ErrNotMapping = errors.New("response is not a flat mapping")

// Pair is one key/value of a decoded mapping, in source order.
type Pair struct {
	Key   string
	Value string
}

var (
	openFence  = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \t]*\r?\n?")
	closeFence = regexp.MustCompile("\r?\n?```$")
)

// DecodeMapping reads a model answer as an ordered flat mapping. Repairs are
// tried in a fixed order and parsing is attempted after each one:
//
//  1. the answer as-is;
//  2. surrounding whitespace, BOM and one enclosing code fence removed;
//  3. only the text between the first '{' and the last '}' kept;
//  4. strings delimited by ' ‘’ or “” rewritten as JSON strings, full-width
//     ':' and ',' outside strings rewritten as ASCII;
//  5. trailing commas before '}' or ']' removed.
//
// Duplicate keys are all returned in source order; Normalize decides which
// one survives.
func DecodeMapping(raw string) ([]Pair, error) {
	s := raw
	pairs, err := decodeObject(s)
	if err == nil {
		return pairs, nil
	}

	stages := []func(string) (string, error){
		func(s string) (string, error) { return stripFence(s), nil },
		outermostObject,
		func(s string) (string, error) { return normalizeQuotes(s), nil },
		func(s string) (string, error) { return removeTrailingCommas(s), nil },
	}

	for _, stage := range stages {
		s, err = stage(s)
		if err != nil {
			return nil, err
		}
		if pairs, err = decodeObject(s); err == nil {
			return pairs, nil
		}
	}

	if errors.Is(err, ErrNotMapping) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", ErrNotMapping, err)
}

func stripFence(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\ufeff")
	if strings.HasPrefix(s, "```") {
		s = openFence.ReplaceAllString(s, "")
		s = closeFence.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

func outermostObject(s string) (string, error) {
	i := strings.Index(s, "{")
	j := strings.LastIndex(s, "}")
	if i < 0 || j < i {
		return "", fmt.Errorf("%w: no object braces found", ErrNotMapping)
	}
	return s[i : j+1], nil
}

var closingQuote = map[rune]rune{
	'"':  '"',
	'\'': '\'',
	'“':  '”',
	'‘':  '’',
}

func normalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var term rune // 0 when outside a string
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size

		if term == 0 {
			if closing, ok := closingQuote[r]; ok {
				term = closing
				b.WriteByte('"')
				continue
			}
			switch r {
			case '：':
				b.WriteByte(':')
			case '，':
				b.WriteByte(',')
			default:
				b.WriteRune(r)
			}
			continue
		}

		switch {
		case r == '\\' && i < len(s):
			next, n := utf8.DecodeRuneInString(s[i:])
			i += n
			if next == '\'' {
				b.WriteRune(next)
			} else {
				b.WriteRune(r)
				b.WriteRune(next)
			}
		case r == term:
			term = 0
			b.WriteByte('"')
		case r == '"':
			b.WriteString(`\"`)
		case r == '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	if term != 0 {
		b.WriteByte('"')
	}
	return b.String()
}

func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// decodeObject strictly decodes a single flat JSON object, keeping key order
// and every occurrence of duplicate keys.
func decodeObject(s string) ([]Pair, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrNotMapping)
	}

	var pairs []Pair
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key", ErrNotMapping)
		}

		tok, err = dec.Token()
		if err != nil {
			return nil, err
		}
		var value string
		switch v := tok.(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		case nil:
			value = ""
		default:
			return nil, fmt.Errorf("%w: value for %q is not a string", ErrNotMapping, key)
		}

		pairs = append(pairs, Pair{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing content after object", ErrNotMapping)
	}
	return pairs, nil
}
