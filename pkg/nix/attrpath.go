package nix

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseAttribute splits a dotted attribute path into its elements. Double
// quotes group an element so it may contain literal dots, and whitespace
// around separators and quoted elements is insignificant:
//
//	foo."bar.baz".qux -> ["foo", "bar.baz", "qux"]
//
// An empty input yields an empty path. An unterminated quote is an error
// rather than best-effort segmentation.
func ParseAttribute(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var (
		elems      []string
		elem       strings.Builder
		pending    strings.Builder
		inQuote    bool
		quoteStart int
	)
	for i, r := range s {
		switch {
		case inQuote:
			if r == '"' {
				inQuote = false
				continue
			}
			elem.WriteRune(r)
		case r == '"':
			if elem.Len() > 0 {
				elem.WriteString(pending.String())
			}
			pending.Reset()
			inQuote = true
			quoteStart = i
		case r == '.':
			elems = append(elems, elem.String())
			elem.Reset()
			pending.Reset()
		case unicode.IsSpace(r):
			// Whitespace is dropped at element boundaries and kept
			// once more of the element follows.
			if elem.Len() > 0 {
				pending.WriteRune(r)
			}
		default:
			if pending.Len() > 0 {
				elem.WriteString(pending.String())
				pending.Reset()
			}
			elem.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("%w at byte %d: %q", ErrUnterminatedQuote, quoteStart, s)
	}
	return append(elems, elem.String()), nil
}

// JoinAttribute is the inverse of ParseAttribute: elements containing a
// literal dot are quoted, everything else is rendered bare. The round trip
// ParseAttribute(JoinAttribute(elems)) preserves any elems free of double
// quotes.
func JoinAttribute(elems []string) string {
	var b strings.Builder
	for i, elem := range elems {
		if i > 0 {
			b.WriteByte('.')
		}
		if strings.Contains(elem, ".") {
			b.WriteByte('"')
			b.WriteString(elem)
			b.WriteByte('"')
		} else {
			b.WriteString(elem)
		}
	}
	return b.String()
}
