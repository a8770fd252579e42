// Package parse turns loosely formatted model output into structured values.
//
// Three paths exist: Normalize repairs JSON-ish text, ExtractItems and
// ExtractObject validate the repaired JSON against a minimal shape, and
// ParseQuestions reads the fixed "Question N:" line grammar.
package parse

import (
	"regexp"
	"strings"

	"citewise/internal/apperr"
)

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("```[A-Za-z0-9_+-]*")
)

// Normalize converts a model response into a compact JSON document.
//
// Reasoning blocks and markdown fences are removed, the first '{' or '['
// opens the document and the last matching closer ends it. Trailing commas
// are dropped and whitespace outside string literals is removed. Raw line
// breaks and tabs inside strings become single spaces.
func Normalize(raw string) (string, error) {
	s := thinkBlock.ReplaceAllString(raw, "")
	s = codeFence.ReplaceAllString(s, "")

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return "", apperr.New(apperr.KindNoJSONFound, "no JSON object or array in model response", nil)
	}

	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	} else {
		// Unterminated document; keep the tail so the decoder reports it.
		s = s[start:]
	}

	return compact(s), nil
}

// compact removes trailing commas and insignificant whitespace in one pass,
// tracking string literals so their contents are preserved.
func compact(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n' || c == '\r' || c == '\t':
				// Collapse a CRLF pair into a single space.
				if c == '\r' && i+1 < len(s) && s[i+1] == '\n' {
					i++
				}
				b.WriteByte(' ')
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case ' ', '\n', '\r', '\t':
		case ',':
			if next := nextSignificant(s, i+1); next == '}' || next == ']' {
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func nextSignificant(s string, from int) byte {
	for j := from; j < len(s); j++ {
		switch s[j] {
		case ' ', '\n', '\r', '\t':
			continue
		default:
			return s[j]
		}
	}
	return 0
}
