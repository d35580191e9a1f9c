package extraction

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValueKind selects how the text following a pattern is read
type ValueKind int

const (
	// Numeric reads an amount such as "$ 1.234.567,89" and normalizes it
	Numeric ValueKind = iota
	// Alphanumeric reads a run of letters, digits and hyphens
	Alphanumeric
)

const numberExpr = `[0-9]{1,3}(?:[.,][0-9]{3})*(?:[.,][0-9]{2})?|[0-9]+(?:[.,][0-9]{2})?|[0-9]+`

var (
	lineBreaks = regexp.MustCompile(`\r\n|\n|\r`)
	whitespace = regexp.MustCompile(`\s+`)

	sameLineNumber = longest(`^\s*:?\s*\$?\s*(` + numberExpr + `)`)
	nextLineNumber = longest(`^\$?\s*(` + numberExpr + `)`)

	sameLineWord = regexp.MustCompile(`^\s*:?\s*([A-Za-z0-9\-\s]+?)(?:\s|$|[^\w\-])`)
	nextLineWord = regexp.MustCompile(`^([A-Za-z0-9\-\s]+?)(?:\s|$|[^\w\-])`)
)

// longest compiles a leftmost-longest expression so "1234567,89" is taken
// whole instead of stopping at the first three digits.
func longest(expr string) *regexp.Regexp {
	re := regexp.MustCompile(expr)
	re.Longest()
	return re
}

// SearchTexts returns the texts to search in priority order: the QR payload
// first, then the OCR transcription. Blank texts are dropped.
func SearchTexts(qrData, ocrText string) []string {
	texts := make([]string, 0, 2)
	for _, t := range []string{qrData, ocrText} {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// FindValue locates the value anchored by a literal, case-insensitive pattern
// in texts. Each text is scanned line by line; the value is read from the rest
// of the matching line and, failing that, from the start of the next line.
// The empty string means nothing was found.
func FindValue(pattern string, texts []string, kind ValueKind) string {
	return scan(pattern, texts, func(rest string, next *string) string {
		if v := readValue(rest, kind, false); v != "" {
			return v
		}
		if next != nil {
			return readValue(strings.TrimSpace(*next), kind, true)
		}
		return ""
	})
}

// scan calls fn with the remainder of every line containing pattern, plus the
// following line when there is one, until fn returns a non-empty value.
func scan(pattern string, texts []string, fn func(rest string, next *string) string) string {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return ""
	}

	for _, text := range texts {
		lines := splitLines(text)
		for i, line := range lines {
			_, end := indexFold(line, pattern)
			if end < 0 {
				continue
			}
			var next *string
			if i+1 < len(lines) {
				next = &lines[i+1]
			}
			if v := fn(line[end:], next); v != "" {
				return v
			}
		}
	}
	return ""
}

func readValue(s string, kind ValueKind, nextLine bool) string {
	switch kind {
	case Numeric:
		re := sameLineNumber
		if nextLine {
			re = nextLineNumber
		}
		m := re.FindStringSubmatch(s)
		if m == nil {
			return ""
		}
		return NormalizeNumber(m[1])
	default:
		re := sameLineWord
		if nextLine {
			re = nextLineWord
		}
		m := re.FindStringSubmatch(s)
		if m == nil {
			return ""
		}
		return whitespace.ReplaceAllString(m[1], "")
	}
}

func splitLines(text string) []string {
	return lineBreaks.Split(text, -1)
}

// indexFold returns the byte span of the first case-insensitive occurrence of
// substr in s, or -1, -1.
func indexFold(s, substr string) (int, int) {
	if substr == "" {
		return -1, -1
	}
	for i := range s {
		if n, ok := hasPrefixFold(s[i:], substr); ok {
			return i, i + n
		}
	}
	return -1, -1
}

func hasPrefixFold(s, prefix string) (int, bool) {
	n := 0
	for _, pr := range prefix {
		if n >= len(s) {
			return 0, false
		}
		sr, size := utf8.DecodeRuneInString(s[n:])
		if unicode.ToLower(sr) != unicode.ToLower(pr) {
			return 0, false
		}
		n += size
	}
	return n, true
}
