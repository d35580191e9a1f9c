package extraction

import (
	"regexp"
	"strings"
	"unicode"
)

const documentKeyMarker = "documentkey="

var (
	ocrIdentifierLabel = regexp.MustCompile(`(?i)CUFE\s*:?\s*`)
	ocrIdentifierToken = regexp.MustCompile(`^\s*([A-Za-z0-9+/=_-]+)`)
	ocrNextLineToken   = regexp.MustCompile(`^([A-Za-z0-9+/=_-]+)`)
)

// IdentifierFromQR extracts the document identifier from a decoded QR
// payload. DIAN payloads carry it after "documentkey="; other payloads are
// read after their first '='. A payload without '=' is taken whole.
func IdentifierFromQR(payload string) string {
	if i := strings.Index(payload, documentKeyMarker); i >= 0 {
		rest := payload[i+len(documentKeyMarker):]
		if end := strings.IndexAny(rest, "|&;\n\r "); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}

	i := strings.Index(payload, "=")
	if i < 0 {
		return strings.TrimSpace(payload)
	}
	return strings.TrimSpace(payload[i+1:])
}

// IdentifierFromOCR extracts the token following the first "CUFE" label in a
// transcription. When nothing usable follows the label on its own line the
// first token of the next line is taken instead.
func IdentifierFromOCR(text string) string {
	loc := ocrIdentifierLabel.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]
	if m := ocrIdentifierToken.FindStringSubmatch(rest); m != nil {
		return m[1]
	}

	lines := splitLines(rest)
	if len(lines) < 2 {
		return ""
	}
	if m := ocrNextLineToken.FindStringSubmatch(strings.TrimSpace(lines[1])); m != nil {
		return m[1]
	}
	return ""
}

// NormalizeIdentifier trims, uppercases and strips all whitespace so
// identifiers compare equal regardless of how they were transcribed.
func NormalizeIdentifier(id string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(id)))
}
