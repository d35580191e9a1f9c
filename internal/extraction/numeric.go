package extraction

import (
	"regexp"
	"strings"
)

var trailingZeroDecimals = regexp.MustCompile(`^([0-9]+)\.0+$`)

// NormalizeNumber rewrites a locale-formatted amount into a canonical
// dot-decimal string with no thousands separators. Tokens whose format is
// ambiguous are returned as-is.
//
//	"1.234.567,89" -> "1234567.89"
//	"1,234,567.89" -> "1234567.89"
//	"1234,56"      -> "1234.56"
//	"1.234"        -> "1234"
//	"100.00"       -> "100"
//	"1,234"        -> "1,234" (ambiguous, kept)
func NormalizeNumber(token string) string {
	s := strings.TrimSpace(token)
	if s == "" {
		return ""
	}

	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")

	switch {
	case hasDot && hasComma:
		// The separator that appears last marks the decimals.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		parts := strings.Split(s, ",")
		if len(parts[0]) > 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else if len(parts) == 2 && len(parts[1]) == 2 {
			s = strings.Replace(s, ",", ".", 1)
		}
	case hasDot:
		parts := strings.Split(s, ".")
		if len(parts) > 2 || (len(parts) == 2 && len(parts[1]) == 3) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	if m := trailingZeroDecimals.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
