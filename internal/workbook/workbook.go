package workbook

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/cufe-tracker/internal/extraction"
)

// ErrUnsupportedFormat is returned for files that are not spreadsheets this
// package can read
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// ContentType is the MIME type of every workbook produced here
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// sheet is one worksheet to be written
type sheet struct {
	name    string
	headers []string
	widths  []float64
	rows    [][]any
}

// write renders the sheets, in order, into an xlsx document
func write(sheets ...sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const defaultSheet = "Sheet1"
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, s.name); err != nil {
				return nil, fmt.Errorf("naming sheet %s: %w", s.name, err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, fmt.Errorf("creating sheet %s: %w", s.name, err)
		}

		header := make([]any, len(s.headers))
		for j, h := range s.headers {
			header[j] = h
		}
		if err := f.SetSheetRow(s.name, "A1", &header); err != nil {
			return nil, fmt.Errorf("writing header of %s: %w", s.name, err)
		}
		for j, row := range s.rows {
			cell, _ := excelize.CoordinatesToCellName(1, j+2)
			if err := f.SetSheetRow(s.name, cell, &row); err != nil {
				return nil, fmt.Errorf("writing row %d of %s: %w", j+2, s.name, err)
			}
		}
		for j, w := range s.widths {
			col, _ := excelize.ColumnNumberToName(j + 1)
			_ = f.SetColWidth(s.name, col, col, w)
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// isWorkbook reports whether name has an extension excelize can open
func isWorkbook(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

var commaGrouped = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+$`)

// ParseAmount reads an amount as written in a ledger cell or QR payload.
// Comma-only thousands grouping such as "1,234,567" is read as an integer.
// Unparseable values are zero.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return decimal.Zero
	}
	if commaGrouped.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(extraction.NormalizeNumber(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatAmount renders an amount in es-CO notation with two decimals,
// e.g. 1234567.891 -> "1.234.567,89"
func FormatAmount(d decimal.Decimal) string {
	return group(d.StringFixed(2))
}

// FormatCurrency renders a whole-peso amount, e.g. 1234567.5 -> "$ 1.234.568"
func FormatCurrency(d decimal.Decimal) string {
	return "$ " + group(d.StringFixed(0))
}

// group rewrites a fixed-point string with '.' thousands and ',' decimals
func group(fixed string) string {
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	intPart, frac, hasFrac := strings.Cut(fixed, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}
