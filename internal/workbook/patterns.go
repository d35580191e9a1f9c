package workbook

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/cufe-tracker/internal/extraction"
)

// patternSheet describes how one field's patterns are laid out
type patternSheet struct {
	field extraction.Field
	name  string
	// sheet name fragments that identify the sheet on import
	matches []string
	text    string
	extra   string
}

// Sheet order matters on import: "Sub Total" must be tried before "Total".
var patternSheets = []patternSheet{
	{field: extraction.FieldNIT, name: "Patrones NIT", matches: []string{"NIT"}, text: "PatronNIT"},
	{field: extraction.FieldInvoice, name: "Patrones Factura", matches: []string{"Factura"}, text: "PatronFac", extra: "PrefijoFac"},
	{field: extraction.FieldSubTotal, name: "Patrones Sub Total", matches: []string{"Sub Total"}, text: "PatronSubTotal"},
	{field: extraction.FieldIVA, name: "Patrones IVA", matches: []string{"IVA"}, text: "PatronIVA"},
	{field: extraction.FieldTotal, name: "Patrones Total", matches: []string{"Total"}, text: "PatronTotal"},
	{field: extraction.FieldCUFE, name: "Patrones CUFE", matches: []string{"CUFE"}, text: "PatronCUFE"},
	{field: extraction.FieldTransactionType, name: "Patrones Tipo Transaccion", matches: []string{"Tipo", "Transaccion", "Transacción"}, text: "PatronTipo", extra: "TipoDescripcion"},
}

func (ps patternSheet) extraValue(p extraction.Pattern) string {
	if ps.field == extraction.FieldInvoice {
		return p.Prefix
	}
	return p.Description
}

// ExportPatterns writes one worksheet per non-empty pattern list. A set with
// no patterns produces a single explanatory sheet.
func ExportPatterns(set extraction.PatternSet) ([]byte, error) {
	var sheets []sheet
	for _, ps := range patternSheets {
		list := set.List(ps.field)
		if len(list) == 0 {
			continue
		}
		s := sheet{name: ps.name, headers: []string{"#", ps.text}, widths: []float64{5, 40}}
		if ps.extra != "" {
			s.headers = append(s.headers, ps.extra)
			s.widths = append(s.widths, 30)
		}
		for i, p := range list {
			row := []any{i + 1, p.Text}
			if ps.extra != "" {
				row = append(row, ps.extraValue(p))
			}
			s.rows = append(s.rows, row)
		}
		sheets = append(sheets, s)
	}

	if len(sheets) == 0 {
		sheets = append(sheets, sheet{
			name:    "Sin Patrones",
			headers: []string{"Mensaje"},
			widths:  []float64{50},
			rows:    [][]any{{"No hay patrones configurados"}},
		})
	}

	data, err := write(sheets...)
	if err != nil {
		return nil, fmt.Errorf("exporting patterns: %w", err)
	}
	slog.Info("Exported patterns", "patterns", set.Len(), "sheets", len(sheets))
	return data, nil
}

// ImportPatterns reads a workbook written by ExportPatterns, or edited by
// hand, into a PatternSet. Sheets are recognised by name and columns by
// header, both leniently. Returned patterns have no ids.
func ImportPatterns(fileName string, data []byte) (extraction.PatternSet, error) {
	if !isWorkbook(fileName) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fileName)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	set := extraction.PatternSet{}
	for _, name := range f.GetSheetList() {
		ps, ok := sheetFor(name)
		if !ok {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %s: %w", name, err)
		}
		if len(rows) <= 1 {
			continue
		}

		textCol := headerIndex(rows[0], ps.text)
		extraCol := -1
		if ps.extra != "" {
			extraCol = headerIndex(rows[0], ps.extra)
		}

		for _, row := range rows[1:] {
			text := cellAt(row, textCol)
			if text == "" {
				continue
			}
			p := extraction.Pattern{Text: text}
			if ps.field == extraction.FieldInvoice {
				p.Prefix = cellAt(row, extraCol)
			} else if ps.field == extraction.FieldTransactionType {
				p.Description = cellAt(row, extraCol)
			}
			set[ps.field] = append(set[ps.field], p)
		}
	}

	slog.Info("Imported patterns", "file", fileName, "patterns", set.Len())
	return set, nil
}

func sheetFor(name string) (patternSheet, bool) {
	for _, ps := range patternSheets {
		for _, m := range ps.matches {
			if strings.Contains(name, m) {
				return ps, true
			}
		}
	}
	return patternSheet{}, false
}

// headerIndex returns the first column whose header contains want,
// ignoring case, or -1
func headerIndex(headers []string, want string) int {
	want = strings.ToLower(want)
	for i, h := range headers {
		if strings.Contains(strings.ToLower(h), want) {
			return i
		}
	}
	return -1
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
