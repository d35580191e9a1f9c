package workbook

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/zombor/cufe-tracker/internal/reconcile"
)

// ErrEmptyWorkbook is returned when a reference file has no header row
var ErrEmptyWorkbook = errors.New("reference file is empty")

// ReadReference loads the reference ledger from the first worksheet of an
// xlsx/xlsm workbook, or from a CSV export of it. The first row holds the
// column headers; blank rows are skipped.
func ReadReference(fileName string, data []byte) (*reconcile.ReferenceTable, error) {
	var (
		records [][]string
		err     error
	)
	switch {
	case isWorkbook(fileName):
		records, err = readFirstSheet(data)
	case strings.EqualFold(filepath.Ext(fileName), ".csv"):
		records, err = readCSV(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fileName)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyWorkbook
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = normalizeHeader(h)
	}

	table := &reconcile.ReferenceTable{Rows: make([]reconcile.Row, 0, len(records)-1)}
	for _, h := range headers {
		if h != "" {
			table.Headers = append(table.Headers, h)
		}
	}

	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		row := make(reconcile.Row, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			row[h] = cellAt(rec, i)
		}
		table.Rows = append(table.Rows, row)
	}

	slog.Info("Read reference data", "file", fileName, "columns", len(table.Headers), "rows", len(table.Rows))
	return table, nil
}

// normalizeHeader trims a header and composes accents so "Código Único"
// typed with combining marks still matches the alias lists
func normalizeHeader(h string) string {
	return norm.NFC.String(strings.TrimSpace(h))
}

func readFirstSheet(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}
	// raw values keep number formats like #,##0 out of the amounts
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.Comma = sniffDelimiter(data)

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// sniffDelimiter picks ';' when the header line uses it, as spreadsheets in
// comma-decimal locales export that way
func sniffDelimiter(data []byte) rune {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
