package reconcile

import (
	"strings"

	"github.com/zombor/cufe-tracker/internal/extraction"
)

// NoQRMessage is the default reason for a document that yielded no QR payload
const NoQRMessage = "No se encontraron códigos QR en el archivo"

// noPrefixFolio marks a review row without a reference match
const noPrefixFolio = "-"

// ReviewRow describes a document that needs manual follow-up: either its QR
// code could not be read or its identifier is missing from the reference
// table. OCR text is used to recover the identifier and, failing a reference
// match, the invoice fields.
type ReviewRow struct {
	FileName    string            `json:"file_name"`
	QRData      string            `json:"qr_data"`
	Message     string            `json:"message"`
	OCRText     string            `json:"ocr_text"`
	CUFE        string            `json:"cufe"`
	Reference   *ReferenceFields  `json:"reference,omitempty"`
	PrefixFolio string            `json:"prefix_folio"`
	Extracted   extraction.Fields `json:"extracted"`
}

// NeedsPatterns reports whether the row had to fall back to pattern search
func (r ReviewRow) NeedsPatterns() bool {
	pf := strings.TrimSpace(r.PrefixFolio)
	return pf == "" || pf == noPrefixFolio
}

// HasNIT reports whether an issuer tax id was resolved from the reference
// table or the OCR text
func (r ReviewRow) HasNIT() bool {
	if r.Reference != nil && strings.TrimSpace(r.Reference.NIT) != "" {
		return true
	}
	return strings.TrimSpace(r.Extracted.NIT) != ""
}

// Review builds a row for every failed record followed by every record whose
// identifier is missing from idx. ocr maps file names to transcriptions.
func Review(records []Record, ocr map[string]OCRRecord, idx *Index, patterns extraction.PatternSet) []ReviewRow {
	successful, failed := Partition(records)

	rows := make([]ReviewRow, 0, len(failed))
	for _, r := range failed {
		msg := r.Error
		if msg == "" {
			msg = NoQRMessage
		}
		rows = append(rows, reviewRow(r.FileName, r.QRData, msg, ocr, idx, patterns))
	}
	for _, nf := range FindNotFound(successful, idx) {
		rows = append(rows, reviewRow(nf.FileName, nf.QRData, nf.Message, ocr, idx, patterns))
	}
	return rows
}

// FinalReview keeps the review rows with a resolved issuer tax id
func FinalReview(rows []ReviewRow) []ReviewRow {
	out := make([]ReviewRow, 0, len(rows))
	for _, r := range rows {
		if r.HasNIT() {
			out = append(out, r)
		}
	}
	return out
}

func reviewRow(fileName, qrData, message string, ocr map[string]OCRRecord, idx *Index, patterns extraction.PatternSet) ReviewRow {
	row := ReviewRow{
		FileName:    fileName,
		QRData:      qrData,
		Message:     message,
		PrefixFolio: noPrefixFolio,
	}

	if rec, ok := ocr[fileName]; ok && rec.Success {
		row.OCRText = rec.Text
	}
	if row.OCRText != "" {
		row.CUFE = extraction.IdentifierFromOCR(row.OCRText)
		if row.CUFE == "" {
			row.CUFE = extraction.ExtractCUFE("", row.OCRText, patterns.List(extraction.FieldCUFE))
		}
	}

	if row.CUFE != "" && idx.Loaded() {
		if ref, ok := idx.Lookup(row.CUFE); ok {
			row.Reference = &ref
			if ref.PrefixFolio != "" {
				row.PrefixFolio = ref.PrefixFolio
			}
		}
	}

	if row.NeedsPatterns() {
		row.Extracted = extraction.ExtractFields(qrData, row.OCRText, patterns)
	}
	return row
}
