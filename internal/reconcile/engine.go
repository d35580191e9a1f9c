package reconcile

import (
	"github.com/zombor/cufe-tracker/internal/extraction"
)

// NotFoundMessage explains why a decoded document is listed as not found
const NotFoundMessage = "No existe registro en tabla en Datos Importados del Excel"

// NotFound is a decoded document whose identifier is absent from the
// reference table
type NotFound struct {
	FileName string `json:"file_name"`
	QRData   string `json:"qr_data"`
	CUFE     string `json:"cufe"`
	Message  string `json:"message"`
}

// Duplicate is one member of a group of documents sharing an identifier
type Duplicate struct {
	FileName string `json:"file_name"`
	CUFE     string `json:"cufe"`
	Count    int    `json:"count"`
}

// FoundInvoice merges a reference row with the QR attributes of the document
// that matched it
type FoundInvoice struct {
	CUFE string `json:"cufe"`
	ReferenceFields
	QRFileName string               `json:"qr_file_name"`
	QR         extraction.QRInvoice `json:"qr"`
}

// Result partitions a batch of records against a reference table
type Result struct {
	Successful []Record       `json:"successful"`
	Failed     []Record       `json:"failed"`
	Found      []FoundInvoice `json:"found"`
	NotFound   []NotFound     `json:"not_found"`
	Duplicates []Duplicate    `json:"duplicates"`
}

// Stats summarises a Result
type Stats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Found      int `json:"found"`
	NotFound   int `json:"not_found"`
	Duplicates int `json:"duplicates"`
}

// Stats counts each partition. Duplicates counts distinct identifiers.
func (r Result) Stats() Stats {
	groups := make(map[string]struct{})
	for _, d := range r.Duplicates {
		groups[extraction.NormalizeIdentifier(d.CUFE)] = struct{}{}
	}
	return Stats{
		Total:      len(r.Successful) + len(r.Failed),
		Successful: len(r.Successful),
		Failed:     len(r.Failed),
		Found:      len(r.Found),
		NotFound:   len(r.NotFound),
		Duplicates: len(groups),
	}
}

// Reconcile classifies records against the reference table. A nil table means
// no reference data was imported, so nothing is found or missing.
func Reconcile(records []Record, table *ReferenceTable) Result {
	return ReconcileIndex(records, NewIndex(table))
}

// ReconcileIndex is Reconcile against a prebuilt Index
func ReconcileIndex(records []Record, idx *Index) Result {
	successful, failed := Partition(records)
	return Result{
		Successful: successful,
		Failed:     failed,
		Found:      FindFound(successful, idx),
		NotFound:   FindNotFound(successful, idx),
		Duplicates: FindDuplicates(successful),
	}
}

// Partition splits records into decoded ones and the rest, keeping order
func Partition(records []Record) (successful, failed []Record) {
	successful = make([]Record, 0, len(records))
	failed = make([]Record, 0)
	for _, r := range records {
		if r.Decoded() {
			successful = append(successful, r)
		} else {
			failed = append(failed, r)
		}
	}
	return successful, failed
}

// FindNotFound lists decoded records whose identifier is missing from idx.
// Records without an identifier are skipped.
func FindNotFound(records []Record, idx *Index) []NotFound {
	out := make([]NotFound, 0)
	if !idx.Loaded() {
		return out
	}
	for _, r := range records {
		if !r.Decoded() {
			continue
		}
		id := extraction.IdentifierFromQR(r.QRData)
		if extraction.NormalizeIdentifier(id) == "" {
			continue
		}
		if !idx.Contains(id) {
			out = append(out, NotFound{
				FileName: r.FileName,
				QRData:   r.QRData,
				CUFE:     id,
				Message:  NotFoundMessage,
			})
		}
	}
	return out
}

// FindDuplicates groups decoded records by normalized identifier and emits
// one entry per member of every group with more than one record. Groups keep
// the order in which their identifier first appeared.
func FindDuplicates(records []Record) []Duplicate {
	type member struct{ fileName, id string }
	var order []string
	groups := make(map[string][]member)
	for _, r := range records {
		if !r.Decoded() {
			continue
		}
		id := extraction.IdentifierFromQR(r.QRData)
		key := extraction.NormalizeIdentifier(id)
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], member{r.FileName, id})
	}

	out := make([]Duplicate, 0)
	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		for _, m := range members {
			out = append(out, Duplicate{FileName: m.fileName, CUFE: m.id, Count: len(members)})
		}
	}
	return out
}

// FindFound merges every decoded record with each reference row whose primary
// identifier it matches. An invoice already emitted for the same identifier
// and prefix-folio is not repeated.
func FindFound(records []Record, idx *Index) []FoundInvoice {
	out := make([]FoundInvoice, 0)
	if !idx.Loaded() {
		return out
	}
	type key struct{ id, prefixFolio string }
	seen := make(map[key]struct{})
	for _, r := range records {
		if !r.Decoded() {
			continue
		}
		id := extraction.NormalizeIdentifier(extraction.IdentifierFromQR(r.QRData))
		if id == "" {
			continue
		}
		for _, row := range idx.Matches(id) {
			fields := FieldsOf(row)
			k := key{id, fields.PrefixFolio}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, FoundInvoice{
				CUFE:            id,
				ReferenceFields: fields,
				QRFileName:      r.FileName,
				QR:              extraction.ParseQRInvoice(r.QRData),
			})
		}
	}
	return out
}
