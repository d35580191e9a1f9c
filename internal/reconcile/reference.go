package reconcile

import "github.com/zombor/cufe-tracker/internal/extraction"

// Column aliases tried in order for each logical field of a reference row
var (
	IdentifierColumns = []string{"CUFE/UUID", "CUFE/CUDE", "CUFE", "CUDE", "UUID", "CUFE - UUID", "Código Único"}

	prefixColumns     = []string{"Prefijo", "PREFIJO"}
	folioColumns      = []string{"Folio", "FOLIO"}
	nitColumns        = []string{"NIT Emisor", "NIT EMISOR"}
	issuerNameColumns = []string{"Nombre Emisor", "NOMBRE EMISOR"}
	ivaColumns        = []string{"IVA", "iva"}
	incColumns        = []string{"INC", "inc"}
	icuiColumns       = []string{"ICUI", "icui"}
	totalColumns      = []string{"Total", "TOTAL", "total"}
)

// ReferenceFields are the ledger attributes of a matched invoice
type ReferenceFields struct {
	Prefix      string `json:"prefix"`
	Folio       string `json:"folio"`
	PrefixFolio string `json:"prefix_folio"`
	NIT         string `json:"nit"`
	IssuerName  string `json:"issuer_name"`
	IVA         string `json:"iva"`
	INC         string `json:"inc"`
	ICUI        string `json:"icui"`
	Total       string `json:"total"`
}

// FieldsOf maps a reference row onto ReferenceFields
func FieldsOf(row Row) ReferenceFields {
	prefix := row.first(prefixColumns)
	folio := row.first(folioColumns)
	return ReferenceFields{
		Prefix:      prefix,
		Folio:       folio,
		PrefixFolio: prefix + folio,
		NIT:         row.first(nitColumns),
		IssuerName:  row.first(issuerNameColumns),
		IVA:         row.first(ivaColumns),
		INC:         row.first(incColumns),
		ICUI:        row.first(icuiColumns),
		Total:       row.first(totalColumns),
	}
}

// rowIdentifier returns the normalized value of the first populated
// identifier column of a row
func rowIdentifier(row Row) string {
	return extraction.NormalizeIdentifier(row.first(IdentifierColumns))
}

// BuildIdentifierSet collects the normalized identifiers of every identifier
// column of every row
func BuildIdentifierSet(rows []Row) map[string]struct{} {
	set := make(map[string]struct{})
	for _, row := range rows {
		for _, c := range IdentifierColumns {
			if id := extraction.NormalizeIdentifier(row[c]); id != "" {
				set[id] = struct{}{}
			}
		}
	}
	return set
}

// FindRow returns the fields of the first row whose primary identifier
// matches id after normalization
func FindRow(id string, rows []Row) (ReferenceFields, bool) {
	want := extraction.NormalizeIdentifier(id)
	if want == "" {
		return ReferenceFields{}, false
	}
	for _, row := range rows {
		if rowIdentifier(row) == want {
			return FieldsOf(row), true
		}
	}
	return ReferenceFields{}, false
}

// Index answers identifier queries against one reference table. It is built
// once per table and never mutated.
type Index struct {
	rows    []Row
	ids     map[string]struct{}
	primary map[string][]int
}

// NewIndex builds an Index. A nil table yields an Index that reports
// Loaded() == false.
func NewIndex(table *ReferenceTable) *Index {
	if table == nil {
		return &Index{}
	}
	idx := &Index{
		rows:    table.Rows,
		ids:     BuildIdentifierSet(table.Rows),
		primary: make(map[string][]int),
	}
	for i, row := range table.Rows {
		if id := rowIdentifier(row); id != "" {
			idx.primary[id] = append(idx.primary[id], i)
		}
	}
	return idx
}

// Loaded reports whether reference data was supplied
func (x *Index) Loaded() bool {
	return x.ids != nil
}

// Contains reports whether any identifier column holds id
func (x *Index) Contains(id string) bool {
	_, ok := x.ids[extraction.NormalizeIdentifier(id)]
	return ok
}

// Lookup mirrors FindRow using the precomputed primary identifiers
func (x *Index) Lookup(id string) (ReferenceFields, bool) {
	rows := x.primary[extraction.NormalizeIdentifier(id)]
	if len(rows) == 0 {
		return ReferenceFields{}, false
	}
	return FieldsOf(x.rows[rows[0]]), true
}

// Matches returns every row whose primary identifier equals id
func (x *Index) Matches(id string) []Row {
	positions := x.primary[extraction.NormalizeIdentifier(id)]
	rows := make([]Row, 0, len(positions))
	for _, i := range positions {
		rows = append(rows, x.rows[i])
	}
	return rows
}
