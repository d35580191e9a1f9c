package reconcile

// Record is the outcome of decoding the QR code of one uploaded document
type Record struct {
	FileName    string `json:"file_name"`
	Success     bool   `json:"success"`
	QRData      string `json:"qr_data"`
	Error       string `json:"error,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Decoded reports whether the record carries a usable QR payload
func (r Record) Decoded() bool {
	return r.Success && r.QRData != ""
}

// OCRRecord is the outcome of transcribing one uploaded document
type OCRRecord struct {
	FileName string `json:"file_name"`
	Success  bool   `json:"success"`
	Text     string `json:"text"`
	Error    string `json:"error,omitempty"`
}

// Row is one line of the imported reference table keyed by column header
type Row map[string]string

// ReferenceTable is the imported accounting ledger
type ReferenceTable struct {
	Headers []string `json:"headers"`
	Rows    []Row    `json:"rows"`
}

// first returns the first non-empty value among the candidate columns
func (r Row) first(columns []string) string {
	for _, c := range columns {
		if v := r[c]; v != "" {
			return v
		}
	}
	return ""
}
