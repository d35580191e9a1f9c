package session

import (
	"time"

	"github.com/zombor/cufe-tracker/internal/extraction"
	"github.com/zombor/cufe-tracker/internal/reconcile"
)

// Session holds one reconciliation batch: the decoded documents, their OCR
// transcriptions, the imported reference ledger and the user's patterns
type Session struct {
	ID            string                         `json:"id"`
	Records       []reconcile.Record             `json:"records"`
	Documents     map[string]Document            `json:"documents"`
	OCR           map[string]reconcile.OCRRecord `json:"ocr"`
	Patterns      extraction.PatternSet          `json:"patterns"`
	Reference     *reconcile.ReferenceTable      `json:"reference,omitempty"`
	ReferenceFile string                         `json:"reference_file,omitempty"`
	Warning       string                         `json:"warning,omitempty"` // Warning from the last partial batch
	CreatedAt     time.Time                      `json:"created_at"`
	UpdatedAt     time.Time                      `json:"updated_at"`
}

// Document is an uploaded file kept in storage for later OCR
type Document struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ensure fills maps left nil by older or hand-built sessions
func (s *Session) ensure() {
	if s.Documents == nil {
		s.Documents = make(map[string]Document)
	}
	if s.OCR == nil {
		s.OCR = make(map[string]reconcile.OCRRecord)
	}
	if s.Patterns == nil {
		s.Patterns = extraction.PatternSet{}
	}
}

// putRecord replaces the record with the same file name in place, or appends
// it when the file is new to the session
func (s *Session) putRecord(rec reconcile.Record) {
	for i := range s.Records {
		if s.Records[i].FileName == rec.FileName {
			s.Records[i] = rec
			return
		}
	}
	s.Records = append(s.Records, rec)
}

// Index builds the reference identifier set from the current ledger. It is
// rebuilt on every call, so callers build it once per request and reuse it.
func (s *Session) Index() *reconcile.Index {
	return reconcile.NewIndex(s.Reference)
}
