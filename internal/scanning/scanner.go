package scanning

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a batch outlives its deadline
	ErrTimeout = errors.New("processing timed out")
	// ErrUnavailable is returned when the processing service cannot be reached
	ErrUnavailable = errors.New("processing service unavailable")
)

// Upload is one document submitted for decoding or transcription
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// DecodeResult is the QR decoding outcome for one document
type DecodeResult struct {
	FileName string `json:"fileName"`
	Success  bool   `json:"success"`
	QRData   string `json:"qrData,omitempty"`
	Error    string `json:"error,omitempty"`
	FileType string `json:"fileType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// DecodeBatch is the outcome of decoding a batch of documents. Completed is
// false when the batch stopped early and Results holds only what finished.
type DecodeBatch struct {
	Results   []DecodeResult `json:"results"`
	Total     int            `json:"totalFiles"`
	Processed int            `json:"processedFiles"`
	Completed bool           `json:"completed"`
	Warning   string         `json:"warning,omitempty"`
}

// OCRResult is the transcription outcome for one document
type OCRResult struct {
	FileName string `json:"fileName"`
	Success  bool   `json:"success"`
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`
	Pages    int    `json:"total_pages,omitempty"`
}

// Decoder reads the QR codes printed on invoice documents
type Decoder interface {
	// Decode reads the first QR code of every upload. Per-file failures are
	// reported in the results; an error means the batch itself failed.
	Decode(ctx context.Context, uploads []Upload) (*DecodeBatch, error)
	// Close releases resources
	Close() error
}

// Transcriber reads the full text of invoice documents
type Transcriber interface {
	// Transcribe returns the text of every upload in the given language hint.
	// Results gathered before an error are returned alongside it.
	Transcribe(ctx context.Context, uploads []Upload, lang string) ([]OCRResult, error)
	// Close releases resources
	Close() error
}
