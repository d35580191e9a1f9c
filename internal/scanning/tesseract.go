package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// DefaultLanguage is the OCR language used when a request names none
const DefaultLanguage = "spa"

// Tesseract implements the Transcriber interface with a local Tesseract install
type Tesseract struct{}

// NewTesseract creates a new Tesseract Transcriber instance
func NewTesseract() *Tesseract {
	return &Tesseract{}
}

// Transcribe reads the text of every page of each upload. Multi-page
// documents are joined with a blank line between pages. lang accepts
// Tesseract codes joined with '+', e.g. "spa+eng".
func (t *Tesseract) Transcribe(ctx context.Context, uploads []Upload, lang string) ([]OCRResult, error) {
	if lang == "" {
		lang = DefaultLanguage
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
		return nil, fmt.Errorf("setting OCR language: %w", err)
	}

	return transcribeEach(ctx, uploads, func(ctx context.Context, u Upload) (string, int, error) {
		pages, err := pageImages(u)
		if err != nil {
			return "", 0, err
		}

		texts := make([]string, 0, len(pages))
		for i, page := range pages {
			data, err := encodePNG(enhance(page))
			if err != nil {
				return "", 0, err
			}
			if err := client.SetImageFromBytes(data); err != nil {
				return "", 0, fmt.Errorf("loading page %d: %w", i+1, err)
			}
			text, err := client.Text()
			if err != nil {
				return "", 0, fmt.Errorf("reading page %d: %w", i+1, err)
			}
			texts = append(texts, strings.TrimSpace(text))
		}
		return strings.Join(texts, "\n\n"), len(pages), nil
	})
}

// Close is a no-op; clients are scoped to each batch
func (t *Tesseract) Close() error {
	return nil
}
