package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// unsupportedMessage is reported for uploads with a rejected extension
const unsupportedMessage = "Tipo de archivo no permitido"

func partialWarning(done, total int) string {
	return fmt.Sprintf("Procesamiento interrumpido después de %d de %d archivos. Se retornan resultados parciales.", done, total)
}

func fileType(u Upload) string {
	if u.ContentType == "" {
		return "application/octet-stream"
	}
	return u.ContentType
}

// decodeEach decodes uploads in order until ctx is done. A batch cut short
// keeps the results gathered so far and carries a warning.
func decodeEach(ctx context.Context, uploads []Upload, decode func(Upload) DecodeResult) *DecodeBatch {
	batch := &DecodeBatch{
		Total:   len(uploads),
		Results: make([]DecodeResult, 0, len(uploads)),
	}
	for i, u := range uploads {
		if ctx.Err() != nil {
			batch.Warning = partialWarning(i, len(uploads))
			slog.Warn("Decode batch interrupted", "processed", i, "total", len(uploads))
			break
		}

		var r DecodeResult
		if Supported(u.FileName) {
			r = decode(u)
		} else {
			r = DecodeResult{Error: unsupportedMessage}
		}
		r.FileName = u.FileName
		r.FileType = fileType(u)
		r.FileSize = int64(len(u.Data))
		batch.Results = append(batch.Results, r)

		slog.Debug("Decoded file", "index", i+1, "total", len(uploads), "file", u.FileName, "success", r.Success)
	}
	batch.Processed = len(batch.Results)
	batch.Completed = batch.Processed == batch.Total
	return batch
}

// transcribeEach transcribes uploads in order until ctx is done. When the
// deadline cuts the batch short the finished results are returned with
// ErrTimeout.
func transcribeEach(ctx context.Context, uploads []Upload, transcribe func(context.Context, Upload) (string, int, error)) ([]OCRResult, error) {
	results := make([]OCRResult, 0, len(uploads))
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("%w after %d of %d files: %v", ErrTimeout, len(results), len(uploads), err)
		}
		if !Supported(u.FileName) {
			results = append(results, OCRResult{FileName: u.FileName, Error: unsupportedMessage})
			continue
		}

		text, pages, err := transcribe(ctx, u)
		if err != nil {
			slog.Warn("Transcription failed", "file", u.FileName, "error", err)
			results = append(results, OCRResult{
				FileName: u.FileName,
				Error:    fmt.Sprintf("Error al procesar archivo: %v", err),
			})
			continue
		}
		results = append(results, OCRResult{
			FileName: u.FileName,
			Success:  true,
			Text:     strings.TrimSpace(text),
			Pages:    pages,
		})
	}
	return results, nil
}
