package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Remote implements Decoder and Transcriber against an external processing
// service exposing /api/process-qr and /api/process-ocr
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a new Remote client. timeout bounds a whole batch
// request; zero leaves it to the caller's context.
func NewRemote(baseURL string, timeout time.Duration) (*Remote, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("processing service url is required")
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Decode uploads the batch to /api/process-qr. A 206 response is accepted as
// a partial batch.
func (r *Remote) Decode(ctx context.Context, uploads []Upload) (*DecodeBatch, error) {
	status, body, err := r.post(ctx, "/api/process-qr", uploads, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusPartialContent {
		return nil, statusError(status, body)
	}

	batch, err := parseDecodeBatch(body, len(uploads), status == http.StatusPartialContent)
	if err != nil {
		return nil, fmt.Errorf("parsing decode response: %w", err)
	}
	return batch, nil
}

// Transcribe uploads the batch to /api/process-ocr
func (r *Remote) Transcribe(ctx context.Context, uploads []Upload, lang string) ([]OCRResult, error) {
	if lang == "" {
		lang = DefaultLanguage
	}
	status, body, err := r.post(ctx, "/api/process-ocr", uploads, map[string]string{"lang": lang})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status, body)
	}

	results, err := parseOCRResults(body)
	if err != nil {
		return nil, fmt.Errorf("parsing OCR response: %w", err)
	}
	return results, nil
}

func (r *Remote) post(ctx context.Context, path string, uploads []Upload, fields map[string]string) (int, []byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return 0, nil, fmt.Errorf("writing field %s: %w", name, err)
		}
	}
	for _, u := range uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, u.FileName))
		h.Set("Content-Type", fileType(u))
		part, err := mw.CreatePart(h)
		if err != nil {
			return 0, nil, fmt.Errorf("creating part for %s: %w", u.FileName, err)
		}
		if _, err := part.Write(u.Data); err != nil {
			return 0, nil, fmt.Errorf("writing part for %s: %w", u.FileName, err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+path, &buf)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, transportError(err)
	}
	return resp.StatusCode, body, nil
}

// transportError classifies a failed round trip as a timeout or an
// unreachable service
func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func statusError(status int, body []byte) error {
	msg := parseErrorBody(body)
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("%w (status %d): %s", ErrUnavailable, status, msg)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w (status %d): %s", ErrTimeout, status, msg)
	default:
		return fmt.Errorf("processing service error (status %d): %s", status, msg)
	}
}

// Close is a no-op for the HTTP client
func (r *Remote) Close() error {
	return nil
}
