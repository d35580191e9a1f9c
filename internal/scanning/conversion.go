package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
)

// transcriptionPrompt is the shared prompt used by all LLM providers for transcribing invoices
const transcriptionPrompt = `You are transcribing a Colombian electronic invoice (factura electrónica) or support document. Read every piece of text in the image and return it as plain text.

Rules:
- Keep the original language (usually Spanish). Do not translate.
- Keep one line of output per printed line, in reading order from top to bottom.
- Keep labels next to their values exactly as printed, e.g. "NIT: 900.123.456-7", "Factura No. FE 1234", "CUFE: 3f2a...".
- Copy numbers, amounts and long identifiers character by character without reformatting separators.
- Do not summarize, explain or add anything that is not printed on the document.
- Do not use markdown code blocks`

// Extensions lists the file extensions accepted for processing
var Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".pdf", ".heic", ".heif"}

// Supported reports whether the file name carries an accepted extension
func Supported(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// mediaType normalizes the upload MIME type, inferring it from the file
// extension when the client sent none
func mediaType(u Upload) string {
	mimeType := strings.ToLower(strings.TrimSpace(u.ContentType))
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	switch strings.ToLower(filepath.Ext(u.FileName)) {
	case ".pdf":
		return "application/pdf"
	case ".heic", ".heif":
		return "image/heic"
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

// pdfPages renders every page of a PDF
func pdfPages(pdfData []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]image.Image, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	return pages, nil
}

// decodeImage decodes a single raster image
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	// Check for HEIC/HEIF format (common on iPhones) - Go's standard image package doesn't support it
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, BMP, TIFF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pageImages decodes an upload into one image per page
func pageImages(u Upload) ([]image.Image, error) {
	mimeType := mediaType(u)
	if mimeType == "application/pdf" {
		return pdfPages(u.Data)
	}
	img, err := decodeImage(u.Data, mimeType)
	if err != nil {
		return nil, err
	}
	return []image.Image{img}, nil
}

// enhance prepares a page for text or code recognition: grayscale, a
// contrast boost and upscaling of small scans
func enhance(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 15)
	gray = imaging.Sharpen(gray, 0.7)
	if gray.Bounds().Dy() < 900 {
		gray = imaging.Resize(gray, 0, 1300, imaging.Lanczos)
	}
	return gray
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// pngPages converts an upload into one PNG per page
func pngPages(u Upload) ([][]byte, error) {
	if mediaType(u) == "image/png" && !isHEICFormat(u.Data) {
		return [][]byte{u.Data}, nil
	}
	pages, err := pageImages(u)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(pages))
	for _, page := range pages {
		data, err := encodePNG(page)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// ftyp box at offset 4 followed by a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
