package scanning

import (
	"context"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRDecoder implements the Decoder interface with a pure Go QR reader
type QRDecoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewQRDecoder creates a new local QR Decoder instance
func NewQRDecoder() *QRDecoder {
	return &QRDecoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode reads the first QR code found in each upload
func (d *QRDecoder) Decode(ctx context.Context, uploads []Upload) (*DecodeBatch, error) {
	return decodeEach(ctx, uploads, d.decodeFile), nil
}

func (d *QRDecoder) decodeFile(u Upload) DecodeResult {
	pages, err := pageImages(u)
	if err != nil {
		return DecodeResult{Error: fmt.Sprintf("Error al procesar archivo: %v", err)}
	}
	for _, page := range pages {
		if text, ok := d.scan(page); ok {
			return DecodeResult{Success: true, QRData: text}
		}
	}
	return DecodeResult{Error: noCodeMessage(mediaType(u))}
}

// scan tries the page as rendered, then with a global histogram binarizer,
// then an enhanced copy
func (d *QRDecoder) scan(img image.Image) (string, bool) {
	attempts := []func() (*gozxing.BinaryBitmap, error){
		func() (*gozxing.BinaryBitmap, error) {
			return gozxing.NewBinaryBitmapFromImage(img)
		},
		func() (*gozxing.BinaryBitmap, error) {
			return gozxing.NewBinaryBitmap(gozxing.NewGlobalHistgramBinarizer(gozxing.NewLuminanceSourceFromImage(img)))
		},
		func() (*gozxing.BinaryBitmap, error) {
			return gozxing.NewBinaryBitmapFromImage(enhance(img))
		},
	}

	reader := qrcode.NewQRCodeReader()
	for _, attempt := range attempts {
		bmp, err := attempt()
		if err != nil {
			continue
		}
		result, err := reader.Decode(bmp, d.hints)
		if err != nil {
			continue
		}
		if text := result.GetText(); text != "" {
			return text, true
		}
	}
	return "", false
}

func noCodeMessage(mimeType string) string {
	switch {
	case mimeType == "application/pdf":
		return "No se encontraron códigos QR en el PDF"
	case isHEICMimeType(mimeType):
		return "No se encontraron códigos QR en el archivo HEIC"
	default:
		return "No se encontraron códigos QR"
	}
}

// Close is a no-op for the local decoder
func (d *QRDecoder) Close() error {
	return nil
}
