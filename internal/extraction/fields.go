package extraction

import "strings"

// Fields holds the values recovered from a document by pattern search
type Fields struct {
	NIT             string `json:"nit"`
	InvoiceNumber   string `json:"invoice_number"`
	SubTotal        string `json:"subtotal"`
	IVA             string `json:"iva"`
	Total           string `json:"total"`
	TransactionType string `json:"transaction_type"`
}

// ExtractFields runs every field extractor over the QR payload and OCR text
func ExtractFields(qrData, ocrText string, set PatternSet) Fields {
	return Fields{
		NIT:             ExtractNIT(qrData, ocrText, set.List(FieldNIT)),
		InvoiceNumber:   ExtractInvoiceNumber(qrData, ocrText, set.List(FieldInvoice)),
		SubTotal:        ExtractSubTotal(qrData, ocrText, set.List(FieldSubTotal)),
		IVA:             ExtractIVA(qrData, ocrText, set.List(FieldIVA)),
		Total:           ExtractTotal(qrData, ocrText, set.List(FieldTotal)),
		TransactionType: ExtractTransactionType(qrData, ocrText, set.List(FieldTransactionType)),
	}
}

// ExtractNIT returns the issuer tax id found by the first matching pattern
func ExtractNIT(qrData, ocrText string, patterns []Pattern) string {
	return firstValue(qrData, ocrText, patterns, Alphanumeric)
}

// ExtractInvoiceNumber returns the invoice number, with the matching
// pattern's prefix prepended when one is configured.
func ExtractInvoiceNumber(qrData, ocrText string, patterns []Pattern) string {
	texts := SearchTexts(qrData, ocrText)
	if len(texts) == 0 {
		return ""
	}
	for _, p := range patterns {
		v := FindValue(p.Text, texts, Alphanumeric)
		if v == "" {
			continue
		}
		if prefix := strings.TrimSpace(p.Prefix); prefix != "" {
			return prefix + v
		}
		return v
	}
	return ""
}

// ExtractSubTotal returns the normalized amount before taxes
func ExtractSubTotal(qrData, ocrText string, patterns []Pattern) string {
	return firstValue(qrData, ocrText, patterns, Numeric)
}

// ExtractIVA returns the normalized VAT amount
func ExtractIVA(qrData, ocrText string, patterns []Pattern) string {
	return firstValue(qrData, ocrText, patterns, Numeric)
}

// ExtractTotal returns the normalized invoice total
func ExtractTotal(qrData, ocrText string, patterns []Pattern) string {
	return firstValue(qrData, ocrText, patterns, Numeric)
}

// ExtractCUFE returns an identifier located through the configured CUFE
// patterns. It is the fallback when OCR text has no "CUFE" label.
func ExtractCUFE(qrData, ocrText string, patterns []Pattern) string {
	return firstValue(qrData, ocrText, patterns, Alphanumeric)
}

// ExtractTransactionType returns the description of the first pattern found
// in the text. Patterns without a description yield the word sequence that
// follows them on the same line.
func ExtractTransactionType(qrData, ocrText string, patterns []Pattern) string {
	texts := SearchTexts(qrData, ocrText)
	if len(texts) == 0 {
		return ""
	}
	for _, p := range patterns {
		v := scan(p.Text, texts, func(rest string, _ *string) string {
			if desc := strings.TrimSpace(p.Description); desc != "" {
				return desc
			}
			m := sameLineWord.FindStringSubmatch(rest)
			if m == nil {
				return ""
			}
			return whitespace.ReplaceAllString(strings.TrimSpace(m[1]), " ")
		})
		if v != "" {
			return v
		}
	}
	return ""
}

func firstValue(qrData, ocrText string, patterns []Pattern, kind ValueKind) string {
	texts := SearchTexts(qrData, ocrText)
	if len(texts) == 0 {
		return ""
	}
	for _, p := range patterns {
		if v := FindValue(p.Text, texts, kind); v != "" {
			return v
		}
	}
	return ""
}
