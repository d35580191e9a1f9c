package extraction

import "strings"

// QRInvoice holds the invoice attributes embedded in an electronic invoice QR
// payload. Both the "Key:" and "Key=" payload dialects are understood.
type QRInvoice struct {
	InvoiceNumber  string `json:"invoice_number"`
	Date           string `json:"date"`
	ProviderNIT    string `json:"provider_nit"`
	ValueBeforeTax string `json:"value_before_tax"`
	IVA            string `json:"iva"`
	OtherTaxes     string `json:"other_taxes"`
	Total          string `json:"total"`
}

var (
	invoiceNumberMarkers = []string{"NumDS:", "NumFac:", "NumFac="}
	dateMarkers          = []string{"FecDS:", "FecFac:", "FecFac="}
	providerNITMarkers   = []string{"NumSNO:", "NitFac:", "NitFac="}
	valueMarkers         = []string{"ValDS:", "ValFac:", "ValFac="}
	ivaMarkers           = []string{"ValIva:", "ValIva="}
	otherTaxMarkers      = []string{"ValOtroIm:", "ValOtroIm="}
	totalMarkers         = []string{"ValTolDS:", "ValTolFac:", "ValTolFac="}
)

// ParseQRInvoice reads the fixed QR markers out of a payload
func ParseQRInvoice(payload string) QRInvoice {
	return QRInvoice{
		InvoiceNumber:  markerValue(payload, invoiceNumberMarkers),
		Date:           markerValue(payload, dateMarkers),
		ProviderNIT:    markerValue(payload, providerNITMarkers),
		ValueBeforeTax: markerValue(payload, valueMarkers),
		IVA:            markerValue(payload, ivaMarkers),
		OtherTaxes:     markerValue(payload, otherTaxMarkers),
		Total:          markerValue(payload, totalMarkers),
	}
}

// markerValue returns the text after the first marker present in payload, up
// to the next field separator.
func markerValue(payload string, markers []string) string {
	for _, marker := range markers {
		i := strings.Index(payload, marker)
		if i < 0 {
			continue
		}
		rest := payload[i+len(marker):]
		if end := strings.IndexAny(rest, "|&;\n\r"); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}
