package workbook

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/zombor/cufe-tracker/internal/extraction"
	"github.com/zombor/cufe-tracker/internal/reconcile"
)

var (
	hundred  = decimal.NewFromInt(100)
	megabyte = decimal.NewFromInt(1024 * 1024)
)

// ExportSuccessful lists decoded documents with the attributes read from
// their QR payloads
func ExportSuccessful(records []reconcile.Record) ([]byte, error) {
	s := sheet{
		name: "Resultados QR",
		headers: []string{
			"#", "Nombre del Archivo", "Código QR Detectado", "CUFE", "Número de Factura",
			"Fecha de Factura", "NIT Proveedor", "Valor Sin Impuestos", "Valor IVA",
			"Valor Otros Impuestos", "Valor Total",
		},
		widths: []float64{5, 40, 60, 50, 20, 15, 15, 18, 15, 20, 18},
	}
	for i, r := range records {
		id := extraction.IdentifierFromQR(r.QRData)
		if id == "" {
			id = "N/A"
		}
		qr := extraction.ParseQRInvoice(r.QRData)
		s.rows = append(s.rows, []any{
			i + 1, r.FileName, r.QRData, id, qr.InvoiceNumber, qr.Date, qr.ProviderNIT,
			FormatCurrency(ParseAmount(qr.ValueBeforeTax)),
			FormatCurrency(ParseAmount(qr.IVA)),
			FormatCurrency(ParseAmount(qr.OtherTaxes)),
			FormatCurrency(ParseAmount(qr.Total)),
		})
	}
	return export("successful", s)
}

// ExportFailed lists documents whose QR code could not be read
func ExportFailed(records []reconcile.Record) ([]byte, error) {
	s := sheet{
		name:    "Archivos Sin QR",
		headers: []string{"#", "Nombre del Archivo", "Tipo de Archivo", "Error / Mensaje", "Tamaño (MB)"},
		widths:  []float64{5, 40, 20, 50, 12},
	}
	for i, r := range records {
		fileType := r.ContentType
		if fileType == "" {
			fileType = "N/A"
		}
		msg := r.Error
		if msg == "" {
			msg = reconcile.NoQRMessage
		}
		size := "N/A"
		if r.Size > 0 {
			size = decimal.NewFromInt(r.Size).Div(megabyte).StringFixed(2)
		}
		s.rows = append(s.rows, []any{i + 1, r.FileName, fileType, msg, size})
	}
	return export("failed", s)
}

// ExportNotFound lists decoded documents missing from the reference table
func ExportNotFound(records []reconcile.NotFound) ([]byte, error) {
	s := sheet{
		name:    "CUFE No Encontrados",
		headers: []string{"#", "Nombre del Archivo", "Código QR Detectado", "CUFE", "MENSAJE"},
		widths:  []float64{5, 30, 50, 40, 50},
	}
	for i, r := range records {
		s.rows = append(s.rows, []any{i + 1, r.FileName, r.QRData, r.CUFE, r.Message})
	}
	return export("not_found", s)
}

// ExportDuplicates lists every document whose identifier repeats
func ExportDuplicates(records []reconcile.Duplicate) ([]byte, error) {
	s := sheet{
		name:    "CUFE Duplicados",
		headers: []string{"#", "Nombre del Archivo", "CUFE", "Número de veces que se repite"},
		widths:  []float64{5, 40, 50, 25},
	}
	for i, r := range records {
		s.rows = append(s.rows, []any{i + 1, r.FileName, r.CUFE, r.Count})
	}
	return export("duplicates", s)
}

// ExportFound lists matched invoices followed by a TOTALES row. Subtotal is
// total minus IVA and the IVA percentage is taken over that subtotal.
func ExportFound(invoices []reconcile.FoundInvoice) ([]byte, error) {
	s := sheet{
		name: "Facturas Encontradas",
		headers: []string{
			"#", "Nombre del Archivo", "CUFE", "Prefijo", "Folio", "PrefijoFolio", "NIT Emisor",
			"Nombre Emisor", "IVA", "Subtotal", "Porcentaje IVA", "INC", "ICUI", "Total",
			"NumeroFacturaQR", "FechaFacturaQR", "NITProveedorQR", "ValorSinImpuestosQR",
			"ValorIVAQR", "ValorOtrosImpuestosQR", "ValorTotalQR",
		},
		widths: []float64{5, 30, 50, 10, 12, 15, 15, 30, 15, 15, 15, 12, 12, 15, 20, 15, 15, 20, 15, 20, 15},
	}

	var totalIVA, totalSubtotal, totalINC, totalICUI, totalTotal decimal.Decimal
	for i, inv := range invoices {
		iva := ParseAmount(inv.IVA)
		total := ParseAmount(inv.Total)
		subtotal := total.Sub(iva)

		totalIVA = totalIVA.Add(iva)
		totalSubtotal = totalSubtotal.Add(subtotal)
		totalINC = totalINC.Add(ParseAmount(inv.INC))
		totalICUI = totalICUI.Add(ParseAmount(inv.ICUI))
		totalTotal = totalTotal.Add(total)

		s.rows = append(s.rows, []any{
			i + 1, inv.QRFileName, inv.CUFE, inv.Prefix, inv.Folio, inv.PrefixFolio, inv.NIT,
			inv.IssuerName, inv.IVA, subtotal.StringFixed(2), percentage(iva, subtotal),
			inv.INC, inv.ICUI, inv.Total,
			inv.QR.InvoiceNumber, inv.QR.Date, inv.QR.ProviderNIT, inv.QR.ValueBeforeTax,
			inv.QR.IVA, inv.QR.OtherTaxes, inv.QR.Total,
		})
	}

	s.rows = append(s.rows, []any{
		"", "", "", "", "", "", "", "TOTALES",
		totalIVA.String(), totalSubtotal.StringFixed(2), percentage(totalIVA, totalSubtotal),
		totalINC.String(), totalICUI.String(), totalTotal.String(),
		"", "", "", "", "", "", "",
	})
	return export("found", s)
}

func percentage(part, whole decimal.Decimal) string {
	if !whole.IsPositive() {
		return "0.00%"
	}
	return part.Mul(hundred).Div(whole).StringFixed(2) + "%"
}

// ExportReview lists the documents needing follow-up with everything
// recovered from their OCR text
func ExportReview(rows []reconcile.ReviewRow) ([]byte, error) {
	s := sheet{
		name: "Procesamiento OCR",
		headers: []string{
			"#", "Nombre del Archivo", "Código QR Detectado", "Error / Mensaje", "CUFEOCR", "TEXTOCR",
			"PrefijoOCR", "FolioOCR", "Prefijo-FolioOCR", "NIT_EmisorOCR", "Nombre_EmisorOCR",
			"IVAOCR", "INCOCR", "ICUIOCR", "TotalOCR", "NIT_EmisorOCR_Txt", "Num_Factura_OCR_Txt",
			"SubTotal_OCR_Txt", "IVA_OCR_Txt", "Total_OCR_Txt", "Tipo_TransacciónOCR",
		},
		widths: []float64{5, 30, 50, 40, 50, 80, 12, 12, 15, 15, 30, 15, 15, 15, 15, 18, 18, 15, 15, 15, 25},
	}
	for i, r := range rows {
		ref := referenceCells(r.Reference)
		s.rows = append(s.rows, []any{
			i + 1, r.FileName, r.QRData, r.Message, r.CUFE, r.OCRText,
			ref.prefix, ref.folio, r.PrefixFolio, ref.nit, ref.name,
			ref.iva, ref.inc, ref.icui, ref.total,
			r.Extracted.NIT, r.Extracted.InvoiceNumber, r.Extracted.SubTotal,
			r.Extracted.IVA, r.Extracted.Total, r.Extracted.TransactionType,
		})
	}
	return export("review", s)
}

// ExportFinalReview lists the review rows that resolved an issuer tax id.
// Rows without one are dropped.
func ExportFinalReview(rows []reconcile.ReviewRow) ([]byte, error) {
	s := sheet{
		name: "Resultado Final OCR",
		headers: []string{
			"#", "Nombre del Archivo", "Código QR Detectado", "Error / Mensaje", "CUFE_OCR", "TEXTO OCR",
			"Prefijo-FolioOCR", "NIT_EmisorOCR", "Nombre_EmisorOCR", "IVAOCR", "INCOCR", "ICUIOCR",
			"TotalOCR", "NIT_EmisorOCR_Txt", "Num_Factura_OCR_Txt", "SubTotal_OCR_Txt",
			"IVA_OCR_Txt", "Total_OCR_Txt",
		},
		widths: []float64{5, 30, 50, 40, 50, 80, 15, 15, 30, 15, 15, 15, 15, 18, 18, 15, 15, 15},
	}
	for i, r := range reconcile.FinalReview(rows) {
		ref := referenceCells(r.Reference)
		prefixFolio := ""
		if !r.NeedsPatterns() {
			prefixFolio = r.PrefixFolio
		}
		s.rows = append(s.rows, []any{
			i + 1, r.FileName, r.QRData, r.Message, r.CUFE, r.OCRText,
			prefixFolio, ref.nit, ref.name, ref.iva, ref.inc, ref.icui, ref.total,
			r.Extracted.NIT, r.Extracted.InvoiceNumber, r.Extracted.SubTotal,
			r.Extracted.IVA, r.Extracted.Total,
		})
	}
	return export("final_review", s)
}

type refCells struct {
	prefix, folio, nit, name, iva, inc, icui, total string
}

func referenceCells(ref *reconcile.ReferenceFields) refCells {
	if ref == nil {
		return refCells{}
	}
	return refCells{
		prefix: ref.Prefix,
		folio:  ref.Folio,
		nit:    ref.NIT,
		name:   ref.IssuerName,
		iva:    FormatAmount(ParseAmount(ref.IVA)),
		inc:    FormatAmount(ParseAmount(ref.INC)),
		icui:   FormatAmount(ParseAmount(ref.ICUI)),
		total:  FormatAmount(ParseAmount(ref.Total)),
	}
}

func export(kind string, s sheet) ([]byte, error) {
	data, err := write(s)
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", kind, err)
	}
	slog.Info("export.xlsx.ok", "kind", kind, "rows", len(s.rows))
	return data, nil
}
