package receipts

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"
)

const (
	pageMargin = 20.0
	labelWidth = 60.0
	rowHeight  = 8.0
	qrSize     = 48.0
)

type documentData struct {
	Company        string
	Number         string
	IssuedAt       time.Time
	CustomerName   string
	CustomerEmail  string
	TrackingNumber string
	Origin         string
	Destination    string
	Weight         string
	TxRef          string
	TransactionID  string
	Method         string
	Status         string
	Currency       string
	Amount         string
	QRContent      string
}

type row struct{ label, value string }

// renderDocument lays the receipt out as a single A4 PDF page.
func renderDocument(data documentData) ([]byte, error) {
	png, err := qrcode.Encode(data.QRContent, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.SetCreationDate(data.IssuedAt)
	pdf.SetTitle("Receipt "+data.Number, false)
	pdf.SetAuthor(data.Company, true)
	pdf.AddPage()

	// core fonts are cp1252
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageWidth, _ := pdf.GetPageSize()
	contentWidth := pageWidth - 2*pageMargin

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(contentWidth/2, 12, tr(data.Company), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(contentWidth/2, 6, tr("Receipt "+data.Number), "", 2, "R", false, 0, "")
	pdf.CellFormat(contentWidth/2, 6, "Issued "+formatIssued(data.IssuedAt), "", 1, "R", false, 0, "")
	pdf.SetDrawColor(11, 94, 215)
	pdf.SetLineWidth(0.6)
	pdf.Line(pageMargin, pdf.GetY()+2, pageWidth-pageMargin, pdf.GetY()+2)
	pdf.Ln(6)

	section := func(title string, rows []row) {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(contentWidth, 10, tr(title), "", 1, "L", false, 0, "")
		for _, r := range rows {
			pdf.SetFont("Helvetica", "", 10)
			pdf.SetTextColor(102, 102, 102)
			pdf.CellFormat(labelWidth, rowHeight, tr(r.label), "B", 0, "L", false, 0, "")
			pdf.SetTextColor(34, 34, 34)
			pdf.CellFormat(contentWidth-labelWidth, rowHeight, tr(r.value), "B", 1, "L", false, 0, "")
		}
		pdf.Ln(4)
	}

	pdf.SetDrawColor(230, 230, 230)
	pdf.SetLineWidth(0.2)
	section("Billed to", []row{
		{"Name", data.CustomerName},
		{"Email", data.CustomerEmail},
	})
	section("Shipment", []row{
		{"Tracking number", data.TrackingNumber},
		{"From", data.Origin},
		{"To", data.Destination},
		{"Weight", data.Weight + " kg"},
	})

	payment := []row{{"Reference", data.TxRef}}
	if data.TransactionID != "" {
		payment = append(payment, row{"Transaction", data.TransactionID})
	}
	payment = append(payment,
		row{"Method", data.Method},
		row{"Status", data.Status},
		row{"Amount", data.Currency + " " + data.Amount},
	)
	section("Payment", payment)

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
	y := pdf.GetY() + 4
	pdf.ImageOptions("qr", (pageWidth-qrSize)/2, y, qrSize, qrSize, false, opts, 0, "")
	pdf.SetY(y + qrSize + 2)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentWidth, 6, "Scan to verify this receipt.", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatIssued(t time.Time) string {
	return t.UTC().Format("02 Jan 2006 15:04 MST")
}
