// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-pdf/fpdf"
)

// Document is the content of one yearly report.
type Document struct {
	Year             int
	Created          time.Time
	Summary          Summary
	Monthly          []MonthPoint
	Categories       []CategorySpend
	Amounts          []float64
	Executive        string
	MonthlyText      string
	CategoryText     string
	DistributionText string
}

const (
	pageWidth   = 210.0
	marginLeft  = 18.0
	marginRight = 14.0
	contentW    = pageWidth - marginLeft - marginRight
	chartHeight = 55.0
)

var (
	green = [3]int{0x2e, 0xa6, 0x4a}
	blue  = [3]int{0x00, 0x8f, 0xd3}
)

const outlook = "The current dataset provides a solid basis for tracking environmental performance over time. " +
	"In the next expansion step, EcoTrace can be extended with emission factors for electricity, fuel, cloud usage and logistics " +
	"in order to calculate Scope 1, Scope 2 and selected Scope 3 greenhouse gas emissions. " +
	"On top of that, the same pipeline can be reused to support CSRD reporting templates and internal management cockpits."

// FileName is the report file name for year.
func FileName(year int) string {
	return fmt.Sprintf("ESG_Sustainability_Report_%d.pdf", year)
}

// WritePDF renders doc as an A4 PDF.
func WritePDF(w io.Writer, doc Document) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginLeft, 12, marginRight)
	pdf.SetAutoPageBreak(true, 12)
	pdf.SetTitle(fmt.Sprintf("ESG Sustainability Report %d", doc.Year), true)
	pdf.AddPage()

	r := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	pdf.SetFont("Helvetica", "B", 20)
	pdf.MultiCell(contentW, 9, r.tr(fmt.Sprintf("EcoTrace ESG Sustainability Report %d", doc.Year)), "", "L", false)
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(0x55, 0x55, 0x55)
	pdf.CellFormat(contentW, 6, "Created on: "+doc.Created.Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	r.heading1("1. Executive summary")
	r.paragraph(doc.Executive)

	r.heading1("2. Key environmental metrics")
	r.metrics(doc.Summary)

	r.heading1("3. Visual analysis")

	r.heading2("3.1 Monthly energy consumption and spend")
	if len(doc.Monthly) > 0 {
		labels := make([]string, len(doc.Monthly))
		energy := make([]float64, len(doc.Monthly))
		spend := make([]float64, len(doc.Monthly))
		for i, m := range doc.Monthly {
			labels[i], energy[i], spend[i] = m.Month, m.EnergyKWh, m.PriceEUR
		}
		r.barChart("Energy (kWh)", labels, energy, green)
		r.barChart("Spend (EUR)", labels, spend, blue)
		r.paragraph(doc.MonthlyText)
	} else {
		r.paragraph("No monthly data is available for this period.")
	}

	r.heading2("3.2 Spend by sustainability category")
	if len(doc.Categories) > 0 {
		labels := make([]string, len(doc.Categories))
		values := make([]float64, len(doc.Categories))
		for i, c := range doc.Categories {
			labels[i], values[i] = c.Category, c.PriceEUR
		}
		r.hbarChart(labels, values, blue)
		r.paragraph(doc.CategoryText)
	} else {
		r.paragraph("No classified spend by category is available for this period.")
	}

	r.heading2("3.3 Distribution of invoice amounts")
	if len(doc.Amounts) > 0 {
		buckets := Histogram(doc.Amounts)
		labels := make([]string, len(buckets))
		counts := make([]float64, len(buckets))
		for i, b := range buckets {
			labels[i], counts[i] = b.Label, float64(b.Count)
		}
		r.barChart("Invoices per amount range (EUR)", labels, counts, blue)
		r.paragraph(doc.DistributionText)
	} else {
		r.paragraph("No invoice amount information is available for this period.")
	}

	r.heading1("4. Outlook and next steps")
	r.paragraph(outlook)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to generate PDF output: %w", err)
	}
	return nil
}

type pdfWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (r *pdfWriter) heading1(text string) {
	r.pdf.Ln(2)
	r.pdf.SetFont("Helvetica", "B", 14)
	r.pdf.CellFormat(contentW, 8, r.tr(text), "", 1, "L", false, 0, "")
}

func (r *pdfWriter) heading2(text string) {
	r.pdf.SetFont("Helvetica", "B", 11)
	r.pdf.CellFormat(contentW, 7, r.tr(text), "", 1, "L", false, 0, "")
}

func (r *pdfWriter) paragraph(text string) {
	r.pdf.SetFont("Helvetica", "", 10)
	r.pdf.MultiCell(contentW, 5, r.tr(text), "", "J", false)
	r.pdf.Ln(4)
}

func (r *pdfWriter) metrics(s Summary) {
	rows := [][3]string{
		{"Metric", "Value", "Unit"},
		{"Invoices processed", fmt.Sprint(s.Invoices), ""},
		{"Total spend", fmt.Sprintf("%.2f", s.PriceEUR), "EUR"},
		{"Electricity usage", fmt.Sprintf("%.3f", s.EnergyKWh), "kWh"},
		{"Fuel consumption", fmt.Sprintf("%.3f", s.FuelLitres), "L"},
		{"Cloud compute", fmt.Sprintf("%.3f", s.CloudHours), "CloudHours"},
		{"Cloud storage", fmt.Sprintf("%.3f", s.StorageGBMonth), "GB-month"},
		{"Data transfer", fmt.Sprintf("%.3f", s.TransferGB), "GB"},
	}
	widths := [3]float64{80, 50, 40}

	for i, row := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		r.pdf.SetFont("Helvetica", style, 10)
		for j, cell := range row {
			align := "L"
			if j == 1 {
				align = "R"
			}
			r.pdf.CellFormat(widths[j], 6, r.tr(cell), "1", 0, align, false, 0, "")
		}
		r.pdf.Ln(-1)
	}
	r.pdf.Ln(4)
}

// barChart draws a vertical bar chart scaled to the largest value.
func (r *pdfWriter) barChart(title string, labels []string, values []float64, color [3]int) {
	pdf := r.pdf
	if pdf.GetY()+chartHeight+20 > 285 {
		pdf.AddPage()
	}

	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(contentW, 5, r.tr(title), "", 1, "L", false, 0, "")

	top := pdf.GetY() + 2
	bottom := top + chartHeight
	maxV := maxOf(values)

	pdf.SetDrawColor(0x99, 0x99, 0x99)
	pdf.Line(marginLeft, bottom, marginLeft+contentW, bottom)
	pdf.SetFont("Helvetica", "", 7)
	pdf.Text(marginLeft, top-0.5, fmt.Sprintf("max %.1f", maxV))

	slot := contentW / float64(len(values))
	barW := slot * 0.7
	pdf.SetFillColor(color[0], color[1], color[2])
	for i, v := range values {
		h := 0.0
		if maxV > 0 {
			h = chartHeight * v / maxV
		}
		x := marginLeft + float64(i)*slot + (slot-barW)/2
		if h > 0 {
			pdf.Rect(x, bottom-h, barW, h, "F")
		}

		pdf.SetXY(marginLeft+float64(i)*slot, bottom+1)
		pdf.CellFormat(slot, 4, r.tr(labels[i]), "", 0, "C", false, 0, "")
	}
	pdf.SetXY(marginLeft, bottom+8)
}

// hbarChart draws labelled horizontal bars, one per row.
func (r *pdfWriter) hbarChart(labels []string, values []float64, color [3]int) {
	pdf := r.pdf
	const labelW, rowH = 60.0, 6.0
	maxV := maxOf(values)
	barSpace := contentW - labelW - 25

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetFillColor(color[0], color[1], color[2])
	for i, v := range values {
		if pdf.GetY()+rowH > 285 {
			pdf.AddPage()
		}
		y := pdf.GetY()
		pdf.CellFormat(labelW, rowH, r.tr(labels[i]), "", 0, "L", false, 0, "")
		w := 0.0
		if maxV > 0 {
			w = barSpace * v / maxV
		}
		if w > 0 {
			pdf.Rect(marginLeft+labelW, y+1, w, rowH-2, "F")
		}
		pdf.SetXY(marginLeft+labelW+w+1, y)
		pdf.CellFormat(24, rowH, fmt.Sprintf("%.2f", v), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)
}

func maxOf(values []float64) float64 {
	m := 0.0
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}
