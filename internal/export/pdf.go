package export

import (
	"fmt"
	"io"
	"os"

	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/models"
	"github.com/go-pdf/fpdf"
)

const (
	lineHeight = 5.0
	pageMargin = 10.0
)

type pdfColumn struct {
	title string
	width float64
	value func(row *pdfRow) string
}

type pdfRow struct {
	task    *models.Task
	comment string
}

var pdfColumns = []pdfColumn{
	{"Title", 60, func(r *pdfRow) string { return r.task.Title }},
	{"Status", 22, func(r *pdfRow) string { return r.task.Status.Display() }},
	{"Project", 35, func(r *pdfRow) string { return engine.ProjectLabel(r.task) }},
	{"Division", 30, func(r *pdfRow) string { return engine.DivisionLabel(r.task) }},
	{"Assigned To", 45, func(r *pdfRow) string { return AssigneeText(r.task) }},
	{"Due Date", 28, func(r *pdfRow) string { return dateText(r.task.DueDate) }},
	{"Latest Comment", 57, func(r *pdfRow) string { return r.comment }},
}

type pdfWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (p *pdfWriter) text(style string, size float64, s string) {
	p.pdf.SetFont("Helvetica", style, size)
	p.pdf.CellFormat(0, lineHeight+1, p.tr(s), "", 1, "L", false, 0, "")
}

func (p *pdfWriter) tableHeader() {
	p.pdf.SetFont("Helvetica", "B", 9)
	p.pdf.SetFillColor(79, 70, 229)
	p.pdf.SetTextColor(255, 255, 255)
	for _, c := range pdfColumns {
		p.pdf.CellFormat(c.width, lineHeight+2, c.title, "1", 0, "L", true, 0, "")
	}
	p.pdf.Ln(-1)
	p.pdf.SetTextColor(0, 0, 0)
}

// tableRow draws one task with every cell wrapped to the tallest column
func (p *pdfWriter) tableRow(r *pdfRow) {
	p.pdf.SetFont("Helvetica", "", 8)
	cells := make([][]string, len(pdfColumns))
	lines := 1
	for i, c := range pdfColumns {
		cells[i] = p.pdf.SplitText(p.tr(c.value(r)), c.width-2)
		if len(cells[i]) > lines {
			lines = len(cells[i])
		}
	}
	height := float64(lines) * lineHeight

	_, pageHeight := p.pdf.GetPageSize()
	if p.pdf.GetY()+height > pageHeight-pageMargin {
		p.pdf.AddPage()
		p.tableHeader()
		p.pdf.SetFont("Helvetica", "", 8)
	}

	x, y := p.pdf.GetXY()
	commentFill := r.task.Status == models.TaskStatusInProgress
	for i, c := range pdfColumns {
		style := "D"
		if commentFill && i == len(pdfColumns)-1 {
			p.pdf.SetFillColor(240, 249, 255)
			style = "FD"
		}
		p.pdf.Rect(x, y, c.width, height, style)
		for j, line := range cells[i] {
			p.pdf.SetXY(x+1, y+float64(j)*lineHeight)
			p.pdf.CellFormat(c.width-2, lineHeight, line, "", 0, "L", false, 0, "")
		}
		x += c.width
	}
	p.pdf.SetXY(pageMargin, y+height)
}

// PDF writes a landscape report with the filters, the summary and one table
// row per task
func (x *Exporter) PDF(w io.Writer, doc Document) error {
	if err := unavailable(x.cfg.PDFEnabled, "PDF"); err != nil {
		return err
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.SetTitle(x.title(), true)
	pdf.SetCreator(x.title(), true)
	p := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	pdf.AddPage()
	if x.cfg.LogoPath != "" {
		if _, err := os.Stat(x.cfg.LogoPath); err == nil {
			pdf.ImageOptions(x.cfg.LogoPath, pageMargin, pageMargin, 0, 15, false, fpdf.ImageOptions{ReadDpi: true}, 0, "")
			pdf.SetY(pageMargin + 18)
		}
	}

	p.text("B", 16, x.title())
	p.text("", 9, fmt.Sprintf("Generated: %s by %s", doc.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"), doc.GeneratedBy))
	if len(doc.Filters) > 0 {
		pdf.Ln(2)
		p.text("B", 10, "Filters")
		for _, f := range doc.Filters {
			p.text("", 9, f.Label+": "+f.Value)
		}
	}

	pdf.Ln(2)
	p.text("B", 10, "Summary")
	for _, line := range summaryLines(doc) {
		p.text("", 9, line[0]+": "+line[1])
	}

	pdf.Ln(4)
	p.tableHeader()
	if len(doc.Rows) == 0 {
		p.text("I", 9, "No tasks match the selected filters.")
	}
	for i := range doc.Rows {
		row := &doc.Rows[i]
		p.tableRow(&pdfRow{task: &row.Task, comment: CommentText(*row)})
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("rendering pdf: %w", err)
	}
	return pdf.Output(w)
}
