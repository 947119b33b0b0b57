package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/export"
	"github.com/aethra/taskportal/internal/models"
	"github.com/gin-gonic/gin"
)

// reportFilter reads the report filters from the query string. status may
// repeat or hold a comma separated list.
func reportFilter(c *gin.Context) (engine.ReportFilter, bool) {
	divisionID, ok := queryUUID(c, "division")
	if !ok {
		return engine.ReportFilter{}, false
	}
	assigneeID, ok := queryUUID(c, "assigned_to")
	if !ok {
		return engine.ReportFilter{}, false
	}
	var statuses []models.TaskStatus
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.TaskStatus(s))
			}
		}
	}
	return engine.ReportFilter{
		DateFrom:   c.Query("date_from"),
		DateTo:     c.Query("date_to"),
		DivisionID: divisionID,
		Statuses:   statuses,
		Project:    c.Query("project"),
		AssigneeID: assigneeID,
	}, true
}

// Reports returns the reports page payload
// GET /reports
func (h *Handler) Reports(c *gin.Context) {
	f, ok := reportFilter(c)
	if !ok {
		return
	}
	ctx := requestContext(c)
	report, err := h.svc.Reports.Build(ctx, currentUser(c), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":  report,
		"filters": h.svc.Reports.Describe(ctx, f),
		"exports": gin.H{
			"excel": h.cfg.Reports.ExcelEnabled,
			"pdf":   h.cfg.Reports.PDFEnabled,
		},
	})
}

type renderFunc func(w io.Writer, doc export.Document) error

// exportReport renders the full filtered row set into a download. The file
// is built in memory so failures still produce a JSON error.
func (h *Handler) exportReport(c *gin.Context, render renderFunc, ext, contentType string) {
	f, ok := reportFilter(c)
	if !ok {
		return
	}
	ctx := requestContext(c)
	actor := currentUser(c)
	rows, err := h.svc.Reports.Rows(ctx, actor, f)
	if err != nil {
		respondError(c, err)
		return
	}
	now := time.Now().UTC()
	doc := export.NewDocument(rows, h.svc.Reports.Describe(ctx, f), actor, now)

	var buf bytes.Buffer
	if err := render(&buf, doc); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(ext, now)+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// ExportExcel downloads the filtered report as a workbook
// GET /reports/export/excel
func (h *Handler) ExportExcel(c *gin.Context) {
	h.exportReport(c, h.exporter.Excel, "xlsx", export.ExcelContentType)
}

// ExportPDF downloads the filtered report as a PDF
// GET /reports/export/pdf
func (h *Handler) ExportPDF(c *gin.Context) {
	h.exportReport(c, h.exporter.PDF, "pdf", export.PDFContentType)
}
