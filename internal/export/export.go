// Package export renders task reports as Excel workbooks and PDF documents
package export

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aethra/taskportal/internal/config"
	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/security"
)

// Content types of the generated files
const (
	ExcelContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	PDFContentType   = "application/pdf"
)

const (
	descriptionLimit = 500
	commentLimit     = 200
	notAvailable     = "N/A"
)

// Document is everything an export needs: the full row set, its summary
// and the filters that produced it
type Document struct {
	Rows        []engine.ReportRow
	Summary     *engine.Report
	Filters     []engine.FilterLine
	GeneratedAt time.Time
	GeneratedBy string
}

// NewDocument summarizes rows into a document stamped with now
func NewDocument(rows []engine.ReportRow, filters []engine.FilterLine, by *models.User, now time.Time) Document {
	return Document{
		Rows:        rows,
		Summary:     engine.Summarize(rows, now),
		Filters:     filters,
		GeneratedAt: now,
		GeneratedBy: by.DisplayName(),
	}
}

// Exporter writes reports in the formats enabled by configuration
type Exporter struct {
	cfg config.ReportsConfig
}

// New creates an exporter
func New(cfg config.ReportsConfig) *Exporter {
	return &Exporter{cfg: cfg}
}

func (x *Exporter) title() string {
	if x.cfg.CompanyName == "" {
		return "Task Report"
	}
	return x.cfg.CompanyName + " Task Report"
}

// Filename returns the download name for ext, e.g. tasks_report_20260102_150405.xlsx
func Filename(ext string, now time.Time) string {
	return fmt.Sprintf("tasks_report_%s.%s", now.Format("20060102_150405"), ext)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

// PlainDescription strips markup and truncates long descriptions
func PlainDescription(t *models.Task) string {
	return truncate(security.StripHTML(t.Description), descriptionLimit)
}

// AssigneeText lists assignee names or "Unassigned"
func AssigneeText(t *models.Task) string {
	if len(t.Assignees) == 0 {
		return "Unassigned"
	}
	return t.AssigneeNames()
}

// CommentText renders the latest comment column: the author and a preview for
// in-progress tasks, a dash for finished or waiting ones
func CommentText(row engine.ReportRow) string {
	switch row.Task.Status {
	case models.TaskStatusInProgress:
		c := row.LatestComment
		if c == nil {
			return "No comments yet"
		}
		author := ""
		if c.User != nil {
			author = c.User.DisplayName()
		}
		content := []rune(security.StripHTML(c.Content))
		if len(content) > commentLimit {
			content = content[:commentLimit]
		}
		return author + ": " + string(content) + "..."
	case models.TaskStatusCompleted, models.TaskStatusPending, models.TaskStatusCancelled:
		return "-"
	}
	return ""
}

func dateText(t *time.Time) string {
	if t == nil {
		return notAvailable
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func hoursText(h *float64) string {
	if h == nil || *h == 0 {
		return notAvailable
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", *h), "0"), ".")
}

func creatorText(t *models.Task) string {
	if t.CreatedBy == nil {
		return notAvailable
	}
	return t.CreatedBy.DisplayName()
}

// summaryLines is the Metric/Value table shared by both formats
func summaryLines(doc Document) [][2]string {
	s := doc.Summary
	if s == nil {
		s = engine.Summarize(doc.Rows, doc.GeneratedAt)
	}
	lines := [][2]string{
		{"Total Tasks", fmt.Sprint(s.Totals.Total)},
		{"Completed Tasks", fmt.Sprint(s.Totals.Completed)},
		{"Pending Tasks", fmt.Sprint(s.Totals.Pending)},
		{"In Progress Tasks", fmt.Sprint(s.Totals.InProgress)},
		{"Overdue Tasks", fmt.Sprint(s.Totals.Overdue)},
		{"Collaborative Tasks", fmt.Sprint(s.CollaborativeCount)},
		{"Total Assignments", fmt.Sprint(s.TotalAssignees)},
	}
	if s.AvgCompletionHours != nil {
		lines = append(lines, [2]string{"Avg Completion (hours)", fmt.Sprintf("%.1f", *s.AvgCompletionHours)})
	}
	return lines
}

func unavailable(enabled bool, format string) error {
	if !enabled {
		return errors.NewExportUnavailableError(format)
	}
	return nil
}
