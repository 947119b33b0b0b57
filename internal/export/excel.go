package export

import (
	"fmt"
	"io"

	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/models"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the workbook
const (
	TasksSheet   = "Tasks"
	SummarySheet = "Summary"
)

// TaskColumns are the headers of the Tasks sheet, in order
var TaskColumns = []string{
	"ID", "Title", "Description", "Status", "Project", "Division",
	"Created By", "Assigned To", "Team Size", "Due Date",
	"Latest Comment", "Estimated Hours", "Actual Hours",
}

var taskColumnWidths = []float64{38, 30, 50, 12, 25, 15, 20, 30, 10, 18, 40, 15, 15}

type workbookStyles struct {
	header  int
	cell    int
	comment int
}

func newStyles(f *excelize.File) (*workbookStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	header, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"4F46E5"}, Pattern: 1},
		Border: border,
	})
	if err != nil {
		return nil, err
	}
	cell, err := f.NewStyle(&excelize.Style{
		Border:    border,
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, err
	}
	comment, err := f.NewStyle(&excelize.Style{
		Border:    border,
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"F0F9FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, err
	}
	return &workbookStyles{header: header, cell: cell, comment: comment}, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}, style int) error {
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(values), row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, first, &values); err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}

func taskValues(row engine.ReportRow) []interface{} {
	t := &row.Task
	return []interface{}{
		t.ID.String(),
		t.Title,
		PlainDescription(t),
		t.Status.Display(),
		engine.ProjectLabel(t),
		engine.DivisionLabel(t),
		creatorText(t),
		AssigneeText(t),
		len(t.Assignees),
		dateText(t.DueDate),
		CommentText(row),
		hoursText(t.EstimatedHours),
		hoursText(t.ActualHours),
	}
}

// Excel writes the workbook with a Tasks sheet and a Summary sheet
func (x *Exporter) Excel(w io.Writer, doc Document) error {
	if err := unavailable(x.cfg.ExcelEnabled, "Excel"); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TasksSheet); err != nil {
		return fmt.Errorf("naming tasks sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("adding summary sheet: %w", err)
	}
	styles, err := newStyles(f)
	if err != nil {
		return fmt.Errorf("creating styles: %w", err)
	}

	headers := make([]interface{}, len(TaskColumns))
	for i, h := range TaskColumns {
		headers[i] = h
	}
	if err := writeRow(f, TasksSheet, 1, headers, styles.header); err != nil {
		return fmt.Errorf("writing headers: %w", err)
	}
	for i, row := range doc.Rows {
		if err := writeRow(f, TasksSheet, i+2, taskValues(row), styles.cell); err != nil {
			return fmt.Errorf("writing task %s: %w", row.Task.ID, err)
		}
		if row.Task.Status == models.TaskStatusInProgress {
			cell, err := excelize.CoordinatesToCellName(11, i+2)
			if err != nil {
				return fmt.Errorf("locating status cell: %w", err)
			}
			if err := f.SetCellStyle(TasksSheet, cell, cell, styles.comment); err != nil {
				return err
			}
		}
	}
	for i, width := range taskColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(TasksSheet, col, col, width); err != nil {
			return err
		}
	}
	if err := f.SetPanes(TasksSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	if err := writeRow(f, SummarySheet, 1, []interface{}{"Metric", "Value"}, styles.header); err != nil {
		return err
	}
	r := 2
	for _, line := range summaryLines(doc) {
		if err := writeRow(f, SummarySheet, r, []interface{}{line[0], line[1]}, styles.cell); err != nil {
			return err
		}
		r++
	}
	for _, fl := range doc.Filters {
		if err := writeRow(f, SummarySheet, r, []interface{}{"Filter: " + fl.Label, fl.Value}, styles.cell); err != nil {
			return err
		}
		r++
	}
	if err := writeRow(f, SummarySheet, r, []interface{}{"Generated At", doc.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")}, styles.cell); err != nil {
		return err
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(SummarySheet, "B", "B", 30); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
