package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReportPreviewSize is how many tasks the report page lists
const ReportPreviewSize = 20

// recentWindow is the span counted as recent activity
const recentWindow = 30 * 24 * time.Hour

// ReportEngine aggregates task data for the reports page and exports
type ReportEngine struct {
	db *gorm.DB
}

// NewReportEngine creates a report engine
func NewReportEngine(db *gorm.DB) *ReportEngine {
	return &ReportEngine{db: db}
}

// ReportFilter is applied after role scoping
type ReportFilter struct {
	DateFrom   string
	DateTo     string
	DivisionID *uuid.UUID
	Statuses   []models.TaskStatus
	Project    string // project id or "no_project"
	AssigneeID *uuid.UUID
}

// Totals are the headline counters
type Totals struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

// Bucket is one group of a breakdown
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ReportRow is a task with what the report shows next to it
type ReportRow struct {
	Task          models.Task     `json:"task"`
	LatestComment *models.Comment `json:"latest_comment,omitempty"`
	Overdue       bool            `json:"is_overdue"`
}

// Report is the full reports page payload
type Report struct {
	Totals             Totals      `json:"totals"`
	ByDivision         []Bucket    `json:"by_division"`
	ByProject          []Bucket    `json:"by_project"`
	ByStatus           []Bucket    `json:"by_status"`
	AvgCompletionHours *float64    `json:"avg_completion_hours"`
	RecentCount        int         `json:"recent_count"`
	CollaborativeCount int         `json:"collaborative_count"`
	TotalAssignees     int         `json:"total_assignees"`
	Tasks              []ReportRow `json:"tasks"`
	GeneratedAt        time.Time   `json:"generated_at"`
}

// reportScope limits q to the actor's reporting scope. ok is false when the
// scope is empty.
func reportScope(db, q *gorm.DB, actor *models.User) (scoped *gorm.DB, ok bool) {
	switch actor.Role {
	case models.RoleSuperAdmin:
		return q, true
	case models.RoleAdmin:
		if actor.DivisionID == nil {
			return q, false
		}
		return q.Where("tasks.division_id = ?", *actor.DivisionID), true
	case models.RoleUser:
		return q.Where("tasks.created_by_id = ? OR tasks.id IN (?)", actor.ID, assignedTo(db, actor.ID)), true
	}
	return q, false
}

func (e *ReportEngine) query(ctx context.Context, actor *models.User, f ReportFilter) (*gorm.DB, bool) {
	db := e.db.WithContext(ctx)
	q, ok := reportScope(db, db.Model(&models.Task{}), actor)
	if !ok {
		return q, false
	}
	q = applyCreatedRange(q, f.DateFrom, f.DateTo)
	if f.DivisionID != nil {
		q = q.Where("tasks.division_id = ?", *f.DivisionID)
	}
	var statuses []models.TaskStatus
	for _, s := range f.Statuses {
		if s.Valid() {
			statuses = append(statuses, s)
		}
	}
	if len(statuses) > 0 {
		q = q.Where("tasks.status IN ?", statuses)
	}
	q = applyProjectFilter(q, f.Project)
	if f.AssigneeID != nil {
		q = q.Where("tasks.id IN (?)", assignedTo(db, *f.AssigneeID))
	}
	return q, true
}

// Rows returns every task matching the filter, newest first, with the latest
// public comment attached to in-progress tasks
func (e *ReportEngine) Rows(ctx context.Context, actor *models.User, f ReportFilter) ([]ReportRow, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	q, ok := e.query(ctx, actor, f)
	if !ok {
		return []ReportRow{}, nil
	}
	var tasks []models.Task
	err := q.Preload("Assignees").Preload("Project").Preload("Division").Preload("CreatedBy").
		Order("tasks.created_at DESC").Find(&tasks).Error
	if err != nil {
		return nil, lookupErr(err, "report tasks")
	}

	latest, err := e.latestComments(ctx, tasks)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rows := make([]ReportRow, len(tasks))
	for i := range tasks {
		rows[i] = ReportRow{Task: tasks[i], LatestComment: latest[tasks[i].ID], Overdue: tasks[i].IsOverdue(now)}
	}
	return rows, nil
}

func (e *ReportEngine) latestComments(ctx context.Context, tasks []models.Task) (map[uuid.UUID]*models.Comment, error) {
	out := make(map[uuid.UUID]*models.Comment)
	var ids []uuid.UUID
	for _, t := range tasks {
		if t.Status == models.TaskStatusInProgress {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return out, nil
	}
	var comments []models.Comment
	err := e.db.WithContext(ctx).Preload("User").
		Where("task_id IN ? AND is_internal = ?", ids, false).
		Order("created_at DESC").
		Find(&comments).Error
	if err != nil {
		return nil, lookupErr(err, "comments")
	}
	for i := range comments {
		if _, seen := out[comments[i].TaskID]; !seen {
			out[comments[i].TaskID] = &comments[i]
		}
	}
	return out, nil
}

// Build computes the reports page
func (e *ReportEngine) Build(ctx context.Context, actor *models.User, f ReportFilter) (*Report, error) {
	rows, err := e.Rows(ctx, actor, f)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	r := Summarize(rows, now)
	if len(rows) > ReportPreviewSize {
		rows = rows[:ReportPreviewSize]
	}
	r.Tasks = rows
	return r, nil
}

// Summarize computes counters and breakdowns over rows
func Summarize(rows []ReportRow, now time.Time) *Report {
	r := &Report{GeneratedAt: now, Tasks: rows}
	divisions := map[string]int{}
	projects := map[string]int{}
	statuses := map[string]int{}
	var completionHours float64
	var completedWithTime int

	for i := range rows {
		t := &rows[i].Task
		r.Totals.Total++
		switch t.Status {
		case models.TaskStatusPending:
			r.Totals.Pending++
		case models.TaskStatusInProgress:
			r.Totals.InProgress++
		case models.TaskStatusCompleted:
			r.Totals.Completed++
			if t.CompletedAt != nil && !t.CreatedAt.IsZero() {
				completionHours += t.CompletedAt.Sub(t.CreatedAt).Hours()
				completedWithTime++
			}
		}
		if t.IsOverdue(now) {
			r.Totals.Overdue++
		}
		if now.Sub(t.CreatedAt) <= recentWindow {
			r.RecentCount++
		}
		if t.IsCollaborative() {
			r.CollaborativeCount++
		}
		r.TotalAssignees += len(t.Assignees)

		divisions[DivisionLabel(t)]++
		projects[ProjectLabel(t)]++
		statuses[t.Status.Display()]++
	}
	if completedWithTime > 0 {
		avg := completionHours / float64(completedWithTime)
		r.AvgCompletionHours = &avg
	}
	r.ByDivision = buckets(divisions)
	r.ByProject = buckets(projects)
	r.ByStatus = buckets(statuses)
	return r
}

// DivisionLabel names a task's division for reports
func DivisionLabel(t *models.Task) string {
	if t.Division != nil {
		return t.Division.Name
	}
	return "N/A"
}

// ProjectLabel names a task's project for reports
func ProjectLabel(t *models.Task) string {
	if t.Project != nil {
		return t.Project.Title
	}
	return "Individual Task"
}

// buckets orders groups by count descending, then label
func buckets(m map[string]int) []Bucket {
	out := make([]Bucket, 0, len(m))
	for label, n := range m {
		out = append(out, Bucket{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// FilterLine is one applied filter in human readable form
type FilterLine struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Describe renders the applied filters for export headers. Unknown ids are skipped.
func (e *ReportEngine) Describe(ctx context.Context, f ReportFilter) []FilterLine {
	db := e.db.WithContext(ctx)
	var lines []FilterLine
	if d := ParseDate(f.DateFrom); d != nil {
		lines = append(lines, FilterLine{"From", d.Format("2006-01-02")})
	}
	if d := ParseDate(f.DateTo); d != nil {
		lines = append(lines, FilterLine{"To", d.Format("2006-01-02")})
	}
	if f.DivisionID != nil {
		var d models.Division
		if db.Select("name").First(&d, "id = ?", *f.DivisionID).Error == nil {
			lines = append(lines, FilterLine{"Division", d.Name})
		}
	}
	var labels []string
	for _, s := range f.Statuses {
		if s.Valid() {
			labels = append(labels, s.Display())
		}
	}
	if len(labels) > 0 {
		lines = append(lines, FilterLine{"Status", strings.Join(labels, ", ")})
	}
	switch f.Project {
	case "":
	case NoProject:
		lines = append(lines, FilterLine{"Project", "Individual tasks only"})
	default:
		var p models.Project
		if id, err := uuid.Parse(f.Project); err == nil && db.Select("title").First(&p, "id = ?", id).Error == nil {
			lines = append(lines, FilterLine{"Project", p.Title})
		}
	}
	if f.AssigneeID != nil {
		var u models.User
		if db.First(&u, "id = ?", *f.AssigneeID).Error == nil {
			lines = append(lines, FilterLine{"Assigned to", u.DisplayName()})
		}
	}
	return lines
}
