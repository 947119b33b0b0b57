package engine

import (
	"math"
	"testing"
	"time"

	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/testutil"
	"gorm.io/gorm"
)

type reportFixture struct {
	svc      *Services
	db       *gorm.DB
	eng, ops *models.Division
	sa       *models.User
	engAdmin *models.User
	dev      *models.User
	peer     *models.User
	project  *models.Project
	done     *models.Task
	active   *models.Task
	late     *models.Task
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	svc, db := newServices(t)
	f := &reportFixture{svc: svc, db: db}
	f.eng = testutil.Division(t, db, "Engineering")
	f.ops = testutil.Division(t, db, "Operations")
	f.sa = testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	f.engAdmin = testutil.User(t, db, "eng-admin", models.RoleAdmin, f.eng)
	f.dev = testutil.User(t, db, "dev", models.RoleUser, f.eng, testutil.Named("Dora", "Dev"))
	f.peer = testutil.User(t, db, "peer", models.RoleUser, f.eng)
	opsDev := testutil.User(t, db, "ops-dev", models.RoleUser, f.ops)
	f.project = testutil.Project(t, db, "Platform", f.eng, nil, f.sa)

	f.done = testutil.Task(t, db, "done", f.eng, f.engAdmin, []*models.User{f.dev},
		testutil.WithStatus(models.TaskStatusCompleted),
		testutil.CreatedAt(time.Now().UTC().Add(-2*time.Hour)))
	f.active = testutil.Task(t, db, "active", f.eng, f.engAdmin, []*models.User{f.dev, f.peer},
		testutil.WithStatus(models.TaskStatusInProgress), testutil.WithProject(f.project))
	f.late = testutil.Task(t, db, "late", f.ops, opsDev, []*models.User{opsDev}, testutil.DueIn(-24*time.Hour))
	return f
}

func (f *reportFixture) comment(t *testing.T, task *models.Task, author *models.User, content string, internal bool, at time.Time) {
	t.Helper()
	c := &models.Comment{TaskID: task.ID, UserID: author.ID, Content: content, IsInternal: internal}
	c.CreatedAt = at
	if err := f.db.Omit("User", "Replies").Create(c).Error; err != nil {
		t.Fatalf("seed comment: %v", err)
	}
}

func TestReportTotalsAndBreakdowns(t *testing.T) {
	f := newReportFixture(t)

	r, err := f.svc.Reports.Build(ctx, f.sa, ReportFilter{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := Totals{Total: 3, Pending: 1, InProgress: 1, Completed: 1, Overdue: 1}
	if r.Totals != want {
		t.Fatalf("totals = %+v, want %+v", r.Totals, want)
	}
	if r.ByDivision[0] != (Bucket{"Engineering", 2}) || r.ByDivision[1] != (Bucket{"Operations", 1}) {
		t.Fatalf("by division = %+v", r.ByDivision)
	}
	if r.ByProject[0] != (Bucket{"Individual Task", 2}) || r.ByProject[1] != (Bucket{"Platform", 1}) {
		t.Fatalf("by project = %+v", r.ByProject)
	}
	if r.CollaborativeCount != 1 || r.TotalAssignees != 4 || r.RecentCount != 3 {
		t.Fatalf("report = %+v", r)
	}
	if r.AvgCompletionHours == nil || math.Abs(*r.AvgCompletionHours-2) > 0.1 {
		t.Fatalf("avg completion = %v", r.AvgCompletionHours)
	}
}

func TestReportScope(t *testing.T) {
	f := newReportFixture(t)
	nowhere := testutil.User(t, f.db, "nowhere", models.RoleAdmin, nil)

	tests := []struct {
		name  string
		actor *models.User
		want  int
	}{
		{"super admin", f.sa, 3},
		{"division admin", f.engAdmin, 2},
		{"admin without division", nowhere, 0},
		{"assignee", f.peer, 1},
		{"user", f.dev, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := f.svc.Reports.Rows(ctx, tt.actor, ReportFilter{})
			if err != nil {
				t.Fatalf("Rows: %v", err)
			}
			if len(rows) != tt.want {
				t.Fatalf("rows = %d, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestReportFilters(t *testing.T) {
	f := newReportFixture(t)

	tests := []struct {
		name   string
		filter ReportFilter
		want   int
	}{
		{"completed only", ReportFilter{Statuses: []models.TaskStatus{models.TaskStatusCompleted}}, 1},
		{"unknown status ignored", ReportFilter{Statuses: []models.TaskStatus{"bogus"}}, 3},
		{"two statuses", ReportFilter{Statuses: []models.TaskStatus{models.TaskStatusPending, models.TaskStatusInProgress}}, 2},
		{"division", ReportFilter{DivisionID: &f.ops.ID}, 1},
		{"project", ReportFilter{Project: f.project.ID.String()}, 1},
		{"individual tasks", ReportFilter{Project: NoProject}, 2},
		{"assignee", ReportFilter{AssigneeID: &f.peer.ID}, 1},
		{"future window", ReportFilter{DateFrom: "2999-01-01"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := f.svc.Reports.Rows(ctx, f.sa, tt.filter)
			if err != nil {
				t.Fatalf("Rows: %v", err)
			}
			if len(rows) != tt.want {
				t.Fatalf("rows = %d, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestReportLatestPublicComment(t *testing.T) {
	f := newReportFixture(t)
	base := time.Now().UTC().Add(-time.Hour)
	f.comment(t, f.active, f.dev, "first", false, base)
	f.comment(t, f.active, f.peer, "second", false, base.Add(time.Minute))
	f.comment(t, f.active, f.engAdmin, "secret", true, base.Add(2*time.Minute))
	f.comment(t, f.done, f.dev, "on a finished task", false, base)

	rows, err := f.svc.Reports.Rows(ctx, f.sa, ReportFilter{})
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	for _, row := range rows {
		switch row.Task.ID {
		case f.active.ID:
			if row.LatestComment == nil || row.LatestComment.Content != "second" {
				t.Fatalf("latest comment = %+v", row.LatestComment)
			}
			if row.LatestComment.User == nil || row.LatestComment.User.ID != f.peer.ID {
				t.Fatal("comment author not loaded")
			}
		case f.done.ID:
			if row.LatestComment != nil {
				t.Fatal("only in-progress tasks carry their latest comment")
			}
		case f.late.ID:
			if !row.Overdue {
				t.Fatal("late task not flagged overdue")
			}
		}
	}
}

func TestReportPreviewIsTruncated(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	for i := 0; i < ReportPreviewSize+3; i++ {
		testutil.Task(t, db, "bulk", eng, sa, []*models.User{sa})
	}
	r, err := svc.Reports.Build(ctx, sa, ReportFilter{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.Totals.Total != ReportPreviewSize+3 || len(r.Tasks) != ReportPreviewSize {
		t.Fatalf("total = %d, listed = %d", r.Totals.Total, len(r.Tasks))
	}
}

func TestDescribeFilters(t *testing.T) {
	f := newReportFixture(t)
	lines := f.svc.Reports.Describe(ctx, ReportFilter{
		DateFrom:   "2026-01-01",
		DateTo:     "garbage",
		DivisionID: &f.eng.ID,
		Statuses:   []models.TaskStatus{models.TaskStatusInProgress},
		Project:    f.project.ID.String(),
		AssigneeID: &f.dev.ID,
	})
	want := []FilterLine{
		{"From", "2026-01-01"},
		{"Division", "Engineering"},
		{"Status", "In Progress"},
		{"Project", "Platform"},
		{"Assigned to", "Dora Dev"},
	}
	if len(lines) != len(want) {
		t.Fatalf("lines = %+v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, lines[i], want[i])
		}
	}
}

func TestBucketsOrdering(t *testing.T) {
	got := buckets(map[string]int{"b": 2, "a": 2, "c": 5})
	want := []Bucket{{"c", 5}, {"a", 2}, {"b", 2}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buckets = %+v", got)
		}
	}
}
