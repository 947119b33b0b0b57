package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/testutil"
)

func TestCreateTaskRecordsHistoryAndNotifies(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng, testutil.Named("Dora", "Dev"))
	peer := testutil.User(t, db, "peer", models.RoleUser, eng, testutil.Named("Pete", "Peer"))

	task, err := svc.Tasks.Create(ctx, dev, TaskInput{
		Title:       "  Write docs ",
		Description: `<p>hello</p><script>alert(1)</script>`,
		DueDate:     "2030-01-02",
		AssigneeIDs: idsOf(dev, peer),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Title != "Write docs" || task.Status != models.TaskStatusPending || task.Priority != models.PriorityMedium {
		t.Fatalf("task = %+v", task)
	}
	if task.DivisionID != eng.ID {
		t.Fatal("task should inherit the creator's division")
	}
	if strings.Contains(task.Description, "script") {
		t.Fatalf("description not sanitized: %q", task.Description)
	}
	if len(task.Assignees) != 2 || !task.IsCollaborative() {
		t.Fatalf("assignees = %v", usernames(task.Assignees))
	}
	if !contains(historyActions(t, db, task.ID), ActionTaskCreated) {
		t.Fatal("missing creation history")
	}

	// the creator does not notify themselves
	if n := countRows(t, db, &models.Notification{}, "recipient_id = ? AND type = ?", peer.ID, models.NotificationTaskAssigned); n != 1 {
		t.Fatalf("peer notifications = %d", n)
	}
	if n := countRows(t, db, &models.Notification{}, "recipient_id = ?", dev.ID); n != 0 {
		t.Fatalf("creator notified %d times", n)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	loner := testutil.User(t, db, "loner", models.RoleUser, nil)
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)

	tests := []struct {
		name  string
		actor *models.User
		in    TaskInput
		field string
	}{
		{"missing title", dev, TaskInput{AssigneeIDs: idsOf(dev)}, "title"},
		{"long title", dev, TaskInput{Title: strings.Repeat("x", 201), AssigneeIDs: idsOf(dev)}, "title"},
		{"bad status", dev, TaskInput{Title: "x", Status: "done", AssigneeIDs: idsOf(dev)}, "status"},
		{"bad priority", dev, TaskInput{Title: "x", Priority: "asap", AssigneeIDs: idsOf(dev)}, "priority"},
		{"progress range", dev, TaskInput{Title: "x", ProgressPercentage: intPtr(101), AssigneeIDs: idsOf(dev)}, "progress_percentage"},
		{"negative hours", dev, TaskInput{Title: "x", EstimatedHours: floatPtr(-1), AssigneeIDs: idsOf(dev)}, "estimated_hours"},
		{"bad due date", dev, TaskInput{Title: "x", DueDate: "tomorrow", AssigneeIDs: idsOf(dev)}, "due_date"},
		{"no assignees", dev, TaskInput{Title: "x"}, "assignees"},
		{"no division", loner, TaskInput{Title: "x", AssigneeIDs: idsOf(loner)}, "division"},
		{"super admin without division", sa, TaskInput{Title: "x", AssigneeIDs: idsOf(sa)}, "division"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Tasks.Create(ctx, tt.actor, tt.in)
			wantField(t, err, tt.field)
		})
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestSuperAdminPicksDivision(t *testing.T) {
	svc, db := newServices(t)
	ops := testutil.Division(t, db, "Operations")
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	worker := testutil.User(t, db, "worker", models.RoleUser, ops)

	task, err := svc.Tasks.Create(ctx, sa, TaskInput{Title: "Ops job", DivisionID: &ops.ID, AssigneeIDs: idsOf(worker)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.DivisionID != ops.ID {
		t.Fatal("explicit division ignored")
	}
}

func TestProjectTaskUsesProjectDivision(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	ops := testutil.Division(t, db, "Operations")
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, ops)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	project := testutil.Project(t, db, "Platform", eng, nil, sa)

	task, err := svc.Tasks.Create(ctx, sa, TaskInput{Title: "x", ProjectID: &project.ID, AssigneeIDs: idsOf(dev)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.DivisionID != eng.ID || task.ProjectID == nil || *task.ProjectID != project.ID {
		t.Fatalf("task = %+v", task)
	}

	// not a member of the project yet
	outsider := testutil.User(t, db, "outsider", models.RoleUser, eng)
	_, err = svc.Tasks.Create(ctx, outsider, TaskInput{Title: "x", ProjectID: &project.ID, AssigneeIDs: idsOf(outsider)})
	wantCode(t, err, "PERMISSION_DENIED")
}

func TestStatusDrivesCompletion(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	peer := testutil.User(t, db, "peer", models.RoleUser, eng)
	task := testutil.Task(t, db, "Ship", eng, dev, []*models.User{peer})

	done, err := svc.Tasks.UpdateStatus(ctx, peer, task.ID, StatusInput{Status: models.TaskStatusCompleted, ActualHours: floatPtr(3)})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if done.CompletedAt == nil || done.ProgressPercentage != 100 {
		t.Fatalf("completed task = %+v", done)
	}
	actions := historyActions(t, db, task.ID)
	if !contains(actions, "Status changed") || !contains(actions, "Actual hours changed") {
		t.Fatalf("history = %v", actions)
	}
	if n := countRows(t, db, &models.Notification{}, "recipient_id = ? AND type = ?", dev.ID, models.NotificationTaskStatusChanged); n != 1 {
		t.Fatalf("creator status notifications = %d", n)
	}

	reopened, err := svc.Tasks.UpdateStatus(ctx, peer, task.ID, StatusInput{Status: models.TaskStatusInProgress})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if reopened.CompletedAt != nil {
		t.Fatal("completed_at must clear when the task reopens")
	}
	var stored models.Task
	db.First(&stored, "id = ?", task.ID)
	if stored.CompletedAt != nil || stored.Status != models.TaskStatusInProgress {
		t.Fatalf("stored = %+v", stored)
	}

	_, err = svc.Tasks.UpdateStatus(ctx, peer, task.ID, StatusInput{Status: "finished"})
	wantField(t, err, "status")
}

func TestUpdateTaskDiffsAndNotifiesNewAssignees(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	peer := testutil.User(t, db, "peer", models.RoleUser, eng)
	task := testutil.Task(t, db, "Old", eng, dev, []*models.User{dev})

	updated, err := svc.Tasks.Update(ctx, dev, task.ID, TaskInput{
		Title:       "New",
		Priority:    models.PriorityHigh,
		AssigneeIDs: idsOf(dev, peer),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "New" || len(updated.Assignees) != 2 {
		t.Fatalf("updated = %+v", updated)
	}
	actions := historyActions(t, db, task.ID)
	for _, want := range []string{"Title changed", "Priority changed", "Assignees changed"} {
		if !contains(actions, want) {
			t.Errorf("missing %q in %v", want, actions)
		}
	}
	if n := countRows(t, db, &models.Notification{}, "recipient_id = ? AND type = ?", peer.ID, models.NotificationTaskAssigned); n != 1 {
		t.Fatalf("new assignee notifications = %d", n)
	}

	// nil assignee slice keeps the current assignees
	again, err := svc.Tasks.Update(ctx, dev, task.ID, TaskInput{Title: "New"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(again.Assignees) != 2 {
		t.Fatalf("assignees changed: %v", usernames(again.Assignees))
	}
}

func TestMovingTaskRevalidatesAssignees(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	ops := testutil.Division(t, db, "Operations")
	admin := testutil.User(t, db, "eng-admin", models.RoleAdmin, eng)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	worker := testutil.User(t, db, "worker", models.RoleUser, ops)
	platform := testutil.Project(t, db, "Platform", eng, admin, admin)
	rollout := testutil.Project(t, db, "Rollout", ops, admin, admin)
	task := testutil.Task(t, db, "Migrate", eng, admin, []*models.User{dev}, testutil.WithProject(platform))

	_, err := svc.Tasks.Update(ctx, admin, task.ID, TaskInput{Title: "Migrate", ProjectID: &rollout.ID})
	wantField(t, err, "assignees")

	var stored models.Task
	if err := db.First(&stored, "id = ?", task.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.ProjectID == nil || *stored.ProjectID != platform.ID {
		t.Fatal("rejected move should leave the task in its project")
	}

	moved, err := svc.Tasks.Update(ctx, admin, task.ID, TaskInput{Title: "Migrate", ProjectID: &rollout.ID, AssigneeIDs: idsOf(worker)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if moved.DivisionID != ops.ID || len(moved.Assignees) != 1 || moved.Assignees[0].ID != worker.ID {
		t.Fatalf("moved = %+v", moved)
	}
}

func TestTaskVisibility(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	ops := testutil.Division(t, db, "Operations")
	engAdmin := testutil.User(t, db, "eng-admin", models.RoleAdmin, eng)
	opsAdmin := testutil.User(t, db, "ops-admin", models.RoleAdmin, ops)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	peer := testutil.User(t, db, "peer", models.RoleUser, eng)
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)

	mine := testutil.Task(t, db, "mine", eng, dev, []*models.User{dev})
	theirs := testutil.Task(t, db, "theirs", eng, peer, []*models.User{peer})
	managed := testutil.Project(t, db, "Cross", eng, opsAdmin, sa)
	cross := testutil.Task(t, db, "cross", eng, peer, []*models.User{peer}, testutil.WithProject(managed))

	list, err := svc.Tasks.List(ctx, dev, TaskFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Total != 1 || list.Tasks[0].ID != mine.ID {
		t.Fatalf("dev sees %d tasks", list.Total)
	}

	list, _ = svc.Tasks.List(ctx, engAdmin, TaskFilter{})
	if list.Total != 3 {
		t.Fatalf("division admin sees %d tasks", list.Total)
	}

	list, _ = svc.Tasks.List(ctx, opsAdmin, TaskFilter{})
	if list.Total != 1 || list.Tasks[0].ID != cross.ID {
		t.Fatalf("project admin sees %d tasks", list.Total)
	}

	_, err = svc.Tasks.Get(ctx, dev, theirs.ID)
	wantCode(t, err, "PERMISSION_DENIED")
	err = svc.Tasks.Delete(ctx, opsAdmin, mine.ID)
	wantCode(t, err, "PERMISSION_DENIED")
}

func TestTaskListFilters(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng, testutil.Named("Grace", "Hopper"))
	project := testutil.Project(t, db, "Compiler", eng, admin, admin)

	testutil.Task(t, db, "loose", eng, admin, []*models.User{admin})
	inProject := testutil.Task(t, db, "in project", eng, admin, []*models.User{dev},
		testutil.WithProject(project), testutil.WithStatus(models.TaskStatusInProgress))
	testutil.Task(t, db, "old", eng, admin, []*models.User{admin},
		testutil.CreatedAt(time.Date(2020, 1, 1, 9, 0, 0, 0, time.UTC)))

	tests := []struct {
		name   string
		filter TaskFilter
		want   int64
	}{
		{"status", TaskFilter{Status: models.TaskStatusInProgress}, 1},
		{"assignee", TaskFilter{AssignedTo: &dev.ID}, 1},
		{"project", TaskFilter{Project: project.ID.String()}, 1},
		{"no project", TaskFilter{Project: NoProject}, 2},
		{"invalid project ignored", TaskFilter{Project: "nope"}, 3},
		{"assignee name search", TaskFilter{Search: "hopper"}, 1},
		{"title search", TaskFilter{Search: "LOOSE"}, 1},
		{"created range", TaskFilter{DateFrom: "2019-12-31", DateTo: "2020-01-01"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := svc.Tasks.List(ctx, admin, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if list.Total != tt.want {
				t.Fatalf("total = %d, want %d", list.Total, tt.want)
			}
		})
	}

	list, _ := svc.Tasks.List(ctx, admin, TaskFilter{Search: "hopper"})
	if list.Tasks[0].ID != inProject.ID {
		t.Fatal("search matched the wrong task")
	}
}

func TestTaskListPagination(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	for i := 0; i < 12; i++ {
		testutil.Task(t, db, "task", eng, admin, []*models.User{admin})
	}
	list, err := svc.Tasks.List(ctx, admin, TaskFilter{Page: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Total != 12 || list.TotalPages != 2 || len(list.Tasks) != 2 {
		t.Fatalf("page = %+v, %d tasks", list.Page, len(list.Tasks))
	}
}

func TestDependencyCycles(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	a := testutil.Task(t, db, "A", eng, admin, []*models.User{admin})
	b := testutil.Task(t, db, "B", eng, admin, []*models.User{admin})
	c := testutil.Task(t, db, "C", eng, admin, []*models.User{admin})

	if _, err := svc.Tasks.AddDependency(ctx, admin, a.ID, b.ID); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if _, err := svc.Tasks.AddDependency(ctx, admin, b.ID, c.ID); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	// adding the same edge twice is a no-op
	if _, err := svc.Tasks.AddDependency(ctx, admin, a.ID, b.ID); err != nil {
		t.Fatalf("repeat a->b: %v", err)
	}

	_, err := svc.Tasks.AddDependency(ctx, admin, c.ID, a.ID)
	wantField(t, err, "dependencies")
	if !strings.Contains(err.Error(), "circular") {
		t.Fatalf("message = %q", err.Error())
	}
	_, err = svc.Tasks.AddDependency(ctx, admin, a.ID, a.ID)
	wantField(t, err, "dependencies")

	if !contains(historyActions(t, db, a.ID), "Dependencies changed") {
		t.Fatal("dependency change not recorded")
	}

	if _, err := svc.Tasks.RemoveDependency(ctx, admin, a.ID, b.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err = svc.Tasks.RemoveDependency(ctx, admin, a.ID, b.ID)
	wantCode(t, err, "NOT_FOUND")
	if _, err := svc.Tasks.AddDependency(ctx, admin, c.ID, a.ID); err != nil {
		t.Fatalf("cycle gone, c->a should work: %v", err)
	}
}

func TestCommentRules(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	task := testutil.Task(t, db, "T", eng, admin, []*models.User{dev})
	other := testutil.Task(t, db, "U", eng, admin, []*models.User{dev})

	_, err := svc.Tasks.AddComment(ctx, dev, task.ID, CommentInput{Content: "   "})
	wantField(t, err, "content")
	_, err = svc.Tasks.AddComment(ctx, dev, task.ID, CommentInput{Content: "psst", IsInternal: true})
	wantCode(t, err, "PERMISSION_DENIED")

	public, err := svc.Tasks.AddComment(ctx, dev, task.ID, CommentInput{Content: strings.Repeat("a", 150)})
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	var h models.TaskHistory
	db.Where("task_id = ? AND action = ?", task.ID, ActionCommentAdded).First(&h)
	if h.NewValue != strings.Repeat("a", 100)+"..." {
		t.Fatalf("preview = %q", h.NewValue)
	}

	if _, err := svc.Tasks.AddComment(ctx, admin, task.ID, CommentInput{Content: "admins only", IsInternal: true}); err != nil {
		t.Fatalf("internal comment: %v", err)
	}
	if _, err := svc.Tasks.AddComment(ctx, admin, task.ID, CommentInput{Content: "reply", ParentID: &public.ID}); err != nil {
		t.Fatalf("reply: %v", err)
	}
	_, err = svc.Tasks.AddComment(ctx, admin, other.ID, CommentInput{Content: "x", ParentID: &public.ID})
	wantField(t, err, "parent_id")

	// the regular assignee never hears about the internal comment
	if n := countRows(t, db, &models.Notification{}, "recipient_id = ? AND type = ?", dev.ID, models.NotificationCommentAdded); n != 1 {
		t.Fatalf("dev comment notifications = %d", n)
	}

	detail, err := svc.Tasks.Get(ctx, dev, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(detail.Comments) != 1 || len(detail.Comments[0].Replies) != 1 {
		t.Fatalf("dev sees %d threads", len(detail.Comments))
	}
	detail, _ = svc.Tasks.Get(ctx, admin, task.ID)
	if len(detail.Comments) != 2 {
		t.Fatalf("admin sees %d threads", len(detail.Comments))
	}
}

func TestLogTime(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	outsider := testutil.User(t, db, "outsider", models.RoleUser, eng)
	task := testutil.Task(t, db, "T", eng, dev, []*models.User{dev})

	for _, h := range []float64{2.5, 1.5} {
		if _, err := svc.Tasks.LogTime(ctx, dev, task.ID, TimeEntryInput{Hours: h, WorkDate: "2026-02-01"}); err != nil {
			t.Fatalf("LogTime: %v", err)
		}
	}
	var stored models.Task
	db.First(&stored, "id = ?", task.ID)
	if stored.ActualHours == nil || *stored.ActualHours != 4 {
		t.Fatalf("actual hours = %v", stored.ActualHours)
	}

	_, err := svc.Tasks.LogTime(ctx, dev, task.ID, TimeEntryInput{Hours: 0})
	wantField(t, err, "hours")
	_, err = svc.Tasks.LogTime(ctx, dev, task.ID, TimeEntryInput{Hours: 24.5})
	wantField(t, err, "hours")
	_, err = svc.Tasks.LogTime(ctx, dev, task.ID, TimeEntryInput{Hours: 1, WorkDate: "someday"})
	wantField(t, err, "work_date")
	_, err = svc.Tasks.LogTime(ctx, outsider, task.ID, TimeEntryInput{Hours: 1})
	wantCode(t, err, "PERMISSION_DENIED")

	entries, err := svc.Tasks.TimeEntries(ctx, dev, task.ID)
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries = %d, %v", len(entries), err)
	}
	if !contains(historyActions(t, db, task.ID), ActionTimeLogged) {
		t.Fatal("time logging not recorded")
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	peer := testutil.User(t, db, "peer", models.RoleUser, eng)
	task := testutil.Task(t, db, "T", eng, dev, []*models.User{dev, peer})
	blocker := testutil.Task(t, db, "B", eng, dev, []*models.User{dev})

	if _, err := svc.Tasks.AddComment(ctx, peer, task.ID, CommentInput{Content: "hi"}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := svc.Tasks.AddDependency(ctx, dev, blocker.ID, task.ID); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	att, err := svc.Tasks.AddAttachment(ctx, dev, task.ID, Upload{Filename: "notes.txt", Body: strings.NewReader("hello")})
	if err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}

	// only the creator among regular users may delete
	wantCode(t, svc.Tasks.Delete(ctx, peer, task.ID), "PERMISSION_DENIED")
	if err := svc.Tasks.Delete(ctx, dev, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for name, model := range map[string]interface{}{
		"comments":    &models.Comment{},
		"history":     &models.TaskHistory{},
		"assignees":   &models.TaskAssignee{},
		"attachments": &models.TaskAttachment{},
	} {
		if n := countRows(t, db, model, "task_id = ?", task.ID); n != 0 {
			t.Errorf("%s left behind: %d", name, n)
		}
	}
	if n := countRows(t, db, &models.TaskDependency{}, "depends_on_id = ?", task.ID); n != 0 {
		t.Error("incoming dependency edge left behind")
	}
	if _, _, err := svc.Tasks.OpenAttachment(ctx, dev, att.ID); errCode(err) != "NOT_FOUND" {
		t.Fatalf("attachment still reachable: %v", err)
	}
}

func TestAttachments(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	outsider := testutil.User(t, db, "outsider", models.RoleUser, eng)
	task := testutil.Task(t, db, "T", eng, dev, []*models.User{dev})

	att, err := svc.Tasks.AddAttachment(ctx, dev, task.ID, Upload{Filename: `C:\docs\report.pdf`, Body: strings.NewReader("%PDF")})
	if err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}
	if att.Filename != "report.pdf" || att.Size != 4 {
		t.Fatalf("attachment = %+v", att)
	}
	_, f, err := svc.Tasks.OpenAttachment(ctx, dev, att.ID)
	if err != nil {
		t.Fatalf("OpenAttachment: %v", err)
	}
	f.Close()

	_, _, err = svc.Tasks.OpenAttachment(ctx, outsider, att.ID)
	wantCode(t, err, "PERMISSION_DENIED")
	_, err = svc.Tasks.AddAttachment(ctx, outsider, task.ID, Upload{Filename: "x.txt", Body: strings.NewReader("x")})
	wantCode(t, err, "PERMISSION_DENIED")
}

func TestTaskDetailOverdue(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	late := testutil.Task(t, db, "late", eng, dev, []*models.User{dev}, testutil.DueIn(-48*time.Hour))
	closed := testutil.Task(t, db, "closed", eng, dev, []*models.User{dev},
		testutil.DueIn(-48*time.Hour), testutil.WithStatus(models.TaskStatusCompleted))

	detail, err := svc.Tasks.Get(ctx, dev, late.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !detail.Overdue || !detail.Permissions.CanDelete {
		t.Fatalf("detail = %+v", detail)
	}
	detail, _ = svc.Tasks.Get(ctx, dev, closed.ID)
	if detail.Overdue {
		t.Fatal("completed tasks are never overdue")
	}
}

func TestHistoryFailureDoesNotAbortMutation(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	task := testutil.Task(t, db, "Fragile", eng, dev, []*models.User{dev})

	if err := db.Migrator().DropTable(&models.TaskHistory{}); err != nil {
		t.Fatalf("drop task_history: %v", err)
	}

	if _, err := svc.Tasks.UpdateStatus(ctx, dev, task.ID, StatusInput{Status: models.TaskStatusInProgress}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	var stored models.Task
	if err := db.First(&stored, "id = ?", task.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.TaskStatusInProgress {
		t.Fatalf("status = %s, want in_progress", stored.Status)
	}

	if _, err := svc.Tasks.AddComment(ctx, dev, task.ID, CommentInput{Content: "still here"}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if n := countRows(t, db, &models.Comment{}, "task_id = ? AND content = ?", task.ID, "still here"); n != 1 {
		t.Fatalf("comments = %d", n)
	}
}
