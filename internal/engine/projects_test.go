package engine

import (
	"io"
	"strings"
	"testing"

	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/testutil"
)

func TestCreateProject(t *testing.T) {
	svc, db := newServices(t)
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	eng, err := svc.Divisions.Create(ctx, sa, DivisionInput{Name: "Engineering"})
	if err != nil {
		t.Fatalf("division: %v", err)
	}
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	ops := testutil.Division(t, db, "Operations")

	p, err := svc.Projects.Create(ctx, admin, ProjectInput{Title: "Platform", AssignedAdminID: &admin.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.DivisionID == nil || *p.DivisionID != eng.ID {
		t.Fatal("admin projects default to the admin's division")
	}
	if !strings.HasPrefix(p.Code, "ENGI-") || p.Status != models.ProjectStatusPlanning {
		t.Fatalf("project = %+v", p)
	}

	_, err = svc.Projects.Create(ctx, admin, ProjectInput{Title: "Elsewhere", DivisionID: &ops.ID})
	wantCode(t, err, "PERMISSION_DENIED")

	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	_, err = svc.Projects.Create(ctx, dev, ProjectInput{Title: "Mine"})
	wantCode(t, err, "PERMISSION_DENIED")

	_, err = svc.Projects.Create(ctx, sa, ProjectInput{Title: "Backwards", StartDate: "2026-05-01", EndDate: "2026-04-01"})
	wantField(t, err, "end_date")
	_, err = svc.Projects.Create(ctx, sa, ProjectInput{Title: "Broke", Budget: -5})
	wantField(t, err, "budget")

	global, err := svc.Projects.Create(ctx, sa, ProjectInput{Title: "Global"})
	if err != nil {
		t.Fatalf("Create without division: %v", err)
	}
	if !strings.HasPrefix(global.Code, GenericDivisionCode+"-") {
		t.Fatalf("code = %q", global.Code)
	}
}

func TestProjectAdminIsNotified(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	other := testutil.User(t, db, "other-admin", models.RoleAdmin, eng)

	p, err := svc.Projects.Create(ctx, sa, ProjectInput{Title: "Platform", DivisionID: &eng.ID, AssignedAdminID: &admin.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n := countRows(t, db, &models.Notification{}, "recipient_id = ? AND type = ?", admin.ID, models.NotificationProjectAssigned); n != 1 {
		t.Fatalf("admin notifications = %d", n)
	}

	// the assigned admin may edit but not move divisions
	ops := testutil.Division(t, db, "Operations")
	_, err = svc.Projects.Update(ctx, admin, p.ID, ProjectInput{Title: "Moved", DivisionID: &ops.ID, AssignedAdminID: &admin.ID})
	wantCode(t, err, "PERMISSION_DENIED")

	updated, err := svc.Projects.Update(ctx, admin, p.ID, ProjectInput{Title: "Renamed", DivisionID: &eng.ID, AssignedAdminID: &other.ID})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != "Renamed" || updated.AssignedAdmin == nil || updated.AssignedAdmin.ID != other.ID {
		t.Fatalf("updated = %+v", updated)
	}
	if n := countRows(t, db, &models.Notification{}, "recipient_id = ? AND type = ?", other.ID, models.NotificationProjectAssigned); n != 1 {
		t.Fatal("new admin not notified")
	}

	// admin is no longer assigned and only keeps division-level view
	_, err = svc.Projects.Update(ctx, admin, p.ID, ProjectInput{Title: "Again", DivisionID: &eng.ID})
	wantCode(t, err, "PERMISSION_DENIED")
	wantCode(t, svc.Projects.Delete(ctx, other, p.ID), "PERMISSION_DENIED")
}

func TestProjectVisibilityAndMembership(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	ops := testutil.Division(t, db, "Operations")
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	engAdmin := testutil.User(t, db, "eng-admin", models.RoleAdmin, eng)
	opsAdmin := testutil.User(t, db, "ops-admin", models.RoleAdmin, ops)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)

	platform := testutil.Project(t, db, "Platform", eng, nil, sa)
	managed := testutil.Project(t, db, "Managed", eng, opsAdmin, sa)
	testutil.Project(t, db, "Ops only", ops, nil, sa)
	testutil.Task(t, db, "work", eng, sa, []*models.User{dev}, testutil.WithProject(platform),
		testutil.WithStatus(models.TaskStatusCompleted))
	testutil.Task(t, db, "more work", eng, sa, []*models.User{engAdmin}, testutil.WithProject(platform))

	tests := []struct {
		name  string
		actor *models.User
		want  int64
	}{
		{"super admin", sa, 3},
		{"division admin", engAdmin, 2},
		{"assigned admin from another division", opsAdmin, 2},
		{"member", dev, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := svc.Projects.List(ctx, tt.actor, ProjectFilter{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if list.Total != tt.want {
				t.Fatalf("total = %d, want %d", list.Total, tt.want)
			}
		})
	}

	list, _ := svc.Projects.List(ctx, dev, ProjectFilter{})
	if s := list.Projects[0]; s.TaskCount != 2 || s.CompletedCount != 1 || s.Progress != 50 {
		t.Fatalf("summary = %+v", s)
	}

	detail, err := svc.Projects.Get(ctx, dev, platform.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !detail.IsMember || detail.Permissions.CanEdit || !detail.Permissions.CanCreateTasks {
		t.Fatalf("member detail = %+v", detail.Permissions)
	}
	if detail.Stats.Total != 2 || len(detail.Tasks) != 1 {
		t.Fatalf("stats = %+v, visible tasks = %d", detail.Stats, len(detail.Tasks))
	}

	_, err = svc.Projects.Get(ctx, dev, managed.ID)
	wantCode(t, err, "PERMISSION_DENIED")

	mine, err := svc.Projects.MyProjects(ctx, opsAdmin)
	if err != nil || len(mine) != 1 || mine[0].ID != managed.ID {
		t.Fatalf("MyProjects = %v, %v", mine, err)
	}
	mine, _ = svc.Projects.MyProjects(ctx, dev)
	if len(mine) != 1 || mine[0].Mine.Completed != 1 || mine[0].Progress != 50 {
		t.Fatalf("dev projects = %+v", mine)
	}
}

func TestDeleteProjectDetachesTasks(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	p := testutil.Project(t, db, "Platform", eng, nil, sa)
	task := testutil.Task(t, db, "work", eng, sa, []*models.User{dev}, testutil.WithProject(p))

	if _, err := svc.Projects.UploadFile(ctx, sa, p.ID, Upload{Filename: "brief.docx", Body: strings.NewReader("doc")}, "design"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if err := svc.Projects.Delete(ctx, sa, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var stored models.Task
	if err := db.First(&stored, "id = ?", task.ID).Error; err != nil {
		t.Fatalf("task was deleted with its project: %v", err)
	}
	if stored.ProjectID != nil {
		t.Fatal("task still points at the deleted project")
	}
	if n := countRows(t, db, &models.ProjectFile{}, "project_id = ?", p.ID); n != 0 {
		t.Fatal("project files survived")
	}
}

func TestProjectFileAccess(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	ops := testutil.Division(t, db, "Operations")
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	creator := testutil.User(t, db, "creator", models.RoleAdmin, eng)
	engAdmin := testutil.User(t, db, "eng-admin", models.RoleAdmin, eng)
	opsAdmin := testutil.User(t, db, "ops-admin", models.RoleAdmin, ops)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	outsider := testutil.User(t, db, "outsider", models.RoleUser, eng)

	p := testutil.Project(t, db, "Platform", eng, nil, creator)
	testutil.Task(t, db, "work", eng, sa, []*models.User{dev}, testutil.WithProject(p))

	f, err := svc.Projects.UploadFile(ctx, engAdmin, p.ID, Upload{Filename: "plan.xlsx", Body: strings.NewReader("cells")}, "")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if f.FileType != models.FileTypeFor("plan.xlsx") {
		t.Fatalf("file type = %q", f.FileType)
	}
	_, err = svc.Projects.UploadFile(ctx, dev, p.ID, Upload{Filename: "x.txt", Body: strings.NewReader("x")}, "")
	wantCode(t, err, "PERMISSION_DENIED")

	for _, u := range []*models.User{sa, engAdmin, dev} {
		_, content, err := svc.Projects.OpenFile(ctx, u, f.ID)
		if err != nil {
			t.Fatalf("%s cannot download: %v", u.Username, err)
		}
		body, _ := io.ReadAll(content)
		content.Close()
		if string(body) != "cells" {
			t.Fatalf("body = %q", body)
		}
	}
	for _, u := range []*models.User{opsAdmin, outsider} {
		_, _, err := svc.Projects.OpenFile(ctx, u, f.ID)
		wantCode(t, err, "PERMISSION_DENIED")
	}

	wantCode(t, svc.Projects.DeleteFile(ctx, engAdmin, f.ID), "PERMISSION_DENIED")
	if err := svc.Projects.DeleteFile(ctx, creator, f.ID); err != nil {
		t.Fatalf("creator DeleteFile: %v", err)
	}
	_, _, err = svc.Projects.OpenFile(ctx, sa, f.ID)
	wantCode(t, err, "NOT_FOUND")
}
