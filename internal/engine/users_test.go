package engine

import (
	"strings"
	"testing"

	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/testutil"
)

func TestRegisterAwaitsApproval(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)

	u, err := svc.Users.Register(ctx, RegisterInput{
		Username:   "newbie",
		Email:      "newbie@example.com",
		Password:   "longenough",
		FirstName:  "<b>New</b>",
		DivisionID: &eng.ID,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.IsActive || u.Role != models.RoleUser || u.FirstName != "New" {
		t.Fatalf("registered = %+v", u)
	}

	_, err = svc.Users.Authenticate(ctx, "newbie", "longenough")
	wantCode(t, err, "PERMISSION_DENIED")

	if _, err := svc.Users.ToggleStatus(ctx, admin, u.ID); err != nil {
		t.Fatalf("ToggleStatus: %v", err)
	}
	if n := countRows(t, db, &models.Notification{}, "recipient_id = ? AND type = ?", u.ID, models.NotificationAccountApproved); n != 1 {
		t.Fatalf("approval notifications = %d", n)
	}

	logged, err := svc.Users.Authenticate(ctx, "NEWBIE", "longenough")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if logged.LastLoginAt == nil {
		t.Fatal("last login not stamped")
	}
	_, err = svc.Users.Authenticate(ctx, "newbie", "wrong-password")
	wantCode(t, err, "UNAUTHORIZED")
	_, err = svc.Users.Authenticate(ctx, "ghost", "whatever1")
	wantCode(t, err, "UNAUTHORIZED")
}

func TestRegisterValidation(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	closed := testutil.Division(t, db, "Closed")
	db.Model(closed).UpdateColumn("is_active", false)
	testutil.User(t, db, "taken", models.RoleUser, eng)

	tests := []struct {
		name string
		in   RegisterInput
		code string
	}{
		{"short username", RegisterInput{Username: "ab", Password: "longenough"}, "VALIDATION_ERROR"},
		{"bad characters", RegisterInput{Username: "no spaces", Password: "longenough"}, "VALIDATION_ERROR"},
		{"short password", RegisterInput{Username: "valid", Password: "short"}, "VALIDATION_ERROR"},
		{"bad email", RegisterInput{Username: "valid", Email: "nope", Password: "longenough"}, "VALIDATION_ERROR"},
		{"inactive division", RegisterInput{Username: "valid", Password: "longenough", DivisionID: &closed.ID}, "VALIDATION_ERROR"},
		{"username taken", RegisterInput{Username: "TAKEN", Password: "longenough"}, "CONFLICT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Users.Register(ctx, tt.in)
			wantCode(t, err, tt.code)
		})
	}
}

func TestToggleStatusTwiceRestores(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)

	off, err := svc.Users.ToggleStatus(ctx, admin, dev.ID)
	if err != nil || off.IsActive {
		t.Fatalf("first toggle = %+v, %v", off, err)
	}
	on, err := svc.Users.ToggleStatus(ctx, admin, dev.ID)
	if err != nil || !on.IsActive {
		t.Fatalf("second toggle = %+v, %v", on, err)
	}

	_, err = svc.Users.ToggleStatus(ctx, admin, admin.ID)
	wantCode(t, err, "PERMISSION_DENIED")
}

func TestAdminUserManagementScope(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	ops := testutil.Division(t, db, "Operations")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	testutil.User(t, db, "dev", models.RoleUser, eng)
	testutil.User(t, db, "idle", models.RoleUser, eng, testutil.Inactive())
	root := testutil.User(t, db, "root", models.RoleSuperAdmin, eng)
	opsDev := testutil.User(t, db, "ops-dev", models.RoleUser, ops)

	list, err := svc.Users.List(ctx, admin, UserFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Stats.Total != 3 || list.Stats.Active != 2 || list.Stats.Inactive != 1 || list.Stats.Admins != 1 {
		t.Fatalf("stats = %+v", list.Stats)
	}
	for _, u := range list.Users {
		if u.Role == models.RoleSuperAdmin || !u.InDivision(&eng.ID) {
			t.Errorf("admin can see %s", u.Username)
		}
	}

	list, _ = svc.Users.List(ctx, admin, UserFilter{Status: "inactive"})
	if list.Total != 1 || list.Users[0].Username != "idle" {
		t.Fatalf("inactive filter = %v", usernames(list.Users))
	}

	list, _ = svc.Users.List(ctx, root, UserFilter{Search: "OPS"})
	if list.Total != 1 {
		t.Fatalf("search total = %d", list.Total)
	}

	_, err = svc.Users.Update(ctx, admin, opsDev.ID, UserUpdate{FirstName: strPtr("x")})
	wantCode(t, err, "PERMISSION_DENIED")
	_, err = svc.Users.Update(ctx, admin, root.ID, UserUpdate{FirstName: strPtr("x")})
	wantCode(t, err, "PERMISSION_DENIED")
	_, err = svc.Users.List(ctx, opsDev, UserFilter{})
	wantCode(t, err, "PERMISSION_DENIED")
}

func strPtr(s string) *string { return &s }

func TestUpdateUserRules(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	ops := testutil.Division(t, db, "Operations")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	root := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)

	superRole := models.RoleSuperAdmin
	_, err := svc.Users.Update(ctx, admin, dev.ID, UserUpdate{Role: &superRole})
	wantCode(t, err, "PERMISSION_DENIED")

	adminRole := models.RoleAdmin
	promoted, err := svc.Users.Update(ctx, admin, dev.ID, UserUpdate{Role: &adminRole})
	if err != nil || promoted.Role != models.RoleAdmin {
		t.Fatalf("promote = %+v, %v", promoted, err)
	}

	userRole := models.RoleUser
	_, err = svc.Users.Update(ctx, admin, admin.ID, UserUpdate{Role: &userRole})
	wantField(t, err, "role")

	_, err = svc.Users.Update(ctx, admin, dev.ID, UserUpdate{DivisionID: &ops.ID})
	wantCode(t, err, "PERMISSION_DENIED")
	moved, err := svc.Users.Update(ctx, root, dev.ID, UserUpdate{DivisionID: &ops.ID})
	if err != nil || !moved.InDivision(&ops.ID) {
		t.Fatalf("move = %+v, %v", moved, err)
	}

	off := false
	_, err = svc.Users.Update(ctx, root, root.ID, UserUpdate{IsActive: &off})
	wantField(t, err, "is_active")

	if _, err := svc.Users.Update(ctx, root, dev.ID, UserUpdate{Password: "brand-new-pass"}); err != nil {
		t.Fatalf("password reset: %v", err)
	}
	if _, err := svc.Users.Authenticate(ctx, "dev", "brand-new-pass"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	svc, db := newServices(t)
	eng := testutil.Division(t, db, "Engineering")
	admin := testutil.User(t, db, "admin", models.RoleAdmin, eng)
	dev := testutil.User(t, db, "dev", models.RoleUser, eng)
	peer := testutil.User(t, db, "peer", models.RoleUser, eng)

	owned := testutil.Project(t, db, "Owned", eng, dev, dev)
	created := testutil.Task(t, db, "created", eng, dev, []*models.User{dev, peer})
	shared := testutil.Task(t, db, "shared", eng, peer, []*models.User{dev, peer})

	devComment, err := svc.Tasks.AddComment(ctx, dev, shared.ID, CommentInput{Content: "mine"})
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := svc.Tasks.AddComment(ctx, peer, shared.ID, CommentInput{Content: "reply", ParentID: &devComment.ID}); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if _, err := svc.Tasks.AddComment(ctx, peer, shared.ID, CommentInput{Content: "stays"}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	_, err = svc.Users.Delete(ctx, admin, admin.ID)
	wantCode(t, err, "PERMISSION_DENIED")

	res, err := svc.Users.Delete(ctx, admin, dev.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res.TasksDeleted != 1 || res.CommentsDeleted != 1 || res.ProjectsReassigned != 1 {
		t.Fatalf("deletion = %+v", res)
	}
	if !strings.Contains(res.Message(), "User dev deleted") {
		t.Fatalf("message = %q", res.Message())
	}

	if n := countRows(t, db, &models.Task{}, "id = ?", created.ID); n != 0 {
		t.Fatal("created task survived")
	}
	if n := countRows(t, db, &models.Task{}, "id = ?", shared.ID); n != 1 {
		t.Fatal("task created by someone else was deleted")
	}
	if n := countRows(t, db, &models.Comment{}, "task_id = ?", shared.ID); n != 1 {
		t.Fatalf("comments left = %d, want only the unrelated one", n)
	}
	if n := countRows(t, db, &models.TaskAssignee{}, "user_id = ?", dev.ID); n != 0 {
		t.Fatal("assignment rows survived")
	}
	var p models.Project
	db.First(&p, "id = ?", owned.ID)
	if p.CreatedByID != admin.ID || p.AssignedAdminID != nil {
		t.Fatalf("project = %+v", p)
	}
	_, err = svc.Users.Get(ctx, dev.ID)
	wantCode(t, err, "NOT_FOUND")
}
