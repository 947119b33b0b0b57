// Package testutil holds shared fixtures for package tests
package testutil

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aethra/taskportal/internal/config"
	"github.com/aethra/taskportal/internal/database"
	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Password is the plain password of every fixture user
const Password = "pass1234"

var (
	hashOnce sync.Once
	hashed   string
)

func passwordHash(t *testing.T) string {
	hashOnce.Do(func() {
		b, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash fixture password: %v", err)
		}
		hashed = string(b)
	})
	return hashed
}

// NewDB opens a migrated sqlite database in a temp dir
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "portal.db"),
	}, false)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Division creates an active division
func Division(t *testing.T, db *gorm.DB, name string) *models.Division {
	t.Helper()
	code := strings.ToUpper(strings.ReplaceAll(name, " ", ""))
	if len(code) > 4 {
		code = code[:4]
	}
	d := &models.Division{Name: name, Code: code + "-" + uuid.NewString()[:4], IsActive: true}
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("create division %s: %v", name, err)
	}
	return d
}

// UserOpt tweaks a fixture user before insert
type UserOpt func(*models.User)

// Inactive leaves the user awaiting approval
func Inactive() UserOpt {
	return func(u *models.User) { u.IsActive = false }
}

// Named sets the first and last name
func Named(first, last string) UserOpt {
	return func(u *models.User) { u.FirstName, u.LastName = first, last }
}

// User creates an active user with the fixture password
func User(t *testing.T, db *gorm.DB, username string, role models.Role, div *models.Division, opts ...UserOpt) *models.User {
	t.Helper()
	u := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: passwordHash(t),
		Role:         role,
		IsActive:     true,
	}
	if div != nil {
		id := div.ID
		u.DivisionID = &id
	}
	for _, o := range opts {
		o(u)
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	// IsActive=false is a zero value, write it explicitly
	if !u.IsActive {
		db.Model(u).UpdateColumn("is_active", false)
	}
	return u
}

// Project creates a project in div, optionally managed by admin
func Project(t *testing.T, db *gorm.DB, title string, div *models.Division, admin, creator *models.User) *models.Project {
	t.Helper()
	p := &models.Project{
		Title:       title,
		Code:        "TST-" + uuid.NewString()[:8],
		Status:      models.ProjectStatusActive,
		Priority:    models.PriorityMedium,
		CreatedByID: creator.ID,
	}
	if div != nil {
		id := div.ID
		p.DivisionID = &id
	}
	if admin != nil {
		id := admin.ID
		p.AssignedAdminID = &id
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create project %s: %v", title, err)
	}
	return p
}

// TaskOpt tweaks a fixture task before insert
type TaskOpt func(*models.Task)

// WithStatus sets the status
func WithStatus(s models.TaskStatus) TaskOpt {
	return func(task *models.Task) { task.Status = s }
}

// WithProject attaches the task to p
func WithProject(p *models.Project) TaskOpt {
	return func(task *models.Task) {
		id := p.ID
		task.ProjectID = &id
	}
}

// DueIn sets the due date relative to now
func DueIn(d time.Duration) TaskOpt {
	return func(task *models.Task) {
		due := time.Now().UTC().Add(d)
		task.DueDate = &due
	}
}

// CreatedAt backdates the task
func CreatedAt(ts time.Time) TaskOpt {
	return func(task *models.Task) { task.CreatedAt = ts }
}

// Task creates a task in div and assigns it to assignees
func Task(t *testing.T, db *gorm.DB, title string, div *models.Division, creator *models.User, assignees []*models.User, opts ...TaskOpt) *models.Task {
	t.Helper()
	task := &models.Task{
		Title:       title,
		Status:      models.TaskStatusPending,
		Priority:    models.PriorityMedium,
		DivisionID:  div.ID,
		CreatedByID: creator.ID,
	}
	for _, o := range opts {
		o(task)
	}
	if err := db.Omit("Assignees").Create(task).Error; err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	for _, a := range assignees {
		if err := db.Create(&models.TaskAssignee{TaskID: task.ID, UserID: a.ID}).Error; err != nil {
			t.Fatalf("assign %s: %v", a.Username, err)
		}
		task.Assignees = append(task.Assignees, *a)
	}
	return task
}
