package database

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aethra/taskportal/internal/config"
	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
)

func TestPostgresDSNFromURL(t *testing.T) {
	dsn, err := PostgresDSN(config.DatabaseConfig{URL: "postgres://portal:pw@db.internal:5433/tasks?sslmode=require"})
	if err != nil {
		t.Fatalf("PostgresDSN: %v", err)
	}
	for _, part := range []string{"host=db.internal", "port=5433", "user=portal", "dbname=tasks", "sslmode=require"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("dsn %q missing %q", dsn, part)
		}
	}
	if _, err := PostgresDSN(config.DatabaseConfig{URL: "mysql://nope"}); err == nil {
		t.Fatal("non-postgres url should fail")
	}
}

func TestPostgresDSNFromFields(t *testing.T) {
	dsn, _ := PostgresDSN(config.DatabaseConfig{Host: "localhost", Port: 5432, User: "u", Password: "p", Name: "n"})
	if !strings.Contains(dsn, "sslmode=disable") || !strings.Contains(dsn, "dbname=n") {
		t.Fatalf("dsn = %q", dsn)
	}
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := MySQLDSN(config.DatabaseConfig{Host: "mysql", Port: 3306, User: "portal", Password: "pw", Name: "tasks"})
	if err != nil {
		t.Fatalf("MySQLDSN: %v", err)
	}
	if !strings.HasPrefix(dsn, "portal:pw@tcp(mysql:3306)/tasks?") || !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("dsn = %q", dsn)
	}

	dsn, err = MySQLDSN(config.DatabaseConfig{URL: "root@tcp(127.0.0.1:3306)/portal"})
	if err != nil || !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("url dsn = %q, err = %v", dsn, err)
	}
}

func TestDialectorRejectsUnknownDriver(t *testing.T) {
	if _, err := Dialector(config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunMigrationsIdempotentOnSQLite(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "portal.db")}, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := RunMigrations(db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var applied int64
	db.Model(&MigrationRecord{}).Count(&applied)
	if applied != int64(len(Migrations)) {
		t.Fatalf("applied = %d, want %d", applied, len(Migrations))
	}
	for _, table := range []string{"divisions", "users", "tasks", "task_assignees", "task_dependencies", "task_history", "notifications"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("missing table %s", table)
		}
	}
}

func TestCompletionMigrationRepairsRows(t *testing.T) {
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "portal.db")}, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.SetupJoinTable(&models.Task{}, "Assignees", &models.TaskAssignee{}); err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatal(err)
	}

	div := models.Division{Name: "Ops", Code: "OPS", IsActive: true}
	user := models.User{Username: "ops", Role: models.RoleUser, IsActive: true}
	db.Create(&div)
	db.Create(&user)
	id := uuid.New()
	stale := time.Now().UTC()
	// Bypass hooks to simulate a legacy row
	if err := db.Exec(`INSERT INTO tasks (id, title, status, priority, division_id, created_by_id, completed_at, progress_percentage, created_at, updated_at)
		VALUES (?, 'legacy', 'pending', 'medium', ?, ?, ?, 0, ?, ?)`, id, div.ID, user.ID, stale, stale, stale).Error; err != nil {
		t.Fatalf("insert legacy task: %v", err)
	}

	if err := RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	var task models.Task
	db.First(&task, "id = ?", id)
	if task.CompletedAt != nil {
		t.Fatal("completed_at should be cleared on a pending task")
	}
}
