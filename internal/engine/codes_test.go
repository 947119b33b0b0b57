package engine

import (
	"regexp"
	"testing"
	"time"

	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/testutil"
	"github.com/google/uuid"
)

func TestDivisionCodeBase(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Engineering", "ENGI"},
		{"h r", "HR"},
		{"  Field Ops ", "FIEL"},
		{"", "DIV"},
		{"Ärzte", "ÄRZT"},
	}
	for _, tt := range tests {
		if got := DivisionCodeBase(tt.name); got != tt.want {
			t.Errorf("DivisionCodeBase(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestProjectCodeBase(t *testing.T) {
	id := uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000000")
	if got := ProjectCodeBase("ENGI", 2026, id); got != "ENGI-2026-A1B2C3" {
		t.Fatalf("got %q", got)
	}
	if got := ProjectCodeBase("", 2026, id); got != "GEN-2026-A1B2C3" {
		t.Fatalf("got %q", got)
	}
}

func TestNextDivisionCodeSkipsTaken(t *testing.T) {
	db := testutil.NewDB(t)
	for _, code := range []string{"ENGI", "ENGI1"} {
		if err := db.Create(&models.Division{Name: "div " + code, Code: code, IsActive: true}).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	code, err := NextDivisionCode(ctx, db, "Engines", nil)
	if err != nil {
		t.Fatalf("NextDivisionCode: %v", err)
	}
	if code != "ENGI2" {
		t.Fatalf("code = %q, want ENGI2", code)
	}

	var own models.Division
	db.First(&own, "code = ?", "ENGI")
	if code, _ := NextDivisionCode(ctx, db, "Engineering", &own.ID); code != "ENGI" {
		t.Fatalf("a division keeps its own code, got %q", code)
	}
}

func TestGeneratedCodesAreUnique(t *testing.T) {
	svc, db := newServices(t)
	sa := testutil.User(t, db, "root", models.RoleSuperAdmin, nil)

	divCodes := map[string]bool{}
	for _, name := range []string{"Engineering", "Engine Room", "Engines"} {
		d, err := svc.Divisions.Create(ctx, sa, DivisionInput{Name: name})
		if err != nil {
			t.Fatalf("create division %s: %v", name, err)
		}
		if divCodes[d.Code] {
			t.Fatalf("duplicate division code %s", d.Code)
		}
		divCodes[d.Code] = true
	}

	pattern := regexp.MustCompile(`^ENGI-\d{4}-[0-9A-F]{6}(-\d+)?$`)
	var first models.Division
	db.First(&first, "code = ?", "ENGI")
	projectCodes := map[string]bool{}
	for i := 0; i < 5; i++ {
		p, err := svc.Projects.Create(ctx, sa, ProjectInput{Title: "Project", DivisionID: &first.ID})
		if err != nil {
			t.Fatalf("create project: %v", err)
		}
		if !pattern.MatchString(p.Code) {
			t.Errorf("code %q does not match pattern", p.Code)
		}
		if projectCodes[p.Code] {
			t.Fatalf("duplicate project code %s", p.Code)
		}
		projectCodes[p.Code] = true
	}
}

func TestNextProjectCodeAppendsSuffixOnCollision(t *testing.T) {
	db := testutil.NewDB(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	code, err := NextProjectCode(ctx, db, "OPS", now, nil)
	if err != nil {
		t.Fatalf("NextProjectCode: %v", err)
	}
	if code[:9] != "OPS-2026-" {
		t.Fatalf("code = %q", code)
	}
	creator := testutil.User(t, db, "creator", models.RoleSuperAdmin, nil)
	if err := db.Create(&models.Project{Title: "x", Code: code, CreatedByID: creator.ID}).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	taken, err := codeTaken(ctx, db, &models.Project{}, code, nil)
	if err != nil || !taken {
		t.Fatalf("codeTaken = %v, %v", taken, err)
	}
}
