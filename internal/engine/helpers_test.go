package engine

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/storage"
	"github.com/aethra/taskportal/internal/testutil"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ctx = context.Background()

func newServices(t *testing.T) (*Services, *gorm.DB) {
	t.Helper()
	svc, db, _ := newServicesWithStore(t)
	return svc, db
}

func newServicesWithStore(t *testing.T) (*Services, *gorm.DB, *storage.LocalStore) {
	t.Helper()
	db := testutil.NewDB(t)
	files, err := storage.NewLocalStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return NewServices(db, files), db, files
}

func idsOf(users ...*models.User) []uuid.UUID {
	out := make([]uuid.UUID, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

func errCode(err error) string {
	var pe errors.PortalError
	if stderrors.As(err, &pe) {
		return pe.Code()
	}
	return ""
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := errCode(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func wantField(t *testing.T, err error, field string) {
	t.Helper()
	wantCode(t, err, "VALIDATION_ERROR")
	var ve *errors.ValidationError
	if !stderrors.As(err, &ve) || ve.Field != field {
		t.Fatalf("expected validation on %q, got %v", field, err)
	}
}

func historyActions(t *testing.T, db *gorm.DB, taskID uuid.UUID) []string {
	t.Helper()
	var actions []string
	if err := db.Model(&models.TaskHistory{}).Where("task_id = ?", taskID).Order("timestamp").Pluck("action", &actions).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	return actions
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Where(where, args...).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
