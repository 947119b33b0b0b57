// Package engine holds the portal business rules on top of gorm
package engine

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Services bundles the engines the API and CLI need
type Services struct {
	DB            *gorm.DB
	Assignment    *AssignmentEngine
	History       *HistoryRecorder
	Notifications *NotificationEngine
	Activity      *ActivityLogger
	Divisions     *DivisionEngine
	Users         *UserEngine
	Projects      *ProjectEngine
	Tasks         *TaskEngine
	Templates     *TemplateEngine
	Reports       *ReportEngine
	Dashboard     *DashboardEngine
}

// NewServices wires every engine against db and the file store
func NewServices(db *gorm.DB, files *storage.LocalStore) *Services {
	assignment := NewAssignmentEngine(db)
	history := NewHistoryRecorder()
	notifications := NewNotificationEngine(db)
	activity := NewActivityLogger(db)
	tasks := NewTaskEngine(db, assignment, history, notifications, activity, files)
	reports := NewReportEngine(db)

	return &Services{
		DB:            db,
		Assignment:    assignment,
		History:       history,
		Notifications: notifications,
		Activity:      activity,
		Divisions:     NewDivisionEngine(db, activity, files),
		Users:         NewUserEngine(db, notifications, activity, files),
		Projects:      NewProjectEngine(db, assignment, notifications, activity, files),
		Tasks:         tasks,
		Templates:     NewTemplateEngine(db, tasks),
		Reports:       reports,
		Dashboard:     NewDashboardEngine(db),
	}
}

// Page describes a paginated slice of results
type Page struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// DefaultPageSize is the list page size used across the portal
const DefaultPageSize = 10

func newPage(page, size int, total int64) Page {
	if size < 1 {
		size = DefaultPageSize
	}
	pages := int((total + int64(size) - 1) / int64(size))
	return Page{Page: page, PageSize: size, Total: total, TotalPages: pages}
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// lookupErr maps gorm's not-found to a typed error and wraps the rest
func lookupErr(err error, resource string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NewNotFoundError(resource)
	}
	return errors.NewInternalError(fmt.Errorf("loading %s: %w", resource, err))
}

// storeErr wraps a write failure, translating unique violations to conflicts
func storeErr(err error, resource string) error {
	if err == nil {
		return nil
	}
	var pe errors.PortalError
	if stderrors.As(err, &pe) {
		return err
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return errors.NewConflictError(resource)
	}
	return errors.NewInternalError(fmt.Errorf("saving %s: %w", resource, err))
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

func requireActor(actor *models.User) error {
	if actor == nil {
		return errors.NewUnauthorizedError("")
	}
	return nil
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatHours(h *float64) string {
	if h == nil {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", *h), "0"), ".")
}

// ParseDate parses YYYY-MM-DD, returning nil for blank or invalid input
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		logger.Debug("ignoring invalid date %q", s)
		return nil
	}
	return &t
}
