package engine

import (
	"context"

	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ActivityLogger records portal-wide actions
type ActivityLogger struct {
	db *gorm.DB
}

// NewActivityLogger creates an activity logger
func NewActivityLogger(db *gorm.DB) *ActivityLogger {
	return &ActivityLogger{db: db}
}

// ActivityEntry describes one action
type ActivityEntry struct {
	Action      string
	ObjectType  string
	ObjectID    *uuid.UUID
	Description string
	Metadata    models.JSONB
	IPAddress   string
}

type clientIPKey struct{}

// WithClientIP attaches the caller address used by activity entries
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// Log stores an entry using tx. Failures are logged and swallowed.
func (a *ActivityLogger) Log(tx *gorm.DB, actor *models.User, entry ActivityEntry) {
	if entry.IPAddress == "" {
		entry.IPAddress = clientIP(tx.Statement.Context)
	}
	row := models.ActivityLog{
		Action:      entry.Action,
		ObjectType:  entry.ObjectType,
		ObjectID:    entry.ObjectID,
		Description: entry.Description,
		Metadata:    entry.Metadata,
		IPAddress:   entry.IPAddress,
	}
	if actor != nil {
		row.UserID = uuidPtr(actor.ID)
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&row).Error
	})
	if err != nil {
		logger.L().Warn("failed to write activity log", zap.String("action", entry.Action), zap.Error(err))
	}
}

// ActivityFilter narrows the activity listing
type ActivityFilter struct {
	Action     string
	ObjectType string
	UserID     *uuid.UUID
	Page       int
}

// ActivityList is a page of activity entries
type ActivityList struct {
	Entries []models.ActivityLog `json:"entries"`
	Page
}

// List returns recent activity. Super admins see everything; admins see
// actions by users of their division.
func (a *ActivityLogger) List(ctx context.Context, actor *models.User, f ActivityFilter) (*ActivityList, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	q := a.db.WithContext(ctx).Model(&models.ActivityLog{})

	switch actor.Role {
	case models.RoleSuperAdmin:
	case models.RoleAdmin:
		if actor.DivisionID == nil {
			return &ActivityList{Page: newPage(1, DefaultPageSize, 0)}, nil
		}
		q = q.Where("user_id IN (?)", a.db.Model(&models.User{}).Select("id").Where("division_id = ?", *actor.DivisionID))
	case models.RoleUser:
		return nil, errors.NewPermissionDeniedError("view", "activity")
	default:
		return nil, errors.NewPermissionDeniedError("view", "activity")
	}

	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.ObjectType != "" {
		q = q.Where("object_type = ?", f.ObjectType)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, lookupErr(err, "activity")
	}
	page := normalizePage(f.Page)
	var entries []models.ActivityLog
	if err := q.Preload("User").Order("created_at DESC").
		Offset((page - 1) * DefaultPageSize).Limit(DefaultPageSize).
		Find(&entries).Error; err != nil {
		return nil, lookupErr(err, "activity")
	}
	return &ActivityList{Entries: entries, Page: newPage(page, DefaultPageSize, total)}, nil
}
