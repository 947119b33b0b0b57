package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationEngine creates and reads user notifications
type NotificationEngine struct {
	db       *gorm.DB
	resolver map[string]relatedLoader
}

// relatedLoader fetches the object a notification points at
type relatedLoader func(ctx context.Context, db *gorm.DB, id uuid.UUID) (interface{}, error)

func loadInto[T any](ctx context.Context, db *gorm.DB, id uuid.UUID) (interface{}, error) {
	var v T
	if err := db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// NewNotificationEngine creates a notification engine
func NewNotificationEngine(db *gorm.DB) *NotificationEngine {
	return &NotificationEngine{
		db: db,
		resolver: map[string]relatedLoader{
			models.RelatedTask:    loadInto[models.Task],
			models.RelatedProject: loadInto[models.Project],
			models.RelatedComment: loadInto[models.Comment],
			models.RelatedUser:    loadInto[models.User],
		},
	}
}

// NotificationInput describes a notification to send
type NotificationInput struct {
	RecipientID uuid.UUID
	SenderID    *uuid.UUID
	Type        models.NotificationType
	Title       string
	Message     string
	RelatedType string
	RelatedID   *uuid.UUID
	Data        map[string]interface{}
}

// Notify stores a notification using tx. Self notifications are skipped.
// Failures are logged, never returned.
func (e *NotificationEngine) Notify(tx *gorm.DB, in NotificationInput) {
	if in.SenderID != nil && *in.SenderID == in.RecipientID {
		return
	}
	n := models.Notification{
		RecipientID: in.RecipientID,
		SenderID:    in.SenderID,
		Type:        in.Type,
		Title:       in.Title,
		Message:     in.Message,
		RelatedType: in.RelatedType,
		RelatedID:   in.RelatedID,
	}
	if in.Data != nil {
		if raw, err := json.Marshal(in.Data); err == nil {
			n.Data = datatypes.JSON(raw)
		}
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&n).Error
	})
	if err != nil {
		logger.L().Error("failed to create notification",
			zap.String("recipient", in.RecipientID.String()),
			zap.String("type", string(in.Type)),
			zap.Error(err))
	}
}

// NotificationList is a page of notifications plus the unread count
type NotificationList struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int64                 `json:"unread"`
	Page
}

// List returns the recipient's notifications, newest first
func (e *NotificationEngine) List(ctx context.Context, recipient *models.User, unreadOnly bool, page int) (*NotificationList, error) {
	if err := requireActor(recipient); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	db := e.db.WithContext(ctx)

	q := db.Model(&models.Notification{}).Where("recipient_id = ?", recipient.ID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, lookupErr(err, "notifications")
	}

	var items []models.Notification
	if err := q.Preload("Sender").Order("created_at DESC").
		Offset((page - 1) * DefaultPageSize).Limit(DefaultPageSize).
		Find(&items).Error; err != nil {
		return nil, lookupErr(err, "notifications")
	}

	unread, err := e.UnreadCount(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}
	return &NotificationList{Notifications: items, Unread: unread, Page: newPage(page, DefaultPageSize, total)}, nil
}

// UnreadCount counts unread notifications for a user
func (e *NotificationEngine) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := e.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	if err != nil {
		return 0, lookupErr(err, "notifications")
	}
	return n, nil
}

// MarkRead marks one of the recipient's notifications as read
func (e *NotificationEngine) MarkRead(ctx context.Context, recipient *models.User, id uuid.UUID) (*models.Notification, error) {
	if err := requireActor(recipient); err != nil {
		return nil, err
	}
	var n models.Notification
	if err := e.db.WithContext(ctx).First(&n, "id = ? AND recipient_id = ?", id, recipient.ID).Error; err != nil {
		return nil, lookupErr(err, "notification")
	}
	if n.IsRead {
		return &n, nil
	}
	now := time.Now().UTC()
	n.IsRead = true
	n.ReadAt = &now
	if err := e.db.WithContext(ctx).Model(&n).Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, storeErr(err, "notification")
	}
	return &n, nil
}

// MarkAllRead marks every unread notification of the recipient as read
func (e *NotificationEngine) MarkAllRead(ctx context.Context, recipient *models.User) (int64, error) {
	if err := requireActor(recipient); err != nil {
		return 0, err
	}
	res := e.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipient.ID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, storeErr(res.Error, "notification")
	}
	return res.RowsAffected, nil
}

// Related loads the object a notification points at via the related-type table
func (e *NotificationEngine) Related(ctx context.Context, n *models.Notification) (interface{}, error) {
	if n.RelatedID == nil || n.RelatedType == "" {
		return nil, nil
	}
	load, ok := e.resolver[n.RelatedType]
	if !ok {
		return nil, errors.NewValidationError("related_type", fmt.Sprintf("unknown related type %q", n.RelatedType))
	}
	obj, err := load(ctx, e.db, *n.RelatedID)
	if err != nil {
		return nil, lookupErr(err, n.RelatedType)
	}
	return obj, nil
}
