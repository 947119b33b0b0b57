package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// History actions
const (
	ActionTaskCreated     = "Task created"
	ActionCommentAdded    = "Comment added"
	ActionTimeLogged      = "Time logged"
	ActionAttachmentAdded = "Attachment added"
)

// commentPreviewLen is how much of a comment goes into history
const commentPreviewLen = 100

// HistoryRecorder appends task history entries. A failed write is logged
// and never aborts the mutation that triggered it.
type HistoryRecorder struct{}

// NewHistoryRecorder creates a history recorder
func NewHistoryRecorder() *HistoryRecorder {
	return &HistoryRecorder{}
}

// Change is a single tracked field transition
type Change struct {
	Action string
	Old    string
	New    string
}

// Record writes one entry inside a savepoint of tx
func (h *HistoryRecorder) Record(tx *gorm.DB, taskID, actorID uuid.UUID, action, oldValue, newValue string) {
	entry := models.TaskHistory{
		TaskID:   taskID,
		UserID:   actorID,
		Action:   action,
		OldValue: oldValue,
		NewValue: newValue,
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&entry).Error
	})
	if err != nil {
		logger.L().Error("failed to record task history",
			zap.String("task_id", taskID.String()),
			zap.String("action", action),
			zap.Error(err))
	}
}

// RecordChanges writes every change in order
func (h *HistoryRecorder) RecordChanges(tx *gorm.DB, taskID, actorID uuid.UUID, changes []Change) {
	for _, c := range changes {
		h.Record(tx, taskID, actorID, c.Action, c.Old, c.New)
	}
}

// List returns a task's history, newest first
func (h *HistoryRecorder) List(ctx context.Context, db *gorm.DB, taskID uuid.UUID) ([]models.TaskHistory, error) {
	var entries []models.TaskHistory
	err := db.WithContext(ctx).Preload("User").
		Where("task_id = ?", taskID).
		Order("timestamp DESC").
		Find(&entries).Error
	if err != nil {
		return nil, lookupErr(err, "task history")
	}
	return entries, nil
}

// CommentPreview keeps the first 100 characters, marking truncation with "..."
func CommentPreview(content string) string {
	if utf8.RuneCountInString(content) <= commentPreviewLen {
		return content
	}
	runes := []rune(content)
	return string(runes[:commentPreviewLen]) + "..."
}

// TaskSnapshot is the rendered value of every tracked field
type TaskSnapshot struct {
	Title          string
	Status         string
	Priority       string
	DueDate        string
	EstimatedHours string
	ActualHours    string
	Progress       string
	Assignees      string
	Dependencies   string
	Project        string
}

// SnapshotTask renders the tracked fields of a task. Assignees, Project and
// Dependencies.DependsOn should be loaded.
func SnapshotTask(t *models.Task) TaskSnapshot {
	names := make([]string, 0, len(t.Assignees))
	for i := range t.Assignees {
		names = append(names, t.Assignees[i].DisplayName())
	}
	sort.Strings(names)

	deps := make([]string, 0, len(t.Dependencies))
	for _, d := range t.Dependencies {
		if d.DependsOn != nil {
			deps = append(deps, d.DependsOn.Title)
		} else {
			deps = append(deps, d.DependsOnID.String())
		}
	}
	sort.Strings(deps)

	project := ""
	if t.Project != nil {
		project = t.Project.Title
	} else if t.ProjectID != nil {
		project = t.ProjectID.String()
	}

	return TaskSnapshot{
		Title:          t.Title,
		Status:         t.Status.Display(),
		Priority:       t.Priority.Display(),
		DueDate:        formatDate(t.DueDate),
		EstimatedHours: formatHours(t.EstimatedHours),
		ActualHours:    formatHours(t.ActualHours),
		Progress:       strconv.Itoa(t.ProgressPercentage) + "%",
		Assignees:      strings.Join(names, ", "),
		Dependencies:   strings.Join(deps, ", "),
		Project:        project,
	}
}

// DiffSnapshots lists the tracked fields that differ, in a fixed order
func DiffSnapshots(before, after TaskSnapshot) []Change {
	fields := []struct {
		action   string
		old, new string
	}{
		{"Title changed", before.Title, after.Title},
		{"Status changed", before.Status, after.Status},
		{"Priority changed", before.Priority, after.Priority},
		{"Due date changed", before.DueDate, after.DueDate},
		{"Estimated hours changed", before.EstimatedHours, after.EstimatedHours},
		{"Actual hours changed", before.ActualHours, after.ActualHours},
		{"Progress changed", before.Progress, after.Progress},
		{"Assignees changed", before.Assignees, after.Assignees},
		{"Dependencies changed", before.Dependencies, after.Dependencies},
		{"Project changed", before.Project, after.Project},
	}
	var changes []Change
	for _, f := range fields {
		if f.old != f.new {
			changes = append(changes, Change{Action: f.action, Old: f.old, New: f.new})
		}
	}
	return changes
}
