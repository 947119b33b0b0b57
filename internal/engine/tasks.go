package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aethra/taskportal/internal/auth"
	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/security"
	"github.com/aethra/taskportal/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaskEngine owns task mutations and queries
type TaskEngine struct {
	db            *gorm.DB
	assignment    *AssignmentEngine
	history       *HistoryRecorder
	notifications *NotificationEngine
	activity      *ActivityLogger
	files         *storage.LocalStore
}

// NewTaskEngine creates a task engine
func NewTaskEngine(db *gorm.DB, assignment *AssignmentEngine, history *HistoryRecorder,
	notifications *NotificationEngine, activity *ActivityLogger, files *storage.LocalStore) *TaskEngine {
	return &TaskEngine{
		db:            db,
		assignment:    assignment,
		history:       history,
		notifications: notifications,
		activity:      activity,
		files:         files,
	}
}

// TaskInput is the editable shape of a task. On update a nil slice leaves
// assignees or dependencies untouched.
type TaskInput struct {
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Status             models.TaskStatus `json:"status"`
	Priority           models.Priority   `json:"priority"`
	ProjectID          *uuid.UUID        `json:"project_id"`
	DivisionID         *uuid.UUID        `json:"division_id"`
	DueDate            string            `json:"due_date"`
	EstimatedHours     *float64          `json:"estimated_hours"`
	ActualHours        *float64          `json:"actual_hours"`
	ProgressPercentage *int              `json:"progress_percentage"`
	AssigneeIDs        []uuid.UUID       `json:"assignee_ids"`
	DependencyIDs      []uuid.UUID       `json:"dependency_ids"`
}

var dueDateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dueDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.NewValidationError("due_date", fmt.Sprintf("invalid date %q", s))
}

func validateHours(field string, h *float64) error {
	if h != nil && *h < 0 {
		return errors.NewValidationError(field, "hours cannot be negative")
	}
	return nil
}

func (in *TaskInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return errors.NewValidationError("title", "title is required")
	}
	if len(in.Title) > 200 {
		return errors.NewValidationError("title", "title must be at most 200 characters")
	}
	if in.Status == "" {
		in.Status = models.TaskStatusPending
	}
	if !in.Status.Valid() {
		return errors.NewValidationError("status", fmt.Sprintf("unknown status %q", in.Status))
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return errors.NewValidationError("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	if p := in.ProgressPercentage; p != nil && (*p < 0 || *p > 100) {
		return errors.NewValidationError("progress_percentage", "progress must be between 0 and 100")
	}
	if err := validateHours("estimated_hours", in.EstimatedHours); err != nil {
		return err
	}
	if err := validateHours("actual_hours", in.ActualHours); err != nil {
		return err
	}
	in.Description = security.SanitizeRichText(in.Description)
	return nil
}

// loadTask fetches a task with everything permission checks and snapshots need
func loadTask(db *gorm.DB, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	err := db.Preload("Assignees").
		Preload("Project").
		Preload("Division").
		Preload("CreatedBy").
		Preload("Dependencies.DependsOn").
		Preload("Attachments").
		First(&t, "id = ?", id).Error
	if err != nil {
		return nil, lookupErr(err, "task")
	}
	return &t, nil
}

func (e *TaskEngine) authorize(ctx context.Context, actor *models.User, id uuid.UUID, action auth.Action) (*models.Task, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	t, err := loadTask(e.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccessTask(actor, t, action) {
		return nil, errors.NewPermissionDeniedError(string(action), "task")
	}
	return t, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// TaskFilter narrows the task list
type TaskFilter struct {
	Status     models.TaskStatus
	Priority   models.Priority
	AssignedTo *uuid.UUID
	Project    string // project id or "no_project"
	DateFrom   string
	DateTo     string
	Search     string
	Page       int
}

// NoProject selects tasks that belong to no project
const NoProject = "no_project"

// TaskList is one page of tasks
type TaskList struct {
	Tasks []models.Task `json:"tasks"`
	Page
}

// visibleTasks limits q to the tasks actor may list
func visibleTasks(db, q *gorm.DB, actor *models.User) *gorm.DB {
	switch actor.Role {
	case models.RoleSuperAdmin:
		return q
	case models.RoleAdmin:
		managed := db.Model(&models.Project{}).Select("id").Where("assigned_admin_id = ?", actor.ID)
		if actor.DivisionID == nil {
			return q.Where("tasks.project_id IN (?)", managed)
		}
		return q.Where("tasks.division_id = ? OR tasks.project_id IN (?)", *actor.DivisionID, managed)
	case models.RoleUser:
		return q.Where("tasks.created_by_id = ? OR tasks.id IN (?)", actor.ID, assignedTo(db, actor.ID))
	}
	return q.Where("1 = 0")
}

func assignedTo(db *gorm.DB, userID uuid.UUID) *gorm.DB {
	return db.Model(&models.TaskAssignee{}).Select("task_id").Where("user_id = ?", userID)
}

// applyCreatedRange filters on the created date, ignoring unparsable bounds
func applyCreatedRange(q *gorm.DB, from, to string) *gorm.DB {
	if d := ParseDate(from); d != nil {
		q = q.Where("tasks.created_at >= ?", *d)
	}
	if d := ParseDate(to); d != nil {
		q = q.Where("tasks.created_at < ?", d.AddDate(0, 0, 1))
	}
	return q
}

func applyProjectFilter(q *gorm.DB, project string) *gorm.DB {
	switch project {
	case "":
		return q
	case NoProject:
		return q.Where("tasks.project_id IS NULL")
	}
	id, err := uuid.Parse(project)
	if err != nil {
		logger.Debug("ignoring invalid project filter %q", project)
		return q
	}
	return q.Where("tasks.project_id = ?", id)
}

// List returns the actor's visible tasks, newest first, ten per page
func (e *TaskEngine) List(ctx context.Context, actor *models.User, f TaskFilter) (*TaskList, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)
	q := visibleTasks(db, db.Model(&models.Task{}), actor)

	if f.Status != "" {
		q = q.Where("tasks.status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("tasks.priority = ?", f.Priority)
	}
	if f.AssignedTo != nil {
		q = q.Where("tasks.id IN (?)", assignedTo(db, *f.AssignedTo))
	}
	q = applyProjectFilter(q, f.Project)
	q = applyCreatedRange(q, f.DateFrom, f.DateTo)

	if term := strings.TrimSpace(f.Search); term != "" {
		dialect := db.Dialector.Name()
		own, ownArgs := security.MultiLikeCondition(dialect, []string{"tasks.title", "tasks.description"}, term)
		people, peopleArgs := security.MultiLikeCondition(dialect, []string{"users.first_name", "users.last_name", "users.username"}, term)
		byAssignee := db.Table("task_assignees").Select("task_assignees.task_id").
			Joins("JOIN users ON users.id = task_assignees.user_id").
			Where(people, peopleArgs...)
		q = q.Where(db.Where(own, ownArgs...).Or("tasks.id IN (?)", byAssignee))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, lookupErr(err, "tasks")
	}
	page := normalizePage(f.Page)
	var tasks []models.Task
	err := q.Preload("Assignees").Preload("Project").Preload("Division").Preload("CreatedBy").
		Order("tasks.created_at DESC").
		Offset((page - 1) * DefaultPageSize).Limit(DefaultPageSize).
		Find(&tasks).Error
	if err != nil {
		return nil, lookupErr(err, "tasks")
	}
	return &TaskList{Tasks: tasks, Page: newPage(page, DefaultPageSize, total)}, nil
}

// TaskDetail is a task as shown on its own page
type TaskDetail struct {
	Task          *models.Task         `json:"task"`
	Permissions   auth.TaskPermissions `json:"permissions"`
	Comments      []models.Comment     `json:"comments"`
	Overdue       bool                 `json:"is_overdue"`
	Collaborative bool                 `json:"is_collaborative"`
}

// Get returns a task with its visible comment threads
func (e *TaskEngine) Get(ctx context.Context, actor *models.User, id uuid.UUID) (*TaskDetail, error) {
	t, err := e.authorize(ctx, actor, id, auth.ActionView)
	if err != nil {
		return nil, err
	}
	internal := auth.CanSeeInternalComments(actor)
	visible := func(db *gorm.DB) *gorm.DB {
		if !internal {
			db = db.Where("is_internal = ?", false)
		}
		return db.Order("created_at")
	}

	var comments []models.Comment
	err = visible(e.db.WithContext(ctx).Where("task_id = ? AND parent_id IS NULL", id)).
		Preload("User").
		Preload("Replies", visible).
		Preload("Replies.User").
		Find(&comments).Error
	if err != nil {
		return nil, lookupErr(err, "comments")
	}

	return &TaskDetail{
		Task:          t,
		Permissions:   auth.TaskPermissionsFor(actor, t),
		Comments:      comments,
		Overdue:       t.IsOverdue(time.Now().UTC()),
		Collaborative: t.IsCollaborative(),
	}, nil
}

// AssignableUsers returns the candidate assignees for a task in projectID
func (e *TaskEngine) AssignableUsers(ctx context.Context, actor *models.User, projectID *uuid.UUID) ([]models.User, error) {
	var project *models.Project
	if projectID != nil {
		var p models.Project
		if err := e.db.WithContext(ctx).First(&p, "id = ?", *projectID).Error; err != nil {
			return nil, lookupErr(err, "project")
		}
		project = &p
	}
	return e.assignment.AssignableUsers(ctx, actor, project)
}

// =============================================================================
// MUTATIONS
// =============================================================================

// resolveProject loads the project and checks the actor may add tasks to it
func (e *TaskEngine) resolveProject(ctx context.Context, actor *models.User, id *uuid.UUID) (*models.Project, error) {
	if id == nil {
		return nil, nil
	}
	var p models.Project
	if err := e.db.WithContext(ctx).First(&p, "id = ?", *id).Error; err != nil {
		return nil, lookupErr(err, "project")
	}
	member, err := isProjectMember(ctx, e.db, p.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccessProject(actor, &p, member, auth.ActionCreateTasks) {
		return nil, errors.NewPermissionDeniedError("create tasks in", "project")
	}
	return &p, nil
}

// resolveDivision picks the project's division, then a super admin's explicit
// choice, then the actor's own division
func (e *TaskEngine) resolveDivision(ctx context.Context, actor *models.User, project *models.Project, requested *uuid.UUID) (uuid.UUID, error) {
	if project != nil && project.DivisionID != nil {
		return *project.DivisionID, nil
	}
	if requested != nil && actor.Role == models.RoleSuperAdmin {
		var d models.Division
		if err := e.db.WithContext(ctx).First(&d, "id = ?", *requested).Error; err != nil {
			if errors.IsNotFound(lookupErr(err, "division")) {
				return uuid.Nil, errors.NewValidationError("division", "selected division does not exist")
			}
			return uuid.Nil, lookupErr(err, "division")
		}
		return d.ID, nil
	}
	if actor.DivisionID != nil {
		return *actor.DivisionID, nil
	}
	return uuid.Nil, errors.NewValidationError("division", "a division is required for this task")
}

func (e *TaskEngine) replaceAssignees(tx *gorm.DB, taskID uuid.UUID, users []models.User) error {
	if err := tx.Where("task_id = ?", taskID).Delete(&models.TaskAssignee{}).Error; err != nil {
		return err
	}
	for _, u := range users {
		if err := tx.Create(&models.TaskAssignee{TaskID: taskID, UserID: u.ID}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (e *TaskEngine) notifyAssigned(tx *gorm.DB, actor *models.User, t *models.Task, users []models.User) {
	for _, u := range users {
		e.notifications.Notify(tx, NotificationInput{
			RecipientID: u.ID,
			SenderID:    uuidPtr(actor.ID),
			Type:        models.NotificationTaskAssigned,
			Title:       "New task assigned",
			Message:     fmt.Sprintf("%s assigned you to %q", actor.DisplayName(), t.Title),
			RelatedType: models.RelatedTask,
			RelatedID:   uuidPtr(t.ID),
			Data:        map[string]interface{}{"priority": string(t.Priority)},
		})
	}
}

// stakeholders are the assignees plus the creator, without duplicates
func stakeholders(t *models.Task) []uuid.UUID {
	ids := []uuid.UUID{t.CreatedByID}
	for _, a := range t.Assignees {
		if a.ID != t.CreatedByID {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// Create validates and stores a new task, recording history and notifying assignees
func (e *TaskEngine) Create(ctx context.Context, actor *models.User, in TaskInput) (*models.Task, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	due, err := parseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}
	project, err := e.resolveProject(ctx, actor, in.ProjectID)
	if err != nil {
		return nil, err
	}
	divisionID, err := e.resolveDivision(ctx, actor, project, in.DivisionID)
	if err != nil {
		return nil, err
	}
	assignees, err := e.assignment.ResolveAssignees(ctx, actor, project, in.AssigneeIDs)
	if err != nil {
		return nil, err
	}

	t := &models.Task{
		Title:          in.Title,
		Description:    in.Description,
		Status:         in.Status,
		Priority:       in.Priority,
		DivisionID:     divisionID,
		CreatedByID:    actor.ID,
		DueDate:        due,
		EstimatedHours: in.EstimatedHours,
		ActualHours:    in.ActualHours,
	}
	if project != nil {
		t.ProjectID = uuidPtr(project.ID)
	}
	if in.ProgressPercentage != nil {
		t.ProgressPercentage = *in.ProgressPercentage
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(t).Error; err != nil {
			return err
		}
		if err := e.replaceAssignees(tx, t.ID, assignees); err != nil {
			return err
		}
		for _, depID := range in.DependencyIDs {
			if err := e.addEdge(ctx, tx, actor, t.ID, depID); err != nil {
				return err
			}
		}
		e.history.Record(tx, t.ID, actor.ID, ActionTaskCreated, "", t.Title)
		e.notifyAssigned(tx, actor, t, assignees)
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "task_created", ObjectType: "task", ObjectID: uuidPtr(t.ID),
			Description: "Created task " + t.Title,
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "task")
	}
	return loadTask(e.db.WithContext(ctx), t.ID)
}

// Update replaces the editable fields of a task and records every tracked change
func (e *TaskEngine) Update(ctx context.Context, actor *models.User, id uuid.UUID, in TaskInput) (*models.Task, error) {
	t, err := e.authorize(ctx, actor, id, auth.ActionEdit)
	if err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	due, err := parseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}

	project := t.Project
	moved := !sameUUID(in.ProjectID, t.ProjectID)
	if moved {
		if project, err = e.resolveProject(ctx, actor, in.ProjectID); err != nil {
			return nil, err
		}
	}

	// a moved task keeps its assignees only if they fit the new project
	assigneeIDs := in.AssigneeIDs
	if assigneeIDs == nil && moved {
		for _, a := range t.Assignees {
			assigneeIDs = append(assigneeIDs, a.ID)
		}
	}
	var assignees []models.User
	if assigneeIDs != nil {
		if assignees, err = e.assignment.ResolveAssignees(ctx, actor, project, assigneeIDs); err != nil {
			return nil, err
		}
	}

	before := SnapshotTask(t)
	previous := make(map[uuid.UUID]bool, len(t.Assignees))
	for _, a := range t.Assignees {
		previous[a.ID] = true
	}
	oldStatus := t.Status

	t.Title = in.Title
	t.Description = in.Description
	t.Status = in.Status
	t.Priority = in.Priority
	t.DueDate = due
	t.EstimatedHours = in.EstimatedHours
	t.ActualHours = in.ActualHours
	if in.ProgressPercentage != nil {
		t.ProgressPercentage = *in.ProgressPercentage
	}
	t.ProjectID = nil
	if project != nil {
		t.ProjectID = uuidPtr(project.ID)
		if project.DivisionID != nil {
			t.DivisionID = *project.DivisionID
		}
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(t).Error; err != nil {
			return err
		}
		if assignees != nil {
			if err := e.replaceAssignees(tx, t.ID, assignees); err != nil {
				return err
			}
		}
		if in.DependencyIDs != nil {
			if err := e.replaceEdges(ctx, tx, actor, t.ID, in.DependencyIDs); err != nil {
				return err
			}
		}

		after, err := loadTask(tx, t.ID)
		if err != nil {
			return err
		}
		e.history.RecordChanges(tx, t.ID, actor.ID, DiffSnapshots(before, SnapshotTask(after)))

		var added []models.User
		for _, a := range after.Assignees {
			if !previous[a.ID] {
				added = append(added, a)
			}
		}
		e.notifyAssigned(tx, actor, after, added)
		if after.Status != oldStatus {
			e.notifyStatus(tx, actor, after, oldStatus)
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "task_updated", ObjectType: "task", ObjectID: uuidPtr(t.ID),
			Description: "Updated task " + t.Title,
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "task")
	}
	return loadTask(e.db.WithContext(ctx), id)
}

func (e *TaskEngine) notifyStatus(tx *gorm.DB, actor *models.User, t *models.Task, old models.TaskStatus) {
	for _, rid := range stakeholders(t) {
		e.notifications.Notify(tx, NotificationInput{
			RecipientID: rid,
			SenderID:    uuidPtr(actor.ID),
			Type:        models.NotificationTaskStatusChanged,
			Title:       "Task status changed",
			Message:     fmt.Sprintf("%q moved from %s to %s", t.Title, old.Display(), t.Status.Display()),
			RelatedType: models.RelatedTask,
			RelatedID:   uuidPtr(t.ID),
			Data:        map[string]interface{}{"old_status": string(old), "new_status": string(t.Status)},
		})
	}
}

// StatusInput is the body of a quick status change
type StatusInput struct {
	Status      models.TaskStatus `json:"status"`
	ActualHours *float64          `json:"actual_hours"`
}

// UpdateStatus changes only the status and optionally the actual hours
func (e *TaskEngine) UpdateStatus(ctx context.Context, actor *models.User, id uuid.UUID, in StatusInput) (*models.Task, error) {
	t, err := e.authorize(ctx, actor, id, auth.ActionUpdateStatus)
	if err != nil {
		return nil, err
	}
	if !in.Status.Valid() {
		return nil, errors.NewValidationError("status", fmt.Sprintf("unknown status %q", in.Status))
	}
	if err := validateHours("actual_hours", in.ActualHours); err != nil {
		return nil, err
	}

	before := SnapshotTask(t)
	oldStatus := t.Status
	t.Status = in.Status
	if in.ActualHours != nil {
		t.ActualHours = in.ActualHours
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(t).Error; err != nil {
			return err
		}
		e.history.RecordChanges(tx, t.ID, actor.ID, DiffSnapshots(before, SnapshotTask(t)))
		if t.Status != oldStatus {
			e.notifyStatus(tx, actor, t, oldStatus)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "task")
	}
	return t, nil
}

// purgeTasks deletes tasks and everything hanging off them. It returns the
// stored paths of their attachments so the caller can remove them after commit.
func purgeTasks(tx *gorm.DB, ids []uuid.UUID) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var paths []string
	if err := tx.Model(&models.TaskAttachment{}).Where("task_id IN ?", ids).Pluck("stored_path", &paths).Error; err != nil {
		return nil, err
	}
	steps := []struct {
		model interface{}
		where string
	}{
		{&models.TaskHistory{}, "task_id IN ?"},
		{&models.Comment{}, "task_id IN ?"},
		{&models.TaskAttachment{}, "task_id IN ?"},
		{&models.TaskAssignee{}, "task_id IN ?"},
		{&models.TaskDependency{}, "task_id IN ?"},
		{&models.TaskDependency{}, "depends_on_id IN ?"},
		{&models.TimeEntry{}, "task_id IN ?"},
	}
	for _, s := range steps {
		if err := tx.Where(s.where, ids).Delete(s.model).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Where("related_type = ? AND related_id IN ?", models.RelatedTask, ids).Delete(&models.Notification{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("id IN ?", ids).Delete(&models.Task{}).Error; err != nil {
		return nil, err
	}
	return paths, nil
}

// removeStored deletes files whose rows are already gone
func removeStored(files *storage.LocalStore, paths []string) {
	if files == nil {
		return
	}
	for _, p := range paths {
		if err := files.Delete(p); err != nil {
			logger.L().Warn("failed to remove stored file", zap.String("path", p), zap.Error(err))
		}
	}
}

// Delete removes a task and its children
func (e *TaskEngine) Delete(ctx context.Context, actor *models.User, id uuid.UUID) error {
	t, err := e.authorize(ctx, actor, id, auth.ActionDelete)
	if err != nil {
		return err
	}
	var paths []string
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if paths, err = purgeTasks(tx, []uuid.UUID{id}); err != nil {
			return err
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "task_deleted", ObjectType: "task", ObjectID: uuidPtr(id),
			Description: "Deleted task " + t.Title,
		})
		return nil
	})
	if err != nil {
		return storeErr(err, "task")
	}
	removeStored(e.files, paths)
	return nil
}

// =============================================================================
// COMMENTS
// =============================================================================

// CommentInput is a new comment or reply
type CommentInput struct {
	Content    string     `json:"content"`
	ParentID   *uuid.UUID `json:"parent_id"`
	IsInternal bool       `json:"is_internal"`
}

// AddComment posts a comment, recording a preview in history
func (e *TaskEngine) AddComment(ctx context.Context, actor *models.User, taskID uuid.UUID, in CommentInput) (*models.Comment, error) {
	t, err := e.authorize(ctx, actor, taskID, auth.ActionComment)
	if err != nil {
		return nil, err
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return nil, errors.NewValidationError("content", "comment cannot be empty")
	}
	if in.IsInternal && !auth.CanSeeInternalComments(actor) {
		return nil, errors.NewPermissionDeniedMessage("only admins can post internal comments")
	}
	if in.ParentID != nil {
		var parent models.Comment
		if err := e.db.WithContext(ctx).First(&parent, "id = ?", *in.ParentID).Error; err != nil {
			if errors.IsNotFound(lookupErr(err, "comment")) {
				return nil, errors.NewValidationError("parent_id", "parent comment does not exist")
			}
			return nil, lookupErr(err, "comment")
		}
		if parent.TaskID != taskID {
			return nil, errors.NewValidationError("parent_id", "parent comment belongs to another task")
		}
	}

	c := &models.Comment{
		TaskID:     taskID,
		UserID:     actor.ID,
		ParentID:   in.ParentID,
		Content:    in.Content,
		IsInternal: in.IsInternal,
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
			return err
		}
		e.history.Record(tx, taskID, actor.ID, ActionCommentAdded, "", CommentPreview(c.Content))
		for _, rid := range stakeholders(t) {
			if c.IsInternal && !e.recipientSeesInternal(tx, t, rid) {
				continue
			}
			e.notifications.Notify(tx, NotificationInput{
				RecipientID: rid,
				SenderID:    uuidPtr(actor.ID),
				Type:        models.NotificationCommentAdded,
				Title:       "New comment",
				Message:     fmt.Sprintf("%s commented on %q", actor.DisplayName(), t.Title),
				RelatedType: models.RelatedComment,
				RelatedID:   uuidPtr(c.ID),
				Data:        map[string]interface{}{"task_id": t.ID.String()},
			})
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "comment")
	}
	c.User = actor
	return c, nil
}

func (e *TaskEngine) recipientSeesInternal(tx *gorm.DB, t *models.Task, id uuid.UUID) bool {
	if t.CreatedBy != nil && t.CreatedBy.ID == id {
		return auth.CanSeeInternalComments(t.CreatedBy)
	}
	for i := range t.Assignees {
		if t.Assignees[i].ID == id {
			return auth.CanSeeInternalComments(&t.Assignees[i])
		}
	}
	var u models.User
	if err := tx.Select("id", "role").First(&u, "id = ?", id).Error; err != nil {
		return false
	}
	return auth.CanSeeInternalComments(&u)
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// reaches reports whether following dependency edges from start arrives at target
func reaches(tx *gorm.DB, start, target uuid.UUID) (bool, error) {
	seen := map[uuid.UUID]bool{start: true}
	frontier := []uuid.UUID{start}
	for len(frontier) > 0 {
		var next []uuid.UUID
		if err := tx.Model(&models.TaskDependency{}).Where("task_id IN ?", frontier).Pluck("depends_on_id", &next).Error; err != nil {
			return false, err
		}
		frontier = nil
		for _, id := range next {
			if id == target {
				return true, nil
			}
			if !seen[id] {
				seen[id] = true
				frontier = append(frontier, id)
			}
		}
	}
	return false, nil
}

// addEdge inserts taskID -> dependsOnID, refusing self loops and cycles
func (e *TaskEngine) addEdge(ctx context.Context, tx *gorm.DB, actor *models.User, taskID, dependsOnID uuid.UUID) error {
	if taskID == dependsOnID {
		return errors.NewValidationError("dependencies", "a task cannot depend on itself")
	}
	dep, err := loadTask(tx.WithContext(ctx), dependsOnID)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewValidationError("dependencies", fmt.Sprintf("task %s does not exist", dependsOnID))
		}
		return err
	}
	if !auth.CanAccessTask(actor, dep, auth.ActionView) {
		return errors.NewPermissionDeniedError("depend on", "task")
	}
	var existing int64
	if err := tx.Model(&models.TaskDependency{}).Where("task_id = ? AND depends_on_id = ?", taskID, dependsOnID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	cycle, err := reaches(tx, dependsOnID, taskID)
	if err != nil {
		return err
	}
	if cycle {
		return errors.NewValidationError("dependencies", fmt.Sprintf("depending on %q would create a circular dependency", dep.Title))
	}
	return tx.Create(&models.TaskDependency{TaskID: taskID, DependsOnID: dependsOnID}).Error
}

func (e *TaskEngine) replaceEdges(ctx context.Context, tx *gorm.DB, actor *models.User, taskID uuid.UUID, ids []uuid.UUID) error {
	keep := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var current []uuid.UUID
	if err := tx.Model(&models.TaskDependency{}).Where("task_id = ?", taskID).Pluck("depends_on_id", &current).Error; err != nil {
		return err
	}
	for _, id := range current {
		if !keep[id] {
			if err := tx.Where("task_id = ? AND depends_on_id = ?", taskID, id).Delete(&models.TaskDependency{}).Error; err != nil {
				return err
			}
		}
	}
	for _, id := range ids {
		if err := e.addEdge(ctx, tx, actor, taskID, id); err != nil {
			return err
		}
	}
	return nil
}

// AddDependency makes taskID depend on dependsOnID
func (e *TaskEngine) AddDependency(ctx context.Context, actor *models.User, taskID, dependsOnID uuid.UUID) (*models.Task, error) {
	t, err := e.authorize(ctx, actor, taskID, auth.ActionEdit)
	if err != nil {
		return nil, err
	}
	before := SnapshotTask(t)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.addEdge(ctx, tx, actor, taskID, dependsOnID); err != nil {
			return err
		}
		after, err := loadTask(tx, taskID)
		if err != nil {
			return err
		}
		e.history.RecordChanges(tx, taskID, actor.ID, DiffSnapshots(before, SnapshotTask(after)))
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "task dependency")
	}
	return loadTask(e.db.WithContext(ctx), taskID)
}

// RemoveDependency drops the edge taskID -> dependsOnID
func (e *TaskEngine) RemoveDependency(ctx context.Context, actor *models.User, taskID, dependsOnID uuid.UUID) (*models.Task, error) {
	t, err := e.authorize(ctx, actor, taskID, auth.ActionEdit)
	if err != nil {
		return nil, err
	}
	before := SnapshotTask(t)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("task_id = ? AND depends_on_id = ?", taskID, dependsOnID).Delete(&models.TaskDependency{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.NewNotFoundError("task dependency")
		}
		after, err := loadTask(tx, taskID)
		if err != nil {
			return err
		}
		e.history.RecordChanges(tx, taskID, actor.ID, DiffSnapshots(before, SnapshotTask(after)))
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "task dependency")
	}
	return loadTask(e.db.WithContext(ctx), taskID)
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// Upload is a file received from a client
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// AddAttachment stores a file against a task
func (e *TaskEngine) AddAttachment(ctx context.Context, actor *models.User, taskID uuid.UUID, up Upload) (*models.TaskAttachment, error) {
	if _, err := e.authorize(ctx, actor, taskID, auth.ActionManageFiles); err != nil {
		return nil, err
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(up.Filename), `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return nil, errors.NewValidationError("file", "file name is required")
	}
	stored, err := e.files.Save(path.Join("tasks", taskID.String()), name, up.Body)
	if err != nil {
		return nil, err
	}

	a := &models.TaskAttachment{
		TaskID: taskID,
		FileMeta: models.FileMeta{
			Filename:     name,
			StoredPath:   stored.Path,
			Size:         stored.Size,
			ContentType:  up.ContentType,
			FileType:     models.FileTypeFor(name),
			UploadedByID: actor.ID,
		},
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(a).Error; err != nil {
			return err
		}
		e.history.Record(tx, taskID, actor.ID, ActionAttachmentAdded, "", name)
		return nil
	})
	if err != nil {
		removeStored(e.files, []string{stored.Path})
		return nil, storeErr(err, "attachment")
	}
	return a, nil
}

// OpenAttachment returns an attachment and its content for anyone who can view the task
func (e *TaskEngine) OpenAttachment(ctx context.Context, actor *models.User, id uuid.UUID) (*models.TaskAttachment, *os.File, error) {
	if err := requireActor(actor); err != nil {
		return nil, nil, err
	}
	var a models.TaskAttachment
	if err := e.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, nil, lookupErr(err, "attachment")
	}
	if _, err := e.authorize(ctx, actor, a.TaskID, auth.ActionView); err != nil {
		return nil, nil, err
	}
	f, err := e.files.Open(a.StoredPath)
	if err != nil {
		return nil, nil, err
	}
	return &a, f, nil
}

// =============================================================================
// TIME TRACKING
// =============================================================================

// MaxHoursPerEntry bounds a single time entry
const MaxHoursPerEntry = 24

// TimeEntryInput is a block of logged work
type TimeEntryInput struct {
	Hours    float64 `json:"hours"`
	WorkDate string  `json:"work_date"`
	Note     string  `json:"note"`
}

// LogTime records hours against a task and recomputes its actual hours
func (e *TaskEngine) LogTime(ctx context.Context, actor *models.User, taskID uuid.UUID, in TimeEntryInput) (*models.TimeEntry, error) {
	t, err := e.authorize(ctx, actor, taskID, auth.ActionUpdateStatus)
	if err != nil {
		return nil, err
	}
	if in.Hours <= 0 || in.Hours > MaxHoursPerEntry {
		return nil, errors.NewValidationError("hours", fmt.Sprintf("hours must be greater than 0 and at most %d", MaxHoursPerEntry))
	}
	workDate := time.Now().UTC().Truncate(24 * time.Hour)
	if strings.TrimSpace(in.WorkDate) != "" {
		d := ParseDate(in.WorkDate)
		if d == nil {
			return nil, errors.NewValidationError("work_date", fmt.Sprintf("invalid date %q", in.WorkDate))
		}
		workDate = *d
	}
	note := strings.TrimSpace(in.Note)
	if len(note) > 500 {
		return nil, errors.NewValidationError("note", "note must be at most 500 characters")
	}

	entry := &models.TimeEntry{TaskID: taskID, UserID: actor.ID, Hours: in.Hours, WorkDate: workDate, Note: note}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(entry).Error; err != nil {
			return err
		}
		var sum float64
		if err := tx.Model(&models.TimeEntry{}).Where("task_id = ?", taskID).
			Select("COALESCE(SUM(hours), 0)").Scan(&sum).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Task{}).Where("id = ?", taskID).UpdateColumn("actual_hours", sum).Error; err != nil {
			return err
		}
		logged := formatHours(&in.Hours) + "h on " + workDate.Format("2006-01-02")
		e.history.Record(tx, taskID, actor.ID, ActionTimeLogged, "", logged)
		if old := formatHours(t.ActualHours); old != formatHours(&sum) {
			e.history.Record(tx, taskID, actor.ID, "Actual hours changed", old, formatHours(&sum))
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "time entry")
	}
	entry.User = actor
	return entry, nil
}

// TimeEntries lists the hours logged on a task, latest work first
func (e *TaskEngine) TimeEntries(ctx context.Context, actor *models.User, taskID uuid.UUID) ([]models.TimeEntry, error) {
	if _, err := e.authorize(ctx, actor, taskID, auth.ActionView); err != nil {
		return nil, err
	}
	var entries []models.TimeEntry
	err := e.db.WithContext(ctx).Preload("User").Where("task_id = ?", taskID).
		Order("work_date DESC").Order("created_at DESC").Find(&entries).Error
	if err != nil {
		return nil, lookupErr(err, "time entries")
	}
	return entries, nil
}

// History returns the audit trail of a task
func (e *TaskEngine) History(ctx context.Context, actor *models.User, taskID uuid.UUID) ([]models.TaskHistory, error) {
	if _, err := e.authorize(ctx, actor, taskID, auth.ActionView); err != nil {
		return nil, err
	}
	return e.history.List(ctx, e.db, taskID)
}
