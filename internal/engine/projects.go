package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aethra/taskportal/internal/auth"
	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/security"
	"github.com/aethra/taskportal/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectEngine owns projects and their files
type ProjectEngine struct {
	db            *gorm.DB
	assignment    *AssignmentEngine
	notifications *NotificationEngine
	activity      *ActivityLogger
	files         *storage.LocalStore
}

// NewProjectEngine creates a project engine
func NewProjectEngine(db *gorm.DB, assignment *AssignmentEngine, notifications *NotificationEngine,
	activity *ActivityLogger, files *storage.LocalStore) *ProjectEngine {
	return &ProjectEngine{
		db:            db,
		assignment:    assignment,
		notifications: notifications,
		activity:      activity,
		files:         files,
	}
}

// isProjectMember reports whether the user is assigned to any task of the project
func isProjectMember(ctx context.Context, db *gorm.DB, projectID, userID uuid.UUID) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.Task{}).
		Where("project_id = ? AND id IN (?)", projectID, assignedTo(db, userID)).
		Count(&n).Error
	if err != nil {
		return false, lookupErr(err, "project membership")
	}
	return n > 0, nil
}

// IsMember reports whether the user has an assigned task in the project
func (e *ProjectEngine) IsMember(ctx context.Context, projectID, userID uuid.UUID) (bool, error) {
	return isProjectMember(ctx, e.db, projectID, userID)
}

// ProjectInput is the editable shape of a project
type ProjectInput struct {
	Title           string               `json:"title"`
	Description     string               `json:"description"`
	DivisionID      *uuid.UUID           `json:"division_id"`
	AssignedAdminID *uuid.UUID           `json:"assigned_admin_id"`
	Status          models.ProjectStatus `json:"status"`
	Priority        models.Priority      `json:"priority"`
	StartDate       string               `json:"start_date"`
	EndDate         string               `json:"end_date"`
	Budget          float64              `json:"budget"`
	SpentBudget     float64              `json:"spent_budget"`
}

func (in *ProjectInput) normalize() (start, end *time.Time, err error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, nil, errors.NewValidationError("title", "title is required")
	}
	if len(in.Title) > 200 {
		return nil, nil, errors.NewValidationError("title", "title must be at most 200 characters")
	}
	if in.Status == "" {
		in.Status = models.ProjectStatusPlanning
	}
	if !in.Status.Valid() {
		return nil, nil, errors.NewValidationError("status", fmt.Sprintf("unknown status %q", in.Status))
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, nil, errors.NewValidationError("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	if in.Budget < 0 || in.SpentBudget < 0 {
		return nil, nil, errors.NewValidationError("budget", "budget cannot be negative")
	}
	if start, err = parseDueDate(in.StartDate); err != nil {
		return nil, nil, errors.NewValidationError("start_date", fmt.Sprintf("invalid date %q", in.StartDate))
	}
	if end, err = parseDueDate(in.EndDate); err != nil {
		return nil, nil, errors.NewValidationError("end_date", fmt.Sprintf("invalid date %q", in.EndDate))
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, nil, errors.NewValidationError("end_date", "end date cannot be before the start date")
	}
	in.Description = security.SanitizeRichText(in.Description)
	return start, end, nil
}

func (e *ProjectEngine) divisionCode(tx *gorm.DB, id *uuid.UUID) (string, error) {
	if id == nil {
		return GenericDivisionCode, nil
	}
	var d models.Division
	if err := tx.First(&d, "id = ?", *id).Error; err != nil {
		if errors.IsNotFound(lookupErr(err, "division")) {
			return "", errors.NewValidationError("division", "selected division does not exist")
		}
		return "", err
	}
	return d.Code, nil
}

func (e *ProjectEngine) notifyAdmin(tx *gorm.DB, actor *models.User, p *models.Project) {
	if p.AssignedAdminID == nil {
		return
	}
	e.notifications.Notify(tx, NotificationInput{
		RecipientID: *p.AssignedAdminID,
		SenderID:    uuidPtr(actor.ID),
		Type:        models.NotificationProjectAssigned,
		Title:       "Project assigned",
		Message:     fmt.Sprintf("%s made you responsible for project %q (%s)", actor.DisplayName(), p.Title, p.Code),
		RelatedType: models.RelatedProject,
		RelatedID:   uuidPtr(p.ID),
	})
}

// Create stores a project with a generated code
func (e *ProjectEngine) Create(ctx context.Context, actor *models.User, in ProjectInput) (*models.Project, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	start, end, err := in.normalize()
	if err != nil {
		return nil, err
	}
	if in.DivisionID == nil && actor.Role == models.RoleAdmin {
		in.DivisionID = actor.DivisionID
	}
	if !auth.CanCreateProject(actor, in.DivisionID) {
		return nil, errors.NewPermissionDeniedMessage("you can only create projects in your own division")
	}
	if _, err := e.assignment.ValidateProjectAdmin(ctx, in.DivisionID, in.AssignedAdminID); err != nil {
		return nil, err
	}

	p := &models.Project{
		Title:           in.Title,
		Description:     in.Description,
		DivisionID:      in.DivisionID,
		AssignedAdminID: in.AssignedAdminID,
		CreatedByID:     actor.ID,
		Status:          in.Status,
		Priority:        in.Priority,
		StartDate:       start,
		EndDate:         end,
		Budget:          in.Budget,
		SpentBudget:     in.SpentBudget,
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		divCode, err := e.divisionCode(tx, p.DivisionID)
		if err != nil {
			return err
		}
		if p.Code, err = NextProjectCode(ctx, tx, divCode, time.Now().UTC(), nil); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(p).Error; err != nil {
			return err
		}
		e.notifyAdmin(tx, actor, p)
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "project_created", ObjectType: "project", ObjectID: uuidPtr(p.ID),
			Description: fmt.Sprintf("Created project %s (%s)", p.Title, p.Code),
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "project")
	}
	return p, nil
}

func (e *ProjectEngine) load(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := e.db.WithContext(ctx).
		Preload("Division").Preload("AssignedAdmin").Preload("CreatedBy").
		First(&p, "id = ?", id).Error
	if err != nil {
		return nil, lookupErr(err, "project")
	}
	return &p, nil
}

func (e *ProjectEngine) permissions(ctx context.Context, actor *models.User, p *models.Project) (auth.ProjectPermissions, bool, error) {
	member, err := isProjectMember(ctx, e.db, p.ID, actor.ID)
	if err != nil {
		return auth.ProjectPermissions{}, false, err
	}
	return auth.ProjectPermissionsFor(actor, p, member), member, nil
}

// Update edits a project. Only super admins and the assigned admin may do so.
func (e *ProjectEngine) Update(ctx context.Context, actor *models.User, id uuid.UUID, in ProjectInput) (*models.Project, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	perms, _, err := e.permissions(ctx, actor, p)
	if err != nil {
		return nil, err
	}
	if !perms.CanEdit {
		return nil, errors.NewPermissionDeniedError("edit", "project")
	}
	start, end, err := in.normalize()
	if err != nil {
		return nil, err
	}
	if !sameUUID(in.DivisionID, p.DivisionID) && actor.Role != models.RoleSuperAdmin {
		return nil, errors.NewPermissionDeniedMessage("only super admins can move a project to another division")
	}
	if _, err := e.assignment.ValidateProjectAdmin(ctx, in.DivisionID, in.AssignedAdminID); err != nil {
		return nil, err
	}

	adminChanged := !sameUUID(in.AssignedAdminID, p.AssignedAdminID)
	p.Title = in.Title
	p.Description = in.Description
	p.DivisionID = in.DivisionID
	p.AssignedAdminID = in.AssignedAdminID
	p.Status = in.Status
	p.Priority = in.Priority
	p.StartDate = start
	p.EndDate = end
	p.Budget = in.Budget
	p.SpentBudget = in.SpentBudget

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(p).Error; err != nil {
			return err
		}
		if adminChanged {
			e.notifyAdmin(tx, actor, p)
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "project_updated", ObjectType: "project", ObjectID: uuidPtr(p.ID),
			Description: "Updated project " + p.Title,
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "project")
	}
	return e.load(ctx, id)
}

// Delete removes a project, detaching its tasks and removing its files
func (e *ProjectEngine) Delete(ctx context.Context, actor *models.User, id uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	p, err := e.load(ctx, id)
	if err != nil {
		return err
	}
	if !auth.ProjectPermissionsFor(actor, p, false).CanDelete {
		return errors.NewPermissionDeniedError("delete", "project")
	}

	var paths []string
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Task{}).Where("project_id = ?", id).UpdateColumn("project_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ProjectFile{}).Where("project_id = ?", id).Pluck("stored_path", &paths).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.ProjectFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("related_type = ? AND related_id = ?", models.RelatedProject, id).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Project{}, "id = ?", id).Error; err != nil {
			return err
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "project_deleted", ObjectType: "project", ObjectID: uuidPtr(id),
			Description: fmt.Sprintf("Deleted project %s (%s)", p.Title, p.Code),
		})
		return nil
	})
	if err != nil {
		return storeErr(err, "project")
	}
	removeStored(e.files, paths)
	return nil
}

// ProjectFilter narrows the project list
type ProjectFilter struct {
	Status     models.ProjectStatus
	DivisionID *uuid.UUID
	Search     string
	Page       int
}

// ProjectSummary is a project row with task progress
type ProjectSummary struct {
	models.Project
	TaskCount      int64 `json:"task_count"`
	CompletedCount int64 `json:"completed_count"`
	Progress       int   `json:"progress_percentage"`
}

// ProjectList is one page of projects
type ProjectList struct {
	Projects []ProjectSummary `json:"projects"`
	Page
}

// visibleProjects limits q to the projects actor may list
func visibleProjects(db, q *gorm.DB, actor *models.User) *gorm.DB {
	switch actor.Role {
	case models.RoleSuperAdmin:
		return q
	case models.RoleAdmin:
		if actor.DivisionID == nil {
			return q.Where("projects.assigned_admin_id = ?", actor.ID)
		}
		return q.Where("projects.division_id = ? OR projects.assigned_admin_id = ?", *actor.DivisionID, actor.ID)
	case models.RoleUser:
		memberOf := db.Model(&models.Task{}).Select("project_id").
			Where("project_id IS NOT NULL AND id IN (?)", assignedTo(db, actor.ID))
		return q.Where("projects.id IN (?)", memberOf)
	}
	return q.Where("1 = 0")
}

func (e *ProjectEngine) summarize(ctx context.Context, projects []models.Project) ([]ProjectSummary, error) {
	out := make([]ProjectSummary, 0, len(projects))
	if len(projects) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
	}
	var rows []struct {
		ProjectID uuid.UUID
		Status    models.TaskStatus
		N         int64
	}
	err := e.db.WithContext(ctx).Model(&models.Task{}).
		Select("project_id, status, COUNT(*) AS n").
		Where("project_id IN ?", ids).
		Group("project_id, status").
		Scan(&rows).Error
	if err != nil {
		return nil, lookupErr(err, "project stats")
	}
	total := make(map[uuid.UUID]int64)
	done := make(map[uuid.UUID]int64)
	for _, r := range rows {
		total[r.ProjectID] += r.N
		if r.Status == models.TaskStatusCompleted {
			done[r.ProjectID] += r.N
		}
	}
	for _, p := range projects {
		s := ProjectSummary{Project: p, TaskCount: total[p.ID], CompletedCount: done[p.ID]}
		if s.TaskCount > 0 {
			s.Progress = int(s.CompletedCount * 100 / s.TaskCount)
		}
		out = append(out, s)
	}
	return out, nil
}

// List returns the actor's visible projects, newest first
func (e *ProjectEngine) List(ctx context.Context, actor *models.User, f ProjectFilter) (*ProjectList, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)
	q := visibleProjects(db, db.Model(&models.Project{}), actor)
	if f.Status != "" {
		q = q.Where("projects.status = ?", f.Status)
	}
	if f.DivisionID != nil {
		q = q.Where("projects.division_id = ?", *f.DivisionID)
	}
	if cond, args := security.MultiLikeCondition(db.Dialector.Name(), []string{"projects.title", "projects.code", "projects.description"}, f.Search); cond != "" {
		q = q.Where(cond, args...)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, lookupErr(err, "projects")
	}
	page := normalizePage(f.Page)
	var projects []models.Project
	err := q.Preload("Division").Preload("AssignedAdmin").
		Order("projects.created_at DESC").
		Offset((page - 1) * DefaultPageSize).Limit(DefaultPageSize).
		Find(&projects).Error
	if err != nil {
		return nil, lookupErr(err, "projects")
	}
	summaries, err := e.summarize(ctx, projects)
	if err != nil {
		return nil, err
	}
	return &ProjectList{Projects: summaries, Page: newPage(page, DefaultPageSize, total)}, nil
}

// ProjectStats counts the tasks of a project by state
type ProjectStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Overdue    int `json:"overdue"`
}

func projectStats(tasks []models.Task, now time.Time) ProjectStats {
	var s ProjectStats
	for i := range tasks {
		t := &tasks[i]
		s.Total++
		switch t.Status {
		case models.TaskStatusCompleted:
			s.Completed++
		case models.TaskStatusInProgress:
			s.InProgress++
		case models.TaskStatusPending:
			s.Pending++
		}
		if t.IsOverdue(now) {
			s.Overdue++
		}
	}
	return s
}

// ProjectDetail is a project as shown on its own page
type ProjectDetail struct {
	Project     *models.Project         `json:"project"`
	Permissions auth.ProjectPermissions `json:"permissions"`
	IsMember    bool                    `json:"is_member"`
	Progress    int                     `json:"progress_percentage"`
	Stats       ProjectStats            `json:"stats"`
	Tasks       []models.Task           `json:"tasks"`
}

// Get returns a project with the tasks the actor can see
func (e *ProjectEngine) Get(ctx context.Context, actor *models.User, id uuid.UUID) (*ProjectDetail, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	perms, member, err := e.permissions(ctx, actor, p)
	if err != nil {
		return nil, err
	}
	if !perms.CanView {
		return nil, errors.NewPermissionDeniedError("view", "project")
	}

	db := e.db.WithContext(ctx)
	if err := db.Where("project_id = ?", id).Preload("UploadedBy").Order("uploaded_at DESC").Find(&p.Files).Error; err != nil {
		return nil, lookupErr(err, "project files")
	}
	var all []models.Task
	if err := db.Where("project_id = ?", id).Preload("Assignees").Preload("Project").
		Order("created_at DESC").Find(&all).Error; err != nil {
		return nil, lookupErr(err, "project tasks")
	}
	p.Tasks = all

	visible := make([]models.Task, 0, len(all))
	for i := range all {
		if auth.CanAccessTask(actor, &all[i], auth.ActionView) {
			visible = append(visible, all[i])
		}
	}
	return &ProjectDetail{
		Project:     p,
		Permissions: perms,
		IsMember:    member,
		Progress:    p.ProgressPercentage(),
		Stats:       projectStats(all, time.Now().UTC()),
		Tasks:       visible,
	}, nil
}

// MyProject is a project with the actor's own task counts
type MyProject struct {
	models.Project
	Progress int          `json:"progress_percentage"`
	Mine     ProjectStats `json:"my_stats"`
}

// MyProjects lists projects the actor works on or manages
func (e *ProjectEngine) MyProjects(ctx context.Context, actor *models.User) ([]MyProject, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)
	memberOf := db.Model(&models.Task{}).Select("project_id").
		Where("project_id IS NOT NULL AND id IN (?)", assignedTo(db, actor.ID))
	q := db.Where("id IN (?)", memberOf)
	if actor.Role.IsAdmin() {
		q = db.Where("id IN (?) OR assigned_admin_id = ?", memberOf, actor.ID)
	}

	var projects []models.Project
	err := q.Preload("Division").Preload("AssignedAdmin").Preload("Tasks.Assignees").
		Order("created_at DESC").Find(&projects).Error
	if err != nil {
		return nil, lookupErr(err, "projects")
	}

	now := time.Now().UTC()
	out := make([]MyProject, 0, len(projects))
	for _, p := range projects {
		var mine []models.Task
		for _, t := range p.Tasks {
			if t.HasAssignee(actor.ID) {
				mine = append(mine, t)
			}
		}
		progress := p.ProgressPercentage()
		p.Tasks = nil
		out = append(out, MyProject{Project: p, Progress: progress, Mine: projectStats(mine, now)})
	}
	return out, nil
}

// =============================================================================
// FILES
// =============================================================================

// UploadFile stores a document against a project
func (e *ProjectEngine) UploadFile(ctx context.Context, actor *models.User, projectID uuid.UUID, up Upload, description string) (*models.ProjectFile, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	p, err := e.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	perms, _, err := e.permissions(ctx, actor, p)
	if err != nil {
		return nil, err
	}
	if !perms.CanManageFiles {
		return nil, errors.NewPermissionDeniedError("upload files to", "project")
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(up.Filename), `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return nil, errors.NewValidationError("file", "file name is required")
	}
	description = strings.TrimSpace(description)
	if len(description) > 255 {
		return nil, errors.NewValidationError("description", "description must be at most 255 characters")
	}

	stored, err := e.files.Save(path.Join("projects", projectID.String()), name, up.Body)
	if err != nil {
		return nil, err
	}
	f := &models.ProjectFile{
		ProjectID:   projectID,
		Description: description,
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
		if err := tx.Omit(clause.Associations).Create(f).Error; err != nil {
			return err
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "project_file_uploaded", ObjectType: "project", ObjectID: uuidPtr(projectID),
			Description: fmt.Sprintf("Uploaded %s to %s", name, p.Code),
		})
		return nil
	})
	if err != nil {
		removeStored(e.files, []string{stored.Path})
		return nil, storeErr(err, "project file")
	}
	return f, nil
}

func (e *ProjectEngine) loadFile(ctx context.Context, id uuid.UUID) (*models.ProjectFile, *models.Project, error) {
	var f models.ProjectFile
	if err := e.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		return nil, nil, lookupErr(err, "project file")
	}
	p, err := e.load(ctx, f.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return &f, p, nil
}

// OpenFile returns a project file and its content after the download check
func (e *ProjectEngine) OpenFile(ctx context.Context, actor *models.User, id uuid.UUID) (*models.ProjectFile, *os.File, error) {
	if err := requireActor(actor); err != nil {
		return nil, nil, err
	}
	f, p, err := e.loadFile(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	member, err := isProjectMember(ctx, e.db, p.ID, actor.ID)
	if err != nil {
		return nil, nil, err
	}
	if !auth.CanDownloadProjectFile(actor, p, f, member) {
		return nil, nil, errors.NewPermissionDeniedError("download", "project file")
	}
	content, err := e.files.Open(f.StoredPath)
	if err != nil {
		return nil, nil, err
	}
	return f, content, nil
}

// DeleteFile removes a project file. Limited to super admins and the project creator.
func (e *ProjectEngine) DeleteFile(ctx context.Context, actor *models.User, id uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	f, p, err := e.loadFile(ctx, id)
	if err != nil {
		return err
	}
	if !auth.CanDeleteProjectFile(actor, p) {
		return errors.NewPermissionDeniedError("delete", "project file")
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(f).Error; err != nil {
			return err
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "project_file_deleted", ObjectType: "project", ObjectID: uuidPtr(p.ID),
			Description: fmt.Sprintf("Deleted %s from %s", f.Filename, p.Code),
		})
		return nil
	})
	if err != nil {
		return storeErr(err, "project file")
	}
	removeStored(e.files, []string{f.StoredPath})
	return nil
}
