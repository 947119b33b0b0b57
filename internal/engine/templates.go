package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/security"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TemplateEngine manages reusable task blueprints
type TemplateEngine struct {
	db    *gorm.DB
	tasks *TaskEngine
}

// NewTemplateEngine creates a template engine
func NewTemplateEngine(db *gorm.DB, tasks *TaskEngine) *TemplateEngine {
	return &TemplateEngine{db: db, tasks: tasks}
}

// TemplateInput describes a new template
type TemplateInput struct {
	Name           string          `json:"name"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Priority       models.Priority `json:"priority"`
	EstimatedHours *float64        `json:"estimated_hours"`
	Checklist      []string        `json:"checklist"`
	DivisionID     *uuid.UUID      `json:"division_id"`
}

// List returns the active templates usable by actor: global ones plus those of their division
func (e *TemplateEngine) List(ctx context.Context, actor *models.User) ([]models.TaskTemplate, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	q := e.db.WithContext(ctx).Where("is_active = ?", true)
	if actor.Role != models.RoleSuperAdmin {
		if actor.DivisionID == nil {
			q = q.Where("division_id IS NULL")
		} else {
			q = q.Where("division_id IS NULL OR division_id = ?", *actor.DivisionID)
		}
	}
	var out []models.TaskTemplate
	if err := q.Order("name").Find(&out).Error; err != nil {
		return nil, lookupErr(err, "templates")
	}
	return out, nil
}

// Create stores a template. Admins create templates for their own division,
// super admins for any division or globally.
func (e *TemplateEngine) Create(ctx context.Context, actor *models.User, in TemplateInput) (*models.TaskTemplate, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	switch actor.Role {
	case models.RoleSuperAdmin:
	case models.RoleAdmin:
		if in.DivisionID == nil {
			in.DivisionID = actor.DivisionID
		}
		if in.DivisionID == nil || !actor.InDivision(in.DivisionID) {
			return nil, errors.NewPermissionDeniedMessage("admins can only create templates for their own division")
		}
	case models.RoleUser:
		return nil, errors.NewPermissionDeniedError("create", "template")
	default:
		return nil, errors.NewPermissionDeniedError("create", "template")
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Title = strings.TrimSpace(in.Title)
	if in.Name == "" || len(in.Name) > 100 {
		return nil, errors.NewValidationError("name", "name is required and must be at most 100 characters")
	}
	if in.Title == "" || len(in.Title) > 200 {
		return nil, errors.NewValidationError("title", "title is required and must be at most 200 characters")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, errors.NewValidationError("priority", fmt.Sprintf("unknown priority %q", in.Priority))
	}
	if err := validateHours("estimated_hours", in.EstimatedHours); err != nil {
		return nil, err
	}

	items := make([]string, 0, len(in.Checklist))
	for _, item := range in.Checklist {
		if item = strings.TrimSpace(security.StripHTML(item)); item != "" {
			items = append(items, item)
		}
	}
	checklist, err := json.Marshal(items)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	tpl := &models.TaskTemplate{
		Name:           in.Name,
		Title:          in.Title,
		Description:    security.SanitizeRichText(in.Description),
		Priority:       in.Priority,
		EstimatedHours: in.EstimatedHours,
		Checklist:      datatypes.JSON(checklist),
		DivisionID:     in.DivisionID,
		CreatedByID:    actor.ID,
		IsActive:       true,
	}
	if err := e.db.WithContext(ctx).Omit(clause.Associations).Create(tpl).Error; err != nil {
		return nil, storeErr(err, "template")
	}
	return tpl, nil
}

// InstantiateInput fills in what a template leaves open
type InstantiateInput struct {
	Title       string      `json:"title"`
	ProjectID   *uuid.UUID  `json:"project_id"`
	DivisionID  *uuid.UUID  `json:"division_id"`
	DueDate     string      `json:"due_date"`
	AssigneeIDs []uuid.UUID `json:"assignee_ids"`
}

// ChecklistItems decodes a template checklist, ignoring malformed data
func ChecklistItems(tpl *models.TaskTemplate) []string {
	var items []string
	if len(tpl.Checklist) > 0 {
		_ = json.Unmarshal(tpl.Checklist, &items)
	}
	return items
}

func renderDescription(tpl *models.TaskTemplate) string {
	items := ChecklistItems(tpl)
	if len(items) == 0 {
		return tpl.Description
	}
	var b strings.Builder
	b.WriteString(tpl.Description)
	b.WriteString("<ul>")
	for _, item := range items {
		b.WriteString("<li>")
		b.WriteString(html.EscapeString(item))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

// Instantiate creates a task from a template through the regular task rules
func (e *TemplateEngine) Instantiate(ctx context.Context, actor *models.User, id uuid.UUID, in InstantiateInput) (*models.Task, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var tpl models.TaskTemplate
	if err := e.db.WithContext(ctx).First(&tpl, "id = ? AND is_active = ?", id, true).Error; err != nil {
		return nil, lookupErr(err, "template")
	}
	if tpl.DivisionID != nil && actor.Role != models.RoleSuperAdmin && !actor.InDivision(tpl.DivisionID) {
		return nil, errors.NewPermissionDeniedError("use", "template")
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = tpl.Title
	}
	division := in.DivisionID
	if division == nil {
		division = tpl.DivisionID
	}
	return e.tasks.Create(ctx, actor, TaskInput{
		Title:          title,
		Description:    renderDescription(&tpl),
		Status:         models.TaskStatusPending,
		Priority:       tpl.Priority,
		ProjectID:      in.ProjectID,
		DivisionID:     division,
		DueDate:        in.DueDate,
		EstimatedHours: tpl.EstimatedHours,
		AssigneeIDs:    in.AssigneeIDs,
	})
}
