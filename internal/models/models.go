// Package models contains the portal's persistent data structures.
// Identifiers are UUIDs stored as char(36) so the same schema runs on
// PostgreSQL, MySQL and SQLite.
package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxAssignees caps the number of people on a single task
const MaxAssignees = 10

// ErrHistoryImmutable is returned when something tries to rewrite a history row
var ErrHistoryImmutable = errors.New("task history entries cannot be modified")

// Base carries the identity and timestamps shared by most tables
type Base struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a fresh UUID when none was set
func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// =============================================================================
// ORGANISATION
// =============================================================================

// Division is an organisational unit that owns users, projects and tasks
type Division struct {
	Base
	Name        string `json:"name" gorm:"uniqueIndex;not null;size:100"`
	Code        string `json:"code" gorm:"uniqueIndex;not null;size:20"`
	Description string `json:"description" gorm:"type:text"`
	IsActive    bool   `json:"is_active"`
}

// User is a portal account
type User struct {
	Base
	Username     string     `json:"username" gorm:"uniqueIndex;not null;size:150"`
	Email        string     `json:"email" gorm:"size:255;index"`
	PasswordHash string     `json:"-" gorm:"size:255"`
	FirstName    string     `json:"first_name" gorm:"size:100"`
	LastName     string     `json:"last_name" gorm:"size:100"`
	Phone        string     `json:"phone" gorm:"size:20"`
	Role         Role       `json:"role" gorm:"size:20;not null;default:'user'"`
	DivisionID   *uuid.UUID `json:"division_id" gorm:"type:char(36);index"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`

	// Relations
	Division *Division `json:"division,omitempty" gorm:"foreignKey:DivisionID;constraint:OnDelete:SET NULL"`
}

// DisplayName returns "First Last", falling back to the username
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full == "" {
		return u.Username
	}
	return full
}

// InDivision reports whether the user belongs to the given division
func (u *User) InDivision(id *uuid.UUID) bool {
	return u != nil && u.DivisionID != nil && id != nil && *u.DivisionID == *id
}

// =============================================================================
// PROJECTS
// =============================================================================

// Project groups tasks under a division and an optional responsible admin
type Project struct {
	Base
	Title           string        `json:"title" gorm:"not null;size:200"`
	Code            string        `json:"code" gorm:"uniqueIndex;not null;size:40"`
	Description     string        `json:"description" gorm:"type:text"`
	DivisionID      *uuid.UUID    `json:"division_id" gorm:"type:char(36);index"`
	AssignedAdminID *uuid.UUID    `json:"assigned_admin_id" gorm:"type:char(36);index"`
	CreatedByID     uuid.UUID     `json:"created_by_id" gorm:"type:char(36);not null"`
	Status          ProjectStatus `json:"status" gorm:"size:20;not null;default:'planning'"`
	Priority        Priority      `json:"priority" gorm:"size:20;not null;default:'medium'"`
	StartDate       *time.Time    `json:"start_date"`
	EndDate         *time.Time    `json:"end_date"`
	Budget          float64       `json:"budget"`
	SpentBudget     float64       `json:"spent_budget"`

	// Relations
	Division      *Division     `json:"division,omitempty" gorm:"foreignKey:DivisionID;constraint:OnDelete:SET NULL"`
	AssignedAdmin *User         `json:"assigned_admin,omitempty" gorm:"foreignKey:AssignedAdminID;constraint:OnDelete:SET NULL"`
	CreatedBy     *User         `json:"created_by,omitempty" gorm:"foreignKey:CreatedByID"`
	Tasks         []Task        `json:"tasks,omitempty" gorm:"foreignKey:ProjectID"`
	Files         []ProjectFile `json:"files,omitempty" gorm:"foreignKey:ProjectID"`
}

// ProgressPercentage is the share of completed tasks, 0 when the project is empty.
// Tasks must be preloaded.
func (p *Project) ProgressPercentage() int {
	if len(p.Tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range p.Tasks {
		if t.Status == TaskStatusCompleted {
			done++
		}
	}
	return done * 100 / len(p.Tasks)
}

// FileMeta describes an uploaded file on disk
type FileMeta struct {
	Filename     string    `json:"filename" gorm:"not null;size:255"`
	StoredPath   string    `json:"-" gorm:"not null;size:500"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type" gorm:"size:100"`
	FileType     string    `json:"file_type" gorm:"size:20"`
	UploadedByID uuid.UUID `json:"uploaded_by_id" gorm:"type:char(36);not null"`
	UploadedAt   time.Time `json:"uploaded_at" gorm:"autoCreateTime"`
}

// ProjectFile is a document attached to a project
type ProjectFile struct {
	Base
	ProjectID   uuid.UUID `json:"project_id" gorm:"type:char(36);not null;index"`
	Description string    `json:"description" gorm:"size:255"`
	FileMeta

	// Relations
	Project    *Project `json:"project,omitempty" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	UploadedBy *User    `json:"uploaded_by,omitempty" gorm:"foreignKey:UploadedByID"`
}

// =============================================================================
// TASKS
// =============================================================================

// Task is a unit of work inside a division, optionally part of a project
type Task struct {
	Base
	Title              string     `json:"title" gorm:"not null;size:200"`
	Description        string     `json:"description" gorm:"type:text"`
	Status             TaskStatus `json:"status" gorm:"size:20;not null;default:'pending';index"`
	Priority           Priority   `json:"priority" gorm:"size:20;not null;default:'medium'"`
	DivisionID         uuid.UUID  `json:"division_id" gorm:"type:char(36);not null;index"`
	ProjectID          *uuid.UUID `json:"project_id" gorm:"type:char(36);index"`
	CreatedByID        uuid.UUID  `json:"created_by_id" gorm:"type:char(36);not null;index"`
	DueDate            *time.Time `json:"due_date"`
	CompletedAt        *time.Time `json:"completed_at"`
	EstimatedHours     *float64   `json:"estimated_hours"`
	ActualHours        *float64   `json:"actual_hours"`
	ProgressPercentage int        `json:"progress_percentage"`

	// Relations
	Division     *Division        `json:"division,omitempty" gorm:"foreignKey:DivisionID;constraint:OnDelete:CASCADE"`
	Project      *Project         `json:"project,omitempty" gorm:"foreignKey:ProjectID;constraint:OnDelete:SET NULL"`
	CreatedBy    *User            `json:"created_by,omitempty" gorm:"foreignKey:CreatedByID"`
	Assignees    []User           `json:"assignees,omitempty" gorm:"many2many:task_assignees;"`
	Dependencies []TaskDependency `json:"dependencies,omitempty" gorm:"foreignKey:TaskID"`
	Comments     []Comment        `json:"comments,omitempty" gorm:"foreignKey:TaskID"`
	Attachments  []TaskAttachment `json:"attachments,omitempty" gorm:"foreignKey:TaskID"`
}

// BeforeSave keeps completion fields consistent with the status
func (t *Task) BeforeSave(*gorm.DB) error {
	t.ApplyStatusRules(time.Now().UTC())
	return nil
}

// ApplyStatusRules sets completed_at and progress from the status.
// completed_at is set exactly when the task is completed.
func (t *Task) ApplyStatusRules(now time.Time) {
	if t.Status == TaskStatusCompleted {
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
		t.ProgressPercentage = 100
		return
	}
	t.CompletedAt = nil
	if t.ProgressPercentage >= 100 {
		t.ProgressPercentage = 0
	}
}

// IsOverdue reports whether the due date has passed on an open task
func (t *Task) IsOverdue(now time.Time) bool {
	if t.DueDate == nil || t.Status.IsClosed() {
		return false
	}
	return t.DueDate.Before(now)
}

// IsCollaborative reports whether more than one person is assigned
func (t *Task) IsCollaborative() bool {
	return len(t.Assignees) > 1
}

// HasAssignee reports whether the user is among the loaded assignees
func (t *Task) HasAssignee(userID uuid.UUID) bool {
	for _, a := range t.Assignees {
		if a.ID == userID {
			return true
		}
	}
	return false
}

// AssigneeNames joins the assignee display names
func (t *Task) AssigneeNames() string {
	names := make([]string, 0, len(t.Assignees))
	for i := range t.Assignees {
		names = append(names, t.Assignees[i].DisplayName())
	}
	return strings.Join(names, ", ")
}

// TaskAssignee is the join row between tasks and their assignees
type TaskAssignee struct {
	TaskID uuid.UUID `gorm:"type:char(36);primaryKey"`
	UserID uuid.UUID `gorm:"type:char(36);primaryKey;index"`
}

// TaskDependency is a directed edge: TaskID cannot finish before DependsOnID
type TaskDependency struct {
	TaskID      uuid.UUID `json:"task_id" gorm:"type:char(36);primaryKey"`
	DependsOnID uuid.UUID `json:"depends_on_id" gorm:"type:char(36);primaryKey;index"`
	CreatedAt   time.Time `json:"created_at"`

	// Relations
	DependsOn *Task `json:"depends_on,omitempty" gorm:"foreignKey:DependsOnID;constraint:OnDelete:CASCADE"`
}

// Comment is a remark on a task, optionally a reply to another comment
type Comment struct {
	Base
	TaskID     uuid.UUID  `json:"task_id" gorm:"type:char(36);not null;index"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:char(36);not null"`
	ParentID   *uuid.UUID `json:"parent_id" gorm:"type:char(36);index"`
	Content    string     `json:"content" gorm:"type:text;not null"`
	IsInternal bool       `json:"is_internal"`

	// Relations
	User    *User     `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Replies []Comment `json:"replies,omitempty" gorm:"foreignKey:ParentID"`
}

// TaskAttachment is a file attached to a task
type TaskAttachment struct {
	Base
	TaskID uuid.UUID `json:"task_id" gorm:"type:char(36);not null;index"`
	FileMeta

	// Relations
	UploadedBy *User `json:"uploaded_by,omitempty" gorm:"foreignKey:UploadedByID"`
}

// TaskHistory is an append-only audit entry for a task
type TaskHistory struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	TaskID    uuid.UUID `json:"task_id" gorm:"type:char(36);not null;index"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:char(36);not null"`
	Action    string    `json:"action" gorm:"not null;size:100"`
	OldValue  string    `json:"old_value" gorm:"type:text"`
	NewValue  string    `json:"new_value" gorm:"type:text"`
	Timestamp time.Time `json:"timestamp" gorm:"autoCreateTime;index"`

	// Relations
	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// TableName keeps the conventional plural
func (TaskHistory) TableName() string { return "task_history" }

// BeforeCreate assigns the id
func (h *TaskHistory) BeforeCreate(*gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// BeforeUpdate refuses any rewrite of history
func (h *TaskHistory) BeforeUpdate(*gorm.DB) error {
	return ErrHistoryImmutable
}

// TimeEntry is a block of hours logged against a task
type TimeEntry struct {
	Base
	TaskID   uuid.UUID `json:"task_id" gorm:"type:char(36);not null;index"`
	UserID   uuid.UUID `json:"user_id" gorm:"type:char(36);not null"`
	Hours    float64   `json:"hours" gorm:"not null"`
	WorkDate time.Time `json:"work_date"`
	Note     string    `json:"note" gorm:"size:500"`

	// Relations
	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// TaskTemplate is a reusable blueprint for new tasks
type TaskTemplate struct {
	Base
	Name           string         `json:"name" gorm:"not null;size:100"`
	Title          string         `json:"title" gorm:"not null;size:200"`
	Description    string         `json:"description" gorm:"type:text"`
	Priority       Priority       `json:"priority" gorm:"size:20;not null;default:'medium'"`
	EstimatedHours *float64       `json:"estimated_hours"`
	Checklist      datatypes.JSON `json:"checklist"`
	DivisionID     *uuid.UUID     `json:"division_id" gorm:"type:char(36);index"`
	CreatedByID    uuid.UUID      `json:"created_by_id" gorm:"type:char(36);not null"`
	IsActive       bool           `json:"is_active"`
}

// =============================================================================
// NOTIFICATIONS & ACTIVITY
// =============================================================================

// Notification is a message delivered to one user
type Notification struct {
	Base
	RecipientID uuid.UUID        `json:"recipient_id" gorm:"type:char(36);not null;index"`
	SenderID    *uuid.UUID       `json:"sender_id" gorm:"type:char(36)"`
	Type        NotificationType `json:"type" gorm:"size:30;not null;index"`
	Title       string           `json:"title" gorm:"not null;size:200"`
	Message     string           `json:"message" gorm:"type:text"`
	RelatedType string           `json:"related_type" gorm:"size:20;index:idx_notification_related"`
	RelatedID   *uuid.UUID       `json:"related_id" gorm:"type:char(36);index:idx_notification_related"`
	Data        datatypes.JSON   `json:"data"`
	IsRead      bool             `json:"is_read" gorm:"index"`
	ReadAt      *time.Time       `json:"read_at"`

	// Relations
	Sender *User `json:"sender,omitempty" gorm:"foreignKey:SenderID;constraint:OnDelete:SET NULL"`
}

// ActivityLog records who did what across the portal
type ActivityLog struct {
	Base
	UserID      *uuid.UUID `json:"user_id" gorm:"type:char(36);index"`
	Action      string     `json:"action" gorm:"not null;size:50;index"`
	ObjectType  string     `json:"object_type" gorm:"size:30"`
	ObjectID    *uuid.UUID `json:"object_id" gorm:"type:char(36)"`
	Description string     `json:"description" gorm:"type:text"`
	Metadata    JSONB      `json:"metadata"`
	IPAddress   string     `json:"ip_address" gorm:"size:45"`

	// Relations
	User *User `json:"user,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL"`
}

// AllModels lists every table in migration order
func AllModels() []interface{} {
	return []interface{}{
		&Division{},
		&User{},
		&Project{},
		&ProjectFile{},
		&Task{},
		&TaskAssignee{},
		&TaskDependency{},
		&Comment{},
		&TaskAttachment{},
		&TaskHistory{},
		&TimeEntry{},
		&TaskTemplate{},
		&Notification{},
		&ActivityLog{},
	}
}

// FileTypeFor classifies a file name by extension
func FileTypeFor(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "other"
	}
	switch strings.ToLower(name[i+1:]) {
	case "pdf", "doc", "docx", "txt", "rtf", "odt", "md":
		return "document"
	case "xls", "xlsx", "csv", "ods":
		return "spreadsheet"
	case "png", "jpg", "jpeg", "gif", "bmp", "svg", "webp":
		return "image"
	case "zip", "rar", "7z", "tar", "gz":
		return "archive"
	}
	return "other"
}
