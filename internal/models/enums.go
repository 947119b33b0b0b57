// Package models - enumerations shared by the portal models
package models

// =============================================================================
// ROLES
// =============================================================================

// Role is the access level of a user
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole converts a raw string into a Role
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return Role(s), true
	}
	return "", false
}

// IsAdmin reports whether the role carries admin rights (admin or super admin)
func (r Role) IsAdmin() bool {
	switch r {
	case RoleAdmin, RoleSuperAdmin:
		return true
	case RoleUser:
		return false
	}
	return false
}

// Display returns the human readable label
func (r Role) Display() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAdmin:
		return "Admin"
	case RoleSuperAdmin:
		return "Super Admin"
	}
	return string(r)
}

// =============================================================================
// TASKS
// =============================================================================

// TaskStatus is the workflow state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// TaskStatuses lists every status in display order
var TaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusReview,
	TaskStatusCompleted,
	TaskStatusCancelled,
	TaskStatusBlocked,
}

// Valid reports whether s is a known status
func (s TaskStatus) Valid() bool {
	for _, st := range TaskStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsClosed reports whether the status ends the task's active life
func (s TaskStatus) IsClosed() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Display returns the human readable label
func (s TaskStatus) Display() string {
	switch s {
	case TaskStatusPending:
		return "Pending"
	case TaskStatusInProgress:
		return "In Progress"
	case TaskStatusReview:
		return "Review"
	case TaskStatusCompleted:
		return "Completed"
	case TaskStatusCancelled:
		return "Cancelled"
	case TaskStatusBlocked:
		return "Blocked"
	}
	return string(s)
}

// Priority ranks tasks and projects
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Display returns the human readable label
func (p Priority) Display() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	case PriorityUrgent:
		return "Urgent"
	}
	return string(p)
}

// =============================================================================
// PROJECTS
// =============================================================================

// ProjectStatus is the lifecycle state of a project
type ProjectStatus string

const (
	ProjectStatusPlanning  ProjectStatus = "planning"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusOnHold    ProjectStatus = "on_hold"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusCancelled ProjectStatus = "cancelled"
)

// Valid reports whether s is a known project status
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusPlanning, ProjectStatusActive, ProjectStatusOnHold, ProjectStatusCompleted, ProjectStatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// NotificationType classifies a notification
type NotificationType string

const (
	NotificationTaskAssigned      NotificationType = "task_assigned"
	NotificationTaskStatusChanged NotificationType = "task_status_changed"
	NotificationCommentAdded      NotificationType = "comment_added"
	NotificationTaskOverdue       NotificationType = "task_overdue"
	NotificationProjectAssigned   NotificationType = "project_assigned"
	NotificationAccountApproved   NotificationType = "account_approved"
)

// Related object kinds a notification can point at
const (
	RelatedTask    = "task"
	RelatedProject = "project"
	RelatedComment = "comment"
	RelatedUser    = "user"
)
