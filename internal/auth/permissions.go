// Package auth - Permission checking
package auth

import (
	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
)

// Action represents a permission action
type Action string

const (
	ActionView          Action = "view"
	ActionEdit          Action = "edit"
	ActionCreateTasks   Action = "create_tasks"
	ActionManageFiles   Action = "manage_files"
	ActionManageMembers Action = "manage_members"
	ActionDelete        Action = "delete"
	ActionUpdateStatus  Action = "update_status"
	ActionComment       Action = "comment"
)

// TaskPermissions is the set of task actions an actor holds
type TaskPermissions struct {
	CanView          bool `json:"can_view"`
	CanEdit          bool `json:"can_edit"`
	CanDelete        bool `json:"can_delete"`
	CanUpdateStatus  bool `json:"can_update_status"`
	CanComment       bool `json:"can_comment"`
	CanSeeInternal   bool `json:"can_see_internal"`
	CanPostInternal  bool `json:"can_post_internal"`
	CanManageFiles   bool `json:"can_manage_files"`
	CanManageMembers bool `json:"can_manage_members"`
}

// Allows reports whether the set contains action
func (p TaskPermissions) Allows(action Action) bool {
	switch action {
	case ActionView:
		return p.CanView
	case ActionEdit:
		return p.CanEdit
	case ActionDelete:
		return p.CanDelete
	case ActionUpdateStatus:
		return p.CanUpdateStatus
	case ActionComment:
		return p.CanComment
	case ActionManageFiles:
		return p.CanManageFiles
	case ActionManageMembers:
		return p.CanManageMembers
	case ActionCreateTasks:
		return false
	}
	return false
}

// ProjectPermissions is the set of project actions an actor holds
type ProjectPermissions struct {
	CanView          bool `json:"can_view"`
	CanEdit          bool `json:"can_edit"`
	CanCreateTasks   bool `json:"can_create_tasks"`
	CanManageFiles   bool `json:"can_manage_files"`
	CanManageMembers bool `json:"can_manage_members"`
	CanDelete        bool `json:"can_delete"`
}

// Allows reports whether the set contains action
func (p ProjectPermissions) Allows(action Action) bool {
	switch action {
	case ActionView:
		return p.CanView
	case ActionEdit:
		return p.CanEdit
	case ActionCreateTasks:
		return p.CanCreateTasks
	case ActionManageFiles:
		return p.CanManageFiles
	case ActionManageMembers:
		return p.CanManageMembers
	case ActionDelete:
		return p.CanDelete
	case ActionUpdateStatus, ActionComment:
		return false
	}
	return false
}

var allTask = TaskPermissions{
	CanView: true, CanEdit: true, CanDelete: true, CanUpdateStatus: true, CanComment: true,
	CanSeeInternal: true, CanPostInternal: true, CanManageFiles: true, CanManageMembers: true,
}

// TaskPermissionsFor computes the actor's rights on a task.
// Assignees must be loaded, and Project too when the task has one.
func TaskPermissionsFor(actor *models.User, task *models.Task) TaskPermissions {
	if actor == nil || task == nil {
		return TaskPermissions{}
	}

	switch actor.Role {
	case models.RoleSuperAdmin:
		return allTask
	case models.RoleAdmin:
		if adminCoversTask(actor, task) {
			return allTask
		}
		return TaskPermissions{}
	case models.RoleUser:
		var p TaskPermissions
		assignee := task.HasAssignee(actor.ID)
		creator := task.CreatedByID == actor.ID
		if assignee || creator {
			p.CanView = true
			p.CanEdit = true
			p.CanComment = true
			p.CanManageFiles = true
		}
		// status belongs to the people doing the work
		p.CanUpdateStatus = assignee
		p.CanDelete = creator
		return p
	}
	return TaskPermissions{}
}

func adminCoversTask(actor *models.User, task *models.Task) bool {
	if actor.DivisionID != nil && *actor.DivisionID == task.DivisionID {
		return true
	}
	return task.Project != nil && isAssignedAdmin(actor, task.Project)
}

func isAssignedAdmin(actor *models.User, project *models.Project) bool {
	return project.AssignedAdminID != nil && *project.AssignedAdminID == actor.ID
}

// CanAccessTask checks a single task action
func CanAccessTask(actor *models.User, task *models.Task, action Action) bool {
	return TaskPermissionsFor(actor, task).Allows(action)
}

// ProjectPermissionsFor computes the actor's rights on a project.
// member means the actor has at least one assigned task in the project.
func ProjectPermissionsFor(actor *models.User, project *models.Project, member bool) ProjectPermissions {
	if actor == nil || project == nil {
		return ProjectPermissions{}
	}

	switch actor.Role {
	case models.RoleSuperAdmin:
		return ProjectPermissions{
			CanView: true, CanEdit: true, CanCreateTasks: true,
			CanManageFiles: true, CanManageMembers: true, CanDelete: true,
		}
	case models.RoleAdmin:
		if isAssignedAdmin(actor, project) {
			return ProjectPermissions{
				CanView: true, CanEdit: true, CanCreateTasks: true,
				CanManageFiles: true, CanManageMembers: true,
			}
		}
		if actor.InDivision(project.DivisionID) {
			return ProjectPermissions{CanView: true, CanCreateTasks: true, CanManageFiles: true}
		}
		return ProjectPermissions{}
	case models.RoleUser:
		if member {
			return ProjectPermissions{CanView: true, CanCreateTasks: true}
		}
		return ProjectPermissions{}
	}
	return ProjectPermissions{}
}

// CanAccessProject checks a single project action
func CanAccessProject(actor *models.User, project *models.Project, member bool, action Action) bool {
	return ProjectPermissionsFor(actor, project, member).Allows(action)
}

// CanSeeInternalComments reports whether internal comments are visible to actor
func CanSeeInternalComments(actor *models.User) bool {
	return actor != nil && actor.Role.IsAdmin()
}

// CanManageUser reports whether actor may view or edit target in user management.
// Admins reach only non super admin users of their own division.
func CanManageUser(actor, target *models.User) bool {
	if actor == nil || target == nil {
		return false
	}
	switch actor.Role {
	case models.RoleSuperAdmin:
		return true
	case models.RoleAdmin:
		return target.Role != models.RoleSuperAdmin && actor.InDivision(target.DivisionID)
	case models.RoleUser:
		return false
	}
	return false
}

// CanToggleOrDeleteUser adds the self-protection rule to CanManageUser
func CanToggleOrDeleteUser(actor, target *models.User) bool {
	return CanManageUser(actor, target) && actor.ID != target.ID
}

// CanAssignRole reports whether actor may grant role to someone
func CanAssignRole(actor *models.User, role models.Role) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleSuperAdmin:
		return true
	case models.RoleAdmin:
		return role != models.RoleSuperAdmin
	case models.RoleUser:
		return false
	}
	return false
}

// CanDownloadProjectFile covers super admins, same-division admins,
// project members and the uploader
func CanDownloadProjectFile(actor *models.User, project *models.Project, file *models.ProjectFile, member bool) bool {
	if actor == nil || project == nil || file == nil {
		return false
	}
	switch actor.Role {
	case models.RoleSuperAdmin:
		return true
	case models.RoleAdmin:
		if actor.InDivision(project.DivisionID) || isAssignedAdmin(actor, project) {
			return true
		}
	case models.RoleUser:
	}
	return member || file.UploadedByID == actor.ID
}

// CanDeleteProjectFile is limited to super admins and the project creator
func CanDeleteProjectFile(actor *models.User, project *models.Project) bool {
	if actor == nil || project == nil {
		return false
	}
	return actor.Role == models.RoleSuperAdmin || project.CreatedByID == actor.ID
}

// CanManageDivisions is limited to super admins
func CanManageDivisions(actor *models.User) bool {
	return actor != nil && actor.Role == models.RoleSuperAdmin
}

// CanCreateProject reports whether actor may create a project in divisionID
func CanCreateProject(actor *models.User, divisionID *uuid.UUID) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleSuperAdmin:
		return true
	case models.RoleAdmin:
		return divisionID != nil && actor.InDivision(divisionID)
	case models.RoleUser:
		return false
	}
	return false
}
