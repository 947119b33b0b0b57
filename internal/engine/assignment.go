package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssignmentEngine decides who may be put on a task
type AssignmentEngine struct {
	db *gorm.DB
}

// NewAssignmentEngine creates a new assignment engine
func NewAssignmentEngine(db *gorm.DB) *AssignmentEngine {
	return &AssignmentEngine{db: db}
}

// sortByName orders users by first name then last name, byte-wise
func sortByName(users []models.User) {
	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		return a.Username < b.Username
	})
}

func (e *AssignmentEngine) activeUsers(ctx context.Context, divisionID *uuid.UUID) ([]models.User, error) {
	q := e.db.WithContext(ctx).Where("is_active = ?", true)
	if divisionID != nil {
		q = q.Where("division_id = ?", *divisionID)
	}
	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	sortByName(users)
	return users, nil
}

// AssignableUsers returns the candidate assignees for a task created by actor,
// optionally inside project. Ranking failures fall back to every active user.
func (e *AssignmentEngine) AssignableUsers(ctx context.Context, actor *models.User, project *models.Project) ([]models.User, error) {
	if actor == nil {
		return nil, errors.NewUnauthorizedError("")
	}

	users, err := e.rank(ctx, actor, project)
	if err == nil {
		return users, nil
	}

	logger.L().Warn("assignable user ranking failed, falling back to all active users",
		zap.String("actor", actor.Username), zap.Error(err))
	users, err = e.activeUsers(ctx, nil)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("loading active users: %w", err))
	}
	return users, nil
}

func (e *AssignmentEngine) rank(ctx context.Context, actor *models.User, project *models.Project) ([]models.User, error) {
	var projectDivision *uuid.UUID
	if project != nil {
		projectDivision = project.DivisionID
	}

	switch actor.Role {
	case models.RoleSuperAdmin:
		all, err := e.activeUsers(ctx, nil)
		if err != nil || projectDivision == nil {
			return all, err
		}
		first := make([]models.User, 0, len(all))
		rest := make([]models.User, 0, len(all))
		for _, u := range all {
			if u.InDivision(projectDivision) {
				first = append(first, u)
			} else {
				rest = append(rest, u)
			}
		}
		return append(first, rest...), nil

	case models.RoleAdmin:
		div := projectDivision
		if div == nil {
			div = actor.DivisionID
		}
		return e.activeUsers(ctx, div)

	case models.RoleUser:
		div := projectDivision
		if div == nil {
			div = actor.DivisionID
		}
		if div == nil {
			return []models.User{*actor}, nil
		}
		users, err := e.activeUsers(ctx, div)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if u.ID == actor.ID {
				return users, nil
			}
		}
		users = append(users, *actor)
		sortByName(users)
		return users, nil
	}
	return nil, fmt.Errorf("unknown role %q", actor.Role)
}

// ResolveAssignees checks 1..10 distinct assignees, all drawn from the candidate set
func (e *AssignmentEngine) ResolveAssignees(ctx context.Context, actor *models.User, project *models.Project, ids []uuid.UUID) ([]models.User, error) {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, errors.NewValidationError("assignees", "at least one assignee is required")
	}
	if len(unique) > models.MaxAssignees {
		return nil, errors.NewValidationError("assignees", fmt.Sprintf("a task can have at most %d assignees", models.MaxAssignees))
	}

	candidates, err := e.AssignableUsers(ctx, actor, project)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.User, len(candidates))
	for _, u := range candidates {
		byID[u.ID] = u
	}

	out := make([]models.User, 0, len(unique))
	for _, id := range unique {
		u, ok := byID[id]
		if !ok {
			return nil, errors.NewValidationError("assignees", fmt.Sprintf("user %s cannot be assigned to this task", id))
		}
		out = append(out, u)
	}
	return out, nil
}

// ValidateProjectAdmin checks that the chosen admin may manage a project in divisionID
func (e *AssignmentEngine) ValidateProjectAdmin(ctx context.Context, divisionID *uuid.UUID, adminID *uuid.UUID) (*models.User, error) {
	if adminID == nil {
		return nil, nil
	}
	var admin models.User
	if err := e.db.WithContext(ctx).Preload("Division").First(&admin, "id = ?", *adminID).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NewValidationError("assigned_admin", "selected admin does not exist")
		}
		return nil, lookupErr(err, "admin")
	}
	if !admin.Role.IsAdmin() {
		return nil, errors.NewValidationError("assigned_admin", fmt.Sprintf("user %q is not an admin", admin.Username))
	}
	if !admin.IsActive {
		return nil, errors.NewValidationError("assigned_admin", fmt.Sprintf("admin %q is not active", admin.Username))
	}
	if divisionID == nil || admin.Role == models.RoleSuperAdmin || admin.InDivision(divisionID) {
		return &admin, nil
	}

	var division models.Division
	if err := e.db.WithContext(ctx).First(&division, "id = ?", *divisionID).Error; err != nil {
		return nil, lookupErr(err, "division")
	}
	adminDivision := "no division"
	if admin.Division != nil {
		adminDivision = admin.Division.Name
	}
	return nil, errors.NewValidationError("assigned_admin",
		fmt.Sprintf("selected admin %q belongs to division %q, not %q", admin.DisplayName(), adminDivision, division.Name))
}
