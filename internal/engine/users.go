package engine

import (
	"context"
	"fmt"
	"regexp"
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

// MinPasswordLength is enforced at registration and password reset
const MinPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.@+-]{3,150}$`)

// UserEngine manages accounts
type UserEngine struct {
	db            *gorm.DB
	notifications *NotificationEngine
	activity      *ActivityLogger
	files         *storage.LocalStore
}

// NewUserEngine creates a user engine
func NewUserEngine(db *gorm.DB, notifications *NotificationEngine, activity *ActivityLogger, files *storage.LocalStore) *UserEngine {
	return &UserEngine{db: db, notifications: notifications, activity: activity, files: files}
}

// RegisterInput is a self-service sign up
type RegisterInput struct {
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Phone      string     `json:"phone"`
	DivisionID *uuid.UUID `json:"division_id"`
}

func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || len(email) > 255 {
		return errors.NewValidationError("email", "enter a valid email address")
	}
	return nil
}

func validatePassword(pw string) error {
	if len(pw) < MinPasswordLength {
		return errors.NewValidationError("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	return nil
}

func (e *UserEngine) usernameTaken(tx *gorm.DB, username string) (bool, error) {
	var n int64
	err := tx.Model(&models.User{}).Where("LOWER(username) = ?", strings.ToLower(username)).Count(&n).Error
	return n > 0, err
}

func (e *UserEngine) checkDivision(tx *gorm.DB, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	var d models.Division
	if err := tx.First(&d, "id = ?", *id).Error; err != nil {
		if errors.IsNotFound(lookupErr(err, "division")) {
			return errors.NewValidationError("division", "selected division does not exist")
		}
		return lookupErr(err, "division")
	}
	if !d.IsActive {
		return errors.NewValidationError("division", fmt.Sprintf("division %q is not active", d.Name))
	}
	return nil
}

// Register creates an inactive account that waits for admin approval
func (e *UserEngine) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if !usernamePattern.MatchString(in.Username) {
		return nil, errors.NewValidationError("username", "username must be 3-150 letters, digits or _ . @ + -")
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	u := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    security.StripHTML(in.FirstName),
		LastName:     security.StripHTML(in.LastName),
		Phone:        strings.TrimSpace(in.Phone),
		Role:         models.RoleUser,
		DivisionID:   in.DivisionID,
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.checkDivision(tx, in.DivisionID); err != nil {
			return err
		}
		taken, err := e.usernameTaken(tx, in.Username)
		if err != nil {
			return err
		}
		if taken {
			return errors.NewConflictError("username " + in.Username)
		}
		if err := tx.Omit(clause.Associations).Create(u).Error; err != nil {
			return err
		}
		e.activity.Log(tx, u, ActivityEntry{
			Action: "user_registered", ObjectType: "user", ObjectID: uuidPtr(u.ID),
			Description: "Registered account " + u.Username,
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "user")
	}
	return u, nil
}

// Authenticate checks credentials and stamps the login time
func (e *UserEngine) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var u models.User
	err := e.db.WithContext(ctx).Preload("Division").
		First(&u, "LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))).Error
	if err != nil {
		if errors.IsNotFound(lookupErr(err, "user")) {
			return nil, errors.NewUnauthorizedError("invalid username or password")
		}
		return nil, lookupErr(err, "user")
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		return nil, errors.NewUnauthorizedError("invalid username or password")
	}
	if !u.IsActive {
		return nil, errors.NewPermissionDeniedMessage("your account is awaiting admin approval")
	}

	now := time.Now().UTC()
	u.LastLoginAt = &now
	if err := e.db.WithContext(ctx).Model(&u).UpdateColumn("last_login_at", now).Error; err != nil {
		return nil, storeErr(err, "user")
	}
	return &u, nil
}

// Get loads a user with their division
func (e *UserEngine) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := e.db.WithContext(ctx).Preload("Division").First(&u, "id = ?", id).Error; err != nil {
		return nil, lookupErr(err, "user")
	}
	return &u, nil
}

// UserFilter narrows the user list
type UserFilter struct {
	Search     string
	Role       models.Role
	DivisionID *uuid.UUID
	Status     string // active, inactive or empty
	Page       int
}

// UserStats summarizes the visible accounts
type UserStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
	Admins   int64 `json:"admins"`
}

// UserList is one page of users
type UserList struct {
	Users []models.User `json:"users"`
	Stats UserStats     `json:"stats"`
	Page
}

// List returns the accounts actor may manage. Admins only see non super
// admin users of their own division.
func (e *UserEngine) List(ctx context.Context, actor *models.User, f UserFilter) (*UserList, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)
	scoped := func() *gorm.DB {
		q := db.Model(&models.User{})
		if actor.Role == models.RoleAdmin {
			q = q.Where("division_id = ? AND role <> ?", *actor.DivisionID, models.RoleSuperAdmin)
		}
		return q
	}

	switch actor.Role {
	case models.RoleSuperAdmin:
	case models.RoleAdmin:
		if actor.DivisionID == nil {
			return &UserList{Users: []models.User{}, Page: newPage(1, DefaultPageSize, 0)}, nil
		}
	case models.RoleUser:
		return nil, errors.NewPermissionDeniedError("manage", "users")
	default:
		return nil, errors.NewPermissionDeniedError("manage", "users")
	}

	var stats UserStats
	if err := scoped().Count(&stats.Total).Error; err != nil {
		return nil, lookupErr(err, "users")
	}
	if err := scoped().Where("is_active = ?", true).Count(&stats.Active).Error; err != nil {
		return nil, lookupErr(err, "users")
	}
	stats.Inactive = stats.Total - stats.Active
	if err := scoped().Where("role IN ?", []models.Role{models.RoleAdmin, models.RoleSuperAdmin}).Count(&stats.Admins).Error; err != nil {
		return nil, lookupErr(err, "users")
	}

	q := scoped()
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.DivisionID != nil {
		q = q.Where("division_id = ?", *f.DivisionID)
	}
	switch f.Status {
	case "active":
		q = q.Where("is_active = ?", true)
	case "inactive":
		q = q.Where("is_active = ?", false)
	}
	if cond, args := security.MultiLikeCondition(db.Dialector.Name(),
		[]string{"username", "email", "first_name", "last_name"}, f.Search); cond != "" {
		q = q.Where(cond, args...)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, lookupErr(err, "users")
	}
	page := normalizePage(f.Page)
	var users []models.User
	err := q.Preload("Division").Order("created_at DESC").
		Offset((page - 1) * DefaultPageSize).Limit(DefaultPageSize).
		Find(&users).Error
	if err != nil {
		return nil, lookupErr(err, "users")
	}
	return &UserList{Users: users, Stats: stats, Page: newPage(page, DefaultPageSize, total)}, nil
}

// UserUpdate is an admin edit of an account. Nil fields stay unchanged.
type UserUpdate struct {
	Email      *string      `json:"email"`
	FirstName  *string      `json:"first_name"`
	LastName   *string      `json:"last_name"`
	Phone      *string      `json:"phone"`
	Role       *models.Role `json:"role"`
	DivisionID *uuid.UUID   `json:"division_id"`
	IsActive   *bool        `json:"is_active"`
	Password   string       `json:"password"`
}

func (e *UserEngine) manageable(ctx context.Context, actor *models.User, id uuid.UUID) (*models.User, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	target, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanManageUser(actor, target) {
		return nil, errors.NewPermissionDeniedError("manage", "user")
	}
	return target, nil
}

// Update edits an account within the actor's management rights
func (e *UserEngine) Update(ctx context.Context, actor *models.User, id uuid.UUID, in UserUpdate) (*models.User, error) {
	u, err := e.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	self := u.ID == actor.ID

	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		u.Email = email
	}
	if in.FirstName != nil {
		u.FirstName = security.StripHTML(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = security.StripHTML(*in.LastName)
	}
	if in.Phone != nil {
		u.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Role != nil && *in.Role != u.Role {
		if _, ok := models.ParseRole(string(*in.Role)); !ok {
			return nil, errors.NewValidationError("role", fmt.Sprintf("unknown role %q", *in.Role))
		}
		if self {
			return nil, errors.NewValidationError("role", "you cannot change your own role")
		}
		if !auth.CanAssignRole(actor, *in.Role) {
			return nil, errors.NewPermissionDeniedMessage("admins cannot grant the super admin role")
		}
		u.Role = *in.Role
	}
	if in.DivisionID != nil && !sameUUID(in.DivisionID, u.DivisionID) {
		if actor.Role != models.RoleSuperAdmin {
			return nil, errors.NewPermissionDeniedMessage("only super admins can move users between divisions")
		}
		if err := e.checkDivision(e.db.WithContext(ctx), in.DivisionID); err != nil {
			return nil, err
		}
		u.DivisionID = in.DivisionID
		u.Division = nil
	}
	activated := false
	if in.IsActive != nil && *in.IsActive != u.IsActive {
		if self {
			return nil, errors.NewValidationError("is_active", "you cannot change your own status")
		}
		activated = *in.IsActive
		u.IsActive = *in.IsActive
	}
	if in.Password != "" {
		if err := validatePassword(in.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return nil, errors.NewInternalError(err)
		}
		u.PasswordHash = hash
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(u).Error; err != nil {
			return err
		}
		if activated {
			e.notifyApproved(tx, actor, u)
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "user_updated", ObjectType: "user", ObjectID: uuidPtr(u.ID),
			Description: "Updated user " + u.Username,
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "user")
	}
	return e.Get(ctx, id)
}

func (e *UserEngine) notifyApproved(tx *gorm.DB, actor *models.User, u *models.User) {
	e.notifications.Notify(tx, NotificationInput{
		RecipientID: u.ID,
		SenderID:    uuidPtr(actor.ID),
		Type:        models.NotificationAccountApproved,
		Title:       "Account approved",
		Message:     fmt.Sprintf("%s approved your account. Welcome aboard!", actor.DisplayName()),
		RelatedType: models.RelatedUser,
		RelatedID:   uuidPtr(u.ID),
	})
}

// ToggleStatus flips is_active. Activation notifies the user.
func (e *UserEngine) ToggleStatus(ctx context.Context, actor *models.User, id uuid.UUID) (*models.User, error) {
	u, err := e.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanToggleOrDeleteUser(actor, u) {
		return nil, errors.NewPermissionDeniedMessage("you cannot change your own status")
	}

	u.IsActive = !u.IsActive
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).UpdateColumn("is_active", u.IsActive).Error; err != nil {
			return err
		}
		action, verb := "user_deactivated", "Deactivated"
		if u.IsActive {
			action, verb = "user_activated", "Activated"
			e.notifyApproved(tx, actor, u)
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: action, ObjectType: "user", ObjectID: uuidPtr(u.ID),
			Description: verb + " user " + u.Username,
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "user")
	}
	return u, nil
}

// UserDeletion reports what went with a deleted account
type UserDeletion struct {
	Username           string `json:"username"`
	TasksDeleted       int    `json:"tasks_deleted"`
	CommentsDeleted    int64  `json:"comments_deleted"`
	ProjectsReassigned int64  `json:"projects_reassigned"`
}

// Message renders the deletion summary for the user list
func (d *UserDeletion) Message() string {
	return fmt.Sprintf("User %s deleted along with %d task(s) and %d comment(s); %d project(s) reassigned",
		d.Username, d.TasksDeleted, d.CommentsDeleted, d.ProjectsReassigned)
}

// Delete removes an account with the tasks it created and the records it authored.
// Projects it created move to the acting admin.
func (e *UserEngine) Delete(ctx context.Context, actor *models.User, id uuid.UUID) (*UserDeletion, error) {
	u, err := e.manageable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !auth.CanToggleOrDeleteUser(actor, u) {
		return nil, errors.NewPermissionDeniedMessage("you cannot delete your own account")
	}

	out := &UserDeletion{Username: u.Username}
	var paths []string
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var created []uuid.UUID
		if err := tx.Model(&models.Task{}).Where("created_by_id = ?", id).Pluck("id", &created).Error; err != nil {
			return err
		}
		taskFiles, err := purgeTasks(tx, created)
		if err != nil {
			return err
		}
		out.TasksDeleted = len(created)

		var attachmentFiles []string
		if err := tx.Model(&models.TaskAttachment{}).Where("uploaded_by_id = ?", id).Pluck("stored_path", &attachmentFiles).Error; err != nil {
			return err
		}
		var projectFiles []string
		if err := tx.Model(&models.ProjectFile{}).Where("uploaded_by_id = ?", id).Pluck("stored_path", &projectFiles).Error; err != nil {
			return err
		}
		paths = append(append(append(paths, taskFiles...), attachmentFiles...), projectFiles...)

		// replies to the user's comments go first
		var mine []uuid.UUID
		if err := tx.Model(&models.Comment{}).Where("user_id = ?", id).Pluck("id", &mine).Error; err != nil {
			return err
		}
		if len(mine) > 0 {
			if err := tx.Where("parent_id IN ? AND user_id <> ?", mine, id).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
		}
		res := tx.Where("user_id = ?", id).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		out.CommentsDeleted = res.RowsAffected

		deletes := []struct {
			model interface{}
			where string
		}{
			{&models.TaskAttachment{}, "uploaded_by_id = ?"},
			{&models.ProjectFile{}, "uploaded_by_id = ?"},
			{&models.TimeEntry{}, "user_id = ?"},
			{&models.TaskHistory{}, "user_id = ?"},
			{&models.TaskAssignee{}, "user_id = ?"},
			{&models.Notification{}, "recipient_id = ?"},
			{&models.TaskTemplate{}, "created_by_id = ?"},
		}
		for _, d := range deletes {
			if err := tx.Where(d.where, id).Delete(d.model).Error; err != nil {
				return err
			}
		}

		nulls := []struct {
			model  interface{}
			column string
		}{
			{&models.Project{}, "assigned_admin_id"},
			{&models.Notification{}, "sender_id"},
			{&models.ActivityLog{}, "user_id"},
		}
		for _, n := range nulls {
			if err := tx.Model(n.model).Where(n.column+" = ?", id).UpdateColumn(n.column, nil).Error; err != nil {
				return err
			}
		}

		res = tx.Model(&models.Project{}).Where("created_by_id = ?", id).UpdateColumn("created_by_id", actor.ID)
		if res.Error != nil {
			return res.Error
		}
		out.ProjectsReassigned = res.RowsAffected

		if err := tx.Delete(&models.User{}, "id = ?", id).Error; err != nil {
			return err
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "user_deleted", ObjectType: "user", ObjectID: uuidPtr(id),
			Description: out.Message(),
			Metadata: models.JSONB{
				"tasks_deleted":       out.TasksDeleted,
				"comments_deleted":    out.CommentsDeleted,
				"projects_reassigned": out.ProjectsReassigned,
			},
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "user")
	}
	removeStored(e.files, paths)
	return out, nil
}
