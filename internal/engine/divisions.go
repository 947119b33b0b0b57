package engine

import (
	"context"
	"strings"

	"github.com/aethra/taskportal/internal/auth"
	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DivisionEngine manages divisions
type DivisionEngine struct {
	db       *gorm.DB
	activity *ActivityLogger
	files    *storage.LocalStore
}

// NewDivisionEngine creates a division engine
func NewDivisionEngine(db *gorm.DB, activity *ActivityLogger, files *storage.LocalStore) *DivisionEngine {
	return &DivisionEngine{db: db, activity: activity, files: files}
}

// DivisionInput carries editable division fields
type DivisionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

// DivisionSummary is a division with headcounts
type DivisionSummary struct {
	models.Division
	UserCount    int64 `json:"user_count"`
	TaskCount    int64 `json:"task_count"`
	ProjectCount int64 `json:"project_count"`
}

// List returns all divisions ordered by name with counts
func (e *DivisionEngine) List(ctx context.Context) ([]DivisionSummary, error) {
	db := e.db.WithContext(ctx)
	var divisions []models.Division
	if err := db.Order("name").Find(&divisions).Error; err != nil {
		return nil, lookupErr(err, "divisions")
	}

	type count struct {
		DivisionID uuid.UUID
		N          int64
	}
	tally := func(model interface{}) (map[uuid.UUID]int64, error) {
		var rows []count
		err := db.Model(model).Select("division_id, COUNT(*) AS n").
			Where("division_id IS NOT NULL").Group("division_id").Scan(&rows).Error
		out := make(map[uuid.UUID]int64, len(rows))
		for _, r := range rows {
			out[r.DivisionID] = r.N
		}
		return out, err
	}
	users, err := tally(&models.User{})
	if err != nil {
		return nil, lookupErr(err, "divisions")
	}
	tasks, err := tally(&models.Task{})
	if err != nil {
		return nil, lookupErr(err, "divisions")
	}
	projects, err := tally(&models.Project{})
	if err != nil {
		return nil, lookupErr(err, "divisions")
	}

	out := make([]DivisionSummary, 0, len(divisions))
	for _, d := range divisions {
		out = append(out, DivisionSummary{Division: d, UserCount: users[d.ID], TaskCount: tasks[d.ID], ProjectCount: projects[d.ID]})
	}
	return out, nil
}

// Get loads a division
func (e *DivisionEngine) Get(ctx context.Context, id uuid.UUID) (*models.Division, error) {
	var d models.Division
	if err := e.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, lookupErr(err, "division")
	}
	return &d, nil
}

func validateDivisionInput(in *DivisionInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return errors.NewValidationError("name", "division name is required")
	}
	if len(in.Name) > 100 {
		return errors.NewValidationError("name", "division name must be at most 100 characters")
	}
	return nil
}

func (e *DivisionEngine) nameTaken(tx *gorm.DB, name string, exclude *uuid.UUID) (bool, error) {
	q := tx.Model(&models.Division{}).Where("LOWER(name) = ?", strings.ToLower(name))
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	var n int64
	err := q.Count(&n).Error
	return n > 0, err
}

// Create adds a division with a generated code
func (e *DivisionEngine) Create(ctx context.Context, actor *models.User, in DivisionInput) (*models.Division, error) {
	if !auth.CanManageDivisions(actor) {
		return nil, errors.NewPermissionDeniedError("create", "division")
	}
	if err := validateDivisionInput(&in); err != nil {
		return nil, err
	}

	d := &models.Division{Name: in.Name, Description: in.Description, IsActive: true}
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := e.nameTaken(tx, in.Name, nil)
		if err != nil {
			return err
		}
		if taken {
			return errors.NewConflictError("division " + in.Name)
		}
		code, err := NextDivisionCode(ctx, tx, in.Name, nil)
		if err != nil {
			return err
		}
		d.Code = code
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		if !d.IsActive {
			if err := tx.Model(d).UpdateColumn("is_active", false).Error; err != nil {
				return err
			}
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "division_created", ObjectType: "division", ObjectID: uuidPtr(d.ID),
			Description: "Created division " + d.Name,
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "division")
	}
	return d, nil
}

// Update edits a division, regenerating its code when the name changes
func (e *DivisionEngine) Update(ctx context.Context, actor *models.User, id uuid.UUID, in DivisionInput) (*models.Division, error) {
	if !auth.CanManageDivisions(actor) {
		return nil, errors.NewPermissionDeniedError("edit", "division")
	}
	if err := validateDivisionInput(&in); err != nil {
		return nil, err
	}

	var d models.Division
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&d, "id = ?", id).Error; err != nil {
			return lookupErr(err, "division")
		}
		if in.Name != d.Name {
			taken, err := e.nameTaken(tx, in.Name, &d.ID)
			if err != nil {
				return err
			}
			if taken {
				return errors.NewConflictError("division " + in.Name)
			}
			if DivisionCodeBase(in.Name) != DivisionCodeBase(d.Name) {
				code, err := NextDivisionCode(ctx, tx, in.Name, &d.ID)
				if err != nil {
					return err
				}
				d.Code = code
			}
		}
		d.Name = in.Name
		d.Description = in.Description
		if in.IsActive != nil {
			d.IsActive = *in.IsActive
		}
		if err := tx.Save(&d).Error; err != nil {
			return err
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "division_updated", ObjectType: "division", ObjectID: uuidPtr(d.ID),
			Description: "Updated division " + d.Name,
		})
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "division")
	}
	return &d, nil
}

// Delete removes a division together with its tasks, detaching users and
// projects. It returns the number of tasks deleted.
func (e *DivisionEngine) Delete(ctx context.Context, actor *models.User, id uuid.UUID) (int, error) {
	if !auth.CanManageDivisions(actor) {
		return 0, errors.NewPermissionDeniedError("delete", "division")
	}

	var (
		orphanedFiles []string
		deleted       int
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d models.Division
		if err := tx.First(&d, "id = ?", id).Error; err != nil {
			return lookupErr(err, "division")
		}

		var taskIDs []uuid.UUID
		if err := tx.Model(&models.Task{}).Where("division_id = ?", id).Pluck("id", &taskIDs).Error; err != nil {
			return err
		}
		files, err := purgeTasks(tx, taskIDs)
		if err != nil {
			return err
		}
		orphanedFiles = files
		deleted = len(taskIDs)

		if err := tx.Model(&models.User{}).Where("division_id = ?", id).UpdateColumn("division_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Project{}).Where("division_id = ?", id).UpdateColumn("division_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("division_id = ?", id).Delete(&models.TaskTemplate{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&d).Error; err != nil {
			return err
		}
		e.activity.Log(tx, actor, ActivityEntry{
			Action: "division_deleted", ObjectType: "division", ObjectID: uuidPtr(id),
			Description: "Deleted division " + d.Name,
			Metadata:    models.JSONB{"tasks_deleted": len(taskIDs)},
		})
		return nil
	})
	if err != nil {
		return 0, storeErr(err, "division")
	}
	removeStored(e.files, orphanedFiles)
	return deleted, nil
}

// Admins lists active admins of a division for project forms
func (e *DivisionEngine) Admins(ctx context.Context, actor *models.User, id uuid.UUID) ([]models.User, error) {
	if actor == nil || !actor.Role.IsAdmin() {
		return nil, errors.NewPermissionDeniedError("view", "division admins")
	}
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	var admins []models.User
	err := e.db.WithContext(ctx).
		Where("division_id = ? AND role IN ? AND is_active = ?", id, []models.Role{models.RoleAdmin, models.RoleSuperAdmin}, true).
		Find(&admins).Error
	if err != nil {
		return nil, lookupErr(err, "division admins")
	}
	sortByName(admins)
	return admins, nil
}
