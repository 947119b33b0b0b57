package engine

import (
	"context"
	"time"

	"github.com/aethra/taskportal/internal/models"
	"gorm.io/gorm"
)

// dashboardListSize bounds each dashboard list
const dashboardListSize = 5

// DashboardEngine builds the landing page
type DashboardEngine struct {
	db *gorm.DB
}

// NewDashboardEngine creates a dashboard engine
func NewDashboardEngine(db *gorm.DB) *DashboardEngine {
	return &DashboardEngine{db: db}
}

// Dashboard is the landing page payload
type Dashboard struct {
	Totals              Totals           `json:"totals"`
	RecentTasks         []models.Task    `json:"recent_tasks"`
	MyTasks             []models.Task    `json:"my_tasks"`
	ManagedProjects     []models.Project `json:"managed_projects"`
	UnreadNotifications int64            `json:"unread_notifications"`
}

// dashboardScope is the report scope except that regular users only count
// tasks assigned to them
func dashboardScope(db, q *gorm.DB, actor *models.User) (*gorm.DB, bool) {
	if actor.Role == models.RoleUser {
		return q.Where("tasks.id IN (?)", assignedTo(db, actor.ID)), true
	}
	return reportScope(db, q, actor)
}

// Build assembles the counters and short lists for actor
func (e *DashboardEngine) Build(ctx context.Context, actor *models.User) (*Dashboard, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	db := e.db.WithContext(ctx)
	out := &Dashboard{
		RecentTasks:     []models.Task{},
		MyTasks:         []models.Task{},
		ManagedProjects: []models.Project{},
	}

	if scoped, ok := dashboardScope(db, db.Model(&models.Task{}), actor); ok {
		var light []models.Task
		if err := scoped.Select("tasks.id", "tasks.status", "tasks.due_date").Find(&light).Error; err != nil {
			return nil, lookupErr(err, "dashboard")
		}
		now := time.Now().UTC()
		for i := range light {
			t := &light[i]
			out.Totals.Total++
			switch t.Status {
			case models.TaskStatusPending:
				out.Totals.Pending++
			case models.TaskStatusInProgress:
				out.Totals.InProgress++
			case models.TaskStatusCompleted:
				out.Totals.Completed++
			}
			if t.IsOverdue(now) {
				out.Totals.Overdue++
			}
		}

		recent, _ := dashboardScope(db, db.Model(&models.Task{}), actor)
		err := recent.Preload("Assignees").Preload("Project").Preload("Division").Preload("CreatedBy").
			Order("tasks.created_at DESC").Limit(dashboardListSize).Find(&out.RecentTasks).Error
		if err != nil {
			return nil, lookupErr(err, "dashboard")
		}
	}

	err := db.Where("id IN (?)", assignedTo(db, actor.ID)).
		Preload("Assignees").Preload("Project").
		Order("created_at DESC").Limit(dashboardListSize).Find(&out.MyTasks).Error
	if err != nil {
		return nil, lookupErr(err, "dashboard")
	}

	projects := db.Model(&models.Project{})
	switch actor.Role {
	case models.RoleSuperAdmin:
	case models.RoleAdmin:
		if actor.DivisionID == nil {
			projects = nil
		} else {
			projects = projects.Where("assigned_admin_id = ? OR division_id = ?", actor.ID, *actor.DivisionID)
		}
	case models.RoleUser:
		projects = nil
	default:
		projects = nil
	}
	if projects != nil {
		if err := projects.Preload("Division").Order("created_at DESC").Limit(dashboardListSize).Find(&out.ManagedProjects).Error; err != nil {
			return nil, lookupErr(err, "dashboard")
		}
	}

	if err := db.Model(&models.Notification{}).Where("recipient_id = ? AND is_read = ?", actor.ID, false).
		Count(&out.UnreadNotifications).Error; err != nil {
		return nil, lookupErr(err, "dashboard")
	}
	return out, nil
}
