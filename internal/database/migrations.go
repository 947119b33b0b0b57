package database

import (
	"fmt"
	"time"

	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"gorm.io/gorm"
)

// MigrationRecord tracks which data migrations have been applied
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:255"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for migrations
func (MigrationRecord) TableName() string {
	return "_portal_migrations"
}

// Migration is a named one-shot step run after the schema is in place
type Migration struct {
	Name string
	Up   func(tx *gorm.DB) error
}

// Migrations lists data migrations in the order they run
var Migrations = []Migration{
	{
		Name: "001_task_completion_consistency",
		Up: func(tx *gorm.DB) error {
			if err := tx.Model(&models.Task{}).
				Where("status <> ? AND completed_at IS NOT NULL", models.TaskStatusCompleted).
				UpdateColumn("completed_at", nil).Error; err != nil {
				return err
			}
			return tx.Model(&models.Task{}).
				Where("status = ? AND progress_percentage <> ?", models.TaskStatusCompleted, 100).
				UpdateColumn("progress_percentage", 100).Error
		},
	},
}

// RunMigrations creates or updates the schema and applies pending data migrations
func RunMigrations(db *gorm.DB) error {
	if err := db.SetupJoinTable(&models.Task{}, "Assignees", &models.TaskAssignee{}); err != nil {
		return fmt.Errorf("failed to set up task assignee join table: %w", err)
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if err := db.AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range Migrations {
		var count int64
		if err := db.Model(&MigrationRecord{}).Where("name = ?", m.Name).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
		}
		if count > 0 {
			logger.Debug("migration %s already applied", m.Name)
			continue
		}

		logger.Info("applying migration %s", m.Name)
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{Name: m.Name}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Name, err)
		}
	}

	return nil
}
