package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OverdueJob reminds assignees about open tasks past their due date
type OverdueJob struct {
	db            *gorm.DB
	notifications *engine.NotificationEngine
	interval      time.Duration
	workers       int
}

// NewOverdueJob creates the job. Tasks are processed by up to workers goroutines.
func NewOverdueJob(db *gorm.DB, notifications *engine.NotificationEngine, interval time.Duration, workers int) *OverdueJob {
	if workers <= 0 {
		workers = 1
	}
	return &OverdueJob{db: db, notifications: notifications, interval: interval, workers: workers}
}

// Name identifies the job in the scheduler
func (j *OverdueJob) Name() string {
	return "overdue_task_reminders"
}

// Interval is how often the job runs
func (j *OverdueJob) Interval() time.Duration {
	return j.interval
}

// Execute is the scheduler entry point
func (j *OverdueJob) Execute() {
	sent, err := j.Run(context.Background(), time.Now().UTC())
	if err != nil {
		logger.L().Error("overdue reminders failed", zap.Error(err))
		return
	}
	if sent > 0 {
		logger.Info("Sent %d overdue reminders", sent)
	}
}

// Run notifies every assignee of every overdue task, at most once per task
// and recipient per UTC day. It returns the number of notifications sent.
func (j *OverdueJob) Run(ctx context.Context, now time.Time) (int, error) {
	db := j.db.WithContext(ctx)

	var tasks []models.Task
	err := db.Preload("Assignees").
		Where("due_date IS NOT NULL AND due_date < ?", now).
		Where("status NOT IN ?", []models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusCancelled}).
		Find(&tasks).Error
	if err != nil {
		return 0, fmt.Errorf("loading overdue tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	pool, err := ants.NewPool(j.workers)
	if err != nil {
		return 0, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var (
		sent     atomic.Int64
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i := range tasks {
		task := &tasks[i]
		if !task.IsOverdue(now) {
			continue
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			n, err := j.remind(db, task, dayStart)
			sent.Add(int64(n))
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			logger.L().Error("failed to submit reminder", zap.String("task", task.ID.String()), zap.Error(err))
		}
	}
	wg.Wait()
	return int(sent.Load()), firstErr
}

// remind notifies the assignees of one task that were not reminded since dayStart
func (j *OverdueJob) remind(db *gorm.DB, task *models.Task, dayStart time.Time) (int, error) {
	sent := 0
	for _, a := range task.Assignees {
		var count int64
		err := db.Model(&models.Notification{}).
			Where("recipient_id = ? AND type = ? AND related_id = ? AND created_at >= ?",
				a.ID, models.NotificationTaskOverdue, task.ID, dayStart).
			Count(&count).Error
		if err != nil {
			return sent, fmt.Errorf("checking reminders for task %s: %w", task.ID, err)
		}
		if count > 0 {
			continue
		}
		id := task.ID
		j.notifications.Notify(db, engine.NotificationInput{
			RecipientID: a.ID,
			Type:        models.NotificationTaskOverdue,
			Title:       "Task overdue",
			Message:     fmt.Sprintf("Task %q was due on %s", task.Title, task.DueDate.UTC().Format("2006-01-02 15:04")),
			RelatedType: models.RelatedTask,
			RelatedID:   &id,
		})
		sent++
	}
	return sent, nil
}
