// Package scheduler runs the portal's periodic background jobs
package scheduler

import (
	"fmt"
	"time"

	"github.com/aethra/taskportal/internal/config"
	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is a unit of periodic work
type Job interface {
	Name() string
	Interval() time.Duration
	Execute()
}

// Manager owns the gocron scheduler and its jobs
type Manager struct {
	scheduler gocron.Scheduler
	jobs      []Job
}

// NewManager builds a manager with every job enabled by configuration
func NewManager(cfg config.SchedulerConfig, svc *engine.Services) (*Manager, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	m := &Manager{scheduler: s}
	interval := time.Duration(cfg.OverdueIntervalMinutes) * time.Minute
	m.jobs = append(m.jobs, NewOverdueJob(svc.DB, svc.Notifications, interval, cfg.Workers))
	return m, nil
}

// Start registers the jobs and starts the scheduler
func (m *Manager) Start() error {
	for _, job := range m.jobs {
		_, err := m.scheduler.NewJob(
			gocron.DurationJob(job.Interval()),
			gocron.NewTask(job.Execute),
			gocron.WithName(job.Name()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("registering job %s: %w", job.Name(), err)
		}
		logger.L().Info("job registered", zap.String("job", job.Name()), zap.Duration("interval", job.Interval()))
	}
	m.scheduler.Start()
	return nil
}

// Stop waits for running jobs and shuts the scheduler down
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.L().Warn("scheduler shutdown failed", zap.Error(err))
	}
}
