package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron     *cron.Cron
	registry *SessionRegistry
	idleTTL  time.Duration
	schedule string
	logger   *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(registry *SessionRegistry, schedule string, idleTTL time.Duration, logger *logrus.Logger) *CronService {
	// Cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:     c,
		registry: registry,
		idleTTL:  idleTTL,
		schedule: schedule,
		logger:   logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	// Job 1: Sweep idle checkout sessions
	// Cron format: second minute hour day month weekday
	// "0 */5 * * * *" = every 5 minutes
	if _, err := s.cron.AddFunc(s.schedule, s.sweepIdleSessionsJob); err != nil {
		return fmt.Errorf("failed to schedule idle session sweep: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"schedule": s.schedule,
		"idle_ttl": s.idleTTL.String(),
	}).Info("Scheduled: Sweep idle checkout sessions")

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// sweepIdleSessionsJob drops sessions nobody touched within the idle TTL
func (s *CronService) sweepIdleSessionsJob() {
	startTime := time.Now()
	removed := s.registry.SweepIdle(s.idleTTL)

	s.logger.WithFields(logrus.Fields{
		"removed":     removed,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("[CRON] Idle session sweep finished")
}

// RunSweepNow runs the idle session sweep immediately
func (s *CronService) RunSweepNow() int {
	return s.registry.SweepIdle(s.idleTTL)
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
