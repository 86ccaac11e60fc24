package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SweepService runs the hold-expiration job on a schedule. Holds are only
// ever expired here or by an explicit gateway verdict, both through the same
// conditional transition, so the sweep and a late callback can race safely.
type SweepService struct {
	cron      *cron.Cron
	ledger    *LedgerService
	sweepSpec string
	logger    *logrus.Logger
}

// NewSweepService creates a new SweepService
func NewSweepService(ledger *LedgerService, sweepSpec string, logger *logrus.Logger) *SweepService {
	// Seconds precision: stale holds should be failed within seconds of the
	// TTL elapsing, not minutes.
	c := cron.New(cron.WithSeconds())

	return &SweepService{
		cron:      c,
		ledger:    ledger,
		sweepSpec: sweepSpec,
		logger:    logger,
	}
}

// Start schedules the sweep and starts the scheduler.
func (s *SweepService) Start() error {
	s.logger.Info("Starting sweep service...")

	// Cron format: second minute hour day month weekday
	_, err := s.cron.AddFunc(s.sweepSpec, s.expireStaleHoldsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule hold-expiration job: %w", err)
	}
	s.logger.WithField("spec", s.sweepSpec).Info("Scheduled: expire stale booking holds")

	s.cron.Start()
	s.logger.Info("Sweep service started")

	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SweepService) Stop() {
	s.logger.Info("Stopping sweep service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Sweep service stopped")
}

func (s *SweepService) expireStaleHoldsJob() {
	startTime := time.Now()

	expired, err := s.ledger.ExpireStaleHolds(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("Hold-expiration sweep failed")
		return
	}

	if expired > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired":  expired,
			"duration": time.Since(startTime),
		}).Info("Expired stale booking holds")
	}
}

// RunNow triggers the sweep immediately, outside the schedule.
func (s *SweepService) RunNow() {
	s.logger.Info("Running hold-expiration sweep now...")
	s.expireStaleHoldsJob()
}

// GetJobStatus returns the status of scheduled jobs for operator tooling.
func (s *SweepService) GetJobStatus() map[string]interface{} {
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
