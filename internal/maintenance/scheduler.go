package maintenance

import (
	"context"
	"errors"
	"log"
	"os"
	"time"
)

// Scheduler owns the background tickers for the maintenance run and
// the stale-stream sweep. Run blocks until the context is cancelled.
type Scheduler struct {
	runner     *Runner
	reconciler *Reconciler

	maintenanceInterval time.Duration
	sweepInterval       time.Duration
	logger              *log.Logger
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Runner     *Runner
	Reconciler *Reconciler

	MaintenanceInterval time.Duration // Default: 24h
	SweepInterval       time.Duration // Default: 1m
	Logger              *log.Logger
}

// NewScheduler creates a scheduler with defaulted intervals.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	maintenanceInterval := opts.MaintenanceInterval
	if maintenanceInterval == 0 {
		maintenanceInterval = 24 * time.Hour
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[scheduler] ", log.LstdFlags|log.Lshortfile)
	}
	return &Scheduler{
		runner:              opts.Runner,
		reconciler:          opts.Reconciler,
		maintenanceInterval: maintenanceInterval,
		sweepInterval:       sweepInterval,
		logger:              logger,
	}
}

// Run starts the periodic passes and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	maintenanceTicker := time.NewTicker(s.maintenanceInterval)
	defer maintenanceTicker.Stop()

	sweepTicker := time.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()

	s.logger.Printf("scheduler started, maintenance every %v, sweep every %v",
		s.maintenanceInterval, s.sweepInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("scheduler stopping...")
			return ctx.Err()

		case <-maintenanceTicker.C:
			if _, err := s.runner.Run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				s.logger.Printf("maintenance run failed: %v", err)
			}

		case <-sweepTicker.C:
			if _, err := s.reconciler.Sweep(ctx); err != nil {
				s.logger.Printf("stale sweep failed: %v", err)
			}
		}
	}
}
