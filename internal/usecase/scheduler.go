package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ListingMonitor/internal/domain"
	"ListingMonitor/internal/ports"
)

// CycleRunner executes one ingestion cycle.
type CycleRunner interface {
	Run(ctx context.Context, areas []domain.Area, keywords []string) (domain.CycleStats, error)
}

// Job describes the recurring ingestion job between and during runs.
type Job struct {
	Running      bool
	Runs         int
	LastRun      time.Time
	LastDuration time.Duration
	LastStats    domain.CycleStats
	LastErr      error
}

// Scheduler wires the cron-like driver with the ingestion cycle and
// guarantees that two cycles never overlap.
type Scheduler struct {
	driver   ports.Scheduler
	cycle    CycleRunner
	areas    []domain.Area
	keywords []string
	logger   *slog.Logger

	runMu   sync.Mutex
	stateMu sync.Mutex
	job     Job
}

// NewScheduler returns a helper to start/stop recurring cycles.
func NewScheduler(driver ports.Scheduler, cycle CycleRunner, areas []domain.Area, keywords []string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		driver:   driver,
		cycle:    cycle,
		areas:    areas,
		keywords: keywords,
		logger:   logger,
	}
}

// Start registers the cycle with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.cycle == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Info("scheduled cycle starting", "trigger", trigger.Format(time.RFC3339))
		_, _ = s.RunOnce(ctx)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

// RunOnce runs a single cycle, waiting for any in-flight cycle to finish first.
func (s *Scheduler) RunOnce(ctx context.Context) (domain.CycleStats, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := time.Now()
	s.stateMu.Lock()
	s.job.Running = true
	s.stateMu.Unlock()

	stats, err := s.cycle.Run(ctx, s.areas, s.keywords)

	s.stateMu.Lock()
	s.job.Running = false
	s.job.Runs++
	s.job.LastRun = started
	s.job.LastDuration = time.Since(started)
	s.job.LastStats = stats
	s.job.LastErr = err
	snapshot := s.job
	s.stateMu.Unlock()

	if err != nil {
		s.logger.Error("cycle interrupted", "error", err, "runs", snapshot.Runs)
	} else {
		s.logger.Info("cycle complete",
			"last_execution", snapshot.LastRun.Format(time.RFC3339),
			"duration", snapshot.LastDuration.Round(time.Millisecond),
			"runs", snapshot.Runs)
	}

	return stats, err
}

// Job returns a snapshot of the job descriptor.
func (s *Scheduler) Job() Job {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.job
}
