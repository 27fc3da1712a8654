package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ListingMonitor/internal/domain"
)

type captureDriver struct {
	job     func(time.Time)
	stopped bool
}

func (d *captureDriver) Start(_ context.Context, job func(time.Time)) error {
	d.job = job
	return nil
}

func (d *captureDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

type slowCycle struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	runs    atomic.Int32
	err     error
}

func (c *slowCycle) Run(context.Context, []domain.Area, []string) (domain.CycleStats, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	c.runs.Add(1)
	return domain.CycleStats{Areas: 1, Inserted: 2}, c.err
}

func TestSchedulerRunsNeverOverlap(t *testing.T) {
	t.Parallel()

	cycle := &slowCycle{}
	driver := &captureDriver{}
	s := NewScheduler(driver, cycle, []domain.Area{{Name: "A"}}, []string{"bike"}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if driver.job == nil {
		t.Fatalf("job was not registered with the driver")
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			driver.job(time.Now())
		}()
		go func() {
			defer wg.Done()
			_, _ = s.RunOnce(context.Background())
		}()
	}
	wg.Wait()

	if got := cycle.maxSeen.Load(); got != 1 {
		t.Fatalf("expected at most one concurrent cycle, saw %d", got)
	}
	if got := cycle.runs.Load(); got != 10 {
		t.Fatalf("expected every trigger to run eventually, got %d", got)
	}

	job := s.Job()
	if job.Running || job.Runs != 10 || job.LastStats.Inserted != 2 || job.LastRun.IsZero() {
		t.Fatalf("unexpected job snapshot: %+v", job)
	}

	if err := s.Stop(context.Background()); err != nil || !driver.stopped {
		t.Fatalf("Stop: %v, stopped=%v", err, driver.stopped)
	}
}

func TestSchedulerRecordsCycleError(t *testing.T) {
	t.Parallel()

	cycle := &slowCycle{err: context.Canceled}
	s := NewScheduler(nil, cycle, nil, nil, nil)

	if _, err := s.RunOnce(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job := s.Job(); !errors.Is(job.LastErr, context.Canceled) || job.Runs != 1 {
		t.Fatalf("unexpected job snapshot: %+v", job)
	}

	// without a driver Start and Stop are no-ops
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
