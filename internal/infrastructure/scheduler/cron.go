package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ListingMonitor/internal/ports"
)

// ErrAlreadyStarted is returned when Start is called twice without Stop.
var ErrAlreadyStarted = errors.New("scheduler already started")

// CronScheduler fires a job on a five-field cron expression evaluated in a
// fixed timezone. A trigger that arrives while the previous job is still
// running waits for it to finish.
type CronScheduler struct {
	spec   string
	loc    *time.Location
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
func NewCronScheduler(spec string, loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CronScheduler{spec: spec, loc: loc, logger: logger}
}

// Start validates the expression and begins firing job in the background.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return ErrAlreadyStarted
	}

	if _, err := cron.ParseStandard(c.spec); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", c.spec, err)
	}

	l := cronLogger{logger: c.logger}
	runner := cron.New(
		cron.WithLocation(c.loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.DelayIfStillRunning(l)),
	)

	id, err := runner.AddFunc(c.spec, func() {
		if ctx.Err() != nil {
			return
		}
		job(time.Now().In(c.loc))
	})
	if err != nil {
		return fmt.Errorf("register cron job: %w", err)
	}

	runner.Start()
	c.cron = runner
	c.entryID = id

	c.logger.Info("scheduler started",
		"cron", c.spec,
		"timezone", c.loc.String(),
		"next_run", runner.Entry(id).Next.Format(time.RFC3339))
	return nil
}

// Next reports the next planned trigger, zero when not started.
func (c *CronScheduler) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return time.Time{}
	}
	return c.cron.Entry(c.entryID).Next
}

// Stop prevents further triggers and waits for a running job or ctx.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	runner := c.cron
	c.cron = nil
	c.mu.Unlock()

	if runner == nil {
		return nil
	}

	done := runner.Stop()
	select {
	case <-done.Done():
		c.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running job: %w", ctx.Err())
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
