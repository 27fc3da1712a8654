package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ListingMonitor/internal/config"
	"ListingMonitor/internal/domain"
	"ListingMonitor/internal/infrastructure/broker"
	"ListingMonitor/internal/infrastructure/craigslist"
	"ListingMonitor/internal/infrastructure/discord"
	"ListingMonitor/internal/infrastructure/scheduler"
	"ListingMonitor/internal/infrastructure/storage"
	"ListingMonitor/internal/logging"
	"ListingMonitor/internal/ports"
	"ListingMonitor/internal/usecase"
	"ListingMonitor/pkg/backoff"
)

const shutdownTimeout = 30 * time.Second

// ErrWebhookMissing is returned when no notification target is configured.
var ErrWebhookMissing = errors.New("discord webhook url is not configured")

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	scheduler *usecase.Scheduler
	closers   []io.Closer
}

// New connects to the store, applies migrations and builds the scheduler.
// Any failure here is fatal for the process.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if cfg.Notifications.Discord.WebhookURL == "" {
		return nil, ErrWebhookMissing
	}

	a := &Application{cfg: cfg, logger: baseLogger}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)

	version, dirty, err := storage.RunMigrations(db)
	if err != nil {
		a.Close()
		return nil, err
	}
	baseLogger.Info("schema ready", "version", version, "dirty", dirty)

	client, err := craigslist.NewHTTPClient(cfg.Fetcher)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build http client: %w", err)
	}

	fetcher := craigslist.NewFetcher(client, backoff.Policy{
		MinDelay:    cfg.Fetcher.MinDelay,
		MaxDelay:    cfg.Fetcher.MaxDelay,
		MaxAttempts: cfg.Fetcher.MaxAttempts,
	}, cfg.Fetcher.UserAgent, baseLogger.With("component", "fetcher"))

	notifier := discord.NewNotifier(cfg.Notifications.Discord,
		discord.WithLogger(baseLogger.With("component", "notifier.discord")))

	publisher, err := a.publisher(cfg.Broker)
	if err != nil {
		a.Close()
		return nil, err
	}

	cycle := usecase.NewCycle(usecase.CycleDeps{
		Fetcher:      fetcher,
		Parser:       craigslist.NewParser(),
		Repository:   storage.NewPostgresRepository(db),
		Notifier:     notifier,
		Publisher:    publisher,
		Sleeper:      backoff.Pauser{},
		Logger:       baseLogger.With("component", "cycle"),
		AreaPauseMin: cfg.Cycle.AreaPauseMin,
		AreaPauseMax: cfg.Cycle.AreaPauseMax,
	})

	driver := scheduler.NewCronScheduler(
		cfg.Scheduler.CronExpression,
		cfg.Scheduler.Location(),
		baseLogger.With("component", "scheduler.cron"),
	)

	a.scheduler = usecase.NewScheduler(driver, cycle, areas(cfg.Areas), cfg.Keywords,
		baseLogger.With("component", "scheduler"))
	return a, nil
}

func (a *Application) publisher(cfg config.BrokerConfig) (ports.ListingPublisher, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	p, err := broker.Dial(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, p)
	a.logger.Info("publishing new listings", "exchange", cfg.Exchange, "routing_key", cfg.RoutingKey)
	return p, nil
}

func areas(cfgs []config.AreaConfig) []domain.Area {
	out := make([]domain.Area, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, domain.Area{Name: c.Name, URL: c.URL})
	}
	return out
}

// RunOnce performs a single cycle and returns.
func (a *Application) RunOnce(ctx context.Context) error {
	defer a.Close()

	stats, err := a.scheduler.RunOnce(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("single cycle finished", "inserted", stats.Inserted, "notified", stats.Notified)
	return nil
}

// Run starts the recurring schedule and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	defer a.Close()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if a.cfg.Scheduler.RunOnStart {
		go func() {
			_, _ = a.scheduler.RunOnce(ctx)
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.scheduler.Stop(stopCtx)
}

// Close releases the database connection and the broker channel.
func (a *Application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close resource", "error", err)
		}
	}
	a.closers = nil
}
