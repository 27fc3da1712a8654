package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ListingMonitor/internal/domain"
	"ListingMonitor/internal/ports"
)

// CycleDeps wires all driven adapters into the ingestion cycle.
type CycleDeps struct {
	Fetcher    ports.PageFetcher
	Parser     ports.ListingParser
	Repository ports.ListingRepository
	Notifier   ports.Notifier
	Publisher  ports.ListingPublisher
	Sleeper    ports.Sleeper
	Logger     *slog.Logger

	AreaPauseMin time.Duration
	AreaPauseMax time.Duration
}

// Cycle performs one sequential pass over every area and keyword.
type Cycle struct {
	fetcher    ports.PageFetcher
	parser     ports.ListingParser
	repository ports.ListingRepository
	notifier   ports.Notifier
	publisher  ports.ListingPublisher
	sleeper    ports.Sleeper
	logger     *slog.Logger

	pauseMin time.Duration
	pauseMax time.Duration
}

// NewCycle constructs the ingestion cycle.
func NewCycle(deps CycleDeps) *Cycle {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cycle{
		fetcher:    deps.Fetcher,
		parser:     deps.Parser,
		repository: deps.Repository,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		sleeper:    deps.Sleeper,
		logger:     logger,
		pauseMin:   deps.AreaPauseMin,
		pauseMax:   deps.AreaPauseMax,
	}
}

// Run fetches, deduplicates, stores and notifies listings for every area and
// keyword, strictly one at a time. Only context cancellation ends a run early.
func (c *Cycle) Run(ctx context.Context, areas []domain.Area, keywords []string) (domain.CycleStats, error) {
	var stats domain.CycleStats
	logger := c.logger.With("run_id", uuid.NewString())
	started := time.Now()

	logger.Info("cycle started", "areas", len(areas), "keywords", len(keywords))

	for i, area := range areas {
		stats.Areas++
		logger.Info("scraping area", "area", area.Name)

		for _, keyword := range keywords {
			if err := c.processKeyword(ctx, logger, area, keyword, &stats); err != nil {
				return stats, err
			}
		}

		if i < len(areas)-1 && c.sleeper != nil {
			logger.Debug("pausing before next area", "min", c.pauseMin, "max", c.pauseMax)
			if err := c.sleeper.SleepBetween(ctx, c.pauseMin, c.pauseMax); err != nil {
				return stats, err
			}
		}
	}

	logger.Info("cycle finished",
		"duration", time.Since(started).Round(time.Millisecond),
		"fetched", stats.Fetched,
		"parsed", stats.Parsed,
		"invalid", stats.Invalid,
		"existing", stats.Existing,
		"inserted", stats.Inserted,
		"insert_failed", stats.InsertFailed,
		"notified", stats.Notified,
		"notify_failed", stats.NotifyFailed,
	)
	return stats, nil
}

func (c *Cycle) processKeyword(ctx context.Context, logger *slog.Logger, area domain.Area, keyword string, stats *domain.CycleStats) error {
	logger = logger.With("area", area.Name, "keyword", keyword)

	markup, err := c.fetcher.Fetch(ctx, area.URL, keyword)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		stats.FetchFailed++
		logger.Error("fetch gave up", "error", err)
		return nil
	}
	stats.Fetched++

	for listing, err := range c.parser.Parse(markup) {
		if err != nil {
			stats.Invalid++
			logger.Warn("skipping listing fragment", "error", err)
			continue
		}
		stats.Parsed++

		listing.Area = area.Name
		listing.Keyword = keyword
		if err := c.ingest(ctx, logger, listing, stats); err != nil {
			return err
		}
	}

	return nil
}

// ingest routes one listing through dedup, store and notify.
func (c *Cycle) ingest(ctx context.Context, logger *slog.Logger, listing domain.Listing, stats *domain.CycleStats) error {
	logger = logger.With("external_id", listing.ExternalID)

	exists, err := c.repository.Exists(ctx, listing.ExternalID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		stats.LookupFailed++
		logger.Error("lookup failed", "error", err)
		return nil
	}
	if exists {
		stats.Existing++
		logger.Debug("listing already exists")
		return nil
	}

	logger.Info("new listing", "title", listing.Title)
	stored, err := c.repository.Insert(ctx, listing)
	switch {
	case errors.Is(err, domain.ErrListingExists):
		stats.Existing++
		logger.Info("listing stored concurrently, skipping notification")
		return nil
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		stats.InsertFailed++
		logger.Error("insert failed", "error", err, "listing", listing)
		return nil
	}
	stats.Inserted++

	if c.notifier != nil {
		if err := c.notifier.Notify(ctx, stored); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			stats.NotifyFailed++
			logger.Error("notify failed", "error", err)
		} else {
			stats.Notified++
		}
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, stored); err != nil {
			logger.Warn("publish failed", "error", err)
		}
	}

	return nil
}
