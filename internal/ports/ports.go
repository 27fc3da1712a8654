package ports

import (
	"context"
	"iter"
	"time"

	"ListingMonitor/internal/domain"
)

// PageFetcher downloads one search results page for an area and keyword.
type PageFetcher interface {
	Fetch(ctx context.Context, sourceURL, keyword string) (string, error)
}

// ListingParser turns raw search page markup into listings in document order.
// A fragment that cannot be parsed is yielded with a non-nil error.
type ListingParser interface {
	Parse(markup string) iter.Seq2[domain.Listing, error]
}

// ListingRepository is the durable store used for deduplication.
type ListingRepository interface {
	Exists(ctx context.Context, externalID int64) (bool, error)
	Insert(ctx context.Context, listing domain.Listing) (domain.Listing, error)
}

// Notifier delivers a message about a newly stored listing.
type Notifier interface {
	Notify(ctx context.Context, listing domain.Listing) error
}

// ListingPublisher fans new listings out to downstream consumers.
type ListingPublisher interface {
	Publish(ctx context.Context, listing domain.Listing) error
}

// Sleeper pauses between areas.
type Sleeper interface {
	SleepBetween(ctx context.Context, min, max time.Duration) error
}

// Scheduler controls when cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
