package domain

import (
	"errors"
	"time"
)

var (
	// ErrListingExists is returned when a listing with the same external ID is already stored.
	ErrListingExists = errors.New("listing already exists")
	// ErrInvalidListing marks a listing fragment that could not be converted into a record.
	ErrInvalidListing = errors.New("invalid listing fragment")
)

// Area is one listing source with its own base search URL.
type Area struct {
	Name string
	URL  string
}

// Listing is a classified ad extracted from a search results page.
type Listing struct {
	ExternalID int64
	Title      string
	// Price is nil when the source shows no parseable price.
	Price      *float64
	City       *string
	Images     []string
	URL        string
	PostedAt   time.Time
	IngestedAt time.Time
	Area       string
	Keyword    string
}

// HasPrice reports whether the source provided a numeric price.
func (l Listing) HasPrice() bool {
	return l.Price != nil
}

// Thumbnail returns the first image URL, or empty string when there are none.
func (l Listing) Thumbnail() string {
	if len(l.Images) == 0 {
		return ""
	}
	return l.Images[0]
}

// CycleStats counts what happened during one ingestion cycle.
type CycleStats struct {
	Areas        int
	Fetched      int
	FetchFailed  int
	Parsed       int
	Invalid      int
	Existing     int
	LookupFailed int
	Inserted     int
	InsertFailed int
	Notified     int
	NotifyFailed int
}
