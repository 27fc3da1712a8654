package craigslist

import (
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ListingMonitor/internal/domain"
	"ListingMonitor/internal/ports"
)

const (
	// ImageURLTemplate expands the part of a gallery id after its first colon.
	ImageURLTemplate = "https://images.craigslist.org/%s_300x300.jpg"
	// PlaceholderImage is used when a listing has no gallery ids.
	PlaceholderImage = "https://cdn.browshot.com/static/images/not-found.png"

	rowSelector     = "ul.rows li.result-row"
	titleSelector   = "a.result-title.hdrlnk"
	priceSelector   = "span.result-price"
	nearbySelector  = "span.nearby"
	hoodSelector    = "span.result-hood"
	gallerySelector = ".result-image"
	dateSelector    = "time.result-date"
)

// Zone-less layouts parse as UTC so the wall clock reported by the source is kept.
var postedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Parser extracts listings from a search results page.
type Parser struct {
	imageTemplate string
	placeholder   string
}

var _ ports.ListingParser = (*Parser)(nil)

// NewParser returns a parser using the default image template and placeholder.
func NewParser() *Parser {
	return &Parser{imageTemplate: ImageURLTemplate, placeholder: PlaceholderImage}
}

// Parse yields one listing per result row in document order. A row that
// cannot be converted is yielded with an error wrapping domain.ErrInvalidListing
// and iteration continues with the next row.
func (p *Parser) Parse(markup string) iter.Seq2[domain.Listing, error] {
	return func(yield func(domain.Listing, error) bool) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
		if err != nil {
			yield(domain.Listing{}, fmt.Errorf("parse document: %w", err))
			return
		}

		rows := doc.Find(rowSelector)
		for i := range rows.Nodes {
			listing, err := p.parseRow(rows.Eq(i))
			if !yield(listing, err) {
				return
			}
		}
	}
}

func (p *Parser) parseRow(row *goquery.Selection) (domain.Listing, error) {
	rawID, _ := row.Attr("data-pid")
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("%w: data-pid %q: %v", domain.ErrInvalidListing, rawID, err)
	}

	title := strings.TrimSpace(row.Find(titleSelector).Text())
	if title == "" {
		return domain.Listing{}, fmt.Errorf("%w: listing %d has no title", domain.ErrInvalidListing, id)
	}

	gallery := row.Find(gallerySelector).First()
	link, _ := gallery.Attr("href")
	link = strings.TrimSpace(link)
	if link == "" {
		link, _ = row.Find(titleSelector).Attr("href")
		link = strings.TrimSpace(link)
	}
	if link == "" {
		return domain.Listing{}, fmt.Errorf("%w: listing %d has no url", domain.ErrInvalidListing, id)
	}

	rawDate, _ := row.Find(dateSelector).First().Attr("datetime")
	postedAt, err := parsePostedAt(rawDate)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("%w: listing %d: %v", domain.ErrInvalidListing, id, err)
	}

	return domain.Listing{
		ExternalID: id,
		Title:      title,
		Price:      parsePrice(row.Find(priceSelector).First().Text()),
		City:       firstNonEmpty(row.Find(nearbySelector).Text(), row.Find(hoodSelector).Text()),
		Images:     p.images(gallery),
		URL:        link,
		PostedAt:   postedAt,
	}, nil
}

func (p *Parser) images(gallery *goquery.Selection) []string {
	ids, ok := gallery.Attr("data-ids")
	if !ok || strings.TrimSpace(ids) == "" {
		return []string{p.placeholder}
	}

	parts := strings.Split(ids, ",")
	images := make([]string, 0, len(parts))
	for _, part := range parts {
		_, key, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found || key == "" {
			continue
		}
		images = append(images, fmt.Sprintf(p.imageTemplate, key))
	}
	if len(images) == 0 {
		return []string{p.placeholder}
	}
	return images
}

// parsePrice reads the number after the leading currency symbol; nil when absent.
func parsePrice(text string) *float64 {
	_, amount, found := strings.Cut(strings.TrimSpace(text), "$")
	if !found {
		return nil
	}
	amount = strings.ReplaceAll(strings.TrimSpace(amount), ",", "")
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil || value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

func parsePostedAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing datetime")
	}
	for _, layout := range postedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", raw)
}

func firstNonEmpty(values ...string) *string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return &v
		}
	}
	return nil
}
