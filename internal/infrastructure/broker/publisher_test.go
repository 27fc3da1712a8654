package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ListingMonitor/internal/domain"
)

type fakeChannel struct {
	exchange string
	key      string
	msgs     []amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange, f.key = exchange, key
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishListingEvent(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p := newPublisher(ch, "listings", "listing.created")
	p.newID = func() string { return "fixed-id" }

	price := 250.0
	listing := domain.Listing{
		ExternalID: 111,
		Title:      "Item A",
		Price:      &price,
		Images:     []string{"https://cdn.browshot.com/static/images/not-found.png"},
		URL:        "https://sfbay.craigslist.org/sby/bik/d/item-a/111.html",
		PostedAt:   time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Area:       "SF Bay Area",
		Keyword:    "bike",
	}

	if err := p.Publish(context.Background(), listing); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if ch.exchange != "listings" || ch.key != "listing.created" {
		t.Fatalf("unexpected routing: %s/%s", ch.exchange, ch.key)
	}
	msg := ch.msgs[0]
	if msg.MessageId != "fixed-id" || msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Fatalf("unexpected message properties: %+v", msg)
	}

	var event ListingEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.ExternalID != 111 || event.Price == nil || *event.Price != 250 || event.City != nil {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Keyword != "bike" || event.Area != "SF Bay Area" {
		t.Fatalf("unexpected provenance: %+v", event)
	}
}

func TestPublishError(t *testing.T) {
	t.Parallel()

	cause := errors.New("channel closed")
	p := newPublisher(&fakeChannel{err: cause}, "listings", "listing.created")

	if err := p.Publish(context.Background(), domain.Listing{ExternalID: 1}); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p := newPublisher(ch, "listings", "listing.created")
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ch.closed {
		t.Fatalf("channel not closed")
	}
}
