package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"ListingMonitor/internal/config"
	"ListingMonitor/internal/domain"
	"ListingMonitor/internal/ports"
)

const exchangeType = "topic"

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher emits a "listing created" event per stored listing.
type Publisher struct {
	conn       *amqp.Connection
	ch         channel
	exchange   string
	routingKey string
	newID      func() string
}

var _ ports.ListingPublisher = (*Publisher)(nil)

// ListingEvent is the JSON body of a published message.
type ListingEvent struct {
	ExternalID int64     `json:"external_id"`
	Title      string    `json:"title"`
	Price      *float64  `json:"price"`
	City       *string   `json:"city"`
	Images     []string  `json:"images"`
	URL        string    `json:"url"`
	PostedAt   time.Time `json:"posted_at"`
	IngestedAt time.Time `json:"ingested_at"`
	Area       string    `json:"area"`
	Keyword    string    `json:"keyword"`
}

// Dial connects to RabbitMQ and declares the durable exchange.
func Dial(cfg config.BrokerConfig) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	p := newPublisher(ch, cfg.Exchange, cfg.RoutingKey)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange, routingKey string) *Publisher {
	return &Publisher{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		newID:      func() string { return uuid.NewString() },
	}
}

// Publish sends the listing as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, listing domain.Listing) error {
	body, err := json.Marshal(toEvent(listing))
	if err != nil {
		return fmt.Errorf("marshal listing event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    p.newID(),
		Timestamp:    time.Now().UTC(),
		Type:         p.routingKey,
		Body:         body,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish listing %d: %w", listing.ExternalID, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}

func toEvent(l domain.Listing) ListingEvent {
	return ListingEvent{
		ExternalID: l.ExternalID,
		Title:      l.Title,
		Price:      l.Price,
		City:       l.City,
		Images:     l.Images,
		URL:        l.URL,
		PostedAt:   l.PostedAt,
		IngestedAt: l.IngestedAt,
		Area:       l.Area,
		Keyword:    l.Keyword,
	}
}
