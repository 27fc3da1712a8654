package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"ListingMonitor/internal/config"
	"ListingMonitor/internal/domain"
	"ListingMonitor/internal/ports"
	"ListingMonitor/pkg/backoff"
)

const missingValue = "N/A"

var errNoRetryAfter = errors.New("rate limited without retry_after")

// Notifier posts one embed per new listing to a Discord webhook.
type Notifier struct {
	webhookURL     string
	username       string
	avatarURL      string
	appName        string
	version        string
	retryAfterUnit time.Duration

	client  *http.Client
	sleep   backoff.SleepFunc
	now     func() time.Time
	printer *message.Printer
	logger  *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// Option customises a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) { n.client = client }
}

// WithSleep replaces the rate-limit wait.
func WithSleep(sleep backoff.SleepFunc) Option {
	return func(n *Notifier) { n.sleep = sleep }
}

// WithClock replaces the footer clock.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

// NewNotifier builds a webhook notifier from configuration.
func NewNotifier(cfg config.DiscordConfig, opts ...Option) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	unit := cfg.RetryAfterUnit
	if unit <= 0 {
		unit = time.Millisecond
	}

	n := &Notifier{
		webhookURL:     cfg.WebhookURL,
		username:       cfg.Username,
		avatarURL:      cfg.AvatarURL,
		appName:        cfg.AppName,
		version:        cfg.Version,
		retryAfterUnit: unit,
		client:         &http.Client{Timeout: timeout},
		sleep:          backoff.Sleep,
		now:            time.Now,
		printer:        message.NewPrinter(language.English),
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type webhookPayload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds"`
}

type embed struct {
	Title     string      `json:"title"`
	URL       string      `json:"url"`
	Fields    []field     `json:"fields"`
	Thumbnail *embedImage `json:"thumbnail,omitempty"`
	Footer    embedFooter `json:"footer"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// Notify delivers the listing. Rate-limited responses are retried after the
// server-provided delay until a non-rate-limited answer arrives.
func (n *Notifier) Notify(ctx context.Context, listing domain.Listing) error {
	if n.webhookURL == "" || n.client == nil {
		return fmt.Errorf("discord notifier misconfigured")
	}

	body, err := json.Marshal(n.buildPayload(listing))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	for {
		wait, err := n.post(ctx, body)
		if err != nil {
			return fmt.Errorf("notify listing %d: %w", listing.ExternalID, err)
		}
		if wait == 0 {
			return nil
		}

		n.logger.Info("webhook rate limited, waiting",
			"external_id", listing.ExternalID, "retry_after", wait)
		if err := n.sleep(ctx, wait); err != nil {
			return fmt.Errorf("notify listing %d: %w", listing.ExternalID, err)
		}
	}
}

// post sends body once and returns a positive wait when the webhook is rate limited.
func (n *Notifier) post(ctx context.Context, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait, err := n.retryAfter(payload, resp.Header.Get("Retry-After"))
		if err != nil {
			return 0, err
		}
		return wait, nil
	case resp.StatusCode >= http.StatusBadRequest:
		return 0, fmt.Errorf("discord error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	return 0, nil
}

func (n *Notifier) retryAfter(payload []byte, header string) (time.Duration, error) {
	var body rateLimitBody
	if err := json.Unmarshal(payload, &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(n.retryAfterUnit)), nil
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, errNoRetryAfter
}

func (n *Notifier) buildPayload(listing domain.Listing) webhookPayload {
	e := embed{
		Title: listing.Title,
		URL:   listing.URL,
		Fields: []field{
			{Name: "Price", Value: n.formatPrice(listing.Price), Inline: true},
			{Name: "City", Value: valueOrMissing(listing.City), Inline: true},
		},
		Footer: embedFooter{Text: n.footer()},
	}
	if thumb := listing.Thumbnail(); thumb != "" {
		e.Thumbnail = &embedImage{URL: thumb}
	}

	return webhookPayload{
		Username:  n.username,
		AvatarURL: n.avatarURL,
		Embeds:    []embed{e},
	}
}

func (n *Notifier) formatPrice(price *float64) string {
	if price == nil {
		return missingValue
	}
	return "$" + n.printer.Sprint(number.Decimal(*price, number.MaxFractionDigits(2)))
}

func (n *Notifier) footer() string {
	return fmt.Sprintf("%s v%s | [%s]", n.appName, n.version, n.now().Format(time.RFC3339))
}

func valueOrMissing(v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return missingValue
	}
	return *v
}
