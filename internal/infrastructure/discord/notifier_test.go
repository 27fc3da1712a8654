package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ListingMonitor/internal/config"
	"ListingMonitor/internal/domain"
)

type webhookRecorder struct {
	mu        sync.Mutex
	bodies    [][]byte
	responses []func(w http.ResponseWriter)
}

func (rec *webhookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	rec.mu.Lock()
	idx := len(rec.bodies)
	rec.bodies = append(rec.bodies, body)
	rec.mu.Unlock()

	if idx < len(rec.responses) {
		rec.responses[idx](w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func rateLimited(retryAfter string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You are being rate limited.","retry_after":` + retryAfter + `,"global":false}`))
	}
}

func testConfig(url string) config.DiscordConfig {
	return config.DiscordConfig{
		WebhookURL:     url,
		Username:       "Craigslist Monitor",
		AvatarURL:      "https://example.org/avatar.png",
		AppName:        "Craigslist",
		Version:        "1.2.3",
		RetryAfterUnit: time.Millisecond,
	}
}

func sampleListing() domain.Listing {
	price := 250.0
	return domain.Listing{
		ExternalID: 111,
		Title:      "Item A",
		Price:      &price,
		Images:     []string{"https://cdn.browshot.com/static/images/not-found.png"},
		URL:        "https://sfbay.craigslist.org/sby/bik/d/item-a/111.html",
	}
}

func TestNotifyPayloadShape(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	fixed := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	n := NewNotifier(testConfig(server.URL), WithHTTPClient(server.Client()), WithClock(func() time.Time { return fixed }))

	if err := n.Notify(context.Background(), sampleListing()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(rec.bodies) != 1 {
		t.Fatalf("expected 1 request, got %d", len(rec.bodies))
	}

	var payload webhookPayload
	if err := json.Unmarshal(rec.bodies[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Username != "Craigslist Monitor" || payload.AvatarURL != "https://example.org/avatar.png" {
		t.Fatalf("unexpected identity: %+v", payload)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(payload.Embeds))
	}

	e := payload.Embeds[0]
	if e.Title != "Item A" || e.URL != "https://sfbay.craigslist.org/sby/bik/d/item-a/111.html" {
		t.Fatalf("unexpected embed link: %+v", e)
	}
	if len(e.Fields) != 2 || e.Fields[0].Name != "Price" || e.Fields[0].Value != "$250" || !e.Fields[0].Inline {
		t.Fatalf("unexpected price field: %+v", e.Fields)
	}
	if e.Fields[1].Name != "City" || e.Fields[1].Value != missingValue {
		t.Fatalf("unexpected city field: %+v", e.Fields[1])
	}
	if e.Thumbnail == nil || e.Thumbnail.URL != "https://cdn.browshot.com/static/images/not-found.png" {
		t.Fatalf("unexpected thumbnail: %+v", e.Thumbnail)
	}
	if e.Footer.Text != "Craigslist v1.2.3 | [2024-01-01T12:00:00Z]" {
		t.Fatalf("unexpected footer: %q", e.Footer.Text)
	}
}

func TestNotifyWaitsRetryAfterAndResendsSameBody(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{responses: []func(http.ResponseWriter){rateLimited("2000")}}
	server := httptest.NewServer(rec)
	defer server.Close()

	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	n := NewNotifier(testConfig(server.URL), WithHTTPClient(server.Client()), WithSleep(sleep))

	if err := n.Notify(context.Background(), sampleListing()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(waits) != 1 || waits[0] < 2000*time.Millisecond {
		t.Fatalf("expected a wait of at least 2000ms, got %v", waits)
	}
	if len(rec.bodies) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(rec.bodies))
	}
	if !bytes.Equal(rec.bodies[0], rec.bodies[1]) {
		t.Fatalf("resent body differs:\n%s\n%s", rec.bodies[0], rec.bodies[1])
	}
}

func TestNotifyRealWaitElapses(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{responses: []func(http.ResponseWriter){rateLimited("30"), rateLimited("30")}}
	server := httptest.NewServer(rec)
	defer server.Close()

	n := NewNotifier(testConfig(server.URL), WithHTTPClient(server.Client()))

	start := time.Now()
	if err := n.Notify(context.Background(), sampleListing()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("expected to wait at least 60ms, waited %v", elapsed)
	}
	if len(rec.bodies) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(rec.bodies))
	}
}

func TestNotifyTransportFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{responses: []func(http.ResponseWriter){
		func(w http.ResponseWriter) { http.Error(w, `{"message":"Invalid Form Body"}`, http.StatusBadRequest) },
	}}
	server := httptest.NewServer(rec)
	defer server.Close()

	n := NewNotifier(testConfig(server.URL), WithHTTPClient(server.Client()))
	if err := n.Notify(context.Background(), sampleListing()); err == nil {
		t.Fatalf("expected error for bad request")
	}
	if len(rec.bodies) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(rec.bodies))
	}
}

func TestNotifyRetryAfterHeaderFallback(t *testing.T) {
	t.Parallel()

	rec := &webhookRecorder{responses: []func(http.ResponseWriter){
		func(w http.ResponseWriter) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		},
	}}
	server := httptest.NewServer(rec)
	defer server.Close()

	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	n := NewNotifier(testConfig(server.URL), WithHTTPClient(server.Client()), WithSleep(sleep))

	if err := n.Notify(context.Background(), sampleListing()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Fatalf("expected header-driven wait of 1s, got %v", waits)
	}
}

func TestFormatPrice(t *testing.T) {
	t.Parallel()

	n := NewNotifier(testConfig("http://unused"))
	cases := []struct {
		in   *float64
		want string
	}{
		{ptr(250), "$250"},
		{ptr(1250), "$1,250"},
		{ptr(19.99), "$19.99"},
		{nil, missingValue},
	}
	for _, tc := range cases {
		if got := n.formatPrice(tc.in); got != tc.want {
			t.Fatalf("formatPrice(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func ptr(v float64) *float64 { return &v }
