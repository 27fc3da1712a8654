package app

import (
	"context"
	"errors"
	"testing"

	"ListingMonitor/internal/config"
)

func TestNewRequiresWebhook(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	if _, err := New(context.Background(), cfg, nil); !errors.Is(err, ErrWebhookMissing) {
		t.Fatalf("expected ErrWebhookMissing, got %v", err)
	}
}

func TestAreasKeepOrder(t *testing.T) {
	t.Parallel()

	got := areas([]config.AreaConfig{
		{Name: "SF Bay Area", URL: "https://sfbay.craigslist.org/search/sss"},
		{Name: "Seattle", URL: "https://seattle.craigslist.org/search/sss"},
	})
	if len(got) != 2 || got[0].Name != "SF Bay Area" || got[1].URL != "https://seattle.craigslist.org/search/sss" {
		t.Fatalf("unexpected areas: %+v", got)
	}
}
