package craigslist

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ListingMonitor/internal/config"
	"ListingMonitor/internal/ports"
	"ListingMonitor/pkg/backoff"
)

const maxPageSize = 8 << 20

// Fetcher downloads search result pages, retrying until the source answers.
type Fetcher struct {
	client    *http.Client
	policy    backoff.Policy
	userAgent string
	logger    *slog.Logger
}

var _ ports.PageFetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client and retry policy; a nil client gets a 30s timeout.
func NewFetcher(client *http.Client, policy backoff.Policy, userAgent string, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{client: client, policy: policy, userAgent: userAgent, logger: logger}
}

// NewHTTPClient builds the outbound client with optional proxy and relaxed TLS.
func NewHTTPClient(cfg config.FetcherConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %s: %w", cfg.ProxyURL, err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// Fetch returns the raw markup of the search page for keyword within the area.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL, keyword string) (string, error) {
	pageURL, err := buildSearchURL(sourceURL, keyword)
	if err != nil {
		return "", err
	}

	var markup string
	err = f.policy.Do(ctx, func(ctx context.Context) error {
		body, err := f.get(ctx, pageURL)
		if err != nil {
			return err
		}
		markup = body
		return nil
	}, func(attempt int, delay time.Duration, err error) {
		f.logger.Warn("fetch failed, retrying",
			"url", pageURL, "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	return markup, nil
}

func (f *Fetcher) get(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	setBrowserHeaders(req, f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("source returned %s", resp.Status)
	}

	return string(body), nil
}

// Accept-Encoding is left to the transport so gzip bodies are decoded transparently.
func setBrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,"+
		"image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
}

func buildSearchURL(base, keyword string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid area url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("query", keyword)
	query.Set("srchType", "T")
	query.Set("bundleDuplicates", "1")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
