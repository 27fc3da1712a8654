package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/lmittmann/tint"

	"ListingMonitor/internal/config"
)

// New creates a console slog.Logger with provided level string.
func New(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
	return slog.New(handler)
}

// NewFromConfig builds the process logger. The returned closer flushes
// and releases the Fluent connection when log shipping is enabled.
func NewFromConfig(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level := levelFromString(cfg.Level)
	console := consoleHandler(os.Stdout, cfg.Format, level)

	if !cfg.Fluent.Enabled {
		return slog.New(console), nopCloser{}, nil
	}

	client, err := fluent.New(fluent.Config{
		FluentHost: cfg.Fluent.Host,
		FluentPort: cfg.Fluent.Port,
		TagPrefix:  cfg.Fluent.TagPrefix,
		Async:      true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create fluent client: %w", err)
	}

	handler := fanout{console, NewFluentHandler(client, level)}
	return slog.New(handler), client, nil
}

func consoleHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "tint", "color":
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
