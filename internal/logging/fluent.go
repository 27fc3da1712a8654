package logging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Poster is the subset of *fluent.Fluent used for log shipping.
type Poster interface {
	Post(tag string, message interface{}) error
}

// FluentHandler forwards slog records to Fluent Bit, tagged by level.
type FluentHandler struct {
	poster Poster
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
}

var _ slog.Handler = (*FluentHandler)(nil)

// NewFluentHandler wraps a Fluent client as a slog handler.
func NewFluentHandler(poster Poster, level slog.Leveler) *FluentHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &FluentHandler{poster: poster, level: level}
}

func (h *FluentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *FluentHandler) Handle(_ context.Context, r slog.Record) error {
	data := make(map[string]interface{}, len(h.attrs)+r.NumAttrs()+3)
	for _, a := range h.attrs {
		addAttr(data, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(data, h.group, a)
		return true
	})

	level := strings.ToLower(r.Level.String())
	data["level"] = level
	data["message"] = r.Message
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	data["timestamp"] = ts.UTC().Format(time.RFC3339Nano)

	return h.poster.Post(level, data)
}

func (h *FluentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *FluentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return &next
}

func addAttr(data map[string]interface{}, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(data, key, ga)
		}
		return
	}
	if err, ok := a.Value.Any().(error); ok {
		data[key] = err.Error()
		return
	}
	data[key] = a.Value.Any()
}

// fanout duplicates every record to all enabled handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
