package web

import (
	"context"
	"log/slog"
	"strings"
)

// LogHandler forwards records to next and copies them to the dashboard log
// feed.
type LogHandler struct {
	next  slog.Handler
	sink  *Server
	level slog.Level
	attrs []slog.Attr
}

// NewLogHandler wraps next. Records at or above level reach the dashboard.
func NewLogHandler(next slog.Handler, sink *Server, level slog.Level) *LogHandler {
	return &LogHandler{next: next, sink: sink, level: level}
}

func (h *LogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l) || l >= h.level
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		h.sink.AddLog(r.Level.String(), format(r, h.attrs))
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		next:  h.next.WithAttrs(attrs),
		sink:  h.sink,
		level: h.level,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
	}
}

// Groups only affect the wrapped handler; the dashboard line stays flat.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{next: h.next.WithGroup(name), sink: h.sink, level: h.level, attrs: h.attrs}
}

func format(r slog.Record, attrs []slog.Attr) string {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	}
	for _, a := range attrs {
		write(a)
	}
	r.Attrs(write)
	return b.String()
}
