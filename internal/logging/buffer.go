// Package logging keeps a bounded in-memory window of recent log entries
// so the status API can expose them without touching disk.
package logging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Component string         `json:"component,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Buffer is a fixed-size ring of recent entries.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// NewBuffer creates a ring holding up to size entries.
func NewBuffer(size int) *Buffer {
	return &Buffer{entries: make([]Entry, size)}
}

// Add appends an entry, overwriting the oldest once full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// Recent returns up to n of the newest entries, oldest first.
func (b *Buffer) Recent(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	out := make([]Entry, n)
	start := (b.head - n + len(b.entries)) % len(b.entries)
	for i := 0; i < n; i++ {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}

// Handler is a slog.Handler that captures records into a Buffer and
// forwards them to an inner handler for normal output.
type Handler struct {
	buffer *Buffer
	inner  slog.Handler
	attrs  []slog.Attr
}

// NewHandler wraps inner with capture into buffer.
func NewHandler(buffer *Buffer, inner slog.Handler) *Handler {
	return &Handler{buffer: buffer, inner: inner}
}

// NewJSONHandler is a convenience for the common JSON-to-stdout case.
func NewJSONHandler(buffer *Buffer, w io.Writer, level slog.Level) *Handler {
	return NewHandler(buffer, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   make(map[string]any),
	}

	collect := func(a slog.Attr) {
		if a.Key == "component" {
			entry.Component = a.Value.String()
		} else {
			entry.Attrs[a.Key] = a.Value.Any()
		}
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})
	if len(entry.Attrs) == 0 {
		entry.Attrs = nil
	}

	h.buffer.Add(entry)
	return h.inner.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		buffer: h.buffer,
		inner:  h.inner.WithAttrs(attrs),
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		buffer: h.buffer,
		inner:  h.inner.WithGroup(name),
		attrs:  h.attrs,
	}
}
