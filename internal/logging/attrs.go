package logging

import (
	"context"
	"log/slog"
)

// AttrProvider returns attributes evaluated at the time a record is handled.
type AttrProvider func() []slog.Attr

// AttrHandler appends provider attributes to every record before passing it
// on.
type AttrHandler struct {
	inner    slog.Handler
	provider AttrProvider
}

func NewAttrHandler(inner slog.Handler, provider AttrProvider) *AttrHandler {
	return &AttrHandler{inner: inner, provider: provider}
}

func (h *AttrHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AttrHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *AttrHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AttrHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *AttrHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &AttrHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}
