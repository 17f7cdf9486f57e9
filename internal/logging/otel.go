package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// NewOTelHandler bridges records at level and above into provider under the
// instrumentation scope name. It returns nil when provider is nil, which
// Setup skips.
func NewOTelHandler(name, level string, provider *sdklog.LoggerProvider) slog.Handler {
	if provider == nil {
		return nil
	}
	return &levelHandler{
		Handler: otelslog.NewHandler(name, otelslog.WithLoggerProvider(provider)),
		level:   parseLevel(level),
	}
}

// levelHandler holds the wrapped handler to a minimum level; the bridge
// itself accepts everything the provider does.
type levelHandler struct {
	slog.Handler
	level slog.Level
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}
