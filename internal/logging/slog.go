package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// stdout is where console output goes when no log file is configured.
var stdout io.Writer = os.Stdout

// SlogManager manages slog-based logging.
type SlogManager struct {
	logger *slog.Logger
	attrs  AttrProvider
}

// NewSlogManager creates a new slog-based logging manager. A non-nil
// provider stamps every record with its attributes, e.g. the current tick.
func NewSlogManager(provider AttrProvider) *SlogManager {
	return &SlogManager{attrs: provider}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

// Setup initializes the logging system. Records go to file when it is set,
// otherwise to stdout. format selects "json" or text output; extra handlers
// receive every record too.
func (m *SlogManager) Setup(file io.Writer, level, format string, extra ...slog.Handler) {
	opts := handlerOptions(parseLevel(level))

	out := stdout
	if file != nil {
		out = file
	}

	var primary slog.Handler
	if strings.EqualFold(format, "json") {
		primary = slog.NewJSONHandler(out, opts)
	} else {
		primary = slog.NewTextHandler(out, opts)
	}

	var h slog.Handler = NewFanoutHandler(append([]slog.Handler{primary}, extra...)...)
	if m.attrs != nil {
		h = NewAttrHandler(h, m.attrs)
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", level, "format", format)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// WriteLog writes a log entry for a named source at the given level.
func (m *SlogManager) WriteLog(source, data, level string) {
	if m.logger == nil {
		return
	}
	m.logger.Log(context.Background(), parseLevel(level), data, "source", source)
}
