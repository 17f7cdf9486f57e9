package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func exportingProvider(t *testing.T) (*sdklog.LoggerProvider, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	exporter, err := stdoutlog.New(stdoutlog.WithWriter(&buf))
	require.NoError(t, err)
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })
	return lp, &buf
}

func TestOTelHandler_ExportsAtLevel(t *testing.T) {
	lp, buf := exportingProvider(t)
	logger := slog.New(NewOTelHandler("railsim", "info", lp))

	logger.Debug("classifier detail")
	logger.Info("vessel put on rails", "vessel", "lander")
	require.NoError(t, lp.ForceFlush(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "vessel put on rails")
	assert.Contains(t, out, "lander")
	assert.NotContains(t, out, "classifier detail")
}

func TestOTelHandler_ThroughSetup(t *testing.T) {
	lp, buf := exportingProvider(t)
	var file bytes.Buffer
	m := NewSlogManager(func() []slog.Attr { return []slog.Attr{slog.Uint64("tick", 12)} })
	m.Setup(&file, "info", "text", NewOTelHandler("railsim", "info", lp))

	m.Logger().With("stage", "physics").Warn("physics step slow")
	require.NoError(t, lp.ForceFlush(context.Background()))

	assert.Contains(t, file.String(), "physics step slow")
	out := buf.String()
	assert.Contains(t, out, "physics step slow")
	assert.Contains(t, out, `"tick"`)
	assert.Contains(t, out, `"stage"`)
}

func TestOTelHandler_NilProvider(t *testing.T) {
	assert.Nil(t, NewOTelHandler("railsim", "info", nil))
}
