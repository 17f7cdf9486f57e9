package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcsp/railsim/internal/config"
	"github.com/hcsp/railsim/internal/telemetry"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestSetupSinks_MemoryOnly(t *testing.T) {
	set := setupSinks(context.Background(), sinkConfig{}, nil, zerolog.Nop(), discard())
	defer set.Close()

	require.NoError(t, set.Sink.Record(context.Background(), telemetry.Sample{Tick: 1}))
	assert.Equal(t, uint64(1), set.Memory.Recorded())
	assert.Len(t, set.Sink, 1)
}

func TestSetupSinks_UnreachableBackendsFallBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	set := setupSinks(ctx, sinkConfig{
		Influx: config.InfluxConfig{
			Enabled: true,
			URL:     "http://127.0.0.1:1",
			Org:     "railsim",
			Bucket:  "railsim",
		},
		Stream: config.StreamConfig{Enabled: true, URL: "ws://127.0.0.1:1/stream"},
	}, nil, zerolog.Nop(), discard())
	defer set.Close()

	assert.Len(t, set.Sink, 1)
}

func TestSetupSinks_PrometheusEndpoint(t *testing.T) {
	set := setupSinks(context.Background(), sinkConfig{
		Prometheus: config.PrometheusConfig{Enabled: true, Address: "127.0.0.1:0"},
	}, nil, zerolog.Nop(), discard())
	require.Len(t, set.Sink, 2)
	require.NotNil(t, set.metrics)

	require.NoError(t, set.Sink.Record(context.Background(), telemetry.Sample{Tick: 12}))

	resp, err := http.Get("http://" + set.metrics.Addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "railsim_tick 12")

	require.NoError(t, set.Close())
	_, err = http.Get("http://" + set.metrics.Addr + "/metrics")
	assert.Error(t, err)
}

func TestPrometheusSink_AddressInUse(t *testing.T) {
	srv, _, err := prometheusSink("127.0.0.1:0", discard())
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	_, _, err = prometheusSink(srv.Addr, discard())
	assert.Error(t, err)
}
