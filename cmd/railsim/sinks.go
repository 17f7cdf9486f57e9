package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/hcsp/railsim/internal/config"
	"github.com/hcsp/railsim/internal/telemetry"
)

type sinkConfig struct {
	Influx     config.InfluxConfig
	Prometheus config.PrometheusConfig
	Stream     config.StreamConfig
	TickRate   float64
	Epoch      time.Time
}

// sinkSet is the telemetry fan-out plus whatever it needs shut down.
type sinkSet struct {
	Memory  *telemetry.Memory
	Sink    telemetry.Multi
	metrics *http.Server
}

// Close closes every sink and stops the scrape endpoint.
func (s sinkSet) Close() error {
	err := s.Sink.Close()
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = errors.Join(err, s.metrics.Shutdown(ctx))
	}
	return err
}

// setupSinks builds the telemetry fan-out: an in-memory ring always, plus
// InfluxDB behind an async queue, a Prometheus scrape endpoint and a
// websocket stream when enabled. A sink that fails to come up is logged and
// skipped.
func setupSinks(ctx context.Context, cfg sinkConfig, mp metric.MeterProvider, zl zerolog.Logger, logger *slog.Logger) sinkSet {
	set := sinkSet{Memory: telemetry.NewMemory(0)}
	set.Sink = telemetry.Multi{set.Memory}

	if cfg.Influx.Enabled {
		if s, err := influxSink(ctx, cfg.Influx, mp, zl); err != nil {
			zl.Warn().Err(err).Msg("InfluxDB telemetry disabled")
		} else {
			set.Sink = append(set.Sink, s)
		}
	}

	if cfg.Prometheus.Enabled {
		if srv, s, err := prometheusSink(cfg.Prometheus.Address, logger); err != nil {
			logger.Warn("Prometheus telemetry disabled", "error", err)
		} else {
			set.metrics = srv
			set.Sink = append(set.Sink, s)
		}
	}

	if cfg.Stream.Enabled {
		s, err := telemetry.NewStream(telemetry.StreamConfig{
			URL:    cfg.Stream.URL,
			Secret: cfg.Stream.Secret,
			Session: telemetry.SessionPayload{
				Session:  cfg.Stream.Session,
				TickRate: cfg.TickRate,
				Epoch:    cfg.Epoch,
			},
		}, logger)
		if err != nil {
			logger.Warn("Stream telemetry disabled", "error", err)
		} else {
			set.Sink = append(set.Sink, s)
		}
	}
	return set
}

func influxSink(ctx context.Context, cfg config.InfluxConfig, mp metric.MeterProvider, zl zerolog.Logger) (telemetry.Sink, error) {
	influx, err := telemetry.NewInflux(ctx, telemetry.InfluxConfig{
		URL:           cfg.URL,
		Token:         cfg.Token,
		Org:           cfg.Org,
		Bucket:        cfg.Bucket,
		FlushInterval: cfg.FlushInterval,
		Ping:          true,
	}, zl)
	if err != nil {
		return nil, err
	}
	queued, err := telemetry.NewAsync(influx, 0, mp)
	if err != nil {
		_ = influx.Close()
		return nil, err
	}
	return queued, nil
}

func prometheusSink(addr string, logger *slog.Logger) (*http.Server, *telemetry.Prometheus, error) {
	p, err := telemetry.NewPrometheus(nil)
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Prometheus endpoint stopped", "error", err)
		}
	}()
	logger.Info("Serving Prometheus metrics", "address", srv.Addr)
	return srv, p, nil
}
