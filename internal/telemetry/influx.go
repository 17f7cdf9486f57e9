package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

// Measurement is the InfluxDB measurement ticks are written to.
const Measurement = "railsim_tick"

// InfluxConfig holds InfluxDB connection settings.
type InfluxConfig struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
	// Ping checks the server is reachable before writing.
	Ping bool
}

// Influx writes one point per tick through the client's non-blocking write
// API.
type Influx struct {
	client influxdb2.Client
	writer influxdb2_api.WriteAPI
	logger zerolog.Logger
}

// NewInflux connects to InfluxDB. Write errors are logged asynchronously.
func NewInflux(ctx context.Context, cfg InfluxConfig, logger zerolog.Logger) (*Influx, error) {
	if cfg.URL == "" || cfg.Bucket == "" || cfg.Org == "" {
		return nil, errors.New("influx telemetry needs url, org and bucket")
	}
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if cfg.Ping {
		running, err := client.Ping(ctx)
		if err != nil || !running {
			client.Close()
			if err == nil {
				err = errors.New("server not running")
			}
			return nil, fmt.Errorf("pinging influx at %s: %w", cfg.URL, err)
		}
	}

	in := &Influx{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger: logger,
	}
	go in.drainErrors(cfg.Bucket)

	logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Influx telemetry initialized")
	return in, nil
}

func (in *Influx) drainErrors(bucket string) {
	for err := range in.writer.Errors() {
		in.logger.Error().Err(err).Str("bucket", bucket).Msg("Error sending telemetry to InfluxDB")
	}
}

// Record queues s for writing.
func (in *Influx) Record(_ context.Context, s Sample) error {
	in.writer.WritePoint(Point(s))
	return nil
}

// Flush forces queued points out.
func (in *Influx) Flush() error {
	in.writer.Flush()
	return nil
}

// Close flushes and closes the client.
func (in *Influx) Close() error {
	in.writer.Flush()
	in.client.Close()
	return nil
}

// Point converts a sample into an InfluxDB point.
func Point(s Sample) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(Measurement)
	if s.ActiveName != "" {
		p.AddTag("active", s.ActiveName)
	}
	p.AddField("tick", s.Tick).
		AddField("elapsed", s.Elapsed).
		AddField("active_x", s.ActivePosition[0]).
		AddField("active_y", s.ActivePosition[1]).
		AddField("active_vx", s.ActiveVelocity[0]).
		AddField("active_vy", s.ActiveVelocity[1]).
		AddField("classified", s.Classified).
		AddField("evaluated", s.Evaluated).
		AddField("shifted", s.Shifted).
		AddField("gravitated", s.Gravitated).
		AddField("contacts", s.Contacts).
		AddField("duration_us", s.Duration.Microseconds())
	if !s.Wall.IsZero() {
		p.SetTime(s.Wall)
	}
	return p
}
