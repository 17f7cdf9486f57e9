package telemetry

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exposes the latest sample as Prometheus metrics.
type Prometheus struct {
	registry *prometheus.Registry

	tick      prometheus.Gauge
	elapsed   prometheus.Gauge
	contacts  prometheus.Gauge
	duration  prometheus.Histogram
	rail      *prometheus.CounterVec
	gravity   prometheus.Counter
	activePos *prometheus.GaugeVec
	activeVel *prometheus.GaugeVec

	mu     sync.Mutex
	active string
}

// NewPrometheus registers the tick collectors on reg. A nil reg gets a
// private registry.
func NewPrometheus(reg *prometheus.Registry) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	p := &Prometheus{
		registry: reg,
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railsim_tick",
			Help: "Last completed simulation tick",
		}),
		elapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railsim_elapsed_seconds",
			Help: "Simulated time since start",
		}),
		contacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railsim_contacts",
			Help: "Touching body pairs after the last physics step",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railsim_tick_duration_seconds",
			Help:    "Wall time spent running one tick",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		rail: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "railsim_rail_events_total",
				Help: "Rail propagation events by kind",
			},
			[]string{"kind"},
		),
		gravity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railsim_gravity_applied_total",
			Help: "Vessels gravity was applied to",
		}),
		activePos: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "railsim_active_position_meters",
				Help: "Root-space position of the active vessel",
			},
			[]string{"vessel", "axis"},
		),
		activeVel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "railsim_active_velocity_meters_per_second",
				Help: "Root-space velocity of the active vessel",
			},
			[]string{"vessel", "axis"},
		),
	}

	for _, c := range []prometheus.Collector{
		p.tick, p.elapsed, p.contacts, p.duration, p.rail, p.gravity, p.activePos, p.activeVel,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Record updates the collectors from s.
func (p *Prometheus) Record(_ context.Context, s Sample) error {
	p.tick.Set(float64(s.Tick))
	p.elapsed.Set(s.Elapsed)
	p.contacts.Set(float64(s.Contacts))
	p.duration.Observe(s.Duration.Seconds())
	p.rail.WithLabelValues("classified").Add(float64(s.Classified))
	p.rail.WithLabelValues("evaluated").Add(float64(s.Evaluated))
	p.rail.WithLabelValues("shifted").Add(float64(s.Shifted))
	p.gravity.Add(float64(s.Gravitated))

	p.mu.Lock()
	defer p.mu.Unlock()
	if s.ActiveName != p.active {
		// a switched vessel must not keep reporting its last position
		p.activePos.Reset()
		p.activeVel.Reset()
		p.active = s.ActiveName
	}
	if s.ActiveName == "" {
		return nil
	}
	p.activePos.WithLabelValues(s.ActiveName, "x").Set(s.ActivePosition[0])
	p.activePos.WithLabelValues(s.ActiveName, "y").Set(s.ActivePosition[1])
	p.activeVel.WithLabelValues(s.ActiveName, "x").Set(s.ActiveVelocity[0])
	p.activeVel.WithLabelValues(s.ActiveName, "y").Set(s.ActiveVelocity[1])
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry the collectors live in.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) Flush() error { return nil }
func (p *Prometheus) Close() error { return nil }
