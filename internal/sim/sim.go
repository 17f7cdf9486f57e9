// Package sim runs the fixed-step tick pipeline:
//
//	gravity -> state to rail -> rail to state -> active snapshot ->
//	pre-switch -> physics step -> post-switch -> camera
//
// The order is fixed. Each stage completes before the next reads its output.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yohamta/donburi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/hcsp/railsim/internal/active"
	"github.com/hcsp/railsim/internal/camera"
	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/framesync"
	"github.com/hcsp/railsim/internal/gravity"
	"github.com/hcsp/railsim/internal/physics"
	"github.com/hcsp/railsim/internal/propagation"
	"github.com/hcsp/railsim/internal/telemetry"
)

// DefaultTickRate is the fixed update rate in hertz.
const DefaultTickRate = 64

var (
	// ErrNoWorld is returned when Dependencies has no world.
	ErrNoWorld = errors.New("sim: no world")
	// ErrNoEngine is returned when Dependencies has no physics engine.
	ErrNoEngine = errors.New("sim: no physics engine")
)

// Logger is the logging interface the pipeline needs. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Clock is a fixed-timestep clock.
type Clock struct {
	Tick    uint64
	Delta   float64
	Elapsed float64
}

// NewClock returns a clock ticking at rate hertz.
func NewClock(rate float64) Clock {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return Clock{Delta: 1 / rate}
}

// Advance moves the clock one tick forward. Elapsed then includes the new
// tick.
func (c *Clock) Advance() {
	c.Tick++
	c.Elapsed = float64(c.Tick) * c.Delta
}

// Config holds pipeline settings.
type Config struct {
	TickRate float64
	Gravity  gravity.Config
	// Epoch is the wall-clock time of elapsed zero, used for telemetry.
	Epoch time.Time
}

// Dependencies wires a Simulation.
type Dependencies struct {
	World  donburi.World
	Engine physics.Engine
	// Active defaults to a fresh tracker.
	Active *active.Tracker
	// Camera is optional; without one no camera transforms are derived.
	Camera        *camera.Camera
	Sink          telemetry.Sink
	Logger        Logger
	MeterProvider metric.MeterProvider
	Config        Config
}

// Report summarizes one tick.
type Report struct {
	Clock      Clock
	Gravity    gravity.Stats
	Classified int
	Rails      propagation.Stats
	Snapshot   bool
	Synced     int
	Viewed     int
	Duration   time.Duration
}

// Simulation owns the world and runs the pipeline.
type Simulation struct {
	world   donburi.World
	engine  physics.Engine
	active  *active.Tracker
	camera  *camera.Camera
	sink    telemetry.Sink
	logger  Logger
	epoch   time.Time
	clock   Clock
	gravity *gravity.Applier
	rails   *propagation.Propagator

	sinkWarn  rate.Sometimes
	sinkFails uint64

	ticks      metric.Int64Counter
	stageDur   metric.Float64Histogram
	classified metric.Int64Counter
	shifted    metric.Int64Counter
	evaluated  metric.Int64Counter
}

// New validates deps and builds a Simulation.
func New(deps Dependencies) (*Simulation, error) {
	if deps.World == nil {
		return nil, ErrNoWorld
	}
	if deps.Engine == nil {
		return nil, ErrNoEngine
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	tracker := deps.Active
	if tracker == nil {
		tracker = active.NewTracker(logger)
	}
	sink := deps.Sink
	if sink == nil {
		sink = telemetry.Nop{}
	}
	epoch := deps.Config.Epoch
	if epoch.IsZero() {
		epoch = time.Now().UTC()
	}

	m := meter(deps.MeterProvider)
	ticks, err := m.Int64Counter("sim.ticks",
		metric.WithDescription("Number of simulation ticks completed"))
	if err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}
	stageDur, err := m.Float64Histogram("sim.stage.duration",
		metric.WithDescription("Time spent in each pipeline stage"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating stage duration histogram: %w", err)
	}
	classified, err := m.Int64Counter("sim.rail.classified",
		metric.WithDescription("Vessels moved from physics onto rails"))
	if err != nil {
		return nil, fmt.Errorf("creating classified counter: %w", err)
	}
	shifted, err := m.Int64Counter("sim.rail.shifted",
		metric.WithDescription("Physics-owned vessels whose velocity was shifted by a rail ancestor"))
	if err != nil {
		return nil, fmt.Errorf("creating shifted counter: %w", err)
	}
	evaluated, err := m.Int64Counter("sim.rail.evaluated",
		metric.WithDescription("Rail evaluations performed"))
	if err != nil {
		return nil, fmt.Errorf("creating evaluated counter: %w", err)
	}

	grav := gravity.New(deps.Config.Gravity, logger)

	return &Simulation{
		world:      deps.World,
		engine:     deps.Engine,
		active:     tracker,
		camera:     deps.Camera,
		sink:       sink,
		logger:     logger,
		epoch:      epoch,
		clock:      NewClock(deps.Config.TickRate),
		gravity:    grav,
		rails:      propagation.New(grav.Config().G, logger),
		ticks:      ticks,
		stageDur:   stageDur,
		classified: classified,
		shifted:    shifted,
		evaluated:  evaluated,
		sinkWarn:   rate.Sometimes{First: 1, Interval: time.Second},
	}, nil
}

// World returns the simulated world.
func (s *Simulation) World() donburi.World { return s.world }

// Active returns the active vessel tracker.
func (s *Simulation) Active() *active.Tracker { return s.active }

// SinkFailures returns how many samples the sink rejected.
func (s *Simulation) SinkFailures() uint64 { return s.sinkFails }

// Clock returns the clock as of the last completed tick.
func (s *Simulation) Clock() Clock { return s.clock }

func (s *Simulation) stage(ctx context.Context, name string, fn func()) {
	start := time.Now()
	fn()
	s.stageDur.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", name)))
}

// Step runs one tick. A context cancelled before the tick starts aborts it;
// once started a tick always runs to completion unless the physics step
// fails.
func (s *Simulation) Step(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	start := time.Now()

	s.clock.Advance()
	rep := Report{Clock: s.clock}
	now := propagation.Time{Elapsed: s.clock.Elapsed, Delta: s.clock.Delta}

	s.stage(ctx, "gravity", func() {
		rep.Gravity = s.gravity.Apply(s.world, s.clock.Delta)
	})
	s.stage(ctx, "state_to_rail", func() {
		rep.Classified = s.rails.WriteStateToRail(s.world, s.engine, s.active.Snapshot(), s.clock.Elapsed)
	})
	s.stage(ctx, "rail_to_state", func() {
		rep.Rails = s.rails.WriteRailToState(s.world, now, s.active.Snapshot())
	})

	s.stage(ctx, "active_snapshot", func() {
		rep.Snapshot = s.active.Update(s.world)
	})
	// pre- and post-switch use the fresh snapshot as origin, so the active
	// vessel enters the physics step at the rigid origin
	snap := s.active.Snapshot()
	if !snap.Set {
		s.logger.Debug("no active vessel, skipping frame switch", "tick", s.clock.Tick)
	}

	s.stage(ctx, "pre_switch", func() {
		rep.Synced = framesync.PreSwitch(s.world, snap)
	})

	var stepErr error
	s.stage(ctx, "physics", func() {
		stepErr = s.engine.Step(s.world, s.clock.Delta)
	})
	if stepErr != nil {
		s.logger.Error("physics step failed", "tick", s.clock.Tick, "error", stepErr)
		return rep, fmt.Errorf("physics step at tick %d: %w", s.clock.Tick, stepErr)
	}

	s.stage(ctx, "post_switch", func() {
		framesync.PostSwitch(s.world, snap, s.clock.Delta)
	})
	if s.camera != nil {
		s.stage(ctx, "camera", func() {
			rep.Viewed = framesync.DeriveCamera(s.world, s.camera)
		})
	}

	rep.Duration = time.Since(start)
	s.record(ctx, rep)
	return rep, nil
}

func (s *Simulation) record(ctx context.Context, rep Report) {
	s.ticks.Add(ctx, 1)
	s.classified.Add(ctx, int64(rep.Classified))
	s.shifted.Add(ctx, int64(rep.Rails.Shifted))
	s.evaluated.Add(ctx, int64(rep.Rails.Evaluated))

	sample := telemetry.Sample{
		Tick:       rep.Clock.Tick,
		Elapsed:    rep.Clock.Elapsed,
		Wall:       s.epoch.Add(time.Duration(rep.Clock.Elapsed * float64(time.Second))),
		Classified: rep.Classified,
		Evaluated:  rep.Rails.Evaluated,
		Shifted:    rep.Rails.Shifted,
		Gravitated: rep.Gravity.Applied,
		Duration:   rep.Duration,
	}
	if c, ok := s.engine.(interface{ Contacts() int }); ok {
		sample.Contacts = c.Contacts()
	}
	if snap := s.active.Snapshot(); snap.Set && s.world.Valid(snap.Entity) {
		entry := s.world.Entry(snap.Entity)
		sample.ActiveName = components.NameOf(entry)
		if entry.HasComponent(components.RootPosition) && entry.HasComponent(components.RootVelocity) {
			sample.ActivePosition = components.RootPosition.GetValue(entry)
			sample.ActiveVelocity = components.RootVelocity.GetValue(entry)
		}
	}
	if err := s.sink.Record(ctx, sample); err != nil {
		s.sinkFails++
		s.sinkWarn.Do(func() {
			s.logger.Warn("telemetry record failed", "tick", rep.Clock.Tick, "failures", s.sinkFails, "error", err)
		})
	}
}

// Run steps the simulation ticks times, stopping early when ctx is done.
// Cancellation is only observed between ticks.
func (s *Simulation) Run(ctx context.Context, ticks int) error {
	for i := 0; i < ticks; i++ {
		if _, err := s.Step(ctx); err != nil {
			return err
		}
	}
	if err := s.sink.Flush(); err != nil {
		return fmt.Errorf("flushing telemetry: %w", err)
	}
	return nil
}
