// Package gravity applies Newtonian attraction from a vessel's parent body.
package gravity

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
)

// G is the gravitational constant in m^3 kg^-1 s^-2.
const G = 6.6743e-11

// DefaultMinDistanceSquared is the floor applied to r^2.
const DefaultMinDistanceSquared = 1e-6

// Mode selects how gravity is handed to the integrator. A simulation uses
// exactly one.
type Mode uint8

const (
	// ModeVelocity adds a*dt to the vessel's root velocity.
	ModeVelocity Mode = iota
	// ModeForce writes G*m*M/r^2 to the vessel's external force.
	ModeForce
)

func (m Mode) String() string {
	if m == ModeForce {
		return "force"
	}
	return "velocity"
}

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "velocity", "kinematic":
		return ModeVelocity, nil
	case "force":
		return ModeForce, nil
	default:
		return ModeVelocity, fmt.Errorf("unknown gravity mode %q", s)
	}
}

// Config holds gravity settings.
type Config struct {
	Mode               Mode
	G                  float64
	MinDistanceSquared float64
}

// DefaultConfig returns kinematic gravity with the physical constant.
func DefaultConfig() Config {
	return Config{Mode: ModeVelocity, G: G, MinDistanceSquared: DefaultMinDistanceSquared}
}

// Logger is the subset of logging used here.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// Stats counts what one Apply did.
type Stats struct {
	Applied int
	Zeroed  int
	Skipped int
}

// Applier applies gravity once per tick.
type Applier struct {
	cfg    Config
	logger Logger
}

var (
	attracted = donburi.NewQuery(filter.And(
		components.LoadedVessels,
		filter.Contains(components.RootPosition, components.RootVelocity, components.CelestialParent),
	))
	unloadedWithForce = donburi.NewQuery(filter.And(
		components.UnloadedVessels,
		filter.Contains(components.ExternalForce),
	))
)

// New returns an Applier. A zero G or floor falls back to the defaults.
func New(cfg Config, logger Logger) *Applier {
	if cfg.G == 0 {
		cfg.G = G
	}
	if cfg.MinDistanceSquared <= 0 {
		cfg.MinDistanceSquared = DefaultMinDistanceSquared
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Applier{cfg: cfg, logger: logger}
}

// Config returns the applier's settings.
func (a *Applier) Config() Config { return a.cfg }

// Acceleration returns the acceleration toward the parent of a body at rel
// from a parent of mass parentMass.
func (a *Applier) Acceleration(rel mgl64.Vec2, parentMass float64) mgl64.Vec2 {
	r2 := rel.Dot(rel)
	// coincident: the direction is undefined, so no pull rather than NaN
	if r2 == 0 {
		return mgl64.Vec2{}
	}
	// floor the distance so near-coincident bodies get a finite pull
	if r2 < a.cfg.MinDistanceSquared {
		r2 = a.cfg.MinDistanceSquared
	}
	return rel.Normalize().Mul(-a.cfg.G * parentMass / r2)
}

// Apply accelerates every loaded, physics-owned vessel toward its parent and
// clears the external force of unloaded vessels.
func (a *Applier) Apply(w donburi.World, dt float64) Stats {
	var stats Stats

	attracted.Each(w, func(entry *donburi.Entry) {
		if !components.RailModeOf(entry).IsNone() {
			return
		}
		name := components.NameOf(entry)

		parent := components.CelestialParent.Get(entry).Entity
		if !w.Valid(parent) {
			a.logger.Warn("vessel is missing a parent", "vessel", name)
			stats.Skipped++
			return
		}
		pe := w.Entry(parent)
		parentMass, ok := components.MassOf(pe)
		if !ok || !pe.HasComponent(components.RootPosition) {
			a.logger.Warn("vessel parent has no mass or position", "vessel", name, "parent", components.NameOf(pe))
			stats.Skipped++
			return
		}

		rel := components.RootPosition.Get(entry).Vec().Sub(components.RootPosition.Get(pe).Vec())
		acc := a.Acceleration(rel, parentMass)

		switch a.cfg.Mode {
		case ModeForce:
			mass, ok := components.MassOf(entry)
			if !ok || !entry.HasComponent(components.ExternalForce) {
				a.logger.Warn("force gravity needs mass and external force", "vessel", name)
				stats.Skipped++
				return
			}
			components.ExternalForce.SetValue(entry, components.ForceData{Force: acc.Mul(mass)})
		default:
			vel := components.RootVelocity.Get(entry)
			*vel = frames.RootVelocity(vel.Vec().Add(acc.Mul(dt)))
		}
		stats.Applied++
	})

	unloadedWithForce.Each(w, func(entry *donburi.Entry) {
		components.ExternalForce.SetValue(entry, components.ForceData{})
		stats.Zeroed++
	})

	return stats
}
