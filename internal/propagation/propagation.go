// Package propagation moves bodies between physics and rails and advances
// everything on rails down the celestial tree.
package propagation

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"github.com/hcsp/railsim/internal/active"
	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
	"github.com/hcsp/railsim/internal/rail"
)

// ContactQuery reports whether the physics backend has an active contact
// between two entities. ok is false when the pair is unknown to it.
type ContactQuery interface {
	Contact(a, b donburi.Entity) (active bool, ok bool)
}

// Logger is the subset of logging used here.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Time is the fixed-step clock as seen by one tick. Elapsed includes the
// current tick.
type Time struct {
	Elapsed float64
	Delta   float64
}

// Stats counts what one propagation pass did.
type Stats struct {
	Evaluated int
	Shifted   int
	Skipped   int
}

// Propagator runs the two rail stages.
type Propagator struct {
	g      float64
	logger Logger
}

var (
	unrailed = donburi.NewQuery(filter.And(
		components.LoadedVessels,
		filter.Contains(components.RailMode, components.RootPosition, components.RootVelocity, components.CelestialParent),
	))
	roots = donburi.NewQuery(filter.And(
		filter.Contains(components.CelestialBody, components.CelestialChildren),
		filter.Not(filter.Contains(components.CelestialParent)),
	))
)

// New returns a Propagator using gravitational constant g.
func New(g float64, logger Logger) *Propagator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Propagator{g: g, logger: logger}
}

// WriteStateToRail classifies every loaded, non-active vessel that is not yet
// on a rail. A vessel touching its parent is attached to the surface; any
// other vessel gets an orbit fitted at elapsed. It returns how many vessels
// were classified.
func (p *Propagator) WriteStateToRail(w donburi.World, contacts ContactQuery, snap active.Snapshot, elapsed float64) int {
	classified := 0

	unrailed.Each(w, func(entry *donburi.Entry) {
		if snap.IsActive(entry.Entity()) || !components.RailModeOf(entry).IsNone() {
			return
		}

		parent := components.CelestialParent.Get(entry).Entity
		if !w.Valid(parent) {
			p.logger.Warn("vessel is missing a parent", "vessel", components.NameOf(entry))
			return
		}
		pe := w.Entry(parent)
		mass, ok := components.MassOf(pe)
		if !ok || !components.IsCelestial(pe) ||
			!pe.HasComponent(components.RootPosition) || !pe.HasComponent(components.RootVelocity) {
			p.logger.Warn("vessel parent is not a massive celestial body",
				"vessel", components.NameOf(entry), "parent", components.NameOf(pe))
			return
		}

		relPos := components.RootPosition.Get(entry).Vec().Sub(components.RootPosition.Get(pe).Vec())
		relVel := components.RootVelocity.Get(entry).Vec().Sub(components.RootVelocity.Get(pe).Vec())

		touching := false
		if contacts != nil {
			c, known := contacts.Contact(entry.Entity(), parent)
			touching = known && c
		}

		mode := rail.Classify(relPos, relVel, p.g*mass, touching, elapsed)
		components.RailMode.SetValue(entry, mode)
		classified++

		p.logger.Debug("vessel put on rails", "vessel", components.NameOf(entry), "mode", mode.String())
	})

	return classified
}

// WriteRailToState advances every on-rails body and shifts the velocity of
// physics-owned vessels whose rail ancestors changed velocity this tick.
// Every tree root's children start from a zero parent state and zero shift.
func (p *Propagator) WriteRailToState(w donburi.World, now Time, snap active.Snapshot) Stats {
	var stats Stats

	var treeRoots [][]donburi.Entity
	roots.Each(w, func(entry *donburi.Entry) {
		treeRoots = append(treeRoots, components.Children(entry))
	})

	for _, children := range treeRoots {
		for _, child := range children {
			p.walk(w, child, rail.StateVectors{}, mgl64.Vec2{}, now, snap, &stats)
		}
	}
	return stats
}

// walk finalizes node's root state before descending, so every child's rail
// is evaluated against its parent's state from this tick.
func (p *Propagator) walk(
	w donburi.World,
	node donburi.Entity,
	parent rail.StateVectors,
	shift mgl64.Vec2,
	now Time,
	snap active.Snapshot,
	stats *Stats,
) {
	if !w.Valid(node) {
		p.logger.Warn("celestial child no longer exists", "entity", node.Id())
		return
	}
	entry := w.Entry(node)
	if !entry.HasComponent(components.RootPosition) || !entry.HasComponent(components.RootVelocity) {
		p.logger.Warn("node is missing root state", "node", components.NameOf(entry))
		return
	}

	if !components.IsOnRails(entry) {
		if components.IsLoadedVessel(entry) && !snap.IsActive(node) {
			vel := components.RootVelocity.Get(entry)
			*vel = frames.RootVelocity(vel.Vec().Add(shift))
			stats.Shifted++
		}
		return
	}

	mode := components.RailModeOf(entry)
	if mode.IsNone() {
		// between states; nothing to evaluate and no shift passes through
		p.logger.Debug("on-rails node has no rail", "node", components.NameOf(entry))
		stats.Skipped++
		return
	}

	prev := rail.Evaluate(mode, now.Elapsed-now.Delta)
	next := rail.Evaluate(mode, now.Elapsed)

	pos := parent.Position.Add(next.Position)
	vel := parent.Velocity.Add(next.Velocity)
	components.RootPosition.SetValue(entry, frames.RootPosition(pos))
	components.RootVelocity.SetValue(entry, frames.RootVelocity(vel))
	stats.Evaluated++

	childShift := shift.Add(next.Sub(prev).Velocity)
	state := rail.StateVectors{Position: pos, Velocity: vel}
	for _, child := range components.Children(entry) {
		p.walk(w, child, state, childShift, now, snap, stats)
	}
}
