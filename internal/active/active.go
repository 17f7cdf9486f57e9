// Package active tracks the vessel that serves as the physics origin.
//
// The snapshot it holds is always one tick stale: the frame switch that runs
// before the physics step needs an origin before the step has produced this
// tick's state, so it uses the state recorded at the end of the previous
// tick's propagation.
package active

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/yohamta/donburi"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
	"github.com/hcsp/railsim/internal/rail"
)

// Logger is the subset of logging used here.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Snapshot is the active vessel and its state as of the previous tick.
type Snapshot struct {
	Entity       donburi.Entity
	PrevPosition frames.RootPosition
	PrevVelocity frames.RootVelocity
	PrevParent   donburi.Entity
	// Set is false until a vessel has been made active.
	Set bool
}

// IsActive reports whether e is the active vessel.
func (s Snapshot) IsActive(e donburi.Entity) bool {
	return s.Set && s.Entity == e
}

// Tracker holds the process-wide active vessel state.
type Tracker struct {
	mu     sync.RWMutex
	state  Snapshot
	logger Logger
}

// NewTracker returns a tracker with no active vessel. A nil logger discards.
func NewTracker(logger Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{logger: logger}
}

// Snapshot returns the current snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Set replaces the snapshot wholesale.
func (t *Tracker) Set(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.Set = true
	t.state = s
}

// Switch makes vessel the active vessel, seeding the snapshot from its
// current root state. The vessel is taken off rails, since the active vessel
// is always physics-owned. Must not run during a tick.
func (t *Tracker) Switch(w donburi.World, vessel donburi.Entity) error {
	if !w.Valid(vessel) {
		return fmt.Errorf("switch active vessel: %w", components.ErrInvalidEntity)
	}
	entry := w.Entry(vessel)
	snap, ok := read(entry)
	if !ok {
		return fmt.Errorf("switch active vessel to %s: %w", components.NameOf(entry), components.ErrMissingComponents)
	}
	if entry.HasComponent(components.RailMode) {
		components.RailMode.SetValue(entry, rail.None())
	}

	t.Set(snap)
	t.logger.Debug("active vessel switched", "vessel", components.NameOf(entry))
	return nil
}

// Update records the active vessel's current root state as next tick's
// previous-tick snapshot. A missing vessel or missing components leave the
// snapshot untouched.
func (t *Tracker) Update(w donburi.World) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.Set {
		return false
	}
	if !w.Valid(t.state.Entity) {
		t.logger.Warn("active vessel no longer exists", "entity", t.state.Entity.Id())
		return false
	}
	entry := w.Entry(t.state.Entity)
	snap, ok := read(entry)
	if !ok {
		t.logger.Warn("active vessel is missing state components", "vessel", components.NameOf(entry))
		return false
	}
	t.state = snap
	return true
}

func read(entry *donburi.Entry) (Snapshot, bool) {
	if !entry.HasComponent(components.RootPosition) ||
		!entry.HasComponent(components.RootVelocity) ||
		!entry.HasComponent(components.CelestialParent) {
		return Snapshot{}, false
	}
	return Snapshot{
		Entity:       entry.Entity(),
		PrevPosition: components.RootPosition.GetValue(entry),
		PrevVelocity: components.RootVelocity.GetValue(entry),
		PrevParent:   components.CelestialParent.Get(entry).Entity,
		Set:          true,
	}, true
}
