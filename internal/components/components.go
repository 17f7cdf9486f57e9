// Package components declares the entity data the simulation stages read and
// write, stored in a donburi world.
package components

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"github.com/hcsp/railsim/internal/frames"
	"github.com/hcsp/railsim/internal/rail"
)

// CelestialBodyData marks a body that is always on rails.
type CelestialBodyData struct {
	Radius float64
}

// MassData is a body's mass in kilograms.
type MassData struct {
	Kilograms float64
}

// ColliderData is a circular collider used by the physics backend.
type ColliderData struct {
	Radius float32
}

// ParentData points at the celestial body this entity moves relative to.
type ParentData struct {
	Entity donburi.Entity
}

// ChildrenData is the inverse of ParentData.
type ChildrenData struct {
	Entities []donburi.Entity
}

// ForceData is the external force handed to the physics backend, in root
// space newtons.
type ForceData struct {
	Force mgl64.Vec2
}

var (
	RootPosition    = donburi.NewComponentType[frames.RootPosition]()
	RootVelocity    = donburi.NewComponentType[frames.RootVelocity]()
	RigidTransform  = donburi.NewComponentType[frames.RigidTransform](frames.RigidTransform{Transform: frames.IdentityTransform()})
	RigidVelocity   = donburi.NewComponentType[frames.RigidVelocity]()
	CameraTransform = donburi.NewComponentType[frames.CameraTransform](frames.CameraTransform{Transform: frames.IdentityTransform()})

	CelestialBody     = donburi.NewComponentType[CelestialBodyData]()
	Mass              = donburi.NewComponentType[MassData]()
	Collider          = donburi.NewComponentType[ColliderData]()
	CelestialParent   = donburi.NewComponentType[ParentData]()
	CelestialChildren = donburi.NewComponentType[ChildrenData]()
	RailMode          = donburi.NewComponentType[rail.Mode]()
	ExternalForce     = donburi.NewComponentType[ForceData]()
	Name              = donburi.NewComponentType[string]()

	// Vessel marks a controllable craft.
	Vessel = donburi.NewTag()
	// Unloaded marks a vessel that has no physics representation.
	Unloaded = donburi.NewTag()
)

// Common layout filters.
var (
	LoadedVessels   = filter.And(filter.Contains(Vessel), filter.Not(filter.Contains(Unloaded)))
	UnloadedVessels = filter.Contains(Vessel, Unloaded)
)

// IsCelestial reports whether entry is a celestial body.
func IsCelestial(entry *donburi.Entry) bool {
	return entry.HasComponent(CelestialBody)
}

// IsLoadedVessel reports whether entry is a vessel eligible for physics.
func IsLoadedVessel(entry *donburi.Entry) bool {
	return entry.HasComponent(Vessel) && !entry.HasComponent(Unloaded)
}

// RailModeOf returns the entry's rail mode, or None when it has none.
func RailModeOf(entry *donburi.Entry) rail.Mode {
	if !entry.HasComponent(RailMode) {
		return rail.None()
	}
	return RailMode.GetValue(entry)
}

// IsOnRails reports whether entry's motion is computed analytically this
// tick: celestial bodies, unloaded vessels and vessels holding a rail.
func IsOnRails(entry *donburi.Entry) bool {
	if IsCelestial(entry) {
		return true
	}
	if !entry.HasComponent(Vessel) {
		return false
	}
	return entry.HasComponent(Unloaded) || !RailModeOf(entry).IsNone()
}

// IsPhysicsOwned reports whether entry is a loaded vessel the physics
// backend integrates this tick.
func IsPhysicsOwned(entry *donburi.Entry) bool {
	return IsLoadedVessel(entry) && RailModeOf(entry).IsNone()
}

// MassOf returns the entry's mass and whether it has one.
func MassOf(entry *donburi.Entry) (float64, bool) {
	if !entry.HasComponent(Mass) {
		return 0, false
	}
	return Mass.Get(entry).Kilograms, true
}

// ParentOf returns the entry's celestial parent, if it has one.
func ParentOf(entry *donburi.Entry) (donburi.Entity, bool) {
	if !entry.HasComponent(CelestialParent) {
		var none donburi.Entity
		return none, false
	}
	return CelestialParent.Get(entry).Entity, true
}

// Children returns a copy of the entry's children.
func Children(entry *donburi.Entry) []donburi.Entity {
	if !entry.HasComponent(CelestialChildren) {
		return nil
	}
	src := CelestialChildren.Get(entry).Entities
	out := make([]donburi.Entity, len(src))
	copy(out, src)
	return out
}

// NameOf returns the entry's name, falling back to its entity id.
func NameOf(entry *donburi.Entry) string {
	if entry.HasComponent(Name) {
		if n := Name.GetValue(entry); n != "" {
			return n
		}
	}
	return fmt.Sprintf("entity-%d", entry.Entity().Id())
}

// SetParent makes parent the celestial parent of child, detaching child
// from any previous parent. Both entities must already carry the parent and
// children components. Cycles are not checked.
func SetParent(w donburi.World, child, parent donburi.Entity) error {
	if child == parent {
		return fmt.Errorf("entity %d cannot be its own parent", child.Id())
	}
	if !w.Valid(child) || !w.Valid(parent) {
		return fmt.Errorf("set parent: %w", ErrInvalidEntity)
	}
	ce := w.Entry(child)
	pe := w.Entry(parent)
	if !ce.HasComponent(CelestialParent) || !pe.HasComponent(CelestialChildren) {
		return fmt.Errorf("set parent: %w", ErrMissingComponents)
	}

	if prev := CelestialParent.Get(ce).Entity; prev != parent && w.Valid(prev) {
		pp := w.Entry(prev)
		if pp.HasComponent(CelestialChildren) {
			removeChild(CelestialChildren.Get(pp), child)
		}
	}

	CelestialParent.SetValue(ce, ParentData{Entity: parent})
	kids := CelestialChildren.Get(pe)
	for _, k := range kids.Entities {
		if k == child {
			return nil
		}
	}
	kids.Entities = append(kids.Entities, child)
	return nil
}

func removeChild(kids *ChildrenData, child donburi.Entity) {
	out := kids.Entities[:0]
	for _, k := range kids.Entities {
		if k != child {
			out = append(out, k)
		}
	}
	kids.Entities = out
}
