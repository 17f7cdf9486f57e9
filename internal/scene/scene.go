// Package scene spawns celestial bodies and vessels with the component
// layouts the simulation stages expect.
package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
	"github.com/hcsp/railsim/internal/rail"
)

// CelestialBody describes a body to spawn.
type CelestialBody struct {
	Name   string
	Radius float64
	Mass   float64
	Angle  float64

	// Parent is optional; bodies without one are tree roots.
	Parent   *donburi.Entity
	RailMode rail.Mode

	Position frames.RootPosition
	Velocity frames.RootVelocity
}

// Vessel describes a vessel to spawn.
type Vessel struct {
	Name           string
	Mass           float64
	ColliderRadius float32
	Angle          float64
	AngularVel     float32

	Parent   donburi.Entity
	RailMode rail.Mode
	Unloaded bool

	Position frames.RootPosition
	Velocity frames.RootVelocity
}

// SpawnCelestial creates a celestial body and links it to its parent.
func SpawnCelestial(w donburi.World, b CelestialBody) (donburi.Entity, error) {
	e := w.Create(
		components.Name,
		components.CelestialBody,
		components.Mass,
		components.Collider,
		components.RootPosition,
		components.RootVelocity,
		components.RigidTransform,
		components.RigidVelocity,
		components.CameraTransform,
		components.CelestialParent,
		components.CelestialChildren,
		components.RailMode,
	)
	entry := w.Entry(e)

	components.Name.SetValue(entry, b.Name)
	components.CelestialBody.SetValue(entry, components.CelestialBodyData{Radius: b.Radius})
	components.Mass.SetValue(entry, components.MassData{Kilograms: b.Mass})
	components.Collider.SetValue(entry, components.ColliderData{Radius: float32(b.Radius)})
	components.RootPosition.SetValue(entry, b.Position)
	components.RootVelocity.SetValue(entry, b.Velocity)
	components.RigidTransform.SetValue(entry, frames.RigidTransform{Transform: frames.Transform{
		Rotation: frames.RotationQuat(b.Angle),
		Scale:    mgl32.Vec3{1, 1, 1},
	}})
	components.RailMode.SetValue(entry, b.RailMode)

	if b.Parent == nil {
		// roots never carry a parent
		entry.RemoveComponent(components.CelestialParent)
		return e, nil
	}
	if err := components.SetParent(w, e, *b.Parent); err != nil {
		return e, fmt.Errorf("spawning celestial %q: %w", b.Name, err)
	}
	return e, nil
}

// SpawnVessel creates a vessel under its parent body.
func SpawnVessel(w donburi.World, v Vessel) (donburi.Entity, error) {
	e := w.Create(
		components.Name,
		components.Vessel,
		components.Mass,
		components.Collider,
		components.RootPosition,
		components.RootVelocity,
		components.RigidTransform,
		components.RigidVelocity,
		components.CameraTransform,
		components.CelestialParent,
		components.RailMode,
		components.ExternalForce,
	)
	entry := w.Entry(e)

	components.Name.SetValue(entry, v.Name)
	components.Mass.SetValue(entry, components.MassData{Kilograms: v.Mass})
	components.Collider.SetValue(entry, components.ColliderData{Radius: v.ColliderRadius})
	components.RootPosition.SetValue(entry, v.Position)
	components.RootVelocity.SetValue(entry, v.Velocity)
	components.RigidTransform.SetValue(entry, frames.RigidTransform{Transform: frames.Transform{
		Rotation: frames.RotationQuat(v.Angle),
		Scale:    mgl32.Vec3{1, 1, 1},
	}})
	components.RigidVelocity.SetValue(entry, frames.RigidVelocity{Angular: v.AngularVel})
	components.RailMode.SetValue(entry, v.RailMode)
	if v.Unloaded {
		entry.AddComponent(components.Unloaded)
	}

	if err := components.SetParent(w, e, v.Parent); err != nil {
		return e, fmt.Errorf("spawning vessel %q: %w", v.Name, err)
	}
	return e, nil
}

// SetLoaded toggles whether a vessel has a physics representation. It is a
// structural change and must not run inside a query iteration.
func SetLoaded(w donburi.World, vessel donburi.Entity, loaded bool) error {
	if !w.Valid(vessel) {
		return fmt.Errorf("set loaded: %w", components.ErrInvalidEntity)
	}
	entry := w.Entry(vessel)
	if !entry.HasComponent(components.Vessel) {
		return fmt.Errorf("set loaded on non-vessel %s: %w", components.NameOf(entry), components.ErrMissingComponents)
	}
	switch {
	case loaded && entry.HasComponent(components.Unloaded):
		entry.RemoveComponent(components.Unloaded)
	case !loaded && !entry.HasComponent(components.Unloaded):
		entry.AddComponent(components.Unloaded)
	}
	return nil
}
