// Package framesync moves state between root space and the physics
// backend's rigid space around each physics step, and derives camera-space
// transforms for rendering.
package framesync

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"github.com/hcsp/railsim/internal/active"
	"github.com/hcsp/railsim/internal/camera"
	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
)

var (
	synced = donburi.NewQuery(filter.And(
		filter.Contains(components.RootPosition, components.RootVelocity, components.RigidTransform, components.RigidVelocity),
		filter.Not(filter.Contains(components.Unloaded)),
	))
	viewed = donburi.NewQuery(filter.Contains(components.RootPosition, components.CameraTransform))
)

// PreSwitch writes every synced entity's rigid position and linear velocity
// relative to the active vessel's previous-tick state. Rotation, scale and
// angular velocity are left as they are. It returns the number of entities
// written, or zero when there is no active vessel.
func PreSwitch(w donburi.World, snap active.Snapshot) int {
	if !snap.Set {
		return 0
	}
	n := 0
	synced.Each(w, func(entry *donburi.Entry) {
		pos := components.RootPosition.GetValue(entry)
		vel := components.RootVelocity.GetValue(entry)
		tr := components.RigidTransform.Get(entry)
		rv := components.RigidVelocity.Get(entry)

		*tr = pos.ToRigid(snap.PrevPosition).Transform(tr.Rotation, tr.Scale)
		*rv = vel.ToRigid(snap.PrevVelocity, rv.Angular)
		n++
	})
	return n
}

// PostSwitch reads the physics backend's output back into root space using
// the origin PreSwitch used, carried forward by its own velocity over the
// step of length dt. Rigid velocities are relative to that moving origin.
// Celestial bodies keep their rail-driven root state; their rigid
// translation is reset to the centered placeholder. Vessels on rails keep
// their root state too.
func PostSwitch(w donburi.World, snap active.Snapshot, dt float64) int {
	if !snap.Set {
		return 0
	}
	origin := frames.RootPosition(snap.PrevPosition.Vec().Add(snap.PrevVelocity.Vec().Mul(dt)))
	n := 0
	synced.Each(w, func(entry *donburi.Entry) {
		tr := components.RigidTransform.Get(entry)
		if components.IsCelestial(entry) {
			tr.Translation = mgl32.Vec3{}
			return
		}
		if components.IsOnRails(entry) {
			return
		}
		rv := components.RigidVelocity.GetValue(entry)

		components.RootPosition.SetValue(entry, tr.Position().ToRoot(origin))
		components.RootVelocity.SetValue(entry, rv.ToRoot(snap.PrevVelocity))
		n++
	})
	return n
}

// DeriveCamera writes a camera-space transform for every entity that has a
// root position and a camera transform, using the entity's own rigid
// rotation when it has one.
func DeriveCamera(w donburi.World, cam *camera.Camera) int {
	if cam == nil {
		return 0
	}
	ref := cam.Offset.RootPosition(w)
	zoom := cam.Zoom()

	n := 0
	viewed.Each(w, func(entry *donburi.Entry) {
		rotation := mgl32.QuatIdent()
		if entry.HasComponent(components.RigidTransform) {
			rotation = components.RigidTransform.Get(entry).Rotation
		}
		pos := components.RootPosition.GetValue(entry)
		components.CameraTransform.SetValue(entry, pos.ToCamera(rotation, ref, zoom))
		n++
	})
	return n
}
