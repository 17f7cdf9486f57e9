// Package physics defines the contract with the rigid-body backend and a
// small reference backend that integrates in rigid space.
package physics

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
)

// ErrInvalidStep is returned for non-positive or non-finite timesteps.
var ErrInvalidStep = errors.New("physics: invalid timestep")

// Engine integrates rigid-space bodies for one fixed step.
//
// Step reads each body's RigidTransform and RigidVelocity, integrates them
// and writes them back. Contact reports whether two bodies touched during the
// last step; ok is false when the backend knows nothing about the pair.
type Engine interface {
	Step(w donburi.World, dt float64) error
	Contact(a, b donburi.Entity) (active bool, ok bool)
}

// DefaultContactTolerance is the gap in meters still counted as touching.
const DefaultContactTolerance = 0.05

type pair struct{ lo, hi donburi.Entity }

func makePair(a, b donburi.Entity) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

// Reference is a minimal engine: semi-implicit Euler, circle colliders,
// kinematic celestial bodies and vessels on rails. It is single threaded.
type Reference struct {
	tolerance float32
	contacts  map[pair]bool
}

var (
	rigidBodies = donburi.NewQuery(filter.And(
		filter.Contains(components.RigidTransform, components.RigidVelocity),
		filter.Not(filter.Contains(components.Unloaded)),
	))
	colliders = donburi.NewQuery(filter.And(
		filter.Contains(components.RigidTransform, components.Collider),
		filter.Not(filter.Contains(components.Unloaded)),
	))
)

// NewReference returns a reference engine. A non-positive tolerance uses
// DefaultContactTolerance.
func NewReference(tolerance float32) *Reference {
	if tolerance <= 0 {
		tolerance = DefaultContactTolerance
	}
	return &Reference{tolerance: tolerance, contacts: make(map[pair]bool)}
}

func dynamic(entry *donburi.Entry) bool {
	return !components.IsCelestial(entry) && components.RailModeOf(entry).IsNone()
}

type body struct {
	entity  donburi.Entity
	pos     mgl32.Vec2
	radius  float32
	dynamic bool
}

// Step integrates every dynamic body and refreshes the contact set.
func (r *Reference) Step(w donburi.World, dt float64) error {
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return ErrInvalidStep
	}
	h := float32(dt)

	rigidBodies.Each(w, func(entry *donburi.Entry) {
		if !dynamic(entry) {
			return
		}
		tr := components.RigidTransform.Get(entry)
		vel := components.RigidVelocity.Get(entry)

		if entry.HasComponent(components.ExternalForce) {
			if m, ok := components.MassOf(entry); ok && m > 0 {
				f := components.ExternalForce.Get(entry).Force.Mul(dt / m)
				vel.Linear = vel.Linear.Add(mgl32.Vec2{float32(f[0]), float32(f[1])})
			}
		}

		tr.Translation = tr.Translation.Add(mgl32.Vec3{vel.Linear[0] * h, vel.Linear[1] * h, 0})
		if vel.Angular != 0 {
			angle := frames.RotationAngle(tr.Rotation) + float64(vel.Angular*h)
			tr.Rotation = frames.RotationQuat(angle)
		}
	})

	var bodies []body
	colliders.Each(w, func(entry *donburi.Entry) {
		tr := components.RigidTransform.Get(entry)
		bodies = append(bodies, body{
			entity:  entry.Entity(),
			pos:     tr.Position().Vec(),
			radius:  components.Collider.Get(entry).Radius,
			dynamic: dynamic(entry) && entry.HasComponent(components.RigidVelocity),
		})
	})

	clear(r.contacts)
	for i := range bodies {
		for j := i + 1; j < len(bodies); j++ {
			a, b := bodies[i], bodies[j]
			if !a.dynamic && !b.dynamic {
				continue
			}
			d := b.pos.Sub(a.pos)
			dist := d.Len()
			limit := a.radius + b.radius
			if dist > limit+r.tolerance {
				continue
			}
			r.contacts[makePair(a.entity, b.entity)] = true
			if dist > 0 && dist < limit {
				r.resolve(w, a, b, d.Mul(1/dist), limit-dist)
			}
		}
	}
	return nil
}

// resolve pushes dynamic bodies apart along n (from a to b) and removes the
// approaching component of their velocity.
func (r *Reference) resolve(w donburi.World, a, b body, n mgl32.Vec2, depth float32) {
	share := float32(1)
	if a.dynamic && b.dynamic {
		share = 0.5
	}
	push := func(bd body, dir float32) {
		if !bd.dynamic {
			return
		}
		entry := w.Entry(bd.entity)
		tr := components.RigidTransform.Get(entry)
		vel := components.RigidVelocity.Get(entry)
		off := n.Mul(dir * depth * share)
		tr.Translation = tr.Translation.Add(mgl32.Vec3{off[0], off[1], 0})
		if approach := vel.Linear.Dot(n) * dir; approach < 0 {
			vel.Linear = vel.Linear.Sub(n.Mul(approach * dir))
		}
	}
	push(a, -1)
	push(b, 1)
}

// Contact reports whether a and b touched in the last step. Only touching
// pairs are recorded, so ok is false for everything else.
func (r *Reference) Contact(a, b donburi.Entity) (bool, bool) {
	c, ok := r.contacts[makePair(a, b)]
	return c, ok
}

// Contacts returns the number of touching pairs from the last step.
func (r *Reference) Contacts() int {
	return len(r.contacts)
}
