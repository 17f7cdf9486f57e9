// Package rail models how a body's motion is owned: by the physics backend,
// by a cached orbit around its parent, or by a fixed attachment to its
// parent's surface.
package rail

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/hcsp/railsim/internal/orbit"
)

// Kind tags the variant held by a Mode.
type Kind uint8

const (
	KindNone Kind = iota
	KindOrbit
	KindSurface
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindOrbit:
		return "orbit"
	case KindSurface:
		return "surface"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Attachment is a fixed polar offset from the parent's center.
//
// The parent's own rotation is not folded into Angle.
type Attachment struct {
	Angle  float64
	Radius float64
}

// Mode is a closed sum type. The zero value is None.
type Mode struct {
	kind    Kind
	orbit   orbit.Orbit
	surface Attachment
}

// None returns the physics-owned mode.
func None() Mode { return Mode{} }

// OnOrbit returns an orbit-owned mode.
func OnOrbit(o orbit.Orbit) Mode { return Mode{kind: KindOrbit, orbit: o} }

// OnSurface returns a surface-owned mode.
func OnSurface(a Attachment) Mode { return Mode{kind: KindSurface, surface: a} }

// Kind returns the variant tag.
func (m Mode) Kind() Kind { return m.kind }

// IsNone reports whether the physics backend owns the motion.
func (m Mode) IsNone() bool { return m.kind == KindNone }

// AsOrbit returns the orbit if m is an orbit mode.
func (m Mode) AsOrbit() (orbit.Orbit, bool) {
	return m.orbit, m.kind == KindOrbit
}

// AsSurface returns the attachment if m is a surface mode.
func (m Mode) AsSurface() (Attachment, bool) {
	return m.surface, m.kind == KindSurface
}

func (m Mode) String() string {
	switch m.kind {
	case KindOrbit:
		return "orbit(" + m.orbit.String() + ")"
	case KindSurface:
		return fmt.Sprintf("surface(angle=%.6g, radius=%.6g)", m.surface.Angle, m.surface.Radius)
	default:
		return m.kind.String()
	}
}

// StateVectors is a position and velocity relative to a parent body.
type StateVectors struct {
	Position mgl64.Vec2
	Velocity mgl64.Vec2
}

// Sub returns s - o component-wise.
func (s StateVectors) Sub(o StateVectors) StateVectors {
	return StateVectors{
		Position: s.Position.Sub(o.Position),
		Velocity: s.Velocity.Sub(o.Velocity),
	}
}

// Classify decides the rail a body should ride given its state relative to
// its parent. A body in contact with its parent is attached to the surface;
// anything else gets an osculating orbit fitted at elapsed.
func Classify(relPos, relVel mgl64.Vec2, mu float64, contact bool, elapsed float64) Mode {
	if contact {
		return OnSurface(Attachment{
			Angle:  math.Atan2(relPos[1], relPos[0]),
			Radius: relPos.Len(),
		})
	}
	return OnOrbit(orbit.Fit(relPos, relVel, mu, elapsed))
}

// Evaluate returns the relative state vectors m prescribes at elapsed.
// Evaluating None is a programming error and panics.
func Evaluate(m Mode, elapsed float64) StateVectors {
	switch m.kind {
	case KindOrbit:
		pos, vel := m.orbit.StateAt(elapsed)
		return StateVectors{Position: pos, Velocity: vel}
	case KindSurface:
		s, c := math.Sincos(m.surface.Angle)
		return StateVectors{Position: mgl64.Vec2{c, s}.Mul(m.surface.Radius)}
	case KindNone:
		panic("rail: evaluated RailMode None; physics-owned bodies must be skipped")
	default:
		panic(fmt.Sprintf("rail: unknown mode %v", m.kind))
	}
}
