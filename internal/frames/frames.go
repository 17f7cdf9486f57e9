// Package frames holds the value types for the three coordinate spaces the
// simulation works in and the conversions between them.
//
// Root space is global, double precision and authoritative. Rigid space is
// single precision and centered on the active vessel's previous-tick root
// position; it only exists for the duration of a physics step. Camera space
// is single precision, centered on the camera's reference point and scaled
// by zoom.
//
// Root to rigid and root to camera are the only places a float64 is
// narrowed to float32. The loss is bounded because rigid space is
// re-centered every tick.
package frames

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// RootPosition is a position in root space, in meters.
type RootPosition mgl64.Vec2

// RootVelocity is a linear velocity in root space, in meters per second.
type RootVelocity mgl64.Vec2

// RigidPosition is a position relative to the physics origin.
type RigidPosition mgl32.Vec2

// RigidVelocity is the physics backend's velocity representation.
type RigidVelocity struct {
	Linear  mgl32.Vec2
	Angular float32
}

// Transform is a single precision translation, rotation and scale.
type Transform struct {
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3
}

// IdentityTransform is centered, unrotated and unscaled.
func IdentityTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Mat4 returns the transform as translation * rotation * scale.
func (t Transform) Mat4() mgl32.Mat4 {
	return mgl32.Translate3D(t.Translation[0], t.Translation[1], t.Translation[2]).
		Mul4(t.Rotation.Mat4()).
		Mul4(mgl32.Scale3D(t.Scale[0], t.Scale[1], t.Scale[2]))
}

// RigidTransform is the physics backend's working transform.
type RigidTransform struct {
	Transform
}

// CameraTransform is the render layer's transform. Never fed back.
type CameraTransform struct {
	Transform
}

// Vec returns p as a plain vector.
func (p RootPosition) Vec() mgl64.Vec2 { return mgl64.Vec2(p) }

// Vec returns v as a plain vector.
func (v RootVelocity) Vec() mgl64.Vec2 { return mgl64.Vec2(v) }

// Vec returns p as a plain vector.
func (p RigidPosition) Vec() mgl32.Vec2 { return mgl32.Vec2(p) }

// ToRigid converts p into rigid space around origin. The subtraction happens
// in float64 before narrowing.
func (p RootPosition) ToRigid(origin RootPosition) RigidPosition {
	return RigidPosition(narrow(p.Vec().Sub(origin.Vec())))
}

// ToRoot converts p back into root space around origin.
func (p RigidPosition) ToRoot(origin RootPosition) RootPosition {
	return RootPosition(origin.Vec().Add(widen(p.Vec())))
}

// ToRigid converts v into rigid space relative to the origin's velocity.
func (v RootVelocity) ToRigid(origin RootVelocity, angular float32) RigidVelocity {
	return RigidVelocity{
		Linear:  narrow(v.Vec().Sub(origin.Vec())),
		Angular: angular,
	}
}

// ToRoot converts the linear part of v back into root space.
func (v RigidVelocity) ToRoot(origin RootVelocity) RootVelocity {
	return RootVelocity(origin.Vec().Add(widen(v.Linear)))
}

// Transform places p in a rigid transform with the given rotation and scale.
func (p RigidPosition) Transform(rotation mgl32.Quat, scale mgl32.Vec3) RigidTransform {
	return RigidTransform{Transform{
		Translation: mgl32.Vec3{p[0], p[1], 0},
		Rotation:    rotation,
		Scale:       scale,
	}}
}

// Position drops the z component of the translation.
func (t RigidTransform) Position() RigidPosition {
	return RigidPosition{t.Translation[0], t.Translation[1]}
}

// ToCamera computes (p - offset) * zoom with a uniform scale of zoom.
func (p RootPosition) ToCamera(rotation mgl32.Quat, offset RootPosition, zoom float64) CameraTransform {
	local := narrow(p.Vec().Sub(offset.Vec()).Mul(zoom))
	z := float32(zoom)
	return CameraTransform{Transform{
		Translation: mgl32.Vec3{local[0], local[1], 0},
		Rotation:    rotation,
		Scale:       mgl32.Vec3{z, z, z},
	}}
}

// RotationAngle returns the planar rotation of a quaternion that rotates
// about the z axis.
func RotationAngle(q mgl32.Quat) float64 {
	return 2 * math.Atan2(float64(q.V[2]), float64(q.W))
}

// RotationQuat returns the z axis rotation by angle radians.
func RotationQuat(angle float64) mgl32.Quat {
	return mgl32.QuatRotate(float32(angle), mgl32.Vec3{0, 0, 1})
}

func narrow(v mgl64.Vec2) mgl32.Vec2 {
	return mgl32.Vec2{float32(v[0]), float32(v[1])}
}

func widen(v mgl32.Vec2) mgl64.Vec2 {
	return mgl64.Vec2{float64(v[0]), float64(v[1])}
}
