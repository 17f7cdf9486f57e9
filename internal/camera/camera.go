// Package camera holds the simulation camera: a reference point in root
// space, a zoom factor and a view rotation.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/yohamta/donburi"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
)

const (
	MinZoom = 1e-20
	MaxZoom = 1e20

	// DefaultZoomSpeed is the exponential zoom rate per second.
	DefaultZoomSpeed = 8.0
)

// Offset is where the camera sits: fixed in root space, or attached to an
// entity with a constant offset.
type Offset struct {
	attached  bool
	entity    donburi.Entity
	lastKnown frames.RootPosition
	offset    mgl64.Vec2
	fixed     frames.RootPosition
}

// Detached returns an offset fixed at p.
func Detached(p frames.RootPosition) Offset {
	return Offset{fixed: p}
}

// Attached returns an offset following entity. lastKnown is used until the
// entity's position has been read once.
func Attached(entity donburi.Entity, lastKnown frames.RootPosition, offset mgl64.Vec2) Offset {
	return Offset{attached: true, entity: entity, lastKnown: lastKnown, offset: offset}
}

// IsAttached reports whether the offset follows an entity.
func (o Offset) IsAttached() bool { return o.attached }

// Entity returns the followed entity, if any.
func (o Offset) Entity() (donburi.Entity, bool) { return o.entity, o.attached }

// RootPosition resolves the camera's reference point. An attached offset
// falls back to the entity's last known position when it is gone.
func (o *Offset) RootPosition(w donburi.World) frames.RootPosition {
	if !o.attached {
		return o.fixed
	}
	if w.Valid(o.entity) {
		if entry := w.Entry(o.entity); entry.HasComponent(components.RootPosition) {
			o.lastKnown = components.RootPosition.GetValue(entry)
		}
	}
	return frames.RootPosition(o.lastKnown.Vec().Add(o.offset))
}

// Camera is the viewpoint used for camera-space transforms.
type Camera struct {
	Offset    Offset
	Rotation  float64
	ZoomSpeed float64

	zoom float64
}

// New returns a camera at offset with zoom 1.
func New(offset Offset) *Camera {
	return &Camera{Offset: offset, ZoomSpeed: DefaultZoomSpeed, zoom: 1}
}

// Zoom returns the current zoom factor.
func (c *Camera) Zoom() float64 {
	if c.zoom == 0 {
		return 1
	}
	return c.zoom
}

// SetZoom sets the zoom, clamped to [MinZoom, MaxZoom].
func (c *Camera) SetZoom(z float64) {
	if math.IsNaN(z) {
		return
	}
	c.zoom = min(max(z, MinZoom), MaxZoom)
}

// ZoomIn zooms in for dt seconds at ZoomSpeed.
func (c *Camera) ZoomIn(dt float64) {
	c.SetZoom(c.Zoom() * math.Exp(c.ZoomSpeed*dt))
}

// ZoomOut zooms out for dt seconds at ZoomSpeed.
func (c *Camera) ZoomOut(dt float64) {
	c.SetZoom(c.Zoom() * math.Exp(-c.ZoomSpeed*dt))
}

// ResetZoom returns to zoom 1.
func (c *Camera) ResetZoom() { c.zoom = 1 }

// Rotate turns the view by radians.
func (c *Camera) Rotate(radians float64) {
	c.Rotation = math.Remainder(c.Rotation+radians, 2*math.Pi)
}

// ResetRotation clears the view rotation.
func (c *Camera) ResetRotation() { c.Rotation = 0 }

// Pan moves a detached camera by delta, or shifts an attached camera's
// offset from its entity.
func (c *Camera) Pan(delta mgl64.Vec2) {
	if c.Offset.attached {
		c.Offset.offset = c.Offset.offset.Add(delta)
		return
	}
	c.Offset.fixed = frames.RootPosition(c.Offset.fixed.Vec().Add(delta))
}

// ViewQuat returns the view rotation for the render layer.
func (c *Camera) ViewQuat() mgl32.Quat {
	return frames.RotationQuat(c.Rotation)
}
