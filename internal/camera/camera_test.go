package camera

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yohamta/donburi"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
	"github.com/hcsp/railsim/internal/scene"
)

func TestDetachedOffset(t *testing.T) {
	w := donburi.NewWorld()
	o := Detached(frames.RootPosition{10, -5})

	assert.False(t, o.IsAttached())
	assert.Equal(t, frames.RootPosition{10, -5}, o.RootPosition(w))
}

func TestAttachedOffsetFollowsEntity(t *testing.T) {
	w := donburi.NewWorld()
	body, err := scene.SpawnCelestial(w, scene.CelestialBody{Name: "body", Radius: 1, Position: frames.RootPosition{100, 200}})
	require.NoError(t, err)

	o := Attached(body, frames.RootPosition{}, mgl64.Vec2{1, 2})
	assert.Equal(t, frames.RootPosition{101, 202}, o.RootPosition(w))

	components.RootPosition.SetValue(w.Entry(body), frames.RootPosition{300, 400})
	assert.Equal(t, frames.RootPosition{301, 402}, o.RootPosition(w))

	// gone: stays at the last known position
	w.Remove(body)
	assert.Equal(t, frames.RootPosition{301, 402}, o.RootPosition(w))

	e, ok := o.Entity()
	assert.True(t, ok)
	assert.Equal(t, body, e)
}

func TestAttachedOffsetUsesInitialLastKnown(t *testing.T) {
	w := donburi.NewWorld()
	body, err := scene.SpawnCelestial(w, scene.CelestialBody{Name: "body", Radius: 1})
	require.NoError(t, err)
	w.Remove(body)

	o := Attached(body, frames.RootPosition{7, 8}, mgl64.Vec2{})
	assert.Equal(t, frames.RootPosition{7, 8}, o.RootPosition(w))
}

func TestZoomDefaultsAndClamps(t *testing.T) {
	c := New(Detached(frames.RootPosition{}))
	assert.Equal(t, 1.0, c.Zoom())

	c.SetZoom(1e30)
	assert.Equal(t, MaxZoom, c.Zoom())
	c.SetZoom(0)
	assert.Equal(t, MinZoom, c.Zoom())
	c.SetZoom(math.NaN())
	assert.Equal(t, MinZoom, c.Zoom())

	c.ResetZoom()
	assert.Equal(t, 1.0, c.Zoom())

	var zero Camera
	assert.Equal(t, 1.0, zero.Zoom())
}

func TestZoomInOutAreInverse(t *testing.T) {
	c := New(Detached(frames.RootPosition{}))

	c.ZoomIn(0.5)
	assert.InDelta(t, math.Exp(4), c.Zoom(), 1e-9)

	c.ZoomOut(0.5)
	assert.InDelta(t, 1, c.Zoom(), 1e-12)

	for range 1000 {
		c.ZoomIn(1)
	}
	assert.Equal(t, MaxZoom, c.Zoom())
}

func TestRotateWraps(t *testing.T) {
	c := New(Detached(frames.RootPosition{}))

	c.Rotate(3 * math.Pi / 2)
	assert.InDelta(t, -math.Pi/2, c.Rotation, 1e-12)
	assert.InDelta(t, -math.Pi/2, frames.RotationAngle(c.ViewQuat()), 1e-6)

	c.ResetRotation()
	assert.Equal(t, 0.0, c.Rotation)
}

func TestPan(t *testing.T) {
	w := donburi.NewWorld()
	c := New(Detached(frames.RootPosition{1, 1}))
	c.Pan(mgl64.Vec2{2, 3})
	assert.Equal(t, frames.RootPosition{3, 4}, c.Offset.RootPosition(w))

	body, err := scene.SpawnCelestial(w, scene.CelestialBody{Name: "body", Radius: 1, Position: frames.RootPosition{10, 10}})
	require.NoError(t, err)
	a := New(Attached(body, frames.RootPosition{}, mgl64.Vec2{}))
	a.Pan(mgl64.Vec2{-1, 5})
	assert.Equal(t, frames.RootPosition{9, 15}, a.Offset.RootPosition(w))
}
