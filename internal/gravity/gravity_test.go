package gravity

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yohamta/donburi"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
	"github.com/hcsp/railsim/internal/orbit"
	"github.com/hcsp/railsim/internal/rail"
	"github.com/hcsp/railsim/internal/scene"
)

type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Warn(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("WARN: %s %v", msg, keysAndValues))
}

type fixture struct {
	w      donburi.World
	body   donburi.Entity
	vessel donburi.Entity
}

func newFixture(t *testing.T, vesselPos frames.RootPosition) fixture {
	t.Helper()
	w := donburi.NewWorld()

	body, err := scene.SpawnCelestial(w, scene.CelestialBody{Name: "body", Radius: 1, Mass: 1e12})
	require.NoError(t, err)

	vessel, err := scene.SpawnVessel(w, scene.Vessel{
		Name:     "vessel",
		Mass:     250,
		Parent:   body,
		Position: vesselPos,
	})
	require.NoError(t, err)

	return fixture{w: w, body: body, vessel: vessel}
}

func TestApply_VelocityMode(t *testing.T) {
	f := newFixture(t, frames.RootPosition{0, 100})
	a := New(DefaultConfig(), &testLogger{})

	stats := a.Apply(f.w, 0.5)

	assert.Equal(t, 1, stats.Applied)
	vel := components.RootVelocity.GetValue(f.w.Entry(f.vessel))
	want := G * 1e12 / (100 * 100) * 0.5
	assert.InDelta(t, 0, vel[0], 1e-15)
	assert.InDelta(t, -want, vel[1], 1e-12)
}

func TestApply_ForceMode(t *testing.T) {
	f := newFixture(t, frames.RootPosition{-30, 40})
	cfg := DefaultConfig()
	cfg.Mode = ModeForce
	a := New(cfg, &testLogger{})

	stats := a.Apply(f.w, 1)

	assert.Equal(t, 1, stats.Applied)
	entry := f.w.Entry(f.vessel)
	force := components.ExternalForce.GetValue(entry).Force
	magnitude := G * 250 * 1e12 / (50 * 50)
	assert.InDelta(t, magnitude, force.Len(), magnitude*1e-12)
	assert.InDelta(t, 0.6*magnitude, force[0], magnitude*1e-12)
	assert.InDelta(t, -0.8*magnitude, force[1], magnitude*1e-12)

	assert.Equal(t, frames.RootVelocity{}, components.RootVelocity.GetValue(entry))
}

func TestAcceleration_Symmetry(t *testing.T) {
	a := New(DefaultConfig(), &testLogger{})
	const m1, m2, r = 5.0e10, 7.0e3, 20.0

	onLight := a.Acceleration(mgl64.Vec2{r, 0}, m1)
	onHeavy := a.Acceleration(mgl64.Vec2{-r, 0}, m2)

	assert.InEpsilon(t, G*m1/(r*r), onLight.Len(), 1e-12)
	assert.InEpsilon(t, G*m2/(r*r), onHeavy.Len(), 1e-12)
	// equal and opposite forces
	assert.InDelta(t, 0, onLight.Mul(m2).Add(onHeavy.Mul(m1)).Len(), 1e-6)
}

func TestAcceleration_ClampsNearZero(t *testing.T) {
	a := New(Config{G: 1, MinDistanceSquared: 0.01}, &testLogger{})

	acc := a.Acceleration(mgl64.Vec2{0.001, 0}, 1)
	assert.False(t, math.IsInf(acc.Len(), 0))
	assert.InDelta(t, 100, acc.Len(), 1e-9)

	assert.Equal(t, mgl64.Vec2{}, a.Acceleration(mgl64.Vec2{}, 1))
}

func TestApply_CoincidentWithParent(t *testing.T) {
	for _, mode := range []Mode{ModeVelocity, ModeForce} {
		t.Run(mode.String(), func(t *testing.T) {
			f := newFixture(t, frames.RootPosition{})
			cfg := DefaultConfig()
			cfg.Mode = mode

			stats := New(cfg, &testLogger{}).Apply(f.w, 1)

			assert.Equal(t, 1, stats.Applied)
			entry := f.w.Entry(f.vessel)
			assert.Equal(t, frames.RootVelocity{}, components.RootVelocity.GetValue(entry))
			assert.Equal(t, mgl64.Vec2{}, components.ExternalForce.GetValue(entry).Force)
		})
	}
}

func TestApply_ZeroesUnloadedForce(t *testing.T) {
	f := newFixture(t, frames.RootPosition{0, 100})
	entry := f.w.Entry(f.vessel)
	components.ExternalForce.SetValue(entry, components.ForceData{Force: mgl64.Vec2{3, 4}})
	require.NoError(t, scene.SetLoaded(f.w, f.vessel, false))

	stats := New(DefaultConfig(), &testLogger{}).Apply(f.w, 1)

	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, 1, stats.Zeroed)
	entry = f.w.Entry(f.vessel)
	assert.Equal(t, mgl64.Vec2{}, components.ExternalForce.GetValue(entry).Force)
	assert.Equal(t, frames.RootVelocity{}, components.RootVelocity.GetValue(entry))
}

func TestApply_SkipsVesselsOnRails(t *testing.T) {
	f := newFixture(t, frames.RootPosition{0, 100})
	entry := f.w.Entry(f.vessel)
	components.RailMode.SetValue(entry, rail.OnOrbit(orbit.Fit(mgl64.Vec2{0, 100}, mgl64.Vec2{1, 0}, 1, 0)))

	stats := New(DefaultConfig(), &testLogger{}).Apply(f.w, 1)

	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, frames.RootVelocity{}, components.RootVelocity.GetValue(entry))
}

func TestApply_MissingParentWarns(t *testing.T) {
	f := newFixture(t, frames.RootPosition{0, 100})
	f.w.Remove(f.body)
	logger := &testLogger{}

	stats := New(DefaultConfig(), logger).Apply(f.w, 1)

	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, logger.messages, 1)
	assert.Contains(t, logger.messages[0], "missing a parent")
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"velocity", ModeVelocity, false},
		{"", ModeVelocity, false},
		{"FORCE", ModeForce, false},
		{" kinematic ", ModeVelocity, false},
		{"impulse", ModeVelocity, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
