package active

import (
	"fmt"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yohamta/donburi"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
	"github.com/hcsp/railsim/internal/rail"
	"github.com/hcsp/railsim/internal/scene"
)

type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Warn(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("WARN: %s %v", msg, keysAndValues))
}

func (l *testLogger) warnings() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if len(m) > 4 && m[:5] == "WARN:" {
			n++
		}
	}
	return n
}

func spawn(t *testing.T) (donburi.World, donburi.Entity, donburi.Entity) {
	t.Helper()
	w := donburi.NewWorld()
	body, err := scene.SpawnCelestial(w, scene.CelestialBody{Name: "body", Radius: 10, Mass: 10})
	require.NoError(t, err)
	vessel, err := scene.SpawnVessel(w, scene.Vessel{
		Name:     "vessel",
		Mass:     1,
		Parent:   body,
		Position: frames.RootPosition{0.5, 1.5},
		Velocity: frames.RootVelocity{1, 0},
		RailMode: rail.OnSurface(rail.Attachment{Angle: 1, Radius: 2}),
	})
	require.NoError(t, err)
	return w, body, vessel
}

func TestTracker_EmptyUntilSwitch(t *testing.T) {
	w, _, _ := spawn(t)
	tr := NewTracker(&testLogger{})

	assert.False(t, tr.Snapshot().Set)
	assert.False(t, tr.Update(w))
}

func TestTracker_SwitchSeedsSnapshot(t *testing.T) {
	w, body, vessel := spawn(t)
	tr := NewTracker(&testLogger{})

	require.NoError(t, tr.Switch(w, vessel))

	snap := tr.Snapshot()
	assert.True(t, snap.IsActive(vessel))
	assert.False(t, snap.IsActive(body))
	assert.Equal(t, frames.RootPosition{0.5, 1.5}, snap.PrevPosition)
	assert.Equal(t, frames.RootVelocity{1, 0}, snap.PrevVelocity)
	assert.Equal(t, body, snap.PrevParent)
	assert.True(t, components.RailModeOf(w.Entry(vessel)).IsNone())
}

func TestTracker_UpdateRecordsCurrentState(t *testing.T) {
	w, _, vessel := spawn(t)
	tr := NewTracker(&testLogger{})
	require.NoError(t, tr.Switch(w, vessel))

	entry := w.Entry(vessel)
	components.RootPosition.SetValue(entry, frames.RootPosition{4, 5})
	components.RootVelocity.SetValue(entry, frames.RootVelocity(mgl64.Vec2{-1, 2}))

	// stale until Update runs
	assert.Equal(t, frames.RootPosition{0.5, 1.5}, tr.Snapshot().PrevPosition)

	require.True(t, tr.Update(w))
	assert.Equal(t, frames.RootPosition{4, 5}, tr.Snapshot().PrevPosition)
	assert.Equal(t, frames.RootVelocity{-1, 2}, tr.Snapshot().PrevVelocity)
}

func TestTracker_MissingVesselIsNonFatal(t *testing.T) {
	w, _, vessel := spawn(t)
	logger := &testLogger{}
	tr := NewTracker(logger)
	require.NoError(t, tr.Switch(w, vessel))
	before := tr.Snapshot()

	w.Remove(vessel)

	assert.False(t, tr.Update(w))
	assert.Equal(t, before, tr.Snapshot())
	assert.Equal(t, 1, logger.warnings())
}

func TestTracker_MissingComponentsIsNonFatal(t *testing.T) {
	w, _, vessel := spawn(t)
	logger := &testLogger{}
	tr := NewTracker(logger)
	require.NoError(t, tr.Switch(w, vessel))
	before := tr.Snapshot()

	w.Entry(vessel).RemoveComponent(components.RootVelocity)

	assert.False(t, tr.Update(w))
	assert.Equal(t, before, tr.Snapshot())
	assert.Equal(t, 1, logger.warnings())
}

func TestTracker_SwitchErrors(t *testing.T) {
	w, body, vessel := spawn(t)
	tr := NewTracker(&testLogger{})

	// celestial roots carry no parent
	err := tr.Switch(w, body)
	assert.ErrorIs(t, err, components.ErrMissingComponents)

	w.Remove(vessel)
	err = tr.Switch(w, vessel)
	assert.ErrorIs(t, err, components.ErrInvalidEntity)
	assert.False(t, tr.Snapshot().Set)
}

func TestTracker_ConcurrentReads(t *testing.T) {
	w, _, vessel := spawn(t)
	tr := NewTracker(&testLogger{})
	require.NoError(t, tr.Switch(w, vessel))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = tr.Snapshot()
			}
		}()
	}
	for range 100 {
		tr.Update(w)
	}
	wg.Wait()
	assert.True(t, tr.Snapshot().IsActive(vessel))
}
