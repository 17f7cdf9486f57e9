package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/yohamta/donburi"

	"github.com/hcsp/railsim/internal/frames"
	"github.com/hcsp/railsim/internal/gravity"
	"github.com/hcsp/railsim/internal/orbit"
	"github.com/hcsp/railsim/internal/rail"
	"github.com/hcsp/railsim/internal/scene"
)

const (
	earthRadius = 6378137.0
	earthMass   = 5.972e24

	moonRadius   = 1737400.0
	moonMass     = 7.342e22
	moonDistance = 384400e3

	satelliteAltitude = 400e3
)

// demoScene holds the entities of the demo world.
type demoScene struct {
	Earth     donburi.Entity
	Moon      donburi.Entity
	Shuttle   donburi.Entity
	Satellite donburi.Entity
	Lander    donburi.Entity
}

func circularSpeed(mu, r float64) float64 {
	return math.Sqrt(mu / r)
}

// buildScene spawns an earth with a loaded shuttle just above its surface, an
// unloaded satellite in low orbit and a moon carrying a lander on its
// surface.
func buildScene(w donburi.World, g float64) (demoScene, error) {
	if g == 0 {
		g = gravity.G
	}
	var s demoScene
	var err error

	s.Earth, err = scene.SpawnCelestial(w, scene.CelestialBody{Name: "earth", Radius: earthRadius, Mass: earthMass})
	if err != nil {
		return s, err
	}

	s.Shuttle, err = scene.SpawnVessel(w, scene.Vessel{
		Name:           "shuttle",
		Mass:           1000,
		ColliderRadius: 2,
		Parent:         s.Earth,
		Position:       frames.RootPosition{0, earthRadius + 100},
		Velocity:       frames.RootVelocity{100, 0},
	})
	if err != nil {
		return s, err
	}

	satR := earthRadius + satelliteAltitude
	satPos := mgl64.Vec2{satR, 0}
	satVel := mgl64.Vec2{0, circularSpeed(g*earthMass, satR)}
	s.Satellite, err = scene.SpawnVessel(w, scene.Vessel{
		Name:           "satellite",
		Mass:           420e3,
		ColliderRadius: 50,
		Parent:         s.Earth,
		Unloaded:       true,
		RailMode:       rail.OnOrbit(orbit.Fit(satPos, satVel, g*earthMass, 0)),
		Position:       frames.RootPosition(satPos),
		Velocity:       frames.RootVelocity(satVel),
	})
	if err != nil {
		return s, err
	}

	moonPos := mgl64.Vec2{-moonDistance, 0}
	moonVel := mgl64.Vec2{0, -circularSpeed(g*earthMass, moonDistance)}
	s.Moon, err = scene.SpawnCelestial(w, scene.CelestialBody{
		Name:     "moon",
		Radius:   moonRadius,
		Mass:     moonMass,
		Parent:   &s.Earth,
		RailMode: rail.OnOrbit(orbit.Fit(moonPos, moonVel, g*earthMass, 0)),
		Position: frames.RootPosition(moonPos),
		Velocity: frames.RootVelocity(moonVel),
	})
	if err != nil {
		return s, err
	}

	s.Lander, err = scene.SpawnVessel(w, scene.Vessel{
		Name:           "lander",
		Mass:           15e3,
		ColliderRadius: 4,
		Parent:         s.Moon,
		RailMode:       rail.OnSurface(rail.Attachment{Angle: math.Pi / 2, Radius: moonRadius}),
		Position:       frames.RootPosition(moonPos.Add(mgl64.Vec2{0, moonRadius})),
		Velocity:       frames.RootVelocity(moonVel),
	})
	if err != nil {
		return s, err
	}

	return s, nil
}
