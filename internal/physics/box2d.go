package physics

import (
	"fmt"
	"math"
	"strings"

	"github.com/ByteArena/box2d"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"github.com/hcsp/railsim/internal/components"
	"github.com/hcsp/railsim/internal/frames"
)

// Solver iterations per Box2D step.
const (
	Box2DVelocityIterations = 8
	Box2DPositionIterations = 3
)

var physicsBodies = donburi.NewQuery(filter.And(
	filter.Contains(components.RigidTransform),
	filter.Or(filter.Contains(components.RigidVelocity), filter.Contains(components.Collider)),
	filter.Not(filter.Contains(components.Unloaded)),
))

// Box2D runs the physics step on a Box2D world. Celestial bodies and railed
// vessels are kinematic; everything else is dynamic. Box2D caps how far a
// body may translate in one step, so rigid-space speeds above roughly
// 2 m per step are clamped.
type Box2D struct {
	world    box2d.B2World
	bodies   map[donburi.Entity]*box2d.B2Body
	radii    map[donburi.Entity]float32
	contacts map[pair]bool
}

// NewBox2D returns an engine with an empty Box2D world and no world gravity.
func NewBox2D() *Box2D {
	return &Box2D{
		world:    box2d.MakeB2World(box2d.MakeB2Vec2(0, 0)),
		bodies:   make(map[donburi.Entity]*box2d.B2Body),
		radii:    make(map[donburi.Entity]float32),
		contacts: make(map[pair]bool),
	}
}

func b2Vec(v mgl32.Vec2) box2d.B2Vec2 {
	return box2d.MakeB2Vec2(float64(v[0]), float64(v[1]))
}

func bodyType(entry *donburi.Entry) uint8 {
	if dynamic(entry) && entry.HasComponent(components.RigidVelocity) {
		return box2d.B2BodyType.B2_dynamicBody
	}
	return box2d.B2BodyType.B2_kinematicBody
}

// body returns the Box2D body mirroring entry, creating or rebuilding it
// when the collider changed.
func (b *Box2D) body(entry *donburi.Entry) *box2d.B2Body {
	e := entry.Entity()
	var radius float32
	if entry.HasComponent(components.Collider) {
		radius = components.Collider.Get(entry).Radius
	}

	if existing, ok := b.bodies[e]; ok {
		if b.radii[e] == radius {
			return existing
		}
		b.world.DestroyBody(existing)
	}

	def := box2d.MakeB2BodyDef()
	def.Type = bodyType(entry)
	def.AllowSleep = false
	def.UserData = e
	created := b.world.CreateBody(&def)
	if radius > 0 {
		shape := box2d.MakeB2CircleShape()
		shape.M_radius = float64(radius)
		created.CreateFixture(&shape, 1)
	}

	b.bodies[e] = created
	b.radii[e] = radius
	return created
}

// Step mirrors the world into Box2D, steps it and copies dynamic bodies back.
func (b *Box2D) Step(w donburi.World, dt float64) error {
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return ErrInvalidStep
	}

	seen := make(map[donburi.Entity]bool, len(b.bodies))
	physicsBodies.Each(w, func(entry *donburi.Entry) {
		e := entry.Entity()
		seen[e] = true
		bd := b.body(entry)
		if t := bodyType(entry); bd.GetType() != t {
			bd.SetType(t)
		}

		tr := components.RigidTransform.Get(entry)
		bd.SetTransform(b2Vec(tr.Position().Vec()), frames.RotationAngle(tr.Rotation))

		var vel frames.RigidVelocity
		if entry.HasComponent(components.RigidVelocity) {
			vel = *components.RigidVelocity.Get(entry)
		}
		if entry.HasComponent(components.ExternalForce) && bd.GetType() == box2d.B2BodyType.B2_dynamicBody {
			if m, ok := components.MassOf(entry); ok && m > 0 {
				f := components.ExternalForce.Get(entry).Force.Mul(dt / m)
				vel.Linear = vel.Linear.Add(mgl32.Vec2{float32(f[0]), float32(f[1])})
			}
		}
		bd.SetLinearVelocity(b2Vec(vel.Linear))
		bd.SetAngularVelocity(float64(vel.Angular))
	})

	for e, bd := range b.bodies {
		if !seen[e] {
			b.world.DestroyBody(bd)
			delete(b.bodies, e)
			delete(b.radii, e)
		}
	}

	b.world.Step(dt, Box2DVelocityIterations, Box2DPositionIterations)

	for e, bd := range b.bodies {
		if bd.GetType() != box2d.B2BodyType.B2_dynamicBody || !w.Valid(e) {
			continue
		}
		entry := w.Entry(e)
		tr := components.RigidTransform.Get(entry)
		p := bd.GetPosition()
		tr.Translation = mgl32.Vec3{float32(p.X), float32(p.Y), tr.Translation[2]}
		tr.Rotation = frames.RotationQuat(bd.GetAngle())

		v := bd.GetLinearVelocity()
		vel := components.RigidVelocity.Get(entry)
		vel.Linear = mgl32.Vec2{float32(v.X), float32(v.Y)}
		vel.Angular = float32(bd.GetAngularVelocity())
	}

	clear(b.contacts)
	for c := b.world.GetContactList(); c != nil; c = c.GetNext() {
		if !c.IsTouching() {
			continue
		}
		ea, okA := c.GetFixtureA().GetBody().GetUserData().(donburi.Entity)
		eb, okB := c.GetFixtureB().GetBody().GetUserData().(donburi.Entity)
		if okA && okB {
			b.contacts[makePair(ea, eb)] = true
		}
	}
	return nil
}

// Contact reports whether a and b touched in the last step.
func (b *Box2D) Contact(a, c donburi.Entity) (bool, bool) {
	touching, ok := b.contacts[makePair(a, c)]
	return touching, ok
}

// Contacts returns the number of touching pairs from the last step.
func (b *Box2D) Contacts() int {
	return len(b.contacts)
}

// Bodies returns how many bodies the Box2D world mirrors.
func (b *Box2D) Bodies() int {
	return len(b.bodies)
}

// Engine names accepted by New.
const (
	EngineReference = "reference"
	EngineBox2D     = "box2d"
)

// New builds the engine named name. tolerance only applies to the reference
// engine.
func New(name string, tolerance float32) (Engine, error) {
	switch strings.ToLower(name) {
	case "", EngineReference:
		return NewReference(tolerance), nil
	case EngineBox2D:
		return NewBox2D(), nil
	default:
		return nil, fmt.Errorf("unknown physics engine %q", name)
	}
}
