// Package orbit fits planar two-body orbits to relative state vectors and
// evaluates them at arbitrary times.
package orbit

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/soniakeys/meeus/v3/kepler"
	"github.com/soniakeys/unit"
)

// Shape is the conic section an orbit follows.
type Shape uint8

const (
	// Degenerate covers zero gravitational parameter and zero radius. The
	// body moves in a straight line at its fitted velocity.
	Degenerate Shape = iota
	Elliptic
	Parabolic
	Hyperbolic
	// Radial is rectilinear motion along the line through the parent, which
	// is what zero angular momentum leaves. A body that reaches the parent's
	// centre comes back out along the same line.
	Radial
)

func (s Shape) String() string {
	switch s {
	case Elliptic:
		return "elliptic"
	case Parabolic:
		return "parabolic"
	case Hyperbolic:
		return "hyperbolic"
	case Radial:
		return "radial"
	default:
		return "degenerate"
	}
}

// parabolicBand is how close to 1 an eccentricity must be to use Barker's
// equation.
const parabolicBand = 1e-10

// keplerPlaces is the decimal precision requested from the elliptic solver.
const keplerPlaces = 14

// Orbit is an osculating orbit cached at fit time. All derived constants are
// computed once by Fit; StateAt does no allocation.
type Orbit struct {
	shape Shape

	mu    float64
	epoch float64

	// semiLatusRectum is p = h^2 / mu.
	semiLatusRectum float64
	eccentricity    float64
	// argPeriapsis is the angle of the periapsis from the +x axis.
	argPeriapsis float64
	// direction is +1 for counter-clockwise motion, -1 for clockwise.
	direction float64
	// meanMotion is in radians per second.
	meanMotion float64
	// meanAnomalyAtEpoch is M0 (or Barker's M for parabolic orbits).
	meanAnomalyAtEpoch float64

	// fitted state, used for the degenerate case
	position mgl64.Vec2
	velocity mgl64.Vec2

	// radial motion: unit vector away from the parent, specific orbital
	// energy and the length scale a = mu / (2|energy|)
	axis   mgl64.Vec2
	energy float64
	scale  float64
}

// Fit returns the orbit passing through relPos with velocity relVel at time
// epoch around a body with gravitational parameter mu.
//
// Fit is deterministic: identical arguments always produce identical orbits.
func Fit(relPos, relVel mgl64.Vec2, mu, epoch float64) Orbit {
	o := Orbit{
		mu:       mu,
		epoch:    epoch,
		position: relPos,
		velocity: relVel,
	}

	r := relPos.Len()
	h := relPos[0]*relVel[1] - relPos[1]*relVel[0]
	if mu <= 0 || r == 0 {
		o.shape = Degenerate
		return o
	}
	if h == 0 {
		o.fitRadial(relPos, relVel, r)
		return o
	}

	o.direction = 1
	if h < 0 {
		o.direction = -1
	}

	// eccentricity vector: ((v^2 - mu/r) r - (r.v) v) / mu
	v2 := relVel.Dot(relVel)
	rv := relPos.Dot(relVel)
	ecc := relPos.Mul(v2 - mu/r).Sub(relVel.Mul(rv)).Mul(1 / mu)

	o.eccentricity = ecc.Len()
	o.semiLatusRectum = h * h / mu

	theta := math.Atan2(relPos[1], relPos[0])
	if o.eccentricity < 1e-12 {
		// circular: measure from the fitted position
		o.eccentricity = 0
		o.argPeriapsis = theta
	} else {
		o.argPeriapsis = math.Atan2(ecc[1], ecc[0])
	}

	nu := NormalizeAngle(o.direction * (theta - o.argPeriapsis))
	e := o.eccentricity
	p := o.semiLatusRectum

	switch {
	case math.Abs(e-1) < parabolicBand:
		o.shape = Parabolic
		o.meanMotion = 2 * math.Sqrt(mu/(p*p*p))
		d := math.Tan(nu / 2)
		o.meanAnomalyAtEpoch = d + d*d*d/3
	case e < 1:
		o.shape = Elliptic
		a := p / (1 - e*e)
		o.meanMotion = math.Sqrt(mu / (a * a * a))
		ea := math.Atan2(math.Sqrt(1-e*e)*math.Sin(nu), e+math.Cos(nu))
		o.meanAnomalyAtEpoch = NormalizeAngle(ea - e*math.Sin(ea))
	default:
		o.shape = Hyperbolic
		a := p / (e*e - 1)
		o.meanMotion = math.Sqrt(mu / (a * a * a))
		f := 2 * math.Atanh(math.Sqrt((e-1)/(e+1))*math.Tan(nu/2))
		o.meanAnomalyAtEpoch = e*math.Sinh(f) - f
	}

	return o
}

// fitRadial fits rectilinear motion. Bound motion is the e=1 ellipse
// r = a(1 - cos E), M = E - sin E; unbound motion is r = a(cosh F - 1),
// M = sinh F - F; zero energy gives r = (9/2 mu tau^2)^(1/3).
func (o *Orbit) fitRadial(relPos, relVel mgl64.Vec2, r float64) {
	o.shape = Radial
	o.eccentricity = 1
	o.axis = relPos.Mul(1 / r)
	vr := relVel.Dot(o.axis)
	mu := o.mu
	o.energy = vr*vr/2 - mu/r

	switch {
	case math.Abs(2*o.energy*r/mu) < parabolicBand:
		o.energy = 0
		o.meanMotion = 1
		o.meanAnomalyAtEpoch = math.Copysign(math.Sqrt(2*r*r*r/(9*mu)), vr)
	case o.energy < 0:
		a := -mu / (2 * o.energy)
		o.scale = a
		o.meanMotion = math.Sqrt(mu / (a * a * a))
		ea := math.Acos(max(-1, min(1, 1-r/a)))
		if vr < 0 {
			ea = 2*math.Pi - ea
		}
		o.meanAnomalyAtEpoch = ea - math.Sin(ea)
	default:
		a := mu / (2 * o.energy)
		o.scale = a
		o.meanMotion = math.Sqrt(mu / (a * a * a))
		f := math.Acosh(1 + r/a)
		if vr < 0 {
			f = -f
		}
		o.meanAnomalyAtEpoch = math.Sinh(f) - f
	}
}

func (o Orbit) radialAt(t float64) (mgl64.Vec2, mgl64.Vec2) {
	m := o.meanAnomalyAtEpoch + o.meanMotion*(t-o.epoch)

	var r, v float64
	switch {
	case o.energy == 0:
		r = math.Cbrt(4.5 * o.mu * m * m)
		if r > 0 {
			v = math.Copysign(math.Sqrt(2*o.mu/r), m)
		}
	case o.energy < 0:
		half := solveRadialElliptic(m) / 2
		s := math.Sin(half)
		r = 2 * o.scale * s * s
		if s != 0 {
			v = math.Sqrt(o.mu/o.scale) * math.Cos(half) / s
		}
	default:
		half := solveRadialHyperbolic(m) / 2
		s := math.Sinh(half)
		r = 2 * o.scale * s * s
		if s != 0 {
			v = math.Sqrt(o.mu/o.scale) * math.Cosh(half) / s
		}
	}
	return o.axis.Mul(r), o.axis.Mul(v)
}

// StateAt returns the relative position and velocity at time t.
func (o Orbit) StateAt(t float64) (mgl64.Vec2, mgl64.Vec2) {
	switch o.shape {
	case Degenerate:
		return o.position.Add(o.velocity.Mul(t - o.epoch)), o.velocity
	case Radial:
		return o.radialAt(t)
	}

	nu := o.trueAnomalyAt(t)
	e := o.eccentricity
	p := o.semiLatusRectum

	r := p / (1 + e*math.Cos(nu))
	theta := o.argPeriapsis + o.direction*nu
	radial := mgl64.Vec2{math.Cos(theta), math.Sin(theta)}
	tangent := mgl64.Vec2{-radial[1], radial[0]}

	k := math.Sqrt(o.mu / p)
	vr := k * e * math.Sin(nu)
	vt := k * (1 + e*math.Cos(nu))

	pos := radial.Mul(r)
	vel := radial.Mul(vr).Add(tangent.Mul(o.direction * vt))
	return pos, vel
}

func (o Orbit) trueAnomalyAt(t float64) float64 {
	e := o.eccentricity
	m := o.meanAnomalyAtEpoch + o.meanMotion*(t-o.epoch)

	switch o.shape {
	case Elliptic:
		ea := solveElliptic(e, NormalizeAngle(m))
		return kepler.True(unit.Angle(ea), e).Rad()
	case Parabolic:
		return 2 * math.Atan(solveBarker(m))
	default:
		f := solveHyperbolic(e, m)
		return 2 * math.Atan(math.Sqrt((e+1)/(e-1))*math.Tanh(f/2))
	}
}

func solveElliptic(e, m float64) float64 {
	ea, err := kepler.Kepler2b(e, unit.Angle(m), keplerPlaces)
	if err != nil {
		// bisection always converges for e < 1
		ea = kepler.Kepler3(e, unit.Angle(m))
	}
	return ea.Rad()
}

// solveBarker solves D + D^3/3 = m for D.
func solveBarker(m float64) float64 {
	u := math.Cbrt(1.5*m + math.Sqrt(2.25*m*m+1))
	return u - 1/u
}

// solveHyperbolic solves e sinh F - F = m for F by Newton iteration.
func solveHyperbolic(e, m float64) float64 {
	if m == 0 {
		return 0
	}
	f := math.Asinh(m / e)
	if math.Abs(m) > e {
		f = math.Copysign(math.Log(2*math.Abs(m)/e+1.8), m)
	}
	for range 64 {
		step := (e*math.Sinh(f) - f - m) / (e*math.Cosh(f) - 1)
		f -= step
		if math.Abs(step) <= 1e-15*math.Max(1, math.Abs(f)) {
			break
		}
	}
	return f
}

// solveRadialElliptic solves E - sin E = m for E in [0, 2pi). m wraps, so
// motion continues through the centre.
func solveRadialElliptic(m float64) float64 {
	m = math.Mod(m, 2*math.Pi)
	if m < 0 {
		m += 2 * math.Pi
	}
	if m > math.Pi {
		return 2*math.Pi - solveRadialElliptic(2*math.Pi-m)
	}
	if m == 0 {
		return 0
	}

	// Newton inside a shrinking bracket; E - sin E is monotonic on [0, pi]
	lo, hi := 0.0, math.Pi
	ea := min(math.Cbrt(6*m), math.Pi)
	for range 64 {
		f := ea - math.Sin(ea) - m
		if f == 0 {
			return ea
		}
		if f > 0 {
			hi = ea
		} else {
			lo = ea
		}
		s := math.Sin(ea / 2)
		d := 2 * s * s
		next := ea - f/d
		if d == 0 || next <= lo || next >= hi {
			next = (lo + hi) / 2
		}
		if math.Abs(next-ea) <= 1e-15*math.Max(1, ea) {
			return next
		}
		ea = next
	}
	return ea
}

// solveRadialHyperbolic solves sinh F - F = m for F.
func solveRadialHyperbolic(m float64) float64 {
	if m == 0 {
		return 0
	}
	am := math.Abs(m)
	// sinh F - F is convex for F > 0 and both guesses overshoot, so Newton
	// descends monotonically.
	f := min(math.Cbrt(6*am), math.Log(2*am+1)+2)
	for range 64 {
		s := math.Sinh(f / 2)
		step := (math.Sinh(f) - f - am) / (2 * s * s)
		f -= step
		if math.Abs(step) <= 1e-15*math.Max(1, f) {
			break
		}
	}
	return math.Copysign(f, m)
}

// Shape returns the conic the orbit follows.
func (o Orbit) Shape() Shape { return o.shape }

// Eccentricity returns the orbit's eccentricity.
func (o Orbit) Eccentricity() float64 { return o.eccentricity }

// Epoch returns the time the orbit was fitted at.
func (o Orbit) Epoch() float64 { return o.epoch }

// Mu returns the gravitational parameter the orbit was fitted with.
func (o Orbit) Mu() float64 { return o.mu }

// ArgumentOfPeriapsis returns the periapsis direction in radians.
func (o Orbit) ArgumentOfPeriapsis() float64 { return o.argPeriapsis }

// Retrograde reports whether the orbit runs clockwise.
func (o Orbit) Retrograde() bool { return o.direction < 0 }

// Periapsis returns the closest approach distance.
func (o Orbit) Periapsis() float64 {
	switch o.shape {
	case Degenerate:
		return o.position.Len()
	case Radial:
		return 0
	}
	return o.semiLatusRectum / (1 + o.eccentricity)
}

// Apoapsis returns the farthest distance, or +Inf for open orbits.
func (o Orbit) Apoapsis() float64 {
	if o.shape == Radial && o.energy < 0 {
		return 2 * o.scale
	}
	if o.shape != Elliptic {
		return math.Inf(1)
	}
	return o.semiLatusRectum / (1 - o.eccentricity)
}

// Period returns the orbital period in seconds, or +Inf for open orbits.
func (o Orbit) Period() float64 {
	if o.shape == Radial && o.energy < 0 {
		return 2 * math.Pi / o.meanMotion
	}
	if o.shape != Elliptic {
		return math.Inf(1)
	}
	return 2 * math.Pi / o.meanMotion
}

func (o Orbit) String() string {
	if o.shape == Degenerate {
		return "degenerate"
	}
	return fmt.Sprintf("%s e=%.6g pe=%.6g ap=%.6g", o.shape, o.eccentricity, o.Periapsis(), o.Apoapsis())
}

// NormalizeAngle wraps a into [-pi, pi).
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
