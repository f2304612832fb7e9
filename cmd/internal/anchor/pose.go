package anchor

import "math"

const poseEpsilon = 1e-9

// Vec3 is a position or direction in meters.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Scale returns v*s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Cross returns v×o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Dot returns v·o.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) finite() bool { return finite(v.X) && finite(v.Y) && finite(v.Z) }

// Quat is an orientation quaternion (X, Y, Z imaginary; W real).
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat is the no-rotation orientation.
func IdentityQuat() Quat { return Quat{W: 1} }

// Norm returns the quaternion length.
func (q Quat) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalize returns q scaled to unit length. A zero quaternion becomes identity.
func (q Quat) Normalize() Quat {
	n := q.Norm()
	if n < poseEpsilon {
		return IdentityQuat()
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Conj returns the conjugate, which is the inverse of a unit quaternion.
func (q Quat) Conj() Quat { return Quat{-q.X, -q.Y, -q.Z, q.W} }

// Mul returns the Hamilton product q*o (apply o, then q).
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// Rotate applies the rotation to v. q must be unit length.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// AxisAngle builds a unit quaternion rotating rad radians about axis.
func AxisAngle(axis Vec3, rad float64) Quat {
	n := math.Sqrt(axis.Dot(axis))
	if n < poseEpsilon {
		return IdentityQuat()
	}
	s := math.Sin(rad/2) / n
	return Quat{axis.X * s, axis.Y * s, axis.Z * s, math.Cos(rad / 2)}
}

func (q Quat) finite() bool {
	return finite(q.X) && finite(q.Y) && finite(q.Z) && finite(q.W)
}

// Pose is a rigid transform: orientation followed by translation.
type Pose struct {
	Position    Vec3
	Orientation Quat
}

// IdentityPose is the origin with identity orientation.
func IdentityPose() Pose { return Pose{Orientation: IdentityQuat()} }

// Valid reports whether all components are finite and the orientation is non-degenerate.
func (p Pose) Valid() bool {
	if !p.Position.finite() || !p.Orientation.finite() {
		return false
	}
	return p.Orientation.Norm() > poseEpsilon
}

// Mul composes p∘o: the transform that applies o, then p.
func (p Pose) Mul(o Pose) Pose {
	q := p.Orientation.Normalize()
	return Pose{
		Position:    p.Position.Add(q.Rotate(o.Position)),
		Orientation: q.Mul(o.Orientation.Normalize()),
	}
}

// Inverse returns the transform that undoes p.
func (p Pose) Inverse() Pose {
	inv := p.Orientation.Normalize().Conj()
	return Pose{
		Position:    inv.Rotate(p.Position).Scale(-1),
		Orientation: inv,
	}
}

// Apply transforms point v by p.
func (p Pose) Apply(v Vec3) Vec3 {
	return p.Position.Add(p.Orientation.Normalize().Rotate(v))
}

// ApproxEqual compares poses component-wise within tol. Orientations q and -q are equal.
func (p Pose) ApproxEqual(o Pose, tol float64) bool {
	if !near(p.Position.X, o.Position.X, tol) ||
		!near(p.Position.Y, o.Position.Y, tol) ||
		!near(p.Position.Z, o.Position.Z, tol) {
		return false
	}
	a, b := p.Orientation.Normalize(), o.Orientation.Normalize()
	dot := a.X*b.X + a.Y*b.Y + a.Z*b.Z + a.W*b.W
	return near(math.Abs(dot), 1, tol)
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
