package mathx

import "math"

const (
	Deg2Rad = math.Pi / 180
	Rad2Deg = 180 / math.Pi
)

// Quat is a rotation stored as a unit quaternion.
type Quat struct {
	X, Y, Z, W float64
}

var Identity = Quat{W: 1}

// AxisAngle builds a rotation of degrees around axis.
func AxisAngle(axis Vec3, degrees float64) Quat {
	l := axis.Len()
	if l == 0 {
		return Identity
	}
	axis = axis.Scale(1 / l)
	half := degrees * Deg2Rad / 2
	s := math.Sin(half)
	return Quat{X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s, W: math.Cos(half)}
}

// Euler builds a rotation from angles in degrees, applied Z then X then Y.
func Euler(x, y, z float64) Quat {
	return AxisAngle(Vec3{Y: 1}, y).Mul(AxisAngle(Vec3{X: 1}, x)).Mul(AxisAngle(Vec3{Z: 1}, z))
}

func (q Quat) Mul(o Quat) Quat {
	return Quat{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

func (q Quat) Dot(o Quat) float64 { return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W }

// Normalize returns q scaled to unit length; a zero quaternion becomes Identity.
func (q Quat) Normalize() Quat {
	l := math.Sqrt(q.Dot(q))
	if l == 0 {
		return Identity
	}
	return Quat{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// Angle returns the smallest angle in degrees between two rotations.
func Angle(a, b Quat) float64 {
	d := math.Abs(a.Normalize().Dot(b.Normalize()))
	if d >= 1 {
		return 0
	}
	return 2 * math.Acos(d) * Rad2Deg
}

// Slerp interpolates along the shortest arc; t is clamped to [0, 1].
func Slerp(a, b Quat, t float64) Quat {
	t = math.Max(0, math.Min(1, t))
	a, b = a.Normalize(), b.Normalize()
	cos := a.Dot(b)
	if cos < 0 {
		b = Quat{-b.X, -b.Y, -b.Z, -b.W}
		cos = -cos
	}
	if cos > 0.9995 {
		return Quat{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
			W: a.W + (b.W-a.W)*t,
		}.Normalize()
	}
	theta := math.Acos(cos)
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return Quat{
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
		W: a.W*wa + b.W*wb,
	}
}

// RotateTowards turns from toward to by at most maxDegrees and never past to.
func RotateTowards(from, to Quat, maxDegrees float64) Quat {
	angle := Angle(from, to)
	if angle == 0 || maxDegrees >= angle {
		return to.Normalize()
	}
	if maxDegrees <= 0 {
		return from.Normalize()
	}
	return Slerp(from, to, maxDegrees/angle)
}
