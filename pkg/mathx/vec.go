// Package mathx holds the small amount of 3D math the replication layer
// needs: vectors, unit quaternions and critically damped smoothing.
package mathx

import "math"

// Vec3 is a position, scale or velocity in world units.
type Vec3 struct {
	X, Y, Z float64
}

var (
	Zero = Vec3{}
	One  = Vec3{X: 1, Y: 1, Z: 1}
)

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

func (v Vec3) LenSq() float64 { return v.Dot(v) }

// Dist returns the euclidean distance between two points.
func Dist(a, b Vec3) float64 { return a.Sub(b).Len() }

// ClampLen shortens v to at most max, keeping its direction.
func (v Vec3) ClampLen(max float64) Vec3 {
	sq := v.LenSq()
	if sq > max*max && sq > 0 {
		return v.Scale(max / math.Sqrt(sq))
	}
	return v
}

// Approx reports whether two scalars are within eps of each other.
func Approx(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}
