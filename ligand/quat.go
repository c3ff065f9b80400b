package ligand

import "math"

// Quat is a rotation quaternion stored as (w, x, y, z).
type Quat [4]float32

// Identity is the rotation that does nothing.
var Identity = Quat{1, 0, 0, 0}

// AxisAngle returns the rotation of angle radians about the unit vector axis.
func AxisAngle(axis [3]float32, angle float32) Quat {
	s, c := math.Sincos(0.5 * float64(angle))
	sf := float32(s)
	return Quat{float32(c), sf * axis[0], sf * axis[1], sf * axis[2]}
}

// RotationVector returns the rotation about v by |v| radians.
func RotationVector(v [3]float32) Quat {
	n := norm(v)
	if n < 1e-12 {
		return Identity
	}
	inv := 1 / n
	return AxisAngle([3]float32{v[0] * inv, v[1] * inv, v[2] * inv}, n)
}

// Mul returns q*r, i.e. r applied first.
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		q[0]*r[0] - q[1]*r[1] - q[2]*r[2] - q[3]*r[3],
		q[0]*r[1] + q[1]*r[0] + q[2]*r[3] - q[3]*r[2],
		q[0]*r[2] - q[1]*r[3] + q[2]*r[0] + q[3]*r[1],
		q[0]*r[3] + q[1]*r[2] - q[2]*r[1] + q[3]*r[0],
	}
}

// Normalize rescales q to unit length.
func (q Quat) Normalize() Quat {
	n := float32(math.Sqrt(float64(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])))
	if n == 0 {
		return Identity
	}
	inv := 1 / n
	return Quat{q[0] * inv, q[1] * inv, q[2] * inv, q[3] * inv}
}

// Rotate applies q to v. q must be a unit quaternion.
func (q Quat) Rotate(v [3]float32) [3]float32 {
	m := q.Matrix()
	return m.Apply(v)
}

// Mat3 is a row-major 3x3 rotation matrix.
type Mat3 [9]float32

// Matrix converts the unit quaternion q to a rotation matrix.
func (q Quat) Matrix() Mat3 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	xx, yy, zz := x*x, y*y, z*z
	xy, xz, yz := x*y, x*z, y*z
	wx, wy, wz := w*x, w*y, w*z
	return Mat3{
		1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy),
		2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx),
		2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy),
	}
}

// Apply multiplies m by the column vector v.
func (m Mat3) Apply(v [3]float32) [3]float32 {
	return [3]float32{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

func norm(v [3]float32) float32 {
	return float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
}

func unit(v [3]float32) [3]float32 {
	n := norm(v)
	if n == 0 {
		return v
	}
	return [3]float32{v[0] / n, v[1] / n, v[2] / n}
}

func add(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// DistanceSqr returns the squared distance between a and b.
func DistanceSqr(a, b [3]float32) float32 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}
