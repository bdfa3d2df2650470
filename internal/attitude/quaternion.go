package attitude

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAttitude is returned when a quaternion cannot be normalized
// (zero, NaN or infinite norm).
var ErrInvalidAttitude = errors.New("invalid attitude")

const (
	// normEpsilon is how far |q| may drift from 1 before Normalize rescales.
	normEpsilon = 1e-9
	// zeroNorm is the smallest norm still treated as a rotation.
	zeroNorm = 1e-12
)

// Quaternion is a rotation in (x, y, z, w) order, w being the scalar part.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Identity is the zero rotation.
func Identity() Quaternion { return Quaternion{W: 1} }

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalize returns q scaled to unit length.
func (q Quaternion) Normalize() (Quaternion, error) {
	n := q.Norm()
	if math.IsNaN(n) || math.IsInf(n, 0) || n < zeroNorm {
		return Quaternion{}, fmt.Errorf("%w: norm=%v", ErrInvalidAttitude, n)
	}
	if math.Abs(n-1) <= normEpsilon {
		return q, nil
	}
	return Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}, nil
}

func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W}
}

// Inverse returns q^-1. For unit quaternions this equals the conjugate.
func (q Quaternion) Inverse() (Quaternion, error) {
	n2 := q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W
	if math.IsNaN(n2) || math.IsInf(n2, 0) || n2 < zeroNorm*zeroNorm {
		return Quaternion{}, fmt.Errorf("%w: cannot invert norm^2=%v", ErrInvalidAttitude, n2)
	}
	c := q.Conjugate()
	return Quaternion{X: c.X / n2, Y: c.Y / n2, Z: c.Z / n2, W: c.W / n2}, nil
}

// Mul returns the Hamilton product q*r (apply r, then q), renormalized.
func (q Quaternion) Mul(r Quaternion) (Quaternion, error) {
	p := Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
	return p.Normalize()
}

// Rotate applies q to the body-frame vector v.
func (q Quaternion) Rotate(v [3]float64) [3]float64 {
	// v' = v + 2w(u x v) + 2 u x (u x v), u = (x,y,z)
	ux, uy, uz := q.X, q.Y, q.Z
	cx := uy*v[2] - uz*v[1]
	cy := uz*v[0] - ux*v[2]
	cz := ux*v[1] - uy*v[0]
	return [3]float64{
		v[0] + 2*q.W*cx + 2*(uy*cz-uz*cy),
		v[1] + 2*q.W*cy + 2*(uz*cx-ux*cz),
		v[2] + 2*q.W*cz + 2*(ux*cy-uy*cx),
	}
}

// ApproxEqual reports whether q and r describe the same rotation within tol.
// q and -q are the same rotation.
func (q Quaternion) ApproxEqual(r Quaternion, tol float64) bool {
	dot := q.X*r.X + q.Y*r.Y + q.Z*r.Z + q.W*r.W
	return math.Abs(math.Abs(dot)-1) <= tol
}
