package mpm

import "gonum.org/v1/gonum/spatial/r3"

// Mat3 is a dense row-major 3x3 matrix. Value semantics keep the per-particle
// hot loops free of allocations.
type Mat3 [3][3]float64

func Identity() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Diag returns s*I.
func Diag(s float64) Mat3 {
	return Mat3{{s, 0, 0}, {0, s, 0}, {0, 0, s}}
}

func (a Mat3) Add(b Mat3) Mat3 {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a[i][j] += b[i][j]
		}
	}
	return a
}

func (a Mat3) Sub(b Mat3) Mat3 {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a[i][j] -= b[i][j]
		}
	}
	return a
}

func (a Mat3) Scale(s float64) Mat3 {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a[i][j] *= s
		}
	}
	return a
}

func (a Mat3) Mul(b Mat3) Mat3 {
	var c Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j] + a[i][2]*b[2][j]
		}
	}
	return c
}

func (a Mat3) T() Mat3 {
	return Mat3{
		{a[0][0], a[1][0], a[2][0]},
		{a[0][1], a[1][1], a[2][1]},
		{a[0][2], a[1][2], a[2][2]},
	}
}

func (a Mat3) Trace() float64 {
	return a[0][0] + a[1][1] + a[2][2]
}

func (a Mat3) Det() float64 {
	return a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) -
		a[0][1]*(a[1][0]*a[2][2]-a[1][2]*a[2][0]) +
		a[0][2]*(a[1][0]*a[2][1]-a[1][1]*a[2][0])
}

// Inverse returns the inverse and false when the matrix is singular.
func (a Mat3) Inverse() (Mat3, bool) {
	det := a.Det()
	if det == 0 {
		return Mat3{}, false
	}
	inv := 1 / det
	return Mat3{
		{
			(a[1][1]*a[2][2] - a[1][2]*a[2][1]) * inv,
			(a[0][2]*a[2][1] - a[0][1]*a[2][2]) * inv,
			(a[0][1]*a[1][2] - a[0][2]*a[1][1]) * inv,
		},
		{
			(a[1][2]*a[2][0] - a[1][0]*a[2][2]) * inv,
			(a[0][0]*a[2][2] - a[0][2]*a[2][0]) * inv,
			(a[0][2]*a[1][0] - a[0][0]*a[1][2]) * inv,
		},
		{
			(a[1][0]*a[2][1] - a[1][1]*a[2][0]) * inv,
			(a[0][1]*a[2][0] - a[0][0]*a[2][1]) * inv,
			(a[0][0]*a[1][1] - a[0][1]*a[1][0]) * inv,
		},
	}, true
}

func (a Mat3) MulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0][0]*v.X + a[0][1]*v.Y + a[0][2]*v.Z,
		Y: a[1][0]*v.X + a[1][1]*v.Y + a[1][2]*v.Z,
		Z: a[2][0]*v.X + a[2][1]*v.Y + a[2][2]*v.Z,
	}
}

// TMulVec returns a^T v.
func (a Mat3) TMulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0][0]*v.X + a[1][0]*v.Y + a[2][0]*v.Z,
		Y: a[0][1]*v.X + a[1][1]*v.Y + a[2][1]*v.Z,
		Z: a[0][2]*v.X + a[1][2]*v.Y + a[2][2]*v.Z,
	}
}

// Outer returns the rank-one matrix s * u v^T.
func Outer(s float64, u, v r3.Vec) Mat3 {
	return Mat3{
		{s * u.X * v.X, s * u.X * v.Y, s * u.X * v.Z},
		{s * u.Y * v.X, s * u.Y * v.Y, s * u.Y * v.Z},
		{s * u.Z * v.X, s * u.Z * v.Y, s * u.Z * v.Z},
	}
}

// AddOuter accumulates s * u v^T into a in place.
func (a *Mat3) AddOuter(s float64, u, v r3.Vec) {
	a[0][0] += s * u.X * v.X
	a[0][1] += s * u.X * v.Y
	a[0][2] += s * u.X * v.Z
	a[1][0] += s * u.Y * v.X
	a[1][1] += s * u.Y * v.Y
	a[1][2] += s * u.Y * v.Z
	a[2][0] += s * u.Z * v.X
	a[2][1] += s * u.Z * v.Y
	a[2][2] += s * u.Z * v.Z
}

// Dot is the Frobenius inner product.
func (a Mat3) Dot(b Mat3) float64 {
	s := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s += a[i][j] * b[i][j]
		}
	}
	return s
}

// Component returns v's d-th coordinate.
func Component(v r3.Vec, d int) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// WithComponent returns v with its d-th coordinate replaced.
func WithComponent(v r3.Vec, d int, x float64) r3.Vec {
	switch d {
	case 0:
		v.X = x
	case 1:
		v.Y = x
	default:
		v.Z = x
	}
	return v
}
