package mpm

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// StencilSize is the number of grid nodes in a particle's support.
const StencilSize = 27

// Stencil is the quadratic B-spline support of one particle: the 3x3x3 block
// of nodes starting at Base, with separable per-axis weights. The same stencil
// is used to scatter (P2G) and gather (G2P).
type Stencil struct {
	Base [3]int
	// Fx is the particle position relative to Base in cell units, in [0.5, 1.5).
	Fx [3]float64
	// W[d][o] is the weight of node Base[d]+o along axis d.
	W [3][3]float64
	// DW[d][o] is dW[d][o]/dFx[d].
	DW [3][3]float64
}

// NewStencil computes the stencil of a particle at x for a grid with spacing
// 1/invDx.
func NewStencil(x r3.Vec, invDx float64) Stencil {
	var s Stencil
	for d := 0; d < 3; d++ {
		xc := Component(x, d) * invDx
		base := int(math.Floor(xc - 0.5))
		fx := xc - float64(base)
		s.Base[d] = base
		s.Fx[d] = fx

		a := 1.5 - fx
		b := fx - 1
		c := fx - 0.5
		s.W[d] = [3]float64{0.5 * a * a, 0.75 - b*b, 0.5 * c * c}
		s.DW[d] = [3]float64{-a, -2 * b, c}
	}
	return s
}

// InGrid reports whether every node of the stencil lies in [0, res)^3.
func (s *Stencil) InGrid(res int) bool {
	for d := 0; d < 3; d++ {
		if s.Base[d] < 0 || s.Base[d]+2 >= res {
			return false
		}
	}
	return true
}

// Weight returns the interpolation weight of node Base+(a,b,c).
func (s *Stencil) Weight(a, b, c int) float64 {
	return s.W[0][a] * s.W[1][b] * s.W[2][c]
}

// WeightGrad returns the gradient of Weight with respect to particle position.
func (s *Stencil) WeightGrad(a, b, c int, invDx float64) r3.Vec {
	return r3.Vec{
		X: s.DW[0][a] * s.W[1][b] * s.W[2][c] * invDx,
		Y: s.W[0][a] * s.DW[1][b] * s.W[2][c] * invDx,
		Z: s.W[0][a] * s.W[1][b] * s.DW[2][c] * invDx,
	}
}

// Offset returns x_node - x_particle for node Base+(a,b,c).
func (s *Stencil) Offset(a, b, c int, dx float64) r3.Vec {
	return r3.Vec{
		X: (float64(a) - s.Fx[0]) * dx,
		Y: (float64(b) - s.Fx[1]) * dx,
		Z: (float64(c) - s.Fx[2]) * dx,
	}
}

// Node returns the integer coordinates of node Base+(a,b,c).
func (s *Stencil) Node(a, b, c int) [3]int {
	return [3]int{s.Base[0] + a, s.Base[1] + b, s.Base[2] + c}
}
