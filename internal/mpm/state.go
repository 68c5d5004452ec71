package mpm

import "gonum.org/v1/gonum/spatial/r3"

// State holds every particle at one time instant: position, velocity, affine
// velocity field and deformation gradient. All four slices share one length.
//
// The same layout doubles as a cotangent: the adjoint pass returns the
// gradient of a scalar with respect to each field as a State.
type State struct {
	X []r3.Vec
	V []r3.Vec
	C []Mat3
	F []Mat3
}

// NewState allocates n particles at rest with identity deformation.
func NewState(n int) State {
	s := ZeroState(n)
	for i := range s.F {
		s.F[i] = Identity()
	}
	return s
}

// ZeroState allocates n particles with every field zero.
func ZeroState(n int) State {
	return State{
		X: make([]r3.Vec, n),
		V: make([]r3.Vec, n),
		C: make([]Mat3, n),
		F: make([]Mat3, n),
	}
}

func (s State) Len() int { return len(s.X) }

func (s State) Clone() State {
	c := State{
		X: make([]r3.Vec, len(s.X)),
		V: make([]r3.Vec, len(s.V)),
		C: make([]Mat3, len(s.C)),
		F: make([]Mat3, len(s.F)),
	}
	copy(c.X, s.X)
	copy(c.V, s.V)
	copy(c.C, s.C)
	copy(c.F, s.F)
	return c
}

// Validate checks that every field holds exactly n particles.
func (s State) Validate(n int) error {
	if len(s.X) != n {
		return shapeError("position has %d particles, want %d", len(s.X), n)
	}
	if len(s.V) != n {
		return shapeError("velocity has %d particles, want %d", len(s.V), n)
	}
	if len(s.C) != n {
		return shapeError("affine velocity has %d particles, want %d", len(s.C), n)
	}
	if len(s.F) != n {
		return shapeError("deformation gradient has %d particles, want %d", len(s.F), n)
	}
	return nil
}

// AddScaled accumulates alpha*o into s field by field.
func (s State) AddScaled(alpha float64, o State) {
	for i := range s.X {
		s.X[i] = r3.Add(s.X[i], r3.Scale(alpha, o.X[i]))
		s.V[i] = r3.Add(s.V[i], r3.Scale(alpha, o.V[i]))
		s.C[i] = s.C[i].Add(o.C[i].Scale(alpha))
		s.F[i] = s.F[i].Add(o.F[i].Scale(alpha))
	}
}

// Dot is the inner product over every field, used to pair a state
// perturbation with a cotangent.
func (s State) Dot(o State) float64 {
	sum := 0.0
	for i := range s.X {
		sum += r3.Dot(s.X[i], o.X[i]) + r3.Dot(s.V[i], o.V[i])
		sum += s.C[i].Dot(o.C[i]) + s.F[i].Dot(o.F[i])
	}
	return sum
}

// Momentum returns the total linear momentum for a uniform particle mass.
func (s State) Momentum(mass float64) r3.Vec {
	var p r3.Vec
	for _, v := range s.V {
		p = r3.Add(p, v)
	}
	return r3.Scale(mass, p)
}
