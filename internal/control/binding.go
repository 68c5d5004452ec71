package control

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

type Kind int

const (
	Offset Kind = iota
	Uniform
	Scaled
)

func (k Kind) String() string {
	switch k {
	case Offset:
		return "offset"
	case Uniform:
		return "uniform"
	case Scaled:
		return "scaled"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Field int

const (
	Velocity Field = iota
	Position
)

func (f Field) String() string {
	if f == Position {
		return "position"
	}
	return "velocity"
}

// Binding describes how a control vector enters the initial state.
type Binding struct {
	Kind  Kind
	Field Field
	Range trajectory.Range
	// Basis is the fixed per-particle field of a Scaled binding, one entry
	// per particle in Range.
	Basis []r3.Vec
}

// Size is the length of the flat control vector.
func (b Binding) Size() int {
	switch b.Kind {
	case Offset:
		return 3 * b.Range.Len()
	case Uniform:
		return 3
	}
	return 1
}

// Check validates the binding against a particle count.
func (b Binding) Check(n int) error {
	if err := b.Range.Check(n); err != nil {
		return fmt.Errorf("%w: %v", mpm.ErrConfiguration, err)
	}
	switch b.Kind {
	case Offset, Uniform:
	case Scaled:
		if len(b.Basis) != b.Range.Len() {
			return fmt.Errorf("%w: scaled basis has %d entries, range holds %d", mpm.ErrShapeMismatch, len(b.Basis), b.Range.Len())
		}
	default:
		return fmt.Errorf("%w: unknown binding kind %v", mpm.ErrConfiguration, b.Kind)
	}
	if b.Field != Velocity && b.Field != Position {
		return fmt.Errorf("%w: unknown binding field %d", mpm.ErrConfiguration, int(b.Field))
	}
	return nil
}

func (b Binding) field(s mpm.State) []r3.Vec {
	if b.Field == Position {
		return s.X
	}
	return s.V
}

// delta is the contribution of vals to particle p of the range.
func (b Binding) delta(vals []float64, p int) r3.Vec {
	switch b.Kind {
	case Offset:
		return r3.Vec{X: vals[3*p], Y: vals[3*p+1], Z: vals[3*p+2]}
	case Uniform:
		return r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]}
	}
	return r3.Scale(vals[0], b.Basis[p])
}

func (b Binding) apply(vals []float64, s mpm.State) {
	dst := b.field(s)[b.Range.Start:b.Range.End]
	for p := range dst {
		dst[p] = r3.Add(dst[p], b.delta(vals, p))
	}
}

// Pullback maps the cotangent of the initial state onto the control vector.
func (b Binding) Pullback(g mpm.State) []float64 {
	src := b.field(g)[b.Range.Start:b.Range.End]
	out := make([]float64, b.Size())
	for p, v := range src {
		switch b.Kind {
		case Offset:
			out[3*p], out[3*p+1], out[3*p+2] = v.X, v.Y, v.Z
		case Uniform:
			out[0] += v.X
			out[1] += v.Y
			out[2] += v.Z
		case Scaled:
			out[0] += r3.Dot(v, b.Basis[p])
		}
	}
	return out
}
