package optim

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/diffmpm/internal/control"
	"github.com/san-kum/diffmpm/internal/diff"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/sim"
)

// Axis sweeps one component of one control variable.
type Axis struct {
	ID     string
	Index  int
	Values []float64
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

type SweepPoint struct {
	Values   []float64
	Loss     float64
	Diverged bool
}

// Sweep evaluates a loss on the full grid of axis values.
type Sweep struct {
	axes []Axis
}

func NewSweep(axes ...Axis) *Sweep {
	return &Sweep{axes: axes}
}

func (s *Sweep) Axes() []Axis { return s.axes }

// Points enumerates the cartesian product of the axis values, first axis
// outermost.
func (s *Sweep) Points() [][]float64 {
	var out [][]float64
	s.points(0, nil, &out)
	return out
}

func (s *Sweep) points(depth int, current []float64, out *[][]float64) {
	if depth == len(s.axes) {
		*out = append(*out, append([]float64(nil), current...))
		return
	}
	for _, v := range s.axes[depth].Values {
		s.points(depth+1, append(current, v), out)
	}
}

// Run simulates every point as one batch and returns them with the best one.
// Diverged points get an infinite loss.
func (s *Sweep) Run(ctx context.Context, sm *sim.Simulation, init mpm.State, steps int, loss diff.Expr, opts sim.RunOptions) ([]SweepPoint, SweepPoint, error) {
	base := sm.Controls().Snapshot()
	points := s.Points()
	settings := make([]sim.Setting, len(points))
	for i, p := range points {
		vals := base.Clone()
		for a, axis := range s.axes {
			if v, ok := vals[axis.ID]; ok && axis.Index < len(v) {
				v[axis.Index] = p[a]
			}
		}
		settings[i] = sim.Setting{Controls: vals, Options: opts}
	}

	memos, err := sm.Batch(ctx, init, steps, settings, loss)
	if err != nil {
		return nil, SweepPoint{}, err
	}

	out := make([]SweepPoint, len(points))
	best := SweepPoint{Loss: math.Inf(1)}
	for i, m := range memos {
		out[i] = SweepPoint{Values: points[i], Loss: m.Loss, Diverged: m.Diverged}
		if m.Diverged {
			out[i].Loss = math.Inf(1)
		}
		if out[i].Loss < best.Loss {
			best = out[i]
		}
	}
	return out, best, nil
}

// Validate checks every axis against the simulation's controls.
func (s *Sweep) Validate(store *control.Store) error {
	for _, a := range s.axes {
		b, err := store.Binding(a.ID)
		if err != nil {
			return err
		}
		if a.Index < 0 || a.Index >= b.Size() {
			return fmt.Errorf("%w: axis %s[%d] outside a vector of %d", mpm.ErrShapeMismatch, a.ID, a.Index, b.Size())
		}
	}
	return nil
}
