package mpm

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func randomDirection(rng *rand.Rand, n int) State {
	d := ZeroState(n)
	for p := 0; p < n; p++ {
		d.X[p] = randVec(rng, 1)
		d.V[p] = randVec(rng, 1)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				d.C[p][i][j] = 2*rng.Float64() - 1
				d.F[p][i][j] = 2*rng.Float64() - 1
			}
		}
	}
	return d
}

// checkBackward compares <gOut, dStep(in)[d]> against the central difference
// of <gOut, Step(in)> along d.
func checkBackward(t *testing.T, s *Stepper, in State, rng *rand.Rand) {
	t.Helper()
	n := in.Len()
	g := NewGrid(s.Params().Resolution)
	gOut := randomDirection(rng, n)

	loss := func(x State) float64 {
		var rec Record
		out, err := s.Step(g, x, &rec, 0)
		if err != nil {
			t.Fatalf("forward step: %v", err)
		}
		return gOut.Dot(out)
	}

	var rec Record
	if _, err := s.Step(g, in, &rec, 0); err != nil {
		t.Fatalf("forward step: %v", err)
	}
	gIn, err := s.Backward(in, &rec, gOut)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}

	const eps = 1e-6
	for trial := 0; trial < 4; trial++ {
		d := randomDirection(rng, n)
		plus, minus := in.Clone(), in.Clone()
		plus.AddScaled(eps, d)
		minus.AddScaled(-eps, d)

		fd := (loss(plus) - loss(minus)) / (2 * eps)
		an := gIn.Dot(d)
		if math.Abs(fd-an) > 1e-5*math.Max(1, math.Abs(an)) {
			t.Errorf("trial %d: adjoint %.10g, finite difference %.10g", trial, an, fd)
		}
	}
}

func TestBackwardInterior(t *testing.T) {
	p := testParams()
	p.Gravity = r3.Vec{Y: -1}
	s := mustStepper(t, p, NewOpen(testRes), nil)

	rng := rand.New(rand.NewSource(3))
	in := lattice(3, p.CellSize/2, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
	perturb(rng, in, 0.2, 0.5, 0.1)
	for i := range in.X {
		in.X[i] = r3.Add(in.X[i], randVec(rng, 0.01))
	}

	checkBackward(t, s, in, rng)
}

func TestBackwardSlipWall(t *testing.T) {
	p := testParams()
	p.Gravity = r3.Vec{Y: -1}
	box, err := NewBox(testRes, 3, Slip, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	s := mustStepper(t, p, box, nil)

	rng := rand.New(rand.NewSource(5))
	in := lattice(3, p.CellSize/2, r3.Vec{X: 0.5, Y: 0.22, Z: 0.5})
	perturb(rng, in, 0.05, 0.2, 0.05)
	for i := range in.V {
		in.V[i].Y -= 0.3
	}

	checkBackward(t, s, in, rng)
}

func TestBackwardReflectCorner(t *testing.T) {
	p := testParams()
	box, err := NewBox(testRes, 3, Reflect, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	s := mustStepper(t, p, box, nil)

	rng := rand.New(rand.NewSource(11))
	in := lattice(2, p.CellSize/2, r3.Vec{X: 0.19, Y: 0.19, Z: 0.81})
	perturb(rng, in, 0.05, 0.2, 0.05)
	for i := range in.V {
		in.V[i] = r3.Add(in.V[i], r3.Vec{X: -0.3, Y: -0.3, Z: 0.3})
	}

	checkBackward(t, s, in, rng)
}

func TestBackwardShapeMismatch(t *testing.T) {
	p := testParams()
	s := mustStepper(t, p, NewOpen(testRes), nil)
	in := lattice(2, p.CellSize/2, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})

	var rec Record
	if _, err := s.Step(NewGrid(testRes), in, &rec, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Backward(in, &rec, ZeroState(3)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}
