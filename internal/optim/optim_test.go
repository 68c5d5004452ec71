package optim

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/control"
	"github.com/san-kum/diffmpm/internal/diff"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/sim"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

// quadratic is sum_i a_i (x_i - c_i)^2.
func quadratic(a, c []float64) ObjectiveFunc {
	return func(ctx context.Context, x []float64) (float64, []float64, error) {
		loss := 0.0
		grad := make([]float64, len(x))
		for i := range x {
			d := x[i] - c[i]
			loss += a[i] * d * d
			grad[i] = 2 * a[i] * d
		}
		return loss, grad, nil
	}
}

func TestDescentQuadratic(t *testing.T) {
	obj := quadratic([]float64{1, 2}, []float64{3, -1})
	d := Descent{LearningRate: 0.1, Iterations: 200, Tolerance: 1e-10}

	var calls int
	res, err := d.Run(context.Background(), obj, []float64{0, 0}, func(Step) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Error("descent did not converge")
	}
	if math.Abs(res.X[0]-3) > 1e-9 || math.Abs(res.X[1]+1) > 1e-9 {
		t.Errorf("X = %v, want [3 -1]", res.X)
	}
	if calls != len(res.History) || calls != res.Iterations {
		t.Errorf("callback ran %d times for %d iterations", calls, res.Iterations)
	}
	for i := 1; i < len(res.History); i++ {
		if res.History[i].Loss > res.History[i-1].Loss {
			t.Fatalf("loss increased at iteration %d", i)
		}
	}
}

func TestDescentErrors(t *testing.T) {
	obj := quadratic([]float64{1}, []float64{0})
	tests := []struct {
		name string
		d    Descent
	}{
		{"zero rate", Descent{LearningRate: 0, Iterations: 5}},
		{"no iterations", Descent{LearningRate: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.d.Run(context.Background(), obj, []float64{1}, nil); err == nil {
				t.Error("expected error")
			}
		})
	}

	stop := errors.New("stop")
	res, err := Descent{LearningRate: 0.1, Iterations: 10}.Run(context.Background(), obj, []float64{1}, func(s Step) error {
		if s.Iteration == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || res.Iterations != 3 {
		t.Errorf("err = %v after %d iterations", err, res.Iterations)
	}
}

func TestMinimizeQuadratic(t *testing.T) {
	for _, name := range Methods {
		t.Run(name, func(t *testing.T) {
			obj := quadratic([]float64{1, 4, 0.5}, []float64{1, 2, 3})
			res, err := Minimize(context.Background(), obj, []float64{0, 0, 0}, name, 500, nil)
			if err != nil {
				t.Fatal(err)
			}
			if res.Loss > 1e-8 {
				t.Errorf("loss = %g at %v", res.Loss, res.X)
			}
		})
	}

	if _, err := Minimize(context.Background(), quadratic([]float64{1}, []float64{0}), []float64{1}, "simplex", 10, nil); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestMinimizePropagatesObjectiveError(t *testing.T) {
	boom := errors.New("diverged")
	obj := ObjectiveFunc(func(ctx context.Context, x []float64) (float64, []float64, error) {
		return 0, nil, boom
	})
	if _, err := Minimize(context.Background(), obj, []float64{1}, "lbfgs", 10, nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want objective error", err)
	}
}

func TestSweepPoints(t *testing.T) {
	s := NewSweep(
		Axis{ID: "a", Values: []float64{1, 2}},
		Axis{ID: "b", Index: 1, Values: Linspace(0, 1, 3)},
	)
	points := s.Points()
	want := [][]float64{{1, 0}, {1, 0.5}, {1, 1}, {2, 0}, {2, 0.5}, {2, 1}}
	if len(points) != len(want) {
		t.Fatalf("got %d points, want %d", len(points), len(want))
	}
	for i := range want {
		if points[i][0] != want[i][0] || points[i][1] != want[i][1] {
			t.Errorf("point %d = %v, want %v", i, points[i], want[i])
		}
	}
	if got := Linspace(2, 5, 1); len(got) != 1 || got[0] != 2 {
		t.Errorf("Linspace with one point = %v", got)
	}
}

func pushSimulation(t *testing.T) (*sim.Simulation, mpm.State) {
	t.Helper()
	p := mpm.DefaultParams()
	p.Resolution = 16
	p.CellSize = 1.0 / 16
	box, err := mpm.NewBox(16, 3, mpm.Slip, 0)
	if err != nil {
		t.Fatal(err)
	}
	s, err := sim.New(p, 8, box)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Controls().Define("push", control.Binding{Kind: control.Uniform, Range: trajectory.All(8)}, nil); err != nil {
		t.Fatal(err)
	}
	init := mpm.NewState(8)
	for i := range init.X {
		init.X[i] = r3.Vec{
			X: 0.5 + float64(i&1)/32,
			Y: 0.5 + float64(i>>1&1)/32,
			Z: 0.5 + float64(i>>2&1)/32,
		}
	}
	return s, init
}

func TestSimObjectiveDescends(t *testing.T) {
	s, init := pushSimulation(t)
	loss := diff.DistanceSquared(diff.CenterOfMass(diff.Final, trajectory.All(8)), diff.Feed("goal"))
	obj, err := NewSimObjective(s, init, 10, loss, []string{"push"}, sim.RunOptions{
		Feeds: map[string]r3.Vec{"goal": {X: 0.55, Y: 0.5, Z: 0.5}},
	})
	if err != nil {
		t.Fatal(err)
	}
	x0, err := obj.Start()
	if err != nil {
		t.Fatal(err)
	}

	res, err := Descent{LearningRate: 5, Iterations: 8}.Run(context.Background(), obj, x0, nil)
	if err != nil {
		t.Fatal(err)
	}
	first, last := res.History[0].Loss, res.History[len(res.History)-1].Loss
	if last >= first {
		t.Errorf("loss did not decrease: %g -> %g", first, last)
	}
	if obj.Last == nil || obj.Last.Loss != res.Loss {
		t.Error("objective did not keep the last memo")
	}
	if res.X[0] <= 0 {
		t.Errorf("push should point toward the goal, got %v", res.X)
	}
}

func TestSweepRun(t *testing.T) {
	s, init := pushSimulation(t)
	loss := diff.SquaredNorm(diff.Sub(diff.CenterOfMass(diff.Final, trajectory.All(8)), diff.Const(r3.Vec{X: 0.6, Y: 0.51, Z: 0.51})))
	sw := NewSweep(Axis{ID: "push", Index: 0, Values: Linspace(-0.5, 1, 4)})
	if err := sw.Validate(s.Controls()); err != nil {
		t.Fatal(err)
	}

	points, best, err := sw.Run(context.Background(), s, init, 10, loss, sim.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 4 {
		t.Fatalf("got %d points", len(points))
	}
	if best.Values[0] != 1 {
		t.Errorf("best push = %v, want the largest", best.Values)
	}

	bad := NewSweep(Axis{ID: "push", Index: 5, Values: []float64{1}})
	if err := bad.Validate(s.Controls()); !errors.Is(err, mpm.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}
