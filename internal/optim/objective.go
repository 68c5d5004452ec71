package optim

import (
	"context"
	"fmt"

	"github.com/san-kum/diffmpm/internal/control"
	"github.com/san-kum/diffmpm/internal/diff"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/sim"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

// Objective returns a loss and its gradient at x.
type Objective interface {
	Evaluate(ctx context.Context, x []float64) (float64, []float64, error)
}

type ObjectiveFunc func(ctx context.Context, x []float64) (float64, []float64, error)

func (f ObjectiveFunc) Evaluate(ctx context.Context, x []float64) (float64, []float64, error) {
	return f(ctx, x)
}

// SimObjective runs the simulation at the control vector x and differentiates
// the loss with one tape built up front.
type SimObjective struct {
	sim     *sim.Simulation
	init    mpm.State
	steps   int
	loss    diff.Expr
	ids     []string
	options sim.RunOptions
	tape    *diff.Tape

	// Last is the memo of the most recent evaluation.
	Last *trajectory.Memo
}

func NewSimObjective(s *sim.Simulation, init mpm.State, steps int, loss diff.Expr, ids []string, opts sim.RunOptions) (*SimObjective, error) {
	tape, err := s.BuildGradientTape(loss, ids)
	if err != nil {
		return nil, err
	}
	return &SimObjective{
		sim:     s,
		init:    init,
		steps:   steps,
		loss:    loss,
		ids:     append([]string(nil), ids...),
		options: opts,
		tape:    tape,
	}, nil
}

func (o *SimObjective) IDs() []string { return append([]string(nil), o.ids...) }

// Start returns the current stored values of the objective's controls.
func (o *SimObjective) Start() ([]float64, error) {
	return o.sim.Controls().Flatten(o.ids, o.sim.Controls().Snapshot())
}

// Values converts a flat vector back into control values.
func (o *SimObjective) Values(x []float64) (control.Values, error) {
	return o.sim.Controls().Unflatten(o.ids, x)
}

func (o *SimObjective) Evaluate(ctx context.Context, x []float64) (float64, []float64, error) {
	vals, err := o.Values(x)
	if err != nil {
		return 0, nil, err
	}
	memo, err := o.sim.Run(ctx, o.init, o.steps, vals, o.loss, o.options)
	o.Last = memo
	if err != nil {
		return 0, nil, fmt.Errorf("forward run: %w", err)
	}
	grads, err := o.sim.EvaluateGradients(ctx, o.tape, memo)
	if err != nil {
		return 0, nil, err
	}
	flat, err := o.sim.Controls().Flatten(o.ids, control.Values(grads))
	if err != nil {
		return 0, nil, err
	}
	return memo.Loss, flat, nil
}
