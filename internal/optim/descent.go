package optim

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Step is reported after every objective evaluation.
type Step struct {
	Iteration int
	X         []float64
	Loss      float64
	GradNorm  float64
}

type Result struct {
	// X is the point at which Loss was evaluated.
	X          []float64
	Loss       float64
	History    []Step
	Iterations int
	Converged  bool
}

// Descent is plain gradient descent with a fixed learning rate,
// x <- x - rate * grad.
type Descent struct {
	LearningRate float64
	Iterations   int
	// Tolerance stops the loop once the gradient norm falls below it.
	Tolerance float64
}

// Run minimizes obj from x0. onStep may be nil; a non-nil error from it
// stops the loop and is returned.
func (d Descent) Run(ctx context.Context, obj Objective, x0 []float64, onStep func(Step) error) (*Result, error) {
	if d.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", d.LearningRate)
	}
	if d.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", d.Iterations)
	}

	x := append([]float64(nil), x0...)
	res := &Result{}
	for it := 0; it < d.Iterations; it++ {
		loss, grad, err := obj.Evaluate(ctx, x)
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", it, err)
		}
		step := Step{Iteration: it, X: append([]float64(nil), x...), Loss: loss, GradNorm: floats.Norm(grad, 2)}
		res.History = append(res.History, step)
		res.X, res.Loss, res.Iterations = step.X, loss, it+1
		if onStep != nil {
			if err := onStep(step); err != nil {
				return res, err
			}
		}
		if step.GradNorm <= d.Tolerance {
			res.Converged = true
			break
		}
		if it < d.Iterations-1 {
			floats.AddScaled(x, -d.LearningRate, grad)
		}
	}
	return res, nil
}
