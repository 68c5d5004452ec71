package optim

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Methods lists the gonum optimizers Minimize accepts.
var Methods = []string{"gradient-descent", "lbfgs", "bfgs", "cg"}

func method(name string) (optimize.Method, error) {
	switch name {
	case "gradient-descent", "gd":
		return &optimize.GradientDescent{}, nil
	case "lbfgs", "":
		return &optimize.LBFGS{}, nil
	case "bfgs":
		return &optimize.BFGS{}, nil
	case "cg":
		return &optimize.CG{}, nil
	}
	return nil, fmt.Errorf("unknown optimization method %q", name)
}

// Minimize runs a gonum line-search method on obj. Each distinct point is
// simulated once; Func and Grad share the result.
func Minimize(ctx context.Context, obj Objective, x0 []float64, name string, iterations int, onStep func(Step) error) (*Result, error) {
	m, err := method(name)
	if err != nil {
		return nil, err
	}

	var (
		lastX    []float64
		lastLoss float64
		lastGrad []float64
		evalErr  error
		res      = &Result{}
	)
	eval := func(x []float64) {
		if evalErr != nil || (lastX != nil && floats.Equal(x, lastX)) {
			return
		}
		loss, grad, err := obj.Evaluate(ctx, x)
		if err != nil {
			evalErr = err
			lastX, lastLoss, lastGrad = nil, math.Inf(1), make([]float64, len(x))
			return
		}
		lastX = append(lastX[:0:0], x...)
		lastLoss, lastGrad = loss, grad

		step := Step{Iteration: len(res.History), X: lastX, Loss: loss, GradNorm: floats.Norm(grad, 2)}
		res.History = append(res.History, step)
		if loss < res.Loss || res.X == nil {
			res.X, res.Loss = step.X, loss
		}
		if onStep != nil {
			evalErr = onStep(step)
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			eval(x)
			return lastLoss
		},
		Grad: func(grad, x []float64) {
			eval(x)
			copy(grad, lastGrad)
		},
		Status: func() (optimize.Status, error) {
			if evalErr != nil {
				return optimize.Failure, evalErr
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations: iterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 20,
		},
	}

	out, err := optimize.Minimize(problem, x0, settings, m)
	if evalErr != nil {
		return res, evalErr
	}
	if err != nil {
		return res, fmt.Errorf("minimize: %w", err)
	}
	res.Iterations = out.Stats.MajorIterations
	res.Converged = out.Status != optimize.IterationLimit && out.Status != optimize.FunctionEvaluationLimit
	return res, nil
}
