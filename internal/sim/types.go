package sim

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/control"
	"github.com/san-kum/diffmpm/internal/mpm"
)

// ErrNoRenderer is returned by Visualize when no renderer was configured.
var ErrNoRenderer = errors.New("sim: no renderer configured")

// Metric accumulates a scalar summary over the states of one run.
type Metric interface {
	Name() string
	Observe(step int, s mpm.State)
	Value() float64
	Reset()
}

// Observer is notified of every recorded state, step 0 included.
type Observer interface {
	OnStep(step int, s mpm.State)
}

type ObserverFunc func(step int, s mpm.State)

func (f ObserverFunc) OnStep(step int, s mpm.State) { f(step, s) }

// Renderer consumes the particle positions of every recorded step.
type Renderer interface {
	Render(frames [][]r3.Vec) error
}

type RenderFunc func(frames [][]r3.Vec) error

func (f RenderFunc) Render(frames [][]r3.Vec) error { return f(frames) }

// RunOptions carries per-run inputs that are not control variables.
type RunOptions struct {
	// Feeds supplies the values of diff.Feed placeholders in the loss.
	Feeds map[string]r3.Vec
}

// Setting is one entry of a batch: control values and feeds for a run.
type Setting struct {
	Controls control.Values
	Options  RunOptions
}
