package trajectory

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/mpm"
)

var (
	// ErrMissingMemo indicates a gradient request without a valid forward
	// memo, or a memo produced for a different loss.
	ErrMissingMemo = errors.New("trajectory: missing or invalid memo")

	// ErrRange indicates a step or particle range outside the recorded run.
	ErrRange = errors.New("trajectory: range out of bounds")
)

// Range is the half-open particle interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func All(n int) Range { return Range{Start: 0, End: n} }

func (r Range) Len() int { return r.End - r.Start }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Check reports whether r is a non-empty subrange of n particles.
func (r Range) Check(n int) error {
	if r.Start < 0 || r.End > n || r.Start >= r.End {
		return fmt.Errorf("%w: particle range %v of %d particles", ErrRange, r, n)
	}
	return nil
}

// Frame is one recorded step: the state it consumed and the record needed to
// replay it backward.
type Frame struct {
	Step   int
	Before mpm.State
	Record mpm.Record
}

// Memo is the retained forward trajectory of one run. It is append-only while
// the run is in progress and read-only afterwards.
type Memo struct {
	// Signature identifies the loss expression the run was evaluated with.
	Signature string
	N         int
	Frames    []Frame
	// Last is the state after the final recorded frame.
	Last mpm.State

	Loss       float64
	Diverged   bool
	DivergedAt int
	// Incomplete marks a run that stopped early or whose loss could not be
	// evaluated.
	Incomplete bool

	Controls map[string][]float64
	Feeds    map[string]r3.Vec
	Metrics  map[string]float64
}

// NewMemo prepares a memo for a run of up to steps steps starting at init.
func NewMemo(init mpm.State, steps int) *Memo {
	return &Memo{
		N:          init.Len(),
		Frames:     make([]Frame, 0, steps),
		Last:       init,
		DivergedAt: -1,
		Controls:   make(map[string][]float64),
		Feeds:      make(map[string]r3.Vec),
		Metrics:    make(map[string]float64),
	}
}

// Append records a completed step that turned the current last state into
// next.
func (m *Memo) Append(rec mpm.Record, next mpm.State) {
	m.Frames = append(m.Frames, Frame{
		Step:   len(m.Frames),
		Before: m.Last,
		Record: rec,
	})
	m.Last = next
}

// MarkDiverged flags the memo as unusable for gradients. The offending state
// is kept as Last so it can still be inspected and rendered.
func (m *Memo) MarkDiverged(step int, offending mpm.State) {
	m.Diverged = true
	m.DivergedAt = step
	if offending.Len() == m.N {
		m.Last = offending
	}
}

// MarkIncomplete flags a run that stopped before its loss was evaluated.
func (m *Memo) MarkIncomplete() { m.Incomplete = true }

// Steps returns the number of recorded steps. States are indexed 0..Steps().
func (m *Memo) Steps() int { return len(m.Frames) }

// Usable reports whether the memo can seed a backward pass.
func (m *Memo) Usable() error {
	if m == nil {
		return fmt.Errorf("%w: nil memo", ErrMissingMemo)
	}
	if m.Diverged {
		return fmt.Errorf("%w: run diverged at step %d", ErrMissingMemo, m.DivergedAt)
	}
	if m.Incomplete {
		return fmt.Errorf("%w: run stopped after %d steps", ErrMissingMemo, len(m.Frames))
	}
	return nil
}

// State returns the recorded state at step, where step 0 is the initial state.
func (m *Memo) State(step int) (mpm.State, error) {
	switch {
	case step < 0 || step > len(m.Frames):
		return mpm.State{}, fmt.Errorf("%w: step %d of %d", ErrRange, step, len(m.Frames))
	case step == len(m.Frames):
		return m.Last, nil
	}
	return m.Frames[step].Before, nil
}

// States returns every recorded state, Steps()+1 of them.
func (m *Memo) States() []mpm.State {
	out := make([]mpm.State, 0, len(m.Frames)+1)
	for _, f := range m.Frames {
		out = append(out, f.Before)
	}
	return append(out, m.Last)
}

// Positions returns the particle positions of every recorded state.
func (m *Memo) Positions() [][]r3.Vec {
	states := m.States()
	out := make([][]r3.Vec, len(states))
	for i, s := range states {
		out[i] = s.X
	}
	return out
}

// CenterOfMass returns the mean position of r at step.
func (m *Memo) CenterOfMass(step int, r Range) (r3.Vec, error) {
	s, err := m.State(step)
	if err != nil {
		return r3.Vec{}, err
	}
	return Mean(s.X, r)
}

// MeanVelocity returns the mean velocity of r at step.
func (m *Memo) MeanVelocity(step int, r Range) (r3.Vec, error) {
	s, err := m.State(step)
	if err != nil {
		return r3.Vec{}, err
	}
	return Mean(s.V, r)
}

// Mean averages vs over r.
func Mean(vs []r3.Vec, r Range) (r3.Vec, error) {
	if err := r.Check(len(vs)); err != nil {
		return r3.Vec{}, err
	}
	var sum r3.Vec
	for _, v := range vs[r.Start:r.End] {
		sum = r3.Add(sum, v)
	}
	return r3.Scale(1/float64(r.Len()), sum), nil
}

// Track returns the center of mass of r at every recorded step.
func (m *Memo) Track(r Range) ([]r3.Vec, error) {
	states := m.States()
	out := make([]r3.Vec, len(states))
	for i, s := range states {
		c, err := Mean(s.X, r)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
