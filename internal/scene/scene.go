package scene

import (
	"fmt"
	"maps"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/control"
	"github.com/san-kum/diffmpm/internal/diff"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/sim"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

// Config parameterises a scene. Fields are used as given; Registry.Defaults
// returns a complete Config for every registered scene.
type Config struct {
	Params mpm.Params
	// Boundary replaces the scene's own boundary condition when non-nil.
	Boundary mpm.BoundaryCondition

	GroupSize int
	NumGroups int
	Seed      int64
	Offsets   []r3.Vec
	Radius    float64
	// Stretch is the scale of the uniform initial deformation gradient.
	Stretch float64

	// Velocity is the base velocity of the driven group and Push the initial
	// value of its velocity control.
	Velocity r3.Vec
	Push     r3.Vec
	Swirl    float64

	Steps        int
	Target       r3.Vec
	LearningRate float64
}

func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	switch {
	case c.GroupSize <= 0:
		return fmt.Errorf("%w: group size must be positive, got %d", mpm.ErrConfiguration, c.GroupSize)
	case c.NumGroups <= 0:
		return fmt.Errorf("%w: number of groups must be positive, got %d", mpm.ErrConfiguration, c.NumGroups)
	case len(c.Offsets) < c.NumGroups:
		return fmt.Errorf("%w: %d offsets for %d groups", mpm.ErrConfiguration, len(c.Offsets), c.NumGroups)
	case c.Radius <= 0:
		return fmt.Errorf("%w: radius must be positive, got %g", mpm.ErrConfiguration, c.Radius)
	case c.Stretch <= 0:
		return fmt.Errorf("%w: stretch must be positive, got %g", mpm.ErrConfiguration, c.Stretch)
	case c.Steps <= 0:
		return fmt.Errorf("%w: steps must be positive, got %d", mpm.ErrConfiguration, c.Steps)
	}
	if c.Boundary != nil && c.Boundary.Resolution() != c.Params.Resolution {
		return fmt.Errorf("%w: boundary resolution %d, grid resolution %d",
			mpm.ErrConfiguration, c.Boundary.Resolution(), c.Params.Resolution)
	}
	return nil
}

// Control is a control variable a scene defines on its simulation.
type Control struct {
	ID      string
	Binding control.Binding
	Initial []float64
}

// Scene is a fully built initial condition together with its loss.
type Scene struct {
	Name     string
	Params   mpm.Params
	Boundary mpm.BoundaryCondition
	Steps    int

	X      []r3.Vec
	V      []r3.Vec
	F      []mpm.Mat3
	Groups []trajectory.Range

	Controls     []Control
	Loss         diff.Expr
	Feeds        map[string]r3.Vec
	LearningRate float64
}

func newScene(name string, cfg Config, bc mpm.BoundaryCondition) *Scene {
	return &Scene{
		Name:         name,
		Params:       cfg.Params,
		Boundary:     bc,
		Steps:        cfg.Steps,
		Feeds:        make(map[string]r3.Vec),
		LearningRate: cfg.LearningRate,
	}
}

// addBall appends one group sampled around Offsets[g] and returns its
// unit-cube samples.
func (sc *Scene) addBall(rng sampler, cfg Config, g int) []r3.Vec {
	x, unit := Ball(rng, cfg.GroupSize, cfg.Offsets[g], cfg.Radius)
	start := len(sc.X)
	f := mpm.Diag(cfg.Stretch)
	for i := range x {
		sc.X = append(sc.X, x[i])
		sc.V = append(sc.V, r3.Vec{})
		sc.F = append(sc.F, f)
	}
	sc.Groups = append(sc.Groups, trajectory.Range{Start: start, End: len(sc.X)})
	return unit
}

func (sc *Scene) Len() int { return len(sc.X) }

// All is the range covering every particle.
func (sc *Scene) All() trajectory.Range { return trajectory.All(sc.Len()) }

// IDs lists the scene's control ids in definition order.
func (sc *Scene) IDs() []string {
	ids := make([]string, len(sc.Controls))
	for i, c := range sc.Controls {
		ids[i] = c.ID
	}
	return ids
}

func (sc *Scene) Options() sim.RunOptions {
	return sim.RunOptions{Feeds: maps.Clone(sc.Feeds)}
}

// Setup creates a simulation for the scene, defines its controls and returns
// the base initial state.
func (sc *Scene) Setup(opts ...sim.Option) (*sim.Simulation, mpm.State, error) {
	s, err := sim.New(sc.Params, sc.Len(), sc.Boundary, opts...)
	if err != nil {
		return nil, mpm.State{}, fmt.Errorf("scene %s: %w", sc.Name, err)
	}
	for _, c := range sc.Controls {
		if err := s.Controls().Define(c.ID, c.Binding, c.Initial); err != nil {
			return nil, mpm.State{}, fmt.Errorf("scene %s: %w", sc.Name, err)
		}
	}
	init, err := s.InitialState(sc.X, sc.V, sc.F)
	if err != nil {
		return nil, mpm.State{}, fmt.Errorf("scene %s: %w", sc.Name, err)
	}
	return s, init, nil
}

func repeat(v r3.Vec, n int) []float64 {
	out := make([]float64, 0, 3*n)
	for range n {
		out = append(out, v.X, v.Y, v.Z)
	}
	return out
}
