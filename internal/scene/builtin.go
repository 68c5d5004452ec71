package scene

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/control"
	"github.com/san-kum/diffmpm/internal/diff"
	"github.com/san-kum/diffmpm/internal/mpm"
)

const (
	DefaultGroupSize    = 125
	DefaultRadius       = 1.0 / 30
	DefaultSteps        = 100
	DefaultLearningRate = 20
	DefaultThickness    = 3
)

// openDomain asks boundary for an Open condition instead of a Box.
const openDomain mpm.Policy = -1

func baseDefaults() Config {
	return Config{
		Params:       mpm.DefaultParams(),
		GroupSize:    DefaultGroupSize,
		NumGroups:    1,
		Radius:       DefaultRadius,
		Stretch:      1,
		Steps:        DefaultSteps,
		LearningRate: DefaultLearningRate,
	}
}

func collisionDefaults() Config {
	c := baseDefaults()
	c.NumGroups = 2
	c.Offsets = []r3.Vec{{X: 0.2, Y: 0.4, Z: 0.4}, {X: 0.4, Y: 0.4, Z: 0.4}}
	c.Stretch = 1.05
	c.Velocity = r3.Vec{X: 0.1}
	c.Push = r3.Vec{X: 0.1}
	c.Swirl = 1
	c.Target = r3.Vec{X: 0.6, Y: 0.43, Z: 0.4}
	return c
}

func dropDefaults() Config {
	c := baseDefaults()
	c.Params.Gravity = r3.Vec{Y: -1}
	c.Offsets = []r3.Vec{{X: 0.5, Y: 0.3, Z: 0.5}}
	c.Steps = 150
	c.Target = r3.Vec{X: 0.6, Y: 0.1, Z: 0.5}
	return c
}

func staticDefaults() Config {
	c := baseDefaults()
	c.Offsets = []r3.Vec{{X: 0.5, Y: 0.5, Z: 0.5}}
	c.Steps = 50
	return c
}

func bounceDefaults() Config {
	c := baseDefaults()
	c.Offsets = []r3.Vec{{X: 0.8, Y: 0.5, Z: 0.5}}
	c.Velocity = r3.Vec{X: 0.3}
	c.Target = r3.Vec{X: 0.75, Y: 0.5, Z: 0.5}
	return c
}

func boundary(cfg Config, policy mpm.Policy, friction float64) (mpm.BoundaryCondition, error) {
	if cfg.Boundary != nil {
		return cfg.Boundary, nil
	}
	if policy == openDomain {
		return mpm.NewOpen(cfg.Params.Resolution), nil
	}
	return mpm.NewBox(cfg.Params.Resolution, DefaultThickness, policy, friction)
}

func build(name string, cfg Config, policy mpm.Policy, friction float64) (*Scene, *rand.Rand, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("scene %s: %w", name, err)
	}
	bc, err := boundary(cfg, policy, friction)
	if err != nil {
		return nil, nil, fmt.Errorf("scene %s: %w", name, err)
	}
	return newScene(name, cfg, bc), rand.New(rand.NewSource(cfg.Seed)), nil
}

// Collision drives the first of one or two balls with a per-particle
// velocity control plus a scaled swirl. The loss is the squared distance of
// the last group's final center of mass to the "goal" feed.
func Collision(cfg Config) (*Scene, error) {
	if cfg.NumGroups > 2 {
		return nil, fmt.Errorf("scene collision: %w: at most 2 groups, got %d", mpm.ErrConfiguration, cfg.NumGroups)
	}
	sc, rng, err := build("collision", cfg, mpm.Slip, 0)
	if err != nil {
		return nil, err
	}

	var swirl []r3.Vec
	for g := 0; g < cfg.NumGroups; g++ {
		unit := sc.addBall(rng, cfg, g)
		if g == 0 {
			swirl = Swirl(unit)
		}
	}
	driven := sc.Groups[0]
	for p := driven.Start; p < driven.End; p++ {
		sc.V[p] = cfg.Velocity
	}

	sc.Controls = []Control{
		{
			ID:      "velocity",
			Binding: control.Binding{Kind: control.Offset, Field: control.Velocity, Range: driven},
			Initial: repeat(cfg.Push, driven.Len()),
		},
		{
			ID:      "swirl",
			Binding: control.Binding{Kind: control.Scaled, Field: control.Velocity, Range: driven, Basis: swirl},
			Initial: []float64{cfg.Swirl},
		},
	}
	observed := sc.Groups[len(sc.Groups)-1]
	sc.Loss = diff.DistanceSquared(diff.CenterOfMass(diff.Final, observed), diff.Feed("goal"))
	sc.Feeds["goal"] = cfg.Target
	return sc, nil
}

// Drop releases every group under gravity above a frictional floor with a
// uniform launch velocity control.
func Drop(cfg Config) (*Scene, error) {
	sc, rng, err := build("drop", cfg, mpm.Slip, 0.3)
	if err != nil {
		return nil, err
	}
	for g := 0; g < cfg.NumGroups; g++ {
		sc.addBall(rng, cfg, g)
	}
	for p := range sc.V {
		sc.V[p] = cfg.Velocity
	}
	sc.Controls = []Control{{
		ID:      "velocity",
		Binding: control.Binding{Kind: control.Uniform, Field: control.Velocity, Range: sc.All()},
		Initial: []float64{cfg.Push.X, cfg.Push.Y, cfg.Push.Z},
	}}
	sc.Loss = diff.DistanceSquared(diff.CenterOfMass(diff.Final, sc.All()), diff.Feed("goal"))
	sc.Feeds["goal"] = cfg.Target
	return sc, nil
}

// Static places the groups at rest in an open domain. Its loss is the
// squared drift of the center of mass, zero for an unloaded body.
func Static(cfg Config) (*Scene, error) {
	sc, rng, err := build("static", cfg, openDomain, 0)
	if err != nil {
		return nil, err
	}
	for g := 0; g < cfg.NumGroups; g++ {
		sc.addBall(rng, cfg, g)
	}
	for p := range sc.V {
		sc.V[p] = cfg.Velocity
	}
	sc.Controls = []Control{{
		ID:      "velocity",
		Binding: control.Binding{Kind: control.Uniform, Field: control.Velocity, Range: sc.All()},
		Initial: []float64{cfg.Push.X, cfg.Push.Y, cfg.Push.Z},
	}}
	drift := diff.Sub(diff.CenterOfMass(diff.Final, sc.All()), diff.CenterOfMass(0, sc.All()))
	sc.Loss = diff.SquaredNorm(drift)
	return sc, nil
}

// Bounce throws the groups at reflecting walls. Both the launch velocity and
// a uniform shift of the start position are controls.
func Bounce(cfg Config) (*Scene, error) {
	sc, rng, err := build("bounce", cfg, mpm.Reflect, 0)
	if err != nil {
		return nil, err
	}
	for g := 0; g < cfg.NumGroups; g++ {
		sc.addBall(rng, cfg, g)
	}
	for p := range sc.V {
		sc.V[p] = cfg.Velocity
	}
	sc.Controls = []Control{
		{
			ID:      "velocity",
			Binding: control.Binding{Kind: control.Uniform, Field: control.Velocity, Range: sc.All()},
			Initial: []float64{cfg.Push.X, cfg.Push.Y, cfg.Push.Z},
		},
		{
			ID:      "shift",
			Binding: control.Binding{Kind: control.Uniform, Field: control.Position, Range: sc.All()},
		},
	}
	sc.Loss = diff.DistanceSquared(diff.CenterOfMass(diff.Final, sc.All()), diff.Feed("goal"))
	sc.Feeds["goal"] = cfg.Target
	return sc, nil
}
