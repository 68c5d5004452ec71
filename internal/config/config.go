package config

import (
	"fmt"
	"os"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/diffmpm/internal/compute"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/optim"
	"github.com/san-kum/diffmpm/internal/scene"
)

const (
	DefaultScene          = "collision"
	DefaultMethod         = "descent"
	DefaultIterations     = 50
	DefaultVisualizeEvery = 5
	DefaultDataDir        = ".diffmpm"
)

// Vec3 is written as a flow sequence [x, y, z].
type Vec3 [3]float64

func (v Vec3) Vec() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func FromVec(v r3.Vec) Vec3 { return Vec3{v.X, v.Y, v.Z} }

type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Scene      SceneConfig      `yaml:"scene"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Output     OutputConfig     `yaml:"output"`
}

type SimulationConfig struct {
	Dt             float64        `yaml:"dt"`
	Steps          int            `yaml:"steps"`
	Resolution     int            `yaml:"resolution"`
	CellSize       float64        `yaml:"cell_size"`
	Gravity        Vec3           `yaml:"gravity,flow"`
	YoungsModulus  float64        `yaml:"youngs_modulus"`
	PoissonRatio   float64        `yaml:"poisson_ratio"`
	Density        float64        `yaml:"density"`
	ParticleVolume float64        `yaml:"particle_volume,omitempty"`
	Boundary       BoundaryConfig `yaml:"boundary"`
	Backend        string         `yaml:"backend,omitempty"`
	Workers        int            `yaml:"workers,omitempty"`
}

// BoundaryConfig selects the grid boundary. An empty kind keeps the scene's
// own boundary.
type BoundaryConfig struct {
	Kind      string  `yaml:"kind,omitempty"`
	Thickness int     `yaml:"thickness,omitempty"`
	Policy    string  `yaml:"policy,omitempty"`
	Friction  float64 `yaml:"friction,omitempty"`
}

type SceneConfig struct {
	Name      string  `yaml:"name"`
	GroupSize int     `yaml:"group_size"`
	NumGroups int     `yaml:"num_groups"`
	Seed      int64   `yaml:"seed"`
	Offsets   []Vec3  `yaml:"offsets,flow"`
	Radius    float64 `yaml:"radius"`
	Stretch   float64 `yaml:"stretch"`
	Velocity  Vec3    `yaml:"velocity,flow"`
	Push      Vec3    `yaml:"push,flow"`
	Swirl     float64 `yaml:"swirl"`
}

type OptimizerConfig struct {
	Method       string  `yaml:"method"`
	LearningRate float64 `yaml:"learning_rate"`
	Iterations   int     `yaml:"iterations"`
	Tolerance    float64 `yaml:"tolerance"`
	Target       Vec3    `yaml:"target,flow"`
	// Controls limits optimization to these ids; empty means all.
	Controls []string `yaml:"controls,omitempty"`
}

type OutputConfig struct {
	Dir            string `yaml:"dir"`
	VisualizeEvery int    `yaml:"visualize_every"`
}

// FromScene converts a scene's defaults into a configuration document.
func FromScene(name string, sc scene.Config) *Config {
	p := sc.Params
	offsets := make([]Vec3, len(sc.Offsets))
	for i, o := range sc.Offsets {
		offsets[i] = FromVec(o)
	}
	return &Config{
		Simulation: SimulationConfig{
			Dt:             p.Dt,
			Steps:          sc.Steps,
			Resolution:     p.Resolution,
			CellSize:       p.CellSize,
			Gravity:        FromVec(p.Gravity),
			YoungsModulus:  p.YoungsModulus,
			PoissonRatio:   p.PoissonRatio,
			Density:        p.Density,
			ParticleVolume: p.ParticleVolume,
		},
		Scene: SceneConfig{
			Name:      name,
			GroupSize: sc.GroupSize,
			NumGroups: sc.NumGroups,
			Seed:      sc.Seed,
			Offsets:   offsets,
			Radius:    sc.Radius,
			Stretch:   sc.Stretch,
			Velocity:  FromVec(sc.Velocity),
			Push:      FromVec(sc.Push),
			Swirl:     sc.Swirl,
		},
		Optimizer: OptimizerConfig{
			Method:       DefaultMethod,
			LearningRate: sc.LearningRate,
			Iterations:   DefaultIterations,
			Target:       FromVec(sc.Target),
		},
		Output: OutputConfig{
			Dir:            DefaultDataDir,
			VisualizeEvery: DefaultVisualizeEvery,
		},
	}
}

// DefaultConfig is the two-ball collision scene.
func DefaultConfig() *Config {
	sc, err := scene.NewRegistry().Defaults(DefaultScene)
	if err != nil {
		panic(err)
	}
	return FromScene(DefaultScene, sc)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Methods lists the accepted optimizer names.
func Methods() []string {
	return append([]string{DefaultMethod}, optim.Methods...)
}

func (c *Config) Validate() error {
	if c.Scene.Name == "" {
		return fmt.Errorf("%w: scene name is empty", mpm.ErrConfiguration)
	}
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if _, err := c.BoundaryCondition(); err != nil {
		return err
	}
	if _, err := compute.ByName(c.Simulation.Backend, c.Simulation.Workers); err != nil {
		return fmt.Errorf("%w: %v", mpm.ErrConfiguration, err)
	}
	if !slices.Contains(Methods(), c.Optimizer.Method) {
		return fmt.Errorf("%w: unknown optimizer %q", mpm.ErrConfiguration, c.Optimizer.Method)
	}
	if c.Optimizer.Iterations < 0 {
		return fmt.Errorf("%w: iterations must be non-negative, got %d", mpm.ErrConfiguration, c.Optimizer.Iterations)
	}
	if c.Optimizer.Method == DefaultMethod && c.Optimizer.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", mpm.ErrConfiguration, c.Optimizer.LearningRate)
	}
	return nil
}

func (c *Config) Params() mpm.Params {
	s := c.Simulation
	return mpm.Params{
		Dt:             s.Dt,
		Resolution:     s.Resolution,
		CellSize:       s.CellSize,
		Gravity:        s.Gravity.Vec(),
		YoungsModulus:  s.YoungsModulus,
		PoissonRatio:   s.PoissonRatio,
		Density:        s.Density,
		ParticleVolume: s.ParticleVolume,
	}
}

// BoundaryCondition returns nil when the scene's own boundary applies.
func (c *Config) BoundaryCondition() (mpm.BoundaryCondition, error) {
	b := c.Simulation.Boundary
	switch b.Kind {
	case "", "default":
		return nil, nil
	case "open":
		return mpm.NewOpen(c.Simulation.Resolution), nil
	case "box":
		policy, err := mpm.ParsePolicy(b.Policy)
		if err != nil {
			return nil, err
		}
		thickness := b.Thickness
		if thickness == 0 {
			thickness = scene.DefaultThickness
		}
		return mpm.NewBox(c.Simulation.Resolution, thickness, policy, b.Friction)
	}
	return nil, fmt.Errorf("%w: unknown boundary kind %q", mpm.ErrConfiguration, b.Kind)
}

func (c *Config) Backend() (compute.Backend, error) {
	return compute.ByName(c.Simulation.Backend, c.Simulation.Workers)
}

// SceneConfig assembles the input of scene.Registry.Build.
func (c *Config) SceneConfig() (scene.Config, error) {
	bc, err := c.BoundaryCondition()
	if err != nil {
		return scene.Config{}, err
	}
	offsets := make([]r3.Vec, len(c.Scene.Offsets))
	for i, o := range c.Scene.Offsets {
		offsets[i] = o.Vec()
	}
	return scene.Config{
		Params:       c.Params(),
		Boundary:     bc,
		GroupSize:    c.Scene.GroupSize,
		NumGroups:    c.Scene.NumGroups,
		Seed:         c.Scene.Seed,
		Offsets:      offsets,
		Radius:       c.Scene.Radius,
		Stretch:      c.Scene.Stretch,
		Velocity:     c.Scene.Velocity.Vec(),
		Push:         c.Scene.Push.Vec(),
		Swirl:        c.Scene.Swirl,
		Steps:        c.Simulation.Steps,
		Target:       c.Optimizer.Target.Vec(),
		LearningRate: c.Optimizer.LearningRate,
	}, nil
}
