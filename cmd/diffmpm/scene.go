package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/san-kum/diffmpm/internal/config"
	"github.com/san-kum/diffmpm/internal/metrics"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/scene"
	"github.com/san-kum/diffmpm/internal/sim"
	"github.com/san-kum/diffmpm/internal/viz"
)

// baseConfig resolves the starting configuration of a scene: a preset if one
// is named, otherwise the scene's registered defaults.
func baseConfig(name string) (*config.Config, error) {
	if preset != "" {
		cfg := config.GetPreset(name, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(name))
		}
		return cfg, nil
	}
	defaults, err := registry.Defaults(name)
	if err != nil {
		return nil, err
	}
	return config.FromScene(name, defaults), nil
}

// loadConfig layers preset or defaults, then the config file, then any flag
// the user set explicitly.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	name := config.DefaultScene
	if len(args) > 0 {
		name = args[0]
	}

	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if len(args) > 0 && loaded.Scene.Name != name {
			return nil, fmt.Errorf("config %s describes scene %q, not %q", configFile, loaded.Scene.Name, name)
		}
		cfg = loaded
	} else {
		base, err := baseConfig(name)
		if err != nil {
			return nil, err
		}
		cfg = base
	}

	flags := cmd.Flags()
	if flags.Changed("steps") {
		cfg.Simulation.Steps = steps
	}
	if flags.Changed("dt") {
		cfg.Simulation.Dt = dt
	}
	if flags.Changed("seed") {
		cfg.Scene.Seed = seed
	}
	if flags.Changed("backend") {
		cfg.Simulation.Backend = backend
	}
	if flags.Changed("workers") {
		cfg.Simulation.Workers = workers
	}
	if flags.Changed("boundary") {
		if boundary == "open" {
			cfg.Simulation.Boundary.Kind = "open"
		} else {
			cfg.Simulation.Boundary.Kind = "box"
			cfg.Simulation.Boundary.Policy = boundary
		}
	}
	if flags.Lookup("iterations") != nil {
		if flags.Changed("iterations") {
			cfg.Optimizer.Iterations = iterations
		}
		if flags.Changed("lr") {
			cfg.Optimizer.LearningRate = learningRate
		}
		if flags.Changed("method") {
			cfg.Optimizer.Method = method
		}
		if flags.Changed("controls") {
			cfg.Optimizer.Controls = controlIDs
		}
		if flags.Changed("target") {
			if len(target) != 3 {
				return nil, fmt.Errorf("--target needs three values, got %d", len(target))
			}
			cfg.Optimizer.Target = config.Vec3{target[0], target[1], target[2]}
		}
		if flags.Changed("visualize-every") {
			cfg.Output.VisualizeEvery = visualizeEvery
		}
	}
	if flags.Changed("data") {
		cfg.Output.Dir = dataDir
	} else if cfg.Output.Dir != "" {
		dataDir = cfg.Output.Dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup is a built scene wired to its simulation.
type setup struct {
	cfg   *config.Config
	scene *scene.Scene
	sim   *sim.Simulation
	init  mpm.State
}

func buildScene(cfg *config.Config) (*setup, error) {
	sc, err := cfg.SceneConfig()
	if err != nil {
		return nil, err
	}
	built, err := registry.Build(cfg.Scene.Name, sc)
	if err != nil {
		return nil, err
	}
	be, err := cfg.Backend()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("scene", built.Name)
	s, init, err := built.Setup(sim.WithLogger(logger), sim.WithBackend(be))
	if err != nil {
		return nil, err
	}
	for _, m := range metrics.Default(s) {
		s.AddMetric(m)
	}
	logger.Info("scene ready",
		"particles", built.Len(),
		"groups", len(built.Groups),
		"steps", built.Steps,
		"backend", be.Name(),
		"workers", be.Workers(),
	)
	return &setup{cfg: cfg, scene: built, sim: s, init: init}, nil
}

func parseView(name string) (viz.View, error) {
	for _, v := range []viz.View{viz.Front, viz.Top, viz.Perspective} {
		if v.String() == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown view %q (front, top, 3d)", name)
}

// renderer picks the interactive player or still snapshots on stdout.
func renderer(title, note string, extent float64) (sim.Renderer, error) {
	view, err := parseView(viewName)
	if err != nil {
		return nil, err
	}
	opts := viz.PlayerOptions{Title: title, Extent: extent, Theme: theme, View: view, Note: note}
	if interactive {
		return viz.Terminal{Options: opts}, nil
	}
	return viz.Snapshot{Out: os.Stdout, Options: opts, Every: every}, nil
}
