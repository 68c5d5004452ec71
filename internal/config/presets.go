package config

import (
	"sort"

	"github.com/san-kum/diffmpm/internal/scene"
)

// Presets maps scene name to named configurations. Every scene has a
// "default" preset equal to its registry defaults.
var Presets = buildPresets()

func buildPresets() map[string]map[string]*Config {
	reg := scene.NewRegistry()
	base := func(name string) *Config {
		sc, err := reg.Defaults(name)
		if err != nil {
			panic(err)
		}
		return FromScene(name, sc)
	}
	with := func(name string, modify func(*Config)) *Config {
		c := base(name)
		modify(c)
		return c
	}

	return map[string]map[string]*Config{
		"collision": {
			"default": base("collision"),
			"gentle": with("collision", func(c *Config) {
				c.Scene.Offsets = []Vec3{{0.3, 0.4, 0.4}, {0.4, 0.4, 0.4}}
				c.Scene.Velocity = Vec3{0.05, 0, 0}
				c.Scene.Push = Vec3{0.05, 0, 0}
				c.Scene.Swirl = 0
				c.Simulation.Steps = 60
			}),
			"lbfgs": with("collision", func(c *Config) {
				c.Optimizer.Method = "lbfgs"
				c.Optimizer.Iterations = 20
			}),
			"single": with("collision", func(c *Config) {
				c.Scene.NumGroups = 1
				c.Scene.Offsets = c.Scene.Offsets[:1]
			}),
		},
		"drop": {
			"default": base("drop"),
			"sticky": with("drop", func(c *Config) {
				c.Simulation.Boundary = BoundaryConfig{Kind: "box", Policy: "sticky"}
			}),
			"stack": with("drop", func(c *Config) {
				c.Scene.NumGroups = 2
				c.Scene.Offsets = []Vec3{{0.5, 0.2, 0.5}, {0.5, 0.35, 0.5}}
			}),
		},
		"static": {
			"default": base("static"),
			"stretched": with("static", func(c *Config) {
				c.Scene.Stretch = 1.05
			}),
		},
		"bounce": {
			"default": base("bounce"),
			"friction": with("bounce", func(c *Config) {
				c.Simulation.Boundary = BoundaryConfig{Kind: "box", Policy: "slip", Friction: 0.5}
				c.Simulation.Gravity = Vec3{0, -1, 0}
			}),
		},
	}
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(sceneName, preset string) *Config {
	scenePresets, ok := Presets[sceneName]
	if !ok {
		return nil
	}
	cfg, ok := scenePresets[preset]
	if !ok {
		return nil
	}
	out := *cfg
	out.Scene.Offsets = append([]Vec3(nil), cfg.Scene.Offsets...)
	out.Optimizer.Controls = append([]string(nil), cfg.Optimizer.Controls...)
	return &out
}

func ListPresets(sceneName string) []string {
	scenePresets, ok := Presets[sceneName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(scenePresets))
	for name := range scenePresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListScenes returns the scenes that have presets.
func ListScenes() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
