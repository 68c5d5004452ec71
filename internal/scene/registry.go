package scene

import (
	"fmt"
	"sort"
)

type Builder func(Config) (*Scene, error)

type entry struct {
	description string
	defaults    func() Config
	build       Builder
}

type Registry struct {
	scenes map[string]entry
}

func NewRegistry() *Registry {
	r := &Registry{scenes: make(map[string]entry)}

	r.Register("collision", "two balls, the first pushed into the second; fit the second's final center of mass", collisionDefaults, Collision)
	r.Register("drop", "a ball falling onto a frictional floor; fit its resting position", dropDefaults, Drop)
	r.Register("static", "an unloaded ball at rest in open space; equilibrium check", staticDefaults, Static)
	r.Register("bounce", "a ball thrown at a reflecting wall; fit where it ends up", bounceDefaults, Bounce)

	return r
}

// Register adds or replaces a scene.
func (r *Registry) Register(name, description string, defaults func() Config, build Builder) {
	r.scenes[name] = entry{description: description, defaults: defaults, build: build}
}

func (r *Registry) lookup(name string) (entry, error) {
	e, ok := r.scenes[name]
	if !ok {
		return entry{}, fmt.Errorf("unknown scene: %s", name)
	}
	return e, nil
}

func (r *Registry) Defaults(name string) (Config, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Config{}, err
	}
	return e.defaults(), nil
}

func (r *Registry) Describe(name string) (string, error) {
	e, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	return e.description, nil
}

func (r *Registry) Build(name string, cfg Config) (*Scene, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.build(cfg)
}

// List returns the registered scene names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.scenes))
	for name := range r.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
