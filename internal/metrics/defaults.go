package metrics

import "github.com/san-kum/diffmpm/internal/sim"

// Default returns the metrics the CLI attaches to every run.
func Default(s *sim.Simulation) []sim.Metric {
	mass := s.ParticleMass()
	return []sim.Metric{
		NewKineticEnergy(mass),
		NewMomentumDrift(mass),
		NewContainment(s.Params().Extent()),
		NewMinDetF(),
		NewDetFSpread(),
	}
}
