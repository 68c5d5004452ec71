package mpm

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	DefaultDt            = 1e-2
	DefaultResolution    = 100
	DefaultYoungsModulus = 0.05
	DefaultPoissonRatio  = 0.3
	DefaultDensity       = 1.0
)

// MaxResolution keeps Resolution^3 node indices within int32 grid slots.
const MaxResolution = 1290

// Params are the numeric constants of a simulation. The grid covers
// [0, Resolution*CellSize)^3 with nodes at integer multiples of CellSize.
type Params struct {
	Dt            float64
	Resolution    int
	CellSize      float64
	Gravity       r3.Vec
	YoungsModulus float64
	PoissonRatio  float64
	Density       float64
	// ParticleVolume defaults to (CellSize/2)^3 when zero.
	ParticleVolume float64
}

func DefaultParams() Params {
	return Params{
		Dt:            DefaultDt,
		Resolution:    DefaultResolution,
		CellSize:      1.0 / DefaultResolution,
		YoungsModulus: DefaultYoungsModulus,
		PoissonRatio:  DefaultPoissonRatio,
		Density:       DefaultDensity,
	}
}

func (p Params) Validate() error {
	if p.Dt <= 0 || math.IsNaN(p.Dt) || math.IsInf(p.Dt, 0) {
		return configError("dt must be positive and finite, got %g", p.Dt)
	}
	if p.Resolution <= 0 {
		return configError("grid resolution must be positive, got %d", p.Resolution)
	}
	if p.Resolution > MaxResolution {
		return configError("grid resolution must be at most %d, got %d", MaxResolution, p.Resolution)
	}
	if p.CellSize <= 0 {
		return configError("cell size must be positive, got %g", p.CellSize)
	}
	if p.YoungsModulus < 0 {
		return configError("youngs modulus must be non-negative, got %g", p.YoungsModulus)
	}
	if p.PoissonRatio <= -1 || p.PoissonRatio >= 0.5 {
		return configError("poisson ratio must lie in (-1, 0.5), got %g", p.PoissonRatio)
	}
	if p.Density <= 0 {
		return configError("density must be positive, got %g", p.Density)
	}
	if p.ParticleVolume < 0 {
		return configError("particle volume must be non-negative, got %g", p.ParticleVolume)
	}
	if !finite(p.Gravity) {
		return configError("gravity must be finite, got %v", p.Gravity)
	}
	return nil
}

// Lame returns the first and second Lamé parameters (mu, lambda).
func (p Params) Lame() (mu, lambda float64) {
	e, nu := p.YoungsModulus, p.PoissonRatio
	mu = e / (2 * (1 + nu))
	lambda = e * nu / ((1 + nu) * (1 - 2*nu))
	return mu, lambda
}

func (p Params) Volume() float64 {
	if p.ParticleVolume > 0 {
		return p.ParticleVolume
	}
	h := p.CellSize / 2
	return h * h * h
}

func (p Params) ParticleMass() float64 {
	return p.Density * p.Volume()
}

// Extent is the side length of the simulated box.
func (p Params) Extent() float64 {
	return float64(p.Resolution) * p.CellSize
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
