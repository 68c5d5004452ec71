package metrics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/mpm"
)

// KineticEnergy is the mean total kinetic energy over observed states.
type KineticEnergy struct {
	name    string
	mass    float64
	samples int
	total   float64
}

func NewKineticEnergy(mass float64) *KineticEnergy {
	return &KineticEnergy{name: "kinetic_energy", mass: mass}
}

func (k *KineticEnergy) Name() string { return k.name }

func (k *KineticEnergy) Observe(step int, s mpm.State) {
	k.total += Kinetic(s, k.mass)
	k.samples++
}

func (k *KineticEnergy) Value() float64 {
	if k.samples == 0 {
		return 0
	}
	return k.total / float64(k.samples)
}

func (k *KineticEnergy) Reset() {
	k.total = 0
	k.samples = 0
}

// Kinetic returns sum(m |v|^2 / 2) for a uniform particle mass.
func Kinetic(s mpm.State, mass float64) float64 {
	e := 0.0
	for _, v := range s.V {
		e += r3.Dot(v, v)
	}
	return 0.5 * mass * e
}

// MomentumDrift is the largest relative deviation of total momentum from the
// first observed state. It stays near zero without gravity or walls.
type MomentumDrift struct {
	name     string
	mass     float64
	initial  r3.Vec
	maxDrift float64
	samples  int
}

func NewMomentumDrift(mass float64) *MomentumDrift {
	return &MomentumDrift{name: "momentum_drift", mass: mass}
}

func (m *MomentumDrift) Name() string { return m.name }

func (m *MomentumDrift) Observe(step int, s mpm.State) {
	p := s.Momentum(m.mass)
	if m.samples == 0 {
		m.initial = p
	}
	m.samples++

	scale := r3.Norm(m.initial)
	if scale == 0 {
		scale = 1
	}
	drift := r3.Norm(r3.Sub(p, m.initial)) / scale
	m.maxDrift = math.Max(m.maxDrift, drift)
}

func (m *MomentumDrift) Value() float64 {
	return m.maxDrift
}

func (m *MomentumDrift) Reset() {
	m.initial = r3.Vec{}
	m.maxDrift = 0
	m.samples = 0
}
