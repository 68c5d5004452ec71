package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/sim"
)

func state(vs ...r3.Vec) mpm.State {
	s := mpm.NewState(len(vs))
	for i, v := range vs {
		s.V[i] = v
		s.X[i] = r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	}
	return s
}

func TestKineticEnergy(t *testing.T) {
	m := NewKineticEnergy(2)
	m.Observe(0, state(r3.Vec{X: 1}, r3.Vec{Y: 2}))
	m.Observe(1, state(r3.Vec{}, r3.Vec{}))

	if got := m.Value(); math.Abs(got-2.5) > 1e-15 {
		t.Errorf("Value() = %g, want 2.5", got)
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("Reset did not clear the metric")
	}
}

func TestMomentumDrift(t *testing.T) {
	m := NewMomentumDrift(1)
	m.Observe(0, state(r3.Vec{X: 1}, r3.Vec{X: 1}))
	m.Observe(1, state(r3.Vec{X: 1}, r3.Vec{X: 1}))
	if m.Value() != 0 {
		t.Errorf("constant momentum drift = %g", m.Value())
	}
	m.Observe(2, state(r3.Vec{X: 1}, r3.Vec{X: 0.5}))
	if got := m.Value(); math.Abs(got-0.25) > 1e-15 {
		t.Errorf("drift = %g, want 0.25", got)
	}
}

func TestContainment(t *testing.T) {
	m := NewContainment(1)
	inside := state(r3.Vec{})
	outside := state(r3.Vec{})
	outside.X[0].Z = 1.5

	tests := []struct {
		name   string
		states []mpm.State
		want   float64
	}{
		{"none", nil, 1},
		{"all inside", []mpm.State{inside, inside}, 1},
		{"half", []mpm.State{inside, outside}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.Reset()
			for i, s := range tt.states {
				m.Observe(i, s)
			}
			if got := m.Value(); got != tt.want {
				t.Errorf("Value() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestDeformationMetrics(t *testing.T) {
	s := state(r3.Vec{}, r3.Vec{}, r3.Vec{})
	s.F[0] = mpm.Diag(0.9)
	s.F[2] = mpm.Diag(1.1)

	minDet := NewMinDetF()
	if minDet.Value() != 1 {
		t.Errorf("empty MinDetF = %g, want 1", minDet.Value())
	}
	minDet.Observe(0, s)
	if got := minDet.Value(); math.Abs(got-0.729) > 1e-12 {
		t.Errorf("MinDetF = %g, want 0.729", got)
	}

	spread := NewDetFSpread()
	spread.Observe(0, mpm.NewState(4))
	if spread.Value() != 0 {
		t.Errorf("identity spread = %g", spread.Value())
	}
	spread.Observe(1, s)
	if spread.Value() <= 0 {
		t.Errorf("spread of distinct determinants = %g", spread.Value())
	}
}

var _ sim.Metric = (*KineticEnergy)(nil)
var _ sim.Metric = (*MomentumDrift)(nil)
var _ sim.Metric = (*Containment)(nil)
var _ sim.Metric = (*MinDetF)(nil)
var _ sim.Metric = (*DetFSpread)(nil)
