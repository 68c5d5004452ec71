package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/diffmpm/internal/mpm"
)

// Containment is the fraction of observed states whose particles all lie
// inside [0, extent]^3.
type Containment struct {
	name       string
	extent     float64
	violations int
	samples    int
}

func NewContainment(extent float64) *Containment {
	return &Containment{
		name:   "containment",
		extent: extent,
	}
}

func (c *Containment) Name() string {
	return c.name
}

func (c *Containment) Observe(step int, s mpm.State) {
	c.samples++
	for _, x := range s.X {
		if x.X < 0 || x.Y < 0 || x.Z < 0 || x.X > c.extent || x.Y > c.extent || x.Z > c.extent {
			c.violations++
			break
		}
	}
}

func (c *Containment) Value() float64 {
	if c.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(c.violations)/float64(c.samples)
}

func (c *Containment) Reset() {
	c.violations = 0
	c.samples = 0
}

// MinDetF tracks the smallest deformation-gradient determinant seen. Values
// approaching zero mean the run is close to inverting an element.
type MinDetF struct {
	name string
	min  float64
}

func NewMinDetF() *MinDetF {
	return &MinDetF{name: "min_det_f", min: math.Inf(1)}
}

func (m *MinDetF) Name() string { return m.name }

func (m *MinDetF) Observe(step int, s mpm.State) {
	for _, f := range s.F {
		m.min = math.Min(m.min, f.Det())
	}
}

func (m *MinDetF) Value() float64 {
	if math.IsInf(m.min, 1) {
		return 1
	}
	return m.min
}

func (m *MinDetF) Reset() { m.min = math.Inf(1) }

// DetFSpread is the standard deviation of det F across particles in the most
// recent state.
type DetFSpread struct {
	name string
	dets []float64
	last float64
}

func NewDetFSpread() *DetFSpread {
	return &DetFSpread{name: "det_f_stddev"}
}

func (d *DetFSpread) Name() string { return d.name }

func (d *DetFSpread) Observe(step int, s mpm.State) {
	d.dets = d.dets[:0]
	for _, f := range s.F {
		d.dets = append(d.dets, f.Det())
	}
	if len(d.dets) > 1 {
		d.last = stat.StdDev(d.dets, nil)
	} else {
		d.last = 0
	}
}

func (d *DetFSpread) Value() float64 { return d.last }

func (d *DetFSpread) Reset() {
	d.dets = d.dets[:0]
	d.last = 0
}
