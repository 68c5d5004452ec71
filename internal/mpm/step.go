package mpm

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/compute"
)

const (
	minParticleChunk = 64
	minNodeChunk     = 256
)

// GridSnapshot keeps the active grid nodes of one step: their flat index,
// scattered mass and momentum, and the velocity after gravity and boundary
// projection.
type GridSnapshot struct {
	Nodes    []int32
	Mass     []float64
	Momentum []r3.Vec
	Velocity []r3.Vec
}

// Record is everything the adjoint pass needs to replay one step besides the
// pre-step particle state.
type Record struct {
	Stencils []Stencil
	// Slots holds StencilSize entries per particle, each an index into Grid.
	Slots []int32
	Grid  GridSnapshot
}

// Stepper advances particle states by one timestep:
// scatter -> grid update + boundary -> gather -> deformation and advection.
// A Stepper is immutable and may be shared by concurrent runs as long as each
// run owns its Grid.
type Stepper struct {
	params  Params
	bc      BoundaryCondition
	backend compute.Backend

	dx, invDx, dInv float64
	mu, lambda      float64
	mass, vol       float64
}

func NewStepper(p Params, bc BoundaryCondition, backend compute.Backend) (*Stepper, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if bc == nil {
		return nil, configError("boundary condition is required")
	}
	if bc.Resolution() != p.Resolution {
		return nil, configError("boundary resolution %d does not match grid resolution %d", bc.Resolution(), p.Resolution)
	}
	if backend == nil {
		backend = compute.NewSerialBackend()
	}
	mu, lambda := p.Lame()
	invDx := 1 / p.CellSize
	return &Stepper{
		params:  p,
		bc:      bc,
		backend: backend,
		dx:      p.CellSize,
		invDx:   invDx,
		dInv:    4 * invDx * invDx,
		mu:      mu,
		lambda:  lambda,
		mass:    p.ParticleMass(),
		vol:     p.Volume(),
	}, nil
}

func (s *Stepper) Params() Params              { return s.params }
func (s *Stepper) Boundary() BoundaryCondition { return s.bc }
func (s *Stepper) Backend() compute.Backend    { return s.backend }
func (s *Stepper) ParticleMass() float64       { return s.mass }

// stress returns the Kirchhoff stress of a compressible neo-Hookean solid,
// tau = mu (F F^T - I) + lambda ln(J) I.
func (s *Stepper) stress(f Mat3) (Mat3, bool) {
	j := f.Det()
	if !(j > 0) {
		return Mat3{}, false
	}
	tau := f.Mul(f.T()).Sub(Identity()).Scale(s.mu)
	return tau.Add(Diag(s.lambda * math.Log(j))), true
}

// affine returns the matrix A such that a particle scatters momentum
// m v + A (x_i - x_p) to node i.
func (s *Stepper) affine(c, f Mat3) (Mat3, bool) {
	tau, ok := s.stress(f)
	if !ok {
		return Mat3{}, false
	}
	return c.Scale(s.mass).Sub(tau.Scale(s.params.Dt * s.vol * s.dInv)), true
}

// Step advances in by one timestep using g as scratch storage and fills rec
// for later replay. step is only used for error reporting.
func (s *Stepper) Step(g *Grid, in State, rec *Record, step int) (State, error) {
	n := in.Len()
	if err := in.Validate(n); err != nil {
		return State{}, err
	}
	if g.res != s.params.Resolution {
		return State{}, configError("grid resolution %d does not match %d", g.res, s.params.Resolution)
	}
	res := s.params.Resolution
	dt := s.params.Dt

	rec.Stencils = make([]Stencil, n)
	rec.Slots = make([]int32, n*StencilSize)
	affine := make([]Mat3, n)
	reasons := make([]string, n)

	s.backend.ParallelFor(n, minParticleChunk, func(start, end int) {
		for p := start; p < end; p++ {
			if !finite(in.X[p]) || !finite(in.V[p]) {
				reasons[p] = "non-finite position or velocity"
				continue
			}
			st := NewStencil(in.X[p], s.invDx)
			rec.Stencils[p] = st
			if !st.InGrid(res) {
				reasons[p] = "particle support outside grid"
				continue
			}
			a, ok := s.affine(in.C[p], in.F[p])
			if !ok {
				reasons[p] = "non-positive deformation gradient determinant"
				continue
			}
			affine[p] = a
		}
	})
	if err := firstDivergence(reasons, step); err != nil {
		return State{}, err
	}

	// Scatter runs on one goroutine in particle order, which makes node
	// sums identical for any backend.
	g.Reset()
	for p := 0; p < n; p++ {
		st := &rec.Stencils[p]
		mv := r3.Scale(s.mass, in.V[p])
		a := affine[p]
		slots := rec.Slots[p*StencilSize : (p+1)*StencilSize]
		k := 0
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				for l := 0; l < 3; l++ {
					w := st.Weight(i, j, l)
					idx := g.Index(st.Base[0]+i, st.Base[1]+j, st.Base[2]+l)
					slots[k] = g.activate(idx)
					q := r3.Add(mv, a.MulVec(st.Offset(i, j, l, s.dx)))
					g.mass[idx] += w * s.mass
					g.mom[idx] = r3.Add(g.mom[idx], r3.Scale(w, q))
					k++
				}
			}
		}
	}

	snap, err := s.updateGrid(g)
	if err != nil {
		return State{}, err
	}
	rec.Grid = snap

	out := ZeroState(n)
	extent := s.params.Extent()
	s.backend.ParallelFor(n, minParticleChunk, func(start, end int) {
		for p := start; p < end; p++ {
			v, c := s.gather(&rec.Stencils[p], rec.Slots[p*StencilSize:(p+1)*StencilSize], snap.Velocity)
			f := Identity().Add(c.Scale(dt)).Mul(in.F[p])
			x := r3.Add(in.X[p], r3.Scale(dt, v))

			out.X[p], out.V[p], out.C[p], out.F[p] = x, v, c, f

			switch {
			case !finite(x):
				reasons[p] = "non-finite position"
			case !(f.Det() > 0):
				reasons[p] = "non-positive deformation gradient determinant"
			case x.X < 0 || x.Y < 0 || x.Z < 0 || x.X > extent || x.Y > extent || x.Z > extent:
				reasons[p] = "particle left the domain"
			}
		}
	})
	if err := firstDivergence(reasons, step); err != nil {
		return out, err
	}
	return out, nil
}

// updateGrid converts momentum to velocity, applies gravity and projects
// boundary cells. Every node is independent.
func (s *Stepper) updateGrid(g *Grid) (GridSnapshot, error) {
	na := len(g.active)
	snap := GridSnapshot{
		Nodes:    make([]int32, na),
		Mass:     make([]float64, na),
		Momentum: make([]r3.Vec, na),
		Velocity: make([]r3.Vec, na),
	}
	copy(snap.Nodes, g.active)
	errs := make([]error, na)
	dtg := r3.Scale(s.params.Dt, s.params.Gravity)

	s.backend.ParallelFor(na, minNodeChunk, func(start, end int) {
		for k := start; k < end; k++ {
			idx := int(g.active[k])
			m := g.mass[idx]
			snap.Mass[k] = m
			snap.Momentum[k] = g.mom[idx]
			if m <= 0 {
				continue
			}
			u := r3.Add(r3.Scale(1/m, g.mom[idx]), dtg)
			resp, err := s.bc.Query(g.Coords(idx))
			if err != nil {
				errs[k] = err
				continue
			}
			snap.Velocity[k] = resp.Project(u)
		}
	})
	for _, err := range errs {
		if err != nil {
			return GridSnapshot{}, err
		}
	}
	return snap, nil
}

// gather interpolates velocity and the affine velocity field C = D^-1 B from
// the grid using the particle's scatter weights.
func (s *Stepper) gather(st *Stencil, slots []int32, vel []r3.Vec) (r3.Vec, Mat3) {
	var v r3.Vec
	var b Mat3
	k := 0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for l := 0; l < 3; l++ {
				w := st.Weight(i, j, l)
				vi := vel[slots[k]]
				v = r3.Add(v, r3.Scale(w, vi))
				b.AddOuter(w, vi, st.Offset(i, j, l, s.dx))
				k++
			}
		}
	}
	return v, b.Scale(s.dInv)
}

func firstDivergence(reasons []string, step int) error {
	for p, r := range reasons {
		if r != "" {
			return &DivergedError{Step: step, Particle: p, Reason: r}
		}
	}
	return nil
}
