package mpm

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Backward propagates a cotangent of the post-step state back to the
// pre-step state in. rec must be the record filled by the Step call that
// consumed in. The pass mirrors the forward order in reverse:
// advection and deformation, gather, grid update, scatter.
func (s *Stepper) Backward(in State, rec *Record, gOut State) (State, error) {
	n := in.Len()
	if err := gOut.Validate(n); err != nil {
		return State{}, err
	}
	if len(rec.Stencils) != n || len(rec.Slots) != n*StencilSize {
		return State{}, shapeError("record holds %d particles, want %d", len(rec.Stencils), n)
	}
	dt := s.params.Dt
	snap := &rec.Grid
	na := len(snap.Nodes)

	gIn := ZeroState(n)
	contrib := make([]r3.Vec, n*StencilSize)

	// Advection, deformation update and gather.
	s.backend.ParallelFor(n, minParticleChunk, func(start, end int) {
		for p := start; p < end; p++ {
			st := &rec.Stencils[p]
			slots := rec.Slots[p*StencilSize : (p+1)*StencilSize]
			_, cNew := s.gather(st, slots, snap.Velocity)

			gx := gOut.X[p]
			gF := gOut.F[p]
			vbar := r3.Add(gOut.V[p], r3.Scale(dt, gx))
			gIn.F[p] = Identity().Add(cNew.Scale(dt)).T().Mul(gF)
			bbar := gOut.C[p].Add(gF.Mul(in.F[p].T()).Scale(dt)).Scale(s.dInv)

			xbar := gx
			k := 0
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					for l := 0; l < 3; l++ {
						w := st.Weight(i, j, l)
						off := st.Offset(i, j, l, s.dx)
						vi := snap.Velocity[slots[k]]
						q := r3.Add(vbar, bbar.MulVec(off))
						contrib[p*StencilSize+k] = r3.Scale(w, q)

						wbar := r3.Dot(vi, q)
						offbar := r3.Scale(w, bbar.TMulVec(vi))
						xbar = r3.Add(xbar, r3.Sub(r3.Scale(wbar, st.WeightGrad(i, j, l, s.invDx)), offbar))
						k++
					}
				}
			}
			gIn.X[p] = xbar
		}
	})

	gridV := make([]r3.Vec, na)
	for p := 0; p < n; p++ {
		for k, slot := range rec.Slots[p*StencilSize : (p+1)*StencilSize] {
			gridV[slot] = r3.Add(gridV[slot], contrib[p*StencilSize+k])
		}
	}

	// Grid update. Zero-mass nodes were left at rest and pass no gradient.
	massBar := make([]float64, na)
	momBar := make([]r3.Vec, na)
	errs := make([]error, na)
	dtg := r3.Scale(dt, s.params.Gravity)
	s.backend.ParallelFor(na, minNodeChunk, func(start, end int) {
		for k := start; k < end; k++ {
			m := snap.Mass[k]
			if m <= 0 {
				continue
			}
			resp, err := s.bc.Query(nodeCoords(int(snap.Nodes[k]), s.params.Resolution))
			if err != nil {
				errs[k] = err
				continue
			}
			u := r3.Add(r3.Scale(1/m, snap.Momentum[k]), dtg)
			ubar := resp.ProjectAdjoint(u, gridV[k])
			momBar[k] = r3.Scale(1/m, ubar)
			massBar[k] = -r3.Dot(ubar, snap.Momentum[k]) / (m * m)
		}
	})
	for _, err := range errs {
		if err != nil {
			return State{}, err
		}
	}

	// Scatter, including the stress term inside the affine matrix.
	reasons := make([]string, n)
	s.backend.ParallelFor(n, minParticleChunk, func(start, end int) {
		for p := start; p < end; p++ {
			st := &rec.Stencils[p]
			slots := rec.Slots[p*StencilSize : (p+1)*StencilSize]
			f := in.F[p]
			a, ok := s.affine(in.C[p], f)
			if !ok {
				reasons[p] = "non-positive deformation gradient determinant"
				continue
			}
			finv, ok := f.Inverse()
			if !ok {
				reasons[p] = "singular deformation gradient"
				continue
			}
			mv := r3.Scale(s.mass, in.V[p])

			var abar Mat3
			var vbar r3.Vec
			xbar := gIn.X[p]
			k := 0
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					for l := 0; l < 3; l++ {
						w := st.Weight(i, j, l)
						off := st.Offset(i, j, l, s.dx)
						slot := slots[k]
						mb := momBar[slot]
						q := r3.Add(mv, a.MulVec(off))

						wbar := massBar[slot]*s.mass + r3.Dot(mb, q)
						vbar = r3.Add(vbar, r3.Scale(w*s.mass, mb))
						abar.AddOuter(w, mb, off)
						offbar := r3.Scale(w, a.TMulVec(mb))
						xbar = r3.Add(xbar, r3.Sub(r3.Scale(wbar, st.WeightGrad(i, j, l, s.invDx)), offbar))
						k++
					}
				}
			}
			gIn.X[p] = xbar
			gIn.V[p] = vbar
			gIn.C[p] = abar.Scale(s.mass)

			// tau = mu (F F^T - I) + lambda ln(J) I
			taubar := abar.Scale(-dt * s.vol * s.dInv)
			gF := taubar.Add(taubar.T()).Mul(f).Scale(s.mu)
			gF = gF.Add(finv.T().Scale(s.lambda * taubar.Trace()))
			gIn.F[p] = gIn.F[p].Add(gF)
		}
	})
	if err := firstDivergence(reasons, -1); err != nil {
		return State{}, err
	}
	return gIn, nil
}
