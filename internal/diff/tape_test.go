package diff_test

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/control"
	"github.com/san-kum/diffmpm/internal/diff"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

const res = 16

// flatPullback exposes the raw initial-state cotangent as [X..., V...].
type flatPullback struct{}

func (flatPullback) Pullback(id string, g mpm.State) ([]float64, error) {
	var out []float64
	for _, x := range g.X {
		out = append(out, x.X, x.Y, x.Z)
	}
	for _, v := range g.V {
		out = append(out, v.X, v.Y, v.Z)
	}
	return out, nil
}

type noAdjoint struct{}

func (noAdjoint) Backward(mpm.State, *mpm.Record, mpm.State) (mpm.State, error) {
	panic("backward called on a memo without frames")
}

func staticMemo(loss diff.Expr, x, v []r3.Vec) *trajectory.Memo {
	s := mpm.NewState(len(x))
	copy(s.X, x)
	copy(s.V, v)
	m := trajectory.NewMemo(s, 0)
	m.Signature = loss.String()
	m.Controls["raw"] = nil
	return m
}

func cube(center r3.Vec, h float64) mpm.State {
	s := mpm.NewState(8)
	for p := 0; p < 8; p++ {
		s.X[p] = r3.Add(center, r3.Vec{
			X: h * (float64(p&1) - 0.5),
			Y: h * (float64(p>>1&1) - 0.5),
			Z: h * (float64(p>>2&1) - 0.5),
		})
		s.V[p] = r3.Vec{X: 0.1}
	}
	return s
}

func simulate(st *mpm.Stepper, store *control.Store, base mpm.State, steps int, loss diff.Expr, vals control.Values) *trajectory.Memo {
	init, err := store.Apply(base, vals)
	Expect(err).NotTo(HaveOccurred())
	resolved, err := store.Resolve(vals)
	Expect(err).NotTo(HaveOccurred())

	m := trajectory.NewMemo(init, steps)
	m.Signature = loss.String()
	m.Controls = resolved
	m.Feeds["goal"] = r3.Vec{X: 0.6, Y: 0.45, Z: 0.5}

	g := mpm.NewGrid(res)
	s := init
	for i := 0; i < steps; i++ {
		var rec mpm.Record
		next, err := st.Step(g, s, &rec, i)
		Expect(err).NotTo(HaveOccurred())
		m.Append(rec, next)
		s = next
	}
	m.Loss, err = diff.Forward(loss, m)
	Expect(err).NotTo(HaveOccurred())
	return m
}

var _ = Describe("Expressions", func() {
	all := trajectory.All(4)

	It("produces canonical signatures", func() {
		a := diff.DistanceSquared(diff.CenterOfMass(diff.Final, all), diff.Feed("goal"))
		b := diff.SquaredNorm(diff.Sub(diff.CenterOfMass(-1, trajectory.Range{Start: 0, End: 4}), diff.Feed("goal")))
		Expect(a.String()).To(Equal(b.String()))
		Expect(a.String()).To(Equal(`sqnorm(sub(com(final,[0,4)),feed("goal")))`))
		Expect(diff.Const(r3.Vec{X: 0.5}).String()).To(Equal("const(0.5,0,0)"))
	})

	It("infers kinds", func() {
		com := diff.CenterOfMass(0, all)
		Expect(com.Kind()).To(Equal(diff.Vector))
		Expect(diff.Dot(com, com).Kind()).To(Equal(diff.Scalar))
		Expect(diff.Add(com, diff.Dot(com, com)).Kind()).To(Equal(diff.Invalid))
		Expect(diff.Sum().Kind()).To(Equal(diff.Invalid))
	})
})

var _ = Describe("Build", func() {
	com := diff.CenterOfMass(diff.Final, trajectory.All(4))

	DescribeTable("rejects malformed input",
		func(loss diff.Expr, ids []string) {
			_, err := diff.Build(loss, ids)
			Expect(err).To(MatchError(diff.ErrInvalidExpr))
		},
		Entry("vector loss", com, []string{"v"}),
		Entry("nil loss", nil, []string{"v"}),
		Entry("kind mismatch", diff.Add(diff.SquaredNorm(com), com), []string{"v"}),
		Entry("no controls", diff.SquaredNorm(com), nil),
		Entry("duplicate controls", diff.SquaredNorm(com), []string{"v", "v"}),
		Entry("negative step", diff.SquaredNorm(diff.CenterOfMass(-3, trajectory.All(4))), []string{"v"}),
		Entry("empty range", diff.SquaredNorm(diff.CenterOfMass(0, trajectory.Range{Start: 2, End: 2})), []string{"v"}),
	)

	It("shares repeated subexpressions", func() {
		d := diff.Sub(com, diff.Feed("goal"))
		tape, err := diff.Build(diff.Dot(d, d), []string{"v"})
		Expect(err).NotTo(HaveOccurred())
		Expect(tape.Len()).To(Equal(4))
		Expect(tape.Steps()).To(Equal([]int{diff.Final}))
		Expect(tape.Feeds()).To(Equal([]string{"goal"}))
	})
})

var _ = Describe("Evaluate on a single state", func() {
	x := []r3.Vec{{X: 0.1, Y: 0.2, Z: 0.3}, {X: 0.5, Y: 0.1, Z: 0.9}, {X: 0.4, Y: 0.4}}
	v := []r3.Vec{{X: 1}, {Y: -1, Z: 2}, {X: 0.5, Y: 0.5, Z: 0.5}}

	It("differentiates the expression algebra", func() {
		com := diff.CenterOfMass(0, trajectory.Range{Start: 0, End: 2})
		mv := diff.MeanVelocity(diff.Final, trajectory.All(3))
		c := r3.Vec{X: 2, Y: -1, Z: 0.5}
		loss := diff.Sum(
			diff.Dot(com, diff.Const(c)),
			diff.Scale(3, diff.SquaredNorm(diff.Sub(mv, diff.Feed("goal")))),
		)
		m := staticMemo(loss, x, v)
		goal := r3.Vec{X: 0.1, Y: 0.2, Z: -0.4}
		m.Feeds["goal"] = goal

		tape, err := diff.Build(loss, []string{"raw"})
		Expect(err).NotTo(HaveOccurred())
		grads, err := tape.Evaluate(context.Background(), m, noAdjoint{}, flatPullback{})
		Expect(err).NotTo(HaveOccurred())

		meanV := r3.Scale(1.0/3, r3.Add(r3.Add(v[0], v[1]), v[2]))
		dv := r3.Scale(6.0/3, r3.Sub(meanV, goal))
		want := make([]float64, 18)
		for p := 0; p < 2; p++ {
			want[3*p], want[3*p+1], want[3*p+2] = c.X/2, c.Y/2, c.Z/2
		}
		for p := 0; p < 3; p++ {
			want[9+3*p], want[9+3*p+1], want[9+3*p+2] = dv.X, dv.Y, dv.Z
		}
		for i := range want {
			Expect(grads["raw"][i]).To(BeNumerically("~", want[i], 1e-14))
		}

		value, err := tape.Forward(m)
		Expect(err).NotTo(HaveOccurred())
		d := r3.Sub(meanV, goal)
		comX := r3.Scale(0.5, r3.Add(x[0], x[1]))
		Expect(value).To(BeNumerically("~", r3.Dot(comX, c)+3*r3.Dot(d, d), 1e-14))
	})

	It("reports missing feeds", func() {
		loss := diff.SquaredNorm(diff.Feed("goal"))
		_, err := diff.Forward(loss, staticMemo(loss, x, v))
		Expect(err).To(MatchError(diff.ErrMissingFeed))
	})

	It("refuses incompatible memos", func() {
		loss := diff.SquaredNorm(diff.CenterOfMass(diff.Final, trajectory.All(3)))
		tape, err := diff.Build(loss, []string{"raw"})
		Expect(err).NotTo(HaveOccurred())

		other := staticMemo(diff.SquaredNorm(diff.MeanVelocity(0, trajectory.All(3))), x, v)
		_, err = tape.Evaluate(context.Background(), other, noAdjoint{}, flatPullback{})
		Expect(err).To(MatchError(trajectory.ErrMissingMemo))

		diverged := staticMemo(loss, x, v)
		diverged.MarkDiverged(0, mpm.State{})
		_, err = tape.Evaluate(context.Background(), diverged, noAdjoint{}, flatPullback{})
		Expect(err).To(MatchError(trajectory.ErrMissingMemo))

		noControl := staticMemo(loss, x, v)
		delete(noControl.Controls, "raw")
		_, err = tape.Evaluate(context.Background(), noControl, noAdjoint{}, flatPullback{})
		Expect(err).To(MatchError(trajectory.ErrMissingMemo))

		_, err = tape.Evaluate(context.Background(), nil, noAdjoint{}, flatPullback{})
		Expect(err).To(MatchError(trajectory.ErrMissingMemo))
	})

	It("rejects ranges larger than the memo", func() {
		loss := diff.SquaredNorm(diff.CenterOfMass(0, trajectory.All(5)))
		tape, err := diff.Build(loss, []string{"raw"})
		Expect(err).NotTo(HaveOccurred())
		_, err = tape.Evaluate(context.Background(), staticMemo(loss, x, v), noAdjoint{}, flatPullback{})
		Expect(err).To(MatchError(trajectory.ErrRange))
	})
})

var _ = Describe("Evaluate through the simulation", func() {
	const steps = 12

	var (
		stepper *mpm.Stepper
		store   *control.Store
		base    mpm.State
		loss    diff.Expr
		tape    *diff.Tape
	)

	BeforeEach(func() {
		p := mpm.DefaultParams()
		p.Resolution = res
		p.CellSize = 1.0 / res
		p.Gravity = r3.Vec{Y: -0.5}
		box, err := mpm.NewBox(res, 3, mpm.Slip, 0)
		Expect(err).NotTo(HaveOccurred())
		stepper, err = mpm.NewStepper(p, box, nil)
		Expect(err).NotTo(HaveOccurred())

		base = cube(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, p.CellSize/2)
		store = control.NewStore(8)
		Expect(store.Define("push", control.Binding{Kind: control.Uniform, Range: trajectory.Range{Start: 0, End: 4}}, []float64{0.05, 0.1, 0})).To(Succeed())
		swirl := make([]r3.Vec, 8)
		for i, x := range base.X {
			swirl[i] = r3.Vec{X: x.Y - 0.5, Y: -x.X + 0.5}
		}
		Expect(store.Define("swirl", control.Binding{Kind: control.Scaled, Range: trajectory.All(8), Basis: swirl}, []float64{2})).To(Succeed())

		loss = diff.Add(
			diff.DistanceSquared(diff.CenterOfMass(diff.Final, trajectory.Range{Start: 0, End: 4}), diff.Feed("goal")),
			diff.Scale(0.5, diff.SquaredNorm(diff.MeanVelocity(steps/2, trajectory.All(8)))),
		)
		tape, err = diff.Build(loss, []string{"push", "swirl"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("matches central differences", func() {
		m := simulate(stepper, store, base, steps, loss, nil)
		grads, err := tape.Evaluate(context.Background(), m, stepper, store)
		Expect(err).NotTo(HaveOccurred())

		const eps = 1e-6
		for _, id := range tape.IDs() {
			cur, err := store.Get(id)
			Expect(err).NotTo(HaveOccurred())
			for k := range cur {
				plus := append([]float64(nil), cur...)
				minus := append([]float64(nil), cur...)
				plus[k] += eps
				minus[k] -= eps
				lp := simulate(stepper, store, base, steps, loss, control.Values{id: plus}).Loss
				lm := simulate(stepper, store, base, steps, loss, control.Values{id: minus}).Loss
				fd := (lp - lm) / (2 * eps)
				Expect(grads[id][k]).To(BeNumerically("~", fd, 1e-6*math.Max(1, math.Abs(fd))), "d loss / d %s[%d]", id, k)
			}
		}
	})

	It("replays the same memo identically", func() {
		m := simulate(stepper, store, base, steps, loss, nil)
		first, err := tape.Evaluate(context.Background(), m, stepper, store)
		Expect(err).NotTo(HaveOccurred())
		second, err := tape.Evaluate(context.Background(), m, stepper, store)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("reuses one tape across control updates", func() {
		first := simulate(stepper, store, base, steps, loss, nil)
		g1, err := tape.Evaluate(context.Background(), first, stepper, store)
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Set("push", []float64{0.1, 0, 0})).To(Succeed())
		second := simulate(stepper, store, base, steps, loss, nil)
		g2, err := tape.Evaluate(context.Background(), second, stepper, store)
		Expect(err).NotTo(HaveOccurred())

		Expect(second.Loss).NotTo(Equal(first.Loss))
		Expect(g2["push"]).NotTo(Equal(g1["push"]))
	})

	It("stops when the context is cancelled", func() {
		m := simulate(stepper, store, base, steps, loss, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := tape.Evaluate(ctx, m, stepper, store)
		Expect(err).To(MatchError(context.Canceled))
	})
})
