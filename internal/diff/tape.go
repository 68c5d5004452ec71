package diff

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

var (
	// ErrInvalidExpr indicates a malformed loss expression or control list.
	ErrInvalidExpr = errors.New("diff: invalid expression")

	// ErrMissingFeed indicates a feed placeholder without a value.
	ErrMissingFeed = errors.New("diff: missing feed value")
)

// Adjoint is the reverse of one simulation step.
type Adjoint interface {
	Backward(in mpm.State, rec *mpm.Record, gOut mpm.State) (mpm.State, error)
}

// Pullback maps a cotangent of the initial state onto one control variable.
type Pullback interface {
	Pullback(id string, g mpm.State) ([]float64, error)
}

// Gradients maps control ids to the gradient of the loss.
type Gradients map[string][]float64

// Norm is the Euclidean norm over every component.
func (g Gradients) Norm() float64 {
	sum := 0.0
	for _, v := range g {
		n := floats.Norm(v, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

type value struct {
	s float64
	v r3.Vec
}

func (a value) add(b value, alpha float64) value {
	return value{s: a.s + alpha*b.s, v: r3.Add(a.v, r3.Scale(alpha, b.v))}
}

// instr is one tape entry; args index earlier entries.
type instr struct {
	*node
	in []int
}

// Tape is the compiled form of a loss and the controls it is differentiated
// against. It holds no numeric state and can be evaluated against any number
// of memos recorded with the same loss.
type Tape struct {
	signature string
	ids       []string
	code      []instr
	steps     []int
	feeds     []string
}

// Build compiles loss for differentiation with respect to ids. loss must be
// scalar.
func Build(loss Expr, ids []string) (*Tape, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no control variables", ErrInvalidExpr)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: control %q listed twice", ErrInvalidExpr, id)
		}
		seen[id] = true
	}
	t, err := compile(loss)
	if err != nil {
		return nil, err
	}
	t.ids = append([]string(nil), ids...)
	return t, nil
}

func compile(loss Expr) (*Tape, error) {
	if loss == nil {
		return nil, fmt.Errorf("%w: nil loss", ErrInvalidExpr)
	}
	if loss.Kind() != Scalar {
		return nil, fmt.Errorf("%w: loss %s is %v, want scalar", ErrInvalidExpr, loss, loss.Kind())
	}
	t := &Tape{signature: loss.String()}
	index := make(map[string]int)
	steps := make(map[int]bool)
	feeds := make(map[string]bool)

	var emit func(e Expr) (int, error)
	emit = func(e Expr) (int, error) {
		if e == nil {
			return 0, fmt.Errorf("%w: nil operand", ErrInvalidExpr)
		}
		if e.Kind() == Invalid {
			return 0, fmt.Errorf("%w: operand kinds do not match in %s", ErrInvalidExpr, e)
		}
		if i, ok := index[e.String()]; ok {
			return i, nil
		}
		n := e.expr()
		in := make([]int, len(n.args))
		for k, a := range n.args {
			i, err := emit(a)
			if err != nil {
				return 0, err
			}
			in[k] = i
		}
		switch n.op {
		case opCenterOfMass, opMeanVelocity:
			if n.step < Final {
				return 0, fmt.Errorf("%w: negative step %d in %s", ErrInvalidExpr, n.step, e)
			}
			if n.rng.Len() <= 0 || n.rng.Start < 0 {
				return 0, fmt.Errorf("%w: empty particle range in %s", ErrInvalidExpr, e)
			}
			if !steps[n.step] {
				steps[n.step] = true
				t.steps = append(t.steps, n.step)
			}
		case opFeed:
			if !feeds[n.name] {
				feeds[n.name] = true
				t.feeds = append(t.feeds, n.name)
			}
		}
		index[e.String()] = len(t.code)
		t.code = append(t.code, instr{node: n, in: in})
		return len(t.code) - 1, nil
	}

	if _, err := emit(loss); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tape) Signature() string { return t.signature }
func (t *Tape) IDs() []string     { return append([]string(nil), t.ids...) }
func (t *Tape) Feeds() []string   { return append([]string(nil), t.feeds...) }

// Steps lists the recorded steps the loss reads, possibly including Final.
func (t *Tape) Steps() []int { return append([]int(nil), t.steps...) }

// Len is the number of distinct subexpressions on the tape.
func (t *Tape) Len() int { return len(t.code) }

// Forward evaluates loss on memo using the memo's feeds.
func Forward(loss Expr, m *trajectory.Memo) (float64, error) {
	t, err := compile(loss)
	if err != nil {
		return 0, err
	}
	return t.Forward(m)
}

// Forward evaluates the compiled loss on m.
func (t *Tape) Forward(m *trajectory.Memo) (float64, error) {
	vals, err := t.forward(m)
	if err != nil {
		return 0, err
	}
	return vals[len(vals)-1].s, nil
}

func resolve(step int, m *trajectory.Memo) int {
	if step == Final {
		return m.Steps()
	}
	return step
}

func (t *Tape) forward(m *trajectory.Memo) ([]value, error) {
	vals := make([]value, len(t.code))
	for i, c := range t.code {
		var v value
		switch c.op {
		case opCenterOfMass:
			x, err := m.CenterOfMass(resolve(c.step, m), c.rng)
			if err != nil {
				return nil, fmt.Errorf("evaluate %s: %w", c.sig, err)
			}
			v.v = x
		case opMeanVelocity:
			x, err := m.MeanVelocity(resolve(c.step, m), c.rng)
			if err != nil {
				return nil, fmt.Errorf("evaluate %s: %w", c.sig, err)
			}
			v.v = x
		case opFeed:
			x, ok := m.Feeds[c.name]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrMissingFeed, c.name)
			}
			v.v = x
		case opConst:
			v.v = c.vec
		case opAdd:
			v = vals[c.in[0]].add(vals[c.in[1]], 1)
		case opSub:
			v = vals[c.in[0]].add(vals[c.in[1]], -1)
		case opScale:
			v = value{}.add(vals[c.in[0]], c.scale)
		case opDot:
			v.s = r3.Dot(vals[c.in[0]].v, vals[c.in[1]].v)
		case opSquaredNorm:
			x := vals[c.in[0]].v
			v.s = r3.Dot(x, x)
		case opSum:
			for _, j := range c.in {
				v = v.add(vals[j], 1)
			}
		}
		vals[i] = v
	}
	return vals, nil
}

// seeds pushes d(loss)/d(node) through the tape and collects the cotangent
// of every observed state, keyed by resolved step.
func (t *Tape) seeds(m *trajectory.Memo, vals []value) map[int]mpm.State {
	adj := make([]value, len(t.code))
	adj[len(adj)-1].s = 1
	out := make(map[int]mpm.State)

	for i := len(t.code) - 1; i >= 0; i-- {
		c := t.code[i]
		a := adj[i]
		switch c.op {
		case opCenterOfMass, opMeanVelocity:
			step := resolve(c.step, m)
			g, ok := out[step]
			if !ok {
				g = mpm.ZeroState(m.N)
				out[step] = g
			}
			dst := g.V
			if c.op == opCenterOfMass {
				dst = g.X
			}
			share := r3.Scale(1/float64(c.rng.Len()), a.v)
			for p := c.rng.Start; p < c.rng.End; p++ {
				dst[p] = r3.Add(dst[p], share)
			}
		case opAdd:
			adj[c.in[0]] = adj[c.in[0]].add(a, 1)
			adj[c.in[1]] = adj[c.in[1]].add(a, 1)
		case opSub:
			adj[c.in[0]] = adj[c.in[0]].add(a, 1)
			adj[c.in[1]] = adj[c.in[1]].add(a, -1)
		case opScale:
			adj[c.in[0]] = adj[c.in[0]].add(a, c.scale)
		case opDot:
			x, y := c.in[0], c.in[1]
			adj[x].v = r3.Add(adj[x].v, r3.Scale(a.s, vals[y].v))
			adj[y].v = r3.Add(adj[y].v, r3.Scale(a.s, vals[x].v))
		case opSquaredNorm:
			x := c.in[0]
			adj[x].v = r3.Add(adj[x].v, r3.Scale(2*a.s, vals[x].v))
		case opSum:
			for _, j := range c.in {
				adj[j] = adj[j].add(a, 1)
			}
		}
	}
	return out
}

// Check reports whether m can be used with this tape.
func (t *Tape) Check(m *trajectory.Memo) error {
	if err := m.Usable(); err != nil {
		return err
	}
	if m.Signature != t.signature {
		return fmt.Errorf("%w: memo recorded for loss %s, tape built for %s", trajectory.ErrMissingMemo, m.Signature, t.signature)
	}
	for _, id := range t.ids {
		if _, ok := m.Controls[id]; !ok {
			return fmt.Errorf("%w: memo has no value for control %q", trajectory.ErrMissingMemo, id)
		}
	}
	return nil
}

// Evaluate replays m backward and returns the gradient of the loss with
// respect to every control on the tape. m is only read, so evaluating the
// same memo twice yields identical gradients.
func (t *Tape) Evaluate(ctx context.Context, m *trajectory.Memo, adj Adjoint, pb Pullback) (Gradients, error) {
	if err := t.Check(m); err != nil {
		return nil, err
	}
	vals, err := t.forward(m)
	if err != nil {
		return nil, err
	}
	seeds := t.seeds(m, vals)

	last := 0
	for step := range seeds {
		if step > last {
			last = step
		}
	}

	g := mpm.ZeroState(m.N)
	for step := last; step >= 0; step-- {
		if s, ok := seeds[step]; ok {
			g.AddScaled(1, s)
		}
		if step == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := &m.Frames[step-1]
		g, err = adj.Backward(f.Before, &f.Record, g)
		if err != nil {
			return nil, fmt.Errorf("backward step %d: %w", step-1, err)
		}
	}

	grads := make(Gradients, len(t.ids))
	for _, id := range t.ids {
		v, err := pb.Pullback(id, g)
		if err != nil {
			return nil, err
		}
		grads[id] = v
	}
	return grads, nil
}
