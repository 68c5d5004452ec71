package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/compute"
	"github.com/san-kum/diffmpm/internal/control"
	"github.com/san-kum/diffmpm/internal/diff"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

// Simulation is the caller-owned handle every operation goes through. It owns
// the control store and pooled grid buffers; the stepper it wraps is
// immutable.
type Simulation struct {
	params   mpm.Params
	n        int
	stepper  *mpm.Stepper
	grids    *mpm.GridPool
	controls *control.Store
	logger   *slog.Logger
	backend  compute.Backend
	renderer Renderer

	metrics   []Metric
	observers []Observer
}

type Option func(*Simulation)

func WithLogger(l *slog.Logger) Option {
	return func(s *Simulation) { s.logger = l }
}

func WithBackend(b compute.Backend) Option {
	return func(s *Simulation) { s.backend = b }
}

func WithRenderer(r Renderer) Option {
	return func(s *Simulation) { s.renderer = r }
}

// New constructs a simulation of n particles. Gravity and the time step come
// from p.
func New(p mpm.Params, n int, bc mpm.BoundaryCondition, opts ...Option) (*Simulation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: particle count must be positive, got %d", mpm.ErrConfiguration, n)
	}
	s := &Simulation{
		params:   p,
		n:        n,
		controls: control.NewStore(n),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.backend == nil {
		s.backend = compute.AutoSelectBackend(0)
	}

	stepper, err := mpm.NewStepper(p, bc, s.backend)
	if err != nil {
		return nil, err
	}
	s.stepper = stepper
	s.grids = mpm.NewGridPool(p.Resolution)
	return s, nil
}

func (s *Simulation) Params() mpm.Params       { return s.params }
func (s *Simulation) N() int                   { return s.n }
func (s *Simulation) Controls() *control.Store { return s.controls }
func (s *Simulation) Stepper() *mpm.Stepper    { return s.stepper }
func (s *Simulation) Backend() compute.Backend { return s.backend }
func (s *Simulation) Logger() *slog.Logger     { return s.logger }
func (s *Simulation) ParticleMass() float64    { return s.stepper.ParticleMass() }
func (s *Simulation) AddMetric(m Metric)       { s.metrics = append(s.metrics, m) }
func (s *Simulation) AddObserver(o Observer)   { s.observers = append(s.observers, o) }
func (s *Simulation) SetRenderer(r Renderer)   { s.renderer = r }

// InitialState assembles a particle state. The optional trailing argument is
// the affine velocity field; it defaults to zero.
func (s *Simulation) InitialState(x, v []r3.Vec, f []mpm.Mat3, c ...[]mpm.Mat3) (mpm.State, error) {
	st := mpm.State{X: x, V: v, F: f}
	switch len(c) {
	case 0:
		st.C = make([]mpm.Mat3, len(x))
	case 1:
		st.C = c[0]
	default:
		return mpm.State{}, fmt.Errorf("%w: more than one affine field", mpm.ErrConfiguration)
	}
	if err := st.Validate(s.n); err != nil {
		return mpm.State{}, err
	}
	return st.Clone(), nil
}

// Run applies controls to init and advances steps times, recording every
// step. A nil loss skips loss evaluation. On divergence the partial memo is
// returned together with an error wrapping mpm.ErrDiverged; a cancelled run
// returns its partial memo marked incomplete.
func (s *Simulation) Run(ctx context.Context, init mpm.State, steps int, controls control.Values, loss diff.Expr, opts RunOptions) (*trajectory.Memo, error) {
	return s.run(ctx, init, steps, controls, loss, opts, true)
}

func (s *Simulation) run(ctx context.Context, init mpm.State, steps int, controls control.Values, loss diff.Expr, opts RunOptions, observe bool) (*trajectory.Memo, error) {
	if steps < 0 {
		return nil, fmt.Errorf("%w: step count must be non-negative, got %d", mpm.ErrConfiguration, steps)
	}
	resolved, err := s.controls.Resolve(controls)
	if err != nil {
		return nil, err
	}
	x, err := s.controls.Apply(init, resolved)
	if err != nil {
		return nil, err
	}

	memo := trajectory.NewMemo(x, steps)
	memo.Controls = resolved
	for k, v := range opts.Feeds {
		memo.Feeds[k] = v
	}
	if loss != nil {
		memo.Signature = loss.String()
	}

	if observe {
		for _, m := range s.metrics {
			m.Reset()
		}
		s.notify(0, x)
	}

	grid := s.grids.Get()
	defer s.grids.Put(grid)

	start := time.Now()
	s.logger.Debug("run started", "particles", s.n, "steps", steps, "loss", memo.Signature)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			memo.MarkIncomplete()
			return memo, ctx.Err()
		default:
		}

		var rec mpm.Record
		next, err := s.stepper.Step(grid, x, &rec, i)
		if err != nil {
			var de *mpm.DivergedError
			if errors.As(err, &de) {
				memo.MarkDiverged(i, next)
				s.logger.Warn("run diverged", "step", de.Step, "particle", de.Particle, "reason", de.Reason)
			}
			return memo, err
		}
		memo.Append(rec, next)
		x = next

		if observe {
			s.notify(i+1, x)
		}
	}

	if observe {
		for _, m := range s.metrics {
			memo.Metrics[m.Name()] = m.Value()
		}
	}

	if loss != nil {
		memo.Loss, err = diff.Forward(loss, memo)
		if err != nil {
			memo.MarkIncomplete()
			return memo, err
		}
	}
	s.logger.Debug("run finished", "steps", memo.Steps(), "loss", memo.Loss, "elapsed", time.Since(start))
	return memo, nil
}

func (s *Simulation) notify(step int, x mpm.State) {
	for _, m := range s.metrics {
		m.Observe(step, x)
	}
	for _, o := range s.observers {
		o.OnStep(step, x)
	}
}

// BuildGradientTape compiles loss against control ids defined on this
// simulation.
func (s *Simulation) BuildGradientTape(loss diff.Expr, ids []string) (*diff.Tape, error) {
	for _, id := range ids {
		if _, err := s.controls.Binding(id); err != nil {
			return nil, err
		}
	}
	return diff.Build(loss, ids)
}

// EvaluateGradients replays memo backward through tape.
func (s *Simulation) EvaluateGradients(ctx context.Context, tape *diff.Tape, memo *trajectory.Memo) (diff.Gradients, error) {
	if err := tape.Check(memo); err != nil {
		return nil, err
	}
	if memo.N != s.n {
		return nil, fmt.Errorf("%w: memo holds %d particles, simulation %d", trajectory.ErrMissingMemo, memo.N, s.n)
	}
	start := time.Now()
	grads, err := tape.Evaluate(ctx, memo, s.stepper, s.controls)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("gradients evaluated", "steps", memo.Steps(), "norm", grads.Norm(), "elapsed", time.Since(start))
	return grads, nil
}

// CenterOfMass is the mean position of r at step; diff.Final names the last
// recorded step.
func (s *Simulation) CenterOfMass(memo *trajectory.Memo, step int, r trajectory.Range) (r3.Vec, error) {
	if memo == nil {
		return r3.Vec{}, trajectory.ErrMissingMemo
	}
	if step == diff.Final {
		step = memo.Steps()
	}
	return memo.CenterOfMass(step, r)
}

// Visualize hands every recorded particle position to the renderer.
func (s *Simulation) Visualize(memo *trajectory.Memo) error {
	if s.renderer == nil {
		return ErrNoRenderer
	}
	if memo == nil {
		return trajectory.ErrMissingMemo
	}
	if err := s.renderer.Render(memo.Positions()); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}
