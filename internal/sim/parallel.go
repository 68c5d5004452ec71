package sim

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/diffmpm/internal/diff"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

// Batch runs one simulation per setting concurrently. Every run draws its own
// grid from the pool and shares the immutable stepper. Metrics and observers
// are not notified. Diverged runs come back marked in their memo; any other
// error cancels the batch.
func (s *Simulation) Batch(ctx context.Context, init mpm.State, steps int, settings []Setting, loss diff.Expr) ([]*trajectory.Memo, error) {
	memos := make([]*trajectory.Memo, len(settings))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism())
	for i := range settings {
		g.Go(func() error {
			memo, err := s.run(ctx, init, steps, settings[i].Controls, loss, settings[i].Options, false)
			memos[i] = memo
			if err != nil && !errors.Is(err, mpm.ErrDiverged) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return memos, nil
}

func (s *Simulation) parallelism() int {
	if w := s.backend.Workers(); w > 1 {
		return w
	}
	return 1
}
