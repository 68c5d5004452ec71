package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(4)
	require.NoError(t, s.Define("push", Binding{Kind: Uniform, Range: trajectory.Range{Start: 0, End: 2}}, []float64{1, 0, 0}))
	require.NoError(t, s.Define("swirl", Binding{
		Kind:  Scaled,
		Range: trajectory.Range{Start: 2, End: 4},
		Basis: []r3.Vec{{Y: 1}, {Z: 2}},
	}, []float64{0.5}))
	require.NoError(t, s.Define("shift", Binding{Kind: Offset, Field: Position, Range: trajectory.Range{Start: 1, End: 3}}, nil))
	return s
}

func TestStoreApply(t *testing.T) {
	s := testStore(t)
	base := mpm.NewState(4)

	out, err := s.Apply(base, nil)
	require.NoError(t, err)

	assert.Equal(t, r3.Vec{X: 1}, out.V[0])
	assert.Equal(t, r3.Vec{X: 1}, out.V[1])
	assert.Equal(t, r3.Vec{Y: 0.5}, out.V[2])
	assert.Equal(t, r3.Vec{Z: 1}, out.V[3])
	assert.Equal(t, r3.Vec{}, base.V[0], "Apply must not modify its input")

	out, err = s.Apply(base, Values{"shift": {0, 0, 0, 1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, out.X[2])
	assert.Equal(t, r3.Vec{}, out.X[1])
}

func TestStoreErrors(t *testing.T) {
	s := testStore(t)

	err := s.Define("push", Binding{Kind: Uniform, Range: trajectory.All(4)}, nil)
	assert.ErrorIs(t, err, ErrDuplicateControl)

	err = s.Define("bad", Binding{Kind: Uniform, Range: trajectory.Range{Start: 2, End: 9}}, nil)
	assert.ErrorIs(t, err, mpm.ErrConfiguration)

	err = s.Define("short", Binding{Kind: Scaled, Range: trajectory.All(4), Basis: []r3.Vec{{X: 1}}}, nil)
	assert.ErrorIs(t, err, mpm.ErrShapeMismatch)

	assert.ErrorIs(t, s.Set("push", []float64{1}), mpm.ErrShapeMismatch)
	assert.ErrorIs(t, s.Set("nope", []float64{1}), ErrUnknownControl)

	_, err = s.Apply(mpm.NewState(4), Values{"nope": {1}})
	assert.ErrorIs(t, err, ErrUnknownControl)

	_, err = s.Apply(mpm.NewState(3), nil)
	assert.ErrorIs(t, err, mpm.ErrShapeMismatch)
}

func TestStorePullback(t *testing.T) {
	s := testStore(t)
	g := mpm.ZeroState(4)
	g.V = []r3.Vec{{X: 1, Y: 2}, {X: 3, Z: 1}, {Y: 4}, {Z: 5}}
	g.X[1] = r3.Vec{X: 7}
	g.X[2] = r3.Vec{Y: 8}

	push, err := s.Pullback("push", g)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 2, 1}, push)

	swirl, err := s.Pullback("swirl", g)
	require.NoError(t, err)
	assert.Equal(t, []float64{4 + 10}, swirl)

	shift, err := s.Pullback("shift", g)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 0, 0, 0, 8, 0}, shift)
}

func TestStorePullbackIsLinearAdjoint(t *testing.T) {
	// <g, Apply(v) - Apply(0)> == <Pullback(g), v> for every binding.
	s := testStore(t)
	base := mpm.NewState(4)
	g := mpm.ZeroState(4)
	for i := range g.V {
		g.V[i] = r3.Vec{X: float64(i) + 1, Y: -2, Z: 0.5 * float64(i)}
		g.X[i] = r3.Vec{X: 0.25, Y: float64(i), Z: -1}
	}
	vals := Values{"push": {0.3, -1, 2}, "swirl": {-1.5}, "shift": {1, 2, 3, 4, 5, 6}}
	zero := Values{"push": {0, 0, 0}, "swirl": {0}, "shift": make([]float64, 6)}

	with, err := s.Apply(base, vals)
	require.NoError(t, err)
	without, err := s.Apply(base, zero)
	require.NoError(t, err)
	without.AddScaled(-1, with)
	lhs := -g.Dot(without)

	rhs := 0.0
	for _, id := range s.IDs() {
		pb, err := s.Pullback(id, g)
		require.NoError(t, err)
		for i := range pb {
			rhs += pb[i] * vals[id][i]
		}
	}
	assert.InDelta(t, lhs, rhs, 1e-12)
}

func TestStoreFlatten(t *testing.T) {
	s := testStore(t)
	ids := []string{"swirl", "push"}

	flat, err := s.Flatten(ids, s.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1, 0, 0}, flat)

	vals, err := s.Unflatten(ids, []float64{2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, Values{"swirl": {2}, "push": {3, 4, 5}}, vals)

	_, err = s.Unflatten(ids, []float64{1})
	assert.ErrorIs(t, err, mpm.ErrShapeMismatch)

	require.NoError(t, s.SetAll(vals))
	got, err := s.Get("push")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5}, got)
	assert.Equal(t, []string{"push", "swirl", "shift"}, s.IDs())
}
