package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/config"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/optim"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

func testMemo() *trajectory.Memo {
	s0 := mpm.NewState(3)
	for p := range s0.X {
		s0.X[p] = r3.Vec{X: 0.1 * float64(p+1), Y: 0.5, Z: 0.25}
		s0.V[p] = r3.Vec{X: 1}
	}
	m := trajectory.NewMemo(s0, 2)
	prev := s0
	for step := 0; step < 2; step++ {
		next := prev.Clone()
		for p := range next.X {
			next.X[p] = r3.Add(next.X[p], r3.Vec{X: 0.01})
		}
		m.Append(mpm.Record{}, next)
		prev = next
	}
	m.Signature = "sqnorm(com(final,[0,3)))"
	m.Loss = 0.125
	m.Controls["push"] = []float64{1, 0, 0}
	m.Feeds["goal"] = r3.Vec{X: 0.6, Y: 0.43, Z: 0.4}
	m.Metrics["kinetic_energy"] = 1.5
	m.Metrics["min_det_f"] = math.NaN()
	return m
}

func testRun(memo *trajectory.Memo) Run {
	return Run{
		Scene:  "collision",
		Seed:   42,
		Params: mpm.DefaultParams(),
		Groups: []trajectory.Range{{Start: 0, End: 3}},
		Memo:   memo,
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	require.NoError(t, st.Init())

	memo := testMemo()
	runID, err := st.Save(testRun(memo))
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	meta, err := st.Load(runID)
	require.NoError(t, err)
	assert.Equal(t, runID, meta.ID)
	assert.Equal(t, "collision", meta.Scene)
	assert.Equal(t, int64(42), meta.Seed)
	assert.Equal(t, 2, meta.Steps)
	assert.Equal(t, 3, meta.Particles)
	assert.Equal(t, 100, meta.Resolution)
	assert.Equal(t, memo.Signature, meta.Signature)
	require.NotNil(t, meta.Loss)
	assert.Equal(t, 0.125, *meta.Loss)
	assert.False(t, meta.Diverged)
	assert.Equal(t, []float64{1, 0, 0}, meta.Controls["push"])
	assert.Equal(t, [3]float64{0.6, 0.43, 0.4}, meta.Feeds["goal"])
	assert.Equal(t, map[string]float64{"kinetic_energy": 1.5}, meta.Metrics)
	assert.Equal(t, []trajectory.Range{{Start: 0, End: 3}}, meta.Groups)
}

func TestStoreFrames(t *testing.T) {
	st := New(t.TempDir())
	memo := testMemo()
	runID, err := st.Save(testRun(memo))
	require.NoError(t, err)

	frames, err := st.LoadFrames(runID)
	require.NoError(t, err)
	assert.Equal(t, memo.Positions(), frames)

	rows, err := st.LoadParticles(runID)
	require.NoError(t, err)
	require.Len(t, rows, 9)
	assert.Equal(t, ParticleRecord{Step: 2, Particle: 1, X: memo.Last.X[1].X, Y: 0.5, Z: 0.25, VX: 1, DetF: 1}, rows[7])
}

func TestStoreDivergedRun(t *testing.T) {
	st := New(t.TempDir())
	memo := testMemo()
	memo.Loss = math.NaN()
	memo.MarkDiverged(2, mpm.State{})

	runID, err := st.Save(testRun(memo))
	require.NoError(t, err)
	meta, err := st.Load(runID)
	require.NoError(t, err)
	assert.Nil(t, meta.Loss)
	assert.True(t, meta.Diverged)
	assert.Equal(t, 2, meta.DivergedAt)
}

func TestStoreSaveNilMemo(t *testing.T) {
	st := New(t.TempDir())
	_, err := st.Save(Run{Scene: "collision"})
	assert.True(t, errors.Is(err, trajectory.ErrMissingMemo))
}

func TestStoreConfig(t *testing.T) {
	st := New(t.TempDir())
	run := testRun(testMemo())
	run.Config = config.GetPreset("collision", "gentle")
	runID, err := st.Save(run)
	require.NoError(t, err)

	cfg, err := st.LoadConfig(runID)
	require.NoError(t, err)
	assert.Equal(t, run.Config, cfg)
}

func TestStoreHistory(t *testing.T) {
	st := New(t.TempDir())
	runID, err := st.Save(testRun(testMemo()))
	require.NoError(t, err)

	empty, err := st.LoadHistory(runID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	history := []optim.Step{
		{Iteration: 0, Loss: 0.04, GradNorm: 0.3},
		{Iteration: 1, Loss: 0.03, GradNorm: 0.2},
	}
	require.NoError(t, st.SaveHistory(runID, history))

	got, err := st.LoadHistory(runID)
	require.NoError(t, err)
	assert.Equal(t, []HistoryRecord{
		{Iteration: 0, Loss: 0.04, GradNorm: 0.3},
		{Iteration: 1, Loss: 0.03, GradNorm: 0.2},
	}, got)

	assert.Error(t, st.SaveHistory("missing_run", history))
}

func TestStoreList(t *testing.T) {
	st := New(t.TempDir())
	_, err := st.Latest()
	assert.True(t, errors.Is(err, ErrNoRuns))

	first, err := st.Save(testRun(testMemo()))
	require.NoError(t, err)
	second, err := st.Save(testRun(testMemo()))
	require.NoError(t, err)

	runs, err := st.List()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first, runs[0].ID)
	assert.Equal(t, second, runs[1].ID)

	latest, err := st.Latest()
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)
}

func TestStoreListMissingDir(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "absent"))
	runs, err := st.List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestExportJSON(t *testing.T) {
	st := New(t.TempDir())
	memo := testMemo()
	runID, err := st.Save(testRun(memo))
	require.NoError(t, err)
	require.NoError(t, st.SaveHistory(runID, []optim.Step{{Iteration: 0, Loss: 1}}))

	var buf bytes.Buffer
	require.NoError(t, st.ExportJSON(runID, &buf))

	var data ExportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
	assert.Equal(t, runID, data.Metadata.ID)
	require.Len(t, data.Frames, 3)
	assert.Equal(t, [3]float64{0.1, 0.5, 0.25}, data.Frames[0][0])
	assert.Len(t, data.History, 1)

	assert.Error(t, st.ExportJSON("missing_run", &buf))
}

type closeFailer struct {
	bytes.Buffer
	err error
}

func (c *closeFailer) Close() error { return c.err }

func TestEncodeCSVReportsClose(t *testing.T) {
	rows := []HistoryRecord{{Iteration: 0, Loss: 1}}

	ok := &closeFailer{}
	require.NoError(t, encodeCSV(ok, rows))
	assert.Contains(t, ok.String(), "1")

	failing := &closeFailer{err: errors.New("disk full")}
	assert.EqualError(t, encodeCSV(failing, rows), "disk full")
}
