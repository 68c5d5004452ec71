package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/optim"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

// ParticleRecord is one row of positions.csv.
type ParticleRecord struct {
	Step     int     `csv:"step"`
	Particle int     `csv:"particle"`
	X        float64 `csv:"x"`
	Y        float64 `csv:"y"`
	Z        float64 `csv:"z"`
	VX       float64 `csv:"vx"`
	VY       float64 `csv:"vy"`
	VZ       float64 `csv:"vz"`
	DetF     float64 `csv:"det_f"`
}

// HistoryRecord is one optimizer iteration in history.csv.
type HistoryRecord struct {
	Iteration int     `csv:"iteration"`
	Loss      float64 `csv:"loss"`
	GradNorm  float64 `csv:"grad_norm"`
}

func particleRecords(m *trajectory.Memo) []ParticleRecord {
	states := m.States()
	records := make([]ParticleRecord, 0, len(states)*m.N)
	for step, s := range states {
		for p := range s.X {
			x, v := s.X[p], s.V[p]
			records = append(records, ParticleRecord{
				Step:     step,
				Particle: p,
				X:        x.X,
				Y:        x.Y,
				Z:        x.Z,
				VX:       v.X,
				VY:       v.Y,
				VZ:       v.Z,
				DetF:     s.F[p].Det(),
			})
		}
	}
	return records
}

func writeCSV[T any](path string, records []T) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return encodeCSV(f, records)
}

// encodeCSV marshals records to w and closes it, reporting a failed close
// when the marshal itself succeeded.
func encodeCSV[T any](w io.WriteCloser, records []T) (err error) {
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	return gocsv.Marshal(&records, w)
}

func readCSV[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []T
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// LoadParticles returns the raw rows of positions.csv.
func (s *Store) LoadParticles(runID string) ([]ParticleRecord, error) {
	return readCSV[ParticleRecord](filepath.Join(s.Dir(runID), positionsFile))
}

// LoadFrames returns the particle positions of every saved step.
func (s *Store) LoadFrames(runID string) ([][]r3.Vec, error) {
	records, err := s.LoadParticles(runID)
	if err != nil {
		return nil, err
	}
	var frames [][]r3.Vec
	for _, r := range records {
		for len(frames) <= r.Step {
			frames = append(frames, nil)
		}
		if r.Particle != len(frames[r.Step]) {
			return nil, fmt.Errorf("run %s: particle %d of step %d out of order", runID, r.Particle, r.Step)
		}
		frames[r.Step] = append(frames[r.Step], r3.Vec{X: r.X, Y: r.Y, Z: r.Z})
	}
	return frames, nil
}

// SaveHistory writes an optimizer trace as history.csv of an existing run.
func (s *Store) SaveHistory(runID string, history []optim.Step) error {
	if _, err := s.Load(runID); err != nil {
		return err
	}
	records := make([]HistoryRecord, len(history))
	for i, h := range history {
		records[i] = HistoryRecord{Iteration: h.Iteration, Loss: h.Loss, GradNorm: h.GradNorm}
	}
	if err := writeCSV(filepath.Join(s.Dir(runID), historyFile), records); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	return nil
}

// LoadHistory reads history.csv; a run without one has an empty history.
func (s *Store) LoadHistory(runID string) ([]HistoryRecord, error) {
	records, err := readCSV[HistoryRecord](filepath.Join(s.Dir(runID), historyFile))
	if os.IsNotExist(err) {
		return []HistoryRecord{}, nil
	}
	return records, err
}
