package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/san-kum/diffmpm/internal/config"
	"github.com/san-kum/diffmpm/internal/mpm"
	"github.com/san-kum/diffmpm/internal/trajectory"
)

const (
	metadataFile  = "metadata.json"
	positionsFile = "positions.csv"
	historyFile   = "history.csv"
	configFile    = "config.yaml"
)

var ErrNoRuns = errors.New("storage: no runs recorded")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type RunMetadata struct {
	ID         string                `json:"id"`
	Scene      string                `json:"scene"`
	Timestamp  time.Time             `json:"timestamp"`
	Seed       int64                 `json:"seed"`
	Dt         float64               `json:"dt"`
	Steps      int                   `json:"steps"`
	Particles  int                   `json:"particles"`
	Resolution int                   `json:"resolution"`
	Signature  string                `json:"signature"`
	Loss       *float64              `json:"loss,omitempty"`
	Diverged   bool                  `json:"diverged"`
	DivergedAt int                   `json:"diverged_at"`
	Groups     []trajectory.Range    `json:"groups,omitempty"`
	Controls   map[string][]float64  `json:"controls,omitempty"`
	Feeds      map[string][3]float64 `json:"feeds,omitempty"`
	Metrics    map[string]float64    `json:"metrics"`
}

// Run is everything Save persists about one simulation.
type Run struct {
	Scene  string
	Seed   int64
	Params mpm.Params
	Groups []trajectory.Range
	Memo   *trajectory.Memo
	// Config is written next to the run as config.yaml when set.
	Config *config.Config
}

func metadata(id string, run Run) RunMetadata {
	m := run.Memo
	meta := RunMetadata{
		ID:         id,
		Scene:      run.Scene,
		Timestamp:  time.Now(),
		Seed:       run.Seed,
		Dt:         run.Params.Dt,
		Steps:      m.Steps(),
		Particles:  m.N,
		Resolution: run.Params.Resolution,
		Signature:  m.Signature,
		Diverged:   m.Diverged,
		DivergedAt: m.DivergedAt,
		Groups:     run.Groups,
		Controls:   m.Controls,
		Feeds:      make(map[string][3]float64, len(m.Feeds)),
		Metrics:    make(map[string]float64, len(m.Metrics)),
	}
	if finite(m.Loss) {
		loss := m.Loss
		meta.Loss = &loss
	}
	for name, v := range m.Feeds {
		meta.Feeds[name] = [3]float64{v.X, v.Y, v.Z}
	}
	// encoding/json rejects NaN and Inf.
	for name, v := range m.Metrics {
		if finite(v) {
			meta.Metrics[name] = v
		}
	}
	return meta
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// Save writes metadata.json, positions.csv and optionally config.yaml into a
// fresh run directory and returns its id.
func (s *Store) Save(run Run) (string, error) {
	if run.Memo == nil {
		return "", fmt.Errorf("saving run: %w", trajectory.ErrMissingMemo)
	}
	runID := fmt.Sprintf("%s_%d", run.Scene, time.Now().UnixNano())
	runDir := s.Dir(runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), metadata(runID, run)); err != nil {
		return "", fmt.Errorf("writing metadata: %w", err)
	}
	if err := writeCSV(filepath.Join(runDir, positionsFile), particleRecords(run.Memo)); err != nil {
		return "", fmt.Errorf("writing positions: %w", err)
	}
	if run.Config != nil {
		if err := config.Save(filepath.Join(runDir, configFile), run.Config); err != nil {
			return "", fmt.Errorf("writing config: %w", err)
		}
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

// Latest returns the most recent run.
func (s *Store) Latest() (*RunMetadata, error) {
	runs, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return &runs[len(runs)-1], nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadConfig reads the configuration saved with a run.
func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.Dir(runID), configFile))
}
