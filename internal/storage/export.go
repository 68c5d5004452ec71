package storage

import (
	"encoding/json"
	"io"
)

type ExportData struct {
	Metadata RunMetadata     `json:"metadata"`
	Frames   [][][3]float64  `json:"frames"`
	History  []HistoryRecord `json:"history,omitempty"`
}

// ExportJSON writes a saved run as a single JSON document.
func (s *Store) ExportJSON(runID string, w io.Writer) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	frames, err := s.LoadFrames(runID)
	if err != nil {
		return err
	}
	history, err := s.LoadHistory(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		Metadata: *meta,
		Frames:   make([][][3]float64, len(frames)),
		History:  history,
	}
	for i, frame := range frames {
		data.Frames[i] = make([][3]float64, len(frame))
		for p, x := range frame {
			data.Frames[i][p] = [3]float64{x.X, x.Y, x.Z}
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
