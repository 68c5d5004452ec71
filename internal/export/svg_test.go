package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/trajectory"
	"github.com/san-kum/diffmpm/internal/viz"
)

func TestFrameSVG(t *testing.T) {
	points := []r3.Vec{
		{X: 0.4, Y: 0.5, Z: 0.5},
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 0.6, Y: 0.5, Z: 0.5},
		{X: 3, Y: 3, Z: 3},
	}
	out := FrameSVG(points, SVGOptions{
		Width:  200,
		Height: 200,
		Groups: []trajectory.Range{{Start: 0, End: 2}, {Start: 2, End: 4}},
	})

	if !strings.HasPrefix(out, "<?xml") || !strings.HasSuffix(out, "</svg>") {
		t.Fatalf("not an svg document:\n%s", out)
	}
	if got := strings.Count(out, "<circle"); got != 3 {
		t.Errorf("circles = %d, want 3 (one point is outside the box)", got)
	}
	if got := strings.Count(out, "<line"); got != 12 {
		t.Errorf("box edges = %d, want 12", got)
	}
	for _, c := range Palette[:2] {
		if !strings.Contains(out, c) {
			t.Errorf("missing group color %s", c)
		}
	}
	if !strings.Contains(out, `cx="100" cy="100"`) {
		t.Error("box center should map to the image center")
	}
}

func TestFrameSVGWithoutGroups(t *testing.T) {
	out := FrameSVG([]r3.Vec{{X: 0.5, Y: 0.5, Z: 0.5}}, SVGOptions{View: viz.Top})
	if got := strings.Count(out, "<circle"); got != 1 {
		t.Errorf("circles = %d, want 1", got)
	}
	if strings.Contains(out, Palette[1]) {
		t.Error("ungrouped particles should use a single color")
	}
}

func TestTrackSVG(t *testing.T) {
	tracks := [][]r3.Vec{
		{{X: 0.4, Y: 0.4, Z: 0.4}, {X: 0.45, Y: 0.42, Z: 0.4}, {X: 0.5, Y: 0.43, Z: 0.4}},
		{{X: 0.6, Y: 0.4, Z: 0.4}, {X: 0.62, Y: 0.41, Z: 0.4}},
	}
	goal := r3.Vec{X: 0.6, Y: 0.43, Z: 0.4}

	out := TrackSVG(tracks, &goal, 300, 200, viz.Front)
	if got := strings.Count(out, "<path"); got != 3 {
		t.Errorf("paths = %d, want two tracks and the goal marker", got)
	}
	if got := strings.Count(out, " L"); got < 3 {
		t.Errorf("track segments = %d", got)
	}

	if TrackSVG(nil, nil, 300, 200, viz.Front) != "" {
		t.Error("no data should produce no image")
	}
}

func TestWriteFrames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	frames := make([][]r3.Vec, 6)
	for i := range frames {
		frames[i] = []r3.Vec{{X: 0.5, Y: 0.1 * float64(i), Z: 0.5}}
	}

	paths, err := WriteFrames(dir, frames, 4, SVGOptions{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"frame_0000.svg", "frame_0004.svg", "frame_0005.svg"}
	if len(paths) != len(want) {
		t.Fatalf("wrote %v, want %v", paths, want)
	}
	for i, p := range paths {
		if filepath.Base(p) != want[i] {
			t.Errorf("path %d = %s, want %s", i, filepath.Base(p), want[i])
		}
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "<svg") {
			t.Errorf("%s is not an svg", p)
		}
	}

	if _, err := WriteFrames(dir, nil, 1, SVGOptions{}); err != viz.ErrNoFrames {
		t.Errorf("empty frames err = %v", err)
	}
}
