package viz

import (
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"gonum.org/v1/gonum/spatial/r3"
)

var ErrNoFrames = errors.New("viz: no frames to render")

// Terminal plays frames in an interactive bubbletea program.
type Terminal struct {
	Options PlayerOptions
	// ProgramOptions are passed to tea.NewProgram.
	ProgramOptions []tea.ProgramOption
}

func (t Terminal) Render(frames [][]r3.Vec) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	_, err := tea.NewProgram(NewPlayer(frames, t.Options), t.ProgramOptions...).Run()
	return err
}

// Snapshot writes still braille images of selected frames, for logs and
// non-interactive terminals.
type Snapshot struct {
	Out     io.Writer
	Options PlayerOptions
	// Every writes every Every-th frame; zero writes only the last one.
	Every int
}

func (s Snapshot) Render(frames [][]r3.Vec) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	opts := s.Options.withDefaults()
	cam := NewCamera(opts.Extent)
	cam.View = opts.View
	cv := NewCanvas(opts.Width, opts.Height)

	last := len(frames) - 1
	for i, frame := range frames {
		if i != last && (s.Every <= 0 || i%s.Every != 0) {
			continue
		}
		if _, err := fmt.Fprintf(s.Out, "%s step %d/%d\n%s\n", opts.Title, i, last, DrawFrame(cv, cam, frame)); err != nil {
			return err
		}
	}
	return nil
}

// DrawFrame clears cv, draws the box outline and the points, and returns the
// canvas text.
func DrawFrame(cv *Canvas, cam *Camera, points []r3.Vec) string {
	cv.Clear()
	cam.DrawBox(cv)
	cam.DrawPoints(cv, points)
	return cv.String()
}
