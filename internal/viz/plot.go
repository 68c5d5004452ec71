package viz

import (
	"math"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/spatial/r3"
)

// finiteSeries replaces infinities with NaN, which asciigraph leaves blank.
// It reports whether any finite value remains.
func finiteSeries(data []float64) ([]float64, bool) {
	out := make([]float64, len(data))
	ok := false
	for i, v := range data {
		if math.IsInf(v, 0) {
			v = math.NaN()
		}
		if !math.IsNaN(v) {
			ok = true
		}
		out[i] = v
	}
	return out, ok
}

// PlotLoss draws an optimizer loss history.
func PlotLoss(losses []float64, width, height int) string {
	data, ok := finiteSeries(losses)
	if !ok {
		return ""
	}
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Precision(5),
		asciigraph.Caption("loss per iteration"),
	)
}

// PlotTrack draws the x, y and z components of a trajectory, typically a
// center-of-mass track.
func PlotTrack(track []r3.Vec, width, height int, caption string) string {
	if len(track) == 0 {
		return ""
	}
	xs := make([]float64, len(track))
	ys := make([]float64, len(track))
	zs := make([]float64, len(track))
	for i, p := range track {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	series := make([][]float64, 0, 3)
	for _, s := range [][]float64{xs, ys, zs} {
		data, ok := finiteSeries(s)
		if !ok {
			return ""
		}
		series = append(series, data)
	}
	return asciigraph.PlotMany(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Precision(3),
		asciigraph.SeriesColors(asciigraph.Red, asciigraph.Green, asciigraph.Blue),
		asciigraph.SeriesLegends("x", "y", "z"),
		asciigraph.Caption(caption),
	)
}
