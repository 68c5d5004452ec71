// Package export writes recorded runs as standalone SVG images.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/trajectory"
	"github.com/san-kum/diffmpm/internal/viz"
)

const (
	background = "#0a0a0a"
	boxStroke  = "#444444"
)

// Palette colors particle groups in order; it wraps for more groups.
var Palette = []string{"#00ff00", "#ff00ff", "#00ffff", "#ffcc00", "#ff5555"}

type SVGOptions struct {
	Width, Height int
	View          viz.View
	// Extent is the side length of the simulation box.
	Extent float64
	// Groups colors particle ranges; particles outside every group use the
	// first palette color.
	Groups []trajectory.Range
	// Radius of a particle dot in pixels.
	Radius float64
}

func (o SVGOptions) withDefaults() SVGOptions {
	if o.Width <= 0 {
		o.Width = 480
	}
	if o.Height <= 0 {
		o.Height = 480
	}
	if o.Extent <= 0 {
		o.Extent = 1
	}
	if o.Radius <= 0 {
		o.Radius = 2
	}
	return o
}

func header(sb *strings.Builder, width, height int) {
	fmt.Fprintf(sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="%s"/>
`, width, height, width, height, background)
}

// FrameSVG draws one frame of particle positions inside the box outline.
func FrameSVG(points []r3.Vec, opts SVGOptions) string {
	opts = opts.withDefaults()
	cam := viz.NewCamera(opts.Extent)
	cam.View = opts.View

	var sb strings.Builder
	header(&sb, opts.Width, opts.Height)

	var corners [8][2]int
	for i := range corners {
		p := r3.Vec{
			X: float64(i&1) * opts.Extent,
			Y: float64((i>>1)&1) * opts.Extent,
			Z: float64((i>>2)&1) * opts.Extent,
		}
		corners[i][0], corners[i][1], _ = cam.Project(p, opts.Width, opts.Height)
	}
	fmt.Fprintf(&sb, "<g stroke=\"%s\" stroke-width=\"1\">\n", boxStroke)
	for _, e := range boxEdges {
		a, b := corners[e[0]], corners[e[1]]
		fmt.Fprintf(&sb, "<line x1=\"%d\" y1=\"%d\" x2=\"%d\" y2=\"%d\"/>\n", a[0], a[1], b[0], b[1])
	}
	sb.WriteString("</g>\n")

	for gi, g := range groupsOrAll(opts.Groups, len(points)) {
		fmt.Fprintf(&sb, "<g fill=\"%s\">\n", Palette[gi%len(Palette)])
		for i := max(g.Start, 0); i < min(g.End, len(points)); i++ {
			x, y, ok := cam.Project(points[i], opts.Width, opts.Height)
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "<circle cx=\"%d\" cy=\"%d\" r=\"%.1f\"/>\n", x, y, opts.Radius)
		}
		sb.WriteString("</g>\n")
	}

	sb.WriteString("</svg>")
	return sb.String()
}

var boxEdges = [12][2]int{{0, 1}, {1, 3}, {3, 2}, {2, 0}, {4, 5}, {5, 7}, {7, 6}, {6, 4}, {0, 4}, {1, 5}, {2, 6}, {3, 7}}

func groupsOrAll(groups []trajectory.Range, n int) []trajectory.Range {
	if len(groups) == 0 {
		return []trajectory.Range{trajectory.All(n)}
	}
	return groups
}

// planar picks the two coordinates a flat view shows.
func planar(p r3.Vec, view viz.View) (float64, float64) {
	if view == viz.Top {
		return p.X, p.Z
	}
	return p.X, p.Y
}

// TrackSVG draws trajectories, typically group centers of mass, as paths in
// the front or top plane. A non-nil goal is marked with a cross.
func TrackSVG(tracks [][]r3.Vec, goal *r3.Vec, width, height int, view viz.View) string {
	var all []r3.Vec
	for _, t := range tracks {
		all = append(all, t...)
	}
	if goal != nil {
		all = append(all, *goal)
	}
	if len(all) < 2 {
		return ""
	}

	minX, minY := planar(all[0], view)
	maxX, maxY := minX, minY
	for _, p := range all {
		x, y := planar(p, view)
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}

	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	minX -= rangeX * 0.1
	minY -= rangeY * 0.1
	rangeX *= 1.2
	rangeY *= 1.2
	pixel := func(p r3.Vec) (float64, float64) {
		x, y := planar(p, view)
		return (x - minX) / rangeX * float64(width), float64(height) - (y-minY)/rangeY*float64(height)
	}

	var sb strings.Builder
	header(&sb, width, height)
	for ti, t := range tracks {
		if len(t) < 2 {
			continue
		}
		fmt.Fprintf(&sb, "<path fill=\"none\" stroke=\"%s\" stroke-width=\"1.5\" d=\"M", Palette[ti%len(Palette)])
		for i, p := range t {
			x, y := pixel(p)
			if i == 0 {
				fmt.Fprintf(&sb, "%.1f,%.1f", x, y)
			} else {
				fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
			}
		}
		sb.WriteString("\"/>\n")
	}
	if goal != nil {
		x, y := pixel(*goal)
		fmt.Fprintf(&sb, "<path stroke=\"#ffffff\" stroke-width=\"1.5\" d=\"M%.1f,%.1f L%.1f,%.1f M%.1f,%.1f L%.1f,%.1f\"/>\n",
			x-5, y-5, x+5, y+5, x-5, y+5, x+5, y-5)
	}
	sb.WriteString("</svg>")
	return sb.String()
}

// WriteFrames writes every every-th frame, and always the last one, to
// dir/frame_NNNN.svg and returns the written paths.
func WriteFrames(dir string, frames [][]r3.Vec, every int, opts SVGOptions) ([]string, error) {
	if len(frames) == 0 {
		return nil, viz.ErrNoFrames
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	last := len(frames) - 1
	for i, f := range frames {
		if i != last && (every <= 0 || i%every != 0) {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.svg", i))
		if err := os.WriteFile(path, []byte(FrameSVG(f, opts)), 0644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
