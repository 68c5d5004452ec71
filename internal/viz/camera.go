package viz

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// View selects how particle positions are mapped onto the canvas.
type View int

const (
	// Front looks down -z: x to the right, y up.
	Front View = iota
	// Top looks down -y: x to the right, z up.
	Top
	// Perspective orbits the domain with the camera rotation.
	Perspective
)

func (v View) String() string {
	switch v {
	case Front:
		return "front"
	case Top:
		return "top"
	case Perspective:
		return "3d"
	}
	return fmt.Sprintf("view(%d)", int(v))
}

func (v View) next() View { return (v + 1) % 3 }

// Camera projects points of the simulation box [0, Extent)^3 onto the dot
// grid of a canvas.
type Camera struct {
	View       View
	Extent     float64
	RotX, RotY float64
	Zoom       float64
	// Distance of the eye from the box center, in box extents.
	Distance float64
}

func NewCamera(extent float64) *Camera {
	return &Camera{Extent: extent, RotX: -0.35, RotY: 0.6, Zoom: 1, Distance: 3}
}

func (c *Camera) RotateX(a float64) { c.RotX += a }
func (c *Camera) RotateY(a float64) { c.RotY += a }
func (c *Camera) ZoomIn()           { c.Zoom = math.Min(10, c.Zoom*1.2) }
func (c *Camera) ZoomOut()          { c.Zoom = math.Max(0.1, c.Zoom/1.2) }

// rotate turns a point about the origin, x axis first.
func (c *Camera) rotate(p r3.Vec) r3.Vec {
	cx, sx := math.Cos(c.RotX), math.Sin(c.RotX)
	p.Y, p.Z = p.Y*cx-p.Z*sx, p.Y*sx+p.Z*cx
	cy, sy := math.Cos(c.RotY), math.Sin(c.RotY)
	p.X, p.Z = p.X*cy+p.Z*sy, -p.X*sy+p.Z*cy
	return p
}

// Project maps p to dot coordinates on a w x h dot grid and reports
// whether the result is on screen. The box center lands on the grid center.
func (c *Camera) Project(p r3.Vec, w, h int) (int, int, bool) {
	half := c.Extent / 2
	q := r3.Scale(1/c.Extent, r3.Sub(p, r3.Vec{X: half, Y: half, Z: half}))

	var u, v float64
	switch c.View {
	case Top:
		u, v = q.X, q.Z
	case Perspective:
		r := c.rotate(q)
		depth := c.Distance - r.Z
		if depth <= 0.1 {
			return 0, 0, false
		}
		s := c.Distance / depth
		u, v = r.X*s, r.Y*s
	default:
		u, v = q.X, q.Y
	}

	size := float64(min(w, h)-1) * c.Zoom
	x := int(math.Floor(u*size)) + w/2
	y := int(math.Floor(-v*size)) + h/2
	return x, y, x >= 0 && x < w && y >= 0 && y < h
}

// boxEdges are the twelve edges of the unit cube by corner index.
var boxEdges = [12][2]int{{0, 1}, {1, 3}, {3, 2}, {2, 0}, {4, 5}, {5, 7}, {7, 6}, {6, 4}, {0, 4}, {1, 5}, {2, 6}, {3, 7}}

// DrawBox outlines the simulation box.
func (c *Camera) DrawBox(cv *Canvas) {
	w, h := cv.Dots()
	var corners [8][2]int
	for i := range corners {
		p := r3.Vec{
			X: float64(i&1) * c.Extent,
			Y: float64((i>>1)&1) * c.Extent,
			Z: float64((i>>2)&1) * c.Extent,
		}
		corners[i][0], corners[i][1], _ = c.Project(p, w, h)
	}
	for _, e := range boxEdges {
		a, b := corners[e[0]], corners[e[1]]
		cv.DrawLine(a[0], a[1], b[0], b[1])
	}
}

// DrawPoints plots every visible point and returns how many were drawn.
func (c *Camera) DrawPoints(cv *Canvas, points []r3.Vec) int {
	w, h := cv.Dots()
	drawn := 0
	for _, p := range points {
		if x, y, ok := c.Project(p, w, h); ok {
			cv.Set(x, y)
			drawn++
		}
	}
	return drawn
}
