package scene

import (
	"gonum.org/v1/gonum/spatial/r3"
)

type sampler interface {
	Float64() float64
}

var half = r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}

// Ball rejection-samples n points of the unit cube lying inside its inscribed
// sphere and maps them onto the ball of the given radius around center. The
// unit-cube samples are returned alongside the positions.
func Ball(rng sampler, n int, center r3.Vec, radius float64) (x, unit []r3.Vec) {
	x = make([]r3.Vec, n)
	unit = make([]r3.Vec, n)
	for i := range n {
		var u r3.Vec
		for {
			u = r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
			if r3.Norm2(r3.Sub(u, half)) <= 0.25 {
				break
			}
		}
		unit[i] = u
		x[i] = r3.Add(center, r3.Scale(2*radius, r3.Sub(u, half)))
	}
	return x, unit
}

// Swirl is the rotational field (y-1/2, 1/2-x, 0) over unit-cube samples.
func Swirl(unit []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(unit))
	for i, u := range unit {
		out[i] = r3.Vec{X: u.Y - 0.5, Y: 0.5 - u.X}
	}
	return out
}
