package mpm

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Policy selects how a boundary cell treats velocity heading into the wall.
type Policy int

const (
	// Slip clamps the inward-normal component to >= 0 and keeps the
	// tangential component (damped by friction).
	Slip Policy = iota
	// Sticky zeroes the whole velocity on contact.
	Sticky
	// Reflect mirrors the normal component back into the domain.
	Reflect
)

func (p Policy) String() string {
	switch p {
	case Slip:
		return "slip"
	case Sticky:
		return "sticky"
	case Reflect:
		return "reflect"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy is the inverse of Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "slip":
		return Slip, nil
	case "sticky":
		return Sticky, nil
	case "reflect":
		return Reflect, nil
	}
	return 0, configError("unknown boundary policy %q", s)
}

// Response is the collision behaviour of one grid cell. Normals point into the
// domain; an interior cell has none.
type Response struct {
	Interior bool
	Normals  []r3.Vec
	Policy   Policy
	// Friction in [0,1] scales the tangential velocity by (1 - Friction)
	// whenever a normal constraint engages.
	Friction float64
}

// BoundaryCondition maps grid cells to collision responses. Implementations
// are immutable and safe for concurrent queries.
type BoundaryCondition interface {
	Resolution() int
	Query(cell [3]int) (Response, error)
}

// Project applies the response to a grid velocity. Constraints engage when
// the velocity points strictly out of the domain.
func (r Response) Project(u r3.Vec) r3.Vec {
	if r.Interior {
		return u
	}
	keep := 1 - clamp01(r.Friction)
	for _, n := range r.Normals {
		vn := r3.Dot(u, n)
		if vn >= 0 {
			continue
		}
		switch r.Policy {
		case Sticky:
			return r3.Vec{}
		case Reflect:
			t := r3.Sub(u, r3.Scale(vn, n))
			u = r3.Sub(r3.Scale(keep, t), r3.Scale(vn, n))
		default:
			t := r3.Sub(u, r3.Scale(vn, n))
			u = r3.Scale(keep, t)
		}
	}
	return u
}

// ProjectAdjoint maps the gradient g of a projected velocity back onto the
// unprojected velocity u. The projection is piecewise linear; exactly at the
// clamp (u.n == 0) the normal component gets zero gradient.
func (r Response) ProjectAdjoint(u, g r3.Vec) r3.Vec {
	if r.Interior || len(r.Normals) == 0 {
		return g
	}
	keep := 1 - clamp01(r.Friction)

	// Replay the forward sequence to find which constraints engaged. Box
	// cells carry at most three normals; custom conditions may carry more.
	var buf [3]r3.Vec
	ins := buf[:0]
	cur := u
	for _, n := range r.Normals {
		ins = append(ins, cur)
		vn := r3.Dot(cur, n)
		if vn >= 0 {
			continue
		}
		switch r.Policy {
		case Sticky:
			return r3.Vec{}
		case Reflect:
			t := r3.Sub(cur, r3.Scale(vn, n))
			cur = r3.Sub(r3.Scale(keep, t), r3.Scale(vn, n))
		default:
			cur = r3.Scale(keep, r3.Sub(cur, r3.Scale(vn, n)))
		}
	}

	// Each map is symmetric so its transpose is itself.
	for k := len(ins) - 1; k >= 0; k-- {
		n := r.Normals[k]
		vn := r3.Dot(ins[k], n)
		gn := r3.Dot(g, n)
		switch {
		case vn > 0:
		case vn == 0:
			g = r3.Sub(g, r3.Scale(gn, n))
		default:
			tg := r3.Sub(g, r3.Scale(gn, n))
			if r.Policy == Reflect {
				g = r3.Sub(r3.Scale(keep, tg), r3.Scale(gn, n))
			} else {
				g = r3.Scale(keep, tg)
			}
		}
	}
	return g
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func checkCell(cell [3]int, res int) error {
	for _, c := range cell {
		if c < 0 || c >= res {
			return &DomainError{Cell: cell, Resolution: res}
		}
	}
	return nil
}

// Box treats a layer of Thickness cells along each of the six faces as a flat
// wall with an axis-aligned inward normal.
type Box struct {
	res       int
	thickness int
	policy    Policy
	friction  float64
	table     [27][]r3.Vec
}

// NewBox builds the enclosing-box boundary. The default used by the collision
// scene is NewBox(res, 3, Slip, 0).
func NewBox(res, thickness int, policy Policy, friction float64) (*Box, error) {
	if res <= 0 {
		return nil, configError("box resolution must be positive, got %d", res)
	}
	if thickness < 0 || 2*thickness >= res {
		return nil, configError("box thickness %d does not fit resolution %d", thickness, res)
	}
	if friction < 0 || friction > 1 {
		return nil, configError("friction must lie in [0,1], got %g", friction)
	}
	b := &Box{res: res, thickness: thickness, policy: policy, friction: friction}
	axes := [3]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}
	for key := 0; key < 27; key++ {
		signs := [3]int{key%3 - 1, (key/3)%3 - 1, key/9 - 1}
		var normals []r3.Vec
		for d, s := range signs {
			if s != 0 {
				normals = append(normals, r3.Scale(float64(s), axes[d]))
			}
		}
		b.table[key] = normals
	}
	return b, nil
}

func (b *Box) Resolution() int { return b.res }

func (b *Box) Query(cell [3]int) (Response, error) {
	if err := checkCell(cell, b.res); err != nil {
		return Response{}, err
	}
	key := 0
	mul := 1
	for _, c := range cell {
		s := 0
		if c < b.thickness {
			s = 1
		} else if c >= b.res-b.thickness {
			s = -1
		}
		key += (s + 1) * mul
		mul *= 3
	}
	normals := b.table[key]
	if len(normals) == 0 {
		return Response{Interior: true}, nil
	}
	return Response{Normals: normals, Policy: b.policy, Friction: b.friction}, nil
}

// Open is a boundary that never triggers.
type Open struct {
	res int
}

func NewOpen(res int) *Open { return &Open{res: res} }

func (o *Open) Resolution() int { return o.res }

func (o *Open) Query(cell [3]int) (Response, error) {
	if err := checkCell(cell, o.res); err != nil {
		return Response{}, err
	}
	return Response{Interior: true}, nil
}

// BoundaryFunc adapts a plain function into a BoundaryCondition. Range
// checking happens before fn is called.
type BoundaryFunc struct {
	Res int
	Fn  func(cell [3]int) Response
}

func (f BoundaryFunc) Resolution() int { return f.Res }

func (f BoundaryFunc) Query(cell [3]int) (Response, error) {
	if err := checkCell(cell, f.Res); err != nil {
		return Response{}, err
	}
	return f.Fn(cell), nil
}
