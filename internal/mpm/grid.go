package mpm

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Grid is the dense Eulerian working storage of one step. Only nodes touched
// by the scatter are tracked in active; Reset clears exactly those, so the
// cost of a step does not scale with Resolution^3.
type Grid struct {
	res    int
	mass   []float64
	mom    []r3.Vec
	slot   []int32
	active []int32
}

func NewGrid(res int) *Grid {
	n := res * res * res
	g := &Grid{
		res:  res,
		mass: make([]float64, n),
		mom:  make([]r3.Vec, n),
		slot: make([]int32, n),
	}
	for i := range g.slot {
		g.slot[i] = -1
	}
	return g
}

func (g *Grid) Resolution() int { return g.res }

// Index flattens node coordinates.
func (g *Grid) Index(i, j, k int) int {
	return (i*g.res+j)*g.res + k
}

// Coords is the inverse of Index.
func (g *Grid) Coords(idx int) [3]int {
	return nodeCoords(idx, g.res)
}

func nodeCoords(idx, res int) [3]int {
	return [3]int{idx / (res * res), (idx / res) % res, idx % res}
}

// Reset zeroes every active node.
func (g *Grid) Reset() {
	for _, idx := range g.active {
		g.mass[idx] = 0
		g.mom[idx] = r3.Vec{}
		g.slot[idx] = -1
	}
	g.active = g.active[:0]
}

// activate returns the active slot of a node, registering it on first touch.
func (g *Grid) activate(idx int) int32 {
	s := g.slot[idx]
	if s < 0 {
		s = int32(len(g.active))
		g.slot[idx] = s
		g.active = append(g.active, int32(idx))
	}
	return s
}

// Active returns the number of nodes touched since the last Reset.
func (g *Grid) Active() int { return len(g.active) }

// Totals returns the summed mass and momentum of the active nodes.
func (g *Grid) Totals() (float64, r3.Vec) {
	var m float64
	var p r3.Vec
	for _, idx := range g.active {
		m += g.mass[idx]
		p = r3.Add(p, g.mom[idx])
	}
	return m, p
}

// GridPool hands out reusable grids so concurrent runs never share buffers.
type GridPool struct {
	pool sync.Pool
	res  int
}

func NewGridPool(res int) *GridPool {
	return &GridPool{
		res: res,
		pool: sync.Pool{
			New: func() interface{} {
				return NewGrid(res)
			},
		},
	}
}

func (p *GridPool) Get() *Grid {
	return p.pool.Get().(*Grid)
}

func (p *GridPool) Put(g *Grid) {
	if g.res == p.res {
		g.Reset()
		p.pool.Put(g)
	}
}
