package diff

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/diffmpm/internal/trajectory"
)

// Final refers to the last recorded step of whichever memo an expression is
// evaluated against.
const Final = -1

// Kind is the shape of an expression's value.
type Kind int

const (
	Invalid Kind = iota
	Scalar
	Vector
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Vector:
		return "vector"
	}
	return "invalid"
}

type op int

const (
	opCenterOfMass op = iota
	opMeanVelocity
	opFeed
	opConst
	opAdd
	opSub
	opScale
	opDot
	opSquaredNorm
	opSum
)

var opNames = [...]string{
	opCenterOfMass: "com",
	opMeanVelocity: "meanv",
	opFeed:         "feed",
	opConst:        "const",
	opAdd:          "add",
	opSub:          "sub",
	opScale:        "scale",
	opDot:          "dot",
	opSquaredNorm:  "sqnorm",
	opSum:          "sum",
}

// Expr is a loss expression over recorded states. Expressions are immutable
// values; build them with the constructors in this package.
type Expr interface {
	Kind() Kind
	// String is the canonical form. Two expressions with the same string
	// compute the same function.
	String() string
	expr() *node
}

type node struct {
	op    op
	kind  Kind
	args  []Expr
	step  int
	rng   trajectory.Range
	name  string
	vec   r3.Vec
	scale float64
	sig   string
}

func (n *node) Kind() Kind     { return n.kind }
func (n *node) String() string { return n.sig }
func (n *node) expr() *node    { return n }

func newNode(n *node) *node {
	n.sig = n.signature()
	return n
}

func (n *node) signature() string {
	var b strings.Builder
	b.WriteString(opNames[n.op])
	b.WriteByte('(')
	switch n.op {
	case opCenterOfMass, opMeanVelocity:
		b.WriteString(stepString(n.step))
		b.WriteByte(',')
		b.WriteString(n.rng.String())
	case opFeed:
		b.WriteString(strconv.Quote(n.name))
	case opConst:
		b.WriteString(vecString(n.vec))
	case opScale:
		b.WriteString(num(n.scale))
		b.WriteByte(',')
		b.WriteString(exprString(n.args[0]))
	default:
		for i, a := range n.args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(exprString(a))
		}
	}
	b.WriteByte(')')
	return b.String()
}

func exprString(e Expr) string {
	if e == nil {
		return "nil"
	}
	return e.String()
}

func stepString(step int) string {
	if step == Final {
		return "final"
	}
	return strconv.Itoa(step)
}

func num(x float64) string { return strconv.FormatFloat(x, 'g', -1, 64) }

func vecString(v r3.Vec) string {
	return num(v.X) + "," + num(v.Y) + "," + num(v.Z)
}

// CenterOfMass is the mean position of r at step.
func CenterOfMass(step int, r trajectory.Range) Expr {
	return newNode(&node{op: opCenterOfMass, kind: Vector, step: step, rng: r})
}

// MeanVelocity is the mean velocity of r at step.
func MeanVelocity(step int, r trajectory.Range) Expr {
	return newNode(&node{op: opMeanVelocity, kind: Vector, step: step, rng: r})
}

// Feed is a vector supplied per run, such as a target point.
func Feed(name string) Expr {
	return newNode(&node{op: opFeed, kind: Vector, name: name})
}

func Const(v r3.Vec) Expr {
	return newNode(&node{op: opConst, kind: Vector, vec: v})
}

func Add(a, b Expr) Expr {
	return newNode(&node{op: opAdd, kind: same(a, b), args: []Expr{a, b}})
}

func Sub(a, b Expr) Expr {
	return newNode(&node{op: opSub, kind: same(a, b), args: []Expr{a, b}})
}

func Scale(s float64, e Expr) Expr {
	return newNode(&node{op: opScale, kind: kindOf(e), scale: s, args: []Expr{e}})
}

// Dot is the inner product of two vector expressions.
func Dot(a, b Expr) Expr {
	k := Scalar
	if kindOf(a) != Vector || kindOf(b) != Vector {
		k = Invalid
	}
	return newNode(&node{op: opDot, kind: k, args: []Expr{a, b}})
}

func SquaredNorm(e Expr) Expr {
	k := Scalar
	if kindOf(e) != Vector {
		k = Invalid
	}
	return newNode(&node{op: opSquaredNorm, kind: k, args: []Expr{e}})
}

// Sum adds any number of expressions of one kind.
func Sum(es ...Expr) Expr {
	k := Invalid
	if len(es) > 0 {
		k = same(es...)
	}
	return newNode(&node{op: opSum, kind: k, args: append([]Expr(nil), es...)})
}

// DistanceSquared is the usual target-seeking loss |a - b|^2.
func DistanceSquared(a, b Expr) Expr {
	return SquaredNorm(Sub(a, b))
}

func kindOf(e Expr) Kind {
	if e == nil {
		return Invalid
	}
	return e.Kind()
}

func same(es ...Expr) Kind {
	k := kindOf(es[0])
	for _, e := range es[1:] {
		if kindOf(e) != k {
			return Invalid
		}
	}
	return k
}
