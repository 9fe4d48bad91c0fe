package expr

import "github.com/tensorgrid/tensorgrid/internal/nodepath"

// node is one element of a parsed formula tree.
type node interface {
	pos() int
}

type numberLit struct {
	val float64
	at  int
}

type stringLit struct {
	val string
	at  int
}

type boolLit struct {
	val bool
	at  int
}

type unaryExpr struct {
	op      tokenKind // tokMinus or tokNot
	operand node
	at      int
}

type binaryExpr struct {
	op  tokenKind
	lhs node
	rhs node
	at  int
}

type condExpr struct {
	test      node
	then      node
	otherwise node
	at        int
}

// callExpr is a builtin function call (abs, min, max, round, len, sum).
// Accessor calls are lowered to their own node types at parse time.
type callExpr struct {
	name string
	args []node
	at   int
}

// accessorType distinguishes the parameter accessors, which share one AST
// node because they differ only in the coercion applied to the fetched
// value.
type accessorType int

const (
	accessFloat accessorType = iota
	accessInt
	accessString
	accessBool
	accessVector2
	accessInt2
	accessInt3
)

func (a accessorType) name() string {
	switch a {
	case accessFloat:
		return "get-float"
	case accessInt:
		return "get-int"
	case accessString:
		return "get-string"
	case accessBool:
		return "get-bool"
	case accessVector2:
		return "get-vector2"
	case accessInt2:
		return "get-int2"
	case accessInt3:
		return "get-int3"
	default:
		return "get-?"
	}
}

// paramRef reads another parameter's value. The reference is stored exactly
// as written; resolution against the evaluating node happens per evaluation.
type paramRef struct {
	typ accessorType
	ref nodepath.Ref
	at  int
}

// packShapeRef reads the shape of the first pack on an output pin.
type packShapeRef struct {
	target nodepath.Path
	pin    string
	at     int
}

// packValueRef reads one element of a pack. The index argument is a full
// expression, so it alone among accessor arguments may be dynamic.
type packValueRef struct {
	target nodepath.Path
	pin    string
	index  node
	at     int
}

// nodeDetailRef reads a keyed entry from a node's detail table.
type nodeDetailRef struct {
	target nodepath.Path
	key    string
	at     int
}

func (n *numberLit) pos() int     { return n.at }
func (n *stringLit) pos() int     { return n.at }
func (n *boolLit) pos() int       { return n.at }
func (n *unaryExpr) pos() int     { return n.at }
func (n *binaryExpr) pos() int    { return n.at }
func (n *condExpr) pos() int      { return n.at }
func (n *callExpr) pos() int      { return n.at }
func (n *paramRef) pos() int      { return n.at }
func (n *packShapeRef) pos() int  { return n.at }
func (n *packValueRef) pos() int  { return n.at }
func (n *nodeDetailRef) pos() int { return n.at }

// walk visits every node of the tree in source order, parents before
// children.
func walk(n node, visit func(node)) {
	visit(n)
	switch t := n.(type) {
	case *unaryExpr:
		walk(t.operand, visit)
	case *binaryExpr:
		walk(t.lhs, visit)
		walk(t.rhs, visit)
	case *condExpr:
		walk(t.test, visit)
		walk(t.then, visit)
		walk(t.otherwise, visit)
	case *callExpr:
		for _, arg := range t.args {
			walk(arg, visit)
		}
	case *packValueRef:
		walk(t.index, visit)
	}
}
