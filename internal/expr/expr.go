package expr

import "github.com/tensorgrid/tensorgrid/internal/nodepath"

// Expr is a compiled formula. Compile never touches the graph, so an Expr
// can outlive any particular evaluation context; callers compile once and
// evaluate on every refresh.
type Expr struct {
	src       string
	root      node
	refs      []nodepath.Ref
	readPacks bool
}

// Compile parses source into an evaluable expression. Failures are always
// *EvaluationError with ReasonParse or ReasonArity.
func Compile(src string) (*Expr, error) {
	p, perr := newParser(src)
	if perr != nil {
		return nil, perr
	}
	root, perr := p.parseExpr()
	if perr != nil {
		return nil, perr
	}
	if p.tok.kind != tokEOF {
		return nil, errf(ReasonParse, p.tok.pos, "unexpected %s after expression", p.tok.kind)
	}

	e := &Expr{src: src, root: root}
	seen := map[string]bool{}
	walk(root, func(n node) {
		switch t := n.(type) {
		case *paramRef:
			key := t.ref.String()
			if !seen[key] {
				seen[key] = true
				e.refs = append(e.refs, t.ref)
			}
		case *packShapeRef, *packValueRef, *nodeDetailRef:
			e.readPacks = true
		}
	})
	return e, nil
}

// MustCompile is a Compile that panics on malformed source. For fixed
// formulas in tests and kind declarations.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the formula text the expression was compiled from.
func (e *Expr) Source() string {
	return e.src
}

// ParamRefs returns the parameter references the formula reads, deduplicated,
// in source order, unresolved. Because accessor arguments are literals, this
// set is exact: evaluation reads these parameters and no others.
func (e *Expr) ParamRefs() []nodepath.Ref {
	return append([]nodepath.Ref(nil), e.refs...)
}

// ReadsPacks reports whether the formula contains pack or detail accessors.
// Those only resolve against nodes that have executed in the current run, so
// an expression that reads packs cannot be settled by editing alone.
func (e *Expr) ReadsPacks() bool {
	return e.readPacks
}
