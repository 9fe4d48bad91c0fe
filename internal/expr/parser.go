package expr

import (
	"strconv"

	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// paramAccessors maps accessor names to the coercion they apply. All of
// them take a single string-literal reference argument.
var paramAccessors = map[string]accessorType{
	"get-float":   accessFloat,
	"get-int":     accessInt,
	"get-string":  accessString,
	"get-bool":    accessBool,
	"get-vector2": accessVector2,
	"get-int2":    accessInt2,
	"get-int3":    accessInt3,
}

// builtinArity declares the argument counts of the plain builtins. A max of
// -1 means variadic.
var builtinArity = map[string]struct{ min, max int }{
	"abs":   {1, 1},
	"round": {1, 1},
	"len":   {1, 1},
	"sum":   {1, 1},
	"min":   {2, -1},
	"max":   {2, -1},
}

type parser struct {
	s   scanner
	tok token
}

func newParser(src string) (*parser, *EvaluationError) {
	p := &parser{s: scanner{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() *EvaluationError {
	tok, err := p.s.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind tokenKind) (token, *EvaluationError) {
	if p.tok.kind != kind {
		return token{}, errf(ReasonParse, p.tok.pos, "expected %s, found %s", kind, p.tok.kind)
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *parser) parseExpr() (node, *EvaluationError) {
	return p.parseTernary()
}

// parseTernary handles `test ? then : otherwise`, right-associative.
func (p *parser) parseTernary() (node, *EvaluationError) {
	test, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokQuestion {
		return test, nil
	}
	at := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon); err != nil {
		return nil, err
	}
	otherwise, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &condExpr{test: test, then: then, otherwise: otherwise, at: at}, nil
}

// parseBinaryChain builds a left-associative chain of binary operators at
// one precedence level.
func (p *parser) parseBinaryChain(next func() (node, *EvaluationError), ops ...tokenKind) (node, *EvaluationError) {
	lhs, err := next()
	if err != nil {
		return nil, err
	}
	for containsKind(ops, p.tok.kind) {
		op := p.tok.kind
		at := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := next()
		if err != nil {
			return nil, err
		}
		lhs = &binaryExpr{op: op, lhs: lhs, rhs: rhs, at: at}
	}
	return lhs, nil
}

func (p *parser) parseOr() (node, *EvaluationError) {
	return p.parseBinaryChain(p.parseAnd, tokOr)
}

func (p *parser) parseAnd() (node, *EvaluationError) {
	return p.parseBinaryChain(p.parseEquality, tokAnd)
}

func (p *parser) parseEquality() (node, *EvaluationError) {
	return p.parseBinaryChain(p.parseComparison, tokEq, tokNeq)
}

func (p *parser) parseComparison() (node, *EvaluationError) {
	return p.parseBinaryChain(p.parseAdditive, tokLt, tokLte, tokGt, tokGte)
}

func (p *parser) parseAdditive() (node, *EvaluationError) {
	return p.parseBinaryChain(p.parseMultiplicative, tokPlus, tokMinus)
}

func (p *parser) parseMultiplicative() (node, *EvaluationError) {
	return p.parseBinaryChain(p.parseUnary, tokStar, tokSlash, tokPercent)
}

func (p *parser) parseUnary() (node, *EvaluationError) {
	if p.tok.kind == tokMinus || p.tok.kind == tokNot {
		op := p.tok.kind
		at := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: op, operand: operand, at: at}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, *EvaluationError) {
	tok := p.tok
	switch tok.kind {
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		val, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, errf(ReasonParse, tok.pos, "malformed number %q", tok.text)
		}
		return &numberLit{val: val, at: tok.pos}, nil

	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &stringLit{val: tok.text, at: tok.pos}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		switch tok.text {
		case "true", "false":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &boolLit{val: tok.text == "true", at: tok.pos}, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokLParen {
			return nil, errf(ReasonParse, tok.pos, "unknown identifier %q", tok.text)
		}
		args, err := p.parseCallArgs()
		if err != nil {
			return nil, err
		}
		return lowerCall(tok.text, tok.pos, args)

	case tokEOF:
		return nil, errf(ReasonParse, tok.pos, "unexpected end of expression")
	default:
		return nil, errf(ReasonParse, tok.pos, "unexpected %s", tok.kind)
	}
}

func (p *parser) parseCallArgs() ([]node, *EvaluationError) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	if p.tok.kind == tokRParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	var args []node
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.tok.kind != tokComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return args, nil
}

// lowerCall turns a parsed call into either an accessor node or a builtin
// callExpr. Accessor reference arguments must be string literals so the
// expression's dependency set is fixed at compile time; only the index
// argument of get-pack-value may be computed.
func lowerCall(name string, at int, args []node) (node, *EvaluationError) {
	if typ, ok := paramAccessors[name]; ok {
		if len(args) != 1 {
			return nil, errf(ReasonArity, at, "%s takes 1 argument, got %d", name, len(args))
		}
		raw, err := literalString(args[0], name, "reference")
		if err != nil {
			return nil, err
		}
		ref, perr := nodepath.ParseRef(raw)
		if perr != nil {
			return nil, errf(ReasonParse, args[0].pos(), "%s", perr)
		}
		return &paramRef{typ: typ, ref: ref, at: at}, nil
	}

	switch name {
	case "get-pack-shape":
		if len(args) != 2 {
			return nil, errf(ReasonArity, at, "get-pack-shape takes 2 arguments, got %d", len(args))
		}
		target, pin, err := packTarget(name, args[0], args[1])
		if err != nil {
			return nil, err
		}
		return &packShapeRef{target: target, pin: pin, at: at}, nil

	case "get-pack-value":
		if len(args) != 3 {
			return nil, errf(ReasonArity, at, "get-pack-value takes 3 arguments, got %d", len(args))
		}
		target, pin, err := packTarget(name, args[0], args[1])
		if err != nil {
			return nil, err
		}
		return &packValueRef{target: target, pin: pin, index: args[2], at: at}, nil

	case "get-node-detail":
		if len(args) != 2 {
			return nil, errf(ReasonArity, at, "get-node-detail takes 2 arguments, got %d", len(args))
		}
		target, err := literalPath(args[0], name)
		if err != nil {
			return nil, err
		}
		key, err := literalString(args[1], name, "key")
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, errf(ReasonParse, args[1].pos(), "get-node-detail key cannot be empty")
		}
		return &nodeDetailRef{target: target, key: key, at: at}, nil
	}

	arity, ok := builtinArity[name]
	if !ok {
		return nil, errf(ReasonParse, at, "unknown function %q", name)
	}
	if len(args) < arity.min || (arity.max >= 0 && len(args) > arity.max) {
		if arity.max < 0 {
			return nil, errf(ReasonArity, at, "%s takes at least %d arguments, got %d", name, arity.min, len(args))
		}
		return nil, errf(ReasonArity, at, "%s takes %d argument(s), got %d", name, arity.min, len(args))
	}
	return &callExpr{name: name, args: args, at: at}, nil
}

func packTarget(fn string, pathArg, pinArg node) (nodepath.Path, string, *EvaluationError) {
	target, err := literalPath(pathArg, fn)
	if err != nil {
		return nodepath.Path{}, "", err
	}
	pin, err := literalString(pinArg, fn, "pin name")
	if err != nil {
		return nodepath.Path{}, "", err
	}
	if !nodepath.ValidSegment(pin) {
		return nodepath.Path{}, "", errf(ReasonParse, pinArg.pos(), "%s pin name %q is not a valid pin name", fn, pin)
	}
	return target, pin, nil
}

func literalPath(arg node, fn string) (nodepath.Path, *EvaluationError) {
	raw, err := literalString(arg, fn, "node path")
	if err != nil {
		return nodepath.Path{}, err
	}
	p, perr := nodepath.Parse(raw)
	if perr != nil {
		return nodepath.Path{}, errf(ReasonParse, arg.pos(), "%s", perr)
	}
	return p, nil
}

func literalString(arg node, fn, what string) (string, *EvaluationError) {
	lit, ok := arg.(*stringLit)
	if !ok {
		return "", errf(ReasonParse, arg.pos(), "%s argument of %s must be a quoted string literal", what, fn)
	}
	return lit.val, nil
}

func containsKind(ops []tokenKind, k tokenKind) bool {
	for _, op := range ops {
		if op == k {
			return true
		}
	}
	return false
}
