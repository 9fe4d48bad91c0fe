package expr

import (
	"errors"
	"math"
	"math/big"
	"unicode/utf8"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// Env supplies the graph-side state a formula reads during evaluation. All
// paths handed to Env methods are already absolute; relative references have
// been resolved against Base.
//
// Errors returned by Env methods surface to the Eval caller. Typed errors
// (*EvaluationError, *UnresolvedPackReferenceError) pass through unchanged;
// anything else is wrapped as an unresolved-path EvaluationError.
type Env interface {
	// Base is the absolute path of the node the formula belongs to.
	Base() nodepath.Path
	// Param returns the current value of the referenced parameter.
	Param(ref nodepath.Ref) (cty.Value, error)
	// PackShape returns the shape of the first pack on the named output pin.
	PackShape(node nodepath.Path, pin string) ([]int, error)
	// PackValue returns one flat-indexed element of the first pack on the
	// named output pin.
	PackValue(node nodepath.Path, pin string, index int) (float64, error)
	// Detail returns a keyed entry from the node's detail table.
	Detail(node nodepath.Path, key string) (cty.Value, error)
}

// Eval walks the expression against env. The result is one of cty.Number,
// cty.String, cty.Bool, or a list of numbers.
func (e *Expr) Eval(env Env) (cty.Value, error) {
	return evalNode(e.root, env)
}

func evalNode(n node, env Env) (cty.Value, error) {
	switch t := n.(type) {
	case *numberLit:
		return cty.NumberFloatVal(t.val), nil
	case *stringLit:
		return cty.StringVal(t.val), nil
	case *boolLit:
		return cty.BoolVal(t.val), nil
	case *unaryExpr:
		return evalUnary(t, env)
	case *binaryExpr:
		return evalBinary(t, env)
	case *condExpr:
		return evalCond(t, env)
	case *callExpr:
		return evalCall(t, env)
	case *paramRef:
		return evalParamRef(t, env)
	case *packShapeRef:
		return evalPackShape(t, env)
	case *packValueRef:
		return evalPackValue(t, env)
	case *nodeDetailRef:
		return evalNodeDetail(t, env)
	default:
		return cty.NilVal, errf(ReasonParse, n.pos(), "internal: unknown expression node")
	}
}

func evalUnary(t *unaryExpr, env Env) (cty.Value, error) {
	v, err := evalNode(t.operand, env)
	if err != nil {
		return cty.NilVal, err
	}
	switch t.op {
	case tokMinus:
		num, terr := wantNumber(v, t.operand.pos())
		if terr != nil {
			return cty.NilVal, terr
		}
		return num.Negate(), nil
	case tokNot:
		b, terr := wantBool(v, t.operand.pos())
		if terr != nil {
			return cty.NilVal, terr
		}
		return cty.BoolVal(!b), nil
	default:
		return cty.NilVal, errf(ReasonParse, t.at, "internal: unknown unary operator")
	}
}

func evalBinary(t *binaryExpr, env Env) (cty.Value, error) {
	// && and || short-circuit; everything else evaluates both sides.
	if t.op == tokAnd || t.op == tokOr {
		lv, err := evalNode(t.lhs, env)
		if err != nil {
			return cty.NilVal, err
		}
		lb, terr := wantBool(lv, t.lhs.pos())
		if terr != nil {
			return cty.NilVal, terr
		}
		if t.op == tokAnd && !lb {
			return cty.False, nil
		}
		if t.op == tokOr && lb {
			return cty.True, nil
		}
		rv, err := evalNode(t.rhs, env)
		if err != nil {
			return cty.NilVal, err
		}
		rb, terr := wantBool(rv, t.rhs.pos())
		if terr != nil {
			return cty.NilVal, terr
		}
		return cty.BoolVal(rb), nil
	}

	lv, err := evalNode(t.lhs, env)
	if err != nil {
		return cty.NilVal, err
	}
	rv, err := evalNode(t.rhs, env)
	if err != nil {
		return cty.NilVal, err
	}

	switch t.op {
	case tokPlus:
		if lv.Type() == cty.String && rv.Type() == cty.String {
			return cty.StringVal(lv.AsString() + rv.AsString()), nil
		}
		ln, rn, terr := wantNumbers(lv, rv, t)
		if terr != nil {
			return cty.NilVal, terr
		}
		return ln.Add(rn), nil
	case tokMinus:
		ln, rn, terr := wantNumbers(lv, rv, t)
		if terr != nil {
			return cty.NilVal, terr
		}
		return ln.Subtract(rn), nil
	case tokStar:
		ln, rn, terr := wantNumbers(lv, rv, t)
		if terr != nil {
			return cty.NilVal, terr
		}
		return ln.Multiply(rn), nil
	case tokSlash:
		ln, rn, terr := wantNumbers(lv, rv, t)
		if terr != nil {
			return cty.NilVal, terr
		}
		if rn.AsBigFloat().Sign() == 0 {
			return cty.NilVal, errf(ReasonDivByZero, t.at, "division by zero")
		}
		return ln.Divide(rn), nil
	case tokPercent:
		ln, rn, terr := wantNumbers(lv, rv, t)
		if terr != nil {
			return cty.NilVal, terr
		}
		if rn.AsBigFloat().Sign() == 0 {
			return cty.NilVal, errf(ReasonDivByZero, t.at, "modulo by zero")
		}
		return ln.Modulo(rn), nil
	case tokEq:
		return cty.BoolVal(lv.RawEquals(rv)), nil
	case tokNeq:
		return cty.BoolVal(!lv.RawEquals(rv)), nil
	case tokLt, tokLte, tokGt, tokGte:
		ln, rn, terr := wantNumbers(lv, rv, t)
		if terr != nil {
			return cty.NilVal, terr
		}
		switch t.op {
		case tokLt:
			return ln.LessThan(rn), nil
		case tokLte:
			return ln.LessThanOrEqualTo(rn), nil
		case tokGt:
			return ln.GreaterThan(rn), nil
		default:
			return ln.GreaterThanOrEqualTo(rn), nil
		}
	default:
		return cty.NilVal, errf(ReasonParse, t.at, "internal: unknown binary operator")
	}
}

func evalCond(t *condExpr, env Env) (cty.Value, error) {
	tv, err := evalNode(t.test, env)
	if err != nil {
		return cty.NilVal, err
	}
	b, terr := wantBool(tv, t.test.pos())
	if terr != nil {
		return cty.NilVal, terr
	}
	if b {
		return evalNode(t.then, env)
	}
	return evalNode(t.otherwise, env)
}

func evalCall(t *callExpr, env Env) (cty.Value, error) {
	args := make([]cty.Value, len(t.args))
	for i, a := range t.args {
		v, err := evalNode(a, env)
		if err != nil {
			return cty.NilVal, err
		}
		args[i] = v
	}

	switch t.name {
	case "abs":
		num, terr := wantNumber(args[0], t.args[0].pos())
		if terr != nil {
			return cty.NilVal, terr
		}
		return cty.NumberVal(new(big.Float).Abs(num.AsBigFloat())), nil

	case "round":
		num, terr := wantNumber(args[0], t.args[0].pos())
		if terr != nil {
			return cty.NilVal, terr
		}
		f, _ := num.AsBigFloat().Float64()
		return cty.NumberFloatVal(math.Round(f)), nil

	case "len":
		v := args[0]
		switch {
		case v.Type() == cty.String:
			return cty.NumberIntVal(int64(utf8.RuneCountInString(v.AsString()))), nil
		case v.Type().IsListType() || v.Type().IsTupleType():
			return cty.NumberIntVal(int64(v.LengthInt())), nil
		default:
			return cty.NilVal, errf(ReasonType, t.args[0].pos(), "len expects a string or vector, got %s", v.Type().FriendlyName())
		}

	case "sum":
		v := args[0]
		if !v.Type().IsListType() && !v.Type().IsTupleType() {
			return cty.NilVal, errf(ReasonType, t.args[0].pos(), "sum expects a vector, got %s", v.Type().FriendlyName())
		}
		acc := cty.Zero
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			num, terr := wantNumber(ev, t.args[0].pos())
			if terr != nil {
				return cty.NilVal, terr
			}
			acc = acc.Add(num)
		}
		return acc, nil

	case "min", "max":
		best, terr := wantNumber(args[0], t.args[0].pos())
		if terr != nil {
			return cty.NilVal, terr
		}
		for i, v := range args[1:] {
			num, terr := wantNumber(v, t.args[i+1].pos())
			if terr != nil {
				return cty.NilVal, terr
			}
			if t.name == "min" && num.LessThan(best).True() {
				best = num
			}
			if t.name == "max" && num.GreaterThan(best).True() {
				best = num
			}
		}
		return best, nil

	default:
		return cty.NilVal, errf(ReasonParse, t.at, "internal: unknown builtin %q", t.name)
	}
}

func evalParamRef(t *paramRef, env Env) (cty.Value, error) {
	resolved, rerr := t.ref.ResolveFrom(env.Base())
	if rerr != nil {
		return cty.NilVal, errf(ReasonUnresolvedPath, t.at, "%s", rerr)
	}
	raw, err := env.Param(resolved)
	if err != nil {
		return cty.NilVal, wrapEnvErr(err, t.at)
	}
	return coerceParam(t.typ, raw, t.at)
}

func evalPackShape(t *packShapeRef, env Env) (cty.Value, error) {
	target, rerr := t.target.ResolveFrom(env.Base())
	if rerr != nil {
		return cty.NilVal, errf(ReasonUnresolvedPath, t.at, "%s", rerr)
	}
	shape, err := env.PackShape(target, t.pin)
	if err != nil {
		return cty.NilVal, wrapEnvErr(err, t.at)
	}
	if len(shape) == 0 {
		return cty.ListValEmpty(cty.Number), nil
	}
	elems := make([]cty.Value, len(shape))
	for i, dim := range shape {
		elems[i] = cty.NumberIntVal(int64(dim))
	}
	return cty.ListVal(elems), nil
}

func evalPackValue(t *packValueRef, env Env) (cty.Value, error) {
	target, rerr := t.target.ResolveFrom(env.Base())
	if rerr != nil {
		return cty.NilVal, errf(ReasonUnresolvedPath, t.at, "%s", rerr)
	}
	iv, err := evalNode(t.index, env)
	if err != nil {
		return cty.NilVal, err
	}
	num, terr := wantNumber(iv, t.index.pos())
	if terr != nil {
		return cty.NilVal, terr
	}
	bf := num.AsBigFloat()
	if !bf.IsInt() {
		return cty.NilVal, errf(ReasonType, t.index.pos(), "pack index must be an integer")
	}
	idx, _ := bf.Int64()
	val, err := env.PackValue(target, t.pin, int(idx))
	if err != nil {
		return cty.NilVal, wrapEnvErr(err, t.at)
	}
	return cty.NumberFloatVal(val), nil
}

func evalNodeDetail(t *nodeDetailRef, env Env) (cty.Value, error) {
	target, rerr := t.target.ResolveFrom(env.Base())
	if rerr != nil {
		return cty.NilVal, errf(ReasonUnresolvedPath, t.at, "%s", rerr)
	}
	v, err := env.Detail(target, t.key)
	if err != nil {
		return cty.NilVal, wrapEnvErr(err, t.at)
	}
	return v, nil
}

// coerceParam applies the accessor's declared coercion to a fetched value.
func coerceParam(typ accessorType, v cty.Value, at int) (cty.Value, error) {
	switch typ {
	case accessFloat:
		return convertTo(v, cty.Number, at)
	case accessInt:
		num, terr := convertTo(v, cty.Number, at)
		if terr != nil {
			return cty.NilVal, terr
		}
		return truncateToInt(num), nil
	case accessString:
		return convertTo(v, cty.String, at)
	case accessBool:
		return convertTo(v, cty.Bool, at)
	case accessVector2:
		return vectorOf(v, 2, false, at)
	case accessInt2:
		return vectorOf(v, 2, true, at)
	case accessInt3:
		return vectorOf(v, 3, true, at)
	default:
		return cty.NilVal, errf(ReasonType, at, "internal: unknown accessor coercion")
	}
}

func vectorOf(v cty.Value, n int, integer bool, at int) (cty.Value, error) {
	t := v.Type()
	if !t.IsListType() && !t.IsTupleType() {
		return cty.NilVal, errf(ReasonType, at, "expected a %d-component vector, got %s", n, t.FriendlyName())
	}
	if v.LengthInt() != n {
		return cty.NilVal, errf(ReasonType, at, "expected %d vector components, got %d", n, v.LengthInt())
	}
	elems := make([]cty.Value, 0, n)
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		num, terr := convertTo(ev, cty.Number, at)
		if terr != nil {
			return cty.NilVal, terr
		}
		if integer {
			num = truncateToInt(num)
		}
		elems = append(elems, num)
	}
	return cty.ListVal(elems), nil
}

func convertTo(v cty.Value, want cty.Type, at int) (cty.Value, error) {
	out, err := convert.Convert(v, want)
	if err != nil {
		return cty.NilVal, errf(ReasonType, at, "cannot read %s as %s", v.Type().FriendlyName(), want.FriendlyName())
	}
	return out, nil
}

func wantNumber(v cty.Value, at int) (cty.Value, *EvaluationError) {
	if v.Type() != cty.Number {
		return cty.NilVal, errf(ReasonType, at, "expected a number, got %s", v.Type().FriendlyName())
	}
	return v, nil
}

func wantNumbers(lv, rv cty.Value, t *binaryExpr) (cty.Value, cty.Value, *EvaluationError) {
	ln, terr := wantNumber(lv, t.lhs.pos())
	if terr != nil {
		return cty.NilVal, cty.NilVal, terr
	}
	rn, terr := wantNumber(rv, t.rhs.pos())
	if terr != nil {
		return cty.NilVal, cty.NilVal, terr
	}
	return ln, rn, nil
}

func wantBool(v cty.Value, at int) (bool, *EvaluationError) {
	if v.Type() != cty.Bool {
		return false, errf(ReasonType, at, "expected a boolean, got %s", v.Type().FriendlyName())
	}
	return v.True(), nil
}

// truncateToInt drops the fractional part of a number, toward zero.
func truncateToInt(num cty.Value) cty.Value {
	bf := num.AsBigFloat()
	if bf.IsInt() {
		return num
	}
	i, _ := bf.Int(nil)
	return cty.NumberVal(new(big.Float).SetInt(i))
}

func wrapEnvErr(err error, at int) error {
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return ee
	}
	var pe *UnresolvedPackReferenceError
	if errors.As(err, &pe) {
		return pe
	}
	return errf(ReasonUnresolvedPath, at, "%s", err)
}
