package expr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

// fakeEnv backs evaluation with plain maps keyed by canonical path strings.
type fakeEnv struct {
	base    nodepath.Path
	params  map[string]cty.Value
	shapes  map[string][]int
	packs   map[string][]float64
	details map[string]cty.Value
}

func newFakeEnv(base string) *fakeEnv {
	return &fakeEnv{
		base:    nodepath.MustParse(base),
		params:  map[string]cty.Value{},
		shapes:  map[string][]int{},
		packs:   map[string][]float64{},
		details: map[string]cty.Value{},
	}
}

func (f *fakeEnv) Base() nodepath.Path { return f.base }

func (f *fakeEnv) Param(ref nodepath.Ref) (cty.Value, error) {
	v, ok := f.params[ref.String()]
	if !ok {
		return cty.NilVal, fmt.Errorf("no parameter at %s", ref.String())
	}
	return v, nil
}

func (f *fakeEnv) PackShape(node nodepath.Path, pin string) ([]int, error) {
	s, ok := f.shapes[node.String()+"."+pin]
	if !ok {
		return nil, &UnresolvedPackReferenceError{Node: node.String(), Pin: pin}
	}
	return s, nil
}

func (f *fakeEnv) PackValue(node nodepath.Path, pin string, index int) (float64, error) {
	data, ok := f.packs[node.String()+"."+pin]
	if !ok {
		return 0, &UnresolvedPackReferenceError{Node: node.String(), Pin: pin}
	}
	if index < 0 || index >= len(data) {
		return 0, fmt.Errorf("index %d out of range", index)
	}
	return data[index], nil
}

func (f *fakeEnv) Detail(node nodepath.Path, key string) (cty.Value, error) {
	v, ok := f.details[node.String()+"#"+key]
	if !ok {
		return cty.NilVal, fmt.Errorf("no detail %q on %s", key, node.String())
	}
	return v, nil
}

func evalNumber(t *testing.T, env Env, src string) float64 {
	t.Helper()
	e, err := Compile(src)
	require.NoError(t, err)
	v, err := e.Eval(env)
	require.NoError(t, err)
	require.Equal(t, cty.Number, v.Type())
	f, _ := v.AsBigFloat().Float64()
	return f
}

func evalFailure(t *testing.T, env Env, src string) error {
	t.Helper()
	e, err := Compile(src)
	require.NoError(t, err)
	_, err = e.Eval(env)
	require.Error(t, err)
	return err
}

func TestEvalArithmetic(t *testing.T) {
	env := newFakeEnv("/")

	testCases := []struct {
		src  string
		want float64
	}{
		{src: "1 + 2 * 3", want: 7},
		{src: "(1 + 2) * 3", want: 9},
		{src: "10 / 4", want: 2.5},
		{src: "7 % 3", want: 1},
		{src: "-2 * 3", want: -6},
		{src: "--2", want: 2},
		{src: "2 * 3 + 1", want: 7},
		{src: "1 - 2 - 3", want: -4},
		{src: "abs(-3.5)", want: 3.5},
		{src: "round(2.5)", want: 3},
		{src: "round(-2.5)", want: -3},
		{src: "min(3, 1, 2)", want: 1},
		{src: "max(3, 1, 2)", want: 3},
		{src: "len('héllo')", want: 5},
		{src: "true ? 1 : 2", want: 1},
		{src: "1 > 2 ? 1 : 2", want: 2},
		{src: "false ? 1 : true ? 2 : 3", want: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			assert.InDelta(t, tc.want, evalNumber(t, env, tc.src), 1e-9)
		})
	}
}

func TestEvalBooleansAndStrings(t *testing.T) {
	env := newFakeEnv("/")

	testCases := []struct {
		src  string
		want cty.Value
	}{
		{src: "1 < 2", want: cty.True},
		{src: "2 <= 2", want: cty.True},
		{src: "1 > 2", want: cty.False},
		{src: "2 >= 3", want: cty.False},
		{src: "1 == 1", want: cty.True},
		{src: "1 != 1", want: cty.False},
		{src: "'a' == 'a'", want: cty.True},
		{src: "'a' == 1", want: cty.False},
		{src: "!(1 == 2)", want: cty.True},
		{src: "true && false", want: cty.False},
		{src: "true || false", want: cty.True},
		{src: "'a' + 'b'", want: cty.StringVal("ab")},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			e, err := Compile(tc.src)
			require.NoError(t, err)
			got, err := e.Eval(env)
			require.NoError(t, err)
			assert.True(t, tc.want.RawEquals(got), "want %#v, got %#v", tc.want, got)
		})
	}
}

func TestEvalShortCircuit(t *testing.T) {
	env := newFakeEnv("/")

	// The right-hand side would divide by zero; short-circuiting must skip it.
	e, err := Compile("false && 1 / 0 == 1")
	require.NoError(t, err)
	got, err := e.Eval(env)
	require.NoError(t, err)
	assert.True(t, cty.False.RawEquals(got))

	e, err = Compile("true || 1 / 0 == 1")
	require.NoError(t, err)
	got, err = e.Eval(env)
	require.NoError(t, err)
	assert.True(t, cty.True.RawEquals(got))

	// The untaken ternary branch is never evaluated.
	e, err = Compile("true ? 1 : 1 / 0")
	require.NoError(t, err)
	_, err = e.Eval(env)
	require.NoError(t, err)
}

func TestEvalFailureReasons(t *testing.T) {
	env := newFakeEnv("/rig/node")
	env.params["/rig/node/f"] = cty.NumberFloatVal(1.5)

	testCases := []struct {
		name   string
		src    string
		reason Reason
	}{
		{name: "division by zero", src: "1 / 0", reason: ReasonDivByZero},
		{name: "modulo by zero", src: "5 % 0", reason: ReasonDivByZero},
		{name: "string times number", src: "'a' * 2", reason: ReasonType},
		{name: "number as condition", src: "1 ? 2 : 3", reason: ReasonType},
		{name: "number in conjunction", src: "1 && true", reason: ReasonType},
		{name: "negated string", src: "-'a'", reason: ReasonType},
		{name: "mixed plus", src: "'a' + 1", reason: ReasonType},
		{name: "missing parameter", src: "get-float('ghost')", reason: ReasonUnresolvedPath},
		{name: "escapes above root", src: "get-float('../../../x')", reason: ReasonUnresolvedPath},
		{name: "fractional pack index", src: "get-pack-value('.', 'out', 0.5)", reason: ReasonType},
		{name: "len of number", src: "len(1)", reason: ReasonType},
		{name: "sum of string", src: "sum('abc')", reason: ReasonType},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := evalFailure(t, env, tc.src)
			var evalErr *EvaluationError
			require.ErrorAs(t, err, &evalErr)
			assert.Equal(t, tc.reason, evalErr.Reason, "got: %v", err)
		})
	}
}

func TestEvalParamAccessors(t *testing.T) {
	env := newFakeEnv("/rig/node")
	env.params["/rig/node/f"] = cty.NumberFloatVal(2.9)
	env.params["/rig/node/s"] = cty.StringVal("hello")
	env.params["/rig/node/b"] = cty.True
	env.params["/rig/node/v"] = cty.ListVal([]cty.Value{cty.NumberFloatVal(1.5), cty.NumberFloatVal(2.5)})
	env.params["/rig/node/d"] = cty.ListVal([]cty.Value{
		cty.NumberFloatVal(1.9), cty.NumberFloatVal(2.9), cty.NumberFloatVal(3.9),
	})
	env.params["/rig/x"] = cty.NumberIntVal(32)
	env.params["/other/deep/val"] = cty.NumberIntVal(8)

	t.Run("float", func(t *testing.T) {
		assert.InDelta(t, 2.9, evalNumber(t, env, "get-float('f')"), 1e-9)
	})

	t.Run("int truncates", func(t *testing.T) {
		assert.Equal(t, 2.0, evalNumber(t, env, "get-int('f')"))
	})

	t.Run("string", func(t *testing.T) {
		e := MustCompile("get-string('s') + '!'")
		got, err := e.Eval(env)
		require.NoError(t, err)
		assert.Equal(t, "hello!", got.AsString())
	})

	t.Run("bool", func(t *testing.T) {
		e := MustCompile("get-bool('b') ? 1 : 0")
		assert.Equal(t, 1.0, evalNumber(t, env, e.Source()))
	})

	t.Run("vector2", func(t *testing.T) {
		assert.InDelta(t, 4.0, evalNumber(t, env, "sum(get-vector2('v'))"), 1e-9)
	})

	t.Run("int3 truncates components", func(t *testing.T) {
		assert.Equal(t, 6.0, evalNumber(t, env, "sum(get-int3('d'))"))
	})

	t.Run("vector arity mismatch", func(t *testing.T) {
		err := evalFailure(t, env, "get-int2('d')")
		var evalErr *EvaluationError
		require.ErrorAs(t, err, &evalErr)
		assert.Equal(t, ReasonType, evalErr.Reason)
	})

	t.Run("parent relative", func(t *testing.T) {
		assert.Equal(t, 32.0, evalNumber(t, env, "get-float('../x')"))
	})

	t.Run("absolute", func(t *testing.T) {
		assert.Equal(t, 8.0, evalNumber(t, env, "get-float('/other/deep/val')"))
	})

	t.Run("numeric string converts", func(t *testing.T) {
		env.params["/rig/node/ns"] = cty.StringVal("12.5")
		assert.InDelta(t, 12.5, evalNumber(t, env, "get-float('ns')"), 1e-9)
	})

	// A successful coercion must produce an interface-nil error, not a
	// nil *EvaluationError boxed in a non-nil interface.
	t.Run("successful coercion yields plain nil error", func(t *testing.T) {
		for _, src := range []string{"get-float('f')", "get-string('s')", "get-bool('b')"} {
			_, err := MustCompile(src).Eval(env)
			if err != nil {
				t.Fatalf("%s returned a non-nil error: %#v", src, err)
			}
		}
	})
}

func TestEvalPackAccessors(t *testing.T) {
	env := newFakeEnv("/rig/consumer")
	env.shapes["/rig/source.out"] = []int{2, 3}
	env.packs["/rig/source.out"] = []float64{1, 2, 3, 4, 5, 6}
	env.params["/rig/consumer/i"] = cty.NumberIntVal(4)
	env.details["/rig#loop_index"] = cty.NumberIntVal(7)

	t.Run("shape as vector", func(t *testing.T) {
		assert.Equal(t, 2.0, evalNumber(t, env, "len(get-pack-shape('../source', 'out'))"))
		assert.Equal(t, 5.0, evalNumber(t, env, "sum(get-pack-shape('../source', 'out'))"))
	})

	t.Run("value with literal index", func(t *testing.T) {
		assert.Equal(t, 3.0, evalNumber(t, env, "get-pack-value('../source', 'out', 2)"))
	})

	t.Run("value with computed index", func(t *testing.T) {
		assert.Equal(t, 5.0, evalNumber(t, env, "get-pack-value('../source', 'out', get-int('i'))"))
	})

	t.Run("detail", func(t *testing.T) {
		assert.Equal(t, 7.0, evalNumber(t, env, "get-node-detail('..', 'loop_index')"))
	})

	t.Run("unexecuted node passes through typed error", func(t *testing.T) {
		err := evalFailure(t, env, "get-pack-shape('../ghost', 'out')")
		var packErr *UnresolvedPackReferenceError
		require.ErrorAs(t, err, &packErr)
		assert.Equal(t, "/rig/ghost", packErr.Node)
		assert.Equal(t, "out", packErr.Pin)
	})

	t.Run("index out of range", func(t *testing.T) {
		err := evalFailure(t, env, "get-pack-value('../source', 'out', 99)")
		var evalErr *EvaluationError
		require.ErrorAs(t, err, &evalErr)
		assert.Equal(t, ReasonUnresolvedPath, evalErr.Reason)
	})
}

func TestEvalWithoutReparsing(t *testing.T) {
	// Compile once, evaluate under changing parameter state. The parse
	// result must be reusable verbatim.
	env := newFakeEnv("/rig/b")
	env.params["/rig/x"] = cty.NumberIntVal(32)

	e, err := Compile("get-float('../x') * 2")
	require.NoError(t, err)

	got, err := e.Eval(env)
	require.NoError(t, err)
	f, _ := got.AsBigFloat().Float64()
	assert.Equal(t, 64.0, f)

	env.params["/rig/x"] = cty.NumberIntVal(10)

	got, err = e.Eval(env)
	require.NoError(t, err)
	f, _ = got.AsBigFloat().Float64()
	assert.Equal(t, 20.0, f)
}
