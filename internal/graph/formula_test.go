package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/tensorgrid/tensorgrid/internal/expr"
	"github.com/tensorgrid/tensorgrid/internal/nodepath"
)

func calcSpec() Spec {
	return Spec{
		Kind: "test.calc",
		Params: []ParamDecl{
			{Name: "a", Type: ParamFloat},
			{Name: "b", Type: ParamFloat},
			{Name: "c", Type: ParamFloat},
			{Name: "label", Type: ParamString},
			{Name: "vec", Type: ParamVector2},
		},
	}
}

func paramValue(t *testing.T, g *Graph, path, name string) cty.Value {
	t.Helper()
	v, err := g.ParamValue(nodepath.MustParse(path), name)
	require.NoError(t, err)
	return v
}

func setValue(t *testing.T, g *Graph, path, name string, v cty.Value) {
	t.Helper()
	require.NoError(t, g.SetParamValue(nodepath.MustParse(path), name, v))
}

func setFormula(t *testing.T, g *Graph, path, name, src string) {
	t.Helper()
	require.NoError(t, g.SetParamFormula(nodepath.MustParse(path), name, src))
}

func TestSetParamValue(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())

	setValue(t, g, "/n", "a", cty.NumberFloatVal(2.5))
	assertNumber(t, paramValue(t, g, "/n", "a"), 2.5)

	t.Run("converts to the declared type", func(t *testing.T) {
		setValue(t, g, "/n", "label", cty.NumberIntVal(7))
		assert.Equal(t, cty.StringVal("7"), paramValue(t, g, "/n", "label"))
	})

	t.Run("rejects unconvertible values", func(t *testing.T) {
		err := g.SetParamValue(nodepath.MustParse("/n"), "a", cty.StringVal("nope"))
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Reason, "holds a number")
		assertNumber(t, paramValue(t, g, "/n", "a"), 2.5)
	})

	t.Run("rejects wrong vector length", func(t *testing.T) {
		err := g.SetParamValue(nodepath.MustParse("/n"), "vec",
			cty.ListVal([]cty.Value{cty.Zero, cty.Zero, cty.Zero}))
		assert.ErrorContains(t, err, "2 components")
	})

	t.Run("rejects unknown parameter", func(t *testing.T) {
		err := g.SetParamValue(nodepath.MustParse("/n"), "ghost", cty.Zero)
		assert.ErrorContains(t, err, `no parameter "ghost"`)
	})
}

func TestFormulaReevaluatesWithoutReparse(t *testing.T) {
	g := New()
	mustAdd(t, g, "/rig", sourceSpec())
	mustAdd(t, g, "/rig/child", sourceSpec())
	setValue(t, g, "/rig", "x", cty.NumberIntVal(32))

	setFormula(t, g, "/rig/child", "x", "get-float('../x') * 2")
	assertNumber(t, paramValue(t, g, "/rig/child", "x"), 64)

	setValue(t, g, "/rig", "x", cty.NumberIntVal(10))
	assertNumber(t, paramValue(t, g, "/rig/child", "x"), 20)

	child, _ := g.Node(nodepath.MustParse("/rig/child"))
	p, _ := child.Params().Get("x")
	assert.Equal(t, "get-float('../x') * 2", p.Formula())
}

func TestFormulaChainPropagatesInOrder(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())
	setValue(t, g, "/n", "a", cty.NumberIntVal(1))
	setFormula(t, g, "/n", "b", "get-float('a') + 1")
	setFormula(t, g, "/n", "c", "get-float('b') * 10")
	assertNumber(t, paramValue(t, g, "/n", "c"), 20)

	setValue(t, g, "/n", "a", cty.NumberIntVal(5))
	assertNumber(t, paramValue(t, g, "/n", "b"), 6)
	assertNumber(t, paramValue(t, g, "/n", "c"), 60)
}

func TestFormulaCycleRejected(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())

	t.Run("direct self reference", func(t *testing.T) {
		err := g.SetParamFormula(nodepath.MustParse("/n"), "a", "get-float('a') + 1")
		var cerr *expr.DependencyCycleError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "/n/a", cerr.Param)
		assert.Equal(t, "/n/a", cerr.Ref)
	})

	t.Run("transitive cycle", func(t *testing.T) {
		setFormula(t, g, "/n", "b", "get-float('a')")
		setFormula(t, g, "/n", "c", "get-float('b')")
		err := g.SetParamFormula(nodepath.MustParse("/n"), "a", "get-float('c')")
		var cerr *expr.DependencyCycleError
		require.ErrorAs(t, err, &cerr)

		// Nothing was stored: a keeps its literal and stays referencable.
		n, _ := g.Node(nodepath.MustParse("/n"))
		p, _ := n.Params().Get("a")
		assert.False(t, p.HasFormula())
		setValue(t, g, "/n", "a", cty.NumberIntVal(3))
		assertNumber(t, paramValue(t, g, "/n", "c"), 3)
	})
}

func TestFormulaParseErrorRejected(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())

	err := g.SetParamFormula(nodepath.MustParse("/n"), "a", "1 +")
	var eerr *expr.EvaluationError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, expr.ReasonParse, eerr.Reason)

	n, _ := g.Node(nodepath.MustParse("/n"))
	p, _ := n.Params().Get("a")
	assert.False(t, p.HasFormula())
}

func TestFormulaEscapingRootRejected(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())

	err := g.SetParamFormula(nodepath.MustParse("/n"), "a", "get-float('../../x')")
	var eerr *expr.EvaluationError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, expr.ReasonUnresolvedPath, eerr.Reason)
}

func TestFormulaDanglingReferenceWakesUp(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())

	setFormula(t, g, "/n", "a", "get-float('/ghost/x') + 1")
	_, err := g.ParamValue(nodepath.MustParse("/n"), "a")
	var eerr *expr.EvaluationError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, expr.ReasonUnresolvedPath, eerr.Reason)

	// The referenced node appearing re-evaluates the waiting formula.
	mustAdd(t, g, "/ghost", sourceSpec())
	setValue(t, g, "/ghost", "x", cty.NumberIntVal(41))
	assertNumber(t, paramValue(t, g, "/n", "a"), 42)

	// And removing it breaks the formula again.
	require.NoError(t, g.RemoveNode(nodepath.MustParse("/ghost")))
	_, err = g.ParamValue(nodepath.MustParse("/n"), "a")
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, expr.ReasonUnresolvedPath, eerr.Reason)
}

func TestEvalErrorKeepsLastValue(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())
	setValue(t, g, "/n", "a", cty.NumberIntVal(8))
	setValue(t, g, "/n", "b", cty.NumberIntVal(4))
	setFormula(t, g, "/n", "c", "get-float('a') / get-float('b')")
	assertNumber(t, paramValue(t, g, "/n", "c"), 2)

	setValue(t, g, "/n", "b", cty.Zero)
	_, err := g.ParamValue(nodepath.MustParse("/n"), "c")
	var eerr *expr.EvaluationError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, expr.ReasonDivByZero, eerr.Reason)

	n, _ := g.Node(nodepath.MustParse("/n"))
	p, _ := n.Params().Get("c")
	assertNumber(t, p.Value(), 2)
	assert.Error(t, p.EvalErr())

	setValue(t, g, "/n", "b", cty.NumberIntVal(2))
	assertNumber(t, paramValue(t, g, "/n", "c"), 4)
	assert.NoError(t, p.EvalErr())
}

func TestFormulaResultConvertsToDeclaredType(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())

	setFormula(t, g, "/n", "a", "'abc' + 'def'")
	_, err := g.ParamValue(nodepath.MustParse("/n"), "a")
	var eerr *expr.EvaluationError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, expr.ReasonType, eerr.Reason)
}

func TestSetParamValueReplacesFormula(t *testing.T) {
	g := New()
	mustAdd(t, g, "/rig", sourceSpec())
	mustAdd(t, g, "/rig/child", sourceSpec())
	setValue(t, g, "/rig", "x", cty.NumberIntVal(32))
	setFormula(t, g, "/rig/child", "x", "get-float('../x') * 2")

	setValue(t, g, "/rig/child", "x", cty.NumberIntVal(5))
	child, _ := g.Node(nodepath.MustParse("/rig/child"))
	p, _ := child.Params().Get("x")
	assert.False(t, p.HasFormula())

	// The severed dependency no longer drives re-evaluation.
	setValue(t, g, "/rig", "x", cty.NumberIntVal(100))
	assertNumber(t, paramValue(t, g, "/rig/child", "x"), 5)
}

func TestClearParamFormula(t *testing.T) {
	g := New()
	mustAdd(t, g, "/rig", sourceSpec())
	mustAdd(t, g, "/rig/child", sourceSpec())
	setValue(t, g, "/rig", "x", cty.NumberIntVal(32))
	setFormula(t, g, "/rig/child", "x", "get-float('../x') * 2")

	require.NoError(t, g.ClearParamFormula(nodepath.MustParse("/rig/child"), "x"))
	child, _ := g.Node(nodepath.MustParse("/rig/child"))
	p, _ := child.Params().Get("x")
	assert.False(t, p.HasFormula())
	assertNumber(t, paramValue(t, g, "/rig/child", "x"), 64)

	setValue(t, g, "/rig", "x", cty.NumberIntVal(1))
	assertNumber(t, paramValue(t, g, "/rig/child", "x"), 64)

	err := g.ClearParamFormula(nodepath.MustParse("/rig/child"), "x")
	assert.ErrorContains(t, err, "holds no formula")
}

func TestLazyPolicy(t *testing.T) {
	g := New()
	g.SetEvalPolicy(EvalLazy)
	mustAdd(t, g, "/rig", sourceSpec())
	mustAdd(t, g, "/rig/child", sourceSpec())
	setValue(t, g, "/rig", "x", cty.NumberIntVal(32))

	var reevals int
	g.Subscribe(func(ev Event) {
		if ev.Type == EventParameterReevaluated {
			reevals++
		}
	})

	setFormula(t, g, "/rig/child", "x", "get-float('../x') * 2")
	assert.Equal(t, 0, reevals, "lazy assignment must not evaluate")

	assertNumber(t, paramValue(t, g, "/rig/child", "x"), 64)
	assert.Equal(t, 1, reevals, "the read evaluates")

	setValue(t, g, "/rig", "x", cty.NumberIntVal(10))
	assert.Equal(t, 1, reevals, "lazy change only marks dirty")

	assertNumber(t, paramValue(t, g, "/rig/child", "x"), 20)
	assert.Equal(t, 2, reevals)

	// Clean reads do not re-evaluate.
	assertNumber(t, paramValue(t, g, "/rig/child", "x"), 20)
	assert.Equal(t, 2, reevals)
}

func TestParameterEvents(t *testing.T) {
	g := New()
	mustAdd(t, g, "/rig", sourceSpec())
	mustAdd(t, g, "/rig/child", sourceSpec())
	setFormula(t, g, "/rig/child", "x", "get-float('../x') * 2")

	var got []Event
	g.Subscribe(func(ev Event) { got = append(got, ev) })

	setValue(t, g, "/rig", "x", cty.NumberIntVal(3))

	require.Len(t, got, 2)
	assert.Equal(t, EventParameterChanged, got[0].Type)
	assert.Equal(t, "/rig", got[0].Node)
	assert.Equal(t, "x", got[0].Param)
	assert.Equal(t, EventParameterReevaluated, got[1].Type)
	assert.Equal(t, "/rig/child", got[1].Node)
	assert.Equal(t, "x", got[1].Param)
	assert.NoError(t, got[1].Err)
}

func TestInstanceParams(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())

	p, err := g.AddInstanceParam(nodepath.MustParse("/n"),
		ParamDecl{Name: "extra", Type: ParamFloat, Default: cty.NumberIntVal(5)})
	require.NoError(t, err)
	assert.Equal(t, OriginInstance, p.Origin())
	assertNumber(t, paramValue(t, g, "/n", "extra"), 5)

	t.Run("declared parameters cannot be removed", func(t *testing.T) {
		err := g.RemoveInstanceParam(nodepath.MustParse("/n"), "a")
		assert.ErrorContains(t, err, "cannot be removed")
	})

	t.Run("folder removal cascades", func(t *testing.T) {
		_, err := g.AddInstanceParam(nodepath.MustParse("/n"), ParamDecl{Name: "grp", Type: ParamFolderTab})
		require.NoError(t, err)
		_, err = g.AddInstanceParam(nodepath.MustParse("/n"),
			ParamDecl{Name: "inner", Type: ParamFloat, Folder: "grp"})
		require.NoError(t, err)

		require.NoError(t, g.RemoveInstanceParam(nodepath.MustParse("/n"), "grp"))
		n, _ := g.Node(nodepath.MustParse("/n"))
		assert.False(t, n.Params().Has("grp"))
		assert.False(t, n.Params().Has("inner"))
	})

	t.Run("removal breaks dependents, re-adding heals them", func(t *testing.T) {
		setFormula(t, g, "/n", "c", "get-float('extra') * 2")
		assertNumber(t, paramValue(t, g, "/n", "c"), 10)

		require.NoError(t, g.RemoveInstanceParam(nodepath.MustParse("/n"), "extra"))
		_, err := g.ParamValue(nodepath.MustParse("/n"), "c")
		var eerr *expr.EvaluationError
		require.ErrorAs(t, err, &eerr)
		assert.Equal(t, expr.ReasonUnresolvedPath, eerr.Reason)

		_, err = g.AddInstanceParam(nodepath.MustParse("/n"),
			ParamDecl{Name: "extra", Type: ParamFloat, Default: cty.NumberIntVal(7)})
		require.NoError(t, err)
		assertNumber(t, paramValue(t, g, "/n", "c"), 14)
	})
}

func TestParamGuards(t *testing.T) {
	spec := Spec{
		Kind: "test.guarded",
		Params: []ParamDecl{
			{Name: "mode", Type: ParamFloat},
			{Name: "on", Type: ParamBool, Default: cty.True},
			{Name: "detail", Type: ParamString, VisibleIf: "get-float('mode') > 1", EnabledIf: "get-bool('on')"},
		},
	}
	g := New()
	mustAdd(t, g, "/n", spec)

	visible, err := g.ParamVisible(nodepath.MustParse("/n"), "detail")
	require.NoError(t, err)
	assert.False(t, visible)

	setValue(t, g, "/n", "mode", cty.NumberIntVal(2))
	visible, err = g.ParamVisible(nodepath.MustParse("/n"), "detail")
	require.NoError(t, err)
	assert.True(t, visible)

	enabled, err := g.ParamEnabled(nodepath.MustParse("/n"), "detail")
	require.NoError(t, err)
	assert.True(t, enabled)

	setValue(t, g, "/n", "on", cty.False)
	enabled, err = g.ParamEnabled(nodepath.MustParse("/n"), "detail")
	require.NoError(t, err)
	assert.False(t, enabled)

	t.Run("unguarded parameters default to visible and enabled", func(t *testing.T) {
		visible, err := g.ParamVisible(nodepath.MustParse("/n"), "mode")
		require.NoError(t, err)
		assert.True(t, visible)
		enabled, err := g.ParamEnabled(nodepath.MustParse("/n"), "mode")
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("non-bool guard is a type error", func(t *testing.T) {
		_, err := g.AddInstanceParam(nodepath.MustParse("/n"),
			ParamDecl{Name: "odd", Type: ParamFloat, VisibleIf: "get-float('mode')"})
		require.NoError(t, err)
		_, err = g.ParamVisible(nodepath.MustParse("/n"), "odd")
		var eerr *expr.EvaluationError
		require.ErrorAs(t, err, &eerr)
		assert.Equal(t, expr.ReasonType, eerr.Reason)
	})
}

func TestFormulaOnButtonRejected(t *testing.T) {
	g := New()
	mustAdd(t, g, "/n", calcSpec())
	_, err := g.AddInstanceParam(nodepath.MustParse("/n"), ParamDecl{Name: "go", Type: ParamButton})
	require.NoError(t, err)

	err = g.SetParamFormula(nodepath.MustParse("/n"), "go", "1 + 1")
	assert.ErrorContains(t, err, "cannot hold a formula")
}

func TestParseEvalPolicy(t *testing.T) {
	p, err := ParseEvalPolicy("eager")
	require.NoError(t, err)
	assert.Equal(t, EvalEager, p)
	p, err = ParseEvalPolicy("lazy")
	require.NoError(t, err)
	assert.Equal(t, EvalLazy, p)
	_, err = ParseEvalPolicy("sometimes")
	assert.Error(t, err)
}
